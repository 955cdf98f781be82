package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/form-detector/internal/pipeline"
)

// eventSnapshot is the first SSE event on every stream.
const eventSnapshot = "snapshot"

// GET /runs/{id}/events streams a snapshot followed by every transition
// until the run completes or the client disconnects.
func (s *Server) handleEvents(w http.ResponseWriter, req *http.Request) error {
	id := chi.URLParam(req, "id")
	flusher, ok := w.(http.Flusher)
	if !ok {
		return eris.New("api: streaming unsupported")
	}

	st, live := s.liveState(id)
	var (
		events <-chan pipeline.Event
		cancel = func() {}
	)
	// Subscribe before the snapshot so no transition falls in between.
	if live {
		events, cancel = s.hub.Subscribe(id)
	}
	defer cancel()
	// A run finished before the snapshot has nothing left to stream.
	finished := !live || st.Done()

	run, err := s.lookup(req.Context(), id)
	if err != nil {
		return err
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if err := writeSSE(w, eventSnapshot, runView{Run: run, Stats: run.Stats()}); err != nil {
		return nil
	}
	flusher.Flush()

	if finished {
		return nil
	}

	for {
		select {
		case <-req.Context().Done():
			return nil
		case e, ok := <-events:
			if !ok {
				return nil
			}
			if err := writeSSE(w, string(e.Kind), e); err != nil {
				return nil
			}
			flusher.Flush()
			if e.Kind == pipeline.EventRunCompleted {
				return nil
			}
		}
	}
}

func writeSSE(w http.ResponseWriter, event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}
