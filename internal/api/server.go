// Package api exposes run submission, observation and export over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/form-detector/internal/model"
	"github.com/sells-group/form-detector/internal/report"
	"github.com/sells-group/form-detector/internal/runstate"
	"github.com/sells-group/form-detector/internal/store"
	"github.com/sells-group/form-detector/internal/urllist"
)

const maxBodyBytes = 1 << 20

var (
	errRunInFlight = errors.New("a run is already in progress")
	errNotFound    = errors.New("not found")
)

// Runner creates and drives runs. *pipeline.Pipeline implements it.
type Runner interface {
	Start(urls []string) *runstate.State
	Process(ctx context.Context, st *runstate.State) *model.Run
}

// Options configures the Server.
type Options struct {
	MaxURLs        int
	AllowedOrigins []string
}

// Server holds the runs submitted to this process. Only one run is in
// flight at a time.
type Server struct {
	runner  Runner
	hub     *Hub
	store   store.Store
	opts    Options
	baseCtx context.Context

	mu     sync.Mutex
	active *runstate.State
	runs   map[string]*runstate.State
	wg     sync.WaitGroup
}

// New creates a Server. st may be nil when runs are not persisted. Runs are
// processed under baseCtx, not the submitting request's context.
func New(baseCtx context.Context, runner Runner, hub *Hub, st store.Store, opts Options) *Server {
	return &Server{
		runner:  runner,
		hub:     hub,
		store:   st,
		opts:    opts,
		baseCtx: baseCtx,
		runs:    make(map[string]*runstate.State),
	}
}

// Handler builds the chi router.
func (s *Server) Handler() http.Handler {
	mux := chi.NewRouter()
	mux.Use(middleware.RequestID)
	mux.Use(middleware.Recoverer)

	origins := s.opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	mux.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	mux.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	mux.Route("/runs", func(rt chi.Router) {
		rt.Post("/", s.wrap(s.handleCreateRun))
		rt.Get("/", s.wrap(s.handleListRuns))
		rt.Get("/{id}", s.wrap(s.handleGetRun))
		rt.Get("/{id}/events", s.wrap(s.handleEvents))
		rt.Get("/{id}/report.xlsx", s.wrap(s.handleReport))
	})

	return mux
}

// Wait blocks until every background run has finished.
func (s *Server) Wait() {
	s.wg.Wait()
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

func (s *Server) wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		err := h(w, req)
		if err == nil {
			return
		}
		switch {
		case urllist.IsInputError(err):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, errRunInFlight):
			writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, errNotFound), errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusNotFound, "not found")
		default:
			zap.L().Error("api: request failed",
				zap.String("path", req.URL.Path),
				zap.String("request_id", middleware.GetReqID(req.Context())),
				zap.Error(err),
			)
			writeError(w, http.StatusInternalServerError, "internal error")
		}
	}
}

// createRunRequest accepts free text, an explicit list, or both.
type createRunRequest struct {
	URLs    string   `json:"urls"`
	URLList []string `json:"url_list"`
}

type createRunResponse struct {
	RunID string `json:"run_id"`
	Total int    `json:"total"`
}

// POST /runs
func (s *Server) handleCreateRun(w http.ResponseWriter, req *http.Request) error {
	var body createRunRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, req.Body, maxBodyBytes)).Decode(&body); err != nil {
		return &urllist.InputError{Msg: "invalid request body"}
	}

	text := body.URLs
	if len(body.URLList) > 0 {
		text += "\n" + strings.Join(body.URLList, "\n")
	}
	urls, err := urllist.ParseAndValidate(text, s.opts.MaxURLs)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.active != nil && !s.active.Done() {
		s.mu.Unlock()
		return errRunInFlight
	}
	st := s.runner.Start(urls)
	s.active = st
	s.runs[st.ID()] = st
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		s.runner.Process(s.baseCtx, st)
	}()

	zap.L().Info("api: run accepted", zap.String("run_id", st.ID()), zap.Int("urls", len(urls)))
	writeJSON(w, http.StatusAccepted, createRunResponse{RunID: st.ID(), Total: len(urls)})
	return nil
}

type runSummary struct {
	ID        string          `json:"id"`
	Status    model.RunStatus `json:"status"`
	Progress  model.Progress  `json:"progress"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func summarize(r *model.Run) runSummary {
	return runSummary{ID: r.ID, Status: r.Status, Progress: r.Progress, CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt}
}

// GET /runs?status=&limit=&offset=
func (s *Server) handleListRuns(w http.ResponseWriter, req *http.Request) error {
	q := req.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	filter := store.RunFilter{Status: model.RunStatus(q.Get("status")), Limit: limit, Offset: offset}

	out := []runSummary{}
	if s.store != nil {
		runs, err := s.store.ListRuns(req.Context(), filter)
		if err != nil {
			return eris.Wrap(err, "api: list runs")
		}
		for i := range runs {
			out = append(out, summarize(&runs[i]))
		}
		writeJSON(w, http.StatusOK, out)
		return nil
	}

	s.mu.Lock()
	for _, st := range s.runs {
		snap := st.Snapshot()
		if filter.Status == "" || snap.Status == filter.Status {
			out = append(out, summarize(snap))
		}
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	writeJSON(w, http.StatusOK, out)
	return nil
}

type runView struct {
	*model.Run
	Stats model.Stats `json:"stats"`
}

// GET /runs/{id}
func (s *Server) handleGetRun(w http.ResponseWriter, req *http.Request) error {
	run, err := s.lookup(req.Context(), chi.URLParam(req, "id"))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, runView{Run: run, Stats: run.Stats()})
	return nil
}

// GET /runs/{id}/report.xlsx
func (s *Server) handleReport(w http.ResponseWriter, req *http.Request) error {
	run, err := s.lookup(req.Context(), chi.URLParam(req, "id"))
	if err != nil {
		return err
	}
	if len(run.Items) == 0 {
		return errNotFound
	}

	data, err := report.Bytes(run.Items)
	if err != nil {
		return err
	}
	w.Header().Set("Content-Type", report.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", report.DefaultFilename))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, err = w.Write(data)
	return err
}

// lookup prefers the live state of runs owned by this process and falls
// back to the store.
func (s *Server) lookup(ctx context.Context, id string) (*model.Run, error) {
	s.mu.Lock()
	st, ok := s.runs[id]
	s.mu.Unlock()
	if ok {
		return st.Snapshot(), nil
	}
	if s.store == nil {
		return nil, errNotFound
	}
	run, err := s.store.GetRun(ctx, id)
	if err != nil {
		return nil, err
	}
	return run, nil
}

func (s *Server) liveState(id string) (*runstate.State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.runs[id]
	return st, ok
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("api: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
