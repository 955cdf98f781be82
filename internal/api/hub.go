package api

import (
	"sync"

	"go.uber.org/zap"

	"github.com/sells-group/form-detector/internal/pipeline"
)

// subscriberBuffer bounds how far a slow SSE client may lag before events
// are dropped for it.
const subscriberBuffer = 256

// Hub fans pipeline events out to per-run subscribers. It is registered as
// a pipeline observer.
type Hub struct {
	mu   sync.Mutex
	subs map[string]map[chan pipeline.Event]struct{}
}

var _ pipeline.Observer = (*Hub)(nil)

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[chan pipeline.Event]struct{})}
}

// Subscribe returns a channel of events for runID and a cancel func that
// must be called when the subscriber goes away.
func (h *Hub) Subscribe(runID string) (<-chan pipeline.Event, func()) {
	ch := make(chan pipeline.Event, subscriberBuffer)

	h.mu.Lock()
	if h.subs[runID] == nil {
		h.subs[runID] = make(map[chan pipeline.Event]struct{})
	}
	h.subs[runID][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if set, ok := h.subs[runID]; ok {
				if _, ok := set[ch]; ok {
					delete(set, ch)
					close(ch)
				}
				if len(set) == 0 {
					delete(h.subs, runID)
				}
			}
		})
	}
}

// OnEvent implements pipeline.Observer. It never blocks the pipeline.
func (h *Hub) OnEvent(e pipeline.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[e.RunID] {
		select {
		case ch <- e:
		default:
			zap.L().Warn("api: dropping event for slow subscriber",
				zap.String("run_id", e.RunID),
				zap.String("kind", string(e.Kind)),
			)
		}
	}
}

// Subscribers reports the number of live subscribers for runID.
func (h *Hub) Subscribers(runID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[runID])
}
