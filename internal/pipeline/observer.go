package pipeline

import (
	"github.com/sells-group/form-detector/internal/model"
)

// EventKind classifies pipeline events.
type EventKind string

const (
	EventRunStarted   EventKind = "run_started"
	EventItemUpdated  EventKind = "item_updated"
	EventRunCompleted EventKind = "run_completed"
)

// Event is published after every state transition. Item is set only for
// EventItemUpdated and holds the merged item.
type Event struct {
	RunID    string              `json:"run_id"`
	Kind     EventKind           `json:"kind"`
	Item     *model.AnalysisItem `json:"item,omitempty"`
	Progress model.Progress      `json:"progress"`
}

// Observer receives pipeline events synchronously, in order. Implementations
// must not block for long.
type Observer interface {
	OnEvent(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

// OnEvent implements Observer.
func (f ObserverFunc) OnEvent(e Event) {
	f(e)
}
