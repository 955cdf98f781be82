// Package runstate holds the ordered item sequence of one run and serves
// consistent snapshots to readers while the pipeline writes.
package runstate

import (
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/form-detector/internal/model"
)

// State is the owned run-state object. Items keep their creation order and
// are never removed.
type State struct {
	mu       sync.RWMutex
	run      model.Run
	index    map[string]int
	complete bool
}

// New creates a running State holding items in order.
func New(runID string, items []model.AnalysisItem) *State {
	now := time.Now().UTC()
	s := &State{
		run: model.Run{
			ID:        runID,
			Status:    model.RunStatusRunning,
			Items:     make([]model.AnalysisItem, len(items)),
			Progress:  model.Progress{Total: len(items)},
			CreatedAt: now,
			UpdatedAt: now,
		},
		index: make(map[string]int, len(items)),
	}
	copy(s.run.Items, items)
	for i, it := range items {
		s.index[it.ID] = i
	}
	return s
}

// ID returns the run ID.
func (s *State) ID() string {
	return s.run.ID
}

// Update merges u into the item with the given id and returns the merged
// copy. Transitions the item state machine does not allow are rejected.
func (s *State) Update(id string, u model.ItemUpdate) (model.AnalysisItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.index[id]
	if !ok {
		return model.AnalysisItem{}, eris.Errorf("runstate: unknown item %s", id)
	}
	cur := s.run.Items[i]
	if u.Status != nil && *u.Status != cur.Status && !cur.Status.CanTransition(*u.Status) {
		return cur, eris.Errorf("runstate: item %s cannot move from %s to %s", id, cur.Status, *u.Status)
	}

	next := u.Apply(cur)
	s.run.Items[i] = next
	if !cur.Status.Terminal() && next.Status.Terminal() {
		s.run.Progress.Current++
	}
	s.run.UpdatedAt = next.UpdatedAt
	return next, nil
}

// Item returns a copy of one item.
func (s *State) Item(id string) (model.AnalysisItem, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.index[id]
	if !ok {
		return model.AnalysisItem{}, false
	}
	return s.run.Items[i], true
}

// Items returns a copy of the ordered item sequence.
func (s *State) Items() []model.AnalysisItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.AnalysisItem, len(s.run.Items))
	copy(out, s.run.Items)
	return out
}

// Progress returns the number of items that reached a terminal state.
func (s *State) Progress() model.Progress {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.run.Progress
}

// Stats derives aggregate counts from the current items.
func (s *State) Stats() model.Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return model.ComputeStats(s.run.Items)
}

// Complete marks the run finished.
func (s *State) Complete() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.complete = true
	s.run.Status = model.RunStatusComplete
	s.run.UpdatedAt = time.Now().UTC()
}

// Done reports whether Complete has been called.
func (s *State) Done() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.complete
}

// Snapshot returns a deep-enough copy of the run for readers. Item pointer
// fields are never mutated in place, so sharing them is safe.
func (s *State) Snapshot() *model.Run {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r := s.run
	r.Items = make([]model.AnalysisItem, len(s.run.Items))
	copy(r.Items, s.run.Items)
	return &r
}
