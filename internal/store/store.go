// Package store persists runs and their items.
package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/form-detector/internal/model"
)

// ErrNotFound is returned (wrapped) when a run or item does not exist.
var ErrNotFound = eris.New("store: not found")

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status model.RunStatus `json:"status,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

// Store defines the persistence interface for analysis runs. It satisfies
// pipeline.Recorder.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, run *model.Run) error
	SaveItem(ctx context.Context, runID string, item model.AnalysisItem) error
	CompleteRun(ctx context.Context, run *model.Run) error
	// GetRun returns the run with its items in input order.
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	// ListRuns returns runs newest first, without items.
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

func listLimit(limit int) int {
	if limit <= 0 {
		return 100
	}
	return limit
}
