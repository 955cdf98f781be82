package model

import "time"

// RunStatus represents the state of a whole run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
)

// Run is one end-to-end processing of a submitted URL batch.
type Run struct {
	ID        string         `json:"id"`
	Status    RunStatus      `json:"status"`
	Items     []AnalysisItem `json:"items"`
	Progress  Progress       `json:"progress"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Stats computes the aggregate counts for the run's items.
func (r *Run) Stats() Stats {
	return ComputeStats(r.Items)
}

// Progress counts items that reached a terminal state.
type Progress struct {
	Current int `json:"current"`
	Total   int `json:"total"`
}

// Done reports whether every item has been processed.
func (p Progress) Done() bool {
	return p.Current >= p.Total
}

// Stats holds summary counts over a run's items.
type Stats struct {
	Total    int `json:"total"`
	Fillable int `json:"fillable"`
	ReadOnly int `json:"read_only"`
	Errored  int `json:"errored"`
}

// ComputeStats derives Stats from items. Fillable and ReadOnly only count
// completed items.
func ComputeStats(items []AnalysisItem) Stats {
	s := Stats{Total: len(items)}
	for _, it := range items {
		switch it.Status {
		case StatusCompleted:
			if it.IsFillable != nil && *it.IsFillable {
				s.Fillable++
			} else {
				s.ReadOnly++
			}
		case StatusError:
			s.Errored++
		}
	}
	return s
}

// ClassificationResult is the oracle's verdict for one document.
type ClassificationResult struct {
	IsFillable bool       `json:"isFillable"`
	FieldCount int        `json:"fieldCount"`
	Summary    string     `json:"summary"`
	Model      string     `json:"-"`
	Usage      TokenUsage `json:"-"`
}

// TokenUsage tracks oracle token consumption for one call.
type TokenUsage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}
