package model

import (
	"time"

	"github.com/rotisserie/eris"
)

// Status is the lifecycle state of one analysis item.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusFetching  Status = "fetching"
	StatusAnalyzing Status = "analyzing"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// PendingFilename is shown until the document has been fetched.
const PendingFilename = "Pending..."

// Terminal reports whether no further transitions can happen from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusIdle, StatusFetching, StatusAnalyzing, StatusCompleted, StatusError:
		return true
	}
	return false
}

// CanTransition reports whether the item state machine allows s -> next.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusIdle:
		return next == StatusFetching
	case StatusFetching:
		return next == StatusAnalyzing || next == StatusError
	case StatusAnalyzing:
		return next == StatusCompleted || next == StatusError
	}
	return false
}

// AnalysisItem is one tracked unit of work: a single URL within a run.
// IsFillable, FieldCount and Summary are set only when Status is completed;
// ErrorMessage only when Status is error.
type AnalysisItem struct {
	ID           string  `json:"id"`
	URL          string  `json:"url"`
	Filename     string  `json:"filename"`
	Status       Status  `json:"status"`
	IsFillable   *bool   `json:"is_fillable,omitempty"`
	FieldCount   *int    `json:"field_count,omitempty"`
	Summary      *string `json:"summary,omitempty"`
	ErrorMessage *string `json:"error_message,omitempty"`

	// Advisory facts gathered while fetching. They never decide the verdict.
	ContentType    string `json:"content_type,omitempty"`
	SizeBytes      int64  `json:"size_bytes,omitempty"`
	AcroFormFields *int   `json:"acroform_fields,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// NewItem creates an idle item for url.
func NewItem(id, url string) AnalysisItem {
	return AnalysisItem{
		ID:        id,
		URL:       url,
		Filename:  PendingFilename,
		Status:    StatusIdle,
		UpdatedAt: time.Now().UTC(),
	}
}

// Validate checks that the populated result fields match Status.
func (it AnalysisItem) Validate() error {
	if !it.Status.Valid() {
		return eris.Errorf("item %s: unknown status %q", it.ID, it.Status)
	}
	hasResult := it.IsFillable != nil || it.FieldCount != nil || it.Summary != nil
	fullResult := it.IsFillable != nil && it.FieldCount != nil && it.Summary != nil
	hasErr := it.ErrorMessage != nil

	switch it.Status {
	case StatusCompleted:
		if !fullResult || hasErr {
			return eris.Errorf("item %s: completed without a full classification", it.ID)
		}
		if *it.FieldCount < 0 {
			return eris.Errorf("item %s: negative field count %d", it.ID, *it.FieldCount)
		}
	case StatusError:
		if hasResult || !hasErr || *it.ErrorMessage == "" {
			return eris.Errorf("item %s: error status requires only an error message", it.ID)
		}
	default:
		if hasResult || hasErr {
			return eris.Errorf("item %s: %s item carries result fields", it.ID, it.Status)
		}
	}
	return nil
}

// ItemUpdate is a partial merge applied to an item. Nil fields are left
// unchanged.
type ItemUpdate struct {
	Status         *Status
	Filename       *string
	IsFillable     *bool
	FieldCount     *int
	Summary        *string
	ErrorMessage   *string
	ContentType    *string
	SizeBytes      *int64
	AcroFormFields *int
}

// Apply returns a copy of it with u merged in.
func (u ItemUpdate) Apply(it AnalysisItem) AnalysisItem {
	if u.Status != nil {
		it.Status = *u.Status
	}
	if u.Filename != nil {
		it.Filename = *u.Filename
	}
	if u.IsFillable != nil {
		v := *u.IsFillable
		it.IsFillable = &v
	}
	if u.FieldCount != nil {
		v := *u.FieldCount
		it.FieldCount = &v
	}
	if u.Summary != nil {
		v := *u.Summary
		it.Summary = &v
	}
	if u.ErrorMessage != nil {
		v := *u.ErrorMessage
		it.ErrorMessage = &v
	}
	if u.ContentType != nil {
		it.ContentType = *u.ContentType
	}
	if u.SizeBytes != nil {
		it.SizeBytes = *u.SizeBytes
	}
	if u.AcroFormFields != nil {
		v := *u.AcroFormFields
		it.AcroFormFields = &v
	}
	it.UpdatedAt = time.Now().UTC()
	return it
}

// MarkFetching is the Idle -> Fetching entry action.
func MarkFetching() ItemUpdate {
	s := StatusFetching
	return ItemUpdate{Status: &s}
}

// MarkAnalyzing records a successful fetch.
func MarkAnalyzing(filename, contentType string, size int64, acroFields *int) ItemUpdate {
	s := StatusAnalyzing
	return ItemUpdate{
		Status:         &s,
		Filename:       &filename,
		ContentType:    &contentType,
		SizeBytes:      &size,
		AcroFormFields: acroFields,
	}
}

// MarkCompleted copies the classification onto the item.
func MarkCompleted(res ClassificationResult) ItemUpdate {
	s := StatusCompleted
	fillable, count, summary := res.IsFillable, res.FieldCount, res.Summary
	return ItemUpdate{
		Status:     &s,
		IsFillable: &fillable,
		FieldCount: &count,
		Summary:    &summary,
	}
}

// MarkError records a failure message.
func MarkError(msg string) ItemUpdate {
	s := StatusError
	if msg == "" {
		msg = "Unknown error"
	}
	return ItemUpdate{Status: &s, ErrorMessage: &msg}
}
