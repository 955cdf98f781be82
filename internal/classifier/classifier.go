// Package classifier asks an external model whether a PDF is an interactive
// fillable form or a static document.
package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"strings"

	"github.com/sells-group/form-detector/internal/fetcher"
	"github.com/sells-group/form-detector/internal/model"
)

// Classifier is the oracle contract: document in, verdict out.
type Classifier interface {
	Classify(ctx context.Context, doc *fetcher.Document) (*model.ClassificationResult, error)
}

// OracleError reports a failed call to the classification service or a
// response that could not be parsed into a verdict.
type OracleError struct {
	Backend string
	Msg     string
	Err     error
	// Request is set when the call itself failed rather than the answer.
	Request bool
}

func (e *OracleError) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *OracleError) Unwrap() error {
	return e.Err
}

// IsOracleError reports whether err is (or wraps) an OracleError.
func IsOracleError(err error) bool {
	var oe *OracleError
	return errors.As(err, &oe)
}

// DefaultTemperature keeps the verdict close to deterministic.
const DefaultTemperature = 0.1

// verdictToolName names the forced tool call that carries the verdict.
const verdictToolName = "record_pdf_verdict"

// Instructions is the fixed prompt sent with every document.
const Instructions = `Analyze this PDF document and determine whether it is an **Interactive Fillable Form**.

CLASSIFICATION RULES:
1. FILLABLE (true): a user can type directly into fields on a computer or device. Look for digital widgets such as:
   - text boxes with distinct borders or shading intended for on-screen entry
   - clickable checkboxes or radio buttons
   - dropdown lists
   Many official government forms are fillable. A standard official form with defined, cleanly structured boxes for data entry is likely fillable.

2. READ-ONLY (false): the document is designed only for printing and handwriting.
   - simple underlines for handwriting (e.g. "Name: ___________")
   - visual cues that it is a flat image or a scan
   - if the user cannot click and type, it is read-only

Goal: distinguish a form you print and fill by hand (read-only) from a form you type into in an application (fillable).

Return the result using the required schema.`

const (
	descIsFillable = "True if the PDF contains interactive, digitally editable form fields (AcroForm/XFA widgets) where a user can type. False for static forms designed for printing."
	descFieldCount = "Estimated number of interactive, digitally editable input fields detected. 0 if the document is read-only/static."
	descSummary    = "A brief explanation of why it is classified as fillable or read-only. Mention whether it has digital text boxes or only lines for handwriting."
)

// VerdictProperties is the structured-output schema shared by the backends.
func VerdictProperties() map[string]any {
	return map[string]any{
		"isFillable": map[string]any{
			"type":        "boolean",
			"description": descIsFillable,
		},
		"fieldCount": map[string]any{
			"type":        "integer",
			"minimum":     0,
			"description": descFieldCount,
		},
		"summary": map[string]any{
			"type":        "string",
			"description": descSummary,
		},
	}
}

// VerdictRequired lists the fields every verdict must carry.
var VerdictRequired = []string{"isFillable", "fieldCount", "summary"}

// rawVerdict uses pointers so missing required fields can be detected.
type rawVerdict struct {
	IsFillable *bool    `json:"isFillable"`
	FieldCount *float64 `json:"fieldCount"`
	Summary    *string  `json:"summary"`
}

// ParseVerdict decodes a structured verdict payload and checks it against
// the schema.
func ParseVerdict(backend string, payload []byte) (*model.ClassificationResult, error) {
	var rv rawVerdict
	if err := json.Unmarshal(payload, &rv); err != nil {
		return nil, &OracleError{Backend: backend, Msg: "unparseable response from " + backend, Err: err}
	}
	if rv.IsFillable == nil || rv.FieldCount == nil || rv.Summary == nil {
		return nil, &OracleError{Backend: backend, Msg: "response from " + backend + " is missing required fields"}
	}
	fc := *rv.FieldCount
	if fc < 0 || fc != math.Trunc(fc) || fc > math.MaxInt32 {
		return nil, &OracleError{Backend: backend, Msg: "response from " + backend + " has an invalid fieldCount"}
	}
	return &model.ClassificationResult{
		IsFillable: *rv.IsFillable,
		FieldCount: int(fc),
		Summary:    strings.TrimSpace(*rv.Summary),
	}, nil
}

// cleanJSON attempts to extract a JSON object from text that may contain
// markdown code fences or other wrapping.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	// Strip markdown code fences.
	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	// Find first { and last }.
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}

	return strings.TrimSpace(text)
}
