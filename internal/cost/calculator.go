// Package cost estimates what a run spent on the classification service.
package cost

import (
	"sort"
	"strings"

	"github.com/sells-group/form-detector/internal/model"
)

// ModelRate holds per-model token pricing (USD per million tokens).
type ModelRate struct {
	Input  float64 `yaml:"input" mapstructure:"input"`
	Output float64 `yaml:"output" mapstructure:"output"`
}

// Rates maps model IDs to their pricing.
type Rates map[string]ModelRate

// DefaultRates returns list prices for the models the classifier defaults to.
func DefaultRates() Rates {
	return Rates{
		"claude-haiku-4-5-20251001":  {Input: 0.80, Output: 4.00},
		"claude-sonnet-4-5-20250929": {Input: 3.00, Output: 15.00},
		"claude-opus-4-6":            {Input: 15.00, Output: 75.00},
		"gpt-4o-mini":                {Input: 0.15, Output: 0.60},
		"gpt-4o":                     {Input: 2.50, Output: 10.00},
	}
}

// Calculator computes costs for oracle usage.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator with the given rates.
func NewCalculator(rates Rates) *Calculator {
	return &Calculator{rates: rates}
}

// Estimate returns the USD cost of u on modelID, or 0 for unknown models.
// A dated snapshot ID such as gpt-4o-mini-2024-07-18 is priced by the
// longest known ID it starts with.
func (c *Calculator) Estimate(modelID string, u model.TokenUsage) float64 {
	rate, ok := c.lookup(modelID)
	if !ok {
		return 0
	}
	in := (float64(u.InputTokens) / 1e6) * rate.Input
	out := (float64(u.OutputTokens) / 1e6) * rate.Output
	return in + out
}

func (c *Calculator) lookup(modelID string) (ModelRate, bool) {
	if r, ok := c.rates[modelID]; ok {
		return r, true
	}
	best := ""
	for id := range c.rates {
		if strings.HasPrefix(modelID, id+"-") && len(id) > len(best) {
			best = id
		}
	}
	if best == "" {
		return ModelRate{}, false
	}
	return c.rates[best], true
}

// Tally accumulates usage per model over one run. Not safe for concurrent
// use; the pipeline owns it.
type Tally struct {
	byModel map[string]model.TokenUsage
}

// NewTally creates an empty Tally.
func NewTally() *Tally {
	return &Tally{byModel: make(map[string]model.TokenUsage)}
}

// Add records one call's usage.
func (t *Tally) Add(modelID string, u model.TokenUsage) {
	cur := t.byModel[modelID]
	cur.InputTokens += u.InputTokens
	cur.OutputTokens += u.OutputTokens
	t.byModel[modelID] = cur
}

// Total sums usage across models.
func (t *Tally) Total() model.TokenUsage {
	var sum model.TokenUsage
	for _, u := range t.byModel {
		sum.InputTokens += u.InputTokens
		sum.OutputTokens += u.OutputTokens
	}
	return sum
}

// Models lists the models seen, sorted.
func (t *Tally) Models() []string {
	out := make([]string, 0, len(t.byModel))
	for m := range t.byModel {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// USD prices the tally with c.
func (t *Tally) USD(c *Calculator) float64 {
	var total float64
	for m, u := range t.byModel {
		total += c.Estimate(m, u)
	}
	return total
}
