// Package pipeline drives each URL of a run through fetch and
// classification, one item at a time.
package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sells-group/form-detector/internal/classifier"
	"github.com/sells-group/form-detector/internal/cost"
	"github.com/sells-group/form-detector/internal/fetcher"
	"github.com/sells-group/form-detector/internal/formprobe"
	"github.com/sells-group/form-detector/internal/model"
	"github.com/sells-group/form-detector/internal/runstate"
)

// Recorder persists run progress. Failures are logged and never change an
// item's outcome.
type Recorder interface {
	CreateRun(ctx context.Context, run *model.Run) error
	SaveItem(ctx context.Context, runID string, item model.AnalysisItem) error
	CompleteRun(ctx context.Context, run *model.Run) error
}

// Options configures a Pipeline.
type Options struct {
	// Probe runs the local pdfcpu probe on each fetched document and stores
	// the declared AcroForm field count on the item.
	Probe     bool
	Recorder  Recorder
	Observers []Observer
	// NewID generates item IDs. Defaults to uuid.NewString.
	NewID func() string
	// Costs prices the run's token usage in the completion log. Optional.
	Costs *cost.Calculator
}

// Pipeline orchestrates the per-item state machine.
type Pipeline struct {
	fetcher    fetcher.Fetcher
	classifier classifier.Classifier
	opts       Options
}

// New creates a new Pipeline.
func New(f fetcher.Fetcher, c classifier.Classifier, opts Options) *Pipeline {
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	return &Pipeline{fetcher: f, classifier: c, opts: opts}
}

// Start creates the run state with one idle item per URL, in input order.
func (p *Pipeline) Start(urls []string) *runstate.State {
	items := make([]model.AnalysisItem, len(urls))
	for i, u := range urls {
		items[i] = model.NewItem(p.opts.NewID(), u)
	}
	return runstate.New(uuid.NewString(), items)
}

// Run creates a run for urls and processes it to completion.
func (p *Pipeline) Run(ctx context.Context, urls []string) *model.Run {
	return p.Process(ctx, p.Start(urls))
}

// Process drives every item of st to a terminal state, strictly in order.
// Item i does not start fetching until item i-1 is terminal. A failed item
// never aborts the run.
func (p *Pipeline) Process(ctx context.Context, st *runstate.State) *model.Run {
	log := zap.L().With(zap.String("run_id", st.ID()))
	start := time.Now()

	// Recording outlives a cancelled run so the final state is persisted.
	recCtx := context.WithoutCancel(ctx)

	snap := st.Snapshot()
	log.Info("pipeline: starting run", zap.Int("items", len(snap.Items)))
	if p.opts.Recorder != nil {
		if err := p.opts.Recorder.CreateRun(recCtx, snap); err != nil {
			log.Warn("pipeline: failed to record run", zap.Error(err))
		}
	}
	p.emit(Event{RunID: st.ID(), Kind: EventRunStarted, Progress: st.Progress()})

	tally := cost.NewTally()
	for _, it := range snap.Items {
		p.processItem(ctx, recCtx, st, it.ID, tally, log)
	}

	st.Complete()
	final := st.Snapshot()
	if p.opts.Recorder != nil {
		if err := p.opts.Recorder.CompleteRun(recCtx, final); err != nil {
			log.Warn("pipeline: failed to record run completion", zap.Error(err))
		}
	}

	stats := final.Stats()
	usage := tally.Total()
	fields := []zap.Field{
		zap.Int("total", stats.Total),
		zap.Int("fillable", stats.Fillable),
		zap.Int("read_only", stats.ReadOnly),
		zap.Int("errored", stats.Errored),
		zap.Int64("input_tokens", usage.InputTokens),
		zap.Int64("output_tokens", usage.OutputTokens),
		zap.Duration("elapsed", time.Since(start)),
	}
	if p.opts.Costs != nil {
		fields = append(fields, zap.Float64("estimated_cost_usd", tally.USD(p.opts.Costs)))
	}
	log.Info("pipeline: run complete", fields...)
	p.emit(Event{RunID: st.ID(), Kind: EventRunCompleted, Progress: final.Progress})
	return final
}

func (p *Pipeline) processItem(ctx, recCtx context.Context, st *runstate.State, id string, tally *cost.Tally, runLog *zap.Logger) {
	it, _ := st.Item(id)
	log := runLog.With(zap.String("item_id", id), zap.String("url", it.URL))

	if !p.transition(recCtx, st, id, model.MarkFetching(), log) {
		return
	}

	doc, err := p.fetcher.Fetch(ctx, it.URL)
	if err != nil {
		log.Warn("pipeline: fetch failed", zap.Error(err))
		p.transition(recCtx, st, id, model.MarkError(err.Error()), log)
		return
	}

	var acroFields *int
	if p.opts.Probe {
		if rep, probeErr := formprobe.Probe(doc.Data); probeErr != nil {
			log.Debug("pipeline: form probe failed", zap.Error(probeErr))
		} else {
			n := rep.AcroFormFields
			acroFields = &n
		}
	}

	if !p.transition(recCtx, st, id, model.MarkAnalyzing(doc.Filename, doc.ContentType, int64(len(doc.Data)), acroFields), log) {
		return
	}

	res, err := p.classifier.Classify(ctx, doc)
	if err == nil && res == nil {
		err = &classifier.OracleError{Msg: "No response text"}
	}
	if err == nil && res.FieldCount < 0 {
		err = &classifier.OracleError{Msg: "classification returned a negative field count"}
	}
	if err != nil {
		log.Warn("pipeline: classification failed", zap.Error(err))
		p.transition(recCtx, st, id, model.MarkError(err.Error()), log)
		return
	}

	tally.Add(res.Model, res.Usage)
	log.Info("pipeline: item classified",
		zap.Bool("fillable", res.IsFillable),
		zap.Int("field_count", res.FieldCount),
		zap.String("model", res.Model),
	)
	p.transition(recCtx, st, id, model.MarkCompleted(*res), log)
}

// transition applies one atomic merge, records it and notifies observers.
func (p *Pipeline) transition(recCtx context.Context, st *runstate.State, id string, u model.ItemUpdate, log *zap.Logger) bool {
	item, err := st.Update(id, u)
	if err != nil {
		log.Error("pipeline: rejected transition", zap.Error(err))
		return false
	}
	log.Debug("pipeline: item transition", zap.String("status", string(item.Status)))

	if p.opts.Recorder != nil {
		if recErr := p.opts.Recorder.SaveItem(recCtx, st.ID(), item); recErr != nil {
			log.Warn("pipeline: failed to record item", zap.Error(recErr))
		}
	}
	p.emit(Event{RunID: st.ID(), Kind: EventItemUpdated, Item: &item, Progress: st.Progress()})
	return true
}

func (p *Pipeline) emit(e Event) {
	for _, o := range p.opts.Observers {
		o.OnEvent(e)
	}
}
