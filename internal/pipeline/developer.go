package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/phobologic/apdev/internal/index"
	"github.com/phobologic/apdev/internal/llm"
	"github.com/phobologic/apdev/internal/merge"
	"github.com/phobologic/apdev/internal/model"
	"github.com/phobologic/apdev/internal/prompt"
)

// DefaultTopK is the number of reuse candidates requested from the index.
const DefaultTopK = 5

// Result is the outcome of one run.
type Result struct {
	RunID     string
	Plan      model.SubfunctionPlan
	Reusables *Reusables
	// Generated holds the accepted code of each generated subfunction in
	// plan order.
	Generated []string
	// Combined is the model's combined output with FunctionCode replaced
	// by the merged source.
	Combined model.CombinedOutput
	Merged   merge.Result
	Degraded bool
	History  []llm.Exchange
	Elapsed  time.Duration
}

// Developer runs the pipeline for one guideline. Each run gets its own
// Developer; the recorded history is not shared.
type Developer struct {
	client   llm.Client
	store    *prompt.Store
	searcher index.Searcher
	merger   *merge.Merger
	history  *llm.History
	logger   *zap.Logger
	topK     int
	runID    string
}

// Option configures a Developer.
type Option func(*Developer)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(d *Developer) { d.logger = l }
}

// WithTopK sets how many reuse candidates are requested. Zero disables
// the search.
func WithTopK(k int) Option {
	return func(d *Developer) { d.topK = k }
}

// WithMerger sets the merger used on the final fragments.
func WithMerger(m *merge.Merger) Option {
	return func(d *Developer) { d.merger = m }
}

// WithRunID overrides the generated run id.
func WithRunID(id string) Option {
	return func(d *Developer) { d.runID = id }
}

// NewDeveloper returns a developer calling client. searcher may be nil.
func NewDeveloper(client llm.Client, store *prompt.Store, searcher index.Searcher, opts ...Option) *Developer {
	d := &Developer{
		store:    store,
		searcher: searcher,
		history:  &llm.History{},
		logger:   zap.NewNop(),
		topK:     DefaultTopK,
		runID:    uuid.NewString(),
	}
	for _, o := range opts {
		o(d)
	}
	if d.merger == nil {
		d.merger = merge.New(merge.WithLogger(d.logger))
	}
	d.logger = d.logger.With(zap.String("run_id", d.runID))
	d.client = llm.Wrap(client, llm.WithRecorder(d.history))
	return d
}

// RunID returns the run id.
func (d *Developer) RunID() string { return d.runID }

// History returns the model exchanges recorded so far.
func (d *Developer) History() []llm.Exchange { return d.history.Exchanges() }

// Run generates the function described by g. Subfunctions are generated
// one at a time in plan order; the first failure aborts the run. A merge
// that falls back to concatenation is reported through Result.Degraded and
// Result.Merged.Err, not as an error.
func (d *Developer) Run(ctx context.Context, g model.Guideline) (*Result, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	start := time.Now()
	log := d.logger.With(zap.String("function", g.Name))
	log.Info("starting run", zap.Strings("services", g.Services))

	planner := NewPlanner(d.client, log)
	b := prompt.NewBuilder(d.store, g)

	plan, reusables, err := NewResolver(planner, d.searcher, log).Resolve(ctx, b, d.topK)
	if err != nil {
		return nil, err
	}

	gen := NewGenerator(d.client, planner, d.store, log)
	pending := plan.Pending()
	generated := make([]string, 0, len(pending))
	for i, s := range pending {
		log.Info("generating subfunction",
			zap.String("subfunction", s.Name),
			zap.Int("index", i+1),
			zap.Int("total", len(pending)))
		code, err := gen.Generate(ctx, s)
		if err != nil {
			return nil, fmt.Errorf("subfunction %s: %w", s.Name, err)
		}
		generated = append(generated, code)
	}

	combined, err := NewCombiner(d.client, log).Combine(ctx, b, plan, generated, reusables.Values())
	if err != nil {
		return nil, err
	}

	fragments := append(append([]string(nil), generated...), combined.FunctionCode)
	merged, err := d.merger.Merge(ctx, fragments)
	if err != nil {
		return nil, err
	}
	if merged.Degraded {
		log.Warn("merge degraded", zap.Error(merged.Err))
	}
	combined.FunctionCode = merged.Source

	res := &Result{
		RunID:     d.runID,
		Plan:      plan,
		Reusables: reusables,
		Generated: generated,
		Combined:  combined,
		Merged:    merged,
		Degraded:  merged.Degraded,
		History:   d.history.Exchanges(),
		Elapsed:   time.Since(start),
	}
	log.Info("run finished",
		zap.Int("bytes", len(merged.Source)),
		zap.Bool("degraded", merged.Degraded),
		zap.Int("exchanges", len(res.History)),
		zap.Duration("elapsed", res.Elapsed))
	return res, nil
}
