package pipeline

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/phobologic/apdev/internal/index"
	"github.com/phobologic/apdev/internal/model"
	"github.com/phobologic/apdev/internal/prompt"
)

// Reusables maps the final import path segment of each reusable
// subfunction to the description handed to the combination prompt. Keys
// keep insertion order.
type Reusables struct {
	keys     []string
	values   map[string]string
	resolved map[string]bool
}

func newReusables() *Reusables {
	return &Reusables{values: map[string]string{}, resolved: map[string]bool{}}
}

// placeholder describes a reusable subfunction the search did not return,
// from what the plan says about it.
func placeholder(s model.SubfunctionGuideline) string {
	return fmt.Sprintf("###\nFunction Signature: %s\nFunction Summary: %s\nImport Path: %s",
		s.FunctionSignature, s.Purpose, s.FunctionImportPath)
}

func (r *Reusables) seed(key, value string) {
	if _, ok := r.values[key]; ok {
		return
	}
	r.keys = append(r.keys, key)
	r.values[key] = value
}

// resolve replaces the entry for key. It reports whether key was seeded.
func (r *Reusables) resolve(key, value string) bool {
	if _, ok := r.values[key]; !ok {
		return false
	}
	r.values[key] = value
	r.resolved[key] = true
	return true
}

// Len returns the number of entries.
func (r *Reusables) Len() int {
	if r == nil {
		return 0
	}
	return len(r.keys)
}

// Keys returns the keys in insertion order.
func (r *Reusables) Keys() []string {
	if r == nil {
		return nil
	}
	return append([]string(nil), r.keys...)
}

// Get returns the description for key.
func (r *Reusables) Get(key string) (string, bool) {
	if r == nil {
		return "", false
	}
	v, ok := r.values[key]
	return v, ok
}

// Resolved reports whether key was matched by a search candidate.
func (r *Reusables) Resolved(key string) bool {
	return r != nil && r.resolved[key]
}

// Values returns the descriptions in key order.
func (r *Reusables) Values() []string {
	if r == nil {
		return nil
	}
	out := make([]string, len(r.keys))
	for i, k := range r.keys {
		out[i] = r.values[k]
	}
	return out
}

// Resolver plans a function against the functions already in the index.
type Resolver struct {
	planner  *Planner
	searcher index.Searcher
	logger   *zap.Logger
}

// NewResolver returns a resolver. A nil searcher disables the search; the
// plan is then made with an empty candidate list.
func NewResolver(planner *Planner, searcher index.Searcher, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{planner: planner, searcher: searcher, logger: logger}
}

// Resolve plans steps, searches the index with them, plans subfunctions
// with the topK candidates and maps each reusable subfunction to its
// candidate. Candidates are applied in rank order, so when two share a
// final path segment the lower-ranked one wins.
func (r *Resolver) Resolve(ctx context.Context, b *prompt.Builder, topK int) (model.SubfunctionPlan, *Reusables, error) {
	steps, err := r.planner.PlanSteps(ctx, b)
	if err != nil {
		return model.SubfunctionPlan{}, nil, err
	}

	candidates, err := r.search(ctx, steps.Query(), topK)
	if err != nil {
		return model.SubfunctionPlan{}, nil, err
	}
	descriptions := make([]string, len(candidates))
	for i, c := range candidates {
		descriptions[i] = c.Description()
	}

	plan, err := r.planner.PlanSubfunctions(ctx, b, strings.Join(descriptions, "\n"))
	if err != nil {
		return model.SubfunctionPlan{}, nil, err
	}

	reusables := newReusables()
	for _, s := range plan.Subfunctions {
		if s.Reusable {
			reusables.seed(s.ReuseKey(), placeholder(s))
		}
	}
	for i, c := range candidates {
		if reusables.resolve(c.Key(), descriptions[i]) {
			r.logger.Debug("resolved reusable",
				zap.String("key", c.Key()),
				zap.String("path", c.ImportPath),
				zap.Int("rank", c.Rank))
		}
	}
	for _, k := range reusables.Keys() {
		if !reusables.Resolved(k) {
			r.logger.Warn("reusable subfunction not found in search results", zap.String("key", k))
		}
	}

	r.logger.Info("resolved reuse",
		zap.String("function", b.Name()),
		zap.Int("candidates", len(candidates)),
		zap.Int("reusables", reusables.Len()))
	return plan, reusables, nil
}

func (r *Resolver) search(ctx context.Context, query string, topK int) ([]model.ReusabilityCandidate, error) {
	if r.searcher == nil || topK <= 0 {
		return nil, nil
	}
	hits, err := r.searcher.Search(ctx, query, topK)
	if err != nil {
		return nil, &CollaboratorError{Op: "search", Err: err}
	}
	return index.Candidates(hits), nil
}
