package pipeline

import (
	"context"

	"go.uber.org/zap"

	"github.com/phobologic/apdev/internal/llm"
	"github.com/phobologic/apdev/internal/model"
	"github.com/phobologic/apdev/internal/prompt"
)

// Generator writes one subfunction: plan, draft, then a single review.
type Generator struct {
	client  llm.Client
	planner *Planner
	store   *prompt.Store
	logger  *zap.Logger
}

// NewGenerator returns a generator. A nil logger logs nothing.
func NewGenerator(client llm.Client, planner *Planner, store *prompt.Store, logger *zap.Logger) *Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{client: client, planner: planner, store: store, logger: logger}
}

// Generate returns the accepted code for s: the reviewer's revision when
// one is requested, the draft otherwise.
func (g *Generator) Generate(ctx context.Context, s model.SubfunctionGuideline) (string, error) {
	b := prompt.NewSubfunctionBuilder(g.store, s)

	plan, err := g.planner.PlanSteps(ctx, b)
	if err != nil {
		return "", err
	}

	user, err := b.CodeGeneration(plan)
	if err != nil {
		return "", err
	}
	draft, err := ask[model.GeneratedCode](ctx, g.client, g.logger, StageGenerate, b, user)
	if err != nil {
		return "", &CollaboratorError{Op: StageGenerate + " " + s.Name, Err: err}
	}
	g.logger.Info("drafted subfunction",
		zap.String("function", s.Name),
		zap.Int("bytes", len(draft.FunctionCode)))

	user, err = b.CodeReview(draft.FunctionCode)
	if err != nil {
		return "", err
	}
	review, err := ask[model.ReviewResult](ctx, g.client, g.logger, StageReview, b, user)
	if err != nil {
		return "", &CollaboratorError{Op: StageReview + " " + s.Name, Err: err}
	}
	accepted := review.Accept(draft.FunctionCode)
	g.logger.Info("reviewed subfunction",
		zap.String("function", s.Name),
		zap.Bool("needs_revision", review.NeedsRevision),
		zap.Int("bytes", len(accepted)))
	return accepted, nil
}
