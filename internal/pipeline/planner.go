package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/phobologic/apdev/internal/llm"
	"github.com/phobologic/apdev/internal/model"
	"github.com/phobologic/apdev/internal/prompt"
)

// Stage labels attached to model calls.
const (
	StagePlanSteps        = "plan_steps"
	StagePlanSubfunctions = "plan_subfunctions"
	StageGenerate         = "generate"
	StageReview           = "review"
	StageCombine          = "combine"
)

// Planner produces step-by-step and subfunction plans.
type Planner struct {
	client llm.Client
	logger *zap.Logger
}

// NewPlanner returns a planner calling client. A nil logger logs nothing.
func NewPlanner(client llm.Client, logger *zap.Logger) *Planner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Planner{client: client, logger: logger}
}

// PlanSteps asks for a step-by-step plan of the builder's function.
func (p *Planner) PlanSteps(ctx context.Context, b *prompt.Builder) (model.StepByStepPlan, error) {
	user, err := b.DevPlan(false)
	if err != nil {
		return model.StepByStepPlan{}, err
	}
	plan, err := ask[model.StepByStepPlan](ctx, p.client, p.logger, StagePlanSteps, b, user)
	if err != nil {
		return model.StepByStepPlan{}, planError(StagePlanSteps, err)
	}
	p.logger.Info("planned steps",
		zap.String("function", b.Name()),
		zap.Int("steps", len(plan.Steps)))
	return plan, nil
}

// PlanSubfunctions decomposes the builder's function into subfunctions,
// flagging those covered by the formatted candidates as reusable.
func (p *Planner) PlanSubfunctions(ctx context.Context, b *prompt.Builder, candidates string) (model.SubfunctionPlan, error) {
	user, err := b.SubfunctionDevPlan(candidates)
	if err != nil {
		return model.SubfunctionPlan{}, err
	}
	return p.subfunctions(ctx, b, user)
}

// MapSubfunctions decomposes the builder's function without reuse
// candidates.
func (p *Planner) MapSubfunctions(ctx context.Context, b *prompt.Builder) (model.SubfunctionPlan, error) {
	user, err := b.DevPlan(true)
	if err != nil {
		return model.SubfunctionPlan{}, err
	}
	return p.subfunctions(ctx, b, user)
}

func (p *Planner) subfunctions(ctx context.Context, b *prompt.Builder, user string) (model.SubfunctionPlan, error) {
	plan, err := ask[model.SubfunctionPlan](ctx, p.client, p.logger, StagePlanSubfunctions, b, user)
	if err != nil {
		return model.SubfunctionPlan{}, planError(StagePlanSubfunctions, err)
	}
	reusable := 0
	for _, s := range plan.Subfunctions {
		if s.Reusable {
			reusable++
		}
	}
	p.logger.Info("planned subfunctions",
		zap.String("function", b.Name()),
		zap.Int("subfunctions", len(plan.Subfunctions)),
		zap.Int("reusable", reusable),
		zap.String("main_function", plan.MainFunction.Name))
	return plan, nil
}

// ask sends the builder's system message and user to client and decodes a T.
func ask[T any](ctx context.Context, client llm.Client, logger *zap.Logger, stage string, b *prompt.Builder, user string) (T, error) {
	var zero T
	system, err := b.System()
	if err != nil {
		return zero, err
	}
	logger.Debug("prompt",
		zap.String("stage", stage),
		zap.String("function", b.Name()),
		zap.String("prompt", user))

	start := time.Now()
	v, err := llm.Complete[T](llm.WithStage(ctx, stage), client, []llm.Message{
		{Role: llm.RoleSystem, Content: system},
		{Role: llm.RoleUser, Content: user},
	})
	if err != nil {
		return zero, err
	}
	logger.Debug("response",
		zap.String("stage", stage),
		zap.String("function", b.Name()),
		zap.Duration("elapsed", time.Since(start)))
	return v, nil
}
