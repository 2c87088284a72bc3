package pipeline

import (
	"context"

	"go.uber.org/zap"

	"github.com/phobologic/apdev/internal/llm"
	"github.com/phobologic/apdev/internal/merge"
	"github.com/phobologic/apdev/internal/model"
	"github.com/phobologic/apdev/internal/prompt"
)

// Combiner asks the model to join the accepted subfunctions into the main
// function.
type Combiner struct {
	client llm.Client
	logger *zap.Logger
}

// NewCombiner returns a combiner. A nil logger logs nothing.
func NewCombiner(client llm.Client, logger *zap.Logger) *Combiner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Combiner{client: client, logger: logger}
}

// Combine renders the combination prompt from the accepted code, the
// reusable descriptions and the plan's combination notes. If the returned
// code does not define the plan's main function, its entry function is
// renamed to it.
func (c *Combiner) Combine(ctx context.Context, b *prompt.Builder, plan model.SubfunctionPlan, accepted, reusables []string) (model.CombinedOutput, error) {
	user, err := b.CombineCode(accepted, reusables, plan.CombinationNotes)
	if err != nil {
		return model.CombinedOutput{}, err
	}
	out, err := ask[model.CombinedOutput](ctx, c.client, c.logger, StageCombine, b, user)
	if err != nil {
		return model.CombinedOutput{}, &CollaboratorError{Op: StageCombine, Err: err}
	}

	if plan.MainFunction != nil {
		out.FunctionCode = c.normalizeEntry(out.FunctionCode, plan)
	}
	c.logger.Info("combined code",
		zap.String("function", b.Name()),
		zap.Int("bytes", len(out.FunctionCode)))
	return out, nil
}

// normalizeEntry renames the last function that is not a planned
// subfunction to the main function's name, unless the main function is
// already defined.
func (c *Combiner) normalizeEntry(code string, plan model.SubfunctionPlan) string {
	want := plan.MainFunction.Name
	names, err := merge.FunctionNames(code)
	if err != nil {
		c.logger.Warn("combined code does not parse, leaving names as is", zap.Error(err))
		return code
	}

	planned := make(map[string]bool, len(plan.Subfunctions))
	for _, s := range plan.Subfunctions {
		planned[s.Name] = true
	}
	entry := ""
	for _, n := range names {
		if n == want {
			return code
		}
		if !planned[n] {
			entry = n
		}
	}
	if entry == "" {
		return code
	}

	renamed, err := merge.RenameFunction(code, entry, want)
	if err != nil {
		c.logger.Warn("renaming entry function failed", zap.String("from", entry), zap.Error(err))
		return code
	}
	c.logger.Info("renamed entry function", zap.String("from", entry), zap.String("to", want))
	return renamed
}
