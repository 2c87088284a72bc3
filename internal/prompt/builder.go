package prompt

import (
	"fmt"
	"strings"

	"github.com/phobologic/apdev/internal/model"
)

// Template keys of the embedded prompt set.
const (
	KeySystem             = "system.developer_role"
	KeyDevPlan            = "development.dev_plan.base"
	KeySubfunctionMapping = "development.dev_plan.subfunction_mapping"
	KeySubfunctionDevPlan = "development.subfunction_dev_plan"
	KeyCodeGeneration     = "development.code_generation"
	KeyCodeReview         = "review.code_review"
	KeyCombineCode        = "combination.combine_code"
	KeyFunctionSummary    = "summarization.function_summary"
)

const reusableIntro = "and the following set of reusable functions. Import them as needed\n"

// Builder renders templates for one guideline. The guideline block is
// computed once; a Builder holds no other state.
type Builder struct {
	store      *Store
	name       string
	guidelines string
}

// NewBuilder returns a builder for a top-level guideline.
func NewBuilder(store *Store, g model.Guideline) *Builder {
	return &Builder{store: store, name: g.Name, guidelines: GuidelineBlock(g, "")}
}

// NewSubfunctionBuilder returns a builder scoped to one subfunction. The
// reuse flag and import path never reach the prompt.
func NewSubfunctionBuilder(store *Store, s model.SubfunctionGuideline) *Builder {
	return &Builder{store: store, name: s.Name, guidelines: GuidelineBlock(s.Guideline, s.FunctionSignature)}
}

// GuidelineBlock renders a guideline as "Key: value" lines. The signature
// line is omitted when signature is empty.
func GuidelineBlock(g model.Guideline, signature string) string {
	lines := []string{
		field("name", g.Name),
		field("purpose", g.Purpose),
		field("services", pyList(g.Services)),
	}
	if signature != "" {
		lines = append(lines, field("function_signature", signature))
	}
	return strings.Join(lines, "\n")
}

// Name returns the function name the builder was created for.
func (b *Builder) Name() string { return b.name }

// Guidelines returns the rendered guideline block.
func (b *Builder) Guidelines() string { return b.guidelines }

// Render renders the template at key with the guideline block plus params.
// A "guidelines" entry in params overrides the block.
func (b *Builder) Render(key string, params map[string]any) (string, error) {
	data := map[string]any{"guidelines": b.guidelines}
	for k, v := range params {
		data[k] = v
	}
	return b.store.Execute(key, data)
}

// System renders the system message.
func (b *Builder) System() (string, error) {
	return b.Render(KeySystem, nil)
}

// DevPlan renders the step-by-step plan prompt. With mapToSubfunctions the
// subfunction mapping instructions are appended.
func (b *Builder) DevPlan(mapToSubfunctions bool) (string, error) {
	p, err := b.Render(KeyDevPlan, nil)
	if err != nil || !mapToSubfunctions {
		return p, err
	}
	mapping, err := b.Render(KeySubfunctionMapping, nil)
	if err != nil {
		return "", err
	}
	return p + "\n" + mapping, nil
}

// SubfunctionDevPlan renders the decomposition prompt listing the reuse
// candidates.
func (b *Builder) SubfunctionDevPlan(candidates string) (string, error) {
	return b.Render(KeySubfunctionDevPlan, map[string]any{"reusable_candidates": candidates})
}

// CodeGeneration renders the code generation prompt for a plan.
func (b *Builder) CodeGeneration(plan model.StepByStepPlan) (string, error) {
	steps := make([]string, len(plan.Steps))
	for i, s := range plan.Steps {
		steps[i] = field("step_number", fmt.Sprint(s.StepNumber)) + "\n" + field("purpose", s.Purpose)
	}
	return b.Render(KeyCodeGeneration, map[string]any{"steps": strings.Join(steps, "\n")})
}

// CodeReview renders the review prompt for code.
func (b *Builder) CodeReview(code string) (string, error) {
	return b.Render(KeyCodeReview, map[string]any{"code": code})
}

// CombineCode renders the combination prompt. The reusable block is left
// empty when there are no reusable descriptions.
func (b *Builder) CombineCode(generated, reusable []string, notes string) (string, error) {
	var reusableBlock string
	if len(reusable) > 0 {
		reusableBlock = reusableIntro + strings.Join(reusable, "\n\n")
	}
	return b.Render(KeyCombineCode, map[string]any{
		"generated":         strings.Join(generated, "\n"),
		"reusable":          reusableBlock,
		"combination_notes": notes,
	})
}

// FunctionSummary renders the ingestion summary prompt. It does not depend
// on a guideline.
func FunctionSummary(store *Store, language, code string) (string, error) {
	return store.Execute(KeyFunctionSummary, map[string]any{"lang": language, "code": code})
}

func field(key, value string) string {
	return strings.ToUpper(key[:1]) + key[1:] + ": " + value
}

func pyList(items []string) string {
	quoted := make([]string, len(items))
	for i, s := range items {
		quoted[i] = "'" + s + "'"
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}
