// Package model defines core data structures for apdev.
package model

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrInvalidGuideline is returned when a guideline fails validation.
var ErrInvalidGuideline = errors.New("invalid guideline")

var identifierRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Guideline is the validated description of a function to build.
type Guideline struct {
	Name     string   `json:"name" jsonschema_description:"The name of the function."`
	Purpose  string   `json:"purpose" jsonschema_description:"The purpose of this function. Summarize intended goals."`
	Services []string `json:"services" jsonschema_description:"The AWS services expected to be used."`
}

// Validate checks that the guideline can drive a generation run.
func (g Guideline) Validate() error {
	if !identifierRe.MatchString(g.Name) {
		return fmt.Errorf("%w: name %q is not a valid function identifier", ErrInvalidGuideline, g.Name)
	}
	if strings.TrimSpace(g.Purpose) == "" {
		return fmt.Errorf("%w: purpose is required", ErrInvalidGuideline)
	}
	for i, s := range g.Services {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%w: services[%d] is empty", ErrInvalidGuideline, i)
		}
	}
	return nil
}

// GenerationParams is a guideline stamped with the time its run was requested.
// The timestamp is the artifact's sort key and never reaches a prompt.
type GenerationParams struct {
	Guideline
	Timestamp string `json:"timestamp"`
}

// Step is one entry of a step-by-step plan.
type Step struct {
	StepNumber int    `json:"step_number" jsonschema_description:"The step number in the step by step sequence."`
	Purpose    string `json:"purpose" jsonschema_description:"What this step should accomplish."`
}

// StepByStepPlan is the high level plan for implementing a function.
type StepByStepPlan struct {
	Steps []Step `json:"list_of_steps" jsonschema_description:"List of steps composing the dev plan."`
}

// Validate implements llm.Validator.
func (p StepByStepPlan) Validate() error {
	if len(p.Steps) == 0 {
		return errors.New("list_of_steps is empty")
	}
	for i, s := range p.Steps {
		if s.StepNumber < 1 {
			return fmt.Errorf("list_of_steps[%d]: step_number %d < 1", i, s.StepNumber)
		}
		if strings.TrimSpace(s.Purpose) == "" {
			return fmt.Errorf("list_of_steps[%d]: purpose is empty", i)
		}
	}
	return nil
}

// Query renders the plan as "<step_number>: <purpose>" lines.
func (p StepByStepPlan) Query() string {
	lines := make([]string, len(p.Steps))
	for i, s := range p.Steps {
		lines[i] = fmt.Sprintf("%d: %s", s.StepNumber, s.Purpose)
	}
	return strings.Join(lines, "\n")
}

// SubfunctionGuideline describes one unit of a decomposition.
type SubfunctionGuideline struct {
	Guideline
	FunctionSignature  string `json:"function_signature" jsonschema_description:"The function signature with type annotations."`
	Reusable           bool   `json:"reusable" jsonschema_description:"Whether this function is an already available reusable function."`
	FunctionImportPath string `json:"function_import_path" jsonschema_description:"Import path of the reusable function. Empty unless reusable is true."`
}

// ReuseKey returns the final dot-separated segment of the import path.
func (s SubfunctionGuideline) ReuseKey() string {
	return LastSegment(s.FunctionImportPath)
}

func (s *SubfunctionGuideline) validate(field string) error {
	if !identifierRe.MatchString(s.Name) {
		return fmt.Errorf("%s: name %q is not a valid function identifier", field, s.Name)
	}
	if s.Reusable && strings.TrimSpace(s.FunctionImportPath) == "" {
		return fmt.Errorf("%s: reusable function %q has no function_import_path", field, s.Name)
	}
	if !s.Reusable {
		s.FunctionImportPath = ""
	}
	return nil
}

// SubfunctionPlan maps a step-by-step plan onto subfunctions.
type SubfunctionPlan struct {
	Subfunctions     []SubfunctionGuideline `json:"list_of_subfunctions" jsonschema_description:"List of subfunctions that will compose each step of the dev plan."`
	MainFunction     *SubfunctionGuideline  `json:"main_function" jsonschema_description:"Final combined function details."`
	CombinationNotes string                 `json:"combination_notes" jsonschema_description:"Explanation of how the subfunctions should be combined."`
}

// Validate implements llm.Validator. It also clears import paths on
// subfunctions that are not reusable.
func (p *SubfunctionPlan) Validate() error {
	if p.MainFunction == nil {
		return errors.New("main_function is missing")
	}
	if err := p.MainFunction.validate("main_function"); err != nil {
		return err
	}
	for i := range p.Subfunctions {
		if err := p.Subfunctions[i].validate(fmt.Sprintf("list_of_subfunctions[%d]", i)); err != nil {
			return err
		}
	}
	return nil
}

// Pending returns the subfunctions that must be generated, in plan order.
func (p SubfunctionPlan) Pending() []SubfunctionGuideline {
	var out []SubfunctionGuideline
	for _, s := range p.Subfunctions {
		if !s.Reusable {
			out = append(out, s)
		}
	}
	return out
}

// ReusabilityCandidate is a previously embedded function found by search.
type ReusabilityCandidate struct {
	Signature  string
	Summary    string
	ImportPath string
	Rank       int
}

// Key returns the final dot-separated segment of the import path.
func (c ReusabilityCandidate) Key() string {
	return LastSegment(c.ImportPath)
}

// Description renders the candidate the way prompts present it.
func (c ReusabilityCandidate) Description() string {
	return fmt.Sprintf("###\nFunction Signature: %s\nFunction Summary: %s\nImport Path: %s",
		c.Signature, c.Summary, c.ImportPath)
}

// GeneratedCode is the output of the code generation step.
type GeneratedCode struct {
	FunctionCode string `json:"function_code" jsonschema_description:"Full function code as a string."`
}

// Validate implements llm.Validator.
func (g GeneratedCode) Validate() error {
	if strings.TrimSpace(g.FunctionCode) == "" {
		return errors.New("function_code is empty")
	}
	return nil
}

// ReviewResult is the output of the single review pass.
type ReviewResult struct {
	NeedsRevision bool   `json:"needs_revision" jsonschema_description:"True if the function needs revision, else False."`
	RevisedCode   string `json:"revised_code" jsonschema_description:"Revised code if the code needs revision. Empty unless needs_revision is true."`
}

// Validate implements llm.Validator. Revised code sent alongside
// needs_revision=false is discarded.
func (r *ReviewResult) Validate() error {
	if r.NeedsRevision && strings.TrimSpace(r.RevisedCode) == "" {
		return errors.New("needs_revision is true but revised_code is empty")
	}
	if !r.NeedsRevision {
		r.RevisedCode = ""
	}
	return nil
}

// Accept returns the code that survives review.
func (r ReviewResult) Accept(original string) string {
	if r.NeedsRevision {
		return r.RevisedCode
	}
	return original
}

// CombinedOutput is the single synthesized function before merging.
type CombinedOutput struct {
	FunctionCode         string `json:"function_code" jsonschema_description:"Full function code as a string."`
	Commentary           string `json:"commentary" jsonschema_description:"Any notes or commentary on the code."`
	SampleUsagePrimary   string `json:"sample_usage_python" jsonschema_description:"Example execution through a python code snippet."`
	SampleUsageAlternate string `json:"sample_usage_chaos_toolkit" jsonschema_description:"Example execution as an action/probe through the chaos toolkit framework, in the method section. Return a YAML snippet."`
}

// Validate implements llm.Validator.
func (c CombinedOutput) Validate() error {
	if strings.TrimSpace(c.FunctionCode) == "" {
		return errors.New("function_code is empty")
	}
	return nil
}

// FunctionDescription is the summary produced for an ingested function.
type FunctionDescription struct {
	FunctionSignature string `json:"function_signature" jsonschema_description:"Function signature with relevant type hints and defaults if available."`
	Summary           string `json:"summary" jsonschema_description:"Summary of what the function does and its purpose."`
}

// Validate implements llm.Validator.
func (d FunctionDescription) Validate() error {
	if strings.TrimSpace(d.Summary) == "" {
		return errors.New("summary is empty")
	}
	return nil
}

// FunctionSource is a module-level function split out of a source file.
type FunctionSource struct {
	Path      string // dotted import path, e.g. example.k8s.shared.get_client
	Name      string
	Signature string
	Code      string
	Line      int
	File      string
}

// LastSegment returns the part of a dotted path after the final dot.
func LastSegment(path string) string {
	path = strings.TrimSpace(path)
	if i := strings.LastIndex(path, "."); i >= 0 {
		return path[i+1:]
	}
	return path
}
