// Package pipeline turns a guideline into one merged Python function:
// plan, resolve reuse, generate and review each subfunction, combine, merge.
package pipeline

import (
	"errors"
	"fmt"

	"github.com/phobologic/apdev/internal/llm"
)

// ErrPlanValidation is returned when a planning response fails schema
// validation. The *llm.ValidationError stays reachable with errors.As.
var ErrPlanValidation = errors.New("plan validation failed")

// CollaboratorError wraps a failure of the model, the index or storage.
type CollaboratorError struct {
	Op  string
	Err error
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *CollaboratorError) Unwrap() error { return e.Err }

// planError classifies a planning failure.
func planError(op string, err error) error {
	var ve *llm.ValidationError
	if errors.As(err, &ve) {
		return fmt.Errorf("%s: %w: %w", op, ErrPlanValidation, err)
	}
	return &CollaboratorError{Op: op, Err: err}
}
