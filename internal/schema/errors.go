package schema

import (
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"
)

// Constraint names reported in violations.
const (
	ConstraintRequired = "required"
	ConstraintType     = "type"
	ConstraintEnum     = "enum"
	ConstraintMinimum  = "minimum"
	ConstraintMaximum  = "maximum"
	ConstraintUnknown  = "unknown_field"
)

// Violation is one failed constraint on one argument.
type Violation struct {
	Path       string `json:"path"`
	Constraint string `json:"constraint"`
	Value      any    `json:"value,omitempty"`
	Message    string `json:"message"`
}

func (v Violation) Error() string {
	return v.Path + ": " + v.Message
}

// ValidationError reports every violation found in one set of arguments.
type ValidationError struct {
	Violations []Violation
	merr       *multierror.Error
}

func newValidationError(violations []Violation) *ValidationError {
	var merr *multierror.Error
	for _, v := range violations {
		merr = multierror.Append(merr, v)
	}
	merr.ErrorFormat = func(errs []error) string {
		parts := make([]string, len(errs))
		for i, err := range errs {
			parts[i] = err.Error()
		}
		return fmt.Sprintf("invalid arguments (%d): %s", len(errs), strings.Join(parts, "; "))
	}
	return &ValidationError{Violations: violations, merr: merr}
}

func (e *ValidationError) Error() string {
	if e == nil || e.merr == nil {
		return "invalid arguments"
	}
	return e.merr.Error()
}

// Unwrap exposes the individual violations to errors.Is / errors.As.
func (e *ValidationError) Unwrap() []error {
	if e == nil || e.merr == nil {
		return nil
	}
	return e.merr.WrappedErrors()
}
