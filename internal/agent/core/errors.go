package core

import (
	"errors"
	"fmt"
	"time"
)

// ErrRecoveryExhausted indicates no recovery strategy could handle a failure.
var ErrRecoveryExhausted = errors.New("recovery exhausted")

// NotFoundError reports an unknown tool, rule, or clarification id. It is
// surfaced to the caller and never retried.
type NotFoundError struct {
	Kind string
	Name string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.Name)
}

// ValidationError reports a bad input shape or parameter set. Surfaced
// immediately, no retry.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed for %q: %s", e.Field, e.Reason)
}

// ExecutionError reports a failed tool invocation after retries.
type ExecutionError struct {
	Tool string
	Err  error
}

func (e ExecutionError) Error() string {
	return fmt.Sprintf("tool %s execution failed: %v", e.Tool, e.Err)
}

func (e ExecutionError) Unwrap() error { return e.Err }

// TimeoutError is an ExecutionError subtype for deadline expiry.
type TimeoutError struct {
	Tool    string
	Elapsed time.Duration
}

func (e TimeoutError) Error() string {
	return fmt.Sprintf("tool %s timed out after %s", e.Tool, e.Elapsed)
}

// IsNotFound reports whether err is a NotFoundError anywhere in its chain.
func IsNotFound(err error) bool {
	var nf NotFoundError
	return errors.As(err, &nf)
}

// IsValidation reports whether err is a ValidationError anywhere in its chain.
func IsValidation(err error) bool {
	var ve ValidationError
	return errors.As(err, &ve)
}
