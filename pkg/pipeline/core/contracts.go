// Package core holds the contracts shared by the validation backend and its worker pool.
package core

import (
	"context"

	"github.com/shpitdev/email-batch-validator/internal/batch"
)

// Validator produces a verdict for one normalized address. Implementations must be safe for
// concurrent use.
type Validator interface {
	Validate(ctx context.Context, email string) (batch.Result, error)
}

// ValidatorFunc adapts a function to the Validator interface.
type ValidatorFunc func(ctx context.Context, email string) (batch.Result, error)

func (f ValidatorFunc) Validate(ctx context.Context, email string) (batch.Result, error) {
	return f(ctx, email)
}

// TransientError marks an error as retryable by worker implementations.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	if e == nil || e.Err == nil {
		return "transient error"
	}
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// LimitedTransientError is retryable, but at most ExtraRetries more times regardless of the
// pool-wide retry budget.
type LimitedTransientError struct {
	Err          error
	ExtraRetries int
}

func (e *LimitedTransientError) Error() string {
	if e == nil || e.Err == nil {
		return "transient error"
	}
	return e.Err.Error()
}

func (e *LimitedTransientError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// MaxExtraRetries caps retries for this error.
func (e *LimitedTransientError) MaxExtraRetries() int {
	if e == nil {
		return 0
	}
	return e.ExtraRetries
}
