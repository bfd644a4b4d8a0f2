package retry

import (
	"context"
	"errors"
	"time"

	"github.com/pbaity/hubscript/internal/logger"
	"github.com/pbaity/hubscript/pkg/models"
)

// Default retry constants
const (
	DefaultMaxRetries    = 3
	DefaultDelaySeconds  = 1.0
	DefaultBackoffFactor = 2.0
	MaxDelay             = 5 * time.Minute
)

// DefaultRetryPolicy applies when neither the action nor the application sets a policy.
var DefaultRetryPolicy = models.RetryPolicy{
	MaxRetries:    intPtr(DefaultMaxRetries),
	Delay:         float64Ptr(DefaultDelaySeconds),
	BackoffFactor: float64Ptr(DefaultBackoffFactor),
}

// Operation is a function that performs an action and returns an error if it fails.
type Operation func(ctx context.Context) error

// permanentError stops Do from retrying.
type permanentError struct {
	err error
}

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying. Do returns the wrapped error
// unchanged as soon as an operation returns it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Do executes op, retrying according to policy while it returns a
// non-permanent error. Missing policy values fall back to the defaults.
func Do(ctx context.Context, operationName string, policy *models.RetryPolicy, op Operation) error {
	if err := ctx.Err(); err != nil {
		logger.L().Warn("Operation cancelled before first attempt due to context error", "operation", operationName, "error", err)
		return err
	}

	effectivePolicy := MergePolicies(policy, &DefaultRetryPolicy)
	l := logger.L().With("operation", operationName)

	maxRetries := *effectivePolicy.MaxRetries
	currentDelay := time.Duration(*effectivePolicy.Delay * float64(time.Second))
	backoffFactor := *effectivePolicy.BackoffFactor

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		l.Debug("Executing operation", "attempt", attempt+1, "max_attempts", maxRetries+1)
		lastErr = op(ctx)
		if lastErr == nil {
			if attempt > 0 {
				l.Info("Operation succeeded after retry", "attempt", attempt+1)
			}
			return nil
		}

		var p *permanentError
		if errors.As(lastErr, &p) {
			l.Debug("Operation failed permanently, not retrying", "attempt", attempt+1, "error", p.err)
			return p.err
		}

		l.Warn("Operation failed", "attempt", attempt+1, "max_attempts", maxRetries+1, "error", lastErr)
		if attempt == maxRetries {
			l.Error("Operation failed after exhausting all retries", "error", lastErr)
			break
		}

		l.Info("Scheduling retry", "delay", currentDelay.String())
		timer := time.NewTimer(currentDelay)
		select {
		case <-timer.C:
			currentDelay = nextDelay(currentDelay, backoffFactor)
		case <-ctx.Done():
			timer.Stop()
			l.Warn("Retry cancelled due to context cancellation", "error", ctx.Err())
			return ctx.Err()
		}
	}

	return lastErr
}

func nextDelay(current time.Duration, factor float64) time.Duration {
	next := float64(current) * factor
	if next > float64(MaxDelay) {
		return MaxDelay
	}
	return time.Duration(next)
}

// MergePolicies combines a specific policy with a default policy field by
// field. Fields unset in both fall back to the package constants.
func MergePolicies(specific, defaultP *models.RetryPolicy) *models.RetryPolicy {
	if defaultP == nil {
		defaultP = &DefaultRetryPolicy
	}
	if specific == nil {
		specific = &models.RetryPolicy{}
	}

	merged := &models.RetryPolicy{
		MaxRetries:    firstInt(specific.MaxRetries, defaultP.MaxRetries, DefaultMaxRetries),
		Delay:         firstFloat(specific.Delay, defaultP.Delay, DefaultDelaySeconds),
		BackoffFactor: firstFloat(specific.BackoffFactor, defaultP.BackoffFactor, DefaultBackoffFactor),
	}
	return merged
}

func firstInt(a, b *int, fallback int) *int {
	switch {
	case a != nil:
		return intPtr(*a)
	case b != nil:
		return intPtr(*b)
	}
	return intPtr(fallback)
}

func firstFloat(a, b *float64, fallback float64) *float64 {
	switch {
	case a != nil:
		return float64Ptr(*a)
	case b != nil:
		return float64Ptr(*b)
	}
	return float64Ptr(fallback)
}

func intPtr(i int) *int             { return &i }
func float64Ptr(f float64) *float64 { return &f }
