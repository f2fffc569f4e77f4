package resilience

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"warranty_worker/pkg/apperr"
)

// RetryPolicy controls Retry.
type RetryPolicy struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// DefaultRetryPolicy is used by the warranty and ticket clients.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, BaseDelay: 200 * time.Millisecond, MaxDelay: 2 * time.Second}
}

// Retry calls fn until it succeeds, retryable returns false, attempts run out
// or ctx is done. Delay grows exponentially with full jitter.
func Retry(ctx context.Context, p RetryPolicy, retryable func(error) bool, fn func(ctx context.Context) error) error {
	if p.Attempts < 1 {
		p.Attempts = 1
	}

	var err error
	for attempt := 0; attempt < p.Attempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if attempt == p.Attempts-1 || (retryable != nil && !retryable(err)) {
			return err
		}

		delay := backoff(p, attempt)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
	return err
}

func backoff(p RetryPolicy, attempt int) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}
	d := p.BaseDelay << attempt
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return time.Duration(rand.Int63n(int64(d)) + 1)
}

// Classify turns a failed remote call into an *apperr.AppError. status is the
// HTTP status, or 0 when the request never got a response.
func Classify(ctx context.Context, service string, status int, err error) error {
	if err == nil {
		return nil
	}
	if ctxErr := apperr.FromContext(ctx, service); ctxErr != nil {
		ctxErr.Err = err
		return ctxErr
	}
	if errors.Is(err, ErrOpen) {
		return apperr.CircuitOpen(service, err)
	}
	if apperr.IsAppError(err) {
		return err
	}
	return apperr.ExternalError(service, status, err)
}

// IsTransient reports whether a classified error is worth retrying right away.
// An open breaker is not: it stays open for its whole timeout.
func IsTransient(err error) bool {
	if apperr.IsCode(err, apperr.CodeCircuitOpen) {
		return false
	}
	var ae *apperr.AppError
	return errors.As(err, &ae) && ae.Retryable()
}
