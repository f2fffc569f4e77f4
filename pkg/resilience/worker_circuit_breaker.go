// Package resilience provides fault tolerance patterns for external service calls.
package resilience

import (
	"errors"
	"time"

	"warranty_worker/pkg/logger"

	"github.com/sony/gobreaker"
)

// BreakerConfig holds configuration for a circuit breaker.
type BreakerConfig struct {
	Name                string
	MaxRequests         uint32        // allowed in half-open
	Interval            time.Duration // counter reset in closed state
	Timeout             time.Duration // open -> half-open
	ConsecutiveFailures uint32
	FailureRatio        float64
	MinRequests         uint32
}

// DefaultBreakerConfig returns the settings used for every remote collaborator.
func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:                name,
		MaxRequests:         3,
		Interval:            60 * time.Second,
		Timeout:             30 * time.Second,
		ConsecutiveFailures: 5,
		FailureRatio:        0.6,
		MinRequests:         10,
	}
}

// Breaker wraps gobreaker with a way to pass through errors that must not trip it.
type Breaker struct {
	cb *gobreaker.CircuitBreaker
}

// NewBreaker creates a circuit breaker.
func NewBreaker(cfg BreakerConfig) *Breaker {
	log := logger.Component("circuit_breaker")
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.ConsecutiveFailures > cfg.ConsecutiveFailures {
				return true
			}
			if counts.Requests < cfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		},
	}
	return &Breaker{cb: gobreaker.NewCircuitBreaker(settings)}
}

// Passthrough marks an error as a caller problem (4xx, not found) that must
// not count as a breaker failure.
func Passthrough(err error) error {
	if err == nil {
		return nil
	}
	return &nonCircuitError{err: err}
}

type nonCircuitError struct {
	err error
}

func (e *nonCircuitError) Error() string { return e.err.Error() }
func (e *nonCircuitError) Unwrap() error { return e.err }

// Execute runs fn under the breaker. ErrOpen is returned while the breaker rejects calls.
func (b *Breaker) Execute(fn func() error) error {
	var passed error
	_, err := b.cb.Execute(func() (interface{}, error) {
		if err := fn(); err != nil {
			var nce *nonCircuitError
			if errors.As(err, &nce) {
				passed = nce.err
				return nil, nil
			}
			return nil, err
		}
		return nil, nil
	})
	if passed != nil {
		return passed
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrOpen
	}
	return err
}

// State returns the breaker state name.
func (b *Breaker) State() string {
	return b.cb.State().String()
}

// IsOpen reports whether calls are currently rejected.
func (b *Breaker) IsOpen() bool {
	return b.cb.State() == gobreaker.StateOpen
}

// ErrOpen is returned when the breaker rejects a call.
var ErrOpen = errors.New("circuit breaker is open")
