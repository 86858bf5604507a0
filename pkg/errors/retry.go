package errors

import (
	"context"
	cryptorand "crypto/rand"
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"time"
)

// RetryConfig controls Retry. RetryableError decides which failures are
// worth another attempt; OnRetry, when set, is called before each wait with
// the failed attempt number (1-based), the delay and the error.
type RetryConfig struct {
	MaxRetries     int
	InitialDelay   time.Duration
	MaxDelay       time.Duration
	Multiplier     float64
	Jitter         bool
	RetryableError func(error) bool
	OnRetry        func(attempt int, delay time.Duration, err error)
}

// DefaultRetryConfig retries recoverable connection failures three times,
// starting at one second
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries:     3,
		InitialDelay:   1 * time.Second,
		MaxDelay:       30 * time.Second,
		Multiplier:     2.0,
		Jitter:         true,
		RetryableError: isTransient,
	}
}

func isTransient(err error) bool {
	switch GetErrorCode(err) {
	case ErrCodeAuthenticationFailed, ErrCodeConfigInvalid:
		return false
	case ErrCodeConnectionTimeout,
		ErrCodeSourceUnavailable,
		ErrCodeWarehouseUnavailable,
		ErrCodeTimeout,
		ErrCodeServiceUnavailable:
		return true
	}
	return IsRecoverable(err)
}

// RetryableFunc represents a function that can be retried
type RetryableFunc func(ctx context.Context) error

// Retry calls fn until it succeeds, returns a non-retryable error, or the
// attempts run out. Cancelling ctx stops the wait between attempts.
func Retry(ctx context.Context, config *RetryConfig, fn RetryableFunc) error {
	var lastErr error

	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !config.RetryableError(err) {
			return err
		}
		if attempt == config.MaxRetries {
			break
		}

		delay := backoff(attempt, config)
		if config.OnRetry != nil {
			config.OnRetry(attempt+1, delay, err)
		}

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}

	return Wrap(lastErr, ErrCodeMaxRetriesExceeded,
		fmt.Sprintf("Operation failed after %d attempts", config.MaxRetries+1))
}

// backoff is InitialDelay * Multiplier^attempt, capped at MaxDelay, plus up
// to 30% jitter
func backoff(attempt int, config *RetryConfig) time.Duration {
	delay := float64(config.InitialDelay) * math.Pow(config.Multiplier, float64(attempt))
	if delay > float64(config.MaxDelay) {
		delay = float64(config.MaxDelay)
	}

	if config.Jitter {
		var b [8]byte
		_, _ = cryptorand.Read(b[:])
		frac := float64(binary.LittleEndian.Uint64(b[:])) / float64(^uint64(0))
		delay += frac * 0.3 * delay
	}
	return time.Duration(delay)
}

type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

// CircuitBreaker stops calls to an endpoint after maxFailures consecutive
// failures. After resetTimeout one trial call is let through; its result
// closes or reopens the circuit.
type CircuitBreaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration

	mu       sync.Mutex
	failures int
	state    breakerState
	openedAt time.Time
}

// NewCircuitBreaker creates a closed breaker for the named endpoint
func NewCircuitBreaker(name string, maxFailures int, resetTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		name:         name,
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
	}
}

// Execute runs fn unless the circuit is open
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	if err := cb.allow(); err != nil {
		return err
	}
	err := fn()
	cb.record(err)
	return err
}

func (cb *CircuitBreaker) allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state != breakerOpen {
		return nil
	}
	if time.Since(cb.openedAt) > cb.resetTimeout {
		cb.state = breakerHalfOpen
		return nil
	}
	return New(ErrCodeServiceUnavailable,
		fmt.Sprintf("Circuit breaker for %s is open", cb.name)).
		WithContext("endpoint", cb.name).
		WithContext("failures", cb.failures).
		WithContext("retry_after", cb.openedAt.Add(cb.resetTimeout)).
		WithSuggestions(
			"Wait for the circuit to reset",
			"Run 'labhub health' to check the endpoint",
		)
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err == nil {
		cb.failures = 0
		cb.state = breakerClosed
		return
	}

	cb.failures++
	if cb.state == breakerHalfOpen || cb.failures >= cb.maxFailures {
		cb.state = breakerOpen
		cb.openedAt = time.Now()
	}
}
