package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/kirillkom/archive-qa/internal/core/domain"
)

type ErrorClassification struct {
	Retryable     bool
	RecordFailure bool
}

type ErrorClassifier func(err error) ErrorClassification

// Executor runs collaborator calls with retries behind per-operation
// circuit breakers.
type Executor struct {
	cfg Config

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[struct{}]
}

func NewExecutor(cfg Config) *Executor {
	return &Executor{
		cfg:      cfg.normalize(),
		breakers: make(map[string]*gobreaker.CircuitBreaker[struct{}]),
	}
}

func (e *Executor) Execute(
	ctx context.Context,
	operation string,
	fn func(context.Context) error,
	classifier ErrorClassifier,
) error {
	if fn == nil {
		return fmt.Errorf("resilience: operation callback is nil")
	}
	op := strings.TrimSpace(operation)
	if op == "" {
		op = "unknown"
	}
	if classifier == nil {
		classifier = defaultClassifier
	}

	if !e.cfg.BreakerEnabled {
		return e.retry(ctx, op, fn, classifier)
	}
	_, err := e.breaker(op, classifier).Execute(func() (struct{}, error) {
		return struct{}{}, e.retry(ctx, op, fn, classifier)
	})
	return err
}

// BreakerState reports the breaker state for operation, or "disabled".
func (e *Executor) BreakerState(operation string) string {
	if !e.cfg.BreakerEnabled {
		return "disabled"
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if cb, ok := e.breakers[operation]; ok {
		return cb.State().String()
	}
	return gobreaker.StateClosed.String()
}

func (e *Executor) retry(ctx context.Context, op string, fn func(context.Context) error, classifier ErrorClassifier) error {
	var err error
	for attempt := 1; ; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			if err != nil {
				return err
			}
			return ctxErr
		}

		err = e.attempt(ctx, fn)
		if err == nil {
			return nil
		}
		if !classifier(err).Retryable {
			return err
		}
		if attempt >= e.cfg.RetryMaxAttempts {
			e.giveUp(op, "attempts_exhausted")
			return err
		}

		wait := e.cfg.backoffAt(attempt)
		if !e.hasBudget(ctx, wait) {
			e.giveUp(op, "deadline")
			return err
		}
		slog.Warn("retry_attempt",
			"operation", op,
			"attempt", attempt,
			"max_attempts", e.cfg.RetryMaxAttempts,
			"backoff_ms", float64(wait.Microseconds())/1000.0,
			"error", err,
		)
		if hook := e.cfg.Hooks.OnRetry; hook != nil {
			hook(op, attempt)
		}
		if !sleep(ctx, wait) {
			return err
		}
	}
}

// hasBudget reports whether another attempt can still start and do useful
// work before the caller's deadline once wait has elapsed.
func (e *Executor) hasBudget(ctx context.Context, wait time.Duration) bool {
	deadline, ok := ctx.Deadline()
	if !ok {
		return true
	}
	return time.Until(deadline) > wait+e.cfg.MinAttemptBudget
}

func (e *Executor) giveUp(op, reason string) {
	if hook := e.cfg.Hooks.OnGiveUp; hook != nil {
		hook(op, reason)
	}
}

func (e *Executor) attempt(ctx context.Context, fn func(context.Context) error) error {
	if e.cfg.AttemptTimeout <= 0 {
		return fn(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, e.cfg.AttemptTimeout)
	defer cancel()
	return fn(attemptCtx)
}

func (e *Executor) breaker(op string, classifier ErrorClassifier) *gobreaker.CircuitBreaker[struct{}] {
	e.mu.Lock()
	defer e.mu.Unlock()

	if cb, ok := e.breakers[op]; ok {
		return cb
	}

	cfg := e.cfg
	cb := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        op,
		MaxRequests: cfg.BreakerHalfOpenMaxCalls,
		Timeout:     cfg.BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.BreakerMinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.BreakerFailureRatio
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !classifier(err).RecordFailure
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("circuit_breaker_state_change", "operation", name, "from", from.String(), "to", to.String())
			if hook := cfg.Hooks.OnStateChange; hook != nil {
				hook(name, from.String(), to.String())
			}
		},
	})
	e.breakers[op] = cb
	return cb
}

func sleep(ctx context.Context, wait time.Duration) bool {
	if wait <= 0 {
		return true
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func IsCircuitOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

// TemporaryClassifier retries errors marked as temporary and attempt
// timeouts, and records every other failure on the breaker.
func TemporaryClassifier(err error) ErrorClassification {
	switch {
	case errors.Is(err, domain.ErrTemporary), errors.Is(err, context.DeadlineExceeded):
		return ErrorClassification{Retryable: true, RecordFailure: true}
	case errors.Is(err, context.Canceled), errors.Is(err, domain.ErrInvalidInput):
		return ErrorClassification{}
	default:
		return ErrorClassification{RecordFailure: true}
	}
}

func defaultClassifier(error) ErrorClassification {
	return ErrorClassification{RecordFailure: true}
}
