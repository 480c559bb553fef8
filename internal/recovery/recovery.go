// Package recovery implements the error-boundary state machine UI adapters
// sit on: it classifies and reports failures, exposes the boundary state for
// fallback rendering, and drives retries according to the classified error's
// retryability and backoff hints.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/meridian-networks/portalcore/internal/apperrors"
)

// State is the boundary's lifecycle: ok → failed → retrying → (ok|failed).
type State int

const (
	StateOK State = iota
	StateFailed
	StateRetrying
)

var stateNames = [...]string{
	StateOK:       "ok",
	StateFailed:   "failed",
	StateRetrying: "retrying",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// ErrNotRetryable means Retry was asked to recover from an error the
// classifier marked permanent.
var ErrNotRetryable = errors.New("recovery: error is not retryable")

// Reporter receives classified errors. errlog.Sink implements it.
type Reporter interface {
	Report(ctx context.Context, stdErr *apperrors.StandardError)
}

// Operation is the unit of work a boundary protects.
type Operation func(ctx context.Context) error

// Boundary wraps one UI region's failure handling. Not safe for concurrent
// use: a boundary belongs to a single rendering scope, mirroring how the
// portals mount one per route.
type Boundary struct {
	reporter   Reporter
	maxRetries int
	logger     *slog.Logger
	sleep      func(ctx context.Context, d time.Duration) error

	state   State
	lastErr *apperrors.StandardError
}

func NewBoundary(reporter Reporter, maxRetries int, logger *slog.Logger) *Boundary {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Boundary{
		reporter:   reporter,
		maxRetries: maxRetries,
		logger:     logger,
		sleep:      sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// State returns the current boundary state.
func (b *Boundary) State() State {
	return b.state
}

// LastError returns the most recent classified failure, nil when ok.
func (b *Boundary) LastError() *apperrors.StandardError {
	return b.lastErr
}

// Report classifies a failure, forwards it to the reporter, moves the
// boundary to failed, and returns the classified error for the caller to
// surface.
func (b *Boundary) Report(ctx context.Context, err error, bizCtx *apperrors.BusinessContext) *apperrors.StandardError {
	stdErr := apperrors.Classify(err, bizCtx)
	if stdErr == nil {
		return nil
	}

	b.reporter.Report(ctx, stdErr)
	b.state = StateFailed
	b.lastErr = stdErr
	return stdErr
}

// ReportValue handles recovered panic values and other non-error throws.
func (b *Boundary) ReportValue(ctx context.Context, v any, bizCtx *apperrors.BusinessContext) *apperrors.StandardError {
	stdErr := apperrors.ClassifyValue(v, bizCtx)
	if stdErr == nil {
		return nil
	}

	b.reporter.Report(ctx, stdErr)
	b.state = StateFailed
	b.lastErr = stdErr
	return stdErr
}

// Retry re-runs the operation while the classified failures stay retryable,
// up to the retry budget. Enhanced errors contribute their backoff hint;
// plain retryable errors back off exponentially from a small base. Success
// returns the boundary to ok; exhaustion or a permanent error leaves it
// failed.
func (b *Boundary) Retry(ctx context.Context, op Operation, bizCtx *apperrors.BusinessContext) error {
	if b.lastErr != nil && !b.lastErr.Retryable {
		return fmt.Errorf("%w: %s", ErrNotRetryable, b.lastErr.Code)
	}

	b.state = StateRetrying

	for attempt := 1; attempt <= b.maxRetries; attempt++ {
		err := op(ctx)
		if err == nil {
			b.state = StateOK
			b.lastErr = nil
			return nil
		}

		stdErr := apperrors.Classify(err, bizCtx)
		b.reporter.Report(ctx, stdErr)
		b.lastErr = stdErr

		if !stdErr.Retryable {
			b.state = StateFailed
			return stdErr
		}

		if attempt == b.maxRetries {
			break
		}

		delay := retryDelay(err, attempt)
		b.logger.Debug("retrying after failure",
			slog.String("component", "recovery"),
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
			slog.String("error_code", string(stdErr.Code)),
		)
		if err := b.sleep(ctx, delay); err != nil {
			b.state = StateFailed
			return err
		}
	}

	b.state = StateFailed
	return b.lastErr
}

// retryDelay prefers the backoff hint carried by enhanced errors and falls
// back to exponential backoff from 250ms.
func retryDelay(err error, attempt int) time.Duration {
	var enhanced *apperrors.EnhancedError
	if errors.As(err, &enhanced) && enhanced.RetryDelay > 0 {
		return enhanced.RetryDelay
	}
	return 250 * time.Millisecond << (attempt - 1)
}

// Reset clears the failure and returns the boundary to ok. Used by the
// "try again" affordance after the user changed something.
func (b *Boundary) Reset() {
	b.state = StateOK
	b.lastErr = nil
}
