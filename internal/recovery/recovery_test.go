package recovery

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-networks/portalcore/internal/apperrors"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type captureReporter struct {
	reported []*apperrors.StandardError
}

func (c *captureReporter) Report(_ context.Context, stdErr *apperrors.StandardError) {
	c.reported = append(c.reported, stdErr)
}

func newTestBoundary(maxRetries int) (*Boundary, *captureReporter) {
	reporter := &captureReporter{}
	b := NewBoundary(reporter, maxRetries, discardLogger())
	b.sleep = func(context.Context, time.Duration) error { return nil }
	return b, reporter
}

func TestReportMovesToFailed(t *testing.T) {
	b, reporter := newTestBoundary(3)
	ctx := context.Background()

	require.Equal(t, StateOK, b.State())

	stdErr := b.Report(ctx, &apperrors.HTTPError{Status: 401}, &apperrors.BusinessContext{Operation: "auth.login"})
	require.NotNil(t, stdErr)
	assert.Equal(t, apperrors.CategoryAuthentication, stdErr.Category)
	assert.Equal(t, StateFailed, b.State())
	assert.Same(t, stdErr, b.LastError())
	require.Len(t, reporter.reported, 1)
}

func TestReportNilError(t *testing.T) {
	b, reporter := newTestBoundary(3)

	assert.Nil(t, b.Report(context.Background(), nil, nil))
	assert.Equal(t, StateOK, b.State())
	assert.Empty(t, reporter.reported)
}

func TestReportValueHandlesPanicValues(t *testing.T) {
	b, _ := newTestBoundary(3)

	stdErr := b.ReportValue(context.Background(), "something broke", nil)
	require.NotNil(t, stdErr)
	assert.Equal(t, apperrors.CategoryUnknown, stdErr.Category)
	assert.Equal(t, StateFailed, b.State())
}

func TestRetrySucceedsAndReturnsToOK(t *testing.T) {
	b, _ := newTestBoundary(3)
	ctx := context.Background()

	b.Report(ctx, &apperrors.HTTPError{Status: 503}, nil) // retryable

	attempts := 0
	err := b.Retry(ctx, func(context.Context) error {
		attempts++
		if attempts < 2 {
			return &apperrors.HTTPError{Status: 503}
		}
		return nil
	}, nil)

	require.NoError(t, err)
	assert.Equal(t, StateOK, b.State())
	assert.Nil(t, b.LastError())
	assert.Equal(t, 2, attempts)
}

func TestRetryRefusesPermanentError(t *testing.T) {
	b, _ := newTestBoundary(3)
	ctx := context.Background()

	b.Report(ctx, &apperrors.HTTPError{Status: 401}, nil) // non-retryable

	called := false
	err := b.Retry(ctx, func(context.Context) error {
		called = true
		return nil
	}, nil)

	assert.ErrorIs(t, err, ErrNotRetryable)
	assert.False(t, called, "a permanent failure must not be retried")
	assert.Equal(t, StateFailed, b.State())
}

func TestRetryStopsOnPermanentFailureMidway(t *testing.T) {
	b, _ := newTestBoundary(5)
	ctx := context.Background()

	attempts := 0
	err := b.Retry(ctx, func(context.Context) error {
		attempts++
		return &apperrors.HTTPError{Status: 403}
	}, nil)

	require.Error(t, err)
	assert.Equal(t, 1, attempts, "non-retryable classification ends the loop")
	assert.Equal(t, StateFailed, b.State())
}

func TestRetryExhaustsBudget(t *testing.T) {
	b, reporter := newTestBoundary(3)
	ctx := context.Background()

	attempts := 0
	err := b.Retry(ctx, func(context.Context) error {
		attempts++
		return &apperrors.HTTPError{Status: 503}
	}, nil)

	require.Error(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, StateFailed, b.State())
	assert.Len(t, reporter.reported, 3)
}

func TestRetryHonorsEnhancedBackoffHint(t *testing.T) {
	b, _ := newTestBoundary(2)
	ctx := context.Background()

	var slept []time.Duration
	b.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	enhanced := apperrors.ClassifyCode(apperrors.CodeDeviceOffline, "device offline", nil)

	attempts := 0
	err := b.Retry(ctx, func(context.Context) error {
		attempts++
		return enhanced
	}, nil)

	require.Error(t, err)
	require.Len(t, slept, 1)
	assert.Equal(t, 5*time.Minute, slept[0], "backoff must come from the enhanced hint")
}

func TestRetryRespectsContextCancellation(t *testing.T) {
	b, _ := newTestBoundary(3)
	b.sleep = sleepCtx

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := b.Retry(ctx, func(context.Context) error {
		return &apperrors.HTTPError{Status: 503}
	}, nil)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateFailed, b.State())
}

func TestReset(t *testing.T) {
	b, _ := newTestBoundary(3)

	b.Report(context.Background(), errors.New("boom"), nil)
	require.Equal(t, StateFailed, b.State())

	b.Reset()
	assert.Equal(t, StateOK, b.State())
	assert.Nil(t, b.LastError())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "ok", StateOK.String())
	assert.Equal(t, "failed", StateFailed.String())
	assert.Equal(t, "retrying", StateRetrying.String())
}
