package errlog

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/meridian-networks/portalcore/internal/apperrors"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// captureShipper records shipped batches and optionally fails.
type captureShipper struct {
	mu      sync.Mutex
	batches [][]Entry
	fail    bool
}

func (c *captureShipper) ship(_ context.Context, entries []Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("collector unreachable")
	}
	batch := make([]Entry, len(entries))
	copy(batch, entries)
	c.batches = append(c.batches, batch)
	return nil
}

func (c *captureShipper) shippedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, b := range c.batches {
		n += len(b)
	}
	return n
}

func (c *captureShipper) setFail(fail bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fail = fail
}

func newTestSink(shipper *captureShipper, opts SinkOptions) *Sink {
	if opts.FlushInterval == 0 {
		opts.FlushInterval = time.Hour // keep the background flusher out of tests
	}
	if opts.FlushRate == 0 {
		opts.FlushRate = rate.Inf
	}
	return NewSink(shipper.ship, opts, discardLogger())
}

func classified(message, operation string, status int) *apperrors.StandardError {
	return apperrors.Classify(&apperrors.HTTPError{
		Status:  status,
		Code:    "upstream_failure",
		Message: message,
	}, &apperrors.BusinessContext{Operation: operation})
}

func TestReportAndFlush(t *testing.T) {
	shipper := &captureShipper{}
	s := newTestSink(shipper, SinkOptions{})
	defer s.Close(context.Background())
	ctx := context.Background()

	s.Report(ctx, classified("payment declined", "billing.charge", http.StatusBadRequest))
	s.Report(ctx, classified("device offline", "network.poll", http.StatusNotFound))
	assert.Equal(t, 2, s.Pending())

	s.Flush(ctx)
	assert.Equal(t, 0, s.Pending())
	assert.Equal(t, 2, shipper.shippedCount())
}

func TestDedupSuppressesRepeats(t *testing.T) {
	shipper := &captureShipper{}
	s := newTestSink(shipper, SinkOptions{DedupWindow: time.Minute})
	defer s.Close(context.Background())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		s.Report(ctx, classified("device offline", "network.poll", http.StatusNotFound))
	}

	assert.Equal(t, 1, s.Pending(), "identical errors inside the window collapse to one")
	snap := s.Metrics().Snapshot()
	assert.Equal(t, 1, snap.Total)
	assert.Equal(t, 4, snap.Suppressed)
}

func TestDedupDistinguishesOperations(t *testing.T) {
	shipper := &captureShipper{}
	s := newTestSink(shipper, SinkOptions{DedupWindow: time.Minute})
	defer s.Close(context.Background())
	ctx := context.Background()

	s.Report(ctx, classified("timeout", "billing.charge", http.StatusRequestTimeout))
	s.Report(ctx, classified("timeout", "network.poll", http.StatusRequestTimeout))

	assert.Equal(t, 2, s.Pending(), "same message from different operations is not a duplicate")
}

func TestBufferLimitDropsOldest(t *testing.T) {
	shipper := &captureShipper{}
	s := newTestSink(shipper, SinkOptions{BufferLimit: 3})
	defer s.Close(context.Background())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		s.Report(ctx, classified("error "+string(rune('a'+i)), "op", http.StatusBadRequest))
	}

	assert.Equal(t, 3, s.Pending())
	assert.Equal(t, 2, s.Metrics().Snapshot().Dropped)
}

func TestCriticalShipsImmediately(t *testing.T) {
	shipper := &captureShipper{}
	s := newTestSink(shipper, SinkOptions{})
	defer s.Close(context.Background())

	s.Report(context.Background(), classified("gateway meltdown", "core", http.StatusBadGateway))

	assert.Equal(t, 0, s.Pending(), "critical errors must not wait for the flush cadence")
	assert.Equal(t, 1, shipper.shippedCount())
}

func TestOfflineBuffersThenShipsOnReconnect(t *testing.T) {
	shipper := &captureShipper{}
	s := newTestSink(shipper, SinkOptions{})
	defer s.Close(context.Background())
	ctx := context.Background()

	s.SetOnline(ctx, false)
	s.Report(ctx, classified("cached failure", "op", http.StatusBadRequest))
	s.Flush(ctx)
	assert.Equal(t, 1, s.Pending(), "offline sink must hold entries")
	assert.Equal(t, 0, shipper.shippedCount())

	s.SetOnline(ctx, true)
	assert.Equal(t, 0, s.Pending())
	assert.Equal(t, 1, shipper.shippedCount())
}

func TestFailedShipmentRequeues(t *testing.T) {
	shipper := &captureShipper{fail: true}
	s := newTestSink(shipper, SinkOptions{})
	defer s.Close(context.Background())
	ctx := context.Background()

	s.Report(ctx, classified("first", "op-a", http.StatusBadRequest))
	s.Report(ctx, classified("second", "op-b", http.StatusBadRequest))

	s.Flush(ctx)
	assert.Equal(t, 2, s.Pending(), "failed batch must be requeued")

	shipper.setFail(false)
	s.Flush(ctx)
	require.Equal(t, 0, s.Pending())

	// ordering survived the retry
	require.Len(t, shipper.batches, 1)
	assert.Equal(t, "first", shipper.batches[0][0].Message)
	assert.Equal(t, "second", shipper.batches[0][1].Message)
}

func TestFlushRespectsBatchSize(t *testing.T) {
	shipper := &captureShipper{}
	s := newTestSink(shipper, SinkOptions{BatchSize: 2})
	defer s.Close(context.Background())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		s.Report(ctx, classified("error "+string(rune('a'+i)), "op", http.StatusBadRequest))
	}

	s.Flush(ctx)
	assert.Equal(t, 3, s.Pending())

	shipper.mu.Lock()
	require.Len(t, shipper.batches, 1)
	assert.Len(t, shipper.batches[0], 2)
	shipper.mu.Unlock()
}

func TestDropOlderThan(t *testing.T) {
	shipper := &captureShipper{}
	s := newTestSink(shipper, SinkOptions{})
	defer s.Close(context.Background())
	ctx := context.Background()

	s.Report(ctx, classified("stale", "op-a", http.StatusBadRequest))
	s.Report(ctx, classified("fresh", "op-b", http.StatusBadRequest))

	// backdate the first entry
	s.mu.Lock()
	s.buffer[0].Timestamp = time.Now().Add(-2 * time.Hour)
	s.mu.Unlock()

	dropped := s.DropOlderThan(time.Hour)
	assert.Equal(t, 1, dropped)
	assert.Equal(t, 1, s.Pending())
}

func TestRedactionOfSensitiveExtras(t *testing.T) {
	stdErr := apperrors.Classify(errors.New("login failed"), &apperrors.BusinessContext{
		Operation: "auth.login",
		Extra: map[string]string{
			"attempted_password": "hunter2",
			"session_auth":       "bearer xyz",
			"portal_type":        "customer",
		},
	})

	entry := NewEntry(stdErr)
	assert.Equal(t, "[REDACTED]", entry.Extra["attempted_password"])
	assert.Equal(t, "[REDACTED]", entry.Extra["session_auth"])
	assert.Equal(t, "customer", entry.Extra["portal_type"])
}

func TestMetricsSnapshot(t *testing.T) {
	shipper := &captureShipper{}
	s := newTestSink(shipper, SinkOptions{})
	defer s.Close(context.Background())
	ctx := context.Background()

	s.Report(ctx, classified("auth failed", "auth.login", http.StatusUnauthorized))
	s.Report(ctx, classified("not found", "customers.get", http.StatusNotFound))
	s.Flush(ctx)

	snap := s.Metrics().Snapshot()
	assert.Equal(t, 2, snap.Total)
	assert.Equal(t, 1, snap.ByCategory[apperrors.CategoryAuthentication])
	assert.Equal(t, 1, snap.ByCategory[apperrors.CategoryBusiness])
	assert.Equal(t, 2, snap.Shipped)
	assert.False(t, snap.LastErrorAt.IsZero())
}

func TestCloseFlushesRemaining(t *testing.T) {
	shipper := &captureShipper{}
	s := newTestSink(shipper, SinkOptions{})
	ctx := context.Background()

	s.Report(ctx, classified("pending at shutdown", "op", http.StatusBadRequest))
	s.Close(ctx)

	assert.Equal(t, 1, shipper.shippedCount())

	// Report after close is a no-op
	s.Report(ctx, classified("too late", "op2", http.StatusBadRequest))
	assert.Equal(t, 0, s.Pending())
}
