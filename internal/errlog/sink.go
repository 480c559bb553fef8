package errlog

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/meridian-networks/portalcore/internal/apperrors"
)

// ShipFunc delivers a batch of entries to the collector. The transport layer
// supplies it so this package stays free of HTTP details.
type ShipFunc func(ctx context.Context, entries []Entry) error

// SinkOptions configures a Sink.
type SinkOptions struct {
	BatchSize     int           // entries per shipment, default 50
	FlushInterval time.Duration // background flush cadence, default 30s
	BufferLimit   int           // max buffered entries, default 500
	DedupWindow   time.Duration // identical-error suppression window, default 60s
	FlushRate     rate.Limit    // max flushes per second, default 1
}

func (o *SinkOptions) applyDefaults() {
	if o.BatchSize <= 0 {
		o.BatchSize = 50
	}
	if o.FlushInterval <= 0 {
		o.FlushInterval = 30 * time.Second
	}
	if o.BufferLimit <= 0 {
		o.BufferLimit = 500
	}
	if o.DedupWindow <= 0 {
		o.DedupWindow = 60 * time.Second
	}
	if o.FlushRate <= 0 {
		o.FlushRate = 1
	}
}

// Sink accepts classified errors and ships them to the collector in batches.
// Every accepted error is also mirrored to the structured logger immediately,
// so local observability never waits on the network.
//
// The buffer is bounded: when full, the oldest entries are dropped and counted
// in the metrics. While offline the sink keeps buffering but never ships.
type Sink struct {
	ship    ShipFunc
	dedup   *apperrors.Deduper
	metrics *Metrics
	logger  *slog.Logger
	limiter *rate.Limiter
	opts    SinkOptions

	mu      sync.Mutex
	buffer  []Entry
	online  bool
	closed  bool
	stopped chan struct{}
}

func NewSink(ship ShipFunc, opts SinkOptions, logger *slog.Logger) *Sink {
	opts.applyDefaults()
	s := &Sink{
		ship:    ship,
		dedup:   apperrors.NewDeduper(opts.DedupWindow, 0),
		metrics: NewMetrics(),
		logger:  logger,
		limiter: rate.NewLimiter(opts.FlushRate, 1),
		opts:    opts,
		online:  true,
		stopped: make(chan struct{}),
	}
	go s.flushLoop()
	return s
}

// Report classifies nothing itself: it takes an already-classified error,
// applies dedup, mirrors it to the logger, and enqueues it for shipment.
// Critical errors bypass the flush cadence and ship immediately.
func (s *Sink) Report(ctx context.Context, stdErr *apperrors.StandardError) {
	if stdErr == nil {
		return
	}

	if !s.dedup.ShouldLog(stdErr) {
		s.metrics.RecordSuppressed()
		return
	}

	entry := NewEntry(stdErr)
	s.logEntry(entry)
	s.metrics.Record(entry)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if len(s.buffer) >= s.opts.BufferLimit {
		dropped := len(s.buffer) - s.opts.BufferLimit + 1
		s.buffer = s.buffer[dropped:]
		s.metrics.RecordDropped(dropped)
	}
	s.buffer = append(s.buffer, entry)
	s.mu.Unlock()

	if stdErr.Severity == apperrors.SeverityCritical {
		s.Flush(ctx)
	}
}

// Flush ships buffered entries in batches. It respects the rate limiter and
// the online flag; on shipment failure the batch is requeued at the front so
// ordering survives the retry.
func (s *Sink) Flush(ctx context.Context) {
	s.mu.Lock()
	if !s.online || len(s.buffer) == 0 {
		s.mu.Unlock()
		return
	}
	n := len(s.buffer)
	if n > s.opts.BatchSize {
		n = s.opts.BatchSize
	}
	batch := make([]Entry, n)
	copy(batch, s.buffer[:n])
	s.buffer = s.buffer[n:]
	s.mu.Unlock()

	if !s.limiter.Allow() {
		s.requeue(batch)
		return
	}

	if err := s.ship(ctx, batch); err != nil {
		s.logger.Warn("error batch shipment failed, requeueing",
			slog.String("component", "errlog"),
			slog.Int("batch_size", len(batch)),
			slog.String("error", err.Error()),
		)
		s.requeue(batch)
		return
	}

	s.metrics.RecordShipped(len(batch))
}

func (s *Sink) requeue(batch []Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buffer = append(batch, s.buffer...)
	if over := len(s.buffer) - s.opts.BufferLimit; over > 0 {
		s.buffer = s.buffer[over:]
		s.metrics.RecordDropped(over)
	}
}

// SetOnline toggles connectivity awareness. Transitioning to online triggers
// an immediate flush of whatever accumulated while offline.
func (s *Sink) SetOnline(ctx context.Context, online bool) {
	s.mu.Lock()
	wasOffline := !s.online
	s.online = online
	s.mu.Unlock()

	if online && wasOffline {
		s.Flush(ctx)
	}
}

// DropOlderThan discards buffered entries older than the given age. Used when
// a long offline stretch makes stale telemetry worthless.
func (s *Sink) DropOlderThan(age time.Duration) int {
	cutoff := time.Now().Add(-age)

	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.buffer[:0]
	for _, entry := range s.buffer {
		if entry.Timestamp.After(cutoff) {
			kept = append(kept, entry)
		}
	}
	dropped := len(s.buffer) - len(kept)
	s.buffer = kept
	if dropped > 0 {
		s.metrics.RecordDropped(dropped)
	}
	return dropped
}

// Pending reports the number of buffered entries awaiting shipment.
func (s *Sink) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buffer)
}

// Metrics exposes the sink's aggregate counters.
func (s *Sink) Metrics() *Metrics {
	return s.metrics
}

// Close stops the background flusher and attempts one final shipment of
// everything still buffered.
func (s *Sink) Close(ctx context.Context) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	close(s.stopped)

	for s.Pending() > 0 {
		before := s.Pending()
		s.Flush(ctx)
		if s.Pending() >= before {
			// shipment is failing or rate limited, stop trying
			return
		}
	}
}

func (s *Sink) flushLoop() {
	ticker := time.NewTicker(s.opts.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopped:
			return
		case <-ticker.C:
			s.Flush(context.Background())
		}
	}
}

func (s *Sink) logEntry(entry Entry) {
	attrs := []any{
		slog.String("component", "errlog"),
		slog.String("error_id", entry.ID),
		slog.String("error_code", string(entry.Code)),
		slog.String("category", string(entry.Category)),
		slog.String("severity", string(entry.Severity)),
		slog.Bool("retryable", entry.Retryable),
	}
	if entry.Operation != "" {
		attrs = append(attrs, slog.String("operation", entry.Operation))
	}
	if entry.TenantID != "" {
		attrs = append(attrs, slog.String("tenant_id", entry.TenantID))
	}
	if entry.CorrelationID != "" {
		attrs = append(attrs, slog.String("correlation_id", entry.CorrelationID))
	}

	switch entry.Severity {
	case apperrors.SeverityCritical, apperrors.SeverityHigh:
		s.logger.Error(entry.Message, attrs...)
	case apperrors.SeverityMedium:
		s.logger.Warn(entry.Message, attrs...)
	default:
		s.logger.Info(entry.Message, attrs...)
	}
}
