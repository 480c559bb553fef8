// Package session is the composition root for the portal core: it constructs
// and wires the storage, token, csrf, error-handling, and login-flow services
// in dependency order. Portals create one Session per browser session scope;
// tests create as many isolated instances as they need.
package session

import (
	"context"
	"log/slog"

	portalcore "github.com/meridian-networks/portalcore"
	"github.com/meridian-networks/portalcore/internal/apiclient"
	"github.com/meridian-networks/portalcore/internal/csrf"
	"github.com/meridian-networks/portalcore/internal/errlog"
	"github.com/meridian-networks/portalcore/internal/portal"
	"github.com/meridian-networks/portalcore/internal/recovery"
	"github.com/meridian-networks/portalcore/internal/securestore"
	"github.com/meridian-networks/portalcore/internal/tokens"
)

// Session holds one fully wired set of portal-core services.
type Session struct {
	Store  *securestore.Store
	Tokens *tokens.Manager
	CSRF   *csrf.Guard
	Sink   *errlog.Sink
	Client *apiclient.Client
	Flow   *portal.Flow

	cfg    *portalcore.Config
	logger *slog.Logger

	stopAutoRefresh func()
}

// Options carries the pieces the environment must provide.
type Options struct {
	// Backend is the storage substrate; nil selects the in-memory one.
	Backend securestore.Backend

	// SessionSecret derives the secure store's encryption key. Empty engages
	// the flagged plain-encoding fallback.
	SessionSecret []byte

	// Branding receives the detected portal's branding, nil to ignore.
	Branding portal.BrandingApplier
}

// New wires a Session from the configuration. Construction is pure: no
// network calls, no background goroutines except the sink's flusher.
func New(cfg *portalcore.Config, opts Options, logger *slog.Logger) *Session {
	backend := opts.Backend
	if backend == nil {
		backend = securestore.NewMemoryBackend()
	}

	store := securestore.New(backend, opts.SessionSecret, logger)
	guard := csrf.NewGuard(store, logger)

	manager := tokens.NewManager(store, tokens.ManagerOptions{
		Issuer:        cfg.ExpectedIssuer,
		Audience:      cfg.ExpectedAudience,
		RefreshBuffer: cfg.RefreshBuffer,
		PollInterval:  cfg.AutoRefreshPoll,
		CSRF:          guard,
	}, logger)

	client := apiclient.New(cfg.APIBaseURL, cfg.RequestTimeout, manager, guard, logger)

	ship := discardShipFunc
	if cfg.CollectorURL != "" {
		ship = client.ShipFunc(cfg.CollectorURL)
	}
	sink := errlog.NewSink(ship, errlog.SinkOptions{
		BatchSize:     cfg.LogBatchSize,
		FlushInterval: cfg.LogFlushInterval,
		BufferLimit:   cfg.LogBufferLimit,
		DedupWindow:   cfg.DedupWindow,
	}, logger)

	flow := portal.NewFlow(portal.NewDetector(cfg.Environment), client, client, manager, store, opts.Branding, logger)

	return &Session{
		Store:  store,
		Tokens: manager,
		CSRF:   guard,
		Sink:   sink,
		Client: client,
		Flow:   flow,
		cfg:    cfg,
		logger: logger,
	}
}

// discardShipFunc drops batches when no collector is configured. Local
// logging still happens; only the remote shipment is skipped.
func discardShipFunc(context.Context, []errlog.Entry) error {
	return nil
}

// NewBoundary creates an error boundary backed by this session's sink.
// Boundaries belong to a single rendering scope, so callers create one per
// route rather than sharing.
func (s *Session) NewBoundary() *recovery.Boundary {
	return recovery.NewBoundary(s.Sink, s.cfg.MaxRetries, s.logger)
}

// StartAutoRefresh begins background token refresh using the gateway's
// refresh endpoint. Idempotent; Close stops it.
func (s *Session) StartAutoRefresh(ctx context.Context, onFailure func(error)) {
	if s.stopAutoRefresh != nil {
		return
	}
	s.stopAutoRefresh = s.Tokens.StartAutoRefresh(ctx, s.Client.RefreshFunc(), onFailure)
}

// Close stops the auto-refresh poller and flushes the sink.
func (s *Session) Close(ctx context.Context) {
	if s.stopAutoRefresh != nil {
		s.stopAutoRefresh()
		s.stopAutoRefresh = nil
	}
	s.Sink.Close(ctx)
}
