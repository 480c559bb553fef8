package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jub0bs/cors"

	"github.com/meridian-networks/portalcore/internal/apperrors"
	"github.com/meridian-networks/portalcore/internal/errlog"
	"github.com/meridian-networks/portalcore/internal/logger"
)

// EntryStore is the storage surface the handlers need.
type EntryStore interface {
	InsertEntries(ctx context.Context, entries []errlog.Entry) error
	Ping(ctx context.Context) error
}

// IngestRequest is the body of POST /api/v1/logs.
type IngestRequest struct {
	Entries []errlog.Entry `json:"entries"`
}

// IngestResponse acknowledges how many entries were accepted.
type IngestResponse struct {
	Received int `json:"received"`
}

// Handler serves the collector's HTTP surface.
type Handler struct {
	store    EntryStore
	maxBatch int
	logger   *slog.Logger
}

func NewHandler(store EntryStore, maxBatch int, logger *slog.Logger) *Handler {
	if maxBatch <= 0 {
		maxBatch = 500
	}
	return &Handler{store: store, maxBatch: maxBatch, logger: logger}
}

// HandleIngest accepts one batch of error entries.
func (h *Handler) HandleIngest(w http.ResponseWriter, r *http.Request) {
	var req IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondWithError(w, r, http.StatusBadRequest, apperrors.ErrCodeInvalidRequest, "could not decode request body")
		return
	}

	if len(req.Entries) == 0 {
		RespondWithError(w, r, http.StatusBadRequest, apperrors.ErrCodeInvalidRequest, "batch contains no entries")
		return
	}
	if len(req.Entries) > h.maxBatch {
		RespondWithError(w, r, http.StatusBadRequest, apperrors.ErrCodeInvalidRequest,
			fmt.Sprintf("batch exceeds maximum of %d entries", h.maxBatch))
		return
	}

	for i, entry := range req.Entries {
		if entry.ID == "" || entry.Message == "" {
			RespondWithError(w, r, http.StatusBadRequest, apperrors.ErrCodeInvalidRequest,
				fmt.Sprintf("entry %d is missing id or message", i))
			return
		}
	}

	if err := h.store.InsertEntries(r.Context(), req.Entries); err != nil {
		h.logger.Error("failed to persist error batch",
			slog.String("component", "collector"),
			slog.Int("batch_size", len(req.Entries)),
			slog.String("error", err.Error()),
		)
		RespondWithError(w, r, http.StatusInternalServerError, apperrors.ErrCodeInternalError, "could not persist entries")
		return
	}

	logger.ContextWithLogAttrs(r.Context(), slog.Int("entries", len(req.Entries)))
	RespondWithJSON(w, http.StatusAccepted, IngestResponse{Received: len(req.Entries)})
}

// HandleReady reports readiness: the database must answer a ping. Health
// probes bypass the request-logging middleware, so failures go through the
// handler's own logger rather than the request-scoped one.
func (h *Handler) HandleReady(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		h.logger.Warn("readiness check failed",
			slog.String("component", "collector"),
			slog.String("error", err.Error()),
		)
		RespondWithJSON(w, http.StatusServiceUnavailable, ErrorResponse{
			ErrorCode: apperrors.ErrCodeUpstreamFailure,
			Message:   "database unavailable",
		})
		return
	}
	RespondWithJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// HandleLive reports liveness.
func (h *Handler) HandleLive(w http.ResponseWriter, _ *http.Request) {
	RespondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// RouterOptions tunes the middleware stack.
type RouterOptions struct {
	MaxRequestBytes   int64
	RequestsPerSecond int32
	Burst             int32
}

// NewRouter assembles the collector's routes and middleware.
func NewRouter(h *Handler, corsMiddleware *cors.Middleware, opts RouterOptions, baseLogger *slog.Logger) http.Handler {
	if opts.MaxRequestBytes <= 0 {
		opts.MaxRequestBytes = 1 << 20 // 1 MiB
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(logger.RequestLogging(baseLogger))
	r.Use(chimiddleware.Recoverer)
	if corsMiddleware != nil {
		r.Use(CORS(corsMiddleware))
	}
	r.Use(RequestSizeLimit(opts.MaxRequestBytes))
	r.Use(RateLimit(opts.RequestsPerSecond, opts.Burst))

	r.Post("/api/v1/logs", h.HandleIngest)
	r.Get("/health/ready", h.HandleReady)
	r.Get("/health/live", h.HandleLive)

	return r
}
