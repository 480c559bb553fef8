// Package logger configures the process-wide slog handlers and carries the
// request-scoped logging plumbing the collector's HTTP middleware relies on.
package logger

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/lmittmann/tint"
)

type contextKey struct{ name string }

var (
	logAttrsKey         = contextKey{"log_attrs"}
	middlewareLoggerKey = contextKey{"middleware_logger"}
)

// ContextWithLogAttrs appends attributes to the single completion line
// RequestLogging emits when the request finishes. Outside a request scope it
// is a no-op.
func ContextWithLogAttrs(ctx context.Context, attrs ...slog.Attr) context.Context {
	if attrPtr, ok := ctx.Value(logAttrsKey).(*[]slog.Attr); ok {
		*attrPtr = append(*attrPtr, attrs...)
	}
	return ctx
}

// ContextMiddlewareLogger returns the request-scoped logger installed by
// RequestLogging, so intermediary log lines carry the request_id. Outside a
// request scope it falls back to the default logger.
func ContextMiddlewareLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(middlewareLoggerKey).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

// ParseLogLevel maps a config string onto a slog.Level, defaulting to debug.
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelDebug
	}
}

// InitLogger builds the process logger: colourized text in dev, JSON
// everywhere else.
func InitLogger(logLevel slog.Level, environment string) *slog.Logger {
	if environment == "dev" {
		return slog.New(
			tint.NewHandler(os.Stderr, &tint.Options{
				Level:      logLevel,
				TimeFormat: time.Kitchen,
			}),
		)
	}
	return slog.New(
		slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: logLevel,
		}))
}

// RequestLogging emits one structured line per completed request, with the
// level keyed off the response status. Health probes are skipped to keep the
// noise down.
func RequestLogging(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasPrefix(r.URL.Path, "/health/") {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			requestID := middleware.GetReqID(r.Context())

			// shared slice so handlers can enrich the completion line
			sharedAttrs := &[]slog.Attr{}
			ctx := context.WithValue(r.Context(), logAttrsKey, sharedAttrs)
			ctx = context.WithValue(ctx, middlewareLoggerKey,
				logger.With(slog.String("request_id", requestID)))

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			attrs := []slog.Attr{
				slog.Int("status", ww.Status()),
				slog.String("request_id", requestID),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("remote_addr", r.RemoteAddr),
			}
			attrs = append(attrs, *sharedAttrs...)
			attrs = append(attrs,
				slog.Duration("duration", time.Since(start)),
				slog.Int("bytes", ww.BytesWritten()),
			)

			level := slog.LevelInfo
			switch {
			case ww.Status() >= 500:
				level = slog.LevelError
			case ww.Status() >= 400:
				level = slog.LevelWarn
			}
			logger.LogAttrs(r.Context(), level, "request completed", attrs...)
		})
	}
}
