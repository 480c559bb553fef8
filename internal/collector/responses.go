package collector

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/meridian-networks/portalcore/internal/apperrors"
	"github.com/meridian-networks/portalcore/internal/logger"
)

// ErrorResponse is the collector's JSON error body. The same shape the portal
// gateway uses, so the client-side classifier handles both.
type ErrorResponse struct {
	StatusCode int                 `json:"-"`
	ErrorCode  apperrors.ErrorCode `json:"error_code"`
	Message    string              `json:"message"`
	ReqID      string              `json:"-"`
}

func RespondWithError(w http.ResponseWriter, r *http.Request, statusCode int, errorCode apperrors.ErrorCode, message string) {
	requestLogger := logger.ContextMiddlewareLogger(r.Context())
	requestID := middleware.GetReqID(r.Context())

	switch {
	case statusCode >= 500:
		requestLogger.Error("request failed", "status", statusCode, "error_code", errorCode, "error_message", message)
	case statusCode >= 400:
		requestLogger.Warn("request failed", "status", statusCode, "error_code", errorCode, "error_message", message)
	default:
		requestLogger.Info("request failed", "status", statusCode, "error_code", errorCode, "error_message", message)
	}

	errResponse := ErrorResponse{
		StatusCode: statusCode,
		ErrorCode:  errorCode,
		Message:    message,
		ReqID:      requestID,
	}

	dat, err := json.Marshal(errResponse)
	if err != nil {
		requestLogger.Error("error marshaling error response", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error_code":"internal_error","message":"Internal Server Error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(statusCode)
	_, _ = w.Write(dat)
}

func RespondWithJSON(w http.ResponseWriter, status int, payload any) {
	if status == http.StatusNoContent {
		w.WriteHeader(status)
		return
	}

	data, err := json.Marshal(payload)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error_code":"marshal_error","message":"Internal Server Error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}
