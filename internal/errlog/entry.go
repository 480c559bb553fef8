// Package errlog buffers classified errors, mirrors them to the structured
// logger, aggregates in-process metrics, and ships batches to the central
// collector with rate limiting and offline-aware retry.
package errlog

import (
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/meridian-networks/portalcore/internal/apperrors"
	"github.com/meridian-networks/portalcore/internal/securestore"
)

const redactedPlaceholder = "[REDACTED]"

// Entry is one shipped error record. IDs are ULIDs so collector-side ordering
// follows creation time without a coordinated sequence.
type Entry struct {
	ID            string               `json:"id"`
	Timestamp     time.Time            `json:"timestamp"`
	Code          apperrors.ErrorCode  `json:"error_code"`
	Category      apperrors.Category   `json:"category"`
	Severity      apperrors.Severity   `json:"severity"`
	Message       string               `json:"message"`
	Operation     string               `json:"operation,omitempty"`
	Resource      string               `json:"resource,omitempty"`
	TenantID      string               `json:"tenant_id,omitempty"`
	CustomerID    string               `json:"customer_id,omitempty"`
	CorrelationID string               `json:"correlation_id,omitempty"`
	HTTPStatus    int                  `json:"http_status,omitempty"`
	Retryable     bool                 `json:"retryable"`
	Extra         map[string]string    `json:"extra,omitempty"`
}

// NewEntry converts a classified error into a shippable record. Extra context
// values whose keys look credential-bearing are redacted rather than dropped,
// so the collector still sees that the field existed.
func NewEntry(stdErr *apperrors.StandardError) Entry {
	entry := Entry{
		ID:            ulid.Make().String(),
		Timestamp:     stdErr.Timestamp,
		Code:          stdErr.Code,
		Category:      stdErr.Category,
		Severity:      stdErr.Severity,
		Message:       stdErr.Message,
		Operation:     stdErr.Context.Operation,
		Resource:      stdErr.Context.Resource,
		TenantID:      stdErr.Context.TenantID,
		CustomerID:    stdErr.Context.CustomerID,
		CorrelationID: stdErr.CorrelationID,
		HTTPStatus:    stdErr.HTTPStatus,
		Retryable:     stdErr.Retryable,
	}

	if len(stdErr.Context.Extra) > 0 {
		entry.Extra = make(map[string]string, len(stdErr.Context.Extra))
		for k, v := range stdErr.Context.Extra {
			if securestore.IsSensitiveTerm(k) {
				entry.Extra[k] = redactedPlaceholder
				continue
			}
			entry.Extra[k] = v
		}
	}

	return entry
}
