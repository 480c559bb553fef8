// Package apperrors converts arbitrary failures into structured, severity-tagged
// errors that the logging sink and UI boundaries can consume without interpreting
// raw error strings themselves.
package apperrors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"time"

	"github.com/google/uuid"
)

// Category groups errors by failure domain.
type Category string

const (
	CategoryNetwork        Category = "network"
	CategoryValidation     Category = "validation"
	CategoryAuthentication Category = "authentication"
	CategoryAuthorization  Category = "authorization"
	CategoryBusiness       Category = "business"
	CategorySystem         Category = "system"
	CategoryUnknown        Category = "unknown"
)

// Severity indicates operational impact.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// BusinessContext carries the operational context an error occurred in.
// Extra is an open extension map for forward compatibility - fixed fields
// stay typed, everything else goes in Extra.
type BusinessContext struct {
	Operation     string            `json:"operation,omitempty"`
	Resource      string            `json:"resource,omitempty"`
	TenantID      string            `json:"tenant_id,omitempty"`
	CustomerID    string            `json:"customer_id,omitempty"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	Extra         map[string]string `json:"extra,omitempty"`
}

// StandardError is the classified form of a failure. It is immutable once
// constructed: consumers wrap or re-classify, they never mutate.
type StandardError struct {
	ID               string          `json:"id"`
	CorrelationID    string          `json:"correlation_id"`
	Code             ErrorCode       `json:"code,omitempty"`
	Category         Category        `json:"category"`
	Severity         Severity        `json:"severity"`
	HTTPStatus       int             `json:"http_status,omitempty"`
	Message          string          `json:"message"`
	UserMessage      string          `json:"user_message"`
	TechnicalDetails string          `json:"technical_details,omitempty"`
	Retryable        bool            `json:"retryable"`
	Timestamp        time.Time       `json:"timestamp"`
	Context          BusinessContext `json:"context"`

	cause error
}

func (e *StandardError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s [%s]: %s", e.Category, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Category, e.Message)
}

func (e *StandardError) Unwrap() error {
	return e.cause
}

// HTTPError represents a non-2xx response observed by the transport layer.
// The transport produces it; Classify maps it onto the taxonomy.
type HTTPError struct {
	Status  int
	Code    ErrorCode
	Message string
}

func (e *HTTPError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("http %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("http %d", e.Status)
}

// statusProfile maps an HTTP status onto the taxonomy.
type statusProfile struct {
	category  Category
	severity  Severity
	retryable bool
	code      ErrorCode
}

var statusProfiles = map[int]statusProfile{
	400: {CategoryValidation, SeverityLow, false, ErrCodeInvalidRequest},
	401: {CategoryAuthentication, SeverityHigh, false, ErrCodeAuthenticationFailure},
	403: {CategoryAuthorization, SeverityHigh, false, ErrCodeAuthorizationFailure},
	404: {CategoryBusiness, SeverityLow, false, ErrCodeResourceNotFound},
	408: {CategoryNetwork, SeverityMedium, true, ErrCodeRequestTimeout},
	422: {CategoryValidation, SeverityLow, false, ErrCodeValidationFailure},
	429: {CategorySystem, SeverityMedium, true, ErrCodeRateLimitExceeded},
}

var userMessages = map[Category]string{
	CategoryNetwork:        "Connection problem - check your internet connection and try again.",
	CategoryValidation:     "Please review the highlighted fields and try again.",
	CategoryAuthentication: "Your session has expired. Please sign in again.",
	CategoryAuthorization:  "You do not have permission to perform this action.",
	CategoryBusiness:       "The request could not be completed.",
	CategorySystem:         "Something went wrong on our side. Please try again shortly.",
	CategoryUnknown:        "An unexpected error occurred.",
}

// UserMessageFor returns the default user-facing message for a category.
func UserMessageFor(category Category) string {
	if msg, ok := userMessages[category]; ok {
		return msg
	}
	return userMessages[CategoryUnknown]
}

// Classify converts any error into a StandardError. Rules are ordered and the
// first match wins:
//
//  1. already-classified errors pass through unchanged
//  2. network-layer failures (dial/DNS/url errors)
//  3. HTTPError mapped by status code
//  4. timeouts and cancellations
//  5. anything else is unknown, original detail preserved
//
// A nil error classifies to nil.
func Classify(err error, bizCtx *BusinessContext) *StandardError {
	if err == nil {
		return nil
	}

	var classified *StandardError
	if errors.As(err, &classified) {
		return classified
	}

	ctx := BusinessContext{}
	if bizCtx != nil {
		ctx = *bizCtx
	}

	var httpErr *HTTPError
	var urlErr *url.Error
	var opErr *net.OpError
	var netErr net.Error

	switch {
	case errors.As(err, &httpErr):
		return classifyStatus(err, httpErr, ctx)

	case errors.As(err, &opErr), errors.As(err, &urlErr) && !urlErr.Timeout():
		return newStandardError(err, ErrCodeNetworkFailure, CategoryNetwork, SeverityMedium, 0, true, ctx)

	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return newStandardError(err, ErrCodeRequestTimeout, CategoryNetwork, SeverityMedium, 0, true, ctx)

	case errors.As(err, &netErr) && netErr.Timeout():
		return newStandardError(err, ErrCodeRequestTimeout, CategoryNetwork, SeverityMedium, 0, true, ctx)

	case errors.As(err, &urlErr):
		// url.Error that reported a timeout above, or wraps something opaque
		return newStandardError(err, ErrCodeNetworkFailure, CategoryNetwork, SeverityMedium, 0, true, ctx)

	default:
		return newStandardError(err, ErrCodeInternalError, CategoryUnknown, SeverityMedium, 0, false, ctx)
	}
}

// ClassifyValue classifies a non-error thrown value (recovered panics, foreign
// library returns). The original value is preserved stringified.
func ClassifyValue(v any, bizCtx *BusinessContext) *StandardError {
	if v == nil {
		return nil
	}
	if err, ok := v.(error); ok {
		return Classify(err, bizCtx)
	}
	return Classify(fmt.Errorf("non-error value: %v", v), bizCtx)
}

func classifyStatus(cause error, httpErr *HTTPError, ctx BusinessContext) *StandardError {
	profile, ok := statusProfiles[httpErr.Status]
	if !ok {
		if httpErr.Status >= 500 {
			profile = statusProfile{CategorySystem, SeverityCritical, true, ErrCodeUpstreamFailure}
		} else {
			profile = statusProfile{CategoryUnknown, SeverityMedium, false, ErrCodeInternalError}
		}
	}

	code := profile.code
	if httpErr.Code != "" {
		code = httpErr.Code
	}

	return newStandardError(cause, code, profile.category, profile.severity, httpErr.Status, profile.retryable, ctx)
}

func newStandardError(cause error, code ErrorCode, category Category, severity Severity, status int, retryable bool, ctx BusinessContext) *StandardError {
	correlationID := ctx.CorrelationID
	if correlationID == "" {
		correlationID = uuid.NewString()
		ctx.CorrelationID = correlationID
	}

	return &StandardError{
		ID:               uuid.NewString(),
		CorrelationID:    correlationID,
		Code:             code,
		Category:         category,
		Severity:         severity,
		HTTPStatus:       status,
		Message:          cause.Error(),
		UserMessage:      UserMessageFor(category),
		TechnicalDetails: fmt.Sprintf("%T: %v", cause, cause),
		Retryable:        retryable,
		Timestamp:        timeNow().UTC(),
		Context:          ctx,
		cause:            cause,
	}
}

// WithUserMessage returns a copy with an overridden user message. The original
// error is left untouched.
func (e *StandardError) WithUserMessage(msg string) *StandardError {
	dup := *e
	dup.UserMessage = msg
	return &dup
}
