package apperrors

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type ErrorCode string

// Engine-generated codes. These tag errors the classification engine produces
// itself; business codes returned by backend services are listed further down.
const (
	ErrCodeAuthenticationFailure ErrorCode = "authentication_error"
	ErrCodeAuthorizationFailure  ErrorCode = "authorization_error"
	ErrCodeInternalError         ErrorCode = "internal_error"
	ErrCodeInvalidRequest        ErrorCode = "invalid_request"
	ErrCodeNetworkFailure        ErrorCode = "network_error"
	ErrCodeRateLimitExceeded     ErrorCode = "rate_limit_exceeded"
	ErrCodeRequestTimeout        ErrorCode = "request_timeout"
	ErrCodeResourceNotFound      ErrorCode = "resource_not_found"
	ErrCodeUpstreamFailure       ErrorCode = "upstream_failure"
	ErrCodeValidationFailure     ErrorCode = "validation_error"
)

// Business error codes returned by the operator backend. Grouped by prefix:
// CUST_ customer management, BILL_ billing, PROV_ provisioning, NET_ field
// network operations, SVC_ service plans, AUTH_ authentication flows.
const (
	CodeCustomerNotFound      ErrorCode = "CUST_NOT_FOUND"
	CodeCustomerSuspended     ErrorCode = "CUST_SUSPENDED"
	CodeCustomerDuplicate     ErrorCode = "CUST_DUPLICATE"
	CodePaymentFailed         ErrorCode = "BILL_PAYMENT_FAILED"
	CodeInvoiceNotFound       ErrorCode = "BILL_INVOICE_NOT_FOUND"
	CodePaymentMethodExpired  ErrorCode = "BILL_PAYMENT_METHOD_EXPIRED"
	CodeActivationFailed      ErrorCode = "PROV_ACTIVATION_FAILED"
	CodeEquipmentUnreachable  ErrorCode = "PROV_EQUIPMENT_UNREACHABLE"
	CodeDeviceOffline         ErrorCode = "NET_DEVICE_OFFLINE"
	CodeSignalDegraded        ErrorCode = "NET_SIGNAL_DEGRADED"
	CodePlanUnavailable       ErrorCode = "SVC_PLAN_UNAVAILABLE"
	CodeMFARequired           ErrorCode = "AUTH_MFA_REQUIRED"
	CodeAccountLocked         ErrorCode = "AUTH_ACCOUNT_LOCKED"
)

// EnhancedError extends StandardError with escalation and remediation hints for
// business error codes.
type EnhancedError struct {
	*StandardError

	EscalationRequired bool          `json:"escalation_required"`
	SuggestedActions   []string      `json:"suggested_actions,omitempty"`
	RetryDelay         time.Duration `json:"retry_delay,omitempty"`
}

// Unwrap exposes the embedded StandardError so errors.As and the classifier's
// pass-through rule see enhanced errors as already classified.
func (e *EnhancedError) Unwrap() error {
	return e.StandardError
}

// codeProfile describes how a business error code maps onto the taxonomy.
type codeProfile struct {
	category   Category
	severity   Severity
	httpStatus int
	retryable  bool
	escalate   bool
	userMsg    string
	actions    []string
	retryDelay time.Duration
}

// exactCodeProfiles is consulted first; codes without an exact entry fall back
// to their prefix profile.
var exactCodeProfiles = map[ErrorCode]codeProfile{
	CodeCustomerNotFound: {
		category: CategoryBusiness, severity: SeverityLow, httpStatus: 404,
		userMsg: "We could not find that customer account.",
		actions: []string{"Check the account number", "Search by service address instead"},
	},
	CodeCustomerSuspended: {
		category: CategoryBusiness, severity: SeverityMedium, httpStatus: 409, escalate: true,
		userMsg: "This account is suspended. Contact billing support to restore service.",
		actions: []string{"Review outstanding balance", "Contact billing support"},
	},
	CodeCustomerDuplicate: {
		category: CategoryValidation, severity: SeverityLow, httpStatus: 422,
		userMsg: "An account with these details already exists.",
		actions: []string{"Search for the existing account"},
	},
	CodePaymentFailed: {
		category: CategoryBusiness, severity: SeverityHigh, httpStatus: 402, retryable: true, escalate: true,
		userMsg: "The payment could not be processed. No charge was made.",
		actions: []string{"Verify the card details", "Try a different payment method"},
		retryDelay: 30 * time.Second,
	},
	CodeInvoiceNotFound: {
		category: CategoryBusiness, severity: SeverityLow, httpStatus: 404,
		userMsg: "That invoice is no longer available.",
	},
	CodePaymentMethodExpired: {
		category: CategoryValidation, severity: SeverityMedium, httpStatus: 422,
		userMsg: "The saved payment method has expired.",
		actions: []string{"Update the card expiry date", "Add a new payment method"},
	},
	CodeActivationFailed: {
		category: CategorySystem, severity: SeverityHigh, httpStatus: 502, retryable: true, escalate: true,
		userMsg: "Service activation did not complete. Our team has been notified.",
		actions: []string{"Retry the activation", "Schedule a technician visit"},
		retryDelay: 2 * time.Minute,
	},
	CodeEquipmentUnreachable: {
		category: CategorySystem, severity: SeverityHigh, httpStatus: 504, retryable: true,
		userMsg: "We could not reach the customer equipment.",
		actions: []string{"Confirm the equipment is powered on", "Retry the connection test"},
		retryDelay: time.Minute,
	},
	CodeDeviceOffline: {
		category: CategorySystem, severity: SeverityMedium, httpStatus: 503, retryable: true,
		userMsg: "The device is currently offline.",
		actions: []string{"Check for area outages", "Retry once the device reconnects"},
		retryDelay: 5 * time.Minute,
	},
	CodeSignalDegraded: {
		category: CategoryBusiness, severity: SeverityMedium, httpStatus: 200,
		userMsg: "Signal quality on this line is degraded.",
		actions: []string{"Run a line diagnostic", "Schedule a technician visit"},
	},
	CodePlanUnavailable: {
		category: CategoryBusiness, severity: SeverityLow, httpStatus: 409,
		userMsg: "The selected plan is not available at this address.",
		actions: []string{"Check plan availability for the service address"},
	},
	CodeMFARequired: {
		category: CategoryAuthentication, severity: SeverityMedium, httpStatus: 401,
		userMsg: "Enter the verification code from your authenticator app.",
	},
	CodeAccountLocked: {
		category: CategoryAuthentication, severity: SeverityHigh, httpStatus: 423, escalate: true,
		userMsg: "This account is locked after too many failed attempts.",
		actions: []string{"Wait 15 minutes before retrying", "Reset the password"},
		retryDelay: 15 * time.Minute,
	},
}

// prefixProfiles is the fallback for codes the exact table does not list.
// Order matters: first matching prefix wins.
var prefixProfiles = []struct {
	prefix  string
	profile codeProfile
}{
	{"CUST_", codeProfile{category: CategoryBusiness, severity: SeverityMedium, httpStatus: 422, userMsg: "The customer operation could not be completed."}},
	{"BILL_", codeProfile{category: CategoryBusiness, severity: SeverityHigh, httpStatus: 402, escalate: true, userMsg: "The billing operation could not be completed."}},
	{"PROV_", codeProfile{category: CategorySystem, severity: SeverityHigh, httpStatus: 502, retryable: true, escalate: true, userMsg: "Provisioning did not complete.", retryDelay: time.Minute}},
	{"NET_", codeProfile{category: CategorySystem, severity: SeverityMedium, httpStatus: 503, retryable: true, userMsg: "A network operation failed.", retryDelay: time.Minute}},
	{"SVC_", codeProfile{category: CategoryBusiness, severity: SeverityLow, httpStatus: 409, userMsg: "The service operation could not be completed."}},
	{"AUTH_", codeProfile{category: CategoryAuthentication, severity: SeverityHigh, httpStatus: 401, userMsg: UserMessageFor(CategoryAuthentication)}},
}

func lookupCodeProfile(code ErrorCode) (codeProfile, bool) {
	if profile, ok := exactCodeProfiles[code]; ok {
		return profile, true
	}
	for _, entry := range prefixProfiles {
		if strings.HasPrefix(string(code), entry.prefix) {
			return entry.profile, true
		}
	}
	return codeProfile{}, false
}

// ClassifyCode builds an EnhancedError for a backend business error code,
// resolving the exact-code table first and the prefix table second. Codes the
// tables do not know fall back to business/medium/non-retryable.
func ClassifyCode(code ErrorCode, message string, bizCtx *BusinessContext) *EnhancedError {
	profile, ok := lookupCodeProfile(code)
	if !ok {
		profile = codeProfile{
			category: CategoryBusiness,
			severity: SeverityMedium,
			userMsg:  UserMessageFor(CategoryBusiness),
		}
	}

	ctx := BusinessContext{}
	if bizCtx != nil {
		ctx = *bizCtx
	}
	if ctx.CorrelationID == "" {
		ctx.CorrelationID = uuid.NewString()
	}
	if message == "" {
		message = string(code)
	}

	std := &StandardError{
		ID:            uuid.NewString(),
		CorrelationID: ctx.CorrelationID,
		Code:          code,
		Category:      profile.category,
		Severity:      profile.severity,
		HTTPStatus:    profile.httpStatus,
		Message:       message,
		UserMessage:   profile.userMsg,
		Retryable:     profile.retryable,
		Timestamp:     timeNow().UTC(),
		Context:       ctx,
	}

	return &EnhancedError{
		StandardError:      std,
		EscalationRequired: profile.escalate,
		SuggestedActions:   profile.actions,
		RetryDelay:         profile.retryDelay,
	}
}
