// Package portal implements portal detection and the step-wise login state
// machine for the operator portals (admin, customer, reseller).
package portal

// LoginMethod identifies one accepted login identifier.
type LoginMethod string

const (
	MethodEmail         LoginMethod = "email"
	MethodPortalID      LoginMethod = "portal_id"
	MethodAccountNumber LoginMethod = "account_number"
	MethodPartnerCode   LoginMethod = "partner_code"
)

// methodLabels are the user-facing names used in validation messages.
var methodLabels = map[LoginMethod]string{
	MethodEmail:         "email",
	MethodPortalID:      "portal_id",
	MethodAccountNumber: "account_number",
	MethodPartnerCode:   "partner_code",
}

// Branding carries the tenant-facing look of a portal. The core only
// transports it; a UI adapter owns the CSS-variable and favicon side effects.
type Branding struct {
	PrimaryColor   string `json:"primary_color"`
	SecondaryColor string `json:"secondary_color"`
	AccentColor    string `json:"accent_color"`
	LogoURL        string `json:"logo_url"`
	FaviconURL     string `json:"favicon_url"`
	Title          string `json:"title"`
}

// Features are the per-portal feature flags.
type Features struct {
	SelfRegistration     bool `json:"self_registration"`
	MFARequired          bool `json:"mfa_required"`
	SSOEnabled           bool `json:"sso_enabled"`
	AlternateIdentifiers bool `json:"alternate_identifiers"`
}

// Config describes one tenant-facing portal. Fetched once per session during
// detection and read-only afterwards; re-fetched only through Flow.Reset.
type Config struct {
	ID           string        `json:"id"`
	DisplayName  string        `json:"display_name"`
	Type         string        `json:"portal_type"`
	TenantID     string        `json:"tenant_id"`
	Branding     Branding      `json:"branding"`
	Features     Features      `json:"features"`
	LoginMethods []LoginMethod `json:"login_methods"`
}

// AcceptsMethod reports whether the portal allows the given login identifier.
func (c *Config) AcceptsMethod(m LoginMethod) bool {
	for _, candidate := range c.LoginMethods {
		if candidate == m {
			return true
		}
	}
	return false
}

// Credentials is the raw user input to a login attempt.
type Credentials struct {
	Email         string
	PortalID      string
	AccountNumber string
	PartnerCode   string
	Password      string
	MFACode       string
	Territory     string
}

// identifier returns the value the user supplied for a given method.
func (c *Credentials) identifier(m LoginMethod) string {
	switch m {
	case MethodEmail:
		return c.Email
	case MethodPortalID:
		return c.PortalID
	case MethodAccountNumber:
		return c.AccountNumber
	case MethodPartnerCode:
		return c.PartnerCode
	}
	return ""
}

// LoginPayload is the portal-scoped authentication request: exactly one
// identifier field is populated per portal rules.
type LoginPayload struct {
	PortalType    string `json:"portal_type"`
	Email         string `json:"email,omitempty"`
	PortalID      string `json:"portal_id,omitempty"`
	AccountNumber string `json:"account_number,omitempty"`
	PartnerCode   string `json:"partner_code,omitempty"`
	Territory     string `json:"territory,omitempty"`
	Password      string `json:"password"`
	MFACode       string `json:"mfa_code,omitempty"`
}

// TenantContext is established in secure storage after a successful login.
type TenantContext struct {
	TenantID   string `json:"tenant_id"`
	PortalID   string `json:"portal_id"`
	PortalType string `json:"portal_type"`
}
