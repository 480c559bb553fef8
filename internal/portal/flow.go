package portal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	portalcore "github.com/meridian-networks/portalcore"
	"github.com/meridian-networks/portalcore/internal/securestore"
	"github.com/meridian-networks/portalcore/internal/tokens"
)

// Step is one state of the login flow.
type Step int

const (
	StepPortalDetection Step = iota
	StepCredentialEntry
	StepMFAVerification
	StepComplete
)

var stepNames = [...]string{
	StepPortalDetection: "portal_detection",
	StepCredentialEntry: "credential_entry",
	StepMFAVerification: "mfa_verification",
	StepComplete:        "complete",
}

func (s Step) String() string {
	if s < 0 || int(s) >= len(stepNames) {
		return fmt.Sprintf("step(%d)", int(s))
	}
	return stepNames[s]
}

var (
	// ErrDetectionRequired means Login was called before DetectPortal succeeded.
	ErrDetectionRequired = errors.New("portal: portal detection has not completed")

	// ErrDetectionFailed wraps a failed config fetch; the flow stays in
	// portal_detection so the caller can retry.
	ErrDetectionFailed = errors.New("portal: portal detection failed")

	// ErrInvalidCredentials carries a validation message; no network call was made.
	ErrInvalidCredentials = errors.New("portal: invalid credentials")

	// ErrMFARequired means the password was accepted and the flow now waits in
	// mfa_verification for a code.
	ErrMFARequired = errors.New("portal: mfa verification required")
)

// Validation is the result of a credential check. It is a value, never an
// error: incomplete input is an expected state, not a failure.
type Validation struct {
	Valid   bool
	Message string
}

// ConfigFetcher retrieves a portal's configuration. The transport layer
// implements it.
type ConfigFetcher interface {
	FetchPortalConfig(ctx context.Context, portalType, tenantSlug string) (*Config, error)
}

// LoginResult is what the gateway returns on a successful (or MFA-pending)
// authentication call.
type LoginResult struct {
	Pair       *tokens.Pair
	CSRFToken  string
	TenantID   string
	PortalID   string
	MFAPending bool
}

// Authenticator performs the authentication call. The transport layer
// implements it.
type Authenticator interface {
	Login(ctx context.Context, payload LoginPayload) (*LoginResult, error)
}

// TokenSetter is the slice of tokens.Manager the flow needs.
type TokenSetter interface {
	SetTokens(ctx context.Context, pair *tokens.Pair, csrfToken string) error
}

// BrandingApplier receives the detected portal's branding. UI adapters own
// the CSS-variable / title / favicon side effects.
type BrandingApplier func(Branding)

// Flow drives the login state machine. The step only ever advances
// (portal_detection → credential_entry → mfa_verification → complete) within
// one flow instance; Reset is the single sanctioned way back.
type Flow struct {
	detector *Detector
	fetcher  ConfigFetcher
	auth     Authenticator
	tokens   TokenSetter
	store    *securestore.Store
	branding BrandingApplier
	logger   *slog.Logger

	mu     sync.Mutex
	step   Step
	config *Config
}

func NewFlow(detector *Detector, fetcher ConfigFetcher, auth Authenticator, setter TokenSetter, store *securestore.Store, branding BrandingApplier, logger *slog.Logger) *Flow {
	return &Flow{
		detector: detector,
		fetcher:  fetcher,
		auth:     auth,
		tokens:   setter,
		store:    store,
		branding: branding,
		logger:   logger,
		step:     StepPortalDetection,
	}
}

// Step returns the current flow step.
func (f *Flow) Step() Step {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.step
}

// Config returns the detected portal config, nil before detection.
func (f *Flow) Config() *Config {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.config
}

// advance moves the step forward, never backward.
func (f *Flow) advance(next Step) {
	if next > f.step {
		f.step = next
	}
}

// DetectPortal maps the host to a portal, fetches its config, applies
// branding, and advances to credential_entry. On failure the flow stays in
// portal_detection so the caller can retry.
func (f *Flow) DetectPortal(ctx context.Context, host string) (*Config, error) {
	f.mu.Lock()
	if f.step > StepPortalDetection && f.config != nil {
		cfg := f.config
		f.mu.Unlock()
		return cfg, nil
	}
	f.mu.Unlock()

	detection, err := f.detector.Detect(host)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDetectionFailed, err)
	}

	cfg, err := f.fetcher.FetchPortalConfig(ctx, detection.PortalType, detection.TenantSlug)
	if err != nil {
		f.logger.Warn("portal config fetch failed",
			slog.String("component", "portal"),
			slog.String("portal_type", detection.PortalType),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("%w: %v", ErrDetectionFailed, err)
	}

	if f.branding != nil {
		f.branding(cfg.Branding)
	}

	f.mu.Lock()
	f.config = cfg
	f.advance(StepCredentialEntry)
	f.mu.Unlock()

	f.logger.Info("portal detected",
		slog.String("component", "portal"),
		slog.String("portal_type", cfg.Type),
		slog.String("tenant_id", cfg.TenantID),
	)
	return cfg, nil
}

// RequiredFields lists what the credential form must collect for the detected
// portal: the accepted identifiers, a password, and an MFA code when the
// portal mandates it.
func (f *Flow) RequiredFields() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.config == nil {
		return nil
	}

	fields := make([]string, 0, len(f.config.LoginMethods)+2)
	for _, m := range f.config.LoginMethods {
		fields = append(fields, methodLabels[m])
	}
	fields = append(fields, "password")
	if f.config.Features.MFARequired {
		fields = append(fields, "mfa_code")
	}
	return fields
}

// ValidateCredentials checks the input against the detected portal's rules:
// at least one accepted identifier, a password, and an MFA code when the flow
// is waiting in mfa_verification. It returns a Validation value, never an
// error.
func (f *Flow) ValidateCredentials(creds *Credentials) Validation {
	f.mu.Lock()
	cfg := f.config
	step := f.step
	f.mu.Unlock()

	if cfg == nil {
		return Validation{Message: "portal detection has not completed"}
	}

	hasIdentifier := false
	for _, m := range cfg.LoginMethods {
		if creds.identifier(m) != "" {
			hasIdentifier = true
			break
		}
	}
	if !hasIdentifier {
		return Validation{Message: identifierMessage(cfg.LoginMethods)}
	}

	if creds.Password == "" {
		return Validation{Message: "Please provide your password to sign in"}
	}

	if step == StepMFAVerification && creds.MFACode == "" {
		return Validation{Message: "Please enter your verification code"}
	}

	return Validation{Valid: true}
}

// identifierMessage builds the "Please provide email or portal_id to sign in"
// style message from the portal's accepted methods.
func identifierMessage(methods []LoginMethod) string {
	labels := make([]string, 0, len(methods))
	for _, m := range methods {
		labels = append(labels, methodLabels[m])
	}
	return fmt.Sprintf("Please provide %s to sign in", strings.Join(labels, " or "))
}

// Login validates the credentials, builds the portal-scoped payload, and
// performs the authentication call. Within one attempt the sequence is
// strictly detection → validation → payload build → network call → state
// transition. On any failure the step is left unchanged.
func (f *Flow) Login(ctx context.Context, creds *Credentials) (*LoginResult, error) {
	f.mu.Lock()
	cfg := f.config
	step := f.step
	f.mu.Unlock()

	if cfg == nil || step < StepCredentialEntry {
		return nil, ErrDetectionRequired
	}

	if v := f.ValidateCredentials(creds); !v.Valid {
		return nil, fmt.Errorf("%w: %s", ErrInvalidCredentials, v.Message)
	}

	payload := f.buildPayload(cfg, step, creds)

	result, err := f.auth.Login(ctx, payload)
	if err != nil {
		return nil, err
	}

	if result.MFAPending {
		f.mu.Lock()
		f.advance(StepMFAVerification)
		f.mu.Unlock()
		return result, ErrMFARequired
	}

	if err := f.tokens.SetTokens(ctx, result.Pair, result.CSRFToken); err != nil {
		return nil, err
	}

	tenant := TenantContext{
		TenantID:   result.TenantID,
		PortalID:   result.PortalID,
		PortalType: cfg.Type,
	}
	if err := f.store.SetItem(ctx, portalcore.TenantContextKey, tenant, securestore.WithEncryption()); err != nil {
		return nil, err
	}

	f.mu.Lock()
	f.advance(StepComplete)
	f.mu.Unlock()

	f.logger.Info("login complete",
		slog.String("component", "portal"),
		slog.String("portal_type", cfg.Type),
		slog.String("tenant_id", result.TenantID),
	)
	return result, nil
}

// buildPayload selects exactly one identifier in the portal's method order,
// attaches territory for partner-code logins, and the MFA code when the flow
// is verifying one.
func (f *Flow) buildPayload(cfg *Config, step Step, creds *Credentials) LoginPayload {
	payload := LoginPayload{
		PortalType: cfg.Type,
		Password:   creds.Password,
	}

	for _, m := range cfg.LoginMethods {
		value := creds.identifier(m)
		if value == "" {
			continue
		}
		switch m {
		case MethodEmail:
			payload.Email = value
		case MethodPortalID:
			payload.PortalID = value
		case MethodAccountNumber:
			payload.AccountNumber = value
		case MethodPartnerCode:
			payload.PartnerCode = value
			payload.Territory = creds.Territory
		}
		break
	}

	if step == StepMFAVerification || (cfg.Features.MFARequired && creds.MFACode != "") {
		payload.MFACode = creds.MFACode
	}

	return payload
}

// Reset returns the flow to portal_detection, discarding the detected config.
// This is the only sanctioned backward transition (explicit re-entry).
func (f *Flow) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.step = StepPortalDetection
	f.config = nil
}
