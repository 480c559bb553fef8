// Package tokens owns the access/refresh token lifecycle: storage, structural
// and claim validation, expiry detection, and single-flight refresh.
//
// Validation is fail-closed throughout: a token that cannot be decoded, carries
// a disallowed signing algorithm, or fails issuer/audience checks is treated as
// absent. Signature verification is the gateway's responsibility - the client
// only decides whether a token is worth presenting.
package tokens

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"

	portalcore "github.com/meridian-networks/portalcore"
	"github.com/meridian-networks/portalcore/internal/securestore"
)

var (
	// ErrTokenUnavailable means there is no usable access token: callers must
	// refresh or re-authenticate, not treat it as "no token was ever set".
	ErrTokenUnavailable = errors.New("tokens: no usable access token - refresh or re-authenticate")

	// ErrRefreshFailed means the refresh flow failed terminally and all tokens
	// were cleared; the user must log in again.
	ErrRefreshFailed = errors.New("tokens: refresh failed - full re-authentication required")

	// ErrMalformedToken covers structural failures (segments, algorithm, claims).
	ErrMalformedToken = errors.New("tokens: malformed token")
)

// Pair is a freshly minted access/refresh token pair.
type Pair struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// RefreshFunc exchanges a refresh token for a new pair. The transport layer
// provides it so this package never depends on HTTP details.
type RefreshFunc func(ctx context.Context, refreshToken string) (*Pair, error)

// CSRFAdopter lets SetTokens forward a server-issued anti-forgery token to the
// csrf guard without this package writing the guard's storage key itself.
type CSRFAdopter interface {
	Adopt(ctx context.Context, token string) error
}

// Manager owns the token keys in secure storage. Construct one per session
// scope and share it - the single-flight refresh only dedupes within one
// Manager instance.
type Manager struct {
	store         *securestore.Store
	issuer        string
	audience      string
	refreshBuffer time.Duration
	pollInterval  time.Duration
	csrf          CSRFAdopter // optional
	logger        *slog.Logger

	group singleflight.Group
	now   func() time.Time
}

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	Issuer        string
	Audience      string
	RefreshBuffer time.Duration // default 5m
	PollInterval  time.Duration // auto-refresh poll cadence, default 60s
	CSRF          CSRFAdopter   // optional
}

func NewManager(store *securestore.Store, opts ManagerOptions, logger *slog.Logger) *Manager {
	if opts.RefreshBuffer <= 0 {
		opts.RefreshBuffer = 5 * time.Minute
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 60 * time.Second
	}
	return &Manager{
		store:         store,
		issuer:        opts.Issuer,
		audience:      opts.Audience,
		refreshBuffer: opts.RefreshBuffer,
		pollInterval:  opts.PollInterval,
		csrf:          opts.CSRF,
		logger:        logger,
		now:           time.Now,
	}
}

// SetTokens validates and persists a new pair. The access token is retained
// for its short client-side TTL, the refresh token for the long one; both are
// stored encrypted under the sanctioned keys that bypass the secure store's
// credential guard. An optional csrfToken is forwarded to the csrf guard.
//
// The refresh token should ultimately live in a server-set httpOnly cookie;
// client-side storage here is the compatibility path for the portals that
// still exchange it in the login response body.
func (m *Manager) SetTokens(ctx context.Context, pair *Pair, csrfToken string) error {
	if pair == nil || pair.AccessToken == "" {
		return ErrMalformedToken
	}
	if err := m.ValidateFormat(pair.AccessToken); err != nil {
		return err
	}

	if err := m.store.SetItem(ctx, portalcore.AccessTokenKey, pair,
		securestore.WithEncryption(), securestore.WithTTL(portalcore.AccessTokenTTL)); err != nil {
		return err
	}
	if pair.RefreshToken != "" {
		if err := m.store.SetItem(ctx, portalcore.RefreshTokenKey, pair.RefreshToken,
			securestore.WithEncryption(), securestore.WithTTL(portalcore.RefreshTokenTTL)); err != nil {
			return err
		}
	}

	if csrfToken != "" && m.csrf != nil {
		if err := m.csrf.Adopt(ctx, csrfToken); err != nil {
			m.logger.Warn("failed to adopt server-issued csrf token",
				slog.String("component", "tokens"),
				slog.String("error", err.Error()),
			)
		}
	}

	return nil
}

// AccessToken returns the stored access token if it is structurally valid, not
// expired, and not inside the refresh buffer window. Anything else returns
// ErrTokenUnavailable: the caller must refresh or re-authenticate.
func (m *Manager) AccessToken(ctx context.Context) (string, error) {
	var pair Pair
	if err := m.store.GetItem(ctx, portalcore.AccessTokenKey, &pair); err != nil {
		return "", ErrTokenUnavailable
	}

	if err := m.ValidateFormat(pair.AccessToken); err != nil {
		// fail closed: an invalid stored token is destroyed, not returned
		m.store.RemoveItem(ctx, portalcore.AccessTokenKey)
		return "", ErrTokenUnavailable
	}

	payload, err := m.DecodePayload(pair.AccessToken)
	if err != nil {
		m.store.RemoveItem(ctx, portalcore.AccessTokenKey)
		return "", ErrTokenUnavailable
	}

	if m.now().After(payload.ExpiresAt.Add(-m.refreshBuffer)) {
		return "", ErrTokenUnavailable
	}

	return pair.AccessToken, nil
}

// DecodePayload parses a token without signature verification (client-side
// use only) and returns its payload, or an error on malformed segments.
func (m *Manager) DecodePayload(token string) (*Payload, error) {
	claims := &PortalClaims{}
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	return payloadFromClaims(claims), nil
}

// ValidateFormat checks the structural shape of a token: three dot-separated
// segments, an allow-listed signing algorithm, the required claim set
// (sub, iat, exp, aud, iss), and issuer/audience equality with the configured
// expected values.
func (m *Manager) ValidateFormat(token string) error {
	segments := strings.Split(token, ".")
	if len(segments) != 3 || segments[0] == "" || segments[1] == "" {
		return fmt.Errorf("%w: expected three segments", ErrMalformedToken)
	}

	claims := &PortalClaims{}
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	parsed, _, err := parser.ParseUnverified(token, claims)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}

	alg, _ := parsed.Header["alg"].(string)
	if !portalcore.AllowedSigningAlgs[alg] {
		return fmt.Errorf("%w: signing algorithm %q not allowed", ErrMalformedToken, alg)
	}

	switch {
	case claims.Subject == "":
		return fmt.Errorf("%w: missing sub claim", ErrMalformedToken)
	case claims.IssuedAt == nil:
		return fmt.Errorf("%w: missing iat claim", ErrMalformedToken)
	case claims.ExpiresAt == nil:
		return fmt.Errorf("%w: missing exp claim", ErrMalformedToken)
	case len(claims.Audience) == 0:
		return fmt.Errorf("%w: missing aud claim", ErrMalformedToken)
	case claims.Issuer == "":
		return fmt.Errorf("%w: missing iss claim", ErrMalformedToken)
	}

	if claims.Issuer != m.issuer {
		return fmt.Errorf("%w: unexpected issuer %q", ErrMalformedToken, claims.Issuer)
	}

	audOK := false
	for _, aud := range claims.Audience {
		if aud == m.audience {
			audOK = true
			break
		}
	}
	if !audOK {
		return fmt.Errorf("%w: audience does not include %q", ErrMalformedToken, m.audience)
	}

	return nil
}

// IsExpired compares the exp claim to the current time. Decode failures count
// as expired (fail-closed).
func (m *Manager) IsExpired(token string) bool {
	payload, err := m.DecodePayload(token)
	if err != nil {
		return true
	}
	return !m.now().Before(payload.ExpiresAt)
}

// Refresh exchanges the stored refresh token for a new pair. Concurrent
// callers share one in-flight exchange: without this, parallel 401s would
// each trigger their own refresh and the later ones would invalidate the
// earlier results.
//
// On any failure all tokens are cleared and ErrRefreshFailed is returned -
// a refresh token that doesn't work gets no second chance.
func (m *Manager) Refresh(ctx context.Context, fn RefreshFunc) (*Pair, error) {
	result, err, _ := m.group.Do("refresh", func() (any, error) {
		var refreshToken string
		if err := m.store.GetItem(ctx, portalcore.RefreshTokenKey, &refreshToken); err != nil || refreshToken == "" {
			m.ClearTokens(ctx)
			return nil, ErrRefreshFailed
		}

		pair, err := fn(ctx, refreshToken)
		if err != nil {
			m.logger.Warn("token refresh failed",
				slog.String("component", "tokens"),
				slog.String("error", err.Error()),
			)
			m.ClearTokens(ctx)
			return nil, ErrRefreshFailed
		}

		if err := m.SetTokens(ctx, pair, ""); err != nil {
			m.ClearTokens(ctx)
			return nil, ErrRefreshFailed
		}

		m.logger.Debug("token refresh succeeded", slog.String("component", "tokens"))
		return pair, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*Pair), nil
}

// refreshDue reports whether the stored access token is absent, invalid, or
// inside the refresh buffer, while a refresh token is still available.
func (m *Manager) refreshDue(ctx context.Context) bool {
	if _, err := m.AccessToken(ctx); err == nil {
		return false
	}
	var refreshToken string
	if err := m.store.GetItem(ctx, portalcore.RefreshTokenKey, &refreshToken); err != nil || refreshToken == "" {
		return false
	}
	return true
}

// StartAutoRefresh polls for refresh-due tokens and refreshes them in the
// background. It returns a disposer that stops the poller; callers must invoke
// it on teardown or the timer goroutine leaks. The disposer is idempotent.
func (m *Manager) StartAutoRefresh(ctx context.Context, fn RefreshFunc, onFailure func(error)) (stop func()) {
	done := make(chan struct{})
	var once sync.Once

	go func() {
		ticker := time.NewTicker(m.pollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !m.refreshDue(ctx) {
					continue
				}
				if _, err := m.Refresh(ctx, fn); err != nil && onFailure != nil {
					onFailure(err)
				}
			}
		}
	}()

	return func() {
		once.Do(func() { close(done) })
	}
}

// ClearTokens destroys both tokens. Used on logout and on any terminal
// validation or refresh failure.
func (m *Manager) ClearTokens(ctx context.Context) {
	m.store.RemoveItem(ctx, portalcore.AccessTokenKey)
	m.store.RemoveItem(ctx, portalcore.RefreshTokenKey)
}
