// Package csrf implements double-submit anti-forgery protection for the
// portal API client: a random token held in secure storage and echoed on
// every state-changing request via the X-CSRF-Token header.
package csrf

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	mathrand "math/rand/v2"
	"net/http"
	"strings"
	"sync"

	portalcore "github.com/meridian-networks/portalcore"
	"github.com/meridian-networks/portalcore/internal/securestore"
)

// ErrTokenMismatch means the presented token does not match the stored one.
var ErrTokenMismatch = errors.New("csrf: token mismatch")

// defaultProtectedMethods are the state-changing verbs that require a token.
// GET, HEAD and OPTIONS are assumed safe per RFC 9110 semantics.
var defaultProtectedMethods = map[string]bool{
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodPatch:  true,
	http.MethodDelete: true,
}

// Option configures a Guard at construction.
type Option func(*Guard)

// WithProtectedMethods replaces the default POST/PUT/PATCH/DELETE allow-list.
// Gateways that tunnel mutations through nonstandard verbs override it here.
func WithProtectedMethods(methods ...string) Option {
	return func(g *Guard) {
		g.protected = make(map[string]bool, len(methods))
		for _, m := range methods {
			g.protected[strings.ToUpper(m)] = true
		}
	}
}

// Guard owns the anti-forgery token for one session scope. All methods are
// safe for concurrent use; the mutex serialises initialize/rotate against
// concurrent reads so a request never sees a half-rotated token.
type Guard struct {
	store     *securestore.Store
	logger    *slog.Logger
	protected map[string]bool

	mu sync.Mutex
}

func NewGuard(store *securestore.Store, logger *slog.Logger, opts ...Option) *Guard {
	g := &Guard{store: store, logger: logger, protected: defaultProtectedMethods}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Initialize ensures a token exists, generating one if absent. Calling it
// again is a no-op: the existing token survives so in-flight requests keep
// validating.
func (g *Guard) Initialize(ctx context.Context) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	var existing string
	if err := g.store.GetItem(ctx, portalcore.CSRFTokenKey, &existing); err == nil && existing != "" {
		return existing, nil
	}

	return g.issue(ctx)
}

// Token returns the current token, or an error if none has been initialized.
func (g *Guard) Token(ctx context.Context) (string, error) {
	var token string
	if err := g.store.GetItem(ctx, portalcore.CSRFTokenKey, &token); err != nil {
		return "", fmt.Errorf("csrf: no token initialized: %w", err)
	}
	return token, nil
}

// Validate compares a presented token against the stored one in constant
// time. Absent or empty tokens always fail.
func (g *Guard) Validate(ctx context.Context, presented string) error {
	if presented == "" {
		return ErrTokenMismatch
	}

	var stored string
	if err := g.store.GetItem(ctx, portalcore.CSRFTokenKey, &stored); err != nil || stored == "" {
		return ErrTokenMismatch
	}

	if subtle.ConstantTimeCompare([]byte(stored), []byte(presented)) != 1 {
		return ErrTokenMismatch
	}
	return nil
}

// RequiresProtection reports whether the HTTP method needs a token.
func (g *Guard) RequiresProtection(method string) bool {
	return g.protected[method]
}

// Rotate discards the current token and issues a fresh one. Call it after
// privilege changes (login, portal switch) to cut the lifetime of any token
// a prior page may have leaked.
func (g *Guard) Rotate(ctx context.Context) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.issue(ctx)
}

// Adopt replaces the stored token with a server-issued one, used when the
// gateway mints the anti-forgery token during the login exchange.
func (g *Guard) Adopt(ctx context.Context, token string) error {
	if token == "" {
		return errors.New("csrf: cannot adopt empty token")
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.store.SetItem(ctx, portalcore.CSRFTokenKey, token,
		securestore.WithEncryption(), securestore.WithTTL(portalcore.CSRFTokenTTL))
}

// Clear destroys the token. Used on logout.
func (g *Guard) Clear(ctx context.Context) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.store.RemoveItem(ctx, portalcore.CSRFTokenKey)
}

func (g *Guard) issue(ctx context.Context) (string, error) {
	token := g.generate()
	if err := g.store.SetItem(ctx, portalcore.CSRFTokenKey, token,
		securestore.WithEncryption(), securestore.WithTTL(portalcore.CSRFTokenTTL)); err != nil {
		return "", err
	}
	return token, nil
}

// generate produces a base64url token from crypto/rand, falling back to the
// weaker math/rand source only if the system entropy pool is unreadable. The
// fallback is logged loudly because it trades unpredictability for liveness.
func (g *Guard) generate() string {
	buf := make([]byte, portalcore.CSRFTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		g.logger.Warn("crypto/rand unavailable, csrf token generated from weak entropy",
			slog.String("component", "csrf"),
			slog.String("error", err.Error()),
		)
		for i := range buf {
			buf[i] = byte(mathrand.IntN(256))
		}
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}
