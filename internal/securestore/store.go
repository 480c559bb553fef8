// Package securestore provides the session-scoped key/value tier shared by the
// portal core components. Values are TTL-bound, optionally encrypted, and the
// store refuses any key that looks like a credential - tokens belong to the
// token manager, which uses the sanctioned key prefix to bypass the guard.
package securestore

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	portalcore "github.com/meridian-networks/portalcore"
)

var (
	// ErrNotFound is returned when a key is absent, expired, or unreadable.
	ErrNotFound = errors.New("securestore: item not found")

	// ErrSensitiveKey is the one storage error surfaced to callers: the key
	// matches a credential pattern and must go through the token manager instead.
	ErrSensitiveKey = errors.New("securestore: key matches a credential pattern - use the token manager for credentials")
)

// sensitiveTerms is the heuristic guard against credentials leaking into this
// storage tier.
var sensitiveTerms = []string{"token", "password", "secret", "auth", "credential"}

// Backend is the persistence substrate (in-memory session map, Redis, ...).
// Each key is owned by exactly one component; writes are last-write-wins.
type Backend interface {
	Set(ctx context.Context, key string, raw []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
}

// envelope wraps every stored value with its codec and lifetime metadata.
type envelope struct {
	V         int        `json:"v"`
	Alg       string     `json:"alg"` // "aes-gcm" or "plain"
	Nonce     []byte     `json:"nonce,omitempty"`
	Data      []byte     `json:"data"`
	StoredAt  time.Time  `json:"stored_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

type itemOptions struct {
	ttl     time.Duration
	encrypt bool
}

// Option configures a single SetItem call.
type Option func(*itemOptions)

// WithTTL bounds the item's lifetime. Expired items are lazily evicted on read.
func WithTTL(ttl time.Duration) Option {
	return func(o *itemOptions) { o.ttl = ttl }
}

// WithEncryption seals the value with the store's session key. When the store
// was built without a usable session secret the value falls back to reversible
// encoding - flagged in the envelope and warned about, never silently claimed
// to be secure.
func WithEncryption() Option {
	return func(o *itemOptions) { o.encrypt = true }
}

// Store is the secure storage facade over a Backend.
type Store struct {
	backend Backend
	cipher  *sessionCipher // nil when no session secret is available
	logger  *slog.Logger

	warnPlainOnce sync.Once
}

// New builds a Store. sessionSecret seeds the per-session encryption key; an
// empty secret disables real encryption and downgrades WithEncryption writes
// to reversible encoding.
func New(backend Backend, sessionSecret []byte, logger *slog.Logger) *Store {
	s := &Store{
		backend: backend,
		logger:  logger,
	}

	if len(sessionSecret) > 0 {
		cipher, err := newSessionCipher(sessionSecret)
		if err != nil {
			logger.Warn("secure store encryption unavailable - falling back to reversible encoding",
				slog.String("component", "securestore"),
				slog.String("error", err.Error()),
			)
		} else {
			s.cipher = cipher
		}
	}

	return s
}

// SetItem serializes and stores value under key. The only error callers must
// handle is ErrSensitiveKey; substrate and codec failures are logged and
// swallowed so a broken storage tier degrades to cache-miss behavior.
func (s *Store) SetItem(ctx context.Context, key string, value any, opts ...Option) error {
	if err := s.guardKey(key); err != nil {
		return err
	}

	options := itemOptions{}
	for _, opt := range opts {
		opt(&options)
	}

	raw, err := json.Marshal(value)
	if err != nil {
		s.logger.Error("secure store failed to serialize value",
			slog.String("component", "securestore"),
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return nil
	}

	env := envelope{
		V:        1,
		Alg:      "plain",
		Data:     raw,
		StoredAt: time.Now().UTC(),
	}
	if options.ttl > 0 {
		expiresAt := env.StoredAt.Add(options.ttl)
		env.ExpiresAt = &expiresAt
	}

	if options.encrypt {
		if s.cipher != nil {
			nonce, sealed, err := s.cipher.seal(raw)
			if err != nil {
				s.logger.Error("secure store encryption failed",
					slog.String("component", "securestore"),
					slog.String("key", key),
					slog.String("error", err.Error()),
				)
				return nil
			}
			env.Alg = "aes-gcm"
			env.Nonce = nonce
			env.Data = sealed
		} else {
			// legacy-runtime compatibility path: NOT cryptographically secure
			s.warnPlainOnce.Do(func() {
				s.logger.Warn("secure store has no session key - values are stored with reversible encoding, not encryption",
					slog.String("component", "securestore"),
				)
			})
		}
	}

	packed, err := json.Marshal(env)
	if err != nil {
		s.logger.Error("secure store failed to pack envelope",
			slog.String("component", "securestore"),
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return nil
	}

	if err := s.backend.Set(ctx, key, packed, options.ttl); err != nil {
		s.logger.Error("secure store write failed",
			slog.String("component", "securestore"),
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

// GetItem loads and deserializes the value stored under key into out.
// Returns ErrNotFound when the key is absent, expired, or unreadable.
func (s *Store) GetItem(ctx context.Context, key string, out any) error {
	packed, err := s.backend.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.logger.Error("secure store read failed",
				slog.String("component", "securestore"),
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
		}
		return ErrNotFound
	}

	var env envelope
	if err := json.Unmarshal(packed, &env); err != nil {
		s.logger.Error("secure store envelope corrupt",
			slog.String("component", "securestore"),
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return ErrNotFound
	}

	if env.ExpiresAt != nil && time.Now().After(*env.ExpiresAt) {
		// lazy eviction
		_ = s.backend.Delete(ctx, key)
		return ErrNotFound
	}

	raw := env.Data
	if env.Alg == "aes-gcm" {
		if s.cipher == nil {
			s.logger.Error("secure store cannot decrypt item without a session key",
				slog.String("component", "securestore"),
				slog.String("key", key),
			)
			return ErrNotFound
		}
		raw, err = s.cipher.open(env.Nonce, env.Data)
		if err != nil {
			s.logger.Error("secure store decryption failed",
				slog.String("component", "securestore"),
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
			return ErrNotFound
		}
	}

	if err := json.Unmarshal(raw, out); err != nil {
		s.logger.Error("secure store failed to deserialize value",
			slog.String("component", "securestore"),
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return ErrNotFound
	}
	return nil
}

// RemoveItem deletes the item stored under key.
func (s *Store) RemoveItem(ctx context.Context, key string) {
	if err := s.backend.Delete(ctx, key); err != nil {
		s.logger.Error("secure store delete failed",
			slog.String("component", "securestore"),
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
}

// Clear removes every item in the store's namespace.
func (s *Store) Clear(ctx context.Context) {
	if err := s.backend.Clear(ctx); err != nil {
		s.logger.Error("secure store clear failed",
			slog.String("component", "securestore"),
			slog.String("error", err.Error()),
		)
	}
}

// guardKey rejects keys that look like credentials unless they carry the
// sanctioned prefix reserved for the token manager and csrf guard.
func (s *Store) guardKey(key string) error {
	if strings.HasPrefix(key, portalcore.SanctionedKeyPrefix) {
		return nil
	}
	lower := strings.ToLower(key)
	for _, term := range sensitiveTerms {
		if strings.Contains(lower, term) {
			return ErrSensitiveKey
		}
	}
	return nil
}

// IsSensitiveTerm reports whether s matches the credential heuristic. Shared
// with the log sink's redaction pass.
func IsSensitiveTerm(s string) bool {
	lower := strings.ToLower(s)
	for _, term := range sensitiveTerms {
		if strings.Contains(lower, term) {
			return true
		}
	}
	return false
}
