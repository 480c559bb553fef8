package session

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	portalcore "github.com/meridian-networks/portalcore"
	"github.com/meridian-networks/portalcore/internal/csrf"
	"github.com/meridian-networks/portalcore/internal/portal"
	"github.com/meridian-networks/portalcore/internal/tokens"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func signTestToken(t *testing.T) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   "user-001",
		Issuer:    "portal-gateway",
		Audience:  jwt.ClaimStrings{"portal-api"},
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-key"))
	require.NoError(t, err)
	return signed
}

// fakeGateway serves the endpoints one full login pass touches.
func fakeGateway(t *testing.T, access string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/portals/customer/config", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(portal.Config{
			ID:           "portal-001",
			DisplayName:  "Northlight Fiber",
			Type:         "customer",
			TenantID:     "tenant-001",
			LoginMethods: []portal.LoginMethod{portal.MethodEmail, portal.MethodPortalID},
		})
	})
	mux.HandleFunc("/api/v1/auth/login", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  access,
			"refresh_token": "refresh-abc",
			"csrf_token":    "csrf-from-gateway",
			"tenant_id":     "tenant-001",
			"portal_id":     "portal-001",
		})
	})
	return httptest.NewServer(mux)
}

func testConfig(baseURL string) *portalcore.Config {
	return &portalcore.Config{
		Environment:      "test",
		APIBaseURL:       baseURL,
		ExpectedIssuer:   "portal-gateway",
		ExpectedAudience: "portal-api",
		RefreshBuffer:    5 * time.Minute,
		AutoRefreshPoll:  time.Minute,
		RequestTimeout:   time.Second,
		LogBatchSize:     50,
		LogFlushInterval: time.Hour,
		LogBufferLimit:   500,
		DedupWindow:      time.Minute,
		MaxRetries:       3,
	}
}

func TestFullLoginPass(t *testing.T) {
	access := signTestToken(t)
	gateway := fakeGateway(t, access)
	defer gateway.Close()

	var branded []portal.Branding
	s := New(testConfig(gateway.URL), Options{
		SessionSecret: []byte("session-secret"),
		Branding:      func(b portal.Branding) { branded = append(branded, b) },
	}, discardLogger())
	ctx := context.Background()
	defer s.Close(ctx)

	// detection
	cfg, err := s.Flow.DetectPortal(ctx, "portal.meridian.example")
	require.NoError(t, err)
	assert.Equal(t, "customer", cfg.Type)
	assert.Len(t, branded, 1)

	// login
	_, err = s.Flow.Login(ctx, &portal.Credentials{Email: "sam@example.com", Password: "hunter2"})
	require.NoError(t, err)
	assert.Equal(t, portal.StepComplete, s.Flow.Step())

	// tokens usable, gateway-issued csrf adopted
	got, err := s.Tokens.AccessToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, access, got)
	assert.NoError(t, s.CSRF.Validate(ctx, "csrf-from-gateway"))

	// tenant context established
	var tenant portal.TenantContext
	require.NoError(t, s.Store.GetItem(ctx, portalcore.TenantContextKey, &tenant))
	assert.Equal(t, "tenant-001", tenant.TenantID)
}

func TestSessionsAreIsolated(t *testing.T) {
	cfg := testConfig("http://localhost:0")
	a := New(cfg, Options{SessionSecret: []byte("secret-a")}, discardLogger())
	b := New(cfg, Options{SessionSecret: []byte("secret-b")}, discardLogger())
	ctx := context.Background()
	defer a.Close(ctx)
	defer b.Close(ctx)

	tokenA, err := a.CSRF.Initialize(ctx)
	require.NoError(t, err)

	_, err = b.CSRF.Token(ctx)
	require.Error(t, err, "sessions must not share state")
	assert.ErrorIs(t, b.CSRF.Validate(ctx, tokenA), csrf.ErrTokenMismatch)
}

func TestNewBoundaryUsesSink(t *testing.T) {
	s := New(testConfig("http://localhost:0"), Options{SessionSecret: []byte("secret")}, discardLogger())
	ctx := context.Background()
	defer s.Close(ctx)

	boundary := s.NewBoundary()
	boundary.Report(ctx, &net502{}, nil)

	snap := s.Sink.Metrics().Snapshot()
	assert.Equal(t, 1, snap.Total, "boundary reports must reach the session sink")
}

type net502 struct{}

func (*net502) Error() string { return "upstream exploded" }

func TestCloseIsIdempotentOnAutoRefresh(t *testing.T) {
	s := New(testConfig("http://localhost:0"), Options{SessionSecret: []byte("secret")}, discardLogger())
	ctx := context.Background()

	s.StartAutoRefresh(ctx, nil)
	s.StartAutoRefresh(ctx, nil) // second call is a no-op
	s.Close(ctx)
	s.Close(ctx)

	_, err := s.Tokens.AccessToken(ctx)
	assert.ErrorIs(t, err, tokens.ErrTokenUnavailable)
}
