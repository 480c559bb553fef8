// Package apiclient handles communication with the portal gateway API. It
// attaches the bearer and anti-forgery headers, translates non-2xx responses
// into classifiable errors, and adapts the gateway endpoints the other
// packages consume (login, refresh, portal config, log ingestion).
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	portalcore "github.com/meridian-networks/portalcore"
	"github.com/meridian-networks/portalcore/internal/apperrors"
	"github.com/meridian-networks/portalcore/internal/csrf"
	"github.com/meridian-networks/portalcore/internal/errlog"
	"github.com/meridian-networks/portalcore/internal/portal"
	"github.com/meridian-networks/portalcore/internal/tokens"
)

// ErrCSRFTokenMissing is a hard client-side failure: a mutating request was
// attempted before the csrf guard held a token. The request never leaves the
// client.
var ErrCSRFTokenMissing = errors.New("apiclient: csrf token missing for state-changing request")

// errorResponse is the gateway's JSON error body.
type errorResponse struct {
	ErrorCode apperrors.ErrorCode `json:"error_code"`
	Message   string              `json:"message"`
}

// Client handles communication with the portal gateway API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     *tokens.Manager
	guard      *csrf.Guard
	logger     *slog.Logger
}

func New(baseURL string, timeout time.Duration, manager *tokens.Manager, guard *csrf.Guard, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		tokens: manager,
		guard:  guard,
		logger: logger,
	}
}

// Do performs one API call: marshals body (when non-nil), attaches the bearer
// token if one is usable and the csrf header on state-changing verbs, and
// decodes the JSON response into out (when non-nil). Non-2xx responses come
// back as *apperrors.HTTPError for the classifier.
func (c *Client) Do(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if accessToken, err := c.tokens.AccessToken(ctx); err == nil {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", accessToken))
	}

	if c.guard.RequiresProtection(method) {
		csrfToken, err := c.guard.Token(ctx)
		if err != nil || csrfToken == "" {
			return ErrCSRFTokenMissing
		}
		req.Header.Set(portalcore.CSRFHeaderName, csrfToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.errorFromResponse(resp)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

func (c *Client) errorFromResponse(resp *http.Response) error {
	httpErr := &apperrors.HTTPError{Status: resp.StatusCode}

	var errResp errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err == nil {
		httpErr.Code = errResp.ErrorCode
		httpErr.Message = errResp.Message
	}

	c.logger.Warn("gateway returned an error",
		slog.String("component", "apiclient"),
		slog.Int("status", resp.StatusCode),
		slog.String("error_code", string(httpErr.Code)),
	)
	return httpErr
}

// Login performs the authentication call. Implements portal.Authenticator.
func (c *Client) Login(ctx context.Context, payload portal.LoginPayload) (*portal.LoginResult, error) {
	var resp struct {
		AccessToken  string    `json:"access_token"`
		RefreshToken string    `json:"refresh_token"`
		ExpiresAt    time.Time `json:"expires_at"`
		CSRFToken    string    `json:"csrf_token"`
		TenantID     string    `json:"tenant_id"`
		PortalID     string    `json:"portal_id"`
		MFAPending   bool      `json:"mfa_pending"`
	}

	// the login call itself is pre-session: no csrf token exists yet, so it
	// goes through a bare request rather than Do
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal login request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/auth/login", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return nil, c.errorFromResponse(httpResp)
	}
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("failed to decode login response: %w", err)
	}

	result := &portal.LoginResult{
		CSRFToken:  resp.CSRFToken,
		TenantID:   resp.TenantID,
		PortalID:   resp.PortalID,
		MFAPending: resp.MFAPending,
	}
	if resp.AccessToken != "" {
		result.Pair = &tokens.Pair{
			AccessToken:  resp.AccessToken,
			RefreshToken: resp.RefreshToken,
			ExpiresAt:    resp.ExpiresAt,
		}
	}
	return result, nil
}

// RefreshFunc adapts the gateway's refresh endpoint for tokens.Manager.
func (c *Client) RefreshFunc() tokens.RefreshFunc {
	return func(ctx context.Context, refreshToken string) (*tokens.Pair, error) {
		body := struct {
			RefreshToken string `json:"refresh_token"`
		}{RefreshToken: refreshToken}

		var pair tokens.Pair
		if err := c.Do(ctx, http.MethodPost, "/api/v1/auth/refresh", body, &pair); err != nil {
			return nil, err
		}
		return &pair, nil
	}
}

// FetchPortalConfig retrieves one portal's configuration. Implements
// portal.ConfigFetcher.
func (c *Client) FetchPortalConfig(ctx context.Context, portalType, tenantSlug string) (*portal.Config, error) {
	path := "/api/v1/portals/" + url.PathEscape(portalType) + "/config"
	if tenantSlug != "" {
		path += "?tenant=" + url.QueryEscape(tenantSlug)
	}

	var cfg portal.Config
	if err := c.Do(ctx, http.MethodGet, path, nil, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ShipFunc adapts the collector's log-ingestion endpoint for errlog.Sink.
func (c *Client) ShipFunc(collectorURL string) errlog.ShipFunc {
	return func(ctx context.Context, entries []errlog.Entry) error {
		body := struct {
			Entries []errlog.Entry `json:"entries"`
		}{Entries: entries}

		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal log batch: %w", err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, collectorURL+"/api/v1/logs", bytes.NewBuffer(jsonData))
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("failed to ship log batch: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusOK {
			return fmt.Errorf("log ingestion failed with status %d", resp.StatusCode)
		}
		return nil
	}
}

// Logout clears the session server-side and destroys local tokens and the
// csrf token regardless of the call's outcome.
func (c *Client) Logout(ctx context.Context) error {
	err := c.Do(ctx, http.MethodPost, "/api/v1/auth/logout", nil, nil)
	c.tokens.ClearTokens(ctx)
	c.guard.Clear(ctx)
	return err
}
