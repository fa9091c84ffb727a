package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"stargate/pkg/logging"

	"github.com/golang-jwt/jwt/v5"
)

// Endpoint paths on the platform base URL.
const (
	authorizePath     = "/oauth/authorize"
	tokenPath         = "/oauth/token"
	modelsPath        = "/api/v1/models/"
	gatewayConfigPath = "/api/v1/stargate/config"
)

// modelEmbedFields are the related entities requested alongside model
// metadata. The ticket and backend system are what the session resolver
// exchanges for a geometry session.
const modelEmbedFields = "backend_system,ticket,token_export"

// defaultHTTPTimeout bounds every platform request.
const defaultHTTPTimeout = 30 * time.Second

// Client is an HTTP client for the platform API: the OAuth token endpoint,
// model metadata, and the gateway endpoint advertisement.
//
// The access token is settable after construction because the client is
// created before authentication completes (the token endpoint itself needs
// no token). Thread-safe.
type Client struct {
	baseURL    string
	clientID   string
	httpClient *http.Client

	mu          sync.RWMutex
	accessToken string
}

// ClientConfig configures a platform client.
type ClientConfig struct {
	// BaseURL is the platform base URL, e.g. https://platform.example.com.
	BaseURL string

	// ClientID is the OAuth client identifier sent with token requests.
	ClientID string

	// HTTPClient overrides the HTTP client (nil uses a 30s-timeout default).
	HTTPClient *http.Client
}

// NewClient creates a platform client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("platform base URL must not be empty")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		clientID:   cfg.ClientID,
		httpClient: httpClient,
	}, nil
}

// BaseURL returns the platform base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// AuthorizeEndpoint returns the full authorization endpoint URL.
func (c *Client) AuthorizeEndpoint() string {
	return c.baseURL + authorizePath
}

// ClientID returns the OAuth client identifier.
func (c *Client) ClientID() string {
	return c.clientID
}

// SetAccessToken installs the access token used for authenticated requests.
func (c *Client) SetAccessToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = token
}

// getAccessToken reads the current access token.
func (c *Client) getAccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accessToken
}

// ExchangeCode exchanges an authorization code (plus PKCE verifier) for
// tokens at the token endpoint.
func (c *Client) ExchangeCode(ctx context.Context, code, redirectURI, codeVerifier string) (*TokenResponse, error) {
	body := map[string]string{
		"grant_type":    "authorization_code",
		"client_id":     c.clientID,
		"code":          code,
		"redirect_uri":  redirectURI,
		"code_verifier": codeVerifier,
	}
	return c.token(ctx, body)
}

// RefreshAccessToken exchanges a refresh token for fresh tokens at the token
// endpoint. Rejections carry a typed *OAuthError so callers can distinguish
// invalid_grant / invalid_request from transient failures.
func (c *Client) RefreshAccessToken(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	body := map[string]string{
		"grant_type":    "refresh_token",
		"client_id":     c.clientID,
		"refresh_token": refreshToken,
	}
	return c.token(ctx, body)
}

// token posts a JSON grant request to the token endpoint. The platform's
// token endpoint takes a JSON body rather than the form encoding of RFC 6749.
func (c *Client) token(ctx context.Context, grant map[string]string) (*TokenResponse, error) {
	payload, err := json.Marshal(grant)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal token request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+tokenPath, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read token response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		oauthErr := &OAuthError{StatusCode: resp.StatusCode}
		if err := json.Unmarshal(data, oauthErr); err != nil {
			return nil, fmt.Errorf("token endpoint returned status %d", resp.StatusCode)
		}
		logging.Debug("Platform", "Token endpoint rejected %s grant: %s", grant["grant_type"], oauthErr.Code)
		return nil, oauthErr
	}

	var tokens TokenResponse
	if err := json.Unmarshal(data, &tokens); err != nil {
		return nil, fmt.Errorf("failed to parse token response: %w", err)
	}
	if tokens.AccessToken == "" {
		return nil, fmt.Errorf("token response contains no access token")
	}
	return &tokens, nil
}

// GetModel fetches model metadata with the embed fields required for session
// resolution (backend system, ticket, scoped access token).
func (c *Client) GetModel(ctx context.Context, modelID string) (*Model, error) {
	endpoint := c.baseURL + modelsPath + url.PathEscape(modelID) + "?embed=" + url.QueryEscape(modelEmbedFields)

	data, err := c.get(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch model %s: %w", modelID, err)
	}

	var model Model
	if err := json.Unmarshal(data, &model); err != nil {
		return nil, fmt.Errorf("failed to parse model %s: %w", modelID, err)
	}
	return &model, nil
}

// GetGatewayConfig queries the gateway service's endpoint advertisement.
func (c *Client) GetGatewayConfig(ctx context.Context) (*GatewayConfig, error) {
	data, err := c.get(ctx, c.baseURL+gatewayConfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch gateway config: %w", err)
	}

	var cfg GatewayConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse gateway config: %w", err)
	}
	return &cfg, nil
}

// get performs an authenticated GET and returns the response body.
func (c *Client) get(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	if token := c.getAccessToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(data))
	}
	return data, nil
}

// Claims extracts the subject and expiry claims from an access token without
// verifying its signature. Verification is the platform's job; this is only
// for local display.
func Claims(accessToken string) (*TokenClaims, error) {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(accessToken, claims); err != nil {
		return nil, fmt.Errorf("failed to parse access token: %w", err)
	}

	out := &TokenClaims{}
	if sub, err := claims.GetSubject(); err == nil {
		out.Subject = sub
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		out.ExpiresAt = exp.Unix()
	}
	return out, nil
}
