package geometry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"stargate/pkg/logging"
)

const (
	sessionByTicketPathFmt = "/api/v2/ticket/%s"
	sessionClosePathFmt    = "/api/v2/session/%s/close"
	fileUploadPathFmt      = "/api/v2/session/%s/file/upload"
	exportComputePathFmt   = "/api/v2/session/%s/export"
)

// Config configures a geometry backend client. BaseURL and AccessToken come
// from the embedded fields of the platform model record, so every client is
// scoped to a single model.
type Config struct {
	// BaseURL is the model view URL of the geometry backend system.
	BaseURL string
	// AccessToken is the model-scoped token used as a bearer token.
	AccessToken string
	// HTTPClient is optional; a client with a 60s timeout is used when nil.
	HTTPClient *http.Client
}

// Client talks to the geometry backend of a single model.
type Client struct {
	baseURL     string
	accessToken string
	httpClient  *http.Client
}

// NewClient creates a geometry backend client for one model.
func NewClient(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Client{
		baseURL:     strings.TrimSuffix(cfg.BaseURL, "/"),
		accessToken: cfg.AccessToken,
		httpClient:  httpClient,
	}
}

// BaseURL returns the backend base URL this client is bound to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// AccessToken returns the model-scoped token this client authenticates with.
func (c *Client) AccessToken() string {
	return c.accessToken
}

// CreateSessionByTicket opens a session on the geometry backend using a
// platform-issued ticket and returns the session with its parameter and
// export definitions.
func (c *Client) CreateSessionByTicket(ctx context.Context, ticket string) (*Session, error) {
	if ticket == "" {
		return nil, fmt.Errorf("ticket must not be empty")
	}

	path := fmt.Sprintf(sessionByTicketPathFmt, url.PathEscape(ticket))
	var session Session
	if err := c.doJSON(ctx, http.MethodPost, c.baseURL+path, nil, &session); err != nil {
		return nil, fmt.Errorf("failed to create session by ticket: %w", err)
	}

	logging.Debug("Geometry", "Created session %s (%d parameters, %d exports)",
		session.SessionID, len(session.Parameters), len(session.Exports))
	return &session, nil
}

// CloseSession closes a previously created session.
func (c *Client) CloseSession(ctx context.Context, sessionID string) error {
	path := fmt.Sprintf(sessionClosePathFmt, url.PathEscape(sessionID))
	if err := c.doJSON(ctx, http.MethodPost, c.baseURL+path, nil, nil); err != nil {
		return fmt.Errorf("failed to close session %s: %w", sessionID, err)
	}
	return nil
}

// RequestFileUpload asks the backend for upload targets for the given file
// parameters. The result maps parameter ids to the issued assets.
func (c *Client) RequestFileUpload(ctx context.Context, sessionID string, files map[string]FileUploadRequest) (map[string]FileUploadAsset, error) {
	path := fmt.Sprintf(fileUploadPathFmt, url.PathEscape(sessionID))
	var resp fileUploadResponse
	if err := c.doJSON(ctx, http.MethodPost, c.baseURL+path, files, &resp); err != nil {
		return nil, fmt.Errorf("failed to request file upload: %w", err)
	}
	return resp.Asset.File, nil
}

// UploadAsset uploads file content to the presigned href issued by
// RequestFileUpload.
func (c *Client) UploadAsset(ctx context.Context, href string, data []byte, contentType string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, href, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create upload request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to upload asset: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("asset upload returned status %d", resp.StatusCode)
	}
	return nil
}

// ComputeExports runs an export computation and returns the computed exports
// keyed by export id.
func (c *Client) ComputeExports(ctx context.Context, sessionID string, req ExportComputationRequest) (map[string]ExportResult, error) {
	if req.Parameters == nil {
		req.Parameters = map[string]string{}
	}
	path := fmt.Sprintf(exportComputePathFmt, url.PathEscape(sessionID))
	var resp exportComputationResponse
	if err := c.doJSON(ctx, http.MethodPut, c.baseURL+path, req, &resp); err != nil {
		return nil, fmt.Errorf("failed to compute exports: %w", err)
	}
	return resp.Exports, nil
}

// Download fetches content from an arbitrary href without authentication.
// Used for publicly reachable sources such as example files.
func (c *Client) Download(ctx context.Context, href string) ([]byte, error) {
	return c.download(ctx, href, false)
}

// DownloadWithToken fetches content from an href using the model-scoped
// token. Export result hrefs require this.
func (c *Client) DownloadWithToken(ctx context.Context, href string) ([]byte, error) {
	return c.download(ctx, href, true)
}

func (c *Client) download(ctx context.Context, href string, authenticated bool) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, href, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create download request: %w", err)
	}
	if authenticated {
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download %s: %w", href, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download of %s returned status %d", href, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read download body: %w", err)
	}
	return data, nil
}

// doJSON issues a JSON request against the backend API and decodes the JSON
// response into out when out is non-nil.
func (c *Client) doJSON(ctx context.Context, method, url string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("backend returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
