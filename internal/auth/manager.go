package auth

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"stargate/internal/platform"
	"stargate/pkg/logging"
	"stargate/pkg/pkce"
)

// State represents the current authentication state of the client.
type State int

const (
	// StateNotAuthenticated means no tokens are held and no error occurred.
	StateNotAuthenticated State = iota

	// StateRefreshTokenPresent means a persisted refresh token exists but no
	// access token has been obtained yet.
	StateRefreshTokenPresent

	// StateAuthenticating means an authorization flow has been initiated and
	// the callback has not been handled yet.
	StateAuthenticating

	// StateAuthenticated means a valid access token is held in memory.
	StateAuthenticated

	// StateError means the last flow failed; Err() carries the details.
	StateError
)

// String returns the string representation of the auth state.
func (s State) String() string {
	switch s {
	case StateNotAuthenticated:
		return "not_authenticated"
	case StateRefreshTokenPresent:
		return "refresh_token_present"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// ErrNoRefreshToken is returned by AuthUsingRefreshToken when no refresh
// token is available.
var ErrNoRefreshToken = errors.New("no refresh token available")

// codeExchange is the ephemeral pairing of a callback code with the stored
// verifier. It is consumed exactly once: taken and nulled before the token
// request starts, so a repeated callback cannot trigger a second exchange.
type codeExchange struct {
	code     string
	verifier string
}

// Manager orchestrates the OAuth2 Authorization Code flow with PKCE:
// initiation, callback validation, code exchange, refresh-token login, and
// the resulting state transitions.
//
// All state mutations happen under a single mutex, and no credential
// read-then-write sequence spans an HTTP call: decisions and their store
// writes are atomic with respect to other Manager calls.
type Manager struct {
	mu       sync.Mutex
	platform *platform.Client
	store    CredentialStore

	autoLogin bool

	state        State
	accessToken  string
	refreshToken string
	errCode      string
	errDesc      string
	pending      *codeExchange
	redirectURI  string
}

// ManagerConfig configures the auth manager.
type ManagerConfig struct {
	// Platform is the client for the token endpoint (required).
	Platform *platform.Client

	// Store persists the refresh token, code verifier, and state (required).
	Store CredentialStore

	// AutoLogin makes Bootstrap attempt a refresh-token login automatically
	// when a refresh token is present and no access token is held.
	AutoLogin bool
}

// NewManager creates an auth manager.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Platform == nil {
		return nil, fmt.Errorf("platform client is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("credential store is required")
	}
	return &Manager{
		platform:  cfg.Platform,
		store:     cfg.Store,
		autoLogin: cfg.AutoLogin,
		state:     StateNotAuthenticated,
	}, nil
}

// Bootstrap loads the persisted refresh token and settles the initial state.
// With AutoLogin enabled and a refresh token present but no access token,
// it invokes AuthUsingRefreshToken exactly once.
func (m *Manager) Bootstrap(ctx context.Context) error {
	m.mu.Lock()
	if token, ok := m.store.Get(KeyRefreshToken); ok && token != "" {
		m.refreshToken = token
		if m.accessToken == "" {
			m.state = StateRefreshTokenPresent
		}
	}
	autoLogin := m.autoLogin && m.refreshToken != "" && m.accessToken == ""
	m.mu.Unlock()

	if autoLogin {
		logging.Debug("Auth", "Refresh token present, attempting automatic login")
		return m.AuthUsingRefreshToken(ctx)
	}
	return nil
}

// InitiateAuth begins a new authorization code flow. All stored credentials
// and transient state are reset first, so re-entrant initiation always starts
// clean. Returns the authorization URL to open in the user's browser; the
// callback will arrive at redirectURI.
func (m *Manager) InitiateAuth(redirectURI string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Reset everything from any previous flow.
	m.errCode = ""
	m.errDesc = ""
	m.pending = nil
	m.accessToken = ""
	m.refreshToken = ""
	m.redirectURI = redirectURI
	if err := m.clearStoredCredentialsLocked(); err != nil {
		return "", err
	}

	verifier, err := pkce.GenerateVerifier()
	if err != nil {
		return "", err
	}
	if err := m.store.Set(KeyCodeVerifier, verifier); err != nil {
		return "", fmt.Errorf("failed to persist code verifier: %w", err)
	}

	authEndpoint := m.platform.AuthorizeEndpoint()
	state := pkce.DeriveState(verifier, authEndpoint, m.platform.ClientID(), time.Now().Unix())
	if err := m.store.Set(KeyOAuthState, state); err != nil {
		return "", fmt.Errorf("failed to persist oauth state: %w", err)
	}

	params := url.Values{}
	params.Set("state", state)
	params.Set("response_type", "code")
	params.Set("client_id", m.platform.ClientID())
	params.Set("code_challenge", pkce.ChallengeS256(verifier))
	params.Set("code_challenge_method", pkce.ChallengeMethodS256)
	params.Set("redirect_uri", redirectURI)

	m.state = StateAuthenticating
	logging.Info("Auth", "Initiated authorization code flow")
	return authEndpoint + "?" + params.Encode(), nil
}

// HandleCallback processes the authorization callback query: either a
// provider error, or a code/state pair to validate and exchange.
//
// The code/state pair is processed at most once: stored state and verifier
// are cleared the moment they are examined, and the pending exchange is
// consumed before the token request starts.
func (m *Manager) HandleCallback(ctx context.Context, query url.Values) error {
	if errCode := query.Get("error"); errCode != "" {
		m.mu.Lock()
		defer m.mu.Unlock()
		_ = m.clearStoredCredentialsLocked()
		m.setErrorLocked(errCode, query.Get("error_description"))
		return fmt.Errorf("authorization failed: %s", errCode)
	}

	code := query.Get("code")
	state := query.Get("state")
	if code == "" || state == "" {
		return nil
	}

	if err := m.acceptCallback(code, state); err != nil {
		return err
	}
	return m.exchangePending(ctx)
}

// acceptCallback validates the callback against the stored state/verifier and
// arms the pending code exchange. The stored values are single-use: they are
// removed whatever the outcome.
func (m *Manager) acceptCallback(code, state string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	storedState, haveState := m.store.Get(KeyOAuthState)
	storedVerifier, haveVerifier := m.store.Get(KeyCodeVerifier)
	_ = m.store.Delete(KeyOAuthState)
	_ = m.store.Delete(KeyCodeVerifier)

	switch {
	case !haveState:
		m.setErrorLocked("missing stored state",
			"No stored state found, please initiate the authentication flow again.")
		return errors.New("missing stored state")
	case !haveVerifier:
		m.setErrorLocked("missing stored verifier",
			"No stored code verifier found, please initiate the authentication flow again.")
		return errors.New("missing stored verifier")
	case state != storedState:
		m.setErrorLocked("state mismatch",
			"The returned state does not match the stored state.")
		return errors.New("state mismatch")
	}

	m.pending = &codeExchange{code: code, verifier: storedVerifier}
	return nil
}

// exchangePending consumes the pending code exchange and performs the token
// request. The pending entry is nulled before the request starts.
func (m *Manager) exchangePending(ctx context.Context) error {
	m.mu.Lock()
	exchange := m.pending
	m.pending = nil
	redirectURI := m.redirectURI
	m.mu.Unlock()

	if exchange == nil {
		return nil
	}

	tokens, err := m.platform.ExchangeCode(ctx, exchange.code, redirectURI, exchange.verifier)
	if err != nil {
		m.mu.Lock()
		defer m.mu.Unlock()
		var oauthErr *platform.OAuthError
		if errors.As(err, &oauthErr) {
			m.setErrorLocked(oauthErr.Code, oauthErr.Description)
		} else {
			m.setErrorLocked("token exchange failed", err.Error())
		}
		return fmt.Errorf("code exchange failed: %w", err)
	}

	m.storeTokens(tokens)
	logging.Info("Auth", "Authorization code flow completed")
	return nil
}

// AuthUsingRefreshToken performs a refresh-token login. On any failure the
// refresh token is discarded: invalid_grant and invalid_request mean the
// token is permanently unusable, and discarding is the safe default for
// everything else. The underlying error is returned so callers can prompt a
// full re-login.
func (m *Manager) AuthUsingRefreshToken(ctx context.Context) error {
	m.mu.Lock()
	if m.refreshToken == "" {
		if token, ok := m.store.Get(KeyRefreshToken); ok && token != "" {
			m.refreshToken = token
		}
	}
	refreshToken := m.refreshToken
	if refreshToken == "" {
		m.mu.Unlock()
		return ErrNoRefreshToken
	}

	// Reset error state before attempting.
	m.errCode = ""
	m.errDesc = ""
	m.pending = nil
	m.mu.Unlock()

	tokens, err := m.platform.RefreshAccessToken(ctx, refreshToken)
	if err != nil {
		m.mu.Lock()
		m.refreshToken = ""
		_ = m.store.Delete(KeyRefreshToken)
		if platform.IsInvalidGrant(err) || platform.IsInvalidRequest(err) {
			m.setErrorLocked("invalid refresh token",
				"The stored refresh token is invalid, please log in again.")
		} else {
			m.setErrorLocked("refresh token login failed",
				"The refresh token login failed, please log in again.")
		}
		m.mu.Unlock()
		return fmt.Errorf("refresh token login failed: %w", err)
	}

	m.storeTokens(tokens)
	logging.Info("Auth", "Refresh token login completed")
	return nil
}

// Logout clears all tokens, stored credentials, and error state.
func (m *Manager) Logout() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.accessToken = ""
	m.refreshToken = ""
	m.errCode = ""
	m.errDesc = ""
	m.pending = nil
	m.state = StateNotAuthenticated
	m.platform.SetAccessToken("")
	return m.clearStoredCredentialsLocked()
}

// AccessToken returns the in-memory access token, if authenticated.
func (m *Manager) AccessToken() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.accessToken, m.accessToken != ""
}

// RefreshToken returns the current refresh token ("" if none).
func (m *Manager) RefreshToken() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refreshToken
}

// State returns the current auth state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Err returns the current error code and description ("" when no error).
func (m *Manager) Err() (code, description string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.errCode, m.errDesc
}

// storeTokens installs freshly issued tokens: access token in memory and on
// the platform client, refresh token persisted (or cleared, when the
// provider issued none).
func (m *Manager) storeTokens(tokens *platform.TokenResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.accessToken = tokens.AccessToken
	m.refreshToken = tokens.RefreshToken
	if tokens.RefreshToken != "" {
		if err := m.store.Set(KeyRefreshToken, tokens.RefreshToken); err != nil {
			logging.Warn("Auth", "Failed to persist refresh token: %v", err)
		}
	} else {
		_ = m.store.Delete(KeyRefreshToken)
	}
	m.state = StateAuthenticated
	m.platform.SetAccessToken(tokens.AccessToken)
}

// setErrorLocked records an error and transitions to StateError.
// REQUIRES: m.mu must be held by the caller.
func (m *Manager) setErrorLocked(code, description string) {
	m.errCode = code
	m.errDesc = description
	m.state = StateError
}

// clearStoredCredentialsLocked removes all three persisted credential keys.
// REQUIRES: m.mu must be held by the caller.
func (m *Manager) clearStoredCredentialsLocked() error {
	for _, key := range []string{KeyRefreshToken, KeyCodeVerifier, KeyOAuthState} {
		if err := m.store.Delete(key); err != nil {
			return fmt.Errorf("failed to clear stored credential %s: %w", key, err)
		}
	}
	return nil
}
