package platform

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(ClientConfig{
		BaseURL:  server.URL,
		ClientID: "client-123",
	})
	require.NoError(t, err)
	return client, server
}

func TestExchangeCode(t *testing.T) {
	var gotBody map[string]string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/oauth/token", r.URL.Path)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		json.NewEncoder(w).Encode(map[string]string{
			"access_token":  "at-1",
			"refresh_token": "rt-1",
		})
	}))

	tokens, err := client.ExchangeCode(context.Background(), "abc123", "http://localhost:3000/callback", "verifier-V")
	require.NoError(t, err)
	assert.Equal(t, "at-1", tokens.AccessToken)
	assert.Equal(t, "rt-1", tokens.RefreshToken)

	assert.Equal(t, map[string]string{
		"grant_type":    "authorization_code",
		"client_id":     "client-123",
		"code":          "abc123",
		"redirect_uri":  "http://localhost:3000/callback",
		"code_verifier": "verifier-V",
	}, gotBody)
}

func TestRefreshAccessToken_InvalidGrant(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{
			"error":             "invalid_grant",
			"error_description": "refresh token revoked",
		})
	}))

	_, err := client.RefreshAccessToken(context.Background(), "rt-revoked")
	require.Error(t, err)
	assert.True(t, IsInvalidGrant(err))
	assert.False(t, IsInvalidRequest(err))
	assert.Contains(t, err.Error(), "refresh token revoked")
}

func TestRefreshAccessToken_InvalidRequest(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": "invalid_request"})
	}))

	_, err := client.RefreshAccessToken(context.Background(), "")
	require.Error(t, err)
	assert.True(t, IsInvalidRequest(err))
	assert.False(t, IsInvalidGrant(err))
}

func TestRefreshAccessToken_GenericFailure(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))

	_, err := client.RefreshAccessToken(context.Background(), "rt-1")
	require.Error(t, err)
	assert.False(t, IsInvalidGrant(err))
	assert.False(t, IsInvalidRequest(err))
}

func TestGetModel(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/models/model-1", r.URL.Path)
		require.Equal(t, "backend_system,ticket,token_export", r.URL.Query().Get("embed"))
		require.Equal(t, "Bearer at-1", r.Header.Get("Authorization"))

		json.NewEncoder(w).Encode(map[string]any{
			"id":           "model-1",
			"access_token": "scoped-token",
			"backend_system": map[string]string{
				"model_view_url": "https://backend.example.com",
			},
			"ticket": map[string]string{"ticket": "opaque-ticket"},
		})
	}))
	client.SetAccessToken("at-1")

	model, err := client.GetModel(context.Background(), "model-1")
	require.NoError(t, err)
	assert.Equal(t, "scoped-token", model.AccessToken)
	require.NotNil(t, model.BackendSystem)
	assert.Equal(t, "https://backend.example.com", model.BackendSystem.ModelViewURL)
	require.NotNil(t, model.Ticket)
	assert.Equal(t, "opaque-ticket", model.Ticket.Ticket)
}

func TestGetGatewayConfig(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/stargate/config", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{
			"endpoint": map[string]string{
				"eu-central-1": "gateway-eu.example.com",
			},
		})
	}))
	client.SetAccessToken("at-1")

	cfg, err := client.GetGatewayConfig(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "gateway-eu.example.com", cfg.Endpoint["eu-central-1"])
}

func TestClaims(t *testing.T) {
	// Unsigned JWT with known sub and exp claims; Claims does not verify
	// signatures so "none"-style tokens are fine for the test.
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none","typ":"JWT"}`))
	payload := base64.RawURLEncoding.EncodeToString([]byte(`{"sub":"user-42","exp":1900000000}`))
	token := header + "." + payload + "."

	claims, err := Claims(token)
	require.NoError(t, err)
	assert.Equal(t, "user-42", claims.Subject)
	assert.Equal(t, int64(1900000000), claims.ExpiresAt)
}

func TestClaims_NotAJWT(t *testing.T) {
	_, err := Claims("opaque-token")
	assert.Error(t, err)
}
