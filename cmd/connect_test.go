package cmd

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stargate/internal/auth"
	"stargate/internal/config"
	"stargate/internal/platform"
)

// TestConnect_RecoversFromFailedAutoLogin covers the connect startup path
// where the stored refresh token is rejected: the command must not abort but
// wait for an external login to write a usable token.
func TestConnect_RecoversFromFailedAutoLogin(t *testing.T) {
	dir := t.TempDir()
	credPath := filepath.Join(dir, "credentials.json")
	require.NoError(t, os.WriteFile(credPath, []byte(`{"refresh_token":"stale"}`), 0600))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var grant map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&grant))
		if grant["refresh_token"] == "stale" {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]string{"error": "invalid_grant"})
			return
		}
		json.NewEncoder(w).Encode(map[string]string{
			"access_token":  "fresh-access",
			"refresh_token": "fresh-refresh",
		})
	}))
	defer server.Close()

	oldCfg := cfg
	cfg = config.DefaultConfig()
	cfg.Credentials.Path = credPath
	defer func() { cfg = oldCfg }()

	client, err := platform.NewClient(platform.ClientConfig{BaseURL: server.URL, ClientID: "client"})
	require.NoError(t, err)
	store, err := auth.NewFileStore(credPath)
	require.NoError(t, err)
	manager, err := auth.NewManager(auth.ManagerConfig{Platform: client, Store: store, AutoLogin: true})
	require.NoError(t, err)

	// The stale token makes the automatic login fail.
	require.Error(t, manager.Bootstrap(context.Background()))
	assert.Equal(t, auth.StateError, manager.State())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// An external 'auth login' completes shortly after and persists a
	// usable refresh token.
	go func() {
		time.Sleep(200 * time.Millisecond)
		os.WriteFile(credPath, []byte(`{"refresh_token":"good"}`), 0600)
	}()

	require.NoError(t, ensureAuthenticated(ctx, manager))
	assert.Equal(t, auth.StateAuthenticated, manager.State())

	token, ok := manager.AccessToken()
	require.True(t, ok)
	assert.Equal(t, "fresh-access", token)
}
