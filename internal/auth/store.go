package auth

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Credential store keys. These names are fixed and stable: an externally
// completed login writes the same keys a running process reads.
const (
	// KeyRefreshToken is the persisted OAuth refresh token.
	KeyRefreshToken = "refresh_token"

	// KeyCodeVerifier is the PKCE code verifier, present only between flow
	// initiation and callback handling.
	KeyCodeVerifier = "code_verifier"

	// KeyOAuthState is the anti-CSRF state, present only between flow
	// initiation and callback handling.
	KeyOAuthState = "oauth_state"
)

// CredentialStore persists the small set of named credentials that must
// survive across the authorization redirect round trip (and, for the refresh
// token, across process restarts).
//
// Implementations must be safe for concurrent use. Tests substitute
// MemoryStore for the file-backed store.
type CredentialStore interface {
	// Get returns the value for key and whether it is present.
	Get(key string) (string, bool)

	// Set stores value under key.
	Set(key, value string) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(key string) error
}

// FileStore is a CredentialStore backed by a single JSON file.
//
// SECURITY: This store handles sensitive OAuth credentials. The file is
// created with 0600 permissions, its directory with 0700, and credential
// values are never logged.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore creates a file-backed credential store at path, creating the
// parent directory if needed.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("credential store path must not be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create credential directory: %w", err)
	}
	return &FileStore{path: path}, nil
}

// DefaultCredentialsPath returns the default credential file location,
// ~/.config/stargate/credentials.json.
func DefaultCredentialsPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "stargate", "credentials.json"), nil
}

// Path returns the location of the backing file.
func (s *FileStore) Path() string {
	return s.path
}

// Get returns the value for key and whether it is present.
func (s *FileStore) Get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.read()
	if err != nil {
		return "", false
	}
	value, ok := entries[key]
	return value, ok
}

// Set stores value under key and persists the file.
func (s *FileStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.read()
	if err != nil {
		return err
	}
	entries[key] = value
	return s.write(entries)
}

// Delete removes key and persists the file.
func (s *FileStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.read()
	if err != nil {
		return err
	}
	if _, ok := entries[key]; !ok {
		return nil
	}
	delete(entries, key)
	return s.write(entries)
}

// read loads the backing file. A missing file yields an empty map.
// REQUIRES: s.mu must be held by the caller.
func (s *FileStore) read() (map[string]string, error) {
	// #nosec G304 -- path is fixed at construction, not user input per call
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read credential file: %w", err)
	}

	entries := map[string]string{}
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse credential file: %w", err)
	}
	return entries, nil
}

// write persists entries with restricted permissions (owner read/write only).
// REQUIRES: s.mu must be held by the caller.
func (s *FileStore) write(entries map[string]string) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal credentials: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0600); err != nil {
		return fmt.Errorf("failed to write credential file: %w", err)
	}
	return nil
}

// MemoryStore is an in-memory CredentialStore for tests and ephemeral use.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]string
}

// NewMemoryStore creates an empty in-memory credential store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]string)}
}

// Get returns the value for key and whether it is present.
func (s *MemoryStore) Get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.entries[key]
	return value, ok
}

// Set stores value under key.
func (s *MemoryStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = value
	return nil
}

// Delete removes key.
func (s *MemoryStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}
