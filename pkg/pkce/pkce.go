package pkce

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

const (
	// verifierLength is the number of characters in a generated code verifier.
	// 64 characters from a 62-character alphabet gives well over the 256 bits
	// of entropy recommended by RFC 7636.
	verifierLength = 64

	// verifierCharset is the alphabet used for code verifiers. All characters
	// are valid unreserved URI characters per RFC 7636 section 4.1.
	verifierCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
)

// ChallengeMethodS256 is the only code challenge method this client uses.
// Plain is not allowed for public clients.
const ChallengeMethodS256 = "S256"

// GenerateVerifier generates a new PKCE code verifier: a 64-character
// cryptographically random string from [A-Za-z0-9].
//
// The verifier is kept secret by the client and never sent in the
// authorization request; only its S256 challenge is.
func GenerateVerifier() (string, error) {
	values := make([]byte, verifierLength)
	if _, err := rand.Read(values); err != nil {
		return "", fmt.Errorf("failed to generate random bytes for PKCE verifier: %w", err)
	}

	out := make([]byte, verifierLength)
	for i, v := range values {
		out[i] = verifierCharset[int(v)%len(verifierCharset)]
	}
	return string(out), nil
}

// ChallengeS256 computes the S256 code challenge for a verifier:
// base64url(SHA-256(verifier)), unpadded.
//
// A verifier-only party can recompute this independently, which is what binds
// the authorization code to the client that initiated the flow.
func ChallengeS256(verifier string) string {
	hash := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(hash[:])
}

// DeriveState derives the anti-CSRF state parameter for an authorization
// request. The state is bound to the verifier, the authorization endpoint,
// the client ID, and the initiation time:
//
//	base64url(SHA-256(verifier ":" authEndpoint ":" clientID ":" timestamp))
//
// Binding the state to the verifier means a stored state can only match a
// callback for the flow that created it.
func DeriveState(verifier, authEndpoint, clientID string, unixTimestamp int64) string {
	raw := fmt.Sprintf("%s:%s:%s:%d", verifier, authEndpoint, clientID, unixTimestamp)
	hash := sha256.Sum256([]byte(raw))
	return base64.RawURLEncoding.EncodeToString(hash[:])
}
