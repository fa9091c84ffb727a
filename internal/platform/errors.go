package platform

import (
	"errors"
	"fmt"
)

// OAuth error codes the client needs to distinguish. A refresh token rejected
// with either of these is permanently unusable and must be discarded, as
// opposed to transient failures where discarding is merely the safe default.
const (
	ErrorCodeInvalidGrant   = "invalid_grant"
	ErrorCodeInvalidRequest = "invalid_request"
)

// OAuthError is a provider error decoded from a non-2xx token endpoint
// response body ({error, error_description}).
type OAuthError struct {
	// Code is the OAuth error code, e.g. "invalid_grant".
	Code string `json:"error"`

	// Description is the human-readable error description, if provided.
	Description string `json:"error_description"`

	// StatusCode is the HTTP status of the response.
	StatusCode int `json:"-"`
}

// Error makes OAuthError satisfy the error interface.
func (e *OAuthError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("oauth error %q: %s", e.Code, e.Description)
	}
	return fmt.Sprintf("oauth error %q (status %d)", e.Code, e.StatusCode)
}

// IsInvalidGrant reports whether err is a provider rejection with the
// invalid_grant error code.
func IsInvalidGrant(err error) bool {
	var oe *OAuthError
	return errors.As(err, &oe) && oe.Code == ErrorCodeInvalidGrant
}

// IsInvalidRequest reports whether err is a provider rejection with the
// invalid_request error code.
func IsInvalidRequest(err error) bool {
	var oe *OAuthError
	return errors.As(err, &oe) && oe.Code == ErrorCodeInvalidRequest
}
