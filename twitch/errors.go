package twitch

import (
	"fmt"
)

type AuthErrorKind int

const (
	NoCredentials AuthErrorKind = iota
	MissingRefreshToken
	RefreshFailed
)

func (k AuthErrorKind) String() string {
	switch k {
	case NoCredentials:
		return "no credentials"
	case MissingRefreshToken:
		return "missing refresh token"
	case RefreshFailed:
		return "refresh failed"
	default:
		return fmt.Sprintf("auth error kind %d", int(k))
	}
}

// AuthError is returned when no usable access token can be produced.
// StatusCode is only set for RefreshFailed caused by a token endpoint response.
type AuthError struct {
	Kind       AuthErrorKind
	StatusCode int
	Err        error
}

func (e *AuthError) Error() string {
	switch e.Kind {
	case NoCredentials:
		if e.Err != nil {
			return fmt.Sprintf("no usable credentials (%v), run the auth command first", e.Err)
		}
		return "no stored credentials found, run the auth command first"
	case MissingRefreshToken:
		return "stored access token expired and no refresh token is available, run the auth command again"
	case RefreshFailed:
		if e.StatusCode != 0 {
			return fmt.Sprintf("token refresh failed with status %d: %v", e.StatusCode, e.Err)
		}
		return fmt.Sprintf("token refresh failed: %v", e.Err)
	}

	return e.Kind.String()
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// TokenEndpointError is a non-2xx response of the OAuth token endpoint.
type TokenEndpointError struct {
	StatusCode int
	Body       string
}

func (e *TokenEndpointError) Error() string {
	return fmt.Sprintf("token endpoint returned status %d: %s", e.StatusCode, e.Body)
}
