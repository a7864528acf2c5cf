package token

import (
	"errors"
	"fmt"
)

// Lifecycle errors. Each names what the caller has to do next.
var (
	// ErrNotAuthorized: no token is set, run the authorization code flow.
	ErrNotAuthorized = errors.New("not authorized")
	// ErrTokenExpired: access token expired with auto-refresh disabled, call Refresh.
	ErrTokenExpired = errors.New("access token expired")
	// ErrRefreshTokenExpired is terminal: restart the full authorization flow.
	ErrRefreshTokenExpired = errors.New("refresh token expired, re-authentication required")

	// Provider rejections. The provider's body is kept on ProviderError.
	ErrExchangeFailed = errors.New("authorization code exchange failed")
	ErrRefreshFailed  = errors.New("token refresh failed")
	ErrRevokeFailed   = errors.New("token revocation failed")

	// ErrResponseUnparseable: 2xx from the provider with a body that is not a token.
	ErrResponseUnparseable = errors.New("provider response unparseable")

	// Serialization errors.
	ErrWeakSecretKey          = errors.New("secret key must be at least 32 characters")
	ErrInvalidSerializedToken = errors.New("invalid serialized token")
)

// ProviderError is returned when the provider answers with a non-success status.
// It unwraps to one of ErrExchangeFailed, ErrRefreshFailed or ErrRevokeFailed.
type ProviderError struct {
	Kind       error
	StatusCode int
	Body       string
}

func (e *ProviderError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: status %d", e.Kind, e.StatusCode)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Kind, e.StatusCode, e.Body)
}

func (e *ProviderError) Unwrap() error {
	return e.Kind
}
