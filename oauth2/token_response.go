package oauth2

// TokenResponse represents the JSON body returned by the provider's token endpoint
// for both the authorization_code and refresh_token grants.
//
// The refresh-token lifetime is a provider extension (x_refresh_token_expires_in)
// and is not part of RFC 6749.
type TokenResponse struct {
	// AccessToken is the opaque bearer credential used on API calls.
	// Usage: Include in Authorization header: "Bearer <access_token>"
	// Lifespan: Short-lived (one hour)
	AccessToken string `json:"access_token"`

	// RefreshToken mints new access tokens without user interaction.
	// Rotates on most refreshes; the previous value must then be discarded.
	RefreshToken string `json:"refresh_token,omitempty"`

	// TokenType is "bearer" (the provider sends it in lower case).
	TokenType string `json:"token_type,omitempty"`

	// ExpiresIn is the access-token lifetime in seconds.
	ExpiresIn int64 `json:"expires_in,omitempty"`

	// RefreshTokenExpiresIn is the refresh-token lifetime in seconds.
	// Example: 8726400 (101 days)
	RefreshTokenExpiresIn int64 `json:"x_refresh_token_expires_in,omitempty"`

	// IDToken is the signed OpenID Connect identity assertion.
	// Only present: When "openid" scope was requested
	IDToken string `json:"id_token,omitempty"`
}

// RevokeRequest is the JSON body posted to the revocation endpoint.
type RevokeRequest struct {
	Token string `json:"token"`
}

// Extra field names carried on the token endpoint response.
const (
	FieldExpiresIn             = "expires_in"
	FieldRefreshTokenExpiresIn = "x_refresh_token_expires_in"
	FieldIDToken               = "id_token"
)
