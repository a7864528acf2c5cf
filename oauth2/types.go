package oauth2

import "strings"

// ResponseType represents the OAuth 2.0 response type requested at the authorization endpoint.
type ResponseType string

const (
	// CodeResponseType indicates the authorization code flow.
	// Used in: the consent redirect built by the authorization URL builder.
	// The provider redirects back with ?code=...&state=...&realmId=...
	CodeResponseType ResponseType = "code"
)

// GrantType represents the OAuth 2.0 grant type sent to the token endpoint.
type GrantType string

const (
	// AuthorizationCodeGrant exchanges an authorization code for a token pair.
	// Token request body: grant_type, code, redirect_uri
	// Returns: access_token, refresh_token, expires_in, x_refresh_token_expires_in
	AuthorizationCodeGrant GrantType = "authorization_code"

	// RefreshTokenGrant exchanges a refresh token for a new token pair.
	// Token request body: grant_type, refresh_token
	// Returns: a new access_token and (usually) a rotated refresh_token
	RefreshTokenGrant GrantType = "refresh_token"
)

// TokenType describes how the access token is presented to the API.
type TokenType string

const (
	// BearerTokenType is the only token type the accounting API issues.
	// Usage: Authorization: Bearer <access_token>
	BearerTokenType TokenType = "Bearer"
)

// Scope is a single OAuth 2.0 / OpenID Connect scope value.
type Scope string

const (
	// ScopeAccounting grants access to the accounting API.
	ScopeAccounting Scope = "com.intuit.quickbooks.accounting"
	// ScopePayment grants access to the payments API.
	ScopePayment Scope = "com.intuit.quickbooks.payment"

	// OpenID Connect identity scopes. Requesting ScopeOpenID makes the provider
	// return an id_token alongside the access token.
	ScopeOpenID  Scope = "openid"
	ScopeProfile Scope = "profile"
	ScopeEmail   Scope = "email"
	ScopePhone   Scope = "phone"
	ScopeAddress Scope = "address"
)

// ScopeStrings returns scopes as strings, dropping empty values and duplicates
// while keeping the first-seen order.
func ScopeStrings(scopes ...Scope) []string {
	out := make([]string, 0, len(scopes))
	seen := make(map[Scope]struct{}, len(scopes))
	for _, s := range scopes {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, string(s))
	}
	return out
}

// ParseScopes splits a space or comma separated scope string.
func ParseScopes(raw string) []Scope {
	fields := strings.FieldsFunc(raw, func(r rune) bool { return r == ' ' || r == ',' })
	scopes := make([]Scope, 0, len(fields))
	for _, f := range fields {
		scopes = append(scopes, Scope(f))
	}
	return scopes
}
