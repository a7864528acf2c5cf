package token

import (
	"maps"
	"strings"
	"time"

	"github.com/jrsteele09/go-qbo-auth/oauth2"
)

// Token is the access/refresh pair for a single connected company.
//
// A Token is a value: the manager replaces it wholesale on every exchange and
// refresh and never mutates a Token it has handed out.
type Token struct {
	TokenType             oauth2.TokenType `json:"tokenType"`
	AccessToken           string           `json:"accessToken"`
	AccessTokenExpiresAt  time.Time        `json:"accessTokenExpiryDate"`
	RefreshToken          string           `json:"refreshToken"`
	RefreshTokenExpiresAt time.Time        `json:"refreshTokenExpiryDate"`
	RealmID               string           `json:"realmId"`
	IDToken               *IDToken         `json:"idToken,omitempty"`
	UserProfile           *UserProfile     `json:"userProfile,omitempty"`
}

// IDToken is the decoded OpenID Connect identity assertion.
type IDToken struct {
	Issuer    string         `json:"iss"`
	Subject   string         `json:"sub"`
	Audience  []string       `json:"aud,omitempty"`
	IssuedAt  time.Time      `json:"iat"`
	ExpiresAt time.Time      `json:"exp"`
	RealmID   string         `json:"realmid,omitempty"`
	Claims    map[string]any `json:"claims,omitempty"`
	Raw       string         `json:"raw,omitempty"`
	Verified  bool           `json:"verified"`
}

// UserProfile holds the identity fields returned by the userinfo endpoint.
type UserProfile struct {
	Subject             string   `json:"sub"`
	GivenName           string   `json:"givenName,omitempty"`
	FamilyName          string   `json:"familyName,omitempty"`
	Email               string   `json:"email,omitempty"`
	EmailVerified       bool     `json:"emailVerified,omitempty"`
	PhoneNumber         string   `json:"phoneNumber,omitempty"`
	PhoneNumberVerified bool     `json:"phoneNumberVerified,omitempty"`
	Address             *Address `json:"address,omitempty"`
}

// Address is the postal address claim.
type Address struct {
	StreetAddress string `json:"streetAddress,omitempty"`
	Locality      string `json:"locality,omitempty"`
	Region        string `json:"region,omitempty"`
	PostalCode    string `json:"postalCode,omitempty"`
	Country       string `json:"country,omitempty"`
}

// State is the lifecycle state of the manager's token as seen by callers.
type State int

const (
	Unauthenticated State = iota
	AuthenticatedFresh
	AuthenticatedStale
	UnauthenticatedExpired
)

func (s State) String() string {
	switch s {
	case AuthenticatedFresh:
		return "authenticated-fresh"
	case AuthenticatedStale:
		return "authenticated-stale"
	case UnauthenticatedExpired:
		return "unauthenticated-expired"
	default:
		return "unauthenticated"
	}
}

// AccessTokenExpired reports whether the access token must be refreshed before use.
func (t *Token) AccessTokenExpired(now time.Time) bool {
	return !now.Before(t.AccessTokenExpiresAt)
}

// RefreshTokenExpired reports whether the refresh token can no longer be used.
// Once true only a new authorization code exchange can recover.
func (t *Token) RefreshTokenExpired(now time.Time) bool {
	return !now.Before(t.RefreshTokenExpiresAt)
}

// State classifies t at the given instant. A nil token is Unauthenticated.
func (t *Token) State(now time.Time) State {
	switch {
	case t == nil:
		return Unauthenticated
	case t.RefreshTokenExpired(now):
		return UnauthenticatedExpired
	case t.AccessTokenExpired(now):
		return AuthenticatedStale
	default:
		return AuthenticatedFresh
	}
}

// BearerHeader returns the Authorization header value for API calls.
func (t *Token) BearerHeader() string {
	return string(oauth2.BearerTokenType) + " " + t.AccessToken
}

// CompanyURL returns the tenant-scoped API base for this token's realm.
func (t *Token) CompanyURL(apiBaseURL string) string {
	return strings.TrimRight(apiBaseURL, "/") + "/v3/company/" + t.RealmID
}

// Clone returns a deep copy of t.
func (t *Token) Clone() *Token {
	if t == nil {
		return nil
	}
	c := *t
	if t.IDToken != nil {
		id := *t.IDToken
		id.Audience = append([]string(nil), t.IDToken.Audience...)
		id.Claims = maps.Clone(t.IDToken.Claims)
		c.IDToken = &id
	}
	if t.UserProfile != nil {
		p := *t.UserProfile
		if t.UserProfile.Address != nil {
			a := *t.UserProfile.Address
			p.Address = &a
		}
		c.UserProfile = &p
	}
	return &c
}
