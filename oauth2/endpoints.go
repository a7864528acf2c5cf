package oauth2

import (
	"fmt"
	"strings"
)

// Environment selects the provider deployment a client talks to.
type Environment string

const (
	Sandbox    Environment = "sandbox"
	Production Environment = "production"
)

// ParseEnvironment accepts "sandbox" or "production" (case-insensitive).
func ParseEnvironment(s string) (Environment, error) {
	switch Environment(strings.ToLower(strings.TrimSpace(s))) {
	case Sandbox, "":
		return Sandbox, nil
	case Production:
		return Production, nil
	default:
		return "", fmt.Errorf("unknown environment %q", s)
	}
}

// Endpoints holds the provider URLs used across the token lifecycle.
type Endpoints struct {
	AuthURL     string // Browser consent page
	TokenURL    string // Code exchange and refresh
	RevokeURL   string // Refresh token revocation
	UserInfoURL string // OpenID Connect userinfo
	Issuer      string // Expected "iss" claim on id tokens
	JWKSURL     string // Signing keys for id tokens
	APIBaseURL  string // Accounting API base, company URLs hang off this
}

const (
	authURL   = "https://appcenter.intuit.com/connect/oauth2"
	tokenURL  = "https://oauth.platform.intuit.com/oauth2/v1/tokens/bearer"
	revokeURL = "https://developer.api.intuit.com/v2/oauth2/tokens/revoke"
	issuer    = "https://oauth.platform.intuit.com/op/v1"
	jwksURL   = "https://oauth.platform.intuit.com/op/v1/jwks"
)

// EndpointsFor returns the published endpoints for env.
func EndpointsFor(env Environment) Endpoints {
	e := Endpoints{
		AuthURL:   authURL,
		TokenURL:  tokenURL,
		RevokeURL: revokeURL,
		Issuer:    issuer,
		JWKSURL:   jwksURL,
	}
	if env == Production {
		e.UserInfoURL = "https://accounts.platform.intuit.com/v1/openid_connect/userinfo"
		e.APIBaseURL = "https://quickbooks.api.intuit.com"
	} else {
		e.UserInfoURL = "https://sandbox-accounts.platform.intuit.com/v1/openid_connect/userinfo"
		e.APIBaseURL = "https://sandbox-quickbooks.api.intuit.com"
	}
	return e
}
