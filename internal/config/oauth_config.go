package config

import (
	"github.com/jrsteele09/go-qbo-auth/oauth2"
)

const (
	clientIDVar     = "QBO_CLIENT_ID"
	clientSecretVar = "QBO_CLIENT_SECRET"
	redirectURIVar  = "QBO_REDIRECT_URI"
	scopesVar       = "QBO_SCOPES"
	environmentVar  = "QBO_ENVIRONMENT"
	autoRefreshVar  = "AUTO_REFRESH"
)

type OAuthConfig interface {
	GetClientID() string
	GetClientSecret() string
	GetRedirectURI() string
	GetScopes() []oauth2.Scope
	GetEnvironment() (oauth2.Environment, error)
	GetAutoRefresh() bool
}

type OAuth struct{}

var _ OAuthConfig = OAuth{}

var defaultScopes = []oauth2.Scope{
	oauth2.ScopeAccounting,
	oauth2.ScopeOpenID,
	oauth2.ScopeProfile,
	oauth2.ScopeEmail,
}

func (OAuth) GetClientID() string {
	return GetEnv(clientIDVar, "")
}

func (OAuth) GetClientSecret() string {
	return GetEnv(clientSecretVar, "")
}

// GetRedirectURI must match a redirect URI registered for the app.
func (OAuth) GetRedirectURI() string {
	return GetEnv(redirectURIVar, EnvVars{}.GetBaseURL()+"/callback")
}

// GetScopes reads space or comma separated scopes.
func (OAuth) GetScopes() []oauth2.Scope {
	scopes := oauth2.ParseScopes(GetEnv(scopesVar, ""))
	if len(scopes) == 0 {
		return append([]oauth2.Scope(nil), defaultScopes...)
	}
	return scopes
}

func (OAuth) GetEnvironment() (oauth2.Environment, error) {
	return oauth2.ParseEnvironment(GetEnv(environmentVar, ""))
}

func (OAuth) GetAutoRefresh() bool {
	return GetEnvBool(autoRefreshVar, true)
}
