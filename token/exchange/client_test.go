package exchange_test

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/go-qbo-auth/oauth2"
	"github.com/jrsteele09/go-qbo-auth/token"
	"github.com/jrsteele09/go-qbo-auth/token/exchange"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const (
	testClientID     = "client-id"
	testClientSecret = "client-secret"
	testRedirectURI  = "http://localhost:8080/callback"
	testIssuer       = "https://oauth.platform.intuit.com/op/v1"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// fakeProvider records the last request to each endpoint and replies with
// whatever the test configured.
type fakeProvider struct {
	t      *testing.T
	server *httptest.Server

	mu          sync.Mutex
	status      int
	body        string
	contentType string
	lastForm    url.Values
	lastJSON    map[string]string
	lastAuth    string
	lastPath    string
}

func newFakeProvider(t *testing.T) *fakeProvider {
	t.Helper()
	p := &fakeProvider{t: t, status: http.StatusOK, contentType: "application/json"}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /token", p.handle)
	mux.HandleFunc("POST /revoke", p.handle)
	mux.HandleFunc("GET /userinfo", p.handle)
	p.server = httptest.NewServer(mux)
	t.Cleanup(p.server.Close)
	return p
}

func (p *fakeProvider) reply(status int, body string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status = status
	p.body = body
}

func (p *fakeProvider) handle(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.lastAuth = r.Header.Get("Authorization")
	p.lastPath = r.URL.Path
	switch r.Header.Get("Content-Type") {
	case "application/json":
		raw, _ := io.ReadAll(r.Body)
		p.lastJSON = map[string]string{}
		_ = json.Unmarshal(raw, &p.lastJSON)
	default:
		_ = r.ParseForm()
		p.lastForm = r.PostForm
	}

	w.Header().Set("Content-Type", p.contentType)
	w.WriteHeader(p.status)
	_, _ = io.WriteString(w, p.body)
}

func (p *fakeProvider) endpoints() oauth2.Endpoints {
	return oauth2.Endpoints{
		AuthURL:     "https://appcenter.intuit.com/connect/oauth2",
		TokenURL:    p.server.URL + "/token",
		RevokeURL:   p.server.URL + "/revoke",
		UserInfoURL: p.server.URL + "/userinfo",
		Issuer:      testIssuer,
	}
}

func newClient(t *testing.T, p *fakeProvider, options ...exchange.ClientOption) *exchange.Client {
	t.Helper()
	options = append([]exchange.ClientOption{
		exchange.WithHTTPClient(p.server.Client()),
		exchange.WithNowFunc(func() time.Time { return testNow }),
		exchange.WithLogger(zerolog.Nop()),
	}, options...)

	c, err := exchange.New(exchange.Config{
		ClientID:     testClientID,
		ClientSecret: testClientSecret,
		RedirectURI:  testRedirectURI,
		Scopes:       []oauth2.Scope{oauth2.ScopeAccounting, oauth2.ScopeOpenID, oauth2.ScopeAccounting},
		Endpoints:    p.endpoints(),
	}, options...)
	require.NoError(t, err)
	return c
}

func expectedBasicAuth() string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(testClientID+":"+testClientSecret))
}

func TestNew_Validation(t *testing.T) {
	good := exchange.Config{
		ClientID:     testClientID,
		ClientSecret: testClientSecret,
		RedirectURI:  testRedirectURI,
		Endpoints:    oauth2.EndpointsFor(oauth2.Sandbox),
	}

	_, err := exchange.New(good)
	require.NoError(t, err)

	missingID := good
	missingID.ClientID = " "
	_, err = exchange.New(missingID)
	require.ErrorIs(t, err, exchange.ErrMissingClientID)

	missingSecret := good
	missingSecret.ClientSecret = ""
	_, err = exchange.New(missingSecret)
	require.ErrorIs(t, err, exchange.ErrMissingClientSecret)

	missingRedirect := good
	missingRedirect.RedirectURI = ""
	_, err = exchange.New(missingRedirect)
	require.ErrorIs(t, err, exchange.ErrMissingRedirectURI)
}

func TestClient_AuthorizationURL(t *testing.T) {
	p := newFakeProvider(t)
	c := newClient(t, p)

	u, err := url.Parse(c.AuthorizationURL("state-123"))
	require.NoError(t, err)
	require.Equal(t, "appcenter.intuit.com", u.Host)
	require.Equal(t, "/connect/oauth2", u.Path)

	q := u.Query()
	require.Equal(t, testClientID, q.Get("client_id"))
	require.Equal(t, "com.intuit.quickbooks.accounting openid", q.Get("scope"))
	require.Equal(t, testRedirectURI, q.Get("redirect_uri"))
	require.Equal(t, "code", q.Get("response_type"))
	require.Equal(t, "state-123", q.Get("state"))
	require.Equal(t, 0, len(p.lastPath), "no network access")
}

func TestClient_Exchange(t *testing.T) {
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		p := newFakeProvider(t)
		p.reply(http.StatusOK, `{"access_token":"AT1","refresh_token":"RT1","expires_in":3600,"x_refresh_token_expires_in":8726400,"token_type":"bearer"}`)
		c := newClient(t, p)

		tk, err := c.Exchange(ctx, "abc", "123")
		require.NoError(t, err)
		require.Equal(t, "AT1", tk.AccessToken)
		require.Equal(t, "RT1", tk.RefreshToken)
		require.Equal(t, "123", tk.RealmID)
		require.Equal(t, oauth2.BearerTokenType, tk.TokenType)
		require.Equal(t, testNow.Add(3300*time.Second), tk.AccessTokenExpiresAt)
		require.Equal(t, testNow.Add(8726400*time.Second), tk.RefreshTokenExpiresAt)
		require.Nil(t, tk.IDToken)

		require.Equal(t, "/token", p.lastPath)
		require.Equal(t, expectedBasicAuth(), p.lastAuth)
		require.Equal(t, "authorization_code", p.lastForm.Get("grant_type"))
		require.Equal(t, "abc", p.lastForm.Get("code"))
		require.Equal(t, testRedirectURI, p.lastForm.Get("redirect_uri"))
	})

	t.Run("provider rejection keeps body", func(t *testing.T) {
		p := newFakeProvider(t)
		body := `{"error":"invalid_grant","error_description":"Incorrect Token type or clientID"}`
		p.reply(http.StatusBadRequest, body)
		c := newClient(t, p)

		_, err := c.Exchange(ctx, "abc", "123")
		require.ErrorIs(t, err, token.ErrExchangeFailed)

		var pe *token.ProviderError
		require.ErrorAs(t, err, &pe)
		require.Equal(t, http.StatusBadRequest, pe.StatusCode)
		require.Equal(t, body, pe.Body)
	})

	t.Run("non json body", func(t *testing.T) {
		p := newFakeProvider(t)
		p.reply(http.StatusOK, `<html>maintenance</html>`)
		c := newClient(t, p)

		_, err := c.Exchange(ctx, "abc", "123")
		require.ErrorIs(t, err, token.ErrResponseUnparseable)
	})

	t.Run("missing expires_in", func(t *testing.T) {
		p := newFakeProvider(t)
		p.reply(http.StatusOK, `{"access_token":"AT1","refresh_token":"RT1","token_type":"bearer"}`)
		c := newClient(t, p)

		_, err := c.Exchange(ctx, "abc", "123")
		require.ErrorIs(t, err, token.ErrResponseUnparseable)
	})

	t.Run("default refresh lifetime", func(t *testing.T) {
		p := newFakeProvider(t)
		p.reply(http.StatusOK, `{"access_token":"AT1","refresh_token":"RT1","expires_in":3600,"token_type":"bearer"}`)
		c := newClient(t, p)

		tk, err := c.Exchange(ctx, "abc", "123")
		require.NoError(t, err)
		require.Equal(t, testNow.Add(100*24*time.Hour), tk.RefreshTokenExpiresAt)
	})
}

func TestClient_Refresh(t *testing.T) {
	ctx := context.Background()
	current := &token.Token{
		AccessToken:           "AT0",
		RefreshToken:          "RT0",
		RefreshTokenExpiresAt: testNow.Add(24 * time.Hour),
		RealmID:               "123",
	}

	t.Run("success", func(t *testing.T) {
		p := newFakeProvider(t)
		p.reply(http.StatusOK, `{"access_token":"AT1","refresh_token":"RT1","expires_in":3600,"x_refresh_token_expires_in":8726400,"token_type":"bearer"}`)
		c := newClient(t, p)

		tk, err := c.Refresh(ctx, current)
		require.NoError(t, err)
		require.Equal(t, "AT1", tk.AccessToken)
		require.Equal(t, "RT1", tk.RefreshToken)
		require.Equal(t, "123", tk.RealmID)
		require.Equal(t, testNow.Add(3300*time.Second), tk.AccessTokenExpiresAt)

		require.Equal(t, expectedBasicAuth(), p.lastAuth)
		require.Equal(t, "refresh_token", p.lastForm.Get("grant_type"))
		require.Equal(t, "RT0", p.lastForm.Get("refresh_token"))
	})

	t.Run("omitted fields carried forward", func(t *testing.T) {
		p := newFakeProvider(t)
		p.reply(http.StatusOK, `{"access_token":"AT1","expires_in":3600,"token_type":"bearer"}`)
		c := newClient(t, p)

		tk, err := c.Refresh(ctx, current)
		require.NoError(t, err)
		require.Equal(t, "RT0", tk.RefreshToken)
		require.Equal(t, current.RefreshTokenExpiresAt, tk.RefreshTokenExpiresAt)
	})

	t.Run("provider rejection", func(t *testing.T) {
		p := newFakeProvider(t)
		p.reply(http.StatusUnauthorized, `{"error":"invalid_client"}`)
		c := newClient(t, p)

		_, err := c.Refresh(ctx, current)
		require.ErrorIs(t, err, token.ErrRefreshFailed)

		var pe *token.ProviderError
		require.ErrorAs(t, err, &pe)
		require.Equal(t, `{"error":"invalid_client"}`, pe.Body)
	})

	t.Run("no refresh token", func(t *testing.T) {
		p := newFakeProvider(t)
		c := newClient(t, p)
		_, err := c.Refresh(ctx, &token.Token{})
		require.ErrorIs(t, err, token.ErrNotAuthorized)
	})
}

func TestClient_Revoke(t *testing.T) {
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		p := newFakeProvider(t)
		p.reply(http.StatusOK, "")
		c := newClient(t, p)

		require.NoError(t, c.Revoke(ctx, "RT1"))
		require.Equal(t, "/revoke", p.lastPath)
		require.Equal(t, expectedBasicAuth(), p.lastAuth)
		require.Equal(t, map[string]string{"token": "RT1"}, p.lastJSON)
	})

	t.Run("provider rejection", func(t *testing.T) {
		p := newFakeProvider(t)
		p.reply(http.StatusBadRequest, `{"error":"invalid_request"}`)
		c := newClient(t, p)

		err := c.Revoke(ctx, "RT1")
		require.ErrorIs(t, err, token.ErrRevokeFailed)

		var pe *token.ProviderError
		require.ErrorAs(t, err, &pe)
		require.Equal(t, http.StatusBadRequest, pe.StatusCode)
		require.Equal(t, `{"error":"invalid_request"}`, pe.Body)
	})
}

func TestClient_IDToken(t *testing.T) {
	ctx := context.Background()

	claims := jwt.MapClaims{
		"iss":     testIssuer,
		"sub":     "user-sub",
		"aud":     []string{testClientID},
		"iat":     testNow.Unix(),
		"exp":     testNow.Add(time.Hour).Unix(),
		"realmid": "123",
	}

	tokenBody := func(idToken string) string {
		return `{"access_token":"AT1","refresh_token":"RT1","expires_in":3600,"x_refresh_token_expires_in":8726400,"token_type":"bearer","id_token":"` + idToken + `"}`
	}

	t.Run("unverified decode", func(t *testing.T) {
		raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
		require.NoError(t, err)

		p := newFakeProvider(t)
		p.reply(http.StatusOK, tokenBody(raw))
		c := newClient(t, p, exchange.WithoutIDTokenVerification())

		tk, err := c.Exchange(ctx, "abc", "123")
		require.NoError(t, err)
		require.NotNil(t, tk.IDToken)
		require.False(t, tk.IDToken.Verified)
		require.Equal(t, testIssuer, tk.IDToken.Issuer)
		require.Equal(t, "user-sub", tk.IDToken.Subject)
		require.Equal(t, []string{testClientID}, tk.IDToken.Audience)
		require.Equal(t, "123", tk.IDToken.RealmID)
		require.True(t, tk.IDToken.ExpiresAt.Equal(testNow.Add(time.Hour)))
		require.Equal(t, raw, tk.IDToken.Raw)
	})

	t.Run("verified with key set", func(t *testing.T) {
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		require.NoError(t, err)
		raw, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
		require.NoError(t, err)

		p := newFakeProvider(t)
		p.reply(http.StatusOK, tokenBody(raw))
		keySet := &oidc.StaticKeySet{PublicKeys: []crypto.PublicKey{&key.PublicKey}}
		c := newClient(t, p, exchange.WithKeySet(keySet))

		tk, err := c.Exchange(ctx, "abc", "123")
		require.NoError(t, err)
		require.True(t, tk.IDToken.Verified)
		require.Equal(t, "user-sub", tk.IDToken.Subject)
		require.Equal(t, "123", tk.IDToken.RealmID)
	})

	t.Run("bad signature keeps token unverified", func(t *testing.T) {
		signer, err := rsa.GenerateKey(rand.Reader, 2048)
		require.NoError(t, err)
		other, err := rsa.GenerateKey(rand.Reader, 2048)
		require.NoError(t, err)
		raw, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(signer)
		require.NoError(t, err)

		p := newFakeProvider(t)
		p.reply(http.StatusOK, tokenBody(raw))
		keySet := &oidc.StaticKeySet{PublicKeys: []crypto.PublicKey{&other.PublicKey}}
		c := newClient(t, p, exchange.WithKeySet(keySet))

		tk, err := c.Exchange(ctx, "abc", "123")
		require.NoError(t, err)
		require.Equal(t, "AT1", tk.AccessToken)
		require.Equal(t, "RT1", tk.RefreshToken)
		require.NotNil(t, tk.IDToken)
		require.False(t, tk.IDToken.Verified)
		require.Equal(t, "user-sub", tk.IDToken.Subject)

		refreshed, err := c.Refresh(ctx, &token.Token{RefreshToken: "RT0", RealmID: "123"})
		require.NoError(t, err)
		require.Equal(t, "RT1", refreshed.RefreshToken)
		require.False(t, refreshed.IDToken.Verified)
	})

	t.Run("unreachable key set keeps token unverified", func(t *testing.T) {
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		require.NoError(t, err)
		raw, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
		require.NoError(t, err)

		p := newFakeProvider(t)
		p.reply(http.StatusOK, tokenBody(raw))
		endpoints := p.endpoints()
		endpoints.JWKSURL = p.server.URL + "/jwks"
		c, err := exchange.New(exchange.Config{
			ClientID:     testClientID,
			ClientSecret: testClientSecret,
			RedirectURI:  testRedirectURI,
			Endpoints:    endpoints,
		},
			exchange.WithHTTPClient(p.server.Client()),
			exchange.WithNowFunc(func() time.Time { return testNow }),
			exchange.WithLogger(zerolog.Nop()),
		)
		require.NoError(t, err)

		tk, err := c.Exchange(ctx, "abc", "123")
		require.NoError(t, err)
		require.Equal(t, "AT1", tk.AccessToken)
		require.NotNil(t, tk.IDToken)
		require.False(t, tk.IDToken.Verified)
		require.Equal(t, "123", tk.IDToken.RealmID)
	})

	t.Run("malformed id token dropped", func(t *testing.T) {
		p := newFakeProvider(t)
		p.reply(http.StatusOK, tokenBody("not-a-jwt"))
		c := newClient(t, p)

		tk, err := c.Exchange(ctx, "abc", "123")
		require.NoError(t, err)
		require.Equal(t, "AT1", tk.AccessToken)
		require.Nil(t, tk.IDToken)
	})
}

func TestClient_UserInfo(t *testing.T) {
	p := newFakeProvider(t)
	p.reply(http.StatusOK, `{"sub":"user-sub","givenName":"Ada","familyName":"Lovelace","email":"ada@example.com","emailVerified":true,"phoneNumber":"+44 20 7946 0000","address":{"locality":"London","country":"GB"}}`)
	c := newClient(t, p)

	profile, err := c.UserInfo(context.Background(), "AT1")
	require.NoError(t, err)
	require.Equal(t, "Bearer AT1", p.lastAuth)
	require.Equal(t, "user-sub", profile.Subject)
	require.Equal(t, "Ada", profile.GivenName)
	require.Equal(t, "Lovelace", profile.FamilyName)
	require.True(t, profile.EmailVerified)
	require.Equal(t, "London", profile.Address.Locality)
}
