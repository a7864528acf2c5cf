package exchange

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/jrsteele09/go-qbo-auth/oauth2"
	"github.com/jrsteele09/go-qbo-auth/token"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	xoauth2 "golang.org/x/oauth2"
)

const (
	// accessTokenExpiryBuffer is taken off expires_in to absorb clock skew and
	// in-flight request latency.
	accessTokenExpiryBuffer = 300 * time.Second

	// defaultRefreshTokenLifetime applies when an exchange response omits
	// x_refresh_token_expires_in.
	defaultRefreshTokenLifetime = 100 * 24 * time.Hour

	maxBodySize = 1 << 20
)

var (
	ErrMissingClientID     = errors.New("client id is required")
	ErrMissingClientSecret = errors.New("client secret is required")
	ErrMissingRedirectURI  = errors.New("redirect uri is required")
	ErrMissingTokenURL     = errors.New("token endpoint is required")
)

// Config describes the registered app and the provider it talks to.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Scopes       []oauth2.Scope
	Endpoints    oauth2.Endpoints
}

// Client talks to the provider's token, revocation and userinfo endpoints.
type Client struct {
	cfg        Config
	oauth      *xoauth2.Config
	httpClient *http.Client
	identity   *identity
	keySet     oidc.KeySet
	skipVerify bool
	logger     zerolog.Logger
	nowFunc    func() time.Time
}

type ClientOption func(*Client)

func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

func WithNowFunc(now func() time.Time) ClientOption {
	return func(c *Client) {
		c.nowFunc = now
	}
}

func WithLogger(logger zerolog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithKeySet verifies id tokens against ks instead of the remote JWKS.
func WithKeySet(ks oidc.KeySet) ClientOption {
	return func(c *Client) {
		c.keySet = ks
	}
}

// WithoutIDTokenVerification decodes id tokens without checking signatures.
// Only for use where the token came straight from the token endpoint over TLS.
func WithoutIDTokenVerification() ClientOption {
	return func(c *Client) {
		c.skipVerify = true
	}
}

func New(cfg Config, options ...ClientOption) (*Client, error) {
	switch {
	case strings.TrimSpace(cfg.ClientID) == "":
		return nil, ErrMissingClientID
	case strings.TrimSpace(cfg.ClientSecret) == "":
		return nil, ErrMissingClientSecret
	case strings.TrimSpace(cfg.RedirectURI) == "":
		return nil, ErrMissingRedirectURI
	case strings.TrimSpace(cfg.Endpoints.TokenURL) == "":
		return nil, ErrMissingTokenURL
	}

	c := &Client{
		cfg:    cfg,
		logger: log.Logger,
	}
	for _, opt := range options {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if c.nowFunc == nil {
		c.nowFunc = time.Now
	}

	c.oauth = &xoauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURI,
		Scopes:       oauth2.ScopeStrings(cfg.Scopes...),
		Endpoint: xoauth2.Endpoint{
			AuthURL:   cfg.Endpoints.AuthURL,
			TokenURL:  cfg.Endpoints.TokenURL,
			AuthStyle: xoauth2.AuthStyleInHeader,
		},
	}
	c.identity = newIdentity(c)
	return c, nil
}

// AuthorizationURL builds the consent URL carrying client_id, scope,
// redirect_uri, response_type=code and state.
func (c *Client) AuthorizationURL(state string) string {
	return c.oauth.AuthCodeURL(state)
}

// Exchange trades an authorization code for a token bound to realmID.
func (c *Client) Exchange(ctx context.Context, code, realmID string) (*token.Token, error) {
	tok, err := c.oauth.Exchange(c.clientContext(ctx), code)
	if err != nil {
		return nil, classify(err, token.ErrExchangeFailed)
	}
	return c.toToken(ctx, tok, realmID, nil)
}

// Refresh mints a new token from current's refresh token. The realm is carried over.
func (c *Client) Refresh(ctx context.Context, current *token.Token) (*token.Token, error) {
	if current == nil || current.RefreshToken == "" {
		return nil, token.ErrNotAuthorized
	}
	src := c.oauth.TokenSource(c.clientContext(ctx), &xoauth2.Token{RefreshToken: current.RefreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, classify(err, token.ErrRefreshFailed)
	}
	return c.toToken(ctx, tok, current.RealmID, current)
}

// Revoke posts the refresh token to the revocation endpoint. Any 2xx is success.
func (c *Client) Revoke(ctx context.Context, refreshToken string) error {
	body, err := json.Marshal(oauth2.RevokeRequest{Token: refreshToken})
	if err != nil {
		return errors.Wrap(err, "Client.Revoke Marshal")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoints.RevokeURL, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "Client.Revoke NewRequest")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", c.basicAuth())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", token.ErrRevokeFailed, err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &token.ProviderError{Kind: token.ErrRevokeFailed, StatusCode: resp.StatusCode, Body: string(respBody)}
	}
	return nil
}

// UserInfo fetches the OpenID Connect profile for accessToken.
func (c *Client) UserInfo(ctx context.Context, accessToken string) (*token.UserProfile, error) {
	return c.identity.userInfo(c.clientContext(ctx), accessToken)
}

func (c *Client) basicAuth() string {
	creds := c.cfg.ClientID + ":" + c.cfg.ClientSecret
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(creds))
}

func (c *Client) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, xoauth2.HTTPClient, c.httpClient)
}

func (c *Client) toToken(ctx context.Context, tok *xoauth2.Token, realmID string, prev *token.Token) (*token.Token, error) {
	now := c.nowFunc()

	expiresIn, ok := extraSeconds(tok, oauth2.FieldExpiresIn)
	if !ok {
		return nil, fmt.Errorf("%w: missing %s", token.ErrResponseUnparseable, oauth2.FieldExpiresIn)
	}

	t := &token.Token{
		TokenType:            oauth2.BearerTokenType,
		AccessToken:          tok.AccessToken,
		AccessTokenExpiresAt: now.Add(expiresIn - accessTokenExpiryBuffer),
		RefreshToken:         tok.RefreshToken,
		RealmID:              realmID,
	}

	if refreshIn, ok := extraSeconds(tok, oauth2.FieldRefreshTokenExpiresIn); ok {
		t.RefreshTokenExpiresAt = now.Add(refreshIn)
	} else if prev != nil {
		t.RefreshTokenExpiresAt = prev.RefreshTokenExpiresAt
	} else {
		t.RefreshTokenExpiresAt = now.Add(defaultRefreshTokenLifetime)
	}

	if raw, _ := tok.Extra(oauth2.FieldIDToken).(string); raw != "" {
		t.IDToken = c.decodeIDToken(ctx, raw, realmID)
	}

	c.logger.Debug().
		Str("realm_id", realmID).
		Dur("expires_in", expiresIn).
		Bool("id_token", t.IDToken != nil).
		Msg("token response parsed")
	return t, nil
}

// decodeIDToken never fails the token response: by the time it runs the
// provider has spent the code or rotated the refresh token. A token that fails
// verification keeps its unverified claims; one that cannot be parsed is dropped.
func (c *Client) decodeIDToken(ctx context.Context, raw, realmID string) *token.IDToken {
	idToken, err := c.identity.decode(ctx, raw)
	if err == nil {
		return idToken
	}
	c.logger.Warn().Err(err).Str("realm_id", realmID).Msg("id token verification failed")

	idToken, err = decodeUnverified(raw)
	if err != nil {
		c.logger.Warn().Err(err).Str("realm_id", realmID).Msg("id token dropped")
		return nil
	}
	return idToken
}

// classify maps x/oauth2 failures onto the lifecycle error taxonomy.
func classify(err error, kind error) error {
	var re *xoauth2.RetrieveError
	if errors.As(err, &re) {
		status := 0
		if re.Response != nil {
			status = re.Response.StatusCode
		}
		return &token.ProviderError{Kind: kind, StatusCode: status, Body: string(re.Body)}
	}
	var ue *url.Error
	if errors.As(err, &ue) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", kind, err)
	}
	return fmt.Errorf("%w: %v", token.ErrResponseUnparseable, err)
}

// extraSeconds reads a lifetime field from the raw token response. JSON bodies
// decode numbers as float64, form bodies as int64 or string.
func extraSeconds(tok *xoauth2.Token, key string) (time.Duration, bool) {
	var secs float64
	switch v := tok.Extra(key).(type) {
	case float64:
		secs = v
	case int64:
		secs = float64(v)
	case int:
		secs = float64(v)
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, false
		}
		secs = f
	case string:
		var f float64
		if _, err := fmt.Sscan(v, &f); err != nil {
			return 0, false
		}
		secs = f
	default:
		return 0, false
	}
	return time.Duration(secs * float64(time.Second)), true
}
