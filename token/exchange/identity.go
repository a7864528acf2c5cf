package exchange

import (
	"context"
	"net/http"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/go-qbo-auth/token"
	"github.com/pkg/errors"
	xoauth2 "golang.org/x/oauth2"
)

var ErrUserInfoUnavailable = errors.New("userinfo endpoint not configured")

// identity decodes id tokens and reads userinfo. Verification goes through
// go-oidc when a key set or JWKS URL is available.
type identity struct {
	provider *oidc.Provider
	verifier *oidc.IDTokenVerifier
}

func newIdentity(c *Client) *identity {
	e := c.cfg.Endpoints
	// The provider keeps this context for JWKS fetches, so it must outlive any request.
	providerCtx := oidc.ClientContext(context.Background(), c.httpClient)
	provider := (&oidc.ProviderConfig{
		IssuerURL:   e.Issuer,
		AuthURL:     e.AuthURL,
		TokenURL:    e.TokenURL,
		UserInfoURL: e.UserInfoURL,
		JWKSURL:     e.JWKSURL,
		Algorithms:  []string{oidc.RS256},
	}).NewProvider(providerCtx)

	id := &identity{provider: provider}
	if c.skipVerify {
		return id
	}

	cfg := &oidc.Config{ClientID: c.cfg.ClientID, Now: c.nowFunc}
	switch {
	case c.keySet != nil:
		id.verifier = oidc.NewVerifier(e.Issuer, c.keySet, cfg)
	case e.JWKSURL != "":
		id.verifier = provider.Verifier(cfg)
	}
	return id
}

func (id *identity) decode(ctx context.Context, raw string) (*token.IDToken, error) {
	if id.verifier == nil {
		return decodeUnverified(raw)
	}

	verified, err := id.verifier.Verify(ctx, raw)
	if err != nil {
		return nil, errors.Wrap(err, "identity.decode Verify")
	}
	claims := map[string]any{}
	if err := verified.Claims(&claims); err != nil {
		return nil, errors.Wrap(err, "identity.decode Claims")
	}
	realmID, _ := claims["realmid"].(string)

	return &token.IDToken{
		Issuer:    verified.Issuer,
		Subject:   verified.Subject,
		Audience:  verified.Audience,
		IssuedAt:  verified.IssuedAt,
		ExpiresAt: verified.Expiry,
		RealmID:   realmID,
		Claims:    claims,
		Raw:       raw,
		Verified:  true,
	}, nil
}

func decodeUnverified(raw string) (*token.IDToken, error) {
	parsed, _, err := jwt.NewParser().ParseUnverified(raw, jwt.MapClaims{})
	if err != nil {
		return nil, errors.Wrap(err, "identity.decodeUnverified")
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("error extracting claims")
	}

	out := &token.IDToken{Claims: claims, Raw: raw}
	out.Issuer, _ = claims.GetIssuer()
	out.Subject, _ = claims.GetSubject()
	if aud, err := claims.GetAudience(); err == nil {
		out.Audience = aud
	}
	if iat, err := claims.GetIssuedAt(); err == nil && iat != nil {
		out.IssuedAt = iat.Time
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		out.ExpiresAt = exp.Time
	}
	out.RealmID, _ = claims["realmid"].(string)
	return out, nil
}

func (id *identity) userInfo(ctx context.Context, accessToken string) (*token.UserProfile, error) {
	if id.provider.UserInfoEndpoint() == "" {
		return nil, ErrUserInfoUnavailable
	}
	hc, _ := ctx.Value(xoauth2.HTTPClient).(*http.Client)
	if hc != nil {
		ctx = oidc.ClientContext(ctx, hc)
	}

	src := xoauth2.StaticTokenSource(&xoauth2.Token{AccessToken: accessToken, TokenType: "Bearer"})
	info, err := id.provider.UserInfo(ctx, src)
	if err != nil {
		return nil, errors.Wrap(err, "identity.userInfo")
	}

	profile := &token.UserProfile{}
	if err := info.Claims(profile); err != nil {
		return nil, errors.Wrap(err, "identity.userInfo Claims")
	}
	profile.Subject = info.Subject
	return profile, nil
}
