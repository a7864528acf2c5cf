package exchangefake

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/jrsteele09/go-qbo-auth/oauth2"
	"github.com/jrsteele09/go-qbo-auth/token"
)

var _ token.Exchanger = (*FakeExchanger)(nil)

// FakeExchanger mints sequential tokens (AT1/RT1, AT2/RT2, ...) without a network.
type FakeExchanger struct {
	Now              func() time.Time
	ExpiresIn        time.Duration
	RefreshExpiresIn time.Duration

	ExchangeErr error
	RefreshErr  error
	RevokeErr   error
	UserInfoErr error
	Profile     *token.UserProfile

	// RefreshGate, when set, blocks Refresh until it is closed or receives.
	RefreshGate chan struct{}
	// RefreshStarted, when set, receives once per Refresh call before the gate.
	RefreshStarted chan struct{}

	lock          sync.Mutex
	seq           int
	exchangeCalls int
	refreshCalls  int
	revoked       []string
}

func NewFakeExchanger(now func() time.Time) *FakeExchanger {
	return &FakeExchanger{
		Now:              now,
		ExpiresIn:        time.Hour,
		RefreshExpiresIn: 100 * 24 * time.Hour,
	}
}

func (f *FakeExchanger) AuthorizationURL(state string) string {
	q := url.Values{}
	q.Set("client_id", "fake-client")
	q.Set("redirect_uri", "http://localhost/callback")
	q.Set("response_type", string(oauth2.CodeResponseType))
	q.Set("scope", string(oauth2.ScopeAccounting))
	q.Set("state", state)
	return "https://fake.example.com/authorize?" + q.Encode()
}

func (f *FakeExchanger) Exchange(_ context.Context, code, realmID string) (*token.Token, error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.exchangeCalls++
	if f.ExchangeErr != nil {
		return nil, f.ExchangeErr
	}
	return f.mint(realmID), nil
}

func (f *FakeExchanger) Refresh(_ context.Context, current *token.Token) (*token.Token, error) {
	if f.RefreshStarted != nil {
		f.RefreshStarted <- struct{}{}
	}
	if f.RefreshGate != nil {
		<-f.RefreshGate
	}

	f.lock.Lock()
	defer f.lock.Unlock()
	f.refreshCalls++
	if f.RefreshErr != nil {
		return nil, f.RefreshErr
	}
	return f.mint(current.RealmID), nil
}

func (f *FakeExchanger) Revoke(_ context.Context, refreshToken string) error {
	f.lock.Lock()
	defer f.lock.Unlock()
	if f.RevokeErr != nil {
		return f.RevokeErr
	}
	f.revoked = append(f.revoked, refreshToken)
	return nil
}

func (f *FakeExchanger) UserInfo(_ context.Context, _ string) (*token.UserProfile, error) {
	if f.UserInfoErr != nil {
		return nil, f.UserInfoErr
	}
	if f.Profile == nil {
		return &token.UserProfile{Subject: "fake-subject"}, nil
	}
	p := *f.Profile
	return &p, nil
}

func (f *FakeExchanger) ExchangeCalls() int {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.exchangeCalls
}

func (f *FakeExchanger) RefreshCalls() int {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.refreshCalls
}

func (f *FakeExchanger) Revoked() []string {
	f.lock.Lock()
	defer f.lock.Unlock()
	return append([]string(nil), f.revoked...)
}

func (f *FakeExchanger) mint(realmID string) *token.Token {
	f.seq++
	now := f.Now()
	return &token.Token{
		TokenType:             oauth2.BearerTokenType,
		AccessToken:           fmt.Sprintf("AT%d", f.seq),
		AccessTokenExpiresAt:  now.Add(f.ExpiresIn),
		RefreshToken:          fmt.Sprintf("RT%d", f.seq),
		RefreshTokenExpiresAt: now.Add(f.RefreshExpiresIn),
		RealmID:               realmID,
	}
}
