package token

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// Exchanger performs the provider round trips. The exchange package supplies
// the HTTP implementation; tests supply fakes.
type Exchanger interface {
	AuthorizationURL(state string) string
	Exchange(ctx context.Context, code, realmID string) (*Token, error)
	Refresh(ctx context.Context, current *Token) (*Token, error)
	Revoke(ctx context.Context, refreshToken string) error
	UserInfo(ctx context.Context, accessToken string) (*UserProfile, error)
}

// Manager sequences the token lifecycle: exchange, refresh-on-read, manual
// refresh, revoke and validation, over a single owned Holder.
type Manager struct {
	client      Exchanger
	holder      *Holder
	events      *Notifier
	autoRefresh atomic.Bool
	refreshes   singleflight.Group
	logger      zerolog.Logger
	nowFunc     func() time.Time
}

type ManagerOption func(*Manager)

// WithHolder injects the cell the manager reads and writes. Managers must not share a Holder.
func WithHolder(h *Holder) ManagerOption {
	return func(m *Manager) {
		m.holder = h
	}
}

func WithAutoRefresh(enabled bool) ManagerOption {
	return func(m *Manager) {
		m.autoRefresh.Store(enabled)
	}
}

func WithLogger(logger zerolog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

func WithNowFunc(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.nowFunc = now
	}
}

// New returns a Manager with auto-refresh enabled and no token.
func New(client Exchanger, options ...ManagerOption) *Manager {
	m := &Manager{
		client: client,
		events: NewNotifier(),
		logger: log.Logger,
	}
	m.autoRefresh.Store(true)

	for _, opt := range options {
		opt(m)
	}

	if m.holder == nil {
		m.holder = NewHolder()
	}
	if m.nowFunc == nil {
		m.nowFunc = time.Now
	}
	return m
}

func (m *Manager) EnableAutoRefresh()  { m.autoRefresh.Store(true) }
func (m *Manager) DisableAutoRefresh() { m.autoRefresh.Store(false) }
func (m *Manager) AutoRefresh() bool   { return m.autoRefresh.Load() }

// OnRefresh registers o to run after every successful refresh.
func (m *Manager) OnRefresh(o Observer) *Subscription {
	return m.events.Subscribe(EventRefreshed, o)
}

// OnRevoke registers o to run after every successful revoke.
func (m *Manager) OnRevoke(o Observer) *Subscription {
	return m.events.Subscribe(EventRevoked, o)
}

// AuthorizationURL returns the provider consent URL. An empty state is
// replaced with a random one; callers that verify the callback should pass
// their own.
func (m *Manager) AuthorizationURL(state string) string {
	if state == "" {
		state = uuid.NewString()
	}
	return m.client.AuthorizationURL(state)
}

// ExchangeCode trades an authorization code for a token pair and installs it.
// On failure the current token, if any, is left untouched.
func (m *Manager) ExchangeCode(ctx context.Context, code, realmID string) (*Token, error) {
	t, err := m.client.Exchange(ctx, code, realmID)
	if err != nil {
		m.logger.Error().Err(err).Str("realm_id", realmID).Msg("authorization code exchange failed")
		return nil, errors.Wrap(err, "Manager.ExchangeCode")
	}
	m.holder.Set(t)
	m.logger.Info().
		Str("realm_id", t.RealmID).
		Time("access_expires_at", t.AccessTokenExpiresAt).
		Time("refresh_expires_at", t.RefreshTokenExpiresAt).
		Msg("token exchanged")
	return t.Clone(), nil
}

// Token returns the current token, refreshing it first when the access token
// has expired and auto-refresh is on. With auto-refresh off a stale token is
// returned as is.
func (m *Manager) Token(ctx context.Context) (*Token, error) {
	t, err := m.holder.Get()
	if err != nil {
		return nil, err
	}
	if !t.AccessTokenExpired(m.nowFunc()) || !m.AutoRefresh() {
		return t, nil
	}
	return m.refresh(ctx, false)
}

// Current returns the installed token as is, without refreshing.
func (m *Manager) Current() (*Token, error) {
	return m.holder.Get()
}

// SetToken replaces the current token; nil clears it.
//
// Side effect: when auto-refresh is on and t's access token has already
// expired, SetToken refreshes before returning and reports any refresh error.
// The supplied token stays installed if that refresh fails.
func (m *Manager) SetToken(ctx context.Context, t *Token) error {
	m.holder.Set(t)
	if t == nil {
		m.logger.Debug().Msg("token cleared")
		return nil
	}
	if m.AutoRefresh() && t.AccessTokenExpired(m.nowFunc()) {
		m.logger.Debug().Str("realm_id", t.RealmID).Msg("token set with expired access token, refreshing")
		if _, err := m.refresh(ctx, false); err != nil {
			return err
		}
	}
	return nil
}

// Refresh always calls the provider, whether or not the access token looks expired.
func (m *Manager) Refresh(ctx context.Context) (*Token, error) {
	return m.refresh(ctx, true)
}

// Revoke revokes the refresh token at the provider and clears the token.
// The token is kept if the provider rejects the call.
func (m *Manager) Revoke(ctx context.Context) error {
	current, err := m.holder.Get()
	if err != nil {
		return err
	}
	if err := m.client.Revoke(ctx, current.RefreshToken); err != nil {
		m.logger.Error().Err(err).Str("realm_id", current.RealmID).Msg("token revocation failed")
		return errors.Wrap(err, "Manager.Revoke")
	}
	m.holder.Set(nil)
	m.logger.Info().Str("realm_id", current.RealmID).Msg("token revoked")
	m.notify(ctx, EventRevoked, current)
	return nil
}

// ValidateToken reports whether the token is usable, refreshing it as a side
// effect when the access token has expired and auto-refresh is on.
func (m *Manager) ValidateToken(ctx context.Context) (bool, error) {
	t, err := m.holder.Get()
	if err != nil {
		return false, err
	}
	now := m.nowFunc()
	if t.RefreshTokenExpired(now) {
		return false, ErrRefreshTokenExpired
	}
	if t.AccessTokenExpired(now) {
		if !m.AutoRefresh() {
			return false, ErrTokenExpired
		}
		if _, err := m.refresh(ctx, false); err != nil {
			return false, err
		}
	}
	return true, nil
}

// State classifies the current token.
func (m *Manager) State() State {
	t, err := m.holder.Get()
	if err != nil {
		return Unauthenticated
	}
	return t.State(m.nowFunc())
}

// FetchUserProfile loads the userinfo claims for the current token and stores
// them on it.
func (m *Manager) FetchUserProfile(ctx context.Context) (*UserProfile, error) {
	t, err := m.Token(ctx)
	if err != nil {
		return nil, err
	}
	profile, err := m.client.UserInfo(ctx, t.AccessToken)
	if err != nil {
		return nil, errors.Wrap(err, "Manager.FetchUserProfile")
	}
	if _, err := m.holder.Update(func(cur *Token) error {
		cur.UserProfile = profile
		return nil
	}); err != nil {
		return nil, err
	}
	return profile, nil
}

const (
	refreshKey       = "refresh"
	forcedRefreshKey = "refresh:forced"
)

// refresh coalesces concurrent callers onto one provider call. Waiters share
// the first caller's context. Unless forced, a token that became fresh while
// the caller was waiting is returned without another provider call. Forced
// callers only join other forced callers, so they always reach the provider.
func (m *Manager) refresh(ctx context.Context, force bool) (*Token, error) {
	key := refreshKey
	if force {
		key = forcedRefreshKey
	}
	v, err, shared := m.refreshes.Do(key, func() (any, error) {
		return m.doRefresh(ctx, force)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		m.logger.Debug().Msg("joined in-flight token refresh")
	}
	return v.(*Token).Clone(), nil
}

func (m *Manager) doRefresh(ctx context.Context, force bool) (*Token, error) {
	current, err := m.holder.Get()
	if err != nil {
		return nil, err
	}
	now := m.nowFunc()
	if !force && !current.AccessTokenExpired(now) {
		return current, nil
	}
	if current.RefreshTokenExpired(now) {
		m.logger.Warn().
			Str("realm_id", current.RealmID).
			Time("refresh_expires_at", current.RefreshTokenExpiresAt).
			Msg("refresh token expired")
		return nil, ErrRefreshTokenExpired
	}

	next, err := m.client.Refresh(ctx, current)
	if err != nil {
		m.logger.Error().Err(err).Str("realm_id", current.RealmID).Msg("token refresh failed")
		return nil, errors.Wrap(err, "Manager.Refresh")
	}

	next.RealmID = current.RealmID
	if next.IDToken == nil {
		next.IDToken = current.IDToken
	}
	if next.UserProfile == nil {
		next.UserProfile = current.UserProfile
	}

	// A revoke, clear or exchange that landed during the call wins.
	held, swapped := m.holder.CompareAndSwap(current, next)
	if !swapped {
		m.logger.Info().Str("realm_id", current.RealmID).Msg("token replaced during refresh, result discarded")
		if held == nil {
			return nil, ErrNotAuthorized
		}
		return held, nil
	}
	m.logger.Info().
		Str("realm_id", next.RealmID).
		Time("access_expires_at", next.AccessTokenExpiresAt).
		Msg("token refreshed")
	m.notify(ctx, EventRefreshed, next)
	return next, nil
}

// notify runs observers; their failures are logged and never change the
// outcome of the operation that fired them.
func (m *Manager) notify(ctx context.Context, event Event, t *Token) {
	if err := m.events.Notify(ctx, event, *t); err != nil {
		m.logger.Warn().Err(err).Str("event", string(event)).Msg("token observer failed")
	}
}
