package tokenstore

import (
	"context"
	"time"
	"unicode/utf8"

	"github.com/jrsteele09/go-qbo-auth/token"
	"github.com/jrsteele09/go-qbo-auth/token/codec"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Persister encrypts tokens with a codec and keeps them in a Repo under a
// single key.
type Persister struct {
	repo   Repo
	codec  *codec.Codec
	key    string
	secret string
	logger zerolog.Logger
}

type PersisterOption func(*Persister)

func WithCodec(c *codec.Codec) PersisterOption {
	return func(p *Persister) {
		p.codec = c
	}
}

func WithLogger(logger zerolog.Logger) PersisterOption {
	return func(p *Persister) {
		p.logger = logger
	}
}

// NewPersister checks the secret up front so a misconfigured service fails at
// startup rather than on the first refresh.
func NewPersister(repo Repo, key, secret string, options ...PersisterOption) (*Persister, error) {
	if key == "" {
		return nil, ErrInvalidKey
	}
	if utf8.RuneCountInString(secret) < codec.MinSecretLength {
		return nil, token.ErrWeakSecretKey
	}

	p := &Persister{
		repo:   repo,
		key:    key,
		secret: secret,
		logger: log.Logger,
	}
	for _, opt := range options {
		opt(p)
	}
	if p.codec == nil {
		p.codec = codec.New()
	}
	return p, nil
}

func (p *Persister) Key() string { return p.key }

// Save serializes t and writes it to the repo.
func (p *Persister) Save(ctx context.Context, t *token.Token) error {
	serialized, err := p.codec.Serialize(t, p.secret)
	if err != nil {
		return errors.Wrap(err, "Persister.Save Serialize")
	}
	if err := p.repo.Put(ctx, p.key, serialized); err != nil {
		return errors.Wrap(err, "Persister.Save Put")
	}
	p.logger.Debug().Str("key", p.key).Msg("token saved")
	return nil
}

// Load reads and decrypts the stored token. ErrNotFound is returned as is.
func (p *Persister) Load(ctx context.Context) (*token.Token, error) {
	serialized, err := p.repo.Get(ctx, p.key)
	if err != nil {
		return nil, err
	}
	t, err := p.codec.Deserialize(serialized, p.secret)
	if err != nil {
		return nil, errors.Wrap(err, "Persister.Load Deserialize")
	}
	return t, nil
}

// Delete removes the stored token.
func (p *Persister) Delete(ctx context.Context) error {
	if err := p.repo.Delete(ctx, p.key); err != nil {
		return errors.Wrap(err, "Persister.Delete")
	}
	p.logger.Debug().Str("key", p.key).Msg("token deleted")
	return nil
}

// SavedAt reports when the stored token was last written, if the repo keeps
// that and a token is stored.
func (p *Persister) SavedAt(ctx context.Context) (time.Time, bool) {
	stamper, ok := p.repo.(Stamper)
	if !ok {
		return time.Time{}, false
	}
	savedAt, err := stamper.UpdatedAt(ctx, p.key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			p.logger.Warn().Err(err).Str("key", p.key).Msg("stored token time unavailable")
		}
		return time.Time{}, false
	}
	return savedAt, true
}

// Restore installs the stored token into m. It reports false with no error
// when nothing is stored. Installing may refresh the token, see
// token.Manager.SetToken.
func (p *Persister) Restore(ctx context.Context, m *token.Manager) (bool, error) {
	t, err := p.Load(ctx)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := m.SetToken(ctx, t); err != nil {
		return true, errors.Wrap(err, "Persister.Restore SetToken")
	}
	p.logger.Info().Str("key", p.key).Str("realm_id", t.RealmID).Msg("token restored")
	return true, nil
}

// Attach saves every refreshed token and deletes the stored token on revoke.
// The returned func detaches both observers.
func (p *Persister) Attach(m *token.Manager) func() {
	refreshed := m.OnRefresh(func(ctx context.Context, t token.Token) error {
		return p.Save(ctx, &t)
	})
	revoked := m.OnRevoke(func(ctx context.Context, _ token.Token) error {
		return p.Delete(ctx)
	})
	return func() {
		refreshed.Cancel()
		revoked.Cancel()
	}
}

// Follow reloads the stored token into m whenever w reports a change made
// elsewhere, such as another process refreshing the same company. Changes
// that match the token m already holds are ignored. A removed token means
// another process revoked it, so m is cleared too.
func (p *Persister) Follow(ctx context.Context, m *token.Manager, w Watcher) error {
	return w.Watch(ctx, p.key, func() {
		stored, err := p.Load(ctx)
		if errors.Is(err, ErrNotFound) {
			if _, err := m.Current(); err == nil {
				_ = m.SetToken(ctx, nil)
				p.logger.Info().Str("key", p.key).Msg("stored token removed, token cleared")
			}
			return
		}
		if err != nil {
			p.logger.Warn().Err(err).Str("key", p.key).Msg("stored token unreadable")
			return
		}
		if current, err := m.Current(); err == nil && current.AccessToken == stored.AccessToken {
			return
		}
		if err := m.SetToken(ctx, stored); err != nil {
			p.logger.Warn().Err(err).Str("key", p.key).Msg("reloaded token could not be refreshed")
			return
		}
		p.logger.Info().Str("key", p.key).Str("realm_id", stored.RealmID).Msg("token reloaded from store")
	})
}
