package token

import "sync"

// Holder is the single-slot cell owning the current token.
// Each Manager owns its own Holder; nothing is shared between managers.
type Holder struct {
	mu    sync.RWMutex
	token *Token
}

func NewHolder() *Holder {
	return &Holder{}
}

// Get returns a copy of the current token or ErrNotAuthorized.
func (h *Holder) Get() (*Token, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.token == nil {
		return nil, ErrNotAuthorized
	}
	return h.token.Clone(), nil
}

// Set replaces the current token. nil clears it.
func (h *Holder) Set(t *Token) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.token = t.Clone()
}

// CompareAndSwap installs next only while the held token is still old, matched
// on its access and refresh tokens. It returns the token held afterwards and
// whether next was installed.
func (h *Holder) CompareAndSwap(old, next *Token) (*Token, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.token == nil || old == nil ||
		h.token.AccessToken != old.AccessToken || h.token.RefreshToken != old.RefreshToken {
		return h.token.Clone(), false
	}
	h.token = next.Clone()
	return h.token.Clone(), true
}

// Update applies fn to a copy of the current token and installs the result
// only if fn succeeds.
func (h *Holder) Update(fn func(t *Token) error) (*Token, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.token == nil {
		return nil, ErrNotAuthorized
	}
	next := h.token.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	h.token = next
	return next.Clone(), nil
}
