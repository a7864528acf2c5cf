package repofake

import (
	"context"
	"sync"
	"time"

	"github.com/jrsteele09/go-qbo-auth/tokenstore"
)

var _ tokenstore.Repo = (*FakeTokenRepo)(nil)
var _ tokenstore.Watcher = (*FakeTokenRepo)(nil)
var _ tokenstore.Stamper = (*FakeTokenRepo)(nil)

// FakeTokenRepo keeps serialized tokens in memory. Put and Delete fire any
// watchers registered for the key synchronously.
type FakeTokenRepo struct {
	tokens   map[string]string
	updated  map[string]time.Time
	watchers map[string][]func()
	PutErr   error
	lock     sync.RWMutex
}

func NewFakeTokenRepo() *FakeTokenRepo {
	return &FakeTokenRepo{
		tokens:   make(map[string]string),
		updated:  make(map[string]time.Time),
		watchers: make(map[string][]func()),
	}
}

func (r *FakeTokenRepo) Put(_ context.Context, key, serialized string) error {
	r.lock.Lock()
	if r.PutErr != nil {
		r.lock.Unlock()
		return r.PutErr
	}
	r.tokens[key] = serialized
	r.updated[key] = time.Now()
	watchers := append([]func(){}, r.watchers[key]...)
	r.lock.Unlock()

	for _, fn := range watchers {
		fn()
	}
	return nil
}

func (r *FakeTokenRepo) Get(_ context.Context, key string) (string, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	serialized, ok := r.tokens[key]
	if !ok {
		return "", tokenstore.ErrNotFound
	}
	return serialized, nil
}

func (r *FakeTokenRepo) UpdatedAt(_ context.Context, key string) (time.Time, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	updated, ok := r.updated[key]
	if !ok {
		return time.Time{}, tokenstore.ErrNotFound
	}
	return updated, nil
}

func (r *FakeTokenRepo) Delete(_ context.Context, key string) error {
	r.lock.Lock()
	delete(r.tokens, key)
	delete(r.updated, key)
	watchers := append([]func(){}, r.watchers[key]...)
	r.lock.Unlock()

	for _, fn := range watchers {
		fn()
	}
	return nil
}

func (r *FakeTokenRepo) Watch(_ context.Context, key string, onChange func()) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.watchers[key] = append(r.watchers[key], onChange)
	return nil
}

// Len reports how many keys are stored.
func (r *FakeTokenRepo) Len() int {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return len(r.tokens)
}
