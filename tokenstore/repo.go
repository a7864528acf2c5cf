// Package tokenstore keeps serialized tokens outside process memory and wires
// a token.Manager to that storage.
package tokenstore

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

var (
	ErrNotFound   = errors.New("serialized token not found")
	ErrInvalidKey = errors.New("invalid token key")
)

// Repo stores serialized tokens by key, usually one key per connected
// company. Values are opaque; repos never see plaintext. Deleting a missing
// key is not an error.
type Repo interface {
	Put(ctx context.Context, key, serialized string) error
	Get(ctx context.Context, key string) (string, error)
	Delete(ctx context.Context, key string) error
}

// Stamper is implemented by repos that record when a key was last written.
type Stamper interface {
	UpdatedAt(ctx context.Context, key string) (time.Time, error)
}

// Watcher is implemented by repos that can report changes made by other
// processes.
type Watcher interface {
	Watch(ctx context.Context, key string, onChange func()) error
}
