// Package filerepo stores each serialized token in its own file, readable only
// by the owning user.
package filerepo

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/jrsteele09/go-qbo-auth/tokenstore"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	fileSuffix      = ".token"
	fileMode        = 0o600
	dirMode         = 0o700
	defaultDebounce = 500 * time.Millisecond
)

var _ tokenstore.Repo = (*Repo)(nil)
var _ tokenstore.Watcher = (*Repo)(nil)
var _ tokenstore.Stamper = (*Repo)(nil)

type Repo struct {
	dir      string
	debounce time.Duration
	logger   zerolog.Logger
	lock     sync.Mutex
}

type Option func(*Repo)

// WithDebounce sets how long Watch waits for writes to settle before firing.
func WithDebounce(d time.Duration) Option {
	return func(r *Repo) {
		r.debounce = d
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(r *Repo) {
		r.logger = logger
	}
}

// New creates dir if needed.
func New(dir string, options ...Option) (*Repo, error) {
	if err := os.MkdirAll(dir, dirMode); err != nil {
		return nil, errors.Wrap(err, "filerepo.New MkdirAll")
	}
	r := &Repo{
		dir:      dir,
		debounce: defaultDebounce,
		logger:   log.Logger,
	}
	for _, opt := range options {
		opt(r)
	}
	return r, nil
}

// Put writes to a temporary file and renames it over the target, so readers
// never see a partial token.
func (r *Repo) Put(_ context.Context, key, serialized string) error {
	path, err := r.path(key)
	if err != nil {
		return err
	}

	r.lock.Lock()
	defer r.lock.Unlock()

	tmp, err := os.CreateTemp(r.dir, ".tmp-*")
	if err != nil {
		return errors.Wrap(err, "Repo.Put CreateTemp")
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(fileMode); err != nil {
		_ = tmp.Close()
		return errors.Wrap(err, "Repo.Put Chmod")
	}
	if _, err := tmp.WriteString(serialized); err != nil {
		_ = tmp.Close()
		return errors.Wrap(err, "Repo.Put Write")
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return errors.Wrap(err, "Repo.Put Sync")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "Repo.Put Close")
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return errors.Wrap(err, "Repo.Put Rename")
	}
	return nil
}

func (r *Repo) Get(_ context.Context, key string) (string, error) {
	path, err := r.path(key)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return "", tokenstore.ErrNotFound
	}
	if err != nil {
		return "", errors.Wrap(err, "Repo.Get ReadFile")
	}
	return strings.TrimSpace(string(data)), nil
}

// UpdatedAt reports the modification time of the token file.
func (r *Repo) UpdatedAt(_ context.Context, key string) (time.Time, error) {
	path, err := r.path(key)
	if err != nil {
		return time.Time{}, err
	}
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return time.Time{}, tokenstore.ErrNotFound
	}
	if err != nil {
		return time.Time{}, errors.Wrap(err, "Repo.UpdatedAt")
	}
	return info.ModTime(), nil
}

func (r *Repo) Delete(_ context.Context, key string) error {
	path, err := r.path(key)
	if err != nil {
		return err
	}

	r.lock.Lock()
	defer r.lock.Unlock()

	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return errors.Wrap(err, "Repo.Delete Remove")
	}
	return nil
}

// Watch calls onChange after the file for key is written, replaced or
// removed, once writes have been quiet for the debounce interval. It stops
// when ctx is done.
func (r *Repo) Watch(ctx context.Context, key string, onChange func()) error {
	path, err := r.path(key)
	if err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "Repo.Watch NewWatcher")
	}
	// Watch the directory; renames replace the file and would drop a file watch.
	if err := watcher.Add(r.dir); err != nil {
		_ = watcher.Close()
		return errors.Wrap(err, "Repo.Watch Add")
	}

	changed := make(chan struct{}, 1)
	go r.handleWatcher(ctx, watcher, filepath.Base(path), changed)
	go r.scheduleReload(ctx, changed, onChange)
	return nil
}

func (r *Repo) handleWatcher(ctx context.Context, watcher *fsnotify.Watcher, name string, changed chan<- struct{}) {
	defer watcher.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if event.Has(fsnotify.Write | fsnotify.Remove | fsnotify.Create | fsnotify.Rename) {
				select {
				case changed <- struct{}{}:
				default:
				}
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			r.logger.Warn().Err(err).Str("dir", r.dir).Msg("token file watcher error")
		}
	}
}

func (r *Repo) scheduleReload(ctx context.Context, changed <-chan struct{}, onChange func()) {
	var timer *time.Timer
	var c <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case <-changed:
			if timer != nil {
				timer.Reset(r.debounce)
			} else {
				timer = time.NewTimer(r.debounce)
				c = timer.C
			}
		case <-c:
			c = nil
			timer = nil
			onChange()
		}
	}
}

// path maps a key to a file in the repo directory. Keys are single path
// elements; anything that could escape the directory is rejected.
func (r *Repo) path(key string) (string, error) {
	if key == "" || strings.HasPrefix(key, ".") || key != filepath.Base(key) || strings.ContainsAny(key, `/\`) {
		return "", errors.Wrapf(tokenstore.ErrInvalidKey, "%q", key)
	}
	return filepath.Join(r.dir, key+fileSuffix), nil
}
