// Package sqliterepo stores serialized tokens in a SQLite database.
package sqliterepo

import (
	"context"
	"database/sql"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jrsteele09/go-qbo-auth/tokenstore"
	"github.com/jrsteele09/go-qbo-auth/tokenstore/sqliterepo/migrations"
	"github.com/pkg/errors"

	_ "modernc.org/sqlite"
)

var _ tokenstore.Repo = (*Repo)(nil)
var _ tokenstore.Stamper = (*Repo)(nil)

type Repo struct {
	db      *sql.DB
	nowFunc func() time.Time
}

type Option func(*Repo)

func WithNowFunc(now func() time.Time) Option {
	return func(r *Repo) {
		r.nowFunc = now
	}
}

// Open opens the database at dsn and applies pending migrations.
func Open(dsn string, options ...Option) (*Repo, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "sqliterepo.Open")
	}
	// SQLite allows one writer; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(context.Background(), `PRAGMA busy_timeout = 5000;`); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "sqliterepo.Open busy_timeout")
	}

	r := &Repo{db: db, nowFunc: time.Now}
	for _, opt := range options {
		opt(r)
	}
	if err := r.ApplyMigrations(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

func (r *Repo) Close() error { return r.db.Close() }

// ApplyMigrations runs the embedded migrations. It is safe to call repeatedly.
func (r *Repo) ApplyMigrations() error {
	driver, err := sqlite.WithInstance(r.db, &sqlite.Config{})
	if err != nil {
		return errors.Wrap(err, "Repo.ApplyMigrations driver")
	}
	source, err := iofs.New(migrations.Migrations, ".")
	if err != nil {
		return errors.Wrap(err, "Repo.ApplyMigrations source")
	}
	instance, err := migrate.NewWithInstance("iofs", source, "", driver)
	if err != nil {
		return errors.Wrap(err, "Repo.ApplyMigrations NewWithInstance")
	}
	if err := instance.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return errors.Wrap(err, "Repo.ApplyMigrations Up")
	}
	return nil
}

func (r *Repo) Put(ctx context.Context, key, serialized string) error {
	if key == "" {
		return tokenstore.ErrInvalidKey
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO tokens (key, serialized, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET serialized = excluded.serialized, updated_at = excluded.updated_at`,
		key, serialized, r.nowFunc().Unix())
	if err != nil {
		return errors.Wrap(err, "Repo.Put")
	}
	return nil
}

func (r *Repo) Get(ctx context.Context, key string) (string, error) {
	var serialized string
	err := r.db.QueryRowContext(ctx, `SELECT serialized FROM tokens WHERE key = ?`, key).Scan(&serialized)
	if err != nil {
		return "", mapNotFound(err)
	}
	return serialized, nil
}

func (r *Repo) Delete(ctx context.Context, key string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM tokens WHERE key = ?`, key); err != nil {
		return errors.Wrap(err, "Repo.Delete")
	}
	return nil
}

// UpdatedAt reports when key was last written.
func (r *Repo) UpdatedAt(ctx context.Context, key string) (time.Time, error) {
	var unix int64
	err := r.db.QueryRowContext(ctx, `SELECT updated_at FROM tokens WHERE key = ?`, key).Scan(&unix)
	if err != nil {
		return time.Time{}, mapNotFound(err)
	}
	return time.Unix(unix, 0).UTC(), nil
}

func mapNotFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return tokenstore.ErrNotFound
	}
	return errors.Wrap(err, "sqliterepo")
}
