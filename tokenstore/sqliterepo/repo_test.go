package sqliterepo_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/jrsteele09/go-qbo-auth/tokenstore"
	"github.com/jrsteele09/go-qbo-auth/tokenstore/sqliterepo"
	"github.com/stretchr/testify/require"
)

func openRepo(t *testing.T, path string, now time.Time) *sqliterepo.Repo {
	t.Helper()
	r, err := sqliterepo.Open(path, sqliterepo.WithNowFunc(func() time.Time { return now }))
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestRepo_PutGetDelete(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r := openRepo(t, filepath.Join(t.TempDir(), "tokens.db"), now)

	_, err := r.Get(ctx, "company-123")
	require.ErrorIs(t, err, tokenstore.ErrNotFound)

	require.NoError(t, r.Put(ctx, "company-123", "first"))
	require.NoError(t, r.Put(ctx, "company-123", "second"))
	require.NoError(t, r.Put(ctx, "company-456", "other"))

	got, err := r.Get(ctx, "company-123")
	require.NoError(t, err)
	require.Equal(t, "second", got)

	updated, err := r.UpdatedAt(ctx, "company-123")
	require.NoError(t, err)
	require.True(t, updated.Equal(now))

	require.NoError(t, r.Delete(ctx, "company-123"))
	require.NoError(t, r.Delete(ctx, "company-123"))
	_, err = r.Get(ctx, "company-123")
	require.ErrorIs(t, err, tokenstore.ErrNotFound)

	got, err = r.Get(ctx, "company-456")
	require.NoError(t, err)
	require.Equal(t, "other", got)

	require.ErrorIs(t, r.Put(ctx, "", "x"), tokenstore.ErrInvalidKey)
}

func TestRepo_Reopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "tokens.db")
	now := time.Now()

	first, err := sqliterepo.Open(path)
	require.NoError(t, err)
	require.NoError(t, first.Put(ctx, "company-123", "persisted"))
	require.NoError(t, first.Close())

	second := openRepo(t, path, now)
	require.NoError(t, second.ApplyMigrations())

	got, err := second.Get(ctx, "company-123")
	require.NoError(t, err)
	require.Equal(t, "persisted", got)
}
