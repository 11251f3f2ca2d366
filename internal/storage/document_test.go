package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func exerciseStore(t *testing.T, store DocumentStore) {
	t.Helper()
	ctx := context.Background()

	_, err := store.Load(ctx, "global_memory")
	require.ErrorIs(t, err, ErrNotFound)

	size, err := store.Size(ctx, "global_memory")
	require.NoError(t, err)
	require.Zero(t, size)

	require.NoError(t, store.Save(ctx, "global_memory", []byte(`[{"role":"user"}]`)))
	require.NoError(t, store.Save(ctx, "global_memory", []byte(`[]`)))

	data, err := store.Load(ctx, "global_memory")
	require.NoError(t, err)
	require.Equal(t, `[]`, string(data))

	size, err = store.Size(ctx, "global_memory")
	require.NoError(t, err)
	require.EqualValues(t, 2, size)

	require.Error(t, store.Save(ctx, "../escape", []byte("x")))
}

func TestFileStore(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)
	exerciseStore(t, store)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "temp files should be renamed away")
	require.Equal(t, "global_memory.json", entries[0].Name())
}

func TestSQLiteStore(t *testing.T) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "docs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	exerciseStore(t, store)
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	store, err := NewRedisStore(context.Background(), addr, "", 0, "tavern-link-test:"+t.Name()+":")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	exerciseStore(t, store)
}

func TestPostgresStore(t *testing.T) {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	store, err := NewPostgresStore(context.Background(), url)
	require.NoError(t, err)
	t.Cleanup(func() {
		store.pool.Exec(context.Background(), `DELETE FROM tavern_documents WHERE name = 'global_memory'`)
		store.Close()
	})
	exerciseStore(t, store)
}

func TestNewRejectsUnknownBackend(t *testing.T) {
	_, err := New(context.Background(), Options{Backend: "etcd"})
	require.Error(t, err)
}

func TestNewDefaultsToFile(t *testing.T) {
	store, err := New(context.Background(), Options{DataDir: t.TempDir()})
	require.NoError(t, err)
	_, ok := store.(*FileStore)
	require.True(t, ok)
}
