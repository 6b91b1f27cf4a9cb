package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "payload")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLocalUploadDownloadRoundTrip(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	src := writeTempFile(t, "snapshot contents")
	require.NoError(t, store.Upload(ctx, src, "snapshots/a/one.json"))

	exists, err := store.Exists(ctx, "snapshots/a/one.json")
	require.NoError(t, err)
	assert.True(t, exists)

	dest := filepath.Join(t.TempDir(), "out")
	require.NoError(t, store.Download(ctx, "snapshots/a/one.json", dest))
	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "snapshot contents", string(data))
}

func TestLocalDownloadMissingObject(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	err = store.Download(context.Background(), "absent", filepath.Join(t.TempDir(), "out"))
	assert.ErrorIs(t, err, ErrObjectNotFound)
}

func TestLocalDeleteIsIdempotent(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	src := writeTempFile(t, "x")
	require.NoError(t, store.Upload(ctx, src, "obj"))
	require.NoError(t, store.Delete(ctx, "obj"))
	require.NoError(t, store.Delete(ctx, "obj"))

	exists, err := store.Exists(ctx, "obj")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestLocalListObjects(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	src := writeTempFile(t, "x")
	require.NoError(t, store.Upload(ctx, src, "snapshots/one"))
	require.NoError(t, store.Upload(ctx, src, "snapshots/two"))
	require.NoError(t, store.Upload(ctx, src, "other/three"))

	objects, err := store.ListObjects(ctx, "snapshots")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"snapshots/one", "snapshots/two"}, objects)

	empty, err := store.ListObjects(ctx, "missing-prefix")
	require.NoError(t, err)
	assert.Empty(t, empty)
}
