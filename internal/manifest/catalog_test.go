package manifest

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCatalog(t *testing.T) *SQLiteCatalog {
	t.Helper()
	catalog, err := NewCatalog(filepath.Join(t.TempDir(), "manifest.db"))
	require.NoError(t, err)
	t.Cleanup(func() { catalog.Close() })
	return catalog
}

func TestRegisterAndGetStorageGroup(t *testing.T) {
	catalog := newTestCatalog(t)
	ctx := context.Background()

	require.NoError(t, catalog.RegisterStorageGroup(ctx, "root.vehicle", 24*time.Hour))

	rec, err := catalog.GetStorageGroup(ctx, "root.vehicle")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "root.vehicle", rec.Name)
	assert.Equal(t, 24*time.Hour, rec.TTL())
}

func TestGetMissingStorageGroup(t *testing.T) {
	catalog := newTestCatalog(t)

	rec, err := catalog.GetStorageGroup(context.Background(), "root.absent")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestRegisterIsIdempotent(t *testing.T) {
	catalog := newTestCatalog(t)
	ctx := context.Background()

	require.NoError(t, catalog.RegisterStorageGroup(ctx, "root.g", time.Hour))
	require.NoError(t, catalog.RegisterStorageGroup(ctx, "root.g", 2*time.Hour))

	rec, err := catalog.GetStorageGroup(ctx, "root.g")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, 2*time.Hour, rec.TTL())

	records, err := catalog.ListStorageGroups(ctx)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestListStorageGroupsOrdered(t *testing.T) {
	catalog := newTestCatalog(t)
	ctx := context.Background()

	require.NoError(t, catalog.RegisterStorageGroup(ctx, "root.zone", 0))
	require.NoError(t, catalog.RegisterStorageGroup(ctx, "root.alpha", 0))
	require.NoError(t, catalog.RegisterStorageGroup(ctx, "root.mid", 0))

	records, err := catalog.ListStorageGroups(ctx)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "root.alpha", records[0].Name)
	assert.Equal(t, "root.mid", records[1].Name)
	assert.Equal(t, "root.zone", records[2].Name)
}

func TestRemoveStorageGroup(t *testing.T) {
	catalog := newTestCatalog(t)
	ctx := context.Background()

	require.NoError(t, catalog.RegisterStorageGroup(ctx, "root.g", time.Hour))
	require.NoError(t, catalog.RemoveStorageGroup(ctx, "root.g"))

	rec, err := catalog.GetStorageGroup(ctx, "root.g")
	require.NoError(t, err)
	assert.Nil(t, rec)

	// Removing twice is not an error
	require.NoError(t, catalog.RemoveStorageGroup(ctx, "root.g"))
}
