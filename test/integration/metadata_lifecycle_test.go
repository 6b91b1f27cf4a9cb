// Package integration provides end-to-end integration tests for the
// metadata service.
package integration

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/LebronAl/incubator-iotdb/internal/manifest"
	"github.com/LebronAl/incubator-iotdb/internal/metadata"
	"github.com/LebronAl/incubator-iotdb/internal/oplog"
	"github.com/LebronAl/incubator-iotdb/internal/snapshot"
	"github.com/LebronAl/incubator-iotdb/internal/storage"
	"github.com/LebronAl/incubator-iotdb/pkg/types"
)

// TestMetadataLifecycle tests the end-to-end flow:
// manager → oplog + catalog → restart → replay → snapshot exchange
func TestMetadataLifecycle(t *testing.T) {
	ctx := context.Background()
	tempDir := t.TempDir()

	oplogDir := filepath.Join(tempDir, "oplog")
	manifestPath := filepath.Join(tempDir, "manifest.db")
	storageDir := filepath.Join(tempDir, "storage")
	scratchDir := filepath.Join(tempDir, "scratch")

	catalog, err := manifest.NewCatalog(manifestPath)
	if err != nil {
		t.Fatalf("failed to create catalog: %v", err)
	}

	wlog, err := oplog.Open(oplogDir, 1<<20)
	if err != nil {
		t.Fatalf("failed to open oplog: %v", err)
	}

	manager := metadata.NewManager(metadata.ManagerOptions{
		Log:        wlog,
		Catalog:    catalog,
		DefaultTTL: 24 * time.Hour,
	})

	// Declare a storage group and a few series
	if err := manager.SetStorageGroup(ctx, "root.vehicle", time.Hour); err != nil {
		t.Fatalf("failed to set storage group: %v", err)
	}
	series := []string{"root.vehicle.d0.s0", "root.vehicle.d0.s1", "root.vehicle.d1.s0"}
	for _, path := range series {
		err := manager.CreateTimeseries(ctx, path, types.DataTypeInt32, types.EncodingRLE, types.CompressorSnappy, nil)
		if err != nil {
			t.Fatalf("failed to create %s: %v", path, err)
		}
	}

	// Delete one series; pruning must not cross the storage group
	group, err := manager.DeleteTimeseries(ctx, "root.vehicle.d1.s0")
	if err != nil {
		t.Fatalf("failed to delete series: %v", err)
	}
	if group != "root.vehicle" {
		t.Errorf("expected pruning to reach root.vehicle, got %q", group)
	}

	// Catalog holds the declared TTL
	record, err := catalog.GetStorageGroup(ctx, "root.vehicle")
	if err != nil {
		t.Fatalf("failed to read catalog: %v", err)
	}
	if record == nil || record.TTL() != time.Hour {
		t.Errorf("expected catalog TTL of 1h, got %+v", record)
	}

	// Simulate a restart: close everything, replay the log into a new manager
	if err := wlog.Close(); err != nil {
		t.Fatalf("failed to close oplog: %v", err)
	}
	if err := catalog.Close(); err != nil {
		t.Fatalf("failed to close catalog: %v", err)
	}

	entries, err := oplog.ReplayAll(oplogDir)
	if err != nil {
		t.Fatalf("failed to replay oplog: %v", err)
	}
	if len(entries) != 5 {
		t.Fatalf("expected 5 oplog entries, got %d", len(entries))
	}

	catalog, err = manifest.NewCatalog(manifestPath)
	if err != nil {
		t.Fatalf("failed to reopen catalog: %v", err)
	}
	defer catalog.Close()

	wlog, err = oplog.Open(oplogDir, 1<<20)
	if err != nil {
		t.Fatalf("failed to reopen oplog: %v", err)
	}
	defer wlog.Close()

	manager = metadata.NewManager(metadata.ManagerOptions{
		Log:     wlog,
		Catalog: catalog,
	})
	manager.Replay(entries)

	if !manager.PathExists("root.vehicle.d0.s0") {
		t.Error("expected root.vehicle.d0.s0 to survive replay")
	}
	if manager.PathExists("root.vehicle.d1.s0") {
		t.Error("expected root.vehicle.d1.s0 to stay deleted after replay")
	}
	if !manager.IsStorageGroup("root.vehicle") {
		t.Error("expected root.vehicle to stay a storage group after replay")
	}

	// New mutations continue the log where replay left off
	err = manager.CreateTimeseries(ctx, "root.vehicle.d2.s0", types.DataTypeFloat, types.EncodingGorilla, types.CompressorSnappy, nil)
	if err != nil {
		t.Fatalf("failed to create series after replay: %v", err)
	}

	// Publish a snapshot and merge it back through object storage
	store, err := storage.NewLocalStorage(storageDir)
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	publisher := snapshot.NewPublisher(store, "metadata-snapshots", scratchDir)

	if _, err := publisher.Publish(ctx, manager.Export()); err != nil {
		t.Fatalf("failed to publish snapshot: %v", err)
	}
	merged, err := publisher.MergeAll(ctx)
	if err != nil {
		t.Fatalf("failed to merge snapshots: %v", err)
	}

	root := merged.Child("root")
	if root == nil {
		t.Fatal("expected merged snapshot to contain root")
	}
	vehicle := root.Child("vehicle")
	if vehicle == nil {
		t.Fatal("expected merged snapshot to contain root.vehicle")
	}
	if len(vehicle.Children()) != 2 {
		t.Errorf("expected 2 devices under root.vehicle, got %d", len(vehicle.Children()))
	}
}
