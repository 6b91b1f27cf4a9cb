// Package snapshot publishes metadata export snapshots to object storage and
// merges the snapshots of every cluster instance into one combined view.
package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/golang/snappy"
	"github.com/google/uuid"

	"github.com/LebronAl/incubator-iotdb/internal/errors"
	"github.com/LebronAl/incubator-iotdb/internal/metadata"
	"github.com/LebronAl/incubator-iotdb/internal/storage"
)

// Publisher writes snapshots under a shared object prefix and reads back the
// snapshots of all instances.
type Publisher struct {
	store      storage.ObjectStorage
	prefix     string
	instanceID string
	scratchDir string
}

// NewPublisher creates a Publisher. Each instance gets a stable random ID so
// its snapshots overwrite each other instead of piling up.
func NewPublisher(store storage.ObjectStorage, prefix, scratchDir string) *Publisher {
	return &Publisher{
		store:      store,
		prefix:     prefix,
		instanceID: uuid.New().String(),
		scratchDir: scratchDir,
	}
}

// InstanceID returns the publisher's instance identifier.
func (p *Publisher) InstanceID() string {
	return p.instanceID
}

// objectPath returns the object key for this instance's snapshot.
func (p *Publisher) objectPath() string {
	return path.Join(p.prefix, p.instanceID+".json.sz")
}

// Publish uploads the export tree as this instance's current snapshot. The
// snapshot is JSON-encoded, snappy-compressed, staged to a scratch file, and
// uploaded under the instance's key.
func (p *Publisher) Publish(ctx context.Context, export *metadata.ExportNode) (string, error) {
	raw, err := json.Marshal(export)
	if err != nil {
		return "", errors.Wrap(errors.ErrCategorySnapshot, errors.CodeSnapshotFailed,
			"failed to encode snapshot", err)
	}
	compressed := snappy.Encode(nil, raw)

	if err := os.MkdirAll(p.scratchDir, 0755); err != nil {
		return "", errors.Wrap(errors.ErrCategorySnapshot, errors.CodeSnapshotFailed,
			"failed to create scratch directory", err)
	}
	scratch := filepath.Join(p.scratchDir, fmt.Sprintf("snapshot-%s.tmp", uuid.New().String()))
	if err := os.WriteFile(scratch, compressed, 0644); err != nil {
		return "", errors.Wrap(errors.ErrCategorySnapshot, errors.CodeSnapshotFailed,
			"failed to stage snapshot", err)
	}
	defer os.Remove(scratch)

	objectPath := p.objectPath()
	start := time.Now()
	if err := p.store.Upload(ctx, scratch, objectPath); err != nil {
		return "", errors.Wrap(errors.ErrCategorySnapshot, errors.CodeSnapshotFailed,
			"failed to upload snapshot", err)
	}
	log.Printf("snapshot: published %s (%d bytes compressed) in %s",
		objectPath, len(compressed), time.Since(start))

	return objectPath, nil
}

// MergeAll downloads every snapshot under the prefix and folds them into one
// combined export tree. Snapshots that fail to download or decode are skipped
// with a warning so a single bad object cannot block the merged view.
func (p *Publisher) MergeAll(ctx context.Context) (*metadata.ExportNode, error) {
	keys, err := p.store.ListObjects(ctx, p.prefix)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCategorySnapshot, errors.CodeSnapshotFailed,
			"failed to list snapshots", err)
	}

	exports := make([]*metadata.ExportNode, 0, len(keys))
	for _, key := range keys {
		export, err := p.fetch(ctx, key)
		if err != nil {
			log.Printf("snapshot: skipping %s: %v", key, err)
			continue
		}
		exports = append(exports, export)
	}

	return metadata.CombineAll(exports), nil
}

// fetch downloads and decodes one snapshot object.
func (p *Publisher) fetch(ctx context.Context, key string) (*metadata.ExportNode, error) {
	if err := os.MkdirAll(p.scratchDir, 0755); err != nil {
		return nil, err
	}
	scratch := filepath.Join(p.scratchDir, fmt.Sprintf("merge-%s.tmp", uuid.New().String()))
	defer os.Remove(scratch)

	if err := p.store.Download(ctx, key, scratch); err != nil {
		return nil, err
	}
	compressed, err := os.ReadFile(scratch)
	if err != nil {
		return nil, err
	}
	raw, err := snappy.Decode(nil, compressed)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress snapshot: %w", err)
	}
	return metadata.ParseExport(raw)
}
