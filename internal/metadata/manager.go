package metadata

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/LebronAl/incubator-iotdb/internal/errors"
	"github.com/LebronAl/incubator-iotdb/internal/manifest"
	"github.com/LebronAl/incubator-iotdb/internal/nvm"
	"github.com/LebronAl/incubator-iotdb/internal/observability"
	"github.com/LebronAl/incubator-iotdb/internal/oplog"
	"github.com/LebronAl/incubator-iotdb/pkg/types"
)

// Manager is the synchronization boundary around the metadata tree. Mutations
// take the write lock, are applied to the tree, then recorded in the
// operation log and the storage-group catalog. Reads take the read lock and
// delegate to the tree.
type Manager struct {
	mu         sync.RWMutex
	tree       *Tree
	log        *oplog.Log
	catalog    manifest.Catalog
	registry   *nvm.Registry
	stats      *observability.OpStats
	defaultTTL time.Duration
}

// ManagerOptions configures a Manager. Log and Catalog may be nil, which
// disables durability and catalog bookkeeping (used by tests and by replay
// tooling).
type ManagerOptions struct {
	Log        *oplog.Log
	Catalog    manifest.Catalog
	Registry   *nvm.Registry
	Stats      *observability.OpStats
	DefaultTTL time.Duration
}

// NewManager creates a Manager over a fresh tree rooted at RootName.
func NewManager(opts ManagerOptions) *Manager {
	registry := opts.Registry
	if registry == nil {
		registry = nvm.NewRegistry()
	}
	stats := opts.Stats
	if stats == nil {
		stats = observability.NewOpStats()
	}
	return &Manager{
		tree:       NewTree(RootName),
		log:        opts.Log,
		catalog:    opts.Catalog,
		registry:   registry,
		stats:      stats,
		defaultTTL: opts.DefaultTTL,
	}
}

// Replay rebuilds the tree from logged operations without re-logging them.
// Entries that fail to apply are skipped with a warning: a crash between a
// mutation and its log append can leave the log slightly ahead or behind,
// and replay must converge on the surviving state.
func (m *Manager) Replay(entries []*oplog.Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range entries {
		var err error
		switch e.Op {
		case oplog.OpCreateTimeseries:
			err = m.tree.InsertSeries(e.Path, types.DataType(e.DataType),
				types.Encoding(e.Encoding), types.Compressor(e.Compressor), e.Props)
		case oplog.OpDeleteTimeseries:
			_, err = m.tree.DeleteSeries(e.Path)
		case oplog.OpSetStorageGroup:
			err = m.tree.SetStorageGroup(e.Path, time.Duration(e.TTLSeconds)*time.Second)
		case oplog.OpDeleteStorageGroup:
			err = m.tree.DeleteStorageGroup(e.Path)
		default:
			log.Printf("metadata: skipping unknown logged operation %q (lsn=%d)", e.Op, e.LSN)
			continue
		}
		if err != nil {
			log.Printf("metadata: replay of %s %s (lsn=%d) failed: %v", e.Op, e.Path, e.LSN, err)
		}
	}
}

// logOp appends a mutation record to the operation log.
func (m *Manager) logOp(entry *oplog.Entry) error {
	if m.log == nil {
		return nil
	}
	entry.Timestamp = time.Now().UnixNano()
	if _, err := m.log.Append(entry); err != nil {
		return errors.Wrap(errors.ErrCategoryOplog, errors.CodeLogAppendFailed,
			"failed to log metadata operation", err)
	}
	return nil
}

// CreateTimeseries creates a leaf series at the path with the given schema.
// If the operation cannot be logged the insertion is rolled back, so reads
// never observe a mutation the durable log does not hold.
func (m *Manager) CreateTimeseries(ctx context.Context, path string, dataType types.DataType,
	encoding types.Encoding, compressor types.Compressor, props map[string]string) (err error) {
	defer func() { m.stats.Record(oplog.OpCreateTimeseries, err) }()

	m.mu.Lock()
	defer m.mu.Unlock()

	if err = m.tree.InsertSeries(path, dataType, encoding, compressor, props); err != nil {
		return err
	}
	if err = m.logOp(&oplog.Entry{
		Op:         oplog.OpCreateTimeseries,
		Path:       path,
		DataType:   string(dataType),
		Encoding:   string(encoding),
		Compressor: string(compressor),
		Props:      props,
	}); err != nil {
		if _, derr := m.tree.DeleteSeries(path); derr != nil {
			log.Printf("metadata: rollback of unlogged create %s failed: %v", path, derr)
		}
		return err
	}
	return nil
}

// DeleteTimeseries removes the series at the path and returns the name of the
// storage group affected by upward pruning, or empty when pruning stopped at
// a node that still has children. The deletion is logged before the tree is
// touched: once the path has resolved, the detach cannot fail under the
// write lock.
func (m *Manager) DeleteTimeseries(ctx context.Context, path string) (group string, err error) {
	defer func() { m.stats.Record(oplog.OpDeleteTimeseries, err) }()

	m.mu.Lock()
	defer m.mu.Unlock()

	node, err := m.tree.NodeByPath(path)
	if err != nil {
		return "", err
	}
	if node.IsStorageGroup() {
		// Nothing is removed; only DeleteStorageGroup detaches these.
		return node.StorageGroupName(), nil
	}
	if err = m.logOp(&oplog.Entry{Op: oplog.OpDeleteTimeseries, Path: path}); err != nil {
		return "", err
	}
	return m.tree.DeleteSeries(path)
}

// SetStorageGroup declares the path as a storage group. A non-positive TTL
// falls back to the configured default.
func (m *Manager) SetStorageGroup(ctx context.Context, path string, ttl time.Duration) (err error) {
	defer func() { m.stats.Record(oplog.OpSetStorageGroup, err) }()

	if ttl <= 0 {
		ttl = m.defaultTTL
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err = m.tree.SetStorageGroup(path, ttl); err != nil {
		return err
	}
	if m.catalog != nil {
		if cerr := m.catalog.RegisterStorageGroup(ctx, path, ttl); cerr != nil {
			m.rollbackStorageGroup(ctx, path, false)
			return errors.Wrap(errors.ErrCategoryCatalog, errors.CodeCatalogWriteFailed,
				"failed to register storage group in catalog", cerr)
		}
	}
	if err = m.logOp(&oplog.Entry{
		Op:         oplog.OpSetStorageGroup,
		Path:       path,
		TTLSeconds: int64(ttl / time.Second),
	}); err != nil {
		m.rollbackStorageGroup(ctx, path, true)
		return err
	}
	return nil
}

// rollbackStorageGroup undoes a storage-group declaration that could not be
// fully recorded. Rollback failures are logged; they leave the tree ahead of
// the log, which replay already tolerates.
func (m *Manager) rollbackStorageGroup(ctx context.Context, path string, catalogWritten bool) {
	if derr := m.tree.DeleteStorageGroup(path); derr != nil {
		log.Printf("metadata: rollback of unrecorded storage group %s failed: %v", path, derr)
	}
	if catalogWritten && m.catalog != nil {
		if cerr := m.catalog.RemoveStorageGroup(ctx, path); cerr != nil {
			log.Printf("metadata: catalog rollback of storage group %s failed: %v", path, cerr)
		}
	}
}

// DeleteStorageGroup removes the storage-group node at the path. The catalog
// and log are written before the tree is touched: once the node has resolved
// as a storage group, the detach cannot fail under the write lock.
func (m *Manager) DeleteStorageGroup(ctx context.Context, path string) (err error) {
	defer func() { m.stats.Record(oplog.OpDeleteStorageGroup, err) }()

	m.mu.Lock()
	defer m.mu.Unlock()

	node, err := m.tree.NodeByPath(path)
	if err != nil {
		return err
	}
	if !node.IsStorageGroup() {
		return errors.NewStorageGroupNotSet(path)
	}
	if m.catalog != nil {
		if cerr := m.catalog.RemoveStorageGroup(ctx, path); cerr != nil {
			return errors.Wrap(errors.ErrCategoryCatalog, errors.CodeCatalogWriteFailed,
				"failed to remove storage group from catalog", cerr)
		}
	}
	if err = m.logOp(&oplog.Entry{Op: oplog.OpDeleteStorageGroup, Path: path}); err != nil {
		if m.catalog != nil {
			if cerr := m.catalog.RegisterStorageGroup(ctx, path, node.TTL()); cerr != nil {
				log.Printf("metadata: catalog rollback of storage group %s failed: %v", path, cerr)
			}
		}
		return err
	}
	return m.tree.DeleteStorageGroup(path)
}

// RegisterChunkSpace records a persistent-memory allocation for the series at
// the path. The path must resolve to an existing leaf.
func (m *Manager) RegisterChunkSpace(timeHandle, valueHandle int64, seriesPath string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	node, err := m.tree.NodeByPath(seriesPath)
	if err != nil {
		return err
	}
	if !node.IsLeaf() {
		return errors.NewPathNotExists(seriesPath)
	}
	device := strings.TrimSuffix(seriesPath, PathSeparator+node.Name())
	m.registry.Register(timeHandle, valueHandle, node.StorageGroupName(), device, node.Name())
	return nil
}

// UnregisterChunkSpace drops a persistent-memory allocation record.
func (m *Manager) UnregisterChunkSpace(timeHandle, valueHandle int64) {
	m.registry.Unregister(timeHandle, valueHandle)
}

// Registry exposes the chunk-space registry.
func (m *Manager) Registry() *nvm.Registry {
	return m.registry
}

// Stats returns a snapshot of the operation counters and the uptime.
func (m *Manager) Stats() ([]observability.OpCounter, time.Duration) {
	return m.stats.Snapshot()
}

// Read operations. Each takes the read lock and delegates to the tree; see
// the Tree methods for semantics.

func (m *Manager) PathExists(path string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tree.PathExists(path)
}

func (m *Manager) IsStorageGroup(path string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tree.IsStorageGroup(path)
}

func (m *Manager) StorageGroupNameFor(path string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tree.StorageGroupName(path)
}

func (m *Manager) LeafSchema(path string) (*types.MeasurementSchema, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tree.LeafSchema(path)
}

func (m *Manager) StorageGroupList() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tree.StorageGroupList()
}

func (m *Manager) StorageGroupNamesForPattern(pattern string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tree.StorageGroupNamesForPattern(pattern)
}

func (m *Manager) SeriesPathsGroupedByStorageGroup(pattern string) (map[string][]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tree.SeriesPathsGroupedByStorageGroup(pattern)
}

func (m *Manager) TimeseriesRows(pattern string) ([]TimeseriesRow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tree.TimeseriesRows(pattern)
}

func (m *Manager) Devices(pattern string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tree.Devices(pattern)
}

func (m *Manager) AllDevices() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tree.AllDevices()
}

func (m *Manager) NodesAtLevel(path string, level int) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tree.NodesAtLevel(path, level)
}

func (m *Manager) ChildPaths(path string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tree.ChildPaths(path)
}

func (m *Manager) LeafPaths(path string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tree.LeafPaths(path)
}

func (m *Manager) TopLevelNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tree.TopLevelNames()
}

func (m *Manager) StorageGroupCount(path string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tree.StorageGroupCount(path)
}

func (m *Manager) SchemasUnderStorageGroup(path string) ([]*types.MeasurementSchema, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tree.SchemasUnderStorageGroup(path)
}

// Export renders the whole tree as an export snapshot under the read lock.
func (m *Manager) Export() *ExportNode {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tree.Export()
}

// ExportJSON renders the indented JSON form of the export snapshot.
func (m *Manager) ExportJSON() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tree.String()
}
