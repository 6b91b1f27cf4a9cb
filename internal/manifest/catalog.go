// Package manifest persists the storage-group catalog in manifest.db. The
// catalog is the durable registry of declared storage groups and their TTLs,
// queried by operators and by the data tier when opening partition files.
package manifest

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Catalog manages storage-group records in manifest.db.
type Catalog interface {
	// RegisterStorageGroup records a newly declared storage group.
	RegisterStorageGroup(ctx context.Context, name string, ttl time.Duration) error

	// RemoveStorageGroup deletes a storage-group record.
	RemoveStorageGroup(ctx context.Context, name string) error

	// GetStorageGroup retrieves a single record by name, or nil if absent.
	GetStorageGroup(ctx context.Context, name string) (*StorageGroupRecord, error)

	// ListStorageGroups returns all records ordered by name.
	ListStorageGroups(ctx context.Context) ([]*StorageGroupRecord, error)

	// Close closes the catalog database connections.
	Close() error
}

// StorageGroupRecord is one row of the storage-group catalog.
type StorageGroupRecord struct {
	Name       string
	TTLSeconds int64
	CreatedAt  time.Time
}

// TTL returns the retention duration of the record.
func (r *StorageGroupRecord) TTL() time.Duration {
	return time.Duration(r.TTLSeconds) * time.Second
}

// SQLiteCatalog implements Catalog using SQLite.
type SQLiteCatalog struct {
	db     *sql.DB // Write connection (single writer)
	readDB *sql.DB // Read connection pool (concurrent readers)
	dbPath string
	mu     sync.Mutex // Write-only lock (reads don't need this)

	insertStmt *sql.Stmt
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS storage_groups (
	name        TEXT PRIMARY KEY,
	ttl_seconds INTEGER NOT NULL DEFAULT 0,
	created_at  INTEGER NOT NULL
);
`

// NewCatalog creates a new SQLite-based storage-group catalog.
func NewCatalog(dbPath string) (*SQLiteCatalog, error) {
	// Write connection: single writer with WAL mode
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("manifest: failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // Single writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("manifest: failed to initialize schema: %w", err)
	}

	// Read connection pool: concurrent readers via WAL mode
	readDB, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("manifest: failed to open read database: %w", err)
	}
	readDB.SetMaxOpenConns(4)
	readDB.SetMaxIdleConns(4)
	readDB.SetConnMaxLifetime(5 * time.Minute)

	catalog := &SQLiteCatalog{
		db:     db,
		readDB: readDB,
		dbPath: dbPath,
	}

	insertStmt, err := db.Prepare(`
		INSERT INTO storage_groups (name, ttl_seconds, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET ttl_seconds = excluded.ttl_seconds`)
	if err != nil {
		readDB.Close()
		db.Close()
		return nil, fmt.Errorf("manifest: failed to prepare insert statement: %w", err)
	}
	catalog.insertStmt = insertStmt

	return catalog, nil
}

// RegisterStorageGroup records a newly declared storage group. Registering an
// existing name updates its TTL, which keeps catalog writes idempotent under
// operation-log replay.
func (c *SQLiteCatalog) RegisterStorageGroup(ctx context.Context, name string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, err := c.insertStmt.ExecContext(ctx, name, int64(ttl/time.Second), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("manifest: failed to register storage group %s: %w", name, err)
	}
	return nil
}

// RemoveStorageGroup deletes a storage-group record. Removing an absent name
// is not an error.
func (c *SQLiteCatalog) RemoveStorageGroup(ctx context.Context, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, err := c.db.ExecContext(ctx, `DELETE FROM storage_groups WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("manifest: failed to remove storage group %s: %w", name, err)
	}
	return nil
}

// GetStorageGroup retrieves a single record by name, or nil if absent.
func (c *SQLiteCatalog) GetStorageGroup(ctx context.Context, name string) (*StorageGroupRecord, error) {
	row := c.readDB.QueryRowContext(ctx,
		`SELECT name, ttl_seconds, created_at FROM storage_groups WHERE name = ?`, name)

	var rec StorageGroupRecord
	var createdAt int64
	if err := row.Scan(&rec.Name, &rec.TTLSeconds, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("manifest: failed to query storage group %s: %w", name, err)
	}
	rec.CreatedAt = time.Unix(createdAt, 0)
	return &rec, nil
}

// ListStorageGroups returns all records ordered by name.
func (c *SQLiteCatalog) ListStorageGroups(ctx context.Context) ([]*StorageGroupRecord, error) {
	rows, err := c.readDB.QueryContext(ctx,
		`SELECT name, ttl_seconds, created_at FROM storage_groups ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("manifest: failed to list storage groups: %w", err)
	}
	defer rows.Close()

	var records []*StorageGroupRecord
	for rows.Next() {
		var rec StorageGroupRecord
		var createdAt int64
		if err := rows.Scan(&rec.Name, &rec.TTLSeconds, &createdAt); err != nil {
			return nil, fmt.Errorf("manifest: failed to scan storage group row: %w", err)
		}
		rec.CreatedAt = time.Unix(createdAt, 0)
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("manifest: failed to iterate storage groups: %w", err)
	}

	return records, nil
}

// Close closes the catalog database connections.
func (c *SQLiteCatalog) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.insertStmt != nil {
		c.insertStmt.Close()
	}
	if c.readDB != nil {
		c.readDB.Close()
	}
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}
