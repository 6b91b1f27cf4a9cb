// Package app provides the unified application lifecycle management for the
// metadata service.
package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	httpapi "github.com/LebronAl/incubator-iotdb/internal/api/http"
	"github.com/LebronAl/incubator-iotdb/internal/config"
	"github.com/LebronAl/incubator-iotdb/internal/manifest"
	"github.com/LebronAl/incubator-iotdb/internal/metadata"
	"github.com/LebronAl/incubator-iotdb/internal/oplog"
	"github.com/LebronAl/incubator-iotdb/internal/server"
	"github.com/LebronAl/incubator-iotdb/internal/snapshot"
	"github.com/LebronAl/incubator-iotdb/internal/storage"
)

// App manages the metadata service lifecycle.
type App struct {
	cfg *config.Config

	// Shared resources
	storage  storage.ObjectStorage
	catalog  manifest.Catalog
	oplog    *oplog.Log
	manager  *metadata.Manager
	shutdown *server.ShutdownManager

	httpServer *http.Server

	// Lifecycle
	mu      sync.Mutex
	running bool
	wg      sync.WaitGroup
}

// New creates a new App with the given configuration.
func New(cfg *config.Config) (*App, error) {
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}

	return &App{
		cfg: cfg,
	}, nil
}

// Start initializes shared resources, replays the operation log, and starts
// the HTTP server.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return fmt.Errorf("app is already running")
	}
	a.running = true
	a.mu.Unlock()

	if err := a.initSharedResources(ctx); err != nil {
		a.cleanup()
		return fmt.Errorf("failed to initialize shared resources: %w", err)
	}

	if err := a.initManager(); err != nil {
		a.cleanup()
		return fmt.Errorf("failed to initialize metadata manager: %w", err)
	}

	if err := a.startHTTPServer(); err != nil {
		a.cleanup()
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	log.Printf("Metadata service started")
	return nil
}

// initSharedResources initializes object storage, the storage-group catalog,
// and the shutdown manager.
func (a *App) initSharedResources(ctx context.Context) error {
	var err error

	switch a.cfg.Storage.Type {
	case "local":
		a.storage, err = storage.NewLocalStorage(a.cfg.Storage.Path)
	case "s3":
		a.storage, err = storage.NewS3Storage(
			ctx,
			a.cfg.Storage.S3.Bucket,
			storage.S3Config{
				Region:   a.cfg.Storage.S3.Region,
				Endpoint: a.cfg.Storage.S3.Endpoint,
			},
		)
	default:
		return fmt.Errorf("unsupported storage type: %s", a.cfg.Storage.Type)
	}
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	log.Printf("Storage initialized: type=%s", a.cfg.Storage.Type)
	if a.cfg.Storage.Type == "s3" {
		log.Printf("S3 Config: Bucket=%s, Region=%s, Endpoint=%s",
			a.cfg.Storage.S3.Bucket, a.cfg.Storage.S3.Region, a.cfg.Storage.S3.Endpoint)
	}

	a.catalog, err = manifest.NewCatalog(a.cfg.ManifestPath())
	if err != nil {
		return fmt.Errorf("failed to initialize storage-group catalog: %w", err)
	}
	log.Printf("Storage-group catalog initialized: %s", a.cfg.ManifestPath())

	a.shutdown = server.NewShutdownManager(server.DefaultShutdownConfig())
	a.shutdown.RegisterCloser(a.catalog)

	return nil
}

// initManager replays the operation log and builds the in-memory metadata
// tree. Replay happens before the log is opened for appending so recovered
// entries are never re-logged.
func (a *App) initManager() error {
	entries, err := oplog.ReplayAll(a.cfg.Oplog.Dir)
	if err != nil {
		return fmt.Errorf("failed to read operation log: %w", err)
	}

	a.oplog, err = oplog.Open(a.cfg.Oplog.Dir, a.cfg.Oplog.MaxSegmentSize)
	if err != nil {
		return fmt.Errorf("failed to open operation log: %w", err)
	}
	a.shutdown.RegisterCloser(a.oplog)

	a.manager = metadata.NewManager(metadata.ManagerOptions{
		Log:        a.oplog,
		Catalog:    a.catalog,
		DefaultTTL: a.cfg.DefaultTTL,
	})
	a.manager.Replay(entries)
	log.Printf("Operation log replayed: %d entries from %s", len(entries), a.cfg.Oplog.Dir)

	return nil
}

// startHTTPServer wires the API handler and starts the HTTP listener.
func (a *App) startHTTPServer() error {
	publisher := snapshot.NewPublisher(a.storage, a.cfg.Snapshot.Prefix, a.cfg.Snapshot.ScratchDir)
	handler := httpapi.NewHandler(a.manager, publisher)

	mux := http.NewServeMux()
	mux.Handle("/", server.ShutdownMiddleware(a.shutdown)(handler.Router()))
	mux.HandleFunc("/health", a.healthHandler("iotdb-meta"))

	a.httpServer = &http.Server{
		Addr:         a.cfg.HTTP.Addr,
		Handler:      mux,
		ReadTimeout:  a.cfg.HTTP.ReadTimeout,
		WriteTimeout: a.cfg.HTTP.WriteTimeout,
		IdleTimeout:  a.cfg.HTTP.IdleTimeout,
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		log.Printf("HTTP server listening on %s", a.cfg.HTTP.Addr)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("HTTP server error: %v", err)
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server and releases resources. The oplog
// and catalog are closed by the shutdown manager after the server drains,
// so no mutation can race a closed log.
func (a *App) Stop(ctx context.Context) error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return nil
	}
	a.running = false
	a.mu.Unlock()

	log.Printf("Initiating graceful shutdown...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if a.httpServer != nil {
		if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}
	}

	if a.shutdown != nil {
		if err := a.shutdown.Shutdown(shutdownCtx); err != nil {
			log.Printf("Shutdown error: %v", err)
		}
	}

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-shutdownCtx.Done():
		log.Printf("Shutdown timeout, some goroutines may not have finished")
	}

	log.Printf("Metadata service stopped")
	return nil
}

// cleanup releases resources after a failed start. During normal shutdown
// the shutdown manager owns closing.
func (a *App) cleanup() {
	if a.oplog != nil {
		a.oplog.Close()
	}
	if a.catalog != nil {
		a.catalog.Close()
	}
}

// Manager exposes the metadata manager for tests and embedding.
func (a *App) Manager() *metadata.Manager {
	return a.manager
}

// healthHandler returns a health check handler for the given service.
func (a *App) healthHandler(service string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"status":"healthy","service":"%s"}`, service)
	}
}
