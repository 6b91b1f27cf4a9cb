// Package main implements the iotdb-meta binary: an HTTP metadata service
// backed by an in-memory schema tree, a durable operation log, and
// object-storage snapshot exchange.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/LebronAl/incubator-iotdb/internal/app"
	"github.com/LebronAl/incubator-iotdb/internal/config"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	// Parse command line flags
	var (
		configFile  string
		dataDir     string
		httpAddr    string
		storageType string
		showVersion bool
		showHelp    bool
	)

	flag.StringVar(&configFile, "config", "", "Path to configuration file (YAML or JSON)")
	flag.StringVar(&dataDir, "data-dir", "", "Base directory for all data files")
	flag.StringVar(&httpAddr, "http-addr", "", "HTTP listen address")
	flag.StringVar(&storageType, "storage-type", "", "Snapshot storage type: local, s3")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.BoolVar(&showHelp, "help", false, "Show help message")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "IoTDB Meta - Time-Series Metadata Service\n\n")
		fmt.Fprintf(os.Stderr, "Usage: iotdb-meta [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  iotdb-meta --data-dir /data/iotdb-meta\n")
		fmt.Fprintf(os.Stderr, "  iotdb-meta --http-addr :9090 --data-dir /data/iotdb-meta\n")
		fmt.Fprintf(os.Stderr, "  iotdb-meta --config /etc/iotdb-meta/config.yaml\n")
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  IOTDB_DATA_DIR         Base directory for data files\n")
		fmt.Fprintf(os.Stderr, "  IOTDB_HTTP_ADDR        HTTP listen address\n")
		fmt.Fprintf(os.Stderr, "  IOTDB_DEFAULT_TTL      Default storage-group TTL (e.g. 720h)\n")
		fmt.Fprintf(os.Stderr, "  IOTDB_OPLOG_DIR        Operation-log directory\n")
		fmt.Fprintf(os.Stderr, "  IOTDB_STORAGE_TYPE     Snapshot storage type (local, s3)\n")
		fmt.Fprintf(os.Stderr, "  IOTDB_S3_BUCKET        S3 bucket for snapshots\n")
	}

	flag.Parse()

	if showHelp {
		flag.Usage()
		os.Exit(0)
	}

	if showVersion {
		fmt.Printf("iotdb-meta version %s (commit: %s)\n", version, commit)
		os.Exit(0)
	}

	// Load configuration
	cfg, err := loadConfig(configFile, dataDir, httpAddr, storageType)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Print startup banner
	printBanner(cfg)

	// Create and start the application
	application, err := app.New(cfg)
	if err != nil {
		log.Fatalf("Failed to create application: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := application.Start(ctx); err != nil {
		log.Fatalf("Failed to start application: %v", err)
	}

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh
	log.Printf("Received signal: %v", sig)

	// Graceful shutdown
	if err := application.Stop(context.Background()); err != nil {
		log.Printf("Shutdown error: %v", err)
		os.Exit(1)
	}
}

// loadConfig loads configuration from file, environment, and command line flags.
func loadConfig(configFile, dataDir, httpAddr, storageType string) (*config.Config, error) {
	var cfg *config.Config
	var err error

	// Start with defaults or load from file
	if configFile != "" {
		cfg, err = config.LoadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	} else {
		cfg = config.DefaultConfig()
	}

	// Apply environment variables
	config.LoadFromEnv(cfg)

	// Apply command line flags (highest priority)
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if httpAddr != "" {
		cfg.HTTP.Addr = httpAddr
	}
	if storageType != "" {
		cfg.Storage.Type = storageType
	}

	return cfg, nil
}

// printBanner prints the startup banner with configuration summary.
func printBanner(cfg *config.Config) {
	log.Printf("╔═══════════════════════════════════════════════════════════╗")
	log.Printf("║                      IOTDB META                           ║")
	log.Printf("║       Time-Series Metadata Service For The Edge           ║")
	log.Printf("╚═══════════════════════════════════════════════════════════╝")
	log.Printf("")
	log.Printf("Configuration:")
	log.Printf("  Data Dir: %s", cfg.DataDir)
	log.Printf("  HTTP:     %s", cfg.HTTP.Addr)
	log.Printf("  Storage:  %s", cfg.Storage.Type)
	if cfg.DefaultTTL > 0 {
		log.Printf("  TTL:      %v (default for storage groups)", cfg.DefaultTTL)
	}
	log.Printf("")
}
