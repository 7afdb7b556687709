package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/darkodi/snaplink/internal/config"
	"github.com/darkodi/snaplink/internal/logger"
	"github.com/darkodi/snaplink/internal/migrations"
)

func main() {
	direction := flag.String("direction", "up", "up, down (one step) or version")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Failed to load configuration:", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Log)

	var dialect, databaseURL string
	switch cfg.Store.Driver {
	case config.DriverSQLite:
		if err := os.MkdirAll(filepath.Dir(cfg.Store.Path), 0o755); err != nil {
			log.Error("create database directory", "error", err)
			os.Exit(1)
		}
		dialect, databaseURL = migrations.SQLite, "sqlite3://"+cfg.Store.Path
	case config.DriverPostgres:
		dialect, databaseURL = migrations.Postgres, cfg.Store.DatabaseURL
	default:
		// mongo and redis stores create their indexes on startup
		log.Info("store has no SQL schema, nothing to migrate", "driver", cfg.Store.Driver)
		return
	}

	m, err := migrations.New(dialect, databaseURL, log.Logger)
	if err != nil {
		log.Error("open migrator", "error", err)
		os.Exit(1)
	}
	defer m.Close()

	switch *direction {
	case "up":
		err = m.Up()
	case "down":
		err = m.Down()
	case "version":
		var (
			version uint
			dirty   bool
		)
		version, dirty, err = m.Version()
		if err == nil {
			fmt.Printf("version %d (dirty: %t)\n", version, dirty)
		}
	default:
		err = fmt.Errorf("unknown direction %q", *direction)
	}

	if err != nil {
		log.Error("migration failed", "direction", *direction, "error", err)
		m.Close()
		os.Exit(1)
	}
}
