// Package repository persists links. Every backend honours the same contract:
// short ids are unique, visits are counted atomically in the store, and a
// device's links list newest first, with equal creation times listing the
// most recently inserted link first.
package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/darkodi/snaplink/internal/config"
	"github.com/darkodi/snaplink/internal/model"
)

var (
	ErrNotFound         = errors.New("link not found")
	ErrDuplicateShortID = errors.New("short id already exists")
)

// Repository is the link store
type Repository interface {
	// Create inserts a new link. A taken short id yields ErrDuplicateShortID.
	Create(ctx context.Context, link *model.Link) error
	GetByShortID(ctx context.Context, shortID string) (*model.Link, error)
	// FindByURLAndMachine returns the link a device already made for originalURL.
	FindByURLAndMachine(ctx context.Context, originalURL, machineID string) (*model.Link, error)
	// ListByMachine returns the device's links ordered by creation time, newest
	// first. Links created at the same instant list in reverse insertion order.
	ListByMachine(ctx context.Context, machineID string) ([]model.Link, error)
	// RecordVisit increments the visit counter, stamps the last visit and
	// returns the updated link as one atomic step.
	RecordVisit(ctx context.Context, shortID string, at time.Time) (*model.Link, error)
	Ping(ctx context.Context) error
	Close() error
}

// Open builds the store selected by cfg.Driver. The returned store owns a
// connection pool meant to be shared by the whole process.
func Open(ctx context.Context, cfg config.StoreConfig, log *slog.Logger) (Repository, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		return NewSQLiteStore(cfg.Path, log)
	case config.DriverPostgres:
		return NewPostgresStore(cfg.DatabaseURL, log)
	case config.DriverMongo:
		return NewMongoStore(ctx, cfg.MongoURI, cfg.MongoDatabase)
	case config.DriverRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		return NewRedisStore(client), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
