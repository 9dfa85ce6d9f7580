// Package infrastructure provides database and job queue setup.
//
// With the postgres driver one pgxpool is shared by the repository and
// River. The sqlite driver has no job queue.
//
// Import Path: tollgate.io/tollgate/internal/infrastructure
package infrastructure

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"go.uber.org/zap"

	"tollgate.io/tollgate/internal/config"
	"tollgate.io/tollgate/internal/pkg/logger"
	"tollgate.io/tollgate/internal/repository"
	"tollgate.io/tollgate/internal/repository/postgres"
	"tollgate.io/tollgate/internal/repository/sqlite"
)

// DatabaseClients holds the repository and, for postgres, the shared pool
// and the River client.
type DatabaseClients struct {
	Driver string

	// Store is the repository used by every governance service.
	Store repository.Store

	// Pool is the shared connection pool. nil with the sqlite driver.
	Pool *pgxpool.Pool

	// RiverClient is the River job queue client backed by Pool.
	RiverClient *river.Client[pgx.Tx]
}

// NewDatabaseClients opens the configured backend.
func NewDatabaseClients(ctx context.Context, cfg config.DatabaseConfig) (*DatabaseClients, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		store, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		if err := store.Ping(ctx); err != nil {
			store.Close()
			return nil, fmt.Errorf("ping sqlite: %w", err)
		}
		logger.Info("SQLite store opened", zap.String("path", cfg.SQLitePath))
		return &DatabaseClients{Driver: cfg.Driver, Store: store}, nil
	case config.DriverPostgres, "":
		pool, err := newPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return &DatabaseClients{Driver: config.DriverPostgres, Store: postgres.NewStore(pool), Pool: pool}, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

func newPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	poolConfig.MinConns = cfg.MinConns
	if cfg.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	poolConfig.HealthCheckPeriod = time.Minute

	// Timestamps are compared in UTC.
	poolConfig.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		_, err := conn.Exec(ctx, "SET timezone = 'UTC'")
		return err
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	logger.Info("Database connection pool created",
		zap.Int32("max_conns", poolConfig.MaxConns),
		zap.Int32("min_conns", poolConfig.MinConns),
	)
	return pool, nil
}

// Migrate applies the repository schema and, for postgres, River's tables.
func (c *DatabaseClients) Migrate(ctx context.Context) error {
	logger.Info("Running schema migration...", zap.String("driver", c.Driver))
	if err := c.Store.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate %s schema: %w", c.Driver, err)
	}
	if c.Pool == nil {
		return nil
	}

	migrator, err := rivermigrate.New(riverpgxv5.New(c.Pool), nil)
	if err != nil {
		return fmt.Errorf("create river migrator: %w", err)
	}
	res, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil)
	if err != nil {
		return fmt.Errorf("river migrate up: %w", err)
	}
	if len(res.Versions) > 0 {
		logger.Info("River migration completed", zap.Int("versions_applied", len(res.Versions)))
	} else {
		logger.Info("River migration: already up-to-date")
	}
	return nil
}

// HasJobQueue reports whether River is available for this backend.
func (c *DatabaseClients) HasJobQueue() bool {
	return c.Pool != nil
}

// InitRiverClient creates a River client with registered workers and
// periodic jobs. It is a no-op without a pool.
func (c *DatabaseClients) InitRiverClient(workers *river.Workers, periodic []*river.PeriodicJob, cfg config.RiverConfig) error {
	if c.Pool == nil {
		return nil
	}
	maxWorkers := cfg.MaxWorkers
	if maxWorkers <= 0 {
		maxWorkers = 1
	}
	riverClient, err := river.NewClient(riverpgxv5.New(c.Pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: maxWorkers},
		},
		Workers:                     workers,
		PeriodicJobs:                periodic,
		CompletedJobRetentionPeriod: cfg.CompletedJobRetentionPeriod,
	})
	if err != nil {
		return fmt.Errorf("create river client: %w", err)
	}
	c.RiverClient = riverClient
	logger.Info("River client initialized",
		zap.Int("max_workers", maxWorkers),
		zap.Int("periodic_jobs", len(periodic)),
	)
	return nil
}

// Ping checks the backend.
func (c *DatabaseClients) Ping(ctx context.Context) error {
	return c.Store.Ping(ctx)
}

// Close closes the store; with postgres this closes the shared pool.
func (c *DatabaseClients) Close() {
	if c.Store != nil {
		c.Store.Close()
	}
}
