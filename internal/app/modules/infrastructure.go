package modules

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/riverqueue/river"
	"go.uber.org/zap"

	"tollgate.io/tollgate/internal/config"
	"tollgate.io/tollgate/internal/governance/audit"
	"tollgate.io/tollgate/internal/infrastructure"
	"tollgate.io/tollgate/internal/notification"
	"tollgate.io/tollgate/internal/pkg/logger"
	"tollgate.io/tollgate/internal/pkg/worker"
	"tollgate.io/tollgate/internal/repository"
)

// Infrastructure holds shared cross-cutting dependencies for all modules.
// It is a provider, not a Module.
type Infrastructure struct {
	Config      *config.Config
	DB          *infrastructure.DatabaseClients
	Store       repository.Store
	Pools       *worker.Pools
	AuditLogger *audit.Logger
	Sender      notification.Sender

	redis redis.UniversalClient
}

// NewInfrastructure opens the database, starts the worker pools and builds
// the notification sender.
func NewInfrastructure(ctx context.Context, cfg *config.Config) (*Infrastructure, error) {
	db, err := infrastructure.NewDatabaseClients(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}

	// SQLite always migrates: the file is created on first open.
	if cfg.Database.AutoMigrate || db.Driver == config.DriverSQLite {
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("auto-migrate: %w", err)
		}
	}

	pools, err := worker.NewPools(ctx, worker.PoolConfig{
		GeneralPoolSize: cfg.Worker.GeneralPoolSize,
		NotifyPoolSize:  cfg.Worker.NotifyPoolSize,
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init worker pools: %w", err)
	}

	infra := &Infrastructure{
		Config:      cfg,
		DB:          db,
		Store:       db.Store,
		Pools:       pools,
		AuditLogger: audit.NewLogger(),
	}

	sender, err := infra.newSender(ctx, cfg.Notification)
	if err != nil {
		infra.Close()
		return nil, err
	}
	infra.Sender = sender
	return infra, nil
}

func (i *Infrastructure) newSender(ctx context.Context, cfg config.NotificationConfig) (notification.Sender, error) {
	switch cfg.Driver {
	case config.NotifyDriverRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		sender := notification.NewRedisSender(client, cfg.RedisChannel)
		if err := sender.Ping(ctx); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("ping redis %s: %w", cfg.RedisAddr, err)
		}
		i.redis = client
		logger.Info("Notifications published to redis",
			zap.String("addr", cfg.RedisAddr),
			zap.String("channel", sender.Channel()),
		)
		return sender, nil
	default:
		return notification.NewLogSender(), nil
	}
}

// InitRiver initializes the River client on top of a prepared worker registry.
func (i *Infrastructure) InitRiver(workers *river.Workers, periodic []*river.PeriodicJob) error {
	if i == nil || i.DB == nil || i.Config == nil {
		return fmt.Errorf("infrastructure is not initialized")
	}
	if err := i.DB.InitRiverClient(workers, periodic, i.Config.River); err != nil {
		return fmt.Errorf("init river: %w", err)
	}
	return nil
}

// Close releases infra resources in reverse dependency order.
func (i *Infrastructure) Close() {
	if i == nil {
		return
	}
	if i.Pools != nil {
		i.Pools.Shutdown()
	}
	if i.redis != nil {
		if err := i.redis.Close(); err != nil {
			logger.Warn("Failed to close redis client", zap.Error(err))
		}
	}
	if i.DB != nil {
		i.DB.Close()
	}
}
