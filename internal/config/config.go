// Package config provides configuration management for Tollgate.
//
// Configuration is loaded from:
// 1. config.yaml file (optional)
// 2. Environment variables with standard names (DATABASE_URL, SERVER_PORT, SWEEPER_INTERVAL)
// 3. Default values
//
// Import Path: tollgate.io/tollgate/internal/config
package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Database drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Notification drivers.
const (
	NotifyDriverLog   = "log"
	NotifyDriverRedis = "redis"
)

// Config is the root configuration structure.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Log          LogConfig          `mapstructure:"log"`
	River        RiverConfig        `mapstructure:"river"`
	Security     SecurityConfig     `mapstructure:"security"`
	Worker       WorkerConfig       `mapstructure:"worker"`
	Sweeper      SweeperConfig      `mapstructure:"sweeper"`
	Notification NotificationConfig `mapstructure:"notification"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	CORSAllowedOrigins []string `mapstructure:"cors_allowed_origins"`
}

// DatabaseConfig selects and configures the persistence backend.
type DatabaseConfig struct {
	Driver string `mapstructure:"driver"` // postgres or sqlite

	URL string `mapstructure:"url"`

	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"sslmode"`

	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`

	SQLitePath string `mapstructure:"sqlite_path"`

	AutoMigrate bool `mapstructure:"auto_migrate"`
}

// DSN returns the PostgreSQL connection string.
// Priority: DATABASE_URL > constructed from individual fields.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	sslmode := c.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, sslmode,
	)
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or console
}

// RiverConfig contains River Queue settings. Only used with the postgres driver.
type RiverConfig struct {
	MaxWorkers                  int           `mapstructure:"max_workers"`
	CompletedJobRetentionPeriod time.Duration `mapstructure:"completed_job_retention_period"`
}

// SecurityConfig contains security-related settings.
type SecurityConfig struct {
	// JWTSecret signs and verifies HS256 bearer tokens. Auto-generated when
	// missing, which only suits single-instance development setups.
	JWTSecret string `mapstructure:"jwt_secret"`
	JWTIssuer string `mapstructure:"jwt_issuer"`
}

// WorkerConfig contains worker pool settings.
type WorkerConfig struct {
	GeneralPoolSize int `mapstructure:"general_pool_size"`
	NotifyPoolSize  int `mapstructure:"notify_pool_size"`
}

// SweeperConfig controls the expiration sweeper.
type SweeperConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Interval  time.Duration `mapstructure:"interval"`
	BatchSize int           `mapstructure:"batch_size"`
}

// NotificationConfig selects the notification sender.
type NotificationConfig struct {
	Driver        string `mapstructure:"driver"` // log or redis
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	RedisChannel  string `mapstructure:"redis_channel"`
}

var (
	bootstrapLoggerOnce sync.Once
	bootstrapLogger     *zap.Logger
)

// Load reads configuration from file and environment variables.
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile is Load with an explicit config file. An empty path searches the
// default locations.
func LoadFile(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/tollgate")
	}

	// No prefix: database.max_conns → DATABASE_MAX_CONNS
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.normalize()

	if err := cfg.ensureSecrets(); err != nil {
		return nil, fmt.Errorf("ensure secrets: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) normalize() {
	c.Database.Driver = strings.ToLower(strings.TrimSpace(c.Database.Driver))
	c.Notification.Driver = strings.ToLower(strings.TrimSpace(c.Notification.Driver))
	// Env vars arrive as one comma-separated string.
	var origins []string
	for _, o := range c.Server.CORSAllowedOrigins {
		for _, part := range strings.Split(o, ",") {
			if part = strings.TrimSpace(part); part != "" {
				origins = append(origins, part)
			}
		}
	}
	c.Server.CORSAllowedOrigins = origins
}

// Validate checks for critical configuration errors.
func (c *Config) Validate() error {
	var errs []error
	switch c.Database.Driver {
	case DriverPostgres:
	case DriverSQLite:
		if c.Database.SQLitePath == "" {
			errs = append(errs, errors.New("database.sqlite_path must not be empty for the sqlite driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("database.driver must be %q or %q, got %q", DriverPostgres, DriverSQLite, c.Database.Driver))
	}

	switch c.Notification.Driver {
	case NotifyDriverLog:
	case NotifyDriverRedis:
		if c.Notification.RedisAddr == "" {
			errs = append(errs, errors.New("notification.redis_addr must not be empty for the redis driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("notification.driver must be %q or %q, got %q", NotifyDriverLog, NotifyDriverRedis, c.Notification.Driver))
	}

	if len(c.Security.JWTSecret) < 32 {
		errs = append(errs, errors.New("security.jwt_secret must be at least 32 characters"))
	}
	if c.Sweeper.Enabled && c.Sweeper.Interval < time.Second {
		errs = append(errs, errors.New("sweeper.interval must be at least 1s"))
	}
	if c.Sweeper.BatchSize <= 0 {
		errs = append(errs, errors.New("sweeper.batch_size must be positive"))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	return errors.Join(errs...)
}

// ensureSecrets auto-generates missing secrets.
func (c *Config) ensureSecrets() error {
	if c.Security.JWTSecret == "" {
		secret, err := generateSecureRandomHex(32)
		if err != nil {
			return fmt.Errorf("auto-generate jwt secret: %w", err)
		}
		c.Security.JWTSecret = secret
		logBootstrapWarn(
			"auto-generated jwt_secret; set SECURITY_JWT_SECRET so tokens survive restarts",
			zap.Int("length", len(secret)),
		)
	}
	return nil
}

func logBootstrapWarn(msg string, fields ...zap.Field) {
	bootstrapLoggerOnce.Do(func() {
		cfg := zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)

		l, err := cfg.Build()
		if err != nil {
			bootstrapLogger = zap.NewNop()
			return
		}
		bootstrapLogger = l
	})

	bootstrapLogger.Warn(msg, fields...)
}

// generateSecureRandomHex produces a hex-encoded string of n random bytes.
func generateSecureRandomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("crypto/rand: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func setDefaults(v *viper.Viper) {
	// Server
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.cors_allowed_origins", []string{})

	// Database
	v.SetDefault("database.driver", DriverPostgres)
	v.SetDefault("database.url", "")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "tollgate")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "tollgate")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "10m")
	v.SetDefault("database.sqlite_path", "tollgate.db")
	v.SetDefault("database.auto_migrate", false)

	// Log
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// River
	v.SetDefault("river.max_workers", 4)
	v.SetDefault("river.completed_job_retention_period", "24h")

	// Security
	v.SetDefault("security.jwt_secret", "")
	v.SetDefault("security.jwt_issuer", "")

	// Worker Pool
	v.SetDefault("worker.general_pool_size", 16)
	v.SetDefault("worker.notify_pool_size", 64)

	// Sweeper
	v.SetDefault("sweeper.enabled", true)
	v.SetDefault("sweeper.interval", "1m")
	v.SetDefault("sweeper.batch_size", 100)

	// Notification
	v.SetDefault("notification.driver", NotifyDriverLog)
	v.SetDefault("notification.redis_addr", "")
	v.SetDefault("notification.redis_password", "")
	v.SetDefault("notification.redis_db", 0)
	v.SetDefault("notification.redis_channel", "tollgate:notifications")
}
