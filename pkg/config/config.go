package config

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Config represents the application configuration
type Config struct {
	Server   ServerConfig   `env:", prefix=SERVER_"`
	MySQL    MySQLConfig    `env:", prefix=MYSQL_"`
	Redis    RedisConfig    `env:", prefix=REDIS_"`
	NATS     NATSConfig     `env:", prefix=NATS_"`
	Provider ProviderConfig `env:", prefix=PROVIDER_"`
	Sync     SyncConfig     `env:", prefix=SYNC_"`
	Logging  LoggingConfig  `env:", prefix=LOG_"`
}

// ServerConfig holds the REST server configuration
type ServerConfig struct {
	Host         string        `env:"HOST, default=0.0.0.0"`
	Port         int           `env:"PORT, default=8080"`
	ReadTimeout  time.Duration `env:"READ_TIMEOUT, default=30s"`
	WriteTimeout time.Duration `env:"WRITE_TIMEOUT, default=30s"`
	IdleTimeout  time.Duration `env:"IDLE_TIMEOUT, default=120s"`
	CORSEnabled  bool          `env:"CORS_ENABLED, default=true"`
}

// MySQLConfig holds MySQL configuration
type MySQLConfig struct {
	Host            string        `env:"HOST, default=localhost"`
	Port            int           `env:"PORT, default=3306"`
	Database        string        `env:"DATABASE, default=marketdata"`
	User            string        `env:"USER, default=marketdata"`
	Password        string        `env:"PASSWORD, default=marketdata123"`
	MaxOpenConns    int           `env:"MAX_OPEN_CONNS, default=10"`
	MaxIdleConns    int           `env:"MAX_IDLE_CONNS, default=5"`
	ConnMaxLifetime time.Duration `env:"CONN_MAX_LIFETIME, default=5m"`
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Enabled      bool          `env:"ENABLED, default=true"`
	Host         string        `env:"HOST, default=localhost"`
	Port         int           `env:"PORT, default=6379"`
	Password     string        `env:"PASSWORD"`
	DB           int           `env:"DB, default=0"`
	PoolSize     int           `env:"POOL_SIZE, default=10"`
	DialTimeout  time.Duration `env:"DIAL_TIMEOUT, default=5s"`
	ReadTimeout  time.Duration `env:"READ_TIMEOUT, default=3s"`
	WriteTimeout time.Duration `env:"WRITE_TIMEOUT, default=3s"`
	HotTTL       time.Duration `env:"HOT_TTL, default=5m"`
	WarmTTL      time.Duration `env:"WARM_TTL, default=24h"`
}

// NATSConfig holds NATS configuration
type NATSConfig struct {
	Enabled       bool          `env:"ENABLED, default=false"`
	URL           string        `env:"URL, default=nats://localhost:4222"`
	MaxReconnect  int           `env:"MAX_RECONNECT, default=10"`
	ReconnectWait time.Duration `env:"RECONNECT_WAIT, default=2s"`
	DrainTimeout  time.Duration `env:"DRAIN_TIMEOUT, default=30s"`
}

// ProviderConfig holds upstream market-data source configuration
type ProviderConfig struct {
	BaseURL      string        `env:"BASE_URL, default=http://localhost:9000"`
	APIToken     string        `env:"API_TOKEN"`
	Timeout      time.Duration `env:"TIMEOUT, default=30s"`
	RateLimit    time.Duration `env:"RATE_LIMIT, default=200ms"`
	MaxRetries   int           `env:"MAX_RETRIES, default=3"`
	RetryBackoff time.Duration `env:"RETRY_BACKOFF, default=1s"`
}

// SyncConfig holds the sync engine tunables. These started life as
// hard-coded heuristics and are kept environment-tunable here.
type SyncConfig struct {
	DefaultStartDate string        `env:"DEFAULT_START_DATE, default=2020-01-01"`
	MaxSyncDays      int           `env:"MAX_SYNC_DAYS, default=365"`
	BatchSize        int           `env:"BATCH_SIZE, default=50"`
	MaxWorkers       int           `env:"MAX_WORKERS, default=3"`
	Frequencies      []string      `env:"FREQUENCIES, default=1d"`
	BulkThreshold    int           `env:"BULK_THRESHOLD, default=100"`
	MaxGapFixes      int           `env:"MAX_GAP_FIXES, default=20"`
	GapLookbackDays  int           `env:"GAP_LOOKBACK_DAYS, default=30"`
	QualitySample    int           `env:"QUALITY_SAMPLE, default=10"`
	QualityBatchSize int           `env:"QUALITY_BATCH_SIZE, default=50"`
	StaleAfter       time.Duration `env:"STALE_AFTER, default=1h"`
	StockListMaxAge  time.Duration `env:"STOCK_LIST_MAX_AGE, default=24h"`
	Schedule         string        `env:"SCHEDULE, default=0 30 17 * * 1-5"`
	LockFile         string        `env:"LOCK_FILE, default=/tmp/stock-sync.lock"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `env:"LEVEL, default=info"`
	Format string `env:"FORMAT, default=json"`
	Output string `env:"OUTPUT, default=stdout"`
}

// Load loads configuration from the environment using go-envconfig,
// after sourcing an optional .env file.
func Load() (*Config, error) {
	if err := LoadDotEnv(); err != nil {
		return nil, err
	}

	ctx := context.Background()
	var cfg Config

	if err := envconfig.Process(ctx, &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.MySQL.Host == "" {
		return fmt.Errorf("MySQL host is required")
	}

	if c.Provider.BaseURL == "" {
		return fmt.Errorf("provider base URL is required")
	}

	if _, err := time.Parse("2006-01-02", c.Sync.DefaultStartDate); err != nil {
		return fmt.Errorf("invalid sync default start date: %w", err)
	}

	if c.Sync.BatchSize <= 0 {
		return fmt.Errorf("sync batch size must be positive")
	}

	if c.Sync.MaxWorkers <= 0 {
		return fmt.Errorf("sync max workers must be positive")
	}

	if c.Sync.BulkThreshold <= 0 {
		return fmt.Errorf("sync bulk threshold must be positive")
	}

	return nil
}

// GetMySQLDSN returns MySQL DSN string
func (c *Config) GetMySQLDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&multiStatements=true",
		c.MySQL.User,
		c.MySQL.Password,
		c.MySQL.Host,
		c.MySQL.Port,
		c.MySQL.Database,
	)
}

// GetRedisAddr returns Redis address
func (c *Config) GetRedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// GetServerAddr returns server address
func (c *Config) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// DefaultStart parses the configured cold-start epoch.
func (c *SyncConfig) DefaultStart() time.Time {
	t, _ := time.Parse("2006-01-02", c.DefaultStartDate)
	return t
}
