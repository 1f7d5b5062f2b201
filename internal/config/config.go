package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Windsor  WindsorConfig  `yaml:"windsor"`
	Cache    CacheConfig    `yaml:"cache"`
	Snapshot SnapshotConfig `yaml:"snapshot"`
	Audit    AuditConfig    `yaml:"audit"`
	Warmer   WarmerConfig   `yaml:"warmer"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port           int      `yaml:"port"`
	Host           string   `yaml:"host"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// GetHost returns the server host, with container detection
func (c ServerConfig) GetHost() string {
	// On ECS/container, listen on all interfaces
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	// Allow override via environment
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// WindsorConfig holds Windsor.ai connector API configuration
type WindsorConfig struct {
	APIKey         string `yaml:"api_key"`
	BaseURL        string `yaml:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	MaxAttempts    int    `yaml:"max_attempts"`
	BackoffSeconds int    `yaml:"backoff_seconds"`
	ChunkDays      int    `yaml:"chunk_days"`
	Workers        int    `yaml:"workers"`
}

// Timeout returns the per-request timeout as a duration
func (c WindsorConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Backoff returns the retry backoff unit as a duration
func (c WindsorConfig) Backoff() time.Duration {
	return time.Duration(c.BackoffSeconds) * time.Second
}

// CacheConfig holds the Redis table cache settings
type CacheConfig struct {
	Enabled    bool   `yaml:"enabled"`
	RedisURL   string `yaml:"redis_url"`
	TTLSeconds int    `yaml:"ttl_seconds"`
}

// TTL returns the cache entry lifetime
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// SnapshotConfig holds S3 table snapshot settings
type SnapshotConfig struct {
	Enabled  bool   `yaml:"enabled"`
	S3Bucket string `yaml:"s3_bucket"`
	S3Region string `yaml:"s3_region"`
	Prefix   string `yaml:"prefix"`
}

// AuditConfig holds the Postgres fetch log settings
type AuditConfig struct {
	Enabled     bool   `yaml:"enabled"`
	DatabaseURL string `yaml:"database_url"`
}

// WarmerConfig holds the background cache warmer settings
type WarmerConfig struct {
	Enabled         bool     `yaml:"enabled"`
	IntervalSeconds int      `yaml:"interval_seconds"`
	LookbackDays    int      `yaml:"lookback_days"`
	Datasets        []string `yaml:"datasets"` // e.g. "facebook/campaigns"
	Account         string   `yaml:"account"`
}

// Interval returns the warm-up interval as a duration
func (c WarmerConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "console"
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func (cfg *Config) applyDefaults() {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if len(cfg.Server.AllowedOrigins) == 0 {
		cfg.Server.AllowedOrigins = []string{"http://localhost:5173", "http://localhost:8080"}
	}
	if cfg.Windsor.BaseURL == "" {
		cfg.Windsor.BaseURL = "https://connectors.windsor.ai"
	}
	if cfg.Windsor.TimeoutSeconds == 0 {
		cfg.Windsor.TimeoutSeconds = 180
	}
	if cfg.Windsor.MaxAttempts == 0 {
		cfg.Windsor.MaxAttempts = 3
	}
	if cfg.Windsor.BackoffSeconds == 0 {
		cfg.Windsor.BackoffSeconds = 3
	}
	if cfg.Windsor.ChunkDays == 0 {
		cfg.Windsor.ChunkDays = 90
	}
	if cfg.Windsor.Workers == 0 {
		cfg.Windsor.Workers = 4
	}
	if cfg.Cache.TTLSeconds == 0 {
		cfg.Cache.TTLSeconds = 600
	}
	if cfg.Snapshot.Prefix == "" {
		cfg.Snapshot.Prefix = "windsor-snapshots"
	}
	if cfg.Snapshot.S3Region == "" {
		cfg.Snapshot.S3Region = "us-west-2"
	}
	if cfg.Warmer.IntervalSeconds == 0 {
		cfg.Warmer.IntervalSeconds = 900
	}
	if cfg.Warmer.LookbackDays == 0 {
		cfg.Warmer.LookbackDays = 30
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars on ECS.
// A missing config file is not an error; defaults plus env are used.
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	cfg, err := Load(path)
	if os.IsNotExist(err) {
		cfg, err = Default(), nil
	}
	if err != nil {
		return nil, err
	}

	// Override with environment variables if present
	if apiKey := os.Getenv("WINDSOR_API_KEY"); apiKey != "" {
		cfg.Windsor.APIKey = apiKey
	}
	if baseURL := os.Getenv("WINDSOR_BASE_URL"); baseURL != "" {
		cfg.Windsor.BaseURL = baseURL
	}
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		cfg.Cache.RedisURL = redisURL
		cfg.Cache.Enabled = true
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		cfg.Audit.DatabaseURL = dbURL
		cfg.Audit.Enabled = true
	}
	if v := os.Getenv("SNAPSHOT_S3_BUCKET"); v != "" {
		cfg.Snapshot.S3Bucket = v
		cfg.Snapshot.Enabled = true
	}
	if v := os.Getenv("SNAPSHOT_S3_REGION"); v != "" {
		cfg.Snapshot.S3Region = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("WARMER_DATASETS"); v != "" {
		cfg.Warmer.Datasets = strings.Split(v, ",")
		cfg.Warmer.Enabled = true
	}

	return cfg, nil
}
