// Package config loads scored configuration from defaults, an optional YAML
// file, a .env file and the process environment, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/R3E-Network/sealed_scores/pkg/logger"
)

// PathEnv names the variable pointing at the YAML file.
const PathEnv = "SCORES_CONFIG"

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
)

// Cluster modes.
const (
	ClusterFake = "fake"
	ClusterHTTP = "http"
)

// Config is the full server configuration.
type Config struct {
	Server    ServerConfig         `yaml:"server"`
	Database  DatabaseConfig       `yaml:"database"`
	Redis     RedisConfig          `yaml:"redis"`
	Cluster   ClusterConfig        `yaml:"cluster"`
	Auth      AuthConfig           `yaml:"auth"`
	RateLimit RateLimitConfig      `yaml:"rate_limit"`
	Notify    NotifyConfig         `yaml:"notify"`
	Logging   logger.LoggingConfig `yaml:"logging"`
	Sweep     SweepConfig          `yaml:"sweep"`
}

type ServerConfig struct {
	Host            string        `yaml:"host" env:"SCORES_HOST"`
	Port            int           `yaml:"port" env:"SCORES_PORT"`
	PublicURL       string        `yaml:"public_url" env:"SCORES_PUBLIC_URL"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"SCORES_READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"SCORES_WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SCORES_SHUTDOWN_TIMEOUT"`
	AllowedOrigins  []string      `yaml:"allowed_origins" env:"SCORES_ALLOWED_ORIGINS"`
	AuditLogPath    string        `yaml:"audit_log" env:"SCORES_AUDIT_LOG"`
}

// Addr is the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type DatabaseConfig struct {
	Driver          string        `yaml:"driver" env:"DATABASE_DRIVER"`
	DSN             string        `yaml:"dsn" env:"DATABASE_URL"`
	MaxOpenConns    int           `yaml:"max_open_conns" env:"DATABASE_MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"DATABASE_MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"DATABASE_CONN_MAX_LIFETIME"`
	MigrateOnStart  bool          `yaml:"migrate_on_start" env:"DATABASE_MIGRATE_ON_START"`
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled" env:"REDIS_ENABLED"`
	Address  string `yaml:"address" env:"REDIS_ADDR"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB"`
	Channel  string `yaml:"channel" env:"REDIS_CHANNEL"`
}

// ClusterConfig selects and describes the compute cluster. In fake mode the
// keys derive from Seed; in http mode SigningKey (compressed P-256 hex) and
// EncryptionKey (x25519 hex) are the trusted identity.
type ClusterConfig struct {
	Mode          string        `yaml:"mode" env:"CLUSTER_MODE"`
	ID            string        `yaml:"id" env:"CLUSTER_ID"`
	Circuit       string        `yaml:"circuit" env:"CLUSTER_CIRCUIT"`
	Endpoint      string        `yaml:"endpoint" env:"CLUSTER_ENDPOINT"`
	APIKey        string        `yaml:"api_key" env:"CLUSTER_API_KEY"`
	Timeout       time.Duration `yaml:"timeout" env:"CLUSTER_TIMEOUT"`
	SigningKey    string        `yaml:"signing_key" env:"CLUSTER_SIGNING_KEY"`
	EncryptionKey string        `yaml:"encryption_key" env:"CLUSTER_ENCRYPTION_KEY"`
	Seed          string        `yaml:"seed" env:"CLUSTER_SEED"`
	FakeMode      string        `yaml:"fake_mode" env:"CLUSTER_FAKE_MODE"`
	FakeDelay     time.Duration `yaml:"fake_delay" env:"CLUSTER_FAKE_DELAY"`
}

// AuthConfig enables bearer-token authentication of submitters when Secret is set.
type AuthConfig struct {
	Secret string `yaml:"secret" env:"AUTH_JWT_SECRET"`
}

type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled" env:"RATE_LIMIT_ENABLED"`
	RequestsPerSecond int  `yaml:"requests_per_second" env:"RATE_LIMIT_RPS"`
	Burst             int  `yaml:"burst" env:"RATE_LIMIT_BURST"`
}

type NotifyConfig struct {
	LogSize   int  `yaml:"log_size" env:"NOTIFY_LOG_SIZE"`
	WebSocket bool `yaml:"websocket" env:"NOTIFY_WEBSOCKET"`
}

type SweepConfig struct {
	Interval   time.Duration `yaml:"interval" env:"SWEEP_INTERVAL"`
	StaleAfter time.Duration `yaml:"stale_after" env:"SWEEP_STALE_AFTER"`
}

// Default returns the built-in configuration: in-memory storage and a fake cluster.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:          DriverMemory,
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Redis: RedisConfig{
			Address: "localhost:6379",
			Channel: "sealed-scores:events",
		},
		Cluster: ClusterConfig{
			Mode:     ClusterFake,
			ID:       "local-cluster",
			Circuit:  "process_scores",
			Timeout:  5 * time.Second,
			Seed:     "local-cluster",
			FakeMode: "valid",
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 20,
			Burst:             40,
		},
		Notify: NotifyConfig{
			LogSize:   256,
			WebSocket: true,
		},
		Logging: logger.LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Sweep: SweepConfig{
			Interval:   time.Minute,
			StaleAfter: 10 * time.Minute,
		},
	}
}

// Load builds the configuration. path overrides $SCORES_CONFIG; an empty
// path with no variable skips the YAML layer.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv(PathEnv)
	}
	if path != "" {
		if err := LoadFile(filepath.Clean(path), &cfg); err != nil {
			return Config{}, err
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return Config{}, fmt.Errorf("decode environment: %w", err)
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadFile overlays the YAML file at path onto cfg.
func LoadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) normalize() {
	c.Database.Driver = strings.ToLower(strings.TrimSpace(c.Database.Driver))
	c.Cluster.Mode = strings.ToLower(strings.TrimSpace(c.Cluster.Mode))
	c.Server.PublicURL = strings.TrimRight(strings.TrimSpace(c.Server.PublicURL), "/")
}

// Validate rejects combinations the server cannot start with.
func (c Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}

	switch c.Database.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.Database.DSN == "" {
			errs = append(errs, fmt.Errorf("database.dsn is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown database.driver %q", c.Database.Driver))
	}

	if c.Cluster.ID == "" {
		errs = append(errs, fmt.Errorf("cluster.id is required"))
	}
	switch c.Cluster.Mode {
	case ClusterFake:
	case ClusterHTTP:
		if c.Cluster.Endpoint == "" {
			errs = append(errs, fmt.Errorf("cluster.endpoint is required in http mode"))
		}
		if c.Cluster.SigningKey == "" {
			errs = append(errs, fmt.Errorf("cluster.signing_key is required in http mode"))
		}
		if c.Cluster.EncryptionKey == "" {
			errs = append(errs, fmt.Errorf("cluster.encryption_key is required in http mode"))
		}
		if c.Server.PublicURL == "" {
			errs = append(errs, fmt.Errorf("server.public_url is required in http mode"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown cluster.mode %q", c.Cluster.Mode))
	}

	if c.RateLimit.Enabled && c.RateLimit.RequestsPerSecond <= 0 {
		errs = append(errs, fmt.Errorf("rate_limit.requests_per_second must be positive"))
	}
	return errors.Join(errs...)
}
