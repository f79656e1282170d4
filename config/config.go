package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"logwarden/core"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Model store backends.
const (
	ModelStoreFile   = "file"
	ModelStoreSQLite = "sqlite"
)

// DataPaths holds data directory and file path configuration. Every path can
// be overridden via environment variables.
type DataPaths struct {
	// DataDir is the base data directory (LOGWARDEN_DATA_DIR, default: ./data)
	DataDir string `mapstructure:"data_dir"`
	// SQLitePath is the database file (LOGWARDEN_SQLITE_PATH, default: ${DataDir}/logwarden.db)
	SQLitePath string `mapstructure:"sqlite_path"`
	// MLDir holds file-backed model artifacts (LOGWARDEN_ML_DIR, default: ${DataDir}/ml_models)
	MLDir string `mapstructure:"ml_dir"`
}

// MLConfig configures the anomaly model.
type MLConfig struct {
	ModelName     string  `mapstructure:"model_name" validate:"required,max=128"`
	ModelStore    string  `mapstructure:"model_store" validate:"oneof=file sqlite"`
	Contamination float64 `mapstructure:"contamination" validate:"gt=0,lte=0.5"`
	NumTrees      int     `mapstructure:"num_trees" validate:"gte=1,lte=1000"`
	SubsampleSize int     `mapstructure:"subsample_size" validate:"gte=2"`
	Seed          int64   `mapstructure:"seed"`
}

// RateLimitConfig is the per-client token bucket of the HTTP API.
type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second" validate:"gt=0"`
	Burst             int     `mapstructure:"burst" validate:"gte=1"`
	MaxClients        int     `mapstructure:"max_clients" validate:"gte=0"`
}

// APIConfig configures the HTTP API.
type APIConfig struct {
	Host                 string          `mapstructure:"host"`
	Port                 int             `mapstructure:"port" validate:"gte=1,lte=65535"`
	AllowedOrigins       []string        `mapstructure:"allowed_origins"`
	TrustProxy           bool            `mapstructure:"trust_proxy"`
	TrustedProxyNetworks []string        `mapstructure:"trusted_proxy_networks"`
	RateLimit            RateLimitConfig `mapstructure:"rate_limit"`
}

// Addr returns the host:port listen address.
func (a APIConfig) Addr() string {
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}

// RedisConfig enables the cross-process run lock.
type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr" validate:"required_if=Enabled true"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db" validate:"gte=0"`
	LockTTL  time.Duration `mapstructure:"lock_ttl"`
}

// WorkerConfig sizes the background job pool.
type WorkerConfig struct {
	Count     int `mapstructure:"count" validate:"gte=1,lte=64"`
	QueueSize int `mapstructure:"queue_size" validate:"gte=1"`
}

// Config holds all configuration for logwarden.
type Config struct {
	DataPaths DataPaths           `mapstructure:"data_paths"`
	ML        MLConfig            `mapstructure:"ml"`
	Severity  core.SeverityPolicy `mapstructure:"severity"`
	API       APIConfig           `mapstructure:"api"`
	Redis     RedisConfig         `mapstructure:"redis"`
	Worker    WorkerConfig        `mapstructure:"worker"`
	Detection struct {
		FilterCacheSize int `mapstructure:"filter_cache_size" validate:"gte=1"`
	} `mapstructure:"detection"`
	Logging struct {
		Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
	} `mapstructure:"logging"`
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("data_paths.data_dir", "./data")
	v.SetDefault("data_paths.sqlite_path", "") // Empty = derive from data_dir
	v.SetDefault("data_paths.ml_dir", "")      // Empty = derive from data_dir

	v.SetDefault("ml.model_name", "access_anomaly")
	v.SetDefault("ml.model_store", ModelStoreSQLite)
	v.SetDefault("ml.contamination", 0.05)
	v.SetDefault("ml.num_trees", 100)
	v.SetDefault("ml.subsample_size", 256)
	v.SetDefault("ml.seed", 42)

	v.SetDefault("severity.high", core.DefaultHighThreshold)
	v.SetDefault("severity.medium", core.DefaultMediumThreshold)

	v.SetDefault("api.host", "127.0.0.1")
	v.SetDefault("api.port", 8081)
	v.SetDefault("api.allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("api.trust_proxy", false)
	v.SetDefault("api.trusted_proxy_networks", []string{})
	v.SetDefault("api.rate_limit.requests_per_second", 20)
	v.SetDefault("api.rate_limit.burst", 40)
	v.SetDefault("api.rate_limit.max_clients", 10000)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.lock_ttl", 10*time.Minute)

	v.SetDefault("worker.count", 2)
	v.SetDefault("worker.queue_size", 16)

	v.SetDefault("detection.filter_cache_size", 512)
	v.SetDefault("logging.level", "info")
}

// loadFromEnv sets up environment variable loading
func loadFromEnv(v *viper.Viper) {
	v.SetEnvPrefix("LOGWARDEN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Shorter names for the path settings.
	_ = v.BindEnv("data_paths.data_dir", "LOGWARDEN_DATA_DIR")
	_ = v.BindEnv("data_paths.sqlite_path", "LOGWARDEN_SQLITE_PATH")
	_ = v.BindEnv("data_paths.ml_dir", "LOGWARDEN_ML_DIR")
}

// LoadConfig loads configuration from file and environment variables. When
// path is empty, config.yaml is searched for in . and ./config and a missing
// file is not an error.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	setDefaults(v)
	loadFromEnv(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	config.ResolveDataPaths()
	return &config, nil
}

// ResolveDataPaths derives unset paths from DataDir.
func (c *Config) ResolveDataPaths() {
	dataDir := c.DataPaths.DataDir
	if dataDir == "" {
		dataDir = "./data"
	}

	if c.DataPaths.SQLitePath == "" {
		c.DataPaths.SQLitePath = filepath.Join(dataDir, "logwarden.db")
	} else if c.DataPaths.SQLitePath != ":memory:" {
		c.DataPaths.SQLitePath = filepath.Clean(c.DataPaths.SQLitePath)
	}

	if c.DataPaths.MLDir == "" {
		c.DataPaths.MLDir = filepath.Join(dataDir, "ml_models")
	} else {
		c.DataPaths.MLDir = filepath.Clean(c.DataPaths.MLDir)
	}

	c.DataPaths.DataDir = dataDir
}

var validate = validator.New()

func validateConfig(config *Config) error {
	if err := validate.Struct(config); err != nil {
		return err
	}
	if err := config.Severity.Validate(); err != nil {
		return err
	}
	if config.Redis.Enabled && config.Redis.LockTTL < time.Second {
		return fmt.Errorf("redis.lock_ttl must be at least 1s, got %s", config.Redis.LockTTL)
	}
	return nil
}
