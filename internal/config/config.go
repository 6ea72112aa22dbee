package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds the application configuration
type Config struct {
	PACS      PACSConfig
	Log       LogConfig
	Cache     CacheConfig
	Redis     RedisConfig
	Metrics   MetricsConfig
	OutputDir string
}

// PACSConfig describes the remote PACS and the local application entity
type PACSConfig struct {
	Host           string
	Port           int
	AETitle        string
	CallingAETitle string
	ConnectTimeout time.Duration
	DIMSETimeout   time.Duration
	MaxPDULength   uint32
}

// LogConfig configures zerolog
type LogConfig struct {
	Level  string
	Format string
}

// CacheConfig configures search result caching
type CacheConfig struct {
	Enabled bool
	Type    string
	TTL     time.Duration
}

// RedisConfig holds the redis connection parameters
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// Addr returns host:port
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// MetricsConfig configures the Prometheus textfile export
type MetricsConfig struct {
	File string
}

// Cache types
const (
	CacheTypeMemory = "memory"
	CacheTypeRedis  = "redis"
)

// FlagBindings maps command line flags to the environment keys they override.
var FlagBindings = map[string]string{
	"host":             "PACS_IP",
	"port":             "PACS_PORT",
	"ae-title":         "PACS_AE_TITLE",
	"calling-ae-title": "PACS_CALLING_AE_TITLE",
	"log-level":        "LOG_LEVEL",
	"log-format":       "LOG_FORMAT",
	"metrics-file":     "METRICS_FILE",
	"out":              "OUTPUT_DIR",
}

var envKeys = []string{
	"PACS_IP", "PACS_PORT", "PACS_AE_TITLE", "PACS_CALLING_AE_TITLE",
	"PACS_CONNECT_TIMEOUT", "PACS_DIMSE_TIMEOUT", "PACS_MAX_PDU",
	"LOG_LEVEL", "LOG_FORMAT",
	"CACHE_ENABLED", "CACHE_TYPE", "CACHE_TTL",
	"REDIS_HOST", "REDIS_PORT", "REDIS_PASSWORD", "REDIS_DB",
	"METRICS_FILE", "OUTPUT_DIR",
}

// Load reads the configuration from .env (when present), the environment and
// the flags in fs that appear in FlagBindings. fs may be nil.
func Load(fs *pflag.FlagSet) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("PACS_PORT", 104)
	v.SetDefault("PACS_CALLING_AE_TITLE", "NEURAI")
	v.SetDefault("PACS_CONNECT_TIMEOUT", 30*time.Second)
	v.SetDefault("PACS_DIMSE_TIMEOUT", 120*time.Second)
	v.SetDefault("PACS_MAX_PDU", 16384)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "console")
	v.SetDefault("CACHE_ENABLED", false)
	v.SetDefault("CACHE_TYPE", CacheTypeMemory)
	v.SetDefault("CACHE_TTL", 5*time.Minute)
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("OUTPUT_DIR", ".")

	for _, key := range envKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("bind %s: %w", key, err)
		}
	}

	if fs != nil {
		for name, key := range FlagBindings {
			if flag := fs.Lookup(name); flag != nil {
				if err := v.BindPFlag(key, flag); err != nil {
					return nil, fmt.Errorf("bind flag --%s: %w", name, err)
				}
			}
		}
	}

	cfg := &Config{
		PACS: PACSConfig{
			Host:           strings.TrimSpace(v.GetString("PACS_IP")),
			Port:           v.GetInt("PACS_PORT"),
			AETitle:        strings.TrimSpace(v.GetString("PACS_AE_TITLE")),
			CallingAETitle: strings.TrimSpace(v.GetString("PACS_CALLING_AE_TITLE")),
			ConnectTimeout: v.GetDuration("PACS_CONNECT_TIMEOUT"),
			DIMSETimeout:   v.GetDuration("PACS_DIMSE_TIMEOUT"),
			MaxPDULength:   v.GetUint32("PACS_MAX_PDU"),
		},
		Log: LogConfig{
			Level:  strings.ToLower(v.GetString("LOG_LEVEL")),
			Format: strings.ToLower(v.GetString("LOG_FORMAT")),
		},
		Cache: CacheConfig{
			Enabled: v.GetBool("CACHE_ENABLED"),
			Type:    strings.ToLower(v.GetString("CACHE_TYPE")),
			TTL:     v.GetDuration("CACHE_TTL"),
		},
		Redis: RedisConfig{
			Host:     v.GetString("REDIS_HOST"),
			Port:     v.GetInt("REDIS_PORT"),
			Password: v.GetString("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
		},
		Metrics:   MetricsConfig{File: v.GetString("METRICS_FILE")},
		OutputDir: v.GetString("OUTPUT_DIR"),
	}

	return cfg, nil
}

// Validate checks that the PACS can be addressed and the remaining settings
// are usable.
func (c *Config) Validate() error {
	if c.PACS.Host == "" {
		return fmt.Errorf("PACS_IP is required")
	}
	if c.PACS.Port < 1 || c.PACS.Port > 65535 {
		return fmt.Errorf("PACS_PORT must be between 1 and 65535, got %d", c.PACS.Port)
	}
	if c.PACS.AETitle == "" {
		return fmt.Errorf("PACS_AE_TITLE is required")
	}
	if len(c.PACS.AETitle) > 16 {
		return fmt.Errorf("PACS_AE_TITLE must be at most 16 characters, got %q", c.PACS.AETitle)
	}
	if c.PACS.CallingAETitle == "" || len(c.PACS.CallingAETitle) > 16 {
		return fmt.Errorf("PACS_CALLING_AE_TITLE must be 1 to 16 characters, got %q", c.PACS.CallingAETitle)
	}
	if c.PACS.ConnectTimeout <= 0 || c.PACS.DIMSETimeout <= 0 {
		return fmt.Errorf("PACS timeouts must be positive")
	}

	switch c.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("LOG_FORMAT must be \"console\" or \"json\", got %q", c.Log.Format)
	}

	if c.Cache.Enabled {
		switch c.Cache.Type {
		case CacheTypeMemory:
		case CacheTypeRedis:
			if c.Redis.Port < 1 || c.Redis.Port > 65535 {
				return fmt.Errorf("REDIS_PORT must be between 1 and 65535, got %d", c.Redis.Port)
			}
		default:
			return fmt.Errorf("CACHE_TYPE must be %q or %q, got %q", CacheTypeMemory, CacheTypeRedis, c.Cache.Type)
		}
		if c.Cache.TTL <= 0 {
			return fmt.Errorf("CACHE_TTL must be positive")
		}
	}

	return nil
}
