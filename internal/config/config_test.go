package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Chdir(t.TempDir())
	t.Setenv("PACS_IP", "10.0.0.5")
	t.Setenv("PACS_AE_TITLE", "ORTHANC")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}

	if cfg.PACS.Port != 104 || cfg.PACS.CallingAETitle != "NEURAI" {
		t.Errorf("Unexpected PACS defaults: %+v", cfg.PACS)
	}
	if cfg.PACS.ConnectTimeout != 30*time.Second || cfg.PACS.DIMSETimeout != 120*time.Second {
		t.Errorf("Unexpected timeouts: %+v", cfg.PACS)
	}
	if cfg.PACS.MaxPDULength != 16384 {
		t.Errorf("Expected max PDU 16384, got %d", cfg.PACS.MaxPDULength)
	}
	if cfg.Cache.Enabled || cfg.Cache.Type != CacheTypeMemory || cfg.Cache.TTL != 5*time.Minute {
		t.Errorf("Unexpected cache defaults: %+v", cfg.Cache)
	}
	if cfg.Redis.Addr() != "localhost:6379" {
		t.Errorf("Unexpected redis address %s", cfg.Redis.Addr())
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	setRequired(t)
	t.Setenv("PACS_PORT", "4242")
	t.Setenv("PACS_DIMSE_TIMEOUT", "45s")
	t.Setenv("CACHE_ENABLED", "true")
	t.Setenv("CACHE_TYPE", "REDIS")
	t.Setenv("REDIS_HOST", "cache")
	t.Setenv("LOG_FORMAT", "json")

	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if cfg.PACS.Port != 4242 || cfg.PACS.DIMSETimeout != 45*time.Second {
		t.Errorf("Environment not applied: %+v", cfg.PACS)
	}
	if !cfg.Cache.Enabled || cfg.Cache.Type != CacheTypeRedis || cfg.Redis.Addr() != "cache:6379" {
		t.Errorf("Unexpected cache config: %+v %+v", cfg.Cache, cfg.Redis)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("PACS_IP=pacs.local\nPACS_AE_TITLE=DCM4CHEE\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	// Registered so the variables set by godotenv are restored after the test.
	t.Setenv("PACS_IP", "")
	t.Setenv("PACS_AE_TITLE", "")
	os.Unsetenv("PACS_IP")
	os.Unsetenv("PACS_AE_TITLE")

	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.PACS.Host != "pacs.local" || cfg.PACS.AETitle != "DCM4CHEE" {
		t.Errorf(".env not applied: %+v", cfg.PACS)
	}
}

func TestFlagsOverrideEnvironment(t *testing.T) {
	setRequired(t)

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("host", "", "")
	fs.Int("port", 104, "")
	fs.String("ae-title", "", "")
	if err := fs.Parse([]string{"--host", "192.168.1.10", "--port", "11112"}); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(fs)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.PACS.Host != "192.168.1.10" || cfg.PACS.Port != 11112 {
		t.Errorf("Flags not applied: %+v", cfg.PACS)
	}
	if cfg.PACS.AETitle != "ORTHANC" {
		t.Errorf("Unset flag overrode environment: %q", cfg.PACS.AETitle)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			PACS: PACSConfig{
				Host: "pacs", Port: 104, AETitle: "PACS", CallingAETitle: "NEURAI",
				ConnectTimeout: time.Second, DIMSETimeout: time.Second,
			},
			Log:   LogConfig{Level: "info", Format: "console"},
			Cache: CacheConfig{Type: CacheTypeMemory, TTL: time.Minute},
			Redis: RedisConfig{Host: "localhost", Port: 6379},
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing host", func(c *Config) { c.PACS.Host = "" }, "PACS_IP"},
		{"bad port", func(c *Config) { c.PACS.Port = 70000 }, "PACS_PORT"},
		{"missing AE title", func(c *Config) { c.PACS.AETitle = "" }, "PACS_AE_TITLE"},
		{"long AE title", func(c *Config) { c.PACS.AETitle = strings.Repeat("A", 17) }, "PACS_AE_TITLE"},
		{"zero timeout", func(c *Config) { c.PACS.DIMSETimeout = 0 }, "timeouts"},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, "LOG_FORMAT"},
		{"bad cache type", func(c *Config) { c.Cache.Enabled = true; c.Cache.Type = "disk" }, "CACHE_TYPE"},
		{"bad redis port", func(c *Config) { c.Cache.Enabled = true; c.Cache.Type = CacheTypeRedis; c.Redis.Port = 0 }, "REDIS_PORT"},
	}

	if err := valid().Validate(); err != nil {
		t.Fatalf("Valid config rejected: %v", err)
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Expected error mentioning %s, got %v", tt.want, err)
			}
		})
	}
}
