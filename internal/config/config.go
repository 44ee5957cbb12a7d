package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Executor ExecutorConfig `yaml:"executor"`
	Cache    CacheConfig    `yaml:"cache"`
	Database DatabaseConfig `yaml:"database"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Tracing  TracingConfig  `yaml:"tracing"`
	Security SecurityConfig `yaml:"security"`
	TLS      TLSConfig      `yaml:"tls"`
}

type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxRequestBody  int64         `yaml:"max_request_body_bytes"`
}

// ExecutorConfig is the process-wide execution policy. It is read-only once
// the server has started.
type ExecutorConfig struct {
	Toolchain      string        `yaml:"toolchain"` // "rust" (default) or "go"
	DefaultTimeout time.Duration `yaml:"default_timeout"`
	MaxTimeout     time.Duration `yaml:"max_timeout"`
	BuildTimeout   time.Duration `yaml:"build_timeout"`
	CheckTimeout   time.Duration `yaml:"check_timeout"`
	MemoryLimitMB  int64         `yaml:"memory_limit_mb"`
	MaxCodeSizeKB  int64         `yaml:"max_code_size_kb"`
	EnforceMemory  bool          `yaml:"enforce_memory"`
	Watchdog       bool          `yaml:"watchdog"`
	WorkspaceRoot  string        `yaml:"workspace_root"` // empty uses os.TempDir()
	GoCacheDir     string        `yaml:"go_cache_dir"`   // shared GOCACHE for the go toolchain
}

// CacheConfig controls reuse of compiled artifacts across identical snippets.
type CacheConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Dir        string `yaml:"dir"`
	MaxEntries int    `yaml:"max_entries"`
}

type DatabaseConfig struct {
	DSN                string        `yaml:"dsn"`
	MaxOpenConns       int           `yaml:"max_open_conns"`
	ConnMaxLifetime    time.Duration `yaml:"conn_max_lifetime"`
	AuditBuffer        int           `yaml:"audit_buffer"`
	AuditBatchSize     int           `yaml:"audit_batch_size"`
	AuditFlushInterval time.Duration `yaml:"audit_flush_interval"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// TracingConfig toggles pipeline spans. Spans go to the global
// TracerProvider; exporting them is left to the embedding process.
type TracingConfig struct {
	Enabled bool `yaml:"enabled"`
}

type SecurityConfig struct {
	APIKeyHeader   string   `yaml:"api_key_header"`
	AllowedKeys    []string `yaml:"allowed_keys"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	RateLimitRPS   float64  `yaml:"rate_limit_rps"`
	RateLimitBurst int      `yaml:"rate_limit_burst"`
	MaxInFlight    int      `yaml:"max_in_flight"`
}

// TLSConfig controls HTTPS/TLS termination.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(filepath.Clean(path)) // #nosec G304 -- path comes from env or hardcoded default
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns the defaults of the original executor service:
// 30s runs, 128MB, 50KB snippets.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8006,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    100 * time.Second, // build budget + max run timeout + overhead
			ShutdownTimeout: 30 * time.Second,
			MaxRequestBody:  1 << 20,
		},
		Executor: ExecutorConfig{
			Toolchain:      "rust",
			DefaultTimeout: 30 * time.Second,
			MaxTimeout:     60 * time.Second,
			BuildTimeout:   30 * time.Second,
			CheckTimeout:   10 * time.Second,
			MemoryLimitMB:  128,
			MaxCodeSizeKB:  50,
			EnforceMemory:  true,
			Watchdog:       true,
		},
		Cache: CacheConfig{
			Enabled:    false,
			MaxEntries: 256,
		},
		Database: DatabaseConfig{
			MaxOpenConns:       10,
			ConnMaxLifetime:    5 * time.Minute,
			AuditBuffer:        10000,
			AuditBatchSize:     50,
			AuditFlushInterval: time.Second,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Tracing: TracingConfig{
			Enabled: true,
		},
		Security: SecurityConfig{
			APIKeyHeader:   "X-API-Key",
			AllowedOrigins: []string{"*"},
			RateLimitRPS:   20,
			RateLimitBurst: 40,
			MaxInFlight:    64,
		},
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 1-65535, got %d", c.Server.Port)
	}
	switch c.Executor.Toolchain {
	case "rust", "go":
	default:
		return fmt.Errorf("executor.toolchain must be rust or go, got %q", c.Executor.Toolchain)
	}
	if c.Executor.DefaultTimeout <= 0 {
		return fmt.Errorf("executor.default_timeout must be > 0")
	}
	if c.Executor.DefaultTimeout > c.Executor.MaxTimeout {
		return fmt.Errorf("executor.default_timeout (%s) must be <= max_timeout (%s)",
			c.Executor.DefaultTimeout, c.Executor.MaxTimeout)
	}
	if c.Executor.BuildTimeout <= 0 || c.Executor.CheckTimeout <= 0 {
		return fmt.Errorf("executor.build_timeout and executor.check_timeout must be > 0")
	}
	if c.Executor.MemoryLimitMB < 16 {
		return fmt.Errorf("executor.memory_limit_mb must be >= 16")
	}
	if c.Executor.MaxCodeSizeKB < 1 {
		return fmt.Errorf("executor.max_code_size_kb must be >= 1")
	}
	if c.Executor.WorkspaceRoot != "" && !filepath.IsAbs(c.Executor.WorkspaceRoot) {
		return fmt.Errorf("executor.workspace_root: %q must be an absolute path", c.Executor.WorkspaceRoot)
	}
	if c.Cache.Enabled && c.Cache.MaxEntries < 1 {
		return fmt.Errorf("cache.max_entries must be >= 1 when the cache is enabled")
	}
	if c.Security.MaxInFlight < 1 {
		return fmt.Errorf("security.max_in_flight must be >= 1")
	}
	if c.TLS.Enabled {
		if c.TLS.CertFile == "" || c.TLS.KeyFile == "" {
			return fmt.Errorf("tls.cert_file and tls.key_file are required when TLS is enabled")
		}
	}
	if c.Database.DSN != "" && strings.Contains(c.Database.DSN, "sslmode=disable") {
		log.Warn().Msg("database DSN has sslmode=disable, connections to Postgres are unencrypted")
	}
	return nil
}

// ApplyEnv overrides selected values from the environment.
func (c *Config) ApplyEnv() error {
	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("PORT %q is not a number: %w", port, err)
		}
		c.Server.Port = p
	}
	if tc := os.Getenv("EXECUTOR_TOOLCHAIN"); tc != "" {
		c.Executor.Toolchain = tc
	}
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		c.Database.DSN = dsn
	}
	return c.Validate()
}

// Address returns the listen address string.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
