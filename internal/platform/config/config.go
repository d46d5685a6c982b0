package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	BlobBackendAuto     = "auto"
	BlobBackendPostgres = "postgres"
	BlobBackendRedis    = "redis"
	BlobBackendMemory   = "memory"
	BlobBackendNone     = "none"
)

// Config is centralized process configuration.
// Values come from defaults, then the YAML file named by DASHSYNC_CONFIG_FILE,
// then environment variables.
type Config struct {
	ServiceName string `yaml:"service_name"`
	HTTPPort    string `yaml:"http_port"`
	PostgresDSN string `yaml:"postgres_dsn"`

	BlobBackend   string `yaml:"blob_backend"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`

	LocalStorePath     string `yaml:"local_store_path"`
	MaxLocalValueBytes int    `yaml:"max_local_value_bytes"`

	ProbeTTL          time.Duration `yaml:"probe_ttl"`
	RemoteTimeout     time.Duration `yaml:"remote_timeout"`
	ProbeTables       []string      `yaml:"probe_tables"`
	PollInterval      time.Duration `yaml:"poll_interval"`
	DefaultUserID     string        `yaml:"default_user_id"`
	MaxReplayAttempts int           `yaml:"max_replay_attempts"`
	MaxQueueLength    int           `yaml:"max_queue_length"`

	EnableAutoDrain  bool `yaml:"enable_auto_drain"`
	EnableRemotePull bool `yaml:"enable_remote_pull"`
	EnableSwagger    bool `yaml:"enable_swagger"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

func Defaults() Config {
	return Config{
		ServiceName:        "dashsync",
		HTTPPort:           "8080",
		BlobBackend:        BlobBackendAuto,
		LocalStorePath:     "data/dashsync.db",
		MaxLocalValueBytes: 5 << 20,
		ProbeTTL:           30 * time.Second,
		RemoteTimeout:      8 * time.Second,
		ProbeTables:        []string{"customers"},
		PollInterval:       15 * time.Second,
		MaxQueueLength:     1000,
		EnableAutoDrain:    true,
		EnableRemotePull:   true,
		EnableSwagger:      true,
		LogLevel:           "INFO",
		LogFormat:          "text",
	}
}

func Load() (Config, error) {
	cfg := Defaults()
	if path := strings.TrimSpace(os.Getenv("DASHSYNC_CONFIG_FILE")); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	cfg.ServiceName = envString("SERVICE_NAME", cfg.ServiceName)
	cfg.HTTPPort = envString("HTTP_PORT", cfg.HTTPPort)
	cfg.PostgresDSN = envString("POSTGRES_DSN", cfg.PostgresDSN)
	cfg.BlobBackend = strings.ToLower(envString("DASHSYNC_BLOB_BACKEND", cfg.BlobBackend))
	cfg.RedisAddr = envString("REDIS_ADDR", cfg.RedisAddr)
	cfg.RedisPassword = envString("REDIS_PASSWORD", cfg.RedisPassword)
	cfg.RedisDB = envInt("REDIS_DB", cfg.RedisDB)
	cfg.LocalStorePath = envString("DASHSYNC_LOCAL_STORE_PATH", cfg.LocalStorePath)
	cfg.MaxLocalValueBytes = envInt("DASHSYNC_MAX_LOCAL_VALUE_BYTES", cfg.MaxLocalValueBytes)
	cfg.ProbeTTL = envDuration("DASHSYNC_PROBE_TTL", cfg.ProbeTTL)
	cfg.RemoteTimeout = envDuration("DASHSYNC_REMOTE_TIMEOUT", cfg.RemoteTimeout)
	cfg.ProbeTables = envList("DASHSYNC_PROBE_TABLES", cfg.ProbeTables)
	cfg.PollInterval = envDuration("DASHSYNC_POLL_INTERVAL", cfg.PollInterval)
	cfg.DefaultUserID = envString("DASHSYNC_DEFAULT_USER_ID", cfg.DefaultUserID)
	cfg.MaxReplayAttempts = envInt("DASHSYNC_MAX_REPLAY_ATTEMPTS", cfg.MaxReplayAttempts)
	cfg.MaxQueueLength = envInt("DASHSYNC_MAX_QUEUE_LENGTH", cfg.MaxQueueLength)
	cfg.EnableAutoDrain = envBool("ENABLE_AUTO_DRAIN", cfg.EnableAutoDrain)
	cfg.EnableRemotePull = envBool("ENABLE_REMOTE_PULL", cfg.EnableRemotePull)
	cfg.EnableSwagger = envBool("ENABLE_SWAGGER", cfg.EnableSwagger)
	cfg.LogLevel = envString("DASHSYNC_LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = envString("DASHSYNC_LOG_FORMAT", cfg.LogFormat)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ResolvedBlobBackend turns "auto" into a concrete backend: Postgres when a
// DSN is set, Redis when an address is set, otherwise none.
func (c Config) ResolvedBlobBackend() string {
	if c.BlobBackend != BlobBackendAuto && c.BlobBackend != "" {
		return c.BlobBackend
	}
	switch {
	case strings.TrimSpace(c.PostgresDSN) != "":
		return BlobBackendPostgres
	case strings.TrimSpace(c.RedisAddr) != "":
		return BlobBackendRedis
	default:
		return BlobBackendNone
	}
}

func (c Config) Validate() error {
	switch c.BlobBackend {
	case "", BlobBackendAuto, BlobBackendPostgres, BlobBackendRedis, BlobBackendMemory, BlobBackendNone:
	default:
		return fmt.Errorf("unsupported blob backend %q", c.BlobBackend)
	}
	switch c.ResolvedBlobBackend() {
	case BlobBackendPostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			return fmt.Errorf("POSTGRES_DSN is required for the %s blob backend", BlobBackendPostgres)
		}
	case BlobBackendRedis:
		if strings.TrimSpace(c.RedisAddr) == "" {
			return fmt.Errorf("REDIS_ADDR is required for the %s blob backend", BlobBackendRedis)
		}
	}
	if c.ProbeTTL <= 0 {
		return fmt.Errorf("probe ttl must be positive, got %s", c.ProbeTTL)
	}
	if c.RemoteTimeout <= 0 {
		return fmt.Errorf("remote timeout must be positive, got %s", c.RemoteTimeout)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %s", c.PollInterval)
	}
	return nil
}

func loadFile(path string, cfg *Config) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func envString(name string, fallback string) string {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	return raw
}

func envInt(name string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func envDuration(name string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return value
}

func envList(name string, fallback []string) []string {
	var values []string
	for _, value := range strings.Split(os.Getenv(name), ",") {
		value = strings.TrimSpace(value)
		if value != "" {
			values = append(values, value)
		}
	}
	if len(values) == 0 {
		return fallback
	}
	return values
}

func envBool(name string, fallback bool) bool {
	raw := strings.TrimSpace(strings.ToLower(os.Getenv(name)))
	if raw == "" {
		return fallback
	}
	switch raw {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return fallback
	}
}
