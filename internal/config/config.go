package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTPAddr      string        `yaml:"http_addr"`
	OxiDBHost     string        `yaml:"oxidb_host"`
	OxiDBPort     int           `yaml:"oxidb_port"`
	PoolSize      int           `yaml:"pool_size"`
	DBPath        string        `yaml:"db_path"`
	JWTSecret     string        `yaml:"jwt_secret"`
	TokenTTL      time.Duration `yaml:"token_ttl"`
	AdminEmail    string        `yaml:"admin_email"`
	AdminPass     string        `yaml:"admin_pass"`
	GelfAddr      string        `yaml:"gelf_addr"`
	LogLevel      string        `yaml:"log_level"`
	RemoteTimeout time.Duration `yaml:"remote_timeout"`
	SyncWorkers   int           `yaml:"sync_workers"`
	MediaDir      string        `yaml:"media_dir"`
	S3            S3Config      `yaml:"s3"`
}

type S3Config struct {
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	UsePathStyle    bool   `yaml:"use_path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

func Default() *Config {
	return &Config{
		HTTPAddr:      ":8080",
		OxiDBHost:     "127.0.0.1",
		OxiDBPort:     4444,
		PoolSize:      3,
		DBPath:        "data/oxifield.db",
		JWTSecret:     "oxifield-dev-secret-change-me",
		TokenTTL:      24 * time.Hour,
		AdminEmail:    "admin@oxifield.local",
		AdminPass:     "admin123",
		LogLevel:      "info",
		RemoteTimeout: 15 * time.Second,
		SyncWorkers:   2,
		MediaDir:      "data/media",
		S3:            S3Config{Region: "us-east-1"},
	}
}

// Load returns the defaults overlaid with the YAML file at path (if any)
// and then with environment variables. OXIFIELD_CONFIG is used when path
// is empty.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		path = os.Getenv("OXIFIELD_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg.HTTPAddr = getEnv("OXIFIELD_ADDR", cfg.HTTPAddr)
	cfg.OxiDBHost = getEnv("OXIDB_HOST", cfg.OxiDBHost)
	cfg.OxiDBPort = getEnvInt("OXIDB_PORT", cfg.OxiDBPort)
	cfg.PoolSize = getEnvInt("OXIFIELD_POOL_SIZE", cfg.PoolSize)
	cfg.DBPath = getEnv("OXIFIELD_DB_PATH", cfg.DBPath)
	cfg.JWTSecret = getEnv("OXIFIELD_JWT_SECRET", cfg.JWTSecret)
	cfg.TokenTTL = getEnvDuration("OXIFIELD_TOKEN_TTL", cfg.TokenTTL)
	cfg.AdminEmail = getEnv("OXIFIELD_ADMIN_EMAIL", cfg.AdminEmail)
	cfg.AdminPass = getEnv("OXIFIELD_ADMIN_PASS", cfg.AdminPass)
	cfg.GelfAddr = getEnv("OXIFIELD_GELF_ADDR", cfg.GelfAddr)
	cfg.LogLevel = getEnv("OXIFIELD_LOG_LEVEL", cfg.LogLevel)
	cfg.RemoteTimeout = getEnvDuration("OXIFIELD_REMOTE_TIMEOUT", cfg.RemoteTimeout)
	cfg.SyncWorkers = getEnvInt("OXIFIELD_SYNC_WORKERS", cfg.SyncWorkers)
	cfg.MediaDir = getEnv("OXIFIELD_MEDIA_DIR", cfg.MediaDir)
	cfg.S3.Bucket = getEnv("OXIFIELD_S3_BUCKET", cfg.S3.Bucket)
	cfg.S3.Region = getEnv("OXIFIELD_S3_REGION", cfg.S3.Region)
	cfg.S3.Endpoint = getEnv("OXIFIELD_S3_ENDPOINT", cfg.S3.Endpoint)
	cfg.S3.AccessKeyID = getEnv("OXIFIELD_S3_ACCESS_KEY_ID", cfg.S3.AccessKeyID)
	cfg.S3.SecretAccessKey = getEnv("OXIFIELD_S3_SECRET_ACCESS_KEY", cfg.S3.SecretAccessKey)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("jwt_secret must not be empty"))
	}
	if c.PoolSize <= 0 {
		errs = append(errs, fmt.Errorf("pool_size must be positive, got %d", c.PoolSize))
	}
	if c.SyncWorkers <= 0 {
		errs = append(errs, fmt.Errorf("sync_workers must be positive, got %d", c.SyncWorkers))
	}
	if c.RemoteTimeout <= 0 {
		errs = append(errs, fmt.Errorf("remote_timeout must be positive, got %s", c.RemoteTimeout))
	}
	if c.DBPath == "" {
		errs = append(errs, errors.New("db_path must not be empty"))
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log_level %q is not one of debug, info, warn, error", c.LogLevel))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
