// Package config handles application configuration loading from environment
// variables, following the spec's recognized-variable list (SPEC_FULL §6)
// layered on MEDGEN_*-prefixed overrides for everything else.
package config

import (
	"fmt"
	"net/url"
	"os"
	"runtime"
	"strconv"
	"strings"
)

// Config holds all configuration values for the casualty generation service.
type Config struct {
	// Port is the HTTP port the API server listens on.
	Port string

	// LogLevel controls the verbosity of log output (debug, info, warn, error).
	LogLevel string

	// DatabaseURL is the PostgreSQL connection string for the durable store.
	DatabaseURL string

	// CacheURL is the Redis connection address for the reference-data cache
	// and rate limiter. Empty means "run with a no-op cache".
	CacheURL string

	// OutputRoot is the filesystem root under which job_<id>/ directories
	// are created.
	OutputRoot string

	// WorkerPoolSize is the number of concurrent job workers.
	WorkerPoolSize int

	// BatchSize bounds how many patients are held in memory at once per job.
	BatchSize int

	// JobTimeoutSeconds is the soft per-job deadline.
	JobTimeoutSeconds int

	// JobRetentionDays is how long completed job output directories are kept.
	JobRetentionDays int

	// LegacyAPIKey, if set, is accepted as an equivalent unlimited active key.
	LegacyAPIKey string

	// DemoAPIKey is the well-known constant auto-provisioned with restricted limits.
	DemoAPIKey string

	// MaxPatientsPerRequest bounds total_patients server-wide.
	MaxPatientsPerRequest int

	// AllowedOrigins defines the CORS allowed origins for the API.
	AllowedOrigins []string
}

const defaultDemoAPIKey = "demo-key-restricted-0001"

// Load reads configuration from environment variables and returns a Config.
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.Port = getEnvOrDefault("MEDGEN_PORT", "8080")
	cfg.LogLevel = getEnvOrDefault("MEDGEN_LOG_LEVEL", "info")
	cfg.OutputRoot = getEnvOrDefault("OUTPUT_ROOT", "/var/medgen/output")

	workerPoolSize := runtime.NumCPU()
	if workerPoolSize > 4 {
		workerPoolSize = 4
	}
	size, err := getEnvIntOrDefault("WORKER_POOL_SIZE", workerPoolSize)
	if err != nil {
		return nil, err
	}
	cfg.WorkerPoolSize = size

	batchSize, err := getEnvIntOrDefault("BATCH_SIZE", 500)
	if err != nil {
		return nil, err
	}
	cfg.BatchSize = batchSize

	jobTimeout, err := getEnvIntOrDefault("JOB_TIMEOUT_SECONDS", 1800)
	if err != nil {
		return nil, err
	}
	cfg.JobTimeoutSeconds = jobTimeout

	retentionDays, err := getEnvIntOrDefault("JOB_RETENTION_DAYS", 7)
	if err != nil {
		return nil, err
	}
	cfg.JobRetentionDays = retentionDays

	maxPatients, err := getEnvIntOrDefault("MEDGEN_MAX_PATIENTS_PER_REQUEST", 100000)
	if err != nil {
		return nil, err
	}
	cfg.MaxPatientsPerRequest = maxPatients

	cfg.LegacyAPIKey = os.Getenv("LEGACY_API_KEY")
	cfg.DemoAPIKey = getEnvOrDefault("DEMO_API_KEY", defaultDemoAPIKey)

	// Build PostgreSQL connection URL from individual components.
	pgHost := getEnvOrDefault("POSTGRES_HOST", "localhost")
	pgPort := getEnvOrDefault("POSTGRES_PORT", "5432")
	pgDB := getEnvOrDefault("POSTGRES_DB", "medgen")
	pgUser := getEnvOrDefault("POSTGRES_USER", "medgen")
	pgPassword := os.Getenv("POSTGRES_PASSWORD")
	pgSSLMode := getEnvOrDefault("POSTGRES_SSLMODE", "require")

	dsn := &url.URL{
		Scheme:   "postgres",
		Host:     fmt.Sprintf("%s:%s", pgHost, pgPort),
		Path:     pgDB,
		RawQuery: fmt.Sprintf("sslmode=%s", pgSSLMode),
	}
	if pgPassword == "" {
		dsn.User = url.User(pgUser)
	} else {
		dsn.User = url.UserPassword(pgUser, pgPassword)
	}
	cfg.DatabaseURL = dsn.String()

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		cfg.DatabaseURL = dbURL
	}

	// CACHE_URL is optional; an empty value means "run with a no-op cache".
	cfg.CacheURL = os.Getenv("CACHE_URL")

	originsStr := getEnvOrDefault("MEDGEN_ALLOWED_ORIGINS", "http://localhost:3000")
	cfg.AllowedOrigins = strings.Split(originsStr, ",")
	for i, origin := range cfg.AllowedOrigins {
		cfg.AllowedOrigins[i] = strings.TrimSpace(origin)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set and valid.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("config: MEDGEN_PORT is required")
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("config: database URL could not be constructed")
	}
	if c.OutputRoot == "" {
		return fmt.Errorf("config: OUTPUT_ROOT is required")
	}
	if c.WorkerPoolSize <= 0 {
		return fmt.Errorf("config: WORKER_POOL_SIZE must be positive")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("config: BATCH_SIZE must be positive")
	}
	if c.JobTimeoutSeconds <= 0 {
		return fmt.Errorf("config: JOB_TIMEOUT_SECONDS must be positive")
	}
	if c.JobRetentionDays <= 0 {
		return fmt.Errorf("config: JOB_RETENTION_DAYS must be positive")
	}
	if c.MaxPatientsPerRequest <= 0 {
		return fmt.Errorf("config: MEDGEN_MAX_PATIENTS_PER_REQUEST must be positive")
	}
	return nil
}

// getEnvOrDefault returns the value of the environment variable named by key,
// or the defaultValue if the variable is not set or empty.
func getEnvOrDefault(key, defaultValue string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultValue
}

// getEnvIntOrDefault parses the environment variable named by key as an int,
// or returns defaultValue if the variable is not set.
func getEnvIntOrDefault(key string, defaultValue int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("config: invalid %s value %q: %w", key, val, err)
	}
	return n, nil
}
