package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/kurihiro0119/github-repo-activity/internal/domain"
)

// Config holds the application configuration
type Config struct {
	// GitHub
	GitHubToken  string
	GitHubAPIURL string

	// Storage
	StorageType string // "sqlite", "postgres" or "document"
	SQLitePath  string
	PostgresURL string
	DataDir     string

	// API Server
	APIPort string
	APIHost string

	// CLI
	APIEndpoint string

	// Collection
	Workers           int
	MaxAttempts       int
	RetryBaseDelay    time.Duration
	RetryMaxDelay     time.Duration
	RequestTimeout    time.Duration
	ResetMargin       time.Duration
	SecondaryWait     time.Duration
	RequestsPerSecond float64
	HTTPCache         bool
	Limits            map[domain.ResourceKind]int
	ActivityDays      int

	LogLevel string
}

// Load loads the configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not found)
	_ = godotenv.Load()

	p := &parser{}
	cfg := &Config{
		GitHubToken:  getEnv("GITHUB_TOKEN", ""),
		GitHubAPIURL: getEnv("GITHUB_API_URL", ""),
		StorageType:  getEnv("STORAGE_TYPE", "sqlite"),
		SQLitePath:   getEnv("SQLITE_PATH", "./activity.db"),
		PostgresURL:  getEnv("POSTGRES_URL", ""),
		DataDir:      getEnv("DATA_DIR", "./data"),
		APIPort:      getEnv("API_PORT", "8080"),
		APIHost:      getEnv("API_HOST", "localhost"),
		APIEndpoint:  getEnv("API_ENDPOINT", "http://localhost:8080"),

		Workers:           p.getInt("WORKERS", 3),
		MaxAttempts:       p.getInt("MAX_ATTEMPTS", 5),
		RetryBaseDelay:    p.getDuration("RETRY_BASE_DELAY", time.Second),
		RetryMaxDelay:     p.getDuration("RETRY_MAX_DELAY", time.Minute),
		RequestTimeout:    p.getDuration("REQUEST_TIMEOUT", 30*time.Second),
		ResetMargin:       p.getDuration("RESET_MARGIN", 5*time.Second),
		SecondaryWait:     p.getDuration("SECONDARY_WAIT", time.Minute),
		RequestsPerSecond: p.getFloat("REQUESTS_PER_SECOND", 0),
		HTTPCache:         p.getBool("HTTP_CACHE", true),
		ActivityDays:      p.getInt("ACTIVITY_DAYS", 90),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		Limits: map[domain.ResourceKind]int{
			domain.KindCommits:      p.getInt("LIMIT_COMMITS", 500),
			domain.KindIssues:       p.getInt("LIMIT_ISSUES", 200),
			domain.KindPullRequests: p.getInt("LIMIT_PULLS", 200),
			domain.KindContributors: p.getInt("LIMIT_CONTRIBUTORS", 100),
			domain.KindStars:        p.getInt("LIMIT_STARS", 100),
			domain.KindBranches:     p.getInt("LIMIT_BRANCHES", 0),
			domain.KindEvents:       p.getInt("LIMIT_EVENTS", 300),
		},
	}
	if p.err != nil {
		return nil, p.err
	}
	return cfg, nil
}

// getEnv returns the value of an environment variable or a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parser reads typed values and keeps the first failure
type parser struct {
	err error
}

func (p *parser) fail(key, message string) {
	if p.err == nil {
		p.err = &ConfigError{Field: key, Message: message}
	}
}

func (p *parser) getInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		p.fail(key, "must be a non-negative integer")
		return defaultValue
	}
	return n
}

func (p *parser) getFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil || f < 0 {
		p.fail(key, "must be a non-negative number")
		return defaultValue
	}
	return f
}

func (p *parser) getDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil || d < 0 {
		p.fail(key, "must be a duration such as 500ms or 2m")
		return defaultValue
	}
	return d
}

func (p *parser) getBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		p.fail(key, "must be true or false")
		return defaultValue
	}
	return b
}

// ActivityWindow returns the look-back of the activity summary
func (c *Config) ActivityWindow() time.Duration {
	return time.Duration(c.ActivityDays) * 24 * time.Hour
}

// SlogLevel maps LOG_LEVEL to a slog level; unknown values mean info
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Validate validates the configuration for collection
func (c *Config) Validate() error {
	if c.GitHubToken == "" {
		return &ConfigError{Field: "GITHUB_TOKEN", Message: "GitHub token is required"}
	}
	if c.Workers < 1 {
		return &ConfigError{Field: "WORKERS", Message: "must be at least 1"}
	}
	if c.MaxAttempts < 1 {
		return &ConfigError{Field: "MAX_ATTEMPTS", Message: "must be at least 1"}
	}
	return c.ValidateStorage()
}

// ValidateStorage checks only the storage settings
func (c *Config) ValidateStorage() error {
	switch c.StorageType {
	case "sqlite", "document":
	case "postgres":
		if c.PostgresURL == "" {
			return &ConfigError{Field: "POSTGRES_URL", Message: "PostgreSQL URL is required when STORAGE_TYPE is 'postgres'"}
		}
	default:
		return &ConfigError{Field: "STORAGE_TYPE", Message: "must be 'sqlite', 'postgres' or 'document'"}
	}
	return nil
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return e.Field + ": " + e.Message
}
