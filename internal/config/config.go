package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// DefaultAdminAPIKey is the placeholder admin secret used when ADMIN_API_KEY is unset
const DefaultAdminAPIKey = "change-me-in-production"

// Config holds application configuration
type Config struct {
	Port     string
	LogLevel string

	// DatabaseURL selects the Postgres store when set; otherwise DBPath is used with SQLite
	DatabaseURL string
	DBPath      string

	AdminAPIKey string

	FREDURL       string
	FREDAPIKey    string
	FetchTimeout  time.Duration
	RateStateFile string
	LendersFile   string

	JobHour        int
	JobMinute      int
	JobTimezone    string
	MisfireGrace   time.Duration
	RefreshOnStart bool

	SMTPHost     string
	SMTPPort     string
	SMTPUsername string
	SMTPPassword string
	SenderEmail  string
	AlertEmail   string

	location *time.Location
}

// NewConfig loads configuration from environment variables, reading a .env file first if present
func NewConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:        getEnv("PORT", "8000"),
		LogLevel:    getEnv("LOG_LEVEL", "INFO"),
		DatabaseURL: normalizeDatabaseURL(getEnv("DATABASE_URL", "")),
		DBPath:      getEnv("DB_PATH", "rates.db"),
		AdminAPIKey: getEnv("ADMIN_API_KEY", DefaultAdminAPIKey),

		FREDURL:       getEnv("FRED_URL", "https://api.stlouisfed.org/fred/series/observations"),
		FREDAPIKey:    getEnv("FRED_API_KEY", ""),
		RateStateFile: getEnv("RATE_STATE_FILE", "last_rates.json"),
		LendersFile:   getEnv("LENDERS_FILE", ""),

		JobTimezone: getEnv("RATE_JOB_TZ", "America/New_York"),

		SMTPHost:     getEnv("SMTP_HOST", ""),
		SMTPPort:     getEnv("SMTP_PORT", "587"),
		SMTPUsername: getEnv("SMTP_USERNAME", ""),
		SMTPPassword: getEnv("SMTP_PASSWORD", ""),
		SenderEmail:  getEnv("SENDER_EMAIL", ""),
		AlertEmail:   getEnv("ALERT_EMAIL", ""),
	}

	var err error
	if cfg.JobHour, err = getEnvInt("RATE_JOB_HOUR", 8); err != nil {
		return nil, err
	}
	if cfg.JobMinute, err = getEnvInt("RATE_JOB_MINUTE", 30); err != nil {
		return nil, err
	}
	if cfg.FetchTimeout, err = getEnvDuration("FRED_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.MisfireGrace, err = getEnvDuration("RATE_JOB_GRACE", time.Hour); err != nil {
		return nil, err
	}
	if cfg.RefreshOnStart, err = getEnvBool("REFRESH_ON_START", true); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks ranges and resolves the schedule timezone
func (c *Config) Validate() error {
	if c.JobHour < 0 || c.JobHour > 23 {
		return fmt.Errorf("RATE_JOB_HOUR must be within 0-23, got %d", c.JobHour)
	}
	if c.JobMinute < 0 || c.JobMinute > 59 {
		return fmt.Errorf("RATE_JOB_MINUTE must be within 0-59, got %d", c.JobMinute)
	}
	if c.FetchTimeout <= 0 {
		return fmt.Errorf("FRED_TIMEOUT must be positive")
	}
	if c.MisfireGrace < 0 {
		return fmt.Errorf("RATE_JOB_GRACE must not be negative")
	}
	if c.DatabaseURL == "" && c.DBPath == "" {
		return fmt.Errorf("either DATABASE_URL or DB_PATH is required")
	}
	if c.AdminAPIKey == "" {
		return fmt.Errorf("ADMIN_API_KEY is required")
	}

	loc, err := time.LoadLocation(c.JobTimezone)
	if err != nil {
		return fmt.Errorf("invalid RATE_JOB_TZ %q: %w", c.JobTimezone, err)
	}
	c.location = loc
	return nil
}

// Location returns the schedule timezone. It is also the timezone that
// defines a calendar day for history deduplication.
func (c *Config) Location() *time.Location {
	if c.location == nil {
		return time.UTC
	}
	return c.location
}

// UsePostgres reports whether the Postgres store is configured
func (c *Config) UsePostgres() bool {
	return c.DatabaseURL != ""
}

// UsesDefaultAdminKey reports whether the admin secret is still the public placeholder
func (c *Config) UsesDefaultAdminKey() bool {
	return c.AdminAPIKey == DefaultAdminAPIKey
}

// AlertsEnabled reports whether failed-run alert mail can be sent
func (c *Config) AlertsEnabled() bool {
	return c.SMTPHost != "" && c.SenderEmail != "" && c.AlertEmail != ""
}

// normalizeDatabaseURL rewrites the legacy postgres:// scheme some hosts still hand out
func normalizeDatabaseURL(u string) string {
	if strings.HasPrefix(u, "postgres://") {
		return "postgresql://" + strings.TrimPrefix(u, "postgres://")
	}
	return u
}

func getEnv(key, defaultVal string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) (int, error) {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return n, nil
}

func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration such as 10s or 1h: %w", key, err)
	}
	return d, nil
}

func getEnvBool(key string, defaultVal bool) (bool, error) {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("%s must be a boolean: %w", key, err)
	}
	return b, nil
}
