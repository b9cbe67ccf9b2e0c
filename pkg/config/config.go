// Package config loads service configuration from the environment once at startup.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"school_library/pkg/database"

	"github.com/joho/godotenv"
)

type Config struct {
	ListenAddr string
	LogLevel   string
	GinMode    string

	DB database.Config

	JWTSecret string
	JWTTTL    time.Duration

	// Login attempts per second and burst, per client IP.
	LoginRateLimit float64
	LoginRateBurst int

	BreakerMaxFailures int
	BreakerTimeout     time.Duration

	// SeedDemoData inserts sample books and students at startup.
	SeedDemoData bool
}

// LoadDotEnv reads .env style files into the environment without overriding
// variables that are already set. Missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		ListenAddr: getEnv("LISTEN_ADDR", ":8080"),
		LogLevel:   getEnv("LOG_LEVEL", "info"),
		GinMode:    getEnv("GIN_MODE", "release"),
		JWTSecret:  os.Getenv("JWT_SECRET"),
	}

	var errs []error
	var err error
	if cfg.DB, err = LoadDatabaseFromEnv(); err != nil {
		errs = append(errs, err)
	}
	if cfg.JWTTTL, err = getDuration("JWT_TTL", 240*time.Hour); err != nil {
		errs = append(errs, err)
	}
	if cfg.LoginRateLimit, err = getFloat("LOGIN_RATE_LIMIT", 1); err != nil {
		errs = append(errs, err)
	}
	if cfg.LoginRateBurst, err = getInt("LOGIN_RATE_BURST", 5); err != nil {
		errs = append(errs, err)
	}
	if cfg.BreakerMaxFailures, err = getInt("BREAKER_MAX_FAILURES", 5); err != nil {
		errs = append(errs, err)
	}
	if cfg.BreakerTimeout, err = getDuration("BREAKER_TIMEOUT", 30*time.Second); err != nil {
		errs = append(errs, err)
	}
	if cfg.SeedDemoData, err = getBool("SEED_DEMO_DATA", false); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDatabaseFromEnv reads only the DB_* keys, for tools that never sign tokens.
func LoadDatabaseFromEnv() (database.Config, error) {
	cfg := database.Config{
		Driver:   getEnv("DB_DRIVER", database.DriverPostgres),
		Host:     getEnv("DB_HOST", "postgres"),
		Port:     getEnv("DB_PORT", "5432"),
		User:     getEnv("DB_USER", "program"),
		Password: getEnv("DB_PASSWORD", "test"),
		Name:     getEnv("DB_NAME", "library"),
		Path:     getEnv("DB_PATH", "data/library.db"),
	}

	var errs []error
	var err error
	if cfg.ConnectRetries, err = getInt("DB_CONNECT_RETRIES", 10); err != nil {
		errs = append(errs, err)
	}
	if cfg.RetryDelay, err = getDuration("DB_RETRY_DELAY", 5*time.Second); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return database.Config{}, errors.Join(errs...)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	switch c.DB.Driver {
	case database.DriverPostgres, database.DriverSQLite:
	default:
		return fmt.Errorf("DB_DRIVER must be %q or %q, got %q",
			database.DriverPostgres, database.DriverSQLite, c.DB.Driver)
	}
	if c.JWTTTL <= 0 {
		return errors.New("JWT_TTL must be positive")
	}
	if c.LoginRateLimit <= 0 || c.LoginRateBurst < 1 {
		return errors.New("LOGIN_RATE_LIMIT and LOGIN_RATE_BURST must be positive")
	}
	return nil
}

// SlogLevel maps LogLevel to an slog.Level.
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

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q", key, value)
	}
	return n, nil
}

func getBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("%s: invalid boolean %q", key, value)
	}
	return b, nil
}

func getFloat(key string, defaultValue float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid number %q", key, value)
	}
	return f, nil
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q", key, value)
	}
	return d, nil
}
