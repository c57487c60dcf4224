package config

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

var schemaPattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

type Config struct {
	Env                string        `mapstructure:"ENV"`
	LogLevel           string        `mapstructure:"LOG_LEVEL"`
	DatabaseURL        string        `mapstructure:"DATABASE_URL"`
	DBMaxConns         int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns         int32         `mapstructure:"DB_MIN_CONNS"`
	DBSchema           string        `mapstructure:"DB_SCHEMA"`
	RedisURL           string        `mapstructure:"REDIS_URL"`
	QueueTimezone      string        `mapstructure:"QUEUE_TIMEZONE"`
	QueueEventsChannel string        `mapstructure:"QUEUE_EVENTS_CHANNEL"`
	QueueSnapshotTTL   time.Duration `mapstructure:"QUEUE_SNAPSHOT_TTL"`
}

// Load reads configuration from the environment, an optional .env file in the
// working directory, and any extra env files. Extra files never override
// variables that are already set in the process environment.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) > 0 {
		if err := godotenv.Load(envFiles...); err != nil {
			return nil, fmt.Errorf("load env files: %w", err)
		}
	}

	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DB_MAX_CONNS", 4)
	v.SetDefault("DB_MIN_CONNS", 0)
	v.SetDefault("DB_SCHEMA", "public")
	v.SetDefault("QUEUE_TIMEZONE", "Local")
	v.SetDefault("QUEUE_EVENTS_CHANNEL", "queue:events")
	v.SetDefault("QUEUE_SNAPSHOT_TTL", "24h")

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("ENV")
	v.BindEnv("LOG_LEVEL")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("DB_SCHEMA")
	v.BindEnv("REDIS_URL")
	v.BindEnv("QUEUE_TIMEZONE")
	v.BindEnv("QUEUE_EVENTS_CHANNEL")
	v.BindEnv("QUEUE_SNAPSHOT_TTL")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	cfg.DatabaseURL = NormalizeDatabaseURL(cfg.DatabaseURL)

	return cfg, nil
}

// NormalizeDatabaseURL rewrites SQLAlchemy-style driver URLs
// ("postgresql+asyncpg://...") into a plain libpq URL that pgx accepts.
func NormalizeDatabaseURL(raw string) string {
	scheme, rest, ok := strings.Cut(raw, "://")
	if !ok {
		return raw
	}
	if base, _, hasDriver := strings.Cut(scheme, "+"); hasDriver {
		return base + "://" + rest
	}
	return raw
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Location resolves QUEUE_TIMEZONE. "Local" and "" map to the server zone.
func (c *Config) Location() (*time.Location, error) {
	if c.QueueTimezone == "" || c.QueueTimezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.QueueTimezone)
	if err != nil {
		return nil, fmt.Errorf("QUEUE_TIMEZONE %q: %w", c.QueueTimezone, err)
	}
	return loc, nil
}

// Level parses LOG_LEVEL into a zerolog level.
func (c *Config) Level() (zerolog.Level, error) {
	if c.LogLevel == "" {
		return zerolog.InfoLevel, nil
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel))
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("LOG_LEVEL %q: %w", c.LogLevel, err)
	}
	return lvl, nil
}

// Validate checks the settings that Load cannot check while unmarshalling.
func (c *Config) Validate() error {
	if !schemaPattern.MatchString(c.DBSchema) {
		return fmt.Errorf("DB_SCHEMA must match %s, got %q", schemaPattern, c.DBSchema)
	}
	if c.DBMaxConns < 1 {
		return fmt.Errorf("DB_MAX_CONNS must be at least 1, got %d", c.DBMaxConns)
	}
	if c.DBMinConns < 0 || c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS must be between 0 and DB_MAX_CONNS, got %d", c.DBMinConns)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	if c.QueueSnapshotTTL <= 0 {
		return fmt.Errorf("QUEUE_SNAPSHOT_TTL must be positive, got %s", c.QueueSnapshotTTL)
	}
	if c.RedisURL != "" && c.QueueEventsChannel == "" {
		return fmt.Errorf("QUEUE_EVENTS_CHANNEL is required when REDIS_URL is set")
	}
	return nil
}
