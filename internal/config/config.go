package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// FileEnv names the environment variable pointing at an optional YAML
// configuration file. Environment variables override values from the file.
const FileEnv = "BUILDWATCH_CONFIG"

// Config holds all application configuration.
type Config struct {
	Session  SessionConfig  `yaml:"session"`
	Server   ServerConfig   `yaml:"server"`
	Redis    RedisConfig    `yaml:"redis"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Slack    SlackConfig    `yaml:"slack"`
	Docker   DockerConfig   `yaml:"docker"`
	Log      LogConfig      `yaml:"log"`
}

// SessionConfig holds the settings applied to every build session.
type SessionConfig struct {
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	StripANSI        bool          `yaml:"strip_ansi"`
	MaxLineBytes     int           `yaml:"max_line_bytes"`
	SubscriberBuffer int           `yaml:"subscriber_buffer"`
}

// ServerConfig holds HTTP server settings. An empty Addr disables the server.
type ServerConfig struct {
	Addr           string        `yaml:"addr"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	CORSOrigins    []string      `yaml:"cors_origins"`
	RateLimitRPS   float64       `yaml:"rate_limit_rps"`
	RateLimitBurst int           `yaml:"rate_limit_burst"`
}

// RedisConfig holds Redis connection settings. An empty Addr selects the
// in-process pub/sub.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"` //nolint:gosec // G117: Redis connection config
	DB       int    `yaml:"db"`
}

// DatabaseConfig holds PostgreSQL settings. An empty DSN disables the
// action journal.
type DatabaseConfig struct {
	DSN      string `yaml:"dsn"`
	MaxConns int    `yaml:"max_conns"`
}

// AuthConfig holds API authentication settings. An empty JWTSecret
// disables authentication.
type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret"` //nolint:gosec // G117: JWT signing secret config
	TokenTTL  time.Duration `yaml:"token_ttl"`
}

// SlackConfig holds Slack notification settings. An empty BotToken
// disables notifications.
type SlackConfig struct {
	BotToken string `yaml:"bot_token"` //nolint:gosec // G117: Slack credential config
	Channel  string `yaml:"channel"`
}

// DockerConfig holds the daemon used by the attach command. An empty Host
// falls back to DOCKER_HOST.
type DockerConfig struct {
	Host string `yaml:"host"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Session: SessionConfig{
			HandshakeTimeout: 5 * time.Second,
			StripANSI:        true,
			MaxLineBytes:     1 << 20,
			SubscriberBuffer: 64,
		},
		Server: ServerConfig{
			Addr:           ":8080",
			ReadTimeout:    10 * time.Second,
			RateLimitRPS:   20,
			RateLimitBurst: 40,
		},
		Database: DatabaseConfig{
			MaxConns: 10,
		},
		Auth: AuthConfig{
			TokenTTL: 24 * time.Hour,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load builds the configuration from defaults, the optional file named by
// BUILDWATCH_CONFIG and BUILDWATCH_* environment variables, in that order.
func Load() (*Config, error) {
	return LoadFrom(os.Getenv(FileEnv))
}

// LoadFrom is Load with an explicit file path. An empty path skips the file.
func LoadFrom(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFromFile(path, cfg); err != nil {
			return nil, fmt.Errorf("config.Load: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	var err error

	if c.Session.HandshakeTimeout, err = getEnvDuration("BUILDWATCH_HANDSHAKE_TIMEOUT", c.Session.HandshakeTimeout); err != nil {
		return err
	}
	if c.Session.StripANSI, err = getEnvBool("BUILDWATCH_STRIP_ANSI", c.Session.StripANSI); err != nil {
		return err
	}
	if c.Session.MaxLineBytes, err = getEnvInt("BUILDWATCH_MAX_LINE_BYTES", c.Session.MaxLineBytes); err != nil {
		return err
	}
	if c.Session.SubscriberBuffer, err = getEnvInt("BUILDWATCH_SUBSCRIBER_BUFFER", c.Session.SubscriberBuffer); err != nil {
		return err
	}

	c.Server.Addr = getEnv("BUILDWATCH_SERVER_ADDR", c.Server.Addr)
	if c.Server.ReadTimeout, err = getEnvDuration("BUILDWATCH_SERVER_READ_TIMEOUT", c.Server.ReadTimeout); err != nil {
		return err
	}
	if c.Server.WriteTimeout, err = getEnvDuration("BUILDWATCH_SERVER_WRITE_TIMEOUT", c.Server.WriteTimeout); err != nil {
		return err
	}
	c.Server.CORSOrigins = getEnvList("BUILDWATCH_CORS_ORIGINS", c.Server.CORSOrigins)
	if c.Server.RateLimitRPS, err = getEnvFloat("BUILDWATCH_RATE_LIMIT_RPS", c.Server.RateLimitRPS); err != nil {
		return err
	}
	if c.Server.RateLimitBurst, err = getEnvInt("BUILDWATCH_RATE_LIMIT_BURST", c.Server.RateLimitBurst); err != nil {
		return err
	}

	c.Redis.Addr = getEnv("BUILDWATCH_REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("BUILDWATCH_REDIS_PASSWORD", c.Redis.Password)
	if c.Redis.DB, err = getEnvInt("BUILDWATCH_REDIS_DB", c.Redis.DB); err != nil {
		return err
	}

	c.Database.DSN = getEnv("BUILDWATCH_DATABASE_URL", c.Database.DSN)
	if c.Database.MaxConns, err = getEnvInt("BUILDWATCH_DB_MAX_CONNS", c.Database.MaxConns); err != nil {
		return err
	}

	c.Auth.JWTSecret = getEnv("BUILDWATCH_JWT_SECRET", c.Auth.JWTSecret)
	if c.Auth.TokenTTL, err = getEnvDuration("BUILDWATCH_TOKEN_TTL", c.Auth.TokenTTL); err != nil {
		return err
	}

	c.Slack.BotToken = getEnv("BUILDWATCH_SLACK_BOT_TOKEN", c.Slack.BotToken)
	c.Slack.Channel = getEnv("BUILDWATCH_SLACK_CHANNEL", c.Slack.Channel)

	c.Docker.Host = getEnv("BUILDWATCH_DOCKER_HOST", c.Docker.Host)

	c.Log.Level = getEnv("BUILDWATCH_LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("BUILDWATCH_LOG_FORMAT", c.Log.Format)

	return nil
}

// validate checks required fields and value bounds.
func (c *Config) validate() error {
	if c.Session.HandshakeTimeout <= 0 {
		return fmt.Errorf("BUILDWATCH_HANDSHAKE_TIMEOUT must be positive, got %s", c.Session.HandshakeTimeout)
	}
	if c.Session.MaxLineBytes < 1 {
		return fmt.Errorf("BUILDWATCH_MAX_LINE_BYTES must be >= 1, got %d", c.Session.MaxLineBytes)
	}
	if c.Session.SubscriberBuffer < 1 {
		return fmt.Errorf("BUILDWATCH_SUBSCRIBER_BUFFER must be >= 1, got %d", c.Session.SubscriberBuffer)
	}

	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("BUILDWATCH_SERVER_READ_TIMEOUT must be positive, got %s", c.Server.ReadTimeout)
	}
	// Zero disables the write timeout; live streams outlast any fixed bound.
	if c.Server.WriteTimeout < 0 {
		return fmt.Errorf("BUILDWATCH_SERVER_WRITE_TIMEOUT must not be negative, got %s", c.Server.WriteTimeout)
	}
	if c.Server.RateLimitRPS <= 0 {
		return fmt.Errorf("BUILDWATCH_RATE_LIMIT_RPS must be positive, got %g", c.Server.RateLimitRPS)
	}
	if c.Server.RateLimitBurst < 1 {
		return fmt.Errorf("BUILDWATCH_RATE_LIMIT_BURST must be >= 1, got %d", c.Server.RateLimitBurst)
	}

	if c.Database.MaxConns < 1 {
		return fmt.Errorf("BUILDWATCH_DB_MAX_CONNS must be >= 1, got %d", c.Database.MaxConns)
	}

	switch {
	case c.Auth.JWTSecret == "":
		if c.Server.Addr != "" {
			log.Warn().Msg("BUILDWATCH_JWT_SECRET is not set; the API is served without authentication")
		}
	case len(c.Auth.JWTSecret) < 32:
		return errors.New("BUILDWATCH_JWT_SECRET must be at least 32 characters")
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("BUILDWATCH_TOKEN_TTL must be positive, got %s", c.Auth.TokenTTL)
	}

	if c.Slack.BotToken != "" && c.Slack.Channel == "" {
		return errors.New("BUILDWATCH_SLACK_CHANNEL is required when BUILDWATCH_SLACK_BOT_TOKEN is set")
	}

	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("BUILDWATCH_LOG_LEVEL: %w", err)
	}
	if c.Log.Format != "console" && c.Log.Format != "json" {
		return fmt.Errorf("BUILDWATCH_LOG_FORMAT must be console or json, got %q", c.Log.Format)
	}

	return nil
}

// ZerologLevel returns the parsed log level. It falls back to info for a
// configuration that was not validated.
func (c LogConfig) ZerologLevel() zerolog.Level {
	lvl, err := zerolog.ParseLevel(c.Level)
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as int: %w", key, v, err)
	}
	return n, nil
}

func getEnvFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as float: %w", key, v, err)
	}
	return f, nil
}

func getEnvBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("parsing %s=%q as bool: %w", key, v, err)
	}
	return b, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as duration: %w", key, v, err)
	}
	return d, nil
}

func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
