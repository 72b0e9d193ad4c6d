package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/golobby/config/v3"
	"github.com/golobby/config/v3/pkg/feeder"
	"github.com/joho/godotenv"
)

type Config struct {
	Port           string   `yaml:"port"`
	Environment    string   `yaml:"environment"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	JWTSecret      string   `yaml:"jwt_secret"`
	LogLevel       string   `yaml:"log_level"`
	LogFormat      string   `yaml:"log_format"`

	// STUNServers is handed to clients so both ends of a call gather
	// candidates against the same servers.
	STUNServers []string `yaml:"stun_servers"`

	// MessageRate and MessageBurst bound inbound frames per connection.
	MessageRate  float64 `yaml:"message_rate"`
	MessageBurst int     `yaml:"message_burst"`

	// AuditDBPath enables the call-history store when set.
	AuditDBPath string `yaml:"audit_db_path"`

	Redis RedisConfig `yaml:"redis"`
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Addr returns host:port for the Redis client.
func (r RedisConfig) Addr() string {
	return r.Host + ":" + r.Port
}

// IsProduction reports whether gin should run in release mode.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func defaults() *Config {
	return &Config{
		Port:           "8080",
		Environment:    "development",
		AllowedOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		JWTSecret:      "change-me-in-production",
		LogLevel:       "info",
		LogFormat:      "color",
		STUNServers:    []string{"stun:stun.l.google.com:19302", "stun:stun1.l.google.com:19302"},
		MessageRate:    50,
		MessageBurst:   100,
		Redis: RedisConfig{
			Host: "localhost",
			Port: "6379",
		},
	}
}

// Load reads configuration with the following priority:
// 1. Process environment (and .env, which never overrides the process)
// 2. YAML file named by CONFIG_FILE
// 3. Hardcoded defaults
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := config.New().AddFeeder(feeder.Yaml{Path: path}).AddStruct(cfg).Feed(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.Port = getEnv("PORT", c.Port)
	c.Environment = getEnv("ENVIRONMENT", c.Environment)
	c.JWTSecret = getEnv("JWT_SECRET", c.JWTSecret)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnv("LOG_FORMAT", c.LogFormat)
	c.AuditDBPath = getEnv("AUDIT_DB_PATH", c.AuditDBPath)

	// Comma-separated lists
	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		c.AllowedOrigins = splitList(v)
	}
	if v := os.Getenv("STUN_SERVERS"); v != "" {
		c.STUNServers = splitList(v)
	}

	if v := os.Getenv("MESSAGE_RATE"); v != "" {
		rate, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid MESSAGE_RATE %q: %w", v, err)
		}
		c.MessageRate = rate
	}
	if v := os.Getenv("MESSAGE_BURST"); v != "" {
		burst, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid MESSAGE_BURST %q: %w", v, err)
		}
		c.MessageBurst = burst
	}

	if v := os.Getenv("REDIS_ENABLED"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid REDIS_ENABLED %q: %w", v, err)
		}
		c.Redis.Enabled = enabled
	}
	c.Redis.Host = getEnv("REDIS_HOST", c.Redis.Host)
	c.Redis.Port = getEnv("REDIS_PORT", c.Redis.Port)
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)
	if v := os.Getenv("REDIS_DB"); v != "" {
		db, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid REDIS_DB %q: %w", v, err)
		}
		c.Redis.DB = db
	}
	return nil
}

func (c *Config) validate() error {
	if c.Port == "" {
		return fmt.Errorf("port must not be empty")
	}
	if c.MessageRate <= 0 {
		return fmt.Errorf("message rate must be positive, got %v", c.MessageRate)
	}
	if c.MessageBurst < 1 {
		return fmt.Errorf("message burst must be at least 1, got %d", c.MessageBurst)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
