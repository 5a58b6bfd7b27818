// Package config loads server settings from the environment, optionally
// seeded from a .env file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/warp/payroll-engine/generic"
)

type Config struct {
	Env     string
	Server  ServerConfig
	Store   StoreConfig
	Redis   RedisConfig
	Payroll PayrollConfig
	Log     LogConfig
}

type ServerConfig struct {
	Port        int
	CORSOrigins []string
}

type StoreConfig struct {
	Path string
}

// RedisConfig enables the distributed run lock. An empty Addr keeps the
// lock in-process.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	LockTTL  time.Duration
}

type PayrollConfig struct {
	Locale       string
	WriteTimeout time.Duration
	SessionTTL   time.Duration
}

type LogConfig struct {
	Level string
}

func (c *Config) IsDevelopment() bool { return c.Env == "development" }

// Load reads .env files (if present) and the environment. Missing keys get
// defaults; malformed values are configuration errors.
func Load(files ...string) (*Config, error) {
	_ = godotenv.Load(files...)

	port, err := getInt("PORT", 8080)
	if err != nil {
		return nil, err
	}
	redisDB, err := getInt("REDIS_DB", 0)
	if err != nil {
		return nil, err
	}
	lockTTL, err := getDuration("RUN_LOCK_TTL", 5*time.Minute)
	if err != nil {
		return nil, err
	}
	writeTimeout, err := getDuration("WRITE_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, err
	}
	sessionTTL, err := getDuration("SESSION_TTL", 30*time.Minute)
	if err != nil {
		return nil, err
	}

	return &Config{
		Env: getEnv("APP_ENV", "development"),
		Server: ServerConfig{
			Port:        port,
			CORSOrigins: splitList(getEnv("CORS_ORIGINS", "*")),
		},
		Store: StoreConfig{
			Path: getEnv("DB_PATH", "payroll.db"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
			LockTTL:  lockTTL,
		},
		Payroll: PayrollConfig{
			Locale:       getEnv("PAYROLL_LOCALE", "en"),
			WriteTimeout: writeTimeout,
			SessionTTL:   sessionTTL,
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) (int, error) {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &generic.ConfigurationError{What: key, Value: raw}
	}
	return n, nil
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		return 0, &generic.ConfigurationError{What: key, Value: raw}
	}
	return d, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Addr is the HTTP listen address.
func (s ServerConfig) Addr() string { return fmt.Sprintf(":%d", s.Port) }
