package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the API service.
type Config struct {
	DatabaseURL string
	Port        int

	CacheBackend  string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	CacheTTL      time.Duration
	CacheTimeout  time.Duration
	FanoutLimit   int
	DefaultWindow string

	BroadcastInterval time.Duration
	BroadcastWindow   string
	BroadcastTimeout  time.Duration
	RequestTimeout    time.Duration

	JWTSecret    string
	JWTPublicKey string
	JWTIssuer    string
	JWTAudience  string
	AdminRoles   []string

	LogLevel     string
	LogFormat    string
	OTLPEndpoint string

	AllowedOrigins []string
}

const (
	CacheRedis  = "redis"
	CacheMemory = "memory"
)

// Load reads configuration from environment variables (optionally .env).
func Load() (Config, error) {
	_ = godotenv.Load() // ignore missing file

	cfg := Config{
		Port:              8080,
		CacheBackend:      CacheRedis,
		RedisAddr:         "localhost:6379",
		CacheTTL:          300 * time.Second,
		CacheTimeout:      250 * time.Millisecond,
		FanoutLimit:       8,
		DefaultWindow:     "1h",
		BroadcastInterval: 30 * time.Second,
		BroadcastWindow:   "1h",
		BroadcastTimeout:  20 * time.Second,
		RequestTimeout:    10 * time.Second,
		AdminRoles:        []string{"admin", "superadmin"},
		LogLevel:          "info",
		LogFormat:         "json",
		AllowedOrigins:    []string{"*"},
	}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		return cfg, errors.New("DATABASE_URL is required")
	}

	if portStr := os.Getenv("PORT"); portStr != "" {
		if port, err := strconv.Atoi(portStr); err == nil && port > 0 {
			cfg.Port = port
		} else {
			return cfg, fmt.Errorf("invalid PORT: %s", portStr)
		}
	} else if portStr := os.Getenv("API_PORT"); portStr != "" {
		if port, err := strconv.Atoi(portStr); err == nil && port > 0 {
			cfg.Port = port
		} else {
			return cfg, fmt.Errorf("invalid API_PORT: %s", portStr)
		}
	}

	if backend := os.Getenv("CACHE_BACKEND"); backend != "" {
		switch b := strings.ToLower(strings.TrimSpace(backend)); b {
		case CacheRedis, CacheMemory:
			cfg.CacheBackend = b
		default:
			return cfg, fmt.Errorf("invalid CACHE_BACKEND: %s (want redis or memory)", backend)
		}
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.RedisAddr = addr
	}
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	if dbStr := os.Getenv("REDIS_DB"); dbStr != "" {
		if n, err := strconv.Atoi(dbStr); err == nil && n >= 0 {
			cfg.RedisDB = n
		} else {
			return cfg, fmt.Errorf("invalid REDIS_DB: %s", dbStr)
		}
	}

	durations := []struct {
		name string
		dst  *time.Duration
	}{
		{"CACHE_TTL", &cfg.CacheTTL},
		{"CACHE_TIMEOUT", &cfg.CacheTimeout},
		{"BROADCAST_INTERVAL", &cfg.BroadcastInterval},
		{"BROADCAST_TIMEOUT", &cfg.BroadcastTimeout},
		{"REQUEST_TIMEOUT", &cfg.RequestTimeout},
	}
	for _, d := range durations {
		if s := os.Getenv(d.name); s != "" {
			v, err := ParseDuration(s)
			if err != nil || v <= 0 {
				return cfg, fmt.Errorf("invalid %s: %s", d.name, s)
			}
			*d.dst = v
		}
	}

	windows := []struct {
		name string
		dst  *string
	}{
		{"DEFAULT_WINDOW", &cfg.DefaultWindow},
		{"BROADCAST_WINDOW", &cfg.BroadcastWindow},
	}
	for _, w := range windows {
		if s := os.Getenv(w.name); s != "" {
			v, err := ParseDuration(s)
			if err != nil || v <= 0 {
				return cfg, fmt.Errorf("invalid %s: %s", w.name, s)
			}
			*w.dst = strings.ToLower(strings.TrimSpace(s))
		}
	}

	if fanStr := os.Getenv("FANOUT_LIMIT"); fanStr != "" {
		if n, err := strconv.Atoi(fanStr); err == nil && n > 0 {
			cfg.FanoutLimit = n
		} else {
			return cfg, fmt.Errorf("invalid FANOUT_LIMIT: %s", fanStr)
		}
	}

	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	cfg.JWTPublicKey = os.Getenv("JWT_PUBLIC_KEY")
	if cfg.JWTSecret == "" && cfg.JWTPublicKey == "" {
		return cfg, errors.New("JWT_SECRET or JWT_PUBLIC_KEY is required")
	}
	cfg.JWTIssuer = os.Getenv("JWT_ISSUER")
	cfg.JWTAudience = os.Getenv("JWT_AUDIENCE")
	if roles := splitList(os.Getenv("ADMIN_ROLES")); len(roles) > 0 {
		cfg.AdminRoles = roles
	}

	if lvl := os.Getenv("LOG_LEVEL"); lvl != "" {
		switch l := strings.ToLower(lvl); l {
		case "debug", "info", "warn", "error":
			cfg.LogLevel = l
		default:
			return cfg, fmt.Errorf("invalid LOG_LEVEL: %s", lvl)
		}
	}
	if format := os.Getenv("LOG_FORMAT"); format != "" {
		switch f := strings.ToLower(format); f {
		case "json", "text":
			cfg.LogFormat = f
		default:
			return cfg, fmt.Errorf("invalid LOG_FORMAT: %s", format)
		}
	}

	cfg.OTLPEndpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if origins := splitList(os.Getenv("WS_ALLOWED_ORIGINS")); len(origins) > 0 {
		cfg.AllowedOrigins = origins
	}

	return cfg, nil
}

// ListenAddr returns the host:port string for the HTTP server.
func (c Config) ListenAddr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// ParseDuration accepts Go duration syntax plus a "d" suffix for whole days.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q", s)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
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
