// Package config loads the env-first configuration spec.md §6 names,
// following the teacher's godotenv + flat-struct style.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the root configuration tree. Every field maps to one of the
// env vars read in Load.
type Config struct {
	Server   ServerConfig
	Cache    CacheConfig
	Pipeline PipelineConfig
	CORS     CORSConfig
	RateLimit RateLimitConfig
	Database DatabaseConfig
	Audit    AuditConfig
	Metrics  MetricsConfig
	Log      LogConfig
}

// ServerConfig covers spec.md §6's Server block.
type ServerConfig struct {
	Host                string
	Port                int
	PathPrefix          string
	ServerName          string
	MaxRequestBodySize  int64
	MaxConcurrentRequests int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	ShutdownTimeout     time.Duration
	TLSEnabled          bool
	TLSCertFile         string
	TLSKeyFile          string
}

// CacheConfig covers spec.md §6's Cache block.
type CacheConfig struct {
	Enabled           bool
	Type              string // "memory" or "redis"
	DefaultTTL        time.Duration
	MaxEntries        int
	MaxBytes          int64
	RedisHost         string
	RedisPort         int
	RedisPassword     string
	RedisDB           int
}

// PipelineConfig covers spec.md §6's Pipeline block.
type PipelineConfig struct {
	MaxPipelineDepth int
	EnablePipelining bool
	StrictOrdering   bool
	FlushTimeout     time.Duration
}

// CORSConfig covers spec.md §6's optional CORS block.
type CORSConfig struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
	MaxAge         int
}

// RateLimitConfig covers spec.md §6's optional rate-limit block, keyed by
// the X-Api-Key header (internal/middleware's former tenant extractor,
// repurposed).
type RateLimitConfig struct {
	Enabled           bool
	RequestsPerMinute int
}

// DatabaseConfig backs the optional audit trail only; no DICOM data is
// ever persisted here.
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	LogLevel string
}

// AuditConfig gates whether STOW/DELETE operations are recorded.
type AuditConfig struct {
	Enabled bool
}

type MetricsConfig struct {
	Enabled bool
}

type LogConfig struct {
	Level  string
	Format string
}

// Load reads .env (if present) then overlays process environment variables,
// matching the teacher's precedence (godotenv.Load is best-effort; a
// missing .env file is not an error).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Host:                  getEnv("SERVER_HOST", "0.0.0.0"),
			Port:                  getEnvInt("SERVER_PORT", 8080),
			PathPrefix:            getEnv("SERVER_PATH_PREFIX", "/dicom-web"),
			ServerName:            getEnv("SERVER_NAME", "dicomweb-server"),
			MaxRequestBodySize:    getEnvInt64("SERVER_MAX_REQUEST_BODY_SIZE", 256<<20),
			MaxConcurrentRequests: getEnvInt("SERVER_MAX_CONCURRENT_REQUESTS", 256),
			ReadTimeout:           getEnvDuration("SERVER_READ_TIMEOUT_SECONDS", 30*time.Second),
			WriteTimeout:          getEnvDuration("SERVER_WRITE_TIMEOUT_SECONDS", 60*time.Second),
			ShutdownTimeout:       getEnvDuration("SERVER_SHUTDOWN_TIMEOUT_SECONDS", 30*time.Second),
			TLSEnabled:            getEnvBool("SERVER_TLS_ENABLED", false),
			TLSCertFile:           getEnv("SERVER_TLS_CERT_FILE", ""),
			TLSKeyFile:            getEnv("SERVER_TLS_KEY_FILE", ""),
		},
		Cache: CacheConfig{
			Enabled:       getEnvBool("CACHE_ENABLED", true),
			Type:          getEnv("CACHE_TYPE", "memory"),
			DefaultTTL:    getEnvDuration("CACHE_DEFAULT_TTL_SECONDS", 300*time.Second),
			MaxEntries:    getEnvInt("CACHE_MAX_ENTRIES", 10000),
			MaxBytes:      getEnvInt64("CACHE_MAX_BYTES", 512<<20),
			RedisHost:     getEnv("REDIS_HOST", "localhost"),
			RedisPort:     getEnvInt("REDIS_PORT", 6379),
			RedisPassword: getEnv("REDIS_PASSWORD", ""),
			RedisDB:       getEnvInt("REDIS_DB", 0),
		},
		Pipeline: PipelineConfig{
			MaxPipelineDepth: getEnvInt("PIPELINE_MAX_DEPTH", 8),
			EnablePipelining: getEnvBool("PIPELINE_ENABLED", true),
			StrictOrdering:   getEnvBool("PIPELINE_STRICT_ORDERING", true),
			FlushTimeout:     getEnvDuration("PIPELINE_FLUSH_TIMEOUT_SECONDS", 2*time.Second),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", nil),
			AllowedMethods: getEnvList("CORS_ALLOWED_METHODS", []string{"GET", "POST", "DELETE", "OPTIONS"}),
			AllowedHeaders: getEnvList("CORS_ALLOWED_HEADERS", []string{"Accept", "Content-Type", "Authorization", "X-Api-Key"}),
			MaxAge:         getEnvInt("CORS_MAX_AGE", 300),
		},
		RateLimit: RateLimitConfig{
			Enabled:           getEnvBool("RATE_LIMIT_ENABLED", false),
			RequestsPerMinute: getEnvInt("RATE_LIMIT_REQUESTS_PER_MINUTE", 600),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "dicomweb"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			LogLevel: getEnv("DB_LOG_LEVEL", "warn"),
		},
		Audit: AuditConfig{
			Enabled: getEnvBool("AUDIT_ENABLED", false),
		},
		Metrics: MetricsConfig{
			Enabled: getEnvBool("METRICS_ENABLED", true),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	return cfg, nil
}

// Validate rejects configurations that would make the server or pipeline
// behave incoherently.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.PathPrefix == "" || !strings.HasPrefix(c.Server.PathPrefix, "/") {
		return fmt.Errorf("server path_prefix must start with /, got %q", c.Server.PathPrefix)
	}
	if c.Server.MaxRequestBodySize <= 0 {
		return fmt.Errorf("server max_request_body_size must be positive")
	}
	if c.Cache.Enabled && c.Cache.Type != "memory" && c.Cache.Type != "redis" {
		return fmt.Errorf("invalid cache type: %q", c.Cache.Type)
	}
	if c.Pipeline.EnablePipelining && c.Pipeline.MaxPipelineDepth < 1 {
		return fmt.Errorf("pipeline max_pipeline_depth must be >= 1 when pipelining is enabled")
	}
	if c.Server.TLSEnabled && (c.Server.TLSCertFile == "" || c.Server.TLSKeyFile == "") {
		return fmt.Errorf("server tls is enabled but cert_file/key_file are not both set")
	}
	return nil
}

// Development returns a config tuned for local iteration: console logging
// at debug level and pipelining disabled so behavior stays
// request-synchronous while debugging. Cache settings are left as Load
// produced them.
func Development() *Config {
	cfg, _ := Load()
	cfg.Log.Format = "console"
	cfg.Log.Level = "debug"
	cfg.Pipeline.EnablePipelining = false
	return cfg
}

// Production returns a config tuned for a deployed instance: JSON logging,
// pipelining and strict ordering on, Redis cache if configured.
func Production() *Config {
	cfg, _ := Load()
	cfg.Log.Format = "json"
	cfg.Log.Level = "info"
	cfg.Pipeline.EnablePipelining = true
	cfg.Pipeline.StrictOrdering = true
	return cfg
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return time.Duration(n) * time.Second
		}
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
