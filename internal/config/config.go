// Package config loads the review service settings from environment
// variables. Every value has a default; Load normalizes and validates the
// result so the rest of the program can trust it.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Store drivers.
const (
	DriverSQLite = "sqlite"
	DriverMongo  = "mongo"
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port              string
	ReadTimeout       time.Duration
	ReadHeaderTimeout time.Duration
	WriteTimeout      time.Duration // must outlive a scoring call
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
	GinMode           string // debug|release|test
	APIBasePath       string
	SwaggerEnabled    bool
	MaxUploadBytes    int64
}

// StoreConfig selects and configures the document store.
type StoreConfig struct {
	Driver          string // sqlite|mongo
	DBPath          string // SQLite file; also holds idempotency records under mongo
	MongoURI        string
	MongoDatabase   string
	MongoCollection string
	Retries         int
	RetryDelay      time.Duration
}

// RedisConfig configures the cross-process submission lock. An empty Addr
// keeps locking in process.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	LockTTL  time.Duration
}

// ScorerConfig points at an OpenAI-compatible chat completions endpoint.
type ScorerConfig struct {
	URL             string
	Model           string
	APIKey          string
	MaxTokens       int
	Timeout         time.Duration
	ChecklistSchema string // annotated|flat
}

// AuthConfig controls how callers are identified.
type AuthConfig struct {
	JWTSecret           string
	AllowHeaderIdentity bool // trust X-User-ID
	LoginURL            string
}

// CacheConfig sizes the immutable version cache. Size 0 disables it.
type CacheConfig struct {
	Size int
	TTL  time.Duration
}

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines HSTS settings.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE
	ServiceName string  // OTEL_SERVICE_NAME
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// Config is the full application configuration.
type Config struct {
	Server ServerConfig
	Store  StoreConfig
	Redis  RedisConfig
	Scorer ScorerConfig
	Auth   AuthConfig
	Cache  CacheConfig

	LogLevel  string
	LogPretty bool

	RateRPS   float64
	RateBurst int

	CORS     CORSConfig
	Security SecurityConfig

	IdempotencyTTL time.Duration

	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads the environment, applies defaults and validates.
func Load() (Config, error) {
	cfg := Config{
		Server: ServerConfig{
			Port:              getenv("PORT", "8080"),
			ReadTimeout:       getdur("READ_TIMEOUT", 30*time.Second),
			ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
			WriteTimeout:      getdur("WRITE_TIMEOUT", 6*time.Minute),
			IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
			MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
			GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),
			APIBasePath:       normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),
			SwaggerEnabled:    getbool("SWAGGER_ENABLED", false),
			MaxUploadBytes:    int64(getint("MAX_UPLOAD_BYTES", 32<<20)),
		},
		Store: StoreConfig{
			Driver:          strings.ToLower(getenv("STORE_DRIVER", DriverSQLite)),
			DBPath:          getenv("DB_PATH", "review.db"),
			MongoURI:        getenv("MONGO_URI", "mongodb://localhost:27017"),
			MongoDatabase:   getenv("MONGO_DATABASE", "pdf_revisados"),
			MongoCollection: getenv("MONGO_COLLECTION", "revisiones"),
			Retries:         getint("STORE_RETRIES", 3),
			RetryDelay:      getdur("STORE_RETRY_DELAY", 200*time.Millisecond),
		},
		Redis: RedisConfig{
			Addr:     getenv("REDIS_ADDR", ""),
			Password: getenv("REDIS_PASSWORD", ""),
			DB:       getint("REDIS_DB", 0),
			LockTTL:  getdur("LOCK_TTL", 10*time.Second),
		},
		Scorer: ScorerConfig{
			URL:             getenv("SCORER_URL", "http://localhost:8000/v1"),
			Model:           getenv("SCORER_MODEL", "Qwen/Qwen2.5-3B-Instruct"),
			APIKey:          getenv("SCORER_API_KEY", ""),
			MaxTokens:       getint("SCORER_MAX_TOKENS", 700),
			Timeout:         getdur("SCORING_TIMEOUT", 5*time.Minute),
			ChecklistSchema: strings.ToLower(getenv("CHECKLIST_SCHEMA", "annotated")),
		},
		Auth: AuthConfig{
			JWTSecret:           getenv("JWT_SECRET", ""),
			AllowHeaderIdentity: getbool("ALLOW_HEADER_IDENTITY", false),
			LoginURL:            getenv("LOGIN_URL", "/login"),
		},
		Cache: CacheConfig{
			Size: getint("VERSION_CACHE_SIZE", 1024),
			TTL:  getdur("VERSION_CACHE_TTL", 10*time.Minute),
		},

		LogLevel:  strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty: getbool("LOG_PRETTY", false),

		RateRPS:   getfloat("RATE_RPS", 2.0),
		RateBurst: getint("RATE_BURST", 5),

		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		IdempotencyTTL: getdur("IDEMPOTENCY_TTL", 24*time.Hour),

		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "go-review-backend"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.Server.GinMode {
	case "debug", "release", "test":
	default:
		cfg.Server.GinMode = "release"
	}

	return cfg, cfg.validate()
}

func (cfg Config) validate() error {
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}

	s := cfg.Server
	if strings.TrimSpace(s.Port) == "" {
		return errors.New("PORT must not be empty")
	}
	if s.ReadTimeout <= 0 || s.ReadHeaderTimeout <= 0 || s.WriteTimeout <= 0 || s.IdleTimeout <= 0 {
		return errors.New("timeouts must be positive durations")
	}
	if s.MaxHeaderBytes <= 0 {
		return errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if s.MaxUploadBytes <= 0 {
		return errors.New("MAX_UPLOAD_BYTES must be > 0")
	}

	switch cfg.Store.Driver {
	case DriverSQLite:
	case DriverMongo:
		if strings.TrimSpace(cfg.Store.MongoURI) == "" {
			return errors.New("MONGO_URI must not be empty when STORE_DRIVER=mongo")
		}
		if cfg.Store.MongoDatabase == "" || cfg.Store.MongoCollection == "" {
			return errors.New("MONGO_DATABASE and MONGO_COLLECTION must not be empty")
		}
	default:
		return fmt.Errorf("STORE_DRIVER must be %s or %s", DriverSQLite, DriverMongo)
	}
	if strings.TrimSpace(cfg.Store.DBPath) == "" {
		return errors.New("DB_PATH must not be empty")
	}
	if cfg.Store.Retries < 0 || cfg.Store.RetryDelay < 0 {
		return errors.New("STORE_RETRIES and STORE_RETRY_DELAY must be >= 0")
	}
	if cfg.Redis.LockTTL <= 0 {
		return errors.New("LOCK_TTL must be > 0")
	}

	if strings.TrimSpace(cfg.Scorer.URL) == "" {
		return errors.New("SCORER_URL must not be empty")
	}
	if cfg.Scorer.MaxTokens <= 0 {
		return errors.New("SCORER_MAX_TOKENS must be > 0")
	}
	if cfg.Scorer.Timeout <= 0 {
		return errors.New("SCORING_TIMEOUT must be > 0")
	}
	switch cfg.Scorer.ChecklistSchema {
	case "annotated", "flat":
	default:
		return errors.New("CHECKLIST_SCHEMA must be annotated or flat")
	}

	if cfg.Auth.JWTSecret == "" && !cfg.Auth.AllowHeaderIdentity {
		return errors.New("set JWT_SECRET or ALLOW_HEADER_IDENTITY=true")
	}
	if cfg.Cache.Size < 0 || cfg.Cache.TTL < 0 {
		return errors.New("VERSION_CACHE_SIZE and VERSION_CACHE_TTL must be >= 0")
	}

	if cfg.RateRPS < 0 {
		return errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.IdempotencyTTL <= 0 {
		return errors.New("IDEMPOTENCY_TTL must be > 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}
	return nil
}

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures a leading '/' and strips trailing ones.
func normalizeBasePath(p string) string {
	p = strings.Trim(strings.TrimSpace(p), "/")
	return "/" + p
}
