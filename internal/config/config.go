// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes server timeouts,
// logging, database selection, webhook authentication, referral payout rules,
// event publishing and observability settings.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// Payout modes understood by the payout calculator.
const (
	PayoutModeFixed   = "fixed"
	PayoutModePercent = "percent"
)

// Supported database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// CORSConfig defines Cross-Origin Resource Sharing settings for the
// reporting API consumed by the dashboard.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// DBConfig selects and locates the backing database.
type DBConfig struct {
	Driver string // sqlite|postgres
	Path   string // SQLite file path
	URL    string // Postgres DSN
}

// WebhookConfig holds inbound booking webhook settings.
type WebhookConfig struct {
	Secret          string // shared secret expected in X-Webhook-Secret
	DefaultProvider string // provider used by POST /webhooks/booking
	ProvidersFile   string // optional YAML file with extra provider mappings
	MaxBodyBytes    int64
}

// ReferralConfig holds attribution and payout rules.
type ReferralConfig struct {
	AttributionWindow time.Duration
	PayoutMode        string  // fixed|percent
	PayoutFixed       int64   // whole currency units
	PayoutPercent     float64 // percent of booking total
}

// AdminConfig holds HTTP Basic credentials for the reporting API.
type AdminConfig struct {
	User     string
	Password string
}

// KafkaConfig enables publishing of referral notifications. Empty Brokers
// falls back to log-only notifications.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string
	ReadTimeout       time.Duration
	ReadHeaderTimeout time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
	GinMode           string // debug|release|test

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool
	SwaggerEnabled bool
	APIBasePath    string

	DB       DBConfig
	Webhook  WebhookConfig
	Referral ReferralConfig
	Admin    AdminConfig
	Kafka    KafkaConfig

	// Rate limiting (reporting API only)
	RateRPS   float64
	RateBurst int

	CORS     CORSConfig
	Security SecurityConfig

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

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		Port:              getenv("PORT", "8000"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:      getbool("LOG_PRETTY", false),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		DB: DBConfig{
			Driver: strings.ToLower(getenv("DB_DRIVER", DriverSQLite)),
			Path:   getenv("DB_PATH", "rental.db"),
			URL:    getenv("DATABASE_URL", ""),
		},
		Webhook: WebhookConfig{
			Secret:          getenv("WEBHOOK_SECRET", ""),
			DefaultProvider: strings.ToLower(getenv("DEFAULT_PROVIDER", "homereserve")),
			ProvidersFile:   getenv("PROVIDERS_FILE", ""),
			MaxBodyBytes:    int64(getint("WEBHOOK_MAX_BODY_BYTES", 1<<20)),
		},
		Referral: ReferralConfig{
			AttributionWindow: time.Duration(getint("ATTRIBUTION_WINDOW_DAYS", 30)) * 24 * time.Hour,
			PayoutMode:        strings.ToLower(getenv("REF_PAYOUT_MODE", PayoutModeFixed)),
			PayoutFixed:       int64(getint("REF_PAYOUT_FIXED", 500)),
			PayoutPercent:     getfloat("REF_PAYOUT_PERCENT", 5.0),
		},
		Admin: AdminConfig{
			User:     getenv("ADMIN_USER", "admin"),
			Password: getenv("ADMIN_PASS", ""),
		},
		Kafka: KafkaConfig{
			Brokers: splitCSV(getenv("KAFKA_BROKERS", "")),
			Topic:   getenv("KAFKA_TOPIC", "referral-notifications"),
		},

		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),

		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "rental-funnel"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}
	if cfg.DB.Driver == "postgresql" {
		cfg.DB.Driver = DriverPostgres
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	switch cfg.DB.Driver {
	case DriverSQLite:
		if strings.TrimSpace(cfg.DB.Path) == "" {
			return cfg, errors.New("DB_PATH must not be empty")
		}
	case DriverPostgres:
		if strings.TrimSpace(cfg.DB.URL) == "" {
			return cfg, errors.New("DATABASE_URL is required when DB_DRIVER=postgres")
		}
	default:
		return cfg, errors.New("DB_DRIVER must be one of: sqlite, postgres")
	}
	if strings.TrimSpace(cfg.Webhook.Secret) == "" {
		return cfg, errors.New("WEBHOOK_SECRET must not be empty")
	}
	if strings.TrimSpace(cfg.Webhook.DefaultProvider) == "" {
		return cfg, errors.New("DEFAULT_PROVIDER must not be empty")
	}
	if cfg.Webhook.MaxBodyBytes <= 0 {
		return cfg, errors.New("WEBHOOK_MAX_BODY_BYTES must be > 0")
	}
	if cfg.Referral.AttributionWindow <= 0 {
		return cfg, errors.New("ATTRIBUTION_WINDOW_DAYS must be > 0")
	}
	switch cfg.Referral.PayoutMode {
	case PayoutModeFixed, PayoutModePercent:
	default:
		return cfg, errors.New("REF_PAYOUT_MODE must be one of: fixed, percent")
	}
	if cfg.Referral.PayoutFixed < 0 {
		return cfg, errors.New("REF_PAYOUT_FIXED must be >= 0")
	}
	if cfg.Referral.PayoutPercent < 0 || cfg.Referral.PayoutPercent > 100 {
		return cfg, errors.New("REF_PAYOUT_PERCENT must be between 0 and 100")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if len(cfg.Kafka.Brokers) > 0 && strings.TrimSpace(cfg.Kafka.Topic) == "" {
		return cfg, errors.New("KAFKA_TOPIC must not be empty when KAFKA_BROKERS is set")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// ---- helpers ----

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
		if i, err := strconv.Atoi(v); err == nil {
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
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
