// Package config provides configuration loading and validation for the reconciler.
// It uses koanf to merge environment variables with optional file overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config holds all configuration values for the reconciler.
type Config struct {
	// Server settings
	Port int    `koanf:"port"`
	Env  string `koanf:"env"`

	// Record store. Empty selects the in-memory store.
	DatabaseURL string `koanf:"database_url"`

	// Redis backs the shared rate limit store. Empty selects the in-memory limiter.
	RedisURL string `koanf:"redis_url"`

	// Paystack credentials per mode
	PaystackLiveSecretKey string `koanf:"paystack_live_secret_key"`
	PaystackLivePublicKey string `koanf:"paystack_live_public_key"`
	PaystackTestSecretKey string `koanf:"paystack_test_secret_key"`
	PaystackTestPublicKey string `koanf:"paystack_test_public_key"`

	// Paystack client
	PaystackBaseURL        string `koanf:"paystack_base_url"`
	PaystackTimeoutSeconds int    `koanf:"paystack_timeout_seconds"`
	PaystackDashboardURL   string `koanf:"paystack_dashboard_url"`

	// Operator JWT authentication with rotation support
	OperatorJWTSecret         string `koanf:"operator_jwt_secret"`
	OperatorJWTPreviousSecret string `koanf:"operator_jwt_previous_secret"`

	// Webhook intake
	WebhookAllowUnknownMethod bool `koanf:"webhook_allow_unknown_method"`
	WebhookRateLimitPerMinute int  `koanf:"webhook_rate_limit_per_minute"`

	// Browser origins allowed to fetch receipts
	CORSAllowedOrigins []string `koanf:"cors_allowed_origins"`

	// Tracing
	TracingEnabled    bool    `koanf:"tracing_enabled"`
	TracingExporter   string  `koanf:"tracing_exporter"`
	OTLPEndpoint      string  `koanf:"otlp_endpoint"`
	TracingSampleRate float64 `koanf:"tracing_sample_rate"`
	TracingInsecure   bool    `koanf:"tracing_insecure"`
}

// Configuration validation errors.
var (
	ErrMissingPaystackSecretKey = errors.New("PAYSTACK_LIVE_SECRET_KEY or PAYSTACK_TEST_SECRET_KEY is required")
	ErrInvalidPaystackKey       = errors.New("paystack secret keys must start with sk_")
	ErrMissingOperatorJWTSecret = errors.New("OPERATOR_JWT_SECRET is required")
	ErrInvalidPaystackTimeout   = errors.New("PAYSTACK_TIMEOUT_SECONDS must be positive")
	ErrInvalidRateLimit         = errors.New("WEBHOOK_RATE_LIMIT_PER_MINUTE must be positive")
	ErrInvalidTracingExporter   = errors.New("TRACING_EXPORTER must be otlp-grpc or otlp-http")
	ErrInvalidSampleRate        = errors.New("TRACING_SAMPLE_RATE must be between 0 and 1")
	ErrInvalidInteger           = errors.New("value must be a valid integer")
)

// Default values for non-secret configuration.
const (
	DefaultPort                      = 8080
	DefaultEnv                       = "development"
	DefaultPaystackBaseURL           = "https://api.paystack.co"
	DefaultPaystackTimeoutSeconds    = 10
	DefaultPaystackDashboardURL      = "https://dashboard.paystack.com/#/transactions/"
	DefaultWebhookRateLimitPerMinute = 300
	DefaultTracingExporter           = "otlp-http"
	DefaultTracingSampleRate         = 0.1
)

// Load reads configuration from environment variables and an optional config file.
// Environment variables take precedence over file values.
// Returns the loaded config and a slice of validation errors (empty if valid).
// If a config file path is provided and the file cannot be loaded, an error is returned.
func Load(configFilePath string) (*Config, []error) {
	k := koanf.New(".")
	var loadErrs []error

	// Load from YAML file first if provided (lower precedence)
	if configFilePath != "" {
		if err := k.Load(file.Provider(configFilePath), yaml.Parser()); err != nil {
			return nil, []error{fmt.Errorf("failed to load config file %s: %w", configFilePath, err)}
		}
	}

	// Try RECONCILER_PORT first, then PORT
	port, err := getEnvIntOrDefaultMulti([]string{"RECONCILER_PORT", "PORT"}, k.Int("port"), DefaultPort)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}
	timeout, err := getEnvIntOrDefault("PAYSTACK_TIMEOUT_SECONDS", k.Int("paystack_timeout_seconds"), DefaultPaystackTimeoutSeconds)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}
	rateLimit, err := getEnvIntOrDefault("WEBHOOK_RATE_LIMIT_PER_MINUTE", k.Int("webhook_rate_limit_per_minute"), DefaultWebhookRateLimitPerMinute)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}
	sampleRate, err := getEnvFloatOrDefault("TRACING_SAMPLE_RATE", k.Float64("tracing_sample_rate"), DefaultTracingSampleRate)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}

	// Build config struct, with env vars taking precedence over file values
	cfg := &Config{
		Port:                      port,
		Env:                       getEnvOrDefaultMulti([]string{"RECONCILER_ENV", "ENV", "GO_ENV"}, k.String("env"), DefaultEnv),
		DatabaseURL:               getEnvOrKoanf("DATABASE_URL", k, "database_url"),
		RedisURL:                  getEnvOrKoanf("REDIS_URL", k, "redis_url"),
		PaystackLiveSecretKey:     getEnvOrKoanf("PAYSTACK_LIVE_SECRET_KEY", k, "paystack_live_secret_key"),
		PaystackLivePublicKey:     getEnvOrKoanf("PAYSTACK_LIVE_PUBLIC_KEY", k, "paystack_live_public_key"),
		PaystackTestSecretKey:     getEnvOrKoanf("PAYSTACK_TEST_SECRET_KEY", k, "paystack_test_secret_key"),
		PaystackTestPublicKey:     getEnvOrKoanf("PAYSTACK_TEST_PUBLIC_KEY", k, "paystack_test_public_key"),
		PaystackBaseURL:           getEnvOrDefault("PAYSTACK_BASE_URL", k.String("paystack_base_url"), DefaultPaystackBaseURL),
		PaystackTimeoutSeconds:    timeout,
		PaystackDashboardURL:      getEnvOrDefault("PAYSTACK_DASHBOARD_URL", k.String("paystack_dashboard_url"), DefaultPaystackDashboardURL),
		OperatorJWTSecret:         getEnvOrKoanf("OPERATOR_JWT_SECRET", k, "operator_jwt_secret"),
		OperatorJWTPreviousSecret: getEnvOrKoanf("OPERATOR_JWT_PREVIOUS_SECRET", k, "operator_jwt_previous_secret"),
		WebhookAllowUnknownMethod: getEnvBoolOrDefault("WEBHOOK_ALLOW_UNKNOWN_METHOD", k, "webhook_allow_unknown_method", false),
		WebhookRateLimitPerMinute: rateLimit,
		TracingEnabled:            getEnvBoolOrDefault("TRACING_ENABLED", k, "tracing_enabled", false),
		TracingExporter:           getEnvOrDefault("TRACING_EXPORTER", k.String("tracing_exporter"), DefaultTracingExporter),
		OTLPEndpoint:              getEnvOrKoanf("OTEL_EXPORTER_OTLP_ENDPOINT", k, "otlp_endpoint"),
		TracingSampleRate:         sampleRate,
		TracingInsecure:           getEnvBoolOrDefault("TRACING_INSECURE", k, "tracing_insecure", false),
		CORSAllowedOrigins:        getEnvListOrKoanf("CORS_ALLOWED_ORIGINS", k, "cors_allowed_origins"),
	}

	// Validate and collect errors
	errs := cfg.Validate()
	errs = append(loadErrs, errs...)

	return cfg, errs
}

// getEnvListOrKoanf splits a comma-separated environment variable if set,
// otherwise returns the koanf list.
func getEnvListOrKoanf(envKey string, k *koanf.Koanf, koanfKey string) []string {
	raw, ok := os.LookupEnv(envKey)
	if !ok || strings.TrimSpace(raw) == "" {
		return k.Strings(koanfKey)
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// getEnvOrKoanf returns the environment variable value if set, otherwise the koanf value.
func getEnvOrKoanf(envKey string, k *koanf.Koanf, koanfKey string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	return k.String(koanfKey)
}

// getEnvOrDefault returns the environment variable value if set, otherwise the koanf value, or default.
func getEnvOrDefault(envKey string, koanfVal string, defaultVal string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	if koanfVal != "" {
		return koanfVal
	}
	return defaultVal
}

// getEnvOrDefaultMulti tries multiple environment variable keys in order.
// Returns the first non-empty value found, otherwise the koanf value, or default.
func getEnvOrDefaultMulti(envKeys []string, koanfVal string, defaultVal string) string {
	for _, key := range envKeys {
		if val := os.Getenv(key); val != "" {
			return val
		}
	}
	if koanfVal != "" {
		return koanfVal
	}
	return defaultVal
}

// getEnvIntOrDefault returns the environment variable as int if set, otherwise the koanf value, or default.
// Returns an error if the environment variable is set but cannot be parsed as an integer.
// A zero value from a YAML file falls back to the default.
func getEnvIntOrDefault(envKey string, koanfVal int, defaultVal int) (int, error) {
	if val := os.Getenv(envKey); val != "" {
		i, err := strconv.Atoi(val)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid integer: %w", envKey, ErrInvalidInteger)
		}
		return i, nil
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// getEnvIntOrDefaultMulti tries multiple environment variable keys in order.
// Returns the first valid integer value found, otherwise the koanf value, or default.
// Returns an error if any environment variable is set but cannot be parsed as an integer.
func getEnvIntOrDefaultMulti(envKeys []string, koanfVal int, defaultVal int) (int, error) {
	for _, key := range envKeys {
		if val := os.Getenv(key); val != "" {
			i, err := strconv.Atoi(val)
			if err != nil {
				return 0, fmt.Errorf("%s must be a valid integer: %w", key, ErrInvalidInteger)
			}
			return i, nil
		}
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// getEnvBoolOrDefault returns the environment variable as bool if set, otherwise
// the koanf value when the key exists, or default.
// Unrecognised values leave the lower-precedence value in place.
func getEnvBoolOrDefault(envKey string, k *koanf.Koanf, koanfKey string, defaultVal bool) bool {
	val := defaultVal
	if k.Exists(koanfKey) {
		val = k.Bool(koanfKey)
	}
	switch strings.ToLower(os.Getenv(envKey)) {
	case "true", "1", "yes", "on":
		val = true
	case "false", "0", "no", "off":
		val = false
	}
	return val
}

// getEnvFloatOrDefault returns the environment variable as float64 if set, otherwise the koanf value, or default.
// Returns an error if the environment variable is set but cannot be parsed as a float.
func getEnvFloatOrDefault(envKey string, koanfVal float64, defaultVal float64) (float64, error) {
	if val := os.Getenv(envKey); val != "" {
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid float: %w", envKey, err)
		}
		return f, nil
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// Validate checks that all required configuration values are present.
// Returns a slice of validation errors (empty if valid).
func (c *Config) Validate() []error {
	var errs []error

	if c.PaystackLiveSecretKey == "" && c.PaystackTestSecretKey == "" {
		errs = append(errs, ErrMissingPaystackSecretKey)
	}
	for _, key := range []string{c.PaystackLiveSecretKey, c.PaystackTestSecretKey} {
		if key != "" && !strings.HasPrefix(key, "sk_") {
			errs = append(errs, ErrInvalidPaystackKey)
			break
		}
	}
	if c.OperatorJWTSecret == "" {
		errs = append(errs, ErrMissingOperatorJWTSecret)
	}
	if c.PaystackTimeoutSeconds <= 0 {
		errs = append(errs, ErrInvalidPaystackTimeout)
	}
	if c.WebhookRateLimitPerMinute <= 0 {
		errs = append(errs, ErrInvalidRateLimit)
	}

	// Tracing settings are only checked when tracing is on.
	if c.TracingEnabled {
		if c.TracingExporter != "otlp-grpc" && c.TracingExporter != "otlp-http" {
			errs = append(errs, ErrInvalidTracingExporter)
		}
		if c.TracingSampleRate < 0 || c.TracingSampleRate > 1 {
			errs = append(errs, ErrInvalidSampleRate)
		}
	}

	return errs
}

// IsProduction reports whether the service runs in production.
func (c *Config) IsProduction() bool {
	return c.Env == "production" || c.Env == "prod"
}

// LogSummary returns a summary of the configuration suitable for logging.
// All secrets are masked to prevent accidental exposure.
func (c *Config) LogSummary() map[string]string {
	return map[string]string{
		"port":                          fmt.Sprintf("%d", c.Port),
		"env":                           c.Env,
		"database_url":                  maskDatabaseURL(c.DatabaseURL),
		"redis_url":                     maskDatabaseURL(c.RedisURL),
		"paystack_live_secret_key":      maskPaystackKey(c.PaystackLiveSecretKey),
		"paystack_live_public_key":      maskPaystackKey(c.PaystackLivePublicKey),
		"paystack_test_secret_key":      maskPaystackKey(c.PaystackTestSecretKey),
		"paystack_test_public_key":      maskPaystackKey(c.PaystackTestPublicKey),
		"paystack_base_url":             c.PaystackBaseURL,
		"paystack_timeout_seconds":      fmt.Sprintf("%d", c.PaystackTimeoutSeconds),
		"paystack_dashboard_url":        c.PaystackDashboardURL,
		"operator_jwt_secret":           maskSecret(c.OperatorJWTSecret),
		"operator_jwt_previous_secret":  maskSecret(c.OperatorJWTPreviousSecret),
		"webhook_allow_unknown_method":  fmt.Sprintf("%t", c.WebhookAllowUnknownMethod),
		"webhook_rate_limit_per_minute": fmt.Sprintf("%d", c.WebhookRateLimitPerMinute),
		"tracing_enabled":               fmt.Sprintf("%t", c.TracingEnabled),
		"tracing_exporter":              c.TracingExporter,
		"otlp_endpoint":                 c.OTLPEndpoint,
		"tracing_sample_rate":           strconv.FormatFloat(c.TracingSampleRate, 'f', -1, 64),
		"cors_allowed_origins":          strings.Join(c.CORSAllowedOrigins, ","),
	}
}

// maskSecret masks a secret value, showing only the first 4 characters followed by ****
// If the secret is shorter than 8 characters, it's fully masked.
func maskSecret(s string) string {
	if s == "" {
		return "<not set>"
	}
	if len(s) < 8 {
		return "****"
	}
	return s[:4] + "****"
}

// maskPaystackKey masks a Paystack API key, preserving the prefix (sk_live_, pk_test_, etc.)
func maskPaystackKey(s string) string {
	if s == "" {
		return "<not set>"
	}

	parts := strings.SplitN(s, "_", 3)
	if len(parts) == 3 {
		return parts[0] + "_" + parts[1] + "_****"
	}

	// Fallback to generic masking
	return maskSecret(s)
}

// maskDatabaseURL masks the password in a database URL.
// Supports both postgres:// and postgresql:// schemes.
func maskDatabaseURL(s string) string {
	if s == "" {
		return "<not set>"
	}

	// Look for password pattern: user:password@host
	// Simple approach: find :// and then mask between : and @
	schemeEnd := strings.Index(s, "://")
	if schemeEnd == -1 {
		return maskSecret(s)
	}

	rest := s[schemeEnd+3:]
	atIndex := strings.Index(rest, "@")
	if atIndex == -1 {
		return s // No credentials in URL
	}

	colonIndex := strings.Index(rest[:atIndex], ":")
	if colonIndex == -1 {
		return s // No password (only username)
	}

	// Reconstruct URL with masked password
	scheme := s[:schemeEnd+3]
	user := rest[:colonIndex]
	hostAndPath := rest[atIndex:]

	return scheme + user + ":****" + hostAndPath
}
