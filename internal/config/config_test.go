package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

// configEnv lists every environment variable Load reads.
var configEnv = []string{
	"RECONCILER_PORT", "PORT", "RECONCILER_ENV", "ENV", "GO_ENV",
	"DATABASE_URL", "REDIS_URL",
	"PAYSTACK_LIVE_SECRET_KEY", "PAYSTACK_LIVE_PUBLIC_KEY",
	"PAYSTACK_TEST_SECRET_KEY", "PAYSTACK_TEST_PUBLIC_KEY",
	"PAYSTACK_BASE_URL", "PAYSTACK_TIMEOUT_SECONDS", "PAYSTACK_DASHBOARD_URL",
	"OPERATOR_JWT_SECRET", "OPERATOR_JWT_PREVIOUS_SECRET",
	"WEBHOOK_ALLOW_UNKNOWN_METHOD", "WEBHOOK_RATE_LIMIT_PER_MINUTE",
	"TRACING_ENABLED", "TRACING_EXPORTER", "OTEL_EXPORTER_OTLP_ENDPOINT",
	"TRACING_SAMPLE_RATE", "TRACING_INSECURE", "CORS_ALLOWED_ORIGINS",
}

// clearEnv blanks every config variable for the duration of the test.
// Empty values are treated as unset by Load.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range configEnv {
		t.Setenv(key, "")
	}
}

func containsErr(errs []error, target error) bool {
	for _, err := range errs {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func TestLoad_MissingMandatory(t *testing.T) {
	tests := []struct {
		name         string
		envVars      map[string]string
		wantErrCount int
		wantErr      error
	}{
		{
			name:         "no environment variables set",
			envVars:      map[string]string{},
			wantErrCount: 2,
		},
		{
			name:         "missing operator secret",
			envVars:      map[string]string{"PAYSTACK_TEST_SECRET_KEY": "sk_test_123"},
			wantErrCount: 1,
			wantErr:      ErrMissingOperatorJWTSecret,
		},
		{
			name:         "missing paystack keys",
			envVars:      map[string]string{"OPERATOR_JWT_SECRET": "operator-secret-32-characters-long"},
			wantErrCount: 1,
			wantErr:      ErrMissingPaystackSecretKey,
		},
		{
			name: "public key in secret slot",
			envVars: map[string]string{
				"OPERATOR_JWT_SECRET":      "operator-secret-32-characters-long",
				"PAYSTACK_LIVE_SECRET_KEY": "pk_live_123",
			},
			wantErrCount: 1,
			wantErr:      ErrInvalidPaystackKey,
		},
		{
			name: "invalid port",
			envVars: map[string]string{
				"OPERATOR_JWT_SECRET":      "operator-secret-32-characters-long",
				"PAYSTACK_TEST_SECRET_KEY": "sk_test_123",
				"PORT":                     "eighty",
			},
			wantErrCount: 1,
			wantErr:      ErrInvalidInteger,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}

			_, errs := Load("")
			if len(errs) != tt.wantErrCount {
				t.Errorf("Load() returned %d errors, want %d. Errors: %v", len(errs), tt.wantErrCount, errs)
			}
			if tt.wantErr != nil && !containsErr(errs, tt.wantErr) {
				t.Errorf("Load() did not return expected error %v. Got: %v", tt.wantErr, errs)
			}
		})
	}
}

func TestLoad_ValidEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("PAYSTACK_LIVE_SECRET_KEY", "sk_live_abcdef123456")
	t.Setenv("PAYSTACK_TEST_SECRET_KEY", "sk_test_abcdef123456")
	t.Setenv("OPERATOR_JWT_SECRET", "operator-secret-32-characters-long")
	t.Setenv("PORT", "3000")
	t.Setenv("ENV", "production")
	t.Setenv("WEBHOOK_ALLOW_UNKNOWN_METHOD", "yes")
	t.Setenv("PAYSTACK_TIMEOUT_SECONDS", "5")

	cfg, errs := Load("")
	if len(errs) > 0 {
		t.Fatalf("Load() returned errors: %v", errs)
	}
	if cfg.Port != 3000 {
		t.Errorf("Port = %d, want 3000", cfg.Port)
	}
	if !cfg.IsProduction() {
		t.Errorf("Env = %q, want production", cfg.Env)
	}
	if !cfg.WebhookAllowUnknownMethod {
		t.Error("WebhookAllowUnknownMethod = false, want true")
	}
	if cfg.PaystackTimeoutSeconds != 5 {
		t.Errorf("PaystackTimeoutSeconds = %d, want 5", cfg.PaystackTimeoutSeconds)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("PAYSTACK_TEST_SECRET_KEY", "sk_test_abcdef123456")
	t.Setenv("OPERATOR_JWT_SECRET", "operator-secret-32-characters-long")

	cfg, errs := Load("")
	if len(errs) > 0 {
		t.Fatalf("Load() returned errors: %v", errs)
	}
	if cfg.Port != DefaultPort {
		t.Errorf("Port = %d, want %d", cfg.Port, DefaultPort)
	}
	if cfg.Env != DefaultEnv {
		t.Errorf("Env = %q, want %q", cfg.Env, DefaultEnv)
	}
	if cfg.PaystackBaseURL != DefaultPaystackBaseURL {
		t.Errorf("PaystackBaseURL = %q", cfg.PaystackBaseURL)
	}
	if cfg.PaystackTimeoutSeconds != DefaultPaystackTimeoutSeconds {
		t.Errorf("PaystackTimeoutSeconds = %d", cfg.PaystackTimeoutSeconds)
	}
	if cfg.WebhookAllowUnknownMethod {
		t.Error("unknown methods must be rejected by default")
	}
	if cfg.DatabaseURL != "" {
		t.Error("DatabaseURL must default to empty (in-memory store)")
	}
}

func TestLoad_FileWithEnvOverride(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := []byte(`port: 9090
env: staging
paystack_test_secret_key: sk_test_fromfile
operator_jwt_secret: file-operator-secret-value
webhook_allow_unknown_method: true
tracing_enabled: true
tracing_exporter: otlp-grpc
tracing_sample_rate: 0.5
cors_allowed_origins:
  - https://give.example.org
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("PORT", "7070")
	t.Setenv("WEBHOOK_ALLOW_UNKNOWN_METHOD", "false")

	cfg, errs := Load(path)
	if len(errs) > 0 {
		t.Fatalf("Load() returned errors: %v", errs)
	}
	if cfg.Port != 7070 {
		t.Errorf("env must override file port, got %d", cfg.Port)
	}
	if cfg.Env != "staging" {
		t.Errorf("Env = %q, want staging", cfg.Env)
	}
	if cfg.PaystackTestSecretKey != "sk_test_fromfile" {
		t.Errorf("PaystackTestSecretKey = %q", cfg.PaystackTestSecretKey)
	}
	if cfg.WebhookAllowUnknownMethod {
		t.Error("env must override file flag")
	}
	if !cfg.TracingEnabled || cfg.TracingExporter != "otlp-grpc" || cfg.TracingSampleRate != 0.5 {
		t.Errorf("unexpected tracing config %+v", cfg)
	}
	if len(cfg.CORSAllowedOrigins) != 1 || cfg.CORSAllowedOrigins[0] != "https://give.example.org" {
		t.Errorf("CORSAllowedOrigins = %v", cfg.CORSAllowedOrigins)
	}
}

func TestLoad_CORSOriginsFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("PAYSTACK_TEST_SECRET_KEY", "sk_test_abc")
	t.Setenv("OPERATOR_JWT_SECRET", "operator-secret-value")
	t.Setenv("CORS_ALLOWED_ORIGINS", " https://a.example , ,https://b.example")

	cfg, errs := Load("")
	if len(errs) > 0 {
		t.Fatalf("Load() returned errors: %v", errs)
	}
	want := []string{"https://a.example", "https://b.example"}
	if len(cfg.CORSAllowedOrigins) != len(want) {
		t.Fatalf("CORSAllowedOrigins = %v, want %v", cfg.CORSAllowedOrigins, want)
	}
	for i := range want {
		if cfg.CORSAllowedOrigins[i] != want[i] {
			t.Errorf("origin[%d] = %q, want %q", i, cfg.CORSAllowedOrigins[i], want[i])
		}
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, errs := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if len(errs) != 1 {
		t.Fatalf("expected 1 error, got %v", errs)
	}
}

func TestValidate_Tracing(t *testing.T) {
	cfg := &Config{
		PaystackTestSecretKey:     "sk_test_1",
		OperatorJWTSecret:         "secret",
		PaystackTimeoutSeconds:    10,
		WebhookRateLimitPerMinute: 100,
		TracingEnabled:            true,
		TracingExporter:           "zipkin",
		TracingSampleRate:         2,
	}
	errs := cfg.Validate()
	if !containsErr(errs, ErrInvalidTracingExporter) || !containsErr(errs, ErrInvalidSampleRate) {
		t.Errorf("expected tracing errors, got %v", errs)
	}
}

func TestLogSummary_MasksSecrets(t *testing.T) {
	cfg := &Config{
		DatabaseURL:           "postgres://user:hunter2@db:5432/donations",
		PaystackLiveSecretKey: "sk_live_0123456789abcdef",
		PaystackTestSecretKey: "sk_test_0123456789abcdef",
		OperatorJWTSecret:     "operator-secret-value",
	}
	summary := cfg.LogSummary()

	tests := map[string]string{
		"database_url":             "postgres://user:****@db:5432/donations",
		"paystack_live_secret_key": "sk_live_****",
		"paystack_test_secret_key": "sk_test_****",
		"paystack_live_public_key": "<not set>",
		"operator_jwt_secret":      "oper****",
	}
	for key, want := range tests {
		if got := summary[key]; got != want {
			t.Errorf("%s = %q, want %q", key, got, want)
		}
	}
}
