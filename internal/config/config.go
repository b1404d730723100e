// Package config provides configuration loading and validation for the API server.
// It uses koanf to merge environment variables with optional file overrides.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config holds all configuration values for the API server.
type Config struct {
	// Server settings
	Port int    `koanf:"port"`
	Env  string `koanf:"env"`

	// Database
	DatabaseURL string `koanf:"database_url"`

	// JWT Authentication. The previous secret is set only during rotation.
	JWTSecret         string `koanf:"jwt_secret"`
	JWTPreviousSecret string `koanf:"jwt_previous_secret"`

	// Ledger
	LedgerURL         string        `koanf:"ledger_url"`
	LedgerStreamURL   string        `koanf:"ledger_stream_url"`
	LedgerTimeout     time.Duration `koanf:"ledger_timeout"`
	LedgerSigningSeed string        `koanf:"ledger_signing_seed"` // hex-encoded 32-byte ed25519 seed

	// Model server
	ModelURL     string        `koanf:"model_url"`
	ModelTimeout time.Duration `koanf:"model_timeout"`

	// Redis (optional; rate limiting falls back to in-memory when empty)
	RedisAddr string `koanf:"redis_addr"`

	// CORS allowed origins. Empty disables CORS entirely.
	CORSAllowedOrigins []string `koanf:"cors_allowed_origins"`

	// Tracing
	TracingEnabled      bool    `koanf:"tracing_enabled"`
	TracingExporter     string  `koanf:"tracing_exporter"` // otlp-grpc or otlp-http
	TracingOTLPEndpoint string  `koanf:"tracing_otlp_endpoint"`
	TracingSamplingRate float64 `koanf:"tracing_sampling_rate"`
	TracingInsecure     bool    `koanf:"tracing_insecure"`
}

// Configuration validation errors.
var (
	ErrMissingDatabaseURL       = errors.New("DATABASE_URL is required")
	ErrMissingJWTSecret         = errors.New("JWT_SECRET is required")
	ErrMissingLedgerURL         = errors.New("LEDGER_URL is required")
	ErrMissingLedgerSigningSeed = errors.New("LEDGER_SIGNING_SEED is required")
	ErrInvalidLedgerSigningSeed = errors.New("LEDGER_SIGNING_SEED must be 64 hex characters")
	ErrMissingModelURL          = errors.New("MODEL_URL is required")
	ErrInvalidPort              = errors.New("PORT must be a valid integer")
	ErrInvalidTimeout           = errors.New("timeout must be a valid duration")
)

// Default values for non-secret configuration.
const (
	DefaultPort            = 8080
	DefaultEnv             = "development"
	DefaultLedgerTimeout   = 10 * time.Second
	DefaultModelTimeout    = 15 * time.Second
	DefaultSamplingRate    = 1.0
	DefaultTracingExporter = "otlp-grpc"
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

	// Parse port from env, collecting error if invalid.
	// Try PREDLEDGER_PORT first, then PORT.
	port, portErr := getEnvIntOrDefaultMulti([]string{"PREDLEDGER_PORT", "PORT"}, k.Int("port"), DefaultPort)
	if portErr != nil {
		loadErrs = append(loadErrs, portErr)
	}

	ledgerTimeout, err := getEnvDurationOrDefault("LEDGER_TIMEOUT", k.Duration("ledger_timeout"), DefaultLedgerTimeout)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}
	modelTimeout, err := getEnvDurationOrDefault("MODEL_TIMEOUT", k.Duration("model_timeout"), DefaultModelTimeout)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}

	samplingRate, err := getEnvFloatOrDefault("TRACING_SAMPLING_RATE", k.Float64("tracing_sampling_rate"), DefaultSamplingRate)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}

	// Build config struct, with env vars taking precedence over file values
	cfg := &Config{
		Port:               port,
		Env:                getEnvOrDefaultMulti([]string{"PREDLEDGER_ENV", "ENV", "GO_ENV"}, k.String("env"), DefaultEnv),
		DatabaseURL:        getEnvOrKoanf("DATABASE_URL", k, "database_url"),
		JWTSecret:          getEnvOrKoanf("JWT_SECRET", k, "jwt_secret"),
		JWTPreviousSecret:  getEnvOrKoanf("JWT_PREVIOUS_SECRET", k, "jwt_previous_secret"),
		LedgerURL:          getEnvOrKoanf("LEDGER_URL", k, "ledger_url"),
		LedgerStreamURL:    getEnvOrKoanf("LEDGER_STREAM_URL", k, "ledger_stream_url"),
		LedgerTimeout:      ledgerTimeout,
		LedgerSigningSeed:  getEnvOrKoanf("LEDGER_SIGNING_SEED", k, "ledger_signing_seed"),
		ModelURL:           getEnvOrKoanf("MODEL_URL", k, "model_url"),
		ModelTimeout:       modelTimeout,
		RedisAddr:          getEnvOrKoanf("REDIS_ADDR", k, "redis_addr"),
		CORSAllowedOrigins: getEnvSliceOrKoanf("CORS_ALLOWED_ORIGINS", k, "cors_allowed_origins"),

		TracingEnabled:      getEnvBoolOrKoanf("TRACING_ENABLED", k, "tracing_enabled"),
		TracingExporter:     getEnvOrDefault("TRACING_EXPORTER", k.String("tracing_exporter"), DefaultTracingExporter),
		TracingOTLPEndpoint: getEnvOrKoanf("TRACING_OTLP_ENDPOINT", k, "tracing_otlp_endpoint"),
		TracingSamplingRate: samplingRate,
		TracingInsecure:     getEnvBoolOrKoanf("TRACING_INSECURE", k, "tracing_insecure"),
	}

	// Validate and collect errors
	errs := cfg.Validate()
	errs = append(loadErrs, errs...)

	return cfg, errs
}

// getEnvOrKoanf returns the environment variable value if set, otherwise the koanf value.
func getEnvOrKoanf(envKey string, k *koanf.Koanf, koanfKey string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	return k.String(koanfKey)
}

// getEnvSliceOrKoanf returns the environment variable split on commas if set,
// otherwise the koanf string slice.
func getEnvSliceOrKoanf(envKey string, k *koanf.Koanf, koanfKey string) []string {
	if val := os.Getenv(envKey); val != "" {
		var out []string
		for _, part := range strings.Split(val, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out
	}
	return k.Strings(koanfKey)
}

// getEnvBoolOrKoanf returns the environment variable as bool if set, otherwise the koanf value.
func getEnvBoolOrKoanf(envKey string, k *koanf.Koanf, koanfKey string) bool {
	if val := os.Getenv(envKey); val != "" {
		switch strings.ToLower(val) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return k.Bool(koanfKey)
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

// getEnvIntOrDefaultMulti tries multiple environment variable keys in order.
// Returns the first valid integer value found, otherwise the koanf value, or default.
// Returns an error if any environment variable is set but cannot be parsed as an integer.
func getEnvIntOrDefaultMulti(envKeys []string, koanfVal int, defaultVal int) (int, error) {
	for _, key := range envKeys {
		if val := os.Getenv(key); val != "" {
			i, err := strconv.Atoi(val)
			if err != nil {
				return 0, fmt.Errorf("%s must be a valid integer: %w", key, ErrInvalidPort)
			}
			return i, nil
		}
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// getEnvDurationOrDefault returns the environment variable as a duration if set,
// otherwise the koanf value, or default.
// Returns an error if the environment variable is set but cannot be parsed.
func getEnvDurationOrDefault(envKey string, koanfVal time.Duration, defaultVal time.Duration) (time.Duration, error) {
	if val := os.Getenv(envKey); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid duration: %w", envKey, ErrInvalidTimeout)
		}
		return d, nil
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
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

	if c.DatabaseURL == "" {
		errs = append(errs, ErrMissingDatabaseURL)
	}
	if c.JWTSecret == "" {
		errs = append(errs, ErrMissingJWTSecret)
	}
	if c.LedgerURL == "" {
		errs = append(errs, ErrMissingLedgerURL)
	}
	if c.LedgerSigningSeed == "" {
		errs = append(errs, ErrMissingLedgerSigningSeed)
	} else if !validSeed(c.LedgerSigningSeed) {
		errs = append(errs, ErrInvalidLedgerSigningSeed)
	}
	if c.ModelURL == "" {
		errs = append(errs, ErrMissingModelURL)
	}

	return errs
}

// validSeed reports whether s is a hex-encoded 32-byte seed.
func validSeed(s string) bool {
	raw, err := hex.DecodeString(s)
	return err == nil && len(raw) == 32
}

// LogSummary returns a summary of the configuration suitable for logging.
// All secrets are masked to prevent accidental exposure.
func (c *Config) LogSummary() map[string]string {
	return map[string]string{
		"port":                fmt.Sprintf("%d", c.Port),
		"env":                 c.Env,
		"database_url":        maskDatabaseURL(c.DatabaseURL),
		"jwt_secret":          maskSecret(c.JWTSecret),
		"jwt_previous_secret": maskSecret(c.JWTPreviousSecret),
		"ledger_url":          c.LedgerURL,
		"ledger_stream_url":   c.LedgerStreamURL,
		"ledger_timeout":      c.LedgerTimeout.String(),
		"ledger_signing_seed": maskSecret(c.LedgerSigningSeed),
		"model_url":           c.ModelURL,
		"model_timeout":       c.ModelTimeout.String(),
		"redis_addr":          c.RedisAddr,
		"tracing_enabled":     fmt.Sprintf("%t", c.TracingEnabled),
		"tracing_exporter":    c.TracingExporter,
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

// maskDatabaseURL masks the password in a database URL.
// Supports both postgres:// and postgresql:// schemes.
func maskDatabaseURL(s string) string {
	if s == "" {
		return "<not set>"
	}

	// Look for password pattern: user:password@host
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
