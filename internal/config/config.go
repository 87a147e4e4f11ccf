// Package config loads the service configuration.
//
// Values are layered: built-in defaults, then an optional YAML file named by
// CONFIG_FILE, then a .env file, then the process environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultJWTSecret is only acceptable outside of production stages.
const DefaultJWTSecret = "your-very-secure-secret-key-change-in-production"

// Config is the full service configuration.
type Config struct {
	Stage     string `yaml:"stage" env:"STAGE"`
	LogLevel  string `yaml:"log_level" env:"LOG_LEVEL"`
	LogFormat string `yaml:"log_format" env:"LOG_FORMAT"`

	Server     ServerConfig     `yaml:"server"`
	JWT        JWTConfig        `yaml:"jwt"`
	External   ExternalConfig   `yaml:"external"`
	ParamStore ParamStoreConfig `yaml:"param_store"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	CORS       CORSConfig       `yaml:"cors"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host            string        `yaml:"host" env:"HOST"`
	Port            int           `yaml:"port" env:"PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"HTTP_READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"HTTP_WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// JWTConfig configures token signing.
type JWTConfig struct {
	SecretKey      string        `yaml:"secret_key" env:"JWT_SECRET_KEY"`
	Algorithm      string        `yaml:"algorithm" env:"JWT_ALGORITHM"`
	AccessTokenTTL time.Duration `yaml:"access_token_ttl" env:"JWT_ACCESS_TOKEN_TTL"`
}

// ExternalConfig configures the outbound demo call and its retry policy.
type ExternalConfig struct {
	DemoURL           string        `yaml:"demo_url" env:"EXTERNAL_DEMO_URL"`
	Timeout           time.Duration `yaml:"timeout" env:"EXTERNAL_TIMEOUT"`
	MaxAttempts       int           `yaml:"max_attempts" env:"EXTERNAL_MAX_ATTEMPTS"`
	BackoffMultiplier time.Duration `yaml:"backoff_multiplier" env:"EXTERNAL_BACKOFF_MULTIPLIER"`
	BackoffMin        time.Duration `yaml:"backoff_min" env:"EXTERNAL_BACKOFF_MIN"`
	BackoffMax        time.Duration `yaml:"backoff_max" env:"EXTERNAL_BACKOFF_MAX"`
}

// ParamStoreConfig selects where the API key parameter is read from.
type ParamStoreConfig struct {
	Provider    string `yaml:"provider" env:"PARAM_STORE_PROVIDER"`
	APIKeyParam string `yaml:"api_key_param" env:"API_KEY_PARAM"`
	VaultURL    string `yaml:"vault_url" env:"AZURE_KEYVAULT_URL"`
}

// RateLimitConfig configures the token endpoint limiter.
type RateLimitConfig struct {
	RequestsPerSecond int    `yaml:"requests_per_second" env:"RATE_LIMIT_RPS"`
	Burst             int    `yaml:"burst" env:"RATE_LIMIT_BURST"`
	CleanupSchedule   string `yaml:"cleanup_schedule" env:"RATE_LIMIT_CLEANUP"`
}

// CORSConfig lists allowed browser origins as a comma separated string.
type CORSConfig struct {
	AllowedOrigins string `yaml:"allowed_origins" env:"CORS_ALLOWED_ORIGINS"`
}

// Origins returns the configured origins, trimmed and without empties.
func (c CORSConfig) Origins() []string {
	var out []string
	for _, part := range strings.Split(c.AllowedOrigins, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Stage:     "dev",
		LogLevel:  "INFO",
		LogFormat: "json",
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8000,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		JWT: JWTConfig{
			SecretKey:      DefaultJWTSecret,
			Algorithm:      "HS256",
			AccessTokenTTL: 30 * time.Minute,
		},
		External: ExternalConfig{
			DemoURL:           "https://httpbin.org/get",
			Timeout:           10 * time.Second,
			MaxAttempts:       2,
			BackoffMultiplier: time.Second,
			BackoffMin:        4 * time.Second,
			BackoffMax:        10 * time.Second,
		},
		ParamStore: ParamStoreConfig{
			Provider:    "env",
			APIKeyParam: "/pos-h/api-key",
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 10,
			Burst:             20,
			CleanupSchedule:   "@every 5m",
		},
	}
}

// Load reads the configuration from the environment, honouring CONFIG_FILE and .env.
func Load() (*Config, error) {
	// A missing .env is normal outside local development.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return LoadFromFile(os.Getenv("CONFIG_FILE"))
}

// LoadFromFile applies the YAML file at path (when non-empty) and then the environment.
func LoadFromFile(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := envdecode.Decode(cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("failed to decode environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the service cannot run with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.JWT.SecretKey) == "" {
		return errors.New("config: JWT secret key is required")
	}
	if IsProduction(c.Stage) && c.JWT.SecretKey == DefaultJWTSecret {
		return errors.New("config: the default JWT secret key must not be used in production")
	}
	switch c.JWT.Algorithm {
	case "HS256", "HS384", "HS512":
	default:
		return fmt.Errorf("config: unsupported JWT algorithm %q (HS256, HS384 or HS512)", c.JWT.Algorithm)
	}
	if c.JWT.AccessTokenTTL <= 0 {
		return errors.New("config: JWT access token TTL must be positive")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: invalid port %d", c.Server.Port)
	}
	if c.External.MaxAttempts < 1 {
		return errors.New("config: external max attempts must be at least 1")
	}
	if c.External.Timeout <= 0 {
		return errors.New("config: external timeout must be positive")
	}
	if c.External.BackoffMin > c.External.BackoffMax {
		return errors.New("config: external backoff min exceeds max")
	}
	switch c.ParamStore.Provider {
	case "env", "none":
	case "azure-keyvault":
		if strings.TrimSpace(c.ParamStore.VaultURL) == "" {
			return errors.New("config: AZURE_KEYVAULT_URL is required for the azure-keyvault provider")
		}
	default:
		return fmt.Errorf("config: unknown parameter store provider %q", c.ParamStore.Provider)
	}
	return nil
}

// IsProduction reports whether stage names a production deployment.
func IsProduction(stage string) bool {
	switch strings.ToLower(strings.TrimSpace(stage)) {
	case "prod", "production":
		return true
	}
	return false
}
