// Package config loads service settings in layers: built-in defaults, an
// optional YAML file, then ASSETDESK_* environment variables. A .env file in
// the working directory is read into the environment first.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

const (
	EnvPrefix = "ASSETDESK_"
	// PathEnvVar overrides the config file search.
	PathEnvVar = EnvPrefix + "CONFIG"
)

var DefaultPaths = []string{"assetdesk.yaml", "assetdesk.yml", "/etc/assetdesk/config.yaml"}

var ErrInvalid = errors.New("config: invalid")

type Config struct {
	Env       string          `koanf:"env" validate:"oneof=development production test"`
	HTTP      HTTPConfig      `koanf:"http"`
	Store     StoreConfig     `koanf:"store"`
	Auth      AuthConfig      `koanf:"auth"`
	Log       LogConfig       `koanf:"log"`
	RateLimit RateLimitConfig `koanf:"rate_limit"`
	Breaker   BreakerConfig   `koanf:"breaker"`
}

type HTTPConfig struct {
	Addr            string        `koanf:"addr" validate:"required"`
	ReadTimeout     time.Duration `koanf:"read_timeout" validate:"gt=0"`
	WriteTimeout    time.Duration `koanf:"write_timeout" validate:"gt=0"`
	IdleTimeout     time.Duration `koanf:"idle_timeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`
	MaxBodyBytes    int64         `koanf:"max_body_bytes" validate:"gt=0"`
	CORSOrigins     []string      `koanf:"cors_origins"`
}

// StoreConfig selects the document store backend.
type StoreConfig struct {
	Backend   string `koanf:"backend" validate:"oneof=memory postgres badger"`
	DSN       string `koanf:"dsn" validate:"required_if=Backend postgres"`
	BadgerDir string `koanf:"badger_dir"`
}

type AuthConfig struct {
	Secret   string        `koanf:"secret"`
	Issuer   string        `koanf:"issuer" validate:"required"`
	TokenTTL time.Duration `koanf:"token_ttl" validate:"gt=0"`
	ResetTTL time.Duration `koanf:"reset_ttl" validate:"gt=0"`
}

type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error disabled"`
	Format string `koanf:"format" validate:"oneof=json console"`
}

type RateLimitConfig struct {
	Enabled bool    `koanf:"enabled"`
	RPS     float64 `koanf:"rps" validate:"gte=0"`
	Burst   int     `koanf:"burst" validate:"gte=0"`
}

type BreakerConfig struct {
	Enabled          bool          `koanf:"enabled"`
	FailureThreshold uint32        `koanf:"failure_threshold"`
	OpenTimeout      time.Duration `koanf:"open_timeout"`
	HalfOpenRequests uint32        `koanf:"half_open_requests"`
}

// Default returns the settings used when nothing overrides them.
func Default() Config {
	return Config{
		Env: "development",
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			MaxBodyBytes:    1 << 20,
			CORSOrigins:     []string{},
		},
		Store: StoreConfig{Backend: "memory"},
		Auth: AuthConfig{
			Issuer:   "assetdesk",
			TokenTTL: 15 * time.Minute,
			ResetTTL: time.Hour,
		},
		Log:       LogConfig{Level: "info", Format: "json"},
		RateLimit: RateLimitConfig{Enabled: true, RPS: 20, Burst: 40},
		Breaker: BreakerConfig{
			Enabled:          true,
			FailureThreshold: 5,
			OpenTimeout:      30 * time.Second,
			HalfOpenRequests: 1,
		},
	}
}

// Load reads the layered configuration. path may be empty, in which case
// PathEnvVar and DefaultPaths are consulted.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	defaults := Default()
	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return Config{}, fmt.Errorf("load defaults: %w", err)
	}
	if path == "" {
		path = findFile()
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("load config file %s: %w", path, err)
		}
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return Config{}, fmt.Errorf("load environment: %w", err)
	}
	if err := splitList(k, "http.cors_origins"); err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks field constraints and the rules that span fields.
func (c Config) Validate() error {
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if c.Env == "production" {
		if len(c.Auth.Secret) < 32 {
			return fmt.Errorf("%w: auth.secret must be at least 32 bytes in production", ErrInvalid)
		}
		if c.Store.Backend == "memory" {
			return fmt.Errorf("%w: the memory store is not durable", ErrInvalid)
		}
	}
	return nil
}

// envKey maps ASSETDESK_AUTH__TOKEN_TTL to auth.token_ttl. A double
// underscore separates sections; single underscores stay in the key.
func envKey(name string) string {
	name = strings.ToLower(strings.TrimPrefix(name, EnvPrefix))
	return strings.ReplaceAll(name, "__", ".")
}

func findFile() string {
	if p := os.Getenv(PathEnvVar); p != "" {
		return p
	}
	for _, p := range DefaultPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// splitList turns a comma-separated string value into a list. Lists from
// YAML are left alone.
func splitList(k *koanf.Koanf, key string) error {
	s, ok := k.Get(key).(string)
	if !ok {
		return nil
	}
	parts := []string{}
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	if err := k.Set(key, parts); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}
