package config

import (
	"fmt"
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

type Config struct {
	Version     string `koanf:"version"`
	Environment string `koanf:"environment"`
	LogLevel    string `koanf:"log_level"`

	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Redis     RedisConfig     `koanf:"redis"`
	Telephony TelephonyConfig `koanf:"telephony"`
	Engine    EngineConfig    `koanf:"engine"`
	Pacing    PacingConfig    `koanf:"pacing"`
}

type ServerConfig struct {
	Port            int           `koanf:"port" validate:"min=1,max=65535"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

type DatabaseConfig struct {
	URL             string        `koanf:"url" validate:"required"`
	MaxOpenConns    int           `koanf:"max_open_conns" validate:"min=1"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
}

type RedisConfig struct {
	URL      string `koanf:"url" validate:"required"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
}

type TelephonyConfig struct {
	GatewayURL       string        `koanf:"gateway_url" validate:"required"`
	HandshakeTimeout time.Duration `koanf:"handshake_timeout"`
	WriteTimeout     time.Duration `koanf:"write_timeout"`
	PingInterval     time.Duration `koanf:"ping_interval"`
	ReconnectBackoff time.Duration `koanf:"reconnect_backoff"`
}

type EngineConfig struct {
	TickInterval    time.Duration `koanf:"tick_interval"`
	SelectionSize   int           `koanf:"selection_size" validate:"min=1"`
	DrainTimeout    time.Duration `koanf:"drain_timeout"`
	ClaimTTL        time.Duration `koanf:"claim_ttl"`
	WatchdogTimeout time.Duration `koanf:"watchdog_timeout"`
}

type PacingConfig struct {
	GlobalDialRate float64 `koanf:"global_dial_rate" validate:"min=0"`
	GlobalBurst    int     `koanf:"global_burst" validate:"min=0"`
}

// Load reads configuration in layered order: built-in defaults, an optional
// .env file, the YAML file at path (configs/dialer.yaml when empty), then
// DIALER_ environment variables. The merged result is validated before use.
func Load(path string) (*Config, error) {
	// Optional .env for local development. Missing file is not an error.
	_ = godotenv.Load()

	k := koanf.New(".")

	defaults := &Config{
		Version:     "dev",
		Environment: "development",
		LogLevel:    "info",
		Server: ServerConfig{
			Port:            8080,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			URL:             "postgres://localhost:5432/dialer?sslmode=disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			URL: "localhost:6379",
			DB:  0,
		},
		Telephony: TelephonyConfig{
			GatewayURL:       "ws://localhost:8088/events",
			HandshakeTimeout: 10 * time.Second,
			WriteTimeout:     5 * time.Second,
			PingInterval:     30 * time.Second,
			ReconnectBackoff: 2 * time.Second,
		},
		Engine: EngineConfig{
			TickInterval:    time.Second,
			SelectionSize:   50,
			DrainTimeout:    5 * time.Minute,
			ClaimTTL:        30 * time.Minute,
			WatchdogTimeout: 2 * time.Minute,
		},
		Pacing: PacingConfig{
			GlobalDialRate: 0, // 0 disables the global ceiling
			GlobalBurst:    0,
		},
	}

	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	// Config file is optional.
	if path == "" {
		path = "configs/dialer.yaml"
	}
	_ = k.Load(file.Provider(path), yaml.Parser())

	if err := k.Load(env.Provider("DIALER_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "DIALER_")), "_", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}
