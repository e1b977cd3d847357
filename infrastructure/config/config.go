// Package config loads server configuration from defaults, an optional YAML
// file, and environment overrides, in that order.
package config

import (
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	apperrors "mindmeld/pkg/errors"
	"mindmeld/pkg/utils"
)

// Config is the full server configuration
type Config struct {
	Server ServerConfig `yaml:"server"`
	Auth   AuthConfig   `yaml:"auth"`
	CORS   CORSConfig   `yaml:"cors"`
	Log    LogConfig    `yaml:"log"`
}

type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `yaml:"read_timeout" validate:"min=1s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" validate:"min=1s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"min=1s"`
}

type AuthConfig struct {
	// JWTSecret signs and verifies participant tokens. Required outside
	// development.
	JWTSecret string `yaml:"jwt_secret" validate:"required,min=16"`
}

type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins" validate:"min=1,dive,required"`
}

type LogConfig struct {
	Level       string `yaml:"level" validate:"oneof=debug info warn error"`
	Development bool   `yaml:"development"`
}

// Defaults returns the development baseline
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Auth: AuthConfig{
			JWTSecret: "local-development-secret",
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{"http://localhost:5173"},
		},
		Log: LogConfig{
			Level:       "info",
			Development: true,
		},
	}
}

// Load builds the configuration: defaults, then the YAML file named by
// CONFIG_FILE if set, then environment variables.
func Load() (Config, error) {
	cfg := Defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, apperrors.Wrap(err, "read config file")
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, apperrors.Wrap(err, "parse config file")
		}
	}

	applyEnv(&cfg)

	if err := utils.ValidateStruct(cfg); err != nil {
		return Config{}, apperrors.NewValidationError("invalid configuration").WithCause(err)
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := os.Getenv("CORS_ALLOWED_ORIGIN"); v != "" {
		cfg.CORS.AllowedOrigins = []string{v}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_DEVELOPMENT"); v != "" {
		cfg.Log.Development = v == "true" || v == "1"
	}
}

// Addr returns the listen address
func (c ServerConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}
