// AgBlogger - Markdown-First Publishing Platform
// Copyright 2026 AgBlogger Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/agblogger/agblogger

// Package config loads layered configuration: built-in defaults, then an
// optional YAML file, then environment variables. Environment wins.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// ConfigPathEnvVar overrides the config file search.
const ConfigPathEnvVar = "CONFIG_PATH"

// DefaultConfigPaths lists where the config file is searched, in order.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/agblogger/config.yaml",
	"/etc/agblogger/config.yml",
}

// Config is the full runtime configuration.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Content  ContentConfig  `koanf:"content"`
	Database DatabaseConfig `koanf:"database"`
	Security SecurityConfig `koanf:"security"`
	Render   RenderConfig   `koanf:"render"`
	Outbound OutboundConfig `koanf:"outbound"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// ServerConfig covers the HTTP listener and public identity.
type ServerConfig struct {
	Host         string        `koanf:"host" validate:"required"`
	Port         int           `koanf:"port" validate:"min=1,max=65535"`
	Timeout      time.Duration `koanf:"timeout" validate:"min=1s"`
	Environment  string        `koanf:"environment" validate:"oneof=development production"`
	SiteURL      string        `koanf:"site_url" validate:"omitempty,url"`
	TrustedHosts []string      `koanf:"trusted_hosts"`
	CORSOrigins  []string      `koanf:"cors_origins"`
}

// ContentConfig locates the markdown tree.
type ContentConfig struct {
	Dir         string `koanf:"dir" validate:"required"`
	Timezone    string `koanf:"timezone" validate:"required"`
	MaxPostSize int64  `koanf:"max_post_size" validate:"min=1024"`
}

// DatabaseConfig locates the SQLite cache and credential store.
type DatabaseConfig struct {
	Path string `koanf:"path" validate:"required"`
}

// SecurityConfig covers secrets, bootstrap, and registration policy.
type SecurityConfig struct {
	SecretKey        string `koanf:"secret_key"`
	AdminUsername    string `koanf:"admin_username"`
	AdminPassword    string `koanf:"admin_password"`
	RegistrationOpen bool   `koanf:"registration_open"`
	LoginRateLimit   int    `koanf:"login_rate_limit" validate:"min=1"`
}

// RenderConfig tunes the markdown renderer pool.
type RenderConfig struct {
	BinPath   string        `koanf:"bin_path"`
	EngineURL string        `koanf:"engine_url" validate:"omitempty,url"`
	PoolSize  int           `koanf:"pool_size" validate:"min=1,max=64"`
	Timeout   time.Duration `koanf:"timeout" validate:"min=100ms"`
	MaxInput  int64         `koanf:"max_input" validate:"min=1024"`
}

// OutboundConfig paces the cross-posting client.
type OutboundConfig struct {
	RequestsPerSecond float64       `koanf:"requests_per_second" validate:"gt=0"`
	Burst             int           `koanf:"burst" validate:"min=1"`
	Timeout           time.Duration `koanf:"timeout" validate:"min=1s"`
}

// LoggingConfig selects the log level and format.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// defaultConfig holds the built-in defaults, overridden by file and env.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        8944,
			Timeout:     30 * time.Second,
			Environment: "development",
			SiteURL:     "http://localhost:8944",
			CORSOrigins: []string{"*"},
		},
		Content: ContentConfig{
			Dir:         "/data/content",
			Timezone:    "UTC",
			MaxPostSize: 10 << 20,
		},
		Database: DatabaseConfig{
			Path: "/data/agblogger.db",
		},
		Security: SecurityConfig{
			RegistrationOpen: false,
			LoginRateLimit:   5,
		},
		Render: RenderConfig{
			BinPath:  "agblogger-md",
			PoolSize: 4,
			Timeout:  10 * time.Second,
			MaxInput: 10 << 20,
		},
		Outbound: OutboundConfig{
			RequestsPerSecond: 2,
			Burst:             4,
			Timeout:           30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file, and
// environment variables, then validates it.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}
	if err := splitSliceFields(k); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// IsProduction reports whether production checks apply.
func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}

// Validate enforces field constraints plus the production hardening rules:
// a real secret and an explicit trusted host list are mandatory outside
// development.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			f := verrs[0]
			return fmt.Errorf("configuration: field %s failed %q", f.Namespace(), f.Tag())
		}
		return fmt.Errorf("configuration: %w", err)
	}

	if c.Render.BinPath == "" && c.Render.EngineURL == "" {
		return errors.New("configuration: one of render.bin_path or render.engine_url is required")
	}

	if c.IsProduction() {
		if len(c.Security.SecretKey) < 32 {
			return errors.New("configuration: SECRET_KEY of at least 32 bytes is required in production")
		}
		if len(c.Server.TrustedHosts) == 0 {
			return errors.New("configuration: TRUSTED_HOSTS is required in production")
		}
		for _, origin := range c.Server.CORSOrigins {
			if origin == "*" {
				return errors.New("configuration: wildcard CORS origin is not allowed in production")
			}
		}
	} else if c.Security.SecretKey == "" {
		return errors.New("configuration: SECRET_KEY is required")
	}
	return nil
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// envMappings names every environment variable the server reads. Unmapped
// variables are ignored so ambient shell state cannot leak into config.
var envMappings = map[string]string{
	"http_host":     "server.host",
	"http_port":     "server.port",
	"http_timeout":  "server.timeout",
	"environment":   "server.environment",
	"site_url":      "server.site_url",
	"trusted_hosts": "server.trusted_hosts",
	"cors_origins":  "server.cors_origins",

	"content_dir":      "content.dir",
	"content_timezone": "content.timezone",
	"max_post_size":    "content.max_post_size",

	"database_url": "database.path",

	"secret_key":        "security.secret_key",
	"admin_username":    "security.admin_username",
	"admin_password":    "security.admin_password",
	"registration_open": "security.registration_open",
	"login_rate_limit":  "security.login_rate_limit",

	"renderer_bin":       "render.bin_path",
	"renderer_url":       "render.engine_url",
	"renderer_pool_size": "render.pool_size",
	"renderer_timeout":   "render.timeout",
	"renderer_max_input": "render.max_input",

	"outbound_rps":     "outbound.requests_per_second",
	"outbound_burst":   "outbound.burst",
	"outbound_timeout": "outbound.timeout",

	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",
}

func envTransform(key string) string {
	if mapped, ok := envMappings[strings.ToLower(key)]; ok {
		return mapped
	}
	return ""
}

// sliceConfigPaths are read from env as comma-separated strings.
var sliceConfigPaths = []string{
	"server.trusted_hosts",
	"server.cors_origins",
}

func splitSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		s, ok := val.(string)
		if !ok || s == "" {
			continue
		}
		parts := strings.Split(s, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if err := k.Set(path, trimmed); err != nil {
			return fmt.Errorf("set %s: %w", path, err)
		}
	}
	return nil
}
