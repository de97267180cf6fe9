// Package config loads sqlpagego's configuration from a JSON file in the
// configuration directory, layered under SQLPAGE_-prefixed environment
// variables, following the same two-layer precedence app_config.rs uses.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full set of tunables sqlpagego reads at startup. JSON/YAML
// tags match the on-disk sqlpage.json/sqlpage.yaml keys; env overrides use
// the same name upper-cased with an SQLPAGE_ prefix.
type Config struct {
	DatabaseURL                          string        `json:"database_url" yaml:"database_url"`
	DatabaseConnectionRetries            int           `json:"database_connection_retries" yaml:"database_connection_retries"`
	DatabaseConnectionAcquireTimeout     time.Duration `json:"-" yaml:"-"`
	DatabaseConnectionAcquireTimeoutSecs float64       `json:"database_connection_acquire_timeout_seconds" yaml:"database_connection_acquire_timeout_seconds"`
	DatabaseConnectionIdleTimeoutSecs    float64       `json:"database_connection_idle_timeout_seconds" yaml:"database_connection_idle_timeout_seconds"`
	DatabaseConnectionMaxLifetimeSecs    float64       `json:"database_connection_max_lifetime_seconds" yaml:"database_connection_max_lifetime_seconds"`
	MaxUploadedFileSize                  int64         `json:"max_uploaded_file_size" yaml:"max_uploaded_file_size"`
	WebRoot                              string        `json:"web_root" yaml:"web_root"`
	ConfigurationDirectory               string        `json:"-" yaml:"-"`
	Port                                 int           `json:"port" yaml:"port"`
	ListenOn                             string        `json:"listen_on" yaml:"listen_on"`
	AllowExec                            bool          `json:"allow_exec" yaml:"allow_exec"`
	Environment                          string        `json:"environment" yaml:"environment"` // "development" or "production"
}

const (
	defaultConfigurationDirectory = "sqlpage"
	configFileName                = "sqlpage.json"
	configFileNameYAML            = "sqlpage.yaml"
	configFileNameYML             = "sqlpage.yml"
	// OnConnectFile is the SQL script replayed on every new pooled
	// connection, read relative to ConfigurationDirectory.
	OnConnectFile = "on_connect.sql"
	// MigrationsDir holds ordered NN_*.sql migration files.
	MigrationsDir = "migrations"
)

func defaults() Config {
	return Config{
		DatabaseConnectionRetries:            6,
		DatabaseConnectionAcquireTimeoutSecs: 10,
		DatabaseConnectionIdleTimeoutSecs:    30 * 60,
		DatabaseConnectionMaxLifetimeSecs:    60 * 60,
		MaxUploadedFileSize:                  5 * 1024 * 1024,
		WebRoot:                              ".",
		Port:                                 8080,
		Environment:                          "development",
	}
}

// ConfigurationDirectory resolves the directory sqlpage.json, on_connect.sql,
// and migrations/ are read from: SQLPAGE_CONFIGURATION_DIRECTORY, then
// CONFIGURATION_DIRECTORY, then "sqlpage".
func ConfigurationDirectory() string {
	if v := os.Getenv("SQLPAGE_CONFIGURATION_DIRECTORY"); v != "" {
		return v
	}
	if v := os.Getenv("CONFIGURATION_DIRECTORY"); v != "" {
		return v
	}
	return defaultConfigurationDirectory
}

// Load reads sqlpage.json from dir if present, then applies SQLPAGE_-prefixed
// environment overrides on top, following app_config.rs's layering.
func Load(dir string) (*Config, error) {
	cfg := defaults()
	cfg.ConfigurationDirectory = dir

	path := filepath.Join(dir, configFileName)
	if data, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	} else if err := loadYAML(dir, &cfg); err != nil {
		return nil, err
	}

	applyEnvOverrides(&cfg)

	if cfg.DatabaseURL == "" {
		url, err := defaultDatabaseURL(dir)
		if err != nil {
			return nil, err
		}
		cfg.DatabaseURL = url
	}
	cfg.DatabaseConnectionAcquireTimeout = time.Duration(cfg.DatabaseConnectionAcquireTimeoutSecs * float64(time.Second))
	return &cfg, nil
}

// loadYAML reads sqlpage.yaml or sqlpage.yml from dir if sqlpage.json was
// not found, so deployments that prefer YAML configuration (as several of
// the example control-plane services in the ecosystem do) don't need a
// JSON file at all.
func loadYAML(dir string, cfg *Config) error {
	for _, name := range [...]string{configFileNameYAML, configFileNameYML} {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return fmt.Errorf("config: reading %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("config: parsing %s: %w", path, err)
		}
		return nil
	}
	return nil
}

// applyEnvOverrides mutates cfg in place from SQLPAGE_<FIELD> environment
// variables, mirroring the JSON field names.
func applyEnvOverrides(cfg *Config) {
	str := func(env string, dst *string) {
		if v, ok := os.LookupEnv(env); ok {
			*dst = v
		}
	}
	num := func(env string, dst *int) {
		if v, ok := os.LookupEnv(env); ok {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	num64 := func(env string, dst *int64) {
		if v, ok := os.LookupEnv(env); ok {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				*dst = n
			}
		}
	}
	flt := func(env string, dst *float64) {
		if v, ok := os.LookupEnv(env); ok {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				*dst = f
			}
		}
	}
	boolean := func(env string, dst *bool) {
		if v, ok := os.LookupEnv(env); ok {
			*dst = v == "1" || strings.EqualFold(v, "true")
		}
	}

	str("SQLPAGE_DATABASE_URL", &cfg.DatabaseURL)
	num("SQLPAGE_DATABASE_CONNECTION_RETRIES", &cfg.DatabaseConnectionRetries)
	flt("SQLPAGE_DATABASE_CONNECTION_ACQUIRE_TIMEOUT_SECONDS", &cfg.DatabaseConnectionAcquireTimeoutSecs)
	flt("SQLPAGE_DATABASE_CONNECTION_IDLE_TIMEOUT_SECONDS", &cfg.DatabaseConnectionIdleTimeoutSecs)
	flt("SQLPAGE_DATABASE_CONNECTION_MAX_LIFETIME_SECONDS", &cfg.DatabaseConnectionMaxLifetimeSecs)
	num64("SQLPAGE_MAX_UPLOADED_FILE_SIZE", &cfg.MaxUploadedFileSize)
	str("SQLPAGE_WEB_ROOT", &cfg.WebRoot)
	num("SQLPAGE_PORT", &cfg.Port)
	str("SQLPAGE_LISTEN_ON", &cfg.ListenOn)
	boolean("SQLPAGE_ALLOW_EXEC", &cfg.AllowExec)
	str("SQLPAGE_ENVIRONMENT", &cfg.Environment)

	if v, ok := os.LookupEnv("LISTEN_ON"); ok && cfg.ListenOn == "" {
		cfg.ListenOn = v
	}
	if v, ok := os.LookupEnv("PORT"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Port = n
		}
	}
}

// defaultDatabaseURL mirrors app_config.rs's default_database_url: prefer an
// existing or creatable sqlpage.db file under dir, otherwise fall back to an
// in-memory SQLite database.
func defaultDatabaseURL(dir string) (string, error) {
	path := filepath.Join(dir, "sqlpage.db")
	if _, err := os.Stat(path); err == nil {
		return "sqlite:" + path, nil
	}
	if f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644); err == nil {
		f.Close()
		return "sqlite:" + path, nil
	}
	return "sqlite::memory:", nil
}

// IsProduction reports whether error responses should omit backtraces and
// internal detail.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}
