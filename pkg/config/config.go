package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/ethpandaops/scopeoor/pkg/listener"
)

const (
	// EnvPrefix prefixes every environment override, e.g.
	// SCOPEOOR_DATABASE_URL or SCOPEOOR_GLOBAL_LOG_LEVEL.
	EnvPrefix = "SCOPEOOR"

	// DefaultLogLevel is the default logging level.
	DefaultLogLevel = "info"

	// DefaultDatabaseURL is the default results store.
	DefaultDatabaseURL = "sqlite://results.db"

	// DefaultRunName is the name given to runs when none is configured.
	DefaultRunName = "Scopeoor Test"

	// DefaultListen is the default API listen address.
	DefaultListen = ":8080"

	// DefaultRequestsPerMinute is the default per-IP API rate limit.
	DefaultRequestsPerMinute = 120

	// DefaultExportFormat is the default report document format.
	DefaultExportFormat = "json"

	// DefaultExportConcurrency bounds parallel report uploads.
	DefaultExportConcurrency = 4

	// DefaultExportDir is the default local export directory.
	DefaultExportDir = "./reports"

	// DefaultS3Prefix is the default key prefix of exported reports.
	DefaultS3Prefix = "scopeoor/runs"
)

// Config is the root configuration for scopeoor.
type Config struct {
	Global   GlobalConfig   `yaml:"global" mapstructure:"global"`
	Database DatabaseConfig `yaml:"database" mapstructure:"database"`
	Run      RunConfig      `yaml:"run" mapstructure:"run"`
	API      APIConfig      `yaml:"api" mapstructure:"api"`
	Export   ExportConfig   `yaml:"export" mapstructure:"export"`
}

// GlobalConfig contains global application settings.
type GlobalConfig struct {
	LogLevel string `yaml:"log_level" mapstructure:"log_level"`
}

// DatabaseConfig addresses the results store.
type DatabaseConfig struct {
	// URL has the form <driver>://<path-or-dsn>, with driver sqlite or
	// postgres.
	URL string `yaml:"url" mapstructure:"url"`
}

// RunConfig names the runs started by ingest.
type RunConfig struct {
	Name string `yaml:"name" mapstructure:"name"`
	// Meta has the form "key1=value1,key2=value2".
	Meta string `yaml:"meta,omitempty" mapstructure:"meta"`
}

// defaults are registered with viper so every key can be overridden from
// the environment even when the config file omits it.
var defaults = map[string]any{
	"global.log_level":              DefaultLogLevel,
	"database.url":                  DefaultDatabaseURL,
	"run.name":                      DefaultRunName,
	"run.meta":                      "",
	"api.server.listen":             DefaultListen,
	"api.server.cors_origins":       []string{},
	"api.server.rate_limit.enabled": false,
	"api.server.rate_limit.requests_per_minute": DefaultRequestsPerMinute,
	"export.format":               DefaultExportFormat,
	"export.concurrency":          DefaultExportConcurrency,
	"export.local.enabled":        false,
	"export.local.dir":            DefaultExportDir,
	"export.local.owner":          "",
	"export.s3.enabled":           false,
	"export.s3.endpoint_url":      "",
	"export.s3.region":            "",
	"export.s3.bucket":            "",
	"export.s3.prefix":            DefaultS3Prefix,
	"export.s3.access_key_id":     "",
	"export.s3.secret_access_key": "",
	"export.s3.force_path_style":  false,
	"export.s3.storage_class":     "",
	"export.s3.acl":               "",
}

// Load reads configuration from path, which may be empty, and applies
// SCOPEOOR_* environment overrides on top of the file and the defaults.
func Load(path string) (*Config, error) {
	v := viper.New()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")

		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

// applyDefaults fills values that were explicitly set empty.
func (c *Config) applyDefaults() {
	if c.Global.LogLevel == "" {
		c.Global.LogLevel = DefaultLogLevel
	}

	if c.Database.URL == "" {
		c.Database.URL = DefaultDatabaseURL
	}

	if c.Run.Name == "" {
		c.Run.Name = DefaultRunName
	}

	if c.API.Server.Listen == "" {
		c.API.Server.Listen = DefaultListen
	}

	if c.API.Server.RateLimit.RequestsPerMinute <= 0 {
		c.API.Server.RateLimit.RequestsPerMinute = DefaultRequestsPerMinute
	}

	if c.Export.Format == "" {
		c.Export.Format = DefaultExportFormat
	}

	if c.Export.Concurrency <= 0 {
		c.Export.Concurrency = DefaultExportConcurrency
	}

	if c.Export.Local.Dir == "" {
		c.Export.Local.Dir = DefaultExportDir
	}

	if c.Export.S3.Prefix == "" {
		c.Export.S3.Prefix = DefaultS3Prefix
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if _, err := logrus.ParseLevel(c.Global.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("global.log_level: %w", err))
	}

	if !strings.Contains(c.Database.URL, "://") {
		errs = append(errs, fmt.Errorf(
			"database.url %q: expected <driver>://<path-or-dsn>", c.Database.URL))
	}

	if _, err := listener.ParseMeta(c.Run.Meta); err != nil {
		errs = append(errs, fmt.Errorf("run.meta: %w", err))
	}

	if err := c.Export.Validate(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// ListenerConfig returns the settings of the run a listener starts.
func (c *Config) ListenerConfig() listener.Config {
	return listener.Config{
		DatabaseURL: c.Database.URL,
		RunName:     c.Run.Name,
		RunMeta:     c.Run.Meta,
	}
}
