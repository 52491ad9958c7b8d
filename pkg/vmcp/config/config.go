// Package config loads process-wide configuration from a YAML file and
// environment variables (spec §6's "Environment configuration"), using
// viper the way the rest of the ambient stack is wired.
package config

import (
	"time"

	"github.com/spf13/viper"

	"github.com/oss-vmcp/vmcp/pkg/vmcperrors"
)

// Config is the process-wide configuration surface.
type Config struct {
	LogLevel    string `mapstructure:"log_level"`
	DatabaseURL string `mapstructure:"database_url"`
	DataDir     string `mapstructure:"data_dir"`
	Port        int    `mapstructure:"port"`

	MaxConcurrentScripts    int `mapstructure:"max_concurrent_scripts"`
	MaxUpstreamConcurrency  int `mapstructure:"max_upstream_concurrency"`
	DefaultRequestDeadlineMS int `mapstructure:"default_request_deadline_ms"`
	TemplateMaxDepth        int `mapstructure:"template_max_depth"`
}

// RequestDeadline returns DefaultRequestDeadlineMS as a time.Duration.
func (c Config) RequestDeadline() time.Duration {
	return time.Duration(c.DefaultRequestDeadlineMS) * time.Millisecond
}

// defaults mirror spec §5/§6's documented defaults.
func defaults() Config {
	return Config{
		LogLevel:                 "info",
		DataDir:                  "./data",
		Port:                     8080,
		MaxConcurrentScripts:     8,
		MaxUpstreamConcurrency:   16,
		DefaultRequestDeadlineMS: 120_000,
		TemplateMaxDepth:         8,
	}
}

// Load reads configuration from an optional YAML file at path (skipped
// silently if empty or missing) and overlays environment variables named
// exactly as in spec §6 (LOG_LEVEL, DATABASE_URL, DATA_DIR, PORT,
// MAX_CONCURRENT_SCRIPTS, MAX_UPSTREAM_CONCURRENCY,
// DEFAULT_REQUEST_DEADLINE_MS, TEMPLATE_MAX_DEPTH).
func Load(path string) (Config, error) {
	v := viper.New()
	def := defaults()
	v.SetDefault("log_level", def.LogLevel)
	v.SetDefault("data_dir", def.DataDir)
	v.SetDefault("port", def.Port)
	v.SetDefault("max_concurrent_scripts", def.MaxConcurrentScripts)
	v.SetDefault("max_upstream_concurrency", def.MaxUpstreamConcurrency)
	v.SetDefault("default_request_deadline_ms", def.DefaultRequestDeadlineMS)
	v.SetDefault("template_max_depth", def.TemplateMaxDepth)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, vmcperrors.Newf(vmcperrors.Internal, err, "reading config file %q", path)
			}
		}
	}

	bindEnv(v, "log_level", "LOG_LEVEL")
	bindEnv(v, "database_url", "DATABASE_URL")
	bindEnv(v, "data_dir", "DATA_DIR")
	bindEnv(v, "port", "PORT")
	bindEnv(v, "max_concurrent_scripts", "MAX_CONCURRENT_SCRIPTS")
	bindEnv(v, "max_upstream_concurrency", "MAX_UPSTREAM_CONCURRENCY")
	bindEnv(v, "default_request_deadline_ms", "DEFAULT_REQUEST_DEADLINE_MS")
	bindEnv(v, "template_max_depth", "TEMPLATE_MAX_DEPTH")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, vmcperrors.Newf(vmcperrors.Internal, err, "unmarshaling configuration")
	}
	return cfg, Validate(cfg)
}

func bindEnv(v *viper.Viper, key, envName string) {
	_ = v.BindEnv(key, envName)
}
