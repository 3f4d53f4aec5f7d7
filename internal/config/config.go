// Package config loads the extreload configuration from extreload.yaml,
// EXTRELOAD_* environment variables and command-line flags.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/goatkit/extreload/internal/reloader"
	"github.com/goatkit/extreload/internal/reloader/push"
	"github.com/goatkit/extreload/internal/reloader/push/firebase"
)

// FileName is the default configuration file.
const FileName = "extreload.yaml"

// EnvPrefix prefixes every environment override, e.g. EXTRELOAD_PUSH_API_KEY.
const EnvPrefix = "EXTRELOAD"

// Reloader kinds.
const (
	ReloaderSimple = "simple"
	ReloaderPush   = "push"
	ReloaderNone   = "none"
)

// RegisterPath is the cloud function the push background client registers
// its subscription with.
const RegisterPath = "/registerToken"

// Config is the complete tool configuration.
type Config struct {
	Source    string `mapstructure:"source" yaml:"source"`
	Out       string `mapstructure:"out" yaml:"out"`
	Format    string `mapstructure:"format" yaml:"format"`
	Minify    bool   `mapstructure:"minify" yaml:"minify"`
	Sourcemap bool   `mapstructure:"sourcemap" yaml:"sourcemap"`
	Watch     bool   `mapstructure:"watch" yaml:"watch"`
	Reloader  string `mapstructure:"reloader" yaml:"reloader"`
	LogLevel  string `mapstructure:"log_level" yaml:"log_level"`

	Push    PushConfig    `mapstructure:"push" yaml:"push"`
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
	Package PackageConfig `mapstructure:"package" yaml:"package"`
}

// PushConfig configures the push reloader and its remote service.
type PushConfig struct {
	APIKey       string        `mapstructure:"api_key" yaml:"api_key"`
	IdentityURL  string        `mapstructure:"identity_url" yaml:"identity_url"`
	TokenURL     string        `mapstructure:"token_url" yaml:"token_url"`
	FunctionsURL string        `mapstructure:"functions_url" yaml:"functions_url"`
	// RegisterURL defaults to FunctionsURL + RegisterPath.
	RegisterURL  string        `mapstructure:"register_url" yaml:"register_url"`
	Interval     time.Duration `mapstructure:"interval" yaml:"interval"`
	Retries      uint64        `mapstructure:"retries" yaml:"retries"`
	RetryWait    time.Duration `mapstructure:"retry_wait" yaml:"retry_wait"`
}

// MetricsConfig configures the Prometheus endpoint served in watch mode.
type MetricsConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// PackageConfig configures the package command.
type PackageConfig struct {
	Output  string `mapstructure:"output" yaml:"output"`
	Strict  bool   `mapstructure:"strict" yaml:"strict"`
	SignKey string `mapstructure:"sign_key" yaml:"sign_key"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	fb := firebase.DefaultConfig()
	return Config{
		Source:   "src",
		Out:      "dist",
		Format:   "iife",
		Watch:    reloader.WatchFromEnv(),
		Reloader: ReloaderSimple,
		LogLevel: "info",
		Push: PushConfig{
			IdentityURL:  fb.IdentityURL,
			TokenURL:     fb.TokenURL,
			FunctionsURL: fb.FunctionsURL,
			RegisterURL:  fb.FunctionsURL + RegisterPath,
			Interval:     push.DefaultInterval,
			RetryWait:    fb.RetryWait,
		},
		Package: PackageConfig{
			Output: "extension.zip",
		},
	}
}

// SetDefaults registers every default with v.
func SetDefaults(v *viper.Viper) {
	d := Defaults()
	v.SetDefault("source", d.Source)
	v.SetDefault("out", d.Out)
	v.SetDefault("format", d.Format)
	v.SetDefault("minify", d.Minify)
	v.SetDefault("sourcemap", d.Sourcemap)
	v.SetDefault("watch", d.Watch)
	v.SetDefault("reloader", d.Reloader)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("push.api_key", d.Push.APIKey)
	v.SetDefault("push.identity_url", d.Push.IdentityURL)
	v.SetDefault("push.token_url", d.Push.TokenURL)
	v.SetDefault("push.functions_url", d.Push.FunctionsURL)
	// left empty so Load derives it from the configured functions_url
	v.SetDefault("push.register_url", "")
	v.SetDefault("push.interval", d.Push.Interval)
	v.SetDefault("push.retries", d.Push.Retries)
	v.SetDefault("push.retry_wait", d.Push.RetryWait)
	v.SetDefault("metrics.addr", d.Metrics.Addr)
	v.SetDefault("package.output", d.Package.Output)
	v.SetDefault("package.strict", d.Package.Strict)
	v.SetDefault("package.sign_key", d.Package.SignKey)
}

// Load reads the configuration into a Config. An explicit path must exist;
// without one, extreload.yaml in the working directory is used when present.
func Load(v *viper.Viper, path string) (*Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(strings.TrimSuffix(FileName, ".yaml"))
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if cfg.Push.RegisterURL == "" {
		cfg.Push.RegisterURL = strings.TrimRight(cfg.Push.FunctionsURL, "/") + RegisterPath
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values viper cannot type-check.
func (c *Config) Validate() error {
	var errs []error
	switch c.Reloader {
	case ReloaderSimple, ReloaderPush, ReloaderNone:
	default:
		errs = append(errs, fmt.Errorf("reloader: unknown kind %q (simple, push or none)", c.Reloader))
	}
	switch c.Format {
	case "iife", "esm":
	default:
		errs = append(errs, fmt.Errorf("format: unknown format %q (iife or esm)", c.Format))
	}
	if c.Source == "" || c.Out == "" {
		errs = append(errs, errors.New("source and out are required"))
	}
	if c.Push.Interval <= 0 {
		errs = append(errs, errors.New("push.interval must be positive"))
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// SlogLevel returns the configured log level.
func (c *Config) SlogLevel() slog.Level {
	level, _ := parseLevel(c.LogLevel)
	return level
}

// Firebase returns the remote service client configuration.
func (c *Config) Firebase(logger *slog.Logger) firebase.Config {
	return firebase.Config{
		APIKey:       c.Push.APIKey,
		IdentityURL:  c.Push.IdentityURL,
		TokenURL:     c.Push.TokenURL,
		FunctionsURL: c.Push.FunctionsURL,
		Retries:      c.Push.Retries,
		RetryWait:    c.Push.RetryWait,
		Logger:       logger,
	}
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log_level: %w", err)
	}
	return level, nil
}

// WriteDefault writes the default configuration as YAML to path. An
// existing file is only replaced when overwrite is set.
func WriteDefault(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists", path)
		}
	}

	d := Defaults()
	d.Watch = false
	d.Push.RegisterURL = ""

	var doc yaml.Node
	if err := doc.Encode(d); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	// yaml.v3 writes durations as nanoseconds
	setScalar(&doc, d.Push.Interval.String(), "push", "interval")
	setScalar(&doc, d.Push.RetryWait.String(), "push", "retry_wait")

	data, err := yaml.Marshal(&doc)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	header := "# extreload configuration. Every key can be overridden with an\n" +
		"# " + EnvPrefix + "_ environment variable, e.g. " + EnvPrefix + "_PUSH_API_KEY.\n"
	return os.WriteFile(path, append([]byte(header), data...), 0644)
}

func setScalar(n *yaml.Node, value string, path ...string) {
	for _, key := range path {
		if n.Kind != yaml.MappingNode {
			return
		}
		var next *yaml.Node
		for i := 0; i+1 < len(n.Content); i += 2 {
			if n.Content[i].Value == key {
				next = n.Content[i+1]
				break
			}
		}
		if next == nil {
			return
		}
		n = next
	}
	n.Kind = yaml.ScalarNode
	n.Tag = "!!str"
	n.Value = value
}
