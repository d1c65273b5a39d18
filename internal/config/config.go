// Package config loads scanflow settings from YAML, environment variables and
// built-in defaults.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/raysh454/scanflow/internal/webclient"
)

// EnvPrefix is prepended to every environment override, e.g. SCANFLOW_TOKEN.
const EnvPrefix = "SCANFLOW"

// Config is the process-wide configuration.
type Config struct {
	BackendURL string `mapstructure:"backend_url" yaml:"backend_url"`
	Token      string `mapstructure:"token" yaml:"token"`
	Locale     string `mapstructure:"locale" yaml:"locale"`
	AIMode     string `mapstructure:"ai_mode" yaml:"ai_mode"`
	LogLevel   string `mapstructure:"log_level" yaml:"log_level"`

	HTTPTimeout time.Duration `mapstructure:"http_timeout" yaml:"http_timeout"`
	WebClient   string        `mapstructure:"webclient" yaml:"webclient"`

	DebounceWindow  time.Duration `mapstructure:"debounce_window" yaml:"debounce_window"`
	PollInterval    time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	PollMaxInterval time.Duration `mapstructure:"poll_max_interval" yaml:"poll_max_interval"`
	AccessCacheTTL  time.Duration `mapstructure:"access_cache_ttl" yaml:"access_cache_ttl"`

	HistoryDB  string `mapstructure:"history_db" yaml:"history_db"`
	ListenAddr string `mapstructure:"listen_addr" yaml:"listen_addr"`
}

// Load reads configuration from path. With an empty path it looks for
// scanflow.yaml in the working directory and ~/.config/scanflow/, and falls
// back to defaults when none exists. Environment variables override the file.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("scanflow")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "scanflow"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("backend_url", d.BackendURL)
	v.SetDefault("token", d.Token)
	v.SetDefault("locale", d.Locale)
	v.SetDefault("ai_mode", d.AIMode)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("http_timeout", d.HTTPTimeout)
	v.SetDefault("webclient", d.WebClient)
	v.SetDefault("debounce_window", d.DebounceWindow)
	v.SetDefault("poll_interval", d.PollInterval)
	v.SetDefault("poll_max_interval", d.PollMaxInterval)
	v.SetDefault("access_cache_ttl", d.AccessCacheTTL)
	v.SetDefault("history_db", d.HistoryDB)
	v.SetDefault("listen_addr", d.ListenAddr)
}

// Validate checks if the configuration is usable and reports every problem
// at once.
func (c *Config) Validate() error {
	var errs []error

	if c.BackendURL == "" {
		errs = append(errs, errors.New("backend_url cannot be empty"))
	} else if u, err := url.Parse(c.BackendURL); err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		errs = append(errs, fmt.Errorf("backend_url %q must be an absolute http(s) URL", c.BackendURL))
	}

	if c.Locale == "" {
		errs = append(errs, errors.New("locale cannot be empty"))
	}

	if c.HTTPTimeout <= 0 {
		errs = append(errs, errors.New("http_timeout must be positive"))
	}

	if c.DebounceWindow < 0 {
		errs = append(errs, errors.New("debounce_window cannot be negative"))
	}

	if c.PollInterval <= 0 {
		errs = append(errs, errors.New("poll_interval must be positive"))
	}

	if c.PollMaxInterval < c.PollInterval {
		errs = append(errs, errors.New("poll_max_interval must not be below poll_interval"))
	}

	if c.AccessCacheTTL < 0 {
		errs = append(errs, errors.New("access_cache_ttl cannot be negative"))
	}

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log_level %q is not one of debug, info, warn, error", c.LogLevel))
	}

	known := false
	for _, name := range webclient.ListBackends() {
		if strings.EqualFold(name, c.WebClient) {
			known = true
			break
		}
	}
	if !known {
		errs = append(errs, fmt.Errorf("webclient %q not registered: available=%v", c.WebClient, webclient.ListBackends()))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// WebClientConfig returns the transport settings for webclient.NewWebClient.
func (c *Config) WebClientConfig() webclient.Config {
	return webclient.Config{
		Client:    webclient.Client(c.WebClient),
		Timeout:   c.HTTPTimeout,
		UserAgent: "scanflow",
	}
}
