package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/raysh454/scanflow/internal/webclient"
)

// DefaultConfig returns a Config with development defaults.
func DefaultConfig() *Config {
	return &Config{
		BackendURL:      "http://localhost:8000/api",
		Locale:          "en",
		AIMode:          "standard",
		LogLevel:        "info",
		HTTPTimeout:     30 * time.Second,
		WebClient:       string(webclient.ClientNetHTTP),
		DebounceWindow:  500 * time.Millisecond,
		PollInterval:    2 * time.Second,
		PollMaxInterval: 10 * time.Second,
		AccessCacheTTL:  time.Minute,
		HistoryDB:       "scanflow.db",
		ListenAddr:      ":8080",
	}
}

// WriteDefault writes the default configuration to path. It refuses to
// overwrite an existing file unless force is set.
func WriteDefault(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file %s already exists", path)
		}
	}

	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return fmt.Errorf("failed to marshal default config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
