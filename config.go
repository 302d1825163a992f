package gen4eva

import (
	"github.com/hazyhaar/gen4eva/internal/config"
)

// Config is the top-level gen4eva configuration. Re-exported from internal.
type Config = config.Config

// BrowserConfig controls how Chrome is obtained.
type BrowserConfig = config.BrowserConfig

// PageConfig names the host page.
type PageConfig = config.PageConfig

// LoadConfigFile reads a YAML configuration file.
func LoadConfigFile(path string) (*Config, error) {
	return config.LoadFile(path)
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	return config.Default()
}
