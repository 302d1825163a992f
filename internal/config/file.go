// Package config handles gen4eva configuration from YAML files.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/gen4eva/forever"
)

// Config is the top-level gen4eva configuration.
type Config struct {
	Browser    BrowserConfig     `yaml:"browser"`
	Page       PageConfig        `yaml:"page"`
	Selectors  forever.Selectors `yaml:"selectors"`
	Timing     forever.Timing    `yaml:"timing"`
	Automation AutomationConfig  `yaml:"automation"`
	Toggle     ToggleConfig      `yaml:"toggle"`
	Control    ControlConfig     `yaml:"control"`
	Journal    JournalConfig     `yaml:"journal"`
}

// BrowserConfig controls how Chrome is obtained.
type BrowserConfig struct {
	// Remote is the DevTools WebSocket URL of an already running, logged-in
	// Chrome. Empty launches a local one.
	Remote           string   `yaml:"remote"`
	Mode             string   `yaml:"mode"` // headful | headless
	UserDataDir      string   `yaml:"user_data_dir"`
	DisableStealth   bool     `yaml:"disable_stealth"`
	ResourceBlocking []string `yaml:"resource_blocking"`
}

// PageConfig names the host page to drive. URL has no default.
type PageConfig struct {
	URL             string        `yaml:"url"`
	NavigateTimeout time.Duration `yaml:"navigate_timeout"`
}

// AutomationConfig holds the loop's runtime switches.
type AutomationConfig struct {
	AutoSave bool   `yaml:"auto_save"`
	Signal   string `yaml:"signal"`
}

// ToggleConfig styles the two injected toggles.
type ToggleConfig struct {
	Forever  forever.Appearance `yaml:"forever"`
	AutoSave forever.Appearance `yaml:"auto_save"`
}

// ControlConfig configures the HTTP control surface.
type ControlConfig struct {
	HTTPAddr string `yaml:"http_addr"` // empty disables HTTP
}

// JournalConfig configures the activity journal.
type JournalConfig struct {
	Path   string `yaml:"path"` // empty disables the journal
	Buffer int    `yaml:"buffer"`
}

// LoadFile reads a YAML configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes YAML configuration and applies defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func (c *Config) applyDefaults() {
	d := forever.DefaultOptions()

	if c.Browser.Mode == "" {
		c.Browser.Mode = "headful"
	}
	if c.Page.NavigateTimeout <= 0 {
		c.Page.NavigateTimeout = 30 * time.Second
	}

	s := &c.Selectors
	if s.RootClass == "" {
		s.RootClass = d.Selectors.RootClass
	}
	if s.NotificationClass == "" {
		s.NotificationClass = d.Selectors.NotificationClass
	}
	if s.NotificationContainerClass == "" {
		s.NotificationContainerClass = d.Selectors.NotificationContainerClass
	}
	if len(s.GenerateLabels) == 0 {
		s.GenerateLabels = d.Selectors.GenerateLabels
	}
	if s.ButtonTag == "" {
		s.ButtonTag = d.Selectors.ButtonTag
	}
	if s.SourceAttribute == "" {
		s.SourceAttribute = d.Selectors.SourceAttribute
	}

	t := &c.Timing
	if t.BootstrapInterval <= 0 {
		t.BootstrapInterval = d.Timing.BootstrapInterval
	}
	if t.HealthInterval <= 0 {
		t.HealthInterval = d.Timing.HealthInterval
	}
	if t.ArtifactWindow <= 0 {
		t.ArtifactWindow = d.Timing.ArtifactWindow
	}
	if t.NotificationWindow <= 0 {
		t.NotificationWindow = d.Timing.NotificationWindow
	}
	if t.GenerateDelay == (forever.DelayRange{}) {
		t.GenerateDelay = d.Timing.GenerateDelay
	}
	if t.RecoveryDelay == (forever.DelayRange{}) {
		t.RecoveryDelay = d.Timing.RecoveryDelay
	}

	if c.Automation.Signal == "" {
		c.Automation.Signal = d.Signal
	}
	if c.Toggle.Forever == (forever.Appearance{}) {
		c.Toggle.Forever = d.Forever
	}
	if c.Toggle.AutoSave == (forever.Appearance{}) {
		c.Toggle.AutoSave = d.AutoSave
	}
	if c.Journal.Buffer <= 0 {
		c.Journal.Buffer = 256
	}
}

func (c *Config) validate() error {
	switch c.Browser.Mode {
	case "headful", "headless":
	default:
		return fmt.Errorf("config: browser.mode %q: want headful or headless", c.Browser.Mode)
	}
	for name, r := range map[string]forever.DelayRange{
		"timing.generate_delay": c.Timing.GenerateDelay,
		"timing.recovery_delay": c.Timing.RecoveryDelay,
	} {
		if r.Min < 0 || r.Max < r.Min {
			return fmt.Errorf("config: %s: invalid range [%s, %s)", name, r.Min, r.Max)
		}
	}
	if c.Automation.AutoSave && c.Selectors.SaveClass == "" {
		return fmt.Errorf("config: automation.auto_save requires selectors.save_class")
	}
	return nil
}

// Options converts the configuration into engine options.
func (c *Config) Options() forever.Options {
	return forever.Options{
		Selectors:       c.Selectors,
		Timing:          c.Timing,
		Forever:         c.Toggle.Forever,
		AutoSave:        c.Toggle.AutoSave,
		AutoSaveEnabled: c.Automation.AutoSave,
		Signal:          c.Automation.Signal,
	}
}
