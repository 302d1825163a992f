package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hazyhaar/gen4eva/forever"
)

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte("page:\n  url: https://example.test/image\n"))
	if err != nil {
		t.Fatal(err)
	}
	d := forever.DefaultOptions()

	if cfg.Browser.Mode != "headful" {
		t.Errorf("mode: got %q", cfg.Browser.Mode)
	}
	if cfg.Page.NavigateTimeout != 30*time.Second {
		t.Errorf("navigate timeout: got %v", cfg.Page.NavigateTimeout)
	}
	if cfg.Selectors.RootClass != d.Selectors.RootClass || cfg.Selectors.SourceAttribute != "src" {
		t.Errorf("selectors: %+v", cfg.Selectors)
	}
	if cfg.Timing != d.Timing {
		t.Errorf("timing: got %+v, want %+v", cfg.Timing, d.Timing)
	}
	if cfg.Toggle.Forever.OffLabel != "Once" || cfg.Toggle.Forever.OnLabel != "Generate Forever" {
		t.Errorf("toggle labels: %+v", cfg.Toggle.Forever)
	}
	if cfg.Automation.Signal != "gen_4eva" {
		t.Errorf("signal: got %q", cfg.Automation.Signal)
	}
	if cfg.Journal.Buffer != 256 || cfg.Journal.Path != "" {
		t.Errorf("journal: %+v", cfg.Journal)
	}
}

func TestParse_Overrides(t *testing.T) {
	src := `
browser:
  remote: ws://127.0.0.1:9222/devtools/browser/abc
  mode: headless
  resource_blocking: [fonts, media]
selectors:
  root_class: grid-v2
  save_class: save-button
  generate_labels: [Generate, Générer]
timing:
  artifact_window: 1s
  generate_delay:
    min: 2s
    max: 5s
automation:
  auto_save: true
control:
  http_addr: 127.0.0.1:8765
journal:
  path: /tmp/gen4eva.db
`
	cfg, err := Parse([]byte(src))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Browser.Mode != "headless" || len(cfg.Browser.ResourceBlocking) != 2 {
		t.Errorf("browser: %+v", cfg.Browser)
	}
	if cfg.Selectors.RootClass != "grid-v2" || cfg.Selectors.NotificationClass != "Toastify" {
		t.Errorf("selectors: %+v", cfg.Selectors)
	}
	if got := cfg.Selectors.GenerateLabels; len(got) != 2 || got[1] != "Générer" {
		t.Errorf("labels: %v", got)
	}
	if cfg.Timing.ArtifactWindow != time.Second {
		t.Errorf("artifact window: %v", cfg.Timing.ArtifactWindow)
	}
	if cfg.Timing.GenerateDelay != (forever.DelayRange{Min: 2 * time.Second, Max: 5 * time.Second}) {
		t.Errorf("generate delay: %+v", cfg.Timing.GenerateDelay)
	}
	if cfg.Timing.NotificationWindow != 600*time.Millisecond {
		t.Errorf("notification window default lost: %v", cfg.Timing.NotificationWindow)
	}

	opts := cfg.Options()
	if !opts.AutoSaveEnabled || opts.Selectors.SaveClass != "save-button" || opts.Signal != "gen_4eva" {
		t.Errorf("options: %+v", opts)
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"bad mode", "browser:\n  mode: kiosk\n", "browser.mode"},
		{"inverted range", "timing:\n  recovery_delay:\n    min: 1s\n    max: 10ms\n", "recovery_delay"},
		{"bad duration", "timing:\n  artifact_window: soon\n", "config:"},
		{"auto save without selector", "automation:\n  auto_save: true\n", "save_class"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.src))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gen4eva.yaml")
	if err := os.WriteFile(path, []byte("page:\n  url: https://example.test/\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Page.URL != "https://example.test/" {
		t.Errorf("url: %q", cfg.Page.URL)
	}

	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); !os.IsNotExist(err) {
		t.Errorf("missing file: got %v", err)
	}
}
