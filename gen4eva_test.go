package gen4eva

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestStart_RequiresURL(t *testing.T) {
	a := New(DefaultConfig(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err := a.Start(t.Context()); !errors.Is(err, ErrNoURL) {
		t.Fatalf("Start: got %v, want ErrNoURL", err)
	}
	if a.Control() != nil || a.Engine() != nil {
		t.Error("components built despite failed Start")
	}
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gen4eva.yaml")
	src := "page:\n  url: https://host.test/image\nbrowser:\n  mode: headless\n"
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfigFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Page.URL != "https://host.test/image" || cfg.Browser.Mode != "headless" {
		t.Errorf("config: %+v", cfg)
	}
	a := New(cfg, nil)
	if a.logger == nil || a.mgr == nil || a.loop == nil {
		t.Error("agent not wired")
	}
}
