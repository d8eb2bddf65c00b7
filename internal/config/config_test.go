package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse(nil)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Mode != ModeQueue {
		t.Fatalf("want default mode queue, got %q", cfg.Mode)
	}
	if cfg.Port != 8765 {
		t.Fatalf("want default port 8765, got %d", cfg.Port)
	}
	if cfg.MaxSize != 100 {
		t.Fatalf("want default maxsize 100, got %d", cfg.MaxSize)
	}
}

func TestParseFlagsOverrideDefaults(t *testing.T) {
	cfg, err := Parse([]string{"-mode=naive", "-port=9000", "-rate=250"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Mode != ModeNaive {
		t.Fatalf("want mode naive, got %q", cfg.Mode)
	}
	if cfg.Port != 9000 {
		t.Fatalf("want port 9000, got %d", cfg.Port)
	}
	if cfg.Rate != 250 {
		t.Fatalf("want rate 250, got %v", cfg.Rate)
	}
}

func TestParseFlagsOverrideConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wsfanoutd.yaml")
	yaml := "mode: naive\nport: 7000\nmaxsize: 500\n"
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	cfg, err := Parse([]string{"-config=" + path, "-port=9999"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Mode != ModeNaive {
		t.Fatalf("want mode naive from config file, got %q", cfg.Mode)
	}
	if cfg.MaxSize != 500 {
		t.Fatalf("want maxsize 500 from config file, got %d", cfg.MaxSize)
	}
	if cfg.Port != 9999 {
		t.Fatalf("want port overridden by flag to 9999, got %d", cfg.Port)
	}
}

func TestParseRejectsInvalidMode(t *testing.T) {
	if _, err := Parse([]string{"-mode=bogus"}); err == nil {
		t.Fatal("want error for invalid mode")
	}
}

func TestParseRejectsNonPositiveMaxSize(t *testing.T) {
	if _, err := Parse([]string{"-maxsize=0"}); err == nil {
		t.Fatal("want error for maxsize <= 0")
	}
}

func TestParseRejectsMalformedFlags(t *testing.T) {
	if _, err := Parse([]string{"-port=not-a-number"}); err == nil {
		t.Fatal("want error for malformed flag value")
	}
}
