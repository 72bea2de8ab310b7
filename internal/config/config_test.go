package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	wd, _ := os.Getwd()
	if cfg.ProjectRoot != wd {
		t.Errorf("ProjectRoot = %q, want %q", cfg.ProjectRoot, wd)
	}
	if cfg.Log.Level != "INFO" || cfg.Log.Format != "text" {
		t.Errorf("Log = %+v", cfg.Log)
	}
	if cfg.Server.Addr != ":8080" {
		t.Errorf("Server.Addr = %q", cfg.Server.Addr)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	file := filepath.Join(t.TempDir(), "xquery.yaml")
	content := "project_root: /srv/from-file\nlog:\n  level: WARN\n  format: json\nserver:\n  addr: \":7000\"\n"
	if err := os.WriteFile(file, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(file)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ProjectRoot != "/srv/from-file" || cfg.Log.Level != "WARN" || cfg.Log.Format != "json" || cfg.Server.Addr != ":7000" {
		t.Errorf("file values not applied: %+v", cfg)
	}

	t.Setenv("XQUERY_PROJECT_ROOT", "/srv/from-env")
	t.Setenv("XQUERY_LOG_LEVEL", "DEBUG")
	t.Setenv("XQUERY_SERVER_ADDR", ":9090")
	cfg, err = Load(file)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ProjectRoot != "/srv/from-env" || cfg.Log.Level != "DEBUG" || cfg.Server.Addr != ":9090" {
		t.Errorf("environment did not override file: %+v", cfg)
	}
	if cfg.Log.Format != "json" {
		t.Errorf("Log.Format = %q, want json from file", cfg.Log.Format)
	}
}

func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("missing config file should be tolerated: %v", err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Errorf("Server.Addr = %q", cfg.Server.Addr)
	}
}

func TestLoadInvalidFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(file, []byte("log: [\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(file); err == nil {
		t.Error("invalid config file accepted")
	}
}
