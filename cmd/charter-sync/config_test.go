package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "charter-sync.json")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadSettingsLayersFileEnvAndFlags(t *testing.T) {
	path := writeConfigFile(t, `{
		"db": {"dsn": "file:from-file.db"},
		"webhooks": {"path": "/hooks/avinode"},
		"retry": {"max_retries": 7}
	}`)
	t.Setenv("CHARTER_HTTP__ADDR", ":9191")

	flags := newFlagSet()
	if err := flags.Parse([]string{"--config", path, "--log.level", "debug"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	opts, raw, err := loadSettings(context.Background(), flags)
	if err != nil {
		t.Fatalf("load settings: %v", err)
	}

	if opts.DB.DSN != "file:from-file.db" {
		t.Fatalf("expected dsn from file, got %q", opts.DB.DSN)
	}
	if opts.HTTP.Addr != ":9191" {
		t.Fatalf("expected addr from env, got %q", opts.HTTP.Addr)
	}
	if opts.Log.Level != "debug" {
		t.Fatalf("expected log level from flag, got %q", opts.Log.Level)
	}
	if opts.DB.Driver != "sqlite3" || !opts.DB.Migrate || !opts.Cache.Operators {
		t.Fatalf("expected flag defaults to fill unset keys, got %+v", opts)
	}
	if opts.HTTP.ShutdownTimeout != 10*time.Second {
		t.Fatalf("expected default shutdown timeout, got %s", opts.HTTP.ShutdownTimeout)
	}

	webhooks, ok := raw["webhooks"].(map[string]any)
	if !ok || webhooks["path"] != "/hooks/avinode" {
		t.Fatalf("expected service keys to stay in the raw map, got %+v", raw["webhooks"])
	}
	if _, ok := raw["retry"].(map[string]any); !ok {
		t.Fatalf("expected retry section in raw map, got %+v", raw)
	}
}

func TestLoadSettingsExplicitFlagBeatsFile(t *testing.T) {
	path := writeConfigFile(t, `{"db": {"dsn": "file:from-file.db"}}`)

	flags := newFlagSet()
	if err := flags.Parse([]string{"-c", path, "--db.dsn", "file:from-flag.db", "--db.migrate=false"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	opts, _, err := loadSettings(context.Background(), flags)
	if err != nil {
		t.Fatalf("load settings: %v", err)
	}
	if opts.DB.DSN != "file:from-flag.db" {
		t.Fatalf("expected dsn from flag, got %q", opts.DB.DSN)
	}
	if opts.DB.Migrate {
		t.Fatalf("expected migrations disabled by flag")
	}
}

func TestLoadSettingsMissingFileFails(t *testing.T) {
	flags := newFlagSet()
	if err := flags.Parse([]string{"--config", filepath.Join(t.TempDir(), "absent.json")}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	if _, _, err := loadSettings(context.Background(), flags); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}

func TestSettingsValidateRequiresDSN(t *testing.T) {
	opts := &settings{
		DB:   databaseSettings{Driver: "sqlite3"},
		HTTP: httpSettings{Addr: ":8080", ShutdownTimeout: time.Second},
	}
	if err := opts.Validate(); err == nil {
		t.Fatalf("expected dsn validation error")
	}
}
