package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"shelfstream/config"
)

func TestLoadCreatesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")

	m := config.NewManager(path)
	settings, err := m.Load()
	if err != nil {
		t.Fatalf("load returned error: %v", err)
	}

	if settings.Server.Port != 3333 {
		t.Fatalf("expected default port 3333, got %d", settings.Server.Port)
	}
	if settings.Transcode.FFmpegPath != "ffmpeg" {
		t.Fatalf("expected default ffmpeg path, got %q", settings.Transcode.FFmpegPath)
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected settings file to be written: %v", err)
	}
}

func TestSaveAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")

	m := config.NewManager(path)
	settings, err := m.Load()
	if err != nil {
		t.Fatalf("load returned error: %v", err)
	}

	settings.Server.Port = 8080
	settings.Library.Directory = "/audiobooks"
	if err := m.Save(settings); err != nil {
		t.Fatalf("save returned error: %v", err)
	}

	reloaded, err := config.NewManager(path).Load()
	if err != nil {
		t.Fatalf("reload returned error: %v", err)
	}
	if reloaded.Server.Port != 8080 {
		t.Fatalf("expected port 8080, got %d", reloaded.Server.Port)
	}
	if reloaded.Library.Directory != "/audiobooks" {
		t.Fatalf("expected library dir /audiobooks, got %q", reloaded.Library.Directory)
	}
}

func TestLoadBackfillsMissingFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")

	// A config written by an older version with most fields absent
	if err := os.WriteFile(path, []byte(`{"server":{"host":"127.0.0.1"}}`), 0o644); err != nil {
		t.Fatal(err)
	}

	settings, err := config.NewManager(path).Load()
	if err != nil {
		t.Fatalf("load returned error: %v", err)
	}

	if settings.Server.Host != "127.0.0.1" {
		t.Fatalf("expected host to be kept, got %q", settings.Server.Host)
	}
	if settings.Server.Port != 3333 {
		t.Fatalf("expected backfilled port, got %d", settings.Server.Port)
	}
	if settings.Cache.Directory != "cache" {
		t.Fatalf("expected backfilled cache dir, got %q", settings.Cache.Directory)
	}
	if settings.Log.MaxSize != 50 {
		t.Fatalf("expected backfilled log max size, got %d", settings.Log.MaxSize)
	}
}

func TestLoadRejectsEmptyPath(t *testing.T) {
	if _, err := config.NewManager("").Load(); err == nil || !strings.Contains(err.Error(), "config path") {
		t.Fatalf("expected config path error, got %v", err)
	}
}
