package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "chatline.toml")

	cfg := Default()
	cfg.ServerURL = "wss://crm.example.com/chat"
	cfg.APIURL = "https://crm.example.com/api"
	cfg.SendTimeout = Duration{15 * time.Second}
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.ServerURL != "wss://crm.example.com/chat" {
		t.Errorf("ServerURL = %q", loaded.ServerURL)
	}
	if loaded.SendTimeout.Duration != 15*time.Second {
		t.Errorf("SendTimeout = %v, want 15s", loaded.SendTimeout.Duration)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "chatline.toml")
	if err := os.WriteFile(path, []byte(`server_url = "wss://x/chat"`), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ReconnectAttempts != 5 {
		t.Errorf("ReconnectAttempts = %d, want 5", cfg.ReconnectAttempts)
	}
	if cfg.ReconnectDelay.Duration != time.Second {
		t.Errorf("ReconnectDelay = %v, want 1s", cfg.ReconnectDelay.Duration)
	}
	if cfg.SendTimeout.Duration != 10*time.Second {
		t.Errorf("SendTimeout = %v, want 10s", cfg.SendTimeout.Duration)
	}
	if cfg.TypingDebounce.Duration != time.Second {
		t.Errorf("TypingDebounce = %v, want 1s", cfg.TypingDebounce.Duration)
	}
}

func TestLoadMissing(t *testing.T) {
	if _, err := Load("/nonexistent/chatline.toml"); err == nil {
		t.Error("Load() expected error for missing file")
	}
}

func TestSavePermissions(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "chatline.toml")

	if err := Save(path, Default()); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("file permission = %o, want 0600", perm)
	}
}
