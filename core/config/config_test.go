package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func validConfig() *Config {
	return &Config{
		VK: VKConfig{
			Token:        "token",
			GroupID:      111,
			Secret:       "hush",
			Confirmation: "confirmed",
		},
		HTTP: HTTPConfig{Port: 8080},
	}
}

func TestNormalizeDefaults(t *testing.T) {
	cfg := validConfig()
	if err := Normalize(cfg); err != nil {
		t.Fatalf("Normalize: %v", err)
	}

	if cfg.VK.APIVersion != DefaultAPIVersion {
		t.Errorf("APIVersion = %q, want %q", cfg.VK.APIVersion, DefaultAPIVersion)
	}
	if cfg.HTTP.Listen != "0.0.0.0" {
		t.Errorf("Listen = %q, want 0.0.0.0", cfg.HTTP.Listen)
	}
	if cfg.Conversation.SessionTTL.Std() != DefaultSessionTTL {
		t.Errorf("SessionTTL = %v, want %v", cfg.Conversation.SessionTTL.Std(), DefaultSessionTTL)
	}
	if cfg.Conversation.MediaRoot != "media" {
		t.Errorf("MediaRoot = %q, want media", cfg.Conversation.MediaRoot)
	}
	if cfg.Recognition.Timeout.Std() != 30*time.Second {
		t.Errorf("Recognition.Timeout = %v, want 30s", cfg.Recognition.Timeout.Std())
	}
}

func TestNormalizeRejectsMissingFields(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing vk token", func(c *Config) { c.VK.Token = " " }},
		{"missing group id", func(c *Config) { c.VK.GroupID = 0 }},
		{"missing secret", func(c *Config) { c.VK.Secret = "" }},
		{"missing confirmation", func(c *Config) { c.VK.Confirmation = "" }},
		{"bad port", func(c *Config) { c.HTTP.Port = 0 }},
		{"negative session ttl", func(c *Config) { c.Conversation.SessionTTL = Duration(-time.Hour) }},
		{"telegram enabled without token", func(c *Config) { c.Telegram.Enabled = true }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(cfg)
			if err := Normalize(cfg); err == nil {
				t.Error("Normalize accepted an invalid config")
			}
		})
	}
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	raw := `
vk:
  token: file-token
  group_id: 111
  secret: hush
  confirmation: confirmed
http:
  port: 8080
conversation:
  session_ttl: 1h
`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("VK_TOKEN", "env-token")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.VK.Token != "env-token" {
		t.Errorf("Token = %q, environment must win over the file", cfg.VK.Token)
	}
	if cfg.VK.GroupID != 111 {
		t.Errorf("GroupID = %d, want 111", cfg.VK.GroupID)
	}
	if cfg.Conversation.SessionTTL.Std() != time.Hour {
		t.Errorf("SessionTTL = %v, want 1h", cfg.Conversation.SessionTTL.Std())
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("Load accepted a missing file")
	}
}
