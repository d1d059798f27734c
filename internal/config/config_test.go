package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func hasField(list []ValidationError, field string) bool {
	for _, e := range list {
		if e.Field == field {
			return true
		}
	}
	return false
}

func TestDefaultConfigIsValid(t *testing.T) {
	res := Validate(DefaultConfig())
	if !res.IsValid() {
		t.Fatalf("default config has errors: %v", res.Errors)
	}
	if !hasField(res.Warnings, "proxy.routing.default_target") {
		t.Fatal("expected a warning for the missing default target")
	}
}

func TestLoadCreatesDefaultFile(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Path() != filepath.Join(dir, DefaultConfigFile) {
		t.Fatalf("path = %s", cfg.Path())
	}
	if _, err := os.Stat(cfg.Path()); err != nil {
		t.Fatalf("default config not written: %v", err)
	}
}

func TestLoadOverlaysDefaults(t *testing.T) {
	dir := t.TempDir()
	raw := map[string]any{
		"proxy": map[string]any{
			"bind":            "127.0.0.1:25570",
			"strict_decoding": false,
		},
	}
	data, err := json.Marshal(raw)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, DefaultConfigFile), data, 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	p := cfg.GetProxy()
	if p.Bind != "127.0.0.1:25570" || p.StrictDecoding {
		t.Fatalf("overrides not applied: %+v", p)
	}
	if p.MaxConnections != 1024 || p.Messages.Shutdown == "" {
		t.Fatalf("defaults lost: %+v", p)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	cfg.SetDefaultTarget("lobby.example.net:25565")
	cfg.SetMOTD("Hello")
	if err := cfg.Save(); err != nil {
		t.Fatal(err)
	}

	again, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	p := again.GetProxy()
	if p.Routing.DefaultTarget != "lobby.example.net:25565" || p.Status.MOTD != "Hello" {
		t.Fatalf("saved settings lost: %+v", p)
	}
}

func TestValidateRejectsBadSettings(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Proxy.Bind = "nope"
	cfg.Proxy.MaxConnections = 0
	cfg.Proxy.Routing.DefaultTarget = "lobby:99999"
	cfg.ApplicationData.API.IPWhitelist = []string{"10.0.0.0/8", "not-an-ip"}
	cfg.ApplicationData.Database.RetentionDays = -1
	cfg.ApplicationData.Database.PruneTime = "25:99"

	res := Validate(cfg)
	for _, field := range []string{
		"proxy.bind",
		"proxy.max_connections",
		"proxy.routing.default_target",
		"application_data.api.ip_whitelist",
		"application_data.database.retention_days",
		"application_data.database.prune_time",
	} {
		if !hasField(res.Errors, field) {
			t.Errorf("missing error for %s", field)
		}
	}
}

func TestSplitHostPort(t *testing.T) {
	tests := []struct {
		in      string
		host    string
		port    int
		wantErr bool
	}{
		{"play.example.net:25565", "play.example.net", 25565, false},
		{"[::1]:25566", "::1", 25566, false},
		{"localhost", "", 0, true},
		{"localhost:0", "", 0, true},
		{"localhost:abc", "", 0, true},
	}
	for _, tt := range tests {
		got, err := SplitHostPort(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("SplitHostPort(%q) err = %v", tt.in, err)
			continue
		}
		if !tt.wantErr && (got.Host != tt.host || got.Port != tt.port) {
			t.Errorf("SplitHostPort(%q) = %+v", tt.in, got)
		}
	}
}
