package main

import (
	"os"
	"path/filepath"
	"testing"
)

func load(t *testing.T, body string) *Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "node.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	return cfg
}

func TestConfigValidate(t *testing.T) {
	const base = "serial:\n  port: /dev/ttyACM0\nradio:\n  extended_address: \"0011223344556677\"\n"

	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{"minimal", base, false},
		{"no port", "radio:\n  extended_address: \"0011223344556677\"\n", true},
		{"no address", "serial:\n  port: p\n", true},
		{"bad channel", base + "  channel: 10\n", true},
		{"bad delay", base + "  start_delay: later\n", true},
		{"negative delay", base + "  start_delay: -1s\n", true},
		{"bad key", base + "keys:\n  network: abc\n", true},
		{"full", base + "  channel: 15\n  start_delay: 2s\nkeys:\n  network: 01030507090b0d0f00020406080a0c0d\n  sequence: 1\n", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := load(t, tt.body).validate(); (err != nil) != tt.wantErr {
				t.Errorf("validate() err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestStartDelay(t *testing.T) {
	cfg := load(t, "radio:\n  start_delay: 1500ms\n")
	got, err := cfg.startDelay()
	if err != nil {
		t.Fatal(err)
	}
	if got != 1_500_000 {
		t.Errorf("startDelay = %d, want 1500000", got)
	}

	cfg = load(t, "serial:\n  port: p\n")
	if got, _ := cfg.startDelay(); got != 0 {
		t.Errorf("unset startDelay = %d, want 0", got)
	}
	if cfg.Serial.Baud != 115200 || cfg.Store.Path != "psila-node.db" {
		t.Errorf("defaults = %+v", cfg)
	}
}
