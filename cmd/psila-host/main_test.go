package main

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig(writeConfig(t, "serial:\n  port: /dev/ttyACM0\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Serial.Baud != 115200 || cfg.Store.Path != "psila.db" || cfg.MQTT.TopicPrefix != "psila" {
		t.Errorf("defaults = %+v", cfg)
	}
	if err := cfg.validate(); err != nil {
		t.Errorf("validate: %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{"no port", "radio:\n  channel: 15\n", true},
		{"channel out of range", "serial:\n  port: p\nradio:\n  channel: 27\n", true},
		{"bad key", "serial:\n  port: p\nkeys:\n  - name: nwk\n    key: 0102\n", true},
		{"unnamed key", "serial:\n  port: p\nkeys:\n  - key: 01030507090b0d0f00020406080a0c0d\n", true},
		{"mqtt without broker", "serial:\n  port: p\nmqtt:\n  enabled: true\n", true},
		{"bad stats interval", "serial:\n  port: p\nmqtt:\n  stats_interval: soon\n", true},
		{"bad log format", "serial:\n  port: p\nlog:\n  format: xml\n", true},
		{"full", "serial:\n  port: p\nradio:\n  channel: 20\nkeys:\n  - name: nwk\n    key: 01:03:05:07:09:0b:0d:0f:00:02:04:06:08:0a:0c:0d\nmqtt:\n  enabled: true\n  broker: tcp://localhost:1883\n  stats_interval: 30s\n", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := loadConfig(writeConfig(t, tt.body))
			if err != nil {
				t.Fatal(err)
			}
			if err := cfg.validate(); (err != nil) != tt.wantErr {
				t.Errorf("validate() err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
