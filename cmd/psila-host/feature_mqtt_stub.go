//go:build no_mqtt

package main

import (
	"log/slog"

	"psila-go/internal/capture"
)

type mqttStopper struct{}

func (m *mqttStopper) Stop() {}

func initMQTT(_ *capture.Capture, _ *Config, _ *slog.Logger) *mqttStopper {
	return &mqttStopper{}
}
