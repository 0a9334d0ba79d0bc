//go:build !no_mqtt

package main

import (
	"log/slog"
	"time"

	mqttbridge "psila-go/internal/mqtt"

	"psila-go/internal/capture"
)

type mqttStopper struct {
	bridge *mqttbridge.Bridge
}

func (m *mqttStopper) Stop() {
	if m.bridge != nil {
		m.bridge.Stop()
	}
}

func initMQTT(c *capture.Capture, cfg *Config, logger *slog.Logger) *mqttStopper {
	if !cfg.MQTT.Enabled {
		return &mqttStopper{}
	}
	// validate has already parsed it.
	interval, _ := time.ParseDuration(cfg.MQTT.StatsInterval)
	bridge, err := mqttbridge.NewBridge(c, mqttbridge.Config{
		Broker:        cfg.MQTT.Broker,
		Username:      cfg.MQTT.Username,
		Password:      cfg.MQTT.Password,
		ClientID:      cfg.MQTT.ClientID,
		TopicPrefix:   cfg.MQTT.TopicPrefix,
		StatsInterval: interval,
	}, logger)
	if err != nil {
		logger.Error("mqtt bridge", "err", err)
		return &mqttStopper{}
	}
	bridge.Start()
	return &mqttStopper{bridge: bridge}
}
