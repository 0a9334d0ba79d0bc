//go:build no_automation

package main

import (
	"log/slog"

	"psila-go/internal/capture"
	"psila-go/internal/web"
)

type autoStopper struct{}

func (a *autoStopper) Stop() {}

func initAutomation(_ *capture.Capture, _ *Config, _ *slog.Logger) (*autoStopper, []web.ServerOption) {
	return &autoStopper{}, nil
}
