//go:build no_automation

package main

import (
	"log/slog"

	"zigbee-go-gp/internal/host"
	"zigbee-go-gp/internal/web"
)

type autoStopper struct{}

func (a *autoStopper) Stop() {}

func initAutomation(_ *host.Runtime, _ *Config, _ *slog.Logger) (*autoStopper, []web.ServerOption) {
	return &autoStopper{}, nil
}
