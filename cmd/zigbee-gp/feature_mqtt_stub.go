//go:build no_mqtt

package main

import (
	"log/slog"

	"zigbee-go-gp/internal/host"
)

type mqttStopper struct{}

func (m *mqttStopper) Stop() {}

func initMQTT(_ *host.Runtime, _ *Config, _ *slog.Logger) *mqttStopper {
	return &mqttStopper{}
}
