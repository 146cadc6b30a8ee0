//go:build no_mqtt

package main

import (
	"log/slog"

	"kobold-bridge/internal/robot"
)

type mqttStopper struct{}

func (m *mqttStopper) Stop() {}

func initMQTT(_ *robot.Manager, _ *Config, _ *slog.Logger) *mqttStopper {
	return &mqttStopper{}
}
