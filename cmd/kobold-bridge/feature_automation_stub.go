//go:build no_automation

package main

import (
	"log/slog"

	"kobold-bridge/internal/robot"
	"kobold-bridge/internal/web"
)

type autoStopper struct{}

func (a *autoStopper) Stop() {}

func initAutomation(_ *robot.Manager, _ *Config, _ *slog.Logger) (*autoStopper, []web.ServerOption) {
	return &autoStopper{}, nil
}
