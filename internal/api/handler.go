// Package api provides the HTTP surface of the service agent.
package api

import (
	"context"
	"log/slog"

	"service-agent/internal/service/audit"
	"service-agent/internal/service/configuration"
	"service-agent/internal/service/control"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingerFunc adapts a function to Pinger.
type PingerFunc func(ctx context.Context) error

// Ping implements Pinger.
func (f PingerFunc) Ping(ctx context.Context) error { return f(ctx) }

// Handler serves every route of the agent. Authorization happens inside the
// services; handlers only decode, delegate and encode.
type Handler struct {
	config   *configuration.Resolver
	control  *control.Controller
	audit    *audit.Recorder
	docker   Pinger
	database Pinger
	logger   *slog.Logger
}

// NewHandler creates a Handler.
func NewHandler(
	config *configuration.Resolver,
	ctrl *control.Controller,
	rec *audit.Recorder,
	docker Pinger,
	database Pinger,
	logger *slog.Logger,
) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		config:   config,
		control:  ctrl,
		audit:    rec,
		docker:   docker,
		database: database,
		logger:   logger.With("component", "api"),
	}
}
