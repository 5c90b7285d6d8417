package main

import (
	"net/http"

	"github.com/mcdev12/buzzer/go/internal/config"
	"github.com/mcdev12/buzzer/go/internal/controlapi"
	"github.com/mcdev12/buzzer/go/internal/platform"
)

func setupServer(cfg *config.Config, rt *platform.Runtime, services *Services) *http.Server {
	mux := http.NewServeMux()

	// Register control service
	controlPath, controlHandler := controlapi.NewHandler(services.Control)
	mux.Handle(controlPath, controlHandler)

	mux.Handle("GET /metrics", rt.MetricsHandler())

	return platform.NewServer(cfg.HTTP.ControllerPort, mux)
}
