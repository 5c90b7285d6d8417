package main

import (
	"context"
	"encoding/json"
	"flag"
	"net/http"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/buzzer/go/internal/config"
	"github.com/mcdev12/buzzer/go/internal/gateway"
	"github.com/mcdev12/buzzer/go/internal/platform"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	cfg.SetupLogging()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rt, err := platform.Open(ctx, cfg, platform.Options{Name: "buzzer-gateway"})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open runtime")
	}

	log.Info().
		Str("database", cfg.Database.Database).
		Str("transport", cfg.Transport.Backend).
		Str("port", cfg.HTTP.GatewayPort).
		Msg("starting display gateway")

	gatewayService := gateway.NewService(gateway.Config{
		Store:          rt.Store,
		Bus:            rt.Bus,
		Feed:           rt.Feed,
		Metrics:        rt.Metrics,
		ResyncInterval: cfg.Timings.ResyncInterval,
		Connection:     gateway.DefaultConnectionConfig(),
	})

	mux := http.NewServeMux()
	gateway.NewHandler(gatewayService).RegisterRoutes(mux)
	mux.Handle("GET /metrics", rt.MetricsHandler())
	mux.HandleFunc("GET /info", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(map[string]any{
			"service":     "buzzer-gateway",
			"connections": gatewayService.Stats(),
		}); err != nil {
			log.Error().Err(err).Msg("failed to write info response")
		}
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := gatewayService.Start(ctx); err != nil {
			log.Error().Err(err).Msg("gateway service failed")
		}
	}()

	exit := 0
	if err := platform.Serve(ctx, platform.NewServer(cfg.HTTP.GatewayPort, mux)); err != nil {
		log.Error().Err(err).Msg("server stopped")
		exit = 1
	}

	cancel()
	<-done
	if err := rt.Close(); err != nil {
		log.Error().Err(err).Msg("runtime shutdown failed")
	}
	log.Info().Msg("display gateway shutdown complete")
	os.Exit(exit)
}
