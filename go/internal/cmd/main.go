// Command cmd hosts the game controller and serves its control API.
package main

import (
	"context"
	"flag"
	"os"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/buzzer/go/internal/config"
	"github.com/mcdev12/buzzer/go/internal/platform"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	roomFlag := flag.String("room", "", "resume this room instead of the live one")
	fresh := flag.Bool("new", false, "create a new room on start")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	cfg.SetupLogging()

	ctx := context.Background()
	rt, err := platform.Open(ctx, cfg, platform.Options{Name: "buzzer-controller", Migrate: true})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open runtime")
	}

	services := setupServices(rt, cfg)

	var roomID *uuid.UUID
	if *roomFlag != "" {
		id, err := uuid.Parse(*roomFlag)
		if err != nil {
			log.Fatal().Err(err).Str("room", *roomFlag).Msg("invalid room id")
		}
		roomID = &id
	}
	if err := services.hostRoom(ctx, roomID, *fresh); err != nil {
		log.Error().Err(err).Msg("no room hosted at start")
	}

	server := setupServer(cfg, rt, services)
	exit := 0
	if err := platform.Serve(ctx, server); err != nil {
		log.Error().Err(err).Msg("server stopped")
		exit = 1
	}

	services.Controller.Close()
	if err := rt.Close(); err != nil {
		log.Error().Err(err).Msg("runtime shutdown failed")
	}
	log.Info().Msg("controller shutdown complete")
	os.Exit(exit)
}
