package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/buzzer/go/internal/config"
	"github.com/mcdev12/buzzer/go/internal/content"
	"github.com/mcdev12/buzzer/go/internal/controlapi"
	"github.com/mcdev12/buzzer/go/internal/game/controller"
	"github.com/mcdev12/buzzer/go/internal/models"
	"github.com/mcdev12/buzzer/go/internal/platform"
	"github.com/mcdev12/buzzer/go/internal/store"
)

type Services struct {
	Controller  *controller.Controller
	Control     *controlapi.Service
	contentPack string
}

func setupServices(rt *platform.Runtime, cfg *config.Config) *Services {
	// Store + transport + feed → controller → control API
	ctrl := controller.New(controller.Config{
		Clock:   clockwork.NewRealClock(),
		Store:   rt.Store,
		Bus:     rt.Bus,
		Feed:    rt.Feed,
		Metrics: rt.Metrics,
		Timings: controller.Timings{
			Judging:         cfg.Timings.Judging,
			FinalResponse:   cfg.Timings.FinalResponse,
			AutoSubmitGrace: controller.AutoSubmitGrace,
		},
	})

	return &Services{
		Controller:  ctrl,
		Control:     controlapi.NewService(ctrl),
		contentPack: cfg.ContentPack,
	}
}

// hostRoom resumes roomID, or the live room when nil, creating a new one
// when fresh is set or nothing is live. A configured content pack is
// imported into a room still in the lobby.
func (s *Services) hostRoom(ctx context.Context, roomID *uuid.UUID, fresh bool) error {
	var (
		room *models.Room
		err  error
	)
	if !fresh {
		room, err = s.Controller.Resume(ctx, roomID)
		switch {
		case err == nil:
		case roomID == nil && errors.Is(err, store.ErrNotFound):
			log.Info().Msg("no live room, creating one")
		default:
			return fmt.Errorf("failed to resume room: %w", err)
		}
	}
	if room == nil {
		if room, err = s.Controller.CreateRoom(ctx); err != nil {
			return fmt.Errorf("failed to create room: %w", err)
		}
	}

	log.Info().
		Str("room_id", room.ID.String()).
		Str("join_code", room.JoinCode).
		Str("status", string(room.Status)).
		Msg("hosting room")

	if s.contentPack == "" || room.Status != models.RoomStatusLobby {
		return nil
	}
	pack, err := content.Load(s.contentPack)
	if err != nil {
		return err
	}
	if err := s.Controller.ImportContent(ctx, pack); err != nil {
		return fmt.Errorf("failed to import content pack: %w", err)
	}
	log.Info().Str("path", s.contentPack).Str("title", pack.Title).Msg("content pack imported")
	return nil
}
