package controlapi

import (
	"github.com/google/uuid"

	"github.com/mcdev12/buzzer/go/internal/content"
	"github.com/mcdev12/buzzer/go/internal/events"
	"github.com/mcdev12/buzzer/go/internal/game/buzzq"
	"github.com/mcdev12/buzzer/go/internal/game/controller"
	"github.com/mcdev12/buzzer/go/internal/models"
)

type Empty struct{}

type RoomResponse struct {
	Room *models.Room `json:"room"`
}

type ResumeRoomRequest struct {
	// RoomID picks a room; empty resumes the live room.
	RoomID string `json:"room_id,omitempty"`
}

type GetStateResponse struct {
	Room  *models.Room            `json:"room"`
	Play  *controller.PlayStatus  `json:"play,omitempty"`
	Final *controller.FinalStatus `json:"final,omitempty"`
}

type ImportContentRequest struct {
	Pack *content.Pack `json:"pack"`
}

type StartGameRequest struct {
	FirstTeamID string `json:"first_team_id,omitempty"`
}

type AssignLeaseRequest struct {
	// TeamID empty clears the lease.
	TeamID string `json:"team_id,omitempty"`
}

type AdvanceRoundRequest struct {
	Force     bool   `json:"force"`
	LeaseToID string `json:"lease_to_id,omitempty"`
}

type StartFinalRequest struct {
	Force bool `json:"force"`
}

type JudgeRequest struct {
	BuzzID  string        `json:"buzz_id"`
	Verdict buzzq.Verdict `json:"verdict"`
}

type RevealFinalQuestionRequest struct {
	Force bool `json:"force"`
}

type RevealNextFinalResponse struct {
	Revealed events.FinalResponseRevealedPayload `json:"revealed"`
}

type JudgeFinalRequest struct {
	TeamID  string `json:"team_id"`
	Correct bool   `json:"correct"`
}

type JudgeFinalResponse struct {
	Judged events.FinalJudgedPayload `json:"judged"`
}

func parseOptionalID(s string) (*uuid.UUID, error) {
	if s == "" {
		return nil, nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return nil, err
	}
	return &id, nil
}
