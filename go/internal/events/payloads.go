package events

import (
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/buzzer/go/internal/models"
)

// Timer names carried by TimerCancelledPayload.
const (
	TimerPreview = "preview"
	TimerJudging = "judging"
	TimerFinal   = "final"
)

// PhaseChangedPayload announces a room status transition. Advancing and
// Eliminated are only set on the move into the final round.
type PhaseChangedPayload struct {
	From       models.RoomStatus `json:"from"`
	To         models.RoomStatus `json:"to"`
	Advancing  []uuid.UUID       `json:"advancing,omitempty"`
	Eliminated []uuid.UUID       `json:"eliminated,omitempty"`
}

type QuestionPreviewPayload struct {
	QuestionID   uuid.UUID     `json:"question_id"`
	TeamID       uuid.UUID     `json:"team_id"`
	CategoryName string        `json:"category_name"`
	PointValue   int           `json:"point_value"`
	StartedAt    time.Time     `json:"started_at"`
	Duration     time.Duration `json:"duration"`
}

type QuestionActivatedPayload struct {
	QuestionID uuid.UUID `json:"question_id"`
	By         string    `json:"by"`
}

type QuestionDeactivatedPayload struct {
	QuestionID uuid.UUID  `json:"question_id"`
	AnsweredBy *uuid.UUID `json:"answered_by,omitempty"`
}

type JudgingStartedPayload struct {
	QuestionID uuid.UUID     `json:"question_id"`
	BuzzID     uuid.UUID     `json:"buzz_id"`
	TeamID     uuid.UUID     `json:"team_id"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
}

type TimerCancelledPayload struct {
	Timer string    `json:"timer"`
	RefID uuid.UUID `json:"ref_id"`
}

type ScoreUpdatedPayload struct {
	QuestionID *uuid.UUID         `json:"question_id,omitempty"`
	TeamID     uuid.UUID          `json:"team_id"`
	Delta      int                `json:"delta"`
	Scores     []models.TeamScore `json:"scores"`
}

// LeaseChangedPayload carries the new holder; a nil TeamID clears the lease.
type LeaseChangedPayload struct {
	TeamID    *uuid.UUID `json:"team_id,omitempty"`
	GrantedAt time.Time  `json:"granted_at"`
}

type FinalWagerLockedPayload struct {
	TeamID uuid.UUID `json:"team_id"`
}

type FinalQuestionRevealedPayload struct {
	QuestionID uuid.UUID     `json:"question_id"`
	Clue       string        `json:"clue"`
	Category   string        `json:"category"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
	Forced     bool          `json:"forced"`
}

type FinalTimerExpiredPayload struct {
	QuestionID uuid.UUID `json:"question_id"`
}

type FinalResponseRevealedPayload struct {
	TeamID   uuid.UUID `json:"team_id"`
	Response string    `json:"response"`
	Wager    int       `json:"wager"`
	Position int       `json:"position"`
}

type FinalJudgedPayload struct {
	TeamID   uuid.UUID          `json:"team_id"`
	Result   models.WagerStatus `json:"result"`
	Wager    int                `json:"wager"`
	NewScore int                `json:"new_score"`
}

// GameOverPayload holds the final score table sorted by score descending.
type GameOverPayload struct {
	Scores []models.TeamScore `json:"scores"`
}

type RoomClosedPayload struct {
	RoomID uuid.UUID `json:"room_id"`
	Reason string    `json:"reason"`
}

type BuzzReceivedPayload struct {
	BuzzID     uuid.UUID `json:"buzz_id"`
	QuestionID uuid.UUID `json:"question_id"`
	TeamID     uuid.UUID `json:"team_id"`
	BuzzedAt   time.Time `json:"buzzed_at"`
}

type BuzzResponsePayload struct {
	BuzzID   uuid.UUID `json:"buzz_id"`
	TeamID   uuid.UUID `json:"team_id"`
	Response string    `json:"response"`
}

type BuzzExpiredPayload struct {
	BuzzID uuid.UUID `json:"buzz_id"`
	TeamID uuid.UUID `json:"team_id"`
}

type TeamJoinedPayload struct {
	Team models.Team `json:"team"`
}

// Reasons carried by RoomClosedPayload.
const (
	ReasonRetired = "retired"
	ReasonClosed  = "closed"
	ReasonReset   = "reset"
)
