package models

import (
	"time"

	"github.com/google/uuid"
)

// BuzzStatus is the judging state of a buzz.
type BuzzStatus string

const (
	BuzzStatusPending BuzzStatus = "pending"
	BuzzStatusCorrect BuzzStatus = "correct"
	BuzzStatusWrong   BuzzStatus = "wrong"
	BuzzStatusExpired BuzzStatus = "expired"
	BuzzStatusSkipped BuzzStatus = "skipped"
)

// Buzz is a team's claim to answer the active question. BuzzedAt is assigned
// by the store and is the only ordering key.
type Buzz struct {
	ID          uuid.UUID  `json:"id"`
	QuestionID  uuid.UUID  `json:"question_id"`
	TeamID      uuid.UUID  `json:"team_id"`
	RoomID      uuid.UUID  `json:"room_id"`
	BuzzedAt    time.Time  `json:"buzzed_at"`
	Response    *string    `json:"response,omitempty"`
	RespondedAt *time.Time `json:"responded_at,omitempty"`
	Status      BuzzStatus `json:"status"`
}
