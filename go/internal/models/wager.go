package models

import (
	"time"

	"github.com/google/uuid"
)

// WagerStatus is the judging state of a final-round wager.
type WagerStatus string

const (
	WagerStatusPending WagerStatus = "pending"
	WagerStatusCorrect WagerStatus = "correct"
	WagerStatusWrong   WagerStatus = "wrong"
)

// Wager is a team's final-round stake and response.
type Wager struct {
	ID          uuid.UUID   `json:"id"`
	RoomID      uuid.UUID   `json:"room_id"`
	TeamID      uuid.UUID   `json:"team_id"`
	Amount      int         `json:"amount"`
	Response    *string     `json:"response,omitempty"`
	RespondedAt *time.Time  `json:"responded_at,omitempty"`
	Status      WagerStatus `json:"status"`
	CreatedAt   time.Time   `json:"created_at"`
}

// ClampWager bounds amount to [0, max(score, 0)].
func ClampWager(amount, score int) int {
	if score < 0 {
		score = 0
	}
	if amount < 0 {
		return 0
	}
	if amount > score {
		return score
	}
	return amount
}
