package models

import (
	"time"

	"github.com/google/uuid"
)

// Player is an anonymous member of a team, identified by a session id.
type Player struct {
	ID          uuid.UUID `json:"id"`
	TeamID      uuid.UUID `json:"team_id"`
	RoomID      uuid.UUID `json:"room_id"`
	DisplayName *string   `json:"display_name,omitempty"`
	SessionID   string    `json:"session_id"`
	CreatedAt   time.Time `json:"created_at"`
}
