package models

import (
	"time"

	"github.com/google/uuid"
)

// Team is a competing team inside a room.
type Team struct {
	ID        uuid.UUID `json:"id"`
	RoomID    uuid.UUID `json:"room_id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	Score     int       `json:"score"`
	IsActive  bool      `json:"is_active"`
	JoinOrder int64     `json:"join_order"`
	CreatedAt time.Time `json:"created_at"`
}

// TeamScore is a single row of a score table.
type TeamScore struct {
	TeamID uuid.UUID `json:"team_id"`
	Name   string    `json:"name"`
	Score  int       `json:"score"`
}
