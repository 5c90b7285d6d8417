package models

import (
	"time"

	"github.com/google/uuid"
)

// RoomStatus is the phase a room is in.
type RoomStatus string

const (
	RoomStatusLobby         RoomStatus = "lobby"
	RoomStatusRound1        RoomStatus = "round_1"
	RoomStatusRound2        RoomStatus = "round_2"
	RoomStatusFinalJeopardy RoomStatus = "final_jeopardy"
	RoomStatusFinished      RoomStatus = "finished"
)

// Valid reports whether s is one of the known room statuses.
func (s RoomStatus) Valid() bool {
	switch s {
	case RoomStatusLobby, RoomStatusRound1, RoomStatusRound2, RoomStatusFinalJeopardy, RoomStatusFinished:
		return true
	}
	return false
}

// Room is one game instance.
type Room struct {
	ID                uuid.UUID  `json:"id"`
	JoinCode          string     `json:"join_code"`
	Status            RoomStatus `json:"status"`
	CurrentQuestionID *uuid.UUID `json:"current_question_id,omitempty"`
	Lease             *Lease     `json:"lease,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// Lease records which team may select the next question. It is stored as
// JSONB on the room row so a refreshed controller can rebuild it.
type Lease struct {
	TeamID    uuid.UUID `json:"team_id"`
	GrantedAt time.Time `json:"granted_at"`
}

// HoldsLease reports whether teamID currently holds the room's lease.
func (r *Room) HoldsLease(teamID uuid.UUID) bool {
	return r.Lease != nil && r.Lease.TeamID == teamID
}

// IsLive reports whether the room still accepts play.
func (r *Room) IsLive() bool {
	return r.Status != RoomStatusFinished
}
