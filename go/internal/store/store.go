// Package store is the persistent state shared by every client. It only
// stores rows; all game logic lives in the clients.
package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/mcdev12/buzzer/go/internal/models"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrDuplicateBuzz     = errors.New("team already buzzed on this question")
	ErrQuestionNotActive = errors.New("question is not active")
	ErrDuplicateTeam     = errors.New("team name already taken in this room")
	ErrWagerLocked       = errors.New("wager already locked")
)

// Store is the full set of row operations the clients use.
type Store interface {
	RoomStore
	TeamStore
	ContentStore
	BuzzStore
	WagerStore
}

// RoomStore covers the rooms table.
type RoomStore interface {
	// CreateRoom retires every live room and inserts a new lobby room in one
	// transaction. It returns the new room and the ids it retired.
	CreateRoom(ctx context.Context, joinCode string) (*models.Room, []uuid.UUID, error)
	GetRoom(ctx context.Context, id uuid.UUID) (*models.Room, error)
	GetLiveRoom(ctx context.Context) (*models.Room, error)
	GetRoomByJoinCode(ctx context.Context, code string) (*models.Room, error)
	JoinCodeExists(ctx context.Context, code string) (bool, error)
	// UpdateRoomStatus moves the room from -> to and reports whether it changed.
	UpdateRoomStatus(ctx context.Context, id uuid.UUID, from, to models.RoomStatus) (bool, error)
	RetireRoom(ctx context.Context, id uuid.UUID) (bool, error)
	// EnterFinal moves the room from round two to the final round and
	// deactivates eliminated atomically. It reports false, changing nothing,
	// when the room is no longer in round two.
	EnterFinal(ctx context.Context, roomID uuid.UUID, eliminated []uuid.UUID) (bool, error)
	// ActivateQuestion sets the current question only if it differs, is
	// unanswered and belongs to the round the room is playing.
	ActivateQuestion(ctx context.Context, roomID, questionID uuid.UUID) (bool, error)
	// ClearQuestion unsets the current question only if it is questionID.
	ClearQuestion(ctx context.Context, roomID, questionID uuid.UUID) (bool, error)
	SetLease(ctx context.Context, roomID uuid.UUID, lease *models.Lease) error
}

// TeamStore covers teams and players.
type TeamStore interface {
	CreateTeam(ctx context.Context, roomID uuid.UUID, name, slug string) (*models.Team, error)
	GetTeam(ctx context.Context, id uuid.UUID) (*models.Team, error)
	// ListTeams returns the room's teams in join order.
	ListTeams(ctx context.Context, roomID uuid.UUID) ([]models.Team, error)
	AdjustScore(ctx context.Context, teamID uuid.UUID, delta int) (int, error)
	CreatePlayer(ctx context.Context, p models.Player) (*models.Player, error)
	GetPlayerBySession(ctx context.Context, sessionID string) (*models.Player, error)
}

// ContentStore covers categories and questions.
type ContentStore interface {
	ReplaceContent(ctx context.Context, roomID uuid.UUID, content []models.CategoryWithQuestions) error
	ListCategories(ctx context.Context, roomID uuid.UUID, round int) ([]models.Category, error)
	ListQuestions(ctx context.Context, roomID uuid.UUID, round int) ([]models.Question, error)
	GetQuestion(ctx context.Context, id uuid.UUID) (*models.Question, error)
	// MarkAnswered resolves an open question and reports whether it changed.
	MarkAnswered(ctx context.Context, questionID uuid.UUID, answeredBy *uuid.UUID) (bool, error)
}

// BuzzStore covers buzzes. The store assigns BuzzedAt.
type BuzzStore interface {
	InsertBuzz(ctx context.Context, roomID, questionID, teamID uuid.UUID) (*models.Buzz, error)
	GetBuzz(ctx context.Context, id uuid.UUID) (*models.Buzz, error)
	ListBuzzes(ctx context.Context, questionID uuid.UUID) ([]models.Buzz, error)
	// TransitionBuzz compares and swaps the buzz status.
	TransitionBuzz(ctx context.Context, id uuid.UUID, from, to models.BuzzStatus) (bool, error)
	SetBuzzResponse(ctx context.Context, id, teamID uuid.UUID, response string) error
	SkipPendingBuzzes(ctx context.Context, questionID uuid.UUID) (int64, error)
}

// WagerStore covers final-round wagers.
type WagerStore interface {
	// LockWager inserts the team's wager clamped to [0, max(score, 0)].
	LockWager(ctx context.Context, roomID, teamID uuid.UUID, amount int) (*models.Wager, error)
	SetWagerResponse(ctx context.Context, roomID, teamID uuid.UUID, response string) error
	ListWagers(ctx context.Context, roomID uuid.UUID) ([]models.Wager, error)
	JudgeWager(ctx context.Context, id uuid.UUID, to models.WagerStatus) (bool, error)
}
