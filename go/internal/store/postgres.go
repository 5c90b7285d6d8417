package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/buzzer/go/internal/models"
	"github.com/mcdev12/buzzer/go/internal/sqlutil"
)

const uniqueViolation = "23505"

// Postgres implements Store on database/sql.
type Postgres struct {
	db      *sql.DB
	queries *Queries
}

var _ Store = (*Postgres)(nil)

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{
		db:      db,
		queries: NewQueries(db),
	}
}

func newTxQueries(tx *sql.Tx) *Queries {
	return NewQueries(tx)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (p *Postgres) CreateRoom(ctx context.Context, joinCode string) (*models.Room, []uuid.UUID, error) {
	var (
		room    *models.Room
		retired []uuid.UUID
	)
	err := sqlutil.Run(ctx, p.db, newTxQueries, func(q *Queries) error {
		ids, err := q.RetireLiveRooms(ctx)
		if err != nil {
			return fmt.Errorf("failed to retire live rooms: %w", err)
		}
		retired = ids

		room, err = q.InsertRoom(ctx, uuid.New(), joinCode)
		if err != nil {
			return fmt.Errorf("failed to insert room: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	log.Info().
		Str("room_id", room.ID.String()).
		Int("retired", len(retired)).
		Msg("room created")
	return room, retired, nil
}

func (p *Postgres) GetRoom(ctx context.Context, id uuid.UUID) (*models.Room, error) {
	room, err := p.queries.GetRoom(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get room: %w", notFound(err))
	}
	return room, nil
}

func (p *Postgres) GetLiveRoom(ctx context.Context) (*models.Room, error) {
	room, err := p.queries.GetLiveRoom(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get live room: %w", notFound(err))
	}
	return room, nil
}

func (p *Postgres) GetRoomByJoinCode(ctx context.Context, code string) (*models.Room, error) {
	room, err := p.queries.GetRoomByJoinCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to get room by join code: %w", notFound(err))
	}
	return room, nil
}

func (p *Postgres) JoinCodeExists(ctx context.Context, code string) (bool, error) {
	exists, err := p.queries.JoinCodeExists(ctx, code)
	if err != nil {
		return false, fmt.Errorf("failed to check join code: %w", err)
	}
	return exists, nil
}

func (p *Postgres) UpdateRoomStatus(ctx context.Context, id uuid.UUID, from, to models.RoomStatus) (bool, error) {
	n, err := p.queries.UpdateRoomStatus(ctx, id, from, to)
	if err != nil {
		return false, fmt.Errorf("failed to update room status: %w", err)
	}
	return n > 0, nil
}

func (p *Postgres) EnterFinal(ctx context.Context, roomID uuid.UUID, eliminated []uuid.UUID) (bool, error) {
	var moved bool
	err := sqlutil.Run(ctx, p.db, newTxQueries, func(q *Queries) error {
		n, err := q.UpdateRoomStatus(ctx, roomID, models.RoomStatusRound2, models.RoomStatusFinalJeopardy)
		if err != nil {
			return fmt.Errorf("failed to update room status: %w", err)
		}
		if n == 0 {
			return nil
		}
		for _, id := range eliminated {
			if _, err := q.DeactivateTeam(ctx, id, roomID); err != nil {
				return fmt.Errorf("failed to deactivate team %s: %w", id, err)
			}
		}
		moved = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return moved, nil
}

func (p *Postgres) RetireRoom(ctx context.Context, id uuid.UUID) (bool, error) {
	n, err := p.queries.RetireRoom(ctx, id)
	if err != nil {
		return false, fmt.Errorf("failed to retire room: %w", err)
	}
	return n > 0, nil
}

func (p *Postgres) ActivateQuestion(ctx context.Context, roomID, questionID uuid.UUID) (bool, error) {
	n, err := p.queries.ActivateQuestion(ctx, roomID, questionID)
	if err != nil {
		return false, fmt.Errorf("failed to activate question: %w", err)
	}
	return n > 0, nil
}

func (p *Postgres) ClearQuestion(ctx context.Context, roomID, questionID uuid.UUID) (bool, error) {
	n, err := p.queries.ClearQuestion(ctx, roomID, questionID)
	if err != nil {
		return false, fmt.Errorf("failed to clear question: %w", err)
	}
	return n > 0, nil
}

func (p *Postgres) SetLease(ctx context.Context, roomID uuid.UUID, lease *models.Lease) error {
	raw, err := sqlutil.ToNullRawJSON(lease)
	if err != nil {
		return err
	}
	n, err := p.queries.SetLease(ctx, roomID, raw)
	if err != nil {
		return fmt.Errorf("failed to set lease: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("failed to set lease: %w", ErrNotFound)
	}
	return nil
}

func (p *Postgres) CreateTeam(ctx context.Context, roomID uuid.UUID, name, slug string) (*models.Team, error) {
	team, err := p.queries.InsertTeam(ctx, uuid.New(), roomID, name, slug)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateTeam
		}
		return nil, fmt.Errorf("failed to create team: %w", err)
	}
	return team, nil
}

func (p *Postgres) GetTeam(ctx context.Context, id uuid.UUID) (*models.Team, error) {
	team, err := p.queries.GetTeam(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get team: %w", notFound(err))
	}
	return team, nil
}

func (p *Postgres) ListTeams(ctx context.Context, roomID uuid.UUID) ([]models.Team, error) {
	teams, err := p.queries.ListTeams(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to list teams: %w", err)
	}
	return teams, nil
}

func (p *Postgres) AdjustScore(ctx context.Context, teamID uuid.UUID, delta int) (int, error) {
	score, err := p.queries.AdjustScore(ctx, teamID, delta)
	if err != nil {
		return 0, fmt.Errorf("failed to adjust score: %w", notFound(err))
	}
	return score, nil
}

func (p *Postgres) CreatePlayer(ctx context.Context, player models.Player) (*models.Player, error) {
	if player.ID == uuid.Nil {
		player.ID = uuid.New()
	}
	created, err := p.queries.InsertPlayer(ctx, player)
	if err != nil {
		return nil, fmt.Errorf("failed to create player: %w", err)
	}
	return created, nil
}

func (p *Postgres) GetPlayerBySession(ctx context.Context, sessionID string) (*models.Player, error) {
	player, err := p.queries.GetPlayerBySession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get player: %w", notFound(err))
	}
	return player, nil
}

func (p *Postgres) ReplaceContent(ctx context.Context, roomID uuid.UUID, content []models.CategoryWithQuestions) error {
	return sqlutil.Run(ctx, p.db, newTxQueries, func(q *Queries) error {
		if err := q.DeleteRoomContent(ctx, roomID); err != nil {
			return fmt.Errorf("failed to clear content: %w", err)
		}
		for _, cwq := range content {
			cat := cwq.Category
			cat.RoomID = roomID
			if err := q.InsertCategory(ctx, cat); err != nil {
				return fmt.Errorf("failed to insert category %q: %w", cat.Name, err)
			}
			for _, qn := range cwq.Questions {
				qn.CategoryID = cat.ID
				qn.RoomID = roomID
				if err := q.InsertQuestion(ctx, qn); err != nil {
					return fmt.Errorf("failed to insert question in %q: %w", cat.Name, err)
				}
			}
		}
		return nil
	})
}

func (p *Postgres) ListCategories(ctx context.Context, roomID uuid.UUID, round int) ([]models.Category, error) {
	cats, err := p.queries.ListCategories(ctx, roomID, round)
	if err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}
	return cats, nil
}

func (p *Postgres) ListQuestions(ctx context.Context, roomID uuid.UUID, round int) ([]models.Question, error) {
	qs, err := p.queries.ListQuestions(ctx, roomID, round)
	if err != nil {
		return nil, fmt.Errorf("failed to list questions: %w", err)
	}
	return qs, nil
}

func (p *Postgres) GetQuestion(ctx context.Context, id uuid.UUID) (*models.Question, error) {
	qn, err := p.queries.GetQuestion(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get question: %w", notFound(err))
	}
	return qn, nil
}

func (p *Postgres) MarkAnswered(ctx context.Context, questionID uuid.UUID, answeredBy *uuid.UUID) (bool, error) {
	n, err := p.queries.MarkAnswered(ctx, questionID, sqlutil.ToNullUUID(answeredBy))
	if err != nil {
		return false, fmt.Errorf("failed to mark question answered: %w", err)
	}
	return n > 0, nil
}

func (p *Postgres) InsertBuzz(ctx context.Context, roomID, questionID, teamID uuid.UUID) (*models.Buzz, error) {
	b, err := p.queries.InsertBuzz(ctx, uuid.New(), roomID, questionID, teamID)
	switch {
	case err == nil:
		return b, nil
	case errors.Is(err, sql.ErrNoRows):
		return nil, ErrQuestionNotActive
	case isUniqueViolation(err):
		return nil, ErrDuplicateBuzz
	}
	return nil, fmt.Errorf("failed to insert buzz: %w", err)
}

func (p *Postgres) GetBuzz(ctx context.Context, id uuid.UUID) (*models.Buzz, error) {
	b, err := p.queries.GetBuzz(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get buzz: %w", notFound(err))
	}
	return b, nil
}

func (p *Postgres) ListBuzzes(ctx context.Context, questionID uuid.UUID) ([]models.Buzz, error) {
	bs, err := p.queries.ListBuzzes(ctx, questionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list buzzes: %w", err)
	}
	return bs, nil
}

func (p *Postgres) TransitionBuzz(ctx context.Context, id uuid.UUID, from, to models.BuzzStatus) (bool, error) {
	n, err := p.queries.TransitionBuzz(ctx, id, from, to)
	if err != nil {
		return false, fmt.Errorf("failed to transition buzz: %w", err)
	}
	return n > 0, nil
}

func (p *Postgres) SetBuzzResponse(ctx context.Context, id, teamID uuid.UUID, response string) error {
	n, err := p.queries.SetBuzzResponse(ctx, id, teamID, response)
	if err != nil {
		return fmt.Errorf("failed to set buzz response: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("failed to set buzz response: %w", ErrNotFound)
	}
	return nil
}

func (p *Postgres) SkipPendingBuzzes(ctx context.Context, questionID uuid.UUID) (int64, error) {
	n, err := p.queries.SkipPendingBuzzes(ctx, questionID)
	if err != nil {
		return 0, fmt.Errorf("failed to skip pending buzzes: %w", err)
	}
	return n, nil
}

func (p *Postgres) LockWager(ctx context.Context, roomID, teamID uuid.UUID, amount int) (*models.Wager, error) {
	w, err := p.queries.LockWager(ctx, uuid.New(), roomID, teamID, amount)
	switch {
	case err == nil:
		return w, nil
	case errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("failed to lock wager: %w", ErrNotFound)
	case isUniqueViolation(err):
		return nil, ErrWagerLocked
	}
	return nil, fmt.Errorf("failed to lock wager: %w", err)
}

func (p *Postgres) SetWagerResponse(ctx context.Context, roomID, teamID uuid.UUID, response string) error {
	n, err := p.queries.SetWagerResponse(ctx, roomID, teamID, response)
	if err != nil {
		return fmt.Errorf("failed to set wager response: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("failed to set wager response: %w", ErrNotFound)
	}
	return nil
}

func (p *Postgres) ListWagers(ctx context.Context, roomID uuid.UUID) ([]models.Wager, error) {
	ws, err := p.queries.ListWagers(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to list wagers: %w", err)
	}
	return ws, nil
}

func (p *Postgres) JudgeWager(ctx context.Context, id uuid.UUID, to models.WagerStatus) (bool, error) {
	n, err := p.queries.JudgeWager(ctx, id, to)
	if err != nil {
		return false, fmt.Errorf("failed to judge wager: %w", err)
	}
	return n > 0, nil
}
