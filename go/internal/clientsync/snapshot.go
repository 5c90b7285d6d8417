package clientsync

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/mcdev12/buzzer/go/internal/game/phase"
	"github.com/mcdev12/buzzer/go/internal/models"
)

// Reader is the part of the store a synchronizer reads from.
type Reader interface {
	GetRoom(ctx context.Context, id uuid.UUID) (*models.Room, error)
	ListTeams(ctx context.Context, roomID uuid.UUID) ([]models.Team, error)
	ListCategories(ctx context.Context, roomID uuid.UUID, round int) ([]models.Category, error)
	ListQuestions(ctx context.Context, roomID uuid.UUID, round int) ([]models.Question, error)
	ListBuzzes(ctx context.Context, questionID uuid.UUID) ([]models.Buzz, error)
	ListWagers(ctx context.Context, roomID uuid.UUID) ([]models.Wager, error)
}

// Load reads a full projection of roomID: the room, its teams, the content of
// the round being played and the buzzes of the active question.
func Load(ctx context.Context, r Reader, roomID uuid.UUID) (*Projection, error) {
	room, err := r.GetRoom(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to load room: %w", err)
	}
	teams, err := r.ListTeams(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to list teams: %w", err)
	}
	phase.SortByJoinOrder(teams)

	p := &Projection{Room: *room, Teams: teams}

	round := phase.RoundFor(room.Status)
	if round == 0 && room.Status == models.RoomStatusLobby {
		round = models.RoundOne
	}
	if round != 0 {
		if p.Categories, err = r.ListCategories(ctx, roomID, round); err != nil {
			return nil, fmt.Errorf("failed to list categories: %w", err)
		}
		if p.Questions, err = r.ListQuestions(ctx, roomID, round); err != nil {
			return nil, fmt.Errorf("failed to list questions: %w", err)
		}
	}

	if room.CurrentQuestionID != nil && phase.IsBoardRound(room.Status) {
		if p.Buzzes, err = r.ListBuzzes(ctx, *room.CurrentQuestionID); err != nil {
			return nil, fmt.Errorf("failed to list buzzes: %w", err)
		}
	}

	if room.Status == models.RoomStatusFinalJeopardy {
		if err := loadFinal(ctx, r, p); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func loadFinal(ctx context.Context, r Reader, p *Projection) error {
	wagers, err := r.ListWagers(ctx, p.Room.ID)
	if err != nil {
		return fmt.Errorf("failed to list wagers: %w", err)
	}
	f := newFinalView()
	for _, w := range wagers {
		f.Locked[w.TeamID] = true
	}
	if id := p.Room.CurrentQuestionID; id != nil {
		if q, ok := p.Question(*id); ok {
			qid := q.ID
			f.QuestionID = &qid
			f.Clue = q.Clue
			for _, c := range p.Categories {
				if c.ID == q.CategoryID {
					f.Category = c.Name
				}
			}
		}
	}
	p.Final = f
	return nil
}
