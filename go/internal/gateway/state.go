package gateway

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/mcdev12/buzzer/go/internal/clientsync"
	"github.com/mcdev12/buzzer/go/internal/game/timer"
	"github.com/mcdev12/buzzer/go/internal/models"
)

// RoomState is the display's view of a room. Answers are never included.
type RoomState struct {
	RoomID          uuid.UUID          `json:"room_id"`
	JoinCode        string             `json:"join_code"`
	Status          models.RoomStatus  `json:"status"`
	LeaseHolder     *uuid.UUID         `json:"lease_holder,omitempty"`
	Teams           []TeamState        `json:"teams"`
	Board           []CategoryState    `json:"board"`
	CurrentQuestion *QuestionState     `json:"current_question,omitempty"`
	Buzzes          []BuzzState        `json:"buzzes,omitempty"`
	Preview         *TimerState        `json:"preview,omitempty"`
	Judging         *TimerState        `json:"judging,omitempty"`
	Final           *FinalState        `json:"final,omitempty"`
	GameOver        bool               `json:"game_over"`
	Scores          []models.TeamScore `json:"scores"`
	SyncedAt        time.Time          `json:"synced_at"`
	ServerTime      time.Time          `json:"server_time"`
}

type TeamState struct {
	ID       uuid.UUID `json:"id"`
	Name     string    `json:"name"`
	Score    int       `json:"score"`
	IsActive bool      `json:"is_active"`
}

type CategoryState struct {
	ID        uuid.UUID       `json:"id"`
	Name      string          `json:"name"`
	Questions []QuestionState `json:"questions"`
}

type QuestionState struct {
	ID         uuid.UUID  `json:"id"`
	CategoryID uuid.UUID  `json:"category_id"`
	PointValue int        `json:"point_value"`
	Clue       string     `json:"clue,omitempty"`
	IsAnswered bool       `json:"is_answered"`
	AnsweredBy *uuid.UUID `json:"answered_by,omitempty"`
}

type BuzzState struct {
	ID       uuid.UUID         `json:"id"`
	TeamID   uuid.UUID         `json:"team_id"`
	BuzzedAt time.Time         `json:"buzzed_at"`
	Status   models.BuzzStatus `json:"status"`
	Response *string           `json:"response,omitempty"`
}

// TimerState is a running countdown with its remaining time at ServerTime.
type TimerState struct {
	RefID       uuid.UUID `json:"ref_id"`
	TeamID      uuid.UUID `json:"team_id,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	DurationMS  int64     `json:"duration_ms"`
	RemainingMS int64     `json:"remaining_ms"`
}

type FinalState struct {
	Category  string               `json:"category,omitempty"`
	Clue      string               `json:"clue,omitempty"`
	Locked    []uuid.UUID          `json:"locked"`
	Timer     *TimerState          `json:"timer,omitempty"`
	Expired   bool                 `json:"expired"`
	Responses []FinalResponseState `json:"responses,omitempty"`
}

type FinalResponseState struct {
	TeamID   uuid.UUID          `json:"team_id"`
	Position int                `json:"position"`
	Response string             `json:"response"`
	Wager    int                `json:"wager"`
	Result   models.WagerStatus `json:"result,omitempty"`
	NewScore *int               `json:"new_score,omitempty"`
}

func newTimerState(ref, team uuid.UUID, t timer.Timer, now time.Time) *TimerState {
	return &TimerState{
		RefID:       ref,
		TeamID:      team,
		StartedAt:   t.StartedAt,
		DurationMS:  t.Duration.Milliseconds(),
		RemainingMS: t.Remaining(now).Milliseconds(),
	}
}

// NewRoomState renders p as of now.
func NewRoomState(p clientsync.Projection, now time.Time) *RoomState {
	s := &RoomState{
		RoomID:     p.Room.ID,
		JoinCode:   p.Room.JoinCode,
		Status:     p.Room.Status,
		GameOver:   p.GameOver,
		Scores:     p.Scores(),
		SyncedAt:   p.SyncedAt,
		ServerTime: now,
	}
	if p.Room.Lease != nil {
		holder := p.Room.Lease.TeamID
		s.LeaseHolder = &holder
	}
	for _, t := range p.Teams {
		s.Teams = append(s.Teams, TeamState{ID: t.ID, Name: t.Name, Score: t.Score, IsActive: t.IsActive})
	}

	byCategory := make(map[uuid.UUID][]QuestionState)
	for _, q := range p.Questions {
		byCategory[q.CategoryID] = append(byCategory[q.CategoryID], questionState(q, false))
	}
	for _, c := range p.Categories {
		if c.Round == models.RoundFinal {
			continue
		}
		s.Board = append(s.Board, CategoryState{ID: c.ID, Name: c.Name, Questions: byCategory[c.ID]})
	}

	if q, ok := p.CurrentQuestion(); ok && p.Room.Status != models.RoomStatusFinalJeopardy {
		cur := questionState(q, true)
		s.CurrentQuestion = &cur
		for _, b := range p.Buzzes {
			s.Buzzes = append(s.Buzzes, BuzzState{ID: b.ID, TeamID: b.TeamID, BuzzedAt: b.BuzzedAt, Status: b.Status, Response: b.Response})
		}
	}
	if pv := p.Preview; pv != nil {
		s.Preview = newTimerState(pv.QuestionID, pv.TeamID, timer.New(pv.StartedAt, pv.Duration), now)
	}
	if j := p.Judging; j != nil {
		s.Judging = newTimerState(j.BuzzID, j.TeamID, timer.New(j.StartedAt, j.Duration), now)
	}
	if p.Final != nil {
		s.Final = finalState(p.Final, now)
	}
	return s
}

func questionState(q models.Question, withClue bool) QuestionState {
	qs := QuestionState{
		ID:         q.ID,
		CategoryID: q.CategoryID,
		PointValue: q.Points(),
		IsAnswered: q.IsAnswered,
		AnsweredBy: q.AnsweredBy,
	}
	if withClue {
		qs.Clue = q.Clue
	}
	return qs
}

func finalState(f *clientsync.FinalView, now time.Time) *FinalState {
	fs := &FinalState{
		Category: f.Category,
		Expired:  f.Expired,
		Locked:   []uuid.UUID{},
	}
	for id, locked := range f.Locked {
		if locked {
			fs.Locked = append(fs.Locked, id)
		}
	}
	sort.Slice(fs.Locked, func(i, j int) bool { return fs.Locked[i].String() < fs.Locked[j].String() })

	if f.QuestionID != nil {
		fs.Clue = f.Clue
		if f.Timer != nil {
			fs.Timer = newTimerState(*f.QuestionID, uuid.Nil, *f.Timer, now)
		}
	}
	for id, r := range f.Revealed {
		rs := FinalResponseState{TeamID: id, Position: r.Position, Response: r.Response, Wager: r.Wager}
		if j, ok := f.Judged[id]; ok {
			score := j.NewScore
			rs.Result = j.Result
			rs.NewScore = &score
		}
		fs.Responses = append(fs.Responses, rs)
	}
	sort.Slice(fs.Responses, func(i, j int) bool { return fs.Responses[i].Position < fs.Responses[j].Position })
	return fs
}
