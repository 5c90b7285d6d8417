package clientsync

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/mcdev12/buzzer/go/internal/events"
	"github.com/mcdev12/buzzer/go/internal/game/phase"
	"github.com/mcdev12/buzzer/go/internal/game/timer"
	"github.com/mcdev12/buzzer/go/internal/models"
)

// Projection is one client's view of a room. It is rebuilt from the store on
// resync and kept current in between by folding events into it. Folding the
// same event twice leaves it as folding it once.
type Projection struct {
	Room       models.Room       `json:"room"`
	Teams      []models.Team     `json:"teams"`
	Categories []models.Category `json:"categories"`
	Questions  []models.Question `json:"questions"`
	Buzzes     []models.Buzz     `json:"buzzes"`

	Preview *events.QuestionPreviewPayload `json:"preview,omitempty"`
	Judging *events.JudgingStartedPayload  `json:"judging,omitempty"`
	Final   *FinalView                     `json:"final,omitempty"`

	GameOver     bool      `json:"game_over"`
	ClosedReason string    `json:"closed_reason,omitempty"`
	SyncedAt     time.Time `json:"synced_at"`

	leaseStamp *time.Time
}

// FinalView is the final round as seen by one client.
type FinalView struct {
	Locked     map[uuid.UUID]bool                                `json:"locked"`
	QuestionID *uuid.UUID                                        `json:"question_id,omitempty"`
	Clue       string                                            `json:"clue,omitempty"`
	Category   string                                            `json:"category,omitempty"`
	Timer      *timer.Timer                                      `json:"timer,omitempty"`
	Expired    bool                                              `json:"expired"`
	Revealed   map[uuid.UUID]events.FinalResponseRevealedPayload `json:"revealed,omitempty"`
	Judged     map[uuid.UUID]events.FinalJudgedPayload          `json:"judged,omitempty"`
}

func newFinalView() *FinalView {
	return &FinalView{
		Locked:   make(map[uuid.UUID]bool),
		Revealed: make(map[uuid.UUID]events.FinalResponseRevealedPayload),
		Judged:   make(map[uuid.UUID]events.FinalJudgedPayload),
	}
}

// Scores is the score table sorted by score descending, ties by join order.
func (p *Projection) Scores() []models.TeamScore {
	return phase.ScoreTable(p.Teams)
}

// Team returns the team with id.
func (p *Projection) Team(id uuid.UUID) (models.Team, bool) {
	for _, t := range p.Teams {
		if t.ID == id {
			return t, true
		}
	}
	return models.Team{}, false
}

// Question returns the question with id from the loaded round.
func (p *Projection) Question(id uuid.UUID) (models.Question, bool) {
	for _, q := range p.Questions {
		if q.ID == id {
			return q, true
		}
	}
	return models.Question{}, false
}

// CurrentQuestion returns the active question, if it is in the loaded round.
func (p *Projection) CurrentQuestion() (models.Question, bool) {
	if p.Room.CurrentQuestionID == nil {
		return models.Question{}, false
	}
	return p.Question(*p.Room.CurrentQuestionID)
}

// Clone returns a deep copy safe to hand to another goroutine.
func (p *Projection) Clone() Projection {
	c := *p
	c.Teams = append([]models.Team(nil), p.Teams...)
	c.Categories = append([]models.Category(nil), p.Categories...)
	c.Questions = append([]models.Question(nil), p.Questions...)
	c.Buzzes = append([]models.Buzz(nil), p.Buzzes...)
	if p.Final != nil {
		f := *p.Final
		f.Locked = make(map[uuid.UUID]bool, len(p.Final.Locked))
		for k, v := range p.Final.Locked {
			f.Locked[k] = v
		}
		f.Revealed = make(map[uuid.UUID]events.FinalResponseRevealedPayload, len(p.Final.Revealed))
		for k, v := range p.Final.Revealed {
			f.Revealed[k] = v
		}
		f.Judged = make(map[uuid.UUID]events.FinalJudgedPayload, len(p.Final.Judged))
		for k, v := range p.Final.Judged {
			f.Judged[k] = v
		}
		c.Final = &f
	}
	return c
}

var statusRank = map[models.RoomStatus]int{
	models.RoomStatusLobby:         0,
	models.RoomStatusRound1:        1,
	models.RoomStatusRound2:        2,
	models.RoomStatusFinalJeopardy: 3,
	models.RoomStatusFinished:      4,
}

// Apply folds one decoded event into the projection. It reports whether the
// event refers to rows the projection has not loaded, in which case the
// caller should resync.
func (p *Projection) Apply(payload any) (resync bool) {
	switch e := payload.(type) {
	case *events.PhaseChangedPayload:
		if statusRank[e.To] <= statusRank[p.Room.Status] {
			return false
		}
		p.Room.Status = e.To
		p.Preview = nil
		p.Judging = nil
		for _, id := range e.Eliminated {
			p.setTeam(id, func(t *models.Team) { t.IsActive = false })
		}
		if e.To == models.RoomStatusFinalJeopardy && p.Final == nil {
			p.Final = newFinalView()
		}
		// The next round's board is not in the event.
		return phase.IsBoardRound(e.To) || e.To == models.RoomStatusFinalJeopardy

	case *events.QuestionPreviewPayload:
		if p.Room.CurrentQuestionID != nil || !phase.IsBoardRound(p.Room.Status) {
			return false
		}
		prev := *e
		p.Preview = &prev

	case *events.QuestionActivatedPayload:
		if q, ok := p.Question(e.QuestionID); ok && q.IsAnswered {
			return false
		}
		if p.Room.CurrentQuestionID == nil || *p.Room.CurrentQuestionID != e.QuestionID {
			id := e.QuestionID
			p.Room.CurrentQuestionID = &id
			p.Buzzes = nil
			p.Judging = nil
		}
		p.Preview = nil
		_, known := p.Question(e.QuestionID)
		return !known

	case *events.QuestionDeactivatedPayload:
		p.setQuestion(e.QuestionID, func(q *models.Question) {
			q.IsAnswered = true
			q.AnsweredBy = e.AnsweredBy
		})
		if p.Room.CurrentQuestionID != nil && *p.Room.CurrentQuestionID == e.QuestionID {
			p.Room.CurrentQuestionID = nil
			p.Judging = nil
		}
		if p.Preview != nil && p.Preview.QuestionID == e.QuestionID {
			p.Preview = nil
		}

	case *events.JudgingStartedPayload:
		if p.Room.CurrentQuestionID == nil || *p.Room.CurrentQuestionID != e.QuestionID {
			return true
		}
		if p.Judging != nil && p.Judging.StartedAt.After(e.StartedAt) {
			return false
		}
		j := *e
		p.Judging = &j

	case *events.TimerCancelledPayload:
		switch e.Timer {
		case events.TimerJudging:
			if p.Judging != nil && p.Judging.BuzzID == e.RefID {
				p.Judging = nil
			}
		case events.TimerPreview:
			if p.Preview != nil && p.Preview.QuestionID == e.RefID {
				p.Preview = nil
			}
		case events.TimerFinal:
			if p.Final != nil {
				p.Final.Timer = nil
			}
		}

	case *events.ScoreUpdatedPayload:
		for _, s := range e.Scores {
			score := s.Score
			p.setTeam(s.TeamID, func(t *models.Team) { t.Score = score })
		}

	case *events.LeaseChangedPayload:
		if p.leaseStamp != nil && p.leaseStamp.After(e.GrantedAt) {
			return false
		}
		stamp := e.GrantedAt
		p.leaseStamp = &stamp
		if e.TeamID == nil {
			p.Room.Lease = nil
		} else {
			p.Room.Lease = &models.Lease{TeamID: *e.TeamID, GrantedAt: e.GrantedAt}
		}

	case *events.FinalWagerLockedPayload:
		p.final().Locked[e.TeamID] = true

	case *events.FinalQuestionRevealedPayload:
		f := p.final()
		id := e.QuestionID
		t := timer.New(e.StartedAt, e.Duration)
		f.QuestionID = &id
		f.Clue = e.Clue
		f.Category = e.Category
		f.Timer = &t
		p.Room.CurrentQuestionID = &id

	case *events.FinalTimerExpiredPayload:
		p.final().Expired = true

	case *events.FinalResponseRevealedPayload:
		p.final().Revealed[e.TeamID] = *e

	case *events.FinalJudgedPayload:
		p.final().Judged[e.TeamID] = *e
		score := e.NewScore
		p.setTeam(e.TeamID, func(t *models.Team) { t.Score = score })

	case *events.GameOverPayload:
		p.GameOver = true
		p.Room.Status = models.RoomStatusFinished
		p.Room.CurrentQuestionID = nil
		for _, s := range e.Scores {
			score := s.Score
			p.setTeam(s.TeamID, func(t *models.Team) { t.Score = score })
		}

	case *events.RoomClosedPayload:
		p.ClosedReason = e.Reason

	case *events.BuzzReceivedPayload:
		if p.Room.CurrentQuestionID == nil || *p.Room.CurrentQuestionID != e.QuestionID {
			return false
		}
		for _, b := range p.Buzzes {
			if b.ID == e.BuzzID {
				return false
			}
		}
		p.Buzzes = append(p.Buzzes, models.Buzz{
			ID:         e.BuzzID,
			QuestionID: e.QuestionID,
			TeamID:     e.TeamID,
			RoomID:     p.Room.ID,
			BuzzedAt:   e.BuzzedAt,
			Status:     models.BuzzStatusPending,
		})
		sort.SliceStable(p.Buzzes, func(i, j int) bool { return p.Buzzes[i].BuzzedAt.Before(p.Buzzes[j].BuzzedAt) })

	case *events.BuzzResponsePayload:
		resp := e.Response
		p.setBuzz(e.BuzzID, func(b *models.Buzz) { b.Response = &resp })

	case *events.BuzzExpiredPayload:
		p.setBuzz(e.BuzzID, func(b *models.Buzz) {
			if b.Status == models.BuzzStatusPending {
				b.Status = models.BuzzStatusExpired
			}
		})

	case *events.TeamJoinedPayload:
		if _, ok := p.Team(e.Team.ID); ok {
			return false
		}
		p.Teams = append(p.Teams, e.Team)
		phase.SortByJoinOrder(p.Teams)
	}
	return false
}

// merge carries the event-only parts of prev over a freshly loaded
// projection where the store still agrees with them.
func (p *Projection) merge(prev *Projection) {
	if prev == nil || prev.Room.ID != p.Room.ID {
		return
	}
	p.GameOver = prev.GameOver
	p.ClosedReason = prev.ClosedReason
	p.leaseStamp = prev.leaseStamp

	if prev.Preview != nil && p.Room.CurrentQuestionID == nil && phase.IsBoardRound(p.Room.Status) &&
		p.Room.HoldsLease(prev.Preview.TeamID) {
		if q, ok := p.Question(prev.Preview.QuestionID); ok && !q.IsAnswered {
			p.Preview = prev.Preview
		}
	}
	if prev.Judging != nil && p.Room.CurrentQuestionID != nil && *p.Room.CurrentQuestionID == prev.Judging.QuestionID {
		for _, b := range p.Buzzes {
			if b.ID == prev.Judging.BuzzID && b.Status == models.BuzzStatusPending {
				p.Judging = prev.Judging
			}
		}
	}
	if prev.Final != nil && p.Final != nil {
		f := p.Final
		if f.QuestionID == nil || (prev.Final.QuestionID != nil && *prev.Final.QuestionID == *f.QuestionID) {
			f.Timer = prev.Final.Timer
			f.Expired = f.Expired || prev.Final.Expired
			if f.QuestionID == nil {
				f.QuestionID = prev.Final.QuestionID
			}
		}
		for k, v := range prev.Final.Revealed {
			if _, ok := f.Revealed[k]; !ok {
				f.Revealed[k] = v
			}
		}
		for k, v := range prev.Final.Judged {
			if _, ok := f.Judged[k]; !ok {
				f.Judged[k] = v
			}
		}
	}
}

func (p *Projection) final() *FinalView {
	if p.Final == nil {
		p.Final = newFinalView()
	}
	return p.Final
}

func (p *Projection) setTeam(id uuid.UUID, fn func(*models.Team)) {
	for i := range p.Teams {
		if p.Teams[i].ID == id {
			fn(&p.Teams[i])
			return
		}
	}
}

func (p *Projection) setQuestion(id uuid.UUID, fn func(*models.Question)) {
	for i := range p.Questions {
		if p.Questions[i].ID == id {
			fn(&p.Questions[i])
			return
		}
	}
}

func (p *Projection) setBuzz(id uuid.UUID, fn func(*models.Buzz)) {
	for i := range p.Buzzes {
		if p.Buzzes[i].ID == id {
			fn(&p.Buzzes[i])
			return
		}
	}
}
