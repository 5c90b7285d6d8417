package clientsync

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/mcdev12/buzzer/go/internal/events"
	"github.com/mcdev12/buzzer/go/internal/models"
)

func boardProjection() (*Projection, []models.Team, models.Question) {
	roomID := uuid.New()
	teams := []models.Team{
		{ID: uuid.New(), RoomID: roomID, Name: "P", IsActive: true, JoinOrder: 1},
		{ID: uuid.New(), RoomID: roomID, Name: "Q", IsActive: true, JoinOrder: 2},
	}
	pts := 200
	q := models.Question{ID: uuid.New(), RoomID: roomID, Clue: "c", PointValue: &pts}
	p := &Projection{
		Room:      models.Room{ID: roomID, Status: models.RoomStatusRound1},
		Teams:     append([]models.Team(nil), teams...),
		Questions: []models.Question{q},
	}
	return p, teams, q
}

func TestProjection_ApplyTwiceEqualsOnce(t *testing.T) {
	base := time.Date(2024, 5, 4, 19, 0, 0, 0, time.UTC)
	_, teams, q := boardProjection()
	buzzID := uuid.New()
	qp := teams[0].ID

	stream := []any{
		&events.LeaseChangedPayload{TeamID: &qp, GrantedAt: base},
		&events.QuestionPreviewPayload{QuestionID: q.ID, TeamID: qp, StartedAt: base, Duration: 10 * time.Second},
		&events.QuestionActivatedPayload{QuestionID: q.ID, By: "team"},
		&events.BuzzReceivedPayload{BuzzID: buzzID, QuestionID: q.ID, TeamID: teams[1].ID, BuzzedAt: base.Add(time.Second)},
		&events.JudgingStartedPayload{QuestionID: q.ID, BuzzID: buzzID, TeamID: teams[1].ID, StartedAt: base.Add(time.Second), Duration: 30 * time.Second},
		&events.BuzzResponsePayload{BuzzID: buzzID, TeamID: teams[1].ID, Response: "Mars"},
		&events.ScoreUpdatedPayload{TeamID: teams[1].ID, Delta: 200, Scores: []models.TeamScore{{TeamID: teams[1].ID, Score: 200}, {TeamID: qp}}},
		&events.TimerCancelledPayload{Timer: events.TimerJudging, RefID: buzzID},
		&events.QuestionDeactivatedPayload{QuestionID: q.ID, AnsweredBy: &teams[1].ID},
	}

	fresh := func() *Projection {
		return &Projection{
			Room:      models.Room{ID: q.RoomID, Status: models.RoomStatusRound1},
			Teams:     append([]models.Team(nil), teams...),
			Questions: []models.Question{q},
		}
	}
	for i, ev := range stream {
		once, twice := fresh(), fresh()
		for _, prior := range stream[:i] {
			once.Apply(prior)
			twice.Apply(prior)
		}
		once.Apply(ev)
		twice.Apply(ev)
		twice.Apply(ev)
		assert.Equal(t, once.Clone(), twice.Clone(), "%T", ev)
	}
}

func TestProjection_FoldsPlay(t *testing.T) {
	base := time.Date(2024, 5, 4, 19, 0, 0, 0, time.UTC)
	p, teams, q := boardProjection()
	first, second := uuid.New(), uuid.New()

	p.Apply(&events.QuestionActivatedPayload{QuestionID: q.ID})
	// Delivered out of order; the queue follows store timestamps.
	p.Apply(&events.BuzzReceivedPayload{BuzzID: second, QuestionID: q.ID, TeamID: teams[1].ID, BuzzedAt: base.Add(20 * time.Millisecond)})
	p.Apply(&events.BuzzReceivedPayload{BuzzID: first, QuestionID: q.ID, TeamID: teams[0].ID, BuzzedAt: base})
	if assert.Len(t, p.Buzzes, 2) {
		assert.Equal(t, first, p.Buzzes[0].ID)
	}

	p.Apply(&events.BuzzExpiredPayload{BuzzID: first, TeamID: teams[0].ID})
	assert.Equal(t, models.BuzzStatusExpired, p.Buzzes[0].Status)

	p.Apply(&events.QuestionDeactivatedPayload{QuestionID: q.ID})
	assert.Nil(t, p.Room.CurrentQuestionID)
	cur, _ := p.Question(q.ID)
	assert.True(t, cur.IsAnswered)
	assert.Nil(t, cur.AnsweredBy)
}

func TestProjection_IgnoresStaleEvents(t *testing.T) {
	base := time.Date(2024, 5, 4, 19, 0, 0, 0, time.UTC)
	p, teams, _ := boardProjection()

	p.Apply(&events.PhaseChangedPayload{From: models.RoomStatusRound1, To: models.RoomStatusRound2})
	assert.False(t, p.Apply(&events.PhaseChangedPayload{From: models.RoomStatusLobby, To: models.RoomStatusRound1}))
	assert.Equal(t, models.RoomStatusRound2, p.Room.Status)

	newer, older := teams[0].ID, teams[1].ID
	p.Apply(&events.LeaseChangedPayload{TeamID: &newer, GrantedAt: base.Add(time.Minute)})
	p.Apply(&events.LeaseChangedPayload{TeamID: &older, GrantedAt: base})
	assert.True(t, p.Room.HoldsLease(newer))
}

func TestProjection_LateActivationOfAnsweredQuestion(t *testing.T) {
	p, teams, q := boardProjection()
	p.Apply(&events.QuestionActivatedPayload{QuestionID: q.ID})
	p.Apply(&events.QuestionDeactivatedPayload{QuestionID: q.ID, AnsweredBy: &teams[0].ID})

	assert.False(t, p.Apply(&events.QuestionActivatedPayload{QuestionID: q.ID}))
	assert.Nil(t, p.Room.CurrentQuestionID)
	_, live := p.CurrentQuestion()
	assert.False(t, live)
}

func TestProjection_FinalRound(t *testing.T) {
	base := time.Date(2024, 5, 4, 19, 0, 0, 0, time.UTC)
	p, teams, _ := boardProjection()
	p.Room.Status = models.RoomStatusRound2

	resync := p.Apply(&events.PhaseChangedPayload{
		From:       models.RoomStatusRound2,
		To:         models.RoomStatusFinalJeopardy,
		Advancing:  []uuid.UUID{teams[0].ID},
		Eliminated: []uuid.UUID{teams[1].ID},
	})
	assert.True(t, resync, "final content is loaded from the store")
	q, _ := p.Team(teams[1].ID)
	assert.False(t, q.IsActive)

	p.Apply(&events.FinalWagerLockedPayload{TeamID: teams[0].ID})
	qid := uuid.New()
	p.Apply(&events.FinalQuestionRevealedPayload{QuestionID: qid, Clue: "clue", StartedAt: base, Duration: 90 * time.Second})
	p.Apply(&events.FinalTimerExpiredPayload{QuestionID: qid})
	p.Apply(&events.FinalJudgedPayload{TeamID: teams[0].ID, Result: models.WagerStatusCorrect, Wager: 100, NewScore: 300})

	assert.True(t, p.Final.Locked[teams[0].ID])
	assert.True(t, p.Final.Expired)
	assert.Equal(t, base.Add(90*time.Second), p.Final.Timer.Deadline())
	a, _ := p.Team(teams[0].ID)
	assert.Equal(t, 300, a.Score)

	p.Apply(&events.GameOverPayload{Scores: []models.TeamScore{{TeamID: teams[0].ID, Score: 300}}})
	assert.True(t, p.GameOver)
	assert.Equal(t, models.RoomStatusFinished, p.Room.Status)
	assert.Equal(t, teams[0].ID, p.Scores()[0].TeamID)
}
