package controller

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/buzzer/go/internal/events"
	"github.com/mcdev12/buzzer/go/internal/game/phase"
	"github.com/mcdev12/buzzer/go/internal/models"
	"github.com/mcdev12/buzzer/go/internal/store"
	"github.com/mcdev12/buzzer/go/internal/store/memstore"
)

// toFinal plays nothing and forces the room into the final round with the
// given scores applied first.
func (h *harness) toFinal(scores map[string]int) {
	h.t.Helper()
	for name, s := range scores {
		_, err := h.store.AdjustScore(h.ctx, h.teamID(name), s)
		require.NoError(h.t, err)
	}
	h.start(h.firstTeam())
	require.NoError(h.t, h.ctrl.AdvanceRound(h.ctx, true, nil))
	require.NoError(h.t, h.ctrl.StartFinal(h.ctx, true))
}

func (h *harness) firstTeam() string {
	var first string
	var order int64 = -1
	for name, t := range h.teams {
		if order < 0 || t.JoinOrder < order {
			first, order = name, t.JoinOrder
		}
	}
	return first
}

func (h *harness) lockWager(name string, amount int) models.Wager {
	h.t.Helper()
	w, err := h.store.LockWager(h.ctx, h.room.ID, h.teamID(name), amount)
	require.NoError(h.t, err)
	return *w
}

func (h *harness) wager(name string) models.Wager {
	h.t.Helper()
	wagers, err := h.store.ListWagers(h.ctx, h.room.ID)
	require.NoError(h.t, err)
	for _, w := range wagers {
		if w.TeamID == h.teamID(name) {
			return w
		}
	}
	h.t.Fatalf("no wager for %s", name)
	return models.Wager{}
}

func (h *harness) waitStage(stage FinalStage) FinalStatus {
	h.t.Helper()
	var st FinalStatus
	require.Eventually(h.t, func() bool {
		var ok bool
		st, ok = h.ctrl.Final()
		return ok && st.Stage == stage
	}, waitFor, 5*time.Millisecond)
	return st
}

func TestController_FinalRound(t *testing.T) {
	h := newHarness(t)
	h.setup("A", "B", "C", "D")
	h.toFinal(map[string]int{"A": 500, "B": 100, "C": 400, "D": 100})

	// B and D tie at 100; B joined first and keeps the third seat.
	require.Eventually(t, func() bool { return h.log.count(events.PhaseChanged) == 3 }, waitFor, 5*time.Millisecond)
	p, err := events.Decode(h.log.named(events.PhaseChanged)[2])
	require.NoError(t, err)
	cut := p.(*events.PhaseChangedPayload)
	assert.Equal(t, []uuid.UUID{h.teamID("A"), h.teamID("C"), h.teamID("B")}, cut.Advancing)
	assert.Equal(t, []uuid.UUID{h.teamID("D")}, cut.Eliminated)

	d, err := h.store.GetTeam(h.ctx, h.teamID("D"))
	require.NoError(t, err)
	assert.False(t, d.IsActive)
	assert.Nil(t, h.reloadRoom().Lease)

	assert.Equal(t, 400, h.lockWager("C", 600).Amount, "wager is clamped to the score")
	assert.Equal(t, 200, h.lockWager("A", 200).Amount)

	err = h.ctrl.RevealFinalQuestion(h.ctx, false)
	require.ErrorIs(t, err, ErrWagersPending)
	require.NoError(t, h.ctrl.RevealFinalQuestion(h.ctx, true))

	assert.Equal(t, 0, h.wager("B").Amount, "forced reveal locks missing wagers at zero")

	require.NoError(t, h.store.SetWagerResponse(h.ctx, h.room.ID, h.teamID("A"), "Tesla"))
	require.NoError(t, h.store.SetWagerResponse(h.ctx, h.room.ID, h.teamID("C"), "Edison"))

	require.NoError(t, h.clock.BlockUntilContext(h.ctx, 1))
	h.clock.Advance(90 * time.Second)
	require.Eventually(t, func() bool { return h.log.count(events.FinalTimerExpired) == 1 }, waitFor, 5*time.Millisecond)

	// Review waits out the auto-save grace.
	require.NoError(t, h.clock.BlockUntilContext(h.ctx, 1))
	st, _ := h.ctrl.Final()
	assert.Equal(t, StageQuestion, st.Stage)
	h.clock.Advance(AutoSubmitGrace)

	st = h.waitStage(StageReview)
	assert.Equal(t, []uuid.UUID{h.teamID("B"), h.teamID("C"), h.teamID("A")}, st.Order)

	_, err = h.ctrl.JudgeFinal(h.ctx, h.teamID("A"), true)
	require.ErrorIs(t, err, ErrNotReviewTeam)

	shown, err := h.ctrl.RevealNextFinal(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, h.teamID("B"), shown.TeamID)
	assert.Equal(t, 1, shown.Position)

	res, err := h.ctrl.JudgeFinal(h.ctx, h.teamID("B"), false)
	require.NoError(t, err)
	assert.Equal(t, 100, res.NewScore)

	// Judging without an explicit reveal reveals first.
	res, err = h.ctrl.JudgeFinal(h.ctx, h.teamID("C"), true)
	require.NoError(t, err)
	assert.Equal(t, 800, res.NewScore)
	require.Eventually(t, func() bool { return h.log.count(events.FinalResponseRevealed) == 2 }, waitFor, 5*time.Millisecond)

	res, err = h.ctrl.JudgeFinal(h.ctx, h.teamID("A"), false)
	require.NoError(t, err)
	assert.Equal(t, 300, res.NewScore)

	room := h.reloadRoom()
	assert.Equal(t, models.RoomStatusFinished, room.Status)
	assert.Nil(t, room.CurrentQuestionID)

	require.Eventually(t, func() bool { return h.log.count(events.GameOver) == 1 }, waitFor, 5*time.Millisecond)
	p, err = events.Decode(h.log.named(events.GameOver)[0])
	require.NoError(t, err)
	var order []uuid.UUID
	var values []int
	for _, s := range p.(*events.GameOverPayload).Scores {
		order = append(order, s.TeamID)
		values = append(values, s.Score)
	}
	assert.Equal(t, []uuid.UUID{h.teamID("C"), h.teamID("A"), h.teamID("B"), h.teamID("D")}, order)
	assert.Equal(t, []int{800, 300, 100, 100}, values)

	d, err = h.store.GetTeam(h.ctx, h.teamID("D"))
	require.NoError(t, err)
	assert.False(t, d.IsActive, "eliminated teams stay inactive")

	_, err = h.ctrl.JudgeFinal(h.ctx, h.teamID("A"), true)
	assert.ErrorIs(t, err, ErrRoomFinished)
}

func TestController_FinalRevealRules(t *testing.T) {
	h := newHarness(t)
	h.setup("A", "B")

	err := h.ctrl.RevealFinalQuestion(h.ctx, true)
	assert.ErrorIs(t, err, ErrWrongStage)

	h.toFinal(map[string]int{"A": 300})
	h.lockWager("A", 100)
	h.lockWager("B", 50)

	_, err = h.ctrl.RevealNextFinal(h.ctx)
	assert.ErrorIs(t, err, ErrWrongStage)

	require.NoError(t, h.ctrl.RevealFinalQuestion(h.ctx, false))
	assert.ErrorIs(t, h.ctrl.RevealFinalQuestion(h.ctx, false), ErrWrongStage)

	// B had no points, so its wager clamps to zero.
	assert.Equal(t, 0, h.wager("B").Amount)

	require.Eventually(t, func() bool { return h.log.count(events.FinalQuestionRevealed) == 1 }, waitFor, 5*time.Millisecond)
	p, err := events.Decode(h.log.named(events.FinalQuestionRevealed)[0])
	require.NoError(t, err)
	revealed := p.(*events.FinalQuestionRevealedPayload)
	assert.False(t, revealed.Forced)
	assert.Equal(t, "Inventors", revealed.Category)
	assert.Equal(t, 90*time.Second, revealed.Duration)
}

func TestController_FinalResumesInReview(t *testing.T) {
	h := newHarness(t)
	h.setup("A", "B")
	h.toFinal(map[string]int{"A": 300, "B": 100})
	h.lockWager("A", 100)
	h.lockWager("B", 100)
	require.NoError(t, h.ctrl.RevealFinalQuestion(h.ctx, false))

	require.NoError(t, h.clock.BlockUntilContext(h.ctx, 1))
	h.clock.Advance(90 * time.Second)
	require.NoError(t, h.clock.BlockUntilContext(h.ctx, 1))
	h.clock.Advance(AutoSubmitGrace)
	h.waitStage(StageReview)

	_, err := h.ctrl.JudgeFinal(h.ctx, h.teamID("B"), true)
	require.NoError(t, err)
	assert.Equal(t, 200, h.score("B"))

	// A fresh controller picks the review up where the first one stopped,
	// ordering by the scores at timer expiry rather than the current ones.
	h.ctrl.Close()
	h.ctrl = New(Config{Clock: h.clock, Store: h.store, Bus: h.bus})
	t.Cleanup(h.ctrl.Close)
	_, err = h.ctrl.Resume(h.ctx, nil)
	require.NoError(t, err)

	st := h.waitStage(StageReview)
	assert.Equal(t, []uuid.UUID{h.teamID("B"), h.teamID("A")}, st.Order)
	assert.Equal(t, 1, st.Next)

	_, err = h.ctrl.JudgeFinal(h.ctx, h.teamID("A"), true)
	require.NoError(t, err)
	assert.Equal(t, 400, h.score("A"))
	assert.Equal(t, models.RoomStatusFinished, h.reloadRoom().Status)
}

// stuckFinalStore refuses to enter the final round, either by losing the
// status swap or by failing outright.
type stuckFinalStore struct {
	*memstore.Store
	err error
}

func (s stuckFinalStore) EnterFinal(context.Context, uuid.UUID, []uuid.UUID) (bool, error) {
	return false, s.err
}

func TestController_StartFinalKeepsTeamsWhenRoomDoesNotMove(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{name: "lost status swap"},
		{name: "write failure", err: errors.New("connection reset")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarnessWith(t, func(st *memstore.Store) store.Store { return stuckFinalStore{Store: st, err: tt.err} })
			h.setup("A", "B", "C", "D")
			h.start("A")
			require.NoError(t, h.ctrl.AdvanceRound(h.ctx, true, nil))

			err := h.ctrl.StartFinal(h.ctx, true)
			require.Error(t, err)
			if tt.err == nil {
				assert.ErrorIs(t, err, phase.ErrInvalidTransition)
			}

			teams, err := h.store.ListTeams(h.ctx, h.room.ID)
			require.NoError(t, err)
			for _, team := range teams {
				assert.True(t, team.IsActive, team.Name)
			}
			assert.Equal(t, models.RoomStatusRound2, h.reloadRoom().Status)
			_, ok := h.ctrl.Final()
			assert.False(t, ok)
		})
	}
}
