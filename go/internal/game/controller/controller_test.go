package controller

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/buzzer/go/internal/events"
	"github.com/mcdev12/buzzer/go/internal/game/buzzq"
	"github.com/mcdev12/buzzer/go/internal/game/lease"
	"github.com/mcdev12/buzzer/go/internal/game/phase"
	"github.com/mcdev12/buzzer/go/internal/game/timer"
	"github.com/mcdev12/buzzer/go/internal/models"
)

func TestController_CreateRoomRetiresOthers(t *testing.T) {
	h := newHarness(t)
	first, err := h.ctrl.CreateRoom(h.ctx)
	require.NoError(t, err)

	closed := &eventLog{}
	_, err = h.bus.Subscribe(first.ID, closed.add)
	require.NoError(t, err)

	second, err := h.ctrl.CreateRoom(h.ctx)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
	assert.NotEqual(t, first.JoinCode, second.JoinCode)
	assert.Equal(t, 1, h.store.LiveRoomCount())

	require.Eventually(t, func() bool { return closed.count(events.RoomClosed) == 1 }, waitFor, 5*time.Millisecond)
	var p events.RoomClosedPayload
	require.NoError(t, json.Unmarshal(closed.named(events.RoomClosed)[0].Payload, &p))
	assert.Equal(t, first.ID, p.RoomID)
	assert.Equal(t, events.ReasonRetired, p.Reason)

	hosted, err := h.ctrl.Room()
	require.NoError(t, err)
	assert.Equal(t, second.ID, hosted.ID)
}

func TestController_StartGame(t *testing.T) {
	t.Run("needs two teams", func(t *testing.T) {
		h := newHarness(t)
		h.setup("Owls")
		assert.ErrorIs(t, h.ctrl.StartGame(h.ctx, nil), phase.ErrNotEnoughTeams)
	})

	t.Run("needs content", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.ctrl.CreateRoom(h.ctx)
		require.NoError(t, err)
		room, _ := h.ctrl.Room()
		for _, name := range []string{"Owls", "Foxes"} {
			_, err := h.store.CreateTeam(h.ctx, room.ID, name, name)
			require.NoError(t, err)
		}
		assert.ErrorIs(t, h.ctrl.StartGame(h.ctx, nil), phase.ErrNoContent)
	})

	t.Run("grants the lease to the first team", func(t *testing.T) {
		h := newHarness(t)
		h.setup("Owls", "Foxes")
		require.NoError(t, h.ctrl.StartGame(h.ctx, nil))

		room := h.reloadRoom()
		assert.Equal(t, models.RoomStatusRound1, room.Status)
		require.NotNil(t, room.Lease)
		assert.Equal(t, h.teamID("Owls"), room.Lease.TeamID)

		require.Eventually(t, func() bool {
			return h.log.count(events.PhaseChanged) == 1 && h.log.count(events.LeaseChanged) == 1
		}, waitFor, 5*time.Millisecond)

		assert.ErrorIs(t, h.ctrl.StartGame(h.ctx, nil), ErrNotInLobby)
	})
}

func TestController_WrongAdvancesToNextBuzz(t *testing.T) {
	h := newHarness(t)
	h.setup("P", "Q")
	h.start("P")
	q := h.board[models.RoundOne][0]
	h.activate("P", q)

	h.clock.Advance(80 * time.Millisecond)
	buzzP := h.buzz("P", q)
	h.clock.Advance(20 * time.Millisecond)
	buzzQ := h.buzz("Q", q)

	// Arrival order is irrelevant; the store timestamp decides.
	h.announceBuzz("Q", buzzQ)
	h.announceBuzz("P", buzzP)
	var st PlayStatus
	require.Eventually(t, func() bool {
		var ok bool
		st, ok = h.ctrl.Play()
		return ok && st.Judging != nil && st.Judging.BuzzID == buzzP.ID && len(st.Queue) == 2
	}, waitFor, 5*time.Millisecond)
	assert.Equal(t, buzzP.ID, st.Queue[0].ID)
	assert.Equal(t, buzzQ.ID, st.Queue[1].ID)

	h.clock.Advance(5 * time.Second)
	require.NoError(t, h.ctrl.Judge(h.ctx, buzzP.ID, buzzq.VerdictWrong))

	assert.Equal(t, models.BuzzStatusWrong, h.buzzStatus(buzzP.ID))
	assert.Equal(t, -200, h.score("P"))

	st, ok := h.ctrl.Play()
	require.True(t, ok)
	require.NotNil(t, st.Judging)
	assert.Equal(t, buzzQ.ID, st.Judging.BuzzID)
	assert.True(t, h.clock.Now().Equal(st.Judging.StartedAt), "judging timer is freshly issued")
	assert.Equal(t, timer.Judging, st.Judging.Duration)

	require.Eventually(t, func() bool { return h.log.count(events.JudgingStarted) == 2 }, waitFor, 5*time.Millisecond)
}

func TestController_CorrectAwardsPointsAndLease(t *testing.T) {
	h := newHarness(t)
	h.setup("P", "Q")
	_, err := h.store.AdjustScore(h.ctx, h.teamID("Q"), 300)
	require.NoError(t, err)
	h.start("P")
	q := h.board[models.RoundOne][0]
	h.activate("P", q)

	buzzP := h.buzz("P", q)
	h.clock.Advance(20 * time.Millisecond)
	buzzQ := h.buzz("Q", q)
	h.announceBuzz("P", buzzP)
	h.waitJudging(buzzP.ID)

	require.NoError(t, h.ctrl.Judge(h.ctx, buzzP.ID, buzzq.VerdictWrong))
	require.NoError(t, h.ctrl.Judge(h.ctx, buzzQ.ID, buzzq.VerdictCorrect))

	assert.Equal(t, 500, h.score("Q"))
	answered := h.question(q.ID)
	assert.True(t, answered.IsAnswered)
	require.NotNil(t, answered.AnsweredBy)
	assert.Equal(t, h.teamID("Q"), *answered.AnsweredBy)

	room := h.reloadRoom()
	assert.Nil(t, room.CurrentQuestionID)
	require.NotNil(t, room.Lease)
	assert.Equal(t, h.teamID("Q"), room.Lease.TeamID)

	_, ok := h.ctrl.Play()
	assert.False(t, ok)
	require.Eventually(t, func() bool {
		return h.log.count(events.QuestionDeactivated) == 1 && h.log.count(events.TimerCancelled) == 1
	}, waitFor, 5*time.Millisecond)
}

func TestController_ExhaustedByJudgingLapse(t *testing.T) {
	h := newHarness(t)
	h.setup("P", "Q")
	h.start("P")
	q := h.board[models.RoundOne][1]
	h.activate("P", q)

	buzzP := h.buzz("P", q)
	h.announceBuzz("P", buzzP)
	h.waitJudging(buzzP.ID)

	require.NoError(t, h.clock.BlockUntilContext(h.ctx, 1))
	h.clock.Advance(timer.Judging)

	require.Eventually(t, func() bool { _, ok := h.ctrl.Play(); return !ok }, waitFor, 5*time.Millisecond)

	answered := h.question(q.ID)
	assert.True(t, answered.IsAnswered)
	assert.Nil(t, answered.AnsweredBy)
	assert.Nil(t, h.reloadRoom().Lease)
	assert.Equal(t, 0, h.score("P"))
	assert.Equal(t, 0, h.score("Q"))
	assert.Equal(t, models.BuzzStatusExpired, h.buzzStatus(buzzP.ID))
}

func TestController_ExhaustedWhenEveryoneWrong(t *testing.T) {
	h := newHarness(t)
	h.setup("P", "Q")
	h.start("P")
	q := h.board[models.RoundOne][0]
	h.activate("P", q)

	buzzP := h.buzz("P", q)
	h.announceBuzz("P", buzzP)
	h.waitJudging(buzzP.ID)
	require.NoError(t, h.ctrl.Judge(h.ctx, buzzP.ID, buzzq.VerdictWrong))

	answered := h.question(q.ID)
	assert.True(t, answered.IsAnswered)
	assert.Nil(t, answered.AnsweredBy)
	assert.Nil(t, h.reloadRoom().Lease)
	assert.Equal(t, -200, h.score("P"))
}

func TestController_TeamReportedExpiry(t *testing.T) {
	h := newHarness(t)
	h.setup("P", "Q")
	h.start("P")
	q := h.board[models.RoundOne][0]
	h.activate("P", q)

	buzzP := h.buzz("P", q)
	h.announceBuzz("P", buzzP)
	h.waitJudging(buzzP.ID)

	ok, err := h.store.TransitionBuzz(h.ctx, buzzP.ID, models.BuzzStatusPending, models.BuzzStatusExpired)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, h.teamPub("P").Emit(h.ctx, h.room.ID, events.BuzzExpired, events.BuzzExpiredPayload{
		BuzzID: buzzP.ID,
		TeamID: h.teamID("P"),
	}))

	require.Eventually(t, func() bool { return h.question(q.ID).IsAnswered }, waitFor, 5*time.Millisecond)
	assert.Equal(t, 0, h.score("P"))
}

func TestController_JudgeRules(t *testing.T) {
	h := newHarness(t)
	h.setup("P", "Q")
	h.start("P")
	q := h.board[models.RoundOne][0]
	h.activate("P", q)

	buzzP := h.buzz("P", q)
	h.clock.Advance(time.Millisecond)
	buzzQ := h.buzz("Q", q)
	h.clock.Advance(time.Millisecond)
	h.announceBuzz("P", buzzP)
	h.waitJudging(buzzP.ID)

	t.Run("second buzz by the same team is rejected", func(t *testing.T) {
		_, err := h.store.InsertBuzz(h.ctx, h.room.ID, q.ID, h.teamID("P"))
		assert.Error(t, err)
	})

	t.Run("only the earliest pending buzz may be judged", func(t *testing.T) {
		err := h.ctrl.Judge(h.ctx, buzzQ.ID, buzzq.VerdictCorrect)
		assert.ErrorIs(t, err, buzzq.ErrNotCurrent)
		assert.Equal(t, 0, h.score("Q"))
	})

	t.Run("repeated ruling scores once", func(t *testing.T) {
		require.NoError(t, h.ctrl.Judge(h.ctx, buzzP.ID, buzzq.VerdictWrong))
		err := h.ctrl.Judge(h.ctx, buzzP.ID, buzzq.VerdictWrong)
		assert.ErrorIs(t, err, ErrAlreadyJudged)
		assert.Equal(t, -200, h.score("P"))
	})

	t.Run("ruling lost to a concurrent writer", func(t *testing.T) {
		h.waitJudging(buzzQ.ID)
		ok, err := h.store.TransitionBuzz(h.ctx, buzzQ.ID, models.BuzzStatusPending, models.BuzzStatusCorrect)
		require.NoError(t, err)
		require.True(t, ok)

		err = h.ctrl.Judge(h.ctx, buzzQ.ID, buzzq.VerdictCorrect)
		assert.ErrorIs(t, err, ErrAlreadyJudged)
		assert.Equal(t, 0, h.score("Q"))
	})
}

func TestController_DuplicateActivationIsNoop(t *testing.T) {
	h := newHarness(t)
	h.setup("P", "Q")
	h.start("P")
	q := h.board[models.RoundOne][0]
	h.activate("P", q)

	buzzP := h.buzz("P", q)
	h.announceBuzz("P", buzzP)
	before := h.waitJudging(buzzP.ID)

	changed, err := lease.Activate(h.ctx, h.store, h.teamPub("P"), h.room.ID, q.ID, lease.ByTeam)
	require.NoError(t, err)
	assert.False(t, changed)

	// A redelivered activation event must not restart anything either.
	require.NoError(t, h.teamPub("P").Emit(h.ctx, h.room.ID, events.QuestionActivated,
		events.QuestionActivatedPayload{QuestionID: q.ID, By: lease.ByTeam}))
	require.Eventually(t, func() bool { return h.log.count(events.QuestionActivated) == 2 }, waitFor, 5*time.Millisecond)

	after, ok := h.ctrl.Play()
	require.True(t, ok)
	assert.Equal(t, before.Judging, after.Judging)
	assert.Never(t, func() bool { return h.log.count(events.JudgingStarted) > 1 }, 50*time.Millisecond, 5*time.Millisecond)
	assert.Equal(t, q.ID, *h.reloadRoom().CurrentQuestionID)
}

func TestController_StaleActivationAfterResolve(t *testing.T) {
	h := newHarness(t)
	h.setup("P", "Q")
	h.start("P")
	q := h.board[models.RoundOne][0]
	h.activate("P", q)

	buzzP := h.buzz("P", q)
	h.announceBuzz("P", buzzP)
	h.waitJudging(buzzP.ID)
	require.NoError(t, h.ctrl.Judge(h.ctx, buzzP.ID, buzzq.VerdictCorrect))
	_, ok := h.ctrl.Play()
	require.False(t, ok)

	// A late copy of the original activation arrives after the question resolved.
	require.NoError(t, h.teamPub("P").Emit(h.ctx, h.room.ID, events.QuestionActivated,
		events.QuestionActivatedPayload{QuestionID: q.ID, By: lease.ByTeam}))
	require.Eventually(t, func() bool { return h.log.count(events.QuestionActivated) == 2 }, waitFor, 5*time.Millisecond)

	assert.Never(t, func() bool { _, ok := h.ctrl.Play(); return ok }, 100*time.Millisecond, 5*time.Millisecond)
	assert.Nil(t, h.reloadRoom().CurrentQuestionID)
	assert.NoError(t, h.ctrl.AdvanceRound(h.ctx, true, nil))
}

func TestController_PhaseChangeCancelsPreview(t *testing.T) {
	h := newHarness(t)
	h.setup("P", "Q")
	h.start("P")
	q := h.board[models.RoundOne][1]

	require.NoError(t, h.teamPub("P").Emit(h.ctx, h.room.ID, events.QuestionPreview, events.QuestionPreviewPayload{
		QuestionID: q.ID,
		TeamID:     h.teamID("P"),
		StartedAt:  h.clock.Now(),
		Duration:   timer.SelectionPreview,
	}))
	require.Eventually(t, func() bool { return h.ctrl.fallback.Armed(h.room.ID) }, waitFor, 5*time.Millisecond)

	require.NoError(t, h.ctrl.AdvanceRound(h.ctx, true, nil))
	assert.False(t, h.ctrl.fallback.Armed(h.room.ID))
	require.Eventually(t, func() bool { return h.log.count(events.TimerCancelled) == 1 }, waitFor, 5*time.Millisecond)
	p, err := events.Decode(h.log.named(events.TimerCancelled)[0])
	require.NoError(t, err)
	assert.Equal(t, &events.TimerCancelledPayload{Timer: events.TimerPreview, RefID: q.ID}, p)

	// The team's own write at the end of its countdown no longer lands.
	h.clock.Advance(timer.SelectionPreview)
	changed, err := lease.Activate(h.ctx, h.store, h.teamPub("P"), h.room.ID, q.ID, lease.ByTeam)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Nil(t, h.reloadRoom().CurrentQuestionID)
	assert.Never(t, func() bool { _, ok := h.ctrl.Play(); return ok }, 50*time.Millisecond, 5*time.Millisecond)
}

func TestController_FallbackActivates(t *testing.T) {
	h := newHarness(t)
	h.setup("P", "Q")
	h.start("P")
	q := h.board[models.RoundOne][1]

	require.NoError(t, h.teamPub("P").Emit(h.ctx, h.room.ID, events.QuestionPreview, events.QuestionPreviewPayload{
		QuestionID:   q.ID,
		TeamID:       h.teamID("P"),
		CategoryName: "Space",
		PointValue:   400,
		StartedAt:    h.clock.Now(),
		Duration:     timer.SelectionPreview,
	}))

	require.NoError(t, h.clock.BlockUntilContext(h.ctx, 1))
	h.clock.Advance(timer.SelectionPreview)

	require.Eventually(t, func() bool {
		st, ok := h.ctrl.Play()
		return ok && st.Question.ID == q.ID
	}, waitFor, 5*time.Millisecond)

	room := h.reloadRoom()
	require.NotNil(t, room.CurrentQuestionID)
	assert.Equal(t, q.ID, *room.CurrentQuestionID)

	require.Eventually(t, func() bool { return h.log.count(events.QuestionActivated) == 1 }, waitFor, 5*time.Millisecond)
	ev := h.log.named(events.QuestionActivated)[0]
	assert.Equal(t, Sender, ev.Sender)
}

func TestController_PreviewFromNonHolderIgnored(t *testing.T) {
	h := newHarness(t)
	h.setup("P", "Q")
	h.start("P")
	q := h.board[models.RoundOne][1]

	require.NoError(t, h.teamPub("Q").Emit(h.ctx, h.room.ID, events.QuestionPreview, events.QuestionPreviewPayload{
		QuestionID: q.ID,
		TeamID:     h.teamID("Q"),
		StartedAt:  h.clock.Now(),
		Duration:   timer.SelectionPreview,
	}))
	require.Eventually(t, func() bool { return h.log.count(events.QuestionPreview) == 1 }, waitFor, 5*time.Millisecond)

	assert.Never(t, func() bool { return h.ctrl.fallback.Armed(h.room.ID) }, 50*time.Millisecond, 5*time.Millisecond)
}

func TestController_SkipQuestion(t *testing.T) {
	h := newHarness(t)
	h.setup("P", "Q")
	h.start("P")
	assert.ErrorIs(t, h.ctrl.SkipQuestion(h.ctx), ErrNoActiveQuestion)

	q := h.board[models.RoundOne][0]
	h.activate("P", q)
	buzzP := h.buzz("P", q)
	h.announceBuzz("P", buzzP)
	h.waitJudging(buzzP.ID)

	require.NoError(t, h.ctrl.SkipQuestion(h.ctx))
	assert.Equal(t, models.BuzzStatusSkipped, h.buzzStatus(buzzP.ID))
	assert.True(t, h.question(q.ID).IsAnswered)
	assert.Nil(t, h.reloadRoom().Lease)
}

func TestController_AdvanceRound(t *testing.T) {
	h := newHarness(t)
	h.setup("P", "Q")
	h.start("P")

	assert.ErrorIs(t, h.ctrl.AdvanceRound(h.ctx, false, nil), phase.ErrRoundIncomplete)

	_, err := h.store.AdjustScore(h.ctx, h.teamID("P"), 600)
	require.NoError(t, err)
	require.NoError(t, h.ctrl.AdvanceRound(h.ctx, true, nil))

	room := h.reloadRoom()
	assert.Equal(t, models.RoomStatusRound2, room.Status)
	require.NotNil(t, room.Lease)
	assert.Equal(t, h.teamID("Q"), room.Lease.TeamID, "trailing team picks first")
}

func TestController_CloseAndReset(t *testing.T) {
	h := newHarness(t)
	h.setup("P", "Q")

	fresh, err := h.ctrl.ResetRoom(h.ctx)
	require.NoError(t, err)
	assert.NotEqual(t, h.room.ID, fresh.ID)

	old, err := h.store.GetRoom(h.ctx, h.room.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RoomStatusFinished, old.Status)

	qs, err := h.store.ListQuestions(h.ctx, fresh.ID, models.RoundOne)
	require.NoError(t, err)
	assert.Len(t, qs, 2)
	require.Eventually(t, func() bool { return h.log.count(events.RoomClosed) == 1 }, waitFor, 5*time.Millisecond)

	require.NoError(t, h.ctrl.CloseRoom(h.ctx))
	closed, err := h.store.GetRoom(h.ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RoomStatusFinished, closed.Status)
	assert.Equal(t, 0, h.store.LiveRoomCount())

	_, err = h.ctrl.Room()
	assert.ErrorIs(t, err, ErrNoRoom)
}

func TestController_CloseDropsReconnectHook(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, 1, h.bus.ReconnectHookCount())
	h.ctrl.Close()
	assert.Zero(t, h.bus.ReconnectHookCount())
}

func TestController_ResumeRebuildsPlay(t *testing.T) {
	h := newHarness(t)
	h.setup("P", "Q")
	h.start("P")
	q := h.board[models.RoundOne][0]
	h.activate("P", q)
	buzzP := h.buzz("P", q)
	h.announceBuzz("P", buzzP)
	h.waitJudging(buzzP.ID)

	restarted := New(Config{Clock: h.clock, Store: h.store, Bus: h.bus})
	t.Cleanup(restarted.Close)
	h.ctrl.Close()

	room, err := restarted.Resume(h.ctx, nil)
	require.NoError(t, err)
	require.NotNil(t, room.Lease)
	assert.Equal(t, h.teamID("P"), room.Lease.TeamID)

	st, ok := restarted.Play()
	require.True(t, ok)
	assert.Equal(t, q.ID, st.Question.ID)
	require.NotNil(t, st.Judging)
	assert.Equal(t, buzzP.ID, st.Judging.BuzzID)

	missing := uuid.New()
	_, err = restarted.Resume(h.ctx, &missing)
	assert.Error(t, err)
}
