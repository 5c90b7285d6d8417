package controller

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/buzzer/go/internal/events"
	"github.com/mcdev12/buzzer/go/internal/game/buzzq"
	"github.com/mcdev12/buzzer/go/internal/game/lease"
	"github.com/mcdev12/buzzer/go/internal/game/phase"
	"github.com/mcdev12/buzzer/go/internal/game/timer"
	"github.com/mcdev12/buzzer/go/internal/models"
)

// play is the active board question and its buzz queue.
type play struct {
	question models.Question
	queue    *buzzq.Queue
	judging  *judging
}

// judging is the timer running for the buzz under judgment.
type judging struct {
	buzzID uuid.UUID
	teamID uuid.UUID
	timer  timer.Timer
	stop   clockwork.Timer
	gen    uint64
}

// refreshPlay reconciles the active question with the room row. It is safe
// to call any number of times: a question that is already in play only has
// its queue reloaded.
func (c *Controller) refreshPlay(ctx context.Context) error {
	cur := c.room.CurrentQuestionID
	switch {
	case cur == nil:
		if c.play != nil {
			c.stopJudging(ctx, false)
			c.play = nil
		}
		return nil
	case c.play != nil && c.play.question.ID == *cur:
		if err := c.reloadQueue(ctx); err != nil {
			return err
		}
		c.syncJudging(ctx)
		return nil
	}
	return c.beginPlay(ctx, *cur)
}

// beginPlay takes over questionID as the active question. Side effects are
// keyed by question id so a duplicate activation does nothing.
func (c *Controller) beginPlay(ctx context.Context, questionID uuid.UUID) error {
	if c.play != nil && c.play.question.ID == questionID {
		return nil
	}
	q, err := c.store.GetQuestion(ctx, questionID)
	if err != nil {
		return fmt.Errorf("failed to load question: %w", err)
	}
	if q.IsAnswered {
		log.Warn().
			Str("room_id", c.room.ID.String()).
			Str("question_id", q.ID.String()).
			Msg("refusing to play an answered question")
		return nil
	}
	if c.play != nil {
		c.stopJudging(ctx, false)
	}
	c.fallback.Disarm(c.room.ID)
	c.play = &play{question: *q, queue: buzzq.New(q.ID, nil)}
	if err := c.reloadQueue(ctx); err != nil {
		return err
	}
	log.Info().
		Str("room_id", c.room.ID.String()).
		Str("question_id", q.ID.String()).
		Int("point_value", q.Points()).
		Msg("question in play")
	c.syncJudging(ctx)
	return nil
}

func (c *Controller) reloadQueue(ctx context.Context) error {
	if c.play == nil {
		return nil
	}
	buzzes, err := c.store.ListBuzzes(ctx, c.play.question.ID)
	if err != nil {
		return fmt.Errorf("failed to list buzzes: %w", err)
	}
	c.play.queue = buzzq.New(c.play.question.ID, buzzes)
	return nil
}

// syncJudging makes sure the earliest pending buzz, and only it, is under
// judgment. A judged buzz that expired behind our back exhausts the question,
// so c.play may be nil on return.
func (c *Controller) syncJudging(ctx context.Context) {
	if j := c.play.judging; j != nil {
		if st, ok := c.play.queue.Status(j.buzzID); ok && st == models.BuzzStatusExpired {
			c.stopJudging(ctx, false)
			c.metrics.RecordTimerExpired("judging_reported")
			log.Info().
				Str("room_id", c.room.ID.String()).
				Str("buzz_id", j.buzzID.String()).
				Msg("judged buzz expired by team")
			if err := c.resolve(ctx, nil); err != nil {
				log.Error().Err(err).Str("room_id", c.room.ID.String()).Msg("failed to exhaust question")
			}
			return
		}
	}
	cur, ok := c.play.queue.Current()
	if !ok {
		c.stopJudging(ctx, false)
		return
	}
	if j := c.play.judging; j != nil && j.buzzID == cur.ID {
		return
	}
	c.startJudging(ctx, cur)
}

func (c *Controller) startJudging(ctx context.Context, b models.Buzz) {
	c.stopJudging(ctx, false)

	c.gen++
	gen := c.gen
	t := timer.New(c.clock.Now(), c.timings.Judging)
	j := &judging{buzzID: b.ID, teamID: b.TeamID, timer: t, gen: gen}
	j.stop = c.clock.AfterFunc(t.Duration, func() { c.judgingLapsed(gen) })
	c.play.judging = j

	c.emit(ctx, events.JudgingStarted, events.JudgingStartedPayload{
		QuestionID: c.play.question.ID,
		BuzzID:     b.ID,
		TeamID:     b.TeamID,
		StartedAt:  t.StartedAt,
		Duration:   t.Duration,
	})
	log.Debug().
		Str("room_id", c.room.ID.String()).
		Str("buzz_id", b.ID.String()).
		Str("team_id", b.TeamID.String()).
		Msg("judging started")
}

// stopJudging ends the running judging timer. announce broadcasts the early stop.
func (c *Controller) stopJudging(ctx context.Context, announce bool) {
	if c.play == nil || c.play.judging == nil {
		return
	}
	j := c.play.judging
	j.stop.Stop()
	c.play.judging = nil
	if announce {
		c.emit(ctx, events.TimerCancelled, events.TimerCancelledPayload{Timer: events.TimerJudging, RefID: j.buzzID})
	}
}

func (c *Controller) judgingLapsed(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.play == nil || c.play.judging == nil || c.play.judging.gen != gen {
		return
	}
	ctx := c.base
	j := c.play.judging
	c.play.judging = nil
	c.metrics.RecordTimerExpired(events.TimerJudging)

	expired, err := c.store.TransitionBuzz(ctx, j.buzzID, models.BuzzStatusPending, models.BuzzStatusExpired)
	if err != nil {
		log.Error().Err(err).Str("buzz_id", j.buzzID.String()).Msg("failed to expire buzz")
		return
	}
	if expired {
		c.emit(ctx, events.BuzzExpired, events.BuzzExpiredPayload{BuzzID: j.buzzID, TeamID: j.teamID})
	}
	log.Info().
		Str("room_id", c.room.ID.String()).
		Str("buzz_id", j.buzzID.String()).
		Msg("judging timer lapsed")
	if err := c.resolve(ctx, nil); err != nil {
		log.Error().Err(err).Str("room_id", c.room.ID.String()).Msg("failed to exhaust question")
	}
}

// buzzExpiredByTeam handles a team reporting that its own judging window ran out.
func (c *Controller) buzzExpiredByTeam(ctx context.Context) {
	if c.play == nil {
		return
	}
	if err := c.reloadQueue(ctx); err != nil {
		log.Error().Err(err).Msg("failed to reload queue")
		return
	}
	c.syncJudging(ctx)
}

// Judge rules on buzzID. Only the earliest pending buzz may be judged and
// the status change is a compare-and-swap, so a repeated ruling fails with
// ErrAlreadyJudged instead of scoring twice.
func (c *Controller) Judge(ctx context.Context, buzzID uuid.UUID, verdict buzzq.Verdict) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.requireRoom(); err != nil {
		return err
	}
	if c.play == nil {
		return ErrNoActiveQuestion
	}
	// Buzz inserts may not have reached us yet.
	if err := c.reloadQueue(ctx); err != nil {
		return err
	}
	c.syncJudging(ctx)
	if c.play == nil {
		return ErrNoActiveQuestion
	}
	if err := c.play.queue.CheckJudgeable(buzzID); err != nil {
		if errors.Is(err, buzzq.ErrNotPending) {
			return fmt.Errorf("%w: %v", ErrAlreadyJudged, err)
		}
		return err
	}
	cur, _ := c.play.queue.Current()

	var to models.BuzzStatus
	switch verdict {
	case buzzq.VerdictCorrect:
		to = models.BuzzStatusCorrect
	case buzzq.VerdictWrong:
		to = models.BuzzStatusWrong
	default:
		return fmt.Errorf("unknown verdict %q", verdict)
	}

	ok, err := c.store.TransitionBuzz(ctx, buzzID, models.BuzzStatusPending, to)
	if err != nil {
		return fmt.Errorf("failed to judge buzz: %w", err)
	}
	if !ok {
		if err := c.reloadQueue(ctx); err == nil {
			c.syncJudging(ctx)
		}
		return ErrAlreadyJudged
	}

	outcome, err := c.play.queue.Judge(buzzID, verdict, c.play.question.Points())
	if err != nil {
		return err
	}
	c.stopJudging(ctx, verdict == buzzq.VerdictCorrect)
	c.metrics.RecordJudgment(string(verdict))

	if _, err := c.store.AdjustScore(ctx, cur.TeamID, outcome.ScoreDelta); err != nil {
		return fmt.Errorf("failed to adjust score: %w", err)
	}
	scores, err := c.scores(ctx)
	if err != nil {
		return err
	}
	qid := c.play.question.ID
	c.emit(ctx, events.ScoreUpdated, events.ScoreUpdatedPayload{
		QuestionID: &qid,
		TeamID:     cur.TeamID,
		Delta:      outcome.ScoreDelta,
		Scores:     scores,
	})

	log.Info().
		Str("room_id", c.room.ID.String()).
		Str("buzz_id", buzzID.String()).
		Str("team_id", cur.TeamID.String()).
		Str("verdict", string(verdict)).
		Int("delta", outcome.ScoreDelta).
		Msg("buzz judged")

	switch {
	case outcome.Next != nil:
		c.startJudging(ctx, *outcome.Next)
		return nil
	case outcome.Resolved:
		return c.resolve(ctx, outcome.AnsweredBy)
	}
	return nil
}

// SkipQuestion closes the active question with no winner.
func (c *Controller) SkipQuestion(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.requireRoom(); err != nil {
		return err
	}
	if c.play == nil {
		return ErrNoActiveQuestion
	}
	c.stopJudging(ctx, true)
	c.metrics.RecordJudgment("skipped")
	return c.resolve(ctx, nil)
}

// resolve finishes the active question. With a winner the lease passes to
// it; without one the question is exhausted and the lease is cleared.
func (c *Controller) resolve(ctx context.Context, answeredBy *uuid.UUID) error {
	if c.play == nil {
		return nil
	}
	qid := c.play.question.ID
	c.stopJudging(ctx, false)

	if _, err := c.store.SkipPendingBuzzes(ctx, qid); err != nil {
		return fmt.Errorf("failed to skip buzzes: %w", err)
	}
	if _, err := c.store.MarkAnswered(ctx, qid, answeredBy); err != nil {
		return fmt.Errorf("failed to mark question answered: %w", err)
	}
	if _, err := c.store.ClearQuestion(ctx, c.room.ID, qid); err != nil {
		return fmt.Errorf("failed to clear question: %w", err)
	}
	c.play = nil
	c.room.CurrentQuestionID = nil

	if answeredBy == nil {
		c.metrics.RecordJudgment("exhausted")
	}
	c.emit(ctx, events.QuestionDeactivated, events.QuestionDeactivatedPayload{QuestionID: qid, AnsweredBy: answeredBy})
	return c.grantLease(ctx, answeredBy)
}

// runFallback activates the previewed question when the leased team did not.
func (c *Controller) runFallback(ctx context.Context, roomID uuid.UUID, p events.QuestionPreviewPayload) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.room == nil || c.room.ID != roomID || !phase.IsBoardRound(c.room.Status) {
		return
	}
	if c.play != nil && c.play.question.ID == p.QuestionID {
		return
	}
	room, err := c.store.GetRoom(ctx, roomID)
	if err != nil {
		log.Error().Err(err).Str("room_id", roomID.String()).Msg("fallback failed to load room")
		return
	}
	c.room = room
	if room.CurrentQuestionID != nil {
		// The team's write landed but its event did not reach us.
		if err := c.refreshPlay(ctx); err != nil {
			log.Error().Err(err).Msg("fallback failed to refresh play")
		}
		return
	}
	if !room.HoldsLease(p.TeamID) {
		log.Warn().Str("room_id", roomID.String()).Msg("lease moved during preview, not activating")
		return
	}
	q, err := c.store.GetQuestion(ctx, p.QuestionID)
	if err != nil || q.IsAnswered || q.RoomID != roomID {
		log.Warn().Err(err).Str("question_id", p.QuestionID.String()).Msg("previewed question not activatable")
		return
	}

	changed, err := lease.Activate(ctx, c.store, c.pub, roomID, p.QuestionID, lease.ByController)
	if err != nil {
		log.Error().Err(err).Str("room_id", roomID.String()).Msg("fallback activation failed")
		return
	}
	if !changed {
		if err := c.rebuild(ctx); err != nil {
			log.Error().Err(err).Msg("fallback failed to refresh play")
		}
		return
	}
	c.room.CurrentQuestionID = &p.QuestionID
	if err := c.beginPlay(ctx, p.QuestionID); err != nil {
		log.Error().Err(err).Msg("failed to begin play after fallback")
	}
}

// PlayStatus is a read-only view of the active question.
type PlayStatus struct {
	Question models.Question               `json:"question"`
	Queue    []models.Buzz                 `json:"queue"`
	Judging  *events.JudgingStartedPayload `json:"judging,omitempty"`
}

// Play returns the active question, or false when none is in play.
func (c *Controller) Play() (PlayStatus, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.play == nil {
		return PlayStatus{}, false
	}
	st := PlayStatus{Question: c.play.question, Queue: c.play.queue.All()}
	if j := c.play.judging; j != nil {
		st.Judging = &events.JudgingStartedPayload{
			QuestionID: c.play.question.ID,
			BuzzID:     j.buzzID,
			TeamID:     j.teamID,
			StartedAt:  j.timer.StartedAt,
			Duration:   j.timer.Duration,
		}
	}
	return st, true
}
