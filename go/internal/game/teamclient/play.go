package teamclient

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/buzzer/go/internal/clientsync"
	"github.com/mcdev12/buzzer/go/internal/events"
	"github.com/mcdev12/buzzer/go/internal/game/phase"
	"github.com/mcdev12/buzzer/go/internal/game/timer"
	"github.com/mcdev12/buzzer/go/internal/models"
	"github.com/mcdev12/buzzer/go/internal/store"
)

// Buzz claims the active question for the team. The store stamps the buzz
// time; the controller judges buzzes strictly in that order.
func (c *Client) Buzz(ctx context.Context) (*models.Buzz, error) {
	sess, p, err := c.current()
	if err != nil {
		return nil, err
	}
	if !phase.IsBoardRound(p.Room.Status) || p.Room.CurrentQuestionID == nil {
		return nil, ErrNoQuestion
	}
	if err := requireActive(sess, p); err != nil {
		return nil, err
	}

	b, err := c.store.InsertBuzz(ctx, sess.RoomID, *p.Room.CurrentQuestionID, sess.TeamID)
	switch {
	case errors.Is(err, store.ErrDuplicateBuzz):
		return nil, ErrAlreadyBuzzed
	case errors.Is(err, store.ErrQuestionNotActive):
		return nil, ErrNoQuestion
	case err != nil:
		return nil, fmt.Errorf("failed to buzz: %w", err)
	}

	c.emit(ctx, events.BuzzReceived, events.BuzzReceivedPayload{
		BuzzID:     b.ID,
		QuestionID: b.QuestionID,
		TeamID:     b.TeamID,
		BuzzedAt:   b.BuzzedAt,
	})
	log.Info().
		Str("room_id", sess.RoomID.String()).
		Str("buzz_id", b.ID.String()).
		Time("buzzed_at", b.BuzzedAt).
		Msg("buzzed")
	return b, nil
}

// SubmitResponse records the team's typed answer on its pending buzz.
func (c *Client) SubmitResponse(ctx context.Context, buzzID uuid.UUID, response string) error {
	sess, _, err := c.current()
	if err != nil {
		return err
	}
	if err := c.store.SetBuzzResponse(ctx, buzzID, sess.TeamID, response); err != nil {
		return fmt.Errorf("failed to submit response: %w", err)
	}
	c.emit(ctx, events.BuzzResponse, events.BuzzResponsePayload{BuzzID: buzzID, TeamID: sess.TeamID, Response: response})
	return nil
}

// SelectQuestion previews questionID while the team holds the lease. The
// question is activated when the preview ends.
func (c *Client) SelectQuestion(ctx context.Context, questionID uuid.UUID) (events.QuestionPreviewPayload, error) {
	sess, p, err := c.current()
	if err != nil {
		return events.QuestionPreviewPayload{}, err
	}
	round := phase.RoundFor(p.Room.Status)
	if !phase.IsBoardRound(p.Room.Status) {
		return events.QuestionPreviewPayload{}, ErrWrongPhase
	}

	// The lease and current question are checked against the store, not the projection.
	room, err := c.store.GetRoom(ctx, sess.RoomID)
	if err != nil {
		return events.QuestionPreviewPayload{}, fmt.Errorf("failed to load room: %w", err)
	}
	q, err := c.store.GetQuestion(ctx, questionID)
	if err != nil {
		return events.QuestionPreviewPayload{}, fmt.Errorf("failed to load question: %w", err)
	}
	if q.RoomID != room.ID {
		return events.QuestionPreviewPayload{}, ErrUnknownContent
	}
	cat, ok := category(p, q.CategoryID)
	if !ok {
		return events.QuestionPreviewPayload{}, ErrUnknownContent
	}

	c.mu.Lock()
	sel := c.selector
	c.mu.Unlock()
	if sel == nil {
		return events.QuestionPreviewPayload{}, ErrNoSession
	}
	// The activation at preview end outlives the caller's request.
	return sel.Preview(c.base, room, q, &cat, round)
}

func category(p clientsync.Projection, id uuid.UUID) (models.Category, bool) {
	for _, cat := range p.Categories {
		if cat.ID == id {
			return cat, true
		}
	}
	return models.Category{}, false
}

// trackJudgingLocked runs this team's judging countdown while one of its
// buzzes is under judgment.
func (c *Client) trackJudgingLocked(p clientsync.Projection) {
	j := p.Judging
	if j == nil || j.TeamID != c.session.TeamID {
		c.stopJudgingLocked()
		return
	}
	if c.judging != nil && c.judging.buzzID == j.BuzzID {
		return
	}
	c.stopJudgingLocked()

	buzzID, roomID := j.BuzzID, c.session.RoomID
	t := timer.New(j.StartedAt, j.Duration)
	c.judging = &ownJudging{buzzID: buzzID}
	c.judging.countdown = timer.Start(c.clock, t, nil, func() {
		go c.judgingExpired(roomID, buzzID)
	})
}

func (c *Client) stopJudgingLocked() {
	if c.judging == nil {
		return
	}
	if c.judging.countdown != nil {
		c.judging.countdown.Cancel()
	}
	c.judging = nil
}

// judgingExpired self-reports the lapse of the team's own judging window.
// The compare-and-swap leaves a buzz the controller already ruled on alone.
func (c *Client) judgingExpired(roomID, buzzID uuid.UUID) {
	c.mu.Lock()
	current := c.session != nil && c.session.RoomID == roomID && c.judging != nil && c.judging.buzzID == buzzID
	if current {
		c.judging = nil
	}
	c.mu.Unlock()
	if !current {
		return
	}

	ctx := c.base
	ok, err := c.store.TransitionBuzz(ctx, buzzID, models.BuzzStatusPending, models.BuzzStatusExpired)
	if err != nil {
		log.Error().Err(err).Str("buzz_id", buzzID.String()).Msg("failed to expire own buzz")
		return
	}
	if !ok {
		return
	}
	c.metrics.RecordTimerExpired(events.TimerJudging)

	c.mu.Lock()
	teamID := uuid.Nil
	if c.session != nil {
		teamID = c.session.TeamID
	}
	c.mu.Unlock()
	c.emit(ctx, events.BuzzExpired, events.BuzzExpiredPayload{BuzzID: buzzID, TeamID: teamID})
	log.Info().Str("buzz_id", buzzID.String()).Msg("judging window lapsed")
}
