package teamclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/buzzer/go/internal/clientsync"
	"github.com/mcdev12/buzzer/go/internal/events"
	"github.com/mcdev12/buzzer/go/internal/game/timer"
	"github.com/mcdev12/buzzer/go/internal/models"
	"github.com/mcdev12/buzzer/go/internal/store"
)

var (
	ErrWagerLocked   = errors.New("wager is already locked")
	ErrFinalNotOpen  = errors.New("final question is not open for responses")
	ErrNoWagerLocked = errors.New("lock a wager before responding")
)

// finalDraft is the team's in-progress final response. Once frozen the
// response for questionID can no longer change from this client.
type finalDraft struct {
	questionID *uuid.UUID
	countdown  *timer.Countdown
	deadline   time.Time
	text       string
	edited     bool
	saved      *string
	frozen     bool
}

// closedLocked reports whether the response window is over by the local
// clock or because the draft was already auto-saved.
func (c *Client) closedLocked() bool {
	if c.final.frozen {
		return true
	}
	return !c.final.deadline.IsZero() && !c.clock.Now().Before(c.final.deadline)
}

func (f *finalDraft) stop() {
	if f.countdown != nil {
		f.countdown.Cancel()
	}
}

// LockWager stakes amount on the final question. The store clamps it to
// [0, max(score, 0)] and the clamped wager is returned.
func (c *Client) LockWager(ctx context.Context, amount int) (*models.Wager, error) {
	sess, p, err := c.current()
	if err != nil {
		return nil, err
	}
	if p.Room.Status != models.RoomStatusFinalJeopardy {
		return nil, ErrWrongPhase
	}
	if err := requireActive(sess, p); err != nil {
		return nil, err
	}

	w, err := c.store.LockWager(ctx, sess.RoomID, sess.TeamID, amount)
	if errors.Is(err, store.ErrWagerLocked) {
		return nil, ErrWagerLocked
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock wager: %w", err)
	}
	c.emit(ctx, events.FinalWagerLocked, events.FinalWagerLockedPayload{TeamID: sess.TeamID})

	log.Info().
		Str("room_id", sess.RoomID.String()).
		Int("requested", amount).
		Int("locked", w.Amount).
		Msg("wager locked")
	return w, nil
}

// SetFinalDraft keeps the response being typed. It is saved automatically
// when the final timer runs out and rejected with ErrFinalNotOpen after that.
func (c *Client) SetFinalDraft(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closedLocked() {
		return ErrFinalNotOpen
	}
	c.final.text = text
	c.final.edited = true
	return nil
}

// SubmitFinalResponse saves text as the team's final response. Later
// submissions before the timer runs out replace it.
func (c *Client) SubmitFinalResponse(ctx context.Context, text string) error {
	sess, p, err := c.current()
	if err != nil {
		return err
	}
	f := p.Final
	if f == nil || f.QuestionID == nil || f.Expired {
		return ErrFinalNotOpen
	}
	if f.Timer != nil && f.Timer.Expired(c.clock.Now()) {
		return ErrFinalNotOpen
	}
	if err := requireActive(sess, p); err != nil {
		return err
	}
	if err := c.SetFinalDraft(text); err != nil {
		return err
	}
	return c.saveFinal(ctx, sess, text)
}

func (c *Client) saveFinal(ctx context.Context, sess Session, text string) error {
	err := c.store.SetWagerResponse(ctx, sess.RoomID, sess.TeamID, text)
	if errors.Is(err, store.ErrNotFound) {
		return ErrNoWagerLocked
	}
	if err != nil {
		return fmt.Errorf("failed to save final response: %w", err)
	}
	c.mu.Lock()
	saved := text
	c.final.saved = &saved
	c.mu.Unlock()
	return nil
}

// trackFinalLocked starts the local final countdown once the clue is
// revealed and auto-saves the draft when it runs out or when the controller
// announces expiry, whichever is seen first. The auto-save happens once.
func (c *Client) trackFinalLocked(p clientsync.Projection) {
	f := p.Final
	if f == nil || f.QuestionID == nil || f.Timer == nil {
		return
	}
	if t, ok := p.Team(c.session.TeamID); !ok || !t.IsActive {
		return
	}
	qid := *f.QuestionID
	if c.final.questionID == nil || *c.final.questionID != qid {
		c.final.stop()
		c.final.questionID = &qid
		c.final.deadline = f.Timer.Deadline()
		c.final.countdown = nil
		c.final.frozen = false
		if !f.Expired {
			sess := *c.session
			c.final.countdown = timer.Start(c.clock, *f.Timer, nil, func() {
				go c.autoSave(sess, qid)
			})
		}
	}
	if f.Expired && !c.final.frozen {
		sess := *c.session
		go c.autoSave(sess, qid)
	}
}

// autoSave submits the current draft at expiry, whether or not the team
// submitted explicitly, and freezes the response. A draft that was never
// edited in this session does not overwrite what the store holds.
func (c *Client) autoSave(sess Session, questionID uuid.UUID) {
	c.mu.Lock()
	if c.session == nil || c.session.RoomID != sess.RoomID {
		c.mu.Unlock()
		return
	}
	if c.final.frozen || c.final.questionID == nil || *c.final.questionID != questionID {
		c.mu.Unlock()
		return
	}
	c.final.frozen = true
	text := c.final.text
	done := !c.final.edited || (c.final.saved != nil && *c.final.saved == text)
	c.mu.Unlock()
	if done {
		return
	}

	if err := c.saveFinal(c.base, sess, text); err != nil {
		log.Warn().Err(err).Str("question_id", questionID.String()).Msg("final auto-save failed")
		return
	}
	c.metrics.RecordTimerExpired(events.TimerFinal)
	log.Info().Str("question_id", questionID.String()).Msg("final response auto-saved")
}
