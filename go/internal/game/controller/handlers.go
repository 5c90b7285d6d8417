package controller

import (
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/buzzer/go/internal/changefeed"
	"github.com/mcdev12/buzzer/go/internal/events"
	"github.com/mcdev12/buzzer/go/internal/game/phase"
)

// onEvent applies a transport event from a team client. The controller's
// own events come back on the same subscription and are ignored.
func (c *Controller) onEvent(ev events.Event) {
	if ev.Sender == Sender {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.room == nil || ev.RoomID != c.room.ID {
		return
	}
	payload, err := events.Decode(ev)
	if err != nil {
		c.metrics.RecordEventDropped("decode")
		log.Warn().Err(err).Str("event", string(ev.Name)).Msg("dropping undecodable event")
		return
	}
	c.metrics.RecordEventReceived(string(ev.Name))
	ctx := c.base

	switch p := payload.(type) {
	case *events.QuestionPreviewPayload:
		if !phase.IsBoardRound(c.room.Status) || c.play != nil {
			return
		}
		if !c.room.HoldsLease(p.TeamID) {
			log.Warn().
				Str("room_id", c.room.ID.String()).
				Str("team_id", p.TeamID.String()).
				Msg("preview from a team without the lease")
			return
		}
		c.fallback.Arm(ctx, c.room.ID, *p)

	case *events.QuestionActivatedPayload:
		// The event only wakes us; the room row says what is live.
		if err := c.rebuild(ctx); err != nil {
			log.Error().Err(err).Msg("failed to begin play")
			return
		}
		if c.play == nil || c.play.question.ID != p.QuestionID {
			log.Debug().
				Str("room_id", c.room.ID.String()).
				Str("question_id", p.QuestionID.String()).
				Msg("ignoring stale activation")
		}

	case *events.BuzzReceivedPayload:
		if c.play == nil || c.play.question.ID != p.QuestionID {
			return
		}
		if err := c.reloadQueue(ctx); err != nil {
			log.Error().Err(err).Msg("failed to reload queue")
			return
		}
		c.syncJudging(ctx)

	case *events.BuzzExpiredPayload:
		c.buzzExpiredByTeam(ctx)

	case *events.BuzzResponsePayload:
		log.Info().
			Str("team_id", p.TeamID.String()).
			Str("buzz_id", p.BuzzID.String()).
			Str("response", p.Response).
			Msg("typed response received")

	case *events.FinalWagerLockedPayload:
		log.Info().Str("team_id", p.TeamID.String()).Msg("final wager locked")

	case *events.TeamJoinedPayload:
		log.Info().Str("team", p.Team.Name).Msg("team joined")
	}
}

// onChange requests a rebuild. Row changes caused by the controller's own
// writes arrive while mu is held, so the rebuild runs on the resync loop.
func (c *Controller) onChange(changefeed.Change) {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Controller) onReconnect() {
	c.onChange(changefeed.Change{Reconnect: true})
}

// resyncLoop rebuilds from the store after change notifications, recovering
// activations and buzzes whose events were lost.
func (c *Controller) resyncLoop() {
	for {
		select {
		case <-c.base.Done():
			return
		case <-c.wake:
		}
		c.mu.Lock()
		if c.room != nil {
			if err := c.rebuild(c.base); err != nil {
				log.Error().Err(err).Str("room_id", c.room.ID.String()).Msg("failed to rebuild after change")
			}
		}
		c.mu.Unlock()
	}
}
