package controller

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/buzzer/go/internal/events"
	"github.com/mcdev12/buzzer/go/internal/game/phase"
	"github.com/mcdev12/buzzer/go/internal/models"
)

// transition moves the hosted room to `to` with a compare-and-swap on the
// current status and announces it.
func (c *Controller) transition(ctx context.Context, to models.RoomStatus, payload events.PhaseChangedPayload) error {
	from := c.room.Status
	if err := phase.Validate(from, to); err != nil {
		return err
	}
	ok, err := c.store.UpdateRoomStatus(ctx, c.room.ID, from, to)
	if err != nil {
		return fmt.Errorf("failed to update room status: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: room is no longer %s", phase.ErrInvalidTransition, from)
	}
	c.announcePhase(ctx, from, to, payload)
	return nil
}

// announcePhase records a status change that has been stored.
func (c *Controller) announcePhase(ctx context.Context, from, to models.RoomStatus, payload events.PhaseChangedPayload) {
	c.room.Status = to

	// A preview started on the old board can no longer go live.
	if p, ok := c.fallback.Cancel(c.room.ID); ok {
		c.emit(ctx, events.TimerCancelled, events.TimerCancelledPayload{Timer: events.TimerPreview, RefID: p.QuestionID})
	}
	payload.From = from
	payload.To = to
	c.emit(ctx, events.PhaseChanged, payload)

	log.Info().
		Str("room_id", c.room.ID.String()).
		Str("from", string(from)).
		Str("to", string(to)).
		Msg("phase changed")
}

// StartGame begins round one and grants the lease to firstTeam, or to the
// earliest team to join when firstTeam is nil.
func (c *Controller) StartGame(ctx context.Context, firstTeam *uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.requireRoom(); err != nil {
		return err
	}
	if c.room.Status != models.RoomStatusLobby {
		return ErrNotInLobby
	}
	teams, err := c.store.ListTeams(ctx, c.room.ID)
	if err != nil {
		return fmt.Errorf("failed to list teams: %w", err)
	}
	questions, err := c.store.ListQuestions(ctx, c.room.ID, models.RoundOne)
	if err != nil {
		return fmt.Errorf("failed to list questions: %w", err)
	}
	if err := phase.CheckStart(teams, len(questions)); err != nil {
		return err
	}

	holder := teams[0].ID
	if firstTeam != nil {
		if err := checkActive(teams, *firstTeam); err != nil {
			return err
		}
		holder = *firstTeam
	}

	if err := c.transition(ctx, models.RoomStatusRound1, events.PhaseChangedPayload{}); err != nil {
		return err
	}
	return c.grantLease(ctx, &holder)
}

// AssignLease hands the selection lease to teamID, or clears it when nil.
func (c *Controller) AssignLease(ctx context.Context, teamID *uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.requireRoom(); err != nil {
		return err
	}
	if !phase.IsBoardRound(c.room.Status) {
		return fmt.Errorf("%w: no board in %s", phase.ErrInvalidTransition, c.room.Status)
	}
	if teamID != nil {
		teams, err := c.store.ListTeams(ctx, c.room.ID)
		if err != nil {
			return fmt.Errorf("failed to list teams: %w", err)
		}
		if err := checkActive(teams, *teamID); err != nil {
			return err
		}
	}
	return c.grantLease(ctx, teamID)
}

// AdvanceRound moves round one to round two. Unless force is set every
// round-one question must be answered. The lease goes to leaseTo, or to the
// lowest scoring team when nil.
func (c *Controller) AdvanceRound(ctx context.Context, force bool, leaseTo *uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.requireRoom(); err != nil {
		return err
	}
	if c.room.Status != models.RoomStatusRound1 {
		return phase.Validate(c.room.Status, models.RoomStatusRound2)
	}
	if c.play != nil {
		return ErrQuestionInPlay
	}
	if !force {
		questions, err := c.store.ListQuestions(ctx, c.room.ID, models.RoundOne)
		if err != nil {
			return fmt.Errorf("failed to list questions: %w", err)
		}
		if err := phase.CheckRoundComplete(questions); err != nil {
			return err
		}
	}
	next, err := c.store.ListQuestions(ctx, c.room.ID, models.RoundTwo)
	if err != nil {
		return fmt.Errorf("failed to list questions: %w", err)
	}
	if len(next) == 0 {
		return fmt.Errorf("%w: round 2 is empty", phase.ErrNoContent)
	}

	teams, err := c.store.ListTeams(ctx, c.room.ID)
	if err != nil {
		return fmt.Errorf("failed to list teams: %w", err)
	}
	var holder uuid.UUID
	if leaseTo != nil {
		if err := checkActive(teams, *leaseTo); err != nil {
			return err
		}
		holder = *leaseTo
	} else {
		holder = phase.ReviewOrder(activeTeams(teams))[0].ID
	}

	if err := c.transition(ctx, models.RoomStatusRound2, events.PhaseChangedPayload{}); err != nil {
		return err
	}
	return c.grantLease(ctx, &holder)
}

// StartFinal applies the cut and opens the final round's wager stage.
// Teams outside the top three are deactivated permanently.
func (c *Controller) StartFinal(ctx context.Context, force bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.requireRoom(); err != nil {
		return err
	}
	if c.room.Status != models.RoomStatusRound2 {
		return phase.Validate(c.room.Status, models.RoomStatusFinalJeopardy)
	}
	if c.play != nil {
		return ErrQuestionInPlay
	}
	if !force {
		questions, err := c.store.ListQuestions(ctx, c.room.ID, models.RoundTwo)
		if err != nil {
			return fmt.Errorf("failed to list questions: %w", err)
		}
		if err := phase.CheckRoundComplete(questions); err != nil {
			return err
		}
	}
	finals, err := c.store.ListQuestions(ctx, c.room.ID, models.RoundFinal)
	if err != nil {
		return fmt.Errorf("failed to list questions: %w", err)
	}
	if len(finals) == 0 {
		return ErrNoFinalQuestion
	}

	teams, err := c.store.ListTeams(ctx, c.room.ID)
	if err != nil {
		return fmt.Errorf("failed to list teams: %w", err)
	}
	advancing, eliminated := phase.RankForFinal(teams)
	ok, err := c.store.EnterFinal(ctx, c.room.ID, eliminated)
	if err != nil {
		return fmt.Errorf("failed to enter final round: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: room is no longer %s", phase.ErrInvalidTransition, models.RoomStatusRound2)
	}
	c.announcePhase(ctx, models.RoomStatusRound2, models.RoomStatusFinalJeopardy, events.PhaseChangedPayload{
		Advancing:  advancing,
		Eliminated: eliminated,
	})
	c.final = &finalRound{stage: StageWager}

	log.Info().
		Str("room_id", c.room.ID.String()).
		Int("advancing", len(advancing)).
		Int("eliminated", len(eliminated)).
		Msg("final round started")
	return c.grantLease(ctx, nil)
}

func activeTeams(teams []models.Team) []models.Team {
	var out []models.Team
	for _, t := range teams {
		if t.IsActive {
			out = append(out, t)
		}
	}
	return out
}

func checkActive(teams []models.Team, teamID uuid.UUID) error {
	for _, t := range teams {
		if t.ID == teamID {
			if !t.IsActive {
				return ErrTeamNotActive
			}
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrTeamNotActive, teamID)
}
