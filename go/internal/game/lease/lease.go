// Package lease implements question selection. The team holding the room's
// lease previews a question and, when the preview countdown ends, activates
// it. The controller arms a fallback keyed to the same start time and
// performs the identical write if the team never does.
package lease

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/buzzer/go/internal/events"
	"github.com/mcdev12/buzzer/go/internal/models"
)

var (
	ErrNotLeaseHolder   = errors.New("team does not hold the selection lease")
	ErrQuestionAnswered = errors.New("question already answered")
	ErrQuestionInPlay   = errors.New("another question is in play")
	ErrPreviewRunning   = errors.New("a preview is already running")
	ErrWrongRound       = errors.New("question is not on the current board")
)

// Activator is the store write shared by both activation paths.
type Activator interface {
	ActivateQuestion(ctx context.Context, roomID, questionID uuid.UUID) (bool, error)
}

// Emitter publishes a room event.
type Emitter interface {
	Emit(ctx context.Context, roomID uuid.UUID, name events.Name, payload any) error
}

// Activate sets the room's current question and announces it. The write only
// changes a row whose current question differs, so a second call from either
// writer is a no-op that publishes nothing and returns false.
func Activate(ctx context.Context, st Activator, em Emitter, roomID, questionID uuid.UUID, by string) (bool, error) {
	changed, err := st.ActivateQuestion(ctx, roomID, questionID)
	if err != nil {
		return false, fmt.Errorf("failed to activate question: %w", err)
	}
	if !changed {
		log.Debug().
			Str("room_id", roomID.String()).
			Str("question_id", questionID.String()).
			Str("by", by).
			Msg("question already active, skipping activation")
		return false, nil
	}

	if err := em.Emit(ctx, roomID, events.QuestionActivated, events.QuestionActivatedPayload{
		QuestionID: questionID,
		By:         by,
	}); err != nil {
		log.Error().Err(err).Str("room_id", roomID.String()).Msg("failed to broadcast activation")
	}

	log.Info().
		Str("room_id", roomID.String()).
		Str("question_id", questionID.String()).
		Str("by", by).
		Msg("question activated")
	return true, nil
}

// CheckSelectable validates that teamID may preview q, which belongs to cat,
// while the room is playing round.
func CheckSelectable(room *models.Room, teamID uuid.UUID, q *models.Question, cat *models.Category, round int) error {
	if !room.HoldsLease(teamID) {
		return ErrNotLeaseHolder
	}
	if room.CurrentQuestionID != nil {
		return ErrQuestionInPlay
	}
	if q.IsAnswered {
		return ErrQuestionAnswered
	}
	if q.RoomID != room.ID || q.CategoryID != cat.ID || cat.Round != round {
		return ErrWrongRound
	}
	return nil
}
