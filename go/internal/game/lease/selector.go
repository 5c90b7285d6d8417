package lease

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/buzzer/go/internal/events"
	"github.com/mcdev12/buzzer/go/internal/game/timer"
	"github.com/mcdev12/buzzer/go/internal/models"
)

// Writer names recorded on activation events.
const (
	ByTeam       = "team"
	ByController = "controller"
)

// Selector is the leased team's side of selection. It stamps the preview with
// its own clock and is the primary writer when the preview ends.
type Selector struct {
	clock   clockwork.Clock
	store   Activator
	emitter Emitter
	teamID  uuid.UUID

	mu      sync.Mutex
	roomID  uuid.UUID
	preview *events.QuestionPreviewPayload
	pending clockwork.Timer
}

func NewSelector(clock clockwork.Clock, st Activator, em Emitter, teamID uuid.UUID) *Selector {
	return &Selector{clock: clock, store: st, emitter: em, teamID: teamID}
}

// Preview announces q to the room and schedules its activation.
func (s *Selector) Preview(ctx context.Context, room *models.Room, q *models.Question, cat *models.Category, round int) (events.QuestionPreviewPayload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.preview != nil {
		return events.QuestionPreviewPayload{}, ErrPreviewRunning
	}
	if err := CheckSelectable(room, s.teamID, q, cat, round); err != nil {
		return events.QuestionPreviewPayload{}, err
	}

	p := events.QuestionPreviewPayload{
		QuestionID:   q.ID,
		TeamID:       s.teamID,
		CategoryName: cat.Name,
		PointValue:   q.Points(),
		StartedAt:    s.clock.Now(),
		Duration:     timer.SelectionPreview,
	}
	if err := s.emitter.Emit(ctx, room.ID, events.QuestionPreview, p); err != nil {
		return events.QuestionPreviewPayload{}, err
	}

	s.roomID = room.ID
	s.preview = &p
	s.pending = s.clock.AfterFunc(p.Duration, func() { s.expire(ctx, p) })

	log.Info().
		Str("room_id", room.ID.String()).
		Str("question_id", q.ID.String()).
		Int("point_value", p.PointValue).
		Msg("question preview started")
	return p, nil
}

func (s *Selector) expire(ctx context.Context, p events.QuestionPreviewPayload) {
	s.mu.Lock()
	if s.preview == nil || !s.preview.StartedAt.Equal(p.StartedAt) {
		s.mu.Unlock()
		return
	}
	roomID := s.roomID
	s.preview = nil
	s.pending = nil
	s.mu.Unlock()

	if _, err := Activate(ctx, s.store, s.emitter, roomID, p.QuestionID, ByTeam); err != nil {
		log.Error().Err(err).Str("room_id", roomID.String()).Msg("team activation failed, controller fallback will retry")
	}
}

// Pending returns the running preview, if any.
func (s *Selector) Pending() (events.QuestionPreviewPayload, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.preview == nil {
		return events.QuestionPreviewPayload{}, false
	}
	return *s.preview, true
}

// Cancel abandons a running preview without activating it.
func (s *Selector) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending != nil {
		s.pending.Stop()
	}
	s.preview = nil
	s.pending = nil
}
