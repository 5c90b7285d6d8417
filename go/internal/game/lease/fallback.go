package lease

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/buzzer/go/internal/events"
	"github.com/mcdev12/buzzer/go/internal/game/timer"
)

// FireFunc runs when a preview ends without the controller having seen an
// activation. It is called from the timer goroutine.
type FireFunc func(ctx context.Context, roomID uuid.UUID, preview events.QuestionPreviewPayload)

// Fallback is the controller's backstop for question activation. It keeps at
// most one timer per room, keyed to the preview's start time.
type Fallback struct {
	clock clockwork.Clock
	fire  FireFunc

	activeTimersMu sync.Mutex
	activeTimers   map[uuid.UUID]armed

	lastScheduledMu sync.Mutex
	lastScheduled   map[uuid.UUID]time.Time
}

type armed struct {
	timer   clockwork.Timer
	preview events.QuestionPreviewPayload
}

func NewFallback(clock clockwork.Clock, fire FireFunc) *Fallback {
	return &Fallback{
		clock:         clock,
		fire:          fire,
		activeTimers:  make(map[uuid.UUID]armed),
		lastScheduled: make(map[uuid.UUID]time.Time),
	}
}

// Arm schedules the fallback for the end of preview. A duplicate preview
// with the same start time is ignored and Arm returns false.
func (f *Fallback) Arm(ctx context.Context, roomID uuid.UUID, preview events.QuestionPreviewPayload) bool {
	f.lastScheduledMu.Lock()
	if last, ok := f.lastScheduled[roomID]; ok && last.Equal(preview.StartedAt) {
		f.lastScheduledMu.Unlock()
		log.Debug().
			Str("room_id", roomID.String()).
			Time("started_at", preview.StartedAt).
			Msg("skipping duplicate fallback, already armed for this preview")
		return false
	}
	f.lastScheduled[roomID] = preview.StartedAt
	f.lastScheduledMu.Unlock()

	wait := timer.New(preview.StartedAt, preview.Duration).Remaining(f.clock.Now())
	t := f.clock.NewTimer(wait)
	f.replaceTimer(roomID, armed{timer: t, preview: preview})

	go func(t clockwork.Timer) {
		select {
		case <-t.Chan():
			if !f.removeTimer(roomID, t) {
				return
			}
			log.Info().
				Str("room_id", roomID.String()).
				Str("question_id", preview.QuestionID.String()).
				Msg("preview ended, running activation fallback")
			f.fire(ctx, roomID, preview)
		case <-ctx.Done():
			stopAndDrainTimer(t)
			f.removeTimer(roomID, t)
		}
	}(t)

	log.Debug().
		Str("room_id", roomID.String()).
		Str("question_id", preview.QuestionID.String()).
		Dur("wait", wait).
		Msg("armed activation fallback")
	return true
}

// Disarm cancels the room's pending fallback, typically because the
// activation was observed.
func (f *Fallback) Disarm(roomID uuid.UUID) {
	f.Cancel(roomID)
}

// Cancel disarms the room's pending fallback and returns the preview it was
// armed for, if any.
func (f *Fallback) Cancel(roomID uuid.UUID) (events.QuestionPreviewPayload, bool) {
	f.activeTimersMu.Lock()
	defer f.activeTimersMu.Unlock()

	a, ok := f.activeTimers[roomID]
	if !ok {
		return events.QuestionPreviewPayload{}, false
	}
	stopAndDrainTimer(a.timer)
	delete(f.activeTimers, roomID)
	log.Debug().Str("room_id", roomID.String()).Msg("disarmed activation fallback")
	return a.preview, true
}

// Armed reports whether a fallback is pending for roomID.
func (f *Fallback) Armed(roomID uuid.UUID) bool {
	f.activeTimersMu.Lock()
	defer f.activeTimersMu.Unlock()
	_, ok := f.activeTimers[roomID]
	return ok
}

// Forget drops all state for a room that is no longer hosted.
func (f *Fallback) Forget(roomID uuid.UUID) {
	f.Disarm(roomID)
	f.lastScheduledMu.Lock()
	delete(f.lastScheduled, roomID)
	f.lastScheduledMu.Unlock()
}

func (f *Fallback) replaceTimer(roomID uuid.UUID, a armed) {
	f.activeTimersMu.Lock()
	defer f.activeTimersMu.Unlock()

	if existing, ok := f.activeTimers[roomID]; ok {
		stopAndDrainTimer(existing.timer)
		log.Debug().Str("room_id", roomID.String()).Msg("replaced existing fallback")
	}
	f.activeTimers[roomID] = a
}

// removeTimer deletes t if it is still the room's timer and reports whether it was.
func (f *Fallback) removeTimer(roomID uuid.UUID, t clockwork.Timer) bool {
	f.activeTimersMu.Lock()
	defer f.activeTimersMu.Unlock()
	if a, ok := f.activeTimers[roomID]; !ok || a.timer != t {
		return false
	}
	delete(f.activeTimers, roomID)
	return true
}

func stopAndDrainTimer(t clockwork.Timer) {
	if !t.Stop() {
		select {
		case <-t.Chan():
		default:
		}
	}
}
