package controller

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/buzzer/go/internal/events"
	"github.com/mcdev12/buzzer/go/internal/game/phase"
	"github.com/mcdev12/buzzer/go/internal/game/timer"
	"github.com/mcdev12/buzzer/go/internal/models"
	"github.com/mcdev12/buzzer/go/internal/store"
)

// FinalStage is the controller's position in the final round.
type FinalStage string

const (
	StageWager    FinalStage = "wager"
	StageQuestion FinalStage = "question"
	StageReview   FinalStage = "review"
	StageDone     FinalStage = "done"
)

type finalRound struct {
	stage    FinalStage
	question *models.Question
	timer    timer.Timer
	pending  clockwork.Timer
	gen      uint64

	// order holds the finalists with their scores at timer expiry, lowest first.
	order    []models.Team
	next     int
	revealed bool
}

// FinalStatus is a read-only view of the final round.
type FinalStatus struct {
	Stage      FinalStage   `json:"stage"`
	QuestionID *uuid.UUID   `json:"question_id,omitempty"`
	Timer      *timer.Timer `json:"timer,omitempty"`
	Order      []uuid.UUID  `json:"order,omitempty"`
	Next       int          `json:"next"`
	Revealed   bool         `json:"revealed"`
}

// Final returns the final-round status, or false outside the final round.
func (c *Controller) Final() (FinalStatus, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.final == nil {
		return FinalStatus{}, false
	}
	f := c.final
	st := FinalStatus{Stage: f.stage, Next: f.next, Revealed: f.revealed}
	if f.question != nil {
		id := f.question.ID
		st.QuestionID = &id
		t := f.timer
		st.Timer = &t
	}
	for _, t := range f.order {
		st.Order = append(st.Order, t.ID)
	}
	return st, true
}

// RevealFinalQuestion shows the final clue and starts the response timer.
// Every finalist must have locked a wager unless force is set, in which case
// the missing wagers are locked at zero.
func (c *Controller) RevealFinalQuestion(ctx context.Context, force bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.requireRoom(); err != nil {
		return err
	}
	if c.final == nil || c.final.stage != StageWager {
		return ErrWrongStage
	}

	teams, err := c.store.ListTeams(ctx, c.room.ID)
	if err != nil {
		return fmt.Errorf("failed to list teams: %w", err)
	}
	wagers, err := c.store.ListWagers(ctx, c.room.ID)
	if err != nil {
		return fmt.Errorf("failed to list wagers: %w", err)
	}
	locked := make(map[uuid.UUID]bool, len(wagers))
	for _, w := range wagers {
		locked[w.TeamID] = true
	}
	var missing []uuid.UUID
	for _, t := range activeTeams(teams) {
		if !locked[t.ID] {
			missing = append(missing, t.ID)
		}
	}
	if len(missing) > 0 && !force {
		return fmt.Errorf("%w: %d missing", ErrWagersPending, len(missing))
	}
	for _, id := range missing {
		if _, err := c.store.LockWager(ctx, c.room.ID, id, 0); err != nil && !errors.Is(err, store.ErrWagerLocked) {
			return fmt.Errorf("failed to lock default wager: %w", err)
		}
	}

	questions, err := c.store.ListQuestions(ctx, c.room.ID, models.RoundFinal)
	if err != nil {
		return fmt.Errorf("failed to list questions: %w", err)
	}
	if len(questions) == 0 {
		return ErrNoFinalQuestion
	}
	q := questions[0]
	categories, err := c.store.ListCategories(ctx, c.room.ID, models.RoundFinal)
	if err != nil {
		return fmt.Errorf("failed to list categories: %w", err)
	}
	var category string
	for _, cat := range categories {
		if cat.ID == q.CategoryID {
			category = cat.Name
		}
	}

	if _, err := c.store.ActivateQuestion(ctx, c.room.ID, q.ID); err != nil {
		return fmt.Errorf("failed to activate final question: %w", err)
	}
	c.room.CurrentQuestionID = &q.ID

	c.gen++
	gen := c.gen
	t := timer.New(c.clock.Now(), c.timings.FinalResponse)
	c.final.stage = StageQuestion
	c.final.question = &q
	c.final.timer = t
	c.final.gen = gen
	c.final.pending = c.clock.AfterFunc(t.Duration, func() { c.finalTimerExpired(gen) })

	c.emit(ctx, events.FinalQuestionRevealed, events.FinalQuestionRevealedPayload{
		QuestionID: q.ID,
		Clue:       q.Clue,
		Category:   category,
		StartedAt:  t.StartedAt,
		Duration:   t.Duration,
		Forced:     len(missing) > 0,
	})

	log.Info().
		Str("room_id", c.room.ID.String()).
		Int("forced_wagers", len(missing)).
		Msg("final question revealed")
	return nil
}

// finalTimerExpired snapshots the review order and waits for auto-saves.
func (c *Controller) finalTimerExpired(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.final == nil || c.final.gen != gen || c.final.stage != StageQuestion {
		return
	}
	ctx := c.base
	c.metrics.RecordTimerExpired(events.TimerFinal)
	c.emit(ctx, events.FinalTimerExpired, events.FinalTimerExpiredPayload{QuestionID: c.final.question.ID})

	teams, err := c.store.ListTeams(ctx, c.room.ID)
	if err != nil {
		log.Error().Err(err).Msg("failed to list teams at final expiry")
		teams = nil
	}
	c.final.order = phase.ReviewOrder(activeTeams(teams))

	c.gen++
	next := c.gen
	c.final.gen = next
	c.final.pending = c.clock.AfterFunc(c.timings.AutoSubmitGrace, func() { c.beginReview(next) })

	log.Info().
		Str("room_id", c.room.ID.String()).
		Dur("grace", c.timings.AutoSubmitGrace).
		Msg("final timer expired, waiting for auto-saves")
}

func (c *Controller) beginReview(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.final == nil || c.final.gen != gen || c.final.stage != StageQuestion {
		return
	}
	c.final.pending = nil
	c.final.stage = StageReview
	c.final.next = 0
	log.Info().Str("room_id", c.room.ID.String()).Int("teams", len(c.final.order)).Msg("final review open")

	if len(c.final.order) == 0 {
		if err := c.finish(c.base); err != nil {
			log.Error().Err(err).Msg("failed to finish room")
		}
	}
}

// RevealNextFinal shows the next finalist's response and wager.
func (c *Controller) RevealNextFinal(ctx context.Context) (events.FinalResponseRevealedPayload, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.requireRoom(); err != nil {
		return events.FinalResponseRevealedPayload{}, err
	}
	return c.revealNext(ctx)
}

func (c *Controller) revealNext(ctx context.Context) (events.FinalResponseRevealedPayload, error) {
	if c.final == nil || c.final.stage != StageReview || c.final.next >= len(c.final.order) {
		return events.FinalResponseRevealedPayload{}, ErrWrongStage
	}
	team := c.final.order[c.final.next]
	w, err := c.wagerFor(ctx, team.ID)
	if err != nil {
		return events.FinalResponseRevealedPayload{}, err
	}

	p := events.FinalResponseRevealedPayload{
		TeamID:   team.ID,
		Wager:    w.Amount,
		Position: c.final.next + 1,
	}
	if w.Response != nil {
		p.Response = *w.Response
	}
	c.final.revealed = true
	c.emit(ctx, events.FinalResponseRevealed, p)
	return p, nil
}

// JudgeFinal rules on the finalist currently under review and moves on.
// After the last finalist the room is finished.
func (c *Controller) JudgeFinal(ctx context.Context, teamID uuid.UUID, correct bool) (events.FinalJudgedPayload, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.requireRoom(); err != nil {
		return events.FinalJudgedPayload{}, err
	}
	if c.final == nil || c.final.stage != StageReview || c.final.next >= len(c.final.order) {
		return events.FinalJudgedPayload{}, ErrWrongStage
	}
	if c.final.order[c.final.next].ID != teamID {
		return events.FinalJudgedPayload{}, ErrNotReviewTeam
	}
	if !c.final.revealed {
		if _, err := c.revealNext(ctx); err != nil {
			return events.FinalJudgedPayload{}, err
		}
	}

	w, err := c.wagerFor(ctx, teamID)
	if err != nil {
		return events.FinalJudgedPayload{}, err
	}
	result, delta := models.WagerStatusWrong, -w.Amount
	if correct {
		result, delta = models.WagerStatusCorrect, w.Amount
	}
	ok, err := c.store.JudgeWager(ctx, w.ID, result)
	if err != nil {
		return events.FinalJudgedPayload{}, fmt.Errorf("failed to judge wager: %w", err)
	}
	if !ok {
		return events.FinalJudgedPayload{}, ErrAlreadyJudged
	}
	score, err := c.store.AdjustScore(ctx, teamID, delta)
	if err != nil {
		return events.FinalJudgedPayload{}, fmt.Errorf("failed to adjust score: %w", err)
	}
	c.metrics.RecordJudgment("final_" + string(result))

	p := events.FinalJudgedPayload{TeamID: teamID, Result: result, Wager: w.Amount, NewScore: score}
	c.emit(ctx, events.FinalJudged, p)
	if scores, err := c.scores(ctx); err == nil {
		c.emit(ctx, events.ScoreUpdated, events.ScoreUpdatedPayload{TeamID: teamID, Delta: delta, Scores: scores})
	}

	c.final.next++
	c.final.revealed = false
	if c.final.next == len(c.final.order) {
		if err := c.finish(ctx); err != nil {
			return p, err
		}
	}
	return p, nil
}

// finish moves the room to finished and publishes the final table.
func (c *Controller) finish(ctx context.Context) error {
	if c.final != nil && c.final.question != nil {
		if _, err := c.store.ClearQuestion(ctx, c.room.ID, c.final.question.ID); err != nil {
			return fmt.Errorf("failed to clear final question: %w", err)
		}
		c.room.CurrentQuestionID = nil
	}
	if err := c.transition(ctx, models.RoomStatusFinished, events.PhaseChangedPayload{}); err != nil {
		return err
	}
	if c.final != nil {
		c.final.stage = StageDone
	}
	scores, err := c.scores(ctx)
	if err != nil {
		return err
	}
	c.emit(ctx, events.GameOver, events.GameOverPayload{Scores: scores})
	log.Info().Str("room_id", c.room.ID.String()).Msg("game over")
	return nil
}

func (c *Controller) wagerFor(ctx context.Context, teamID uuid.UUID) (*models.Wager, error) {
	wagers, err := c.store.ListWagers(ctx, c.room.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list wagers: %w", err)
	}
	for i := range wagers {
		if wagers[i].TeamID == teamID {
			return &wagers[i], nil
		}
	}
	return nil, fmt.Errorf("wager for team %s: %w", teamID, store.ErrNotFound)
}

// rebuildFinal restores the final round after a controller restart. Scores
// at expiry are recovered by undoing the judgments already applied.
func (c *Controller) rebuildFinal(ctx context.Context) error {
	c.final = &finalRound{stage: StageWager}
	if c.room.CurrentQuestionID == nil {
		return nil
	}
	q, err := c.store.GetQuestion(ctx, *c.room.CurrentQuestionID)
	if err != nil {
		return fmt.Errorf("failed to load final question: %w", err)
	}
	teams, err := c.store.ListTeams(ctx, c.room.ID)
	if err != nil {
		return fmt.Errorf("failed to list teams: %w", err)
	}
	wagers, err := c.store.ListWagers(ctx, c.room.ID)
	if err != nil {
		return fmt.Errorf("failed to list wagers: %w", err)
	}

	byTeam := make(map[uuid.UUID]models.Wager, len(wagers))
	for _, w := range wagers {
		byTeam[w.TeamID] = w
	}
	finalists := activeTeams(teams)
	for i := range finalists {
		switch w := byTeam[finalists[i].ID]; w.Status {
		case models.WagerStatusCorrect:
			finalists[i].Score -= w.Amount
		case models.WagerStatusWrong:
			finalists[i].Score += w.Amount
		}
	}
	order := phase.ReviewOrder(finalists)
	next := 0
	for next < len(order) && byTeam[order[next].ID].Status != models.WagerStatusPending {
		next++
	}

	c.final = &finalRound{stage: StageReview, question: q, order: order, next: next}
	log.Info().
		Str("room_id", c.room.ID.String()).
		Int("next", next).
		Msg("final review restored")
	if next == len(order) {
		return c.finish(ctx)
	}
	return nil
}
