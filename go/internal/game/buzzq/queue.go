// Package buzzq orders buzzes for the active question and decides what a
// judgment does to the question.
package buzzq

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/mcdev12/buzzer/go/internal/models"
)

var (
	ErrNotCurrent = errors.New("buzz is not at the head of the queue")
	ErrNotPending = errors.New("buzz is not pending")
	ErrEmpty      = errors.New("no pending buzzes")
)

// Queue is the buzzes of one question in store-timestamp order.
type Queue struct {
	buzzes []models.Buzz
}

// New builds a queue from buzzes in any arrival order. Buzzes for other
// questions are dropped.
func New(questionID uuid.UUID, buzzes []models.Buzz) *Queue {
	own := make([]models.Buzz, 0, len(buzzes))
	for _, b := range buzzes {
		if b.QuestionID == questionID {
			own = append(own, b)
		}
	}
	sort.SliceStable(own, func(i, j int) bool {
		if !own[i].BuzzedAt.Equal(own[j].BuzzedAt) {
			return own[i].BuzzedAt.Before(own[j].BuzzedAt)
		}
		return bytes.Compare(own[i].ID[:], own[j].ID[:]) < 0
	})
	return &Queue{buzzes: own}
}

// All returns every buzz in order.
func (q *Queue) All() []models.Buzz {
	out := make([]models.Buzz, len(q.buzzes))
	copy(out, q.buzzes)
	return out
}

// Pending returns the pending buzzes in order.
func (q *Queue) Pending() []models.Buzz {
	var out []models.Buzz
	for _, b := range q.buzzes {
		if b.Status == models.BuzzStatusPending {
			out = append(out, b)
		}
	}
	return out
}

// Current returns the earliest pending buzz, the only one that may be judged.
func (q *Queue) Current() (models.Buzz, bool) {
	for _, b := range q.buzzes {
		if b.Status == models.BuzzStatusPending {
			return b, true
		}
	}
	return models.Buzz{}, false
}

// CheckJudgeable returns nil only if buzzID is the current pending buzz.
func (q *Queue) CheckJudgeable(buzzID uuid.UUID) error {
	for _, b := range q.buzzes {
		if b.ID == buzzID && b.Status != models.BuzzStatusPending {
			return fmt.Errorf("%w: %s is %s", ErrNotPending, buzzID, b.Status)
		}
	}
	cur, ok := q.Current()
	if !ok {
		return ErrEmpty
	}
	if cur.ID != buzzID {
		return fmt.Errorf("%w: %s", ErrNotCurrent, buzzID)
	}
	return nil
}

// Status returns the recorded status of buzzID.
func (q *Queue) Status(buzzID uuid.UUID) (models.BuzzStatus, bool) {
	for _, b := range q.buzzes {
		if b.ID == buzzID {
			return b.Status, true
		}
	}
	return "", false
}

// Verdict is the controller's ruling on a buzz.
type Verdict string

const (
	VerdictCorrect Verdict = "correct"
	VerdictWrong   Verdict = "wrong"
)

// Outcome is what a judgment does to the question.
type Outcome struct {
	// ScoreDelta is applied to the judged team.
	ScoreDelta int
	// Resolved means the question is finished; AnsweredBy is nil when nobody got it.
	Resolved   bool
	AnsweredBy *uuid.UUID
	// Next is the buzz that should be judged next, when the question stays open.
	Next *models.Buzz
}

// Judge computes the outcome of ruling on the current buzz. The queue is
// updated as if the ruling had been stored.
func (q *Queue) Judge(buzzID uuid.UUID, v Verdict, pointValue int) (Outcome, error) {
	if err := q.CheckJudgeable(buzzID); err != nil {
		return Outcome{}, err
	}
	cur, _ := q.Current()

	switch v {
	case VerdictCorrect:
		q.setStatus(cur.ID, models.BuzzStatusCorrect)
		team := cur.TeamID
		for _, b := range q.Pending() {
			q.setStatus(b.ID, models.BuzzStatusSkipped)
		}
		return Outcome{ScoreDelta: pointValue, Resolved: true, AnsweredBy: &team}, nil
	case VerdictWrong:
		q.setStatus(cur.ID, models.BuzzStatusWrong)
		out := Outcome{ScoreDelta: -pointValue}
		if nxt, ok := q.Current(); ok {
			out.Next = &nxt
		} else {
			out.Resolved = true
		}
		return out, nil
	}
	return Outcome{}, fmt.Errorf("unknown verdict %q", v)
}

func (q *Queue) setStatus(id uuid.UUID, s models.BuzzStatus) {
	for i := range q.buzzes {
		if q.buzzes[i].ID == id {
			q.buzzes[i].Status = s
		}
	}
}
