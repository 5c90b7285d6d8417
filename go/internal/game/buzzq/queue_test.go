package buzzq

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/buzzer/go/internal/models"
)

var t0 = time.Date(2026, 3, 14, 19, 0, 0, 0, time.UTC)

func buzz(question, team uuid.UUID, after time.Duration) models.Buzz {
	return models.Buzz{
		ID:         uuid.New(),
		QuestionID: question,
		TeamID:     team,
		BuzzedAt:   t0.Add(after),
		Status:     models.BuzzStatusPending,
	}
}

func TestQueue_OrderedByServerTimestamp(t *testing.T) {
	question := uuid.New()
	p, q := uuid.New(), uuid.New()
	// Q's buzz arrives first but P was stamped earlier.
	bq := buzz(question, q, 100*time.Millisecond)
	bp := buzz(question, p, 80*time.Millisecond)

	queue := New(question, []models.Buzz{bq, bp})

	cur, ok := queue.Current()
	require.True(t, ok)
	assert.Equal(t, p, cur.TeamID)

	t.Run("judging the later buzz is rejected", func(t *testing.T) {
		assert.ErrorIs(t, queue.CheckJudgeable(bq.ID), ErrNotCurrent)
	})

	t.Run("after P is wrong Q becomes current", func(t *testing.T) {
		out, err := queue.Judge(bp.ID, VerdictWrong, 400)
		require.NoError(t, err)
		assert.Equal(t, -400, out.ScoreDelta)
		require.NotNil(t, out.Next)
		assert.Equal(t, bq.ID, out.Next.ID)
		assert.False(t, out.Resolved)
	})
}

func TestQueue_IgnoresOtherQuestions(t *testing.T) {
	question := uuid.New()
	stray := buzz(uuid.New(), uuid.New(), 0)
	queue := New(question, []models.Buzz{stray})
	_, ok := queue.Current()
	assert.False(t, ok)
	assert.Empty(t, queue.All())
}

func TestQueue_CorrectClearsQueue(t *testing.T) {
	question := uuid.New()
	a := buzz(question, uuid.New(), 10*time.Millisecond)
	b := buzz(question, uuid.New(), 20*time.Millisecond)
	c := buzz(question, uuid.New(), 30*time.Millisecond)
	queue := New(question, []models.Buzz{c, a, b})

	out, err := queue.Judge(a.ID, VerdictCorrect, 200)
	require.NoError(t, err)

	assert.Equal(t, 200, out.ScoreDelta)
	assert.True(t, out.Resolved)
	require.NotNil(t, out.AnsweredBy)
	assert.Equal(t, a.TeamID, *out.AnsweredBy)
	assert.Empty(t, queue.Pending())
	for _, id := range []uuid.UUID{b.ID, c.ID} {
		st, _ := queue.Status(id)
		assert.Equal(t, models.BuzzStatusSkipped, st)
	}

	t.Run("judging again is rejected", func(t *testing.T) {
		_, err := queue.Judge(a.ID, VerdictCorrect, 200)
		assert.ErrorIs(t, err, ErrNotPending)
		assert.ErrorIs(t, queue.CheckJudgeable(uuid.New()), ErrEmpty)
	})
}

func TestQueue_WrongThenCorrect(t *testing.T) {
	// X wrong, Y correct on a 400 question.
	question := uuid.New()
	x := buzz(question, uuid.New(), 10*time.Millisecond)
	y := buzz(question, uuid.New(), 15*time.Millisecond)
	queue := New(question, []models.Buzz{x, y})

	out, err := queue.Judge(x.ID, VerdictWrong, 400)
	require.NoError(t, err)
	assert.Equal(t, -400, out.ScoreDelta)

	assert.ErrorIs(t, queue.CheckJudgeable(x.ID), ErrNotPending)

	out, err = queue.Judge(y.ID, VerdictCorrect, 400)
	require.NoError(t, err)
	assert.Equal(t, 400, out.ScoreDelta)
	assert.Equal(t, y.TeamID, *out.AnsweredBy)
}

func TestQueue_LastWrongExhausts(t *testing.T) {
	question := uuid.New()
	only := buzz(question, uuid.New(), 0)
	queue := New(question, []models.Buzz{only})

	out, err := queue.Judge(only.ID, VerdictWrong, 600)
	require.NoError(t, err)
	assert.True(t, out.Resolved)
	assert.Nil(t, out.AnsweredBy)
	assert.Nil(t, out.Next)
}
