package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/buzzer/go/internal/changefeed"
	"github.com/mcdev12/buzzer/go/internal/models"
	"github.com/mcdev12/buzzer/go/internal/store"
)

func seedRoom(t *testing.T, s *Store) (*models.Room, uuid.UUID, []models.Team) {
	t.Helper()
	ctx := context.Background()
	room, _, err := s.CreateRoom(ctx, "ROOM01")
	require.NoError(t, err)

	points := 400
	cat := models.Category{ID: uuid.New(), Round: models.RoundOne, Name: "Space"}
	q := models.Question{ID: uuid.New(), Clue: "Red planet", Answer: "Mars", PointValue: &points}
	require.NoError(t, s.ReplaceContent(ctx, room.ID, []models.CategoryWithQuestions{{Category: cat, Questions: []models.Question{q}}}))

	var teams []models.Team
	for _, name := range []string{"Owls", "Foxes"} {
		team, err := s.CreateTeam(ctx, room.ID, name, name)
		require.NoError(t, err)
		teams = append(teams, *team)
	}
	return room, q.ID, teams
}

func TestStore_CreateRoomRetiresOthers(t *testing.T) {
	ctx := context.Background()
	s := New(clockwork.NewFakeClock(), nil)

	first, retired, err := s.CreateRoom(ctx, "AAAAAA")
	require.NoError(t, err)
	assert.Empty(t, retired)

	second, retired, err := s.CreateRoom(ctx, "BBBBBB")
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{first.ID}, retired)
	assert.Equal(t, 1, s.LiveRoomCount())

	live, err := s.GetLiveRoom(ctx)
	require.NoError(t, err)
	assert.Equal(t, second.ID, live.ID)

	old, err := s.GetRoom(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RoomStatusFinished, old.Status)

	_, _, err = s.CreateRoom(ctx, "BBBBBB")
	assert.Error(t, err)
}

func TestStore_Buzzes(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	s := New(clock, nil)
	room, question, teams := seedRoom(t, s)

	_, err := s.InsertBuzz(ctx, room.ID, question, teams[0].ID)
	assert.ErrorIs(t, err, store.ErrQuestionNotActive)

	changed, err := s.ActivateQuestion(ctx, room.ID, question)
	require.NoError(t, err)
	assert.False(t, changed, "no board in the lobby")
	_, err = s.UpdateRoomStatus(ctx, room.ID, models.RoomStatusLobby, models.RoomStatusRound1)
	require.NoError(t, err)

	changed, err = s.ActivateQuestion(ctx, room.ID, question)
	require.NoError(t, err)
	assert.True(t, changed)
	changed, err = s.ActivateQuestion(ctx, room.ID, question)
	require.NoError(t, err)
	assert.False(t, changed)

	first, err := s.InsertBuzz(ctx, room.ID, question, teams[1].ID)
	require.NoError(t, err)
	clock.Advance(20 * time.Millisecond)
	second, err := s.InsertBuzz(ctx, room.ID, question, teams[0].ID)
	require.NoError(t, err)
	assert.True(t, first.BuzzedAt.Before(second.BuzzedAt))

	_, err = s.InsertBuzz(ctx, room.ID, question, teams[0].ID)
	assert.ErrorIs(t, err, store.ErrDuplicateBuzz)

	ok, err := s.TransitionBuzz(ctx, first.ID, models.BuzzStatusPending, models.BuzzStatusWrong)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.TransitionBuzz(ctx, first.ID, models.BuzzStatusPending, models.BuzzStatusCorrect)
	require.NoError(t, err)
	assert.False(t, ok)

	n, err := s.SkipPendingBuzzes(ctx, question)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	list, err := s.ListBuzzes(ctx, question)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, first.ID, list[0].ID)
	assert.Equal(t, models.BuzzStatusSkipped, list[1].Status)
}

func TestStore_LockWagerClamps(t *testing.T) {
	ctx := context.Background()
	s := New(clockwork.NewFakeClock(), nil)
	room, _, teams := seedRoom(t, s)

	_, err := s.AdjustScore(ctx, teams[0].ID, 1200)
	require.NoError(t, err)
	_, err = s.AdjustScore(ctx, teams[1].ID, -300)
	require.NoError(t, err)

	w, err := s.LockWager(ctx, room.ID, teams[0].ID, 5000)
	require.NoError(t, err)
	assert.Equal(t, 1200, w.Amount)

	w, err = s.LockWager(ctx, room.ID, teams[1].ID, 100)
	require.NoError(t, err)
	assert.Equal(t, 0, w.Amount)

	_, err = s.LockWager(ctx, room.ID, teams[0].ID, 10)
	assert.ErrorIs(t, err, store.ErrWagerLocked)
}

func TestStore_TeamsAndFeed(t *testing.T) {
	ctx := context.Background()
	feed := changefeed.NewMemory()
	s := New(clockwork.NewFakeClock(), feed)
	room, _, teams := seedRoom(t, s)

	var seen []changefeed.Change
	cancel := feed.Watch(room.ID, []string{changefeed.TableTeams}, func(c changefeed.Change) {
		seen = append(seen, c)
	})
	defer cancel()

	_, err := s.CreateTeam(ctx, room.ID, "Owls again", "Owls")
	assert.ErrorIs(t, err, store.ErrDuplicateTeam)

	out := []uuid.UUID{teams[1].ID}
	moved, err := s.EnterFinal(ctx, room.ID, out)
	require.NoError(t, err)
	assert.False(t, moved, "the lobby cannot enter the final")
	listed, err := s.ListTeams(ctx, room.ID)
	require.NoError(t, err)
	assert.True(t, listed[1].IsActive, "a lost status swap deactivates nobody")

	for _, step := range [][2]models.RoomStatus{
		{models.RoomStatusLobby, models.RoomStatusRound1},
		{models.RoomStatusRound1, models.RoomStatusRound2},
	} {
		_, err = s.UpdateRoomStatus(ctx, room.ID, step[0], step[1])
		require.NoError(t, err)
	}
	moved, err = s.EnterFinal(ctx, room.ID, out)
	require.NoError(t, err)
	assert.True(t, moved)
	moved, err = s.EnterFinal(ctx, room.ID, out)
	require.NoError(t, err)
	assert.False(t, moved)

	got, err := s.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RoomStatusFinalJeopardy, got.Status)

	listed, err = s.ListTeams(ctx, room.ID)
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, teams[0].ID, listed[0].ID)
	assert.False(t, listed[1].IsActive)
	assert.Len(t, seen, 1)
}
