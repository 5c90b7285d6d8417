package controller

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/buzzer/go/internal/changefeed"
	"github.com/mcdev12/buzzer/go/internal/events"
	"github.com/mcdev12/buzzer/go/internal/game/lease"
	"github.com/mcdev12/buzzer/go/internal/models"
	"github.com/mcdev12/buzzer/go/internal/store"
	"github.com/mcdev12/buzzer/go/internal/store/memstore"
	"github.com/mcdev12/buzzer/go/internal/transport"
	"github.com/mcdev12/buzzer/go/internal/transport/membus"
)

const waitFor = 2 * time.Second

type eventLog struct {
	mu     sync.Mutex
	events []events.Event
}

func (l *eventLog) add(ev events.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) named(name events.Name) []events.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []events.Event
	for _, ev := range l.events {
		if ev.Name == name {
			out = append(out, ev)
		}
	}
	return out
}

func (l *eventLog) count(name events.Name) int {
	return len(l.named(name))
}

type harness struct {
	t     *testing.T
	ctx   context.Context
	clock *clockwork.FakeClock
	store *memstore.Store
	bus   *membus.Bus
	ctrl  *Controller
	log   *eventLog

	room  *models.Room
	teams map[string]models.Team
	board map[int][]models.Question
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWith(t, func(st *memstore.Store) store.Store { return st })
}

// newHarnessWith lets a test put a wrapper between the controller and the store.
func newHarnessWith(t *testing.T, wrap func(*memstore.Store) store.Store) *harness {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)

	clock := clockwork.NewFakeClockAt(time.Date(2024, 5, 4, 19, 0, 0, 0, time.UTC))
	feed := changefeed.NewMemory()
	st := memstore.New(clock, feed)
	bus := membus.New()
	ctrl := New(Config{Clock: clock, Store: wrap(st), Bus: bus, Feed: feed})
	t.Cleanup(ctrl.Close)

	return &harness{
		t:     t,
		ctx:   ctx,
		clock: clock,
		store: st,
		bus:   bus,
		ctrl:  ctrl,
		log:   &eventLog{},
		teams: make(map[string]models.Team),
		board: make(map[int][]models.Question),
	}
}

// setup creates a room with a small board and the named teams, in join order.
func (h *harness) setup(teamNames ...string) {
	h.t.Helper()
	room, err := h.ctrl.CreateRoom(h.ctx)
	require.NoError(h.t, err)
	h.room = room
	_, err = h.bus.Subscribe(room.ID, h.log.add)
	require.NoError(h.t, err)

	rows := []models.CategoryWithQuestions{
		boardCategory(models.RoundOne, "Space", 200, 400),
		boardCategory(models.RoundTwo, "Rivers", 400, 800),
		{
			Category:  models.Category{ID: uuid.New(), Round: models.RoundFinal, Name: "Inventors"},
			Questions: []models.Question{{ID: uuid.New(), Clue: "Patented the phonograph", Answer: "Edison"}},
		},
	}
	for i := range rows {
		for j := range rows[i].Questions {
			rows[i].Questions[j].CategoryID = rows[i].Category.ID
		}
	}
	require.NoError(h.t, h.store.ReplaceContent(h.ctx, room.ID, rows))
	for _, round := range []int{models.RoundOne, models.RoundTwo, models.RoundFinal} {
		qs, err := h.store.ListQuestions(h.ctx, room.ID, round)
		require.NoError(h.t, err)
		h.board[round] = qs
	}

	for _, name := range teamNames {
		team, err := h.store.CreateTeam(h.ctx, room.ID, name, name)
		require.NoError(h.t, err)
		h.teams[name] = *team
	}
}

func boardCategory(round int, name string, points ...int) models.CategoryWithQuestions {
	cwq := models.CategoryWithQuestions{Category: models.Category{ID: uuid.New(), Round: round, Name: name}}
	for i, p := range points {
		v := p
		cwq.Questions = append(cwq.Questions, models.Question{
			ID:         uuid.New(),
			Clue:       name + " clue",
			Answer:     name + " answer",
			PointValue: &v,
			Position:   i,
		})
	}
	return cwq
}

func (h *harness) teamID(name string) uuid.UUID {
	return h.teams[name].ID
}

func (h *harness) teamPub(name string) *transport.Publisher {
	return transport.NewPublisher(h.bus, "team:"+name, h.clock, nil)
}

func (h *harness) score(name string) int {
	h.t.Helper()
	team, err := h.store.GetTeam(h.ctx, h.teamID(name))
	require.NoError(h.t, err)
	return team.Score
}

func (h *harness) start(first string) {
	h.t.Helper()
	id := h.teamID(first)
	require.NoError(h.t, h.ctrl.StartGame(h.ctx, &id))
}

// activate performs the leased team's activation write and waits for the
// controller to take the question into play.
func (h *harness) activate(team string, q models.Question) {
	h.t.Helper()
	changed, err := lease.Activate(h.ctx, h.store, h.teamPub(team), h.room.ID, q.ID, lease.ByTeam)
	require.NoError(h.t, err)
	require.True(h.t, changed)
	require.Eventually(h.t, func() bool {
		st, ok := h.ctrl.Play()
		return ok && st.Question.ID == q.ID
	}, waitFor, 5*time.Millisecond)
}

func (h *harness) buzz(team string, q models.Question) models.Buzz {
	h.t.Helper()
	b, err := h.store.InsertBuzz(h.ctx, h.room.ID, q.ID, h.teamID(team))
	require.NoError(h.t, err)
	return *b
}

func (h *harness) announceBuzz(team string, b models.Buzz) {
	h.t.Helper()
	require.NoError(h.t, h.teamPub(team).Emit(h.ctx, h.room.ID, events.BuzzReceived, events.BuzzReceivedPayload{
		BuzzID:     b.ID,
		QuestionID: b.QuestionID,
		TeamID:     b.TeamID,
		BuzzedAt:   b.BuzzedAt,
	}))
}

func (h *harness) waitJudging(buzzID uuid.UUID) PlayStatus {
	h.t.Helper()
	var st PlayStatus
	require.Eventually(h.t, func() bool {
		var ok bool
		st, ok = h.ctrl.Play()
		return ok && st.Judging != nil && st.Judging.BuzzID == buzzID
	}, waitFor, 5*time.Millisecond)
	return st
}

func (h *harness) reloadRoom() *models.Room {
	h.t.Helper()
	room, err := h.store.GetRoom(h.ctx, h.room.ID)
	require.NoError(h.t, err)
	return room
}

func (h *harness) question(id uuid.UUID) *models.Question {
	h.t.Helper()
	q, err := h.store.GetQuestion(h.ctx, id)
	require.NoError(h.t, err)
	return q
}

func (h *harness) buzzStatus(id uuid.UUID) models.BuzzStatus {
	h.t.Helper()
	b, err := h.store.GetBuzz(h.ctx, id)
	require.NoError(h.t, err)
	return b.Status
}
