package clientsync

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/buzzer/go/internal/changefeed"
	"github.com/mcdev12/buzzer/go/internal/events"
	"github.com/mcdev12/buzzer/go/internal/metrics"
	"github.com/mcdev12/buzzer/go/internal/models"
	"github.com/mcdev12/buzzer/go/internal/store/memstore"
	"github.com/mcdev12/buzzer/go/internal/transport"
	"github.com/mcdev12/buzzer/go/internal/transport/membus"
)

const waitFor = 2 * time.Second

type resyncCounter struct {
	metrics.NoOp
	mu      sync.Mutex
	reasons map[string]int
}

func (r *resyncCounter) RecordResync(reason string, success bool, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if success {
		r.reasons[reason]++
	}
}

func (r *resyncCounter) count(reason string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reasons[reason]
}

type fixture struct {
	ctx     context.Context
	clock   *clockwork.FakeClock
	feed    *changefeed.Memory
	store   *memstore.Store
	bus     *membus.Bus
	pub     *transport.Publisher
	room    *models.Room
	teams   []models.Team
	metrics *resyncCounter
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)

	clock := clockwork.NewFakeClockAt(time.Date(2024, 5, 4, 19, 0, 0, 0, time.UTC))
	feed := changefeed.NewMemory()
	st := memstore.New(clock, feed)
	room, _, err := st.CreateRoom(ctx, "ABC123")
	require.NoError(t, err)

	f := &fixture{
		ctx:     ctx,
		clock:   clock,
		feed:    feed,
		store:   st,
		bus:     membus.New(),
		room:    room,
		metrics: &resyncCounter{reasons: make(map[string]int)},
	}
	f.pub = transport.NewPublisher(f.bus, "controller", clock, nil)
	for _, name := range []string{"P", "Q"} {
		team, err := st.CreateTeam(ctx, room.ID, name, name)
		require.NoError(t, err)
		f.teams = append(f.teams, *team)
	}
	return f
}

func (f *fixture) sync(t *testing.T, cfg Config) *Synchronizer {
	t.Helper()
	cfg.Clock = f.clock
	cfg.Store = f.store
	if cfg.Registry == nil {
		cfg.Registry = transport.NewRegistry(f.bus)
	}
	cfg.Metrics = f.metrics
	if cfg.ResyncInterval == 0 {
		cfg.ResyncInterval = -1
	}
	s := New(cfg)
	t.Cleanup(s.Close)
	return s
}

func (f *fixture) score(s *Synchronizer, teamID uuid.UUID) int {
	p, ok := s.Projection()
	if !ok {
		return -1
	}
	team, _ := p.Team(teamID)
	return team.Score
}

func TestSynchronizer_ConnectLoadsRoom(t *testing.T) {
	f := newFixture(t)
	s := f.sync(t, Config{Feed: f.feed})
	require.NoError(t, s.Connect(f.ctx, f.room.ID))

	p, ok := s.Projection()
	require.True(t, ok)
	assert.Equal(t, f.room.ID, p.Room.ID)
	assert.Equal(t, models.RoomStatusLobby, p.Room.Status)
	require.Len(t, p.Teams, 2)
	assert.Equal(t, "P", p.Teams[0].Name)
	assert.Equal(t, 1, f.metrics.count(ReasonConnect))
}

func TestSynchronizer_FoldsEvents(t *testing.T) {
	f := newFixture(t)
	var mu sync.Mutex
	var seen []events.Name
	s := f.sync(t, Config{Hooks: Hooks{OnUpdate: func(_ Projection, ev *events.Event) {
		if ev == nil {
			return
		}
		mu.Lock()
		seen = append(seen, ev.Name)
		mu.Unlock()
	}}})
	require.NoError(t, s.Connect(f.ctx, f.room.ID))

	holder := f.teams[1].ID
	require.NoError(t, f.pub.Emit(f.ctx, f.room.ID, events.LeaseChanged, events.LeaseChangedPayload{TeamID: &holder, GrantedAt: f.clock.Now()}))

	require.Eventually(t, func() bool {
		p, _ := s.Projection()
		return p.Room.HoldsLease(holder)
	}, waitFor, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []events.Name{events.LeaseChanged}, seen)
}

func TestSynchronizer_ChangeFeedTriggersResync(t *testing.T) {
	f := newFixture(t)
	s := f.sync(t, Config{Feed: f.feed})
	require.NoError(t, s.Connect(f.ctx, f.room.ID))

	// No event is published; only the row change reaches the client.
	_, err := f.store.AdjustScore(f.ctx, f.teams[0].ID, 400)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return f.score(s, f.teams[0].ID) == 400 }, waitFor, 5*time.Millisecond)
	assert.Positive(t, f.metrics.count(ReasonFeed))
}

func TestSynchronizer_ReconnectTriggersResync(t *testing.T) {
	f := newFixture(t)
	s := f.sync(t, Config{})
	require.NoError(t, s.Connect(f.ctx, f.room.ID))

	_, err := f.store.AdjustScore(f.ctx, f.teams[1].ID, -200)
	require.NoError(t, err)
	assert.Equal(t, 0, f.score(s, f.teams[1].ID))

	f.bus.SimulateReconnect()
	require.Eventually(t, func() bool { return f.score(s, f.teams[1].ID) == -200 }, waitFor, 5*time.Millisecond)
	assert.Equal(t, 1, f.metrics.count(ReasonReconnect))
}

func TestSynchronizer_CloseDropsReconnectHook(t *testing.T) {
	f := newFixture(t)
	before := f.bus.ReconnectHookCount()
	for i := 0; i < 3; i++ {
		s := f.sync(t, Config{})
		require.NoError(t, s.Connect(f.ctx, f.room.ID))
		s.Close()
	}
	assert.Equal(t, before, f.bus.ReconnectHookCount())

	f.bus.SimulateReconnect()
	assert.Never(t, func() bool { return f.metrics.count(ReasonReconnect) > 0 }, 50*time.Millisecond, 5*time.Millisecond)
}

func TestSynchronizer_PeriodicResync(t *testing.T) {
	f := newFixture(t)
	s := f.sync(t, Config{ResyncInterval: time.Minute})
	require.NoError(t, s.Connect(f.ctx, f.room.ID))

	_, err := f.store.AdjustScore(f.ctx, f.teams[0].ID, 200)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		f.clock.Advance(time.Minute)
		return f.score(s, f.teams[0].ID) == 200
	}, waitFor, 10*time.Millisecond)
	assert.Positive(t, f.metrics.count(ReasonPeriodic))
}

func TestSynchronizer_OneSubscriptionPerRoom(t *testing.T) {
	f := newFixture(t)
	reg := transport.NewRegistry(f.bus)
	display := f.sync(t, Config{Registry: reg})
	team := f.sync(t, Config{Registry: reg, TeamID: &f.teams[0].ID})

	require.NoError(t, display.Connect(f.ctx, f.room.ID))
	require.NoError(t, team.Connect(f.ctx, f.room.ID))
	assert.Equal(t, 1, f.bus.SubscriberCount(f.room.ID))

	team.Leave()
	assert.Equal(t, 1, f.bus.SubscriberCount(f.room.ID))
	display.Leave()
	assert.Equal(t, 0, f.bus.SubscriberCount(f.room.ID))
}

func TestSynchronizer_Eviction(t *testing.T) {
	t.Run("room closed", func(t *testing.T) {
		f := newFixture(t)
		evicted := make(chan string, 1)
		s := f.sync(t, Config{Hooks: Hooks{OnEvict: func(reason string) { evicted <- reason }}})
		require.NoError(t, s.Connect(f.ctx, f.room.ID))

		require.NoError(t, f.pub.Emit(f.ctx, f.room.ID, events.RoomClosed, events.RoomClosedPayload{RoomID: f.room.ID, Reason: events.ReasonRetired}))

		select {
		case reason := <-evicted:
			assert.Equal(t, EvictClosed, reason)
		case <-time.After(waitFor):
			t.Fatal("client was not evicted")
		}
		_, ok := s.Projection()
		assert.False(t, ok)
		assert.True(t, s.Evicted())
		assert.Equal(t, 0, f.bus.SubscriberCount(f.room.ID))
	})

	t.Run("finished room", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.store.RetireRoom(f.ctx, f.room.ID)
		require.NoError(t, err)

		s := f.sync(t, Config{})
		assert.ErrorIs(t, s.Connect(f.ctx, f.room.ID), ErrEvicted)
		assert.True(t, s.Evicted())
	})

	t.Run("missing room", func(t *testing.T) {
		f := newFixture(t)
		s := f.sync(t, Config{})
		assert.ErrorIs(t, s.Connect(f.ctx, uuid.New()), ErrEvicted)
	})

	t.Run("missing team", func(t *testing.T) {
		f := newFixture(t)
		var reason string
		ghost := uuid.New()
		s := f.sync(t, Config{TeamID: &ghost, Hooks: Hooks{OnEvict: func(r string) { reason = r }}})
		assert.ErrorIs(t, s.Connect(f.ctx, f.room.ID), ErrEvicted)
		assert.Equal(t, EvictTeamGone, reason)
	})
}

func TestSynchronizer_KeepsTimersAcrossResync(t *testing.T) {
	f := newFixture(t)
	s := f.sync(t, Config{Feed: f.feed})
	require.NoError(t, s.Connect(f.ctx, f.room.ID))

	ok, err := f.store.UpdateRoomStatus(f.ctx, f.room.ID, models.RoomStatusLobby, models.RoomStatusRound1)
	require.NoError(t, err)
	require.True(t, ok)
	holder := f.teams[0].ID
	require.NoError(t, f.store.SetLease(f.ctx, f.room.ID, &models.Lease{TeamID: holder, GrantedAt: f.clock.Now()}))
	require.Eventually(t, func() bool {
		p, _ := s.Projection()
		return p.Room.HoldsLease(holder)
	}, waitFor, 5*time.Millisecond)

	cat := models.CategoryWithQuestions{Category: models.Category{ID: uuid.New(), Round: models.RoundOne, Name: "Space"}}
	pts := 200
	cat.Questions = []models.Question{{ID: uuid.New(), CategoryID: cat.Category.ID, Clue: "red planet", Answer: "Mars", PointValue: &pts}}
	require.NoError(t, f.store.ReplaceContent(f.ctx, f.room.ID, []models.CategoryWithQuestions{cat}))
	qid := cat.Questions[0].ID
	require.Eventually(t, func() bool {
		p, _ := s.Projection()
		_, ok := p.Question(qid)
		return ok
	}, waitFor, 5*time.Millisecond)

	require.NoError(t, f.pub.Emit(f.ctx, f.room.ID, events.QuestionPreview, events.QuestionPreviewPayload{
		QuestionID: qid,
		TeamID:     holder,
		StartedAt:  f.clock.Now(),
		Duration:   10 * time.Second,
	}))
	require.Eventually(t, func() bool {
		p, _ := s.Projection()
		return p.Preview != nil
	}, waitFor, 5*time.Millisecond)

	require.NoError(t, s.Resync(f.ctx, ReasonPeriodic))
	p, _ := s.Projection()
	require.NotNil(t, p.Preview, "preview is not in the store and must survive a reload")
	assert.Equal(t, qid, p.Preview.QuestionID)
}
