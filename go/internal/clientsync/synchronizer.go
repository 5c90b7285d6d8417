// Package clientsync keeps a client's projection of a room consistent with
// the store. Transport events are folded in as they arrive; change-feed
// notifications, transport reconnects and a periodic job trigger a full
// resync through the same path.
package clientsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/buzzer/go/internal/changefeed"
	"github.com/mcdev12/buzzer/go/internal/events"
	"github.com/mcdev12/buzzer/go/internal/metrics"
	"github.com/mcdev12/buzzer/go/internal/models"
	"github.com/mcdev12/buzzer/go/internal/store"
	"github.com/mcdev12/buzzer/go/internal/transport"
)

// DefaultResyncInterval is how often a connected client reloads from the
// store when nothing else has made it.
const DefaultResyncInterval = 30 * time.Second

// Resync reasons.
const (
	ReasonConnect   = "connect"
	ReasonFeed      = "change_feed"
	ReasonReconnect = "reconnect"
	ReasonPeriodic  = "periodic"
	ReasonEvent     = "event"
)

// Eviction reasons.
const (
	EvictClosed   = "room_closed"
	EvictMissing  = "room_missing"
	EvictFinished = "room_finished"
	EvictTeamGone = "team_missing"
)

var (
	ErrEvicted      = errors.New("client was evicted from the room")
	ErrNotConnected = errors.New("synchronizer is not connected to a room")
)

// Hooks are called outside the synchronizer's lock with copies of its state.
type Hooks struct {
	// OnUpdate runs after every applied event, and after a resync with a nil event.
	OnUpdate func(p Projection, ev *events.Event)
	OnEvict  func(reason string)
}

type Config struct {
	Clock    clockwork.Clock
	Store    Reader
	Registry *transport.Registry
	Feed     changefeed.Feed // optional
	Metrics  metrics.Collector
	// ResyncInterval of zero uses DefaultResyncInterval; negative disables the job.
	ResyncInterval time.Duration
	// TeamID makes the team's disappearance an eviction.
	TeamID *uuid.UUID
	Hooks  Hooks
}

// Synchronizer owns one client's projection of one room.
type Synchronizer struct {
	clock    clockwork.Clock
	store    Reader
	registry *transport.Registry
	feed     changefeed.Feed
	metrics  metrics.Collector
	interval time.Duration
	teamID   *uuid.UUID
	hooks    Hooks

	base          context.Context
	cancel        context.CancelFunc
	wake          chan string
	dropReconnect func()

	mu      sync.Mutex
	roomID  uuid.UUID
	proj    *Projection
	evicted bool
	leave   func()
	unwatch func()
	sched   gocron.Scheduler
}

func New(cfg Config) *Synchronizer {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NoOp{}
	}
	if cfg.ResyncInterval == 0 {
		cfg.ResyncInterval = DefaultResyncInterval
	}
	base, cancel := context.WithCancel(context.Background())
	s := &Synchronizer{
		clock:    cfg.Clock,
		store:    cfg.Store,
		registry: cfg.Registry,
		feed:     cfg.Feed,
		metrics:  cfg.Metrics,
		interval: cfg.ResyncInterval,
		teamID:   cfg.TeamID,
		hooks:    cfg.Hooks,
		base:     base,
		cancel:   cancel,
		wake:     make(chan string, 1),
	}
	s.dropReconnect = s.registry.OnReconnect(func() { s.trigger(ReasonReconnect) })
	go s.loop()
	return s
}

// Connect subscribes to roomID and loads the full projection. A room that is
// gone or already finished evicts the client and returns ErrEvicted.
func (s *Synchronizer) Connect(ctx context.Context, roomID uuid.UUID) error {
	s.mu.Lock()
	s.release()
	s.roomID = roomID
	s.evicted = false

	leave, err := s.registry.Join(roomID, s.onEvent)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.leave = leave
	if s.feed != nil {
		s.unwatch = s.feed.Watch(roomID, changefeed.AllTables, s.onChange)
	}

	notify, err := s.resync(ctx, ReasonConnect)
	if err == nil && s.interval > 0 {
		err = s.startJob()
	}
	s.mu.Unlock()

	notify()
	if err != nil {
		return err
	}
	log.Info().Str("room_id", roomID.String()).Msg("client synchronized")
	return nil
}

func (s *Synchronizer) startJob() error {
	sched, err := gocron.NewScheduler(gocron.WithClock(s.clock))
	if err != nil {
		return fmt.Errorf("failed to create resync scheduler: %w", err)
	}
	_, err = sched.NewJob(
		gocron.DurationJob(s.interval),
		gocron.NewTask(s.trigger, ReasonPeriodic),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = sched.Shutdown()
		return fmt.Errorf("failed to schedule resync: %w", err)
	}
	sched.Start()
	s.sched = sched
	return nil
}

// Resync reloads the projection from the store.
func (s *Synchronizer) Resync(ctx context.Context, reason string) error {
	s.mu.Lock()
	if s.proj == nil && s.leave == nil {
		s.mu.Unlock()
		return ErrNotConnected
	}
	notify, err := s.resync(ctx, reason)
	s.mu.Unlock()
	notify()
	return err
}

// resync must run under mu. The returned func fires the hooks and must be
// called after mu is released.
func (s *Synchronizer) resync(ctx context.Context, reason string) (func(), error) {
	if s.evicted {
		return func() {}, ErrEvicted
	}
	start := s.clock.Now()
	next, err := Load(ctx, s.store, s.roomID)
	if errors.Is(err, store.ErrNotFound) {
		return s.evict(EvictMissing), ErrEvicted
	}
	if err != nil {
		s.metrics.RecordResync(reason, false, s.clock.Since(start))
		log.Error().Err(err).Str("room_id", s.roomID.String()).Str("reason", reason).Msg("resync failed")
		return func() {}, err
	}

	if next.Room.Status == models.RoomStatusFinished && retired(s.proj) {
		return s.evict(EvictFinished), ErrEvicted
	}
	if s.teamID != nil {
		if _, ok := next.Team(*s.teamID); !ok {
			return s.evict(EvictTeamGone), ErrEvicted
		}
	}

	next.merge(s.proj)
	next.SyncedAt = s.clock.Now()
	s.proj = next
	s.metrics.RecordResync(reason, true, s.clock.Since(start))
	log.Debug().
		Str("room_id", s.roomID.String()).
		Str("reason", reason).
		Str("status", string(next.Room.Status)).
		Msg("projection resynced")

	snap := next.Clone()
	return func() {
		if s.hooks.OnUpdate != nil {
			s.hooks.OnUpdate(snap, nil)
		}
	}, nil
}

// retired reports whether a finished room ended outside the normal game
// flow: a fresh connect or a room that was not in its final round.
func retired(prev *Projection) bool {
	if prev == nil {
		return true
	}
	return prev.Room.Status != models.RoomStatusFinalJeopardy && prev.Room.Status != models.RoomStatusFinished
}

// evict clears the session under mu and returns the hook call.
func (s *Synchronizer) evict(reason string) func() {
	s.evicted = true
	s.proj = nil
	s.release()
	log.Warn().Str("room_id", s.roomID.String()).Str("reason", reason).Msg("client evicted")
	return func() {
		if s.hooks.OnEvict != nil {
			s.hooks.OnEvict(reason)
		}
	}
}

func (s *Synchronizer) onEvent(ev events.Event) {
	s.mu.Lock()
	if s.proj == nil || s.evicted || ev.RoomID != s.roomID {
		s.mu.Unlock()
		return
	}
	payload, err := events.Decode(ev)
	if err != nil || payload == nil {
		s.mu.Unlock()
		s.metrics.RecordEventDropped("decode")
		log.Warn().Err(err).Str("event", string(ev.Name)).Msg("dropping undecodable event")
		return
	}
	s.metrics.RecordEventReceived(string(ev.Name))

	if p, ok := payload.(*events.RoomClosedPayload); ok {
		log.Info().Str("room_id", s.roomID.String()).Str("reason", p.Reason).Msg("room closed")
		notify := s.evict(EvictClosed)
		s.mu.Unlock()
		notify()
		return
	}

	needResync := s.proj.Apply(payload)
	snap := s.proj.Clone()
	s.mu.Unlock()

	if needResync {
		s.trigger(ReasonEvent)
	}
	if s.hooks.OnUpdate != nil {
		s.hooks.OnUpdate(snap, &ev)
	}
}

// onChange runs on the writer's goroutine and only schedules work.
func (s *Synchronizer) onChange(c changefeed.Change) {
	if c.Reconnect {
		s.trigger(ReasonReconnect)
		return
	}
	s.trigger(ReasonFeed)
}

func (s *Synchronizer) trigger(reason string) {
	select {
	case s.wake <- reason:
	default:
	}
}

func (s *Synchronizer) loop() {
	for {
		select {
		case <-s.base.Done():
			return
		case reason := <-s.wake:
			err := s.Resync(s.base, reason)
			if err != nil && !errors.Is(err, ErrEvicted) && !errors.Is(err, ErrNotConnected) {
				log.Warn().Err(err).Str("reason", reason).Msg("background resync failed")
			}
		}
	}
}

// Projection returns a copy of the current projection, or false before the
// first successful load and after eviction.
func (s *Synchronizer) Projection() (Projection, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.proj == nil {
		return Projection{}, false
	}
	return s.proj.Clone(), true
}

// RoomID returns the room this synchronizer follows.
func (s *Synchronizer) RoomID() uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomID
}

// Evicted reports whether the client lost its room.
func (s *Synchronizer) Evicted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.evicted
}

// Leave releases the room subscription and forgets the projection.
func (s *Synchronizer) Leave() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.release()
	s.proj = nil
}

// Close leaves the room and stops background work.
func (s *Synchronizer) Close() {
	s.dropReconnect()
	s.Leave()
	s.cancel()
}

func (s *Synchronizer) release() {
	if s.sched != nil {
		if err := s.sched.Shutdown(); err != nil {
			log.Warn().Err(err).Msg("failed to stop resync scheduler")
		}
		s.sched = nil
	}
	if s.unwatch != nil {
		s.unwatch()
		s.unwatch = nil
	}
	if s.leave != nil {
		s.leave()
		s.leave = nil
	}
}
