// Package controller is the authoritative client. It owns phase changes,
// judging, scoring and the final round, and backs up question activation.
package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/buzzer/go/internal/changefeed"
	"github.com/mcdev12/buzzer/go/internal/content"
	"github.com/mcdev12/buzzer/go/internal/events"
	"github.com/mcdev12/buzzer/go/internal/game/lease"
	"github.com/mcdev12/buzzer/go/internal/game/phase"
	"github.com/mcdev12/buzzer/go/internal/game/timer"
	"github.com/mcdev12/buzzer/go/internal/joincode"
	"github.com/mcdev12/buzzer/go/internal/metrics"
	"github.com/mcdev12/buzzer/go/internal/models"
	"github.com/mcdev12/buzzer/go/internal/store"
	"github.com/mcdev12/buzzer/go/internal/transport"
)

// Sender identifies controller-published events.
const Sender = "controller"

// AutoSubmitGrace is how long the controller waits after the final timer
// before reading responses, so team auto-saves can land.
const AutoSubmitGrace = 2 * time.Second

var (
	ErrNoRoom           = errors.New("no room is being hosted")
	ErrRoomFinished     = errors.New("room is finished")
	ErrNotInLobby       = errors.New("room is not in the lobby")
	ErrNoActiveQuestion = errors.New("no question is active")
	ErrQuestionInPlay   = errors.New("a question is still in play")
	ErrAlreadyJudged    = errors.New("buzz was already judged")
	ErrTeamNotActive    = errors.New("team is not an active team in this room")
	ErrWrongStage       = errors.New("final round is not at that stage")
	ErrWagersPending    = errors.New("not every finalist has locked a wager")
	ErrNotReviewTeam    = errors.New("team is not next in the final review")
	ErrNoFinalQuestion  = errors.New("room has no final question")
)

// Timings are the durations the controller issues timers with.
type Timings struct {
	Judging         time.Duration
	FinalResponse   time.Duration
	AutoSubmitGrace time.Duration
}

func DefaultTimings() Timings {
	return Timings{
		Judging:         timer.Judging,
		FinalResponse:   timer.FinalResponse,
		AutoSubmitGrace: AutoSubmitGrace,
	}
}

type Config struct {
	Clock   clockwork.Clock
	Store   store.Store
	Bus     transport.Bus
	Feed    changefeed.Feed // optional
	Metrics metrics.Collector
	Timings Timings
}

// Controller hosts at most one room at a time. Every operation, transport
// handler and timer callback runs under mu.
type Controller struct {
	clock    clockwork.Clock
	store    store.Store
	registry *transport.Registry
	feed     changefeed.Feed
	pub      *transport.Publisher
	metrics  metrics.Collector
	codes    *joincode.Generator
	fallback *lease.Fallback
	timings  Timings

	base          context.Context
	cancel        context.CancelFunc
	wake          chan struct{}
	dropReconnect func()

	mu      sync.Mutex
	room    *models.Room
	leave   func()
	unwatch func()
	play    *play
	final   *finalRound
	gen     uint64
}

func New(cfg Config) *Controller {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NoOp{}
	}
	if cfg.Timings == (Timings{}) {
		cfg.Timings = DefaultTimings()
	}
	base, cancel := context.WithCancel(context.Background())
	c := &Controller{
		clock:    cfg.Clock,
		store:    cfg.Store,
		registry: transport.NewRegistry(cfg.Bus),
		feed:     cfg.Feed,
		pub:      transport.NewPublisher(cfg.Bus, Sender, cfg.Clock, cfg.Metrics),
		metrics:  cfg.Metrics,
		codes:    joincode.New(cfg.Store),
		timings:  cfg.Timings,
		base:     base,
		cancel:   cancel,
		wake:     make(chan struct{}, 1),
	}
	c.fallback = lease.NewFallback(cfg.Clock, c.runFallback)
	c.dropReconnect = c.registry.OnReconnect(c.onReconnect)
	go c.resyncLoop()
	return c
}

// Close releases the hosted room and stops every timer.
func (c *Controller) Close() {
	c.dropReconnect()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.detach()
	c.cancel()
}

// Room returns a copy of the hosted room.
func (c *Controller) Room() (*models.Room, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.room == nil {
		return nil, ErrNoRoom
	}
	r := *c.room
	return &r, nil
}

// CreateRoom retires every live room, creates a fresh lobby and hosts it.
// Clients of the retired rooms are told to leave.
func (c *Controller) CreateRoom(ctx context.Context) (*models.Room, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.createRoom(ctx, events.ReasonRetired)
}

func (c *Controller) createRoom(ctx context.Context, reason string) (*models.Room, error) {
	code, err := c.codes.Next(ctx)
	if err != nil {
		return nil, err
	}
	room, retired, err := c.store.CreateRoom(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to create room: %w", err)
	}
	for _, id := range retired {
		c.emitTo(ctx, id, events.RoomClosed, events.RoomClosedPayload{RoomID: id, Reason: reason})
	}
	if err := c.attach(ctx, room); err != nil {
		return nil, err
	}

	log.Info().
		Str("room_id", room.ID.String()).
		Str("join_code", room.JoinCode).
		Int("retired", len(retired)).
		Msg("room created")
	r := *room
	return &r, nil
}

// Resume hosts an existing room after a controller restart. A nil id picks
// the live room.
func (c *Controller) Resume(ctx context.Context, roomID *uuid.UUID) (*models.Room, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var (
		room *models.Room
		err  error
	)
	if roomID == nil {
		room, err = c.store.GetLiveRoom(ctx)
	} else {
		room, err = c.store.GetRoom(ctx, *roomID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load room: %w", err)
	}
	if !room.IsLive() {
		return nil, ErrRoomFinished
	}
	if err := c.attach(ctx, room); err != nil {
		return nil, err
	}
	log.Info().Str("room_id", room.ID.String()).Str("status", string(room.Status)).Msg("room resumed")
	r := *c.room
	return &r, nil
}

// CloseRoom retires the hosted room and evicts its clients.
func (c *Controller) CloseRoom(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.room == nil {
		return ErrNoRoom
	}
	roomID := c.room.ID
	if _, err := c.store.RetireRoom(ctx, roomID); err != nil {
		return fmt.Errorf("failed to retire room: %w", err)
	}
	c.emit(ctx, events.RoomClosed, events.RoomClosedPayload{RoomID: roomID, Reason: events.ReasonClosed})
	c.detach()
	log.Info().Str("room_id", roomID.String()).Msg("room closed")
	return nil
}

// ResetRoom discards the hosted room and starts a new lobby with the same content.
func (c *Controller) ResetRoom(ctx context.Context) (*models.Room, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.room == nil {
		return nil, ErrNoRoom
	}
	rows, err := c.contentRows(ctx, c.room.ID)
	if err != nil {
		return nil, err
	}
	room, err := c.createRoom(ctx, events.ReasonReset)
	if err != nil {
		return nil, err
	}
	if len(rows) > 0 {
		if err := c.store.ReplaceContent(ctx, room.ID, content.Clone(rows)); err != nil {
			return nil, fmt.Errorf("failed to copy content: %w", err)
		}
	}
	return room, nil
}

// ImportContent replaces the lobby's questions with p.
func (c *Controller) ImportContent(ctx context.Context, p *content.Pack) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.room == nil {
		return ErrNoRoom
	}
	if c.room.Status != models.RoomStatusLobby {
		return ErrNotInLobby
	}
	return content.Import(ctx, c.store, c.room.ID, p)
}

func (c *Controller) contentRows(ctx context.Context, roomID uuid.UUID) ([]models.CategoryWithQuestions, error) {
	var rows []models.CategoryWithQuestions
	for _, round := range []int{models.RoundOne, models.RoundTwo, models.RoundFinal} {
		cats, err := c.store.ListCategories(ctx, roomID, round)
		if err != nil {
			return nil, fmt.Errorf("failed to list categories: %w", err)
		}
		qs, err := c.store.ListQuestions(ctx, roomID, round)
		if err != nil {
			return nil, fmt.Errorf("failed to list questions: %w", err)
		}
		for _, cat := range cats {
			cwq := models.CategoryWithQuestions{Category: cat}
			for _, q := range qs {
				if q.CategoryID == cat.ID {
					cwq.Questions = append(cwq.Questions, q)
				}
			}
			rows = append(rows, cwq)
		}
	}
	return rows, nil
}

// attach makes room the hosted room and rebuilds in-memory state from the store.
func (c *Controller) attach(ctx context.Context, room *models.Room) error {
	c.detach()

	leave, err := c.registry.Join(room.ID, c.onEvent)
	if err != nil {
		return err
	}
	c.leave = leave
	if c.feed != nil {
		c.unwatch = c.feed.Watch(room.ID, []string{changefeed.TableRooms, changefeed.TableBuzzes}, c.onChange)
	}
	c.room = room
	return c.rebuild(ctx)
}

func (c *Controller) detach() {
	if c.room != nil {
		c.fallback.Forget(c.room.ID)
	}
	c.stopTimers()
	if c.unwatch != nil {
		c.unwatch()
		c.unwatch = nil
	}
	if c.leave != nil {
		c.leave()
		c.leave = nil
	}
	c.room = nil
	c.play = nil
	c.final = nil
}

// stopTimers invalidates every pending callback.
func (c *Controller) stopTimers() {
	c.gen++
	if c.play != nil && c.play.judging != nil {
		c.play.judging.stop.Stop()
		c.play.judging = nil
	}
	if c.final != nil && c.final.pending != nil {
		c.final.pending.Stop()
		c.final.pending = nil
	}
}

// rebuild derives the controller's working state from the store.
func (c *Controller) rebuild(ctx context.Context) error {
	room, err := c.store.GetRoom(ctx, c.room.ID)
	if err != nil {
		return fmt.Errorf("failed to load room: %w", err)
	}
	c.room = room

	switch {
	case phase.IsBoardRound(room.Status):
		return c.refreshPlay(ctx)
	case room.Status == models.RoomStatusFinalJeopardy && c.final == nil:
		return c.rebuildFinal(ctx)
	}
	return nil
}

func (c *Controller) grantLease(ctx context.Context, teamID *uuid.UUID) error {
	var l *models.Lease
	if teamID != nil {
		l = &models.Lease{TeamID: *teamID, GrantedAt: c.clock.Now()}
	}
	if err := c.store.SetLease(ctx, c.room.ID, l); err != nil {
		return fmt.Errorf("failed to set lease: %w", err)
	}
	c.room.Lease = l

	payload := events.LeaseChangedPayload{TeamID: teamID, GrantedAt: c.clock.Now()}
	c.emit(ctx, events.LeaseChanged, payload)
	return nil
}

func (c *Controller) scores(ctx context.Context) ([]models.TeamScore, error) {
	teams, err := c.store.ListTeams(ctx, c.room.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list teams: %w", err)
	}
	return phase.ScoreTable(teams), nil
}

// emit publishes to the hosted room. Transport failures are logged only;
// clients recover them by resyncing.
func (c *Controller) emit(ctx context.Context, name events.Name, payload any) {
	c.emitTo(ctx, c.room.ID, name, payload)
}

func (c *Controller) emitTo(ctx context.Context, roomID uuid.UUID, name events.Name, payload any) {
	if err := c.pub.Emit(ctx, roomID, name, payload); err != nil {
		log.Error().Err(err).Str("room_id", roomID.String()).Str("event", string(name)).Msg("failed to publish event")
	}
}

func (c *Controller) requireRoom() error {
	if c.room == nil {
		return ErrNoRoom
	}
	if !c.room.IsLive() {
		return ErrRoomFinished
	}
	return nil
}
