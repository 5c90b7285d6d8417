// Package gateway pushes room state to displays over websockets. Each watched
// room is followed by one synchronizer; every update it makes is rendered to
// a RoomState and broadcast to the room's connections.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/buzzer/go/internal/changefeed"
	"github.com/mcdev12/buzzer/go/internal/clientsync"
	"github.com/mcdev12/buzzer/go/internal/events"
	"github.com/mcdev12/buzzer/go/internal/metrics"
	"github.com/mcdev12/buzzer/go/internal/models"
	"github.com/mcdev12/buzzer/go/internal/transport"
)

// Store is the read side the gateway needs.
type Store interface {
	clientsync.Reader
	GetLiveRoom(ctx context.Context) (*models.Room, error)
}

type Config struct {
	Clock          clockwork.Clock
	Store          Store
	Bus            transport.Bus
	Feed           changefeed.Feed // optional
	Metrics        metrics.Collector
	ResyncInterval time.Duration
	Connection     ConnectionConfig
}

// Service owns the room synchronizers and the websocket connections.
type Service struct {
	clock    clockwork.Clock
	store    Store
	registry *transport.Registry
	feed     changefeed.Feed
	metrics  metrics.Collector
	interval time.Duration
	conns    *ConnectionManager

	mu    sync.Mutex
	rooms map[uuid.UUID]*clientsync.Synchronizer
}

func NewService(cfg Config) *Service {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NoOp{}
	}
	if cfg.Connection.PingInterval == 0 {
		cfg.Connection = DefaultConnectionConfig()
	}
	s := &Service{
		clock:    cfg.Clock,
		store:    cfg.Store,
		registry: transport.NewRegistry(cfg.Bus),
		feed:     cfg.Feed,
		metrics:  cfg.Metrics,
		interval: cfg.ResyncInterval,
		conns:    NewConnectionManager(cfg.Connection),
		rooms:    make(map[uuid.UUID]*clientsync.Synchronizer),
	}
	s.conns.onEmpty = s.release
	return s
}

// Start runs the broadcaster until ctx is done, then releases every room.
func (s *Service) Start(ctx context.Context) error {
	log.Info().Msg("starting display gateway")
	go s.conns.Start(ctx)
	<-ctx.Done()
	s.Stop()
	log.Info().Msg("display gateway stopped")
	return nil
}

// Stop closes every room synchronizer.
func (s *Service) Stop() {
	s.mu.Lock()
	rooms := s.rooms
	s.rooms = make(map[uuid.UUID]*clientsync.Synchronizer)
	s.mu.Unlock()
	for _, follower := range rooms {
		follower.Close()
	}
}

// Watch returns the room's synchronizer, connecting one on first use.
func (s *Service) Watch(ctx context.Context, roomID uuid.UUID) (*clientsync.Synchronizer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if follower, ok := s.rooms[roomID]; ok {
		return follower, nil
	}

	var follower *clientsync.Synchronizer
	follower = clientsync.New(clientsync.Config{
		Clock:          s.clock,
		Store:          s.store,
		Registry:       s.registry,
		Feed:           s.feed,
		Metrics:        s.metrics,
		ResyncInterval: s.interval,
		Hooks: clientsync.Hooks{
			OnUpdate: func(p clientsync.Projection, ev *events.Event) {
				frame := Frame{Type: FrameState, State: NewRoomState(p, s.clock.Now())}
				if ev != nil {
					frame.Event = string(ev.Name)
				}
				s.conns.BroadcastToRoom(roomID, frame)
			},
			OnEvict: func(reason string) {
				s.conns.CloseRoom(roomID, Frame{Type: FrameEvicted, Reason: reason})
				go s.drop(roomID, follower)
			},
		},
	})
	if err := follower.Connect(ctx, roomID); err != nil {
		follower.Close()
		return nil, err
	}
	s.rooms[roomID] = follower

	log.Info().Str("room_id", roomID.String()).Msg("watching room")
	return follower, nil
}

func (s *Service) drop(roomID uuid.UUID, follower *clientsync.Synchronizer) {
	s.mu.Lock()
	if s.rooms[roomID] == follower {
		delete(s.rooms, roomID)
	}
	s.mu.Unlock()
	follower.Close()
}

// release stops following a room nobody watches any more.
func (s *Service) release(roomID uuid.UUID) {
	s.mu.Lock()
	follower, ok := s.rooms[roomID]
	if !ok || s.conns.Count(roomID) > 0 {
		s.mu.Unlock()
		return
	}
	delete(s.rooms, roomID)
	s.mu.Unlock()

	follower.Close()
	log.Info().Str("room_id", roomID.String()).Msg("released room")
}

// Watching reports whether the gateway currently follows roomID.
func (s *Service) Watching(roomID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.rooms[roomID]
	return ok
}

// State renders the room. A watched room is served from its projection,
// any other room is loaded from the store.
func (s *Service) State(ctx context.Context, roomID uuid.UUID) (*RoomState, error) {
	s.mu.Lock()
	follower, ok := s.rooms[roomID]
	s.mu.Unlock()
	if ok {
		if p, ok := follower.Projection(); ok {
			return NewRoomState(p, s.clock.Now()), nil
		}
	}

	p, err := clientsync.Load(ctx, s.store, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to load room: %w", err)
	}
	p.SyncedAt = s.clock.Now()
	return NewRoomState(*p, s.clock.Now()), nil
}

// LiveState renders the one live room.
func (s *Service) LiveState(ctx context.Context) (*RoomState, error) {
	room, err := s.store.GetLiveRoom(ctx)
	if err != nil {
		return nil, err
	}
	return s.State(ctx, room.ID)
}

// Connect upgrades r into a websocket following roomID. The first frame is
// the current state.
func (s *Service) Connect(w http.ResponseWriter, r *http.Request, roomID uuid.UUID) error {
	follower, err := s.Watch(r.Context(), roomID)
	if err != nil {
		return err
	}
	p, ok := follower.Projection()
	if !ok {
		return clientsync.ErrEvicted
	}
	initial := Frame{Type: FrameState, State: NewRoomState(p, s.clock.Now())}

	if _, err := s.conns.UpgradeConnection(w, r, roomID, &initial); err != nil {
		return errUpgrade{err}
	}
	// The room may have been released between Watch and registration.
	if _, err := s.Watch(context.WithoutCancel(r.Context()), roomID); err != nil && !errors.Is(err, clientsync.ErrEvicted) {
		log.Error().Err(err).Str("room_id", roomID.String()).Msg("failed to keep watching room")
	}
	return nil
}

// Stats summarizes connections and watched rooms.
func (s *Service) Stats() ConnectionStats {
	return s.conns.Stats()
}

type errUpgrade struct{ err error }

func (e errUpgrade) Error() string { return e.err.Error() }
func (e errUpgrade) Unwrap() error { return e.err }
