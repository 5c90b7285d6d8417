// Package membus is an in-process Bus. Each subscriber has its own buffered
// queue so a slow listener drops messages instead of blocking publishers.
package membus

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/buzzer/go/internal/events"
	"github.com/mcdev12/buzzer/go/internal/transport"
)

const queueSize = 256

var ErrClosed = errors.New("bus closed")

type Bus struct {
	mu        sync.RWMutex
	subs      map[uuid.UUID]map[*subscriber]bool
	reconnect transport.ReconnectHooks
	closed    bool

	// Drop, when set, decides per message and subscriber whether to lose it.
	Drop func(ev events.Event) bool
}

var _ transport.Bus = (*Bus)(nil)

func New() *Bus {
	return &Bus{subs: make(map[uuid.UUID]map[*subscriber]bool)}
}

type subscriber struct {
	bus    *Bus
	roomID uuid.UUID
	queue  chan events.Event
	done   chan struct{}
	once   sync.Once
}

func (b *Bus) Publish(_ context.Context, ev events.Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	for s := range b.subs[ev.RoomID] {
		if b.Drop != nil && b.Drop(ev) {
			continue
		}
		select {
		case s.queue <- ev:
		default:
			log.Warn().Str("room_id", ev.RoomID.String()).Msg("subscriber queue full, dropping event")
		}
	}
	return nil
}

func (b *Bus) Subscribe(roomID uuid.UUID, fn transport.Handler) (transport.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	s := &subscriber{
		bus:    b,
		roomID: roomID,
		queue:  make(chan events.Event, queueSize),
		done:   make(chan struct{}),
	}
	if b.subs[roomID] == nil {
		b.subs[roomID] = make(map[*subscriber]bool)
	}
	b.subs[roomID][s] = true

	go func() {
		for {
			select {
			case <-s.done:
				return
			case ev := <-s.queue:
				fn(ev)
			}
		}
	}()
	return s, nil
}

func (s *subscriber) Unsubscribe() error {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subs[s.roomID], s)
		if len(s.bus.subs[s.roomID]) == 0 {
			delete(s.bus.subs, s.roomID)
		}
		s.bus.mu.Unlock()
		close(s.done)
	})
	return nil
}

func (b *Bus) OnReconnect(fn func()) func() {
	return b.reconnect.Add(fn)
}

// SimulateReconnect runs the reconnect callbacks as a real backend would.
func (b *Bus) SimulateReconnect() {
	b.reconnect.Fire()
}

// ReconnectHookCount reports how many reconnect callbacks are registered.
func (b *Bus) ReconnectHookCount() int {
	return b.reconnect.Len()
}

// SubscriberCount reports how many subscriptions exist for roomID.
func (b *Bus) SubscriberCount(roomID uuid.UUID) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[roomID])
}

func (b *Bus) Close() error {
	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[uuid.UUID]map[*subscriber]bool)
	b.closed = true
	b.mu.Unlock()
	for _, room := range subs {
		for s := range room {
			s.once.Do(func() { close(s.done) })
		}
	}
	return nil
}
