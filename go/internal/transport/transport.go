// Package transport carries room events between clients. Delivery is best
// effort: messages may be lost, duplicated or reordered, and receivers must
// apply them idempotently.
package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/buzzer/go/internal/events"
	"github.com/mcdev12/buzzer/go/internal/metrics"
)

type Handler func(events.Event)

type Subscription interface {
	Unsubscribe() error
}

// Bus is a room-scoped pub/sub backend.
type Bus interface {
	Publish(ctx context.Context, ev events.Event) error
	Subscribe(roomID uuid.UUID, fn Handler) (Subscription, error)
	// OnReconnect registers fn to run after the backend recovers a lost
	// connection. The returned func unregisters it.
	OnReconnect(fn func()) (remove func())
	Close() error
}

// ReconnectHooks is the callback list backends keep for OnReconnect.
type ReconnectHooks struct {
	mu    sync.Mutex
	next  uint64
	hooks []reconnectHook
}

type reconnectHook struct {
	id uint64
	fn func()
}

// Add registers fn and returns a func that removes it. Removing twice is a no-op.
func (h *ReconnectHooks) Add(fn func()) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.next++
	id := h.next
	h.hooks = append(h.hooks, reconnectHook{id: id, fn: fn})
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		for i, hook := range h.hooks {
			if hook.id == id {
				h.hooks = append(h.hooks[:i], h.hooks[i+1:]...)
				return
			}
		}
	}
}

// Fire runs every registered hook in registration order, outside the lock.
func (h *ReconnectHooks) Fire() {
	h.mu.Lock()
	fns := make([]func(), len(h.hooks))
	for i, hook := range h.hooks {
		fns[i] = hook.fn
	}
	h.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// Len reports how many hooks are registered.
func (h *ReconnectHooks) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.hooks)
}

// Subject is the channel name used for a room.
func Subject(roomID uuid.UUID) string {
	return "buzzer.room." + roomID.String()
}

// Registry shares one backend subscription per room among every local
// listener. Joining an already-subscribed room reuses its subscription and
// the subscription is only closed when the last listener leaves.
type Registry struct {
	bus Bus

	mu    sync.Mutex
	rooms map[uuid.UUID]*roomChannel
}

type roomChannel struct {
	sub      Subscription
	next     int
	handlers map[int]Handler
}

func NewRegistry(bus Bus) *Registry {
	return &Registry{
		bus:   bus,
		rooms: make(map[uuid.UUID]*roomChannel),
	}
}

// Join adds fn as a listener on roomID and returns a func that removes it.
func (r *Registry) Join(roomID uuid.UUID, fn Handler) (func(), error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch, ok := r.rooms[roomID]
	if !ok {
		ch = &roomChannel{handlers: make(map[int]Handler)}
		sub, err := r.bus.Subscribe(roomID, func(ev events.Event) { r.deliver(roomID, ev) })
		if err != nil {
			return nil, fmt.Errorf("failed to subscribe to room %s: %w", roomID, err)
		}
		ch.sub = sub
		r.rooms[roomID] = ch
		log.Debug().Str("room_id", roomID.String()).Msg("room subscription opened")
	}

	id := ch.next
	ch.next++
	ch.handlers[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() { r.leave(roomID, id) })
	}, nil
}

func (r *Registry) leave(roomID uuid.UUID, id int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch, ok := r.rooms[roomID]
	if !ok {
		return
	}
	delete(ch.handlers, id)
	if len(ch.handlers) > 0 {
		return
	}
	delete(r.rooms, roomID)
	if err := ch.sub.Unsubscribe(); err != nil {
		log.Error().Err(err).Str("room_id", roomID.String()).Msg("failed to unsubscribe")
	}
	log.Debug().Str("room_id", roomID.String()).Msg("room subscription closed")
}

func (r *Registry) deliver(roomID uuid.UUID, ev events.Event) {
	r.mu.Lock()
	ch, ok := r.rooms[roomID]
	var targets []Handler
	if ok {
		for _, h := range ch.handlers {
			targets = append(targets, h)
		}
	}
	r.mu.Unlock()

	for _, h := range targets {
		h(ev)
	}
}

// Subscriptions reports how many backend subscriptions are open.
func (r *Registry) Subscriptions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

// OnReconnect forwards to the backend and returns its unregister func.
func (r *Registry) OnReconnect(fn func()) (remove func()) {
	return r.bus.OnReconnect(fn)
}

// Publisher stamps and sends events on behalf of one client.
type Publisher struct {
	bus     Bus
	sender  string
	clock   clockwork.Clock
	metrics metrics.Collector
}

func NewPublisher(bus Bus, sender string, clock clockwork.Clock, m metrics.Collector) *Publisher {
	if m == nil {
		m = metrics.NoOp{}
	}
	return &Publisher{bus: bus, sender: sender, clock: clock, metrics: m}
}

// Emit publishes payload under name to the room. Failures are returned but
// callers usually only log them; receivers recover through resync.
func (p *Publisher) Emit(ctx context.Context, roomID uuid.UUID, name events.Name, payload any) error {
	ev, err := events.New(roomID, name, p.sender, p.clock.Now(), payload)
	if err != nil {
		return err
	}
	err = p.bus.Publish(ctx, ev)
	p.metrics.RecordEventPublished(string(name), err == nil)
	if err != nil {
		return fmt.Errorf("failed to publish %s: %w", name, err)
	}
	log.Debug().
		Str("room_id", roomID.String()).
		Str("event", string(name)).
		Str("sender", p.sender).
		Msg("event published")
	return nil
}

// Sender is the identity stamped on outgoing events.
func (p *Publisher) Sender() string {
	return p.sender
}
