// Package redisbus implements the room transport on Redis pub/sub.
package redisbus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/buzzer/go/internal/events"
	"github.com/mcdev12/buzzer/go/internal/transport"
)

type Bus struct {
	client *redis.Client

	reconnect transport.ReconnectHooks
}

var _ transport.Bus = (*Bus)(nil)

// Connect parses a redis:// URL and verifies the server answers.
func Connect(ctx context.Context, url string) (*Bus, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	log.Info().Str("addr", opts.Addr).Msg("connected to redis")
	return &Bus{client: client}, nil
}

func (b *Bus) Publish(ctx context.Context, ev events.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := b.client.Publish(ctx, transport.Subject(ev.RoomID), data).Err(); err != nil {
		return fmt.Errorf("publish to redis: %w", err)
	}
	return nil
}

type subscription struct {
	ps     *redis.PubSub
	cancel context.CancelFunc
}

func (s *subscription) Unsubscribe() error {
	s.cancel()
	return s.ps.Close()
}

func (b *Bus) Subscribe(roomID uuid.UUID, fn transport.Handler) (transport.Subscription, error) {
	ctx, cancel := context.WithCancel(context.Background())
	ps := b.client.Subscribe(ctx, transport.Subject(roomID))
	if _, err := ps.Receive(ctx); err != nil {
		cancel()
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe to redis: %w", err)
	}

	go func() {
		// go-redis resubscribes after a dropped connection; a further
		// subscription confirmation therefore means messages may have been lost.
		for msg := range ps.ChannelWithSubscriptions() {
			switch m := msg.(type) {
			case *redis.Subscription:
				if m.Kind == "subscribe" {
					log.Info().Str("channel", m.Channel).Msg("redis resubscribed")
					b.fireReconnect()
				}
			case *redis.Message:
				var ev events.Event
				if err := json.Unmarshal([]byte(m.Payload), &ev); err != nil {
					log.Error().Err(err).Str("channel", m.Channel).Msg("failed to decode event")
					continue
				}
				fn(ev)
			}
		}
	}()

	return &subscription{ps: ps, cancel: cancel}, nil
}

func (b *Bus) fireReconnect() {
	b.reconnect.Fire()
}

func (b *Bus) OnReconnect(fn func()) func() {
	return b.reconnect.Add(fn)
}

func (b *Bus) Close() error {
	return b.client.Close()
}
