// Package natsbus implements the room transport on core NATS subjects, which
// are at-most-once and unordered across publishers.
package natsbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/buzzer/go/internal/events"
	"github.com/mcdev12/buzzer/go/internal/transport"
)

type Config struct {
	URL           string
	Name          string
	MaxReconnects int
	ReconnectWait time.Duration
}

func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		Name:          "buzzer",
		MaxReconnects: -1, // Infinite
		ReconnectWait: 2 * time.Second,
	}
}

type Bus struct {
	nc *nats.Conn

	reconnect transport.ReconnectHooks
}

var _ transport.Bus = (*Bus)(nil)

func Connect(cfg Config) (*Bus, error) {
	b := &Bus{}
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
			b.fireReconnect()
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	b.nc = nc

	log.Info().Str("url", nc.ConnectedUrl()).Msg("connected to NATS")
	return b, nil
}

func (b *Bus) fireReconnect() {
	b.reconnect.Fire()
}

func (b *Bus) Publish(_ context.Context, ev events.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := b.nc.Publish(transport.Subject(ev.RoomID), data); err != nil {
		return fmt.Errorf("publish to NATS: %w", err)
	}
	return nil
}

func (b *Bus) Subscribe(roomID uuid.UUID, fn transport.Handler) (transport.Subscription, error) {
	sub, err := b.nc.Subscribe(transport.Subject(roomID), func(msg *nats.Msg) {
		var ev events.Event
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			log.Error().Err(err).Str("subject", msg.Subject).Msg("failed to decode event")
			return
		}
		fn(ev)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe to NATS: %w", err)
	}
	return sub, nil
}

func (b *Bus) OnReconnect(fn func()) func() {
	return b.reconnect.Add(fn)
}

func (b *Bus) Close() error {
	if err := b.nc.Drain(); err != nil {
		b.nc.Close()
		return fmt.Errorf("drain NATS: %w", err)
	}
	return nil
}
