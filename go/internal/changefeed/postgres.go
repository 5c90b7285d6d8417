package changefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

type Config struct {
	DatabaseURL   string        // Postgres DSN for LISTEN/NOTIFY
	NotifyChannel string        // Channel name to LISTEN on
	PingInterval  time.Duration // Keepalive for idle connections
	MinReconnect  time.Duration
	MaxReconnect  time.Duration
}

func DefaultConfig() Config {
	return Config{
		NotifyChannel: "buzzer_row_changes",
		PingInterval:  90 * time.Second,
		MinReconnect:  10 * time.Second,
		MaxReconnect:  time.Minute,
	}
}

// PGFeed turns Postgres NOTIFY payloads from the row-change triggers into Changes.
type PGFeed struct {
	*hub
	listener *pq.Listener
	cfg      Config
}

var _ Feed = (*PGFeed)(nil)

func NewPGFeed(cfg Config) (*PGFeed, error) {
	l := pq.NewListener(
		cfg.DatabaseURL,
		cfg.MinReconnect,
		cfg.MaxReconnect,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				log.Error().Err(err).Msg("change feed listener event")
			}
		},
	)
	if err := l.Listen(cfg.NotifyChannel); err != nil {
		return nil, fmt.Errorf("failed to listen to channel: %w", err)
	}

	log.Info().
		Str("channel", cfg.NotifyChannel).
		Msg("listening for row changes")

	return &PGFeed{
		hub:      newHub(),
		listener: l,
		cfg:      cfg,
	}, nil
}

func (f *PGFeed) Start(ctx context.Context) error {
	log.Info().
		Str("channel", f.cfg.NotifyChannel).
		Dur("ping_interval", f.cfg.PingInterval).
		Msg("change feed started")

	pingTicker := time.NewTicker(f.cfg.PingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("change feed shutting down")
			return f.Stop()
		case note := <-f.listener.Notify:
			if note == nil {
				// Connection was re-established; anything sent meanwhile is lost.
				log.Warn().Msg("change feed reconnected, requesting resync")
				f.dispatch(Change{Reconnect: true})
				continue
			}
			if err := f.handleNotification(note.Extra); err != nil {
				log.Error().Err(err).Msg("failed to handle notification")
			}
		case <-pingTicker.C:
			if err := f.listener.Ping(); err != nil {
				log.Error().Err(err).Msg("failed to ping listener")
			}
		}
	}
}

func (f *PGFeed) Stop() error {
	return f.listener.Close()
}

func (f *PGFeed) handleNotification(extra string) error {
	c, err := ParsePayload(extra)
	if err != nil {
		return err
	}
	n := f.dispatch(c)
	log.Debug().
		Str("table", c.Table).
		Str("op", c.Op).
		Str("room_id", c.RoomID.String()).
		Int("watchers", n).
		Msg("row change dispatched")
	return nil
}

// ParsePayload decodes the JSON produced by the notify_row_change trigger.
func ParsePayload(extra string) (Change, error) {
	var c Change
	if err := json.Unmarshal([]byte(extra), &c); err != nil {
		return Change{}, fmt.Errorf("invalid change notification: %w", err)
	}
	if c.Table == "" {
		return Change{}, fmt.Errorf("invalid change notification: missing table")
	}
	return c, nil
}
