// Package platform opens the process-wide dependencies shared by the buzzer
// binaries: Postgres, the change feed, the event transport and metrics.
package platform

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/buzzer/go/internal/changefeed"
	"github.com/mcdev12/buzzer/go/internal/config"
	"github.com/mcdev12/buzzer/go/internal/dbconfig"
	"github.com/mcdev12/buzzer/go/internal/metrics"
	"github.com/mcdev12/buzzer/go/internal/store"
	"github.com/mcdev12/buzzer/go/internal/transport"
	"github.com/mcdev12/buzzer/go/internal/transport/natsbus"
	"github.com/mcdev12/buzzer/go/internal/transport/redisbus"
)

type Options struct {
	// Name identifies the process to the transport backend.
	Name string
	// Migrate applies pending schema migrations after connecting.
	Migrate bool
}

type Runtime struct {
	DB      *sql.DB
	Store   *store.Postgres
	Feed    *changefeed.PGFeed
	Bus     transport.Bus
	Metrics *metrics.Prometheus

	registry *prometheus.Registry
	cancel   context.CancelFunc
	feedDone chan struct{}
}

// Open connects every dependency and starts the change feed. Close releases
// them in reverse order.
func Open(ctx context.Context, cfg *config.Config, opts Options) (*Runtime, error) {
	db, err := dbconfig.Open(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	if opts.Migrate {
		if err := store.Migrate(db); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	feedCfg := changefeed.DefaultConfig()
	feedCfg.DatabaseURL = cfg.Database.DSN()
	feed, err := changefeed.NewPGFeed(feedCfg)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to start change feed: %w", err)
	}

	bus, err := OpenBus(ctx, cfg, opts.Name)
	if err != nil {
		_ = feed.Stop()
		_ = db.Close()
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	feedCtx, cancel := context.WithCancel(context.Background())
	rt := &Runtime{
		DB:       db,
		Store:    store.NewPostgres(db),
		Feed:     feed,
		Bus:      bus,
		Metrics:  metrics.NewPrometheus(reg),
		registry: reg,
		cancel:   cancel,
		feedDone: make(chan struct{}),
	}
	go func() {
		defer close(rt.feedDone)
		if err := feed.Start(feedCtx); err != nil {
			log.Error().Err(err).Msg("change feed stopped")
		}
	}()
	return rt, nil
}

// OpenBus connects the configured transport backend.
func OpenBus(ctx context.Context, cfg *config.Config, name string) (transport.Bus, error) {
	switch cfg.Transport.Backend {
	case config.TransportNATS:
		natsCfg := natsbus.DefaultConfig()
		natsCfg.URL = cfg.Transport.NATSURL
		if name != "" {
			natsCfg.Name = name
		}
		return natsbus.Connect(natsCfg)
	case config.TransportRedis:
		return redisbus.Connect(ctx, cfg.Transport.RedisURL)
	default:
		return nil, fmt.Errorf("unknown transport backend %q", cfg.Transport.Backend)
	}
}

// MetricsHandler serves the runtime's Prometheus registry.
func (r *Runtime) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

func (r *Runtime) Close() error {
	var errs []error
	if err := r.Bus.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close transport: %w", err))
	}
	r.cancel()
	<-r.feedDone
	if err := r.DB.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close database: %w", err))
	}
	return errors.Join(errs...)
}
