package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector defines the interface for collecting game sync metrics
type Collector interface {
	RecordEventPublished(name string, success bool)
	RecordEventReceived(name string)
	RecordEventDropped(reason string)
	RecordResync(reason string, success bool, duration time.Duration)
	RecordJudgment(result string)
	RecordTimerExpired(kind string)
}

// NoOp is a no-op implementation for when metrics aren't needed
type NoOp struct{}

func (NoOp) RecordEventPublished(name string, success bool)                   {}
func (NoOp) RecordEventReceived(name string)                                  {}
func (NoOp) RecordEventDropped(reason string)                                 {}
func (NoOp) RecordResync(reason string, success bool, duration time.Duration) {}
func (NoOp) RecordJudgment(result string)                                     {}
func (NoOp) RecordTimerExpired(kind string)                                   {}

// Prometheus implements Collector with client_golang metrics.
type Prometheus struct {
	eventsPublished *prometheus.CounterVec
	eventsReceived  *prometheus.CounterVec
	eventsDropped   *prometheus.CounterVec
	resyncs         *prometheus.CounterVec
	resyncDuration  prometheus.Histogram
	judgments       *prometheus.CounterVec
	timersExpired   *prometheus.CounterVec
}

// NewPrometheus registers the collectors on reg.
func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	m := &Prometheus{
		eventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "buzzer",
			Name:      "events_published_total",
			Help:      "Room events published to the transport.",
		}, []string{"name", "success"}),
		eventsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "buzzer",
			Name:      "events_received_total",
			Help:      "Room events folded into a projection.",
		}, []string{"name"}),
		eventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "buzzer",
			Name:      "events_dropped_total",
			Help:      "Room events that could not be delivered or decoded.",
		}, []string{"reason"}),
		resyncs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "buzzer",
			Name:      "resyncs_total",
			Help:      "Full projection reloads from the store.",
		}, []string{"reason", "success"}),
		resyncDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "buzzer",
			Name:      "resync_duration_seconds",
			Help:      "Time spent reloading a projection.",
			Buckets:   prometheus.DefBuckets,
		}),
		judgments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "buzzer",
			Name:      "judgments_total",
			Help:      "Buzz and wager rulings by result.",
		}, []string{"result"}),
		timersExpired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "buzzer",
			Name:      "timers_expired_total",
			Help:      "Countdowns that reached zero by kind.",
		}, []string{"kind"}),
	}
	reg.MustRegister(
		m.eventsPublished,
		m.eventsReceived,
		m.eventsDropped,
		m.resyncs,
		m.resyncDuration,
		m.judgments,
		m.timersExpired,
	)
	return m
}

func (m *Prometheus) RecordEventPublished(name string, success bool) {
	m.eventsPublished.WithLabelValues(name, strconv.FormatBool(success)).Inc()
}

func (m *Prometheus) RecordEventReceived(name string) {
	m.eventsReceived.WithLabelValues(name).Inc()
}

func (m *Prometheus) RecordEventDropped(reason string) {
	m.eventsDropped.WithLabelValues(reason).Inc()
}

func (m *Prometheus) RecordResync(reason string, success bool, duration time.Duration) {
	m.resyncs.WithLabelValues(reason, strconv.FormatBool(success)).Inc()
	m.resyncDuration.Observe(duration.Seconds())
}

func (m *Prometheus) RecordJudgment(result string) {
	m.judgments.WithLabelValues(result).Inc()
}

func (m *Prometheus) RecordTimerExpired(kind string) {
	m.timersExpired.WithLabelValues(kind).Inc()
}
