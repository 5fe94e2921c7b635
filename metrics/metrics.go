// Package metrics counts session lifecycle events for Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/jrsteele09/go-session-client/session"
)

// Outcome labels.
const (
	OutcomeSuccess      = "success"
	OutcomeFailure      = "failure"
	OutcomeSecondFactor = "second_factor"
	// OutcomeStale marks a refresh whose result was dropped because the
	// session was cleared while it was in flight.
	OutcomeStale = "stale"
)

// Recorder receives lifecycle events from the session manager.
type Recorder interface {
	Login(outcome string)
	Refresh(outcome string)
	Logout()
	Status(status session.Status)
}

// Nop discards everything.
type Nop struct{}

var _ Recorder = Nop{}

func (Nop) Login(string)          {}
func (Nop) Refresh(string)        {}
func (Nop) Logout()               {}
func (Nop) Status(session.Status) {}

// Config configures the Prometheus collector.
type Config struct {
	// Namespace is the metrics namespace (default: "session").
	Namespace string

	// ConstLabels are added to all metrics.
	ConstLabels prometheus.Labels

	// Registry defaults to prometheus.DefaultRegisterer.
	Registry prometheus.Registerer
}

type Option func(*Config)

func WithNamespace(namespace string) Option {
	return func(c *Config) {
		c.Namespace = namespace
	}
}

func WithConstLabels(labels prometheus.Labels) Option {
	return func(c *Config) {
		c.ConstLabels = labels
	}
}

func WithRegistry(registry prometheus.Registerer) Option {
	return func(c *Config) {
		c.Registry = registry
	}
}

// Collector is a Recorder backed by Prometheus metrics.
type Collector struct {
	logins    *prometheus.CounterVec
	refreshes *prometheus.CounterVec
	logouts   prometheus.Counter
	status    *prometheus.GaugeVec
}

var _ Recorder = (*Collector)(nil)

// NewCollector registers the session metrics. It panics if they are already
// registered on the same registry, as promauto does.
func NewCollector(options ...Option) *Collector {
	config := Config{
		Namespace: "session",
		Registry:  prometheus.DefaultRegisterer,
	}
	for _, opt := range options {
		opt(&config)
	}
	factory := promauto.With(config.Registry)

	c := &Collector{
		logins: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Name:        "logins_total",
			Help:        "Login attempts by outcome",
			ConstLabels: config.ConstLabels,
		}, []string{"outcome"}),

		refreshes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Name:        "token_refreshes_total",
			Help:        "Backend token refresh calls by outcome",
			ConstLabels: config.ConstLabels,
		}, []string{"outcome"}),

		logouts: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Name:        "logouts_total",
			Help:        "Local logouts",
			ConstLabels: config.ConstLabels,
		}),

		status: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Name:        "status",
			Help:        "1 for the current session status, 0 for the others",
			ConstLabels: config.ConstLabels,
		}, []string{"status"}),
	}
	c.Status(session.Unauthenticated)
	return c
}

func (c *Collector) Login(outcome string) {
	c.logins.WithLabelValues(outcome).Inc()
}

func (c *Collector) Refresh(outcome string) {
	c.refreshes.WithLabelValues(outcome).Inc()
}

func (c *Collector) Logout() {
	c.logouts.Inc()
}

func (c *Collector) Status(status session.Status) {
	for _, s := range []session.Status{session.Unauthenticated, session.Loading, session.Authenticated} {
		value := 0.0
		if s == status {
			value = 1
		}
		c.status.WithLabelValues(s.String()).Set(value)
	}
}
