package comptree

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	constructed *prometheus.CounterVec
	destroyed   *prometheus.CounterVec
	requests    *prometheus.CounterVec
	events      *prometheus.CounterVec
	cycles      prometheus.Counter
}

// newMetrics builds the engine counters and registers them on reg. Engines
// sharing a registerer share the counters. A nil reg keeps them unregistered.
func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		constructed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "comptree",
				Subsystem: "components",
				Name:      "constructed_total",
				Help:      "Total number of components whose constructor returned",
			},
			[]string{"type"},
		),
		destroyed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "comptree",
				Subsystem: "components",
				Name:      "destroyed_total",
				Help:      "Total number of constructed components destroyed",
			},
			[]string{"type"},
		),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "comptree",
				Name:      "requests_total",
				Help:      "Total number of top-level component requests by result",
			},
			[]string{"result"},
		),
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "comptree",
				Subsystem: "resource",
				Name:      "events_total",
				Help:      "Total number of resource change notifications by change type",
			},
			[]string{"change"},
		),
		cycles: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "comptree",
				Name:      "cyclic_dependencies_total",
				Help:      "Total number of requests rejected as cyclic dependencies",
			},
		),
	}
	if reg == nil {
		return m
	}
	m.constructed = register(reg, m.constructed)
	m.destroyed = register(reg, m.destroyed)
	m.requests = register(reg, m.requests)
	m.events = register(reg, m.events)
	m.cycles = register(reg, m.cycles)
	return m
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing
			}
		}
	}
	return c
}
