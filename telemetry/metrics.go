package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "cellsim"

// Metrics exports flushed windows to Prometheus. A nil *Metrics is a no-op.
type Metrics struct {
	registry *prometheus.Registry

	reactions  *prometheus.CounterVec
	collisions *prometheus.CounterVec
	blocked    prometheus.Counter
	molecules  *prometheus.GaugeVec
	iteration  prometheus.Gauge
	simTime    prometheus.Gauge
}

// NewMetrics creates the collectors on a private registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		reactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "reactions_total",
			Help:      "Reactions fired, by reaction rule.",
		}, []string{"reaction"}),
		collisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "collisions_total",
			Help:      "Collisions tested, by collision kind.",
		}, []string{"kind"}),
		blocked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "blocked_reactions_total",
			Help:      "Reactions that fired but had no room for their products.",
		}),
		molecules: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "molecules",
			Help:      "Live molecules at the last flushed window, by species.",
		}, []string{"species"}),
		iteration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "iteration",
			Help:      "Last completed iteration.",
		}),
		simTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "sim_time_seconds",
			Help:      "Simulated time at the last completed iteration.",
		}),
	}
	m.registry.MustRegister(m.reactions, m.collisions, m.blocked, m.molecules, m.iteration, m.simTime)
	return m
}

// Observe folds one flushed window into the collectors.
func (m *Metrics) Observe(stats WindowStats) {
	if m == nil {
		return
	}
	for _, rc := range stats.ReactionCounts {
		m.reactions.WithLabelValues(rc.Reaction).Add(float64(rc.Count))
	}
	m.collisions.WithLabelValues("vol_vol").Add(float64(stats.VolVolCollisions))
	m.collisions.WithLabelValues("vol_surf").Add(float64(stats.VolSurfCollisions))
	m.collisions.WithLabelValues("surf_surf").Add(float64(stats.SurfSurfCollisions))
	m.collisions.WithLabelValues("vol_wall").Add(float64(stats.VolWallCollisions))
	m.collisions.WithLabelValues("unimol").Add(float64(stats.UnimolCollisions))
	m.blocked.Add(float64(stats.Blocked))
	for _, sc := range stats.Species {
		m.molecules.WithLabelValues(sc.Species).Set(float64(sc.Count))
	}
	m.iteration.Set(float64(stats.WindowEnd))
	m.simTime.Set(stats.SimTimeSec)
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
