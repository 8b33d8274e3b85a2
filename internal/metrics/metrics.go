// ABOUTME: Prometheus instrumentation for the registry and the cleanup sweeper.
// ABOUTME: Counters are fed by observers; live agent gauges are computed at scrape time.

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/2389/coven-registry/internal/agent"
	"github.com/2389/coven-registry/internal/listing"
	"github.com/2389/coven-registry/internal/orphan"
)

const namespace = "coven_registry"

// AgentLister is the read side of the registry.
type AgentLister interface {
	List(f agent.Filter) []agent.Record
}

// Metrics owns a private prometheus registry so tests and multiple servers
// in one process never collide on the default one.
type Metrics struct {
	reg *prometheus.Registry

	registered    prometheus.Counter
	transitions   *prometheus.CounterVec
	removed       prometheus.Counter
	sweeps        prometheus.Counter
	sweepDuration prometheus.Histogram
	orphans       prometheus.Counter
	skipped       prometheus.Counter
	hookFailures  prometheus.Counter
}

var (
	_ agent.Observer       = (*Metrics)(nil)
	_ orphan.SweepObserver = (*Metrics)(nil)
)

// New creates the collectors and registers them, plus the Go runtime and
// process collectors.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		registered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agents_registered_total",
			Help:      "Agents registered since start.",
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Committed status transitions.",
		}, []string{"from", "to", "reason"}),
		removed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agents_removed_total",
			Help:      "Agents explicitly removed.",
		}),
		sweeps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweeps_total",
			Help:      "Cleanup sweeps run.",
		}),
		sweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_seconds",
			Help:      "Wall time of each cleanup sweep, including hooks.",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5, 10, 30},
		}),
		orphans: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orphans_total",
			Help:      "Agents marked failed by the cleanup sweep.",
		}),
		skipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_skipped_total",
			Help:      "Orphan candidates left alone because they changed during the sweep.",
		}),
		hookFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hook_failures_total",
			Help:      "Terminator hook calls that failed or timed out.",
		}),
	}

	m.reg.MustRegister(
		m.registered,
		m.transitions,
		m.removed,
		m.sweeps,
		m.sweepDuration,
		m.orphans,
		m.skipped,
		m.hookFailures,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the underlying registry for extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.reg
}

// WatchAgents adds gauges for live agents by display status, read from
// agents on every scrape.
func (m *Metrics) WatchAgents(agents AgentLister) error {
	return m.reg.Register(newAgentsCollector(agents))
}

// Handler serves the exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// ObserveAgentEvent implements agent.Observer.
func (m *Metrics) ObserveAgentEvent(e agent.Event) {
	switch e.Kind {
	case agent.EventRegistered:
		m.registered.Inc()
	case agent.EventTransitioned:
		m.transitions.WithLabelValues(string(e.From), string(e.To), reasonLabel(e.Reason)).Inc()
	case agent.EventRemoved:
		m.removed.Inc()
	}
}

// reasonLabel folds free-form client reasons into a fixed label set.
func reasonLabel(reason string) string {
	switch reason {
	case "", agent.ReasonOrphaned:
		return reason
	default:
		return "other"
	}
}

// ObserveSweep implements orphan.SweepObserver.
func (m *Metrics) ObserveSweep(res orphan.SweepResult) {
	m.sweeps.Inc()
	m.sweepDuration.Observe(res.Duration.Seconds())
	m.orphans.Add(float64(len(res.Orphaned)))
	m.skipped.Add(float64(len(res.Skipped)))
	m.hookFailures.Add(float64(len(res.HookErrors)))
}

// agentsCollector reports a point-in-time census of the registry.
type agentsCollector struct {
	agents    AgentLister
	byStatus  *prometheus.Desc
	totalCost *prometheus.Desc
}

func newAgentsCollector(agents AgentLister) *agentsCollector {
	return &agentsCollector{
		agents: agents,
		byStatus: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "agents"),
			"Agents currently tracked, by display status.",
			[]string{"status"}, nil,
		),
		totalCost: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "agents_cost"),
			"Sum of reported cost across tracked agents.",
			nil, nil,
		),
	}
}

func (c *agentsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.byStatus
	ch <- c.totalCost
}

func (c *agentsCollector) Collect(ch chan<- prometheus.Metric) {
	s := listing.Summarize(c.agents.List(agent.Filter{}))

	counts := []struct {
		status string
		n      int
	}{
		{string(agent.StatusRunning), s.Running},
		{string(agent.StatusCompleted), s.Completed},
		{string(agent.StatusFailed), s.Failed},
		{agent.DisplayOrphaned, s.Orphaned},
	}
	for _, sc := range counts {
		ch <- prometheus.MustNewConstMetric(c.byStatus, prometheus.GaugeValue, float64(sc.n), sc.status)
	}
	ch <- prometheus.MustNewConstMetric(c.totalCost, prometheus.GaugeValue, s.TotalCost)
}
