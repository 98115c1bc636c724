// Package metrics exports coordination activity as Prometheus collectors.
// Metrics implements registry.Hooks, so installing it on a registry counts
// claims, rejections, completions and unblocks as they happen. Gauges for the
// current sprint and swarm state are refreshed by the watch loop.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/marcus/taskgrid/internal/registry"
	"github.com/marcus/taskgrid/internal/swarm"
	"github.com/marcus/taskgrid/internal/task"
)

const namespace = "taskgrid"

// Metrics holds the collectors.
type Metrics struct {
	claims      *prometheus.CounterVec
	rejections  *prometheus.CounterVec
	completions *prometheus.CounterVec
	unblocks    prometheus.Counter
	reviews     prometheus.Counter
	tasks       *prometheus.GaugeVec
	completion  prometheus.Gauge
	velocity    prometheus.Gauge
	etaHours    prometheus.Gauge
	workload    *prometheus.GaugeVec
}

var _ registry.Hooks = (*Metrics)(nil)

// MustNew creates the collectors and registers them with reg (the default
// registerer when nil). Collectors already registered under the same name
// are reused, so constructing twice against one registry is safe.
func MustNew(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return &Metrics{
		claims: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "claims_total",
			Help:      "Successful task claims.",
		}, []string{"agent"})),
		rejections: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "claim_rejections_total",
			Help:      "Rejected task claims by reason.",
		}, []string{"reason"})),
		completions: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "completions_total",
			Help:      "Completed tasks.",
		}, []string{"agent"})),
		unblocks: register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unblocks_total",
			Help:      "Tasks promoted from BLOCKED to AVAILABLE.",
		})),
		reviews: register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "review_flags_total",
			Help:      "Tasks flagged for review.",
		})),
		tasks: register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tasks",
			Help:      "Tasks by status at the last refresh.",
		}, []string{"status"})),
		completion: register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sprint_completion_percent",
			Help:      "Share of tasks complete.",
		})),
		velocity: register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sprint_velocity",
			Help:      "Mean velocity of completed tasks.",
		})),
		etaHours: register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sprint_eta_hours",
			Help:      "Forecast hours until every task is complete.",
		})),
		workload: register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "swarm_workload_percent",
			Help:      "Swarm utilisation.",
		}, []string{"swarm"})),
	}
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

func (m *Metrics) TaskClaimed(t task.Task) {
	m.claims.WithLabelValues(t.ClaimedBy).Inc()
}

func (m *Metrics) TaskStarted(task.Task) {}

func (m *Metrics) TaskCompleted(t task.Task, _ []string) {
	m.completions.WithLabelValues(t.ClaimedBy).Inc()
}

func (m *Metrics) TaskUnblocked(task.Task) {
	m.unblocks.Inc()
}

func (m *Metrics) TaskReviewFlagged(task.Task) {
	m.reviews.Inc()
}

func (m *Metrics) ClaimRejected(_, _ string, reason registry.Reason) {
	m.rejections.WithLabelValues(string(reason)).Inc()
}

// ObserveSprint refreshes the sprint gauges.
func (m *Metrics) ObserveSprint(sm registry.SprintMetrics) {
	counts := map[task.Status]int{
		task.StatusBlocked:     sm.Counts.Blocked,
		task.StatusAvailable:   sm.Counts.Available,
		task.StatusClaimed:     sm.Counts.Claimed,
		task.StatusInProgress:  sm.Counts.InProgress,
		task.StatusComplete:    sm.Counts.Complete,
		task.StatusNeedsReview: sm.Counts.NeedsReview,
	}
	for status, n := range counts {
		m.tasks.WithLabelValues(string(status)).Set(float64(n))
	}
	m.completion.Set(float64(sm.CompletionPercentage))
	m.velocity.Set(sm.AverageVelocity)
	m.etaHours.Set(sm.ETAHours)
}

// ObserveSwarms refreshes the per-swarm workload gauge.
func (m *Metrics) ObserveSwarms(reports []swarm.Report) {
	for _, r := range reports {
		m.workload.WithLabelValues(r.Swarm).Set(float64(r.Workload))
	}
}
