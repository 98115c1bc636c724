package watch

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/marcus/taskgrid/internal/logging"
	"github.com/marcus/taskgrid/internal/registry"
	"github.com/marcus/taskgrid/internal/swarm"
)

// SprintSource produces sprint figures. *registry.Registry satisfies it.
type SprintSource interface {
	SprintMetrics(ctx context.Context) (registry.SprintMetrics, error)
}

// SwarmAnalyzer produces swarm reports. *swarm.Coordinator satisfies it.
type SwarmAnalyzer interface {
	Analyze(ctx context.Context) ([]swarm.Report, error)
}

// Observer receives each refreshed report. *metrics.Metrics satisfies it.
type Observer interface {
	ObserveSprint(registry.SprintMetrics)
	ObserveSwarms([]swarm.Report)
}

// Snapshot is one reporter pass.
type Snapshot struct {
	Sprint registry.SprintMetrics
	Swarms []swarm.Report
}

// Reporter refreshes sprint and swarm figures on a cron schedule.
type Reporter struct {
	sprint    SprintSource
	swarms    SwarmAnalyzer
	observers []Observer
	logger    *logging.Logger

	mu   sync.Mutex
	last *Snapshot
}

// ReporterOption configures a Reporter.
type ReporterOption func(*Reporter)

// WithReporterLogger sets the logger.
func WithReporterLogger(l *logging.Logger) ReporterOption {
	return func(r *Reporter) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithSwarms adds swarm analysis to every pass.
func WithSwarms(a SwarmAnalyzer) ReporterOption {
	return func(r *Reporter) { r.swarms = a }
}

// WithObserver adds an observer.
func WithObserver(o Observer) ReporterOption {
	return func(r *Reporter) { r.observers = append(r.observers, o) }
}

// NewReporter creates a reporter over sprint.
func NewReporter(sprint SprintSource, opts ...ReporterOption) *Reporter {
	r := &Reporter{sprint: sprint, logger: logging.Nop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Report runs one pass: collect, notify observers, log.
func (r *Reporter) Report(ctx context.Context) (Snapshot, error) {
	sm, err := r.sprint.SprintMetrics(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("sprint metrics: %w", err)
	}
	snap := Snapshot{Sprint: sm}
	if r.swarms != nil {
		reports, err := r.swarms.Analyze(ctx)
		if err != nil {
			return Snapshot{}, fmt.Errorf("swarm analysis: %w", err)
		}
		snap.Swarms = reports
	}

	for _, o := range r.observers {
		o.ObserveSprint(snap.Sprint)
		if snap.Swarms != nil {
			o.ObserveSwarms(snap.Swarms)
		}
	}

	r.logger.Zerolog().Info().
		Int("total", sm.Total).
		Int("complete", sm.Counts.Complete).
		Int("completion_pct", sm.CompletionPercentage).
		Float64("velocity", sm.AverageVelocity).
		Float64("eta_hours", sm.ETAHours).
		Msg("sprint report")
	for _, s := range snap.Swarms {
		ev := r.logger.Zerolog().Info()
		if s.Overloaded || s.Underutilized {
			ev = r.logger.Zerolog().Warn().Str("advice", s.Advice)
		}
		ev.Str("swarm", s.Swarm).
			Int("workload_pct", s.Workload).
			Int("in_progress", s.InProgress).
			Int("capacity", s.Capacity).
			Msg("swarm report")
	}

	r.mu.Lock()
	r.last = &snap
	r.mu.Unlock()
	return snap, nil
}

// Last returns the most recent successful pass, if any.
func (r *Reporter) Last() (Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.last == nil {
		return Snapshot{}, false
	}
	return *r.last, true
}

// Run reports once, then on every tick of the standard five-field cron
// schedule until ctx is done. Overlapping ticks are skipped.
func (r *Reporter) Run(ctx context.Context, schedule string) error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(schedule, func() { r.tick(ctx) }); err != nil {
		return fmt.Errorf("invalid report schedule %q: %w", schedule, err)
	}

	r.tick(ctx)
	c.Start()
	r.logger.Zerolog().Info().Str("schedule", schedule).Msg("reporter started")

	<-ctx.Done()
	<-c.Stop().Done()
	r.logger.Info("reporter stopped")
	return nil
}

func (r *Reporter) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if _, err := r.Report(ctx); err != nil {
		r.logger.Err(err).Msg("report failed")
	}
}
