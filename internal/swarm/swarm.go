// Package swarm balances work across named groups of agents. It only reads
// task state and reports utilisation; it never changes a task.
package swarm

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/marcus/taskgrid/internal/logging"
	"github.com/marcus/taskgrid/internal/task"
)

// Default utilisation thresholds, in percent.
const (
	DefaultHighWater = 90
	DefaultLowWater  = 30
)

// ErrInvalidSwarm is returned for a swarm definition that cannot be analysed.
var ErrInvalidSwarm = errors.New("invalid swarm")

// Swarm is a named subset of agents.
type Swarm struct {
	Name                 string   `json:"name" yaml:"name"`
	Agents               []string `json:"agents" yaml:"agents"`
	OptimalTasksPerAgent int      `json:"optimalTasksPerAgent" yaml:"optimal_tasks_per_agent"`
}

// Validate checks the swarm against the agent roster.
func (s Swarm) Validate(roster task.Roster) error {
	if s.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidSwarm)
	}
	if len(s.Agents) == 0 {
		return fmt.Errorf("%w: swarm %s has no agents", ErrInvalidSwarm, s.Name)
	}
	if s.OptimalTasksPerAgent <= 0 {
		return fmt.Errorf("%w: swarm %s: optimal tasks per agent must be positive", ErrInvalidSwarm, s.Name)
	}
	seen := make(map[string]bool, len(s.Agents))
	for _, a := range s.Agents {
		if err := roster.ValidateAgent("agents", a); err != nil {
			return fmt.Errorf("%w: swarm %s: %v", ErrInvalidSwarm, s.Name, err)
		}
		if seen[a] {
			return fmt.Errorf("%w: swarm %s lists %s twice", ErrInvalidSwarm, s.Name, a)
		}
		seen[a] = true
	}
	return nil
}

// TaskSource supplies the current tasks. *registry.Registry satisfies it.
type TaskSource interface {
	Tasks(ctx context.Context) ([]task.Task, error)
}

// Report is the utilisation of one swarm.
type Report struct {
	Swarm         string   `json:"swarm"`
	Agents        []string `json:"agents"`
	Capacity      int      `json:"capacity"`
	InProgress    int      `json:"inProgress"`
	Available     int      `json:"available"`
	Blocked       int      `json:"blocked"`
	Completed     int      `json:"completed"`
	Workload      int      `json:"workload"`
	Overloaded    bool     `json:"overloaded"`
	Underutilized bool     `json:"underutilized"`
	Advice        string   `json:"advice,omitempty"`
}

// Coordinator analyses swarm utilisation.
type Coordinator struct {
	source    TaskSource
	swarms    []Swarm
	highWater int
	lowWater  int
	logger    *logging.Logger
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithThresholds sets the overload and underuse thresholds in percent.
func WithThresholds(high, low int) Option {
	return func(c *Coordinator) {
		c.highWater = high
		c.lowWater = low
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Coordinator) {
		c.logger = l
	}
}

// New creates a coordinator for swarms.
func New(source TaskSource, swarms []Swarm, opts ...Option) *Coordinator {
	c := &Coordinator{
		source:    source,
		swarms:    swarms,
		highWater: DefaultHighWater,
		lowWater:  DefaultLowWater,
		logger:    logging.Component("swarm"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Swarms returns the configured swarms.
func (c *Coordinator) Swarms() []Swarm {
	return append([]Swarm(nil), c.swarms...)
}

// Analyze reports every swarm's utilisation from a fresh task snapshot, in
// configuration order.
func (c *Coordinator) Analyze(ctx context.Context) ([]Report, error) {
	tasks, err := c.source.Tasks(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading tasks: %w", err)
	}

	reports := make([]Report, 0, len(c.swarms))
	for _, s := range c.swarms {
		r := c.analyze(s, tasks)
		switch {
		case r.Overloaded:
			c.logger.Zerolog().Warn().Str("swarm", s.Name).Int("workload", r.Workload).Msg("swarm overloaded")
		case r.Underutilized:
			c.logger.Zerolog().Info().Str("swarm", s.Name).Int("workload", r.Workload).Msg("swarm underutilized")
		}
		reports = append(reports, r)
	}
	return reports, nil
}

func (c *Coordinator) analyze(s Swarm, tasks []task.Task) Report {
	members := make(map[string]bool, len(s.Agents))
	for _, a := range s.Agents {
		members[a] = true
	}

	r := Report{
		Swarm:    s.Name,
		Agents:   append([]string(nil), s.Agents...),
		Capacity: len(s.Agents) * s.OptimalTasksPerAgent,
	}
	for _, t := range tasks {
		if !members[t.Agent] {
			continue
		}
		switch {
		case t.Status.IsHeld():
			r.InProgress++
		case t.Status == task.StatusAvailable:
			r.Available++
		case t.Status == task.StatusBlocked:
			r.Blocked++
		case t.Status == task.StatusComplete:
			r.Completed++
		}
	}

	r.Workload = Workload(r.InProgress, len(s.Agents), s.OptimalTasksPerAgent)
	r.Overloaded = r.Workload >= c.highWater
	r.Underutilized = !r.Overloaded && r.Workload <= c.lowWater && r.Available > 0

	switch {
	case r.Overloaded:
		r.Advice = fmt.Sprintf("%d tasks held against a capacity of %d; add agents or hold new claims", r.InProgress, r.Capacity)
	case r.Underutilized:
		r.Advice = fmt.Sprintf("%d tasks ready to claim while utilisation is %d%%", r.Available, r.Workload)
	}
	return r
}

// Workload is min(100, round(100 * inProgress / (agents * optimalPerAgent))).
// A swarm with no capacity reports 0.
func Workload(inProgress, agents, optimalPerAgent int) int {
	capacity := agents * optimalPerAgent
	if capacity <= 0 {
		return 0
	}
	w := int(math.Round(100 * float64(inProgress) / float64(capacity)))
	if w > 100 {
		return 100
	}
	return w
}
