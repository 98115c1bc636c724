package registry

import (
	"time"

	"github.com/marcus/taskgrid/internal/resolver"
	"github.com/marcus/taskgrid/internal/task"
)

// Result is the outcome of a mutating operation. Success and Error are
// mutually exclusive.
type Result struct {
	Success   bool       `json:"success"`
	Task      *task.Task `json:"task,omitempty"`
	Unblocked []string   `json:"unblocked,omitempty"`
	Error     *Error     `json:"error,omitempty"`
}

func ok(t *task.Task) Result {
	return Result{Success: true, Task: t}
}

func fail(err *Error) Result {
	return Result{Error: err}
}

// InitReport summarises the graph found by Initialize.
type InitReport struct {
	Tasks        int              `json:"tasks"`
	Cycles       []resolver.Cycle `json:"cycles"`
	CriticalPath resolver.Path    `json:"criticalPath"`
}

// GraphOrder is the dependency graph in execution order. Stuck tasks sit on
// a cycle or depend on one; InCycle marks the former.
type GraphOrder struct {
	Order   []string         `json:"order"`
	Stuck   []string         `json:"stuck"`
	InCycle map[string]bool  `json:"inCycle,omitempty"`
	Cycles  []resolver.Cycle `json:"cycles,omitempty"`
}

// CreateReport lists what CreateTasks inserted.
type CreateReport struct {
	Created   []string         `json:"created"`
	Available []string         `json:"available"`
	Blocked   []string         `json:"blocked"`
	Skipped   []string         `json:"skipped,omitempty"`
	Cycles    []resolver.Cycle `json:"cycles,omitempty"`
}

// StatusCounts is the number of tasks per status.
type StatusCounts struct {
	Blocked     int `json:"blocked"`
	Available   int `json:"available"`
	Claimed     int `json:"claimed"`
	InProgress  int `json:"inProgress"`
	Complete    int `json:"complete"`
	NeedsReview int `json:"needsReview"`
}

func (c *StatusCounts) add(s task.Status) {
	switch s {
	case task.StatusBlocked:
		c.Blocked++
	case task.StatusAvailable:
		c.Available++
	case task.StatusClaimed:
		c.Claimed++
	case task.StatusInProgress:
		c.InProgress++
	case task.StatusComplete:
		c.Complete++
	case task.StatusNeedsReview:
		c.NeedsReview++
	}
}

// SprintMetrics aggregates progress across all tasks.
type SprintMetrics struct {
	Total                int          `json:"total"`
	Counts               StatusCounts `json:"counts"`
	CompletionPercentage int          `json:"completionPercentage"`
	AverageVelocity      float64      `json:"averageVelocity"`
	VelocitySamples      int          `json:"velocitySamples"`
	Acceleration         float64      `json:"acceleration"`
	RemainingHours       float64      `json:"remainingHours"`
	ETAHours             float64      `json:"etaHours"`
	ProjectedCompletion  *time.Time   `json:"projectedCompletion,omitempty"`
}

// Workload is one agent's share of the tasks.
type Workload struct {
	Agent       string      `json:"agent"`
	Total       int         `json:"total"`
	Completed   int         `json:"completed"`
	InProgress  int         `json:"inProgress"`
	Available   int         `json:"available"`
	Blocked     int         `json:"blocked"`
	NeedsReview int         `json:"needsReview"`
	Tasks       []task.Task `json:"tasks"`
}
