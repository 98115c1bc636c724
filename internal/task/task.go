// Package task defines the task record, its lifecycle states and the
// schema checks applied to every task entering or leaving the store.
package task

import (
	"time"
)

// Status is the lifecycle state of a task.
type Status string

const (
	StatusBlocked     Status = "BLOCKED"
	StatusAvailable   Status = "AVAILABLE"
	StatusClaimed     Status = "CLAIMED"
	StatusInProgress  Status = "IN_PROGRESS"
	StatusComplete    Status = "COMPLETE"
	StatusNeedsReview Status = "NEEDS_REVIEW"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []Status{
	StatusBlocked,
	StatusAvailable,
	StatusClaimed,
	StatusInProgress,
	StatusComplete,
	StatusNeedsReview,
}

// transitions holds the forward-only state machine.
var transitions = map[Status][]Status{
	StatusBlocked:    {StatusAvailable},
	StatusAvailable:  {StatusClaimed},
	StatusClaimed:    {StatusInProgress, StatusComplete, StatusNeedsReview},
	StatusInProgress: {StatusComplete, StatusNeedsReview},
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is possible from s.
func (s Status) IsTerminal() bool {
	return s == StatusComplete || s == StatusNeedsReview
}

// IsHeld reports whether s means an agent currently holds the claim.
func (s Status) IsHeld() bool {
	return s == StatusClaimed || s == StatusInProgress
}

func (s Status) String() string {
	return string(s)
}

// CanTransition reports whether moving from one status to another is a legal
// forward step.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Priority orders tasks for tie-breaking. P0 is the most urgent.
type Priority string

const (
	PriorityP0 Priority = "P0"
	PriorityP1 Priority = "P1"
	PriorityP2 Priority = "P2"
)

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	return p == PriorityP0 || p == PriorityP1 || p == PriorityP2
}

// Rank returns 0 for P0, 1 for P1, 2 for P2. Lower sorts first.
// Unknown priorities rank last.
func (p Priority) Rank() int {
	switch p {
	case PriorityP0:
		return 0
	case PriorityP1:
		return 1
	case PriorityP2:
		return 2
	default:
		return 3
	}
}

// Weight is the readiness contribution of the priority.
func (p Priority) Weight() float64 {
	switch p {
	case PriorityP0:
		return 30
	case PriorityP1:
		return 20
	case PriorityP2:
		return 10
	default:
		return 0
	}
}

// Task is a unit of work with an owner, a dependency set and a state machine.
type Task struct {
	ID                 string     `json:"id"`
	Name               string     `json:"name"`
	Location           string     `json:"location,omitempty"`
	Agent              string     `json:"agent"`
	Status             Status     `json:"status"`
	Priority           Priority   `json:"priority"`
	Phase              string     `json:"phase,omitempty"`
	Dependencies       []string   `json:"dependencies"`
	Deliverables       []string   `json:"deliverables,omitempty"`
	AcceptanceCriteria []string   `json:"acceptanceCriteria,omitempty"`
	ClaimedBy          string     `json:"claimedBy,omitempty"`
	ClaimedAt          *time.Time `json:"claimedAt,omitempty"`
	StartedAt          *time.Time `json:"startedAt,omitempty"`
	CompletedAt        *time.Time `json:"completedAt,omitempty"`
	FilesCreated       []string   `json:"filesCreated,omitempty"`
	Velocity           *float64   `json:"velocity,omitempty"`
	EstimatedHours     *float64   `json:"estimatedHours,omitempty"`
	ActualMinutes      *float64   `json:"actualMinutes,omitempty"`
	ReviewNote         string     `json:"reviewNote,omitempty"`
	CreatedAt          time.Time  `json:"createdAt"`
	Seq                int64      `json:"seq"`
}

// Hours returns the estimate in hours, or zero when unset.
func (t *Task) Hours() float64 {
	if t == nil || t.EstimatedHours == nil {
		return 0
	}
	return *t.EstimatedHours
}

// Clone returns a deep copy of the task.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	c.Dependencies = cloneStrings(t.Dependencies)
	c.Deliverables = cloneStrings(t.Deliverables)
	c.AcceptanceCriteria = cloneStrings(t.AcceptanceCriteria)
	c.FilesCreated = cloneStrings(t.FilesCreated)
	c.ClaimedAt = cloneTime(t.ClaimedAt)
	c.StartedAt = cloneTime(t.StartedAt)
	c.CompletedAt = cloneTime(t.CompletedAt)
	c.Velocity = cloneFloat(t.Velocity)
	c.EstimatedHours = cloneFloat(t.EstimatedHours)
	c.ActualMinutes = cloneFloat(t.ActualMinutes)
	return &c
}

// Snapshot indexes tasks by id. The map holds clones, so callers may modify
// the entries without touching the source slice.
func Snapshot(tasks []Task) map[string]*Task {
	m := make(map[string]*Task, len(tasks))
	for i := range tasks {
		m[tasks[i].ID] = tasks[i].Clone()
	}
	return m
}

// Float returns a pointer to v. Handy for optional numeric fields.
func Float(v float64) *float64 {
	return &v
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func cloneTime(in *time.Time) *time.Time {
	if in == nil {
		return nil
	}
	v := *in
	return &v
}

func cloneFloat(in *float64) *float64 {
	if in == nil {
		return nil
	}
	v := *in
	return &v
}
