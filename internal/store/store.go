// Package store persists tasks and exposes the atomic conditional updates the
// coordination engine relies on for mutual exclusion.
//
// Every mutating method is a compare-and-swap: it checks the status
// precondition and performs the write as one atomic step, and reports through
// its bool result whether the write applied. A false result is a normal
// outcome (the precondition did not hold), not an error. Errors are reserved
// for storage failures.
package store

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/marcus/taskgrid/internal/task"
)

// Common errors.
var (
	// ErrDuplicate indicates a task with the same id already exists.
	ErrDuplicate = errors.New("task already exists")

	// ErrClosed indicates the store has been closed.
	ErrClosed = errors.New("store closed")
)

// Transition is one entry of a task's status history.
type Transition struct {
	TaskID string      `json:"taskId"`
	From   task.Status `json:"from"`
	To     task.Status `json:"to"`
	Actor  string      `json:"actor"`
	At     time.Time   `json:"at"`
}

// Store is the durable task record store.
type Store interface {
	// GetAll returns every task in creation order.
	GetAll(ctx context.Context) ([]task.Task, error)

	// GetByID returns the task or nil when no such task exists.
	GetByID(ctx context.Context, id string) (*task.Task, error)

	// Create inserts a new task. Seq and CreatedAt are assigned by the store.
	// Returns ErrDuplicate if the id is taken.
	Create(ctx context.Context, t task.Task) error

	// Claim moves AVAILABLE -> CLAIMED and records agent as the holder.
	Claim(ctx context.Context, id, agent string) (bool, error)

	// Start moves CLAIMED -> IN_PROGRESS for the claim holder.
	Start(ctx context.Context, id, agent string) (bool, error)

	// Complete moves CLAIMED|IN_PROGRESS -> COMPLETE for the claim holder.
	// actualMinutes is derived from the claim or start time; when velocity is
	// nil and an estimate exists it is derived as estimate / actual.
	Complete(ctx context.Context, id, agent string, filesCreated []string, velocity *float64) (bool, error)

	// Review moves CLAIMED|IN_PROGRESS -> NEEDS_REVIEW for the claim holder.
	Review(ctx context.Context, id, agent, note string) (bool, error)

	// SetStatus performs a non-holder transition, used by the unblock pass.
	// Only forward transitions apply.
	SetStatus(ctx context.Context, id string, status task.Status, actor string) (bool, error)

	// History returns the transitions recorded for id, oldest first.
	History(ctx context.Context, id string) ([]Transition, error)

	// Close releases the store.
	Close() error
}

// predecessors returns the statuses from which to is a legal step.
func predecessors(to task.Status) []task.Status {
	var out []task.Status
	for _, from := range task.AllStatuses {
		if task.CanTransition(from, to) {
			out = append(out, from)
		}
	}
	return out
}

// workedMinutes measures the time an agent held the task.
func workedMinutes(claimedAt, startedAt *time.Time, completedAt time.Time) float64 {
	from := claimedAt
	if startedAt != nil {
		from = startedAt
	}
	if from == nil {
		return 0
	}
	minutes := completedAt.Sub(*from).Minutes()
	if minutes < 0 {
		return 0
	}
	return math.Round(minutes*100) / 100
}

// derivedVelocity is estimated time over actual time; 1.0 means on estimate.
func derivedVelocity(estimatedHours *float64, actualMinutes float64) *float64 {
	if estimatedHours == nil || *estimatedHours <= 0 || actualMinutes <= 0 {
		return nil
	}
	v := math.Round((*estimatedHours*60/actualMinutes)*100) / 100
	return &v
}
