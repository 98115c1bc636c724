package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/marcus/taskgrid/internal/resolver"
	"github.com/marcus/taskgrid/internal/store"
	"github.com/marcus/taskgrid/internal/task"
)

// CreateTasks validates and inserts new tasks. Runtime fields in the input
// (claim, timestamps, outcome) are discarded; the initial status is
// AVAILABLE when every dependency is already COMPLETE and BLOCKED otherwise.
// Ids that already exist in the store are skipped, which makes re-importing
// a manifest idempotent.
//
// The batch is checked as a whole before anything is written: an invalid
// task or a repeated id rejects it with a *Error of kind ValidationError.
func (r *Registry) CreateTasks(ctx context.Context, tasks []task.Task) (CreateReport, error) {
	report := CreateReport{Created: []string{}, Available: []string{}, Blocked: []string{}}

	m, _, err := r.snapshot(ctx)
	if err != nil {
		return report, err
	}

	batch := make(map[string]bool, len(tasks))
	fresh := make([]task.Task, 0, len(tasks))
	for i := range tasks {
		t := pristine(tasks[i])
		if batch[t.ID] {
			return report, invalidInput(t.ID, fmt.Errorf("%w: task %s appears twice", task.ErrInvalid, t.ID))
		}
		batch[t.ID] = true
		if err := t.Validate(r.roster); err != nil {
			return report, invalidInput(t.ID, err)
		}
		if _, exists := m[t.ID]; exists {
			report.Skipped = append(report.Skipped, t.ID)
			continue
		}
		fresh = append(fresh, t)
	}

	for _, t := range fresh {
		for _, dep := range t.Dependencies {
			if _, known := m[dep]; !known && !batch[dep] {
				r.logger.Zerolog().Warn().Str("task", t.ID).Str("dependency", dep).
					Msg("dependency refers to an unknown task; task stays blocked until it exists and completes")
			}
		}

		if resolver.AreDependenciesSatisfied(&t, m).Satisfied {
			t.Status = task.StatusAvailable
		}
		err := r.store.Create(ctx, t)
		if errors.Is(err, store.ErrDuplicate) {
			report.Skipped = append(report.Skipped, t.ID)
			continue
		}
		if err != nil {
			return report, storeError("create", t.ID, err)
		}

		report.Created = append(report.Created, t.ID)
		if t.Status == task.StatusAvailable {
			report.Available = append(report.Available, t.ID)
		} else {
			report.Blocked = append(report.Blocked, t.ID)
		}
	}

	after, _, err := r.snapshot(ctx)
	if err != nil {
		return report, err
	}
	if err := r.settle(ctx, after, &report); err != nil {
		return report, err
	}
	report.Cycles = resolver.DetectCycles(after)
	for _, c := range report.Cycles {
		r.logger.Zerolog().Warn().Str("cycle", c.String()).Msg("circular dependency detected")
	}

	r.logger.Zerolog().Info().
		Int("created", len(report.Created)).
		Int("skipped", len(report.Skipped)).
		Msg("tasks created")
	return report, nil
}

// settle promotes created tasks whose dependencies completed after the
// pre-insert snapshot was taken. Those completions ran their unblock pass
// before the new task existed, so nobody else will.
func (r *Registry) settle(ctx context.Context, after map[string]*task.Task, report *CreateReport) error {
	created := make(map[string]bool, len(report.Created))
	for _, id := range report.Created {
		created[id] = true
	}
	promoted := make(map[string]bool)
	for _, t := range resolver.FindTasksToUnblock("", after) {
		if !created[t.ID] {
			continue
		}
		if err := r.unblock(ctx, t.ID, "registry"); err != nil {
			return err
		}
		promoted[t.ID] = true
	}
	if len(promoted) == 0 {
		return nil
	}

	blocked := report.Blocked[:0]
	for _, id := range report.Blocked {
		if promoted[id] {
			report.Available = append(report.Available, id)
			continue
		}
		blocked = append(blocked, id)
	}
	report.Blocked = blocked
	return nil
}

// pristine strips runtime state so a new task always enters the lifecycle at
// the start.
func pristine(in task.Task) task.Task {
	t := *in.Clone()
	t.Status = task.StatusBlocked
	t.ClaimedBy = ""
	t.ClaimedAt = nil
	t.StartedAt = nil
	t.CompletedAt = nil
	t.FilesCreated = nil
	t.Velocity = nil
	t.ActualMinutes = nil
	t.ReviewNote = ""
	t.Seq = 0
	if t.Priority == "" {
		t.Priority = task.PriorityP1
	}
	return t
}
