package registry

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/marcus/taskgrid/internal/task"
)

// SprintMetrics summarises progress over every task.
//
// CompletionPercentage is round(100 * complete / total), held at 99 while any
// task is unfinished so that 100 always means everything is COMPLETE.
// Acceleration compares the mean velocity of the later-completed half of the
// finished tasks with the earlier half; positive means the team is speeding
// up. The ETA divides the remaining estimated hours by the mean velocity
// (1.0 when no velocity has been recorded).
func (r *Registry) SprintMetrics(ctx context.Context) (SprintMetrics, error) {
	_, all, err := r.snapshot(ctx)
	if err != nil {
		return SprintMetrics{}, err
	}

	sm := SprintMetrics{Total: len(all)}
	var samples []task.Task
	for _, t := range all {
		sm.Counts.add(t.Status)
		if t.Status != task.StatusComplete {
			sm.RemainingHours += t.Hours()
		}
		if t.Velocity != nil {
			samples = append(samples, t)
		}
	}

	sm.CompletionPercentage = completionPercentage(sm.Counts.Complete, sm.Total)
	sm.VelocitySamples = len(samples)
	sm.AverageVelocity = round2(meanVelocity(samples))
	sm.Acceleration = round2(acceleration(samples))
	sm.RemainingHours = round2(sm.RemainingHours)

	velocity := sm.AverageVelocity
	if velocity <= 0 {
		velocity = 1
	}
	sm.ETAHours = round2(sm.RemainingHours / velocity)
	if sm.RemainingHours > 0 {
		eta := r.now().Add(time.Duration(sm.ETAHours * float64(time.Hour))).UTC()
		sm.ProjectedCompletion = &eta
	}
	return sm, nil
}

// AgentWorkload counts the tasks assigned to agent by state.
func (r *Registry) AgentWorkload(ctx context.Context, agent string) (Workload, error) {
	if err := r.roster.ValidateAgent("agent", agent); err != nil {
		return Workload{}, invalidInput("", err)
	}
	_, all, err := r.snapshot(ctx)
	if err != nil {
		return Workload{}, err
	}

	w := Workload{Agent: agent, Tasks: []task.Task{}}
	for _, t := range all {
		if t.Agent != agent {
			continue
		}
		w.Total++
		w.Tasks = append(w.Tasks, t)
		switch {
		case t.Status == task.StatusComplete:
			w.Completed++
		case t.Status.IsHeld():
			w.InProgress++
		case t.Status == task.StatusAvailable:
			w.Available++
		case t.Status == task.StatusBlocked:
			w.Blocked++
		case t.Status == task.StatusNeedsReview:
			w.NeedsReview++
		}
	}
	return w, nil
}

func completionPercentage(complete, total int) int {
	if total == 0 {
		return 0
	}
	pct := int(math.Round(100 * float64(complete) / float64(total)))
	if complete < total && pct > 99 {
		pct = 99
	}
	return pct
}

func meanVelocity(tasks []task.Task) float64 {
	if len(tasks) == 0 {
		return 0
	}
	var sum float64
	for _, t := range tasks {
		sum += *t.Velocity
	}
	return sum / float64(len(tasks))
}

func acceleration(samples []task.Task) float64 {
	if len(samples) < 2 {
		return 0
	}
	ordered := append([]task.Task(nil), samples...)
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i].CompletedAt, ordered[j].CompletedAt
		switch {
		case a != nil && b != nil && !a.Equal(*b):
			return a.Before(*b)
		case (a == nil) != (b == nil):
			return a == nil
		}
		return ordered[i].Seq < ordered[j].Seq
	})
	half := len(ordered) / 2
	return meanVelocity(ordered[half:]) - meanVelocity(ordered[:half])
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
