// Package resolver holds the dependency graph algorithms used by the
// registry. Every function is pure: it reads a point-in-time snapshot of the
// tasks (see task.Snapshot) and never mutates it or caches anything across
// calls.
package resolver

import (
	"math"
	"sort"
	"time"

	"github.com/marcus/taskgrid/internal/task"
)

// Readiness score components.
const (
	// DependentWeight is added per non-complete task waiting on this one.
	DependentWeight = 5.0

	// AgeBonusPerDay is added per day since the task was created.
	AgeBonusPerDay = 0.1

	// MaxAgeBonus caps the age contribution.
	MaxAgeBonus = 3.0
)

// Satisfaction is the result of a dependency check.
type Satisfaction struct {
	Satisfied   bool     `json:"satisfied"`
	Unsatisfied []string `json:"unsatisfiedDeps"`
}

// AreDependenciesSatisfied reports whether every dependency of t is present
// in m and COMPLETE. Unknown ids are unsatisfied. Unsatisfied ids keep their
// declared order.
func AreDependenciesSatisfied(t *task.Task, m map[string]*task.Task) Satisfaction {
	unsatisfied := []string{}
	for _, dep := range t.Dependencies {
		d, ok := m[dep]
		if !ok || d.Status != task.StatusComplete {
			unsatisfied = append(unsatisfied, dep)
		}
	}
	return Satisfaction{Satisfied: len(unsatisfied) == 0, Unsatisfied: unsatisfied}
}

// Dependents returns the tasks that list id as a dependency, in creation
// order.
func Dependents(id string, m map[string]*task.Task) []*task.Task {
	var out []*task.Task
	for _, t := range m {
		for _, dep := range t.Dependencies {
			if dep == id {
				out = append(out, t)
				break
			}
		}
	}
	SortByCreation(out)
	return out
}

// ReadinessScore ranks an available task. It orders results only and never
// decides whether a task may be claimed.
//
// Formula: priority weight + 5 per waiting dependent + 0.1 per day of age
// (capped at 3).
func ReadinessScore(t *task.Task, m map[string]*task.Task, now time.Time) float64 {
	score := t.Priority.Weight()

	for _, d := range Dependents(t.ID, m) {
		if d.Status != task.StatusComplete {
			score += DependentWeight
		}
	}

	if !t.CreatedAt.IsZero() {
		days := now.Sub(t.CreatedAt).Hours() / 24
		if days > 0 {
			score += math.Min(days*AgeBonusPerDay, MaxAgeBonus)
		}
	}
	return score
}

// FindTasksToUnblock returns every BLOCKED task whose dependencies are all
// COMPLETE once completedID is treated as COMPLETE. The snapshot itself is
// left untouched. Results are in creation order.
func FindTasksToUnblock(completedID string, m map[string]*task.Task) []*task.Task {
	view := m
	if t, ok := m[completedID]; ok && t.Status != task.StatusComplete {
		view = make(map[string]*task.Task, len(m))
		for id, v := range m {
			view[id] = v
		}
		done := t.Clone()
		done.Status = task.StatusComplete
		view[completedID] = done
	}

	var out []*task.Task
	for _, t := range m {
		if t.Status != task.StatusBlocked {
			continue
		}
		if AreDependenciesSatisfied(t, view).Satisfied {
			out = append(out, t)
		}
	}
	SortByCreation(out)
	return out
}

// SortByCreation orders tasks by creation sequence, then id.
func SortByCreation(tasks []*task.Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		if tasks[i].Seq != tasks[j].Seq {
			return tasks[i].Seq < tasks[j].Seq
		}
		return tasks[i].ID < tasks[j].ID
	})
}
