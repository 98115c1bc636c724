package resolver

import (
	"reflect"
	"testing"
	"time"

	"github.com/marcus/taskgrid/internal/task"
)

type node struct {
	id     string
	status task.Status
	hours  float64
	deps   []string
}

func graph(nodes ...node) map[string]*task.Task {
	m := make(map[string]*task.Task, len(nodes))
	for i, s := range nodes {
		t := &task.Task{
			ID:           s.id,
			Name:         s.id,
			Agent:        "alpha",
			Status:       s.status,
			Priority:     task.PriorityP1,
			Dependencies: s.deps,
			Seq:          int64(i + 1),
		}
		if s.hours > 0 {
			t.EstimatedHours = task.Float(s.hours)
		}
		m[s.id] = t
	}
	return m
}

func TestDetectCycles(t *testing.T) {
	tests := []struct {
		name  string
		tasks map[string]*task.Task
		want  []Cycle
	}{
		{
			name: "acyclic chain",
			tasks: graph(
				node{id: "A", status: task.StatusAvailable},
				node{id: "B", status: task.StatusBlocked, deps: []string{"A"}},
				node{id: "C", status: task.StatusBlocked, deps: []string{"B"}},
			),
			want: nil,
		},
		{
			name: "three cycle",
			tasks: graph(
				node{id: "A", status: task.StatusBlocked, deps: []string{"B"}},
				node{id: "B", status: task.StatusBlocked, deps: []string{"C"}},
				node{id: "C", status: task.StatusBlocked, deps: []string{"A"}},
			),
			want: []Cycle{{"A", "B", "C"}},
		},
		{
			name: "cycle found from a later root is rotated",
			tasks: graph(
				node{id: "A", status: task.StatusAvailable},
				node{id: "X", status: task.StatusBlocked, deps: []string{"Z"}},
				node{id: "Y", status: task.StatusBlocked, deps: []string{"X"}},
				node{id: "Z", status: task.StatusBlocked, deps: []string{"Y"}},
			),
			want: []Cycle{{"X", "Z", "Y"}},
		},
		{
			name: "self dependency",
			tasks: graph(
				node{id: "S", status: task.StatusBlocked, deps: []string{"S"}},
			),
			want: []Cycle{{"S"}},
		},
		{
			name: "two independent cycles",
			tasks: graph(
				node{id: "A", status: task.StatusBlocked, deps: []string{"B"}},
				node{id: "B", status: task.StatusBlocked, deps: []string{"A"}},
				node{id: "C", status: task.StatusBlocked, deps: []string{"D"}},
				node{id: "D", status: task.StatusBlocked, deps: []string{"C"}},
			),
			want: []Cycle{{"A", "B"}, {"C", "D"}},
		},
		{
			name: "unknown dependency is not a cycle",
			tasks: graph(
				node{id: "A", status: task.StatusBlocked, deps: []string{"ghost"}},
			),
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DetectCycles(tt.tasks)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("DetectCycles() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCycleString(t *testing.T) {
	if got := (Cycle{"A", "B", "C"}).String(); got != "A -> B -> C -> A" {
		t.Errorf("String() = %q", got)
	}
}

func TestCycleNeverUnblocks(t *testing.T) {
	m := graph(
		node{id: "A", status: task.StatusBlocked, deps: []string{"B"}},
		node{id: "B", status: task.StatusBlocked, deps: []string{"C"}},
		node{id: "C", status: task.StatusBlocked, deps: []string{"A"}},
	)
	for _, id := range []string{"A", "B", "C"} {
		if AreDependenciesSatisfied(m[id], m).Satisfied {
			t.Errorf("%s reported satisfied inside a cycle", id)
		}
	}
	if got := FindTasksToUnblock("unrelated", m); len(got) != 0 {
		t.Errorf("expected nothing to unblock, got %d tasks", len(got))
	}
}

func TestAreDependenciesSatisfied(t *testing.T) {
	m := graph(
		node{id: "done", status: task.StatusComplete},
		node{id: "review", status: task.StatusNeedsReview},
		node{id: "wip", status: task.StatusInProgress},
		node{id: "T", status: task.StatusBlocked, deps: []string{"done", "wip", "ghost", "review"}},
		node{id: "free", status: task.StatusAvailable},
	)

	got := AreDependenciesSatisfied(m["T"], m)
	if got.Satisfied {
		t.Fatal("expected unsatisfied")
	}
	want := []string{"wip", "ghost", "review"}
	if !reflect.DeepEqual(got.Unsatisfied, want) {
		t.Errorf("Unsatisfied = %v, want %v", got.Unsatisfied, want)
	}

	free := AreDependenciesSatisfied(m["free"], m)
	if !free.Satisfied || len(free.Unsatisfied) != 0 {
		t.Errorf("task without deps should be satisfied: %+v", free)
	}
}

func TestCriticalPathDiamond(t *testing.T) {
	m := graph(
		node{id: "T1", status: task.StatusAvailable, hours: 2},
		node{id: "T2", status: task.StatusBlocked, hours: 3, deps: []string{"T1"}},
		node{id: "T3", status: task.StatusBlocked, hours: 4, deps: []string{"T1"}},
		node{id: "T4", status: task.StatusBlocked, hours: 1, deps: []string{"T2", "T3"}},
	)

	got := CriticalPath(m)
	want := []string{"T1", "T3", "T4"}
	if !reflect.DeepEqual(got.IDs, want) {
		t.Errorf("IDs = %v, want %v", got.IDs, want)
	}
	if got.Hours != 7 {
		t.Errorf("Hours = %v, want 7", got.Hours)
	}
}

func TestCriticalPathEdgeCases(t *testing.T) {
	if got := CriticalPath(map[string]*task.Task{}); len(got.IDs) != 0 || got.Hours != 0 {
		t.Errorf("empty graph: %+v", got)
	}

	single := graph(node{id: "solo", status: task.StatusAvailable, hours: 5})
	if got := CriticalPath(single); !reflect.DeepEqual(got.IDs, []string{"solo"}) || got.Hours != 5 {
		t.Errorf("single task: %+v", got)
	}

	withCycle := graph(
		node{id: "A", status: task.StatusAvailable, hours: 1},
		node{id: "B", status: task.StatusBlocked, hours: 2, deps: []string{"A"}},
		node{id: "X", status: task.StatusBlocked, hours: 50, deps: []string{"Y"}},
		node{id: "Y", status: task.StatusBlocked, hours: 50, deps: []string{"X"}},
	)
	got := CriticalPath(withCycle)
	if !reflect.DeepEqual(got.IDs, []string{"A", "B"}) || got.Hours != 3 {
		t.Errorf("cycle members should be excluded: %+v", got)
	}
}

func TestTopologicalOrder(t *testing.T) {
	m := graph(
		node{id: "c", status: task.StatusBlocked, deps: []string{"a", "b"}},
		node{id: "b", status: task.StatusAvailable},
		node{id: "a", status: task.StatusAvailable},
		node{id: "d", status: task.StatusBlocked, deps: []string{"c", "c"}},
		node{id: "x", status: task.StatusBlocked, deps: []string{"y"}},
		node{id: "y", status: task.StatusBlocked, deps: []string{"x"}},
		node{id: "z", status: task.StatusBlocked, deps: []string{"x"}},
	)

	order, stuck := TopologicalOrder(m)
	if want := []string{"a", "b", "c", "d"}; !reflect.DeepEqual(order, want) {
		t.Errorf("order = %v, want %v", order, want)
	}
	if want := []string{"x", "y", "z"}; !reflect.DeepEqual(stuck, want) {
		t.Errorf("stuck = %v, want %v", stuck, want)
	}
}

func TestFindTasksToUnblock(t *testing.T) {
	m := graph(
		node{id: "T1", status: task.StatusClaimed},
		node{id: "T0", status: task.StatusComplete},
		node{id: "T2", status: task.StatusBlocked, deps: []string{"T1"}},
		node{id: "T3", status: task.StatusBlocked, deps: []string{"T1", "T0"}},
		node{id: "T4", status: task.StatusBlocked, deps: []string{"T1", "T2"}},
		node{id: "T5", status: task.StatusAvailable, deps: []string{"T1"}},
	)

	got := FindTasksToUnblock("T1", m)
	var ids []string
	for _, tk := range got {
		ids = append(ids, tk.ID)
	}
	if want := []string{"T2", "T3"}; !reflect.DeepEqual(ids, want) {
		t.Errorf("unblocked = %v, want %v", ids, want)
	}
	if m["T1"].Status != task.StatusClaimed {
		t.Error("snapshot must not be mutated")
	}
}

func TestReadinessScore(t *testing.T) {
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	m := graph(
		node{id: "root", status: task.StatusAvailable},
		node{id: "d1", status: task.StatusBlocked, deps: []string{"root"}},
		node{id: "d2", status: task.StatusBlocked, deps: []string{"root"}},
		node{id: "leaf", status: task.StatusAvailable},
	)
	m["root"].Priority = task.PriorityP0
	m["root"].CreatedAt = now.Add(-10 * 24 * time.Hour)
	m["leaf"].Priority = task.PriorityP2
	m["leaf"].CreatedAt = now.Add(-100 * 24 * time.Hour)

	tests := []struct {
		id   string
		want float64
	}{
		{"root", 30 + 2*DependentWeight + 1.0},
		{"leaf", 10 + MaxAgeBonus},
		{"d1", 20},
	}
	for _, tt := range tests {
		got := ReadinessScore(m[tt.id], m, now)
		if diff := got - tt.want; diff > 1e-9 || diff < -1e-9 {
			t.Errorf("ReadinessScore(%s) = %v, want %v", tt.id, got, tt.want)
		}
	}
}

func TestDependentsOrder(t *testing.T) {
	m := graph(
		node{id: "base", status: task.StatusAvailable},
		node{id: "zeta", status: task.StatusBlocked, deps: []string{"base"}},
		node{id: "alpha", status: task.StatusBlocked, deps: []string{"base"}},
	)
	got := Dependents("base", m)
	if len(got) != 2 || got[0].ID != "zeta" || got[1].ID != "alpha" {
		t.Errorf("expected creation order [zeta alpha], got %v", got)
	}
}

func TestCycleMembers(t *testing.T) {
	got := CycleMembers([]Cycle{{"A", "B"}, {"C"}})
	if len(got) != 3 || !got["A"] || !got["B"] || !got["C"] {
		t.Errorf("CycleMembers = %v", got)
	}
	if len(CycleMembers(nil)) != 0 {
		t.Error("no cycles should give an empty set")
	}
}
