package resolver

import (
	"container/heap"
	"sort"
	"strings"

	"github.com/marcus/taskgrid/internal/task"
)

// Cycle is a dependency loop as an ordered id sequence. Each task depends on
// the next one, and the last depends on the first.
type Cycle []string

func (c Cycle) String() string {
	if len(c) == 0 {
		return ""
	}
	return strings.Join(c, " -> ") + " -> " + c[0]
}

// Path is a dependency chain from an independent task down to its final
// dependent, with the summed estimate.
type Path struct {
	IDs   []string `json:"ids"`
	Hours float64  `json:"hours"`
}

// DetectCycles returns every dependency cycle in the snapshot. Dependencies
// on ids outside the snapshot are ignored here; they count as unsatisfied
// elsewhere but cannot form a loop.
//
// The search is deterministic: roots are visited in id order, dependencies
// in declared order, and each cycle is reported once, rotated so its
// smallest id comes first.
func DetectCycles(tasks map[string]*task.Task) []Cycle {
	const (
		white = iota
		gray
		black
	)

	color := make(map[string]int, len(tasks))
	onStack := make(map[string]int, len(tasks))
	var (
		stack  []string
		cycles []Cycle
		seen   = make(map[string]bool)
	)

	var visit func(id string)
	visit = func(id string) {
		color[id] = gray
		onStack[id] = len(stack)
		stack = append(stack, id)

		for _, dep := range tasks[id].Dependencies {
			if _, ok := tasks[dep]; !ok {
				continue
			}
			switch color[dep] {
			case white:
				visit(dep)
			case gray:
				c := canonical(stack[onStack[dep]:])
				key := strings.Join(c, "\x00")
				if !seen[key] {
					seen[key] = true
					cycles = append(cycles, c)
				}
			}
		}

		stack = stack[:len(stack)-1]
		delete(onStack, id)
		color[id] = black
	}

	for _, id := range sortedIDs(tasks) {
		if color[id] == white {
			visit(id)
		}
	}
	return cycles
}

// CycleMembers flattens cycles into a set of ids.
func CycleMembers(cycles []Cycle) map[string]bool {
	out := make(map[string]bool)
	for _, c := range cycles {
		for _, id := range c {
			out[id] = true
		}
	}
	return out
}

// canonical copies the loop and rotates it to start at its smallest id.
func canonical(loop []string) Cycle {
	start := 0
	for i := range loop {
		if loop[i] < loop[start] {
			start = i
		}
	}
	out := make(Cycle, 0, len(loop))
	out = append(out, loop[start:]...)
	out = append(out, loop[:start]...)
	return out
}

type idHeap []string

func (h idHeap) Len() int           { return len(h) }
func (h idHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h idHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *idHeap) Push(x any)        { *h = append(*h, x.(string)) }
func (h *idHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// TopologicalOrder orders tasks so every task follows its dependencies
// (Kahn's algorithm, ready set drained smallest id first). Tasks that sit on
// or behind a cycle can never be ordered and are returned in stuck, sorted.
func TopologicalOrder(tasks map[string]*task.Task) (order, stuck []string) {
	indeg := make(map[string]int, len(tasks))
	dependents := make(map[string][]string, len(tasks))
	for _, id := range sortedIDs(tasks) {
		n := 0
		for _, dep := range uniqueDeps(tasks[id]) {
			if _, ok := tasks[dep]; !ok {
				continue
			}
			n++
			dependents[dep] = append(dependents[dep], id)
		}
		indeg[id] = n
	}

	ready := &idHeap{}
	for id, n := range indeg {
		if n == 0 {
			*ready = append(*ready, id)
		}
	}
	heap.Init(ready)

	order = make([]string, 0, len(tasks))
	for ready.Len() > 0 {
		id := heap.Pop(ready).(string)
		order = append(order, id)
		for _, next := range dependents[id] {
			indeg[next]--
			if indeg[next] == 0 {
				heap.Push(ready, next)
			}
		}
	}

	if len(order) < len(tasks) {
		placed := make(map[string]bool, len(order))
		for _, id := range order {
			placed[id] = true
		}
		for _, id := range sortedIDs(tasks) {
			if !placed[id] {
				stuck = append(stuck, id)
			}
		}
	}
	return order, stuck
}

// CriticalPath returns the chain with the largest cumulative estimated hours.
// Tasks without an estimate contribute zero. Ties keep the first declared
// dependency and the earliest chain end in topological order. Tasks that
// cannot be ordered because of a cycle are left out.
func CriticalPath(tasks map[string]*task.Task) Path {
	order, _ := TopologicalOrder(tasks)
	if len(order) == 0 {
		return Path{IDs: []string{}}
	}

	dist := make(map[string]float64, len(order))
	prev := make(map[string]string, len(order))
	for _, id := range order {
		t := tasks[id]
		best, from := 0.0, ""
		for _, dep := range t.Dependencies {
			d, ok := dist[dep]
			if !ok {
				continue
			}
			if from == "" || d > best {
				best, from = d, dep
			}
		}
		dist[id] = best + t.Hours()
		if from != "" {
			prev[id] = from
		}
	}

	end := order[0]
	for _, id := range order[1:] {
		if dist[id] > dist[end] {
			end = id
		}
	}

	var ids []string
	for id := end; id != ""; id = prev[id] {
		ids = append(ids, id)
	}
	for i, j := 0, len(ids)-1; i < j; i, j = i+1, j-1 {
		ids[i], ids[j] = ids[j], ids[i]
	}
	return Path{IDs: ids, Hours: dist[end]}
}

func sortedIDs(tasks map[string]*task.Task) []string {
	ids := make([]string, 0, len(tasks))
	for id := range tasks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func uniqueDeps(t *task.Task) []string {
	if len(t.Dependencies) < 2 {
		return t.Dependencies
	}
	seen := make(map[string]bool, len(t.Dependencies))
	out := make([]string, 0, len(t.Dependencies))
	for _, dep := range t.Dependencies {
		if !seen[dep] {
			seen[dep] = true
			out = append(out, dep)
		}
	}
	return out
}
