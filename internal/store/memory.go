package store

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marcus/taskgrid/internal/task"
)

// Memory implements Store in process memory.
// Useful for tests and ephemeral runs; the mutex plays the role the database
// write lock plays for SQLite.
type Memory struct {
	mu      sync.Mutex
	tasks   map[string]*task.Task
	order   []string
	history map[string][]Transition
	seq     int64
	now     func() time.Time
	closed  atomic.Bool
}

// MemoryOption configures a Memory store.
type MemoryOption func(*Memory)

// WithMemoryClock overrides the time source.
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(m *Memory) {
		m.now = now
	}
}

// NewMemory creates an empty in-memory store.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		tasks:   make(map[string]*task.Task),
		history: make(map[string][]Transition),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Memory) GetAll(ctx context.Context) ([]task.Task, error) {
	if err := m.check(ctx); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]task.Task, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, *m.tasks[id].Clone())
	}
	return out, nil
}

func (m *Memory) GetByID(ctx context.Context, id string) (*task.Task, error) {
	if err := m.check(ctx); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[id]
	if !ok {
		return nil, nil
	}
	return t.Clone(), nil
}

func (m *Memory) Create(ctx context.Context, t task.Task) error {
	if err := m.check(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.tasks[t.ID]; exists {
		return ErrDuplicate
	}
	m.seq++
	c := t.Clone()
	c.Seq = m.seq
	c.CreatedAt = m.now().UTC()
	m.tasks[c.ID] = c
	m.order = append(m.order, c.ID)
	return nil
}

func (m *Memory) Claim(ctx context.Context, id, agent string) (bool, error) {
	return m.apply(ctx, id, agent, task.StatusClaimed, []task.Status{task.StatusAvailable}, false,
		func(t *task.Task, now time.Time) {
			t.ClaimedBy = agent
			t.ClaimedAt = &now
		})
}

func (m *Memory) Start(ctx context.Context, id, agent string) (bool, error) {
	return m.apply(ctx, id, agent, task.StatusInProgress, []task.Status{task.StatusClaimed}, true,
		func(t *task.Task, now time.Time) {
			t.StartedAt = &now
		})
}

func (m *Memory) Complete(ctx context.Context, id, agent string, filesCreated []string, velocity *float64) (bool, error) {
	return m.apply(ctx, id, agent, task.StatusComplete, []task.Status{task.StatusClaimed, task.StatusInProgress}, true,
		func(t *task.Task, now time.Time) {
			minutes := workedMinutes(t.ClaimedAt, t.StartedAt, now)
			t.CompletedAt = &now
			t.ActualMinutes = &minutes
			if len(filesCreated) > 0 {
				t.FilesCreated = append([]string(nil), filesCreated...)
			}
			if velocity != nil {
				v := *velocity
				t.Velocity = &v
			} else {
				t.Velocity = derivedVelocity(t.EstimatedHours, minutes)
			}
		})
}

func (m *Memory) Review(ctx context.Context, id, agent, note string) (bool, error) {
	return m.apply(ctx, id, agent, task.StatusNeedsReview, []task.Status{task.StatusClaimed, task.StatusInProgress}, true,
		func(t *task.Task, now time.Time) {
			t.ReviewNote = note
		})
}

func (m *Memory) SetStatus(ctx context.Context, id string, status task.Status, actor string) (bool, error) {
	return m.apply(ctx, id, actor, status, predecessors(status), false, nil)
}

func (m *Memory) History(ctx context.Context, id string) ([]Transition, error) {
	if err := m.check(ctx); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Transition, len(m.history[id]))
	copy(out, m.history[id])
	return out, nil
}

func (m *Memory) Close() error {
	m.closed.Store(true)
	return nil
}

// apply is the CAS primitive: it mutates the task only when its current
// status is one of from (and, when holderOnly, agent holds the claim).
func (m *Memory) apply(ctx context.Context, id, agent string, to task.Status, from []task.Status, holderOnly bool, mutate func(*task.Task, time.Time)) (bool, error) {
	if err := m.check(ctx); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[id]
	if !ok || !statusIn(t.Status, from) {
		return false, nil
	}
	if holderOnly && t.ClaimedBy != agent {
		return false, nil
	}

	now := m.now().UTC()
	prev := t.Status
	t.Status = to
	if mutate != nil {
		mutate(t, now)
	}
	m.history[id] = append(m.history[id], Transition{TaskID: id, From: prev, To: to, Actor: agent, At: now})
	return true, nil
}

func (m *Memory) check(ctx context.Context) error {
	if m.closed.Load() {
		return ErrClosed
	}
	return ctx.Err()
}

func statusIn(s task.Status, set []task.Status) bool {
	for _, candidate := range set {
		if s == candidate {
			return true
		}
	}
	return false
}
