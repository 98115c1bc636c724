package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/marcus/taskgrid/internal/task"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type factory func(t *testing.T, clock *fakeClock) Store

func factories() map[string]factory {
	return map[string]factory{
		"memory": func(t *testing.T, clock *fakeClock) Store {
			return NewMemory(WithMemoryClock(clock.Now))
		},
		"sqlite": func(t *testing.T, clock *fakeClock) Store {
			t.Helper()
			s, err := OpenSQLite(filepath.Join(t.TempDir(), "taskgrid.db"), WithSQLiteClock(clock.Now))
			if err != nil {
				t.Fatalf("open sqlite store: %v", err)
			}
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
	}
}

// forEachStore runs fn against every Store implementation.
func forEachStore(t *testing.T, fn func(t *testing.T, s Store, clock *fakeClock)) {
	for name, mk := range factories() {
		t.Run(name, func(t *testing.T) {
			clock := newFakeClock()
			fn(t, mk(t, clock), clock)
		})
	}
}

func newTask(id string, status task.Status, deps ...string) task.Task {
	return task.Task{
		ID:           id,
		Name:         "task " + id,
		Agent:        "alpha",
		Status:       status,
		Priority:     task.PriorityP1,
		Dependencies: deps,
	}
}

func mustCreate(t *testing.T, s Store, tasks ...task.Task) {
	t.Helper()
	for _, tk := range tasks {
		if err := s.Create(context.Background(), tk); err != nil {
			t.Fatalf("create %s: %v", tk.ID, err)
		}
	}
}

func mustGet(t *testing.T, s Store, id string) *task.Task {
	t.Helper()
	got, err := s.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("get %s: %v", id, err)
	}
	if got == nil {
		t.Fatalf("task %s not found", id)
	}
	return got
}

func TestCreateAndRead(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store, clock *fakeClock) {
		ctx := context.Background()
		full := newTask("T1", task.StatusAvailable)
		full.Location = "internal/api"
		full.Phase = "core"
		full.Deliverables = []string{"api.go", "api_test.go"}
		full.AcceptanceCriteria = []string{"tests pass"}
		full.EstimatedHours = task.Float(2.5)
		mustCreate(t, s, full, newTask("T2", task.StatusBlocked, "T1"))

		got := mustGet(t, s, "T1")
		if got.Seq == 0 || got.CreatedAt.IsZero() {
			t.Fatalf("seq/createdAt not assigned: %+v", got)
		}
		if got.Location != "internal/api" || got.Phase != "core" {
			t.Errorf("descriptive fields lost: %+v", got)
		}
		if len(got.Deliverables) != 2 || got.Deliverables[1] != "api_test.go" {
			t.Errorf("deliverables = %v", got.Deliverables)
		}
		if len(got.AcceptanceCriteria) != 1 {
			t.Errorf("acceptanceCriteria = %v", got.AcceptanceCriteria)
		}
		if got.Hours() != 2.5 {
			t.Errorf("estimatedHours = %v", got.Hours())
		}

		all, err := s.GetAll(ctx)
		if err != nil {
			t.Fatalf("get all: %v", err)
		}
		if len(all) != 2 || all[0].ID != "T1" || all[1].ID != "T2" {
			t.Fatalf("expected creation order [T1 T2], got %v", ids(all))
		}
		if all[1].Seq <= all[0].Seq {
			t.Errorf("seq not increasing: %d, %d", all[0].Seq, all[1].Seq)
		}
		if len(all[1].Dependencies) != 1 || all[1].Dependencies[0] != "T1" {
			t.Errorf("dependencies = %v", all[1].Dependencies)
		}

		missing, err := s.GetByID(ctx, "nope")
		if err != nil || missing != nil {
			t.Fatalf("expected nil, nil for missing task, got %v, %v", missing, err)
		}
	})
}

func TestCreateDuplicate(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store, clock *fakeClock) {
		mustCreate(t, s, newTask("T1", task.StatusAvailable))
		err := s.Create(context.Background(), newTask("T1", task.StatusAvailable))
		if !errors.Is(err, ErrDuplicate) {
			t.Fatalf("expected ErrDuplicate, got %v", err)
		}
	})
}

func TestClaimIsConditional(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store, clock *fakeClock) {
		ctx := context.Background()
		mustCreate(t, s, newTask("T1", task.StatusAvailable), newTask("T2", task.StatusBlocked))

		ok, err := s.Claim(ctx, "T1", "alpha")
		if err != nil || !ok {
			t.Fatalf("first claim: ok=%v err=%v", ok, err)
		}
		ok, err = s.Claim(ctx, "T1", "beta")
		if err != nil || ok {
			t.Fatalf("second claim should not apply: ok=%v err=%v", ok, err)
		}
		ok, _ = s.Claim(ctx, "T2", "alpha")
		if ok {
			t.Fatal("claim of BLOCKED task should not apply")
		}
		ok, _ = s.Claim(ctx, "missing", "alpha")
		if ok {
			t.Fatal("claim of missing task should not apply")
		}

		got := mustGet(t, s, "T1")
		if got.Status != task.StatusClaimed || got.ClaimedBy != "alpha" || got.ClaimedAt == nil {
			t.Fatalf("claim not recorded: %+v", got)
		}
	})
}

func TestConcurrentClaimsExactlyOneWins(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store, clock *fakeClock) {
		mustCreate(t, s, newTask("T1", task.StatusAvailable))

		const callers = 16
		var (
			wg      sync.WaitGroup
			wins    atomic.Int32
			failure atomic.Value
			start   = make(chan struct{})
		)
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				ok, err := s.Claim(context.Background(), "T1", "alpha")
				if err != nil {
					failure.Store(err)
					return
				}
				if ok {
					wins.Add(1)
				}
			}()
		}
		close(start)
		wg.Wait()

		if err, _ := failure.Load().(error); err != nil {
			t.Fatalf("claim returned error: %v", err)
		}
		if wins.Load() != 1 {
			t.Fatalf("expected exactly one winning claim, got %d", wins.Load())
		}
	})
}

func TestStartRequiresHolder(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store, clock *fakeClock) {
		ctx := context.Background()
		mustCreate(t, s, newTask("T1", task.StatusAvailable))
		if ok, _ := s.Start(ctx, "T1", "alpha"); ok {
			t.Fatal("start before claim should not apply")
		}
		if ok, _ := s.Claim(ctx, "T1", "alpha"); !ok {
			t.Fatal("claim failed")
		}
		if ok, _ := s.Start(ctx, "T1", "beta"); ok {
			t.Fatal("start by non-holder should not apply")
		}
		if ok, err := s.Start(ctx, "T1", "alpha"); err != nil || !ok {
			t.Fatalf("start by holder: ok=%v err=%v", ok, err)
		}
		got := mustGet(t, s, "T1")
		if got.Status != task.StatusInProgress || got.StartedAt == nil {
			t.Fatalf("start not recorded: %+v", got)
		}
	})
}

func TestCompleteDerivesDuration(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store, clock *fakeClock) {
		ctx := context.Background()
		tk := newTask("T1", task.StatusAvailable)
		tk.EstimatedHours = task.Float(2)
		mustCreate(t, s, tk)

		if ok, _ := s.Claim(ctx, "T1", "alpha"); !ok {
			t.Fatal("claim failed")
		}
		clock.Advance(30 * time.Minute)
		if ok, _ := s.Start(ctx, "T1", "alpha"); !ok {
			t.Fatal("start failed")
		}
		clock.Advance(60 * time.Minute)

		if ok, _ := s.Complete(ctx, "T1", "beta", nil, nil); ok {
			t.Fatal("complete by non-holder should not apply")
		}
		ok, err := s.Complete(ctx, "T1", "alpha", []string{"a.go", "b.go"}, nil)
		if err != nil || !ok {
			t.Fatalf("complete: ok=%v err=%v", ok, err)
		}

		got := mustGet(t, s, "T1")
		if got.Status != task.StatusComplete || got.CompletedAt == nil {
			t.Fatalf("completion not recorded: %+v", got)
		}
		if got.ActualMinutes == nil || *got.ActualMinutes != 60 {
			t.Errorf("actualMinutes = %v, want 60 (measured from start)", got.ActualMinutes)
		}
		if got.Velocity == nil || *got.Velocity != 2 {
			t.Errorf("velocity = %v, want 2 (120 estimated / 60 actual)", got.Velocity)
		}
		if len(got.FilesCreated) != 2 {
			t.Errorf("filesCreated = %v", got.FilesCreated)
		}

		if ok, _ := s.Complete(ctx, "T1", "alpha", nil, nil); ok {
			t.Fatal("second completion should not apply")
		}
	})
}

func TestCompleteExplicitVelocity(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store, clock *fakeClock) {
		ctx := context.Background()
		tk := newTask("T1", task.StatusAvailable)
		tk.EstimatedHours = task.Float(1)
		mustCreate(t, s, tk)
		_, _ = s.Claim(ctx, "T1", "alpha")
		clock.Advance(15 * time.Minute)

		if ok, _ := s.Complete(ctx, "T1", "alpha", nil, task.Float(0.8)); !ok {
			t.Fatal("complete failed")
		}
		got := mustGet(t, s, "T1")
		if got.Velocity == nil || *got.Velocity != 0.8 {
			t.Errorf("velocity = %v, want 0.8", got.Velocity)
		}
		if got.ActualMinutes == nil || *got.ActualMinutes != 15 {
			t.Errorf("actualMinutes = %v, want 15 (measured from claim)", got.ActualMinutes)
		}
	})
}

func TestSetStatusIsForwardOnly(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store, clock *fakeClock) {
		ctx := context.Background()
		mustCreate(t, s, newTask("B", task.StatusBlocked), newTask("A", task.StatusAvailable))

		if ok, err := s.SetStatus(ctx, "B", task.StatusAvailable, "resolver"); err != nil || !ok {
			t.Fatalf("unblock: ok=%v err=%v", ok, err)
		}
		if ok, _ := s.SetStatus(ctx, "B", task.StatusAvailable, "resolver"); ok {
			t.Fatal("repeat unblock should not apply")
		}
		if ok, _ := s.SetStatus(ctx, "A", task.StatusBlocked, "resolver"); ok {
			t.Fatal("AVAILABLE -> BLOCKED must never apply")
		}
		if ok, _ := s.SetStatus(ctx, "A", task.StatusComplete, "resolver"); ok {
			t.Fatal("AVAILABLE -> COMPLETE must never apply")
		}
		if got := mustGet(t, s, "A"); got.Status != task.StatusAvailable {
			t.Fatalf("A moved to %s", got.Status)
		}
	})
}

func TestReview(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store, clock *fakeClock) {
		ctx := context.Background()
		mustCreate(t, s, newTask("T1", task.StatusAvailable))
		_, _ = s.Claim(ctx, "T1", "alpha")

		if ok, err := s.Review(ctx, "T1", "alpha", "schema drift"); err != nil || !ok {
			t.Fatalf("review: ok=%v err=%v", ok, err)
		}
		got := mustGet(t, s, "T1")
		if got.Status != task.StatusNeedsReview || got.ReviewNote != "schema drift" {
			t.Fatalf("review not recorded: %+v", got)
		}
		if ok, _ := s.Complete(ctx, "T1", "alpha", nil, nil); ok {
			t.Fatal("NEEDS_REVIEW is terminal")
		}
	})
}

func TestHistory(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store, clock *fakeClock) {
		ctx := context.Background()
		mustCreate(t, s, newTask("T1", task.StatusBlocked))
		_, _ = s.SetStatus(ctx, "T1", task.StatusAvailable, "resolver")
		_, _ = s.Claim(ctx, "T1", "alpha")
		_, _ = s.Claim(ctx, "T1", "beta") // lost, not recorded
		_, _ = s.Complete(ctx, "T1", "alpha", nil, nil)

		hist, err := s.History(ctx, "T1")
		if err != nil {
			t.Fatalf("history: %v", err)
		}
		want := []struct {
			from, to task.Status
			actor    string
		}{
			{task.StatusBlocked, task.StatusAvailable, "resolver"},
			{task.StatusAvailable, task.StatusClaimed, "alpha"},
			{task.StatusClaimed, task.StatusComplete, "alpha"},
		}
		if len(hist) != len(want) {
			t.Fatalf("expected %d transitions, got %d: %+v", len(want), len(hist), hist)
		}
		for i, w := range want {
			if hist[i].From != w.from || hist[i].To != w.to || hist[i].Actor != w.actor {
				t.Errorf("transition %d = %+v, want %+v", i, hist[i], w)
			}
		}
	})
}

func TestClosedStore(t *testing.T) {
	s := NewMemory()
	_ = s.Close()
	if _, err := s.GetAll(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func ids(tasks []task.Task) []string {
	out := make([]string, len(tasks))
	for i := range tasks {
		out[i] = tasks[i].ID
	}
	return out
}
