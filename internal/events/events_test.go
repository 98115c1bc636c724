package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/marcus/taskgrid/internal/logging"
	"github.com/marcus/taskgrid/internal/registry"
	"github.com/marcus/taskgrid/internal/store"
	"github.com/marcus/taskgrid/internal/task"
)

type captureSink struct {
	mu     sync.Mutex
	events []Event
	err    error
	closed bool
}

func (c *captureSink) Publish(_ context.Context, e Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
	return c.err
}

func (c *captureSink) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *captureSink) types() []Type {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Type, len(c.events))
	for i, e := range c.events {
		out[i] = e.Type
	}
	return out
}

// blockingSink holds every Publish until release is closed.
type blockingSink struct {
	release chan struct{}
	count   int
	mu      sync.Mutex
}

func (b *blockingSink) Publish(context.Context, Event) error {
	<-b.release
	b.mu.Lock()
	b.count++
	b.mu.Unlock()
	return nil
}

func (b *blockingSink) Close() error { return nil }

type fakeConn struct {
	subjects []string
	payloads [][]byte
	err      error
	closed   bool
}

func (f *fakeConn) Publish(subject string, data []byte) error {
	f.subjects = append(f.subjects, subject)
	f.payloads = append(f.payloads, data)
	return f.err
}

func (f *fakeConn) Close() { f.closed = true }

func TestNewEvent(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.FixedZone("x", 3600))
	e := New(TypeClaimed, "T1", "alpha", at)
	if _, err := uuid.Parse(e.ID); err != nil {
		t.Errorf("id %q is not a uuid: %v", e.ID, err)
	}
	if e.Timestamp.Location() != time.UTC || !e.Timestamp.Equal(at) {
		t.Errorf("timestamp = %v", e.Timestamp)
	}
	if New(TypeClaimed, "T1", "alpha", at).ID == e.ID {
		t.Error("ids must be unique")
	}
}

func TestNATSSinkPublish(t *testing.T) {
	conn := &fakeConn{}
	s := newNATSSink(conn, "grid.events.")

	e := New(TypeCompleted, "T1", "alpha", time.Now())
	e.Unblocked = []string{"T2"}
	if err := s.Publish(context.Background(), e); err != nil {
		t.Fatal(err)
	}
	if len(conn.subjects) != 1 || conn.subjects[0] != "grid.events.task.completed" {
		t.Fatalf("subjects = %v", conn.subjects)
	}
	var decoded Event
	if err := json.Unmarshal(conn.payloads[0], &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.TaskID != "T1" || decoded.Agent != "alpha" || len(decoded.Unblocked) != 1 {
		t.Errorf("decoded = %+v", decoded)
	}

	conn.err = errors.New("disconnected")
	if err := s.Publish(context.Background(), e); err == nil {
		t.Error("expected publish error")
	}
	_ = s.Close()
	if !conn.closed {
		t.Error("connection not closed")
	}
}

func TestNATSSinkDefaultPrefix(t *testing.T) {
	s := newNATSSink(&fakeConn{}, "")
	if got := s.Subject(Event{Type: TypeUnblocked}); got != "taskgrid.events.task.unblocked" {
		t.Errorf("subject = %s", got)
	}
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	s := NewLogSink(logging.NewWriter(&buf, zerolog.InfoLevel))
	e := New(TypeClaimRejected, "T1", "beta", time.Now())
	e.Reason = "WRONG_AGENT"
	if err := s.Publish(context.Background(), e); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{`"type":"claim.rejected"`, `"task":"T1"`, `"reason":"WRONG_AGENT"`} {
		if !strings.Contains(out, want) {
			t.Errorf("log line missing %s: %s", want, out)
		}
	}
}

func TestMulti(t *testing.T) {
	a := &captureSink{}
	b := &captureSink{err: errors.New("b down")}
	c := &captureSink{}
	m := Multi{a, b, c}

	err := m.Publish(context.Background(), New(TypeStarted, "T1", "alpha", time.Now()))
	if err == nil {
		t.Fatal("expected joined error")
	}
	if len(a.events) != 1 || len(c.events) != 1 {
		t.Error("every sink must receive the event")
	}
	_ = m.Close()
	if !a.closed || !b.closed || !c.closed {
		t.Error("every sink must be closed")
	}
}

func TestAsyncDelivers(t *testing.T) {
	next := &captureSink{}
	a := NewAsync(next, 8, logging.Nop())
	for i := 0; i < 5; i++ {
		if err := a.Publish(context.Background(), New(TypeClaimed, "T1", "alpha", time.Now())); err != nil {
			t.Fatal(err)
		}
	}
	if err := a.Close(); err != nil {
		t.Fatal(err)
	}
	if len(next.events) != 5 || !next.closed {
		t.Fatalf("delivered %d events, closed=%v", len(next.events), next.closed)
	}
	if err := a.Publish(context.Background(), Event{}); !errors.Is(err, ErrClosed) {
		t.Errorf("publish after close: %v", err)
	}
}

func TestAsyncDropsWhenFull(t *testing.T) {
	next := &blockingSink{release: make(chan struct{})}
	a := NewAsync(next, 2, logging.Nop())

	start := time.Now()
	for i := 0; i < 10; i++ {
		_ = a.Publish(context.Background(), New(TypeClaimed, "T1", "alpha", time.Now()))
	}
	if time.Since(start) > time.Second {
		t.Fatal("publish blocked on a stalled sink")
	}
	// One event may be held by the worker, two sit in the queue.
	if d := a.Dropped(); d < 7 {
		t.Errorf("dropped = %d, want at least 7", d)
	}

	close(next.release)
	_ = a.Close()
}

func TestHooksPublishRegistryEvents(t *testing.T) {
	ctx := context.Background()
	sink := &captureSink{}
	r := registry.New(store.NewMemory(),
		registry.WithLogger(logging.Nop()),
		registry.WithRoster(task.MustRoster("alpha", "beta")),
		registry.WithHooks(NewHooks(sink, logging.Nop())),
	)

	if _, err := r.CreateTasks(ctx, []task.Task{
		{ID: "T1", Name: "one", Agent: "alpha", Priority: task.PriorityP0},
		{ID: "T2", Name: "two", Agent: "alpha", Priority: task.PriorityP1, Dependencies: []string{"T1"}},
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := r.ClaimTask(ctx, "T1", "beta"); err != nil {
		t.Fatal(err)
	}
	if _, err := r.ClaimTask(ctx, "T1", "alpha"); err != nil {
		t.Fatal(err)
	}
	if _, err := r.StartTask(ctx, "T1", "alpha"); err != nil {
		t.Fatal(err)
	}
	if _, err := r.CompleteTask(ctx, "T1", "alpha", nil, nil); err != nil {
		t.Fatal(err)
	}

	want := []Type{TypeClaimRejected, TypeClaimed, TypeStarted, TypeUnblocked, TypeCompleted}
	got := sink.types()
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d = %s, want %s", i, got[i], want[i])
		}
	}
	if completed := sink.events[4]; len(completed.Unblocked) != 1 || completed.Unblocked[0] != "T2" {
		t.Errorf("completed event = %+v", completed)
	}
}

func TestHooksSurviveSinkErrors(t *testing.T) {
	h := NewHooks(&captureSink{err: errors.New("down")}, logging.Nop())
	h.TaskClaimed(task.Task{ID: "T1", ClaimedBy: "alpha"})
}
