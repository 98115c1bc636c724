package events

import (
	"context"
	"time"

	"github.com/marcus/taskgrid/internal/logging"
	"github.com/marcus/taskgrid/internal/registry"
	"github.com/marcus/taskgrid/internal/task"
)

// Hooks turns registry notifications into events on a sink. Sink errors are
// logged and dropped.
type Hooks struct {
	sink   Sink
	logger *logging.Logger
	now    func() time.Time
}

var _ registry.Hooks = (*Hooks)(nil)

// NewHooks creates a registry hook set publishing to sink. Wrap slow sinks
// in NewAsync first; the hooks call Publish inline.
func NewHooks(sink Sink, l *logging.Logger) *Hooks {
	return &Hooks{sink: sink, logger: l, now: time.Now}
}

func (h *Hooks) TaskClaimed(t task.Task) {
	h.publish(New(TypeClaimed, t.ID, t.ClaimedBy, h.now()))
}

func (h *Hooks) TaskStarted(t task.Task) {
	h.publish(New(TypeStarted, t.ID, t.ClaimedBy, h.now()))
}

func (h *Hooks) TaskCompleted(t task.Task, unblocked []string) {
	e := New(TypeCompleted, t.ID, t.ClaimedBy, h.now())
	e.Unblocked = append([]string(nil), unblocked...)
	h.publish(e)
}

func (h *Hooks) TaskUnblocked(t task.Task) {
	h.publish(New(TypeUnblocked, t.ID, t.Agent, h.now()))
}

func (h *Hooks) TaskReviewFlagged(t task.Task) {
	e := New(TypeReviewFlagged, t.ID, t.ClaimedBy, h.now())
	e.Reason = t.ReviewNote
	h.publish(e)
}

func (h *Hooks) ClaimRejected(taskID, agent string, reason registry.Reason) {
	e := New(TypeClaimRejected, taskID, agent, h.now())
	e.Reason = string(reason)
	h.publish(e)
}

func (h *Hooks) publish(e Event) {
	if err := h.sink.Publish(context.Background(), e); err != nil {
		h.logger.Err(err).Str("type", string(e.Type)).Str("task", e.TaskID).Msg("publishing event")
	}
}
