package registry

import (
	"fmt"

	"github.com/marcus/taskgrid/internal/logging"
	"github.com/marcus/taskgrid/internal/task"
)

// Hooks receives notifications after registry operations succeed (or, for
// ClaimRejected, fail). Implementations must not block; a panicking hook is
// recovered and logged, and never affects the operation's result.
type Hooks interface {
	TaskClaimed(t task.Task)
	TaskStarted(t task.Task)
	TaskCompleted(t task.Task, unblocked []string)
	TaskUnblocked(t task.Task)
	TaskReviewFlagged(t task.Task)
	ClaimRejected(taskID, agent string, reason Reason)
}

// NopHooks ignores every notification. Embed it to implement a subset.
type NopHooks struct{}

func (NopHooks) TaskClaimed(task.Task)                {}
func (NopHooks) TaskStarted(task.Task)                {}
func (NopHooks) TaskCompleted(task.Task, []string)    {}
func (NopHooks) TaskUnblocked(task.Task)              {}
func (NopHooks) TaskReviewFlagged(task.Task)          {}
func (NopHooks) ClaimRejected(string, string, Reason) {}

// MultiHooks fans notifications out in order.
type MultiHooks []Hooks

func (m MultiHooks) TaskClaimed(t task.Task) {
	for _, h := range m {
		h.TaskClaimed(t)
	}
}

func (m MultiHooks) TaskStarted(t task.Task) {
	for _, h := range m {
		h.TaskStarted(t)
	}
}

func (m MultiHooks) TaskCompleted(t task.Task, unblocked []string) {
	for _, h := range m {
		h.TaskCompleted(t, unblocked)
	}
}

func (m MultiHooks) TaskUnblocked(t task.Task) {
	for _, h := range m {
		h.TaskUnblocked(t)
	}
}

func (m MultiHooks) TaskReviewFlagged(t task.Task) {
	for _, h := range m {
		h.TaskReviewFlagged(t)
	}
}

func (m MultiHooks) ClaimRejected(taskID, agent string, reason Reason) {
	for _, h := range m {
		h.ClaimRejected(taskID, agent, reason)
	}
}

// notify runs fn against the hooks, recovering any panic.
func notify(logger *logging.Logger, name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Err(fmt.Errorf("%v", r)).Str("hook", name).Msg("hook panicked")
		}
	}()
	fn()
}
