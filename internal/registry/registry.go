// Package registry is the coordination facade agents talk to. It composes a
// store.Store with the resolver's graph checks and enforces ownership and the
// task state machine.
//
// The registry holds no mutable state of its own. Every call reads a fresh
// snapshot from the store, and mutual exclusion comes from the store's
// conditional updates alone. A lost race is reported, never retried.
//
// Mutating operations return a Result whose Error field carries business-rule
// rejections; their Go error is reserved for store failures. Queries return
// (value, error) where error is a *Error for invalid input and a store error
// otherwise.
package registry

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/marcus/taskgrid/internal/logging"
	"github.com/marcus/taskgrid/internal/resolver"
	"github.com/marcus/taskgrid/internal/store"
	"github.com/marcus/taskgrid/internal/task"
)

// DefaultAgents is the roster used when none is configured.
var DefaultAgents = []string{"alpha", "beta", "gamma", "delta"}

// Registry is the public task coordination facade.
type Registry struct {
	store  store.Store
	logger *logging.Logger
	hooks  Hooks
	roster task.Roster
	now    func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(r *Registry) {
		r.logger = l
	}
}

// WithHooks installs notification hooks.
func WithHooks(h Hooks) Option {
	return func(r *Registry) {
		if h != nil {
			r.hooks = h
		}
	}
}

// WithRoster sets the accepted agent identifiers.
func WithRoster(roster task.Roster) Option {
	return func(r *Registry) {
		r.roster = roster
	}
}

// WithClock overrides the time source used for scoring and forecasts.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// New creates a registry over s.
func New(s store.Store, opts ...Option) *Registry {
	r := &Registry{
		store:  s,
		logger: logging.Component("registry"),
		hooks:  NopHooks{},
		roster: task.MustRoster(DefaultAgents...),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Roster returns the accepted agent identifiers.
func (r *Registry) Roster() task.Roster {
	return r.roster
}

// Initialize loads the task graph, reports any cycles and the critical path,
// and promotes BLOCKED tasks whose dependencies are already complete (left
// over if a previous completion was interrupted before its unblock pass).
func (r *Registry) Initialize(ctx context.Context) (InitReport, error) {
	m, _, err := r.snapshot(ctx)
	if err != nil {
		return InitReport{}, err
	}

	report := InitReport{
		Tasks:        len(m),
		Cycles:       resolver.DetectCycles(m),
		CriticalPath: resolver.CriticalPath(m),
	}
	for _, c := range report.Cycles {
		r.logger.Zerolog().Warn().Str("cycle", c.String()).Msg("circular dependency detected")
	}
	r.logger.Zerolog().Info().
		Int("tasks", report.Tasks).
		Strs("critical_path", report.CriticalPath.IDs).
		Float64("critical_hours", report.CriticalPath.Hours).
		Msg("task graph loaded")

	for _, t := range resolver.FindTasksToUnblock("", m) {
		if err := r.unblock(ctx, t.ID, "registry"); err != nil {
			return report, err
		}
	}
	return report, nil
}

// AvailableTasks returns the tasks agent may claim right now, best first:
// readiness score descending, then priority, then creation order.
func (r *Registry) AvailableTasks(ctx context.Context, agent string) ([]task.Task, error) {
	if err := r.roster.ValidateAgent("agent", agent); err != nil {
		return nil, invalidInput("", err)
	}
	m, _, err := r.snapshot(ctx)
	if err != nil {
		return nil, err
	}

	type scored struct {
		t     *task.Task
		score float64
	}
	now := r.now()
	var candidates []scored
	for _, t := range m {
		if t.Agent != agent || t.Status != task.StatusAvailable {
			continue
		}
		if !resolver.AreDependenciesSatisfied(t, m).Satisfied {
			continue
		}
		candidates = append(candidates, scored{t: t, score: resolver.ReadinessScore(t, m, now)})
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if a.t.Priority.Rank() != b.t.Priority.Rank() {
			return a.t.Priority.Rank() < b.t.Priority.Rank()
		}
		if a.t.Seq != b.t.Seq {
			return a.t.Seq < b.t.Seq
		}
		return a.t.ID < b.t.ID
	})

	out := make([]task.Task, len(candidates))
	for i, c := range candidates {
		out[i] = *c.t
	}
	return out, nil
}

// ClaimTask acquires id for agent. Checks run in order: existence, ownership,
// status, dependencies; only then is the store's conditional claim issued.
func (r *Registry) ClaimTask(ctx context.Context, id, agent string) (Result, error) {
	if e := r.validateRef(id, agent); e != nil {
		return r.rejectClaim(id, agent, e), nil
	}

	m, _, err := r.snapshot(ctx)
	if err != nil {
		return Result{}, err
	}
	t, found := m[id]
	if !found {
		return r.rejectClaim(id, agent, newError(KindNotFound, ReasonNotFound, id, "no such task")), nil
	}
	if t.Agent != agent {
		return r.rejectClaim(id, agent, newError(KindAuthorization, ReasonWrongAgent, id,
			"task belongs to %s, not %s", t.Agent, agent)), nil
	}
	if t.Status != task.StatusAvailable {
		return r.rejectClaim(id, agent, newError(KindStateConflict, ReasonWrongStatus, id,
			"task is %s, expected %s", t.Status, task.StatusAvailable)), nil
	}
	if sat := resolver.AreDependenciesSatisfied(t, m); !sat.Satisfied {
		e := newError(KindDependency, ReasonDependenciesUnsatisfied, id,
			"%d dependencies not complete", len(sat.Unsatisfied))
		e.BlockingDeps = sat.Unsatisfied
		return r.rejectClaim(id, agent, e), nil
	}

	applied, err := r.store.Claim(ctx, id, agent)
	if err != nil {
		return Result{}, storeError("claim", id, err)
	}
	if !applied {
		return r.rejectClaim(id, agent, newError(KindStateConflict, ReasonRaceLost, id,
			"task was claimed concurrently")), nil
	}

	claimed, err := r.load(ctx, id)
	if err != nil {
		return Result{}, err
	}
	r.logger.Zerolog().Info().Str("task", id).Str("agent", agent).Msg("task claimed")
	notify(r.logger, "TaskClaimed", func() { r.hooks.TaskClaimed(*claimed) })
	return ok(claimed), nil
}

// StartTask marks a claimed task IN_PROGRESS for its holder.
func (r *Registry) StartTask(ctx context.Context, id, agent string) (Result, error) {
	if e := r.validateRef(id, agent); e != nil {
		return fail(e), nil
	}
	t, rejection, err := r.heldBy(ctx, id, agent, task.StatusClaimed)
	if err != nil || rejection != nil {
		return failOr(rejection), err
	}

	applied, err := r.store.Start(ctx, t.ID, agent)
	if err != nil {
		return Result{}, storeError("start", id, err)
	}
	if !applied {
		return fail(newError(KindStateConflict, ReasonRaceLost, id, "task changed concurrently")), nil
	}

	started, err := r.load(ctx, id)
	if err != nil {
		return Result{}, err
	}
	r.logger.Zerolog().Info().Str("task", id).Str("agent", agent).Msg("task started")
	notify(r.logger, "TaskStarted", func() { r.hooks.TaskStarted(*started) })
	return ok(started), nil
}

// CompleteTask finishes a held task and promotes every BLOCKED task whose
// dependencies are now all complete. Result.Unblocked lists the promoted ids.
func (r *Registry) CompleteTask(ctx context.Context, id, agent string, filesCreated []string, velocity *float64) (Result, error) {
	if e := r.validateRef(id, agent); e != nil {
		return fail(e), nil
	}
	if err := task.ValidateList("filesCreated", filesCreated); err != nil {
		return fail(invalidInput(id, err)), nil
	}
	if err := task.ValidateNonNegative("velocity", velocity); err != nil {
		return fail(invalidInput(id, err)), nil
	}

	_, rejection, err := r.heldBy(ctx, id, agent, task.StatusClaimed, task.StatusInProgress)
	if err != nil || rejection != nil {
		return failOr(rejection), err
	}

	applied, err := r.store.Complete(ctx, id, agent, filesCreated, velocity)
	if err != nil {
		return Result{}, storeError("complete", id, err)
	}
	if !applied {
		return fail(newError(KindStateConflict, ReasonRaceLost, id, "task changed concurrently")), nil
	}

	// Fresh snapshot: it must include this completion and any made meanwhile.
	m, _, err := r.snapshot(ctx)
	if err != nil {
		return Result{}, err
	}
	completed := m[id]
	if completed == nil {
		return Result{}, corruptRecord(id, errors.New("completed task vanished"))
	}

	unblocked := []string{}
	for _, t := range resolver.FindTasksToUnblock(id, m) {
		promoted, err := r.store.SetStatus(ctx, t.ID, task.StatusAvailable, agent)
		if err != nil {
			return Result{Success: true, Task: completed, Unblocked: unblocked}, storeError("unblock", t.ID, err)
		}
		if !promoted {
			continue
		}
		unblocked = append(unblocked, t.ID)
		u := *t
		u.Status = task.StatusAvailable
		r.logger.Zerolog().Info().Str("task", t.ID).Str("after", id).Msg("task unblocked")
		notify(r.logger, "TaskUnblocked", func() { r.hooks.TaskUnblocked(u) })
	}

	r.logger.Zerolog().Info().
		Str("task", id).
		Str("agent", agent).
		Strs("unblocked", unblocked).
		Msg("task completed")
	notify(r.logger, "TaskCompleted", func() { r.hooks.TaskCompleted(*completed, unblocked) })

	res := ok(completed)
	res.Unblocked = unblocked
	return res, nil
}

// FlagForReview moves a held task to the terminal NEEDS_REVIEW state with a
// note for the operator. Dependents stay blocked.
func (r *Registry) FlagForReview(ctx context.Context, id, agent, note string) (Result, error) {
	if e := r.validateRef(id, agent); e != nil {
		return fail(e), nil
	}
	if err := task.ValidateList("note", []string{note}); err != nil {
		return fail(invalidInput(id, err)), nil
	}

	_, rejection, err := r.heldBy(ctx, id, agent, task.StatusClaimed, task.StatusInProgress)
	if err != nil || rejection != nil {
		return failOr(rejection), err
	}

	applied, err := r.store.Review(ctx, id, agent, note)
	if err != nil {
		return Result{}, storeError("review", id, err)
	}
	if !applied {
		return fail(newError(KindStateConflict, ReasonRaceLost, id, "task changed concurrently")), nil
	}

	flagged, err := r.load(ctx, id)
	if err != nil {
		return Result{}, err
	}
	r.logger.Zerolog().Warn().Str("task", id).Str("agent", agent).Str("note", note).Msg("task flagged for review")
	notify(r.logger, "TaskReviewFlagged", func() { r.hooks.TaskReviewFlagged(*flagged) })
	return ok(flagged), nil
}

// Task looks up a single task.
func (r *Registry) Task(ctx context.Context, id string) (Result, error) {
	if err := task.ValidateID(id); err != nil {
		return fail(invalidInput(id, err)), nil
	}
	t, err := r.load(ctx, id)
	if err != nil {
		return Result{}, err
	}
	if t == nil {
		return fail(newError(KindNotFound, ReasonNotFound, id, "no such task")), nil
	}
	return ok(t), nil
}

// Tasks returns every task in creation order.
func (r *Registry) Tasks(ctx context.Context) ([]task.Task, error) {
	_, all, err := r.snapshot(ctx)
	return all, err
}

// Cycles reports the dependency cycles in the current graph.
func (r *Registry) Cycles(ctx context.Context) ([]resolver.Cycle, error) {
	m, _, err := r.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return resolver.DetectCycles(m), nil
}

// CriticalPath returns the longest chain by estimated hours.
func (r *Registry) CriticalPath(ctx context.Context) (resolver.Path, error) {
	m, _, err := r.snapshot(ctx)
	if err != nil {
		return resolver.Path{}, err
	}
	return resolver.CriticalPath(m), nil
}

// Order returns the tasks in dependency order, plus those no order can place.
func (r *Registry) Order(ctx context.Context) (GraphOrder, error) {
	m, _, err := r.snapshot(ctx)
	if err != nil {
		return GraphOrder{}, err
	}
	order, stuck := resolver.TopologicalOrder(m)
	cycles := resolver.DetectCycles(m)
	out := GraphOrder{Order: order, Stuck: stuck, Cycles: cycles}
	if out.Order == nil {
		out.Order = []string{}
	}
	if out.Stuck == nil {
		out.Stuck = []string{}
	}
	if len(cycles) > 0 {
		out.InCycle = resolver.CycleMembers(cycles)
	}
	return out, nil
}

// History returns the recorded status transitions of id.
func (r *Registry) History(ctx context.Context, id string) ([]store.Transition, error) {
	if err := task.ValidateID(id); err != nil {
		return nil, invalidInput(id, err)
	}
	h, err := r.store.History(ctx, id)
	if err != nil {
		return nil, storeError("history", id, err)
	}
	return h, nil
}

// validateRef rejects malformed ids and unknown agents before the store is
// touched.
func (r *Registry) validateRef(id, agent string) *Error {
	if err := task.ValidateID(id); err != nil {
		return invalidInput(id, err)
	}
	if err := r.roster.ValidateAgent("agent", agent); err != nil {
		return invalidInput(id, err)
	}
	return nil
}

// heldBy loads id and checks it exists, belongs to agent and is in one of
// the given statuses.
func (r *Registry) heldBy(ctx context.Context, id, agent string, statuses ...task.Status) (*task.Task, *Error, error) {
	t, err := r.load(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if t == nil {
		return nil, newError(KindNotFound, ReasonNotFound, id, "no such task"), nil
	}
	if t.Agent != agent || (t.ClaimedBy != "" && t.ClaimedBy != agent) {
		return nil, newError(KindAuthorization, ReasonWrongAgent, id, "task is not held by %s", agent), nil
	}
	for _, s := range statuses {
		if t.Status == s {
			return t, nil, nil
		}
	}
	return nil, newError(KindStateConflict, ReasonWrongStatus, id, "task is %s", t.Status), nil
}

func (r *Registry) rejectClaim(id, agent string, e *Error) Result {
	r.logger.Zerolog().Debug().
		Str("task", id).
		Str("agent", agent).
		Str("reason", string(e.Reason)).
		Msg("claim rejected")
	notify(r.logger, "ClaimRejected", func() { r.hooks.ClaimRejected(id, agent, e.Reason) })
	return fail(e)
}

func (r *Registry) unblock(ctx context.Context, id, actor string) error {
	promoted, err := r.store.SetStatus(ctx, id, task.StatusAvailable, actor)
	if err != nil {
		return storeError("unblock", id, err)
	}
	if promoted {
		r.logger.Zerolog().Info().Str("task", id).Msg("task unblocked")
		t, err := r.load(ctx, id)
		if err != nil {
			return err
		}
		if t != nil {
			notify(r.logger, "TaskUnblocked", func() { r.hooks.TaskUnblocked(*t) })
		}
	}
	return nil
}

// snapshot reads and validates every task. It returns the indexed snapshot
// and the tasks in creation order.
func (r *Registry) snapshot(ctx context.Context) (map[string]*task.Task, []task.Task, error) {
	all, err := r.store.GetAll(ctx)
	if err != nil {
		return nil, nil, storeError("read tasks", "", err)
	}
	for i := range all {
		if err := all[i].Validate(r.roster); err != nil {
			return nil, nil, corruptRecord(all[i].ID, err)
		}
	}
	return task.Snapshot(all), all, nil
}

// load reads and validates one task. A missing task is (nil, nil).
func (r *Registry) load(ctx context.Context, id string) (*task.Task, error) {
	t, err := r.store.GetByID(ctx, id)
	if err != nil {
		return nil, storeError("read task", id, err)
	}
	if t == nil {
		return nil, nil
	}
	if err := t.Validate(r.roster); err != nil {
		return nil, corruptRecord(id, err)
	}
	return t, nil
}

func failOr(e *Error) Result {
	if e == nil {
		return Result{}
	}
	return fail(e)
}
