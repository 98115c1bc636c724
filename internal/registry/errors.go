package registry

import (
	"errors"
	"fmt"

	"github.com/marcus/taskgrid/internal/task"
)

// Kind sentinels. Every *Error unwraps to exactly one of these, so callers can
// branch with errors.Is(err, registry.ErrStateConflict).
var (
	ErrValidation    = errors.New("validation error")
	ErrNotFound      = errors.New("not found")
	ErrAuthorization = errors.New("authorization error")
	ErrStateConflict = errors.New("state conflict")
	ErrDependency    = errors.New("dependency error")
	ErrStore         = errors.New("store error")
)

// Kind names the error category in serialized results.
type Kind string

const (
	KindValidation    Kind = "ValidationError"
	KindNotFound      Kind = "NotFoundError"
	KindAuthorization Kind = "AuthorizationError"
	KindStateConflict Kind = "StateConflictError"
	KindDependency    Kind = "DependencyError"
	KindStore         Kind = "StoreError"
)

// Reason is the specific rule that rejected an operation.
type Reason string

const (
	ReasonInvalidInput            Reason = "INVALID_INPUT"
	ReasonNotFound                Reason = "NOT_FOUND"
	ReasonWrongAgent              Reason = "WRONG_AGENT"
	ReasonWrongStatus             Reason = "WRONG_STATUS"
	ReasonDependenciesUnsatisfied Reason = "DEPENDENCIES_UNSATISFIED"
	ReasonRaceLost                Reason = "RACE_LOST"
	ReasonCorruptRecord           Reason = "CORRUPT_RECORD"
	ReasonUnavailable             Reason = "UNAVAILABLE"
)

var kindSentinels = map[Kind]error{
	KindValidation:    ErrValidation,
	KindNotFound:      ErrNotFound,
	KindAuthorization: ErrAuthorization,
	KindStateConflict: ErrStateConflict,
	KindDependency:    ErrDependency,
	KindStore:         ErrStore,
}

// Error is a typed business-rule rejection.
type Error struct {
	Kind         Kind     `json:"kind"`
	Reason       Reason   `json:"reason"`
	TaskID       string   `json:"taskId,omitempty"`
	Field        string   `json:"field,omitempty"`
	Message      string   `json:"message"`
	BlockingDeps []string `json:"blockingDeps,omitempty"`

	cause error
}

func (e *Error) Error() string {
	if e.TaskID != "" {
		return fmt.Sprintf("%s: %s (task %s): %s", e.Kind, e.Reason, e.TaskID, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Kind, e.Reason, e.Message)
}

// Unwrap returns the kind sentinel and, for store errors, the underlying
// failure.
func (e *Error) Unwrap() []error {
	errs := []error{kindSentinels[e.Kind]}
	if e.cause != nil {
		errs = append(errs, e.cause)
	}
	return errs
}

func newError(kind Kind, reason Reason, taskID, format string, args ...any) *Error {
	return &Error{Kind: kind, Reason: reason, TaskID: taskID, Message: fmt.Sprintf(format, args...)}
}

func invalidInput(taskID string, err error) *Error {
	e := newError(KindValidation, ReasonInvalidInput, taskID, "%v", err)
	e.cause = err
	return e
}

// storeError wraps a persistence failure. It is returned through the Go error
// path, never inside a Result.
func storeError(op, taskID string, err error) error {
	e := newError(KindStore, ReasonUnavailable, taskID, "%s: %v", op, err)
	e.cause = err
	return e
}

// corruptRecord reports a stored row that fails validation, e.g. one assigned
// to an agent since removed from the roster. Every snapshot read fails until
// the row or the roster is fixed, so the error names both the row and field.
func corruptRecord(taskID string, err error) error {
	e := newError(KindStore, ReasonCorruptRecord, taskID, "invalid persisted record %s: %v", taskID, err)
	var fe *task.FieldError
	if errors.As(err, &fe) {
		e.Field = fe.Field
	}
	e.cause = err
	return e
}
