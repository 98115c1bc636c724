package task

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
)

// ErrInvalid is wrapped by every schema violation.
var ErrInvalid = errors.New("invalid task")

var idPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,63}$`)

// FieldError reports a single schema violation.
type FieldError struct {
	Field string
	Msg   string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Msg)
}

func (e *FieldError) Unwrap() error { return ErrInvalid }

func fieldErr(field, format string, args ...any) error {
	return &FieldError{Field: field, Msg: fmt.Sprintf(format, args...)}
}

// ValidateID checks the shape of a task id.
func ValidateID(id string) error {
	if !idPattern.MatchString(id) {
		return fieldErr("id", "malformed id %q", id)
	}
	return nil
}

// ValidateNonNegative checks an optional numeric field.
func ValidateNonNegative(field string, v *float64) error {
	if v == nil {
		return nil
	}
	if math.IsNaN(*v) || math.IsInf(*v, 0) || *v < 0 {
		return fieldErr(field, "must be a finite number >= 0, got %v", *v)
	}
	return nil
}

// ValidateList rejects empty entries in list-valued fields.
func ValidateList(field string, items []string) error {
	for i, item := range items {
		if strings.TrimSpace(item) == "" {
			return fieldErr(field, "entry %d is empty", i)
		}
	}
	return nil
}

// Roster is the fixed set of agent identifiers the engine accepts.
type Roster struct {
	ordered []string
	set     map[string]struct{}
}

// NewRoster builds a roster. Identifiers share the task id shape and must be
// unique.
func NewRoster(agents ...string) (Roster, error) {
	r := Roster{set: make(map[string]struct{}, len(agents))}
	for _, a := range agents {
		if !idPattern.MatchString(a) {
			return Roster{}, fieldErr("agent", "malformed agent id %q", a)
		}
		if _, dup := r.set[a]; dup {
			return Roster{}, fieldErr("agent", "duplicate agent id %q", a)
		}
		r.set[a] = struct{}{}
		r.ordered = append(r.ordered, a)
	}
	return r, nil
}

// MustRoster is NewRoster that panics on error. Intended for tests and
// static defaults.
func MustRoster(agents ...string) Roster {
	r, err := NewRoster(agents...)
	if err != nil {
		panic(err)
	}
	return r
}

// Contains reports whether agent is on the roster.
func (r Roster) Contains(agent string) bool {
	_, ok := r.set[agent]
	return ok
}

// Agents returns the roster in declaration order.
func (r Roster) Agents() []string {
	out := make([]string, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// Len returns the number of agents.
func (r Roster) Len() int { return len(r.ordered) }

// ValidateAgent checks that agent is a known identifier.
func (r Roster) ValidateAgent(field, agent string) error {
	if agent == "" {
		return fieldErr(field, "agent is required")
	}
	if !r.Contains(agent) {
		known := r.Agents()
		sort.Strings(known)
		return fieldErr(field, "unknown agent %q (known: %s)", agent, strings.Join(known, ", "))
	}
	return nil
}

// Validate checks a task against the persisted schema. It is applied both
// to new tasks and to records read back from storage.
func (t *Task) Validate(r Roster) error {
	if t == nil {
		return fieldErr("task", "nil task")
	}
	if err := ValidateID(t.ID); err != nil {
		return err
	}
	if strings.TrimSpace(t.Name) == "" {
		return fieldErr("name", "task %s has no name", t.ID)
	}
	if err := r.ValidateAgent("agent", t.Agent); err != nil {
		return err
	}
	if !t.Status.Valid() {
		return fieldErr("status", "unknown status %q", t.Status)
	}
	if !t.Priority.Valid() {
		return fieldErr("priority", "unknown priority %q", t.Priority)
	}
	if t.Phase != "" && !idPattern.MatchString(t.Phase) {
		return fieldErr("phase", "malformed phase %q", t.Phase)
	}

	seen := make(map[string]struct{}, len(t.Dependencies))
	for _, dep := range t.Dependencies {
		if err := ValidateID(dep); err != nil {
			return fieldErr("dependencies", "malformed dependency %q", dep)
		}
		if _, dup := seen[dep]; dup {
			return fieldErr("dependencies", "duplicate dependency %q", dep)
		}
		seen[dep] = struct{}{}
	}

	lists := []struct {
		field string
		items []string
	}{
		{"deliverables", t.Deliverables},
		{"acceptanceCriteria", t.AcceptanceCriteria},
		{"filesCreated", t.FilesCreated},
	}
	for _, l := range lists {
		if err := ValidateList(l.field, l.items); err != nil {
			return err
		}
	}

	numbers := []struct {
		field string
		v     *float64
	}{
		{"velocity", t.Velocity},
		{"estimatedHours", t.EstimatedHours},
		{"actualMinutes", t.ActualMinutes},
	}
	for _, n := range numbers {
		if err := ValidateNonNegative(n.field, n.v); err != nil {
			return err
		}
	}

	if t.ClaimedBy != "" {
		if err := r.ValidateAgent("claimedBy", t.ClaimedBy); err != nil {
			return err
		}
	}
	if (t.Status.IsHeld() || t.Status == StatusComplete) && t.ClaimedBy == "" {
		return fieldErr("claimedBy", "task %s is %s without a claim holder", t.ID, t.Status)
	}
	return nil
}
