package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/marcus/taskgrid/internal/db"
	"github.com/marcus/taskgrid/internal/task"
)

const taskColumns = `seq, id, name, location, agent, status, priority, phase,
	dependencies, deliverables, acceptance_criteria, claimed_by, claimed_at,
	started_at, completed_at, files_created, velocity, estimated_hours,
	actual_minutes, review_note, created_at`

// SQLite implements Store on the taskgrid database.
type SQLite struct {
	database *db.DB
	owned    bool
	now      func() time.Time
}

// SQLiteOption configures a SQLite store.
type SQLiteOption func(*SQLite)

// WithSQLiteClock overrides the time source.
func WithSQLiteClock(now func() time.Time) SQLiteOption {
	return func(s *SQLite) {
		s.now = now
	}
}

// NewSQLite wraps an already opened database. Close does not close it.
func NewSQLite(database *db.DB, opts ...SQLiteOption) *SQLite {
	s := &SQLite{database: database, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OpenSQLite opens the database at path and returns a store that owns it.
func OpenSQLite(path string, opts ...SQLiteOption) (*SQLite, error) {
	database, err := db.Open(path)
	if err != nil {
		return nil, err
	}
	s := NewSQLite(database, opts...)
	s.owned = true
	return s, nil
}

func (s *SQLite) GetAll(ctx context.Context) ([]task.Task, error) {
	rows, err := s.database.SQL().QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}
	return out, nil
}

func (s *SQLite) GetByID(ctx context.Context, id string) (*task.Task, error) {
	row := s.database.SQL().QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (s *SQLite) Create(ctx context.Context, t task.Task) error {
	deps, err := encodeList(t.Dependencies)
	if err != nil {
		return err
	}
	deliverables, err := encodeList(t.Deliverables)
	if err != nil {
		return err
	}
	criteria, err := encodeList(t.AcceptanceCriteria)
	if err != nil {
		return err
	}
	files, err := encodeList(t.FilesCreated)
	if err != nil {
		return err
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks WHERE id = ?`, t.ID).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check task %s: %w", t.ID, err)
		}
		if exists > 0 {
			return ErrDuplicate
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO tasks (id, name, location, agent, status, priority, phase,
				dependencies, deliverables, acceptance_criteria, claimed_by, claimed_at,
				started_at, completed_at, files_created, velocity, estimated_hours,
				actual_minutes, review_note, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			t.ID, t.Name, t.Location, t.Agent, string(t.Status), string(t.Priority), t.Phase,
			deps, deliverables, criteria, t.ClaimedBy, formatTime(t.ClaimedAt),
			formatTime(t.StartedAt), formatTime(t.CompletedAt), files, nullFloat(t.Velocity),
			nullFloat(t.EstimatedHours), nullFloat(t.ActualMinutes), t.ReviewNote,
			s.now().UTC().Format(time.RFC3339Nano))
		if err != nil {
			return fmt.Errorf("insert task %s: %w", t.ID, err)
		}
		return nil
	})
}

func (s *SQLite) Claim(ctx context.Context, id, agent string) (bool, error) {
	return s.cas(ctx, id, agent, task.StatusClaimed, []task.Status{task.StatusAvailable}, false,
		func(_ rowState, now time.Time) (string, []any) {
			return "claimed_by = ?, claimed_at = ?", []any{agent, now.Format(time.RFC3339Nano)}
		})
}

func (s *SQLite) Start(ctx context.Context, id, agent string) (bool, error) {
	return s.cas(ctx, id, agent, task.StatusInProgress, []task.Status{task.StatusClaimed}, true,
		func(_ rowState, now time.Time) (string, []any) {
			return "started_at = ?", []any{now.Format(time.RFC3339Nano)}
		})
}

func (s *SQLite) Complete(ctx context.Context, id, agent string, filesCreated []string, velocity *float64) (bool, error) {
	files, err := encodeList(filesCreated)
	if err != nil {
		return false, err
	}
	return s.cas(ctx, id, agent, task.StatusComplete, []task.Status{task.StatusClaimed, task.StatusInProgress}, true,
		func(st rowState, now time.Time) (string, []any) {
			minutes := workedMinutes(st.claimedAt, st.startedAt, now)
			v := velocity
			if v == nil {
				v = derivedVelocity(st.estimatedHours, minutes)
			}
			set := "completed_at = ?, actual_minutes = ?, velocity = ?"
			args := []any{now.Format(time.RFC3339Nano), minutes, nullFloat(v)}
			if len(filesCreated) > 0 {
				set += ", files_created = ?"
				args = append(args, files)
			}
			return set, args
		})
}

func (s *SQLite) Review(ctx context.Context, id, agent, note string) (bool, error) {
	return s.cas(ctx, id, agent, task.StatusNeedsReview, []task.Status{task.StatusClaimed, task.StatusInProgress}, true,
		func(rowState, time.Time) (string, []any) {
			return "review_note = ?", []any{note}
		})
}

func (s *SQLite) SetStatus(ctx context.Context, id string, status task.Status, actor string) (bool, error) {
	return s.cas(ctx, id, actor, status, predecessors(status), false, nil)
}

func (s *SQLite) History(ctx context.Context, id string) ([]Transition, error) {
	rows, err := s.database.SQL().QueryContext(ctx,
		`SELECT task_id, from_status, to_status, actor, at FROM task_events WHERE task_id = ? ORDER BY id ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Transition
	for rows.Next() {
		var (
			tr       Transition
			from, to string
			at       string
		)
		if err := rows.Scan(&tr.TaskID, &from, &to, &tr.Actor, &at); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		tr.From, tr.To = task.Status(from), task.Status(to)
		parsed, err := time.Parse(time.RFC3339Nano, at)
		if err != nil {
			return nil, fmt.Errorf("parse history time %q: %w", at, err)
		}
		tr.At = parsed
		out = append(out, tr)
	}
	return out, rows.Err()
}

// Close closes the database when the store opened it.
func (s *SQLite) Close() error {
	if s.owned {
		return s.database.Close()
	}
	return nil
}

type rowState struct {
	status         task.Status
	claimedBy      string
	claimedAt      *time.Time
	startedAt      *time.Time
	estimatedHours *float64
}

// cas runs the conditional update inside one IMMEDIATE transaction. The
// UPDATE's WHERE clause is the authoritative precondition; the preceding read
// only gathers the values derived fields need.
func (s *SQLite) cas(ctx context.Context, id, actor string, to task.Status, from []task.Status, holderOnly bool,
	build func(rowState, time.Time) (string, []any)) (bool, error) {
	if len(from) == 0 {
		return false, nil
	}

	applied := false
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		st, found, err := loadRowState(ctx, tx, id)
		if err != nil || !found {
			return err
		}

		now := s.now().UTC()
		var (
			set  string
			args []any
		)
		if build != nil {
			set, args = build(st, now)
		}

		q := strings.Builder{}
		q.WriteString("UPDATE tasks SET status = ?")
		params := []any{string(to)}
		if set != "" {
			q.WriteString(", " + set)
			params = append(params, args...)
		}
		q.WriteString(" WHERE id = ? AND status IN (" + placeholders(len(from)) + ")")
		params = append(params, id)
		for _, f := range from {
			params = append(params, string(f))
		}
		if holderOnly {
			q.WriteString(" AND claimed_by = ?")
			params = append(params, actor)
		}

		res, err := tx.ExecContext(ctx, q.String(), params...)
		if err != nil {
			return fmt.Errorf("update task %s to %s: %w", id, to, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected for %s: %w", id, err)
		}
		if affected != 1 {
			return nil
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO task_events (task_id, from_status, to_status, actor, at) VALUES (?, ?, ?, ?, ?)`,
			id, string(st.status), string(to), actor, now.Format(time.RFC3339Nano)); err != nil {
			return fmt.Errorf("record transition for %s: %w", id, err)
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

func (s *SQLite) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.database.SQL().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func loadRowState(ctx context.Context, tx *sql.Tx, id string) (rowState, bool, error) {
	var (
		st                   rowState
		status               string
		claimedAt, startedAt sql.NullString
		hours                sql.NullFloat64
	)
	err := tx.QueryRowContext(ctx,
		`SELECT status, claimed_by, claimed_at, started_at, estimated_hours FROM tasks WHERE id = ?`, id).
		Scan(&status, &st.claimedBy, &claimedAt, &startedAt, &hours)
	if err == sql.ErrNoRows {
		return rowState{}, false, nil
	}
	if err != nil {
		return rowState{}, false, fmt.Errorf("load task %s: %w", id, err)
	}
	st.status = task.Status(status)
	if st.claimedAt, err = parseTime(claimedAt); err != nil {
		return rowState{}, false, err
	}
	if st.startedAt, err = parseTime(startedAt); err != nil {
		return rowState{}, false, err
	}
	if hours.Valid {
		h := hours.Float64
		st.estimatedHours = &h
	}
	return st, true, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(sc scanner) (*task.Task, error) {
	var (
		t                                   task.Task
		status, priority                    string
		deps, deliverables, criteria, files string
		claimedAt, startedAt, completedAt   sql.NullString
		velocity, estimatedHours, actualMin sql.NullFloat64
		createdAt                           string
	)
	err := sc.Scan(&t.Seq, &t.ID, &t.Name, &t.Location, &t.Agent, &status, &priority, &t.Phase,
		&deps, &deliverables, &criteria, &t.ClaimedBy, &claimedAt,
		&startedAt, &completedAt, &files, &velocity, &estimatedHours,
		&actualMin, &t.ReviewNote, &createdAt)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan task: %w", err)
	}

	t.Status = task.Status(status)
	t.Priority = task.Priority(priority)

	lists := []struct {
		raw string
		dst *[]string
	}{
		{deps, &t.Dependencies},
		{deliverables, &t.Deliverables},
		{criteria, &t.AcceptanceCriteria},
		{files, &t.FilesCreated},
	}
	for _, l := range lists {
		if *l.dst, err = decodeList(l.raw); err != nil {
			return nil, fmt.Errorf("task %s: %w", t.ID, err)
		}
	}

	times := []struct {
		raw sql.NullString
		dst **time.Time
	}{
		{claimedAt, &t.ClaimedAt},
		{startedAt, &t.StartedAt},
		{completedAt, &t.CompletedAt},
	}
	for _, tm := range times {
		if *tm.dst, err = parseTime(tm.raw); err != nil {
			return nil, fmt.Errorf("task %s: %w", t.ID, err)
		}
	}
	created, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("task %s: parse created_at: %w", t.ID, err)
	}
	t.CreatedAt = created

	t.Velocity = floatPtr(velocity)
	t.EstimatedHours = floatPtr(estimatedHours)
	t.ActualMinutes = floatPtr(actualMin)
	return &t, nil
}

func encodeList(items []string) (string, error) {
	if items == nil {
		items = []string{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return "", fmt.Errorf("encode list: %w", err)
	}
	return string(data), nil
}

func decodeList(raw string) ([]string, error) {
	if raw == "" {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("decode list %q: %w", raw, err)
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

func formatTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, ns.String)
	if err != nil {
		return nil, fmt.Errorf("parse time %q: %w", ns.String, err)
	}
	return &t, nil
}

func nullFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func floatPtr(nf sql.NullFloat64) *float64 {
	if !nf.Valid {
		return nil
	}
	v := nf.Float64
	return &v
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
