package manifest

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/marcus/taskgrid/internal/task"
)

const sample = `
version: "1"
swarms:
  - name: backend
    agents: [alpha, beta]
    optimal_tasks_per_agent: 2
tasks:
  - id: api-schema
    name: Define API schema
    agent: alpha
    priority: p0
    phase: design
    estimated_hours: 3
    deliverables: [schema.sql]
    acceptance_criteria: [reviewed]
  - id: api-handlers
    name: Implement handlers
    agent: beta
    dependencies: [api-schema]
`

var roster = task.MustRoster("alpha", "beta")

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.yaml")
	if err := os.WriteFile(path, []byte(sample), 0644); err != nil {
		t.Fatal(err)
	}

	m, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := m.Validate(roster); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if len(m.Swarms) != 1 || m.Swarms[0].OptimalTasksPerAgent != 2 {
		t.Errorf("swarms = %+v", m.Swarms)
	}

	tasks := m.TaskList()
	if len(tasks) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(tasks))
	}
	schema := tasks[0]
	if schema.Priority != task.PriorityP0 || schema.Hours() != 3 || schema.Phase != "design" {
		t.Errorf("schema task = %+v", schema)
	}
	if len(schema.Deliverables) != 1 || len(schema.AcceptanceCriteria) != 1 {
		t.Errorf("lists not decoded: %+v", schema)
	}
	handlers := tasks[1]
	if handlers.Priority != task.PriorityP1 {
		t.Errorf("default priority = %s, want P1", handlers.Priority)
	}
	if len(handlers.Dependencies) != 1 || handlers.Dependencies[0] != "api-schema" {
		t.Errorf("dependencies = %v", handlers.Dependencies)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	_, err := Parse(strings.NewReader("tasks:\n  - id: T1\n    name: x\n    agent: alpha\n    status: COMPLETE\n"))
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid for runtime field, got %v", err)
	}
}

func TestParseEmpty(t *testing.T) {
	m, err := Parse(strings.NewReader(""))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(m.Tasks) != 0 {
		t.Errorf("expected no tasks, got %d", len(m.Tasks))
	}
}

func TestValidateCollectsProblems(t *testing.T) {
	doc := `
swarms:
  - name: s
    agents: [zed]
    optimal_tasks_per_agent: 1
tasks:
  - id: T1
    name: one
    agent: alpha
  - id: T1
    name: again
    agent: alpha
  - id: T2
    name: bad agent
    agent: mallory
  - id: T3
    name: negative
    agent: beta
    estimated_hours: -2
`
	m, err := Parse(strings.NewReader(doc))
	if err != nil {
		t.Fatal(err)
	}
	err = m.Validate(roster)
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
	if !errors.Is(err, task.ErrInvalid) {
		t.Errorf("task schema errors should stay inspectable: %v", err)
	}
	for _, want := range []string{"duplicate id T1", "mallory", "estimatedHours", "swarms[0]"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error missing %q: %v", want, err)
		}
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error")
	}
}
