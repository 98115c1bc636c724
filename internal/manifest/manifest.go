// Package manifest reads task definitions from YAML files.
//
// A manifest lists tasks and, optionally, swarms:
//
//	swarms:
//	  - name: backend
//	    agents: [alpha, beta]
//	    optimal_tasks_per_agent: 2
//	tasks:
//	  - id: api-schema
//	    name: Define API schema
//	    agent: alpha
//	    priority: P0
//	    estimated_hours: 3
//	  - id: api-handlers
//	    name: Implement handlers
//	    agent: beta
//	    dependencies: [api-schema]
package manifest

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/marcus/taskgrid/internal/swarm"
	"github.com/marcus/taskgrid/internal/task"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid manifest")

// Manifest is a parsed task file.
type Manifest struct {
	Version string        `yaml:"version,omitempty"`
	Swarms  []swarm.Swarm `yaml:"swarms,omitempty"`
	Tasks   []TaskEntry   `yaml:"tasks"`
}

// TaskEntry is the authored form of a task. Runtime fields are not accepted.
type TaskEntry struct {
	ID                 string   `yaml:"id"`
	Name               string   `yaml:"name"`
	Location           string   `yaml:"location,omitempty"`
	Agent              string   `yaml:"agent"`
	Priority           string   `yaml:"priority,omitempty"`
	Phase              string   `yaml:"phase,omitempty"`
	Dependencies       []string `yaml:"dependencies,omitempty"`
	Deliverables       []string `yaml:"deliverables,omitempty"`
	AcceptanceCriteria []string `yaml:"acceptance_criteria,omitempty"`
	EstimatedHours     *float64 `yaml:"estimated_hours,omitempty"`
}

// Task converts the entry into a new task record. Priority defaults to P1.
func (e TaskEntry) Task() task.Task {
	p := task.Priority(strings.ToUpper(strings.TrimSpace(e.Priority)))
	if p == "" {
		p = task.PriorityP1
	}
	t := task.Task{
		ID:                 strings.TrimSpace(e.ID),
		Name:               strings.TrimSpace(e.Name),
		Location:           e.Location,
		Agent:              strings.TrimSpace(e.Agent),
		Status:             task.StatusBlocked,
		Priority:           p,
		Phase:              e.Phase,
		Dependencies:       append([]string(nil), e.Dependencies...),
		Deliverables:       append([]string(nil), e.Deliverables...),
		AcceptanceCriteria: append([]string(nil), e.AcceptanceCriteria...),
	}
	if e.EstimatedHours != nil {
		t.EstimatedHours = task.Float(*e.EstimatedHours)
	}
	return t
}

// Load reads and parses the manifest at path.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	m, err := Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// Parse decodes a manifest. Unknown keys are rejected so typos surface
// instead of silently dropping fields.
func Parse(r io.Reader) (*Manifest, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var m Manifest
	if err := dec.Decode(&m); err != nil {
		if errors.Is(err, io.EOF) {
			return &m, nil
		}
		return nil, fmt.Errorf("%w: decode: %v", ErrInvalid, err)
	}
	return &m, nil
}

// TaskList converts every entry in declaration order.
func (m *Manifest) TaskList() []task.Task {
	out := make([]task.Task, 0, len(m.Tasks))
	for _, e := range m.Tasks {
		out = append(out, e.Task())
	}
	return out
}

// Validate checks every task and swarm against roster. All problems are
// reported together.
func (m *Manifest) Validate(roster task.Roster) error {
	var errs []error
	seen := make(map[string]bool, len(m.Tasks))
	for i, e := range m.Tasks {
		t := e.Task()
		if err := t.Validate(roster); err != nil {
			errs = append(errs, fmt.Errorf("tasks[%d] (%s): %w", i, t.ID, err))
			continue
		}
		if seen[t.ID] {
			errs = append(errs, fmt.Errorf("tasks[%d]: duplicate id %s", i, t.ID))
		}
		seen[t.ID] = true
	}

	names := make(map[string]bool, len(m.Swarms))
	for i, s := range m.Swarms {
		if err := s.Validate(roster); err != nil {
			errs = append(errs, fmt.Errorf("swarms[%d]: %w", i, err))
			continue
		}
		if names[s.Name] {
			errs = append(errs, fmt.Errorf("swarms[%d]: duplicate swarm %s", i, s.Name))
		}
		names[s.Name] = true
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}
