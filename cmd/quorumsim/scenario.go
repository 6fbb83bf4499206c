package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/councilhq/quorum/pkg/platform"
	"github.com/councilhq/quorum/pkg/wire"
)

// Duration wraps time.Duration so step delays read naturally in YAML
// ("250ms", "2s").
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Step is one scripted emission. WaitReview blocks the replay until a
// review decision is posted, before the event (if any) is sent.
type Step struct {
	Delay      Duration       `yaml:"delay"`
	WaitReview bool           `yaml:"wait_review"`
	Event      map[string]any `yaml:"event"`
}

// Scenario is a scripted council run: the graph under execution, the
// CRUD fixtures the API serves, and the ordered event timeline.
type Scenario struct {
	SessionID  string             `yaml:"session_id"`
	WorkflowID string             `yaml:"workflow_id"`
	GroupID    string             `yaml:"group_id"`
	Graph      graphDecl          `yaml:"graph"`
	Agents     []platform.Agent   `yaml:"agents"`
	Groups     []platform.Group   `yaml:"groups"`
	Templates  []scenarioTemplate `yaml:"templates"`
	Steps      []Step             `yaml:"steps"`
}

type graphDecl struct {
	Nodes []nodeDecl `yaml:"nodes"`
	Edges []edgeDecl `yaml:"edges"`
}

type nodeDecl struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
	Type string `yaml:"type"`
}

type edgeDecl struct {
	Source string `yaml:"source"`
	Target string `yaml:"target"`
}

type scenarioTemplate struct {
	ID          string    `yaml:"id"`
	Name        string    `yaml:"name"`
	Description string    `yaml:"description"`
	Graph       graphDecl `yaml:"graph"`
}

// LoadScenario parses and validates a scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse scenario %s: %w", path, err)
	}
	if s.SessionID == "" {
		return nil, fmt.Errorf("scenario %s: session_id is required", path)
	}
	if len(s.Graph.Nodes) == 0 {
		return nil, fmt.Errorf("scenario %s: graph.nodes is empty", path)
	}
	known := make(map[string]bool, len(s.Graph.Nodes))
	for _, n := range s.Graph.Nodes {
		if n.ID == "" {
			return nil, fmt.Errorf("scenario %s: node with empty id", path)
		}
		if known[n.ID] {
			return nil, fmt.Errorf("scenario %s: duplicate node id %q", path, n.ID)
		}
		known[n.ID] = true
	}
	for _, e := range s.Graph.Edges {
		if !known[e.Source] || !known[e.Target] {
			return nil, fmt.Errorf("scenario %s: edge %s->%s references unknown node", path, e.Source, e.Target)
		}
	}
	for i, step := range s.Steps {
		if len(step.Event) == 0 && !step.WaitReview {
			return nil, fmt.Errorf("scenario %s: step %d has neither event nor wait_review", path, i)
		}
		if len(step.Event) > 0 {
			if _, ok := step.Event["event"].(string); !ok {
				return nil, fmt.Errorf("scenario %s: step %d event missing \"event\" discriminant", path, i)
			}
		}
	}
	return &s, nil
}

// WireGraph converts the scenario graph to the wire declaration.
func (s *Scenario) WireGraph() wire.GraphDecl {
	decl := wire.GraphDecl{
		Nodes: make([]wire.NodeDecl, len(s.Graph.Nodes)),
		Edges: make([]wire.EdgeDecl, len(s.Graph.Edges)),
	}
	for i, n := range s.Graph.Nodes {
		decl.Nodes[i] = wire.NodeDecl{ID: n.ID, Name: n.Name, Type: wire.NodeType(n.Type)}
	}
	for i, e := range s.Graph.Edges {
		decl.Edges[i] = wire.EdgeDecl{Source: e.Source, Target: e.Target}
	}
	return decl
}

// Frame renders one step's event as a wire frame. YAML decodes nested
// maps as map[string]any, which marshals straight to the envelope shape.
func (st Step) Frame() ([]byte, error) {
	ev := make(map[string]any, len(st.Event)+1)
	for k, v := range st.Event {
		ev[k] = v
	}
	if _, ok := ev["timestamp"]; !ok {
		ev["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	}
	return json.Marshal(ev)
}
