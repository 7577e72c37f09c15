// Package graph models the executable workflow of an agent: nodes, edges
// and the condition expressions that route between them.
package graph

import "fmt"

// NodeType enumerates the node kinds the scheduler understands.
type NodeType string

const (
	NodeStart     NodeType = "START"
	NodeEnd       NodeType = "END"
	NodeLLM       NodeType = "LLM"
	NodeTool      NodeType = "TOOL"
	NodeAgentCall NodeType = "AGENT_CALL"
	NodeCondition NodeType = "CONDITION"
)

// Node is one step of a workflow. Config carries type-specific settings
// (prompt, output variable, tool name, callee agent).
type Node struct {
	ID     string         `yaml:"id" json:"id"`
	Type   NodeType       `yaml:"type" json:"type"`
	Config map[string]any `yaml:"config,omitempty" json:"config,omitempty"`
}

// Edge is a directed transition. An empty Condition makes the edge
// unconditional.
type Edge struct {
	From      string `yaml:"from" json:"from"`
	To        string `yaml:"to" json:"to"`
	Condition string `yaml:"condition,omitempty" json:"condition,omitempty"`
}

// Definition is a complete workflow graph.
type Definition struct {
	Nodes []Node `yaml:"nodes" json:"nodes"`
	Edges []Edge `yaml:"edges" json:"edges"`
}

// Validate checks structural integrity: unique node ids, exactly one START
// node, edges referencing existing nodes, and parseable edge conditions.
func (d *Definition) Validate() error {
	ids := make(map[string]struct{}, len(d.Nodes))
	starts := 0
	for _, n := range d.Nodes {
		if n.ID == "" {
			return fmt.Errorf("graph: node with empty id")
		}
		if _, dup := ids[n.ID]; dup {
			return fmt.Errorf("graph: duplicate node id %q", n.ID)
		}
		ids[n.ID] = struct{}{}
		if n.Type == NodeStart {
			starts++
		}
	}
	if starts != 1 {
		return fmt.Errorf("graph: expected exactly one START node, found %d", starts)
	}
	for _, e := range d.Edges {
		if _, ok := ids[e.From]; !ok {
			return fmt.Errorf("graph: edge from unknown node %q", e.From)
		}
		if _, ok := ids[e.To]; !ok {
			return fmt.Errorf("graph: edge to unknown node %q", e.To)
		}
		if e.Condition != "" {
			if _, err := ParseCondition(e.Condition); err != nil {
				return fmt.Errorf("graph: edge %s->%s: %w", e.From, e.To, err)
			}
		}
	}
	return nil
}

// Node returns the node with the given id.
func (d *Definition) Node(id string) (*Node, bool) {
	for i := range d.Nodes {
		if d.Nodes[i].ID == id {
			return &d.Nodes[i], true
		}
	}
	return nil, false
}

// Start returns the START node.
func (d *Definition) Start() (*Node, bool) {
	for i := range d.Nodes {
		if d.Nodes[i].Type == NodeStart {
			return &d.Nodes[i], true
		}
	}
	return nil, false
}

// Outbound returns the edges leaving the given node, in declaration order.
func (d *Definition) Outbound(id string) []Edge {
	var out []Edge
	for _, e := range d.Edges {
		if e.From == id {
			out = append(out, e)
		}
	}
	return out
}

// NextNode resolves the transition out of the current node. A single
// unconditional edge is taken directly. With multiple edges, conditioned
// edges are tested in declaration order and the first match wins; otherwise
// the first unconditional edge is the fallback. Returns false when the walk
// ends. Conditions are validated at Validate time, so an evaluation failure
// here (a missing or uncoercible variable) counts as a non-match.
func (d *Definition) NextNode(currentID string, vars map[string]any) (string, bool) {
	edges := d.Outbound(currentID)
	if len(edges) == 0 {
		return "", false
	}
	if len(edges) == 1 && edges[0].Condition == "" {
		return edges[0].To, true
	}

	fallback := ""
	hasFallback := false
	for _, e := range edges {
		if e.Condition == "" {
			if !hasFallback {
				fallback = e.To
				hasFallback = true
			}
			continue
		}
		expr, err := ParseCondition(e.Condition)
		if err != nil {
			continue
		}
		if match, err := expr.Eval(vars); err == nil && match {
			return e.To, true
		}
	}
	if hasFallback {
		return fallback, true
	}
	return "", false
}
