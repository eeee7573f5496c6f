package flowstore

import (
	"fmt"
	"time"

	"github.com/zwldarren/ai-hedge-fund-sub000/errors"
)

// Workflow is a saved graph of entities (nodes) and connections (edges)
// plus viewport and associated runtime state.
type Workflow struct {
	// Identity
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	// Version for optimistic concurrency control
	Version int64 `json:"version"`

	// Canvas layout
	Nodes    []Node   `json:"nodes"`
	Edges    []Edge   `json:"edges"`
	Viewport Viewport `json:"viewport"`

	// Associated runtime state (entity state export, output artifacts)
	Data WorkflowData `json:"data"`

	// Metadata
	IsTemplate bool     `json:"is_template"`
	Tags       []string `json:"tags,omitempty"`

	// Audit
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// WorkflowData carries the runtime state persisted alongside the graph.
// EntityState is namespace-agnostic: keys are bare entity ids.
type WorkflowData struct {
	EntityState map[string]map[string]any `json:"entityState,omitempty"`
}

// Node is one entity on the canvas. Selected and Dragging are transient
// UI-only fields: they are persisted for session continuity but stripped
// before history snapshots and structural comparison.
type Node struct {
	ID       string         `json:"id"`
	Type     string         `json:"type"`
	Position Position       `json:"position"`
	Data     map[string]any `json:"data,omitempty"`
	Selected bool           `json:"selected,omitempty"`
	Dragging bool           `json:"dragging,omitempty"`
}

// Edge connects two nodes. Selected and Animated are transient.
type Edge struct {
	ID           string `json:"id"`
	Source       string `json:"source"`
	Target       string `json:"target"`
	SourceHandle string `json:"source_handle,omitempty"`
	TargetHandle string `json:"target_handle,omitempty"`
	Selected     bool   `json:"selected,omitempty"`
	Animated     bool   `json:"animated,omitempty"`
}

// Position represents canvas coordinates for a node
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Viewport is the canvas pan/zoom state
type Viewport struct {
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	Zoom float64 `json:"zoom"`
}

// Stripped returns a deep copy of the node with transient fields cleared
func (n Node) Stripped() Node {
	out := n
	out.Selected = false
	out.Dragging = false
	if n.Data != nil {
		out.Data = make(map[string]any, len(n.Data))
		for k, v := range n.Data {
			out.Data[k] = v
		}
	}
	return out
}

// Stripped returns a copy of the edge with transient fields cleared
func (e Edge) Stripped() Edge {
	out := e
	out.Selected = false
	out.Animated = false
	return out
}

// CloneNodes deep-copies a node list with transient fields intact
func CloneNodes(nodes []Node) []Node {
	out := make([]Node, len(nodes))
	for i, n := range nodes {
		out[i] = n
		if n.Data != nil {
			out[i].Data = make(map[string]any, len(n.Data))
			for k, v := range n.Data {
				out[i].Data[k] = v
			}
		}
	}
	return out
}

// CloneEdges copies an edge list
func CloneEdges(edges []Edge) []Edge {
	out := make([]Edge, len(edges))
	copy(out, edges)
	return out
}

// Validate checks if the workflow is well formed
func (w *Workflow) Validate() error {
	if w.ID == "" {
		return errors.WrapInvalid(fmt.Errorf("workflow ID cannot be empty"), "flowstore", "Validate", "validation failed")
	}
	if w.Name == "" {
		return errors.WrapInvalid(fmt.Errorf("workflow name cannot be empty"), "flowstore", "Validate", "validation failed")
	}

	nodeIDs := make(map[string]bool)
	for i, node := range w.Nodes {
		if node.ID == "" {
			return errors.WrapInvalid(
				fmt.Errorf("node at index %d has empty ID", i),
				"flowstore", "Validate", "node ID validation failed")
		}
		if node.Type == "" {
			return errors.WrapInvalid(
				fmt.Errorf("node '%s' has empty type", node.ID),
				"flowstore", "Validate", "node type validation failed")
		}
		if nodeIDs[node.ID] {
			return errors.WrapInvalid(
				fmt.Errorf("duplicate node ID: %s", node.ID),
				"flowstore", "Validate", "duplicate node ID detected")
		}
		nodeIDs[node.ID] = true
	}

	for i, edge := range w.Edges {
		if edge.ID == "" {
			return errors.WrapInvalid(
				fmt.Errorf("edge at index %d has empty ID", i),
				"flowstore", "Validate", "edge ID validation failed")
		}
		if !nodeIDs[edge.Source] {
			return errors.WrapInvalid(
				fmt.Errorf("edge '%s' references non-existent source node: %s", edge.ID, edge.Source),
				"flowstore", "Validate", "edge source validation failed")
		}
		if !nodeIDs[edge.Target] {
			return errors.WrapInvalid(
				fmt.Errorf("edge '%s' references non-existent target node: %s", edge.ID, edge.Target),
				"flowstore", "Validate", "edge target validation failed")
		}
	}

	return nil
}
