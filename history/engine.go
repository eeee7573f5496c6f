package history

import (
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/zwldarren/ai-hedge-fund-sub000/flowstore"
	"github.com/zwldarren/ai-hedge-fund-sub000/metric"
)

// DefaultMaxSnapshots bounds each workflow's history list
const DefaultMaxSnapshots = 50

// Snapshot is a stripped, deep-copied capture of graph structure at one
// point in time.
type Snapshot struct {
	Nodes     []flowstore.Node `json:"nodes"`
	Edges     []flowstore.Edge `json:"edges"`
	Timestamp time.Time        `json:"timestamp"`
}

// clone deep-copies the snapshot so restores can't share backing slices
// with stored history.
func (s Snapshot) clone() Snapshot {
	return Snapshot{
		Nodes:     flowstore.CloneNodes(s.Nodes),
		Edges:     flowstore.CloneEdges(s.Edges),
		Timestamp: s.Timestamp,
	}
}

// structurallyEqual compares graph structure, ignoring timestamps. Inputs
// are already stripped of transient fields.
func structurallyEqual(a, b Snapshot) bool {
	return reflect.DeepEqual(a.Nodes, b.Nodes) && reflect.DeepEqual(a.Edges, b.Edges)
}

type timeline struct {
	snaps     []Snapshot
	cursor    int // -1 = empty
	restoring bool
}

// Engine provides per-workflow snapshot-based undo/redo with structural
// deduplication: adjacent stored snapshots are never equal after transient
// fields are stripped, so cosmetic-only changes produce no history entries.
type Engine struct {
	mu         sync.Mutex
	max        int
	byWorkflow map[string]*timeline

	logger  *slog.Logger
	metrics *metric.Metrics
}

// NewEngine creates a history engine. maxSnapshots <= 0 selects the default.
func NewEngine(maxSnapshots int, logger *slog.Logger, metrics *metric.Metrics) *Engine {
	if maxSnapshots <= 0 {
		maxSnapshots = DefaultMaxSnapshots
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		max:        maxSnapshots,
		byWorkflow: make(map[string]*timeline),
		logger:     logger,
		metrics:    metrics,
	}
}

func (e *Engine) timelineLocked(workflowID string) *timeline {
	tl, ok := e.byWorkflow[workflowID]
	if !ok {
		tl = &timeline{cursor: -1}
		e.byWorkflow[workflowID] = tl
	}
	return tl
}

// TakeSnapshot captures the current graph structure for the workflow.
// Transient fields are stripped before comparison and storage. Returns
// true when a new snapshot was stored, false when it deduplicated against
// the cursor snapshot or snapshotting is suppressed by an active restore.
func (e *Engine) TakeSnapshot(workflowID string, nodes []flowstore.Node, edges []flowstore.Edge) bool {
	snap := Snapshot{
		Nodes:     make([]flowstore.Node, len(nodes)),
		Edges:     make([]flowstore.Edge, len(edges)),
		Timestamp: time.Now().UTC(),
	}
	for i, n := range nodes {
		snap.Nodes[i] = n.Stripped()
	}
	for i, ed := range edges {
		snap.Edges[i] = ed.Stripped()
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	tl := e.timelineLocked(workflowID)
	if tl.restoring {
		return false
	}

	if tl.cursor >= 0 && structurallyEqual(tl.snaps[tl.cursor], snap) {
		if e.metrics != nil {
			e.metrics.SnapshotsDedup.Inc()
		}
		return false
	}

	// A new edit invalidates any redo tail
	tl.snaps = append(tl.snaps[:tl.cursor+1], snap)
	tl.cursor++

	if len(tl.snaps) > e.max {
		tl.snaps = tl.snaps[1:]
		tl.cursor--
	}

	if e.metrics != nil {
		e.metrics.SnapshotsTaken.Inc()
	}
	return true
}

// Undo steps the cursor back and hands the prior snapshot to apply.
// Snapshot-taking is suppressed for the workflow while apply runs, so the
// act of restoring never generates a new history entry. Returns false at
// the head of the list.
func (e *Engine) Undo(workflowID string, apply func(Snapshot)) bool {
	e.mu.Lock()
	tl := e.timelineLocked(workflowID)
	if tl.cursor <= 0 || tl.restoring {
		e.mu.Unlock()
		return false
	}
	tl.cursor--
	snap := tl.snaps[tl.cursor].clone()
	tl.restoring = true
	e.mu.Unlock()

	apply(snap)

	e.mu.Lock()
	tl.restoring = false
	e.mu.Unlock()

	if e.metrics != nil {
		e.metrics.UndoOperations.Inc()
	}
	return true
}

// Redo steps the cursor forward and hands the next snapshot to apply.
// Returns false at the tail.
func (e *Engine) Redo(workflowID string, apply func(Snapshot)) bool {
	e.mu.Lock()
	tl := e.timelineLocked(workflowID)
	if tl.restoring || tl.cursor >= len(tl.snaps)-1 {
		e.mu.Unlock()
		return false
	}
	tl.cursor++
	snap := tl.snaps[tl.cursor].clone()
	tl.restoring = true
	e.mu.Unlock()

	apply(snap)

	e.mu.Lock()
	tl.restoring = false
	e.mu.Unlock()

	if e.metrics != nil {
		e.metrics.RedoOperations.Inc()
	}
	return true
}

// CanUndo reports whether an undo step exists for the workflow
func (e *Engine) CanUndo(workflowID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	tl, ok := e.byWorkflow[workflowID]
	return ok && tl.cursor > 0
}

// CanRedo reports whether a redo step exists for the workflow
func (e *Engine) CanRedo(workflowID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	tl, ok := e.byWorkflow[workflowID]
	return ok && tl.cursor < len(tl.snaps)-1
}

// Len returns the number of stored snapshots for the workflow
func (e *Engine) Len(workflowID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	tl, ok := e.byWorkflow[workflowID]
	if !ok {
		return 0
	}
	return len(tl.snaps)
}

// Cursor returns the current cursor index (-1 when empty)
func (e *Engine) Cursor(workflowID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	tl, ok := e.byWorkflow[workflowID]
	if !ok {
		return -1
	}
	return tl.cursor
}

// ClearHistory resets the list and cursor for one workflow only
func (e *Engine) ClearHistory(workflowID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.byWorkflow, workflowID)
}
