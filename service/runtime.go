package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zwldarren/ai-hedge-fund-sub000/errors"
	"github.com/zwldarren/ai-hedge-fund-sub000/flowstate"
	"github.com/zwldarren/ai-hedge-fund-sub000/flowstore"
	"github.com/zwldarren/ai-hedge-fund-sub000/history"
	"github.com/zwldarren/ai-hedge-fund-sub000/localstore"
	"github.com/zwldarren/ai-hedge-fund-sub000/metric"
	"github.com/zwldarren/ai-hedge-fund-sub000/runmanager"
	"github.com/zwldarren/ai-hedge-fund-sub000/stream"
)

// saveTimeout bounds one background autosave attempt.
const saveTimeout = 10 * time.Second

// WorkflowStore is the persistence surface the runtime needs.
// flowstore.Store is the production implementation.
type WorkflowStore interface {
	Create(ctx context.Context, wf *flowstore.Workflow) error
	Get(ctx context.Context, id string) (*flowstore.Workflow, error)
	Update(ctx context.Context, wf *flowstore.Workflow) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]*flowstore.Workflow, error)
}

// LocalStore is the durable editor-session cache.
// localstore.Store is the production implementation.
type LocalStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// Dependencies carries everything a Runtime needs.
type Dependencies struct {
	State     *flowstate.Store
	Workflows WorkflowStore
	Local     LocalStore
	Runs      *runmanager.Manager
	History   *history.Engine
	Notifier  *Notifier
	Logger    *slog.Logger
	Metrics   *metric.Metrics
}

// Option configures a Runtime
type Option func(*Runtime)

// WithAutosaveDebounce sets the quiet period before an automatic save.
func WithAutosaveDebounce(d time.Duration) Option {
	return func(rt *Runtime) {
		if d > 0 {
			rt.autosaveDelay = d
		}
	}
}

// WithSnapshotDebounce sets the quiet period before an automatic history
// snapshot.
func WithSnapshotDebounce(d time.Duration) Option {
	return func(rt *Runtime) {
		if d > 0 {
			rt.snapshotDelay = d
		}
	}
}

// fallbackGraph is the serialized form of an unsaved working graph kept
// in the local store when no backend workflow is selected.
type fallbackGraph struct {
	Nodes    []flowstore.Node   `json:"nodes"`
	Edges    []flowstore.Edge   `json:"edges"`
	Viewport flowstore.Viewport `json:"viewport"`
}

// Runtime is the editor-facing facade. It owns the working copy of the
// loaded workflow's graph and coordinates the state store, run manager,
// history engine and persistence with debounced side effects.
type Runtime struct {
	mu        sync.Mutex
	currentID string
	nodes     []flowstore.Node
	edges     []flowstore.Edge
	viewport  flowstore.Viewport
	loading   bool
	closed    bool

	state     *flowstate.Store
	workflows WorkflowStore
	local     LocalStore
	runs      *runmanager.Manager
	history   *history.Engine
	notifier  *Notifier

	autosaveDelay time.Duration
	snapshotDelay time.Duration
	autosave      *Debouncer
	snapshot      *Debouncer
	unsubState    func()

	logger  *slog.Logger
	metrics *metric.Metrics
}

// NewRuntime wires the runtime and subscribes it to state changes so
// entity-state writes schedule an autosave.
func NewRuntime(deps Dependencies, opts ...Option) (*Runtime, error) {
	if deps.State == nil || deps.Workflows == nil || deps.Local == nil ||
		deps.Runs == nil || deps.History == nil {
		return nil, errors.WrapFatal(nil, "service", "NewRuntime", "missing required dependency")
	}
	if deps.Notifier == nil {
		deps.Notifier = NewNotifier(20)
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	rt := &Runtime{
		state:         deps.State,
		workflows:     deps.Workflows,
		local:         deps.Local,
		runs:          deps.Runs,
		history:       deps.History,
		notifier:      deps.Notifier,
		autosaveDelay: time.Second,
		snapshotDelay: 500 * time.Millisecond,
		logger:        deps.Logger,
		metrics:       deps.Metrics,
	}
	for _, opt := range opts {
		opt(rt)
	}

	rt.autosave = NewDebouncer(rt.autosaveDelay, rt.autosaveFire)
	rt.snapshot = NewDebouncer(rt.snapshotDelay, rt.snapshotFire)
	rt.unsubState = rt.state.Subscribe(func() {
		rt.mu.Lock()
		skip := rt.loading || rt.closed
		rt.mu.Unlock()
		if !skip {
			rt.autosave.Trigger()
		}
	})
	return rt, nil
}

// Close flushes any pending save and releases subscriptions.
func (rt *Runtime) Close() {
	rt.mu.Lock()
	if rt.closed {
		rt.mu.Unlock()
		return
	}
	rt.closed = true
	rt.mu.Unlock()

	rt.snapshot.Stop()
	rt.autosave.Flush()
	rt.autosave.Stop()
	if rt.unsubState != nil {
		rt.unsubState()
	}
}

// Notifier exposes the persistence-failure side channel.
func (rt *Runtime) Notifier() *Notifier {
	return rt.notifier
}

// CurrentWorkflowID returns the loaded workflow id, empty when none.
func (rt *Runtime) CurrentWorkflowID() string {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.currentID
}

// Graph returns a copy of the working graph.
func (rt *Runtime) Graph() ([]flowstore.Node, []flowstore.Edge, flowstore.Viewport) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return flowstore.CloneNodes(rt.nodes), flowstore.CloneEdges(rt.edges), rt.viewport
}

// CreateWorkflow stores a new workflow, generating an id when none is
// provided.
func (rt *Runtime) CreateWorkflow(ctx context.Context, wf *flowstore.Workflow) error {
	if wf.ID == "" {
		wf.ID = uuid.New().String()
	}
	return rt.workflows.Create(ctx, wf)
}

// GetWorkflow fetches a stored workflow.
func (rt *Runtime) GetWorkflow(ctx context.Context, id string) (*flowstore.Workflow, error) {
	return rt.workflows.Get(ctx, id)
}

// ListWorkflows lists stored workflows.
func (rt *Runtime) ListWorkflows(ctx context.Context) ([]*flowstore.Workflow, error) {
	return rt.workflows.List(ctx)
}

// UpdateWorkflow persists changes to a stored workflow.
func (rt *Runtime) UpdateWorkflow(ctx context.Context, wf *flowstore.Workflow) error {
	return rt.workflows.Update(ctx, wf)
}

// LoadWorkflow makes the workflow the active editing target. The active
// namespace switches before entity state is hydrated so hydration writes
// land under the right workflow, then orphaned in-progress entities are
// reconciled and the id is recorded as last opened.
func (rt *Runtime) LoadWorkflow(ctx context.Context, id string) (*flowstore.Workflow, error) {
	wf, err := rt.workflows.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	rt.mu.Lock()
	rt.loading = true
	rt.mu.Unlock()

	rt.state.SetActiveWorkflow(id)
	rt.state.ClearWorkflow(id)
	rt.state.Hydrate(wf.Data.EntityState)
	rt.runs.Reconcile(id)

	rt.mu.Lock()
	rt.currentID = id
	rt.nodes = flowstore.CloneNodes(wf.Nodes)
	rt.edges = flowstore.CloneEdges(wf.Edges)
	rt.viewport = wf.Viewport
	rt.loading = false
	rt.mu.Unlock()

	rt.history.TakeSnapshot(id, wf.Nodes, wf.Edges)

	if err := rt.local.Set(ctx, localstore.KeyLastWorkflowID, id); err != nil {
		rt.logger.Warn("recording last opened workflow failed", "workflow", id, "error", err)
	}
	rt.logger.Info("workflow loaded", "workflow", id, "nodes", len(wf.Nodes), "edges", len(wf.Edges))
	return wf, nil
}

// RestoreSession reopens the last workflow, falling back to the unsaved
// local graph when none was recorded. Returns the restored workflow id,
// empty when the session starts blank.
func (rt *Runtime) RestoreSession(ctx context.Context) (string, error) {
	id, err := rt.local.Get(ctx, localstore.KeyLastWorkflowID)
	if err == nil && id != "" {
		if _, err := rt.LoadWorkflow(ctx, id); err == nil {
			return id, nil
		} else if errors.Is(err, errors.ErrWorkflowNotFound) {
			// The workflow was deleted elsewhere
			if derr := rt.local.Delete(ctx, localstore.KeyLastWorkflowID); derr != nil {
				rt.logger.Warn("clearing stale last opened workflow failed", "error", derr)
			}
		} else {
			return "", err
		}
	}

	raw, err := rt.local.Get(ctx, localstore.KeyFallbackGraph)
	if err != nil || raw == "" {
		return "", nil
	}
	var fg fallbackGraph
	if err := json.Unmarshal([]byte(raw), &fg); err != nil {
		rt.logger.Warn("discarding corrupt fallback graph", "error", err)
		return "", nil
	}

	rt.state.SetActiveWorkflow("")
	rt.mu.Lock()
	rt.currentID = ""
	rt.nodes = fg.Nodes
	rt.edges = fg.Edges
	rt.viewport = fg.Viewport
	rt.mu.Unlock()
	return "", nil
}

// SetGraph replaces the working graph and schedules the debounced
// autosave and history snapshot.
func (rt *Runtime) SetGraph(nodes []flowstore.Node, edges []flowstore.Edge, viewport flowstore.Viewport) {
	rt.mu.Lock()
	rt.nodes = flowstore.CloneNodes(nodes)
	rt.edges = flowstore.CloneEdges(edges)
	rt.viewport = viewport
	rt.mu.Unlock()

	rt.autosave.Trigger()
	rt.snapshot.Trigger()
}

// SaveNow persists the working graph and exported entity state
// immediately. When no workflow is selected the graph goes to the local
// fallback slot instead. A failure surfaces one notification and leaves
// in-memory state untouched.
func (rt *Runtime) SaveNow(ctx context.Context) error {
	rt.mu.Lock()
	id := rt.currentID
	nodes := flowstore.CloneNodes(rt.nodes)
	edges := flowstore.CloneEdges(rt.edges)
	viewport := rt.viewport
	rt.mu.Unlock()

	start := time.Now()
	err := rt.save(ctx, id, nodes, edges, viewport)
	if rt.metrics != nil {
		rt.metrics.SaveDuration.Observe(time.Since(start).Seconds())
		rt.metrics.SavesTotal.Inc()
		if err != nil {
			rt.metrics.SaveFailures.Inc()
		}
	}
	if err != nil {
		rt.notifier.Notify(LevelError, "saving workflow failed: "+err.Error())
		return err
	}
	return nil
}

func (rt *Runtime) save(ctx context.Context, id string, nodes []flowstore.Node, edges []flowstore.Edge, viewport flowstore.Viewport) error {
	if id == "" {
		data, err := json.Marshal(fallbackGraph{Nodes: nodes, Edges: edges, Viewport: viewport})
		if err != nil {
			return errors.WrapFatal(err, "service", "save", "encode fallback graph failed")
		}
		return rt.local.Set(ctx, localstore.KeyFallbackGraph, string(data))
	}

	rec, err := rt.workflows.Get(ctx, id)
	if err != nil {
		return err
	}
	rec.Nodes = nodes
	rec.Edges = edges
	rec.Viewport = viewport
	rec.Data.EntityState = rt.state.Export()
	return rt.workflows.Update(ctx, rec)
}

func (rt *Runtime) autosaveFire() {
	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()
	if err := rt.SaveNow(ctx); err != nil {
		rt.logger.Warn("autosave failed", "error", err)
	}
}

func (rt *Runtime) snapshotFire() {
	rt.mu.Lock()
	id := rt.currentID
	nodes := rt.nodes
	edges := rt.edges
	rt.mu.Unlock()
	rt.history.TakeSnapshot(id, nodes, edges)
}

// TakeSnapshot records a history snapshot of the working graph
// immediately, bypassing the debounce.
func (rt *Runtime) TakeSnapshot() bool {
	rt.mu.Lock()
	id := rt.currentID
	nodes := rt.nodes
	edges := rt.edges
	rt.mu.Unlock()
	return rt.history.TakeSnapshot(id, nodes, edges)
}

// Undo restores the previous graph snapshot. The restore updates the
// working copy and schedules a save, never a new snapshot.
func (rt *Runtime) Undo() bool {
	rt.mu.Lock()
	id := rt.currentID
	rt.mu.Unlock()

	ok := rt.history.Undo(id, rt.applySnapshot)
	if ok {
		if rt.metrics != nil {
			rt.metrics.UndoOperations.Inc()
		}
		rt.autosave.Trigger()
	}
	return ok
}

// Redo restores the next graph snapshot.
func (rt *Runtime) Redo() bool {
	rt.mu.Lock()
	id := rt.currentID
	rt.mu.Unlock()

	ok := rt.history.Redo(id, rt.applySnapshot)
	if ok {
		if rt.metrics != nil {
			rt.metrics.RedoOperations.Inc()
		}
		rt.autosave.Trigger()
	}
	return ok
}

func (rt *Runtime) applySnapshot(snap history.Snapshot) {
	rt.mu.Lock()
	rt.nodes = flowstore.CloneNodes(snap.Nodes)
	rt.edges = flowstore.CloneEdges(snap.Edges)
	rt.mu.Unlock()
}

// DeleteWorkflow removes the workflow and garbage-collects everything
// attached to it: history, entity state, connection record and the
// last-opened marker when it pointed here.
func (rt *Runtime) DeleteWorkflow(ctx context.Context, id string) error {
	if err := rt.workflows.Delete(ctx, id); err != nil {
		return err
	}

	rt.runs.Forget(id)
	rt.history.ClearHistory(id)
	rt.state.ClearWorkflow(id)

	rt.mu.Lock()
	wasCurrent := rt.currentID == id
	if wasCurrent {
		rt.currentID = ""
		rt.nodes = nil
		rt.edges = nil
		rt.viewport = flowstore.Viewport{Zoom: 1}
	}
	rt.mu.Unlock()

	if wasCurrent {
		rt.state.SetActiveWorkflow("")
		if err := rt.local.Delete(ctx, localstore.KeyLastWorkflowID); err != nil {
			rt.logger.Warn("clearing last opened workflow failed", "error", err)
		}
	}
	return nil
}

// RunFlow starts a run for the workflow.
func (rt *Runtime) RunFlow(ctx context.Context, workflowID string, req stream.RunRequest) error {
	return rt.runs.RunFlow(ctx, workflowID, req)
}

// StopFlow cancels the workflow's run.
func (rt *Runtime) StopFlow(workflowID string) {
	rt.runs.StopFlow(workflowID)
}

// StatusView is the connection and entity state of one workflow.
type StatusView struct {
	WorkflowID string                           `json:"workflowId"`
	Connection runmanager.ConnInfo              `json:"connection"`
	Entities   map[string]flowstate.EntityState `json:"entities"`
	Output     *stream.CompleteData             `json:"output,omitempty"`
}

// Status reports the run status of the workflow.
func (rt *Runtime) Status(workflowID string) StatusView {
	view := StatusView{
		WorkflowID: workflowID,
		Connection: rt.runs.Info(workflowID),
		Entities:   make(map[string]flowstate.EntityState),
	}
	for _, id := range rt.state.EntityIDsIn(workflowID) {
		view.Entities[id] = rt.state.EntityIn(workflowID, id)
	}
	if out, ok := rt.runs.Output(workflowID); ok {
		view.Output = &out
	}
	return view
}
