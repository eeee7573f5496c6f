package runmanager

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/zwldarren/ai-hedge-fund-sub000/errors"
	"github.com/zwldarren/ai-hedge-fund-sub000/flowstate"
	"github.com/zwldarren/ai-hedge-fund-sub000/metric"
	"github.com/zwldarren/ai-hedge-fund-sub000/stream"
)

// Default tuning. Overridable through options; the service wires them
// from config.
const (
	DefaultStaleAfter    = 2 * time.Minute
	DefaultSweepInterval = 30 * time.Second
	DefaultGraceWindow   = 5 * time.Second
)

// Run outcome labels for the runs_finished counter.
const (
	OutcomeCompleted = "completed"
	OutcomeError     = "error"
	OutcomeStopped   = "stopped"
	OutcomeStale     = "stale"
)

// StreamOpener triggers a remote run and returns the open event stream.
// stream.Client is the production implementation.
type StreamOpener interface {
	OpenRun(ctx context.Context, req stream.RunRequest) (io.ReadCloser, error)
}

// Manager owns one connection record per workflow and is the only writer
// of run lifecycle state. All mutation happens under one mutex as an
// atomic read-modify-write; decoded frames for one workflow are applied
// strictly in arrival order because the read loop dispatches them
// synchronously.
type Manager struct {
	mu      sync.Mutex
	conns   map[string]*conn
	outputs map[string]stream.CompleteData

	state  *flowstate.Store
	opener StreamOpener

	staleAfter    time.Duration
	sweepInterval time.Duration
	graceWindow   time.Duration

	logger  *slog.Logger
	metrics *metric.Metrics
}

// Option configures a Manager
type Option func(*Manager)

// WithStaleAfter sets the inactivity threshold after which a live
// connection is presumed abandoned.
func WithStaleAfter(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.staleAfter = d
		}
	}
}

// WithSweepInterval sets how often the stale sweep runs.
func WithSweepInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.sweepInterval = d
		}
	}
}

// WithGraceWindow sets how long a terminal state is shown before the
// connection auto-resets to idle.
func WithGraceWindow(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.graceWindow = d
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMetrics sets the metrics collector
func WithMetrics(metrics *metric.Metrics) Option {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

// NewManager creates a run connection manager over the given state store
// and stream opener.
func NewManager(state *flowstate.Store, opener StreamOpener, opts ...Option) *Manager {
	m := &Manager{
		conns:         make(map[string]*conn),
		outputs:       make(map[string]stream.CompleteData),
		state:         state,
		opener:        opener,
		staleAfter:    DefaultStaleAfter,
		sweepInterval: DefaultSweepInterval,
		graceWindow:   DefaultGraceWindow,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) connLocked(workflowID string) *conn {
	c, ok := m.conns[workflowID]
	if !ok {
		c = &conn{}
		m.conns[workflowID] = c
	}
	return c
}

// transitionLocked moves the connection to a new state and keeps the
// active-runs gauge consistent.
func (m *Manager) transitionLocked(c *conn, to ConnState) {
	from := c.info.State
	if m.metrics != nil {
		if from.Live() && !to.Live() {
			m.metrics.RunsActive.Dec()
		}
		if !from.Live() && to.Live() {
			m.metrics.RunsActive.Inc()
		}
	}
	c.info.State = to
}

// Info returns a point-in-time view of the workflow's connection. Unknown
// workflows report idle.
func (m *Manager) Info(workflowID string) ConnInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.conns[workflowID]; ok {
		return c.info
	}
	return ConnInfo{State: StateIdle}
}

// Output returns the retained final artifact of the workflow's last
// completed run.
func (m *Manager) Output(workflowID string) (stream.CompleteData, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out, ok := m.outputs[workflowID]
	return out, ok
}

// RunFlow starts a run for the workflow. It rejects with ErrRunActive
// while a run is already connecting or connected, resets the workflow's
// entity states, opens the trigger request and hands the response stream
// to a background read loop. The run's lifetime is bound to its own
// cancellation handle, not to ctx.
func (m *Manager) RunFlow(ctx context.Context, workflowID string, req stream.RunRequest) error {
	if workflowID == "" {
		return errors.WrapInvalid(nil, "runmanager", "RunFlow", "workflow id cannot be empty")
	}
	if err := req.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	c := m.connLocked(workflowID)
	if c.info.State.Live() {
		m.mu.Unlock()
		return errors.WrapInvalid(errors.ErrRunActive, "runmanager", "RunFlow", "start rejected")
	}
	c.stopGraceTimer()
	c.generation++
	gen := c.generation

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	now := time.Now().UTC()
	c.info = ConnInfo{StartTime: now, LastActivity: now}
	m.transitionLocked(c, StateConnecting)
	c.cancel = cancel
	c.agents = append([]string(nil), req.SelectedAgents...)
	delete(m.outputs, workflowID)
	m.mu.Unlock()

	m.state.ResetEntitiesIn(workflowID)
	if m.metrics != nil {
		m.metrics.RunsStarted.Inc()
	}
	m.logger.Info("run starting", "workflow", workflowID, "tickers", req.Tickers, "agents", req.SelectedAgents)

	body, err := m.opener.OpenRun(runCtx, req)
	if err != nil {
		m.handleError(workflowID, gen, err.Error())
		return err
	}

	m.mu.Lock()
	if c.generation == gen && c.info.State == StateConnecting {
		m.transitionLocked(c, StateConnected)
		c.info.LastActivity = time.Now().UTC()
	}
	m.mu.Unlock()

	go m.readLoop(runCtx, workflowID, gen, body)
	return nil
}

// StopFlow cancels any live run for the workflow and resets its entity
// states so no in-progress indicators outlive the run. Stopping an idle
// workflow only performs the reset.
func (m *Manager) StopFlow(workflowID string) {
	m.mu.Lock()
	c := m.connLocked(workflowID)
	c.generation++
	c.stopGraceTimer()
	wasLive := c.info.State.Live()
	c.cancelOnce()
	m.transitionLocked(c, StateIdle)
	c.info.Err = ""
	m.mu.Unlock()

	if wasLive {
		if m.metrics != nil {
			m.metrics.RunsFinished.WithLabelValues(OutcomeStopped).Inc()
		}
		m.logger.Info("run stopped", "workflow", workflowID)
	}
	m.state.ResetEntitiesIn(workflowID)
}

// Forget drops all connection state and retained output for a deleted
// workflow, cancelling any live run first.
func (m *Manager) Forget(workflowID string) {
	m.mu.Lock()
	if c, ok := m.conns[workflowID]; ok {
		c.stopGraceTimer()
		c.cancelOnce()
		m.transitionLocked(c, StateIdle)
		delete(m.conns, workflowID)
	}
	delete(m.outputs, workflowID)
	m.mu.Unlock()
}

// Reconcile demotes entity states persisted mid-run. After a workflow is
// (re)loaded, any entity still marked in-progress with no live connection
// goes back to idle with its messages and history intact.
func (m *Manager) Reconcile(workflowID string) {
	m.mu.Lock()
	c, ok := m.conns[workflowID]
	live := ok && c.info.State.Live()
	m.mu.Unlock()
	if live {
		return
	}

	for _, id := range m.state.EntityIDsIn(workflowID) {
		st := m.state.EntityIn(workflowID, id)
		if st.Status == flowstate.StatusInProgress {
			m.state.PutEntityIn(workflowID, id, st.WithStatus(flowstate.StatusIdle))
		}
	}
}

// readLoop pumps the response stream through the frame parser until the
// stream ends or the run context is cancelled. Cancellation is a normal
// terminal path and never reaches the error handling.
func (m *Manager) readLoop(ctx context.Context, workflowID string, gen uint64, body io.ReadCloser) {
	defer body.Close()

	parser := stream.NewParser(func(eventType string, data json.RawMessage) {
		m.applyFrame(workflowID, gen, eventType, data)
	}, m.logger, m.metrics)

	err := stream.ReadBody(ctx, body, parser)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		m.handleError(workflowID, gen, err.Error())
		return
	}

	// Stream closed cleanly without a complete frame
	m.mu.Lock()
	c, ok := m.conns[workflowID]
	live := ok && c.generation == gen && c.info.State.Live()
	m.mu.Unlock()
	if live {
		m.handleComplete(workflowID, gen)
	}
}

// applyFrame applies one decoded frame to the workflow's entity states.
// Frames for a superseded run generation are dropped.
func (m *Manager) applyFrame(workflowID string, gen uint64, eventType string, data json.RawMessage) {
	m.mu.Lock()
	c, ok := m.conns[workflowID]
	if !ok || c.generation != gen {
		m.mu.Unlock()
		return
	}
	c.info.LastActivity = time.Now().UTC()
	agents := c.agents
	m.mu.Unlock()

	switch eventType {
	case stream.EventStart:
		m.state.ResetEntitiesIn(workflowID)
		for _, agent := range agents {
			st := m.state.EntityIn(workflowID, agent)
			m.state.PutEntityIn(workflowID, agent, st.WithStatus(flowstate.StatusInProgress))
		}

	case stream.EventProgress:
		ev, err := stream.DecodeProgress(data)
		if err != nil || ev.Agent == "" {
			m.logger.Warn("dropping progress frame", "workflow", workflowID, "error", err)
			return
		}
		status := flowstate.StatusInProgress
		if ev.Status == stream.StatusDone {
			status = flowstate.StatusComplete
		}
		message := ev.Status
		if ev.Ticker != nil && *ev.Ticker != "" {
			message = *ev.Ticker + ": " + ev.Status
		}
		ts := time.Now().UTC()
		if ev.Timestamp != "" {
			if parsed, perr := time.Parse(time.RFC3339, ev.Timestamp); perr == nil {
				ts = parsed
			}
		}
		st := m.state.EntityIn(workflowID, ev.Agent)
		m.state.PutEntityIn(workflowID, ev.Agent, st.WithUpdate(status, message, nil, ts, ev.Analysis))

	case stream.EventComplete:
		ev, err := stream.DecodeComplete(data)
		if err != nil {
			m.logger.Warn("dropping complete frame", "workflow", workflowID, "error", err)
			return
		}
		m.mu.Lock()
		m.outputs[workflowID] = ev.Data
		m.mu.Unlock()
		now := time.Now().UTC()
		for _, agent := range agents {
			st := m.state.EntityIn(workflowID, agent)
			m.state.PutEntityIn(workflowID, agent, st.WithUpdate(flowstate.StatusComplete, stream.StatusDone, nil, now, nil))
		}
		m.handleComplete(workflowID, gen)

	case stream.EventError:
		ev, err := stream.DecodeError(data)
		msg := ev.Message
		if err != nil || msg == "" {
			msg = "run failed"
		}
		m.handleError(workflowID, gen, msg)

	default:
		m.logger.Debug("ignoring unknown event type", "workflow", workflowID, "event", eventType)
	}
}

// handleComplete moves the run to completed and arms the grace timer that
// returns it to idle.
func (m *Manager) handleComplete(workflowID string, gen uint64) {
	m.mu.Lock()
	c, ok := m.conns[workflowID]
	if !ok || c.generation != gen || !c.info.State.Live() {
		m.mu.Unlock()
		return
	}
	c.cancelOnce()
	m.transitionLocked(c, StateCompleted)
	c.info.Err = ""
	m.armGraceTimerLocked(c, workflowID)
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.RunsFinished.WithLabelValues(OutcomeCompleted).Inc()
	}
	m.logger.Info("run completed", "workflow", workflowID)
}

// handleError moves the run to the error state, marks in-flight entities
// as failed and arms the grace timer that clears the error.
func (m *Manager) handleError(workflowID string, gen uint64, msg string) {
	m.mu.Lock()
	c, ok := m.conns[workflowID]
	if !ok || c.generation != gen || c.info.State == StateError {
		m.mu.Unlock()
		return
	}
	c.cancelOnce()
	m.transitionLocked(c, StateError)
	c.info.Err = msg
	m.armGraceTimerLocked(c, workflowID)
	m.mu.Unlock()

	now := time.Now().UTC()
	for _, id := range m.state.EntityIDsIn(workflowID) {
		st := m.state.EntityIn(workflowID, id)
		if st.Status == flowstate.StatusInProgress {
			m.state.PutEntityIn(workflowID, id, st.WithUpdate(flowstate.StatusError, msg, nil, now, nil))
		}
	}

	if m.metrics != nil {
		m.metrics.RunsFinished.WithLabelValues(OutcomeError).Inc()
	}
	m.logger.Warn("run failed", "workflow", workflowID, "error", msg)
}

func (m *Manager) armGraceTimerLocked(c *conn, workflowID string) {
	c.stopGraceTimer()
	gen := c.generation
	c.graceTimer = time.AfterFunc(m.graceWindow, func() {
		m.resetAfterGrace(workflowID, gen)
	})
}

func (m *Manager) resetAfterGrace(workflowID string, gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conns[workflowID]
	if !ok || c.generation != gen {
		return
	}
	if c.info.State == StateCompleted || c.info.State == StateError {
		m.transitionLocked(c, StateIdle)
		c.info.Err = ""
		c.graceTimer = nil
	}
}

// StartSweeper launches the background stale sweep. One goroutine owns the
// ticker, so passes never overlap. It stops when ctx is cancelled.
func (m *Manager) StartSweeper(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(m.sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.SweepStale(time.Now().UTC())
			}
		}
	}()
}

// SweepStale runs one sweep pass: every live connection whose last
// activity is older than the staleness threshold is cancelled exactly
// once and reset to idle. Returns the number of connections reset.
func (m *Manager) SweepStale(now time.Time) int {
	m.mu.Lock()
	var stale []string
	for workflowID, c := range m.conns {
		if !c.info.State.Live() {
			continue
		}
		if now.Sub(c.info.LastActivity) <= m.staleAfter {
			continue
		}
		c.generation++
		c.stopGraceTimer()
		c.cancelOnce()
		m.transitionLocked(c, StateIdle)
		c.info.Err = ""
		stale = append(stale, workflowID)
	}
	m.mu.Unlock()

	for _, workflowID := range stale {
		if m.metrics != nil {
			m.metrics.SweepResets.Inc()
			m.metrics.RunsFinished.WithLabelValues(OutcomeStale).Inc()
		}
		m.logger.Warn("stale run reset", "workflow", workflowID)
	}
	return len(stale)
}
