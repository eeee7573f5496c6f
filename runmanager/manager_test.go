package runmanager

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zwldarren/ai-hedge-fund-sub000/errors"
	"github.com/zwldarren/ai-hedge-fund-sub000/flowstate"
	"github.com/zwldarren/ai-hedge-fund-sub000/stream"
)

// pipeOpener hands out an io.Pipe so tests can feed frames to the read
// loop one write at a time.
type pipeOpener struct {
	pr  *io.PipeReader
	pw  *io.PipeWriter
	err error
}

func newPipeOpener() *pipeOpener {
	pr, pw := io.Pipe()
	return &pipeOpener{pr: pr, pw: pw}
}

func (o *pipeOpener) OpenRun(ctx context.Context, req stream.RunRequest) (io.ReadCloser, error) {
	if o.err != nil {
		return nil, o.err
	}
	return o.pr, nil
}

func (o *pipeOpener) send(t *testing.T, frame string) {
	t.Helper()
	_, err := o.pw.Write([]byte(frame))
	require.NoError(t, err)
}

func testRequest() stream.RunRequest {
	return stream.RunRequest{
		Tickers:        []string{"AAPL"},
		SelectedAgents: []string{"warren_buffett"},
	}
}

func newTestManager(opener StreamOpener, opts ...Option) (*Manager, *flowstate.Store) {
	state := flowstate.NewStore(nil)
	opts = append([]Option{
		WithStaleAfter(time.Minute),
		WithGraceWindow(40 * time.Millisecond),
	}, opts...)
	return NewManager(state, opener, opts...), state
}

func TestRunFlowRejectsWhileActive(t *testing.T) {
	opener := newPipeOpener()
	m, _ := newTestManager(opener)
	t.Cleanup(func() { m.StopFlow("wf") })

	require.NoError(t, m.RunFlow(context.Background(), "wf", testRequest()))
	assert.Equal(t, StateConnected, m.Info("wf").State)

	err := m.RunFlow(context.Background(), "wf", testRequest())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrRunActive))
	assert.True(t, errors.IsInvalid(err))
}

func TestRunFlowValidatesRequest(t *testing.T) {
	m, _ := newTestManager(newPipeOpener())

	err := m.RunFlow(context.Background(), "wf", stream.RunRequest{})
	require.Error(t, err)
	assert.Equal(t, StateIdle, m.Info("wf").State)

	err = m.RunFlow(context.Background(), "", testRequest())
	require.Error(t, err)
}

func TestProgressThroughCompleteScenario(t *testing.T) {
	opener := newPipeOpener()
	m, state := newTestManager(opener)
	t.Cleanup(func() { m.StopFlow("wf") })

	require.NoError(t, m.RunFlow(context.Background(), "wf", testRequest()))

	opener.send(t, "event: start\ndata: {}\n\n")
	opener.send(t, `event: progress`+"\n"+`data: {"agent":"warren_buffett","ticker":null,"status":"In progress","timestamp":"2026-08-30T10:00:00Z"}`+"\n\n")
	opener.send(t, `event: progress`+"\n"+`data: {"agent":"warren_buffett","ticker":null,"status":"Done","timestamp":"2026-08-30T10:00:05Z"}`+"\n\n")
	opener.send(t, `event: complete`+"\n"+`data: {"data":{"decisions":{"AAPL":"buy"},"analyst_signals":{}}}`+"\n\n")

	require.Eventually(t, func() bool {
		return m.Info("wf").State == StateCompleted
	}, time.Second, 5*time.Millisecond)

	st := state.EntityIn("wf", "warren_buffett")
	assert.Equal(t, flowstate.StatusComplete, st.Status)
	require.Len(t, st.History, 2)
	assert.Equal(t, "In progress", st.History[0].Message)
	assert.Equal(t, "Done", st.History[1].Message)

	out, ok := m.Output("wf")
	require.True(t, ok)
	assert.Equal(t, "buy", out.Decisions["AAPL"])

	// Grace window elapses with no further activity
	require.Eventually(t, func() bool {
		return m.Info("wf").State == StateIdle
	}, time.Second, 5*time.Millisecond)
}

func TestErrorEventMarksInFlightEntitiesAndAutoResets(t *testing.T) {
	opener := newPipeOpener()
	m, state := newTestManager(opener)
	t.Cleanup(func() { m.StopFlow("wf") })

	require.NoError(t, m.RunFlow(context.Background(), "wf", testRequest()))

	opener.send(t, "event: start\ndata: {}\n\n")
	opener.send(t, `event: progress`+"\n"+`data: {"agent":"warren_buffett","ticker":null,"status":"In progress","timestamp":"2026-08-30T10:00:00Z"}`+"\n\n")
	opener.send(t, `event: error`+"\n"+`data: {"message":"insufficient data"}`+"\n\n")

	require.Eventually(t, func() bool {
		return m.Info("wf").State == StateError
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "insufficient data", m.Info("wf").Err)

	st := state.EntityIn("wf", "warren_buffett")
	assert.Equal(t, flowstate.StatusError, st.Status)
	assert.Equal(t, "insufficient data", st.Message)
	// The in-progress message is still in history
	require.Len(t, st.History, 2)
	assert.Equal(t, "In progress", st.History[0].Message)

	require.Eventually(t, func() bool {
		info := m.Info("wf")
		return info.State == StateIdle && info.Err == ""
	}, time.Second, 5*time.Millisecond)
}

func TestOpenFailureTransitionsToError(t *testing.T) {
	opener := newPipeOpener()
	opener.err = errors.WrapTransient(nil, "stream", "OpenRun", "connection refused")
	m, _ := newTestManager(opener)

	err := m.RunFlow(context.Background(), "wf", testRequest())
	require.Error(t, err)
	assert.Equal(t, StateError, m.Info("wf").State)

	require.Eventually(t, func() bool {
		return m.Info("wf").State == StateIdle
	}, time.Second, 5*time.Millisecond)
}

func TestStopFlowIsIdempotentAndResetsEntities(t *testing.T) {
	opener := newPipeOpener()
	m, state := newTestManager(opener)

	require.NoError(t, m.RunFlow(context.Background(), "wf", testRequest()))
	opener.send(t, "event: start\ndata: {}\n\n")
	opener.send(t, `event: progress`+"\n"+`data: {"agent":"warren_buffett","ticker":null,"status":"In progress","timestamp":"2026-08-30T10:00:00Z"}`+"\n\n")

	require.Eventually(t, func() bool {
		return state.EntityIn("wf", "warren_buffett").Status == flowstate.StatusInProgress
	}, time.Second, 5*time.Millisecond)

	m.StopFlow("wf")
	info := m.Info("wf")
	assert.Equal(t, StateIdle, info.State)
	assert.Empty(t, info.Err)
	assert.Equal(t, flowstate.StatusIdle, state.EntityIn("wf", "warren_buffett").Status)

	// Second stop produces the same terminal state and no error path
	m.StopFlow("wf")
	info = m.Info("wf")
	assert.Equal(t, StateIdle, info.State)
	assert.Empty(t, info.Err)

	// Frames from the cancelled run are dropped
	st := state.EntityIn("wf", "warren_buffett")
	assert.Equal(t, flowstate.StatusIdle, st.Status)
}

func TestSweepResetsStaleConnectionOnce(t *testing.T) {
	opener := newPipeOpener()
	m, _ := newTestManager(opener)

	require.NoError(t, m.RunFlow(context.Background(), "wf", testRequest()))

	var runCtx context.Context
	m.mu.Lock()
	c := m.conns["wf"]
	c.info.LastActivity = time.Now().UTC().Add(-time.Hour)
	// Observe the cancellation through the run context held by the read loop
	ctx, cancel := context.WithCancel(context.Background())
	runCtx = ctx
	prev := c.cancel
	c.cancel = func() { prev(); cancel() }
	m.mu.Unlock()

	require.Equal(t, 1, m.SweepStale(time.Now().UTC()))
	assert.Equal(t, StateIdle, m.Info("wf").State)
	select {
	case <-runCtx.Done():
	default:
		t.Fatal("cancellation handle was not invoked")
	}

	// A second pass finds nothing; the handle is not invoked again
	assert.Equal(t, 0, m.SweepStale(time.Now().UTC()))
	assert.Equal(t, StateIdle, m.Info("wf").State)
}

func TestSweepLeavesFreshConnectionsAlone(t *testing.T) {
	opener := newPipeOpener()
	m, _ := newTestManager(opener)
	t.Cleanup(func() { m.StopFlow("wf") })

	require.NoError(t, m.RunFlow(context.Background(), "wf", testRequest()))
	assert.Equal(t, 0, m.SweepStale(time.Now().UTC()))
	assert.Equal(t, StateConnected, m.Info("wf").State)
}

func TestReconcileDemotesOrphanedInProgress(t *testing.T) {
	m, state := newTestManager(newPipeOpener())

	ts := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	st := flowstate.NewEntityState().WithUpdate(flowstate.StatusInProgress, "working", nil, ts, nil)
	state.PutEntityIn("wf", "warren_buffett", st)
	done := flowstate.NewEntityState().WithUpdate(flowstate.StatusComplete, "Done", nil, ts, nil)
	state.PutEntityIn("wf", "portfolio_manager", done)

	m.Reconcile("wf")

	got := state.EntityIn("wf", "warren_buffett")
	assert.Equal(t, flowstate.StatusIdle, got.Status)
	require.Len(t, got.History, 1)
	assert.Equal(t, "working", got.History[0].Message)

	// Terminal states are untouched
	assert.Equal(t, flowstate.StatusComplete, state.EntityIn("wf", "portfolio_manager").Status)
}

func TestReconcileSkipsLiveConnection(t *testing.T) {
	opener := newPipeOpener()
	m, state := newTestManager(opener)
	t.Cleanup(func() { m.StopFlow("wf") })

	require.NoError(t, m.RunFlow(context.Background(), "wf", testRequest()))
	opener.send(t, `event: progress`+"\n"+`data: {"agent":"warren_buffett","ticker":null,"status":"In progress","timestamp":"2026-08-30T10:00:00Z"}`+"\n\n")

	require.Eventually(t, func() bool {
		return state.EntityIn("wf", "warren_buffett").Status == flowstate.StatusInProgress
	}, time.Second, 5*time.Millisecond)

	m.Reconcile("wf")
	assert.Equal(t, flowstate.StatusInProgress, state.EntityIn("wf", "warren_buffett").Status)
}

func TestForgetDropsConnectionAndOutput(t *testing.T) {
	opener := newPipeOpener()
	m, _ := newTestManager(opener)

	require.NoError(t, m.RunFlow(context.Background(), "wf", testRequest()))
	opener.send(t, `event: complete`+"\n"+`data: {"data":{"decisions":{},"analyst_signals":{}}}`+"\n\n")

	require.Eventually(t, func() bool {
		_, ok := m.Output("wf")
		return ok
	}, time.Second, 5*time.Millisecond)

	m.Forget("wf")
	_, ok := m.Output("wf")
	assert.False(t, ok)
	assert.Equal(t, StateIdle, m.Info("wf").State)
}

func TestConnStateString(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "connected", StateConnected.String())
	assert.Equal(t, "error", StateError.String())
	assert.Equal(t, "completed", StateCompleted.String())
	assert.True(t, StateConnecting.Live())
	assert.True(t, StateConnected.Live())
	assert.False(t, StateCompleted.Live())
}
