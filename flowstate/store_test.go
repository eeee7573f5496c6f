package flowstate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Namespace isolation: the same entity id under two different workflows
// must never share values, and switching back must restore the original.
func TestNamespaceIsolationAcrossWorkflowSwitch(t *testing.T) {
	s := NewStore(nil)

	s.SetActiveWorkflow("wf-a")
	s.Set("entity-1", "cash", 1000)

	s.SetActiveWorkflow("wf-b")
	_, ok := s.Get("entity-1", "cash")
	assert.False(t, ok, "workflow B must not see workflow A's state")
	s.Set("entity-1", "cash", 2000)

	s.SetActiveWorkflow("wf-a")
	v, ok := s.Get("entity-1", "cash")
	require.True(t, ok)
	assert.Equal(t, 1000, v)
}

func TestNoWorkflowUsesExplicitGlobalNamespace(t *testing.T) {
	s := NewStore(nil)

	s.Set("entity-1", "k", "global-value")
	s.SetActiveWorkflow("wf-a")
	_, ok := s.Get("entity-1", "k")
	assert.False(t, ok, "a real workflow must not inherit global-namespace state")

	s.SetActiveWorkflow("")
	v, ok := s.Get("entity-1", "k")
	require.True(t, ok)
	assert.Equal(t, "global-value", v)
}

func TestSetActiveWorkflowNotifiesSynchronouslyOnChangeOnly(t *testing.T) {
	s := NewStore(nil)

	var calls []string
	unsub := s.SubscribeToWorkflowChange(func(from, to string) {
		calls = append(calls, from+"->"+to)
	})
	defer unsub()

	s.SetActiveWorkflow("wf-a")
	require.Equal(t, []string{"->wf-a"}, calls, "notification must fire before SetActiveWorkflow returns")

	// No-op switch must not notify
	s.SetActiveWorkflow("wf-a")
	assert.Len(t, calls, 1)

	s.SetActiveWorkflow("wf-b")
	assert.Equal(t, []string{"->wf-a", "wf-a->wf-b"}, calls)
}

func TestMutationsNotifyGenericSubscribers(t *testing.T) {
	s := NewStore(nil)
	count := 0
	unsub := s.Subscribe(func() { count++ })

	s.Set("e", "k", 1)
	s.SetAll("e", map[string]any{"k": 2})
	s.ClearEntity("e")
	s.ClearWorkflow("wf-x")
	s.ClearAll()
	assert.Equal(t, 5, count)

	unsub()
	s.Set("e", "k", 3)
	assert.Equal(t, 5, count, "unsubscribed listener must not fire")
}

func TestGetAllReturnsACopy(t *testing.T) {
	s := NewStore(nil)
	s.Set("e", "k", 1)

	all := s.GetAll("e")
	all["k"] = 99
	v, _ := s.Get("e", "k")
	assert.Equal(t, 1, v)
}

func TestClearWorkflowOnlyTouchesThatWorkflow(t *testing.T) {
	s := NewStore(nil)
	s.SetActiveWorkflow("wf-a")
	s.Set("e", "k", "a")
	s.SetActiveWorkflow("wf-b")
	s.Set("e", "k", "b")

	s.ClearWorkflow("wf-a")

	v, ok := s.Get("e", "k")
	require.True(t, ok)
	assert.Equal(t, "b", v)

	s.SetActiveWorkflow("wf-a")
	_, ok = s.Get("e", "k")
	assert.False(t, ok)
}

func TestExportStripsNamespacePrefix(t *testing.T) {
	s := NewStore(nil)
	s.SetActiveWorkflow("wf-a")
	s.Set("entity-1", "k", "v")
	s.PutEntity("entity-1", NewEntityState().WithUpdate(StatusComplete, "Done", nil, time.Now(), nil))

	s.SetActiveWorkflow("wf-b")
	s.Set("entity-2", "other", true)

	s.SetActiveWorkflow("wf-a")
	exported := s.Export()
	require.Contains(t, exported, "entity-1")
	assert.NotContains(t, exported, "entity-2")
	assert.Equal(t, "v", exported["entity-1"]["k"])

	// Keys are namespace-agnostic: no composite prefix leaks out
	for id := range exported {
		assert.NotContains(t, id, ":")
	}
}

func TestHydrateLandsInActiveNamespaceWithTypedEntityStates(t *testing.T) {
	s := NewStore(nil)
	s.SetActiveWorkflow("wf-a")

	// Simulates state read back from persistence: plain JSON maps
	s.Hydrate(map[string]map[string]any{
		"entity-1": {
			"k": "v",
			FieldAgentState: map[string]any{
				"status":      "COMPLETE",
				"label":       nil,
				"message":     "Done",
				"lastUpdated": time.Now().UTC().Format(time.RFC3339Nano),
				"history":     []any{},
			},
		},
	})

	st := s.Entity("entity-1")
	assert.Equal(t, StatusComplete, st.Status)
	assert.Equal(t, "Done", st.Message)

	s.SetActiveWorkflow("wf-b")
	assert.Equal(t, StatusIdle, s.Entity("entity-1").Status, "hydrated state must not leak across namespaces")
}

func TestResetEntitiesIn(t *testing.T) {
	s := NewStore(nil)
	s.SetActiveWorkflow("wf-a")
	s.PutEntity("agent-1", NewEntityState().WithUpdate(StatusInProgress, "working", nil, time.Now(), nil))
	s.Set("agent-1", "unrelated", 42)

	s.ResetEntitiesIn("wf-a")

	st := s.Entity("agent-1")
	assert.Equal(t, StatusIdle, st.Status)
	assert.Empty(t, st.History)
	v, ok := s.Get("agent-1", "unrelated")
	require.True(t, ok)
	assert.Equal(t, 42, v, "reset must only touch the agent state field")
}

func TestEntityIDsIn(t *testing.T) {
	s := NewStore(nil)
	s.SetActiveWorkflow("wf-a")
	s.Set("b-entity", "k", 1)
	s.Set("a-entity", "k", 1)

	assert.Equal(t, []string{"a-entity", "b-entity"}, s.EntityIDsIn("wf-a"))
	assert.Empty(t, s.EntityIDsIn("wf-other"))
}
