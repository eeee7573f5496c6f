// Package flowstate holds the flow-scoped state store: one process-wide
// keyed store mapping (workflow, entity, field) → value, shared by every
// surface that observes a run.
//
// # Namespacing
//
// Entity-keyed operations are transparently namespaced by the currently
// active workflow via the composite key "workflowID:entityID". When no
// workflow is loaded the reserved GlobalWorkflow namespace is used, never a
// bare entity id, so the idle case can never silently merge with a real
// workflow's state. SetActiveWorkflow switches the namespace and notifies
// workflow-change subscribers synchronously, before any dependent view can
// read under the wrong namespace.
//
// # Entity run state
//
// EntityState is the typed per-node run state (status, message, append-only
// message history). It is stored under the reserved FieldAgentState field
// key so it travels with the generic state on export/hydrate. The history
// invariant lives in EntityState.WithUpdate: append only on message change,
// timestamps never decrease.
//
// # Observers
//
// Subscribe registers a generic change listener, SubscribeToWorkflowChange
// a namespace-switch listener; both return an unsubscribe func the caller
// must release on teardown. Listeners run synchronously after the mutation
// completes, in registration order.
package flowstate
