// Package flowstore provides persistence for visual workflow definitions.
//
// # Overview
//
// A Workflow record carries the canvas layout (nodes, edges, viewport),
// metadata (name, tags, template flag) and the namespace-agnostic entity
// state exported by the flow-scoped state store under Data.EntityState.
// Records are stored in the NATS KV bucket "hedgeflow_workflows" with
// optimistic concurrency via version numbers: Create sets version 1,
// Update fails with errors.ErrVersionConflict when the stored version
// moved underneath the caller.
//
// # Transient fields
//
// Node.Selected/Dragging and Edge.Selected/Animated are UI-only. They are
// persisted so a reload restores the session, but Stripped() clears them
// before structural comparison — the history engine relies on this to
// avoid phantom undo entries from cosmetic-only changes.
//
// # Error classification
//
//   - WrapInvalid: validation failures, missing workflows, version conflicts
//   - WrapTransient: NATS KV errors
//   - WrapFatal: marshaling errors
package flowstore
