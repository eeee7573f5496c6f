// Package service is the editor-facing layer: the Runtime facade that
// coordinates the state store, run manager, history engine and
// persistence, the debounced autosave and snapshot triggers, the
// notification side channel for persistence failures, and the HTTP API
// the workflow builder talks to.
package service
