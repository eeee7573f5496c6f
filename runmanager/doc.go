// Package runmanager tracks the lifecycle of remote runs, one connection
// record per workflow.
//
// Each record is a small state machine
// (idle -> connecting -> connected -> completed/error -> idle) owning the
// run's single idempotent cancellation handle. The manager opens the
// trigger request, pumps the event stream through the frame parser and
// applies decoded frames to the workflow's entity states in arrival
// order. A periodic sweep reclaims connections that stopped producing
// activity, and Reconcile repairs entity states that were persisted in
// the middle of a run.
package runmanager
