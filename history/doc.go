// Package history implements snapshot-based undo/redo for workflow graphs.
//
// Each workflow gets its own timeline of stripped graph snapshots. A
// snapshot is only appended when the graph structure actually changed;
// transient view fields (selection, drag state, edge animation) never
// produce history entries. Undo and redo move a cursor over the timeline
// and hand the restored snapshot to a caller-supplied apply function,
// during which further snapshot attempts are suppressed so the restore
// itself does not pollute the timeline.
package history
