// Package hedgeflow is the backend core for a visual workflow builder
// over remote AI hedge fund runs.
//
// The system turns an incrementally delivered run event stream into live
// per-node state on a flow canvas, and keeps that canvas durable:
//
//	┌─────────────────────────────────────┐
//	│           service.Runtime           │  editor facade, HTTP API,
//	│  (load, save, run, undo, notify)    │  debounced side effects
//	└─────────────────────────────────────┘
//	       ↓ coordinates
//	┌───────────┐ ┌───────────┐ ┌─────────┐
//	│runmanager │ │ flowstate │ │ history │  run FSMs, namespaced
//	│ (per-flow │ │ (entity   │ │ (undo/  │  entity state, snapshot
//	│   runs)   │ │  states)  │ │  redo)  │  timelines
//	└───────────┘ └───────────┘ └─────────┘
//	       ↓ frames            ↓ persistence
//	┌───────────┐      ┌──────────────────┐
//	│  stream   │      │ flowstore /      │  frame parser + run
//	│ (parser,  │      │ localstore       │  triggers; NATS
//	│ triggers) │      │ (JetStream KV)   │  JetStream KV records
//	└───────────┘      └──────────────────┘
//
// Package layout:
//   - stream: frame parser for the run event protocol, SSE and
//     websocket run triggers
//   - flowstate: workflow-namespaced entity state store with observers
//   - runmanager: per-workflow run connection lifecycle, stale sweep,
//     reload reconciliation
//   - history: snapshot-based undo/redo with structural deduplication
//   - flowstore, localstore: workflow records and editor-session cache
//     over NATS JetStream KV
//   - service: runtime facade, debounced autosave, notifications, HTTP
//   - natsclient, config, metric, errors: infrastructure
//
// The cmd/hedgeflow binary wires everything together.
package hedgeflow
