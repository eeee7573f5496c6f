// Package natsclient wraps the NATS connection and JetStream KV access used
// by the hedgeflow persistence layer.
//
// The Client owns a single NATS connection plus its JetStream context and
// hands out KVStore wrappers for individual buckets. Two buckets are used:
//
//   - hedgeflow_workflows: workflow records (see package flowstore)
//   - hedgeflow_local: small durable key→string cache (see package localstore)
//
// KVStore normalizes JetStream's not-found/conflict errors into package-level
// sentinels so callers never import jetstream directly.
package natsclient
