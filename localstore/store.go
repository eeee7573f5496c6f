// Package localstore is a small durable key→string cache backed by NATS KV.
// It plays the role browser localStorage plays for the visual editor: it
// remembers the last-opened workflow id and holds a single fallback graph
// snapshot for when no backend workflow is selected.
package localstore

import (
	"context"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/zwldarren/ai-hedge-fund-sub000/errors"
	"github.com/zwldarren/ai-hedge-fund-sub000/natsclient"
)

// BucketName is the JetStream KV bucket backing the cache
const BucketName = "hedgeflow_local"

// Well-known keys
const (
	KeyLastWorkflowID = "last_workflow_id"
	KeyFallbackGraph  = "fallback_graph"
)

// Store is a durable key→string cache
type Store struct {
	kvStore *natsclient.KVStore
}

// NewStore creates the cache, binding (or creating) its KV bucket
func NewStore(natsClient *natsclient.Client) (*Store, error) {
	if natsClient == nil {
		return nil, errors.WrapInvalid(nil, "localstore", "NewStore", "nats client cannot be nil")
	}

	bucket, err := natsClient.CreateKeyValueBucket(context.Background(), jetstream.KeyValueConfig{
		Bucket:      BucketName,
		Description: "Editor-local durable cache (last workflow, fallback graph)",
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "localstore", "NewStore", "create KV bucket")
	}

	return &Store{kvStore: natsClient.NewKVStore(bucket)}, nil
}

// Get returns the value for key, or errors.ErrKeyNotFound
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	entry, err := s.kvStore.Get(ctx, key)
	if err != nil {
		if errors.Is(err, natsclient.ErrKVKeyNotFound) {
			return "", errors.ErrKeyNotFound
		}
		return "", errors.WrapTransient(err, "localstore", "Get", "get "+key)
	}
	return string(entry.Value), nil
}

// Set stores a value under key
func (s *Store) Set(ctx context.Context, key, value string) error {
	if _, err := s.kvStore.Put(ctx, key, []byte(value)); err != nil {
		return errors.WrapTransient(err, "localstore", "Set", "put "+key)
	}
	return nil
}

// Delete removes key; deleting a missing key is not an error
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.kvStore.Delete(ctx, key); err != nil {
		if errors.Is(err, natsclient.ErrKVKeyNotFound) {
			return nil
		}
		return errors.WrapTransient(err, "localstore", "Delete", "delete "+key)
	}
	return nil
}
