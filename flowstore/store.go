package flowstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/zwldarren/ai-hedge-fund-sub000/errors"
	"github.com/zwldarren/ai-hedge-fund-sub000/natsclient"
)

// BucketName is the JetStream KV bucket holding workflow records
const BucketName = "hedgeflow_workflows"

// Store provides persistence for Workflow entities using NATS KV
type Store struct {
	bucket  jetstream.KeyValue
	kvStore *natsclient.KVStore
}

// NewStore creates a new workflow store
func NewStore(natsClient *natsclient.Client) (*Store, error) {
	if natsClient == nil {
		return nil, errors.WrapInvalid(nil, "flowstore", "NewStore", "nats client cannot be nil")
	}

	ctx := context.Background()
	bucket, err := natsClient.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
		Bucket:      BucketName,
		Description: "Visual workflow definitions and associated entity state",
		History:     10, // Keep last 10 versions for recovery
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "flowstore", "NewStore", "create KV bucket")
	}

	return &Store{
		bucket:  bucket,
		kvStore: natsClient.NewKVStore(bucket),
	}, nil
}

// Create creates a new workflow
func (s *Store) Create(ctx context.Context, wf *Workflow) error {
	if wf == nil {
		return errors.WrapInvalid(nil, "flowstore", "Create", "workflow cannot be nil")
	}
	if err := wf.Validate(); err != nil {
		return err
	}

	wf.Version = 1
	now := time.Now().UTC()
	wf.CreatedAt = now
	wf.UpdatedAt = now

	data, err := json.Marshal(wf)
	if err != nil {
		return errors.WrapFatal(err, "flowstore", "Create", "marshal workflow")
	}

	// Create() only succeeds if the key doesn't exist yet
	if _, err := s.kvStore.Create(ctx, wf.ID, data); err != nil {
		if errors.Is(err, natsclient.ErrKVKeyExists) {
			return errors.WrapInvalid(errors.ErrWorkflowExists, "flowstore", "Create", "workflow "+wf.ID)
		}
		return errors.WrapTransient(err, "flowstore", "Create", "create in KV")
	}

	return nil
}

// Get retrieves a workflow by ID
func (s *Store) Get(ctx context.Context, id string) (*Workflow, error) {
	if id == "" {
		return nil, errors.WrapInvalid(nil, "flowstore", "Get", "workflow ID cannot be empty")
	}

	entry, err := s.kvStore.Get(ctx, id)
	if err != nil {
		if errors.Is(err, natsclient.ErrKVKeyNotFound) {
			return nil, errors.WrapInvalid(errors.ErrWorkflowNotFound, "flowstore", "Get", "workflow "+id)
		}
		return nil, errors.WrapTransient(err, "flowstore", "Get", "get from KV")
	}

	var wf Workflow
	if err := json.Unmarshal(entry.Value, &wf); err != nil {
		return nil, errors.WrapFatal(err, "flowstore", "Get", "unmarshal workflow")
	}

	return &wf, nil
}

// Update updates an existing workflow with optimistic concurrency control
func (s *Store) Update(ctx context.Context, wf *Workflow) error {
	if wf == nil {
		return errors.WrapInvalid(nil, "flowstore", "Update", "workflow cannot be nil")
	}
	if err := wf.Validate(); err != nil {
		return err
	}

	current, err := s.Get(ctx, wf.ID)
	if err != nil {
		return err
	}

	if current.Version != wf.Version {
		return errors.WrapInvalid(
			fmt.Errorf("%w: expected %d, got %d", errors.ErrVersionConflict, current.Version, wf.Version),
			"flowstore", "Update", "version conflict")
	}

	wf.Version++
	wf.CreatedAt = current.CreatedAt
	wf.UpdatedAt = time.Now().UTC()

	data, err := json.Marshal(wf)
	if err != nil {
		return errors.WrapFatal(err, "flowstore", "Update", "marshal workflow")
	}

	if _, err := s.kvStore.Put(ctx, wf.ID, data); err != nil {
		return errors.WrapTransient(err, "flowstore", "Update", "put to KV")
	}

	return nil
}

// Delete removes a workflow by ID
func (s *Store) Delete(ctx context.Context, id string) error {
	if id == "" {
		return errors.WrapInvalid(nil, "flowstore", "Delete", "workflow ID cannot be empty")
	}

	if err := s.kvStore.Delete(ctx, id); err != nil {
		if errors.Is(err, natsclient.ErrKVKeyNotFound) {
			return errors.WrapInvalid(errors.ErrWorkflowNotFound, "flowstore", "Delete", "workflow "+id)
		}
		return errors.WrapTransient(err, "flowstore", "Delete", "delete from KV")
	}

	return nil
}

// List retrieves all workflows
func (s *Store) List(ctx context.Context) ([]*Workflow, error) {
	keys, err := s.kvStore.Keys(ctx)
	if err != nil {
		return nil, errors.WrapTransient(err, "flowstore", "List", "list KV keys")
	}

	workflows := make([]*Workflow, 0, len(keys))
	for _, key := range keys {
		wf, err := s.Get(ctx, key)
		if err != nil {
			// A record deleted between Keys and Get is not a failure
			if errors.Is(err, errors.ErrWorkflowNotFound) {
				continue
			}
			return nil, errors.WrapTransient(err, "flowstore", "List",
				fmt.Sprintf("get workflow %s", key))
		}
		workflows = append(workflows, wf)
	}

	return workflows, nil
}
