package localstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zwldarren/ai-hedge-fund-sub000/errors"
	"github.com/zwldarren/ai-hedge-fund-sub000/natsclient"
)

func TestLocalStoreRoundTrip(t *testing.T) {
	tc := natsclient.NewTestClient(t)
	store, err := NewStore(tc.Client)
	require.NoError(t, err)

	ctx := context.Background()

	_, err = store.Get(ctx, KeyLastWorkflowID)
	assert.True(t, errors.Is(err, errors.ErrKeyNotFound))

	require.NoError(t, store.Set(ctx, KeyLastWorkflowID, "wf-42"))
	v, err := store.Get(ctx, KeyLastWorkflowID)
	require.NoError(t, err)
	assert.Equal(t, "wf-42", v)

	require.NoError(t, store.Delete(ctx, KeyLastWorkflowID))
	_, err = store.Get(ctx, KeyLastWorkflowID)
	assert.True(t, errors.Is(err, errors.ErrKeyNotFound))

	// Deleting a missing key is a no-op
	assert.NoError(t, store.Delete(ctx, "never-set"))
}
