package flowstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/zwldarren/ai-hedge-fund-sub000/errors"
	"github.com/zwldarren/ai-hedge-fund-sub000/natsclient"
)

type StoreIntegrationSuite struct {
	suite.Suite
	testClient *natsclient.TestClient
	store      *Store
	ctx        context.Context
	cancel     context.CancelFunc
}

func TestStoreIntegrationSuite(t *testing.T) {
	suite.Run(t, new(StoreIntegrationSuite))
}

func (s *StoreIntegrationSuite) SetupSuite() {
	s.testClient = natsclient.NewTestClient(s.T())
}

func (s *StoreIntegrationSuite) SetupTest() {
	var err error
	s.store, err = NewStore(s.testClient.Client)
	s.Require().NoError(err)
	s.ctx, s.cancel = context.WithTimeout(context.Background(), 30*time.Second)
}

func (s *StoreIntegrationSuite) TearDownTest() {
	s.cancel()
}

func (s *StoreIntegrationSuite) TestCreateAndGet() {
	wf := validWorkflow()
	wf.ID = "it-create-get"

	s.Require().NoError(s.store.Create(s.ctx, &wf))
	s.Equal(int64(1), wf.Version)
	s.False(wf.CreatedAt.IsZero())

	got, err := s.store.Get(s.ctx, "it-create-get")
	s.Require().NoError(err)
	s.Equal(wf.Name, got.Name)
	s.Len(got.Nodes, 2)
	s.Len(got.Edges, 1)
}

func (s *StoreIntegrationSuite) TestCreateDuplicateFails() {
	wf := validWorkflow()
	wf.ID = "it-duplicate"
	s.Require().NoError(s.store.Create(s.ctx, &wf))

	dup := validWorkflow()
	dup.ID = "it-duplicate"
	err := s.store.Create(s.ctx, &dup)
	s.Require().Error(err)
	s.True(errors.Is(err, errors.ErrWorkflowExists))
}

func (s *StoreIntegrationSuite) TestOptimisticConcurrency() {
	wf := validWorkflow()
	wf.ID = "it-occ"
	s.Require().NoError(s.store.Create(s.ctx, &wf))

	// Two readers pick up version 1
	first, err := s.store.Get(s.ctx, "it-occ")
	s.Require().NoError(err)
	second, err := s.store.Get(s.ctx, "it-occ")
	s.Require().NoError(err)

	first.Name = "First Writer"
	s.Require().NoError(s.store.Update(s.ctx, first))

	second.Name = "Second Writer"
	err = s.store.Update(s.ctx, second)
	s.Require().Error(err)
	s.True(errors.Is(err, errors.ErrVersionConflict))
}

func (s *StoreIntegrationSuite) TestEntityStateRoundTrip() {
	wf := validWorkflow()
	wf.ID = "it-entity-state"
	wf.Data.EntityState = map[string]map[string]any{
		"warren_buffett": {
			"agent_state": map[string]any{
				"status":      "COMPLETE",
				"label":       nil,
				"message":     "Done",
				"lastUpdated": time.Now().UTC().Format(time.RFC3339Nano),
				"history":     []any{},
			},
		},
	}
	s.Require().NoError(s.store.Create(s.ctx, &wf))

	got, err := s.store.Get(s.ctx, "it-entity-state")
	s.Require().NoError(err)
	s.Contains(got.Data.EntityState, "warren_buffett")
}

func (s *StoreIntegrationSuite) TestDeleteAndList() {
	a := validWorkflow()
	a.ID = "it-list-a"
	b := validWorkflow()
	b.ID = "it-list-b"
	s.Require().NoError(s.store.Create(s.ctx, &a))
	s.Require().NoError(s.store.Create(s.ctx, &b))

	s.Require().NoError(s.store.Delete(s.ctx, "it-list-a"))

	_, err := s.store.Get(s.ctx, "it-list-a")
	s.Require().Error(err)
	s.True(errors.Is(err, errors.ErrWorkflowNotFound))

	list, err := s.store.List(s.ctx)
	s.Require().NoError(err)
	ids := make([]string, 0, len(list))
	for _, wf := range list {
		ids = append(ids, wf.ID)
	}
	s.NotContains(ids, "it-list-a")
	s.Contains(ids, "it-list-b")
}
