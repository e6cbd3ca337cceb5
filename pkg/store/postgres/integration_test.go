//go:build integration

// Integration tests for the PostgreSQL lifecycle store. They start a
// PostgreSQL container through testcontainers and need Docker.
//
//	go test -v -race -tags=integration ./pkg/store/postgres/...
package postgres_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/Walrus94/DevCycle-sub001/internal/testutil/containers"
	sserr "github.com/Walrus94/DevCycle-sub001/pkg/errors"
	"github.com/Walrus94/DevCycle-sub001/pkg/lifecycle"
	"github.com/Walrus94/DevCycle-sub001/pkg/store/postgres"
)

type StoreSuite struct {
	suite.Suite
	ctx       context.Context
	container *containers.PostgresResult
	store     *postgres.Store
}

func TestStoreSuite(t *testing.T) {
	suite.Run(t, new(StoreSuite))
}

func (s *StoreSuite) SetupSuite() {
	s.ctx = context.Background()

	result, err := containers.StartPostgres(s.ctx)
	s.Require().NoError(err)
	s.container = result

	store, err := postgres.New(s.ctx, postgres.Config{URI: result.ConnString, MaxConns: 5, MinConns: 1}, nil)
	s.Require().NoError(err)
	s.store = store
	s.Require().NoError(s.store.EnsureSchema(s.ctx))
}

func (s *StoreSuite) TearDownSuite() {
	if s.store != nil {
		s.store.Close()
	}
	if s.container != nil {
		_ = s.container.Container.Terminate(s.ctx)
	}
}

func (s *StoreSuite) TestEnsureSchemaIsIdempotent() {
	s.Require().NoError(s.store.EnsureSchema(s.ctx))
}

func (s *StoreSuite) TestServiceWritesThroughRepository() {
	svc := lifecycle.NewService(lifecycle.WithRepository(s.store))
	id := lifecycle.NewAgentID()

	s.Require().True(svc.DeployAgent(s.ctx, id, nil))
	s.Require().True(svc.StartAgent(s.ctx, id, nil))
	s.Require().True(svc.AssignTask(s.ctx, id))

	state, err := s.store.CurrentState(s.ctx, id)
	s.Require().NoError(err)
	s.Equal(lifecycle.StateBusy, state)

	history, err := s.store.LoadHistory(s.ctx, id, 0)
	s.Require().NoError(err)
	s.Require().Len(history, 5)
	s.Equal(lifecycle.StateRegistered, history[0].From)
	s.Equal(lifecycle.StateDeploying, history[0].To)
	s.Equal(lifecycle.StateBusy, history[4].To)

	recent, err := s.store.LoadHistory(s.ctx, id, 2)
	s.Require().NoError(err)
	s.Require().Len(recent, 2)
	s.Equal(history[3].To, recent[0].To)
	s.Equal(history[4].To, recent[1].To)
}

func (s *StoreSuite) TestCurrentStateUnknownAgent() {
	_, err := s.store.CurrentState(s.ctx, lifecycle.NewAgentID())
	s.Require().Error(err)
	s.Equal(sserr.CodeNotFoundAgent, sserr.GetCode(err))
}

func (s *StoreSuite) TestHealth() {
	s.NoError(s.store.Health(s.ctx))
}
