package server

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/raterudder/octobridge/pkg/entity"
	"github.com/raterudder/octobridge/pkg/types"
)

type mockEntities struct {
	mock.Mock
	list []entity.Entity
}

func (m *mockEntities) List() []entity.Entity {
	return m.list
}

func (m *mockEntities) Get(entityID string) (entity.Entity, bool) {
	for _, e := range m.list {
		if e.EntityID() == entityID {
			return e, true
		}
	}
	return nil, false
}

func (m *mockEntities) SetValue(ctx context.Context, entityID, value string) error {
	args := m.Called(ctx, entityID, value)
	return args.Error(0)
}

type mockIssues struct {
	mock.Mock
}

func (m *mockIssues) List(ctx context.Context) ([]types.Issue, error) {
	args := m.Called(ctx)
	if v := args.Get(0); v != nil {
		return v.([]types.Issue), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockRefresher struct {
	mock.Mock
}

func (m *mockRefresher) Refresh(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

type mockHealthChecker struct {
	mock.Mock
}

func (m *mockHealthChecker) HealthCheck(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
