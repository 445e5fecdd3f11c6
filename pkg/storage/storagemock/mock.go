package storagemock

import (
	"context"

	"github.com/raterudder/octobridge/pkg/storage"
	"github.com/raterudder/octobridge/pkg/types"
	"github.com/stretchr/testify/mock"
)

type MockDatabase struct {
	mock.Mock
}

var _ storage.Database = (*MockDatabase)(nil)

func (m *MockDatabase) GetEntityState(ctx context.Context, entityID string) (types.EntityState, error) {
	args := m.Called(ctx, entityID)
	return args.Get(0).(types.EntityState), args.Error(1)
}

func (m *MockDatabase) SetEntityState(ctx context.Context, state types.EntityState) error {
	args := m.Called(ctx, state)
	return args.Error(0)
}

func (m *MockDatabase) ListEntityStates(ctx context.Context) ([]types.EntityState, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]types.EntityState), args.Error(1)
}

func (m *MockDatabase) GetPreviousConsumption(ctx context.Context, key string) ([]types.Consumption, bool, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).([]types.Consumption), args.Bool(1), args.Error(2)
}

func (m *MockDatabase) SetPreviousConsumption(ctx context.Context, key string, data []types.Consumption) error {
	args := m.Called(ctx, key, data)
	return args.Error(0)
}

func (m *MockDatabase) UpsertIssue(ctx context.Context, issue types.Issue) error {
	args := m.Called(ctx, issue)
	return args.Error(0)
}

func (m *MockDatabase) DeleteIssue(ctx context.Context, domain, key string) error {
	args := m.Called(ctx, domain, key)
	return args.Error(0)
}

func (m *MockDatabase) ListIssues(ctx context.Context) ([]types.Issue, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]types.Issue), args.Error(1)
}

func (m *MockDatabase) HealthCheck(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockDatabase) Close() error {
	args := m.Called()
	return args.Error(0)
}
