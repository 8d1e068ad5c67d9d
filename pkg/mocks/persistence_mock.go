package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/dukex/dunning/pkg/models"
)

// MockPopulationSource is a mock implementation of persistence.PopulationSource interface.
type MockPopulationSource struct {
	mock.Mock
}

func (m *MockPopulationSource) ActivePopulation(ctx context.Context, tenantID string) ([]models.WorkItem, error) {
	args := m.Called(ctx, tenantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]models.WorkItem), args.Error(1)
}

func (m *MockPopulationSource) DebtRecords(ctx context.Context, tenantID string, debtIDs []string) (map[string]*models.DebtRecord, error) {
	args := m.Called(ctx, tenantID, debtIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(map[string]*models.DebtRecord), args.Error(1)
}

// MockCatalogRepository is a mock implementation of persistence.CatalogRepository interface.
type MockCatalogRepository struct {
	mock.Mock
}

func (m *MockCatalogRepository) Template(ctx context.Context, tenantID, id string) (*models.Template, error) {
	args := m.Called(ctx, tenantID, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Template), args.Error(1)
}

func (m *MockCatalogRepository) Agent(ctx context.Context, tenantID, id string) (*models.Agent, error) {
	args := m.Called(ctx, tenantID, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Agent), args.Error(1)
}

// MockRetryPolicyRepository is a mock implementation of persistence.RetryPolicyRepository interface.
type MockRetryPolicyRepository struct {
	mock.Mock
}

func (m *MockRetryPolicyRepository) RetryPolicy(ctx context.Context, tenantID string, channel models.Channel) (*models.RetryPolicy, error) {
	args := m.Called(ctx, tenantID, channel)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.RetryPolicy), args.Error(1)
}

func (m *MockRetryPolicyRepository) SaveRetryPolicy(ctx context.Context, policy *models.RetryPolicy) error {
	args := m.Called(ctx, policy)

	return args.Error(0)
}

// MockActionRepository is a mock implementation of persistence.ActionRepository interface.
type MockActionRepository struct {
	mock.Mock
}

func (m *MockActionRepository) InsertAction(ctx context.Context, action *models.ScheduledAction) (bool, error) {
	args := m.Called(ctx, action)

	return args.Bool(0), args.Error(1)
}

func (m *MockActionRepository) Action(ctx context.Context, id string) (*models.ScheduledAction, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.ScheduledAction), args.Error(1)
}

func (m *MockActionRepository) DueActions(ctx context.Context, now time.Time, limit int) ([]models.DueAction, error) {
	args := m.Called(ctx, now, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]models.DueAction), args.Error(1)
}

func (m *MockActionRepository) Transition(ctx context.Context, id string, from, to models.ActionState) error {
	args := m.Called(ctx, id, from, to)

	return args.Error(0)
}

func (m *MockActionRepository) ActionsByTenant(ctx context.Context, tenantID string) ([]models.ScheduledAction, error) {
	args := m.Called(ctx, tenantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]models.ScheduledAction), args.Error(1)
}
