package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/dukex/dunning/pkg/channels"
)

// MockSender is a mock implementation of channels.Sender interface.
type MockSender struct {
	mock.Mock
}

func (m *MockSender) Send(ctx context.Context, req channels.Request) channels.Result {
	args := m.Called(ctx, req)

	return args.Get(0).(channels.Result)
}
