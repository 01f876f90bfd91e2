package mocks

import (
	"context"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/dukex/procflow/pkg/models"
	"github.com/dukex/procflow/pkg/notifications"
	"github.com/stretchr/testify/mock"
)

// MockPublisher is a mock implementation of watermill message.Publisher interface.
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(topic string, messages ...*message.Message) error {
	args := m.Called(topic, messages)

	return args.Error(0)
}

func (m *MockPublisher) Close() error {
	args := m.Called()

	return args.Error(0)
}

// MockSender is a mock implementation of notifications.Sender interface.
type MockSender struct {
	mock.Mock
}

func (m *MockSender) Send(ctx context.Context, userID, template string, variables map[string]any, meta notifications.Meta) error {
	args := m.Called(ctx, userID, template, variables, meta)

	return args.Error(0)
}

// MockActionHandler records invocations of an action handler.
type MockActionHandler struct {
	mock.Mock
}

func (m *MockActionHandler) Handle(ctx context.Context, instance *models.WorkflowInstance, step *models.WorkflowStep, payload map[string]any) (map[string]any, error) {
	args := m.Called(ctx, instance, step, payload)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(map[string]any), args.Error(1)
}
