package mocks

import (
	"context"

	"github.com/dukex/rentflow/pkg/executor"
	"github.com/stretchr/testify/mock"
)

// MockEmailSender is a mock implementation of executor.EmailSender.
type MockEmailSender struct {
	mock.Mock
}

func (m *MockEmailSender) SendEmail(ctx context.Context, to, template string, vars map[string]any) error {
	args := m.Called(ctx, to, template, vars)

	return args.Error(0)
}

// MockSMSSender is a mock implementation of executor.SMSSender.
type MockSMSSender struct {
	mock.Mock
}

func (m *MockSMSSender) SendSMS(ctx context.Context, to, message string) error {
	args := m.Called(ctx, to, message)

	return args.Error(0)
}

// MockTaskCreator is a mock implementation of executor.TaskCreator.
type MockTaskCreator struct {
	mock.Mock
}

func (m *MockTaskCreator) CreateTask(ctx context.Context, task executor.Task) (string, error) {
	args := m.Called(ctx, task)

	return args.String(0), args.Error(1)
}

// MockRecordUpdater is a mock implementation of executor.RecordUpdater.
type MockRecordUpdater struct {
	mock.Mock
}

func (m *MockRecordUpdater) UpdateRecord(ctx context.Context, entityType, id string, patch map[string]any) error {
	args := m.Called(ctx, entityType, id, patch)

	return args.Error(0)
}

// MockDocumentGenerator is a mock implementation of executor.DocumentGenerator.
type MockDocumentGenerator struct {
	mock.Mock
}

func (m *MockDocumentGenerator) GenerateDocument(ctx context.Context, template string, vars map[string]any) (string, error) {
	args := m.Called(ctx, template, vars)

	return args.String(0), args.Error(1)
}

// MockNotificationSender is a mock implementation of executor.NotificationSender.
type MockNotificationSender struct {
	mock.Mock
}

func (m *MockNotificationSender) SendNotification(ctx context.Context, recipientID string, payload map[string]any) error {
	args := m.Called(ctx, recipientID, payload)

	return args.Error(0)
}

// MockWebhookCaller is a mock implementation of executor.WebhookCaller.
type MockWebhookCaller struct {
	mock.Mock
}

func (m *MockWebhookCaller) CallWebhook(ctx context.Context, url string, payload map[string]any) (int, error) {
	args := m.Called(ctx, url, payload)

	return args.Int(0), args.Error(1)
}

// MockStatusUpdater is a mock implementation of executor.StatusUpdater.
type MockStatusUpdater struct {
	mock.Mock
}

func (m *MockStatusUpdater) SetStatus(ctx context.Context, entityType, id, status string) error {
	args := m.Called(ctx, entityType, id, status)

	return args.Error(0)
}
