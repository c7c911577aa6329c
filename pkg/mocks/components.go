package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"ErrandDispatchPlatform/pkg/logger"
	"ErrandDispatchPlatform/pkg/rabbitmq"
)

// MockLogger имитирует logger.Logger. With возвращает сам мок.
type MockLogger struct {
	mock.Mock
}

func (m *MockLogger) Debug(msg string, fields ...logger.Field) {
	m.Called(msg, fields)
}

func (m *MockLogger) Info(msg string, fields ...logger.Field) {
	m.Called(msg, fields)
}

func (m *MockLogger) Warn(msg string, fields ...logger.Field) {
	m.Called(msg, fields)
}

func (m *MockLogger) Error(msg string, fields ...logger.Field) {
	m.Called(msg, fields)
}

func (m *MockLogger) With(fields ...logger.Field) logger.Logger {
	return m
}

func (m *MockLogger) Sync() error {
	return nil
}

// NewPermissiveLogger возвращает MockLogger, принимающий любые вызовы
func NewPermissiveLogger() *MockLogger {
	m := &MockLogger{}
	for _, method := range []string{"Debug", "Info", "Warn", "Error"} {
		m.On(method, mock.Anything, mock.Anything).Maybe()
	}
	return m
}

// MockPublisher имитирует rabbitmq.Publisher
type MockPublisher struct {
	mock.Mock
}

var _ rabbitmq.Publisher = (*MockPublisher)(nil)

func (m *MockPublisher) Publish(ctx context.Context, body []byte, options ...rabbitmq.PublishOption) error {
	args := m.Called(ctx, body, options)
	return args.Error(0)
}

// MockRateLimiter имитирует ratelimit.RateLimiter
type MockRateLimiter struct {
	mock.Mock
}

func (m *MockRateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	args := m.Called(ctx, key, limit, window)
	return args.Bool(0), args.Error(1)
}
