package logger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNewLogger проверяет создание логгера для разных окружений
func TestNewLogger(t *testing.T) {
	for _, env := range []string{"dev", "staging", "prod"} {
		t.Run(env, func(t *testing.T) {
			l, err := NewLogger(env, "debug", "dispatch-service")
			require.NoError(t, err)
			require.NotNil(t, l)

			l.Debug("debug message")
			l.Info("info message", String("task_id", "t-1"))
			l.Warn("warn message", Duration("elapsed", time.Second))
			l.Error("error message", Error(errors.New("boom")))
		})
	}
}

func TestNewLogger_InvalidLevelFallsBackToInfo(t *testing.T) {
	l, err := NewLogger("dev", "loud", "dispatch-service")
	require.NoError(t, err)
	assert.NotNil(t, l)
}

func TestLogger_With(t *testing.T) {
	l := NewNop().With(String("component", "agent"), Int("generation", 2))
	require.NotNil(t, l)
	l.Info("still works")
	assert.NoError(t, l.Sync())
}

// TestCtxField проверяет извлечение trace_id из контекста
func TestCtxField(t *testing.T) {
	ctx := ContextWithTraceID(context.Background(), "trace-123")

	field := CtxField(ctx)
	assert.Equal(t, "trace_id", field.Key)
	assert.Equal(t, "trace-123", field.String)

	missing := CtxField(context.Background())
	assert.Equal(t, "unknown", missing.String)
}

func TestFields(t *testing.T) {
	assert.Equal(t, "lat", Float64("lat", 55.75).Key)
	assert.Equal(t, "online", Bool("online", true).Key)
	assert.Equal(t, "price", Int64("price", 11000).Key)
	assert.Equal(t, "error", Error(nil).Key)
	assert.Equal(t, "nil", Error(nil).String)
	assert.Equal(t, "at", Time("at", time.Now()).Key)
	assert.Equal(t, "data", Any("data", map[string]int{"a": 1}).Key)
}
