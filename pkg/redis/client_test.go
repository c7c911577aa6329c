package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"ErrandDispatchPlatform/pkg/connection"
)

func TestConnect_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cfg := NewConfig()
	cfg.Addr = "127.0.0.1:1"
	cfg.Retry = connection.RetryConfig{MaxAttempts: 1}

	_, err := Connect(ctx, cfg)
	assert.Error(t, err)
}

func TestHealthCheck_NotInitialized(t *testing.T) {
	c := &Client{}
	assert.Error(t, c.HealthCheck(context.Background()))
	assert.NoError(t, c.Close())
}
