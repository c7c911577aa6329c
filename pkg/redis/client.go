package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"ErrandDispatchPlatform/pkg/connection"
)

// Client представляет подключение к Redis
type Client struct {
	Client *redis.Client
}

// Config представляет конфигурацию Redis
type Config struct {
	Addr        string
	Password    string
	DB          int
	PoolSize    int
	MinIdleConn int
	MaxIdleTime time.Duration

	Retry connection.RetryConfig
}

// NewConfig создает конфигурацию по умолчанию
func NewConfig() *Config {
	return &Config{
		Addr:        "localhost:6379",
		PoolSize:    10,
		MinIdleConn: 2,
		MaxIdleTime: 5 * time.Minute,
		Retry:       connection.DefaultRetryConfig(),
	}
}

// Connect создает клиента и дожидается успешного PING
func Connect(ctx context.Context, cfg *Config) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:            cfg.Addr,
		Password:        cfg.Password,
		DB:              cfg.DB,
		PoolSize:        cfg.PoolSize,
		MinIdleConns:    cfg.MinIdleConn,
		ConnMaxIdleTime: cfg.MaxIdleTime,
		DialTimeout:     5 * time.Second,
		ReadTimeout:     3 * time.Second,
		WriteTimeout:    3 * time.Second,
		PoolTimeout:     4 * time.Second,
	})

	err := connection.WithRetry(ctx, cfg.Retry, func(ctx context.Context) error {
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to ping redis: %w", err)
		}
		return nil
	})
	if err != nil {
		_ = client.Close()
		return nil, err
	}

	return &Client{Client: client}, nil
}

// Close закрывает подключение к Redis
func (r *Client) Close() error {
	if r.Client != nil {
		return r.Client.Close()
	}
	return nil
}

// HealthCheck проверяет состояние подключения к Redis
func (r *Client) HealthCheck(ctx context.Context) error {
	if r.Client == nil {
		return fmt.Errorf("redis client is not initialized")
	}
	return r.Client.Ping(ctx).Err()
}
