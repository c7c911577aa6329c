package database

import (
	"context"
	"fmt"
	"io/fs"
	"net/url"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"ErrandDispatchPlatform/pkg/connection"
)

// Postgres представляет пул подключений к PostgreSQL
type Postgres struct {
	Pool *pgxpool.Pool
}

// Config представляет конфигурацию PostgreSQL
type Config struct {
	// DSN имеет приоритет над отдельными полями подключения
	DSN      string
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	MaxConns    int32
	MinConns    int32
	MaxConnLife time.Duration
	MaxConnIdle time.Duration
	HealthCheck time.Duration

	Retry connection.RetryConfig
}

// NewConfig создает конфигурацию по умолчанию
func NewConfig() *Config {
	return &Config{
		Host:        "localhost",
		Port:        5432,
		User:        "errands",
		Password:    "errands",
		Database:    "errands",
		SSLMode:     "disable",
		MaxConns:    20,
		MinConns:    2,
		MaxConnLife: 30 * time.Minute,
		MaxConnIdle: 5 * time.Minute,
		HealthCheck: 30 * time.Second,
		Retry:       connection.DefaultRetryConfig(),
	}
}

// ConnString собирает строку подключения из полей конфигурации
func (c *Config) ConnString() string {
	if c.DSN != "" {
		return c.DSN
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     "/" + c.Database,
		RawQuery: url.Values{"sslmode": []string{c.SSLMode}}.Encode(),
	}
	return u.String()
}

// Connect открывает пул и проверяет его пингом, повторяя попытки по cfg.Retry
func Connect(ctx context.Context, cfg *Config) (*Postgres, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnString())
	if err != nil {
		return nil, fmt.Errorf("failed to parse pool config: %w", err)
	}
	poolConfig.MaxConns = cfg.MaxConns
	poolConfig.MinConns = cfg.MinConns
	poolConfig.MaxConnLifetime = cfg.MaxConnLife
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdle
	poolConfig.HealthCheckPeriod = cfg.HealthCheck

	var pool *pgxpool.Pool
	err = connection.WithRetry(ctx, cfg.Retry, func(ctx context.Context) error {
		p, err := pgxpool.NewWithConfig(ctx, poolConfig)
		if err != nil {
			return fmt.Errorf("failed to create pool: %w", err)
		}
		if err := p.Ping(ctx); err != nil {
			p.Close()
			return fmt.Errorf("failed to ping database: %w", err)
		}
		pool = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &Postgres{Pool: pool}, nil
}

// Migrate применяет goose-миграции из fsys/dir
func (p *Postgres) Migrate(ctx context.Context, fsys fs.FS, dir string) error {
	db := stdlib.OpenDBFromPool(p.Pool)
	defer db.Close()

	goose.SetBaseFS(fsys)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, dir); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

// Close закрывает пул
func (p *Postgres) Close() {
	if p.Pool != nil {
		p.Pool.Close()
	}
}

// HealthCheck проверяет состояние подключения к базе данных
func (p *Postgres) HealthCheck(ctx context.Context) error {
	if p.Pool == nil {
		return fmt.Errorf("database pool is not initialized")
	}

	var result string
	return p.Pool.QueryRow(ctx, "SELECT 'healthy'").Scan(&result)
}
