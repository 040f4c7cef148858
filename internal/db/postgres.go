package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wuwenbin0122/wwb.chat/internal/utils"
)

type Postgres struct {
	Pool *pgxpool.Pool
}

func NewPostgres(ctx context.Context, cfg utils.PostgresConfig) (*Postgres, error) {
	dsn := cfg.BuildDSN()
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}

	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns >= 0 {
		poolConfig.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.HealthCheckPeriod > 0 {
		poolConfig.HealthCheckPeriod = cfg.HealthCheckPeriod
	}

	ctx, cancel := context.WithTimeout(ctx, timeoutOrDefault(cfg.ConnectTimeout))
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}

	return &Postgres{Pool: pool}, nil
}

func (p *Postgres) Close() {
	if p == nil || p.Pool == nil {
		return
	}
	p.Pool.Close()
}

func (p *Postgres) Ping(ctx context.Context) error {
	if p == nil || p.Pool == nil {
		return fmt.Errorf("postgres: pool not initialised")
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return p.Pool.Ping(ctx)
}

// EnsureSchema creates the users, conversations and daily_usage tables.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if p == nil || p.Pool == nil {
		return fmt.Errorf("postgres: pool not initialised")
	}

	statements := []string{
		strings.Join([]string{
			"CREATE TABLE IF NOT EXISTS users (",
			"    id TEXT PRIMARY KEY,",
			"    username TEXT NOT NULL UNIQUE,",
			"    email TEXT UNIQUE,",
			"    nickname TEXT NOT NULL DEFAULT '',",
			"    password_hash TEXT NOT NULL,",
			"    profile JSONB,",
			"    is_super BOOLEAN NOT NULL DEFAULT FALSE,",
			"    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),",
			"    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),",
			"    last_active_at TIMESTAMPTZ",
			")",
		}, "\n"),
		strings.Join([]string{
			"CREATE TABLE IF NOT EXISTS conversations (",
			"    id TEXT PRIMARY KEY,",
			"    user_id TEXT NOT NULL,",
			"    persona_id TEXT NOT NULL,",
			"    messages JSONB NOT NULL DEFAULT '[]'::jsonb,",
			"    message_count INTEGER NOT NULL DEFAULT 0,",
			"    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),",
			"    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),",
			"    UNIQUE (user_id, persona_id)",
			")",
		}, "\n"),
		"CREATE INDEX IF NOT EXISTS conversations_user_updated_idx ON conversations (user_id, updated_at DESC)",
		strings.Join([]string{
			"CREATE TABLE IF NOT EXISTS daily_usage (",
			"    user_id TEXT NOT NULL,",
			"    date DATE NOT NULL,",
			"    message_count INTEGER NOT NULL DEFAULT 0,",
			"    premium_clicks INTEGER NOT NULL DEFAULT 0,",
			"    PRIMARY KEY (user_id, date)",
			")",
		}, "\n"),
	}

	for _, stmt := range statements {
		if _, err := p.Pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: ensure schema: %w", err)
		}
	}

	return nil
}

func timeoutOrDefault(value time.Duration) time.Duration {
	if value > 0 {
		return value
	}
	return 10 * time.Second
}
