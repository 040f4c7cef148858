package quota

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// rowQuerier is satisfied by *pgxpool.Pool and pgx.Tx.
type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresLedger stores quota records in the daily_usage table.
type PostgresLedger struct {
	db rowQuerier
}

func NewPostgresLedger(db rowQuerier) *PostgresLedger {
	return &PostgresLedger{db: db}
}

const (
	selectUsageSQL = `SELECT message_count FROM daily_usage WHERE user_id = $1 AND date = $2::date`

	incrementUsageSQL = `INSERT INTO daily_usage (user_id, date, message_count, premium_clicks)
VALUES ($1, $2::date, 1, 0)
ON CONFLICT (user_id, date) DO UPDATE SET message_count = daily_usage.message_count + 1
RETURNING message_count`

	incrementInterestSQL = `INSERT INTO daily_usage (user_id, date, message_count, premium_clicks)
VALUES ($1, $2::date, 0, 1)
ON CONFLICT (user_id, date) DO UPDATE SET premium_clicks = daily_usage.premium_clicks + 1
RETURNING premium_clicks`
)

func (p *PostgresLedger) Count(ctx context.Context, userID, date string) (int, error) {
	var count int
	if err := p.db.QueryRow(ctx, selectUsageSQL, userID, date).Scan(&count); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("postgres query usage: %w", err)
	}
	return count, nil
}

func (p *PostgresLedger) Increment(ctx context.Context, userID, date string) (int, error) {
	var count int
	if err := p.db.QueryRow(ctx, incrementUsageSQL, userID, date).Scan(&count); err != nil {
		return 0, fmt.Errorf("postgres increment usage: %w", err)
	}
	return count, nil
}

func (p *PostgresLedger) RecordInterest(ctx context.Context, userID, date string) (int, error) {
	var clicks int
	if err := p.db.QueryRow(ctx, incrementInterestSQL, userID, date).Scan(&clicks); err != nil {
		return 0, fmt.Errorf("postgres increment interest: %w", err)
	}
	return clicks, nil
}
