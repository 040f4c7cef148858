package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/wuwenbin0122/wwb.chat/internal/models"
)

// pgxConn is satisfied by *pgxpool.Pool.
type pgxConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore keeps the messages of a conversation as one JSONB array.
type PostgresStore struct {
	db    pgxConn
	clock clock
}

func NewPostgresStore(db pgxConn) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) SetClock(now func() time.Time) {
	s.clock = now
}

const (
	selectMessagesSQL = `SELECT messages FROM conversations WHERE user_id = $1 AND persona_id = $2`

	appendMessagesSQL = `INSERT INTO conversations (id, user_id, persona_id, messages, message_count, created_at, updated_at)
VALUES ($1, $2, $3, $4::jsonb, $5, $6, $6)
ON CONFLICT (user_id, persona_id) DO UPDATE SET
    messages = conversations.messages || EXCLUDED.messages,
    message_count = conversations.message_count + EXCLUDED.message_count,
    updated_at = EXCLUDED.updated_at`

	resetMessagesSQL = `UPDATE conversations SET messages = '[]'::jsonb, message_count = 0, updated_at = $3
WHERE user_id = $1 AND persona_id = $2`

	listConversationsSQL = `SELECT id, persona_id, messages, message_count, created_at, updated_at
FROM conversations WHERE user_id = $1 ORDER BY updated_at DESC`
)

func (s *PostgresStore) Get(ctx context.Context, key Key) ([]models.Message, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	var raw []byte
	if err := s.db.QueryRow(ctx, selectMessagesSQL, key.UserID, key.PersonaID).Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return []models.Message{}, nil
		}
		return nil, fmt.Errorf("postgres query conversation: %w", err)
	}

	return decodeMessages(raw)
}

func (s *PostgresStore) Append(ctx context.Context, key Key, messages []models.Message) error {
	if err := key.Validate(); err != nil {
		return err
	}

	payload, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("postgres encode messages: %w", err)
	}

	now := s.clock.now()
	if _, err := s.db.Exec(ctx, appendMessagesSQL, uuid.NewString(), key.UserID, key.PersonaID, string(payload), len(messages), now); err != nil {
		return fmt.Errorf("postgres append conversation: %w", err)
	}
	return nil
}

func (s *PostgresStore) Reset(ctx context.Context, key Key) error {
	if err := key.Validate(); err != nil {
		return err
	}

	if _, err := s.db.Exec(ctx, resetMessagesSQL, key.UserID, key.PersonaID, s.clock.now()); err != nil {
		return fmt.Errorf("postgres reset conversation: %w", err)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, userID string) ([]models.Conversation, error) {
	rows, err := s.db.Query(ctx, listConversationsSQL, userID)
	if err != nil {
		return nil, fmt.Errorf("postgres list conversations: %w", err)
	}
	defer rows.Close()

	result := make([]models.Conversation, 0)
	for rows.Next() {
		conv := models.Conversation{UserID: userID}
		var raw []byte
		if err := rows.Scan(&conv.ID, &conv.PersonaID, &raw, &conv.MessageCount, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres scan conversation: %w", err)
		}
		if conv.Messages, err = decodeMessages(raw); err != nil {
			return nil, err
		}
		result = append(result, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres iterate conversations: %w", err)
	}
	return result, nil
}

func decodeMessages(raw []byte) ([]models.Message, error) {
	messages := []models.Message{}
	if len(raw) == 0 {
		return messages, nil
	}
	if err := json.Unmarshal(raw, &messages); err != nil {
		return nil, fmt.Errorf("postgres decode messages: %w", err)
	}
	return messages, nil
}
