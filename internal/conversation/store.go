// Package conversation persists the ordered message log of each
// (user, persona) pair.
package conversation

import (
	"context"
	"errors"
	"time"

	"github.com/wuwenbin0122/wwb.chat/internal/models"
)

var ErrKeyRequired = errors.New("conversation: user id and persona id are required")

// Key identifies one conversation.
type Key struct {
	UserID    string
	PersonaID string
}

func (k Key) Validate() error {
	if k.UserID == "" || k.PersonaID == "" {
		return ErrKeyRequired
	}
	return nil
}

// Store is the conversation persistence contract. Append creates the
// conversation when absent and writes all given messages in one atomic
// operation, so readers never observe a partial turn.
type Store interface {
	Get(ctx context.Context, key Key) ([]models.Message, error)
	Append(ctx context.Context, key Key, messages []models.Message) error
	Reset(ctx context.Context, key Key) error
	List(ctx context.Context, userID string) ([]models.Conversation, error)
}

type clock func() time.Time

func (c clock) now() time.Time {
	if c == nil {
		return time.Now().UTC()
	}
	return c().UTC()
}
