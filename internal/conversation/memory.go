package conversation

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wuwenbin0122/wwb.chat/internal/models"
)

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu    sync.RWMutex
	convs map[Key]*models.Conversation
	clock clock
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{convs: make(map[Key]*models.Conversation)}
}

// SetClock overrides the time source used for created/updated stamps.
func (m *MemoryStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	m.clock = now
	m.mu.Unlock()
}

func (m *MemoryStore) Get(_ context.Context, key Key) ([]models.Message, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	conv, ok := m.convs[key]
	if !ok {
		return []models.Message{}, nil
	}
	return append([]models.Message{}, conv.Messages...), nil
}

func (m *MemoryStore) Append(_ context.Context, key Key, messages []models.Message) error {
	if err := key.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.now()
	conv, ok := m.convs[key]
	if !ok {
		conv = &models.Conversation{
			ID:        uuid.NewString(),
			UserID:    key.UserID,
			PersonaID: key.PersonaID,
			Messages:  []models.Message{},
			CreatedAt: now,
		}
		m.convs[key] = conv
	}

	conv.Messages = append(conv.Messages, messages...)
	conv.MessageCount = len(conv.Messages)
	conv.UpdatedAt = now
	return nil
}

func (m *MemoryStore) Reset(_ context.Context, key Key) error {
	if err := key.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if conv, ok := m.convs[key]; ok {
		conv.Messages = []models.Message{}
		conv.MessageCount = 0
		conv.UpdatedAt = m.clock.now()
	}
	return nil
}

func (m *MemoryStore) List(_ context.Context, userID string) ([]models.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]models.Conversation, 0)
	for key, conv := range m.convs {
		if key.UserID != userID {
			continue
		}
		copied := *conv
		copied.Messages = append([]models.Message{}, conv.Messages...)
		result = append(result, copied)
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].UpdatedAt.After(result[j].UpdatedAt)
	})
	return result, nil
}
