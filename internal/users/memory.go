package users

import (
	"context"
	"sync"
	"time"

	"github.com/wuwenbin0122/wwb.chat/internal/models"
)

// MemoryRepository keeps users in process memory.
type MemoryRepository struct {
	mu           sync.RWMutex
	usersByID    map[string]*models.User
	usersByName  map[string]*models.User
	usersByEmail map[string]*models.User
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		usersByID:    make(map[string]*models.User),
		usersByName:  make(map[string]*models.User),
		usersByEmail: make(map[string]*models.User),
	}
}

func (m *MemoryRepository) Create(_ context.Context, user *models.User) error {
	usernameKey := normalizeUsername(user.Username)
	emailKey := NormalizeEmail(user.Email)

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.usersByName[usernameKey]; exists {
		return ErrUserExists
	}
	if emailKey != "" {
		if _, exists := m.usersByEmail[emailKey]; exists {
			return ErrEmailExists
		}
	}

	stored := cloneUser(user)
	m.usersByID[stored.ID] = stored
	m.usersByName[usernameKey] = stored
	if emailKey != "" {
		m.usersByEmail[emailKey] = stored
	}
	return nil
}

func (m *MemoryRepository) GetByID(_ context.Context, id string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	user, ok := m.usersByID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneUser(user), nil
}

func (m *MemoryRepository) FindByIdentifier(_ context.Context, identifier string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if user, ok := m.usersByName[normalizeUsername(identifier)]; ok {
		return cloneUser(user), nil
	}
	if user, ok := m.usersByEmail[NormalizeEmail(identifier)]; ok {
		return cloneUser(user), nil
	}
	return nil, ErrNotFound
}

func (m *MemoryRepository) UpdateProfile(_ context.Context, id string, update ProfileUpdate) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.usersByID[id]
	if !ok {
		return nil, ErrNotFound
	}

	user.Profile = cloneProfile(update.Profile)
	if update.Nickname != nil {
		user.Nickname = *update.Nickname
	}
	user.UpdatedAt = time.Now().UTC()
	return cloneUser(user), nil
}

func (m *MemoryRepository) TouchLastActive(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.usersByID[id]
	if !ok {
		return ErrNotFound
	}
	at = at.UTC()
	user.LastActiveAt = &at
	return nil
}

// SetSuper flips the privileged flag; there is no API for it.
func (m *MemoryRepository) SetSuper(id string, super bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.usersByID[id]
	if !ok {
		return ErrNotFound
	}
	user.IsSuper = super
	return nil
}

func cloneUser(user *models.User) *models.User {
	copied := *user
	copied.Profile = cloneProfile(user.Profile)
	if user.LastActiveAt != nil {
		at := *user.LastActiveAt
		copied.LastActiveAt = &at
	}
	return &copied
}

func cloneProfile(profile *models.UserProfile) *models.UserProfile {
	if profile == nil {
		return nil
	}
	copied := models.UserProfile{}
	if profile.Age != nil {
		age := *profile.Age
		copied.Age = &age
	}
	if profile.Gender != nil {
		gender := *profile.Gender
		copied.Gender = &gender
	}
	if profile.Occupation != nil {
		occupation := *profile.Occupation
		copied.Occupation = &occupation
	}
	return &copied
}
