// Package users stores account records behind a small repository interface.
package users

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/wuwenbin0122/wwb.chat/internal/models"
)

var (
	ErrNotFound    = errors.New("users: user not found")
	ErrUserExists  = errors.New("users: username already taken")
	ErrEmailExists = errors.New("users: email already registered")
)

// ProfileUpdate carries the editable profile fields. A nil Nickname leaves
// the stored nickname unchanged.
type ProfileUpdate struct {
	Profile  *models.UserProfile
	Nickname *string
}

type Repository interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id string) (*models.User, error)
	// FindByIdentifier matches a username or an email, case-insensitively.
	FindByIdentifier(ctx context.Context, identifier string) (*models.User, error)
	UpdateProfile(ctx context.Context, id string, update ProfileUpdate) (*models.User, error)
	TouchLastActive(ctx context.Context, id string, at time.Time) error
}

func NormalizeEmail(email string) string {
	return strings.TrimSpace(strings.ToLower(email))
}

func normalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}
