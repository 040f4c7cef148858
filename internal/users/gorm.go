package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/wuwenbin0122/wwb.chat/internal/models"
)

// userRow is the users table as gorm sees it. Email is nullable so that
// accounts without one do not collide on the unique index.
type userRow struct {
	ID           string              `gorm:"primaryKey;type:text"`
	Username     string              `gorm:"uniqueIndex;not null"`
	Email        *string             `gorm:"uniqueIndex"`
	Nickname     string              `gorm:"not null;default:''"`
	PasswordHash string              `gorm:"not null"`
	Profile      *models.UserProfile `gorm:"type:jsonb;serializer:json"`
	IsSuper      bool                `gorm:"not null;default:false"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
	LastActiveAt *time.Time
}

func (userRow) TableName() string { return "users" }

func toRow(user *models.User) userRow {
	row := userRow{
		ID:           user.ID,
		Username:     user.Username,
		Nickname:     user.Nickname,
		PasswordHash: user.PasswordHash,
		Profile:      user.Profile,
		IsSuper:      user.IsSuper,
		CreatedAt:    user.CreatedAt,
		UpdatedAt:    user.UpdatedAt,
		LastActiveAt: user.LastActiveAt,
	}
	if email := strings.TrimSpace(user.Email); email != "" {
		row.Email = &email
	}
	return row
}

func (r userRow) toModel() *models.User {
	user := &models.User{
		ID:           r.ID,
		Username:     r.Username,
		Nickname:     r.Nickname,
		PasswordHash: r.PasswordHash,
		Profile:      r.Profile,
		IsSuper:      r.IsSuper,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
		LastActiveAt: r.LastActiveAt,
	}
	if r.Email != nil {
		user.Email = *r.Email
	}
	return user
}

// GormRepository persists users in Postgres through gorm.
type GormRepository struct {
	db *gorm.DB
}

func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

func (g *GormRepository) Create(ctx context.Context, user *models.User) error {
	row := toRow(user)
	if err := g.db.WithContext(ctx).Create(&row).Error; err != nil {
		return translateCreateError(err)
	}
	return nil
}

func translateCreateError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
		if strings.Contains(pgErr.ConstraintName, "email") {
			return ErrEmailExists
		}
		return ErrUserExists
	}
	return fmt.Errorf("users: create: %w", err)
}

func (g *GormRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	var row userRow
	if err := g.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		return nil, translateLookupError(err)
	}
	return row.toModel(), nil
}

func (g *GormRepository) FindByIdentifier(ctx context.Context, identifier string) (*models.User, error) {
	var row userRow
	err := g.db.WithContext(ctx).
		Where("LOWER(username) = ? OR LOWER(email) = ?", normalizeUsername(identifier), NormalizeEmail(identifier)).
		First(&row).Error
	if err != nil {
		return nil, translateLookupError(err)
	}
	return row.toModel(), nil
}

func (g *GormRepository) UpdateProfile(ctx context.Context, id string, update ProfileUpdate) (*models.User, error) {
	var row userRow
	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", id).First(&row).Error; err != nil {
			return err
		}
		row.Profile = update.Profile
		if update.Nickname != nil {
			row.Nickname = *update.Nickname
		}
		return tx.Model(&row).Select("Profile", "Nickname", "UpdatedAt").Updates(&row).Error
	})
	if err != nil {
		return nil, translateLookupError(err)
	}
	return row.toModel(), nil
}

func (g *GormRepository) TouchLastActive(ctx context.Context, id string, at time.Time) error {
	result := g.db.WithContext(ctx).Model(&userRow{}).Where("id = ?", id).Update("last_active_at", at.UTC())
	if result.Error != nil {
		return fmt.Errorf("users: touch last active: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SetSuper flips the privileged flag of an account.
func (g *GormRepository) SetSuper(ctx context.Context, id string, super bool) error {
	result := g.db.WithContext(ctx).Model(&userRow{}).Where("id = ?", id).
		Updates(map[string]any{"is_super": super, "updated_at": time.Now().UTC()})
	if result.Error != nil {
		return fmt.Errorf("users: set super: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func translateLookupError(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return fmt.Errorf("users: query: %w", err)
}
