package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/wuwenbin0122/wwb.chat/internal/models"
	"github.com/wuwenbin0122/wwb.chat/internal/users"
)

const (
	CookieName = "auth_token"
	DefaultTTL = 7 * 24 * time.Hour

	minPasswordLength = 6
)

var (
	ErrSecretRequired     = errors.New("auth: jwt secret required")
	ErrUserExists         = errors.New("auth: user already exists")
	ErrEmailExists        = errors.New("auth: email already registered")
	ErrUsernameRequired   = errors.New("auth: username is required")
	ErrPasswordTooWeak    = errors.New("auth: password must be at least 6 characters")
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrInvalidToken       = errors.New("auth: invalid token")
	ErrUnauthenticated    = errors.New("auth: no valid credentials presented")
)

type RegisterInput struct {
	Username string
	Email    string
	Password string
	Nickname string
}

type LoginInput struct {
	Identifier string
	Password   string
}

type AuthResult struct {
	Token     string
	ExpiresAt time.Time
	User      models.User
}

// Claims is the signed token payload.
type Claims struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Identity is the authenticated caller of a request.
type Identity struct {
	UserID   string
	Username string
}

type Service struct {
	secret []byte
	ttl    time.Duration
	users  users.Repository
	now    func() time.Time
}

func NewService(secret string, ttl time.Duration, repo users.Repository) (*Service, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, ErrSecretRequired
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if repo == nil {
		repo = users.NewMemoryRepository()
	}

	return &Service{
		secret: []byte(secret),
		ttl:    ttl,
		users:  repo,
		now:    time.Now,
	}, nil
}

// SetClock overrides the time source used for issuing and verifying tokens.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Service) TTL() time.Duration { return s.ttl }

func (s *Service) Users() users.Repository { return s.users }

func (s *Service) Register(ctx context.Context, input RegisterInput) (*AuthResult, error) {
	username := strings.TrimSpace(input.Username)
	if username == "" {
		return nil, ErrUsernameRequired
	}
	if len(strings.TrimSpace(input.Password)) < minPasswordLength {
		return nil, ErrPasswordTooWeak
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	nickname := strings.TrimSpace(input.Nickname)
	if nickname == "" {
		nickname = defaultNickname(username, input.Email)
	}

	now := s.now().UTC()
	user := &models.User{
		ID:           uuid.NewString(),
		Username:     username,
		Email:        users.NormalizeEmail(input.Email),
		Nickname:     nickname,
		PasswordHash: string(hash),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.users.Create(ctx, user); err != nil {
		switch {
		case errors.Is(err, users.ErrUserExists):
			return nil, ErrUserExists
		case errors.Is(err, users.ErrEmailExists):
			return nil, ErrEmailExists
		}
		return nil, err
	}

	return s.issue(user)
}

func (s *Service) Login(ctx context.Context, input LoginInput) (*AuthResult, error) {
	identifier := strings.TrimSpace(input.Identifier)
	if identifier == "" || strings.TrimSpace(input.Password) == "" {
		return nil, ErrInvalidCredentials
	}

	user, err := s.users.FindByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, users.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(input.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	now := s.now().UTC()
	if err := s.users.TouchLastActive(ctx, user.ID, now); err != nil {
		return nil, err
	}
	user.LastActiveAt = &now

	return s.issue(user)
}

// VerifyToken checks the signature and expiry of an HS256 token.
func (s *Service) VerifyToken(token string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.UserID == "" {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

// Authenticate resolves the caller from the auth cookie, or from a Bearer
// token when no cookie is present.
func (s *Service) Authenticate(r *http.Request) (*Identity, error) {
	if cookie, err := r.Cookie(CookieName); err == nil && cookie.Value != "" {
		return s.identityFromToken(cookie.Value)
	}

	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		return s.identityFromToken(strings.TrimSpace(header[7:]))
	}

	return nil, ErrUnauthenticated
}

func (s *Service) identityFromToken(token string) (*Identity, error) {
	claims, err := s.VerifyToken(token)
	if err != nil {
		return nil, ErrUnauthenticated
	}
	return &Identity{UserID: claims.UserID, Username: claims.Username}, nil
}

func (s *Service) issue(user *models.User) (*AuthResult, error) {
	token, expiresAt, err := s.generateToken(user)
	if err != nil {
		return nil, err
	}

	return &AuthResult{
		Token:     token,
		ExpiresAt: expiresAt,
		User:      user.Sanitize(),
	}, nil
}

func (s *Service) generateToken(user *models.User) (string, time.Time, error) {
	now := s.now().UTC()
	expiresAt := now.Add(s.ttl)
	claims := Claims{
		UserID:   user.ID,
		Username: user.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, err
	}

	return signed, expiresAt, nil
}

func defaultNickname(username, email string) string {
	if at := strings.Index(email, "@"); at > 0 {
		return strings.TrimSpace(email[:at])
	}
	return username
}
