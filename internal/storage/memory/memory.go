package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"authsvc/internal/domain/models"
	"authsvc/internal/storage"

	"github.com/google/uuid"
)

// Storage keeps users in process memory. Intended for local runs and tests.
type Storage struct {
	mu    sync.RWMutex
	users map[string]*models.User
	now   func() time.Time
}

func New() *Storage {
	return &Storage{
		users: make(map[string]*models.User),
		now:   time.Now,
	}
}

// SaveUser stores a new user and returns the generated ID.
func (s *Storage) SaveUser(_ context.Context, user models.User) (string, error) {
	const op = "storage.memory.SaveUser"

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.Username == user.Username || u.Email == user.Email {
			return "", fmt.Errorf("%s: %w", op, storage.ErrUserExists)
		}
	}

	now := s.now()
	user.ID = uuid.NewString()
	user.CreatedAt = now
	user.UpdatedAt = now
	user.PassHash = append([]byte(nil), user.PassHash...)
	user.RefreshToken = nil

	s.users[user.ID] = &user

	return user.ID, nil
}

func (s *Storage) UserByID(_ context.Context, userID string) (*models.User, error) {
	const op = "storage.memory.UserByID"

	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[userID]
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
	}

	return clone(u), nil
}

// Profile returns the user without password hash and refresh token.
func (s *Storage) Profile(ctx context.Context, userID string) (*models.User, error) {
	const op = "storage.memory.Profile"

	u, err := s.UserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return u.Public(), nil
}

// UserByLogin finds a user whose username or email matches. Empty arguments
// are ignored.
func (s *Storage) UserByLogin(_ context.Context, username, email string) (*models.User, error) {
	const op = "storage.memory.UserByLogin"

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if (username != "" && u.Username == username) || (email != "" && u.Email == email) {
			return clone(u), nil
		}
	}

	return nil, fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
}

func (s *Storage) SetRefreshToken(_ context.Context, userID, token string) error {
	const op = "storage.memory.SetRefreshToken"

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
	}

	u.RefreshToken = &token
	u.UpdatedAt = s.now()

	return nil
}

// ReplaceRefreshToken swaps oldToken for newToken only if oldToken is still
// the stored one.
func (s *Storage) ReplaceRefreshToken(_ context.Context, userID, oldToken, newToken string) error {
	const op = "storage.memory.ReplaceRefreshToken"

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
	}
	if u.RefreshToken == nil || *u.RefreshToken != oldToken {
		return fmt.Errorf("%s: %w", op, storage.ErrRefreshTokenMismatch)
	}

	u.RefreshToken = &newToken
	u.UpdatedAt = s.now()

	return nil
}

func (s *Storage) ClearRefreshToken(_ context.Context, userID string) error {
	const op = "storage.memory.ClearRefreshToken"

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
	}

	u.RefreshToken = nil
	u.UpdatedAt = s.now()

	return nil
}

func clone(u *models.User) *models.User {
	c := *u
	c.PassHash = append([]byte(nil), u.PassHash...)
	if u.RefreshToken != nil {
		token := *u.RefreshToken
		c.RefreshToken = &token
	}
	return &c
}
