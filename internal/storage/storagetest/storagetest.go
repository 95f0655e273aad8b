// Package storagetest holds a behavioural test suite shared by every user
// store implementation.
package storagetest

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"authsvc/internal/domain/models"
	"authsvc/internal/storage"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type Store interface {
	SaveUser(ctx context.Context, user models.User) (string, error)
	UserByID(ctx context.Context, userID string) (*models.User, error)
	Profile(ctx context.Context, userID string) (*models.User, error)
	UserByLogin(ctx context.Context, username, email string) (*models.User, error)
	SetRefreshToken(ctx context.Context, userID, token string) error
	ReplaceRefreshToken(ctx context.Context, userID, oldToken, newToken string) error
	ClearRefreshToken(ctx context.Context, userID string) error
}

// MissingIDFunc returns a well-formed ID that no stored user has.
type MissingIDFunc func() string

func FakeUser() models.User {
	return models.User{
		Username:   strings.ToLower(gofakeit.Username()) + gofakeit.DigitN(6),
		Email:      gofakeit.DigitN(6) + gofakeit.Email(),
		FullName:   gofakeit.Name(),
		PassHash:   []byte(gofakeit.Password(true, true, true, true, false, 20)),
		Avatar:     gofakeit.URL(),
		CoverImage: "",
	}
}

// Run exercises s. missingID must return an ID in the store's format that
// does not belong to any user.
func Run(t *testing.T, s Store, missingID MissingIDFunc) {
	t.Run("SaveAndLoad", func(t *testing.T) { testSaveAndLoad(t, s) })
	t.Run("DuplicateUser", func(t *testing.T) { testDuplicateUser(t, s) })
	t.Run("UserByLogin", func(t *testing.T) { testUserByLogin(t, s) })
	t.Run("NotFound", func(t *testing.T) { testNotFound(t, s, missingID()) })
	t.Run("RefreshTokenLifecycle", func(t *testing.T) { testRefreshTokenLifecycle(t, s) })
	t.Run("ConcurrentReplace", func(t *testing.T) { testConcurrentReplace(t, s) })
}

func save(t *testing.T, s Store) (string, models.User) {
	t.Helper()

	u := FakeUser()
	id, err := s.SaveUser(context.Background(), u)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	return id, u
}

func testSaveAndLoad(t *testing.T, s Store) {
	ctx := context.Background()
	id, in := save(t, s)

	got, err := s.UserByID(ctx, id)
	require.NoError(t, err)

	assert.Equal(t, id, got.ID)
	assert.Equal(t, in.Username, got.Username)
	assert.Equal(t, in.Email, got.Email)
	assert.Equal(t, in.FullName, got.FullName)
	assert.Equal(t, in.PassHash, got.PassHash)
	assert.Equal(t, in.Avatar, got.Avatar)
	assert.Empty(t, got.CoverImage)
	assert.Nil(t, got.RefreshToken)
	assert.False(t, got.CreatedAt.IsZero())

	require.NoError(t, s.SetRefreshToken(ctx, id, "secret-token"))

	profile, err := s.Profile(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, profile.ID)
	assert.Equal(t, in.Username, profile.Username)
	assert.Empty(t, profile.PassHash)
	assert.Nil(t, profile.RefreshToken)
}

func testDuplicateUser(t *testing.T, s Store) {
	ctx := context.Background()
	_, in := save(t, s)

	sameUsername := FakeUser()
	sameUsername.Username = in.Username
	_, err := s.SaveUser(ctx, sameUsername)
	assert.ErrorIs(t, err, storage.ErrUserExists)

	sameEmail := FakeUser()
	sameEmail.Email = in.Email
	_, err = s.SaveUser(ctx, sameEmail)
	assert.ErrorIs(t, err, storage.ErrUserExists)
}

func testUserByLogin(t *testing.T, s Store) {
	ctx := context.Background()
	id, in := save(t, s)

	tests := []struct {
		name     string
		username string
		email    string
	}{
		{name: "by username", username: in.Username},
		{name: "by email", email: in.Email},
		{name: "by both", username: in.Username, email: in.Email},
		{name: "username matches, email does not", username: in.Username, email: "nobody@example.invalid"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.UserByLogin(ctx, tt.username, tt.email)
			require.NoError(t, err)
			assert.Equal(t, id, got.ID)
			assert.Equal(t, in.PassHash, got.PassHash)
		})
	}

	_, err := s.UserByLogin(ctx, "no-such-user", "nobody@example.invalid")
	assert.ErrorIs(t, err, storage.ErrUserNotFound)
}

func testNotFound(t *testing.T, s Store, id string) {
	ctx := context.Background()

	_, err := s.UserByID(ctx, id)
	assert.ErrorIs(t, err, storage.ErrUserNotFound)

	_, err = s.Profile(ctx, id)
	assert.ErrorIs(t, err, storage.ErrUserNotFound)

	err = s.SetRefreshToken(ctx, id, "token")
	assert.ErrorIs(t, err, storage.ErrUserNotFound)

	err = s.ClearRefreshToken(ctx, id)
	assert.ErrorIs(t, err, storage.ErrUserNotFound)
}

func testRefreshTokenLifecycle(t *testing.T, s Store) {
	ctx := context.Background()
	id, _ := save(t, s)

	// nothing stored yet
	err := s.ReplaceRefreshToken(ctx, id, "r0", "r1")
	assert.ErrorIs(t, err, storage.ErrRefreshTokenMismatch)

	require.NoError(t, s.SetRefreshToken(ctx, id, "r1"))
	assertToken(t, s, id, "r1")

	require.NoError(t, s.ReplaceRefreshToken(ctx, id, "r1", "r2"))
	assertToken(t, s, id, "r2")

	err = s.ReplaceRefreshToken(ctx, id, "r1", "r3")
	assert.ErrorIs(t, err, storage.ErrRefreshTokenMismatch)
	assertToken(t, s, id, "r2")

	require.NoError(t, s.ClearRefreshToken(ctx, id))
	got, err := s.UserByID(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, got.RefreshToken)

	err = s.ReplaceRefreshToken(ctx, id, "r2", "r4")
	assert.ErrorIs(t, err, storage.ErrRefreshTokenMismatch)
}

func testConcurrentReplace(t *testing.T, s Store) {
	ctx := context.Background()
	id, _ := save(t, s)
	require.NoError(t, s.SetRefreshToken(ctx, id, "shared"))

	const workers = 8
	var (
		wg      sync.WaitGroup
		winners atomic.Int32
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.ReplaceRefreshToken(ctx, id, "shared", gofakeit.UUID()); err == nil {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), winners.Load())
}

func assertToken(t *testing.T, s Store, id, want string) {
	t.Helper()

	got, err := s.UserByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, got.RefreshToken)
	assert.Equal(t, want, *got.RefreshToken)
}
