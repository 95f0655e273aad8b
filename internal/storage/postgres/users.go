package postgres

import (
	"context"
	"errors"
	"fmt"

	"authsvc/internal/domain/models"
	"authsvc/internal/storage"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const (
	qUserInsert = `
INSERT INTO users (id, username, email, full_name, pass_hash, avatar, cover_image, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8);`

	qUserByID = `
SELECT id, username, email, full_name, pass_hash, avatar, cover_image, refresh_token, created_at, updated_at
FROM users
WHERE id = $1;`

	qUserByLogin = `
SELECT id, username, email, full_name, pass_hash, avatar, cover_image, refresh_token, created_at, updated_at
FROM users
WHERE ($1::text <> '' AND username = $1::text) OR ($2::text <> '' AND email = $2::text)
LIMIT 1;`

	qProfile = `
SELECT id, username, email, full_name, avatar, cover_image, created_at, updated_at
FROM users
WHERE id = $1;`

	qSetRefresh = `
UPDATE users
SET refresh_token = $2,
    updated_at    = $3
WHERE id = $1;`

	qReplaceRefresh = `
UPDATE users
SET refresh_token = $3,
    updated_at    = $4
WHERE id = $1 AND refresh_token = $2;`

	qClearRefresh = `
UPDATE users
SET refresh_token = NULL,
    updated_at    = $2
WHERE id = $1;`
)

const uniqueViolation = "23505"

func (s *Storage) SaveUser(ctx context.Context, user models.User) (string, error) {
	const op = "storage.postgres.SaveUser"

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	id := uuid.NewString()
	_, err := s.pool.Exec(ctx, qUserInsert,
		id, user.Username, user.Email, user.FullName, user.PassHash,
		user.Avatar, user.CoverImage, s.now().UTC(),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return "", fmt.Errorf("%s: %w", op, storage.ErrUserExists)
		}
		return "", fmt.Errorf("%s: %w", op, err)
	}

	return id, nil
}

func (s *Storage) UserByID(ctx context.Context, userID string) (*models.User, error) {
	const op = "storage.postgres.UserByID"

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	user, err := scanUser(s.pool.QueryRow(ctx, qUserByID, userID))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return user, nil
}

func (s *Storage) UserByLogin(ctx context.Context, username, email string) (*models.User, error) {
	const op = "storage.postgres.UserByLogin"

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	user, err := scanUser(s.pool.QueryRow(ctx, qUserByLogin, username, email))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return user, nil
}

// Profile loads the user without password hash and refresh token.
func (s *Storage) Profile(ctx context.Context, userID string) (*models.User, error) {
	const op = "storage.postgres.Profile"

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var u models.User
	err := s.pool.QueryRow(ctx, qProfile, userID).Scan(
		&u.ID, &u.Username, &u.Email, &u.FullName,
		&u.Avatar, &u.CoverImage, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &u, nil
}

func (s *Storage) SetRefreshToken(ctx context.Context, userID, token string) error {
	const op = "storage.postgres.SetRefreshToken"

	return s.exec(ctx, op, storage.ErrUserNotFound, qSetRefresh, userID, token, s.now().UTC())
}

func (s *Storage) ReplaceRefreshToken(ctx context.Context, userID, oldToken, newToken string) error {
	const op = "storage.postgres.ReplaceRefreshToken"

	return s.exec(ctx, op, storage.ErrRefreshTokenMismatch, qReplaceRefresh, userID, oldToken, newToken, s.now().UTC())
}

func (s *Storage) ClearRefreshToken(ctx context.Context, userID string) error {
	const op = "storage.postgres.ClearRefreshToken"

	return s.exec(ctx, op, storage.ErrUserNotFound, qClearRefresh, userID, s.now().UTC())
}

// exec runs a single-row update and reports noRows when nothing matched.
func (s *Storage) exec(ctx context.Context, op string, noRows error, query string, args ...any) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", op, noRows)
	}

	return nil
}

func scanUser(row pgx.Row) (*models.User, error) {
	var u models.User
	if err := row.Scan(
		&u.ID, &u.Username, &u.Email, &u.FullName, &u.PassHash,
		&u.Avatar, &u.CoverImage, &u.RefreshToken, &u.CreatedAt, &u.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrUserNotFound
		}
		return nil, err
	}
	return &u, nil
}
