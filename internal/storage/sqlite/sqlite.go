package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"authsvc/internal/domain/models"
	"authsvc/internal/storage"
	"authsvc/migrations"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
)

type Storage struct {
	db  *sql.DB
	now func() time.Time
}

const userColumns = `id, username, email, full_name, pass_hash, avatar, cover_image, refresh_token, created_at, updated_at`

// New returns a new instance of the Storage.
func New(storagePath string) (*Storage, error) {
	const op = "storage.sqlite.New"

	db, err := sql.Open("sqlite3", storagePath)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	// sqlite allows a single writer; serialize through one connection.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &Storage{db: db, now: time.Now}, nil
}

// Migrate applies the embedded schema migrations.
func (s *Storage) Migrate() error {
	const op = "storage.sqlite.Migrate"

	src, err := iofs.New(migrations.SQLite, "sqlite")
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	drv, err := migratesqlite.WithInstance(s.db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", drv)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) SaveUser(ctx context.Context, user models.User) (string, error) {
	const op = "storage.sqlite.SaveUser"

	stmt, err := s.db.PrepareContext(ctx, `
INSERT INTO users (id, username, email, full_name, pass_hash, avatar, cover_image, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	defer stmt.Close()

	id := uuid.NewString()
	now := s.now().UTC()

	_, err = stmt.ExecContext(ctx,
		id, user.Username, user.Email, user.FullName, user.PassHash,
		user.Avatar, user.CoverImage, now, now,
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return "", fmt.Errorf("%s: %w", op, storage.ErrUserExists)
		}
		return "", fmt.Errorf("%s: %w", op, err)
	}

	return id, nil
}

func (s *Storage) UserByID(ctx context.Context, userID string) (*models.User, error) {
	const op = "storage.sqlite.UserByID"

	row := s.db.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE id = ?", userID)

	user, err := scanUser(row)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return user, nil
}

// Profile loads the user without password hash and refresh token.
func (s *Storage) Profile(ctx context.Context, userID string) (*models.User, error) {
	const op = "storage.sqlite.Profile"

	row := s.db.QueryRowContext(ctx, `
SELECT id, username, email, full_name, avatar, cover_image, created_at, updated_at
FROM users WHERE id = ?`, userID)

	var user models.User
	err := row.Scan(
		&user.ID, &user.Username, &user.Email, &user.FullName,
		&user.Avatar, &user.CoverImage, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &user, nil
}

func (s *Storage) UserByLogin(ctx context.Context, username, email string) (*models.User, error) {
	const op = "storage.sqlite.UserByLogin"

	row := s.db.QueryRowContext(ctx, `
SELECT `+userColumns+` FROM users
WHERE (? <> '' AND username = ?) OR (? <> '' AND email = ?)
LIMIT 1`, username, username, email, email)

	user, err := scanUser(row)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return user, nil
}

func (s *Storage) SetRefreshToken(ctx context.Context, userID, token string) error {
	const op = "storage.sqlite.SetRefreshToken"

	res, err := s.db.ExecContext(ctx,
		"UPDATE users SET refresh_token = ?, updated_at = ? WHERE id = ?",
		token, s.now().UTC(), userID,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return affected(op, res, storage.ErrUserNotFound)
}

func (s *Storage) ReplaceRefreshToken(ctx context.Context, userID, oldToken, newToken string) error {
	const op = "storage.sqlite.ReplaceRefreshToken"

	res, err := s.db.ExecContext(ctx,
		"UPDATE users SET refresh_token = ?, updated_at = ? WHERE id = ? AND refresh_token = ?",
		newToken, s.now().UTC(), userID, oldToken,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return affected(op, res, storage.ErrRefreshTokenMismatch)
}

func (s *Storage) ClearRefreshToken(ctx context.Context, userID string) error {
	const op = "storage.sqlite.ClearRefreshToken"

	res, err := s.db.ExecContext(ctx,
		"UPDATE users SET refresh_token = NULL, updated_at = ? WHERE id = ?",
		s.now().UTC(), userID,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return affected(op, res, storage.ErrUserNotFound)
}

func scanUser(row *sql.Row) (*models.User, error) {
	var (
		user    models.User
		refresh sql.NullString
	)

	err := row.Scan(
		&user.ID, &user.Username, &user.Email, &user.FullName, &user.PassHash,
		&user.Avatar, &user.CoverImage, &refresh, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrUserNotFound
		}
		return nil, err
	}

	if refresh.Valid {
		user.RefreshToken = &refresh.String
	}

	return &user, nil
}

func affected(op string, res sql.Result, noRows error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, noRows)
	}
	return nil
}
