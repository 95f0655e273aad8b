package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"authsvc/internal/domain/models"
	"authsvc/internal/storage"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// Users live in a hash per user; username and email keys point at the id.
//
//	{prefix}:user:{id}            hash
//	{prefix}:username:{username}  string -> id
//	{prefix}:email:{email}        string -> id

const (
	fieldUsername     = "username"
	fieldEmail        = "email"
	fieldFullName     = "full_name"
	fieldPassHash     = "pass_hash"
	fieldAvatar       = "avatar"
	fieldCoverImage   = "cover_image"
	fieldRefreshToken = "refresh_token"
	fieldCreatedAt    = "created_at"
	fieldUpdatedAt    = "updated_at"
)

// KEYS: user, username index, email index
// ARGV: id, username, email, full_name, pass_hash, avatar, cover_image, now
const saveUserScript = `
if redis.call("EXISTS", KEYS[2]) == 1 or redis.call("EXISTS", KEYS[3]) == 1 then
  return 0
end
redis.call("SET", KEYS[2], ARGV[1])
redis.call("SET", KEYS[3], ARGV[1])
redis.call("HSET", KEYS[1],
  "username", ARGV[2],
  "email", ARGV[3],
  "full_name", ARGV[4],
  "pass_hash", ARGV[5],
  "avatar", ARGV[6],
  "cover_image", ARGV[7],
  "created_at", ARGV[8],
  "updated_at", ARGV[8])
return 1
`

// KEYS: user
// ARGV: token, now
const setRefreshScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
redis.call("HSET", KEYS[1], "refresh_token", ARGV[1], "updated_at", ARGV[2])
return 1
`

// KEYS: user
// ARGV: old token, new token, now
const replaceRefreshScript = `
local current = redis.call("HGET", KEYS[1], "refresh_token")
if current ~= ARGV[1] then
  return 0
end
redis.call("HSET", KEYS[1], "refresh_token", ARGV[2], "updated_at", ARGV[3])
return 1
`

// KEYS: user
// ARGV: now
const clearRefreshScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
redis.call("HDEL", KEYS[1], "refresh_token")
redis.call("HSET", KEYS[1], "updated_at", ARGV[1])
return 1
`

var (
	saveUserLua       = goredis.NewScript(saveUserScript)
	setRefreshLua     = goredis.NewScript(setRefreshScript)
	replaceRefreshLua = goredis.NewScript(replaceRefreshScript)
	clearRefreshLua   = goredis.NewScript(clearRefreshScript)
)

type Storage struct {
	rdb    goredis.UniversalClient
	prefix string
	now    func() time.Time
}

func New(rdb goredis.UniversalClient, prefix string) *Storage {
	if prefix == "" {
		prefix = "authsvc"
	}
	return &Storage{rdb: rdb, prefix: prefix, now: time.Now}
}

// Connect dials addr and checks the connection.
func Connect(ctx context.Context, addr, password string, db int) (*goredis.Client, error) {
	const op = "storage.redis.Connect"

	rdb := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return rdb, nil
}

func (s *Storage) userKey(id string) string       { return s.prefix + ":user:" + id }
func (s *Storage) usernameKey(name string) string { return s.prefix + ":username:" + name }
func (s *Storage) emailKey(email string) string   { return s.prefix + ":email:" + email }

func (s *Storage) stamp() string {
	return s.now().UTC().Format(time.RFC3339Nano)
}

func (s *Storage) SaveUser(ctx context.Context, user models.User) (string, error) {
	const op = "storage.redis.SaveUser"

	id := uuid.NewString()
	ok, err := saveUserLua.Run(ctx, s.rdb,
		[]string{s.userKey(id), s.usernameKey(user.Username), s.emailKey(user.Email)},
		id, user.Username, user.Email, user.FullName, string(user.PassHash),
		user.Avatar, user.CoverImage, s.stamp(),
	).Int()
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if ok == 0 {
		return "", fmt.Errorf("%s: %w", op, storage.ErrUserExists)
	}

	return id, nil
}

func (s *Storage) UserByID(ctx context.Context, userID string) (*models.User, error) {
	const op = "storage.redis.UserByID"

	user, err := s.load(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return user, nil
}

// Profile loads the user without password hash and refresh token.
func (s *Storage) Profile(ctx context.Context, userID string) (*models.User, error) {
	const op = "storage.redis.Profile"

	user, err := s.load(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return user.Public(), nil
}

func (s *Storage) UserByLogin(ctx context.Context, username, email string) (*models.User, error) {
	const op = "storage.redis.UserByLogin"

	var keys []string
	if username != "" {
		keys = append(keys, s.usernameKey(username))
	}
	if email != "" {
		keys = append(keys, s.emailKey(email))
	}

	for _, key := range keys {
		id, err := s.rdb.Get(ctx, key).Result()
		if err != nil {
			if errors.Is(err, goredis.Nil) {
				continue
			}
			return nil, fmt.Errorf("%s: %w", op, err)
		}

		user, err := s.load(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		return user, nil
	}

	return nil, fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
}

func (s *Storage) SetRefreshToken(ctx context.Context, userID, token string) error {
	const op = "storage.redis.SetRefreshToken"

	return s.runUpdate(ctx, op, setRefreshLua, userID, storage.ErrUserNotFound, token, s.stamp())
}

func (s *Storage) ReplaceRefreshToken(ctx context.Context, userID, oldToken, newToken string) error {
	const op = "storage.redis.ReplaceRefreshToken"

	return s.runUpdate(ctx, op, replaceRefreshLua, userID, storage.ErrRefreshTokenMismatch, oldToken, newToken, s.stamp())
}

func (s *Storage) ClearRefreshToken(ctx context.Context, userID string) error {
	const op = "storage.redis.ClearRefreshToken"

	return s.runUpdate(ctx, op, clearRefreshLua, userID, storage.ErrUserNotFound, s.stamp())
}

func (s *Storage) runUpdate(
	ctx context.Context,
	op string,
	script *goredis.Script,
	userID string,
	noMatch error,
	args ...any,
) error {
	ok, err := script.Run(ctx, s.rdb, []string{s.userKey(userID)}, args...).Int()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if ok == 0 {
		return fmt.Errorf("%s: %w", op, noMatch)
	}
	return nil
}

func (s *Storage) load(ctx context.Context, id string) (*models.User, error) {
	fields, err := s.rdb.HGetAll(ctx, s.userKey(id)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, storage.ErrUserNotFound
	}

	user := &models.User{
		ID:         id,
		Username:   fields[fieldUsername],
		Email:      fields[fieldEmail],
		FullName:   fields[fieldFullName],
		PassHash:   []byte(fields[fieldPassHash]),
		Avatar:     fields[fieldAvatar],
		CoverImage: fields[fieldCoverImage],
	}
	if token, ok := fields[fieldRefreshToken]; ok {
		user.RefreshToken = &token
	}
	if user.CreatedAt, err = time.Parse(time.RFC3339Nano, fields[fieldCreatedAt]); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if user.UpdatedAt, err = time.Parse(time.RFC3339Nano, fields[fieldUpdatedAt]); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}

	return user, nil
}
