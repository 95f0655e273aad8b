package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"authsvc/internal/domain/models"
	"authsvc/internal/storage"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

type Storage struct {
	client *mongo.Client
	users  *mongo.Collection
	now    func() time.Time
}

type userDoc struct {
	ID           bson.ObjectID `bson:"_id"`
	Username     string        `bson:"username"`
	Email        string        `bson:"email"`
	FullName     string        `bson:"full_name"`
	PassHash     []byte        `bson:"pass_hash,omitempty"`
	Avatar       string        `bson:"avatar"`
	CoverImage   string        `bson:"cover_image"`
	RefreshToken *string       `bson:"refresh_token,omitempty"`
	CreatedAt    time.Time     `bson:"created_at"`
	UpdatedAt    time.Time     `bson:"updated_at"`
}

// profileProjection drops secrets from loaded documents.
var profileProjection = bson.D{
	{Key: "pass_hash", Value: 0},
	{Key: "refresh_token", Value: 0},
}

// New creates a new MongoDB storage instance and sets up indexes.
func New(ctx context.Context, uri, database string) (*Storage, error) {
	const op = "storage.mongodb.New"

	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("%s: connect: %w", op, err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("%s: ping: %w", op, err)
	}

	s := &Storage{
		client: client,
		users:  client.Database(database).Collection("users"),
		now:    time.Now,
	}

	if err := s.EnsureIndexes(ctx); err != nil {
		return nil, fmt.Errorf("%s: indexes: %w", op, err)
	}

	return s, nil
}

// EnsureIndexes creates the unique login indexes. Safe to call repeatedly.
func (s *Storage) EnsureIndexes(ctx context.Context) error {
	_, err := s.users.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "username", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "email", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	})
	if err != nil {
		return fmt.Errorf("users indexes: %w", err)
	}

	return nil
}

// Close disconnects from MongoDB.
func (s *Storage) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// SaveUser saves a new user and returns the generated user ID.
func (s *Storage) SaveUser(ctx context.Context, user models.User) (string, error) {
	const op = "storage.mongodb.SaveUser"

	now := s.now().UTC()
	doc := userDoc{
		ID:         bson.NewObjectID(),
		Username:   user.Username,
		Email:      user.Email,
		FullName:   user.FullName,
		PassHash:   user.PassHash,
		Avatar:     user.Avatar,
		CoverImage: user.CoverImage,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if _, err := s.users.InsertOne(ctx, doc); err != nil {
		if isDuplicateKeyError(err) {
			return "", fmt.Errorf("%s: %w", op, storage.ErrUserExists)
		}
		return "", fmt.Errorf("%s: %w", op, err)
	}

	return doc.ID.Hex(), nil
}

// UserByID retrieves a user by ID.
func (s *Storage) UserByID(ctx context.Context, userID string) (*models.User, error) {
	const op = "storage.mongodb.UserByID"

	oid, err := bson.ObjectIDFromHex(userID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
	}

	user, err := s.findOne(ctx, bson.D{{Key: "_id", Value: oid}})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return user, nil
}

// Profile retrieves a user by ID without password hash and refresh token.
func (s *Storage) Profile(ctx context.Context, userID string) (*models.User, error) {
	const op = "storage.mongodb.Profile"

	oid, err := bson.ObjectIDFromHex(userID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
	}

	user, err := s.findOne(ctx,
		bson.D{{Key: "_id", Value: oid}},
		options.FindOne().SetProjection(profileProjection),
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return user, nil
}

// UserByLogin retrieves a user matching username or email.
func (s *Storage) UserByLogin(ctx context.Context, username, email string) (*models.User, error) {
	const op = "storage.mongodb.UserByLogin"

	var or bson.A
	if username != "" {
		or = append(or, bson.D{{Key: "username", Value: username}})
	}
	if email != "" {
		or = append(or, bson.D{{Key: "email", Value: email}})
	}
	if len(or) == 0 {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
	}

	user, err := s.findOne(ctx, bson.D{{Key: "$or", Value: or}})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return user, nil
}

func (s *Storage) SetRefreshToken(ctx context.Context, userID, token string) error {
	const op = "storage.mongodb.SetRefreshToken"

	return s.updateOne(ctx, op, userID, nil, bson.D{
		{Key: "$set", Value: bson.D{
			{Key: "refresh_token", Value: token},
			{Key: "updated_at", Value: s.now().UTC()},
		}},
	}, storage.ErrUserNotFound)
}

// ReplaceRefreshToken sets newToken only while oldToken is still stored.
func (s *Storage) ReplaceRefreshToken(ctx context.Context, userID, oldToken, newToken string) error {
	const op = "storage.mongodb.ReplaceRefreshToken"

	return s.updateOne(ctx, op, userID, bson.D{{Key: "refresh_token", Value: oldToken}}, bson.D{
		{Key: "$set", Value: bson.D{
			{Key: "refresh_token", Value: newToken},
			{Key: "updated_at", Value: s.now().UTC()},
		}},
	}, storage.ErrRefreshTokenMismatch)
}

func (s *Storage) ClearRefreshToken(ctx context.Context, userID string) error {
	const op = "storage.mongodb.ClearRefreshToken"

	return s.updateOne(ctx, op, userID, nil, bson.D{
		{Key: "$unset", Value: bson.D{{Key: "refresh_token", Value: ""}}},
		{Key: "$set", Value: bson.D{{Key: "updated_at", Value: s.now().UTC()}}},
	}, storage.ErrUserNotFound)
}

func (s *Storage) findOne(
	ctx context.Context,
	filter bson.D,
	opts ...options.Lister[options.FindOneOptions],
) (*models.User, error) {
	var doc userDoc
	err := s.users.FindOne(ctx, filter, opts...).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, storage.ErrUserNotFound
		}
		return nil, err
	}

	return doc.toModel(), nil
}

// updateOne applies update to the user document matching _id and cond.
// noMatch is returned if nothing matched.
func (s *Storage) updateOne(
	ctx context.Context,
	op string,
	userID string,
	cond bson.D,
	update bson.D,
	noMatch error,
) error {
	oid, err := bson.ObjectIDFromHex(userID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, noMatch)
	}

	filter := append(bson.D{{Key: "_id", Value: oid}}, cond...)

	res, err := s.users.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%s: %w", op, noMatch)
	}

	return nil
}

func (d userDoc) toModel() *models.User {
	return &models.User{
		ID:           d.ID.Hex(),
		Username:     d.Username,
		Email:        d.Email,
		FullName:     d.FullName,
		PassHash:     d.PassHash,
		Avatar:       d.Avatar,
		CoverImage:   d.CoverImage,
		RefreshToken: d.RefreshToken,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
}

// isDuplicateKeyError checks if the error is a MongoDB duplicate key error (code 11000).
func isDuplicateKeyError(err error) bool {
	var we mongo.WriteException
	if errors.As(err, &we) {
		for _, e := range we.WriteErrors {
			if e.Code == 11000 {
				return true
			}
		}
	}
	return false
}
