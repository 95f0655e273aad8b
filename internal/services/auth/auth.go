package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"authsvc/internal/domain/models"
	"authsvc/internal/lib/jwt"
	"authsvc/internal/lib/sl"
	"authsvc/internal/storage"

	"golang.org/x/crypto/bcrypt"
)

type Auth struct {
	logger       *slog.Logger
	userSaver    UserSaver
	userProvider UserProvider
	tokenStore   RefreshTokenStore
	encoder      TokenEncoder
	uploader     Uploader
	metrics      Metrics
}

type UserSaver interface {
	SaveUser(ctx context.Context, user models.User) (userID string, err error)
}

type UserProvider interface {
	UserByID(ctx context.Context, userID string) (*models.User, error)
	UserByLogin(ctx context.Context, username, email string) (*models.User, error)
	// Profile loads the user with password hash and refresh token excluded.
	Profile(ctx context.Context, userID string) (*models.User, error)
}

// RefreshTokenStore updates only the refresh token field of a user record.
type RefreshTokenStore interface {
	SetRefreshToken(ctx context.Context, userID, token string) error
	ReplaceRefreshToken(ctx context.Context, userID, oldToken, newToken string) error
	ClearRefreshToken(ctx context.Context, userID string) error
}

type TokenEncoder interface {
	Issue(userID string, class models.TokenClass) (string, error)
	Verify(token string, class models.TokenClass) (*jwt.Claims, error)
}

type Uploader interface {
	Upload(ctx context.Context, localPath string) (url string, err error)
}

type Metrics interface {
	PairIssued(flow string)
	AuthFailed(reason string)
	RefreshRejected(reason string)
	LoggedOut()
}

// New returns a new instance of the Auth service.
func New(
	logger *slog.Logger,
	userSaver UserSaver,
	userProvider UserProvider,
	tokenStore RefreshTokenStore,
	encoder TokenEncoder,
	uploader Uploader,
	metrics Metrics,
) *Auth {
	return &Auth{
		logger:       logger,
		userSaver:    userSaver,
		userProvider: userProvider,
		tokenStore:   tokenStore,
		encoder:      encoder,
		uploader:     uploader,
		metrics:      metrics,
	}
}

type RegisterInput struct {
	FullName string
	Username string
	Email    string
	Password string
	// Paths of locally staged uploads. CoverImagePath is optional.
	AvatarPath     string
	CoverImagePath string
}

// Register creates a user and returns it without secrets.
func (a *Auth) Register(ctx context.Context, in RegisterInput) (*models.User, error) {
	const op = "auth.Register"
	log := a.logger.With(
		slog.String("op", op),
		slog.String("username", in.Username),
	)
	log.Info("register request")

	if isBlank(in.FullName, in.Username, in.Email, in.Password) {
		return nil, fmt.Errorf("%s: %w", op, invalid("All fields are required"))
	}

	username := strings.ToLower(strings.TrimSpace(in.Username))
	email := strings.TrimSpace(in.Email)

	_, err := a.userProvider.UserByLogin(ctx, username, email)
	switch {
	case err == nil:
		log.Warn("user already exists")
		return nil, fmt.Errorf("%s: %w", op, ErrUserAlreadyExists)
	case !errors.Is(err, storage.ErrUserNotFound):
		log.Error("failed to look up user", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if in.AvatarPath == "" {
		return nil, fmt.Errorf("%s: %w", op, invalid("Avatar file is required"))
	}

	avatarURL, err := a.uploader.Upload(ctx, in.AvatarPath)
	if err != nil {
		log.Error("failed to upload avatar", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, invalid("Avatar file is required"))
	}

	var coverURL string
	if in.CoverImagePath != "" {
		coverURL, err = a.uploader.Upload(ctx, in.CoverImagePath)
		if err != nil {
			log.Warn("failed to upload cover image", sl.Err(err))
			coverURL = ""
		}
	}

	passHash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		log.Error("failed to generate password hash", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	userID, err := a.userSaver.SaveUser(ctx, models.User{
		Username:   username,
		Email:      email,
		FullName:   strings.TrimSpace(in.FullName),
		PassHash:   passHash,
		Avatar:     avatarURL,
		CoverImage: coverURL,
	})
	if err != nil {
		if errors.Is(err, storage.ErrUserExists) {
			log.Warn("user already exists", sl.Err(err))
			return nil, fmt.Errorf("%s: %w", op, ErrUserAlreadyExists)
		}
		log.Error("failed to save user", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	user, err := a.userProvider.Profile(ctx, userID)
	if err != nil {
		log.Error("failed to load created user", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	log.Info("user registered", slog.String("userID", userID))

	return user, nil
}

// Login checks the password of the user matching username or email and
// issues a fresh token pair.
func (a *Auth) Login(
	ctx context.Context,
	username string,
	email string,
	password string,
) (*models.User, models.TokenPair, error) {
	const op = "auth.Login"
	log := a.logger.With(slog.String("op", op))
	log.Info("login request", slog.String("username", username), slog.String("email", email))

	username = strings.ToLower(strings.TrimSpace(username))
	email = strings.TrimSpace(email)

	if username == "" && email == "" {
		return nil, models.TokenPair{}, fmt.Errorf("%s: %w", op, invalid("username or email is required"))
	}
	if password == "" {
		return nil, models.TokenPair{}, fmt.Errorf("%s: %w", op, invalid("password is required"))
	}

	user, err := a.userProvider.UserByLogin(ctx, username, email)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			log.Warn("user not found", sl.Err(err))
			return nil, models.TokenPair{}, fmt.Errorf("%s: %w", op, ErrUserNotFound)
		}
		log.Error("failed to get user", sl.Err(err))
		return nil, models.TokenPair{}, fmt.Errorf("%s: %w", op, err)
	}

	if err := bcrypt.CompareHashAndPassword(user.PassHash, []byte(password)); err != nil {
		log.Warn("invalid password", sl.Err(err))
		return nil, models.TokenPair{}, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
	}

	pair, err := a.IssuePair(ctx, user.ID)
	if err != nil {
		return nil, models.TokenPair{}, fmt.Errorf("%s: %w", op, err)
	}
	a.metrics.PairIssued("login")

	log.Info("user logged in", slog.String("userID", user.ID))

	return user.Public(), pair, nil
}

// IssuePair mints an access/refresh pair for userID and stores the refresh
// token as the only one honored for that user.
func (a *Auth) IssuePair(ctx context.Context, userID string) (models.TokenPair, error) {
	const op = "auth.IssuePair"
	log := a.logger.With(slog.String("op", op), slog.String("userID", userID))

	if _, err := a.userProvider.UserByID(ctx, userID); err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			log.Warn("user not found")
			return models.TokenPair{}, fmt.Errorf("%s: %w", op, ErrUserNotFound)
		}
		log.Error("failed to get user", sl.Err(err))
		return models.TokenPair{}, fmt.Errorf("%s: %w: %w", op, ErrIssuanceFailed, err)
	}

	pair, err := a.mint(userID)
	if err != nil {
		log.Error("failed to sign tokens", sl.Err(err))
		return models.TokenPair{}, fmt.Errorf("%s: %w: %w", op, ErrIssuanceFailed, err)
	}

	if err := a.tokenStore.SetRefreshToken(ctx, userID, pair.RefreshToken); err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			log.Warn("user removed during issuance")
			return models.TokenPair{}, fmt.Errorf("%s: %w", op, ErrUserNotFound)
		}
		log.Error("failed to persist refresh token", sl.Err(err))
		return models.TokenPair{}, fmt.Errorf("%s: %w: %w", op, ErrIssuanceFailed, err)
	}

	return pair, nil
}

// Authenticate resolves an access token to its user, loaded without secrets.
func (a *Auth) Authenticate(ctx context.Context, accessToken string) (*models.User, error) {
	const op = "auth.Authenticate"
	log := a.logger.With(slog.String("op", op))

	if accessToken == "" {
		a.metrics.AuthFailed("missing")
		return nil, fmt.Errorf("%s: %w", op, unauthorized(ReasonUnauthorizedRequest, nil))
	}

	claims, err := a.encoder.Verify(accessToken, models.TokenClassAccess)
	if err != nil {
		log.Warn("access token rejected", sl.Err(err))
		a.metrics.AuthFailed(verifyFailure(err))
		return nil, fmt.Errorf("%s: %w", op, unauthorized(ReasonInvalidAccessToken, err))
	}

	user, err := a.userProvider.Profile(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			log.Warn("token subject not found", slog.String("userID", claims.UserID))
			a.metrics.AuthFailed("user_not_found")
			return nil, fmt.Errorf("%s: %w", op, unauthorized(ReasonInvalidAccessToken, err))
		}
		log.Error("failed to get user", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return user, nil
}

// Refresh exchanges the current refresh token for a new pair. The incoming
// token must be the one stored for the user; afterwards it is no longer
// accepted.
func (a *Auth) Refresh(ctx context.Context, incoming string) (models.TokenPair, error) {
	const op = "auth.Refresh"
	log := a.logger.With(slog.String("op", op))
	log.Info("refresh request")

	if incoming == "" {
		a.metrics.RefreshRejected("missing")
		return models.TokenPair{}, fmt.Errorf("%s: %w", op, unauthorized(ReasonUnauthorizedRequest, nil))
	}

	claims, err := a.encoder.Verify(incoming, models.TokenClassRefresh)
	if err != nil {
		log.Warn("refresh token rejected", sl.Err(err))
		a.metrics.RefreshRejected(verifyFailure(err))
		return models.TokenPair{}, fmt.Errorf("%s: %w", op, unauthorized(ReasonInvalidOrExpired, err))
	}

	log = log.With(slog.String("userID", claims.UserID))

	user, err := a.userProvider.UserByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			log.Warn("token subject not found")
			a.metrics.RefreshRejected("user_not_found")
			return models.TokenPair{}, fmt.Errorf("%s: %w", op, unauthorized(ReasonInvalidRefreshToken, err))
		}
		log.Error("failed to get user", sl.Err(err))
		return models.TokenPair{}, fmt.Errorf("%s: %w", op, err)
	}

	if user.RefreshToken == nil || *user.RefreshToken != incoming {
		log.Warn("refresh token is not current")
		a.metrics.RefreshRejected("reused")
		return models.TokenPair{}, fmt.Errorf("%s: %w", op, unauthorized(ReasonRefreshTokenUsed, nil))
	}

	pair, err := a.mint(user.ID)
	if err != nil {
		log.Error("failed to sign tokens", sl.Err(err))
		return models.TokenPair{}, fmt.Errorf("%s: %w: %w", op, ErrIssuanceFailed, err)
	}

	err = a.tokenStore.ReplaceRefreshToken(ctx, user.ID, incoming, pair.RefreshToken)
	switch {
	case err == nil:
	case errors.Is(err, storage.ErrRefreshTokenMismatch):
		log.Warn("refresh token rotated concurrently")
		a.metrics.RefreshRejected("reused")
		return models.TokenPair{}, fmt.Errorf("%s: %w", op, unauthorized(ReasonRefreshTokenUsed, err))
	case errors.Is(err, storage.ErrUserNotFound):
		a.metrics.RefreshRejected("user_not_found")
		return models.TokenPair{}, fmt.Errorf("%s: %w", op, unauthorized(ReasonInvalidRefreshToken, err))
	default:
		log.Error("failed to rotate refresh token", sl.Err(err))
		return models.TokenPair{}, fmt.Errorf("%s: %w: %w", op, ErrIssuanceFailed, err)
	}

	a.metrics.PairIssued("refresh")
	log.Info("tokens refreshed")

	return pair, nil
}

// Logout drops the stored refresh token so it can no longer be rotated.
// Access tokens already issued stay valid until they expire.
func (a *Auth) Logout(ctx context.Context, userID string) error {
	const op = "auth.Logout"
	log := a.logger.With(slog.String("op", op), slog.String("userID", userID))

	if err := a.tokenStore.ClearRefreshToken(ctx, userID); err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			log.Warn("user not found")
			return fmt.Errorf("%s: %w", op, ErrUserNotFound)
		}
		log.Error("failed to clear refresh token", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	a.metrics.LoggedOut()
	log.Info("user logged out")

	return nil
}

func (a *Auth) mint(userID string) (models.TokenPair, error) {
	access, err := a.encoder.Issue(userID, models.TokenClassAccess)
	if err != nil {
		return models.TokenPair{}, err
	}

	refresh, err := a.encoder.Issue(userID, models.TokenClassRefresh)
	if err != nil {
		return models.TokenPair{}, err
	}

	return models.TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// verifyFailure labels an encoder error for metrics.
func verifyFailure(err error) string {
	switch {
	case errors.Is(err, jwt.ErrExpired):
		return "expired"
	case errors.Is(err, jwt.ErrWrongClass):
		return "wrong_class"
	default:
		return "invalid_signature"
	}
}

func isBlank(values ...string) bool {
	for _, v := range values {
		if strings.TrimSpace(v) == "" {
			return true
		}
	}
	return false
}
