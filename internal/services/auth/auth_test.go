package auth

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"authsvc/internal/domain/models"
	"authsvc/internal/lib/jwt"
	"authsvc/internal/lib/logger/handlers/slogdiscard"
	"authsvc/internal/lib/metrics"
	"authsvc/internal/storage/memory"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	passDefaultLen = 10
	accessTTL      = 15 * time.Minute
	refreshTTL     = 7 * 24 * time.Hour
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

type fakeUploader struct {
	fail map[string]bool
}

func (f *fakeUploader) Upload(_ context.Context, localPath string) (string, error) {
	if f.fail[localPath] {
		return "", errors.New("upload failed")
	}
	return "https://cdn.test/" + filepath.Base(localPath), nil
}

type suite struct {
	auth     *Auth
	store    *memory.Storage
	encoder  *jwt.Encoder
	clock    *clock
	uploader *fakeUploader
}

func newSuite(t *testing.T) *suite {
	t.Helper()

	c := &clock{t: time.Now().Truncate(time.Second)}
	enc, err := jwt.NewEncoder(jwt.Config{
		Access:  jwt.ClassConfig{Secret: "access-secret", TTL: accessTTL},
		Refresh: jwt.ClassConfig{Secret: "refresh-secret", TTL: refreshTTL},
		Now:     c.Now,
	})
	require.NoError(t, err)

	store := memory.New()
	up := &fakeUploader{fail: map[string]bool{}}

	return &suite{
		auth: New(
			slogdiscard.NewDiscardLogger(),
			store, store, store,
			enc, up,
			metrics.New(prometheus.NewRegistry()),
		),
		store:    store,
		encoder:  enc,
		clock:    c,
		uploader: up,
	}
}

func randomInput() RegisterInput {
	return RegisterInput{
		FullName:   gofakeit.Name(),
		Username:   gofakeit.Username() + gofakeit.DigitN(4),
		Email:      gofakeit.Email(),
		Password:   gofakeit.Password(true, true, true, true, false, passDefaultLen),
		AvatarPath: "/tmp/avatar.png",
	}
}

func (s *suite) register(t *testing.T) (RegisterInput, *models.User) {
	t.Helper()

	in := randomInput()
	user, err := s.auth.Register(context.Background(), in)
	require.NoError(t, err)

	return in, user
}

func (s *suite) login(t *testing.T, in RegisterInput) models.TokenPair {
	t.Helper()

	_, pair, err := s.auth.Login(context.Background(), in.Username, "", in.Password)
	require.NoError(t, err)

	return pair
}

func requireUnauthorized(t *testing.T, err error, reason string) {
	t.Helper()

	require.ErrorIs(t, err, ErrUnauthorized)
	var ue *UnauthorizedError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, reason, ue.Reason)
}

func TestRegister_HappyPath(t *testing.T) {
	s := newSuite(t)

	in := randomInput()
	in.Username = "  MixedCase" + gofakeit.DigitN(4)
	in.CoverImagePath = "/tmp/cover.jpg"

	user, err := s.auth.Register(context.Background(), in)
	require.NoError(t, err)

	assert.NotEmpty(t, user.ID)
	assert.Equal(t, strings.ToLower(strings.TrimSpace(in.Username)), user.Username)
	assert.Equal(t, in.Email, user.Email)
	assert.Equal(t, "https://cdn.test/avatar.png", user.Avatar)
	assert.Equal(t, "https://cdn.test/cover.jpg", user.CoverImage)
	assert.Empty(t, user.PassHash)
	assert.Nil(t, user.RefreshToken)

	stored, err := s.store.UserByID(context.Background(), user.ID)
	require.NoError(t, err)
	assert.NotEqual(t, []byte(in.Password), stored.PassHash)
}

func TestRegister_Fails(t *testing.T) {
	s := newSuite(t)
	existing, _ := s.register(t)

	tests := []struct {
		name    string
		mutate  func(in *RegisterInput)
		wantErr error
		wantMsg string
	}{
		{
			name:    "blank full name",
			mutate:  func(in *RegisterInput) { in.FullName = "  " },
			wantErr: ErrValidation,
			wantMsg: "All fields are required",
		},
		{
			name:    "empty password",
			mutate:  func(in *RegisterInput) { in.Password = "" },
			wantErr: ErrValidation,
			wantMsg: "All fields are required",
		},
		{
			name:    "missing avatar",
			mutate:  func(in *RegisterInput) { in.AvatarPath = "" },
			wantErr: ErrValidation,
			wantMsg: "Avatar file is required",
		},
		{
			name: "avatar upload fails",
			mutate: func(in *RegisterInput) {
				in.AvatarPath = "/tmp/broken.png"
				s.uploader.fail[in.AvatarPath] = true
			},
			wantErr: ErrValidation,
			wantMsg: "Avatar file is required",
		},
		{
			name:    "duplicate username",
			mutate:  func(in *RegisterInput) { in.Username = strings.ToUpper(existing.Username) },
			wantErr: ErrUserAlreadyExists,
		},
		{
			name:    "duplicate email",
			mutate:  func(in *RegisterInput) { in.Email = existing.Email },
			wantErr: ErrUserAlreadyExists,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := randomInput()
			tt.mutate(&in)

			_, err := s.auth.Register(context.Background(), in)
			require.ErrorIs(t, err, tt.wantErr)

			if tt.wantMsg != "" {
				var ve *ValidationError
				require.ErrorAs(t, err, &ve)
				assert.Equal(t, tt.wantMsg, ve.Message)
			}
		})
	}
}

func TestRegister_CoverUploadFailureIsTolerated(t *testing.T) {
	s := newSuite(t)

	in := randomInput()
	in.CoverImagePath = "/tmp/cover-broken.jpg"
	s.uploader.fail[in.CoverImagePath] = true

	user, err := s.auth.Register(context.Background(), in)
	require.NoError(t, err)
	assert.Empty(t, user.CoverImage)
}

func TestLogin(t *testing.T) {
	s := newSuite(t)
	in, registered := s.register(t)

	tests := []struct {
		name     string
		username string
		email    string
		password string
		wantErr  error
	}{
		{name: "by username", username: in.Username, password: in.Password},
		{name: "by upper-case username", username: strings.ToUpper(in.Username), password: in.Password},
		{name: "by email", email: in.Email, password: in.Password},
		{name: "no login", password: in.Password, wantErr: ErrValidation},
		{name: "no password", username: in.Username, wantErr: ErrValidation},
		{name: "unknown user", username: "ghost" + gofakeit.DigitN(8), password: in.Password, wantErr: ErrUserNotFound},
		{name: "wrong password", email: in.Email, password: in.Password + "x", wantErr: ErrInvalidCredentials},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			user, pair, err := s.auth.Login(context.Background(), tt.username, tt.email, tt.password)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)

			assert.Equal(t, registered.ID, user.ID)
			assert.Empty(t, user.PassHash)
			assert.Nil(t, user.RefreshToken)
			assert.NotEmpty(t, pair.AccessToken)
			assert.NotEmpty(t, pair.RefreshToken)

			stored, err := s.store.UserByID(context.Background(), user.ID)
			require.NoError(t, err)
			require.NotNil(t, stored.RefreshToken)
			assert.Equal(t, pair.RefreshToken, *stored.RefreshToken)
		})
	}
}

func TestIssuePairThenAuthenticate(t *testing.T) {
	s := newSuite(t)
	_, registered := s.register(t)

	pair, err := s.auth.IssuePair(context.Background(), registered.ID)
	require.NoError(t, err)

	user, err := s.auth.Authenticate(context.Background(), pair.AccessToken)
	require.NoError(t, err)

	assert.Equal(t, registered.ID, user.ID)
	assert.Equal(t, registered.Username, user.Username)
	assert.Empty(t, user.PassHash)
	assert.Nil(t, user.RefreshToken)
}

func TestIssuePair_UnknownUser(t *testing.T) {
	s := newSuite(t)

	_, err := s.auth.IssuePair(context.Background(), gofakeit.UUID())
	require.ErrorIs(t, err, ErrUserNotFound)
}

type failingTokenStore struct {
	RefreshTokenStore
}

func (failingTokenStore) SetRefreshToken(context.Context, string, string) error {
	return errors.New("disk full")
}

func (failingTokenStore) ReplaceRefreshToken(context.Context, string, string, string) error {
	return errors.New("disk full")
}

func TestIssuePair_StoreFailure(t *testing.T) {
	s := newSuite(t)
	in, registered := s.register(t)
	pair := s.login(t, in)

	s.auth.tokenStore = failingTokenStore{RefreshTokenStore: s.store}

	_, err := s.auth.IssuePair(context.Background(), registered.ID)
	require.ErrorIs(t, err, ErrIssuanceFailed)

	_, err = s.auth.Refresh(context.Background(), pair.RefreshToken)
	require.ErrorIs(t, err, ErrIssuanceFailed)
}

func TestAuthenticate_Rejects(t *testing.T) {
	s := newSuite(t)
	in, _ := s.register(t)
	pair := s.login(t, in)

	other, err := jwt.NewEncoder(jwt.Config{
		Access:  jwt.ClassConfig{Secret: "other-access", TTL: accessTTL},
		Refresh: jwt.ClassConfig{Secret: "other-refresh", TTL: refreshTTL},
		Now:     s.clock.Now,
	})
	require.NoError(t, err)
	forged, err := other.Issue(gofakeit.UUID(), models.TokenClassAccess)
	require.NoError(t, err)

	orphan, err := s.encoder.Issue(gofakeit.UUID(), models.TokenClassAccess)
	require.NoError(t, err)

	tests := []struct {
		name   string
		token  string
		reason string
	}{
		{name: "missing", token: "", reason: ReasonUnauthorizedRequest},
		{name: "garbage", token: "abc.def.ghi", reason: ReasonInvalidAccessToken},
		{name: "wrong secret", token: forged, reason: ReasonInvalidAccessToken},
		{name: "refresh token as access", token: pair.RefreshToken, reason: ReasonInvalidAccessToken},
		{name: "user does not exist", token: orphan, reason: ReasonInvalidAccessToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.auth.Authenticate(context.Background(), tt.token)
			requireUnauthorized(t, err, tt.reason)
		})
	}
}

func TestAuthenticate_Expired(t *testing.T) {
	s := newSuite(t)
	in, _ := s.register(t)
	issuedAt := s.clock.Now()
	pair := s.login(t, in)

	s.clock.Set(issuedAt.Add(accessTTL - time.Second))
	_, err := s.auth.Authenticate(context.Background(), pair.AccessToken)
	require.NoError(t, err)

	s.clock.Set(issuedAt.Add(accessTTL))
	_, err = s.auth.Authenticate(context.Background(), pair.AccessToken)
	requireUnauthorized(t, err, ReasonInvalidAccessToken)
}

func TestRefresh_RotationScenario(t *testing.T) {
	s := newSuite(t)
	in, _ := s.register(t)
	first := s.login(t, in)

	second, err := s.auth.Refresh(context.Background(), first.RefreshToken)
	require.NoError(t, err)

	assert.NotEqual(t, first.AccessToken, second.AccessToken)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)

	_, err = s.auth.Refresh(context.Background(), first.RefreshToken)
	requireUnauthorized(t, err, ReasonRefreshTokenUsed)

	third, err := s.auth.Refresh(context.Background(), second.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, second.RefreshToken, third.RefreshToken)

	_, err = s.auth.Authenticate(context.Background(), third.AccessToken)
	require.NoError(t, err)
}

func TestRefresh_NewLoginSupersedesOldChain(t *testing.T) {
	s := newSuite(t)
	in, _ := s.register(t)
	first := s.login(t, in)
	second := s.login(t, in)

	_, err := s.auth.Refresh(context.Background(), first.RefreshToken)
	requireUnauthorized(t, err, ReasonRefreshTokenUsed)

	_, err = s.auth.Refresh(context.Background(), second.RefreshToken)
	require.NoError(t, err)
}

func TestRefresh_Rejects(t *testing.T) {
	s := newSuite(t)
	in, _ := s.register(t)
	pair := s.login(t, in)

	orphan, err := s.encoder.Issue(gofakeit.UUID(), models.TokenClassRefresh)
	require.NoError(t, err)

	tests := []struct {
		name   string
		token  string
		reason string
	}{
		{name: "missing", token: "", reason: ReasonUnauthorizedRequest},
		{name: "garbage", token: "nope", reason: ReasonInvalidOrExpired},
		{name: "access token as refresh", token: pair.AccessToken, reason: ReasonInvalidOrExpired},
		{name: "user does not exist", token: orphan, reason: ReasonInvalidRefreshToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.auth.Refresh(context.Background(), tt.token)
			requireUnauthorized(t, err, tt.reason)
		})
	}
}

func TestRefresh_Expired(t *testing.T) {
	s := newSuite(t)
	in, _ := s.register(t)
	issuedAt := s.clock.Now()
	pair := s.login(t, in)

	s.clock.Set(issuedAt.Add(refreshTTL))

	_, err := s.auth.Refresh(context.Background(), pair.RefreshToken)
	requireUnauthorized(t, err, ReasonInvalidOrExpired)
}

func TestLogoutThenRefresh(t *testing.T) {
	s := newSuite(t)
	in, registered := s.register(t)
	pair := s.login(t, in)

	require.NoError(t, s.auth.Logout(context.Background(), registered.ID))

	stored, err := s.store.UserByID(context.Background(), registered.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.RefreshToken)

	_, err = s.auth.Refresh(context.Background(), pair.RefreshToken)
	requireUnauthorized(t, err, ReasonRefreshTokenUsed)

	// access tokens stay valid until expiry
	_, err = s.auth.Authenticate(context.Background(), pair.AccessToken)
	require.NoError(t, err)
}

func TestLogout_UnknownUser(t *testing.T) {
	s := newSuite(t)

	err := s.auth.Logout(context.Background(), gofakeit.UUID())
	require.ErrorIs(t, err, ErrUserNotFound)
}

func TestRefresh_ConcurrentSameToken(t *testing.T) {
	s := newSuite(t)
	in, _ := s.register(t)
	pair := s.login(t, in)

	const workers = 16
	var (
		wg      sync.WaitGroup
		winners atomic.Int32
		losers  atomic.Int32
	)
	start := make(chan struct{})

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := s.auth.Refresh(context.Background(), pair.RefreshToken)
			switch {
			case err == nil:
				winners.Add(1)
			case errors.Is(err, ErrUnauthorized):
				losers.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), winners.Load())
	assert.Equal(t, int32(workers-1), losers.Load())
}

func TestUnauthorizedError_HidesCause(t *testing.T) {
	err := unauthorized(ReasonInvalidAccessToken, errors.New("signature is invalid: key mismatch"))

	assert.Equal(t, ReasonInvalidAccessToken, err.Error())
	assert.ErrorIs(t, err, ErrUnauthorized)
}
