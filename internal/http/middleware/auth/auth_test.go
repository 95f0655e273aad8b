package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"authsvc/internal/domain/models"
	"authsvc/internal/lib/api/response"
	"authsvc/internal/lib/logger/handlers/slogdiscard"
	authsvc "authsvc/internal/services/auth"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAuthenticator struct {
	users map[string]*models.User
	err   error
	seen  []string
}

func (f *fakeAuthenticator) Authenticate(_ context.Context, token string) (*models.User, error) {
	f.seen = append(f.seen, token)
	if f.err != nil {
		return nil, f.err
	}
	if token == "" {
		return nil, &authsvc.UnauthorizedError{Reason: authsvc.ReasonUnauthorizedRequest}
	}
	u, ok := f.users[token]
	if !ok {
		return nil, &authsvc.UnauthorizedError{Reason: authsvc.ReasonInvalidAccessToken, Cause: errors.New("bad signature")}
	}
	return u, nil
}

func newRouter(authn Authenticator) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/me", New(slogdiscard.NewDiscardLogger(), authn), func(c *gin.Context) {
		user, ok := User(c)
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.String(http.StatusOK, user.ID)
	})
	return r
}

func TestMiddleware(t *testing.T) {
	authn := &fakeAuthenticator{users: map[string]*models.User{
		"cookie-token": {ID: "from-cookie"},
		"bearer-token": {ID: "from-bearer"},
	}}
	r := newRouter(authn)

	tests := []struct {
		name       string
		cookie     string
		header     string
		wantStatus int
		wantBody   string
		wantMsg    string
	}{
		{name: "cookie", cookie: "cookie-token", wantStatus: http.StatusOK, wantBody: "from-cookie"},
		{name: "bearer", header: "Bearer bearer-token", wantStatus: http.StatusOK, wantBody: "from-bearer"},
		{name: "lower-case scheme", header: "bearer bearer-token", wantStatus: http.StatusOK, wantBody: "from-bearer"},
		{name: "cookie wins over header", cookie: "cookie-token", header: "Bearer bearer-token", wantStatus: http.StatusOK, wantBody: "from-cookie"},
		{name: "no token", wantStatus: http.StatusUnauthorized, wantMsg: authsvc.ReasonUnauthorizedRequest},
		{name: "basic auth ignored", header: "Basic Zm9vOmJhcg==", wantStatus: http.StatusUnauthorized, wantMsg: authsvc.ReasonUnauthorizedRequest},
		{name: "unknown token", header: "Bearer forged", wantStatus: http.StatusUnauthorized, wantMsg: authsvc.ReasonInvalidAccessToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: AccessTokenCookie, Value: tt.cookie})
			}
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()

			r.ServeHTTP(rec, req)

			require.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantBody != "" {
				assert.Equal(t, tt.wantBody, rec.Body.String())
			}
			if tt.wantMsg != "" {
				var resp response.ErrorResponse
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
				assert.Equal(t, tt.wantMsg, resp.Message)
				assert.False(t, resp.Success)
				assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
				assert.NotNil(t, resp.Errors)
				assert.NotContains(t, rec.Body.String(), "bad signature")
			}
		})
	}
}

func TestMiddleware_InternalError(t *testing.T) {
	r := newRouter(&fakeAuthenticator{err: errors.New("db down")})

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer token")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "db down")
}

func TestFromJSONBody_KeepsBodyReadable(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	var (
		extracted string
		rebound   struct {
			RefreshToken string `json:"refreshToken"`
		}
	)
	r.POST("/refresh", func(c *gin.Context) {
		extracted = Extract(c, RefreshTokenExtractors)
		require.NoError(t, c.ShouldBindBodyWith(&rebound, binding.JSON))
		c.Status(http.StatusNoContent)
	})

	body, _ := json.Marshal(map[string]string{"refreshToken": "from-body"})
	req := httptest.NewRequest(http.MethodPost, "/refresh", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "from-body", extracted)
	assert.Equal(t, "from-body", rebound.RefreshToken)
}

func TestRefreshExtractors_CookieFirst(t *testing.T) {
	gin.SetMode(gin.TestMode)

	body, _ := json.Marshal(map[string]string{"refreshToken": "from-body"})
	req := httptest.NewRequest(http.MethodPost, "/refresh", bytes.NewReader(body))
	req.AddCookie(&http.Cookie{Name: RefreshTokenCookie, Value: "from-cookie"})

	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = req

	assert.Equal(t, "from-cookie", Extract(c, RefreshTokenExtractors))
}
