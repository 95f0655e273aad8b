package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"authsvc/internal/domain/models"
	"authsvc/internal/lib/api/response"
	"authsvc/internal/lib/sl"
	authsvc "authsvc/internal/services/auth"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
)

const (
	AccessTokenCookie  = "accessToken"
	RefreshTokenCookie = "refreshToken"

	userKey = "authsvc.user"
)

type Authenticator interface {
	Authenticate(ctx context.Context, accessToken string) (*models.User, error)
}

// TokenExtractor pulls a raw token out of a request. It returns "" when the
// carrier it reads is absent.
type TokenExtractor func(c *gin.Context) string

// AccessTokenExtractors are tried in order: cookie first, then bearer header.
var AccessTokenExtractors = []TokenExtractor{
	FromCookie(AccessTokenCookie),
	FromBearer(),
}

// RefreshTokenExtractors are tried in order: cookie first, then JSON body.
var RefreshTokenExtractors = []TokenExtractor{
	FromCookie(RefreshTokenCookie),
	FromJSONBody("refreshToken"),
}

func FromCookie(name string) TokenExtractor {
	return func(c *gin.Context) string {
		v, err := c.Cookie(name)
		if err != nil {
			return ""
		}
		return v
	}
}

func FromBearer() TokenExtractor {
	return func(c *gin.Context) string {
		h := c.GetHeader("Authorization")
		const prefix = "Bearer "
		if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
			return ""
		}
		return strings.TrimSpace(h[len(prefix):])
	}
}

// FromJSONBody reads a string field of a JSON body. The body stays
// readable by later handlers.
func FromJSONBody(field string) TokenExtractor {
	return func(c *gin.Context) string {
		if c.Request.Body == nil || c.Request.ContentLength == 0 {
			return ""
		}
		var body map[string]any
		if err := c.ShouldBindBodyWith(&body, binding.JSON); err != nil {
			return ""
		}
		v, _ := body[field].(string)
		return v
	}
}

// Extract returns the first non-empty token produced by extractors.
func Extract(c *gin.Context, extractors []TokenExtractor) string {
	for _, ex := range extractors {
		if token := ex(c); token != "" {
			return token
		}
	}
	return ""
}

// New returns a middleware that resolves the access token to a user and
// stores it on the context. Requests without a valid token are aborted with
// 401.
func New(log *slog.Logger, authn Authenticator, extractors ...TokenExtractor) gin.HandlerFunc {
	if len(extractors) == 0 {
		extractors = AccessTokenExtractors
	}

	log = log.With(slog.String("component", "middleware/auth"))

	return func(c *gin.Context) {
		user, err := authn.Authenticate(c.Request.Context(), Extract(c, extractors))
		if err != nil {
			var ue *authsvc.UnauthorizedError
			if errors.As(err, &ue) {
				if ue.Cause != nil {
					log.Debug("request rejected", slog.String("reason", ue.Reason), sl.Err(ue.Cause))
				}
				c.AbortWithStatusJSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, ue.Reason))
				return
			}

			log.Error("failed to authenticate request", sl.Err(err))
			c.AbortWithStatusJSON(http.StatusInternalServerError,
				response.Error(http.StatusInternalServerError, "Internal server error"))
			return
		}

		c.Set(userKey, user)
		c.Next()
	}
}

// User returns the identity attached by the middleware.
func User(c *gin.Context) (*models.User, bool) {
	v, ok := c.Get(userKey)
	if !ok {
		return nil, false
	}
	user, ok := v.(*models.User)
	return user, ok && user != nil
}
