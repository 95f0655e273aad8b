package users

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"authsvc/internal/domain/models"
	mwauth "authsvc/internal/http/middleware/auth"
	"authsvc/internal/lib/api/response"
	"authsvc/internal/lib/sl"
	"authsvc/internal/services/auth"

	"github.com/gin-gonic/gin"
)

type Auth interface {
	Register(ctx context.Context, in auth.RegisterInput) (*models.User, error)
	Login(ctx context.Context, username, email, password string) (*models.User, models.TokenPair, error)
	Refresh(ctx context.Context, refreshToken string) (models.TokenPair, error)
	Logout(ctx context.Context, userID string) error
}

type CookieConfig struct {
	Secure   bool
	Domain   string
	SameSite http.SameSite
}

type Config struct {
	Cookies CookieConfig
	// UploadDir stages multipart files before they are handed to the service.
	UploadDir     string
	MaxUploadSize int64
}

type Handler struct {
	log  *slog.Logger
	auth Auth
	cfg  Config
}

const defaultMaxUploadSize = 5 << 20

func New(log *slog.Logger, authService Auth, cfg Config) *Handler {
	if cfg.MaxUploadSize <= 0 {
		cfg.MaxUploadSize = defaultMaxUploadSize
	}
	return &Handler{log: log, auth: authService, cfg: cfg}
}

// Routes mounts the user endpoints on rg. protect guards the routes that
// need an authenticated user.
func (h *Handler) Routes(rg *gin.RouterGroup, protect gin.HandlerFunc) {
	rg.POST("/register", h.Register)
	rg.POST("/login", h.Login)
	rg.POST("/refresh-token", h.RefreshToken)

	rg.POST("/logout", protect, h.Logout)
	rg.GET("/current-user", protect, h.CurrentUser)
}

func (h *Handler) Register(c *gin.Context) {
	const op = "handlers.users.Register"
	log := h.log.With(slog.String("op", op))

	stageDir, err := h.stageDir()
	if err != nil {
		log.Error("failed to create staging dir", sl.Err(err))
		h.fail(c, log, err)
		return
	}
	defer os.RemoveAll(stageDir)

	avatarPath, err := h.stageFile(c, stageDir, "avatar")
	if err != nil {
		h.fail(c, log, err)
		return
	}
	coverPath, err := h.stageFile(c, stageDir, "coverImage")
	if err != nil {
		h.fail(c, log, err)
		return
	}

	user, err := h.auth.Register(c.Request.Context(), auth.RegisterInput{
		FullName:       c.PostForm("fullName"),
		Username:       c.PostForm("username"),
		Email:          c.PostForm("email"),
		Password:       c.PostForm("password"),
		AvatarPath:     avatarPath,
		CoverImagePath: coverPath,
	})
	if err != nil {
		h.fail(c, log, err)
		return
	}

	c.JSON(http.StatusCreated, response.OK(http.StatusCreated, user, "User registered successfully"))
}

type loginRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) Login(c *gin.Context) {
	const op = "handlers.users.Login"
	log := h.log.With(slog.String("op", op))

	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warn("failed to decode request body", sl.Err(err))
		c.AbortWithStatusJSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "invalid request body"))
		return
	}

	user, pair, err := h.auth.Login(c.Request.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		h.fail(c, log, err)
		return
	}

	h.setTokenCookies(c, pair)
	c.JSON(http.StatusOK, response.OK(http.StatusOK, gin.H{
		"user":         user,
		"accessToken":  pair.AccessToken,
		"refreshToken": pair.RefreshToken,
	}, "User logged in successfully"))
}

func (h *Handler) Logout(c *gin.Context) {
	const op = "handlers.users.Logout"
	log := h.log.With(slog.String("op", op))

	user, ok := mwauth.User(c)
	if !ok {
		h.fail(c, log, errors.New("no user on authenticated route"))
		return
	}

	if err := h.auth.Logout(c.Request.Context(), user.ID); err != nil {
		h.fail(c, log, err)
		return
	}

	h.clearTokenCookies(c)
	c.JSON(http.StatusOK, response.OK(http.StatusOK, gin.H{}, "User logged out"))
}

func (h *Handler) RefreshToken(c *gin.Context) {
	const op = "handlers.users.RefreshToken"
	log := h.log.With(slog.String("op", op))

	incoming := mwauth.Extract(c, mwauth.RefreshTokenExtractors)

	pair, err := h.auth.Refresh(c.Request.Context(), incoming)
	if err != nil {
		h.fail(c, log, err)
		return
	}

	h.setTokenCookies(c, pair)
	c.JSON(http.StatusOK, response.OK(http.StatusOK, pair, "Access token refreshed"))
}

func (h *Handler) CurrentUser(c *gin.Context) {
	const op = "handlers.users.CurrentUser"
	log := h.log.With(slog.String("op", op))

	user, ok := mwauth.User(c)
	if !ok {
		h.fail(c, log, errors.New("no user on authenticated route"))
		return
	}

	c.JSON(http.StatusOK, response.OK(http.StatusOK, user, "Current user fetched successfully"))
}

// fail maps a service error onto the error envelope.
func (h *Handler) fail(c *gin.Context, log *slog.Logger, err error) {
	var (
		ue      *auth.UnauthorizedError
		ve      *auth.ValidationError
		status  int
		message string
	)

	switch {
	case errors.As(err, &ue):
		status, message = http.StatusUnauthorized, ue.Reason
		if ue.Cause != nil {
			log.Debug("request rejected", slog.String("reason", ue.Reason), sl.Err(ue.Cause))
		}
	case errors.As(err, &ve):
		status, message = http.StatusBadRequest, ve.Message
	case errors.Is(err, auth.ErrUserAlreadyExists):
		status, message = http.StatusConflict, "User with email or username already exists"
	case errors.Is(err, auth.ErrUserNotFound):
		status, message = http.StatusNotFound, "User does not exist"
	case errors.Is(err, auth.ErrInvalidCredentials):
		status, message = http.StatusUnauthorized, "Password is incorrect"
	case errors.Is(err, auth.ErrIssuanceFailed):
		log.Error("token issuance failed", sl.Err(err))
		status, message = http.StatusInternalServerError, "Something went wrong while generating tokens"
	default:
		log.Error("request failed", sl.Err(err))
		status, message = http.StatusInternalServerError, "Internal server error"
	}

	c.AbortWithStatusJSON(status, response.Error(status, message))
}

func (h *Handler) setTokenCookies(c *gin.Context, pair models.TokenPair) {
	h.setCookie(c, mwauth.AccessTokenCookie, pair.AccessToken, 0)
	h.setCookie(c, mwauth.RefreshTokenCookie, pair.RefreshToken, 0)
}

func (h *Handler) clearTokenCookies(c *gin.Context) {
	h.setCookie(c, mwauth.AccessTokenCookie, "", -1)
	h.setCookie(c, mwauth.RefreshTokenCookie, "", -1)
}

func (h *Handler) setCookie(c *gin.Context, name, value string, maxAge int) {
	sameSite := h.cfg.Cookies.SameSite
	if sameSite == 0 {
		sameSite = http.SameSiteLaxMode
	}
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   h.cfg.Cookies.Domain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.cfg.Cookies.Secure,
		SameSite: sameSite,
	})
}

func (h *Handler) stageDir() (string, error) {
	if h.cfg.UploadDir != "" {
		if err := os.MkdirAll(h.cfg.UploadDir, 0o750); err != nil {
			return "", err
		}
	}
	return os.MkdirTemp(h.cfg.UploadDir, "register-*")
}

// stageFile saves the multipart file named field into dir and returns its
// path, or "" if the field is absent.
func (h *Handler) stageFile(c *gin.Context, dir, field string) (string, error) {
	file, err := c.FormFile(field)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
			return "", nil
		}
		return "", &auth.ValidationError{Message: fmt.Sprintf("invalid %s upload", field)}
	}
	if file.Size > h.cfg.MaxUploadSize {
		return "", &auth.ValidationError{Message: fmt.Sprintf("%s file is too large", field)}
	}

	path := filepath.Join(dir, field+filepath.Ext(filepath.Base(file.Filename)))
	if err := c.SaveUploadedFile(file, path); err != nil {
		return "", fmt.Errorf("save %s: %w", field, err)
	}

	return path, nil
}
