package jwt

import (
	"errors"
	"fmt"
	"time"

	"authsvc/internal/domain/models"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrInvalidSignature = errors.New("invalid token signature")
	ErrExpired          = errors.New("token expired")
	ErrWrongClass       = errors.New("wrong token class")
	ErrInvalidConfig    = errors.New("invalid encoder config")
)

// ClassConfig holds the signing secret and lifetime of one token class.
type ClassConfig struct {
	Secret string
	TTL    time.Duration
}

type Config struct {
	Access  ClassConfig
	Refresh ClassConfig
	Issuer  string
	// Now overrides the clock used for iat/exp. Defaults to time.Now.
	Now func() time.Time
}

// Claims are the payload of both access and refresh tokens. The class
// travels in the typ claim so a token of one class is never accepted as
// the other.
type Claims struct {
	UserID string            `json:"uid"`
	Class  models.TokenClass `json:"typ"`
	jwt.RegisteredClaims
}

// Encoder signs and verifies class-tagged expiring tokens. It is immutable
// after construction and safe for concurrent use.
type Encoder struct {
	access  ClassConfig
	refresh ClassConfig
	issuer  string
	now     func() time.Time
	parser  *jwt.Parser
}

func NewEncoder(cfg Config) (*Encoder, error) {
	const op = "jwt.NewEncoder"

	switch {
	case cfg.Access.Secret == "" || cfg.Refresh.Secret == "":
		return nil, fmt.Errorf("%s: %w: empty secret", op, ErrInvalidConfig)
	case cfg.Access.Secret == cfg.Refresh.Secret:
		return nil, fmt.Errorf("%s: %w: access and refresh secrets must differ", op, ErrInvalidConfig)
	case cfg.Access.TTL <= 0 || cfg.Refresh.TTL <= 0:
		return nil, fmt.Errorf("%s: %w: ttl must be positive", op, ErrInvalidConfig)
	case cfg.Access.TTL >= cfg.Refresh.TTL:
		return nil, fmt.Errorf("%s: %w: access ttl must be shorter than refresh ttl", op, ErrInvalidConfig)
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Encoder{
		access:  cfg.Access,
		refresh: cfg.Refresh,
		issuer:  cfg.Issuer,
		now:     now,
		parser:  jwt.NewParser(),
	}, nil
}

// Issue mints a token of the given class for userID.
func (e *Encoder) Issue(userID string, class models.TokenClass) (string, error) {
	const op = "jwt.Issue"

	cc, err := e.classConfig(class)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	now := e.now()
	claims := Claims{
		UserID: userID,
		Class:  class,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    e.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(cc.TTL)),
			ID:        uuid.NewString(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(cc.Secret))
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	return signed, nil
}

// Verify checks class, signature and expiry of token. A token whose exp
// equals the current time is expired.
func (e *Encoder) Verify(tokenString string, class models.TokenClass) (*Claims, error) {
	const op = "jwt.Verify"

	cc, err := e.classConfig(class)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var unverified Claims
	if _, _, err := e.parser.ParseUnverified(tokenString, &unverified); err != nil {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidSignature)
	}
	if unverified.Class != class {
		return nil, fmt.Errorf("%s: %w", op, ErrWrongClass)
	}

	claims := &Claims{}
	_, err = jwt.ParseWithClaims(
		tokenString,
		claims,
		func(token *jwt.Token) (interface{}, error) {
			return []byte(cc.Secret), nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(e.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%s: %w", op, ErrExpired)
		}
		return nil, fmt.Errorf("%s: %w: %v", op, ErrInvalidSignature, err)
	}

	if claims.UserID == "" {
		return nil, fmt.Errorf("%s: %w: missing uid", op, ErrInvalidSignature)
	}

	return claims, nil
}

// TTL returns the configured lifetime of class.
func (e *Encoder) TTL(class models.TokenClass) time.Duration {
	cc, err := e.classConfig(class)
	if err != nil {
		return 0
	}
	return cc.TTL
}

func (e *Encoder) classConfig(class models.TokenClass) (ClassConfig, error) {
	switch class {
	case models.TokenClassAccess:
		return e.access, nil
	case models.TokenClassRefresh:
		return e.refresh, nil
	default:
		return ClassConfig{}, fmt.Errorf("%w: %q", ErrWrongClass, class)
	}
}
