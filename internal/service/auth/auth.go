package auth

import (
	"context"
	"errors"
	"fmt"
	"group_chat/internal/model"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalid and ErrExpired are the only rejection reasons. Callers must not
// show the difference to the client; see PublicMessage.
var (
	ErrInvalid = errors.New("invalid credential")
	ErrExpired = errors.New("expired credential")
)

// PublicMessage is what the client sees for any authorization failure.
const PublicMessage = "invalid credential"

type (
	Identities interface {
		FindByID(ctx context.Context, id string) (*model.User, error)
	}

	Config struct {
		Secret   []byte
		Issuer   string
		TokenTTL time.Duration
		Now      func() time.Time
	}

	Authorizer struct {
		cfg   Config
		users Identities
	}
)

func NewAuthorizer(cfg Config, users Identities) *Authorizer {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Authorizer{cfg: cfg, users: users}
}

// IsRejection reports whether err is an authorization failure rather than a
// collaborator failure.
func IsRejection(err error) bool {
	return errors.Is(err, ErrInvalid) || errors.Is(err, ErrExpired)
}

// Issue mints a bearer token for userID.
func (a *Authorizer) Issue(userID string) (string, error) {
	now := a.cfg.Now().UTC()
	claims := jwt.RegisteredClaims{
		Issuer:    a.cfg.Issuer,
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(a.cfg.TokenTTL)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.cfg.Secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return token, nil
}

// Authenticate verifies token and resolves the identity it names. The
// signature is checked before the validity window, and an unknown identity
// is reported exactly like a malformed token.
func (a *Authorizer) Authenticate(ctx context.Context, token string) (*model.User, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalid
	}

	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return a.cfg.Secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return nil, ErrInvalid
	}

	if claims.Issuer != a.cfg.Issuer || claims.Subject == "" || claims.ExpiresAt == nil {
		return nil, ErrInvalid
	}

	now := a.cfg.Now()
	if claims.NotBefore != nil && now.Before(claims.NotBefore.Time) {
		return nil, ErrInvalid
	}
	if !claims.ExpiresAt.Time.After(now) {
		return nil, ErrExpired
	}

	user, err := a.users.FindByID(ctx, claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("lookup identity: %w", err)
	}
	if user == nil {
		return nil, ErrInvalid
	}
	return user, nil
}
