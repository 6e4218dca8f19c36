// Package auth mints and verifies the stateless session tokens handed to
// clients after a successful login or federation callback.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/safatanc/safatanc-connect-core/internal/common"
	"github.com/safatanc/safatanc-connect-core/internal/server/models"
)

// Token uses carried in the typ claim.
const (
	UseAccess  = "access"
	UseRefresh = "refresh"
)

// Claims is the payload of both access and refresh tokens. Subject holds the
// account id and ID a random jti.
type Claims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
	Role  string `json:"role"`
	Use   string `json:"typ"`
}

// AccountID parses the subject.
func (c *Claims) AccountID() (uuid.UUID, error) {
	id, err := uuid.Parse(c.Subject)
	if err != nil {
		return uuid.Nil, common.AuthError(common.ErrInvalidToken, "invalid token")
	}
	return id, nil
}

// TokenPair bundles a short-lived access token and a long-lived refresh token.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// TokenIssuer signs session tokens with HS256. It holds no state besides the
// secret and TTLs and is safe for concurrent use.
type TokenIssuer struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewTokenIssuer constructs a TokenIssuer signing HS256 tokens with secret.
func NewTokenIssuer(secret []byte, accessTTL, refreshTTL time.Duration) (*TokenIssuer, error) {
	if len(secret) == 0 {
		return nil, common.NewError(common.ErrConfiguration, "jwt secret is empty")
	}
	if accessTTL <= 0 || refreshTTL <= 0 {
		return nil, common.NewError(common.ErrConfiguration, "token ttl must be positive")
	}
	return &TokenIssuer{secret: secret, accessTTL: accessTTL, refreshTTL: refreshTTL, now: time.Now}, nil
}

// Mint issues an access and a refresh token for a.
func (i *TokenIssuer) Mint(a *models.Account) (*TokenPair, error) {
	access, err := i.sign(a.ID.String(), a.Email, a.Role, UseAccess, i.accessTTL)
	if err != nil {
		return nil, err
	}
	refresh, err := i.sign(a.ID.String(), a.Email, a.Role, UseRefresh, i.refreshTTL)
	if err != nil {
		return nil, err
	}
	return &TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// Verify checks signature and expiry. Expired tokens fail with reason
// common.ErrTokenExpired, everything else with common.ErrInvalidToken.
func (i *TokenIssuer) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, common.AuthError(common.ErrTokenExpired, "token expired")
		}
		return nil, common.AuthError(common.ErrInvalidToken, "invalid token")
	}
	if !token.Valid || claims.Subject == "" {
		return nil, common.AuthError(common.ErrInvalidToken, "invalid token")
	}

	return claims, nil
}

// Refresh exchanges a refresh token for a new access token carrying the same
// subject, email and role. The refresh token itself is not rotated.
func (i *TokenIssuer) Refresh(refreshToken string) (string, error) {
	claims, err := i.Verify(refreshToken)
	if err != nil {
		return "", err
	}
	if claims.Use != UseRefresh {
		return "", common.AuthError(common.ErrInvalidToken, "invalid token")
	}
	return i.sign(claims.Subject, claims.Email, claims.Role, UseAccess, i.accessTTL)
}

// SubjectOf returns the account id of a valid token.
func (i *TokenIssuer) SubjectOf(tokenString string) (uuid.UUID, error) {
	claims, err := i.Verify(tokenString)
	if err != nil {
		return uuid.Nil, err
	}
	return claims.AccountID()
}

func (i *TokenIssuer) sign(subject, email, role, use string, ttl time.Duration) (string, error) {
	now := i.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Email: email,
		Role:  role,
		Use:   use,
	})

	tokenString, err := token.SignedString(i.secret)
	if err != nil {
		return "", common.Wrap(common.ErrorInternal, "internal error", err)
	}

	return tokenString, nil
}
