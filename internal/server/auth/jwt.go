// Package auth mints and verifies the signed session tokens.
//
// Access and refresh tokens are HS256 JWTs signed with different secrets.
// Both carry the user id as subject and a random jti so an individual token
// can be revoked before it expires.
package auth

import (
	"errors"
	"strconv"
	"time"

	"github.com/dmitrijs2005/loanapp/internal/common"
	"github.com/dmitrijs2005/loanapp/internal/server/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type TokenType string

const (
	AccessToken  TokenType = "access"
	RefreshToken TokenType = "refresh"
)

type Claims struct {
	jwt.RegisteredClaims
	Type TokenType `json:"typ"`
}

// UserID parses the subject claim.
func (c *Claims) UserID() (int64, error) {
	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil {
		return 0, common.ErrInvalidToken
	}
	return id, nil
}

// ExpiresIn is the time left until expiry, never negative.
func (c *Claims) ExpiresIn(now time.Time) time.Duration {
	if c.ExpiresAt == nil {
		return 0
	}
	d := c.ExpiresAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// SessionPair is what login and registration hand back to the client.
type SessionPair struct {
	AccessToken  string
	RefreshToken string
	User         *models.UserView
}

type TokenIssuer struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	now           func() time.Time
}

func NewTokenIssuer(accessSecret, refreshSecret string, accessTTL, refreshTTL time.Duration) *TokenIssuer {
	return &TokenIssuer{
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
		now:           time.Now,
	}
}

func (i *TokenIssuer) sign(userID int64, typ TokenType, secret []byte, ttl time.Duration) (string, error) {
	now := i.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Type: typ,
	})

	return token.SignedString(secret)
}

func (i *TokenIssuer) IssueAccess(userID int64) (string, error) {
	return i.sign(userID, AccessToken, i.accessSecret, i.accessTTL)
}

func (i *TokenIssuer) IssueRefresh(userID int64) (string, error) {
	return i.sign(userID, RefreshToken, i.refreshSecret, i.refreshTTL)
}

func (i *TokenIssuer) parse(tokenString string, typ TokenType, secret []byte) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(t *jwt.Token) (any, error) { return secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, common.ErrTokenExpired
		}
		return nil, common.ErrInvalidToken
	}

	if !token.Valid || claims.Type != typ || claims.ID == "" {
		return nil, common.ErrInvalidToken
	}
	if _, err := claims.UserID(); err != nil {
		return nil, err
	}

	return claims, nil
}

// VerifyAccess returns common.ErrTokenExpired for an expired but otherwise
// well-formed token and common.ErrInvalidToken for everything else.
func (i *TokenIssuer) VerifyAccess(tokenString string) (*Claims, error) {
	return i.parse(tokenString, AccessToken, i.accessSecret)
}

// VerifyRefresh reports ok=false for any invalid or expired refresh token.
func (i *TokenIssuer) VerifyRefresh(tokenString string) (*Claims, bool) {
	claims, err := i.parse(tokenString, RefreshToken, i.refreshSecret)
	if err != nil {
		return nil, false
	}
	return claims, true
}

// IssueSessionPair mints both tokens for user and attaches its public view.
func (i *TokenIssuer) IssueSessionPair(user *models.User) (*SessionPair, error) {
	access, err := i.IssueAccess(user.ID)
	if err != nil {
		return nil, err
	}
	refresh, err := i.IssueRefresh(user.ID)
	if err != nil {
		return nil, err
	}
	return &SessionPair{AccessToken: access, RefreshToken: refresh, User: user.View()}, nil
}
