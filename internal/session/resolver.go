// Package session turns a connection's credential into an authenticated
// user identity.
package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidSession = errors.New("invalid session credential")
	ErrSessionExpired = errors.New("session expired")
)

// Resolver resolves a session credential to a user id, or nothing.
type Resolver interface {
	Resolve(credential string) (string, error)
}

// JWTResolver validates HMAC-signed session tokens issued by the main
// application. The token subject is the user id.
type JWTResolver struct {
	secret []byte
	clock  clock.Clock
}

func NewJWTResolver(secret string, clk clock.Clock) *JWTResolver {
	return &JWTResolver{secret: []byte(secret), clock: clk}
}

// Resolve parses and verifies the token, including its expiry.
func (r *JWTResolver) Resolve(credential string) (string, error) {
	token, err := jwt.Parse(credential,
		func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return r.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(r.clock.Now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrSessionExpired
		}
		return "", fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}

	sub, err := token.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", ErrInvalidSession
	}
	return sub, nil
}

// IssueToken mints a session token for a user. The main application owns
// login; this exists for tooling and tests.
func IssueToken(secret, userID string, ttl time.Duration, clk clock.Clock) (string, error) {
	now := clk.Now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
