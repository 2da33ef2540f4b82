// Package auth provides JWT-based identity for the REST API and the
// realtime session gateway.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token errors.
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrMissingClaim = errors.New("missing required claim")
)

// Identity is the decoded result of verifying a credential token.
// Immutable once attached to a connection.
type Identity struct {
	ID    string
	Email string
}

// Verifier validates an opaque credential token and yields the caller
// identity or a failure reason.
type Verifier interface {
	Verify(token string) (Identity, error)
}

// JWTVerifier implements Verifier using HS256 signed JWTs.
type JWTVerifier struct {
	secret []byte
	ttl    time.Duration
}

// NewJWTVerifier creates a verifier that signs and checks tokens with the
// given secret. ttl applies to tokens produced by Issue.
func NewJWTVerifier(secret []byte, ttl time.Duration) *JWTVerifier {
	return &JWTVerifier{secret: secret, ttl: ttl}
}

// Verify validates the token and extracts the identity from the "sub" and
// "email" claims.
func (v *JWTVerifier) Verify(tokenString string) (Identity, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, ErrExpiredToken
		}
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if !token.Valid {
		return Identity{}, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Identity{}, ErrInvalidToken
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return Identity{}, fmt.Errorf("%w: sub", ErrMissingClaim)
	}
	email, ok := claims["email"].(string)
	if !ok || email == "" {
		return Identity{}, fmt.Errorf("%w: email", ErrMissingClaim)
	}

	return Identity{ID: sub, Email: email}, nil
}

// Issue creates a signed token for the given identity, expiring after the
// verifier's configured TTL.
func (v *JWTVerifier) Issue(identity Identity) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":   identity.ID,
		"email": identity.Email,
		"iat":   now.Unix(),
		"exp":   now.Add(v.ttl).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}

// BearerToken extracts the token from a bearer-style header value
// ("<scheme> <token>"). Returns "" when the header does not carry one.
func BearerToken(header string) string {
	fields := strings.Fields(header)
	if len(fields) != 2 {
		return ""
	}
	return fields[1]
}
