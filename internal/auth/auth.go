// Package auth resolves the requesting user from a signed session
// token.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrUnauthenticated is returned when a request carries no valid
// session token.
var ErrUnauthenticated = errors.New("unauthenticated")

// Verifier checks HS256 session tokens presented as a bearer
// header or a cookie. The token subject is the user id.
type Verifier struct {
	secret     []byte
	cookieName string
}

// NewVerifier returns a Verifier for tokens signed with secret.
func NewVerifier(secret, cookieName string) (*Verifier, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is required")
	}
	if cookieName == "" {
		cookieName = "token"
	}
	return &Verifier{secret: []byte(secret), cookieName: cookieName}, nil
}

// Token extracts the raw token from r. The Authorization header
// wins over the cookie.
func (v *Verifier) Token(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, tok, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(tok)
		}
		return ""
	}
	if c, err := r.Cookie(v.cookieName); err == nil {
		return c.Value
	}
	return ""
}

// Verify parses tok and returns its subject.
func (v *Verifier) Verify(tok string) (string, error) {
	if tok == "" {
		return "", ErrUnauthenticated
	}
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(tok, claims,
		func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf(
					"unexpected signing method: %v", t.Header["alg"],
				)
			}
			return v.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: token has no subject", ErrUnauthenticated)
	}
	return claims.Subject, nil
}

// Authenticate resolves the user id for r.
func (v *Verifier) Authenticate(r *http.Request) (string, error) {
	return v.Verify(v.Token(r))
}

// Sign issues a token for userID valid for ttl. Used by the CLI and
// tests; the CRUD app issues production tokens.
func (v *Verifier) Sign(userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).
		SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return s, nil
}
