// Package auth extracts opaque user identities from bearer tokens. The core
// never authorizes beyond matching a token to a seat; an identity is only an
// opaque user ID used for seat recovery and rating lookups.
package auth

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
)

// Claims is the token payload. Only the subject (the opaque user ID) and
// the display name are consumed.
type Claims struct {
	DisplayName string `json:"displayName,omitempty"`
	jwt.RegisteredClaims
}

// Identity is an authenticated caller.
type Identity struct {
	UserID      string
	DisplayName string
}

// Verifier validates HMAC-signed bearer tokens. A Verifier built with an
// empty secret treats every caller as anonymous.
type Verifier struct {
	secret []byte
}

// NewVerifier builds a verifier for the given shared secret.
func NewVerifier(secret string) *Verifier {
	if secret == "" {
		return &Verifier{}
	}
	return &Verifier{secret: []byte(secret)}
}

// Verify parses and validates a token string.
func (v *Verifier) Verify(tokenString string) (Identity, error) {
	if len(v.secret) == 0 || tokenString == "" {
		return Identity{}, ErrInvalidToken
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, ErrExpiredToken
		}
		return Identity{}, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return Identity{}, ErrInvalidToken
	}
	return Identity{UserID: claims.Subject, DisplayName: claims.DisplayName}, nil
}

// FromRequest extracts the identity from a request's Authorization header.
// Absent or invalid tokens mean anonymous, never an error: authentication
// is optional everywhere in the core.
func (v *Verifier) FromRequest(r *http.Request) Identity {
	header := r.Header.Get("Authorization")
	if header == "" {
		return Identity{}
	}
	tokenString, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return Identity{}
	}
	id, err := v.Verify(tokenString)
	if err != nil {
		return Identity{}
	}
	return id
}

// Sign issues a token for an identity, used by tests and local tooling; the
// production issuer is the external auth provider.
func (v *Verifier) Sign(identity Identity, ttl time.Duration) (string, error) {
	if len(v.secret) == 0 {
		return "", ErrInvalidToken
	}
	claims := Claims{
		DisplayName: identity.DisplayName,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.UserID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}
