package main

import (
	"fmt"
	"time"

	"github.com/nmamano/wallgame-sub002/internal/auth"
)

// TokenCmd mints a signed bearer token against the configured auth secret.
// Production tokens come from the external auth provider; this is for local
// testing of rated games and seat recovery.
type TokenCmd struct {
	Secret      string        `kong:"required,help='Shared HMAC secret, must match the server auth_secret'"`
	UserID      string        `kong:"required,help='Opaque user ID to put in the token subject'"`
	DisplayName string        `kong:"help='Display name claim'"`
	TTL         time.Duration `kong:"default='24h',help='Token lifetime'"`
}

func (c *TokenCmd) Run() error {
	verifier := auth.NewVerifier(c.Secret)
	token, err := verifier.Sign(auth.Identity{
		UserID:      c.UserID,
		DisplayName: c.DisplayName,
	}, c.TTL)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}
