// Package tokenstore persists the authorization token and reports changes
// to it, so the connection manager can follow sign-in and sign-out.
package tokenstore

import (
	"context"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
)

// Store holds at most one token.
type Store interface {
	// Load returns the current token, or "" with ErrNoToken or
	// ErrTokenExpired when there is no usable one.
	Load() (string, error)
	Save(token string) error
	Clear() error
	// Watch emits the usable token ("" when there is none) every time it
	// changes, until ctx ends. The current value is not emitted.
	Watch(ctx context.Context) (<-chan string, error)
}

// Expired reports whether token is a JWT whose exp claim is before now. The
// signature is not verified; the server does that. Tokens that are not JWTs
// or carry no exp never expire locally.
func Expired(token string, now time.Time) bool {
	parsed, _, err := gojwt.NewParser().ParseUnverified(token, gojwt.MapClaims{})
	if err != nil {
		return false
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return !now.Before(exp.Time)
}
