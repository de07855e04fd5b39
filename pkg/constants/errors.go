package constants

import "errors"

var (
	ErrNotOpen       = errors.New("connection is not open")
	ErrClosed        = errors.New("connection manager is closed")
	ErrNoToken       = errors.New("no authorization token")
	ErrTokenExpired  = errors.New("authorization token expired")
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrTimeout       = errors.New("timeout")
)
