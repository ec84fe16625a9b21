package websocket

import "errors"

var (
	ErrTokenRevoked = errors.New("access token revoked")
	ErrUnauthorized = errors.New("unauthorized")
)
