package constants

import "time"

// Wire protocol.
const (
	// HeartbeatPing is the liveness frame sent while the connection is open.
	HeartbeatPing = `{"type":"ping"}`
	// HeartbeatAckType is the "type" of the server's acknowledgment frame.
	HeartbeatAckType = "pong"
	// TokenQueryParam carries the authorization token on the connection URL.
	TokenQueryParam = "token"

	// CloseMessageCode is sent in the close frame on a client initiated close.
	CloseMessageCode = 1000
)

// Connection defaults.
const (
	DefaultMaxReconnectAttempts = 5
	DefaultReconnectInterval    = 3 * time.Second
	DefaultMaxReconnectDelay    = 30 * time.Second
	DefaultHeartbeatInterval    = 25 * time.Second
	DefaultHeartbeatTimeout     = 60 * time.Second
	DefaultDialTimeout          = 10 * time.Second
	DefaultWriteTimeout         = 10 * time.Second
	DefaultHTTPTimeout          = 15 * time.Second
)

var (
	WebsocketScheme       = "ws"
	WebsocketSecureScheme = "wss"
	HTTPScheme            = "http"
	HTTPSecureScheme      = "https"
)

// MaxLoggedFrameBytes bounds raw frame snippets written to logs.
const MaxLoggedFrameBytes = 256
