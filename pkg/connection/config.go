package connection

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/rs/zerolog"
	"github.com/simplenotes/notesync/pkg/bus"
	"github.com/simplenotes/notesync/pkg/constants"
	"github.com/simplenotes/notesync/pkg/events"
	"github.com/simplenotes/notesync/pkg/notify"
)

// Dispatcher applies validated envelopes to local state.
type Dispatcher interface {
	Dispatch(env events.Envelope)
}

// Config configures a Manager.
//
// It is not absolutely necessary to create a Config using NewConfig,
// but NewConfig fills in the defaults every field needs.
type Config struct {
	// URL is the websocket endpoint, such as "wss://notes.example.com/ws".
	URL string
	// TokenParam is the query parameter carrying the token.
	TokenParam string
	// Token is the initial authorization token. Empty keeps the manager idle
	// until SetToken is called.
	Token string

	MaxReconnectAttempts int
	ReconnectInterval    time.Duration
	// HeartbeatInterval is the ping period while open. Zero disables
	// heartbeats and the liveness deadline.
	HeartbeatInterval time.Duration
	// HeartbeatTimeout is how long the connection may stay silent before it
	// is considered dead.
	HeartbeatTimeout time.Duration
	DialTimeout      time.Duration
	WriteTimeout     time.Duration

	Transport Transport
	Registry  *events.Registry
	// Bus receives every validated envelope. Optional.
	Bus *bus.Bus
	// Dispatcher applies entity events after they were published. Optional.
	Dispatcher Dispatcher
	Notifier   notify.Notifier
	Logger     zerolog.Logger
	Clock      Clock
	// Retryer computes reconnect delays. Defaults to a fixed
	// ReconnectInterval.
	Retryer Retryer

	// OnLogout is called from the manager loop after a session-ending signal.
	OnLogout func()
	// OnStateChange is called from the manager loop whenever Status changes.
	OnStateChange func(Status)
}

// NewConfig returns a Config for rawURL with every default applied.
// Transport still has to be set.
func NewConfig(rawURL string) *Config {
	return &Config{
		URL:                  rawURL,
		TokenParam:           constants.TokenQueryParam,
		MaxReconnectAttempts: constants.DefaultMaxReconnectAttempts,
		ReconnectInterval:    constants.DefaultReconnectInterval,
		HeartbeatInterval:    constants.DefaultHeartbeatInterval,
		HeartbeatTimeout:     constants.DefaultHeartbeatTimeout,
		DialTimeout:          constants.DefaultDialTimeout,
		WriteTimeout:         constants.DefaultWriteTimeout,
		Registry:             events.Default(),
		Notifier:             notify.Nop{},
		Logger:               zerolog.Nop(),
		Clock:                SystemClock{},
	}
}

// Validate reports the first problem with c, wrapping ErrInvalidConfig.
func (c *Config) Validate() error {
	if err := c.validate(); err != nil {
		return fmt.Errorf("%w: %w", constants.ErrInvalidConfig, err)
	}
	return nil
}

func (c *Config) validate() error {
	if c.URL == "" {
		return errors.New("url is required")
	}
	u, err := url.Parse(c.URL)
	if err != nil {
		return fmt.Errorf("url: %w", err)
	}
	if u.Scheme != constants.WebsocketScheme && u.Scheme != constants.WebsocketSecureScheme {
		return fmt.Errorf("url scheme %q is not %s or %s", u.Scheme, constants.WebsocketScheme, constants.WebsocketSecureScheme)
	}
	if c.TokenParam == "" {
		return errors.New("token parameter name is required")
	}
	if c.Transport == nil {
		return errors.New("transport is required")
	}
	if c.Registry == nil {
		return errors.New("registry is required")
	}
	if c.MaxReconnectAttempts < 0 {
		return errors.New("max reconnect attempts must not be negative")
	}
	if c.ReconnectInterval <= 0 {
		return errors.New("reconnect interval must be positive")
	}
	if c.HeartbeatInterval < 0 {
		return errors.New("heartbeat interval must not be negative")
	}
	if c.HeartbeatInterval > 0 && c.HeartbeatTimeout <= 0 {
		return errors.New("heartbeat timeout must be positive")
	}
	if c.DialTimeout <= 0 {
		return errors.New("dial timeout must be positive")
	}
	if c.WriteTimeout <= 0 {
		return errors.New("write timeout must be positive")
	}
	return nil
}

// dialURL returns the endpoint with the token in its query.
func (c *Config) dialURL(token string) (string, error) {
	u, err := url.Parse(c.URL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set(c.TokenParam, token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
