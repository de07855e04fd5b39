package notesync

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/simplenotes/notesync/httpclient"
	"github.com/simplenotes/notesync/pkg/bus"
	"github.com/simplenotes/notesync/pkg/connection"
	"github.com/simplenotes/notesync/pkg/connection/gorillaws"
	"github.com/simplenotes/notesync/pkg/notify"
	"github.com/simplenotes/notesync/pkg/store"
	"github.com/simplenotes/notesync/pkg/tokenstore"
)

// Options configures a Client.
type Options struct {
	// StreamURL is the websocket endpoint of the live stream.
	StreamURL string
	// APIURL is the REST base URL used for the initial load. Empty skips
	// the initial load; the collections then fill from live events only.
	APIURL string

	// Tokens is where the authorization token lives. Required.
	Tokens tokenstore.Store

	Notifier notify.Notifier
	Logger   zerolog.Logger

	// Transport defaults to a gorilla websocket transport.
	Transport connection.Transport
	// Configure may adjust the connection settings before the manager is
	// created.
	Configure func(*connection.Config)
}

// Client keeps the local notes and session in sync with the server.
type Client struct {
	Notes   *store.Notes
	Session *store.Session
	Bus     *bus.Bus

	manager  *connection.Manager
	api      *httpclient.Client
	tokens   tokenstore.Store
	notifier notify.Notifier
	logger   zerolog.Logger

	// bootstrapMu serializes initial loads triggered by token changes.
	bootstrapMu sync.Mutex

	// loaded is the token the collections belong to. Never held across a
	// request: logout takes it from the manager loop.
	loadMu sync.Mutex
	loaded string
}

// New wires a Client. Call Run to start syncing.
func New(opts Options) (*Client, error) {
	if opts.Tokens == nil {
		return nil, errors.New("notesync: token store is required")
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = &notify.Log{Logger: opts.Logger}
	}
	transport := opts.Transport
	if transport == nil {
		transport = gorillaws.New(gorillaws.WithLogger(opts.Logger))
	}

	c := &Client{
		Notes:    store.NewNotes(opts.Logger),
		Session:  store.NewSession(opts.Logger),
		Bus:      bus.New(opts.Logger),
		tokens:   opts.Tokens,
		notifier: notifier,
		logger:   opts.Logger,
	}
	if opts.APIURL != "" {
		c.api = httpclient.New(opts.APIURL).WithLogger(opts.Logger)
	}

	cfg := connection.NewConfig(opts.StreamURL)
	cfg.Transport = transport
	cfg.Bus = c.Bus
	cfg.Dispatcher = store.NewDispatcher(c.Notes, c.Session, notifier, opts.Logger)
	cfg.Notifier = notifier
	cfg.Logger = opts.Logger
	cfg.OnLogout = c.logout
	if opts.Configure != nil {
		opts.Configure(cfg)
	}

	manager, err := connection.NewManager(cfg)
	if err != nil {
		return nil, fmt.Errorf("notesync: %w", err)
	}
	c.manager = manager
	return c, nil
}

// Run syncs until ctx ends or Close is called. It follows the token store:
// a token appearing loads the collections and connects, a token going away
// disconnects and clears them.
func (c *Client) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	changes, err := c.tokens.Watch(ctx)
	if err != nil {
		return fmt.Errorf("notesync: %w", err)
	}

	token, err := c.tokens.Load()
	if err != nil {
		c.logger.Info().Err(err).Msg("no usable token, waiting for sign-in")
	}
	c.apply(ctx, token)

	go func() {
		for token := range changes {
			c.apply(ctx, token)
		}
	}()

	return c.manager.Run(ctx)
}

// Close stops syncing.
func (c *Client) Close(ctx context.Context) error {
	return c.manager.Close(ctx)
}

// Status is the connection status for indicators.
func (c *Client) Status() connection.Status {
	return c.manager.Status()
}

// Manager exposes the connection manager, for outbound frames.
func (c *Client) Manager() *connection.Manager {
	return c.manager
}

// Subscribe registers fn for every validated event.
func (c *Client) Subscribe(fn bus.WildcardHandler) (unsubscribe func()) {
	return c.Bus.SubscribeAll(fn)
}

// Logout forgets the token and clears local state.
func (c *Client) Logout() {
	c.manager.SetToken("")
	c.logout()
}

// Bootstrap loads the session user and the note list over REST and replaces
// the collections with them. A token other than the one the collections
// were loaded for empties them first, so nothing from a previous sign-in
// survives a failed load. Live events applied after the load win.
func (c *Client) Bootstrap(ctx context.Context, token string) error {
	c.bootstrapMu.Lock()
	defer c.bootstrapMu.Unlock()

	c.switchAccount(token)
	if c.api == nil {
		return nil
	}

	user, err := c.api.CurrentUser(ctx, token)
	if err != nil {
		return err
	}
	notes, err := c.api.ListNotes(ctx, token)
	if err != nil {
		return err
	}

	c.loadMu.Lock()
	defer c.loadMu.Unlock()
	if c.loaded != token {
		c.logger.Debug().Msg("token changed during initial load, result dropped")
		return nil
	}
	c.Session.Replace(user)
	c.Notes.Replace(notes)
	c.logger.Info().
		Int64("user_id", int64(user.ID)).
		Int("notes", len(notes)).
		Msg("initial load done")
	return nil
}

// switchAccount empties the collections when token is not the one they were
// loaded for.
func (c *Client) switchAccount(token string) {
	c.loadMu.Lock()
	defer c.loadMu.Unlock()
	if token == c.loaded {
		return
	}
	c.loaded = token
	c.Session.Clear()
	c.Notes.Clear()
}

func (c *Client) reset() {
	c.loadMu.Lock()
	defer c.loadMu.Unlock()
	c.loaded = ""
	c.Session.Clear()
	c.Notes.Clear()
}

func (c *Client) apply(ctx context.Context, token string) {
	if token == "" {
		c.manager.SetToken("")
		c.reset()
		return
	}
	if c.manager.Revoked(token) {
		c.logger.Warn().Msg("token was revoked by the server, ignored")
		c.notifier.Error("Sign-in refused", "The server ended the session for this sign-in. Sign in again with a new token.")
		return
	}

	if err := c.Bootstrap(ctx, token); err != nil {
		if errors.Is(err, httpclient.ErrUnauthorized) {
			c.logger.Warn().Err(err).Msg("token rejected by the API")
			c.notifier.Error("Signed out", "Your sign-in is no longer valid.")
			c.logout()
			return
		}
		// The live stream still works; the collections fill from events.
		c.logger.Warn().Err(err).Msg("initial load failed")
	}
	c.manager.SetToken(token)
}

// logout runs after a session-ending signal or an explicit Logout.
func (c *Client) logout() {
	if err := c.tokens.Clear(); err != nil {
		c.logger.Error().Err(err).Msg("failed to clear token")
	}
	c.reset()
	c.logger.Info().Msg("logged out")
}
