// Package gorillaws implements connection.Transport on top of
// github.com/gorilla/websocket.
package gorillaws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	gorilla "github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/simplenotes/notesync/pkg/connection"
	"github.com/simplenotes/notesync/pkg/constants"
)

// DefaultDialer is the default gorilla dialer used by Transport.
//
// It uses the default gorilla dialer as of gorilla/websocket v1.5.0 with
// EnableCompression set to true.
var DefaultDialer = &gorilla.Dialer{
	Proxy:             gorilla.DefaultDialer.Proxy,
	HandshakeTimeout:  gorilla.DefaultDialer.HandshakeTimeout,
	EnableCompression: true,
}

// DefaultFrameBuffer is the number of inbound frames buffered per connection.
const DefaultFrameBuffer = 64

// closeGrace bounds the close frame write when the context has no deadline.
const closeGrace = time.Second

type Option func(t *Transport)

func WithDialer(d *gorilla.Dialer) Option {
	return func(t *Transport) { t.dialer = d }
}

func WithHeader(h http.Header) Option {
	return func(t *Transport) { t.header = h }
}

func WithLogger(l zerolog.Logger) Option {
	return func(t *Transport) { t.logger = l }
}

func WithFrameBuffer(n int) Option {
	return func(t *Transport) { t.frameBuffer = n }
}

// Transport dials websocket connections.
type Transport struct {
	dialer      *gorilla.Dialer
	header      http.Header
	logger      zerolog.Logger
	frameBuffer int
}

var _ connection.Transport = (*Transport)(nil)

func New(opts ...Option) *Transport {
	t := &Transport{
		dialer:      DefaultDialer,
		logger:      zerolog.Nop(),
		frameBuffer: DefaultFrameBuffer,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Dial opens a connection and starts reading from it.
func (t *Transport) Dial(ctx context.Context, url string) (connection.Conn, error) {
	conn, res, err := t.dialer.DialContext(ctx, url, t.header)
	if res != nil && res.Body != nil {
		defer res.Body.Close()
	}
	if err != nil {
		if res != nil {
			return nil, fmt.Errorf("websocket handshake: %s: %w", res.Status, err)
		}
		return nil, err
	}

	c := &Connection{
		Conn:   conn,
		frames: make(chan []byte, t.frameBuffer),
		closed: make(chan struct{}),
		logger: t.logger,
	}
	go c.readLoop()
	return c, nil
}

// Connection is an open websocket.
type Connection struct {
	Conn *gorilla.Conn

	// connLock serializes writers; gorilla allows one concurrent writer.
	connLock sync.Mutex

	frames chan []byte
	// closed signals a client initiated close. It unblocks the read loop if
	// nobody drains frames anymore.
	closed    chan struct{}
	closeOnce sync.Once

	errLock sync.Mutex
	err     error

	logger zerolog.Logger
}

var _ connection.Conn = (*Connection)(nil)

func (c *Connection) Frames() <-chan []byte {
	return c.frames
}

func (c *Connection) Err() error {
	c.errLock.Lock()
	defer c.errLock.Unlock()
	return c.err
}

// Write sends frame as a text message. The context deadline, if any, is used
// as the write deadline.
func (c *Connection) Write(ctx context.Context, frame []byte) error {
	select {
	case <-c.closed:
		return constants.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	c.connLock.Lock()
	defer c.connLock.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		if err := c.Conn.SetWriteDeadline(deadline); err != nil {
			return err
		}
		defer func() { _ = c.Conn.SetWriteDeadline(time.Time{}) }()
	}
	return c.Conn.WriteMessage(gorilla.TextMessage, frame)
}

// Close sends a normal close frame and closes the socket. The socket is
// closed even if the close frame could not be written in time.
func (c *Connection) Close(ctx context.Context) error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)

		deadline, ok := ctx.Deadline()
		if !ok {
			deadline = time.Now().Add(closeGrace)
		}
		// WriteControl may run concurrently with Write.
		msg := gorilla.FormatCloseMessage(constants.CloseMessageCode, "")
		if werr := c.Conn.WriteControl(gorilla.CloseMessage, msg, deadline); werr != nil && !errors.Is(werr, gorilla.ErrCloseSent) {
			c.logger.Debug().Err(werr).Msg("failed to write close message")
		}

		err = c.Conn.Close()
	})
	return err
}

func (c *Connection) readLoop() {
	defer close(c.frames)

	for {
		_, data, err := c.Conn.ReadMessage()
		if err != nil {
			c.fail(err)
			return
		}

		select {
		case c.frames <- data:
		case <-c.closed:
			c.setErr(constants.ErrClosed)
			return
		}
	}
}

func (c *Connection) fail(err error) {
	select {
	case <-c.closed:
		// Errors after a local close are the close itself.
		err = fmt.Errorf("%w: %w", constants.ErrClosed, err)
	default:
		var closeErr *gorilla.CloseError
		if errors.As(err, &closeErr) {
			c.logger.Debug().Int("code", closeErr.Code).Str("text", closeErr.Text).Msg("closed by server")
		}
	}

	c.setErr(err)
}

func (c *Connection) setErr(err error) {
	c.errLock.Lock()
	defer c.errLock.Unlock()
	c.err = err
}
