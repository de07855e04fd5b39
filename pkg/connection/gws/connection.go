// Package gws implements connection.Transport on top of github.com/lxzan/gws.
//
// It is an alternative to the gorillaws transport with the same behaviour:
// text frames, compression negotiated, a normal close frame on Close.
package gws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/lxzan/gws"
	"github.com/rs/zerolog"
	"github.com/simplenotes/notesync/pkg/connection"
	"github.com/simplenotes/notesync/pkg/constants"
)

// DefaultFrameBuffer is the number of inbound frames buffered per connection.
const DefaultFrameBuffer = 64

type Option func(t *Transport)

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
	header      http.Header
	logger      zerolog.Logger
	frameBuffer int
}

var _ connection.Transport = (*Transport)(nil)

func New(opts ...Option) *Transport {
	t := &Transport{
		logger:      zerolog.Nop(),
		frameBuffer: DefaultFrameBuffer,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

type dialResult struct {
	socket *gws.Conn
	err    error
}

// Dial opens a connection and starts its read loop. The handshake is bounded
// by the context deadline; a cancelled dial closes the late connection.
func (t *Transport) Dial(ctx context.Context, url string) (connection.Conn, error) {
	c := &Connection{
		frames: make(chan []byte, t.frameBuffer),
		closed: make(chan struct{}),
		logger: t.logger,
	}

	option := &gws.ClientOption{
		Addr:          url,
		RequestHeader: t.header,
		PermessageDeflate: gws.PermessageDeflate{
			Enabled: true,
		},
	}
	if deadline, ok := ctx.Deadline(); ok {
		option.HandshakeTimeout = time.Until(deadline)
	}

	result := make(chan dialResult, 1)
	go func() {
		socket, res, err := gws.NewClient(c, option)
		if err != nil && res != nil {
			err = fmt.Errorf("websocket handshake: %s: %w", res.Status, err)
		}
		result <- dialResult{socket: socket, err: err}
	}()

	select {
	case <-ctx.Done():
		go func() {
			if r := <-result; r.err == nil {
				_ = r.socket.NetConn().Close()
			}
		}()
		return nil, ctx.Err()
	case r := <-result:
		if r.err != nil {
			return nil, r.err
		}
		c.socket = r.socket
	}

	go c.socket.ReadLoop()
	return c, nil
}

// Connection is an open websocket. It is its own gws event handler.
type Connection struct {
	socket *gws.Conn

	frames    chan []byte
	endOnce   sync.Once
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

// Write sends frame as a text message. gws serializes concurrent writers.
func (c *Connection) Write(ctx context.Context, frame []byte) error {
	select {
	case <-c.closed:
		return constants.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if deadline, ok := ctx.Deadline(); ok {
		if err := c.socket.NetConn().SetWriteDeadline(deadline); err != nil {
			return err
		}
		defer func() { _ = c.socket.NetConn().SetWriteDeadline(time.Time{}) }()
	}
	return c.socket.WriteMessage(gws.OpcodeText, frame)
}

// Close sends a normal close frame and closes the socket.
func (c *Connection) Close(context.Context) error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		if werr := c.socket.WriteClose(constants.CloseMessageCode, nil); werr != nil {
			c.logger.Debug().Err(werr).Msg("failed to write close message")
		}
		err = c.socket.NetConn().Close()
	})
	return err
}

func (c *Connection) OnOpen(*gws.Conn) {}

// OnClose runs once on the read loop goroutine when the socket ends.
func (c *Connection) OnClose(_ *gws.Conn, err error) {
	c.endOnce.Do(func() {
		defer close(c.frames)

		select {
		case <-c.closed:
			err = fmt.Errorf("%w: %w", constants.ErrClosed, err)
		default:
			var closeErr *gws.CloseError
			if errors.As(err, &closeErr) {
				c.logger.Debug().Uint16("code", closeErr.Code).Bytes("reason", closeErr.Reason).Msg("closed by server")
				err = fmt.Errorf("closed by server with code %d: %w", closeErr.Code, err)
			}
		}
		c.setErr(err)
	})
}

func (c *Connection) OnPing(socket *gws.Conn, payload []byte) {
	_ = socket.WritePong(payload)
}

func (c *Connection) OnPong(*gws.Conn, []byte) {}

func (c *Connection) OnMessage(_ *gws.Conn, message *gws.Message) {
	// The message buffer is pooled and reused after Close.
	frame := append([]byte(nil), message.Bytes()...)
	message.Close()

	select {
	case c.frames <- frame:
	case <-c.closed:
	}
}

func (c *Connection) setErr(err error) {
	c.errLock.Lock()
	defer c.errLock.Unlock()
	c.err = err
}
