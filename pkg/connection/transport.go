package connection

import (
	"context"
	"time"
)

// Conn is an established message-framed connection.
type Conn interface {
	// Frames delivers inbound text frames in arrival order. It is closed
	// when the connection ends for any reason, after the last frame.
	Frames() <-chan []byte
	// Err returns why Frames was closed. It is only meaningful after that.
	Err() error
	// Write sends one frame.
	Write(ctx context.Context, frame []byte) error
	// Close closes the connection. Frames is closed as a result.
	Close(ctx context.Context) error
}

// Transport opens connections.
type Transport interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// Clock creates the timers used for heartbeats and reconnect delays.
type Clock interface {
	NewTimer(d time.Duration) Timer
}

type Timer interface {
	C() <-chan time.Time
	Stop() bool
}

// SystemClock is the wall clock.
type SystemClock struct{}

func (SystemClock) NewTimer(d time.Duration) Timer {
	return &systemTimer{t: time.NewTimer(d)}
}

type systemTimer struct {
	t *time.Timer
}

func (s *systemTimer) C() <-chan time.Time { return s.t.C }
func (s *systemTimer) Stop() bool          { return s.t.Stop() }

// TransportFunc adapts a dial function to Transport.
type TransportFunc func(ctx context.Context, url string) (Conn, error)

func (f TransportFunc) Dial(ctx context.Context, url string) (Conn, error) {
	return f(ctx, url)
}
