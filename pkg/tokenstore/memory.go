package tokenstore

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/simplenotes/notesync/pkg/constants"
)

// Memory is a Store that lives in memory.
type Memory struct {
	mu       sync.Mutex
	token    string
	watchers map[chan string]struct{}

	// Now is used for expiry checks. Defaults to time.Now.
	Now func() time.Time
}

var _ Store = (*Memory)(nil)

func NewMemory(token string) *Memory {
	return &Memory{token: token, watchers: make(map[chan string]struct{})}
}

func (m *Memory) Load() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return usable(m.token, m.now())
}

func (m *Memory) Save(token string) error {
	m.set(token)
	return nil
}

func (m *Memory) Clear() error {
	m.set("")
	return nil
}

func (m *Memory) Watch(ctx context.Context) (<-chan string, error) {
	ch := make(chan string, 1)

	m.mu.Lock()
	m.watchers[ch] = struct{}{}
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		delete(m.watchers, ch)
		close(ch)
		m.mu.Unlock()
	}()
	return ch, nil
}

func (m *Memory) set(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if token == m.token {
		return
	}
	m.token = token
	value, _ := usable(token, m.now())
	for ch := range m.watchers {
		replaceLatest(ch, value)
	}
}

func (m *Memory) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

// usable applies the empty and expiry rules to a stored token.
func usable(token string, now time.Time) (string, error) {
	switch {
	case token == "":
		return "", constants.ErrNoToken
	case Expired(token, now):
		return "", constants.ErrTokenExpired
	}
	return token, nil
}

// absent reports whether err only says there is no usable token.
func absent(err error) bool {
	return errors.Is(err, constants.ErrNoToken) || errors.Is(err, constants.ErrTokenExpired)
}

// replaceLatest sends v on a buffered channel of size one, dropping an
// unread older value.
func replaceLatest(ch chan string, v string) {
	for {
		select {
		case ch <- v:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
