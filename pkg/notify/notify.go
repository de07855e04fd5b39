// Package notify is the single surface through which user-visible failures
// and notices are reported, so that they are presented consistently.
package notify

import (
	"sync"

	"github.com/rs/zerolog"
)

type Level string

const (
	LevelError   Level = "error"
	LevelWarning Level = "warning"
	LevelInfo    Level = "info"
)

type Notifier interface {
	Error(title, message string)
	Warn(title, message string)
	Info(title, message string)
}

// Message is a single notification.
type Message struct {
	Level   Level
	Title   string
	Message string
}

// Log writes notifications to a zerolog logger.
type Log struct {
	Logger zerolog.Logger
}

var _ Notifier = (*Log)(nil)

func (l *Log) Error(title, message string) {
	l.Logger.Error().Str("title", title).Msg(message)
}

func (l *Log) Warn(title, message string) {
	l.Logger.Warn().Str("title", title).Msg(message)
}

func (l *Log) Info(title, message string) {
	l.Logger.Info().Str("title", title).Msg(message)
}

// Recorder keeps every notification in memory.
type Recorder struct {
	mu       sync.Mutex
	messages []Message
}

var _ Notifier = (*Recorder)(nil)

func (r *Recorder) Error(title, message string) { r.add(LevelError, title, message) }
func (r *Recorder) Warn(title, message string)  { r.add(LevelWarning, title, message) }
func (r *Recorder) Info(title, message string)  { r.add(LevelInfo, title, message) }

func (r *Recorder) add(level Level, title, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, Message{Level: level, Title: title, Message: message})
}

// Messages returns a copy of the recorded notifications.
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.messages...)
}

// Func adapts a function to Notifier.
type Func func(Message)

func (f Func) Error(title, message string) { f(Message{Level: LevelError, Title: title, Message: message}) }
func (f Func) Warn(title, message string)  { f(Message{Level: LevelWarning, Title: title, Message: message}) }
func (f Func) Info(title, message string)  { f(Message{Level: LevelInfo, Title: title, Message: message}) }

// Nop discards notifications.
type Nop struct{}

func (Nop) Error(string, string) {}
func (Nop) Warn(string, string)  {}
func (Nop) Info(string, string)  {}
