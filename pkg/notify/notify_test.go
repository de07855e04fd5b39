package notify

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestRecorder(t *testing.T) {
	var r Recorder
	r.Error("Suspended", "you were suspended: spam")
	r.Warn("Disconnected", "idle")
	r.Info("Session expired", "please log in again")

	assert.Equal(t, []Message{
		{Level: LevelError, Title: "Suspended", Message: "you were suspended: spam"},
		{Level: LevelWarning, Title: "Disconnected", Message: "idle"},
		{Level: LevelInfo, Title: "Session expired", Message: "please log in again"},
	}, r.Messages())
}

func TestLog(t *testing.T) {
	buf := &bytes.Buffer{}
	l := &Log{Logger: zerolog.New(buf)}

	l.Warn("Disconnected", "idle for too long")

	assert.Contains(t, buf.String(), `"level":"warn"`)
	assert.Contains(t, buf.String(), `"title":"Disconnected"`)
	assert.Contains(t, buf.String(), "idle for too long")
}

func TestFunc(t *testing.T) {
	var got []Message
	n := Func(func(m Message) { got = append(got, m) })

	n.Info("a", "b")
	Nop{}.Error("ignored", "ignored")

	assert.Equal(t, []Message{{Level: LevelInfo, Title: "a", Message: "b"}}, got)
}
