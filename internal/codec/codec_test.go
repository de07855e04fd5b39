package codec

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameType(t *testing.T) {
	typ, ok := FrameType([]byte(`{"type":"pong"}`))
	assert.True(t, ok)
	assert.Equal(t, "pong", typ)

	typ, ok = FrameType([]byte(`{"data":{"type":"nested"},"type":"NOTE_DELETED"}`))
	assert.True(t, ok)
	assert.Equal(t, "NOTE_DELETED", typ)

	_, ok = FrameType([]byte(`{"type":42}`))
	assert.False(t, ok)

	_, ok = FrameType([]byte(`not json`))
	assert.False(t, ok)
}

func TestSnippet(t *testing.T) {
	assert.Equal(t, `{"a": 1}`, Snippet([]byte("{\"a\":\n   1}"), 0))
	assert.Equal(t, "abc...", Snippet([]byte("abcdef"), 3))
	assert.Equal(t, "abc", Snippet([]byte("abc"), 3))
}

func TestJSONRoundTrip(t *testing.T) {
	type frame struct {
		Type string `json:"type"`
	}

	data, err := Default.Marshal(frame{Type: "ping"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"ping"}`, string(data))

	var out frame
	require.NoError(t, Default.Unmarshal(data, &out))
	assert.Equal(t, "ping", out.Type)

	var buf bytes.Buffer
	require.NoError(t, Default.NewEncoder(&buf).Encode(out))
	var again frame
	require.NoError(t, Default.NewDecoder(&buf).Decode(&again))
	assert.Equal(t, out, again)
}
