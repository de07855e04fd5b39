// Package codec holds the JSON encoding used for websocket frames and REST
// bodies.
package codec

import (
	"bytes"
	"io"

	"github.com/buger/jsonparser"
	"github.com/goccy/go-json"
)

type Encoder interface {
	Encode(v any) error
}

type Decoder interface {
	Decode(v any) error
}

type Marshaler interface {
	Marshal(v any) ([]byte, error)
	NewEncoder(w io.Writer) Encoder
}

type Unmarshaler interface {
	Unmarshal(data []byte, dst any) error
	NewDecoder(r io.Reader) Decoder
}

// JSON implements Marshaler and Unmarshaler with goccy/go-json.
type JSON struct{}

var (
	_ Marshaler   = JSON{}
	_ Unmarshaler = JSON{}
)

func (JSON) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (JSON) NewEncoder(w io.Writer) Encoder {
	return json.NewEncoder(w)
}

func (JSON) Unmarshal(data []byte, dst any) error {
	return json.Unmarshal(data, dst)
}

func (JSON) NewDecoder(r io.Reader) Decoder {
	return json.NewDecoder(r)
}

// Default is the codec used when none is configured.
var Default = JSON{}

// FrameType returns the top-level "type" string of a JSON object frame
// without decoding the rest of it.
func FrameType(frame []byte) (string, bool) {
	t, err := jsonparser.GetString(frame, "type")
	if err != nil {
		return "", false
	}
	return t, true
}

// Snippet returns at most limit bytes of frame for logging, with whitespace
// runs collapsed.
func Snippet(frame []byte, limit int) string {
	trimmed := bytes.Join(bytes.Fields(frame), []byte(" "))
	if limit > 0 && len(trimmed) > limit {
		return string(trimmed[:limit]) + "..."
	}
	return string(trimmed)
}
