package events

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/buger/jsonparser"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/santhosh-tekuri/jsonschema/v6/kind"
	"github.com/simplenotes/notesync/internal/codec"
)

var (
	ErrMalformedFrame  = errors.New("malformed frame")
	ErrUnknownEvent    = errors.New("unknown event type")
	ErrInvalidPayload  = errors.New("invalid event payload")
	ErrDuplicateEvent  = errors.New("event already registered")
	ErrInvalidSchema   = errors.New("invalid event schema")
	ErrEmptyEventName  = errors.New("event name is empty")
	schemaBaseLocation = "https://notesync.invalid/events/"
)

// ValidationError describes why a frame was rejected. It matches one of
// ErrMalformedFrame, ErrUnknownEvent or ErrInvalidPayload with errors.Is.
type ValidationError struct {
	Kind error
	// Event is empty when the frame did not carry a usable "type".
	Event Name
	// Path is the JSON pointer of the offending value inside the frame.
	Path   string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	if e.Event != "" {
		fmt.Fprintf(&b, " %s", e.Event)
	}
	if e.Path != "" {
		fmt.Fprintf(&b, " at %s", e.Path)
	}
	if e.Reason != "" {
		fmt.Fprintf(&b, ": %s", e.Reason)
	}
	return b.String()
}

func (e *ValidationError) Is(target error) bool {
	return target == e.Kind
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

type entry struct {
	name   Name
	schema *jsonschema.Schema
	decode func(raw []byte) (any, error)
}

// Registry is the closed set of server events together with the shape each
// payload must have. It is populated at startup and read-only afterwards, so
// it is safe to share between goroutines once built.
type Registry struct {
	entries map[Name]*entry
	order   []Name
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[Name]*entry)}
}

// Register adds event name with the JSON Schema that its "data" member must
// satisfy. Valid payloads are decoded into T.
func Register[T any](r *Registry, name Name, schema string) error {
	if name == "" {
		return ErrEmptyEventName
	}
	if _, ok := r.entries[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateEvent, name)
	}

	compiled, err := compileSchema(name, schema)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidSchema, name, err)
	}

	r.entries[name] = &entry{
		name:   name,
		schema: compiled,
		decode: func(raw []byte) (any, error) {
			var payload T
			if len(raw) == 0 {
				return payload, nil
			}
			if err := codec.Default.Unmarshal(raw, &payload); err != nil {
				return nil, err
			}
			return payload, nil
		},
	}
	r.order = append(r.order, name)
	return nil
}

// MustRegister is Register for package initialisation: it panics on a
// duplicate name or a broken schema.
func MustRegister[T any](r *Registry, name Name, schema string) {
	if err := Register[T](r, name, schema); err != nil {
		panic(err)
	}
}

func compileSchema(name Name, schema string) (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(schema))
	if err != nil {
		return nil, err
	}
	location := schemaBaseLocation + string(name) + ".json"

	c := jsonschema.NewCompiler()
	if err := c.AddResource(location, doc); err != nil {
		return nil, err
	}
	return c.Compile(location)
}

// Names returns the registered event names in registration order.
func (r *Registry) Names() []Name {
	return append([]Name(nil), r.order...)
}

// Has reports whether name is registered.
func (r *Registry) Has(name Name) bool {
	_, ok := r.entries[name]
	return ok
}

// Decode parses a raw frame and validates it.
func (r *Registry) Decode(frame []byte) (Envelope, error) {
	v, err := jsonschema.UnmarshalJSON(bytes.NewReader(frame))
	if err != nil {
		return Envelope{}, &ValidationError{Kind: ErrMalformedFrame, Reason: err.Error(), Err: err}
	}

	e, _, err := r.check(v)
	if err != nil {
		return Envelope{}, err
	}

	raw, dataType, _, err := jsonparser.Get(frame, "data")
	if err != nil && dataType != jsonparser.NotExist {
		return Envelope{}, &ValidationError{Kind: ErrMalformedFrame, Event: e.name, Path: "/data", Reason: err.Error(), Err: err}
	}
	switch dataType {
	case jsonparser.Null, jsonparser.NotExist:
		raw = nil
	case jsonparser.String:
		// jsonparser strips the quotes from string values.
		raw = append(append([]byte{'"'}, raw...), '"')
	}
	return r.build(e, raw)
}

// Validate checks an already decoded JSON value, such as the output of
// encoding/json into an any, and returns the typed envelope.
func (r *Registry) Validate(v any) (Envelope, error) {
	e, data, err := r.check(v)
	if err != nil {
		return Envelope{}, err
	}

	var raw []byte
	if data != nil {
		raw, err = json.Marshal(data)
		if err != nil {
			return Envelope{}, &ValidationError{Kind: ErrInvalidPayload, Event: e.name, Path: "/data", Reason: err.Error(), Err: err}
		}
	}
	return r.build(e, raw)
}

// check validates the envelope structure and the payload shape. It returns
// the matched entry and the decoded "data" member.
func (r *Registry) check(v any) (*entry, any, error) {
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, nil, &ValidationError{Kind: ErrMalformedFrame, Reason: "frame is not a JSON object"}
	}
	rawType, ok := obj["type"]
	if !ok {
		return nil, nil, &ValidationError{Kind: ErrMalformedFrame, Path: "/type", Reason: "missing event type"}
	}
	name, ok := rawType.(string)
	if !ok {
		return nil, nil, &ValidationError{Kind: ErrMalformedFrame, Path: "/type", Reason: "event type is not a string"}
	}

	e, ok := r.entries[Name(name)]
	if !ok {
		return nil, nil, &ValidationError{Kind: ErrUnknownEvent, Event: Name(name), Path: "/type"}
	}

	data := obj["data"]
	if err := e.schema.Validate(data); err != nil {
		return nil, nil, payloadError(e.name, err)
	}
	return e, data, nil
}

func (r *Registry) build(e *entry, raw []byte) (Envelope, error) {
	payload, err := e.decode(raw)
	if err != nil {
		return Envelope{}, &ValidationError{Kind: ErrInvalidPayload, Event: e.name, Path: "/data", Reason: err.Error(), Err: err}
	}
	return Envelope{Type: e.name, Data: payload}, nil
}

// payloadError converts a schema failure into a ValidationError pointing at
// the deepest failing location.
func payloadError(name Name, err error) error {
	verr := &ValidationError{Kind: ErrInvalidPayload, Event: name, Path: "/data", Err: err}

	var schemaErr *jsonschema.ValidationError
	if !errors.As(err, &schemaErr) {
		verr.Reason = err.Error()
		return verr
	}

	leaf := schemaErr
	for len(leaf.Causes) > 0 {
		leaf = leaf.Causes[0]
	}
	if len(leaf.InstanceLocation) > 0 {
		verr.Path = "/data/" + strings.Join(leaf.InstanceLocation, "/")
	}
	switch k := leaf.ErrorKind.(type) {
	case *kind.Required:
		if len(k.Missing) > 0 {
			verr.Path += "/" + k.Missing[0]
		}
		verr.Reason = "missing required field"
	case *kind.Type:
		verr.Reason = fmt.Sprintf("got %s, want %s", k.Got, strings.Join(k.Want, " or "))
	case nil:
	default:
		verr.Reason = "violates " + strings.Join(k.KeywordPath(), "/")
	}
	return verr
}
