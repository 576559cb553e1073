// Package serialization implements the pluggable payload codec: JSON
// or MessagePack, optionally gzip-wrapped, inside a versioned
// envelope.
//
// The {version, format, data} envelope shape is decorator-style: gzip
// wraps whichever base codec (encoding/json or
// github.com/vmihailenco/msgpack/v5) is selected. Pickle-style
// bytecode deserialization has no safe Go analogue and is not a
// format this module carries forward.
package serialization

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// Format names the wire encoding used for an envelope's payload.
type Format string

const (
	FormatJSON    Format = "json"
	FormatMsgpack Format = "msgpack"
)

// EnvelopeMajorVersion is this build's envelope major version. A
// decoder rejects an envelope whose version exceeds its own (spec
// SPEC_FULL §4: "a decoder rejects an envelope whose version's major
// component exceeds its own").
const EnvelopeMajorVersion = 1

// Codec encodes/decodes raw values to/from bytes.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)        { return json.Marshal(v) }
func (jsonCodec) Unmarshal(d []byte, v any) error       { return json.Unmarshal(d, v) }

type msgpackCodec struct{}

func (msgpackCodec) Marshal(v any) ([]byte, error)       { return msgpack.Marshal(v) }
func (msgpackCodec) Unmarshal(d []byte, v any) error      { return msgpack.Unmarshal(d, v) }

// NewCodec returns the Codec for a format.
func NewCodec(format Format) (Codec, error) {
	switch format {
	case FormatJSON:
		return jsonCodec{}, nil
	case FormatMsgpack:
		return msgpackCodec{}, nil
	default:
		return nil, fmt.Errorf("taskqueue: unknown serialization format %q", format)
	}
}

// envelope is the on-wire shape every encoded payload is wrapped in.
type envelope struct {
	Version int    `json:"version" msgpack:"version"`
	Format  Format `json:"format" msgpack:"format"`
	Data    any    `json:"data" msgpack:"data"`
}

// Handler encodes/decodes job payloads, optionally gzip-compressing
// the envelope.
type Handler struct {
	format   Format
	codec    Codec
	compress bool
	level    int
}

// NewHandler constructs a Handler for format, optionally gzip
// compressing at level (ignored unless compress is true).
func NewHandler(format Format, compress bool, level int) (*Handler, error) {
	codec, err := NewCodec(format)
	if err != nil {
		return nil, err
	}
	if level <= 0 {
		level = gzip.DefaultCompression
	}
	return &Handler{format: format, codec: codec, compress: compress, level: level}, nil
}

// Encode wraps payload in a versioned envelope and serializes it,
// gzip-compressing the result if the handler was built with compress=true.
func (h *Handler) Encode(payload any) ([]byte, error) {
	env := envelope{Version: EnvelopeMajorVersion, Format: h.format, Data: payload}
	raw, err := h.codec.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("taskqueue: encode envelope: %w", err)
	}
	if !h.compress {
		return raw, nil
	}
	var buf bytes.Buffer
	w, err := gzip.NewWriterLevel(&buf, h.level)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(raw); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode reverses Encode, returning the inner data and the envelope's
// version. Rejects an envelope whose major version exceeds this
// build's EnvelopeMajorVersion.
func (h *Handler) Decode(data []byte) (any, int, error) {
	raw := data
	if h.compress {
		r, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, 0, fmt.Errorf("taskqueue: decompress envelope: %w", err)
		}
		defer r.Close()
		decompressed, err := io.ReadAll(r)
		if err != nil {
			return nil, 0, fmt.Errorf("taskqueue: decompress envelope: %w", err)
		}
		raw = decompressed
	}

	var env envelope
	if err := h.codec.Unmarshal(raw, &env); err != nil {
		return nil, 0, fmt.Errorf("taskqueue: decode envelope: %w", err)
	}
	if env.Version > EnvelopeMajorVersion {
		return nil, 0, fmt.Errorf("taskqueue: envelope version %d exceeds supported major version %d", env.Version, EnvelopeMajorVersion)
	}
	return env.Data, env.Version, nil
}

// Migrator transforms a payload from one schema version to the next.
type Migrator func(data any) any

// Migrate applies every registered migrator between fromVersion and
// toVersion in order.
func Migrate(data any, fromVersion, toVersion int, migrators map[int]Migrator) any {
	current := data
	for v := fromVersion; v < toVersion; v++ {
		if m, ok := migrators[v]; ok {
			current = m(current)
		}
	}
	return current
}
