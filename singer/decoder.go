package singer

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// DecodeErrorKind classifies why a line could not be decoded.
type DecodeErrorKind int

const (
	// MalformedSyntax means the line is not a valid JSON object.
	MalformedSyntax DecodeErrorKind = iota
	// UnknownType means the "type" discriminator is not a supported message type.
	UnknownType
	// MissingField means a recognized message type lacks a mandatory field.
	MissingField
)

func (k DecodeErrorKind) String() string {
	switch k {
	case MalformedSyntax:
		return "malformed syntax"
	case UnknownType:
		return "unknown type"
	case MissingField:
		return "missing field"
	default:
		return "unknown"
	}
}

// DecodeError reports a line that could not be decoded. Decode errors are
// fatal to a run: once a line is corrupt, the ordering guarantees of
// everything after it cannot be trusted.
type DecodeError struct {
	Kind  DecodeErrorKind
	Line  int
	Field string
	Err   error
}

func (e *DecodeError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "line %d: %s", e.Line, e.Kind)
	if e.Field != "" {
		fmt.Fprintf(&b, " %q", e.Field)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *DecodeError) Unwrap() error { return e.Err }

// envelope is the raw shape of a Singer message line. Singer taps emit one
// JSON object per line; no other framing is supported.
type envelope struct {
	Type          string         `json:"type"`
	Stream        string         `json:"stream"`
	Schema        map[string]any `json:"schema"`
	KeyProperties []string       `json:"key_properties"`
	Record        map[string]any `json:"record"`
	Value         map[string]any `json:"value"`
}

// Decoder reads line-delimited Singer messages. Decoding is pure: it never
// touches the directory and keeps no state beyond the line counter.
type Decoder struct {
	scanner *bufio.Scanner
	line    int
}

// maxLineBytes bounds a single message line. Wide records (group membership
// lists in particular) can exceed bufio's 64KiB default.
const maxLineBytes = 16 * 1024 * 1024

func NewDecoder(r io.Reader) *Decoder {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 64*1024), maxLineBytes)
	return &Decoder{scanner: s}
}

// Next returns the next message, io.EOF at end of input, or a *DecodeError.
// Blank lines are skipped.
func (d *Decoder) Next() (Message, error) {
	for d.scanner.Scan() {
		d.line++
		text := strings.TrimSpace(d.scanner.Text())
		if text == "" {
			continue
		}
		return d.decode(text)
	}
	if err := d.scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading input: %w", err)
	}
	return nil, io.EOF
}

// Line returns the number of the most recently consumed input line.
func (d *Decoder) Line() int { return d.line }

func (d *Decoder) decode(text string) (Message, error) {
	var env envelope
	if err := json.Unmarshal([]byte(text), &env); err != nil {
		return nil, &DecodeError{Kind: MalformedSyntax, Line: d.line, Err: err}
	}
	if env.Type == "" {
		return nil, &DecodeError{Kind: MissingField, Line: d.line, Field: "type"}
	}

	switch MessageType(env.Type) {
	case TypeSchema:
		if env.Stream == "" {
			return nil, &DecodeError{Kind: MissingField, Line: d.line, Field: "stream"}
		}
		if env.Schema == nil {
			return nil, &DecodeError{Kind: MissingField, Line: d.line, Field: "schema"}
		}
		return &SchemaMessage{
			Stream:        env.Stream,
			Schema:        env.Schema,
			KeyProperties: env.KeyProperties,
		}, nil
	case TypeRecord:
		if env.Stream == "" {
			return nil, &DecodeError{Kind: MissingField, Line: d.line, Field: "stream"}
		}
		if env.Record == nil {
			return nil, &DecodeError{Kind: MissingField, Line: d.line, Field: "record"}
		}
		return &RecordMessage{Stream: env.Stream, Record: env.Record}, nil
	case TypeState:
		if env.Value == nil {
			return nil, &DecodeError{Kind: MissingField, Line: d.line, Field: "value"}
		}
		return &StateMessage{Value: env.Value}, nil
	default:
		return nil, &DecodeError{Kind: UnknownType, Line: d.line, Field: env.Type}
	}
}
