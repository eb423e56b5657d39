package singer

import (
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecoderSchema(t *testing.T) {
	d := NewDecoder(strings.NewReader(
		`{"type":"SCHEMA","stream":"users","schema":{"properties":{"uid":{"type":"string"}}},"key_properties":["uid"]}`,
	))

	msg, err := d.Next()
	require.NoError(t, err)

	schema, ok := msg.(*SchemaMessage)
	require.True(t, ok)
	assert.Equal(t, "users", schema.Stream)
	assert.Equal(t, []string{"uid"}, schema.KeyProperties)
	assert.Contains(t, schema.Schema, "properties")

	_, err = d.Next()
	assert.Equal(t, io.EOF, err)
}

func TestDecoderRecord(t *testing.T) {
	d := NewDecoder(strings.NewReader(
		`{"type":"RECORD","stream":"users","record":{"uid":"jdoe","cn":"John Doe"}}`,
	))

	msg, err := d.Next()
	require.NoError(t, err)

	rec, ok := msg.(*RecordMessage)
	require.True(t, ok)
	assert.Equal(t, "users", rec.Stream)
	assert.Equal(t, "jdoe", rec.Record["uid"])
}

func TestDecoderState(t *testing.T) {
	d := NewDecoder(strings.NewReader(
		`{"type":"STATE","value":{"bookmarks":{"users":{"replication_key_value":"2024-01-01"}}}}`,
	))

	msg, err := d.Next()
	require.NoError(t, err)

	state, ok := msg.(*StateMessage)
	require.True(t, ok)
	bm := state.Bookmarks()
	require.Contains(t, bm, "users")
}

func TestDecoderStateWithoutBookmarksKey(t *testing.T) {
	d := NewDecoder(strings.NewReader(`{"type":"STATE","value":{"users":"x"}}`))

	msg, err := d.Next()
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"users": "x"}, msg.(*StateMessage).Bookmarks())
}

func TestDecoderErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		kind  DecodeErrorKind
		field string
	}{
		{"not json", `{{{`, MalformedSyntax, ""},
		{"json array", `[1,2,3]`, MalformedSyntax, ""},
		{"no type", `{"stream":"users"}`, MissingField, "type"},
		{"unsupported type", `{"type":"ACTIVATE_VERSION","stream":"users"}`, UnknownType, "ACTIVATE_VERSION"},
		{"record without stream", `{"type":"RECORD","record":{"uid":"x"}}`, MissingField, "stream"},
		{"record without record", `{"type":"RECORD","stream":"users"}`, MissingField, "record"},
		{"schema without stream", `{"type":"SCHEMA","schema":{}}`, MissingField, "stream"},
		{"schema without schema", `{"type":"SCHEMA","stream":"users"}`, MissingField, "schema"},
		{"state without value", `{"type":"STATE"}`, MissingField, "value"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDecoder(strings.NewReader(tt.input))
			_, err := d.Next()
			require.Error(t, err)

			var de *DecodeError
			require.True(t, errors.As(err, &de), "expected DecodeError, got %T", err)
			assert.Equal(t, tt.kind, de.Kind)
			assert.Equal(t, tt.field, de.Field)
			assert.Equal(t, 1, de.Line)
		})
	}
}

func TestDecoderSkipsBlankLines(t *testing.T) {
	d := NewDecoder(strings.NewReader("\n\n" + `{"type":"STATE","value":{}}` + "\n\n"))

	msg, err := d.Next()
	require.NoError(t, err)
	assert.Equal(t, TypeState, msg.Type())

	_, err = d.Next()
	assert.Equal(t, io.EOF, err)
}

func TestEncodeStateRoundTrip(t *testing.T) {
	line, err := EncodeState(map[string]any{"users": map[string]any{"version": float64(3)}})
	require.NoError(t, err)

	d := NewDecoder(strings.NewReader(string(line)))
	msg, err := d.Next()
	require.NoError(t, err)

	state := msg.(*StateMessage)
	assert.Equal(t, map[string]any{"version": float64(3)}, state.Bookmarks()["users"])
}
