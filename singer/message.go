package singer

import "encoding/json"

// MessageType discriminates the Singer message envelope.
type MessageType string

const (
	TypeSchema MessageType = "SCHEMA"
	TypeRecord MessageType = "RECORD"
	TypeState  MessageType = "STATE"
)

// Message is one parsed line of the Singer stream. Exactly one of
// SchemaMessage, RecordMessage or StateMessage.
type Message interface {
	Type() MessageType
}

// SchemaMessage declares (or updates) the schema of a stream. A stream's
// records are only valid after its schema has been seen.
type SchemaMessage struct {
	Stream        string
	Schema        map[string]any
	KeyProperties []string
}

func (*SchemaMessage) Type() MessageType { return TypeSchema }

// RecordMessage carries one record for a previously declared stream.
type RecordMessage struct {
	Stream string
	Record map[string]any
}

func (*RecordMessage) Type() MessageType { return TypeRecord }

// StateMessage carries the tap's checkpoint value. The value is opaque to
// the engine except for the conventional "bookmarks" sub-object.
type StateMessage struct {
	Value map[string]any
}

func (*StateMessage) Type() MessageType { return TypeState }

// Bookmarks returns the per-stream bookmark map from the state value,
// falling back to the whole value when no "bookmarks" key is present.
func (m *StateMessage) Bookmarks() map[string]any {
	if bm, ok := m.Value["bookmarks"].(map[string]any); ok {
		return bm
	}
	return m.Value
}

// EncodeState renders a STATE message line (without trailing newline) for
// re-emission on stdout.
func EncodeState(bookmarks map[string]any) ([]byte, error) {
	return json.Marshal(map[string]any{
		"type":  string(TypeState),
		"value": map[string]any{"bookmarks": bookmarks},
	})
}
