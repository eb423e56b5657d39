package transform

import "fmt"

// ErrorKind classifies a transformation failure. Transform errors are
// recorded per record and never abort the stream.
type ErrorKind int

const (
	// MissingRDNValue means the record has no usable value for the RDN
	// attribute.
	MissingRDNValue ErrorKind = iota
	// DNRenderError means the DN template references a field the record
	// does not carry.
	DNRenderError
	// NoStructuralClass means the resulting class set contains none of the
	// stream's declared structural classes.
	NoStructuralClass
	// BadValue means a field value could not be coerced to its mapped
	// encoding.
	BadValue
)

func (k ErrorKind) String() string {
	switch k {
	case MissingRDNValue:
		return "missing rdn value"
	case DNRenderError:
		return "dn render error"
	case NoStructuralClass:
		return "no structural class"
	case BadValue:
		return "bad value"
	default:
		return "unknown"
	}
}

// Error is a per-record transformation failure.
type Error struct {
	Kind   ErrorKind
	Stream string
	Field  string
	Detail string
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("stream %s: %s: field %q: %s", e.Stream, e.Kind, e.Field, e.Detail)
	}
	return fmt.Sprintf("stream %s: %s: %s", e.Stream, e.Kind, e.Detail)
}
