package directory

import "context"

// Client is the directory collaborator interface. The engine never speaks
// the wire protocol itself: everything it needs is an existence probe plus
// add, modify (replace semantics) and delete. Failed operations return an
// *OpError carrying a transient/permanent classification.
type Client interface {
	// Exists probes whether dn is present. A missing entry is not an error.
	Exists(ctx context.Context, dn string) (bool, error)
	// Add creates a new entry with the given attributes and object classes.
	Add(ctx context.Context, dn string, attrs map[string][]string, objectClasses []string) error
	// Modify replaces the supplied attributes on an existing entry.
	// Attributes not mentioned are left untouched.
	Modify(ctx context.Context, dn string, attrs map[string][]string) error
	// Delete removes the entry at dn.
	Delete(ctx context.Context, dn string) error
	// Close releases the underlying connection.
	Close() error
}
