package directory

// AttributeChange represents a change between two attribute snapshots.
type AttributeChange struct {
	Name string
	Old  []string
	New  []string
}

// FindChanges compares two attribute snapshots and returns the attributes
// that would change, using order-insensitive value comparison. Used for
// dry-run reporting and by the in-memory directory to log effective
// modifications.
func FindChanges(prev, curr map[string][]string) []AttributeChange {
	var changes []AttributeChange

	for name, newVal := range curr {
		oldVal, exists := prev[name]
		if !exists || !ValuesEqual(oldVal, newVal) {
			changes = append(changes, AttributeChange{Name: name, Old: oldVal, New: newVal})
		}
	}

	for name, oldVal := range prev {
		if _, exists := curr[name]; !exists {
			changes = append(changes, AttributeChange{Name: name, Old: oldVal, New: nil})
		}
	}

	return changes
}
