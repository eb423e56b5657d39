// Package scheduler buffers validated entries into per-stream batches and
// flushes them in dependency-tier order: every batch of tier n is committed
// before any batch of tier n+1 is written. This ordering is the engine's
// substitute for live referential-integrity checks.
package scheduler

import (
	"time"

	"ldapsink/directory"
)

// Batch is the open buffer for one stream. Exactly one open batch exists
// per stream; it is cleared on successful flush and keeps its unresolved
// entries when a flush fails, so they can be retried.
type Batch struct {
	Stream   string
	Tier     int
	OpenedAt time.Time

	entries []*directory.Entry
	index   map[string]int
}

func newBatch(stream string, tier int, now time.Time) *Batch {
	return &Batch{
		Stream:   stream,
		Tier:     tier,
		OpenedAt: now,
		index:    make(map[string]int),
	}
}

// add appends an entry. A later entry for a DN already buffered replaces
// the earlier one in place: records within a stream are ordered, so the
// later record supersedes, and collapsing avoids two concurrent writes to
// the same DN inside one batch.
func (b *Batch) add(entry *directory.Entry) {
	if i, ok := b.index[entry.DN]; ok {
		b.entries[i] = entry
		return
	}
	b.index[entry.DN] = len(b.entries)
	b.entries = append(b.entries, entry)
}

// retain keeps only the entries whose DN is in keep, preserving order.
func (b *Batch) retain(keep map[string]struct{}) {
	kept := b.entries[:0]
	b.index = make(map[string]int)
	for _, e := range b.entries {
		if _, ok := keep[e.DN]; !ok {
			continue
		}
		b.index[e.DN] = len(kept)
		kept = append(kept, e)
	}
	b.entries = kept
}

// Entries returns the buffered entries in arrival order.
func (b *Batch) Entries() []*directory.Entry { return b.entries }

// Len returns the number of buffered entries.
func (b *Batch) Len() int { return len(b.entries) }

// Age returns how long the batch has been open.
func (b *Batch) Age(now time.Time) time.Duration { return now.Sub(b.OpenedAt) }
