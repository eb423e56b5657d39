// Package checkpoint tracks stream bookmarks and decides when they may be
// republished. A bookmark observed on the input is only a candidate: it is
// promoted and emitted once a later batch for its stream commits with every
// entry resolved, so a restart replays at most the uncommitted tail.
package checkpoint

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"ldapsink/directory"
	"ldapsink/singer"
)

// Tracker holds candidate and committed bookmarks per stream.
type Tracker struct {
	mu        sync.Mutex
	out       io.Writer
	store     Store
	log       *slog.Logger
	candidate map[string]any
	committed map[string]any
}

// NewTracker writes promoted state to out. store may be nil, in which case
// bookmarks live only for the run and resume relies on the upstream tap.
func NewTracker(out io.Writer, store Store, log *slog.Logger) *Tracker {
	return &Tracker{
		out:       out,
		store:     store,
		log:       log,
		candidate: make(map[string]any),
		committed: make(map[string]any),
	}
}

// Restore loads previously committed bookmarks from the store.
func (t *Tracker) Restore(ctx context.Context) error {
	if t.store == nil {
		return nil
	}
	bookmarks, err := t.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("restore bookmarks: %w", err)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for stream, bookmark := range bookmarks {
		t.committed[stream] = bookmark
	}
	if len(bookmarks) > 0 {
		t.log.Info("restored bookmarks", "streams", len(bookmarks))
	}
	return nil
}

// ObserveState records the bookmarks carried by a state message as
// candidates. Candidates supersede earlier candidates for the same stream.
func (t *Tracker) ObserveState(state *singer.StateMessage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for stream, bookmark := range state.Bookmarks() {
		t.candidate[stream] = bookmark
	}
}

// BatchCommitted inspects a flush report. When the batch is fully resolved
// (every entry written or permanently rejected) the stream's candidate
// bookmark is promoted, persisted and re-emitted. Unresolved batches leave
// the committed bookmark untouched so the retained records are replayed on
// resume.
func (t *Tracker) BatchCommitted(ctx context.Context, report *directory.CommitReport) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !report.FullyResolved() {
		t.log.Warn("bookmark held back", "stream", report.Stream, "unresolved", report.Unresolved())
		return nil
	}
	bookmark, ok := t.candidate[report.Stream]
	if !ok {
		return nil
	}

	t.committed[report.Stream] = bookmark
	delete(t.candidate, report.Stream)

	if t.store != nil {
		if err := t.store.Save(ctx, report.Stream, bookmark); err != nil {
			return fmt.Errorf("persist bookmark for %s: %w", report.Stream, err)
		}
	}
	return t.emitLocked()
}

// emitLocked writes the committed bookmarks as a state line.
func (t *Tracker) emitLocked() error {
	line, err := singer.EncodeState(t.committed)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	if _, err := t.out.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	t.log.Debug("state emitted", "streams", len(t.committed))
	return nil
}

// FinalizeDrain promotes candidates left over at end of run for streams
// with nothing pending. A candidate can outlive the last flush of its
// stream when the final batch went out on a size or age trigger and the
// state message arrived afterward; without this pass that checkpoint would
// be lost and the whole stream replayed on resume. pending reports whether
// a stream still has buffered or unresolved entries.
func (t *Tracker) FinalizeDrain(ctx context.Context, pending func(stream string) bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	promoted := 0
	for stream, bookmark := range t.candidate {
		if pending(stream) {
			continue
		}
		t.committed[stream] = bookmark
		delete(t.candidate, stream)
		if t.store != nil {
			if err := t.store.Save(ctx, stream, bookmark); err != nil {
				return fmt.Errorf("persist bookmark for %s: %w", stream, err)
			}
		}
		promoted++
	}
	if promoted == 0 {
		return nil
	}
	t.log.Debug("promoted trailing bookmarks", "streams", promoted)
	return t.emitLocked()
}

// Bookmarks returns a copy of the committed bookmarks.
func (t *Tracker) Bookmarks() map[string]any {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]any, len(t.committed))
	for stream, bookmark := range t.committed {
		out[stream] = bookmark
	}
	return out
}

// PendingStreams lists streams with a candidate that has not been promoted.
func (t *Tracker) PendingStreams() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	streams := make([]string, 0, len(t.candidate))
	for stream := range t.candidate {
		streams = append(streams, stream)
	}
	return streams
}
