package engine

import (
	"time"

	"github.com/google/uuid"
)

// StreamStats aggregates per-stream counters for the run report.
type StreamStats struct {
	Records    int `json:"records"`
	Committed  int `json:"committed"`
	Rejected   int `json:"rejected"`
	Unresolved int `json:"unresolved"`
}

// Rejection is one permanently rejected record or entry, kept for the
// final report so operators can repair the source data.
type Rejection struct {
	Stream string `json:"stream"`
	DN     string `json:"dn,omitempty"`
	Reason string `json:"reason"`
}

// Report is the outcome of one run.
type Report struct {
	RunID      uuid.UUID `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Streams    map[string]*StreamStats `json:"streams"`
	Rejections []Rejection             `json:"rejections,omitempty"`

	// PendingEntries counts entries still buffered or unresolved when the
	// run ended. Non-zero means the tail of the input must be replayed.
	PendingEntries int `json:"pending_entries"`

	// Bookmarks are the committed bookmarks at end of run.
	Bookmarks map[string]any `json:"bookmarks,omitempty"`

	// Fatal is set when the run aborted before consuming all input.
	Fatal string `json:"fatal,omitempty"`
}

func newReport() *Report {
	return &Report{
		RunID:     uuid.New(),
		StartedAt: time.Now().UTC(),
		Streams:   make(map[string]*StreamStats),
	}
}

func (r *Report) stream(name string) *StreamStats {
	s, ok := r.Streams[name]
	if !ok {
		s = &StreamStats{}
		r.Streams[name] = s
	}
	return s
}

func (r *Report) reject(stream, dn, reason string) {
	r.stream(stream).Rejected++
	r.Rejections = append(r.Rejections, Rejection{Stream: stream, DN: dn, Reason: reason})
}

// finish closes the report with the end-of-run state.
func (r *Report) finish(pending int, bookmarks map[string]any, runErr error) {
	r.FinishedAt = time.Now().UTC()
	r.PendingEntries = pending
	r.Bookmarks = bookmarks
	if runErr != nil {
		r.Fatal = runErr.Error()
	}
}

// TotalRejected counts permanent rejections across all streams.
func (r *Report) TotalRejected() int {
	n := 0
	for _, s := range r.Streams {
		n += s.Rejected
	}
	return n
}

// Success reports whether the run ended fully clean: all input consumed,
// every entry resolved, and zero permanent failures. A run with even one
// permanent rejection completes and reports the details, but is not a
// success.
func (r *Report) Success() bool {
	return r.Fatal == "" && r.PendingEntries == 0 && r.TotalRejected() == 0
}

// Duration is the wall time of the run.
func (r *Report) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
