package scheduler

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"ldapsink/config"
	"ldapsink/directory"
)

// Flusher executes one batch against the directory and reports the outcome
// per entry. Implemented by the write executor.
type Flusher interface {
	Flush(ctx context.Context, stream string, entries []*directory.Entry) *directory.CommitReport
}

// FlushResult pairs a flushed batch with its commit report.
type FlushResult struct {
	Stream string
	Tier   int
	Report *directory.CommitReport
}

// Scheduler owns the open batches. It decides when batches flush (size or
// age threshold, checked lazily on each arrival) and in what cross-stream
// order (ascending tier, with a barrier between tiers). Batches within one
// tier flush concurrently; their streams are independent by construction.
type Scheduler struct {
	mu      sync.Mutex
	maxSize int
	maxAge  time.Duration
	flusher Flusher
	log     *slog.Logger
	open    map[string]*Batch

	// now is replaceable for age-trigger tests.
	now func() time.Time
}

func New(cfg *config.Config, flusher Flusher, log *slog.Logger) *Scheduler {
	return &Scheduler{
		maxSize: cfg.BatchSize,
		maxAge:  cfg.BatchMaxAge(),
		flusher: flusher,
		log:     log,
		open:    make(map[string]*Batch),
		now:     time.Now,
	}
}

// Add buffers an entry for its stream. When the arrival makes any batch
// eligible (count or age), a flush checkpoint runs and its results are
// returned; otherwise the returned slice is empty.
func (s *Scheduler) Add(ctx context.Context, stream string, tier int, entry *directory.Entry) []FlushResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.open[stream]
	if !ok {
		b = newBatch(stream, tier, s.now())
		s.open[stream] = b
	}
	b.add(entry)

	if !s.anyEligibleLocked() {
		return nil
	}
	return s.checkpointLocked(ctx, false)
}

// FlushAll flushes every open batch regardless of size or age, in tier
// order. Called at end of input and on drain-stop.
func (s *Scheduler) FlushAll(ctx context.Context) []FlushResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checkpointLocked(ctx, true)
}

// PendingEntries returns the number of buffered entries across all open
// batches, for the run report.
func (s *Scheduler) PendingEntries() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, b := range s.open {
		n += b.Len()
	}
	return n
}

// PendingByStream returns the buffered entry count per stream, used to
// decide which trailing bookmarks may still be promoted.
func (s *Scheduler) PendingByStream() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(s.open))
	for stream, b := range s.open {
		if b.Len() > 0 {
			out[stream] = b.Len()
		}
	}
	return out
}

func (s *Scheduler) eligibleLocked(b *Batch) bool {
	return b.Len() >= s.maxSize || b.Age(s.now()) >= s.maxAge
}

func (s *Scheduler) anyEligibleLocked() bool {
	for _, b := range s.open {
		if s.eligibleLocked(b) {
			return true
		}
	}
	return false
}

// checkpointLocked runs one flush checkpoint. The tier ceiling is the
// highest tier with an eligible batch (or the highest open tier when all
// is set); every non-empty batch at or below the ceiling flushes, lower
// tiers first, so a higher-tier batch never overtakes entries it may
// reference. If a tier finishes with unresolved entries the checkpoint
// stops there: later tiers wait until the stragglers commit.
func (s *Scheduler) checkpointLocked(ctx context.Context, all bool) []FlushResult {
	ceiling := -1
	for _, b := range s.open {
		if b.Len() == 0 {
			continue
		}
		if all || s.eligibleLocked(b) {
			if b.Tier > ceiling {
				ceiling = b.Tier
			}
		}
	}
	if ceiling < 0 {
		return nil
	}

	byTier := make(map[int][]*Batch)
	var tiers []int
	for _, b := range s.open {
		if b.Len() == 0 || b.Tier > ceiling {
			continue
		}
		if _, seen := byTier[b.Tier]; !seen {
			tiers = append(tiers, b.Tier)
		}
		byTier[b.Tier] = append(byTier[b.Tier], b)
	}
	sort.Ints(tiers)

	var results []FlushResult
	for _, tier := range tiers {
		batches := byTier[tier]
		tierResults := s.flushTier(ctx, batches)
		results = append(results, tierResults...)

		blocked := false
		for _, r := range tierResults {
			if !r.Report.FullyResolved() {
				blocked = true
				s.log.Warn("tier barrier held: batch has unresolved entries",
					"stream", r.Stream, "tier", tier, "unresolved", len(r.Report.Unresolved()))
			}
		}
		if blocked || ctx.Err() != nil {
			break
		}
	}
	return results
}

// flushTier flushes one tier's batches concurrently and joins before
// returning; the join is the tier barrier.
func (s *Scheduler) flushTier(ctx context.Context, batches []*Batch) []FlushResult {
	results := make([]FlushResult, len(batches))
	var wg sync.WaitGroup
	for i, b := range batches {
		wg.Add(1)
		go func(i int, b *Batch) {
			defer wg.Done()
			start := time.Now()
			report := s.flusher.Flush(ctx, b.Stream, b.Entries())
			s.log.Info("batch flushed",
				"stream", b.Stream,
				"tier", b.Tier,
				"entries", b.Len(),
				"succeeded", len(report.Succeeded),
				"failed", len(report.Failed),
				"duration", time.Since(start))
			results[i] = FlushResult{Stream: b.Stream, Tier: b.Tier, Report: report}
		}(i, b)
	}
	wg.Wait()

	for i, b := range batches {
		s.settle(b, results[i].Report)
	}
	return results
}

// settle clears resolved entries from the batch. Entries that succeeded or
// were permanently rejected leave the buffer; unresolved entries stay for
// a later retry, and the batch keeps its original open timestamp so it
// remains flush-eligible.
func (s *Scheduler) settle(b *Batch, report *directory.CommitReport) {
	unresolved := make(map[string]struct{})
	for _, f := range report.Unresolved() {
		unresolved[f.DN] = struct{}{}
	}
	if len(unresolved) == 0 {
		delete(s.open, b.Stream)
		return
	}
	b.retain(unresolved)
}
