package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ldapsink/config"
	"ldapsink/directory"
)

// recordingFlusher captures flush order and lets tests script failures.
type recordingFlusher struct {
	mu      sync.Mutex
	flushes []string // stream names in flush order
	tiers   []int
	fail    map[string][]directory.EntryFailure // stream -> failures to report
}

func (f *recordingFlusher) Flush(_ context.Context, stream string, entries []*directory.Entry) *directory.CommitReport {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushes = append(f.flushes, stream)

	report := &directory.CommitReport{Stream: stream}
	failed := make(map[string]directory.EntryFailure)
	for _, ef := range f.fail[stream] {
		failed[ef.DN] = ef
	}
	for _, e := range entries {
		if ef, ok := failed[e.DN]; ok {
			report.Failed = append(report.Failed, ef)
			continue
		}
		report.Succeeded = append(report.Succeeded, e.DN)
	}
	return report
}

func newTestScheduler(flusher Flusher, size int, age time.Duration) *Scheduler {
	cfg := &config.Config{BatchSize: size, BatchMaxAgeSeconds: int(age.Seconds())}
	return New(cfg, flusher, slog.Default())
}

func entry(dn string) *directory.Entry {
	e := directory.NewEntry(dn)
	e.AddObjectClasses("top")
	return e
}

func TestAddBuffersUntilSizeThreshold(t *testing.T) {
	f := &recordingFlusher{}
	s := newTestScheduler(f, 3, time.Hour)
	ctx := context.Background()

	assert.Empty(t, s.Add(ctx, "users", 1, entry("uid=a,dc=x")))
	assert.Empty(t, s.Add(ctx, "users", 1, entry("uid=b,dc=x")))
	assert.Equal(t, 2, s.PendingEntries())

	results := s.Add(ctx, "users", 1, entry("uid=c,dc=x"))
	require.Len(t, results, 1)
	assert.Equal(t, "users", results[0].Stream)
	assert.Len(t, results[0].Report.Succeeded, 3)
	assert.Equal(t, 0, s.PendingEntries())
}

func TestAgeTriggerIsLazy(t *testing.T) {
	f := &recordingFlusher{}
	s := newTestScheduler(f, 100, time.Minute)
	ctx := context.Background()

	base := time.Now()
	s.now = func() time.Time { return base }
	assert.Empty(t, s.Add(ctx, "users", 1, entry("uid=a,dc=x")))

	// Nothing flushes until the next arrival observes the age.
	s.now = func() time.Time { return base.Add(2 * time.Minute) }
	results := s.Add(ctx, "users", 1, entry("uid=b,dc=x"))
	require.Len(t, results, 1)
	assert.Len(t, results[0].Report.Succeeded, 2)
}

func TestDuplicateDNWithinBatchCollapses(t *testing.T) {
	f := &recordingFlusher{}
	s := newTestScheduler(f, 10, time.Hour)
	ctx := context.Background()

	first := entry("uid=a,dc=x")
	first.SetAttribute("cn", []string{"old"})
	second := entry("uid=a,dc=x")
	second.SetAttribute("cn", []string{"new"})

	s.Add(ctx, "users", 1, first)
	s.Add(ctx, "users", 1, second)
	assert.Equal(t, 1, s.PendingEntries())

	results := s.FlushAll(ctx)
	require.Len(t, results, 1)
	require.Len(t, results[0].Report.Succeeded, 1)
}

func TestTierOrderingAcrossStreams(t *testing.T) {
	f := &recordingFlusher{}
	s := newTestScheduler(f, 100, time.Hour)
	ctx := context.Background()

	s.Add(ctx, "groups", 2, entry("cn=g1,dc=x"))
	s.Add(ctx, "users", 1, entry("uid=u1,dc=x"))
	s.Add(ctx, "organizational_units", 0, entry("ou=people,dc=x"))

	results := s.FlushAll(ctx)
	require.Len(t, results, 3)

	// Reports come back in ascending tier order.
	assert.Equal(t, []int{0, 1, 2}, []int{results[0].Tier, results[1].Tier, results[2].Tier})
	assert.Equal(t, []string{"organizational_units", "users", "groups"}, f.flushes)
}

func TestEligibleHigherTierDragsLowerTiers(t *testing.T) {
	f := &recordingFlusher{}
	s := newTestScheduler(f, 2, time.Hour)
	ctx := context.Background()

	// Tier 0 batch is small and not yet eligible on its own.
	s.Add(ctx, "organizational_units", 0, entry("ou=people,dc=x"))
	s.Add(ctx, "groups", 2, entry("cn=g1,dc=x"))

	// This arrival makes the tier-2 batch eligible; the tier-0 batch must
	// flush first even though it never hit a threshold itself.
	results := s.Add(ctx, "groups", 2, entry("cn=g2,dc=x"))
	require.Len(t, results, 2)
	assert.Equal(t, []string{"organizational_units", "groups"}, f.flushes)
}

func TestUnresolvedEntriesHoldTierBarrier(t *testing.T) {
	f := &recordingFlusher{
		fail: map[string][]directory.EntryFailure{
			"users": {{DN: "uid=u1,dc=x", Reason: "busy", Permanent: false}},
		},
	}
	s := newTestScheduler(f, 100, time.Hour)
	ctx := context.Background()

	s.Add(ctx, "users", 1, entry("uid=u1,dc=x"))
	s.Add(ctx, "groups", 2, entry("cn=g1,dc=x"))

	results := s.FlushAll(ctx)
	// Only the users batch flushed; groups stayed behind the barrier.
	require.Len(t, results, 1)
	assert.Equal(t, "users", results[0].Stream)
	assert.False(t, results[0].Report.FullyResolved())

	// The unresolved entry is retained for retry, the groups batch intact.
	assert.Equal(t, 2, s.PendingEntries())

	// Once the transient failure clears, everything drains in order.
	f.fail = nil
	results = s.FlushAll(ctx)
	require.Len(t, results, 2)
	assert.Equal(t, []string{"users", "users", "groups"}, f.flushes)
	assert.Equal(t, 0, s.PendingEntries())
}

func TestPermanentFailuresDoNotHoldBarrier(t *testing.T) {
	f := &recordingFlusher{
		fail: map[string][]directory.EntryFailure{
			"users": {{DN: "uid=u1,dc=x", Reason: "objectClassViolation", Permanent: true}},
		},
	}
	s := newTestScheduler(f, 100, time.Hour)
	ctx := context.Background()

	s.Add(ctx, "users", 1, entry("uid=u1,dc=x"))
	s.Add(ctx, "groups", 2, entry("cn=g1,dc=x"))

	results := s.FlushAll(ctx)
	// A permanently rejected entry counts as resolved: both tiers flush.
	require.Len(t, results, 2)
	assert.Equal(t, 0, s.PendingEntries())
}

func TestSameTierStreamsAllFlush(t *testing.T) {
	f := &recordingFlusher{}
	s := newTestScheduler(f, 100, time.Hour)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		s.Add(ctx, "users", 1, entry(fmt.Sprintf("uid=u%d,dc=x", i)))
		s.Add(ctx, "contractors", 1, entry(fmt.Sprintf("uid=c%d,dc=x", i)))
	}

	results := s.FlushAll(ctx)
	require.Len(t, results, 2)
	streams := map[string]bool{}
	for _, r := range results {
		streams[r.Stream] = true
	}
	assert.True(t, streams["users"] && streams["contractors"])
}
