// Package executor writes batches to the directory. For each upsert entry
// it probes whether the DN exists and issues an add or a modify
// accordingly, which makes re-delivery of already-applied records converge
// instead of failing. Transient failures are retried with exponential
// backoff; permanent rejections are recorded against the entry and never
// abort the rest of the batch.
package executor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"ldapsink/config"
	"ldapsink/directory"
	"ldapsink/metrics"
	"ldapsink/retry"
)

// Executor applies entries through the directory collaborator. Entries
// within one batch are independent by construction (the dependency graph
// only orders across streams), so they are written with bounded
// parallelism.
type Executor struct {
	client      directory.Client
	retryCfg    retry.Config
	concurrency int
	log         *slog.Logger
	metrics     *metrics.Metrics
}

func New(cfg *config.Config, client directory.Client, m *metrics.Metrics, log *slog.Logger) *Executor {
	return &Executor{
		client: client,
		retryCfg: retry.Config{
			MaxAttempts:  cfg.MaxAttempts,
			InitialDelay: time.Duration(cfg.RetryInitialDelayMS) * time.Millisecond,
			MaxDelay:     time.Duration(cfg.RetryMaxDelayMS) * time.Millisecond,
			Multiplier:   2.0,
		},
		concurrency: cfg.Concurrency,
		log:         log,
		metrics:     m,
	}
}

// Flush writes all entries of one batch and reports the per-entry outcome.
// It implements scheduler.Flusher.
func (e *Executor) Flush(ctx context.Context, stream string, entries []*directory.Entry) *directory.CommitReport {
	start := time.Now()
	defer func() { e.metrics.FlushObserved(stream, time.Since(start)) }()

	report := &directory.CommitReport{Stream: stream}

	type outcome struct {
		dn        string
		op        string
		err       error
		permanent bool
	}
	outcomes := make([]outcome, len(entries))

	sem := make(chan struct{}, e.concurrency)
	var wg sync.WaitGroup
	for i, entry := range entries {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, entry *directory.Entry) {
			defer wg.Done()
			defer func() { <-sem }()

			op, err := e.applyWithRetry(ctx, entry)
			outcomes[i] = outcome{dn: entry.DN, op: op, err: err, permanent: directory.IsPermanent(err)}
		}(i, entry)
	}
	wg.Wait()

	for _, o := range outcomes {
		if o.err == nil {
			report.Succeeded = append(report.Succeeded, o.dn)
			e.metrics.EntryCommitted(stream, o.op)
			continue
		}
		report.Failed = append(report.Failed, directory.EntryFailure{
			DN:        o.dn,
			Reason:    o.err.Error(),
			Permanent: o.permanent,
		})
		e.metrics.EntryFailed(stream, o.permanent)
		if o.permanent {
			e.log.Error("entry permanently rejected", "stream", stream, "dn", o.dn, "error", o.err)
		} else {
			e.log.Warn("entry unresolved after retries", "stream", stream, "dn", o.dn, "error", o.err)
		}
	}
	e.metrics.BatchFlushed(stream)
	return report
}

// applyWithRetry wraps one entry's application in the retry policy.
// Permanent classifications abort the retry loop immediately.
func (e *Executor) applyWithRetry(ctx context.Context, entry *directory.Entry) (string, error) {
	var op string
	err := retry.Do(ctx, e.retryCfg, func() error {
		var applyErr error
		op, applyErr = e.apply(ctx, entry)
		if applyErr != nil {
			if directory.IsPermanent(applyErr) {
				return retry.NonRetryable(applyErr)
			}
			e.metrics.OperationRetried()
		}
		return applyErr
	})
	return op, err
}

// apply performs one attempt: probe existence, then add, modify or delete.
func (e *Executor) apply(ctx context.Context, entry *directory.Entry) (string, error) {
	exists, err := e.client.Exists(ctx, entry.DN)
	if err != nil {
		return "exists", err
	}

	switch {
	case entry.Op == directory.OpDelete:
		if !exists {
			// Already gone: deleting twice is a success under resume.
			return "delete", nil
		}
		return "delete", e.client.Delete(ctx, entry.DN)
	case exists:
		return "modify", e.client.Modify(ctx, entry.DN, entry.Attributes)
	default:
		return "add", e.client.Add(ctx, entry.DN, entry.Attributes, entry.ObjectClasses)
	}
}
