// Package engine wires the pipeline together: decode messages from the
// input, transform and validate records, batch them through the scheduler,
// and advance bookmarks as batches commit.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"ldapsink/checkpoint"
	"ldapsink/config"
	"ldapsink/directory"
	"ldapsink/executor"
	"ldapsink/metrics"
	"ldapsink/scheduler"
	"ldapsink/singer"
	"ldapsink/transform"
	"ldapsink/validate"
)

// Engine drives one run. It owns the per-stream contexts and the run
// report; the heavy lifting is delegated to the transform, validate,
// scheduler and executor collaborators.
type Engine struct {
	cfg         *config.Config
	log         *slog.Logger
	metrics     *metrics.Metrics
	transformer *transform.Engine
	validator   *validate.Validator
	scheduler   *scheduler.Scheduler
	tracker     *checkpoint.Tracker

	contexts map[string]*transform.StreamContext
	draining atomic.Bool

	mu     sync.Mutex
	report *Report
}

// New assembles the pipeline over the given directory client and tracker.
func New(cfg *config.Config, client directory.Client, tracker *checkpoint.Tracker, m *metrics.Metrics, log *slog.Logger) *Engine {
	exec := executor.New(cfg, client, m, log)
	return &Engine{
		cfg:         cfg,
		log:         log,
		metrics:     m,
		transformer: transform.NewEngine(cfg),
		validator:   validate.New(cfg),
		scheduler:   scheduler.New(cfg, exec, log),
		tracker:     tracker,
		contexts:    make(map[string]*transform.StreamContext),
		report:      newReport(),
	}
}

// RequestDrain asks the run to stop at the next message boundary: buffered
// batches still flush and bookmarks still advance, but no further input is
// consumed.
func (eng *Engine) RequestDrain() {
	eng.draining.Store(true)
}

// Stats returns a snapshot of the run report for the /stats endpoint.
func (eng *Engine) Stats() any {
	eng.mu.Lock()
	defer eng.mu.Unlock()

	snapshot := *eng.report
	snapshot.Streams = make(map[string]*StreamStats, len(eng.report.Streams))
	for name, s := range eng.report.Streams {
		copied := *s
		snapshot.Streams[name] = &copied
	}
	snapshot.PendingEntries = eng.scheduler.PendingEntries()
	return &snapshot
}

// Run consumes the input until EOF, drain or a fatal error, then flushes
// everything still buffered. The returned report is complete in every case,
// including aborts.
func (eng *Engine) Run(ctx context.Context, in io.Reader) (*Report, error) {
	eng.log.Info("run started", "run_id", eng.report.RunID)

	runErr := eng.consume(ctx, in)

	// Drain whatever is buffered, even after a fatal decode error: entries
	// already accepted are ordered before the failure point.
	if ctx.Err() == nil {
		if err := eng.handleResults(ctx, eng.scheduler.FlushAll(ctx)); err != nil && runErr == nil {
			runErr = err
		}

		// A state message that arrived after its stream's last flush leaves
		// a candidate with no later commit to promote it. Streams with
		// nothing pending are fully durable, so those candidates promote
		// now.
		pending := eng.scheduler.PendingByStream()
		if err := eng.tracker.FinalizeDrain(ctx, func(stream string) bool {
			return pending[stream] > 0
		}); err != nil && runErr == nil {
			runErr = err
		}
	}

	eng.mu.Lock()
	defer eng.mu.Unlock()
	eng.report.finish(eng.scheduler.PendingEntries(), eng.tracker.Bookmarks(), runErr)

	eng.log.Info("run finished",
		"run_id", eng.report.RunID,
		"duration", eng.report.Duration(),
		"rejected", eng.report.TotalRejected(),
		"pending", eng.report.PendingEntries,
		"success", eng.report.Success())
	return eng.report, runErr
}

func (eng *Engine) consume(ctx context.Context, in io.Reader) error {
	dec := singer.NewDecoder(in)
	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("run cancelled: %w", err)
		}
		if eng.draining.Load() {
			eng.log.Info("drain requested, stopping input")
			return nil
		}

		msg, err := dec.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			// A corrupt line poisons the ordering of everything after it.
			return fmt.Errorf("input aborted: %w", err)
		}

		if err := eng.dispatch(ctx, msg, dec.Line()); err != nil {
			return err
		}
	}
}

func (eng *Engine) dispatch(ctx context.Context, msg singer.Message, line int) error {
	switch m := msg.(type) {
	case *singer.SchemaMessage:
		eng.applySchema(m)
		return nil
	case *singer.RecordMessage:
		return eng.applyRecord(ctx, m, line)
	case *singer.StateMessage:
		eng.tracker.ObserveState(m)
		return nil
	default:
		return fmt.Errorf("line %d: unhandled message type %s", line, msg.Type())
	}
}

func (eng *Engine) applySchema(msg *singer.SchemaMessage) {
	if sc, ok := eng.contexts[msg.Stream]; ok {
		sc.ApplySchema(msg)
		eng.log.Debug("schema updated", "stream", msg.Stream)
		return
	}
	profile := eng.cfg.StreamProfile(msg.Stream)
	eng.contexts[msg.Stream] = transform.NewStreamContext(msg, profile)
	eng.log.Info("stream registered", "stream", msg.Stream, "tier", profile.TierValue())
}

func (eng *Engine) applyRecord(ctx context.Context, msg *singer.RecordMessage, line int) error {
	sc, ok := eng.contexts[msg.Stream]
	if !ok {
		// Records are only interpretable under a declared schema.
		return fmt.Errorf("line %d: record for stream %q before its schema", line, msg.Stream)
	}

	eng.metrics.RecordProcessed(msg.Stream)
	eng.mu.Lock()
	eng.report.stream(msg.Stream).Records++
	eng.mu.Unlock()

	entry, err := eng.transformer.Transform(msg, sc)
	if err != nil {
		eng.rejectRecord(msg.Stream, "", err)
		return eng.checkErrorBudget()
	}
	if violations := eng.validator.Validate(entry, sc); len(violations) > 0 {
		eng.rejectRecord(msg.Stream, entry.DN, violations)
		return eng.checkErrorBudget()
	}

	results := eng.scheduler.Add(ctx, msg.Stream, sc.Tier(), entry)
	if err := eng.handleResults(ctx, results); err != nil {
		return err
	}
	return eng.checkErrorBudget()
}

// rejectRecord records a permanent per-record failure. The run continues;
// rejection is an isolated source-data problem, not a pipeline fault.
func (eng *Engine) rejectRecord(stream, dn string, reason error) {
	eng.mu.Lock()
	eng.report.reject(stream, dn, reason.Error())
	eng.mu.Unlock()
	eng.metrics.EntryFailed(stream, true)
	eng.log.Error("record rejected", "stream", stream, "dn", dn, "error", reason)
}

// handleResults folds flush reports into the run report and lets the
// tracker advance bookmarks for fully resolved batches.
func (eng *Engine) handleResults(ctx context.Context, results []scheduler.FlushResult) error {
	for _, res := range results {
		eng.mu.Lock()
		stats := eng.report.stream(res.Stream)
		stats.Committed += len(res.Report.Succeeded)
		stats.Unresolved = len(res.Report.Unresolved())
		for _, f := range res.Report.PermanentFailures() {
			eng.report.reject(res.Stream, f.DN, f.Reason)
		}
		eng.mu.Unlock()

		if err := eng.tracker.BatchCommitted(ctx, res.Report); err != nil {
			return err
		}
	}
	return eng.checkErrorBudget()
}

// checkErrorBudget aborts the run when permanent failures exceed the
// configured ceiling. Zero disables the breaker.
func (eng *Engine) checkErrorBudget() error {
	if eng.cfg.MaxErrors <= 0 {
		return nil
	}
	eng.mu.Lock()
	rejected := eng.report.TotalRejected()
	eng.mu.Unlock()
	if rejected >= eng.cfg.MaxErrors {
		return fmt.Errorf("aborting: %d permanent failures reached the max_errors limit of %d", rejected, eng.cfg.MaxErrors)
	}
	return nil
}
