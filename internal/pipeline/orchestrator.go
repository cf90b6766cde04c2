package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nharju/photobridge/internal/store"
)

// phaseParents is the dependency graph. A phase runs when at least one
// parent is healthy; a disabled parent counts as healthy (its work is
// simply not wanted), a failed or failure-skipped parent does not.
var phaseParents = map[string][]string{
	PhaseDedupe:       {PhaseIngest},
	PhaseCompress:     {PhaseDedupe},
	PhaseStage:        {PhaseCompress},
	PhaseUploadICloud: {PhaseStage},
	PhaseSyncPixel:    {PhaseStage},
	PhaseVerify:       {PhaseUploadICloud, PhaseSyncPixel},
	PhaseSort:         {PhaseVerify},
}

// MirrorStatus is the slice of the mirror the orchestrator needs for the
// final report.
type MirrorStatus interface {
	CaughtUp(ctx context.Context) (bool, error)
}

// Orchestrator runs the phase graph in dependency order. The two upload
// phases run concurrently; everything else is serial. A phase error does
// not stop the run: downstream phases with no healthy parent are skipped,
// independent branches keep going, and the aggregate error comes back with
// the report.
type Orchestrator struct {
	Store  *store.Store
	Phases []Phase

	// Only restricts the run to a single named phase; empty runs the graph.
	Only string

	// Mirror is consulted for the report's caught-up flag; nil when no
	// remote mirror is configured.
	Mirror MirrorStatus

	Notifier Notifier
	Logger   *slog.Logger
}

// result is one phase's bookkeeping during a run.
type result struct {
	ran     bool
	skipped bool
	err     error
	outcome Outcome
}

// healthy reports whether dependents may run on top of this phase.
func (r *result) healthy() bool {
	if r == nil {
		return true // disabled or filtered out
	}

	return r.ran && r.err == nil
}

// Run executes the graph and assembles the final report. The returned
// error joins every phase failure; a nil error means every phase that ran
// completed.
func (o *Orchestrator) Run(ctx context.Context) (*Report, error) {
	started := time.Now()
	results := make(map[string]*result)

	var concurrent []Phase

	for _, ph := range o.Phases {
		if ph.Name() == PhaseUploadICloud || ph.Name() == PhaseSyncPixel {
			concurrent = append(concurrent, ph)
			continue
		}

		// The upload pair sits between stage and verify; flush it before
		// any later phase runs.
		if len(concurrent) > 0 && dependsOnUploads(ph.Name()) {
			o.runConcurrent(ctx, concurrent, results)
			concurrent = nil
		}

		o.runOne(ctx, ph, results)
	}

	if len(concurrent) > 0 {
		o.runConcurrent(ctx, concurrent, results)
	}

	report, err := o.report(ctx, started, results)

	o.deliver(ctx, report)

	return report, err
}

func dependsOnUploads(name string) bool {
	return name == PhaseVerify || name == PhaseSort
}

// wanted reports whether the phase participates in this run at all.
func (o *Orchestrator) wanted(ph Phase) bool {
	if o.Only != "" && ph.Name() != o.Only {
		return false
	}

	return ph.Enabled()
}

// blocked reports whether every parent that participated is unhealthy.
func (o *Orchestrator) blocked(name string, results map[string]*result) bool {
	parents := phaseParents[name]
	if len(parents) == 0 || o.Only != "" {
		return false
	}

	for _, parent := range parents {
		if results[parent].healthy() {
			return false
		}
	}

	return true
}

func (o *Orchestrator) runOne(ctx context.Context, ph Phase, results map[string]*result) {
	name := ph.Name()

	if !o.wanted(ph) {
		results[name] = nil
		return
	}

	if o.blocked(name, results) {
		o.Logger.Warn("phase skipped, upstream failed", slog.String("phase", name))
		results[name] = &result{skipped: true}

		return
	}

	o.Logger.Info("phase starting", slog.String("phase", name))

	outcome, err := ph.Run(ctx)
	results[name] = &result{ran: true, err: err, outcome: outcome}

	if err != nil {
		o.Logger.Error("phase failed",
			slog.String("phase", name), slog.Any("error", err))
		return
	}

	o.Logger.Info("phase complete",
		slog.String("phase", name),
		slog.Int("processed", outcome.Processed),
		slog.Int("succeeded", outcome.Succeeded),
		slog.Int("failed", outcome.Failed),
		slog.Int("skipped", outcome.Skipped),
		slog.Duration("dur", outcome.Dur),
	)
}

// runConcurrent runs the upload pair in parallel. Each phase already
// confines itself to its own destination's batches, so they share nothing
// but the store.
func (o *Orchestrator) runConcurrent(ctx context.Context, phases []Phase, results map[string]*result) {
	runnable := make([]Phase, 0, len(phases))

	for _, ph := range phases {
		if !o.wanted(ph) {
			results[ph.Name()] = nil
			continue
		}

		if o.blocked(ph.Name(), results) {
			o.Logger.Warn("phase skipped, upstream failed", slog.String("phase", ph.Name()))
			results[ph.Name()] = &result{skipped: true}

			continue
		}

		runnable = append(runnable, ph)
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)

	for _, ph := range runnable {
		g.Go(func() error {
			o.Logger.Info("phase starting", slog.String("phase", ph.Name()))

			outcome, err := ph.Run(ctx)

			mu.Lock()
			results[ph.Name()] = &result{ran: true, err: err, outcome: outcome}
			mu.Unlock()

			if err != nil {
				o.Logger.Error("phase failed",
					slog.String("phase", ph.Name()), slog.Any("error", err))
			}

			return nil
		})
	}

	_ = g.Wait()
}

// report assembles the run summary and the joined phase error.
func (o *Orchestrator) report(
	ctx context.Context, started time.Time, results map[string]*result,
) (*Report, error) {
	report := &Report{Started: started, Dur: time.Since(started)}

	var errs []error

	for _, ph := range o.Phases {
		name := ph.Name()
		r := results[name]

		pr := PhaseResult{Name: name}

		switch {
		case r == nil:
			pr.Disabled = true
		case r.skipped:
			pr.Skipped = true
		default:
			pr.Outcome = r.outcome
			pr.Err = r.err
		}

		if r != nil && r.err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, r.err))
		}

		report.Results = append(report.Results, pr)
	}

	errorFiles, err := o.Store.ListErrorFiles(ctx)
	if err != nil {
		errs = append(errs, err)
	}

	for _, f := range errorFiles {
		report.ErrorFileIDs = append(report.ErrorFileIDs, f.ID)
	}

	if o.Mirror != nil {
		caughtUp, err := o.Mirror.CaughtUp(ctx)
		if err == nil {
			report.MirrorCaughtUp = &caughtUp
		}
	}

	return report, errors.Join(errs...)
}

// deliver records the report in the log store and hands it to the
// notifier. Both are best-effort.
func (o *Orchestrator) deliver(ctx context.Context, report *Report) {
	severity := store.SeveritySuccess
	if report.Failed() {
		severity = store.SeverityError
	}

	_, _ = o.Store.AppendLog(ctx, &store.LogEntry{
		Step:     "report",
		Severity: severity,
		Message:  report.Summary(),
	})

	if o.Notifier != nil {
		if err := o.Notifier.Notify(ctx, "pipeline run finished", report.Summary()); err != nil {
			o.Logger.Warn("notifier failed", slog.Any("error", err))
		}
	}
}
