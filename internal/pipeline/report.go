package pipeline

import (
	"fmt"
	"io"
	"strings"
	"time"
)

// PhaseResult is one phase's line in the final report.
type PhaseResult struct {
	Name     string
	Outcome  Outcome
	Err      error
	Skipped  bool
	Disabled bool
}

// Report is the aggregate of one pipeline run: per-phase outcomes, files
// left in error, and whether the remote mirror has caught up.
type Report struct {
	Started time.Time
	Dur     time.Duration
	Results []PhaseResult

	ErrorFileIDs []string

	// MirrorCaughtUp is nil when no remote mirror is configured.
	MirrorCaughtUp *bool
}

// Failed reports whether any phase errored.
func (r *Report) Failed() bool {
	for _, pr := range r.Results {
		if pr.Err != nil {
			return true
		}
	}

	return false
}

// Summary is the one-paragraph form used for log rows and notifications.
func (r *Report) Summary() string {
	var processed, succeeded, failed int

	var failedPhases []string

	for _, pr := range r.Results {
		processed += pr.Outcome.Processed
		succeeded += pr.Outcome.Succeeded
		failed += pr.Outcome.Failed

		if pr.Err != nil {
			failedPhases = append(failedPhases, pr.Name)
		}
	}

	var b strings.Builder

	fmt.Fprintf(&b, "run finished in %s: %d processed, %d succeeded, %d failed",
		r.Dur.Round(time.Millisecond), processed, succeeded, failed)

	if len(failedPhases) > 0 {
		fmt.Fprintf(&b, "; phases failed: %s", strings.Join(failedPhases, ", "))
	}

	if len(r.ErrorFileIDs) > 0 {
		fmt.Fprintf(&b, "; %d files in error", len(r.ErrorFileIDs))
	}

	if r.MirrorCaughtUp != nil {
		fmt.Fprintf(&b, "; mirror caught up: %t", *r.MirrorCaughtUp)
	}

	return b.String()
}

// Render writes the human-readable report table.
func (r *Report) Render(w io.Writer) {
	fmt.Fprintf(w, "pipeline run (%s)\n", r.Dur.Round(time.Millisecond))
	fmt.Fprintf(w, "%-14s %10s %10s %8s %8s %10s\n",
		"phase", "processed", "succeeded", "failed", "skipped", "duration")

	for _, pr := range r.Results {
		switch {
		case pr.Disabled:
			fmt.Fprintf(w, "%-14s %s\n", pr.Name, "disabled")
		case pr.Skipped:
			fmt.Fprintf(w, "%-14s %s\n", pr.Name, "skipped (upstream failed)")
		case pr.Err != nil:
			fmt.Fprintf(w, "%-14s failed: %v\n", pr.Name, pr.Err)
		default:
			o := pr.Outcome
			fmt.Fprintf(w, "%-14s %10d %10d %8d %8d %10s\n",
				pr.Name, o.Processed, o.Succeeded, o.Failed, o.Skipped,
				o.Dur.Round(time.Millisecond))
		}
	}

	if len(r.ErrorFileIDs) > 0 {
		fmt.Fprintf(w, "\nfiles in error (%d):\n", len(r.ErrorFileIDs))

		for _, id := range r.ErrorFileIDs {
			fmt.Fprintf(w, "  %s\n", id)
		}

		fmt.Fprintln(w, "use 'photobridge reset-file <id>' to retry from scratch")
	}

	if r.MirrorCaughtUp != nil {
		fmt.Fprintf(w, "\nmirror caught up: %t\n", *r.MirrorCaughtUp)
	}
}
