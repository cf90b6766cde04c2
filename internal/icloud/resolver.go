package icloud

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Resolver locates the upload control through the three-step strategy:
// the configured override selector, then the ordered candidate list, then
// a frame walk across child browsing contexts. The whole resolution is
// bounded by one timeout; exhausting all three steps is
// ErrSelectorNotFound.
type Resolver struct {
	// Override, when set, is tried first; a hit skips the candidate list
	// entirely.
	Override string

	// Candidates is the ordered bundled (or file-overridden) list.
	Candidates []string

	// Timeout bounds one full resolution pass.
	Timeout time.Duration

	Logger *slog.Logger
}

// Resolve returns a selector addressing a usable file-input control.
func (r *Resolver) Resolve(ctx context.Context, agent Agent) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()

	if r.Override != "" {
		ok, err := agent.HasSelector(ctx, r.Override)
		if err != nil {
			return "", fmt.Errorf("icloud: probing override selector: %w", err)
		}

		if ok {
			r.Logger.Debug("upload control matched override selector",
				slog.String("selector", r.Override))
			return r.Override, nil
		}

		r.Logger.Warn("configured selector did not match, falling back",
			slog.String("selector", r.Override))
	}

	for _, sel := range r.Candidates {
		if ctx.Err() != nil {
			return "", fmt.Errorf("%w: resolution timed out", ErrSelectorNotFound)
		}

		ok, err := agent.HasSelector(ctx, sel)
		if err != nil {
			r.Logger.Debug("candidate selector probe failed",
				slog.String("selector", sel), slog.Any("error", err))
			continue
		}

		if ok {
			r.Logger.Debug("upload control matched candidate",
				slog.String("selector", sel))
			return sel, nil
		}
	}

	sel, err := agent.FrameWalk(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: override, %d candidates, and frame walk all missed",
			ErrSelectorNotFound, len(r.Candidates))
	}

	r.Logger.Debug("upload control found by frame walk",
		slog.String("selector", sel))

	return sel, nil
}
