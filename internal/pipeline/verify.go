package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nharju/photobridge/internal/gphotos"
	"github.com/nharju/photobridge/internal/store"
)

// VerifyPhase confirms uploaded files landed. Without a configured
// destination-side checker every uploaded file is taken at its word and
// advanced to verified. With one, a confirmed file advances and an
// unconfirmed one stays uploaded with a warning; the check is best-effort
// and never fails the phase. Batches whose members have all verified are
// closed out.
type VerifyPhase struct {
	Store   *store.Store
	Checker *gphotos.Checker
	On      bool
	Logger  *slog.Logger
}

func (p *VerifyPhase) Name() string  { return PhaseVerify }
func (p *VerifyPhase) Enabled() bool { return p.On }

func (p *VerifyPhase) Run(ctx context.Context) (Outcome, error) {
	start := time.Now()
	events := eventLog{store: p.Store, step: PhaseVerify}

	files, err := p.Store.ListFilesByStatus(ctx, store.StatusUploaded)
	if err != nil {
		return timed(start, Outcome{}), fmt.Errorf("verify: %w", err)
	}

	var out Outcome

	for _, f := range files {
		out.Processed++

		if p.Checker.Enabled() {
			found, err := p.Checker.Check(ctx, f.Filename)
			if err != nil {
				p.Logger.Warn("verification check failed",
					slog.String("id", f.ID), slog.Any("error", err))
				events.warning(ctx, fmt.Sprintf("check %s: %v", f.Filename, err), f.ID, "")

				out.Skipped++

				continue
			}

			if !found {
				events.warning(ctx, fmt.Sprintf("%s not found at destination yet", f.Filename), f.ID, "")

				out.Skipped++

				continue
			}
		}

		err := p.Store.UpdateFileStatus(ctx, f.ID, store.StatusVerified, store.FileFields{})
		if err != nil {
			return timed(start, out), fmt.Errorf("verify: %w", err)
		}

		out.Succeeded++
	}

	if err := p.closeBatches(ctx, events); err != nil {
		return timed(start, out), fmt.Errorf("verify: %w", err)
	}

	return timed(start, out), nil
}

// closeBatches marks every fully verified batch as verified, stamping its
// completion.
func (p *VerifyPhase) closeBatches(ctx context.Context, events eventLog) error {
	for _, dest := range []store.Destination{store.DestICloud, store.DestPixel} {
		batches, err := p.Store.ListBatchesByStatus(ctx, dest, store.BatchUploaded)
		if err != nil {
			return err
		}

		for _, batch := range batches {
			members, err := p.Store.ListFilesByBatch(ctx, batch.ID)
			if err != nil {
				return err
			}

			allVerified := true

			for _, f := range members {
				if f.Status != store.StatusVerified {
					allVerified = false
					break
				}
			}

			if !allVerified {
				continue
			}

			if err := p.Store.SetBatchStatus(ctx, batch.ID, store.BatchVerified, ""); err != nil {
				return err
			}

			events.success(ctx, fmt.Sprintf("batch complete (%d files)", batch.FileCount), "", batch.ID)
		}
	}

	return nil
}
