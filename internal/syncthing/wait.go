package syncthing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// requiredCleanPolls is how many consecutive in-sync polls complete a
// wait. Syncthing reports idle briefly between scan and transfer, so a
// single clean poll is not trustworthy.
const requiredCleanPolls = 2

// WaitInSync polls folderID's status every poll until it reports in-sync
// on requiredCleanPolls consecutive polls, or until timeout expires with
// ErrSyncTimeout. A cancelled ctx returns its own error. Transient status
// failures reset the clean-poll streak but do not abort the wait.
func (c *Client) WaitInSync(ctx context.Context, folderID string, poll, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	clean := 0

	for {
		status, err := c.FolderStatus(ctx, folderID)

		switch {
		case err != nil && ctx.Err() != nil:
			// The poll died because the budget ran out, not because the
			// daemon misbehaved.
			return c.waitErr(ctx, folderID)
		case err != nil:
			c.logger.Warn("sync status poll failed",
				slog.String("folder", folderID),
				slog.Any("error", err),
			)

			clean = 0
		case status.InSync():
			clean++

			c.logger.Debug("folder in sync",
				slog.String("folder", folderID),
				slog.Int("consecutive", clean),
			)

			if clean >= requiredCleanPolls {
				return nil
			}
		default:
			c.logger.Debug("folder still syncing",
				slog.String("folder", folderID),
				slog.String("state", status.State),
				slog.Int64("need_files", status.NeedFiles),
				slog.Int64("need_bytes", status.NeedBytes),
			)

			clean = 0
		}

		select {
		case <-ctx.Done():
			return c.waitErr(ctx, folderID)
		case <-ticker.C:
		}
	}
}

// waitErr maps a dead context to the sync-timeout sentinel, preserving
// caller cancellation.
func (c *Client) waitErr(ctx context.Context, folderID string) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: folder %s", ErrSyncTimeout, folderID)
	}

	return ctx.Err()
}
