// Package mirror asynchronously replicates the local metadata store to a
// remote hosted SQL service. The local store is authoritative for every
// pipeline decision; the mirror only feeds reporting and cross-process
// access, so a remote outage never blocks or fails the pipeline: changes
// queue in memory (bounded, dropping oldest log entries first) and
// reconciliation pushes whatever the queue lost using the per-row
// mirror_synced flags.
package mirror

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nharju/photobridge/internal/store"
)

// subscriberName identifies the mirror on the store's change feed.
const subscriberName = "mirror"

// feedBuffer sizes the change-feed subscription channel. Overruns are
// recovered by reconciliation, not by blocking the store.
const feedBuffer = 512

// reconcilePageSize bounds one reconciliation push.
const reconcilePageSize = 500

// shutdownFlushTimeout bounds the final flush when Run is cancelled.
const shutdownFlushTimeout = 10 * time.Second

// Mirror replicates committed store changes to the remote service.
type Mirror struct {
	store      *store.Store
	remote     *remoteClient
	queueCap   int
	flushEvery time.Duration
	logger     *slog.Logger

	mu    sync.Mutex
	queue []store.Change

	// droppedLogs counts queued log changes evicted under backpressure.
	droppedLogs int64
}

// New builds a Mirror over s replicating to the service at baseURL.
func New(s *store.Store, baseURL, apiKey string, queueCap int, flushEvery time.Duration, logger *slog.Logger) *Mirror {
	return &Mirror{
		store:      s,
		remote:     newRemoteClient(baseURL, apiKey, logger),
		queueCap:   queueCap,
		flushEvery: flushEvery,
		logger:     logger,
	}
}

// Run consumes the store's change feed and flushes on a ticker until ctx
// is cancelled, then attempts one final flush so a clean shutdown leaves
// nothing queued.
func (m *Mirror) Run(ctx context.Context) {
	feed := m.store.Subscribe(subscriberName, feedBuffer)
	defer m.store.Unsubscribe(subscriberName)

	ticker := time.NewTicker(m.flushEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.finalFlush()
			return
		case change, ok := <-feed:
			if !ok {
				m.finalFlush()
				return
			}

			m.Enqueue(change)
		case <-ticker.C:
			if err := m.Flush(ctx); err != nil {
				m.logger.Warn("mirror flush failed, changes remain queued",
					slog.Any("error", err),
					slog.Int("queued", m.QueueLen()),
				)
			}
		}
	}
}

// finalFlush runs one last bounded flush on shutdown.
func (m *Mirror) finalFlush() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownFlushTimeout)
	defer cancel()

	if err := m.Flush(ctx); err != nil {
		m.logger.Warn("final mirror flush failed; reconcile on next start will recover",
			slog.Any("error", err),
		)
	}
}

// Enqueue adds one change to the replication queue. At capacity, the
// oldest queued log change is evicted first; file and batch changes are
// never dropped even if that pushes the queue past its cap.
func (m *Mirror) Enqueue(c store.Change) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.queue) >= m.queueCap {
		if !m.evictOldestLogLocked() && c.Kind == store.ChangeLog {
			// Queue full of file/batch rows: the incoming log entry is the
			// one to sacrifice.
			m.droppedLogs++
			return
		}
	}

	m.queue = append(m.queue, c)
}

// evictOldestLogLocked removes the first queued log change, reporting
// whether one was found. Caller holds mu.
func (m *Mirror) evictOldestLogLocked() bool {
	for i, c := range m.queue {
		if c.Kind == store.ChangeLog {
			m.queue = append(m.queue[:i], m.queue[i+1:]...)
			m.droppedLogs++

			if m.droppedLogs%100 == 1 {
				m.logger.Warn("mirror queue full, dropping oldest log entries",
					slog.Int64("dropped_total", m.droppedLogs),
				)
			}

			return true
		}
	}

	return false
}

// QueueLen reports the number of queued changes.
func (m *Mirror) QueueLen() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.queue)
}

// DroppedLogs reports how many log changes backpressure has discarded.
func (m *Mirror) DroppedLogs() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.droppedLogs
}

// Flush pushes every queued change to the remote, newest state winning per
// row, and marks the pushed rows mirror-synced locally. On failure the
// snapshot is re-queued ahead of later changes and ErrRemoteUnavailable is
// returned.
func (m *Mirror) Flush(ctx context.Context) error {
	m.mu.Lock()
	snapshot := m.queue
	m.queue = nil
	m.mu.Unlock()

	if len(snapshot) == 0 {
		return nil
	}

	if err := m.push(ctx, snapshot); err != nil {
		m.mu.Lock()
		m.queue = append(snapshot, m.queue...)
		m.mu.Unlock()

		return err
	}

	m.logger.Debug("mirror flush complete", slog.Int("changes", len(snapshot)))

	return nil
}

// push replicates one batch of changes, deduplicated latest-wins per row.
func (m *Mirror) push(ctx context.Context, changes []store.Change) error {
	files := map[string]*store.MediaFile{}
	batches := map[string]*store.Batch{}
	logs := map[int64]*store.LogEntry{}

	for _, c := range changes {
		switch c.Kind {
		case store.ChangeFile:
			files[c.File.ID] = c.File
		case store.ChangeBatch:
			batches[c.Batch.ID] = c.Batch
		case store.ChangeLog:
			logs[c.Log.ID] = c.Log
		}
	}

	if err := m.pushFiles(ctx, mapValues(files)); err != nil {
		return err
	}

	if err := m.pushBatches(ctx, mapValues(batches)); err != nil {
		return err
	}

	return m.pushLogs(ctx, mapValues(logs))
}

func (m *Mirror) pushFiles(ctx context.Context, files []*store.MediaFile) error {
	if len(files) == 0 {
		return nil
	}

	rows := make([]fileRow, len(files))
	ids := make([]string, len(files))

	for i, f := range files {
		rows[i] = toFileRow(f)
		ids[i] = f.ID
	}

	if err := m.remote.upsert(ctx, tableFiles, rows); err != nil {
		return err
	}

	if err := m.store.MarkFilesMirrored(ctx, ids); err != nil {
		return fmt.Errorf("mirror: acknowledging files locally: %w", err)
	}

	return nil
}

func (m *Mirror) pushBatches(ctx context.Context, batches []*store.Batch) error {
	if len(batches) == 0 {
		return nil
	}

	rows := make([]batchRow, len(batches))
	ids := make([]string, len(batches))

	for i, b := range batches {
		rows[i] = toBatchRow(b)
		ids[i] = b.ID
	}

	if err := m.remote.upsert(ctx, tableBatches, rows); err != nil {
		return err
	}

	if err := m.store.MarkBatchesMirrored(ctx, ids); err != nil {
		return fmt.Errorf("mirror: acknowledging batches locally: %w", err)
	}

	return nil
}

func (m *Mirror) pushLogs(ctx context.Context, entries []*store.LogEntry) error {
	if len(entries) == 0 {
		return nil
	}

	rows := make([]logRow, len(entries))
	ids := make([]int64, len(entries))

	for i, e := range entries {
		rows[i] = toLogRow(e)
		ids[i] = e.ID
	}

	if err := m.remote.upsert(ctx, tableLogs, rows); err != nil {
		return err
	}

	if err := m.store.MarkLogsMirrored(ctx, ids); err != nil {
		return fmt.Errorf("mirror: acknowledging logs locally: %w", err)
	}

	return nil
}

// Reconcile pushes every local row the remote has not acknowledged,
// paging through the mirror_synced backlog. Run it at startup and on
// operator demand; it recovers from arbitrarily long outages, including
// queued log entries the bounded queue had to drop.
func (m *Mirror) Reconcile(ctx context.Context) error {
	m.logCountDrift(ctx)

	for {
		files, err := m.store.ListUnsyncedFiles(ctx, reconcilePageSize)
		if err != nil {
			return fmt.Errorf("mirror: reconciling files: %w", err)
		}

		if len(files) == 0 {
			break
		}

		if err := m.pushFiles(ctx, files); err != nil {
			return err
		}
	}

	for {
		batches, err := m.store.ListUnsyncedBatches(ctx, reconcilePageSize)
		if err != nil {
			return fmt.Errorf("mirror: reconciling batches: %w", err)
		}

		if len(batches) == 0 {
			break
		}

		if err := m.pushBatches(ctx, batches); err != nil {
			return err
		}
	}

	for {
		entries, err := m.store.ListUnsyncedLogs(ctx, reconcilePageSize)
		if err != nil {
			return fmt.Errorf("mirror: reconciling logs: %w", err)
		}

		if len(entries) == 0 {
			break
		}

		if err := m.pushLogs(ctx, entries); err != nil {
			return err
		}
	}

	// Queued changes are now redundant: everything they describe was just
	// pushed from the store's own rows.
	m.mu.Lock()
	m.queue = nil
	m.mu.Unlock()

	m.logger.Info("mirror reconciliation complete")

	return nil
}

// logCountDrift compares remote and local row counts for visibility. The
// comparison is informational; reconciliation pushes by flag, not count.
func (m *Mirror) logCountDrift(ctx context.Context) {
	for _, table := range []string{tableFiles, tableBatches, tableLogs} {
		n, err := m.remote.count(ctx, table)
		if err != nil {
			m.logger.Debug("remote count unavailable",
				slog.String("table", table), slog.Any("error", err))
			continue
		}

		m.logger.Debug("remote row count",
			slog.String("table", table), slog.Int64("rows", n))
	}
}

// CaughtUp reports whether every local row has been acknowledged remotely
// and nothing is queued. The end-of-run report includes this.
func (m *Mirror) CaughtUp(ctx context.Context) (bool, error) {
	files, batches, logs, err := m.store.UnsyncedCounts(ctx)
	if err != nil {
		return false, err
	}

	return files == 0 && batches == 0 && logs == 0 && m.QueueLen() == 0, nil
}

// mapValues collects a map's values in unspecified order.
func mapValues[K comparable, V any](m map[K]V) []V {
	out := make([]V, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}

	return out
}
