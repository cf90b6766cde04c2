// Package hashindex answers "have I seen this content before?" in O(1)
// expected time. The in-process map is a cache over the store's hash
// index: it is warmed once at startup, updated from the store's change
// feed, and falls back to an indexed store query on a miss, so lookups
// stay correct across process restarts and feed gaps.
package hashindex

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nharju/photobridge/internal/store"
)

// subscriberName identifies the index on the store's change feed.
const subscriberName = "hashindex"

// feedBuffer sizes the change-feed subscription. A full buffer only costs
// cache freshness; the store-query fallback covers missed updates.
const feedBuffer = 256

// Index maps content hashes to the surviving file that first carried them.
type Index struct {
	store  *store.Store
	logger *slog.Logger

	mu     sync.RWMutex
	byHash map[string]string // hash -> survivor file ID
}

// New creates an unwarmed index over s.
func New(s *store.Store, logger *slog.Logger) *Index {
	return &Index{
		store:  s,
		logger: logger,
		byHash: make(map[string]string),
	}
}

// Warm loads every known survivor hash from the store. Call once before
// the dedupe phase runs.
func (i *Index) Warm(ctx context.Context) error {
	hashes, err := i.store.SurvivorHashes(ctx)
	if err != nil {
		return fmt.Errorf("hashindex: warming: %w", err)
	}

	i.mu.Lock()
	i.byHash = hashes
	i.mu.Unlock()

	i.logger.Debug("hash index warmed", slog.Int("hashes", len(hashes)))

	return nil
}

// Lookup returns the surviving file ID holding hash. A cache miss consults
// the store's indexed hash column before concluding the content is new.
func (i *Index) Lookup(ctx context.Context, hash string) (string, bool, error) {
	i.mu.RLock()
	id, ok := i.byHash[hash]
	i.mu.RUnlock()

	if ok {
		return id, true, nil
	}

	files, err := i.store.FindByHash(ctx, hash)
	if err != nil {
		return "", false, fmt.Errorf("hashindex: lookup fallback: %w", err)
	}

	for _, f := range files {
		if !f.IsDuplicate {
			i.add(hash, f.ID)
			return f.ID, true, nil
		}
	}

	return "", false, nil
}

// add caches a survivor without overwriting an earlier claim: the first
// file to carry a hash keeps it.
func (i *Index) add(hash, fileID string) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if _, ok := i.byHash[hash]; !ok {
		i.byHash[hash] = fileID
	}
}

// Run consumes the store's change feed until ctx is cancelled, learning
// hashes as the dedupe phase commits them. Optional: phases that call
// Lookup after a direct store write are already covered by the fallback.
func (i *Index) Run(ctx context.Context) {
	feed := i.store.Subscribe(subscriberName, feedBuffer)
	defer i.store.Unsubscribe(subscriberName)

	for {
		select {
		case <-ctx.Done():
			return
		case change, ok := <-feed:
			if !ok {
				return
			}

			i.apply(change)
		}
	}
}

// apply learns from one committed change.
func (i *Index) apply(c store.Change) {
	if c.Kind != store.ChangeFile || c.File == nil {
		return
	}

	if c.File.Hash == "" || c.File.IsDuplicate {
		return
	}

	i.add(c.File.Hash, c.File.ID)
}

// Len reports the number of cached hashes.
func (i *Index) Len() int {
	i.mu.RLock()
	defer i.mu.RUnlock()

	return len(i.byHash)
}
