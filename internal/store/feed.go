package store

import (
	"log/slog"
	"sync"
)

// ChangeKind tags which entity a change concerns.
type ChangeKind string

// Change kinds.
const (
	ChangeFile  ChangeKind = "file"
	ChangeBatch ChangeKind = "batch"
	ChangeLog   ChangeKind = "log"
)

// Change is one committed store mutation, carrying a snapshot of the row
// after the write. Exactly one of File, Batch, Log is set, matching Kind.
type Change struct {
	Kind  ChangeKind
	File  *MediaFile
	Batch *Batch
	Log   *LogEntry
}

// changeFeed fans committed changes out to subscribers. Delivery is
// best-effort: a subscriber whose buffer is full misses the change and is
// expected to recover from the mirror_synced flags (the mirror's
// reconciliation) or a direct store query (the hash index fallback).
// The store never blocks on a slow subscriber.
type changeFeed struct {
	mu     sync.Mutex
	subs   map[string]chan Change
	closed bool
	logger *slog.Logger

	// dropped counts changes not delivered to a full subscriber.
	dropped map[string]int64
}

func newChangeFeed(logger *slog.Logger) *changeFeed {
	return &changeFeed{
		subs:    make(map[string]chan Change),
		dropped: make(map[string]int64),
		logger:  logger,
	}
}

// Subscribe registers a named subscriber with the given buffer size and
// returns its channel. Re-subscribing under an existing name replaces the
// previous subscription (the old channel is closed).
func (s *Store) Subscribe(name string, buf int) <-chan Change {
	return s.feed.subscribe(name, buf)
}

// Unsubscribe removes a subscriber and closes its channel.
func (s *Store) Unsubscribe(name string) {
	s.feed.unsubscribe(name)
}

func (f *changeFeed) subscribe(name string, buf int) <-chan Change {
	f.mu.Lock()
	defer f.mu.Unlock()

	if old, ok := f.subs[name]; ok {
		close(old)
	}

	ch := make(chan Change, buf)
	if f.closed {
		close(ch)
		return ch
	}

	f.subs[name] = ch

	return ch
}

func (f *changeFeed) unsubscribe(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if ch, ok := f.subs[name]; ok {
		close(ch)
		delete(f.subs, name)
	}
}

// publish delivers a change to every subscriber without blocking.
func (f *changeFeed) publish(c Change) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return
	}

	for name, ch := range f.subs {
		select {
		case ch <- c:
		default:
			f.dropped[name]++
			if f.dropped[name]%100 == 1 {
				f.logger.Warn("change feed subscriber lagging",
					slog.String("subscriber", name),
					slog.Int64("dropped", f.dropped[name]),
				)
			}
		}
	}
}

// close shuts every subscriber channel. Further publishes are no-ops.
func (f *changeFeed) close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return
	}

	f.closed = true

	for name, ch := range f.subs {
		close(ch)
		delete(f.subs, name)
	}
}
