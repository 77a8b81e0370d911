// Package dedupe tracks which collection requests are already pending so the same
// series is never queued twice.
package dedupe

import (
	"context"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

const defaultMaxSize = 10_000

// Deduper records seen ids to ensure at-most-once queueing.
type Deduper interface {
	// SeenAndRecord atomically checks if id was seen and records it if not.
	// Returns true if id was already seen, false if it was newly recorded.
	SeenAndRecord(ctx context.Context, id string) bool

	// Unrecord removes an id so it can be recorded again, e.g. once the pending
	// request finished or could not be queued.
	Unrecord(ctx context.Context, id string)

	Size() int64
}

// inMemoryDeduper keeps ids in a bounded LRU, or in a plain map when unbounded.
type inMemoryDeduper struct {
	mu      sync.Mutex
	maxSize int
	bounded *lru.Cache[string, struct{}]
	seen    map[string]struct{}
}

// NewInMemoryDeduper creates a new in-memory deduper with configuration options.
func NewInMemoryDeduper(opts ...Option) Deduper {
	d := &inMemoryDeduper{maxSize: defaultMaxSize}
	for _, opt := range opts {
		opt(d)
	}

	if d.maxSize > 0 {
		// lru.New only fails for non-positive sizes.
		cache, _ := lru.New[string, struct{}](d.maxSize)
		d.bounded = cache
	} else {
		d.seen = make(map[string]struct{})
	}
	return d
}

func (d *inMemoryDeduper) SeenAndRecord(_ context.Context, id string) bool {
	if d.bounded != nil {
		seen, _ := d.bounded.ContainsOrAdd(id, struct{}{})
		return seen
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.seen[id]; ok {
		return true
	}
	d.seen[id] = struct{}{}
	return false
}

func (d *inMemoryDeduper) Unrecord(_ context.Context, id string) {
	if d.bounded != nil {
		d.bounded.Remove(id)
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, id)
}

func (d *inMemoryDeduper) Size() int64 {
	if d.bounded != nil {
		return int64(d.bounded.Len())
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	return int64(len(d.seen))
}
