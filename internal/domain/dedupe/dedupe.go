// Package dedupe tracks seen detection ids for at-most-once ingest.
//
// The association store is idempotent per (candidate, event) pair anyway;
// this layer keeps duplicate survey detections from occupying queue and
// worker capacity at all.
package dedupe

import (
	"context"
	"sync"
	"sync/atomic"
)

// Deduper records seen detection ids.
type Deduper interface {
	// SeenAndRecord atomically checks if id was seen and records it if
	// not. Returns true if id was already seen.
	SeenAndRecord(ctx context.Context, id string) bool

	// Unrecord removes an id from the seen set, allowing a retry. Used
	// when a detection was marked seen but failed to enqueue.
	Unrecord(ctx context.Context, id string)

	Size() int64
}

// node is one entry in the eviction list.
type node struct {
	id   string
	next *node
}

func (n *node) reset() {
	n.id = ""
	n.next = nil
}

// inMemoryDeduper implements Deduper with a map plus a linked list for
// bounded LIFO eviction. maxSize <= 0 disables eviction.
type inMemoryDeduper struct {
	mu       sync.Mutex
	seen     map[string]*node
	head     *node
	maxSize  int
	size     atomic.Int64
	nodePool sync.Pool
}

// NewInMemoryDeduper creates an in-memory deduper with configuration options.
func NewInMemoryDeduper(opts ...Option) Deduper {
	d := &inMemoryDeduper{
		maxSize: 500000,
	}
	for _, opt := range opts {
		opt(d)
	}

	d.seen = make(map[string]*node)
	if d.maxSize > 0 {
		d.nodePool = sync.Pool{
			New: func() interface{} {
				return &node{}
			},
		}
	}
	return d
}

// SeenAndRecord atomically checks and records a detection id.
func (d *inMemoryDeduper) SeenAndRecord(ctx context.Context, id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.seen[id]; exists {
		return true
	}

	if d.maxSize > 0 {
		if len(d.seen) >= d.maxSize {
			d.evictOldest()
		}
		n := d.nodePool.Get().(*node)
		n.id = id
		n.next = d.head
		d.head = n
		d.seen[id] = n
	} else {
		d.seen[id] = nil
	}
	d.size.Add(1)
	return false
}

// Unrecord removes an id from the seen set.
func (d *inMemoryDeduper) Unrecord(ctx context.Context, id string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	n, exists := d.seen[id]
	if !exists {
		return
	}
	delete(d.seen, id)
	d.size.Add(-1)

	if d.maxSize <= 0 {
		return
	}
	if d.head == n {
		d.head = n.next
	} else {
		cur := d.head
		for cur != nil && cur.next != n {
			cur = cur.next
		}
		if cur != nil {
			cur.next = n.next
		}
	}
	n.reset()
	d.nodePool.Put(n)
}

// evictOldest drops the tail of the list. Caller holds d.mu.
func (d *inMemoryDeduper) evictOldest() {
	if d.head == nil {
		return
	}
	var prev *node
	cur := d.head
	for cur.next != nil {
		prev = cur
		cur = cur.next
	}
	if prev == nil {
		d.head = nil
	} else {
		prev.next = nil
	}
	delete(d.seen, cur.id)
	cur.reset()
	d.nodePool.Put(cur)
	d.size.Add(-1)
}

// Size returns the current number of recorded ids.
func (d *inMemoryDeduper) Size() int64 {
	return d.size.Load()
}
