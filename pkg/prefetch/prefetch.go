// Package prefetch implements C4: a storage-aware work queue that feeds a
// pool of extraction workers. Two producers fill and order the queue
// ahead of the consumers — an enumerator that walks the selected bundle
// files, and a sort step that, on spinning media, reorders the queue by
// each item's PhysicalHint so workers read in one direction instead of
// seeking randomly.
//
// Grounded on original_source/crates/core/reader/files.rs's Reader/pop/
// open_bundles; the condvar-with-timeout polling loop there is kept almost
// verbatim via sync.Cond, since Go's Cond gives the same
// wait-until-predicate shape the Rust code uses, just without a
// busy-polling timeout (Go's Cond.Wait blocks until Signal/Broadcast,
// which is strictly better than a 2ms poll and needs no timeout to avoid
// one).
package prefetch

import (
	"sync"

	"github.com/user/stingrayext/pkg/bundle"
	"github.com/user/stingrayext/pkg/storage"
)

// Item is one file queued for extraction: the owning bundle/version plus
// the specific file entry within it.
type Item struct {
	BundleHash uint64
	Version    *bundle.BundleVersion
	File       bundle.File

	// PhysicalHint orders Items on spinning media; lower sorts first. The
	// extraction pipeline sets it to the file's offset within its bundle's
	// decompressed stream; it has no effect on SSD/Unknown queues, which
	// are never sorted.
	PhysicalHint int64
}

// Queue is a storage-aware producer/consumer work queue (§5). Call Enqueue
// for every file to extract, then CloseEnumeration once enumeration is done; call
// Pop from each consumer worker until it returns ok=false.
type Queue struct {
	mu   sync.Mutex
	cond *sync.Cond

	items      []Item
	sorted     bool
	enumDone   bool
	medium     storage.Kind
	nextPop    int
}

// New returns a Queue for files backed by a directory whose medium kind is
// medium. HDD queues defer popping until Sort has run; SSD/Unknown queues
// are immediately poppable in enumeration order.
func New(medium storage.Kind) *Queue {
	q := &Queue{medium: medium, sorted: medium != storage.HDD}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Enqueue adds an item, produced by the enumerator goroutine (P2).
func (q *Queue) Enqueue(it Item) {
	q.mu.Lock()
	q.items = append(q.items, it)
	q.mu.Unlock()
	q.cond.Broadcast()
}

// CloseEnumeration signals that no more items will be enqueued.
func (q *Queue) CloseEnumeration() {
	q.mu.Lock()
	q.enumDone = true
	q.mu.Unlock()
	q.cond.Broadcast()
}

// Sort reorders the queue by PhysicalHint ascending and marks it sorted,
// releasing any blocked Pop. The extraction pipeline calls it on HDD media
// once enumeration has finished; SSD/Unknown media never need it since New
// marks them pre-sorted.
func (q *Queue) Sort() {
	q.mu.Lock()
	sortItemsByPhysicalHint(q.items)
	q.sorted = true
	q.mu.Unlock()
	q.cond.Broadcast()
}

func sortItemsByPhysicalHint(items []Item) {
	// Insertion sort: the queue is expected to be mostly enumeration-order
	// already and this runs once per extraction pass, not per item.
	for i := 1; i < len(items); i++ {
		for j := i; j > 0 && items[j].PhysicalHint < items[j-1].PhysicalHint; j-- {
			items[j], items[j-1] = items[j-1], items[j]
		}
	}
}

// Pop blocks until an item is available and the queue is sorted (a no-op
// wait on SSD/Unknown media), then returns it. ok is false once
// enumeration has finished and every item has been popped.
func (q *Queue) Pop() (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for {
		if q.sorted && q.nextPop < len(q.items) {
			it := q.items[q.nextPop]
			q.nextPop++
			return it, true
		}
		if q.enumDone && q.sorted && q.nextPop >= len(q.items) {
			return Item{}, false
		}
		q.cond.Wait()
	}
}

// Len reports how many items have been enqueued so far (diagnostic use
// only; racy with respect to concurrent Enqueue calls).
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
