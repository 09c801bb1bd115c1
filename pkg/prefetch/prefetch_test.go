package prefetch

import (
	"sync"
	"testing"
	"time"

	"github.com/user/stingrayext/pkg/storage"
)

func TestQueueSSDPopsImmediately(t *testing.T) {
	q := New(storage.SSD)
	q.Enqueue(Item{BundleHash: 1})
	q.Enqueue(Item{BundleHash: 2})

	it, ok := q.Pop()
	if !ok || it.BundleHash != 1 {
		t.Fatalf("first pop = %+v, %v", it, ok)
	}
	it, ok = q.Pop()
	if !ok || it.BundleHash != 2 {
		t.Fatalf("second pop = %+v, %v", it, ok)
	}
}

func TestQueueHDDBlocksUntilSorted(t *testing.T) {
	q := New(storage.HDD)
	q.Enqueue(Item{BundleHash: 1, PhysicalHint: 200})
	q.Enqueue(Item{BundleHash: 2, PhysicalHint: 100})
	q.CloseEnumeration()

	popped := make(chan Item, 1)
	go func() {
		it, _ := q.Pop()
		popped <- it
	}()

	select {
	case <-popped:
		t.Fatal("Pop should block on HDD media until Sort is called")
	case <-time.After(30 * time.Millisecond):
	}

	q.Sort()
	select {
	case it := <-popped:
		if it.BundleHash != 2 {
			t.Errorf("after sort, first pop = %+v, want bundle 2 (lower PhysicalHint)", it)
		}
	case <-time.After(time.Second):
		t.Fatal("Pop did not unblock after Sort")
	}
}

func TestQueueDrainsWithMultipleConsumers(t *testing.T) {
	q := New(storage.SSD)
	const n = 50
	for i := 0; i < n; i++ {
		q.Enqueue(Item{BundleHash: uint64(i)})
	}
	q.CloseEnumeration()

	var mu sync.Mutex
	seen := make(map[uint64]bool)
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				it, ok := q.Pop()
				if !ok {
					return
				}
				mu.Lock()
				seen[it.BundleHash] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != n {
		t.Fatalf("seen %d items, want %d", len(seen), n)
	}
}
