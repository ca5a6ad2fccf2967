// Package queue implements the indexing queue (C5): a priority queue that
// dedupes by path across both the pending set and the in-flight set, so the
// watcher, the initial scan, and resume logic can all enqueue the same path
// without racing each other into double-processing.
package queue

import (
	"container/heap"
	"context"
	"sort"
	"sync"
	"time"
)

// Priority orders QueueItems ahead of FIFO tie-breaking.
type Priority int

const (
	// NORMAL is the default priority: initial scans, watcher events, resume.
	NORMAL Priority = iota
	// HIGH jumps the line: orphan repair, explicit reindex requests.
	HIGH
)

func (p Priority) String() string {
	if p == HIGH {
		return "HIGH"
	}
	return "NORMAL"
}

// QueueItem is the ephemeral unit of work handed to the pipeline coordinator.
type QueueItem struct {
	Path     string
	Priority Priority
	Force    bool

	enqueueSeq uint64
}

// Seq returns the monotonic sequence number assigned at enqueue time, used
// to break ties between items of equal priority.
func (q QueueItem) Seq() uint64 { return q.enqueueSeq }

// item is the heap element: a QueueItem plus its position for heap.Fix.
type item struct {
	QueueItem
	index int
}

// itemHeap orders by (priority desc, enqueueSeq asc) so higher priority comes
// first and, within a priority, the earliest-enqueued item comes first.
type itemHeap []*item

func (h itemHeap) Len() int { return len(h) }

func (h itemHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	return h[i].enqueueSeq < h[j].enqueueSeq
}

func (h itemHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *itemHeap) Push(x any) {
	it := x.(*item)
	it.index = len(*h)
	*h = append(*h, it)
}

func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*h = old[:n-1]
	return it
}

// Queue is the indexing queue. A path is a member of the in-flight set iff
// it has been returned by Get and not yet passed to MarkComplete; that
// window is what prevents double-processing races between the watcher and
// resume logic (spec §4.5 invariant).
type Queue struct {
	mu       sync.Mutex
	cond     *sync.Cond
	heap     itemHeap
	queued   map[string]struct{}
	inFlight map[string]struct{}
	seq      uint64
	paused   bool
	closed   bool
}

// New returns an empty, unpaused Queue.
func New() *Queue {
	q := &Queue{
		heap:     make(itemHeap, 0),
		queued:   make(map[string]struct{}),
		inFlight: make(map[string]struct{}),
	}
	q.cond = sync.NewCond(&q.mu)
	heap.Init(&q.heap)
	return q
}

// Add enqueues path at the given priority. It returns false and records no
// entry if path is already present in the queue or already in-flight.
// force does not bypass dedup — it only propagates onto the QueueItem so
// later pipeline stages may bypass their own skip checks.
func (q *Queue) Add(path string, priority Priority, force bool) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.queued[path]; ok {
		return false
	}
	if _, ok := q.inFlight[path]; ok {
		return false
	}

	q.seq++
	it := &item{QueueItem: QueueItem{
		Path:       path,
		Priority:   priority,
		Force:      force,
		enqueueSeq: q.seq,
	}}
	heap.Push(&q.heap, it)
	q.queued[path] = struct{}{}
	q.cond.Signal()
	return true
}

// Get blocks until an item is available, the queue is unpaused, timeout
// elapses, or the queue is closed. It dequeues the highest-priority item
// (FIFO among equal priorities) and moves the path into the in-flight set.
// A zero timeout blocks indefinitely.
func (q *Queue) Get(timeout time.Duration) (QueueItem, bool) {
	ctx := context.Background()
	var cancel context.CancelFunc
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return q.GetContext(ctx)
}

// GetContext is like Get but bounded by ctx instead of a fixed timeout.
func (q *Queue) GetContext(ctx context.Context) (QueueItem, bool) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			q.mu.Lock()
			q.cond.Broadcast()
			q.mu.Unlock()
		case <-done:
		}
	}()

	q.mu.Lock()
	defer q.mu.Unlock()

	for {
		if q.closed {
			return QueueItem{}, false
		}
		if !q.paused && q.heap.Len() > 0 {
			it := heap.Pop(&q.heap).(*item)
			delete(q.queued, it.Path)
			q.inFlight[it.Path] = struct{}{}
			return it.QueueItem, true
		}
		if ctx.Err() != nil {
			return QueueItem{}, false
		}
		q.cond.Wait()
	}
}

// MarkComplete removes path from the in-flight set, making it eligible for
// future enqueues again.
func (q *Queue) MarkComplete(path string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.inFlight, path)
}

// Size returns the number of items currently queued (not counting in-flight).
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.heap.Len()
}

// InFlight returns the number of items dequeued but not yet marked complete.
func (q *Queue) InFlight() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.inFlight)
}

// Pause blocks future Get calls from returning items until Resume is called.
// Items already in flight are unaffected.
func (q *Queue) Pause() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.paused = true
}

// Resume lifts a pause and wakes any blocked Get callers.
func (q *Queue) Resume() {
	q.mu.Lock()
	q.paused = false
	q.mu.Unlock()
	q.cond.Broadcast()
}

// IsPaused reports the current pause state.
func (q *Queue) IsPaused() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.paused
}

// Close wakes every blocked Get call, which will return (QueueItem{}, false).
// Close is idempotent.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
}

// Clear drops every pending (not yet in-flight) item from the queue.
// In-flight items are left to finish; their paths remain ineligible for
// re-enqueue until MarkComplete.
func (q *Queue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := q.heap.Len()
	q.heap = q.heap[:0]
	q.queued = make(map[string]struct{})
	return n
}

// Jobs returns a snapshot of every pending QueueItem, highest priority and
// earliest enqueue first, for reporting (e.g. GET /queue/jobs).
func (q *Queue) Jobs() []QueueItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := make([]*item, len(q.heap))
	copy(items, q.heap)
	sort.Slice(items, func(i, j int) bool {
		if items[i].Priority != items[j].Priority {
			return items[i].Priority > items[j].Priority
		}
		return items[i].enqueueSeq < items[j].enqueueSeq
	})
	out := make([]QueueItem, len(items))
	for i, it := range items {
		out[i] = it.QueueItem
	}
	return out
}
