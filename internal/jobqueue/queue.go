// Package jobqueue implements the bounded priority work queue and worker
// pool that the job controller submits generation jobs to (SPEC_FULL §4.7,
// §11). The job/record map-with-mutex shape is the same one aegis's
// BackupManager uses for its in-memory jobs table; what's new here is the
// container/heap-ordered pop (high > normal > low, FIFO within a tier) in
// place of aegis's plain map iteration, since the teacher never needed
// priority ordering.
package jobqueue

import (
	"container/heap"
	"context"
	"sync"

	"github.com/banton/medical-patients-sub003/pkg/models"
)

func priorityRank(p models.Priority) int {
	switch p {
	case models.PriorityHigh:
		return 2
	case models.PriorityLow:
		return 0
	default:
		return 1
	}
}

type item struct {
	jobID    string
	priority models.Priority
	seq      int64
}

type itemHeap []*item

func (h itemHeap) Len() int { return len(h) }
func (h itemHeap) Less(i, j int) bool {
	ri, rj := priorityRank(h[i].priority), priorityRank(h[j].priority)
	if ri != rj {
		return ri > rj
	}
	return h[i].seq < h[j].seq
}
func (h itemHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *itemHeap) Push(x any)   { *h = append(*h, x.(*item)) }
func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	*h = old[:n-1]
	return it
}

// Queue is a priority-ordered, concurrency-safe pending-job list. Pop blocks
// until an item is available or ctx is cancelled.
type Queue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	heap   itemHeap
	seq    int64
	closed bool
}

// New constructs an empty Queue.
func New() *Queue {
	q := &Queue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push enqueues jobID at the given priority.
func (q *Queue) Push(jobID string, priority models.Priority) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.seq++
	heap.Push(&q.heap, &item{jobID: jobID, priority: priority, seq: q.seq})
	q.cond.Signal()
}

// Pop removes and returns the highest-priority pending job id, blocking
// until one is available, ctx is done, or the queue is closed.
func (q *Queue) Pop(ctx context.Context) (string, bool) {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			q.mu.Lock()
			q.cond.Broadcast()
			q.mu.Unlock()
		case <-done:
		}
	}()
	defer close(done)

	q.mu.Lock()
	defer q.mu.Unlock()
	for q.heap.Len() == 0 && !q.closed {
		if ctx.Err() != nil {
			return "", false
		}
		q.cond.Wait()
	}
	if q.heap.Len() == 0 {
		return "", false
	}
	it := heap.Pop(&q.heap).(*item)
	return it.jobID, true
}

// Len reports the number of pending jobs.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.heap.Len()
}

// Close wakes all blocked Pop callers with no item available.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}
