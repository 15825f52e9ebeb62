package pipeline

import (
	"sync"
	"time"
)

// ResultQueue reorders batch results. Workers put results in any order; the
// writer takes them strictly by ascending sequence starting at 1.
//
// Put blocks while the queue holds capacity results, except for the result
// the writer is waiting on, which is always accepted.
type ResultQueue struct {
	mu       sync.Mutex
	cond     *sync.Cond
	items    map[uint64]*BatchResult
	next     uint64
	capacity int
	closed   bool
}

func NewResultQueue(capacity int) *ResultQueue {
	if capacity < 1 {
		capacity = 1
	}
	q := &ResultQueue{
		items:    make(map[uint64]*BatchResult),
		next:     1,
		capacity: capacity,
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Put stores r. Results put after Close are dropped.
func (q *ResultQueue) Put(r *BatchResult) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for !q.closed && r.Sequence != q.next && len(q.items) >= q.capacity {
		q.cond.Wait()
	}
	if q.closed {
		return
	}
	q.items[r.Sequence] = r
	q.cond.Broadcast()
}

// Next waits for the result with the next sequence, re-checking at least
// every poll. It returns false once the queue is closed and that result
// never arrived.
func (q *ResultQueue) Next(poll time.Duration) (*BatchResult, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		if r, ok := q.items[q.next]; ok {
			delete(q.items, q.next)
			q.next++
			q.cond.Broadcast()
			return r, true
		}
		if q.closed {
			return nil, false
		}
		q.waitLocked(poll)
	}
}

// waitLocked waits for a Put or Close, or for d to pass.
func (q *ResultQueue) waitLocked(d time.Duration) {
	t := time.AfterFunc(d, func() {
		q.mu.Lock()
		q.cond.Broadcast()
		q.mu.Unlock()
	})
	q.cond.Wait()
	t.Stop()
}

// Close wakes every waiter. Results already queued can still be taken.
func (q *ResultQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}

// Len returns the number of results waiting to be taken.
func (q *ResultQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
