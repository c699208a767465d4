package scheduler

import (
	"sync"

	"github.com/sisoputnfrba/tp-2025-2c-csopesy/internal/process"
)

// readyQueue is the single thread-safe FIFO of spec §4.8: blocking
// pop, non-blocking try-pop, push, size.
type readyQueue struct {
	mu    sync.Mutex
	cond  *sync.Cond
	items []*process.Process
}

func newReadyQueue() *readyQueue {
	q := &readyQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *readyQueue) push(p *process.Process) {
	q.mu.Lock()
	q.items = append(q.items, p)
	q.mu.Unlock()
	q.cond.Signal()
}

// tryPop returns the head without blocking, or (nil, false) if empty.
func (q *readyQueue) tryPop() (*process.Process, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	p := q.items[0]
	q.items = q.items[1:]
	return p, true
}

// pop blocks until an item is available or closed returns true.
func (q *readyQueue) pop(closed func() bool) (*process.Process, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 {
		if closed() {
			return nil, false
		}
		q.cond.Wait()
	}
	p := q.items[0]
	q.items = q.items[1:]
	return p, true
}

func (q *readyQueue) size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// wake lets a shutdown path unblock every goroutine parked in pop.
func (q *readyQueue) wake() {
	q.cond.Broadcast()
}
