package memory

import "sync"

// fifoQueue is the shared victim queue from spec §3/§4.4: the order in
// which currently resident frames were most recently brought in. The
// head is the next victim when no frame is free. Invariant (spec §8,
// property 3): at all times this queue holds exactly the set of
// currently resident frame indices.
type fifoQueue struct {
	mu    sync.Mutex
	order []int
}

func newFIFOQueue() *fifoQueue {
	return &fifoQueue{}
}

// pushTail appends a newly resident frame.
func (q *fifoQueue) pushTail(frame int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.order = append(q.order, frame)
}

// popHead removes and returns the oldest resident frame, the next
// eviction victim.
func (q *fifoQueue) popHead() (int, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.order) == 0 {
		return -1, false
	}
	frame := q.order[0]
	q.order = q.order[1:]
	return frame, true
}

// removeAll drops every occurrence of each frame in frames, rebuilding
// the backing slice rather than leaving stale entries — used by
// deallocation, per spec §4.4 "remove those frame indices from the
// FIFO queue (rebuild, do not leave stale entries)".
func (q *fifoQueue) removeAll(frames []int) {
	if len(frames) == 0 {
		return
	}
	drop := make(map[int]bool, len(frames))
	for _, f := range frames {
		drop[f] = true
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	kept := q.order[:0:0]
	for _, f := range q.order {
		if !drop[f] {
			kept = append(kept, f)
		}
	}
	q.order = kept
}

// snapshot returns a copy of the current victim order, for tests and
// observability.
func (q *fifoQueue) snapshot() []int {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]int, len(q.order))
	copy(out, q.order)
	return out
}
