package pgo

import "container/heap"

// Queue is the factor priority queue of spec §3, ordered by Less.
type Queue struct {
	items factorHeap
}

// NewQueue returns an empty queue.
func NewQueue() *Queue {
	q := &Queue{}
	heap.Init(&q.items)
	return q
}

// Push adds f to the queue.
func (q *Queue) Push(f Factor) {
	heap.Push(&q.items, f)
}

// Len returns the number of pending factors.
func (q *Queue) Len() int { return q.items.Len() }

// Peek returns the lowest-ordered factor without removing it.
func (q *Queue) Peek() (Factor, bool) {
	if q.items.Len() == 0 {
		return Factor{}, false
	}
	return q.items[0], true
}

// Pop removes and returns the lowest-ordered factor.
func (q *Queue) Pop() (Factor, bool) {
	if q.items.Len() == 0 {
		return Factor{}, false
	}
	return heap.Pop(&q.items).(Factor), true
}

type factorHeap []Factor

func (h factorHeap) Len() int            { return len(h) }
func (h factorHeap) Less(i, j int) bool  { return Less(h[i], h[j]) }
func (h factorHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *factorHeap) Push(x interface{}) { *h = append(*h, x.(Factor)) }
func (h *factorHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
