package events

import "github.com/eapache/queue"

// Queue is an unbounded FIFO of events. It is not safe for concurrent use.
type Queue struct {
	q *queue.Queue
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{q: queue.New()}
}

// Push appends an event.
func (q *Queue) Push(e Event) {
	q.q.Add(e)
}

// PushAll appends events in order.
func (q *Queue) PushAll(evs []Event) {
	for _, e := range evs {
		q.q.Add(e)
	}
}

// Len returns the number of queued events.
func (q *Queue) Len() int {
	return q.q.Length()
}

// Drain clears sink and moves up to limit events into it, oldest first.
// A non-positive limit drains nothing. It returns the number moved.
func (q *Queue) Drain(sink *[]Event, limit int) int {
	*sink = (*sink)[:0]
	for len(*sink) < limit && q.q.Length() > 0 {
		*sink = append(*sink, q.q.Remove().(Event))
	}
	return len(*sink)
}
