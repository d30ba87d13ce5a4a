package service

import (
	"sync"

	"whatsrelay/internal/models"
)

// PendingQueue buffers messages that arrived while the transport was not
// ready. It is FIFO and safe for concurrent use. A positive max bounds the
// queue by evicting the oldest message.
type PendingQueue struct {
	mu    sync.Mutex
	items []models.Message
	max   int
}

// NewPendingQueue creates a queue; max <= 0 means unbounded
func NewPendingQueue(max int) *PendingQueue {
	return &PendingQueue{max: max}
}

// Enqueue appends msg. When the queue is bounded and full, the oldest message
// is evicted and returned.
func (q *PendingQueue) Enqueue(msg models.Message) (evicted *models.Message) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.max > 0 && len(q.items) >= q.max {
		oldest := q.items[0]
		q.items[0] = models.Message{}
		q.items = q.items[1:]
		evicted = &oldest
	}
	q.items = append(q.items, msg)
	return evicted
}

// DrainAll returns the current contents in arrival order and empties the queue
func (q *PendingQueue) DrainAll() []models.Message {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := q.items
	q.items = nil
	return out
}

// Requeue puts msgs back at the head, ahead of anything enqueued since they
// were drained. The bound is not applied to requeued messages.
func (q *PendingQueue) Requeue(msgs []models.Message) {
	if len(msgs) == 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	items := make([]models.Message, 0, len(msgs)+len(q.items))
	items = append(items, msgs...)
	q.items = append(items, q.items...)
}

// Len returns the number of buffered messages
func (q *PendingQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
