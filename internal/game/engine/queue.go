// Package engine runs the fixed-rate broadcast loop: it drains the inbound
// message queue, sweeps inactive players, dispatches client messages, and
// emits the world snapshot to every connection each tick.
package engine

import (
	"sync"
	"sync/atomic"

	"github.com/cory-johannsen/relay/internal/game/world"
)

// Item is one queued inbound frame together with its origin. PlayerID is
// resolved at enqueue time and may be empty for a connection that has not
// finished registering; dispatch rejects such items.
type Item struct {
	Conn     world.Conn
	PlayerID world.PlayerID
	Payload  []byte
}

// Queue buffers inbound messages between ticks. Connection goroutines enqueue
// concurrently; only the tick loop drains. A bounded capacity keeps a burst
// from one client from growing memory without limit.
type Queue struct {
	mu       sync.Mutex
	items    []Item
	capacity int
	dropped  atomic.Uint64
}

// NewQueue returns a queue holding at most capacity items.
//
// Precondition: capacity must be >= 1.
func NewQueue(capacity int) *Queue {
	if capacity < 1 {
		panic("engine.NewQueue: capacity must be >= 1")
	}
	return &Queue{capacity: capacity}
}

// Enqueue appends an item, reporting false when the queue is full. Dropped
// items are counted but never block the caller.
func (q *Queue) Enqueue(item Item) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) >= q.capacity {
		q.dropped.Add(1)
		return false
	}
	q.items = append(q.items, item)
	return true
}

// Drain removes and returns up to max items in arrival order.
func (q *Queue) Drain(max int) []Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	n := len(q.items)
	if n > max {
		n = max
	}
	batch := make([]Item, n)
	copy(batch, q.items[:n])
	remaining := copy(q.items, q.items[n:])
	for i := remaining; i < len(q.items); i++ {
		q.items[i] = Item{}
	}
	q.items = q.items[:remaining]
	return batch
}

// Len returns the current queue depth.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Dropped returns the number of items rejected because the queue was full.
func (q *Queue) Dropped() uint64 {
	return q.dropped.Load()
}
