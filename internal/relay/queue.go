package relay

import (
	"log/slog"
	"sync"

	"github.com/otohalabs/otoha/internal/protocol"
)

// Queue is the FIFO of notifications awaiting pickup by the robot client.
// It is bounded: when full, the oldest entry is dropped so the newest
// message is never lost to a client that stopped polling.
type Queue struct {
	mu    sync.Mutex
	items []protocol.Notification
	max   int
	log   *slog.Logger
}

func NewQueue(max int, log *slog.Logger) *Queue {
	if max <= 0 {
		max = 256
	}
	return &Queue{max: max, log: log}
}

// Push appends a notification, evicting the oldest when at capacity.
func (q *Queue) Push(n protocol.Notification) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) >= q.max {
		dropped := q.items[0]
		q.items = q.items[1:]
		q.log.Warn("pending queue full, dropping oldest notification",
			slog.String("sender", dropped.Sender),
			slog.Int("max", q.max))
	}
	q.items = append(q.items, n)
}

// Pop removes and returns the oldest notification. The second return is
// false when the queue is empty.
func (q *Queue) Pop() (protocol.Notification, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return protocol.Notification{}, false
	}
	n := q.items[0]
	q.items = q.items[1:]
	return n, true
}

// Len reports the current depth.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
