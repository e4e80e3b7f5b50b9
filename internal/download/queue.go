// Package download caps the number of concurrent file transfers.
package download

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"
)

// Queue admits at most capacity transfers at once and keeps the rest in FIFO
// order until a running transfer completes.
type Queue struct {
	mu         sync.Mutex
	capacity   int
	inProgress []int64
	waiting    []int64
}

// NewQueue creates a queue. Capacities below one are raised to one.
func NewQueue(capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{capacity: capacity}
}

// MayAdmit marks id as in progress and returns true when there is spare
// capacity; the caller must then start the transfer. Otherwise id is queued.
func (q *Queue) MayAdmit(id int64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.inProgress) >= q.capacity {
		q.waiting = append(q.waiting, id)
		return false
	}
	q.inProgress = append(q.inProgress, id)
	return true
}

// CompleteAndPromote removes id from the in-progress set and promotes the
// head of the waiting queue. When ok is true the caller must start the
// transfer for next.
func (q *Queue) CompleteAndPromote(id int64) (next int64, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.inProgress = slices.DeleteFunc(q.inProgress, func(v int64) bool { return v == id })
	if len(q.waiting) == 0 {
		return 0, false
	}
	next = q.waiting[0]
	q.waiting = q.waiting[1:]
	q.inProgress = append(q.inProgress, next)
	return next, true
}

// IsInProgress reports whether id holds one of the transfer slots.
func (q *Queue) IsInProgress(id int64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return slices.Contains(q.inProgress, id)
}

// InProgress returns a copy of the admitted ids.
func (q *Queue) InProgress() []int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return slices.Clone(q.inProgress)
}

// Waiting returns a copy of the queued ids in admission order.
func (q *Queue) Waiting() []int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return slices.Clone(q.waiting)
}

// LogState writes the current queue state at debug level.
func (q *Queue) LogState(log *slog.Logger) {
	q.mu.Lock()
	inProgress, waiting := len(q.inProgress), len(q.waiting)
	q.mu.Unlock()
	log.Debug("download queue state", "in_progress", inProgress, "waiting", waiting, "capacity", q.capacity)
}

// LogStateEvery logs the queue state on every interval until ctx is done.
// A non-positive interval disables logging.
func (q *Queue) LogStateEvery(ctx context.Context, interval time.Duration, log *slog.Logger) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				q.LogState(log)
			}
		}
	}()
}
