// Package throttle releases queued jobs to a worker at a fixed rate.
package throttle

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Worker executes one job. The outcome is reported through the job itself.
type Worker[T any] interface {
	Call(ctx context.Context, job T)
}

// WorkerFunc adapts a function to the Worker interface.
type WorkerFunc[T any] func(ctx context.Context, job T)

func (f WorkerFunc[T]) Call(ctx context.Context, job T) {
	f(ctx, job)
}

// Throttler hands at most batchSize jobs per tick to its worker.
// Push never blocks; the backlog is unbounded and FIFO.
type Throttler[T any] struct {
	interval time.Duration
	worker   Worker[T]
	log      *slog.Logger

	mu      sync.Mutex
	backlog []T
	running atomic.Int64

	startOnce sync.Once
}

// New creates a throttler that ticks every interval.
func New[T any](interval time.Duration, worker Worker[T], log *slog.Logger) *Throttler[T] {
	if log == nil {
		log = slog.Default()
	}
	return &Throttler[T]{
		interval: interval,
		worker:   worker,
		log:      log,
	}
}

// Push appends a job to the backlog.
func (t *Throttler[T]) Push(job T) {
	t.mu.Lock()
	t.backlog = append(t.backlog, job)
	t.mu.Unlock()
}

// Len returns the number of jobs waiting for a tick.
func (t *Throttler[T]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.backlog)
}

// Running returns the number of jobs currently held by the worker.
func (t *Throttler[T]) Running() int {
	return int(t.running.Load())
}

// Run starts the tick loop in the background and returns immediately.
// A batch is only started after the previous one has fully completed.
// The loop stops when ctx is done. Calling Run more than once has no effect.
func (t *Throttler[T]) Run(ctx context.Context, batchSize int) {
	t.startOnce.Do(func() {
		go t.loop(ctx, batchSize)
	})
}

func (t *Throttler[T]) loop(ctx context.Context, batchSize int) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	var inflight sync.WaitGroup
	for {
		select {
		case <-ctx.Done():
			inflight.Wait()
			return
		case <-ticker.C:
		}

		// Batches are not pipelined.
		inflight.Wait()

		capacity := batchSize - int(t.running.Load())
		if capacity <= 0 {
			t.log.Debug("throttle: no capacity on tick", "batch_size", batchSize)
			continue
		}

		batch := t.take(capacity)
		if len(batch) == 0 {
			continue
		}
		t.log.Debug("throttle: releasing jobs", "count", len(batch))

		for _, job := range batch {
			inflight.Add(1)
			t.running.Add(1)
			go func(job T) {
				defer inflight.Done()
				defer t.running.Add(-1)
				defer func() {
					if r := recover(); r != nil {
						t.log.Error("throttle: worker panicked", "panic", r)
					}
				}()
				t.worker.Call(ctx, job)
			}(job)
		}
	}
}

// take moves up to n jobs out of the backlog. The lock is released before
// any job reaches the worker.
func (t *Throttler[T]) take(n int) []T {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.backlog) == 0 {
		return nil
	}
	if n > len(t.backlog) {
		n = len(t.backlog)
	}
	batch := make([]T, n)
	copy(batch, t.backlog[:n])
	clear(t.backlog[:n])
	t.backlog = t.backlog[n:]
	return batch
}
