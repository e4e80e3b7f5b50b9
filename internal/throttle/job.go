package throttle

import (
	"context"
	"log/slog"
	"sync"
)

// Result is the outcome of a job.
type Result[R any] struct {
	Value R
	Err   error
}

// Job carries a payload and a one-shot result channel.
type Job[P, R any] struct {
	Payload P

	result chan Result[R]
	once   sync.Once
	log    *slog.Logger
}

// NewJob creates a job and returns it with the channel its result arrives on.
func NewJob[P, R any](payload P, log *slog.Logger) (*Job[P, R], <-chan Result[R]) {
	if log == nil {
		log = slog.Default()
	}
	ch := make(chan Result[R], 1)
	return &Job[P, R]{Payload: payload, result: ch, log: log}, ch
}

// Resolve delivers the job outcome. Only the first call has an effect;
// later calls are logged and dropped.
func (j *Job[P, R]) Resolve(value R, err error) {
	delivered := false
	j.once.Do(func() {
		j.result <- Result[R]{Value: value, Err: err}
		close(j.result)
		delivered = true
	})
	if !delivered {
		j.log.Error("throttle: job result already delivered", "error", err)
	}
}

// Await blocks until the job result arrives or ctx is done. When ctx ends
// first the receiver is abandoned; the worker's later Resolve still succeeds
// because the channel is buffered.
func Await[R any](ctx context.Context, ch <-chan Result[R]) (R, error) {
	select {
	case res, ok := <-ch:
		if !ok {
			var zero R
			return zero, ErrJobDropped
		}
		return res.Value, res.Err
	case <-ctx.Done():
		var zero R
		return zero, ctx.Err()
	}
}
