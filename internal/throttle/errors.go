package throttle

import "errors"

// ErrJobDropped is returned by Await when a job's channel closed without a result.
var ErrJobDropped = errors.New("throttle: job dropped without result")
