package domain

import "context"

// Dispatcher sends a claimed job to a worker and returns the worker's
// response body, which carries the elapsed proving time.
type Dispatcher interface {
	Dispatch(ctx context.Context, job *Job) (string, error)
}
