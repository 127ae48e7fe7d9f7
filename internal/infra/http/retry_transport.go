package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

const (
	defaultMaxRetries   = 3
	defaultRetryWaitMin = 200 * time.Millisecond
	defaultRetryWaitMax = 2 * time.Second
)

// NewRetryClient returns the retry policy for job-source reads: up to three
// retries on connection errors and 5xx responses, backing off exponentially
// from 200ms. When retries run out the last response is returned as-is so
// callers can still map its status.
func NewRetryClient(logger *slog.Logger) *retryablehttp.Client {
	client := retryablehttp.NewClient()
	client.RetryMax = defaultMaxRetries
	client.RetryWaitMin = defaultRetryWaitMin
	client.RetryWaitMax = defaultRetryWaitMax
	client.CheckRetry = retryablehttp.DefaultRetryPolicy
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler
	client.Logger = logger.With("component", "http-retry")
	return client
}

// NewIdempotentClient adapts rc to a standard *http.Client. Only GET and
// HEAD requests go through the retry loop; claim and fulfill POSTs are
// sent exactly once on rc's underlying transport.
func NewIdempotentClient(rc *retryablehttp.Client, timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &idempotentRetry{
			retry: &retryablehttp.RoundTripper{Client: rc},
			once:  rc.HTTPClient.Transport,
		},
	}
}

type idempotentRetry struct {
	retry http.RoundTripper
	once  http.RoundTripper
}

func (t *idempotentRetry) RoundTrip(req *http.Request) (*http.Response, error) {
	switch req.Method {
	case http.MethodGet, http.MethodHead:
		return t.retry.RoundTrip(req)
	default:
		return t.once.RoundTrip(req)
	}
}
