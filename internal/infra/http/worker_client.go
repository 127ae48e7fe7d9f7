package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"distributed-prover/internal/domain"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

type workerClient struct {
	proveURL string
	client   *http.Client
	logger   *slog.Logger
	tracer   trace.Tracer
}

// NewWorkerClient creates a dispatcher that posts jobs to the worker at
// endpoint. timeout bounds a whole dispatch; zero waits indefinitely, since
// proving can take a long time.
func NewWorkerClient(endpoint string, timeout time.Duration, logger *slog.Logger) (domain.Dispatcher, error) {
	u, err := url.ParseRequestURI(endpoint)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid worker endpoint %q", endpoint)
	}
	return &workerClient{
		proveURL: strings.TrimRight(endpoint, "/") + "/prove",
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With("component", "worker-client"),
		tracer:   otel.Tracer("distributed-prover-worker-client"),
	}, nil
}

// Dispatch sends the job and returns the response body. Any non-2xx status
// is an error carrying the body the worker wrote.
func (c *workerClient) Dispatch(ctx context.Context, job *domain.Job) (string, error) {
	ctx, span := c.tracer.Start(ctx, "worker.Dispatch", trace.WithAttributes(
		attribute.String("job.id", job.ID),
		attribute.String("job.mode", job.Mode.String()),
	))
	defer span.End()

	payload, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("failed to marshal job %s: %w", job.ID, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.proveURL, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create http request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.client.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "dispatch request failed")
		return "", fmt.Errorf("dispatch of job %s failed: %w", job.ID, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to read response")
		return "", fmt.Errorf("failed to read worker response for job %s: %w", job.ID, err)
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		err := fmt.Errorf("worker returned %s for job %s: %s", resp.Status, job.ID, strings.TrimSpace(string(body)))
		span.RecordError(err)
		span.SetStatus(codes.Error, "worker returned error status")
		return "", err
	}
	return strings.TrimSpace(string(body)), nil
}
