// Package http holds the outbound HTTP clients: the REST job source and the
// worker dispatch client.
package http

import (
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
	"go.opentelemetry.io/otel/trace"
)

type httpJobSource struct {
	baseURL string
	token   string
	client  *http.Client
	logger  *slog.Logger
	tracer  trace.Tracer
}

// NewHttpJobSource creates a job source that talks to a REST job service at
// baseURL. token, when set, is sent as a bearer token.
func NewHttpJobSource(baseURL, token string, client *http.Client, logger *slog.Logger) (domain.JobSource, error) {
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid job source url %q: %w", baseURL, err)
	}
	if client == nil {
		client = NewIdempotentClient(NewRetryClient(logger), 15*time.Second)
	}
	return &httpJobSource{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  client,
		logger:  logger.With("component", "http-job-source"),
		tracer:  otel.Tracer("distributed-prover-http-job-source"),
	}, nil
}

func (s *httpJobSource) ListPending(ctx context.Context, status domain.JobStatus) ([]domain.JobSummary, error) {
	ctx, span := s.tracer.Start(ctx, "jobsource.http.ListPending", trace.WithAttributes(attribute.String("job.status", string(status))))
	defer span.End()

	var summaries []domain.JobSummary
	endpoint := s.baseURL + "/jobs?status=" + url.QueryEscape(string(status))
	if err := s.do(ctx, http.MethodGet, endpoint, &summaries); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list jobs failed")
		return nil, fmt.Errorf("failed to list %s jobs: %w", status, err)
	}
	span.SetAttributes(attribute.Int("job.count", len(summaries)))
	return summaries, nil
}

func (s *httpJobSource) Claim(ctx context.Context, jobID string) (domain.ClaimResult, error) {
	ctx, span := s.tracer.Start(ctx, "jobsource.http.Claim", trace.WithAttributes(attribute.String("job.id", jobID)))
	defer span.End()

	var result domain.ClaimResult
	endpoint := s.baseURL + "/jobs/" + url.PathEscape(jobID) + "/claim"
	if err := s.do(ctx, http.MethodPost, endpoint, &result); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "claim failed")
		return domain.ClaimResult{}, fmt.Errorf("failed to claim job %s: %w", jobID, err)
	}
	return result, nil
}

func (s *httpJobSource) Fulfill(ctx context.Context, jobID string) (domain.FulfillResult, error) {
	ctx, span := s.tracer.Start(ctx, "jobsource.http.Fulfill", trace.WithAttributes(attribute.String("job.id", jobID)))
	defer span.End()

	var result domain.FulfillResult
	endpoint := s.baseURL + "/jobs/" + url.PathEscape(jobID) + "/fulfill"
	if err := s.do(ctx, http.MethodPost, endpoint, &result); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fulfill failed")
		return domain.FulfillResult{}, fmt.Errorf("failed to fulfill job %s: %w", jobID, err)
	}
	return result, nil
}

// do sends a bodyless request and decodes a JSON response into out. 404 and
// 409 map to the job source sentinels.
func (s *httpJobSource) do(ctx context.Context, method, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create http request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		msg := strings.TrimSpace(string(body))
		switch resp.StatusCode {
		case http.StatusNotFound:
			return fmt.Errorf("%w: %s", domain.ErrJobNotFound, msg)
		case http.StatusConflict:
			if strings.HasSuffix(endpoint, "/fulfill") {
				return fmt.Errorf("%w: %s", domain.ErrJobNotFulfillable, msg)
			}
			return fmt.Errorf("%w: %s", domain.ErrJobNotClaimable, msg)
		}
		return fmt.Errorf("job source returned %s: %s", resp.Status, msg)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode job source response: %w", err)
	}
	return nil
}
