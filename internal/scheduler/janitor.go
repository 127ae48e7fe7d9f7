// Package scheduler runs periodic maintenance on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"distributed-prover/internal/domain"
	"distributed-prover/internal/metrics"
	"distributed-prover/internal/transfer"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// MultipartStore is the part of the blob store the janitor needs.
type MultipartStore interface {
	ListIncompleteUploads(ctx context.Context, prefix string) ([]transfer.IncompleteUpload, error)
	AbortMultipartUpload(ctx context.Context, key, uploadID string) error
}

// Janitor aborts multipart sessions that were left open, for example by a
// worker that died between creating a session and completing it.
type Janitor struct {
	cron   *cron.Cron
	store  MultipartStore
	maxAge time.Duration
	prefix string
	now    func() time.Time
	logger *slog.Logger
	tracer trace.Tracer
}

// NewJanitor schedules a sweep on schedule, a robfig/cron spec such as
// "@every 10m". Overlapping sweeps are skipped.
func NewJanitor(store MultipartStore, schedule string, maxAge time.Duration, logger *slog.Logger) (*Janitor, error) {
	if maxAge <= 0 {
		return nil, fmt.Errorf("janitor max age must be positive, got %s", maxAge)
	}
	logger = logger.With("component", "multipart-janitor")
	j := &Janitor{
		store:  store,
		maxAge: maxAge,
		prefix: domain.ArtifactKeyPrefix,
		now:    time.Now,
		logger: logger,
		tracer: otel.Tracer("distributed-prover-scheduler"),
	}
	j.cron = cron.New(cron.WithChain(
		cron.Recover(cron.DefaultLogger),
		cron.SkipIfStillRunning(cron.DefaultLogger),
	))
	if _, err := j.cron.AddFunc(schedule, func() {
		if _, err := j.Sweep(context.Background()); err != nil {
			j.logger.Error("multipart sweep failed", "error", err)
		}
	}); err != nil {
		return nil, fmt.Errorf("invalid janitor schedule %q: %w", schedule, err)
	}
	return j, nil
}

// Start runs the schedule until ctx is cancelled and waits for a running
// sweep to finish.
func (j *Janitor) Start(ctx context.Context) error {
	j.logger.Info("janitor started", "max_age", j.maxAge.String())
	j.cron.Start()
	<-ctx.Done()
	j.logger.Info("janitor stopping...")
	<-j.cron.Stop().Done()
	j.logger.Info("janitor stopped")
	return ctx.Err()
}

// Sweep aborts every incomplete upload under the artifact prefix initiated
// more than maxAge ago and returns how many were aborted. A failed abort is
// logged and the sweep continues.
func (j *Janitor) Sweep(ctx context.Context) (int, error) {
	ctx, span := j.tracer.Start(ctx, "janitor.Sweep")
	defer span.End()

	uploads, err := j.store.ListIncompleteUploads(ctx, j.prefix)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list incomplete uploads failed")
		return 0, fmt.Errorf("failed to list incomplete uploads: %w", err)
	}

	cutoff := j.now().Add(-j.maxAge)
	aborted := 0
	for _, u := range uploads {
		if !u.Initiated.Before(cutoff) {
			continue
		}
		if err := j.store.AbortMultipartUpload(ctx, u.Key, u.UploadID); err != nil {
			j.logger.Warn("failed to abort stale upload", "key", u.Key, "upload_id", u.UploadID, "error", err)
			continue
		}
		aborted++
		metrics.MultipartAbortedTotal.WithLabelValues("stale").Inc()
		j.logger.Info("aborted stale upload", "key", u.Key, "upload_id", u.UploadID, "initiated", u.Initiated)
	}
	span.SetAttributes(
		attribute.Int("janitor.incomplete", len(uploads)),
		attribute.Int("janitor.aborted", aborted),
	)
	return aborted, nil
}
