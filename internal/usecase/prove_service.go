package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"distributed-prover/internal/domain"
	"distributed-prover/internal/metrics"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// ArtifactStore moves encoded artifacts in and out of the blob store.
// *transfer.Engine implements it.
type ArtifactStore interface {
	Download(ctx context.Context, artifact domain.Artifact, out any) error
	Upload(ctx context.Context, artifact domain.Artifact, v any) error
}

// Offloader runs CPU-bound work away from request goroutines.
// *worker.Offloader implements it.
type Offloader interface {
	Do(ctx context.Context, fn func() error) error
}

// ProveService runs the worker's proving pipeline for one job.
type ProveService struct {
	artifacts ArtifactStore
	offloader Offloader
	prover    domain.Prover
	source    domain.JobSource
	logger    *slog.Logger
	tracer    trace.Tracer
}

func NewProveService(artifacts ArtifactStore, offloader Offloader, prover domain.Prover, source domain.JobSource, logger *slog.Logger) *ProveService {
	return &ProveService{
		artifacts: artifacts,
		offloader: offloader,
		prover:    prover,
		source:    source,
		logger:    logger.With("component", "prove-service"),
		tracer:    otel.Tracer("distributed-prover-usecase"),
	}
}

// Prove validates the job, fetches its program and input concurrently,
// computes the proof on the offloader, stores it under the output artifact
// and marks the job fulfilled. The first failing stage ends the pipeline.
func (s *ProveService) Prove(ctx context.Context, job *domain.Job) (result domain.FulfillResult, err error) {
	ctx, span := s.tracer.Start(ctx, "service.Prove", trace.WithAttributes(
		attribute.String("job.id", job.ID),
		attribute.String("job.mode", job.Mode.String()),
	))
	defer span.End()

	logger := s.logger.With("job_id", job.ID, "mode", job.Mode.String())
	defer func() {
		status := "success"
		if err != nil {
			status = "failed"
			span.RecordError(err)
			span.SetStatus(codes.Error, "prove pipeline failed")
			logger.Error("prove pipeline failed", "error", err)
		}
		metrics.ProveJobsTotal.WithLabelValues(job.Mode.String(), status).Inc()
	}()

	if err := job.Validate(); err != nil {
		return domain.FulfillResult{}, err
	}

	var (
		program domain.Program
		stdin   domain.Stdin
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.artifacts.Download(gctx, domain.NewArtifact(job.ProgramArtifactID, "program"), &program)
	})
	g.Go(func() error {
		return s.artifacts.Download(gctx, domain.NewArtifact(job.InputArtifactID, "stdin"), &stdin)
	})
	if err := g.Wait(); err != nil {
		return domain.FulfillResult{}, fmt.Errorf("fetch inputs: %w", err)
	}
	logger.Info("inputs fetched", "program_size", len(program), "stdin_entries", len(stdin.Buffer))

	var proof domain.Proof
	start := time.Now()
	err = s.offloader.Do(ctx, func() error {
		p, err := s.prover.Prove(ctx, program, stdin, job.Mode)
		if err != nil {
			return err
		}
		proof = p
		return nil
	})
	if err != nil {
		return domain.FulfillResult{}, fmt.Errorf("compute: %w", err)
	}
	computeTime := time.Since(start)
	metrics.ComputeDuration.WithLabelValues(job.Mode.String()).Observe(computeTime.Seconds())
	logger.Info("proof computed", "duration_ms", computeTime.Milliseconds())

	if err := s.artifacts.Upload(ctx, domain.NewArtifact(job.OutputArtifactID, "proof"), proof); err != nil {
		return domain.FulfillResult{}, fmt.Errorf("store proof: %w", err)
	}

	result, err = s.source.Fulfill(ctx, job.ID)
	if err != nil {
		return domain.FulfillResult{}, fmt.Errorf("fulfill: %w", err)
	}
	span.SetAttributes(attribute.Int64("job.elapsed_seconds", int64(result.ElapsedSeconds)))
	logger.Info("job fulfilled", "elapsed_seconds", result.ElapsedSeconds)
	return result, nil
}
