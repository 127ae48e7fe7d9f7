// Package coordinator runs the dispatch loop that moves requested jobs from
// the job source to a worker.
package coordinator

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
)

// DefaultPollInterval is the fixed delay between cycles.
const DefaultPollInterval = time.Second

// CycleResult describes what one dispatch cycle did.
type CycleResult struct {
	// JobID is empty when there was nothing to dispatch.
	JobID    string
	Response string
}

// Dispatcher claims at most one job per cycle and hands it to the worker.
type Dispatcher struct {
	source      domain.JobSource
	worker      domain.Dispatcher
	defaultMode domain.ProofMode
	interval    time.Duration
	wait        func(ctx context.Context, d time.Duration) error
	logger      *slog.Logger
	tracer      trace.Tracer
}

// NewDispatcher creates the loop. defaultMode is used when a listed job
// carries no mode; interval is the pause after every cycle.
func NewDispatcher(source domain.JobSource, worker domain.Dispatcher, defaultMode domain.ProofMode, interval time.Duration, logger *slog.Logger) *Dispatcher {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Dispatcher{
		source:      source,
		worker:      worker,
		defaultMode: defaultMode,
		interval:    interval,
		wait:        sleepContext,
		logger:      logger.With("component", "dispatcher"),
		tracer:      otel.Tracer("distributed-prover-coordinator"),
	}
}

// Run repeats RunCycle until ctx is cancelled. Cycle errors are logged and
// never end the loop.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Info("dispatch loop started", "interval", d.interval.String())
	for {
		res, err := d.RunCycle(ctx)
		switch {
		case err != nil && ctx.Err() != nil:
			// Shutting down; the cycle was cut short.
		case err != nil:
			metrics.DispatchCyclesTotal.WithLabelValues("error").Inc()
			d.logger.Error("dispatch cycle failed", "job_id", res.JobID, "error", err)
		case res.JobID == "":
			metrics.DispatchCyclesTotal.WithLabelValues("idle").Inc()
		default:
			metrics.DispatchCyclesTotal.WithLabelValues("dispatched").Inc()
			d.logger.Info("job proved", "job_id", res.JobID, "elapsed_seconds", res.Response)
		}

		if err := d.wait(ctx, d.interval); err != nil {
			d.logger.Info("dispatch loop stopped")
			return ctx.Err()
		}
	}
}

// RunCycle lists requested jobs, claims the first one and dispatches it to
// the worker, returning the worker's response body. An empty listing is not
// an error. A failed dispatch is not retried and the claim is not released.
func (d *Dispatcher) RunCycle(ctx context.Context) (res CycleResult, err error) {
	ctx, span := d.tracer.Start(ctx, "coordinator.RunCycle")
	defer span.End()
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "dispatch cycle failed")
		}
	}()

	pending, err := d.source.ListPending(ctx, domain.JobStatusRequested)
	if err != nil {
		return CycleResult{}, fmt.Errorf("list requested jobs: %w", err)
	}
	span.SetAttributes(attribute.Int("jobs.pending", len(pending)))
	if len(pending) == 0 {
		return CycleResult{}, nil
	}

	summary := pending[0]
	res.JobID = summary.ID
	span.SetAttributes(attribute.String("job.id", summary.ID))

	claim, err := d.source.Claim(ctx, summary.ID)
	if err != nil {
		return res, fmt.Errorf("claim job %s: %w", summary.ID, err)
	}

	mode := summary.Mode
	if mode == domain.ProofModeUnspecified {
		mode = d.defaultMode
	}
	job := &domain.Job{
		ID:                summary.ID,
		Mode:              mode,
		ProgramArtifactID: claim.ProgramArtifactID,
		InputArtifactID:   claim.InputArtifactID,
		OutputArtifactID:  claim.OutputArtifactID,
	}
	d.logger.Info("dispatching job", "job_id", job.ID, "mode", job.Mode.String())

	res.Response, err = d.worker.Dispatch(ctx, job)
	if err != nil {
		return res, fmt.Errorf("dispatch job %s: %w", job.ID, err)
	}
	return res, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
