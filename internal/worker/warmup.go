package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"distributed-prover/internal/domain"
)

// WarmUp runs the prover's one-off setup, if it has one, and only then
// reports health as SERVING. health may be nil. It blocks until setup ends;
// on failure health stays NOT_SERVING.
func WarmUp(ctx context.Context, prover domain.Prover, health *HealthServer, logger *slog.Logger) error {
	logger = logger.With("component", "warmup")
	if health != nil {
		health.SetServing(false)
	}

	if setupper, ok := prover.(domain.Setupper); ok {
		start := time.Now()
		if err := setupper.Setup(ctx); err != nil {
			logger.Error("prover setup failed, staying NOT_SERVING", "error", err)
			return fmt.Errorf("prover setup: %w", err)
		}
		logger.Info("prover setup complete", "duration_ms", time.Since(start).Milliseconds())
	}

	if health != nil {
		health.SetServing(true)
	}
	return nil
}
