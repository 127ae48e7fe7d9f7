package coordinator

import (
	"context"
	"log/slog"
	"time"

	"distributed-prover/internal/domain"
	"distributed-prover/internal/metrics"
)

const campaignRetryDelay = 5 * time.Second

// Loop is the work a coordinator does while it leads.
type Loop interface {
	Run(ctx context.Context) error
}

// Service runs the dispatch loop only while this node holds leadership, so
// that several coordinators can share one job source. With no election
// manager the loop runs unconditionally.
type Service struct {
	leader     domain.LeaderElectionManager
	loop       Loop
	nodeID     string
	retryDelay time.Duration
	logger     *slog.Logger
}

func NewService(leader domain.LeaderElectionManager, loop Loop, nodeID string, logger *slog.Logger) *Service {
	return &Service{
		leader:     leader,
		loop:       loop,
		nodeID:     nodeID,
		retryDelay: campaignRetryDelay,
		logger:     logger.With("component", "coordinator-service", "node_id", nodeID),
	}
}

// Start blocks until ctx is cancelled.
func (s *Service) Start(ctx context.Context) error {
	if s.leader == nil {
		s.logger.Info("no leader election configured, running dispatch loop directly")
		return s.loop.Run(ctx)
	}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.logger.Info("attempting to campaign for leadership")
		lost, err := s.leader.Campaign(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Error("leadership campaign failed, retrying", "error", err, "retry_in", s.retryDelay.String())
			if err := sleepContext(ctx, s.retryDelay); err != nil {
				return err
			}
			continue
		}

		s.logger.Info("became the leader, starting dispatch loop")
		if err := s.lead(ctx, lost); err != nil {
			return err
		}
		s.logger.Warn("leadership lost, stopping dispatch loop")
	}
}

// lead runs the loop until leadership is lost (returns nil) or ctx ends
// (resigns and returns ctx.Err()).
func (s *Service) lead(ctx context.Context, lost <-chan struct{}) error {
	leaderGauge := metrics.IsLeader.WithLabelValues(s.nodeID)
	leaderGauge.Set(1)
	defer leaderGauge.Set(0)

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.loop.Run(loopCtx)
	}()

	select {
	case <-lost:
		cancel()
		<-done
		return nil
	case <-ctx.Done():
		cancel()
		<-done
		resignCtx, resignCancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
		defer resignCancel()
		if err := s.leader.Resign(resignCtx); err != nil {
			s.logger.Error("failed to resign leadership", "error", err)
		}
		return ctx.Err()
	}
}
