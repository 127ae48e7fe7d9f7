package worker

import (
	"log/slog"
	"net"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthServer exposes the standard grpc.health.v1 service so that load
// balancers and orchestrators can check the worker over gRPC.
type HealthServer struct {
	server *grpc.Server
	health *health.Server
	logger *slog.Logger
}

func NewHealthServer(logger *slog.Logger) *HealthServer {
	s := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
	)
	h := health.NewServer()
	healthpb.RegisterHealthServer(s, h)
	return &HealthServer{
		server: s,
		health: h,
		logger: logger.With("component", "grpc-health"),
	}
}

// SetServing flips the overall serving status reported to health checkers.
func (s *HealthServer) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.logger.Info("health status changed", "status", status.String())
}

// Serve blocks serving on lis until Stop is called.
func (s *HealthServer) Serve(lis net.Listener) error {
	s.logger.Info("gRPC health server listening", "addr", lis.Addr().String())
	return s.server.Serve(lis)
}

// Stop marks the worker not serving and drains open streams.
func (s *HealthServer) Stop() {
	s.health.Shutdown()
	s.server.GracefulStop()
}
