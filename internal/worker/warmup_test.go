package worker

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"distributed-prover/internal/domain"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"
)

type setupProver struct {
	release chan struct{}
	err     error
}

func (p *setupProver) Prove(ctx context.Context, program domain.Program, stdin domain.Stdin, mode domain.ProofMode) (domain.Proof, error) {
	return domain.Proof{Mode: mode}, nil
}

func (p *setupProver) Setup(ctx context.Context) error {
	select {
	case <-p.release:
		return p.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

type plainProver struct{}

func (plainProver) Prove(ctx context.Context, program domain.Program, stdin domain.Stdin, mode domain.ProofMode) (domain.Proof, error) {
	return domain.Proof{Mode: mode}, nil
}

func startHealth(t *testing.T) (*HealthServer, func() healthpb.HealthCheckResponse_ServingStatus) {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := NewHealthServer(testLogger())
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("grpc.NewClient() err=%v", err)
	}
	t.Cleanup(func() { conn.Close() })
	client := healthpb.NewHealthClient(conn)

	return srv, func() healthpb.HealthCheckResponse_ServingStatus {
		t.Helper()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{})
		if err != nil {
			t.Fatalf("Check() err=%v", err)
		}
		return resp.GetStatus()
	}
}

func TestWarmUp_NotServingUntilSetupCompletes(t *testing.T) {
	srv, check := startHealth(t)
	prover := &setupProver{release: make(chan struct{})}

	done := make(chan error, 1)
	go func() { done <- WarmUp(context.Background(), prover, srv, testLogger()) }()

	// Give WarmUp time to mark the server not serving.
	time.Sleep(50 * time.Millisecond)
	if got := check(); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("Check()=%s during setup, want NOT_SERVING", got)
	}

	close(prover.release)
	if err := <-done; err != nil {
		t.Fatalf("WarmUp() err=%v", err)
	}
	if got := check(); got != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("Check()=%s after setup, want SERVING", got)
	}
}

func TestWarmUp_SetupFailureStaysNotServing(t *testing.T) {
	srv, check := startHealth(t)
	srv.SetServing(true)
	setupErr := errors.New("keys unavailable")
	prover := &setupProver{release: make(chan struct{}), err: setupErr}
	close(prover.release)

	if err := WarmUp(context.Background(), prover, srv, testLogger()); !errors.Is(err, setupErr) {
		t.Fatalf("WarmUp()=%v, want %v", err, setupErr)
	}
	if got := check(); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("Check()=%s, want NOT_SERVING", got)
	}
}

func TestWarmUp_ProverWithoutSetup(t *testing.T) {
	srv, check := startHealth(t)
	if err := WarmUp(context.Background(), plainProver{}, srv, testLogger()); err != nil {
		t.Fatalf("WarmUp() err=%v", err)
	}
	if got := check(); got != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("Check()=%s, want SERVING", got)
	}
}

func TestWarmUp_NilHealthServer(t *testing.T) {
	prover := &setupProver{release: make(chan struct{})}
	close(prover.release)
	if err := WarmUp(context.Background(), prover, nil, testLogger()); err != nil {
		t.Fatalf("WarmUp() err=%v", err)
	}
}
