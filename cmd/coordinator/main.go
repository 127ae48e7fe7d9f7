// cmd/coordinator/main.go
package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"distributed-prover/internal/config"
	"distributed-prover/internal/coordinator"
	"distributed-prover/internal/domain"
	"distributed-prover/internal/infra/etcd"
	http_infra "distributed-prover/internal/infra/http"
	"distributed-prover/internal/tracing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
)

func main() {
	// 1. Init logger, flags and config
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	flags := pflag.NewFlagSet("coordinator", pflag.ExitOnError)
	config.AddFlags(flags)
	_ = flags.Parse(os.Args[1:])

	cfg, err := config.Load(flags)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.ValidateCoordinator(); err != nil {
		log.Fatalf("%v", err)
	}
	defaultMode, err := domain.ParseProofMode(cfg.DefaultMode)
	if err != nil {
		log.Fatalf("Invalid default mode: %v", err)
	}

	nodeID := uuid.New().String()
	log.Printf("Starting coordinator node %s, dispatching to %s", nodeID, cfg.WorkerNodeEndpoint)

	tracerShutdown, err := tracing.InitTracer("distributed-prover-coordinator", nodeID, os.Stderr)
	if err != nil {
		log.Fatalf("failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := tracerShutdown(context.Background()); err != nil {
			log.Printf("failed to shutdown tracer: %v", err)
		}
	}()

	// 2. Create root context for lifecycle management
	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	setupGracefulShutdown(cancel)

	// 3. Job source and, for etcd, leader election
	var (
		source domain.JobSource
		leader domain.LeaderElectionManager
	)
	switch cfg.JobSourceKind {
	case config.JobSourceEtcd:
		etcdClient, err := etcd.NewClient(cfg.EtcdEndpoints, cfg.EtcdTimeout)
		if err != nil {
			log.Fatalf("Failed to create etcd client: %v", err)
		}
		defer etcdClient.Close()
		log.Println("Connected to etcd.")
		source = etcd.NewEtcdJobSource(etcdClient, logger)
		leader = etcd.NewEtcdLeaderElectionManager(etcdClient, nodeID, cfg.LeaderElectionTTL, logger)
	case config.JobSourceHTTP:
		source, err = http_infra.NewHttpJobSource(cfg.JobSourceURL, cfg.JobSourceToken, nil, logger)
		if err != nil {
			log.Fatalf("Failed to create job source client: %v", err)
		}
	}

	// 4. Worker client and dispatch loop
	workerClient, err := http_infra.NewWorkerClient(cfg.WorkerNodeEndpoint, cfg.DispatchTimeout, logger)
	if err != nil {
		log.Fatalf("Failed to create worker client: %v", err)
	}
	dispatcher := coordinator.NewDispatcher(source, workerClient, defaultMode, cfg.PollInterval, logger)
	service := coordinator.NewService(leader, dispatcher, nodeID, logger)

	// 5. Metrics endpoint
	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			log.Printf("Serving metrics on %s", cfg.MetricsAddr)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("Metrics server failed: %v", err)
			}
		}()
	}

	// 6. Run until shutdown
	if err := service.Start(rootCtx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("coordinator service stopped with error", "error", err)
	}
	log.Println("Shutting down coordinator gracefully...")

	if metricsServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("Metrics server shutdown failed: %v", err)
		}
	}
	log.Println("Coordinator shut down.")
}

func setupGracefulShutdown(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Printf("Received signal %v. Initiating graceful shutdown...", sig)
		cancel()
	}()
}
