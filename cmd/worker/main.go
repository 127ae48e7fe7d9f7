// cmd/worker/main.go
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	http_api "distributed-prover/internal/api/http"
	"distributed-prover/internal/budget"
	"distributed-prover/internal/config"
	"distributed-prover/internal/domain"
	"distributed-prover/internal/infra/etcd"
	http_infra "distributed-prover/internal/infra/http"
	minio_infra "distributed-prover/internal/infra/minio"
	shell_infra "distributed-prover/internal/infra/shell"
	"distributed-prover/internal/scheduler"
	"distributed-prover/internal/tracing"
	"distributed-prover/internal/transfer"
	"distributed-prover/internal/usecase"
	"distributed-prover/internal/worker"

	"github.com/google/uuid"
	"github.com/spf13/pflag"
)

func main() {
	// 1. Init logger, flags and config
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	flags := pflag.NewFlagSet("worker", pflag.ExitOnError)
	config.AddFlags(flags)
	_ = flags.Parse(os.Args[1:])

	cfg, err := config.Load(flags)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.ValidateWorker(); err != nil {
		log.Fatalf("%v", err)
	}

	workerID := uuid.New().String()
	listenAddr := fmt.Sprintf(":%d", cfg.ServerPort)
	log.Printf("Starting worker node %s, listening on %s", workerID, listenAddr)

	tracerShutdown, err := tracing.InitTracer("distributed-prover-worker", workerID, os.Stderr)
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

	// 3. Blob store, concurrency budget and transfer engine
	storeCfg := minio_infra.Config{
		Endpoint:  cfg.S3Endpoint,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
		Region:    cfg.S3Region,
		UseSSL:    cfg.S3UseSSL,
		Bucket:    cfg.S3Bucket,
	}
	core, err := minio_infra.NewCore(storeCfg)
	if err != nil {
		log.Fatalf("Failed to create object store client: %v", err)
	}
	bucketCtx, bucketCancel := context.WithTimeout(rootCtx, 10*time.Second)
	if err := minio_infra.EnsureBucket(bucketCtx, core, storeCfg); err != nil {
		log.Fatalf("Failed to prepare bucket: %v", err)
	}
	bucketCancel()
	blobStore, err := minio_infra.NewBlobStore(core, cfg.S3Bucket)
	if err != nil {
		log.Fatalf("Failed to create blob store: %v", err)
	}

	transferBudget, err := budget.New(cfg.S3Concurrency)
	if err != nil {
		log.Fatalf("Invalid transfer concurrency: %v", err)
	}
	strategy, err := transfer.ParseLaneStrategy(cfg.TransferLaneStrategy)
	if err != nil {
		log.Fatalf("Invalid lane strategy: %v", err)
	}
	engine := transfer.NewEngine(blobStore, transferBudget, logger, transfer.WithLaneStrategy(strategy))

	// 4. Job source
	var source domain.JobSource
	switch cfg.JobSourceKind {
	case config.JobSourceEtcd:
		etcdClient, err := etcd.NewClient(cfg.EtcdEndpoints, cfg.EtcdTimeout)
		if err != nil {
			log.Fatalf("Failed to create etcd client: %v", err)
		}
		defer etcdClient.Close()
		log.Println("Connected to etcd.")
		source = etcd.NewEtcdJobSource(etcdClient, logger)
	case config.JobSourceHTTP:
		source, err = http_infra.NewHttpJobSource(cfg.JobSourceURL, cfg.JobSourceToken, nil, logger)
		if err != nil {
			log.Fatalf("Failed to create job source client: %v", err)
		}
	}

	// 5. Prover behind the offload pool, and the proving pipeline
	prover, err := shell_infra.NewShellProver(cfg.ProverCommand, cfg.ProverArgs, logger, shell_infra.WithSetupArgs(cfg.ProverSetupArgs))
	if err != nil {
		log.Fatalf("Failed to create prover: %v", err)
	}
	offloader, err := worker.NewOffloader(cfg.ComputeSlots, logger)
	if err != nil {
		log.Fatalf("Failed to create offloader: %v", err)
	}
	defer offloader.Close()

	proveService := usecase.NewProveService(engine, offloader, prover, source, logger)
	proveHandler := http_api.NewProveHandler(proveService, logger)

	mux := http.NewServeMux()
	proveHandler.RegisterRoutes(mux)

	// 6. Stale multipart janitor
	if cfg.JanitorSchedule != "" {
		janitor, err := scheduler.NewJanitor(blobStore, cfg.JanitorSchedule, cfg.JanitorMaxAge, logger)
		if err != nil {
			log.Fatalf("Failed to create janitor: %v", err)
		}
		go janitor.Start(rootCtx)
	}

	// 7. Optional gRPC health endpoint
	var healthServer *worker.HealthServer
	if cfg.GRPCHealthAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCHealthAddr)
		if err != nil {
			log.Fatalf("Failed to listen for gRPC health: %v", err)
		}
		healthServer = worker.NewHealthServer(logger)
		healthServer.SetServing(false)
		go func() {
			if err := healthServer.Serve(lis); err != nil {
				log.Fatalf("gRPC health server failed: %v", err)
			}
		}()
	}

	// Prover setup runs in the background; the job endpoint is up meanwhile.
	go func() {
		if err := worker.WarmUp(rootCtx, prover, healthServer, logger); err != nil {
			log.Printf("Prover warm-up failed: %v", err)
		}
	}()

	// 8. Start the job endpoint
	server := &http.Server{
		Addr:              listenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	// 9. Block until shutdown signal
	<-rootCtx.Done()
	log.Println("Shutting down worker node gracefully...")

	if healthServer != nil {
		healthServer.Stop()
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown failed: %v", err)
	}

	log.Println("Worker node shut down.")
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
