// cmd/jobctl/main.go
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"distributed-prover/internal/budget"
	"distributed-prover/internal/config"
	"distributed-prover/internal/domain"
	"distributed-prover/internal/infra/etcd"
	minio_infra "distributed-prover/internal/infra/minio"
	"distributed-prover/internal/transfer"

	"github.com/google/uuid"
	"github.com/spf13/pflag"
)

const usage = `usage: jobctl <command> [flags]

commands:
  submit  upload a program and its stdin, then register a requested job
  list    print the jobs known to the etcd job source
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	var err error
	switch os.Args[1] {
	case "submit":
		err = runSubmit(ctx, os.Args[2:], os.Stdout, logger)
	case "list":
		err = runList(ctx, os.Args[2:], os.Stdout, logger)
	case "-h", "--help", "help":
		fmt.Fprint(os.Stdout, usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "jobctl %s: %v\n", os.Args[1], err)
		os.Exit(1)
	}
}

func loadConfig(fs *pflag.FlagSet) (*config.Config, error) {
	cfg, err := config.Load(fs)
	if err != nil {
		return nil, err
	}
	if err := cfg.ValidateJobctl(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runSubmit(ctx context.Context, args []string, out io.Writer, logger *slog.Logger) error {
	fs := pflag.NewFlagSet("submit", pflag.ContinueOnError)
	config.AddFlags(fs)
	programPath := fs.String("program", "", "path to the guest program ELF")
	stdinPath := fs.String("stdin", "", "path to a file written to the guest as a single stdin entry")
	modeName := fs.String("mode", "core", "proof mode: core, compressed, plonk or groth16")
	jobID := fs.String("id", "", "job id (default: a random UUID)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *programPath == "" {
		return fmt.Errorf("--program is required")
	}

	mode, err := domain.ParseProofMode(*modeName)
	if err != nil {
		return err
	}
	if mode == domain.ProofModeUnspecified {
		return domain.ErrUnspecifiedMode
	}

	program, err := os.ReadFile(*programPath)
	if err != nil {
		return fmt.Errorf("read program: %w", err)
	}
	var stdin domain.Stdin
	if *stdinPath != "" {
		data, err := os.ReadFile(*stdinPath)
		if err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
		if len(data) > 0 {
			stdin.Buffer = [][]byte{data}
		}
	}

	cfg, err := loadConfig(fs)
	if err != nil {
		return err
	}

	engine, err := newEngine(ctx, cfg, logger)
	if err != nil {
		return err
	}

	job := domain.Job{
		ID:                *jobID,
		Mode:              mode,
		ProgramArtifactID: uuid.New().String(),
		InputArtifactID:   uuid.New().String(),
		OutputArtifactID:  uuid.New().String(),
	}
	if job.ID == "" {
		job.ID = uuid.New().String()
	}

	if err := engine.Upload(ctx, domain.NewArtifact(job.ProgramArtifactID, "program"), domain.Program(program)); err != nil {
		return fmt.Errorf("upload program: %w", err)
	}
	if err := engine.Upload(ctx, domain.NewArtifact(job.InputArtifactID, "stdin"), stdin); err != nil {
		return fmt.Errorf("upload stdin: %w", err)
	}

	client, err := etcd.NewClient(cfg.EtcdEndpoints, cfg.EtcdTimeout)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := etcd.NewEtcdJobSource(client, logger).Submit(ctx, job); err != nil {
		return err
	}
	fmt.Fprintf(out, "submitted job %s (mode=%s output=%s)\n", job.ID, job.Mode, job.OutputArtifactID)
	return nil
}

func runList(ctx context.Context, args []string, out io.Writer, logger *slog.Logger) error {
	fs := pflag.NewFlagSet("list", pflag.ContinueOnError)
	config.AddFlags(fs)
	statusName := fs.String("status", "", "only show jobs in this status: requested, claimed or fulfilled")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var status domain.JobStatus
	if *statusName != "" {
		s, err := domain.ParseJobStatus(*statusName)
		if err != nil {
			return err
		}
		status = s
	}

	cfg, err := loadConfig(fs)
	if err != nil {
		return err
	}
	client, err := etcd.NewClient(cfg.EtcdEndpoints, cfg.EtcdTimeout)
	if err != nil {
		return err
	}
	defer client.Close()

	records, err := etcd.NewEtcdJobSource(client, logger).List(ctx, status)
	if err != nil {
		return err
	}
	return printRecords(out, records)
}

func printRecords(out io.Writer, records []etcd.JobRecord) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tMODE\tREQUESTED\tCLAIMED\tFULFILLED\tOUTPUT")
	for _, r := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.Status, r.Mode,
			r.RequestedAt.Format(time.RFC3339), formatTime(r.ClaimedAt), formatTime(r.FulfilledAt),
			r.OutputArtifactID)
	}
	return tw.Flush()
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format(time.RFC3339)
}

func newEngine(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*transfer.Engine, error) {
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
		return nil, err
	}
	if err := minio_infra.EnsureBucket(ctx, core, storeCfg); err != nil {
		return nil, err
	}
	store, err := minio_infra.NewBlobStore(core, cfg.S3Bucket)
	if err != nil {
		return nil, err
	}
	b, err := budget.New(cfg.S3Concurrency)
	if err != nil {
		return nil, err
	}
	strategy, err := transfer.ParseLaneStrategy(cfg.TransferLaneStrategy)
	if err != nil {
		return nil, err
	}
	return transfer.NewEngine(store, b, logger, transfer.WithLaneStrategy(strategy)), nil
}
