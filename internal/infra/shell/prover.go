// Package shell runs an external prover binary.
package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"distributed-prover/internal/codec"
	"distributed-prover/internal/domain"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Environment variables handed to the prover process. Inputs and outputs
// are exchanged through files in a private scratch directory.
const (
	EnvMode         = "PROVER_MODE"
	EnvProgram      = "PROVER_PROGRAM"
	EnvStdin        = "PROVER_STDIN"
	EnvOutput       = "PROVER_OUTPUT"
	EnvPublicValues = "PROVER_PUBLIC_VALUES"
)

const maxStderr = 4096

type shellProver struct {
	command   string
	args      []string
	setupArgs []string
	logger    *slog.Logger
	tracer    trace.Tracer
}

// Option configures the shell prover.
type Option func(*shellProver)

// WithSetupArgs makes Setup run command with args once before the prover
// serves jobs. Without it Setup does nothing.
func WithSetupArgs(args []string) Option {
	return func(p *shellProver) {
		p.setupArgs = args
	}
}

// NewShellProver returns a prover that runs command with args. The process
// reads the program ELF from $PROVER_PROGRAM and the encoded stdin from
// $PROVER_STDIN, and must write the proof bytes to $PROVER_OUTPUT. Public
// values written to $PROVER_PUBLIC_VALUES are optional.
func NewShellProver(command string, args []string, logger *slog.Logger, opts ...Option) (domain.Prover, error) {
	if strings.TrimSpace(command) == "" {
		return nil, errors.New("prover command is required")
	}
	p := &shellProver{
		command: command,
		args:    args,
		logger:  logger.With("component", "shell-prover"),
		tracer:  otel.Tracer("distributed-prover-shell"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Setup runs the configured setup command to completion.
func (p *shellProver) Setup(ctx context.Context) error {
	if len(p.setupArgs) == 0 {
		return nil
	}
	ctx, span := p.tracer.Start(ctx, "prover.shell.Setup", trace.WithAttributes(
		attribute.String("prover.command", p.command),
	))
	defer span.End()

	cmd := exec.CommandContext(ctx, p.command, p.setupArgs...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	p.logger.Info("running prover setup", "command", p.command)
	start := time.Now()
	if err := cmd.Run(); err != nil {
		err = fmt.Errorf("prover setup failed: %w", err)
		if errOutput := strings.TrimSpace(tail(stderr.String(), maxStderr)); errOutput != "" {
			err = fmt.Errorf("%w: %s", err, errOutput)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "setup failed")
		return err
	}
	p.logger.Info("prover setup finished", "duration_ms", time.Since(start).Milliseconds())
	return nil
}

func (p *shellProver) Prove(ctx context.Context, program domain.Program, stdin domain.Stdin, mode domain.ProofMode) (domain.Proof, error) {
	ctx, span := p.tracer.Start(ctx, "prover.shell.Prove", trace.WithAttributes(
		attribute.String("prover.command", p.command),
		attribute.String("proof.mode", mode.String()),
		attribute.Int("program.size", len(program)),
	))
	defer span.End()

	fail := func(msg string, err error) (domain.Proof, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, msg)
		return domain.Proof{}, err
	}

	dir, err := os.MkdirTemp("", "prover-*")
	if err != nil {
		return fail("scratch dir failed", fmt.Errorf("failed to create scratch dir: %w", err))
	}
	defer os.RemoveAll(dir)

	stdinBytes, err := codec.Marshal(stdin)
	if err != nil {
		return fail("encode stdin failed", fmt.Errorf("failed to encode stdin: %w", err))
	}
	paths := map[string]string{
		EnvProgram:      filepath.Join(dir, "program.elf"),
		EnvStdin:        filepath.Join(dir, "stdin.cbor"),
		EnvOutput:       filepath.Join(dir, "proof.bin"),
		EnvPublicValues: filepath.Join(dir, "public_values.bin"),
	}
	if err := os.WriteFile(paths[EnvProgram], program, 0o600); err != nil {
		return fail("write program failed", fmt.Errorf("failed to write program: %w", err))
	}
	if err := os.WriteFile(paths[EnvStdin], stdinBytes, 0o600); err != nil {
		return fail("write stdin failed", fmt.Errorf("failed to write stdin: %w", err))
	}

	cmd := exec.CommandContext(ctx, p.command, p.args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), EnvMode+"="+mode.String())
	for name, path := range paths {
		cmd.Env = append(cmd.Env, name+"="+path)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	p.logger.Info("running prover", "command", p.command, "mode", mode.String())
	start := time.Now()
	if err := cmd.Run(); err != nil {
		errOutput := strings.TrimSpace(tail(stderr.String(), maxStderr))
		if errOutput != "" {
			span.SetAttributes(attribute.String("shell.stderr", errOutput))
			return fail("prover failed", fmt.Errorf("prover command failed: %w: %s", err, errOutput))
		}
		return fail("prover failed", fmt.Errorf("prover command failed: %w", err))
	}

	proofBytes, err := os.ReadFile(paths[EnvOutput])
	if err != nil {
		return fail("read proof failed", fmt.Errorf("prover produced no proof: %w", err))
	}
	publicValues, err := os.ReadFile(paths[EnvPublicValues])
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fail("read public values failed", fmt.Errorf("failed to read public values: %w", err))
	}

	p.logger.Info("prover finished", "mode", mode.String(), "proof_size", len(proofBytes), "duration_ms", time.Since(start).Milliseconds())
	return domain.Proof{Mode: mode, Bytes: proofBytes, PublicValues: publicValues}, nil
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
