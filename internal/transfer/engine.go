// Package transfer moves encoded artifacts between memory and the blob store
// using ranged reads and multipart uploads, split into chunks and spread over
// lanes that each hold one permit of the shared concurrency budget.
package transfer

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"distributed-prover/internal/budget"
	"distributed-prover/internal/codec"
	"distributed-prover/internal/domain"
	"distributed-prover/internal/metrics"

	"github.com/zeebo/blake3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// ErrIntegrity is returned when downloaded bytes do not match the digest
// recorded at upload time.
var ErrIntegrity = errors.New("artifact digest mismatch")

const abortTimeout = 30 * time.Second

// Engine performs chunked artifact transfers.
type Engine struct {
	store     BlobStore
	budget    *budget.Budget
	chunkSize int64
	strategy  LaneStrategy
	logger    *slog.Logger
	tracer    trace.Tracer
}

// Option customizes an Engine.
type Option func(*Engine)

// WithChunkSize overrides DefaultChunkSize.
func WithChunkSize(size int64) Option {
	return func(e *Engine) {
		if size > 0 {
			e.chunkSize = size
		}
	}
}

// WithLaneStrategy overrides LaneStrategyContiguous.
func WithLaneStrategy(strategy LaneStrategy) Option {
	return func(e *Engine) {
		if strategy != "" {
			e.strategy = strategy
		}
	}
}

// NewEngine creates a transfer engine over store, bounded by b.
func NewEngine(store BlobStore, b *budget.Budget, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		store:     store,
		budget:    b,
		chunkSize: DefaultChunkSize,
		strategy:  LaneStrategyContiguous,
		logger:    logger.With("component", "transfer-engine"),
		tracer:    otel.Tracer("distributed-prover-transfer"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Download fetches the artifact and decodes it into out.
func (e *Engine) Download(ctx context.Context, artifact domain.Artifact, out any) error {
	data, err := e.DownloadBytes(ctx, artifact)
	if err != nil {
		return err
	}
	if err := codec.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s artifact %s: %w", artifact.Label, artifact.ID, err)
	}
	return nil
}

// DownloadBytes fetches the encoded bytes of an artifact without decoding.
func (e *Engine) DownloadBytes(ctx context.Context, artifact domain.Artifact) ([]byte, error) {
	ctx, span := e.tracer.Start(ctx, "transfer.Download", trace.WithAttributes(
		attribute.String("artifact.id", artifact.ID),
		attribute.String("artifact.label", artifact.Label),
	))
	defer span.End()

	start := time.Now()
	key := artifact.Key()

	info, err := e.store.Stat(ctx, key)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "stat failed")
		return nil, fmt.Errorf("stat artifact %s: %w", artifact.ID, err)
	}

	buf := make([]byte, info.Size)
	chunks := PlanChunks(info.Size, e.chunkSize)
	lanes := PlanLanes(len(chunks), e.budget.Capacity(), e.strategy)
	span.SetAttributes(
		attribute.Int64("artifact.size", info.Size),
		attribute.Int("transfer.chunks", len(chunks)),
		attribute.Int("transfer.lanes", len(lanes)),
	)

	err = e.runLanes(ctx, lanes, func(ctx context.Context, i int) error {
		c := chunks[i]
		// Chunks are disjoint, so lanes write into buf without locking.
		return e.readChunk(ctx, key, c, buf[c.Offset:c.Offset+c.Length])
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "chunk download failed")
		return nil, fmt.Errorf("download artifact %s: %w", artifact.ID, err)
	}

	if want, ok := info.Metadata(DigestMetadataKey); ok {
		if got := digest(buf); got != want {
			err := fmt.Errorf("%w: artifact %s has %s, recorded %s", ErrIntegrity, artifact.ID, got, want)
			span.RecordError(err)
			span.SetStatus(codes.Error, "digest mismatch")
			return nil, err
		}
	}

	metrics.TransferBytesTotal.WithLabelValues("download").Add(float64(info.Size))
	metrics.TransferChunksTotal.WithLabelValues("download").Add(float64(len(chunks)))
	e.logger.Info("artifact downloaded",
		"artifact_id", artifact.ID,
		"label", artifact.Label,
		"size", info.Size,
		"chunks", len(chunks),
		"lanes", len(lanes),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return buf, nil
}

func (e *Engine) readChunk(ctx context.Context, key string, c Chunk, dst []byte) error {
	body, err := e.store.GetRange(ctx, key, c.Offset, c.Length)
	if err != nil {
		return fmt.Errorf("get range %d-%d: %w", c.Offset, c.Offset+c.Length-1, err)
	}
	defer body.Close()

	if _, err := io.ReadFull(body, dst); err != nil {
		return fmt.Errorf("read range %d-%d: %w", c.Offset, c.Offset+c.Length-1, err)
	}
	if n, _ := io.CopyN(io.Discard, body, 1); n > 0 {
		return fmt.Errorf("range %d-%d returned more than %d bytes", c.Offset, c.Offset+c.Length-1, c.Length)
	}
	return nil
}

// Upload encodes v once and stores it under the artifact's key.
func (e *Engine) Upload(ctx context.Context, artifact domain.Artifact, v any) error {
	data, err := codec.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s artifact %s: %w", artifact.Label, artifact.ID, err)
	}
	return e.UploadBytes(ctx, artifact, data)
}

// UploadBytes stores already-encoded bytes through a multipart session. The
// session is aborted if any step after its creation fails.
func (e *Engine) UploadBytes(ctx context.Context, artifact domain.Artifact, data []byte) (err error) {
	ctx, span := e.tracer.Start(ctx, "transfer.Upload", trace.WithAttributes(
		attribute.String("artifact.id", artifact.ID),
		attribute.String("artifact.label", artifact.Label),
		attribute.Int("artifact.size", len(data)),
	))
	defer span.End()

	start := time.Now()
	key := artifact.Key()

	uploadID, err := e.store.CreateMultipartUpload(ctx, key, map[string]string{
		DigestMetadataKey: digest(data),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create multipart upload failed")
		return fmt.Errorf("create multipart upload for artifact %s: %w", artifact.ID, err)
	}

	defer func() {
		if err == nil {
			return
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "upload failed")
		abortCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), abortTimeout)
		defer cancel()
		if abortErr := e.store.AbortMultipartUpload(abortCtx, key, uploadID); abortErr != nil {
			e.logger.Error("failed to abort multipart upload", "artifact_id", artifact.ID, "upload_id", uploadID, "error", abortErr)
			return
		}
		metrics.MultipartAbortedTotal.WithLabelValues("failure").Inc()
		e.logger.Warn("aborted multipart upload", "artifact_id", artifact.ID, "upload_id", uploadID)
	}()

	chunks := PlanChunks(int64(len(data)), e.chunkSize)
	if len(chunks) == 0 {
		// Multipart needs at least one part, even for empty content.
		chunks = []Chunk{{Index: 0}}
	}
	lanes := PlanLanes(len(chunks), e.budget.Capacity(), e.strategy)
	span.SetAttributes(
		attribute.Int("transfer.chunks", len(chunks)),
		attribute.Int("transfer.lanes", len(lanes)),
	)

	parts := make([]Part, len(chunks))
	err = e.runLanes(ctx, lanes, func(ctx context.Context, i int) error {
		c := chunks[i]
		part, err := e.store.UploadPart(ctx, key, uploadID, c.PartNumber(), data[c.Offset:c.Offset+c.Length])
		if err != nil {
			return fmt.Errorf("upload part %d: %w", c.PartNumber(), err)
		}
		if part.ETag == "" {
			return fmt.Errorf("upload part %d: empty etag", c.PartNumber())
		}
		parts[i] = Part{Number: c.PartNumber(), ETag: part.ETag}
		return nil
	})
	if err != nil {
		return fmt.Errorf("upload artifact %s: %w", artifact.ID, err)
	}

	sort.Slice(parts, func(i, j int) bool { return parts[i].Number < parts[j].Number })
	if err = e.store.CompleteMultipartUpload(ctx, key, uploadID, parts); err != nil {
		return fmt.Errorf("complete multipart upload for artifact %s: %w", artifact.ID, err)
	}

	metrics.TransferBytesTotal.WithLabelValues("upload").Add(float64(len(data)))
	metrics.TransferChunksTotal.WithLabelValues("upload").Add(float64(len(chunks)))
	e.logger.Info("artifact uploaded",
		"artifact_id", artifact.ID,
		"label", artifact.Label,
		"size", len(data),
		"parts", len(parts),
		"lanes", len(lanes),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// runLanes runs every lane concurrently. A lane holds one budget permit for
// its whole run and processes its chunks in order. The first error cancels
// the remaining lanes.
func (e *Engine) runLanes(ctx context.Context, lanes [][]int, fn func(ctx context.Context, chunk int) error) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, lane := range lanes {
		g.Go(func() error {
			if err := e.budget.Acquire(gctx); err != nil {
				return err
			}
			defer e.budget.Release()
			for _, chunk := range lane {
				if err := fn(gctx, chunk); err != nil {
					return err
				}
			}
			return nil
		})
	}
	return g.Wait()
}

func digest(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}
