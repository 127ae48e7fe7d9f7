package minio

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"distributed-prover/internal/transfer"

	"github.com/minio/minio-go/v7"
)

// BlobStore implements transfer.BlobStore on a single bucket.
type BlobStore struct {
	core   *minio.Core
	bucket string
}

var _ transfer.BlobStore = (*BlobStore)(nil)

func NewBlobStore(core *minio.Core, bucket string) (*BlobStore, error) {
	if core == nil {
		return nil, fmt.Errorf("minio client is required")
	}
	if bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}
	return &BlobStore{core: core, bucket: bucket}, nil
}

func (s *BlobStore) Stat(ctx context.Context, key string) (transfer.ObjectInfo, error) {
	info, err := s.core.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return transfer.ObjectInfo{}, mapError(key, err)
	}
	return transfer.ObjectInfo{
		Size:         info.Size,
		ETag:         info.ETag,
		UserMetadata: info.UserMetadata,
	}, nil
}

func (s *BlobStore) GetRange(ctx context.Context, key string, offset, length int64) (io.ReadCloser, error) {
	if length <= 0 {
		return nil, fmt.Errorf("get %s: invalid range length %d", key, length)
	}
	opts := minio.GetObjectOptions{}
	if err := opts.SetRange(offset, offset+length-1); err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	body, _, _, err := s.core.GetObject(ctx, s.bucket, key, opts)
	if err != nil {
		return nil, mapError(key, err)
	}
	return body, nil
}

func (s *BlobStore) CreateMultipartUpload(ctx context.Context, key string, metadata map[string]string) (string, error) {
	uploadID, err := s.core.NewMultipartUpload(ctx, s.bucket, key, minio.PutObjectOptions{
		UserMetadata: metadata,
		ContentType:  "application/cbor",
	})
	if err != nil {
		return "", mapError(key, err)
	}
	return uploadID, nil
}

func (s *BlobStore) UploadPart(ctx context.Context, key, uploadID string, partNumber int, data []byte) (transfer.Part, error) {
	part, err := s.core.PutObjectPart(ctx, s.bucket, key, uploadID, partNumber,
		bytes.NewReader(data), int64(len(data)), minio.PutObjectPartOptions{})
	if err != nil {
		return transfer.Part{}, mapError(key, err)
	}
	return transfer.Part{Number: part.PartNumber, ETag: part.ETag}, nil
}

func (s *BlobStore) CompleteMultipartUpload(ctx context.Context, key, uploadID string, parts []transfer.Part) error {
	_, err := s.core.CompleteMultipartUpload(ctx, s.bucket, key, uploadID, completeParts(parts), minio.PutObjectOptions{})
	if err != nil {
		return mapError(key, err)
	}
	return nil
}

func (s *BlobStore) AbortMultipartUpload(ctx context.Context, key, uploadID string) error {
	if err := s.core.AbortMultipartUpload(ctx, s.bucket, key, uploadID); err != nil {
		return mapError(key, err)
	}
	return nil
}

// ListIncompleteUploads lists multipart sessions under prefix that were never
// completed or aborted.
func (s *BlobStore) ListIncompleteUploads(ctx context.Context, prefix string) ([]transfer.IncompleteUpload, error) {
	var out []transfer.IncompleteUpload
	for info := range s.core.ListIncompleteUploads(ctx, s.bucket, prefix, true) {
		if info.Err != nil {
			return nil, fmt.Errorf("list incomplete uploads under %s: %w", prefix, info.Err)
		}
		out = append(out, transfer.IncompleteUpload{
			Key:       info.Key,
			UploadID:  info.UploadID,
			Initiated: info.Initiated,
		})
	}
	return out, nil
}

func completeParts(parts []transfer.Part) []minio.CompletePart {
	out := make([]minio.CompletePart, len(parts))
	for i, p := range parts {
		out[i] = minio.CompletePart{PartNumber: p.Number, ETag: p.ETag}
	}
	return out
}

func mapError(key string, err error) error {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchUpload":
		return fmt.Errorf("%s: %w: %v", key, transfer.ErrObjectNotFound, err)
	}
	return fmt.Errorf("%s: %w", key, err)
}
