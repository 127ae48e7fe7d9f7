package transfer

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"
)

// ErrObjectNotFound is returned by stores when a key does not exist.
var ErrObjectNotFound = errors.New("object not found")

// DigestMetadataKey is the object user-metadata key holding the BLAKE3 digest
// of the encoded artifact.
const DigestMetadataKey = "blake3"

// ObjectInfo is the metadata returned by a size lookup.
type ObjectInfo struct {
	Size         int64
	ETag         string
	UserMetadata map[string]string
}

// Metadata looks up a user-metadata value. Object stores differ in how they
// canonicalize header names, so the match is case-insensitive.
func (o ObjectInfo) Metadata(key string) (string, bool) {
	for k, v := range o.UserMetadata {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return "", false
}

// Part identifies one uploaded part of a multipart session.
type Part struct {
	Number int
	ETag   string
}

// IncompleteUpload describes a multipart session that was never completed
// or aborted.
type IncompleteUpload struct {
	Key       string
	UploadID  string
	Initiated time.Time
}

// BlobStore is the subset of an S3-compatible object store used by the engine.
type BlobStore interface {
	Stat(ctx context.Context, key string) (ObjectInfo, error)
	// GetRange returns length bytes starting at offset.
	GetRange(ctx context.Context, key string, offset, length int64) (io.ReadCloser, error)
	CreateMultipartUpload(ctx context.Context, key string, metadata map[string]string) (string, error)
	UploadPart(ctx context.Context, key, uploadID string, partNumber int, data []byte) (Part, error)
	CompleteMultipartUpload(ctx context.Context, key, uploadID string, parts []Part) error
	AbortMultipartUpload(ctx context.Context, key, uploadID string) error
}
