// Package transfertest provides an instrumented in-memory blob store for
// tests of code built on the transfer engine.
package transfertest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"distributed-prover/internal/transfer"
)

// ErrNotFound is returned for unknown keys and upload ids.
var ErrNotFound = transfer.ErrObjectNotFound

// Range records one GetRange call.
type Range struct {
	Offset int64
	Length int64
}

// Completion records one CompleteMultipartUpload call.
type Completion struct {
	Key   string
	Parts []transfer.Part
}

type object struct {
	data     []byte
	metadata map[string]string
}

type session struct {
	key       string
	metadata  map[string]string
	parts     map[int][]byte
	initiated time.Time
}

// MemStore implements transfer.BlobStore in memory. It counts every call and
// tracks how many calls are in flight at once.
type MemStore struct {
	// Delay is slept inside every data-moving call so that overlapping lanes
	// are observable.
	Delay time.Duration
	// FailPart makes UploadPart fail for this part number when non-zero.
	FailPart int
	// Now stamps new multipart sessions; defaults to time.Now.
	Now func() time.Time

	mu          sync.Mutex
	objects     map[string]object
	sessions    map[string]*session
	nextID      int
	calls       int
	inFlight    int
	maxInFlight int
	ranges      map[string][]Range
	completions []Completion
	aborted     []string
}

// NewMemStore returns an empty store.
func NewMemStore() *MemStore {
	return &MemStore{
		objects:  make(map[string]object),
		sessions: make(map[string]*session),
		ranges:   make(map[string][]Range),
	}
}

// Put seeds an object directly, bypassing the multipart path.
func (s *MemStore) Put(key string, data []byte, metadata map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = object{data: bytes.Clone(data), metadata: metadata}
}

// Object returns the stored bytes for key.
func (s *MemStore) Object(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[key]
	return obj.data, ok
}

// Calls returns the total number of BlobStore calls made.
func (s *MemStore) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// MaxInFlight returns the largest number of data-moving calls observed at once.
func (s *MemStore) MaxInFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxInFlight
}

// Ranges returns the GetRange calls made for key, sorted by offset.
func (s *MemStore) Ranges(key string) []Range {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]Range(nil), s.ranges[key]...)
	sort.Slice(out, func(i, j int) bool { return out[i].Offset < out[j].Offset })
	return out
}

// Completions returns every completed multipart upload in call order.
func (s *MemStore) Completions() []Completion {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Completion(nil), s.completions...)
}

// Aborted returns the upload ids passed to AbortMultipartUpload.
func (s *MemStore) Aborted() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.aborted...)
}

// OpenSessions returns the number of multipart sessions neither completed nor aborted.
func (s *MemStore) OpenSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *MemStore) enter() {
	s.mu.Lock()
	s.calls++
	s.inFlight++
	if s.inFlight > s.maxInFlight {
		s.maxInFlight = s.inFlight
	}
	s.mu.Unlock()
	if s.Delay > 0 {
		time.Sleep(s.Delay)
	}
}

func (s *MemStore) exit() {
	s.mu.Lock()
	s.inFlight--
	s.mu.Unlock()
}

func (s *MemStore) count() {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
}

func (s *MemStore) Stat(ctx context.Context, key string) (transfer.ObjectInfo, error) {
	s.count()
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[key]
	if !ok {
		return transfer.ObjectInfo{}, fmt.Errorf("stat %s: %w", key, ErrNotFound)
	}
	return transfer.ObjectInfo{Size: int64(len(obj.data)), UserMetadata: obj.metadata}, nil
}

func (s *MemStore) GetRange(ctx context.Context, key string, offset, length int64) (io.ReadCloser, error) {
	s.enter()
	defer s.exit()

	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[key]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", key, ErrNotFound)
	}
	if offset < 0 || offset+length > int64(len(obj.data)) {
		return nil, fmt.Errorf("get %s: range %d+%d out of bounds", key, offset, length)
	}
	s.ranges[key] = append(s.ranges[key], Range{Offset: offset, Length: length})
	return io.NopCloser(bytes.NewReader(obj.data[offset : offset+length])), nil
}

func (s *MemStore) CreateMultipartUpload(ctx context.Context, key string, metadata map[string]string) (string, error) {
	s.count()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := fmt.Sprintf("upload-%d", s.nextID)
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	s.sessions[id] = &session{key: key, metadata: metadata, parts: make(map[int][]byte), initiated: now()}
	return id, nil
}

func (s *MemStore) UploadPart(ctx context.Context, key, uploadID string, partNumber int, data []byte) (transfer.Part, error) {
	s.enter()
	defer s.exit()

	if s.FailPart != 0 && partNumber == s.FailPart {
		return transfer.Part{}, fmt.Errorf("injected failure for part %d", partNumber)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[uploadID]
	if !ok || sess.key != key {
		return transfer.Part{}, fmt.Errorf("upload %s: %w", uploadID, ErrNotFound)
	}
	sess.parts[partNumber] = bytes.Clone(data)
	return transfer.Part{Number: partNumber, ETag: fmt.Sprintf("etag-%s-%d", uploadID, partNumber)}, nil
}

func (s *MemStore) CompleteMultipartUpload(ctx context.Context, key, uploadID string, parts []transfer.Part) error {
	s.count()
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[uploadID]
	if !ok || sess.key != key {
		return fmt.Errorf("upload %s: %w", uploadID, ErrNotFound)
	}
	var buf bytes.Buffer
	for _, p := range parts {
		data, ok := sess.parts[p.Number]
		if !ok {
			return fmt.Errorf("upload %s: part %d was never uploaded", uploadID, p.Number)
		}
		buf.Write(data)
	}
	s.objects[key] = object{data: buf.Bytes(), metadata: sess.metadata}
	s.completions = append(s.completions, Completion{Key: key, Parts: append([]transfer.Part(nil), parts...)})
	delete(s.sessions, uploadID)
	return nil
}

func (s *MemStore) AbortMultipartUpload(ctx context.Context, key, uploadID string) error {
	s.count()
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[uploadID]; !ok {
		return fmt.Errorf("upload %s: %w", uploadID, ErrNotFound)
	}
	delete(s.sessions, uploadID)
	s.aborted = append(s.aborted, uploadID)
	return nil
}

// ListIncompleteUploads lists open multipart sessions whose key has prefix.
func (s *MemStore) ListIncompleteUploads(ctx context.Context, prefix string) ([]transfer.IncompleteUpload, error) {
	s.count()
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []transfer.IncompleteUpload
	for id, sess := range s.sessions {
		if strings.HasPrefix(sess.key, prefix) {
			out = append(out, transfer.IncompleteUpload{Key: sess.key, UploadID: id, Initiated: sess.initiated})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UploadID < out[j].UploadID })
	return out, nil
}
