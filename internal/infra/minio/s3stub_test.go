package minio

import (
	"bufio"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// s3Stub is a minimal S3 endpoint covering the calls BlobStore makes. It
// decodes the chunk-signed bodies minio-go streams over plain HTTP.
type s3Stub struct {
	bucket string

	mu      sync.Mutex
	objects map[string]stubObject
	uploads map[string]*stubUpload
	ranges  []string
	aborted []string
	nextID  int
}

type stubObject struct {
	data []byte
	meta http.Header
}

type stubUpload struct {
	key       string
	meta      http.Header
	parts     map[int][]byte
	initiated time.Time
}

func newS3Stub(bucket string) *s3Stub {
	return &s3Stub{
		bucket:  bucket,
		objects: make(map[string]stubObject),
		uploads: make(map[string]*stubUpload),
	}
}

func (s *s3Stub) rangeHeaders() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ranges...)
}

func (s *s3Stub) abortedUploads() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.aborted...)
}

func (s *s3Stub) openUploads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.uploads)
}

func (s *s3Stub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	bucket, key, _ := strings.Cut(strings.TrimPrefix(r.URL.Path, "/"), "/")
	if bucket != s.bucket {
		writeS3Error(w, http.StatusNotFound, "NoSuchBucket", bucket, key)
		return
	}
	q := r.URL.Query()

	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case key == "" && r.Method == http.MethodGet && q.Has("uploads"):
		s.listUploads(w, q.Get("prefix"))
	case r.Method == http.MethodHead:
		s.head(w, key)
	case r.Method == http.MethodGet:
		s.get(w, r, key)
	case r.Method == http.MethodPost && q.Has("uploads"):
		s.initiate(w, r, key)
	case r.Method == http.MethodPut && q.Has("uploadId"):
		s.putPart(w, r, key, q)
	case r.Method == http.MethodPost && q.Has("uploadId"):
		s.complete(w, r, key, q.Get("uploadId"))
	case r.Method == http.MethodDelete && q.Has("uploadId"):
		s.abort(w, key, q.Get("uploadId"))
	default:
		http.Error(w, "unsupported", http.StatusNotImplemented)
	}
}

func (s *s3Stub) objectHeaders(w http.ResponseWriter, obj stubObject, length int) {
	for k, v := range obj.meta {
		w.Header()[k] = v
	}
	w.Header().Set("Content-Length", strconv.Itoa(length))
	w.Header().Set("Content-Type", "application/cbor")
	w.Header().Set("ETag", `"object-etag"`)
	w.Header().Set("Last-Modified", time.Now().UTC().Format(http.TimeFormat))
}

func (s *s3Stub) head(w http.ResponseWriter, key string) {
	obj, ok := s.objects[key]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	s.objectHeaders(w, obj, len(obj.data))
	w.WriteHeader(http.StatusOK)
}

func (s *s3Stub) get(w http.ResponseWriter, r *http.Request, key string) {
	obj, ok := s.objects[key]
	if !ok {
		writeS3Error(w, http.StatusNotFound, "NoSuchKey", s.bucket, key)
		return
	}
	header := r.Header.Get("Range")
	s.ranges = append(s.ranges, header)

	var start, end int
	if _, err := fmt.Sscanf(header, "bytes=%d-%d", &start, &end); err != nil || end >= len(obj.data) || start > end {
		writeS3Error(w, http.StatusRequestedRangeNotSatisfiable, "InvalidRange", s.bucket, key)
		return
	}
	body := obj.data[start : end+1]
	s.objectHeaders(w, obj, len(body))
	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, len(obj.data)))
	w.WriteHeader(http.StatusPartialContent)
	w.Write(body)
}

func (s *s3Stub) initiate(w http.ResponseWriter, r *http.Request, key string) {
	s.nextID++
	id := fmt.Sprintf("upload-%d", s.nextID)
	meta := make(http.Header)
	for k, v := range r.Header {
		if strings.HasPrefix(k, "X-Amz-Meta-") {
			meta[k] = v
		}
	}
	s.uploads[id] = &stubUpload{key: key, meta: meta, parts: make(map[int][]byte), initiated: time.Now().UTC()}
	writeXML(w, struct {
		XMLName  xml.Name `xml:"InitiateMultipartUploadResult"`
		Bucket   string
		Key      string
		UploadID string `xml:"UploadId"`
	}{Bucket: s.bucket, Key: key, UploadID: id})
}

func (s *s3Stub) putPart(w http.ResponseWriter, r *http.Request, key string, q map[string][]string) {
	upload, ok := s.uploads[q["uploadId"][0]]
	if !ok || upload.key != key {
		_, _ = io.Copy(io.Discard, r.Body)
		writeS3Error(w, http.StatusNotFound, "NoSuchUpload", s.bucket, key)
		return
	}
	number, err := strconv.Atoi(q["partNumber"][0])
	if err != nil {
		writeS3Error(w, http.StatusBadRequest, "InvalidArgument", s.bucket, key)
		return
	}
	var data []byte
	if strings.HasPrefix(r.Header.Get("X-Amz-Content-Sha256"), "STREAMING-") {
		data, err = decodeChunkedPayload(r.Body)
	} else {
		data, err = io.ReadAll(r.Body)
	}
	if err != nil {
		writeS3Error(w, http.StatusBadRequest, "IncompleteBody", s.bucket, key)
		return
	}
	upload.parts[number] = data
	w.Header().Set("ETag", fmt.Sprintf(`"part-%d"`, number))
	w.WriteHeader(http.StatusOK)
}

func (s *s3Stub) complete(w http.ResponseWriter, r *http.Request, key, uploadID string) {
	upload, ok := s.uploads[uploadID]
	if !ok || upload.key != key {
		writeS3Error(w, http.StatusNotFound, "NoSuchUpload", s.bucket, key)
		return
	}
	var req struct {
		Parts []struct {
			PartNumber int
			ETag       string
		} `xml:"Part"`
	}
	if err := xml.NewDecoder(r.Body).Decode(&req); err != nil {
		writeS3Error(w, http.StatusBadRequest, "MalformedXML", s.bucket, key)
		return
	}
	var data []byte
	for i, p := range req.Parts {
		part, ok := upload.parts[p.PartNumber]
		if !ok || p.PartNumber != i+1 || p.ETag != fmt.Sprintf("part-%d", p.PartNumber) {
			writeS3Error(w, http.StatusBadRequest, "InvalidPartOrder", s.bucket, key)
			return
		}
		data = append(data, part...)
	}
	s.objects[key] = stubObject{data: data, meta: upload.meta}
	delete(s.uploads, uploadID)
	writeXML(w, struct {
		XMLName  xml.Name `xml:"CompleteMultipartUploadResult"`
		Location string
		Bucket   string
		Key      string
		ETag     string
	}{Location: "/" + s.bucket + "/" + key, Bucket: s.bucket, Key: key, ETag: `"object-etag"`})
}

func (s *s3Stub) abort(w http.ResponseWriter, key, uploadID string) {
	upload, ok := s.uploads[uploadID]
	if !ok || upload.key != key {
		writeS3Error(w, http.StatusNotFound, "NoSuchUpload", s.bucket, key)
		return
	}
	delete(s.uploads, uploadID)
	s.aborted = append(s.aborted, uploadID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *s3Stub) listUploads(w http.ResponseWriter, prefix string) {
	type upload struct {
		Key       string
		UploadID  string `xml:"UploadId"`
		Initiated string
	}
	var uploads []upload
	for id, u := range s.uploads {
		if strings.HasPrefix(u.key, prefix) {
			uploads = append(uploads, upload{Key: u.key, UploadID: id, Initiated: u.initiated.Format(time.RFC3339)})
		}
	}
	sort.Slice(uploads, func(i, j int) bool { return uploads[i].UploadID < uploads[j].UploadID })
	writeXML(w, struct {
		XMLName     xml.Name `xml:"ListMultipartUploadsResult"`
		Bucket      string
		Prefix      string
		IsTruncated bool
		Uploads     []upload `xml:"Upload"`
	}{Bucket: s.bucket, Prefix: prefix, Uploads: uploads})
}

// decodeChunkedPayload strips the "<hex size>;chunk-signature=<sig>\r\n"
// framing of an aws-chunked body.
func decodeChunkedPayload(r io.Reader) ([]byte, error) {
	br := bufio.NewReader(r)
	var out []byte
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			return nil, err
		}
		sizeHex, _, _ := strings.Cut(strings.TrimRight(line, "\r\n"), ";")
		size, err := strconv.ParseInt(sizeHex, 16, 64)
		if err != nil {
			return nil, err
		}
		if size == 0 {
			return out, nil
		}
		chunk := make([]byte, size)
		if _, err := io.ReadFull(br, chunk); err != nil {
			return nil, err
		}
		out = append(out, chunk...)
		if _, err := br.Discard(2); err != nil {
			return nil, err
		}
	}
}

func writeXML(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	_ = xml.NewEncoder(w).Encode(v)
}

func writeS3Error(w http.ResponseWriter, status int, code, bucket, key string) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	_ = xml.NewEncoder(w).Encode(struct {
		XMLName    xml.Name `xml:"Error"`
		Code       string
		Message    string
		BucketName string
		Key        string
	}{Code: code, Message: code, BucketName: bucket, Key: key})
}
