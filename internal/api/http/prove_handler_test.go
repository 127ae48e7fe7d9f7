package http

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"distributed-prover/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type MockProveService struct {
	calls     atomic.Int32
	ProveFunc func(ctx context.Context, job *domain.Job) (domain.FulfillResult, error)
}

func (m *MockProveService) Prove(ctx context.Context, job *domain.Job) (domain.FulfillResult, error) {
	m.calls.Add(1)
	return m.ProveFunc(ctx, job)
}

func newMux(svc ProveService) *http.ServeMux {
	mux := http.NewServeMux()
	NewProveHandler(svc, testLogger()).RegisterRoutes(mux)
	return mux
}

const validBody = `{"id":"job-1","mode":"compressed","programArtifactId":"prog-a","inputArtifactId":"stdin-b","outputArtifactId":"proof-c"}`

func post(mux http.Handler, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/prove", strings.NewReader(body)))
	return rec
}

func TestProve_Success(t *testing.T) {
	svc := &MockProveService{ProveFunc: func(ctx context.Context, job *domain.Job) (domain.FulfillResult, error) {
		if job.ID != "job-1" || job.Mode != domain.ProofModeCompressed || job.OutputArtifactID != "proof-c" {
			t.Errorf("service received %+v", job)
		}
		return domain.FulfillResult{ElapsedSeconds: 17}, nil
	}}
	rec := post(newMux(svc), validBody)
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%q", rec.Code, rec.Body.String())
	}
	if got := strings.TrimSpace(rec.Body.String()); got != "17" {
		t.Fatalf("body=%q, want 17", got)
	}
}

func TestProve_MalformedJSON(t *testing.T) {
	svc := &MockProveService{}
	rec := post(newMux(svc), `{"id":`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status=%d, want 400", rec.Code)
	}
	if svc.calls.Load() != 0 {
		t.Fatalf("service called for malformed body")
	}
}

func TestProve_UnspecifiedMode(t *testing.T) {
	svc := &MockProveService{}
	body := strings.Replace(validBody, `"compressed"`, `"unspecified"`, 1)
	rec := post(newMux(svc), body)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d, want 500", rec.Code)
	}
	if !strings.HasPrefix(rec.Header().Get("Content-Type"), "text/plain") {
		t.Fatalf("Content-Type=%q, want text/plain", rec.Header().Get("Content-Type"))
	}
	if !strings.Contains(rec.Body.String(), domain.ErrUnspecifiedMode.Error()) {
		t.Fatalf("body=%q, want unspecified mode reason", rec.Body.String())
	}
	if svc.calls.Load() != 0 {
		t.Fatalf("service called for invalid mode")
	}
}

func TestProve_MissingFieldAndUnknownMode(t *testing.T) {
	svc := &MockProveService{}
	mux := newMux(svc)
	for _, body := range []string{
		`{"id":"job-1","mode":"core","programArtifactId":"prog-a","inputArtifactId":"stdin-b"}`,
		strings.Replace(validBody, `"compressed"`, `"stark"`, 1),
	} {
		if rec := post(mux, body); rec.Code != http.StatusInternalServerError {
			t.Fatalf("body %s: status=%d, want 500", body, rec.Code)
		}
	}
	if svc.calls.Load() != 0 {
		t.Fatalf("service called for invalid requests")
	}
}

func TestProve_PipelineError(t *testing.T) {
	svc := &MockProveService{ProveFunc: func(ctx context.Context, job *domain.Job) (domain.FulfillResult, error) {
		return domain.FulfillResult{}, errors.New("fetch inputs: stat artifact prog-a: object not found")
	}}
	rec := post(newMux(svc), validBody)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d, want 500", rec.Code)
	}
	if got := strings.TrimSpace(rec.Body.String()); got != "fetch inputs: stat artifact prog-a: object not found" {
		t.Fatalf("body=%q", got)
	}
}

func TestProve_PipelineIgnoresClientCancellation(t *testing.T) {
	var pipelineErr error
	svc := &MockProveService{ProveFunc: func(ctx context.Context, job *domain.Job) (domain.FulfillResult, error) {
		pipelineErr = ctx.Err()
		return domain.FulfillResult{ElapsedSeconds: 1}, nil
	}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/prove", strings.NewReader(validBody)).WithContext(ctx)
	newMux(svc).ServeHTTP(httptest.NewRecorder(), req)
	if pipelineErr != nil {
		t.Fatalf("pipeline context err=%v, want nil", pipelineErr)
	}
}

func TestProve_MethodNotAllowed(t *testing.T) {
	rec := httptest.NewRecorder()
	newMux(&MockProveService{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/prove", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status=%d, want 405", rec.Code)
	}
}

func TestPing_RespondsWhileProving(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	svc := &MockProveService{ProveFunc: func(ctx context.Context, job *domain.Job) (domain.FulfillResult, error) {
		close(started)
		<-release
		return domain.FulfillResult{ElapsedSeconds: 3}, nil
	}}
	srv := httptest.NewServer(newMux(svc))
	defer srv.Close()

	proveDone := make(chan error, 1)
	go func() {
		resp, err := http.Post(srv.URL+"/prove", "application/json", strings.NewReader(validBody))
		if err == nil {
			resp.Body.Close()
		}
		proveDone <- err
	}()
	<-started

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(srv.URL + "/ping")
	if err != nil {
		t.Fatalf("GET /ping err=%v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || string(body) != "pong" {
		t.Fatalf("GET /ping = %d %q", resp.StatusCode, body)
	}

	close(release)
	if err := <-proveDone; err != nil {
		t.Fatalf("POST /prove err=%v", err)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	rec := httptest.NewRecorder()
	newMux(&MockProveService{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d, want 200", rec.Code)
	}
}
