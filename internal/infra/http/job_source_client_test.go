package http

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"distributed-prover/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestJobSource(t *testing.T, handler http.HandlerFunc) domain.JobSource {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	src, err := NewHttpJobSource(srv.URL+"/api/", "s3cret", fastRetryClient(time.Millisecond), testLogger())
	if err != nil {
		t.Fatalf("NewHttpJobSource() err=%v", err)
	}
	return src
}

func TestHttpJobSource_ListPending(t *testing.T) {
	src := newTestJobSource(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/api/jobs" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.URL.Query().Get("status"); got != "requested" {
			t.Errorf("status=%q, want requested", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer s3cret" {
			t.Errorf("Authorization=%q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"id":"job-1","mode":"compressed"},{"id":"job-2","mode":"unspecified"}]`))
	})

	jobs, err := src.ListPending(context.Background(), domain.JobStatusRequested)
	if err != nil {
		t.Fatalf("ListPending() err=%v", err)
	}
	if len(jobs) != 2 || jobs[0].ID != "job-1" || jobs[0].Mode != domain.ProofModeCompressed || jobs[1].Mode != domain.ProofModeUnspecified {
		t.Fatalf("ListPending()=%+v", jobs)
	}
}

func TestHttpJobSource_Claim(t *testing.T) {
	src := newTestJobSource(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/jobs/job-1/claim" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		w.Write([]byte(`{"programArtifactId":"prog-a","inputArtifactId":"stdin-b","outputArtifactId":"proof-c"}`))
	})

	claim, err := src.Claim(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("Claim() err=%v", err)
	}
	want := domain.ClaimResult{ProgramArtifactID: "prog-a", InputArtifactID: "stdin-b", OutputArtifactID: "proof-c"}
	if claim != want {
		t.Fatalf("Claim()=%+v, want %+v", claim, want)
	}
}

func TestHttpJobSource_StatusMapping(t *testing.T) {
	src := newTestJobSource(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/jobs/taken/claim", "/api/jobs/done/fulfill":
			http.Error(w, "conflict", http.StatusConflict)
		default:
			http.Error(w, "no such job", http.StatusNotFound)
		}
	})

	if _, err := src.Claim(context.Background(), "taken"); !errors.Is(err, domain.ErrJobNotClaimable) {
		t.Fatalf("Claim(taken) err=%v, want ErrJobNotClaimable", err)
	}
	if _, err := src.Fulfill(context.Background(), "done"); !errors.Is(err, domain.ErrJobNotFulfillable) {
		t.Fatalf("Fulfill(done) err=%v, want ErrJobNotFulfillable", err)
	}
	if _, err := src.Claim(context.Background(), "ghost"); !errors.Is(err, domain.ErrJobNotFound) {
		t.Fatalf("Claim(ghost) err=%v, want ErrJobNotFound", err)
	}
}

func TestHttpJobSource_Fulfill(t *testing.T) {
	src := newTestJobSource(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"elapsedSeconds":42}`))
	})
	res, err := src.Fulfill(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("Fulfill() err=%v", err)
	}
	if res.ElapsedSeconds != 42 {
		t.Fatalf("ElapsedSeconds=%d, want 42", res.ElapsedSeconds)
	}
}

func TestNewHttpJobSource_RejectsBadURL(t *testing.T) {
	if _, err := NewHttpJobSource("not a url", "", nil, testLogger()); err == nil {
		t.Fatalf("NewHttpJobSource() expected error")
	}
}
