package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrJobNotFound is returned when the job source has no record for an id.
	ErrJobNotFound = errors.New("job not found")
	// ErrJobNotClaimable is returned when a claim loses the race or the job is no longer requested.
	ErrJobNotClaimable = errors.New("job is not claimable")
	// ErrJobNotFulfillable is returned when fulfilling a job that is not claimed.
	ErrJobNotFulfillable = errors.New("job is not fulfillable")
)

// JobStatus is the lifecycle state tracked by the job source.
type JobStatus string

const (
	JobStatusRequested JobStatus = "requested"
	JobStatusClaimed   JobStatus = "claimed"
	JobStatusFulfilled JobStatus = "fulfilled"
)

// ParseJobStatus validates a status name.
func ParseJobStatus(s string) (JobStatus, error) {
	switch status := JobStatus(strings.ToLower(strings.TrimSpace(s))); status {
	case JobStatusRequested, JobStatusClaimed, JobStatusFulfilled:
		return status, nil
	default:
		return "", fmt.Errorf("unknown job status: %q", s)
	}
}

// JobSummary is one entry of a pending-jobs listing.
type JobSummary struct {
	ID   string    `json:"id"`
	Mode ProofMode `json:"mode"`
}

// ClaimResult carries the canonical artifact ids for a claimed job.
type ClaimResult struct {
	ProgramArtifactID string `json:"programArtifactId"`
	InputArtifactID   string `json:"inputArtifactId"`
	OutputArtifactID  string `json:"outputArtifactId"`
}

// FulfillResult reports how long the job spent between claim and fulfillment.
type FulfillResult struct {
	ElapsedSeconds uint64 `json:"elapsedSeconds"`
}

// JobSource is the external system tracking job lifecycle. Implementations
// must give at most one successful Claim per job id.
type JobSource interface {
	ListPending(ctx context.Context, status JobStatus) ([]JobSummary, error)
	Claim(ctx context.Context, jobID string) (ClaimResult, error)
	Fulfill(ctx context.Context, jobID string) (FulfillResult, error)
}
