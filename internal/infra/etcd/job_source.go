package etcd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"time"

	"distributed-prover/internal/domain"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	JobSaveDir = "/prover/jobs/"
)

// ErrJobExists is returned by Submit when the id is already taken.
var ErrJobExists = errors.New("job already exists")

// JobRecord is the JSON document stored for each job.
type JobRecord struct {
	ID                string           `json:"id"`
	Status            domain.JobStatus `json:"status"`
	Mode              domain.ProofMode `json:"mode"`
	ProgramArtifactID string           `json:"programArtifactId"`
	InputArtifactID   string           `json:"inputArtifactId"`
	OutputArtifactID  string           `json:"outputArtifactId"`
	RequestedAt       time.Time        `json:"requestedAt"`
	ClaimedAt         *time.Time       `json:"claimedAt,omitempty"`
	FulfilledAt       *time.Time       `json:"fulfilledAt,omitempty"`
}

// NewJobRecord builds a requested record for job.
func NewJobRecord(job domain.Job, now time.Time) JobRecord {
	return JobRecord{
		ID:                job.ID,
		Status:            domain.JobStatusRequested,
		Mode:              job.Mode,
		ProgramArtifactID: job.ProgramArtifactID,
		InputArtifactID:   job.InputArtifactID,
		OutputArtifactID:  job.OutputArtifactID,
		RequestedAt:       now.UTC(),
	}
}

// claim moves a requested record to claimed.
func (r JobRecord) claim(now time.Time) (JobRecord, error) {
	if r.Status != domain.JobStatusRequested {
		return r, fmt.Errorf("%w: job %s is %s", domain.ErrJobNotClaimable, r.ID, r.Status)
	}
	at := now.UTC()
	r.Status = domain.JobStatusClaimed
	r.ClaimedAt = &at
	return r, nil
}

// fulfill moves a claimed record to fulfilled and reports the time since the claim.
func (r JobRecord) fulfill(now time.Time) (JobRecord, domain.FulfillResult, error) {
	if r.Status != domain.JobStatusClaimed || r.ClaimedAt == nil {
		return r, domain.FulfillResult{}, fmt.Errorf("%w: job %s is %s", domain.ErrJobNotFulfillable, r.ID, r.Status)
	}
	at := now.UTC()
	r.Status = domain.JobStatusFulfilled
	r.FulfilledAt = &at

	var elapsed uint64
	if d := at.Sub(*r.ClaimedAt); d > 0 {
		elapsed = uint64(d / time.Second)
	}
	return r, domain.FulfillResult{ElapsedSeconds: elapsed}, nil
}

type etcdJobSource struct {
	client *clientv3.Client
	now    func() time.Time
	logger *slog.Logger
	tracer trace.Tracer
}

// JobSource is the etcd job source, including the submit and list
// operations used by jobctl.
type JobSource interface {
	domain.JobSource
	Submit(ctx context.Context, job domain.Job) error
	List(ctx context.Context, status domain.JobStatus) ([]JobRecord, error)
}

// NewEtcdJobSource creates a job source backed by etcd. Claim and Fulfill are
// compare-and-swap transactions on the record's mod revision, so concurrent
// coordinators can never both claim the same job.
func NewEtcdJobSource(client *clientv3.Client, logger *slog.Logger) JobSource {
	return &etcdJobSource{
		client: client,
		now:    time.Now,
		logger: logger.With("component", "etcd-job-source"),
		tracer: otel.Tracer("distributed-prover-etcd-job-source"),
	}
}

func jobKey(id string) string {
	return path.Join(JobSaveDir, id)
}

// Submit stores a new requested job. It fails if the id is already used.
func (s *etcdJobSource) Submit(ctx context.Context, job domain.Job) error {
	ctx, span := s.tracer.Start(ctx, "jobsource.etcd.Submit", trace.WithAttributes(attribute.String("job.id", job.ID)))
	defer span.End()

	if err := job.Validate(); err != nil {
		return err
	}
	recordJSON, err := json.Marshal(NewJobRecord(job, s.now()))
	if err != nil {
		return fmt.Errorf("failed to marshal job record: %w", err)
	}

	key := jobKey(job.ID)
	resp, err := s.client.Txn(ctx).
		If(clientv3.Compare(clientv3.CreateRevision(key), "=", 0)).
		Then(clientv3.OpPut(key, string(recordJSON))).
		Commit()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to put job to etcd")
		return fmt.Errorf("failed to submit job %s to etcd: %w", job.ID, err)
	}
	if !resp.Succeeded {
		return fmt.Errorf("%w: %s", ErrJobExists, job.ID)
	}
	s.logger.Info("job submitted", "job_id", job.ID, "mode", job.Mode.String())
	return nil
}

// List returns the records with the given status in submission order. An
// empty status returns every record.
func (s *etcdJobSource) List(ctx context.Context, status domain.JobStatus) ([]JobRecord, error) {
	ctx, span := s.tracer.Start(ctx, "jobsource.etcd.List")
	defer span.End()

	resp, err := s.client.Get(ctx, JobSaveDir,
		clientv3.WithPrefix(),
		clientv3.WithSort(clientv3.SortByCreateRevision, clientv3.SortAscend),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to list jobs from etcd")
		return nil, fmt.Errorf("failed to list jobs from etcd: %w", err)
	}
	span.SetAttributes(attribute.Int("etcd.kv_count", len(resp.Kvs)))

	records := make([]JobRecord, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var rec JobRecord
		if err := json.Unmarshal(kv.Value, &rec); err != nil {
			s.logger.Warn("failed to unmarshal job from etcd", "key", string(kv.Key), "error", err)
			continue
		}
		if status != "" && rec.Status != status {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

func (s *etcdJobSource) ListPending(ctx context.Context, status domain.JobStatus) ([]domain.JobSummary, error) {
	records, err := s.List(ctx, status)
	if err != nil {
		return nil, err
	}
	summaries := make([]domain.JobSummary, len(records))
	for i, rec := range records {
		summaries[i] = domain.JobSummary{ID: rec.ID, Mode: rec.Mode}
	}
	return summaries, nil
}

func (s *etcdJobSource) Claim(ctx context.Context, jobID string) (domain.ClaimResult, error) {
	ctx, span := s.tracer.Start(ctx, "jobsource.etcd.Claim", trace.WithAttributes(attribute.String("job.id", jobID)))
	defer span.End()

	claimed, err := s.transition(ctx, jobID, domain.ErrJobNotClaimable, func(rec JobRecord) (JobRecord, error) {
		return rec.claim(s.now())
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "claim failed")
		return domain.ClaimResult{}, err
	}
	s.logger.Info("job claimed", "job_id", jobID)
	return domain.ClaimResult{
		ProgramArtifactID: claimed.ProgramArtifactID,
		InputArtifactID:   claimed.InputArtifactID,
		OutputArtifactID:  claimed.OutputArtifactID,
	}, nil
}

func (s *etcdJobSource) Fulfill(ctx context.Context, jobID string) (domain.FulfillResult, error) {
	ctx, span := s.tracer.Start(ctx, "jobsource.etcd.Fulfill", trace.WithAttributes(attribute.String("job.id", jobID)))
	defer span.End()

	var result domain.FulfillResult
	_, err := s.transition(ctx, jobID, domain.ErrJobNotFulfillable, func(rec JobRecord) (JobRecord, error) {
		next, res, err := rec.fulfill(s.now())
		result = res
		return next, err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fulfill failed")
		return domain.FulfillResult{}, err
	}
	s.logger.Info("job fulfilled", "job_id", jobID, "elapsed_seconds", result.ElapsedSeconds)
	return result, nil
}

// transition reads the record, applies fn and writes the result only if the
// key was not modified in between. Losing that race returns lost.
func (s *etcdJobSource) transition(ctx context.Context, jobID string, lost error, fn func(JobRecord) (JobRecord, error)) (JobRecord, error) {
	key := jobKey(jobID)
	resp, err := s.client.Get(ctx, key)
	if err != nil {
		return JobRecord{}, fmt.Errorf("failed to get job %s from etcd: %w", jobID, err)
	}
	if len(resp.Kvs) == 0 {
		return JobRecord{}, fmt.Errorf("%w: %s", domain.ErrJobNotFound, jobID)
	}
	kv := resp.Kvs[0]

	var rec JobRecord
	if err := json.Unmarshal(kv.Value, &rec); err != nil {
		return JobRecord{}, fmt.Errorf("failed to unmarshal job %s from JSON: %w", jobID, err)
	}
	next, err := fn(rec)
	if err != nil {
		return JobRecord{}, err
	}
	nextJSON, err := json.Marshal(next)
	if err != nil {
		return JobRecord{}, fmt.Errorf("failed to marshal job %s: %w", jobID, err)
	}

	txn, err := s.client.Txn(ctx).
		If(clientv3.Compare(clientv3.ModRevision(key), "=", kv.ModRevision)).
		Then(clientv3.OpPut(key, string(nextJSON))).
		Commit()
	if err != nil {
		return JobRecord{}, fmt.Errorf("failed to update job %s in etcd: %w", jobID, err)
	}
	if !txn.Succeeded {
		return JobRecord{}, fmt.Errorf("%w: job %s was modified concurrently", lost, jobID)
	}
	return next, nil
}
