package http

import (
	"fmt"

	"distributed-prover/internal/domain"
)

// ProveRequest is the JSON body of POST /prove.
type ProveRequest struct {
	ID                string `json:"id" validate:"required"`
	Mode              string `json:"mode"`
	ProgramArtifactID string `json:"programArtifactId" validate:"required"`
	InputArtifactID   string `json:"inputArtifactId" validate:"required"`
	OutputArtifactID  string `json:"outputArtifactId" validate:"required"`
}

// ToDomain converts the request into a job and checks its invariants.
func (r *ProveRequest) ToDomain() (*domain.Job, error) {
	mode, err := domain.ParseProofMode(r.Mode)
	if err != nil {
		return nil, fmt.Errorf("job %s: %w", r.ID, err)
	}
	job := &domain.Job{
		ID:                r.ID,
		Mode:              mode,
		ProgramArtifactID: r.ProgramArtifactID,
		InputArtifactID:   r.InputArtifactID,
		OutputArtifactID:  r.OutputArtifactID,
	}
	if err := job.Validate(); err != nil {
		return nil, err
	}
	return job, nil
}
