package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnspecifiedMode is returned when a job reaches compute without a proof mode.
var ErrUnspecifiedMode = errors.New("proof mode is unspecified")

// ProofMode selects the prover profile used for a job.
type ProofMode int

const (
	ProofModeUnspecified ProofMode = iota
	ProofModeCore
	ProofModeCompressed
	ProofModePlonk
	ProofModeGroth16
)

var proofModeNames = map[ProofMode]string{
	ProofModeUnspecified: "unspecified",
	ProofModeCore:        "core",
	ProofModeCompressed:  "compressed",
	ProofModePlonk:       "plonk",
	ProofModeGroth16:     "groth16",
}

// ParseProofMode maps a wire name to a ProofMode. Matching is case-insensitive
// and the empty string parses as ProofModeUnspecified.
func ParseProofMode(s string) (ProofMode, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	if name == "" {
		return ProofModeUnspecified, nil
	}
	for mode, n := range proofModeNames {
		if n == name {
			return mode, nil
		}
	}
	return ProofModeUnspecified, fmt.Errorf("unknown proof mode: %q", s)
}

func (m ProofMode) String() string {
	if name, ok := proofModeNames[m]; ok {
		return name
	}
	return fmt.Sprintf("ProofMode(%d)", int(m))
}

// MarshalText encodes the mode as its wire name.
func (m ProofMode) MarshalText() ([]byte, error) {
	if _, ok := proofModeNames[m]; !ok {
		return nil, fmt.Errorf("invalid proof mode: %d", int(m))
	}
	return []byte(m.String()), nil
}

// UnmarshalText decodes a wire name produced by MarshalText.
func (m *ProofMode) UnmarshalText(text []byte) error {
	mode, err := ParseProofMode(string(text))
	if err != nil {
		return err
	}
	*m = mode
	return nil
}

// Job is one unit of proving work handed from the coordinator to a worker.
// It is built once from a claim response and never mutated afterwards.
type Job struct {
	ID                string    `json:"id" validate:"required"`
	Mode              ProofMode `json:"mode"`
	ProgramArtifactID string    `json:"programArtifactId" validate:"required"`
	InputArtifactID   string    `json:"inputArtifactId" validate:"required"`
	OutputArtifactID  string    `json:"outputArtifactId" validate:"required"`
}

// Validate checks the invariants that must hold before any artifact I/O.
func (j *Job) Validate() error {
	if j.Mode == ProofModeUnspecified {
		return fmt.Errorf("job %s: %w", j.ID, ErrUnspecifiedMode)
	}
	if _, ok := proofModeNames[j.Mode]; !ok {
		return fmt.Errorf("job %s: invalid proof mode %d", j.ID, int(j.Mode))
	}
	return nil
}
