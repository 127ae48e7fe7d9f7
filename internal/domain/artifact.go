package domain

import "time"

// ArtifactKeyPrefix is the object-store namespace holding every artifact.
const ArtifactKeyPrefix = "artifacts/"

// Artifact references an opaque binary object in the blob store. The ID is
// assigned by the job source; it is a location, not a content hash.
type Artifact struct {
	ID    string
	Label string
	// Expiry is carried for a future retention policy and is not enforced.
	Expiry *time.Time
}

// NewArtifact returns an artifact reference with the given role label.
func NewArtifact(id, label string) Artifact {
	return Artifact{ID: id, Label: label}
}

// Key returns the object key for the artifact.
func (a Artifact) Key() string {
	return ArtifactKeyPrefix + a.ID
}

// Program is the compiled guest program (ELF bytes).
type Program []byte

// Stdin is the input handed to the guest program, one entry per write.
type Stdin struct {
	Buffer [][]byte `cbor:"buffer" json:"buffer"`
}

// Proof is the artifact produced by the prover.
type Proof struct {
	Mode         ProofMode `cbor:"mode" json:"mode"`
	Bytes        []byte    `cbor:"proof" json:"proof"`
	PublicValues []byte    `cbor:"public_values,omitempty" json:"publicValues,omitempty"`
}
