package domain

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestJobValidate_UnspecifiedMode(t *testing.T) {
	job := &Job{ID: "job-1", ProgramArtifactID: "p", InputArtifactID: "i", OutputArtifactID: "o"}
	err := job.Validate()
	if !errors.Is(err, ErrUnspecifiedMode) {
		t.Fatalf("Validate() err=%v, want ErrUnspecifiedMode", err)
	}
}

func TestJobValidate_OutOfRangeMode(t *testing.T) {
	job := &Job{ID: "job-1", Mode: ProofMode(42)}
	if err := job.Validate(); err == nil {
		t.Fatalf("Validate() expected error for unknown mode")
	}
}

func TestJobValidate_OK(t *testing.T) {
	job := &Job{ID: "job-1", Mode: ProofModeCore}
	if err := job.Validate(); err != nil {
		t.Fatalf("Validate() err=%v", err)
	}
}

func TestJobJSON_WireNames(t *testing.T) {
	job := Job{
		ID:                "job-1",
		Mode:              ProofModeCore,
		ProgramArtifactID: "prog-a",
		InputArtifactID:   "stdin-b",
		OutputArtifactID:  "proof-c",
	}
	data, err := json.Marshal(job)
	if err != nil {
		t.Fatalf("Marshal() err=%v", err)
	}
	want := `{"id":"job-1","mode":"core","programArtifactId":"prog-a","inputArtifactId":"stdin-b","outputArtifactId":"proof-c"}`
	if string(data) != want {
		t.Fatalf("Marshal()=%s, want %s", data, want)
	}

	var decoded Job
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal() err=%v", err)
	}
	if decoded != job {
		t.Fatalf("Unmarshal()=%+v, want %+v", decoded, job)
	}
}

func TestParseProofMode(t *testing.T) {
	cases := map[string]ProofMode{
		"":           ProofModeUnspecified,
		"core":       ProofModeCore,
		"Compressed": ProofModeCompressed,
		" PLONK ":    ProofModePlonk,
		"groth16":    ProofModeGroth16,
	}
	for in, want := range cases {
		got, err := ParseProofMode(in)
		if err != nil {
			t.Fatalf("ParseProofMode(%q) err=%v", in, err)
		}
		if got != want {
			t.Fatalf("ParseProofMode(%q)=%v, want %v", in, got, want)
		}
	}
	if _, err := ParseProofMode("turbo"); err == nil {
		t.Fatalf("ParseProofMode(turbo) expected error")
	}
}

func TestParseJobStatus(t *testing.T) {
	got, err := ParseJobStatus("Requested")
	if err != nil {
		t.Fatalf("ParseJobStatus() err=%v", err)
	}
	if got != JobStatusRequested {
		t.Fatalf("ParseJobStatus()=%q, want requested", got)
	}
	if _, err := ParseJobStatus("failed"); err == nil {
		t.Fatalf("ParseJobStatus(failed) expected error")
	}
}

func TestArtifactKey(t *testing.T) {
	a := NewArtifact("prog-a", "program")
	if got := a.Key(); got != "artifacts/prog-a" {
		t.Fatalf("Key()=%q, want artifacts/prog-a", got)
	}
}
