package codec

import (
	"bytes"
	"errors"
	"testing"

	"distributed-prover/internal/domain"
)

func TestRoundTrip_Proof(t *testing.T) {
	in := domain.Proof{
		Mode:         domain.ProofModeGroth16,
		Bytes:        bytes.Repeat([]byte{0xab}, 4096),
		PublicValues: []byte("public"),
	}
	data, err := Marshal(in)
	if err != nil {
		t.Fatalf("Marshal() err=%v", err)
	}
	var out domain.Proof
	if err := Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal() err=%v", err)
	}
	if out.Mode != in.Mode || !bytes.Equal(out.Bytes, in.Bytes) || !bytes.Equal(out.PublicValues, in.PublicValues) {
		t.Fatalf("Unmarshal()=%+v, want %+v", out, in)
	}
}

func TestRoundTrip_Stdin(t *testing.T) {
	in := domain.Stdin{Buffer: [][]byte{[]byte("a"), {}, []byte("ccc")}}
	data, err := Marshal(in)
	if err != nil {
		t.Fatalf("Marshal() err=%v", err)
	}
	var out domain.Stdin
	if err := Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal() err=%v", err)
	}
	if len(out.Buffer) != 3 || string(out.Buffer[2]) != "ccc" {
		t.Fatalf("Unmarshal()=%+v", out)
	}
}

func TestMarshal_Deterministic(t *testing.T) {
	in := domain.Stdin{Buffer: [][]byte{[]byte("x"), []byte("y")}}
	a, err := Marshal(in)
	if err != nil {
		t.Fatalf("Marshal() err=%v", err)
	}
	b, err := Marshal(in)
	if err != nil {
		t.Fatalf("Marshal() err=%v", err)
	}
	if !bytes.Equal(a, b) {
		t.Fatalf("Marshal() not deterministic")
	}
}

func TestUnmarshal_EmptyIsZeroValue(t *testing.T) {
	var out domain.Stdin
	if err := Unmarshal(nil, &out); err != nil {
		t.Fatalf("Unmarshal(nil) err=%v", err)
	}
	if out.Buffer != nil {
		t.Fatalf("Unmarshal(nil)=%+v, want zero value", out)
	}
}

func TestUnmarshal_Malformed(t *testing.T) {
	var out domain.Program
	err := Unmarshal([]byte{0xff, 0x00, 0x13}, &out)
	if !errors.Is(err, ErrDecode) {
		t.Fatalf("Unmarshal() err=%v, want ErrDecode", err)
	}
}
