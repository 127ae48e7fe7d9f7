package domain

import "context"

// Prover is the opaque compute capability. It is slow and CPU bound; callers
// must run it through the worker's offload pool.
type Prover interface {
	Prove(ctx context.Context, program Program, stdin Stdin, mode ProofMode) (Proof, error)
}

// Setupper is implemented by provers that need a one-off setup, such as
// installing proving keys, before they can serve jobs.
type Setupper interface {
	Setup(ctx context.Context) error
}
