package utreexo

import "errors"

// Sentinel errors identifying the error kinds spec'd for this accumulator.
// Callers should use errors.Is against these, since the wrapped message
// carries the operation-specific detail.
var (
	// ErrMissingSlice is the kind for a null or length-mismatched slice at
	// a foreign-function boundary. Nothing in this package returns it; a
	// length mismatch between targets and their del hashes is reported as
	// ErrMalformedProof.
	ErrMissingSlice = errors.New("utreexo: missing or mismatched slice")

	// ErrInvalidProof is returned when a proof is structurally well formed
	// but its recomputed roots disagree with the stump's roots.
	ErrInvalidProof = errors.New("utreexo: invalid proof")

	// ErrMalformedProof is returned when a proof is not well formed:
	// truncated serialization, trailing bytes, duplicate or out-of-range
	// targets, or a target or proof hash count that doesn't match what is
	// needed. Unsorted targets are sorted, not rejected.
	ErrMalformedProof = errors.New("utreexo: malformed proof")

	// ErrUtreexo is returned when the accumulator's own state cannot serve
	// a request: proving or pruning a hash a Pollard has not cached, an
	// Undo that does not fit the Pollard, or a Stump whose root count
	// disagrees with its leaf count. Deleting a position that does not
	// exist fails proof checking instead (ErrMalformedProof).
	ErrUtreexo = errors.New("utreexo: operation failed")
)
