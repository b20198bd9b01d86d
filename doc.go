// Package utreexo implements the Utreexo accumulator: a hash-based, dynamic
// set commitment built as a forest of perfect binary Merkle trees whose size
// is proportional to the population count of the current leaf count.
//
// Stump holds the minimal verifier state (leaf count plus root hashes).
// Pollard is a caching, in-memory prover forest that can generate proofs,
// apply additions and proof-gated deletions, and undo a prior addition.
// Proof is the batched inclusion witness shared between the two.
//
// The accumulator is single-writer: no exported type here does its own
// locking, and callers must serialize all mutations against a given Stump
// or Pollard themselves.
package utreexo
