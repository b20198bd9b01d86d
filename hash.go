package utreexo

import (
	"crypto/sha256"
	"crypto/sha512"
	"encoding/binary"
	"encoding/hex"
)

// hashKind tags which of the three variants a Hash holds.
type hashKind uint8

const (
	// hashValue holds a real 32 byte digest.
	hashValue hashKind = iota
	// hashEmpty is the sentinel for a deleted subtree. It propagates by
	// dominating the opposite sibling in parentHash.
	hashEmpty
	// hashPlaceholder is a transient marker used only inside the working
	// vectors calculateHashes builds while ascending the forest. It never
	// appears in committed Stump or Pollard state.
	hashPlaceholder
)

// Hash is the accumulator's opaque 32-byte digest type. It has three
// variants: a real value, the Empty sentinel used for deleted subtrees, and
// a transient Placeholder used only while recomputing roots. Two Value
// hashes compare equal iff their bytes match; Empty equals Empty; a
// Placeholder is never equal to anything, including another Placeholder.
type Hash struct {
	kind hashKind
	data [32]byte
}

// empty is the shared Empty sentinel.
var empty = Hash{kind: hashEmpty}

// placeholder is the shared transient marker.
var placeholder = Hash{kind: hashPlaceholder}

// NewHash wraps a 32 byte digest produced by the caller's hash primitive.
func NewHash(data [32]byte) Hash {
	return Hash{kind: hashValue, data: data}
}

// HashFromSlice copies the given bytes into a Hash. It panics if b is not
// exactly 32 bytes long, mirroring the teacher's use of raw 32 byte arrays
// at every call site.
func HashFromSlice(b []byte) Hash {
	if len(b) != 32 {
		panic("utreexo: HashFromSlice needs exactly 32 bytes")
	}
	var h Hash
	h.kind = hashValue
	copy(h.data[:], b)
	return h
}

// IsEmpty reports whether h is the Empty sentinel.
func (h Hash) IsEmpty() bool { return h.kind == hashEmpty }

// IsPlaceholder reports whether h is the transient Placeholder marker.
func (h Hash) IsPlaceholder() bool { return h.kind == hashPlaceholder }

// Equal reports whether h and o are the same committed value. Placeholders
// never compare equal to anything, including each other.
func (h Hash) Equal(o Hash) bool {
	if h.kind == hashPlaceholder || o.kind == hashPlaceholder {
		return false
	}
	if h.kind != o.kind {
		return false
	}
	if h.kind == hashEmpty {
		return true
	}
	return h.data == o.data
}

// Bytes returns the underlying 32 bytes. Empty and Placeholder both read as
// all zeroes; callers that need to distinguish them must use IsEmpty /
// IsPlaceholder.
func (h Hash) Bytes() [32]byte { return h.data }

// String renders all 32 bytes of the hash in hex ("empty" or
// "placeholder" for the two sentinels), for debugging and test failure
// messages only.
func (h Hash) String() string {
	switch h.kind {
	case hashEmpty:
		return "empty"
	case hashPlaceholder:
		return "placeholder"
	default:
		return hex.EncodeToString(h.data[:])
	}
}

// AccumulatorHash is the capability boundary spec'd for substituting an
// alternative hash representation (e.g. an algebraic hash for a
// SNARK-friendly accumulator) without touching positions.go, proof.go or
// stump.go. Hash satisfies it; no second implementation ships in this
// module because nothing here needs one, same as upstream ships only its
// default digest.
type AccumulatorHash interface {
	IsEmpty() bool
	IsPlaceholder() bool
}

var _ AccumulatorHash = Hash{}

// parentHash computes H(left ∥ right), the SHA-512/256 of the two 32 byte
// digests concatenated. It must only be called when neither side is Empty;
// callers route through ParentHash, which applies the Empty-collapse rule
// first.
func parentHash(left, right Hash) Hash {
	var buf [64]byte
	copy(buf[:32], left.data[:])
	copy(buf[32:], right.data[:])
	return NewHash(sha512.Sum512_256(buf[:]))
}

// ParentHash returns the Merkle parent of left and right. If both are
// Empty, the result is Empty. If exactly one side is Empty, the non-empty
// side is returned unchanged, preserving a subtree when its sibling has
// been deleted. Otherwise it hashes the concatenation of the two digests.
func ParentHash(left, right Hash) Hash {
	if left.IsEmpty() && right.IsEmpty() {
		return empty
	}
	if left.IsEmpty() {
		return right
	}
	if right.IsEmpty() {
		return left
	}
	return parentHash(left, right)
}

// HashFromByte hashes a single byte with SHA-256, the leaf preimage spec
// §8's concrete scenarios are phrased in terms of (the `h(k)` helper).
// Internal nodes use ParentHash's SHA-512/256 instead; leaves and parents
// deliberately use different primitives, mirroring the original's
// hash_from_u8/parent_hash split.
func HashFromByte(k byte) Hash {
	return NewHash(sha256.Sum256([]byte{k}))
}

// HashFromUint64 hashes the 8 byte big-endian encoding of k with SHA-256,
// the same leaf primitive HashFromByte uses. Unlike HashFromByte it never
// collides across more than 256 distinct ids, which matters for generators
// (e.g. simChain) that mint one leaf per id over a run far longer than 256
// blocks.
func HashFromUint64(k uint64) Hash {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], k)
	return NewHash(sha256.Sum256(buf[:]))
}

// printHashes renders a slice of hashes for debug/error output, matching
// the teacher's own helper of the same name referenced from prove.go.
func printHashes(hashes []Hash) string {
	s := ""
	for _, h := range hashes {
		s += h.String() + "\n"
	}
	return s
}
