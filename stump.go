package utreexo

import "fmt"

// Stump is the minimal verifier state: a leaf count plus the root hashes
// covering it. len(Roots) == popcount(NumLeaves); root i covers a subtree
// of 2^k leaves where k is the position of the i-th set bit of NumLeaves,
// counting from the most significant bit.
type Stump struct {
	NumLeaves uint64
	Roots     []Hash
}

// NewStump returns an empty Stump: no leaves, no roots.
func NewStump() Stump {
	return Stump{}
}

// UpdateData describes the effect of a successful Stump.Modify call: the
// new root set, the hashes of internal nodes freshly created while adding
// (so provers can extend their cached proofs), and the root positions
// whose hash was destroyed (collapsed to Empty) while deleting.
type UpdateData struct {
	NewNumLeaves uint64
	NewRoots     []Hash

	NewAdditionPositions []uint64
	NewAdditionHashes    []Hash

	RootsDestroyed []uint64
}

// Modify applies, in this fixed order, a proof-gated batch deletion
// followed by an addition of adds. Reversing the order is
// consensus-incompatible. On verification failure s is left unchanged and
// the error wraps ErrInvalidProof (roots disagree) or ErrMalformedProof
// (the proof's shape is wrong).
func (s *Stump) Modify(adds []Hash, delHashes []Hash, proof Proof) (UpdateData, error) {
	if len(delHashes) > 0 {
		if _, err := Verify(*s, delHashes, proof); err != nil {
			return UpdateData{}, fmt.Errorf("Stump.Modify: %w", err)
		}
	}

	next := *s
	next.Roots = append([]Hash(nil), s.Roots...)

	var destroyed []uint64
	if len(delHashes) > 0 {
		forestRows := treeRows(s.NumLeaves)
		rootPositions := RootPositions(s.NumLeaves, forestRows)
		rootIdx := make(map[uint64]int, len(rootPositions))
		for i, rp := range rootPositions {
			rootIdx[rp] = i
		}

		collapsed, err := collapseDeletions(s.NumLeaves, proof)
		if err != nil {
			return UpdateData{}, fmt.Errorf("Stump.Modify: %w", err)
		}
		for rp, idx := range rootIdx {
			h, ok := collapsed[rp]
			if !ok {
				continue
			}
			next.Roots[idx] = h
			if h.IsEmpty() {
				destroyed = append(destroyed, rp)
			}
		}
	}

	var addPositions []uint64
	var addHashes []Hash
	for _, leaf := range adds {
		row := uint8(0)
		carry := leaf
		for next.NumLeaves&(uint64(1)<<row) != 0 {
			top := next.Roots[len(next.Roots)-1]
			next.Roots = next.Roots[:len(next.Roots)-1]
			carry = ParentHash(top, carry)
			row++

			forestRows := treeRows(next.NumLeaves + 1)
			pos := rootPosition(next.NumLeaves+1, row, forestRows)
			addPositions = append(addPositions, pos)
			addHashes = append(addHashes, carry)
		}
		next.Roots = append(next.Roots, carry)
		next.NumLeaves++
	}

	*s = next

	return UpdateData{
		NewNumLeaves:         s.NumLeaves,
		NewRoots:             append([]Hash(nil), s.Roots...),
		NewAdditionPositions: addPositions,
		NewAdditionHashes:    addHashes,
		RootsDestroyed:       destroyed,
	}, nil
}

// Undo replaces s with old. Callers must have retained old from before the
// Modify call they want to reverse.
func (s *Stump) Undo(old Stump) {
	s.NumLeaves = old.NumLeaves
	s.Roots = append([]Hash(nil), old.Roots...)
}
