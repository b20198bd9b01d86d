package utreexo

import (
	"encoding/binary"
	"fmt"
	"io"
	"sort"

	"golang.org/x/exp/slices"
)

// Proof is a batched inclusion witness: the leaf positions being proven,
// and the sibling hashes needed to walk from them up to roots the verifier
// already holds. Targets are kept in strictly ascending order after
// canonicalization; Proof holds the sibling hashes ordered by the position
// of the node they represent.
type Proof struct {
	Targets []uint64
	Proof   []Hash
}

// String renders a proof for debugging and test failure messages.
func (p *Proof) String() string {
	s := fmt.Sprintf("targets: %v\n", p.Targets)
	s += printHashes(p.Proof)
	return s
}

// Serialize writes p to w in the wire format:
//
//	u32 n_targets
//	u64[n_targets] targets
//	u32 n_hashes
//	[32]byte[n_hashes] hashes
//
// all fields little-endian. It returns the number of bytes written.
func (p *Proof) Serialize(w io.Writer) (int, error) {
	n := 0
	if err := binary.Write(w, binary.LittleEndian, uint32(len(p.Targets))); err != nil {
		return n, fmt.Errorf("utreexo: writing target count: %w", err)
	}
	n += 4
	for _, t := range p.Targets {
		if err := binary.Write(w, binary.LittleEndian, t); err != nil {
			return n, fmt.Errorf("utreexo: writing target: %w", err)
		}
		n += 8
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(p.Proof))); err != nil {
		return n, fmt.Errorf("utreexo: writing hash count: %w", err)
	}
	n += 4
	for _, h := range p.Proof {
		b := h.Bytes()
		written, err := w.Write(b[:])
		n += written
		if err != nil {
			return n, fmt.Errorf("utreexo: writing hash: %w", err)
		}
	}
	return n, nil
}

// DeserializeProof reads a Proof from r in the wire format Serialize
// writes. It rejects truncated input and input with trailing bytes.
func DeserializeProof(r io.Reader) (Proof, error) {
	var nTargets uint32
	if err := binary.Read(r, binary.LittleEndian, &nTargets); err != nil {
		return Proof{}, fmt.Errorf("%w: reading target count: %v", ErrMalformedProof, err)
	}
	targets := make([]uint64, nTargets)
	for i := range targets {
		if err := binary.Read(r, binary.LittleEndian, &targets[i]); err != nil {
			return Proof{}, fmt.Errorf("%w: truncated targets: %v", ErrMalformedProof, err)
		}
	}

	var nHashes uint32
	if err := binary.Read(r, binary.LittleEndian, &nHashes); err != nil {
		return Proof{}, fmt.Errorf("%w: reading hash count: %v", ErrMalformedProof, err)
	}
	hashes := make([]Hash, nHashes)
	for i := range hashes {
		var raw [32]byte
		if _, err := io.ReadFull(r, raw[:]); err != nil {
			return Proof{}, fmt.Errorf("%w: truncated hashes: %v", ErrMalformedProof, err)
		}
		hashes[i] = NewHash(raw)
	}

	var extra [1]byte
	if n, err := r.Read(extra[:]); n > 0 || (err != nil && err != io.EOF) {
		return Proof{}, fmt.Errorf("%w: trailing bytes after proof", ErrMalformedProof)
	}

	return Proof{Targets: targets, Proof: hashes}, nil
}

// hashAndPos pairs a forest position with the hash believed to sit there;
// it is the working unit calculateHashes ascends the forest with.
type hashAndPos struct {
	pos  uint64
	hash Hash
}

func toHashAndPos(positions []uint64, hashes []Hash) []hashAndPos {
	out := make([]hashAndPos, len(positions))
	for i, p := range positions {
		out[i] = hashAndPos{pos: p, hash: hashes[i]}
	}
	return out
}

// calculateHashes implements spec's calculate_hashes: it canonicalizes
// targets against delHashes, interleaves them with the proof's sibling
// hashes at exactly the positions get_proof_positions names, and ascends
// the forest combining sibling pairs until every remaining entry is a root.
//
// It returns every position touched along the way (targets, proof
// positions, and freshly combined parents) keyed by position, and the
// roots encountered, in the order they were produced.
func calculateHashes(numLeaves uint64, delHashes []Hash, proof Proof) (map[uint64]Hash, []Hash, error) {
	if len(proof.Targets) != len(delHashes) {
		return nil, nil, fmt.Errorf("%w: %d targets but %d hashes", ErrMalformedProof, len(proof.Targets), len(delHashes))
	}
	if len(proof.Targets) == 0 {
		return map[uint64]Hash{}, nil, nil
	}

	targets := append([]uint64(nil), proof.Targets...)
	targetHashes := append([]Hash(nil), delHashes...)
	sort.Sort(&posHashSort{targets, targetHashes})
	for i := 1; i < len(targets); i++ {
		if targets[i] == targets[i-1] {
			return nil, nil, fmt.Errorf("%w: duplicate target %d", ErrMalformedProof, targets[i])
		}
	}
	if targets[len(targets)-1] >= numLeaves {
		return nil, nil, fmt.Errorf("%w: target %d is out of range for %d leaves", ErrMalformedProof, targets[len(targets)-1], numLeaves)
	}

	forestRows := treeRows(numLeaves)
	needPositions, _ := proofPositions(targets, numLeaves, forestRows)
	if len(needPositions) != len(proof.Proof) {
		return nil, nil, fmt.Errorf("%w: proof supplies %d hashes but %d are needed", ErrMalformedProof, len(proof.Proof), len(needPositions))
	}

	nodes := mergeHashAndPos(toHashAndPos(targets, targetHashes), toHashAndPos(needPositions, proof.Proof))

	intermediate := make(map[uint64]Hash, len(nodes)*2)
	var roots []Hash

	for len(nodes) > 0 {
		cur := nodes[0]
		intermediate[cur.pos] = cur.hash

		if len(nodes) > 1 && rightSib(cur.pos) == nodes[1].pos {
			par := parent(cur.pos, forestRows)
			ph := ParentHash(cur.hash, nodes[1].hash)
			intermediate[nodes[1].pos] = nodes[1].hash
			nodes = insertHashAndPos(nodes[2:], hashAndPos{pos: par, hash: ph})
			continue
		}

		if !isRootPosition(cur.pos, numLeaves, forestRows) {
			return nil, nil, fmt.Errorf("%w: position %d has no sibling and is not a root", ErrInvalidProof, cur.pos)
		}
		roots = append(roots, cur.hash)
		nodes = nodes[1:]
	}

	return intermediate, roots, nil
}

// posHashSort sorts parallel position/hash slices by position, keeping
// them paired, exactly as canonicalization requires.
type posHashSort struct {
	pos    []uint64
	hashes []Hash
}

func (s *posHashSort) Len() int      { return len(s.pos) }
func (s *posHashSort) Swap(i, j int) { s.pos[i], s.pos[j] = s.pos[j], s.pos[i]; s.hashes[i], s.hashes[j] = s.hashes[j], s.hashes[i] }
func (s *posHashSort) Less(i, j int) bool {
	return s.pos[i] < s.pos[j]
}

func mergeHashAndPos(a, b []hashAndPos) []hashAndPos {
	out := make([]hashAndPos, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if a[i].pos <= b[j].pos {
			out = append(out, a[i])
			i++
		} else {
			out = append(out, b[j])
			j++
		}
	}
	out = append(out, a[i:]...)
	out = append(out, b[j:]...)
	return out
}

func insertHashAndPos(sorted []hashAndPos, v hashAndPos) []hashAndPos {
	idx := sort.Search(len(sorted), func(i int) bool { return sorted[i].pos >= v.pos })
	sorted = append(sorted, hashAndPos{})
	copy(sorted[idx+1:], sorted[idx:])
	sorted[idx] = v
	return sorted
}

// collapseDeletions walks proof.Targets up to their roots the same way
// calculateHashes does, except each target starts as Empty rather than its
// former leaf hash. ParentHash's Empty-collapse rule then does the actual
// work: a deleted leaf's sibling subtree propagates upward untouched until
// it reaches a position whose other side was not deleted, which is exactly
// what "promote-sibling" deletion requires. The returned map holds every
// touched position, including roots (which may themselves end up Empty if
// their whole subtree was deleted).
func collapseDeletions(numLeaves uint64, proof Proof) (map[uint64]Hash, error) {
	if len(proof.Targets) == 0 {
		return map[uint64]Hash{}, nil
	}

	forestRows := treeRows(numLeaves)
	targets := append([]uint64(nil), proof.Targets...)
	sort.Slice(targets, func(i, j int) bool { return targets[i] < targets[j] })
	if targets[len(targets)-1] >= numLeaves {
		return nil, fmt.Errorf("%w: target %d is out of range for %d leaves", ErrMalformedProof, targets[len(targets)-1], numLeaves)
	}

	needPositions, _ := proofPositions(targets, numLeaves, forestRows)
	if len(needPositions) != len(proof.Proof) {
		return nil, fmt.Errorf("%w: proof supplies %d hashes but %d are needed", ErrMalformedProof, len(proof.Proof), len(needPositions))
	}

	targetHashes := make([]Hash, len(targets))
	for i := range targetHashes {
		targetHashes[i] = empty
	}

	nodes := mergeHashAndPos(toHashAndPos(targets, targetHashes), toHashAndPos(needPositions, proof.Proof))

	intermediate := make(map[uint64]Hash, len(nodes)*2)
	for len(nodes) > 0 {
		cur := nodes[0]
		intermediate[cur.pos] = cur.hash

		if len(nodes) > 1 && rightSib(cur.pos) == nodes[1].pos {
			par := parent(cur.pos, forestRows)
			ph := ParentHash(cur.hash, nodes[1].hash)
			intermediate[nodes[1].pos] = nodes[1].hash
			nodes = insertHashAndPos(nodes[2:], hashAndPos{pos: par, hash: ph})
			continue
		}

		nodes = nodes[1:]
	}

	return intermediate, nil
}

// Verify recomputes roots from proof and delHashes against s and reports
// the indexes, into s.Roots, of every root that was touched and matched.
// Any mismatch between a recomputed root and the stump's root at the same
// position is reported as ErrInvalidProof.
func Verify(s Stump, delHashes []Hash, proof Proof) ([]int, error) {
	intermediate, _, err := calculateHashes(s.NumLeaves, delHashes, proof)
	if err != nil {
		return nil, err
	}

	forestRows := treeRows(s.NumLeaves)
	rootPositions := RootPositions(s.NumLeaves, forestRows)
	if len(rootPositions) != len(s.Roots) {
		return nil, fmt.Errorf("%w: stump has %d roots but %d are expected for %d leaves",
			ErrUtreexo, len(s.Roots), len(rootPositions), s.NumLeaves)
	}

	var matched []int
	for i, rp := range rootPositions {
		computed, ok := intermediate[rp]
		if !ok {
			continue
		}
		if !computed.Equal(s.Roots[i]) {
			return nil, fmt.Errorf("%w: root %d disagrees with proof", ErrInvalidProof, i)
		}
		matched = append(matched, i)
	}
	return matched, nil
}

// GetMissingPositions returns the proof positions desiredTargets would need
// that aren't already supplied by proofTargets (and its implied proof
// positions). Used to figure out what a cache still has to fetch before it
// can prove a larger target set.
func GetMissingPositions(numLeaves uint64, proofTargets, desiredTargets []uint64) []uint64 {
	forestRows := treeRows(numLeaves)

	have := make(map[uint64]bool, len(proofTargets)*2)
	for _, p := range proofTargets {
		have[p] = true
	}
	haveNeed, _ := proofPositions(proofTargets, numLeaves, forestRows)
	for _, p := range haveNeed {
		have[p] = true
	}

	want, _ := proofPositions(desiredTargets, numLeaves, forestRows)

	var missing []uint64
	for _, p := range want {
		if !have[p] {
			missing = append(missing, p)
		}
	}
	sort.Slice(missing, func(i, j int) bool { return missing[i] < missing[j] })
	return missing
}

// RemoveTargets drops remTargets from a cached proof, keeping only the
// proof hashes still needed for the remaining targets.
func RemoveTargets(numLeaves uint64, delHashes []Hash, proof Proof, remTargets []uint64) Proof {
	remove := make(map[uint64]bool, len(remTargets))
	for _, t := range remTargets {
		remove[t] = true
	}

	var keptTargets []uint64
	for _, t := range proof.Targets {
		if !remove[t] {
			keptTargets = append(keptTargets, t)
		}
	}

	forestRows := treeRows(numLeaves)
	need, _ := proofPositions(keptTargets, numLeaves, forestRows)

	have := proofPositionMap(numLeaves, delHashes, proof)

	// A witness outside every surviving target's own root subtree can
	// never appear in need (proofPositions never crosses subtree
	// boundaries), so it is pruned here rather than carried forward and
	// silently ignored — the same subtree bound the teacher's
	// detectOffset-based filtering establishes in RemoveTargets.
	subtrees := make(map[uint8]bool, len(keptTargets))
	for _, t := range keptTargets {
		tree, _, _ := detectOffset(t, numLeaves)
		subtrees[tree] = true
	}
	for p := range have {
		tree, _, _ := detectOffset(p, numLeaves)
		if !subtrees[tree] {
			delete(have, p)
		}
	}

	newProof := make([]Hash, 0, len(need))
	for _, p := range need {
		if h, ok := have[p]; ok {
			newProof = append(newProof, h)
		}
	}

	return Proof{Targets: keptTargets, Proof: newProof}
}

// proofPositionMap pairs every need-position of proof with the hash it
// carries, plus every target position with its caller-supplied del hash.
// Omitting the latter is the bug a prior revision of this file had: a
// merged need-position can coincide with one input proof's own target
// (common when two target sets share a subtree), and without the target
// hashes in the table that position's hash is silently unavailable,
// producing an invalid merged proof. It is the lookup table
// RemoveTargets/AddProof use to recombine proofs without re-deriving
// hashes they already have.
func proofPositionMap(numLeaves uint64, delHashes []Hash, proof Proof) map[uint64]Hash {
	forestRows := treeRows(numLeaves)
	need, _ := proofPositions(proof.Targets, numLeaves, forestRows)
	have := make(map[uint64]Hash, len(need)+len(proof.Targets))
	for i, p := range need {
		if i < len(proof.Proof) {
			have[p] = proof.Proof[i]
		}
	}
	for i, t := range proof.Targets {
		if i < len(delHashes) {
			have[t] = delHashes[i]
		}
	}
	return have
}

// AddProof merges proof and newProof, both valid against the same
// numLeaves, into a single proof covering the union of their targets, and
// returns the del hashes in the same merged target order.
func AddProof(proof, newProof Proof, delHashes, newDelHashes []Hash, numLeaves uint64) ([]Hash, Proof) {
	type tgt struct {
		pos  uint64
		hash Hash
	}

	all := make([]tgt, 0, len(proof.Targets)+len(newProof.Targets))
	for i, p := range proof.Targets {
		if i < len(delHashes) {
			all = append(all, tgt{p, delHashes[i]})
		}
	}
	for i, p := range newProof.Targets {
		if i < len(newDelHashes) {
			all = append(all, tgt{p, newDelHashes[i]})
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].pos < all[j].pos })

	var mergedPos []uint64
	merged := make([]tgt, 0, len(all))
	for _, t := range all {
		if slices.Contains(mergedPos, t.pos) {
			continue
		}
		mergedPos = append(mergedPos, t.pos)
		merged = append(merged, t)
	}

	mergedTargets := make([]uint64, len(merged))
	mergedHashes := make([]Hash, len(merged))
	for i, t := range merged {
		mergedTargets[i] = t.pos
		mergedHashes[i] = t.hash
	}

	forestRows := treeRows(numLeaves)
	need, _ := proofPositions(mergedTargets, numLeaves, forestRows)

	have := proofPositionMap(numLeaves, delHashes, proof)
	for p, h := range proofPositionMap(numLeaves, newDelHashes, newProof) {
		have[p] = h
	}

	combined := make([]Hash, 0, len(need))
	for _, p := range need {
		if h, ok := have[p]; ok {
			combined = append(combined, h)
		}
	}

	return mergedHashes, Proof{Targets: mergedTargets, Proof: combined}
}

// ModifyProof folds newProof's targets into proof and drops remTargets,
// producing the proof and paired del hashes a cache should keep after a
// modification that deletes remTargets and wants newProof's targets
// remembered going forward. It is built from RemoveTargets and AddProof
// rather than a single bespoke pass, since the two already capture the
// discard and extend halves of spec's "update" algorithm.
func ModifyProof(numLeaves uint64, proof Proof, delHashes []Hash, remTargets []uint64, newProof Proof, newHashes []Hash) ([]Hash, Proof) {
	remove := make(map[uint64]bool, len(remTargets))
	for _, t := range remTargets {
		remove[t] = true
	}

	keep := make(map[uint64]Hash, len(proof.Targets))
	for i, t := range proof.Targets {
		if !remove[t] && i < len(delHashes) {
			keep[t] = delHashes[i]
		}
	}

	trimmed := RemoveTargets(numLeaves, delHashes, proof, remTargets)
	keptHashes := make([]Hash, len(trimmed.Targets))
	for i, t := range trimmed.Targets {
		keptHashes[i] = keep[t]
	}

	return AddProof(trimmed, newProof, keptHashes, newHashes, numLeaves)
}

// proofAfterDeletion reports the new directly-provable positions a forest
// of numLeaves leaves gains once every target in proof is deleted, and
// their hashes. The Empty-collapse rule (ParentHash) propagates each
// deleted leaf upward until it reaches a position whose sibling subtree
// was not also touched, promoting that sibling's value to stand in for the
// pair (or leaving an Empty root, if the whole subtree was deleted); those
// frontier positions are exactly the new targets a cached proof must learn
// about to stay consistent with the post-deletion forest. The returned
// Proof's own Proof field carries whatever witnesses for those frontier
// positions the deletion happened to produce along the way; a caller
// that needs to prove the frontier further up a subtree the deletion
// didn't touch must still fetch those witnesses itself.
func proofAfterDeletion(numLeaves uint64, proof Proof) ([]Hash, Proof) {
	forestRows := treeRows(numLeaves)

	touched, err := collapseDeletions(numLeaves, proof)
	if err != nil || len(touched) == 0 {
		return nil, Proof{}
	}

	var frontier []uint64
	for pos := range touched {
		// pos was folded into its parent iff both halves of its pair
		// ended up in touched and the parent entry they produced is
		// there too; such a pos is superseded by that parent entry and
		// isn't itself a frontier. The parent check guards against two
		// unrelated roots that happen to land on adjacent positions.
		_, lok := touched[leftSib(pos)]
		_, rok := touched[rightSib(pos)]
		if lok && rok {
			if _, pok := touched[parent(pos, forestRows)]; pok {
				continue
			}
		}
		frontier = append(frontier, pos)
	}
	sort.Slice(frontier, func(i, j int) bool { return uint64Cmp(frontier[i], frontier[j]) < 0 })

	hashes := make([]Hash, len(frontier))
	for i, pos := range frontier {
		hashes[i] = touched[pos]
	}

	need, _ := proofPositions(frontier, numLeaves, forestRows)
	witnesses := make([]Hash, 0, len(need))
	for _, p := range need {
		if h, ok := touched[p]; ok {
			witnesses = append(witnesses, h)
		}
	}

	return hashes, Proof{Targets: frontier, Proof: witnesses}
}
