package utreexo

import (
	"fmt"
	"sort"

	"golang.org/x/exp/maps"
)

// Leaf is a single element presented to Pollard.Modify for addition: the
// leaf's committed hash plus whether the Pollard should keep it (and the
// path to it) cached afterward.
type Leaf struct {
	Hash     Hash
	Remember bool
}

// Pollard is an in-memory prover forest: every cached node, keyed by its
// forest position, plus a reverse index from a remembered leaf's hash back
// to its position. Only NumLeaves and the structure of the forest it
// implies (which positions exist, which are roots) are consensus-critical;
// which non-root positions happen to be cached is a purely local cache
// policy driven by each Leaf's Remember flag and by Prune.
//
// TotalRows, when nonzero, pins the forest's row count instead of letting
// it track treeRows(NumLeaves). This exists for exercising a Pollard at a
// greater-than-minimal height (mappollard_test.go's fuzz targets do this so
// that adding leaves never triggers renumbering mid-test); ordinary callers
// leave it zero.
//
// Like Stump, Pollard carries no internal synchronization: concurrent
// access requires an external mutex.
type Pollard struct {
	NumLeaves uint64
	TotalRows uint8

	Nodes        map[uint64]polNode
	CachedLeaves map[Hash]uint64
}

// NewPollard returns an empty Pollard ready for Modify.
func NewPollard() Pollard {
	return Pollard{
		Nodes:        make(map[uint64]polNode),
		CachedLeaves: make(map[Hash]uint64),
	}
}

func (p *Pollard) ensureMaps() {
	if p.Nodes == nil {
		p.Nodes = make(map[uint64]polNode)
	}
	if p.CachedLeaves == nil {
		p.CachedLeaves = make(map[Hash]uint64)
	}
}

// rows returns the forest row count Pollard's own position arithmetic
// should use: the pinned TotalRows if set, else treeRows(NumLeaves).
func (p *Pollard) rows() uint8 {
	if p.TotalRows != 0 {
		return p.TotalRows
	}
	return treeRows(p.NumLeaves)
}

func (p *Pollard) nodeAt(pos uint64) polNode {
	if n, ok := p.Nodes[pos]; ok {
		return n
	}
	return polNode{Hash: empty}
}

// GetHash returns the hash cached at pos (in Pollard's own position
// numbering, i.e. using p.rows()), or Empty if nothing is cached there.
func (p *Pollard) GetHash(pos uint64) Hash {
	return p.nodeAt(pos).Hash
}

// GetNumLeaves returns the number of leaves ever added.
func (p *Pollard) GetNumLeaves() uint64 {
	return p.NumLeaves
}

// getRoots returns the current roots together with their positions, both
// ordered from the tallest subtree to the shortest.
func (p *Pollard) getRoots() ([]Hash, []uint64) {
	positions := RootPositions(p.NumLeaves, p.rows())
	roots := make([]Hash, len(positions))
	for i, pos := range positions {
		roots[i] = p.nodeAt(pos).Hash
	}
	return roots, positions
}

// GetRoots returns the current root hashes, tallest subtree first.
func (p *Pollard) GetRoots() []Hash {
	roots, _ := p.getRoots()
	return roots
}

func (p *Pollard) stump() Stump {
	return Stump{NumLeaves: p.NumLeaves, Roots: p.GetRoots()}
}

// String renders the Pollard's leaf count and current roots for debugging.
func (p *Pollard) String() string {
	if p.NumLeaves == 0 {
		return "empty pollard\n"
	}
	return fmt.Sprintf("leaves: %d\n", p.NumLeaves) + printHashes(p.GetRoots())
}

// DebugForest renders every occupied row of the Pollard, widest (the
// leaves) last, one hash prefix per node, for interactive debugging of a
// failing test. It is not used on any verification path.
func (p *Pollard) DebugForest() string {
	rows := p.rows()
	s := fmt.Sprintf("leaves: %d rows: %d\n", p.NumLeaves, rows)
	for row := int(rows); row >= 0; row-- {
		top, err := maxPositionAtRow(uint8(row), rows, p.NumLeaves)
		if err != nil {
			continue
		}
		s += fmt.Sprintf("row %d:", row)
		for pos := rowOffset(uint8(row), rows); pos <= top; pos++ {
			n, ok := p.Nodes[pos]
			if !ok {
				continue
			}
			s += " " + n.Hash.String()[:8]
		}
		s += "\n"
	}
	return s
}

// toNatural reports the forest row count calculateHashes/collapseDeletions/
// Verify hardcode (they always use treeRows(numLeaves), ignoring any pinned
// TotalRows), alongside Pollard's own.
func (p *Pollard) toNatural(positions []uint64) (natRows uint8, translated []uint64) {
	natRows = treeRows(p.NumLeaves)
	rows := p.rows()
	if rows == natRows {
		return natRows, positions
	}
	translated = make([]uint64, len(positions))
	for i, pos := range positions {
		translated[i] = translatePos(pos, rows, natRows)
	}
	return natRows, translated
}

func (p *Pollard) fromNatural(natRows uint8, pos uint64) uint64 {
	rows := p.rows()
	if rows == natRows {
		return pos
	}
	return translatePos(pos, natRows, rows)
}

// Verify checks delHashes/proof against p's current roots. If remember is
// true and verification succeeds, every position the proof touches
// (targets and the sibling hashes needed to reach roots) is cached, and
// each target's hash is indexed in CachedLeaves so a later Prove can find
// it again — the "ingest a proof I received from someone else" operation
// implied by mappollard_test.go's `m.Verify(delHashes, proof, true)` usage.
func (p *Pollard) Verify(delHashes []Hash, proof Proof, remember bool) error {
	p.ensureMaps()

	natRows, natTargets := p.toNatural(proof.Targets)
	natProof := proof
	natProof.Targets = natTargets

	if _, err := Verify(p.stump(), delHashes, natProof); err != nil {
		return fmt.Errorf("Pollard.Verify: %w", err)
	}

	if !remember {
		return nil
	}

	intermediate, _, err := calculateHashes(p.NumLeaves, delHashes, natProof)
	if err != nil {
		return fmt.Errorf("Pollard.Verify: %w", err)
	}
	for natPos, h := range intermediate {
		ownPos := p.fromNatural(natRows, natPos)
		existing := p.nodeAt(ownPos)
		p.Nodes[ownPos] = polNode{Hash: h, Remember: existing.Remember}
	}

	for i, natPos := range natProof.Targets {
		ownPos := p.fromNatural(natRows, natPos)
		n := p.nodeAt(ownPos)
		n.Hash = delHashes[i]
		n.Remember = true
		p.Nodes[ownPos] = n
		p.CachedLeaves[delHashes[i]] = ownPos
		p.bubbleRemember(ownPos)
	}
	return nil
}

// bubbleRemember marks every ancestor of pos as Remember, stopping as soon
// as it reaches one already marked (nothing further up can newly change)
// or a root.
func (p *Pollard) bubbleRemember(pos uint64) {
	rows := p.rows()
	for !isRootPosition(pos, p.NumLeaves, rows) {
		pos = parent(pos, rows)
		n, ok := p.Nodes[pos]
		if !ok || n.Remember {
			return
		}
		n.Remember = true
		p.Nodes[pos] = n
	}
}

// Prove returns a proof of inclusion for hashes, which must all already be
// cached (via a prior Modify's Remember or a prior Verify(..., true)).
// Targets are returned in the order of hashes, so the proof pairs with
// hashes as passed, and in Pollard's own position numbering (p.rows()).
func (p *Pollard) Prove(hashes []Hash) (Proof, error) {
	p.ensureMaps()

	targets := make([]uint64, 0, len(hashes))
	for _, h := range hashes {
		pos, ok := p.CachedLeaves[h]
		if !ok {
			return Proof{}, fmt.Errorf("%w: hash %s is not cached", ErrUtreexo, h)
		}
		targets = append(targets, pos)
	}
	sorted := append([]uint64(nil), targets...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	rows := p.rows()
	need, _ := proofPositions(sorted, p.NumLeaves, rows)
	proofHashes := make([]Hash, len(need))
	for i, pos := range need {
		n, ok := p.Nodes[pos]
		if !ok {
			return Proof{}, fmt.Errorf("%w: position %d needed for the proof is not cached", ErrUtreexo, pos)
		}
		proofHashes[i] = n.Hash
	}
	return Proof{Targets: targets, Proof: proofHashes}, nil
}

// rowSnapshot is the prior (row, hash, remember) of a root consumed by a
// single leaf's carry chain, recorded so Undo can restore it.
type rowSnapshot struct {
	Row      uint8
	Hash     Hash
	Remember bool
}

// addUndo is the undo information for a single added leaf.
type addUndo struct {
	LeafHash  Hash
	LeafPos   uint64
	FinalRow  uint8
	Snapshots []rowSnapshot
}

// UndoData is the information Pollard.Modify returns so a later Undo call
// can reverse the additions (only) it performed. Per spec §9's resolved
// Open Question, deletion is not undoable: callers that need to reverse a
// deletion must keep their own snapshot (as Stump.Undo requires) and
// rebuild the Pollard's cache by re-verifying.
type UndoData struct {
	NumAdds uint64

	adds []addUndo
}

// Modify applies, in this order, a proof-gated batch deletion followed by
// an addition of adds. Reversing the order is consensus-incompatible, the
// same invariant Stump.Modify enforces.
func (p *Pollard) Modify(adds []Leaf, delHashes []Hash, proof Proof) (UndoData, error) {
	p.ensureMaps()

	if len(delHashes) > 0 {
		if err := p.deleteBatch(delHashes, proof); err != nil {
			return UndoData{}, fmt.Errorf("Pollard.Modify: %w", err)
		}
	}

	var ud UndoData
	if len(adds) > 0 {
		ud = p.addBatch(adds)
	}
	return ud, nil
}

// deleteBatch verifies proof against p's current roots, then collapses
// every touched position (targets, siblings, ancestors) the same way
// Stump.Modify does, via collapseDeletions' Empty-propagation. Every
// touched position that collapses to Empty keeps an explicit Empty entry:
// at a root (Pollard's root slot, like Stump.Roots, always has as many
// entries as popcount(NumLeaves) regardless of how many are Empty), and
// below one, where a deleted leaf's Empty hash is the sibling a later
// proof of its surviving neighbour must supply.
func (p *Pollard) deleteBatch(delHashes []Hash, proof Proof) error {
	natRows, natTargets := p.toNatural(proof.Targets)
	natProof := proof
	natProof.Targets = natTargets

	if _, err := Verify(p.stump(), delHashes, natProof); err != nil {
		return err
	}

	collapsed, err := collapseDeletions(p.NumLeaves, natProof)
	if err != nil {
		return err
	}

	rootSet := make(map[uint64]bool, numRoots(p.NumLeaves))
	for _, rp := range RootPositions(p.NumLeaves, natRows) {
		rootSet[rp] = true
	}

	for natPos, h := range collapsed {
		ownPos := p.fromNatural(natRows, natPos)
		if h.IsEmpty() {
			p.Nodes[ownPos] = polNode{Hash: empty}
			continue
		}
		existing := p.nodeAt(ownPos)
		p.Nodes[ownPos] = polNode{Hash: h, Remember: existing.Remember}
	}

	for _, h := range delHashes {
		delete(p.CachedLeaves, h)
	}
	return nil
}

// addBatch adds every leaf in adds via the binary-counter carry algorithm:
// a new leaf combines with the existing row-0 root if NumLeaves is odd,
// the result combines with the row-1 root if that row is also occupied,
// and so on, exactly mirroring Stump.Modify's addition loop but against
// Pollard's node map instead of a Roots slice. ParentHash's Empty-collapse
// rule means a previously Empty root is absorbed into the carry with no
// special case, the same trick Stump.Modify relies on.
//
// Unlike a Stump, a Pollard must also decide what to cache: a leaf whose
// Remember flag is set, or one whose carry chain merges with a root that
// already has a remembered descendant, needs its own position and its
// sibling at every row it passes through kept in Nodes so a later Prove
// can walk back up to a root. "merged" below is the OR of everything
// combined into the carry so far; once true it can never go false again
// (remember only ever accumulates), so every position from the row it
// first turns true onward is cached, and everything before that point is
// dropped since nothing beneath it was ever worth proving.
//
// If TotalRows is not pinned, the forest is grown to the final row count
// the whole batch needs before any leaf is added, and every existing cache
// entry is renumbered to match: growing mid-batch, one leaf at a time,
// would be equivalent but more code for no benefit, since final position
// numbering depends only on the final (numLeaves, forestRows) pair.
func (p *Pollard) addBatch(adds []Leaf) UndoData {
	finalTotal := p.NumLeaves + uint64(len(adds))
	rows := p.TotalRows
	if rows == 0 {
		rows = treeRows(finalTotal)
	}
	p.regrowTo(rows)

	ud := UndoData{NumAdds: uint64(len(adds))}
	for _, leaf := range adds {
		leafPos := p.NumLeaves
		au := addUndo{LeafHash: leaf.Hash, LeafPos: leafPos}

		row := uint8(0)
		pos := leafPos
		carryHash := leaf.Hash
		carryRemember := leaf.Remember

		for p.NumLeaves&(uint64(1)<<row) != 0 {
			oldPos := rootPosition(p.NumLeaves, row, rows)
			old := p.nodeAt(oldPos)
			au.Snapshots = append(au.Snapshots, rowSnapshot{Row: row, Hash: old.Hash, Remember: old.Remember})

			merged := old.Remember || carryRemember
			if merged {
				p.Nodes[pos] = polNode{Hash: carryHash, Remember: carryRemember}
				p.Nodes[oldPos] = polNode{Hash: old.Hash, Remember: old.Remember}
			} else {
				delete(p.Nodes, pos)
				delete(p.Nodes, oldPos)
			}

			carryHash = ParentHash(old.Hash, carryHash)
			carryRemember = merged
			pos = parent(pos, rows)
			row++
		}
		au.FinalRow = row

		p.Nodes[pos] = polNode{Hash: carryHash, Remember: carryRemember}
		if leaf.Remember {
			p.CachedLeaves[leaf.Hash] = leafPos
		}

		ud.adds = append(ud.adds, au)
		p.NumLeaves++
	}
	return ud
}

// regrowTo renumbers every cached position from the forest's current
// natural row count to targetRows. A no-op when TotalRows is pinned (the
// caller is responsible for pinning it tall enough) or already matches.
func (p *Pollard) regrowTo(targetRows uint8) {
	if p.TotalRows != 0 {
		return
	}
	oldRows := treeRows(p.NumLeaves)
	if oldRows == targetRows {
		return
	}

	renumbered := make(map[uint64]polNode, len(p.Nodes))
	for pos, n := range p.Nodes {
		renumbered[translatePos(pos, oldRows, targetRows)] = n
	}
	p.Nodes = renumbered

	for h, pos := range p.CachedLeaves {
		p.CachedLeaves[h] = translatePos(pos, oldRows, targetRows)
	}
}

// Undo reverses the additions described by undo, restoring each consumed
// root to its pre-addition hash and decrementing NumLeaves back down.
// Deletions are not reversible by this call (see UndoData's doc comment):
// undo must be the UndoData returned by the Modify call immediately
// preceding this one, with no further Modify in between.
func (p *Pollard) Undo(undo UndoData) error {
	p.ensureMaps()
	if undo.NumAdds > p.NumLeaves {
		return fmt.Errorf("%w: cannot undo %d adds from %d leaves", ErrUtreexo, undo.NumAdds, p.NumLeaves)
	}
	if uint64(len(undo.adds)) != undo.NumAdds {
		return fmt.Errorf("%w: undo data is missing per-leaf detail", ErrUtreexo)
	}

	rows := p.rows()
	for i := len(undo.adds) - 1; i >= 0; i-- {
		au := undo.adds[i]

		delete(p.CachedLeaves, au.LeafHash)
		pos := au.LeafPos
		for row := uint8(0); ; row++ {
			delete(p.Nodes, pos)
			if row == au.FinalRow {
				break
			}
			pos = parent(pos, rows)
		}

		for j := len(au.Snapshots) - 1; j >= 0; j-- {
			snap := au.Snapshots[j]
			oldPos := rootPosition(p.NumLeaves-1, snap.Row, rows)
			p.Nodes[oldPos] = polNode{Hash: snap.Hash, Remember: snap.Remember}
		}

		p.NumLeaves--
	}

	// Renumber back to the natural row count of the restored leaf count,
	// undoing the regrow addBatch performed.
	if natRows := treeRows(p.NumLeaves); p.TotalRows == 0 && natRows != rows {
		renumbered := make(map[uint64]polNode, len(p.Nodes))
		for pos, n := range p.Nodes {
			renumbered[translatePos(pos, rows, natRows)] = n
		}
		p.Nodes = renumbered
		for h, pos := range p.CachedLeaves {
			p.CachedLeaves[h] = translatePos(pos, rows, natRows)
		}
	}
	return nil
}

// Prune stops remembering hashes, which must currently be cached, then
// discards every cached position that a proof of a still-remembered leaf
// no longer needs; a pruned leaf that is the sibling of a remembered one
// stays in Nodes as proof material. This is the conservative rule spec §9
// resolves the prune Open Question with, a subtree is dropped only once
// every leaf beneath it is unremembered. Root positions are always kept
// (Empty or not), mirroring Stump.Roots always having popcount(NumLeaves)
// entries.
func (p *Pollard) Prune(hashes []Hash) error {
	p.ensureMaps()

	for _, h := range hashes {
		if _, ok := p.CachedLeaves[h]; !ok {
			return fmt.Errorf("%w: hash %s is not cached", ErrUtreexo, h)
		}
		delete(p.CachedLeaves, h)
	}

	rows := p.rows()
	remainingLeaves := maps.Values(p.CachedLeaves)
	sort.Slice(remainingLeaves, func(i, j int) bool { return remainingLeaves[i] < remainingLeaves[j] })

	needed := make(map[uint64]bool, len(remainingLeaves)*2)
	for _, pos := range remainingLeaves {
		needed[pos] = true
	}
	need, computed := proofPositions(remainingLeaves, p.NumLeaves, rows)
	for _, pos := range need {
		needed[pos] = true
	}
	for _, pos := range computed {
		needed[pos] = true
	}
	for _, pos := range RootPositions(p.NumLeaves, rows) {
		needed[pos] = true
	}

	for pos := range p.Nodes {
		if !needed[pos] {
			delete(p.Nodes, pos)
		}
	}
	return nil
}
