package utreexo

import (
	"fmt"
	"math/bits"
	"sort"
)

// treeRows returns the number of rows of the smallest perfect binary tree
// that covers n leaves: ceil(log2(n)), with treeRows(0) == 0.
func treeRows(n uint64) uint8 {
	if n == 0 {
		return 0
	}
	return uint8(bits.Len64(n - 1))
}

// numRoots returns the number of roots a forest of n leaves has: the
// population count of n.
func numRoots(n uint64) int {
	return bits.OnesCount64(n)
}

// detectRow returns the row of pos (0 meaning a leaf) in a forest of the
// given total rows.
func detectRow(pos uint64, forestRows uint8) uint8 {
	marker := uint64(1) << forestRows
	row := uint8(0)
	for pos&marker != 0 {
		marker >>= 1
		row++
	}
	return row
}

// parent returns the position of p's parent.
func parent(p uint64, forestRows uint8) uint64 {
	return (p >> 1) + (uint64(1) << forestRows)
}

// sibling returns the position of p's sibling (the other child of p's
// parent).
func sibling(p uint64) uint64 {
	return p ^ 1
}

// leftSib returns the left sibling of the pair p belongs to.
func leftSib(p uint64) uint64 {
	return p &^ 1
}

// rightSib returns the right sibling of the pair p belongs to.
func rightSib(p uint64) uint64 {
	return p | 1
}

// isLeftNiece reports whether p occupies the left slot of its sibling pair.
// The niece/nephew terminology follows the aunt-niece relationship used by
// the Pollard: a node at an even position is always the left child of
// whatever it is a child of, independent of row.
func isLeftNiece(p uint64) bool {
	return p&1 == 0
}

// leftChild returns the position of p's left child. p must not be a leaf.
func leftChild(p uint64, forestRows uint8) uint64 {
	return (p - (uint64(1) << forestRows)) << 1
}

// rightChild returns the position of p's right child. p must not be a leaf.
func rightChild(p uint64, forestRows uint8) uint64 {
	return leftChild(p, forestRows) | 1
}

// rowOffset returns the position of the first (leftmost) node in the given
// row, in a forest with the given total rows.
func rowOffset(row, forestRows uint8) uint64 {
	return (uint64(2) << forestRows) - (uint64(2) << (forestRows - row))
}

// rootPosition returns the absolute position of the row-`row` root in a
// forest holding numLeaves leaves.
func rootPosition(numLeaves uint64, row, forestRows uint8) uint64 {
	mask := (uint64(2) << forestRows) - 1
	before := numLeaves & (mask << (row + 1))
	shifted := (before >> row) | (mask << (forestRows + 1 - row))
	return shifted & mask
}

// RootPositions returns the absolute position of every root currently
// occupied in a forest of numLeaves leaves, ordered from the highest row
// (the largest subtree) to the lowest — the same order Stump.Roots uses.
func RootPositions(numLeaves uint64, forestRows uint8) []uint64 {
	var out []uint64
	for r := int(forestRows); r >= 0; r-- {
		if numLeaves&(uint64(1)<<uint(r)) != 0 {
			out = append(out, rootPosition(numLeaves, uint8(r), forestRows))
		}
	}
	return out
}

// isRootPosition reports whether pos is currently a root position in a
// forest of numLeaves leaves.
func isRootPosition(pos, numLeaves uint64, forestRows uint8) bool {
	row := detectRow(pos, forestRows)
	if numLeaves&(uint64(1)<<row) == 0 {
		return false
	}
	return pos == rootPosition(numLeaves, row, forestRows)
}

// maxPositionAtRow returns the highest occupied position at the given row
// in a forest of numLeaves leaves. Used only for debug printing.
func maxPositionAtRow(row, forestRows uint8, numLeaves uint64) (uint64, error) {
	if row > forestRows {
		return 0, fmt.Errorf("utreexo: row %d exceeds forest height %d", row, forestRows)
	}
	width := numLeaves >> row
	if width == 0 {
		return 0, fmt.Errorf("utreexo: row %d is empty for %d leaves", row, numLeaves)
	}
	return rowOffset(row, forestRows) + width - 1, nil
}

// translatePos re-expresses pos, given in a forest of fromRows total rows,
// as the equivalent position in a forest of toRows total rows holding the
// same leaves. Leaf positions (row 0) are always unaffected; only internal
// node numbering shifts, because row 0 always starts at offset 0 regardless
// of forest height.
func translatePos(pos uint64, fromRows, toRows uint8) uint64 {
	if fromRows == toRows {
		return pos
	}
	row := detectRow(pos, fromRows)
	local := pos - rowOffset(row, fromRows)
	return rowOffset(row, toRows) + local
}

// detectOffset decomposes pos into the row of the root subtree it falls
// under (tree), how many edges down from that root it sits (depth), and the
// navigation bits (MSB first) that walk from the root down to pos. tree
// doubles as a stable subtree identifier: two positions share a tree iff
// they are covered by the same root. Ported from rustreexo's
// Pollard::detect_offset (src/accumulator/pollard.rs), the authoritative
// final revision; bit-exact agreement across implementations is required
// since a proof built against one decomposition must verify against any
// other conforming one.
func detectOffset(pos, numLeaves uint64) (tree uint8, depth uint8, navBits uint64) {
	forestRows := treeRows(numLeaves)
	row := detectRow(pos, forestRows)

	biggerTrees := forestRows
	tr := forestRows
	marker := pos

	for (marker<<row)&((uint64(2)<<tr)-1) >= (uint64(1)<<tr)&numLeaves {
		treeSize := (uint64(1) << tr) & numLeaves
		marker -= treeSize
		biggerTrees--
		tr--
	}

	return biggerTrees, tr - row, marker
}

// deTwin replaces any two sibling positions in the (sorted, deduplicated)
// input by their shared parent, repeating to a fixpoint. It is the required
// pre-processing for both proof generation and deletion so that neither
// algorithm ever has to reason about a node whose sibling is also being
// touched in the same batch.
func deTwin(positions []uint64, forestRows uint8) []uint64 {
	out := append([]uint64(nil), positions...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })

	for i := 0; i < len(out)-1; i++ {
		if rightSib(out[i]) != out[i+1] {
			continue
		}

		par := parent(out[i], forestRows)
		out = append(out[:i], out[i+2:]...)

		idx := sort.Search(len(out), func(j int) bool { return out[j] >= par })
		out = append(out, 0)
		copy(out[idx+1:], out[idx:])
		out[idx] = par

		// Restart the scan from the start: removing the pair shifted a new
		// element into slot i, and the inserted parent may now form a new
		// sibling pair with either neighbour.
		i = -1
	}

	return out
}

// proofPositions returns, for the given (sorted, deduplicated) targets in a
// forest of numLeaves leaves, the sibling positions a proof must supply
// (needPositions) and the positions that can be derived purely from the
// targets and each other without additional proof material
// (computedPositions). Both are returned sorted ascending by position.
func proofPositions(targets []uint64, numLeaves uint64, forestRows uint8) (needPositions, computedPositions []uint64) {
	queue := deTwin(targets, forestRows)

	for len(queue) > 0 {
		pos := queue[0]
		queue = queue[1:]

		if isRootPosition(pos, numLeaves, forestRows) {
			continue
		}

		computedPositions = append(computedPositions, pos)

		sib := sibling(pos)
		if idx := indexOfUint64(queue, sib); idx != -1 {
			queue = append(queue[:idx], queue[idx+1:]...)
			computedPositions = append(computedPositions, sib)
		} else {
			needPositions = append(needPositions, sib)
		}

		queue = insertSortedUnique(queue, parent(pos, forestRows))
	}

	sort.Slice(needPositions, func(i, j int) bool { return needPositions[i] < needPositions[j] })
	sort.Slice(computedPositions, func(i, j int) bool { return computedPositions[i] < computedPositions[j] })
	return needPositions, computedPositions
}

// proofPosition is the single-target convenience form of proofPositions,
// returning only the sibling positions a proof of pos needs.
func proofPosition(pos, numLeaves uint64, forestRows uint8) []uint64 {
	need, _ := proofPositions([]uint64{pos}, numLeaves, forestRows)
	return need
}

// isAncestor reports whether higher is a strict ancestor of lower in a
// forest with the given total rows.
func isAncestor(higher, lower uint64, forestRows uint8) bool {
	if higher == lower {
		return false
	}
	higherRow := detectRow(higher, forestRows)
	lowerRow := detectRow(lower, forestRows)
	if higherRow <= lowerRow {
		return false
	}

	pos := lower
	for r := lowerRow; r < higherRow; r++ {
		pos = parent(pos, forestRows)
	}
	return pos == higher
}

// calcNextPosition returns where `position` ends up once the subtree rooted
// at `from` is promoted up by one row (the promote-sibling step of
// deletion). Positions strictly below `from` are untouched, since nothing
// about `from`'s own subtree changes shape; `from` itself (and anything
// already sharing its row) climbs to its former parent's slot, because the
// Empty-hash collapse rule makes that slot's hash equal to `from`'s.
func calcNextPosition(position, from uint64, forestRows uint8) (uint64, error) {
	posRow := detectRow(position, forestRows)
	fromRow := detectRow(from, forestRows)

	switch {
	case posRow < fromRow:
		return position, nil
	case posRow == fromRow:
		return parent(position, forestRows), nil
	default:
		return 0, fmt.Errorf("utreexo: calcNextPosition: %d is above %d", position, from)
	}
}

func indexOfUint64(s []uint64, v uint64) int {
	for i, x := range s {
		if x == v {
			return i
		}
	}
	return -1
}

func insertSortedUnique(s []uint64, v uint64) []uint64 {
	idx := sort.Search(len(s), func(i int) bool { return s[i] >= v })
	if idx < len(s) && s[idx] == v {
		return s
	}
	s = append(s, 0)
	copy(s[idx+1:], s[idx:])
	s[idx] = v
	return s
}

func uint64Cmp(a, b uint64) int {
	if a < b {
		return -1
	} else if a > b {
		return 1
	}
	return 0
}
