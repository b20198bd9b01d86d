package utreexo

import "math/rand"

// simChain is a deterministic pseudo-random block generator used by the
// fuzz and property tests: it keeps its own Pollard (with every leaf
// remembered) as a source of truth, and each NextBlock call both mutates
// that internal Pollard and returns the same adds/deletions/proof so a
// caller's independently-maintained Stump/Pollard can be fed the identical
// block and compared for agreement.
type simChain struct {
	rng    *rand.Rand
	truth  Pollard
	leaves []Hash
	nextID uint64
}

func newSimChainWithSeed(seed int64) *simChain {
	return &simChain{
		rng:   rand.New(rand.NewSource(seed)),
		truth: NewPollard(),
	}
}

// NextBlock adds numAdds freshly-minted leaves and deletes a pseudo-random
// subset of the leaves currently alive (never more than half of them, so
// the chain doesn't empty out), returning the block in the form
// Pollard.Modify / Stump.Modify expect.
func (sc *simChain) NextBlock(numAdds uint32) (adds []Leaf, delHashes []Hash, proof Proof) {
	maxDel := len(sc.leaves) / 2
	numDel := 0
	if maxDel > 0 {
		numDel = sc.rng.Intn(maxDel + 1)
	}

	delHashes = make([]Hash, 0, numDel)
	if numDel > 0 {
		perm := sc.rng.Perm(len(sc.leaves))[:numDel]
		for _, idx := range perm {
			delHashes = append(delHashes, sc.leaves[idx])
		}
		var err error
		proof, err = sc.truth.Prove(delHashes)
		if err != nil {
			panic(err)
		}
	}

	adds = make([]Leaf, numAdds)
	newLeaves := make([]Hash, numAdds)
	for i := range adds {
		h := HashFromUint64(sc.nextID)
		sc.nextID++
		adds[i] = Leaf{Hash: h, Remember: true}
		newLeaves[i] = h
	}

	if _, err := sc.truth.Modify(adds, delHashes, proof); err != nil {
		panic(err)
	}

	sc.leaves = removeHashes(sc.leaves, delHashes)
	sc.leaves = append(sc.leaves, newLeaves...)

	return adds, delHashes, proof
}

func removeHashes(from []Hash, remove []Hash) []Hash {
	if len(remove) == 0 {
		return from
	}
	drop := make(map[Hash]bool, len(remove))
	for _, h := range remove {
		drop[h] = true
	}
	out := from[:0:0]
	for _, h := range from {
		if !drop[h] {
			out = append(out, h)
		}
	}
	return out
}
