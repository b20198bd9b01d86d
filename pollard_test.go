package utreexo

import "testing"

func buildPollard(t *testing.T, leaves []Hash, remember bool) Pollard {
	t.Helper()
	p := NewPollard()
	adds := make([]Leaf, len(leaves))
	for i, h := range leaves {
		adds[i] = Leaf{Hash: h, Remember: remember}
	}
	if _, err := p.Modify(adds, nil, Proof{}); err != nil {
		t.Fatalf("Pollard.Modify (add): %v", err)
	}
	return p
}

func TestPollardScenario4RootChildDelete(t *testing.T) {
	leaves := leafHashes(2)
	p := buildPollard(t, leaves, true)

	proof, err := p.Prove([]Hash{leaves[1]})
	if err != nil {
		t.Fatalf("Prove: %v", err)
	}
	if _, err := p.Modify(nil, []Hash{leaves[1]}, proof); err != nil {
		t.Fatalf("Modify (delete): %v", err)
	}

	roots := p.GetRoots()
	if len(roots) != 1 {
		t.Fatalf("got %d roots, want 1", len(roots))
	}
	if !roots[0].Equal(leaves[0]) {
		t.Errorf("root = %v, want h(0) = %v", roots[0], leaves[0])
	}
}

func TestPollardScenario5MigrateUp(t *testing.T) {
	leaves := leafHashes(4)
	p := buildPollard(t, leaves, true)

	proof, err := p.Prove([]Hash{leaves[3]})
	if err != nil {
		t.Fatalf("Prove: %v", err)
	}
	if _, err := p.Modify(nil, []Hash{leaves[3]}, proof); err != nil {
		t.Fatalf("Modify (delete): %v", err)
	}

	roots := p.GetRoots()
	if len(roots) != 1 {
		t.Fatalf("got %d roots, want 1", len(roots))
	}
	want := ParentHash(ParentHash(leaves[0], leaves[1]), leaves[2])
	if !roots[0].Equal(want) {
		t.Errorf("root = %v, want %v", roots[0], want)
	}
}

// TestProperty2StumpPollardAgreement walks a scripted sequence of adds and
// deletes through both a Stump and a Pollard built from the same leaves and
// checks their roots agree at every step.
func TestProperty2StumpPollardAgreement(t *testing.T) {
	leaves := leafHashes(10)
	s := NewStump()
	p := NewPollard()

	adds := make([]Leaf, len(leaves))
	for i, h := range leaves {
		adds[i] = Leaf{Hash: h, Remember: true}
	}
	if _, err := s.Modify(leaves, nil, Proof{}); err != nil {
		t.Fatalf("Stump add: %v", err)
	}
	if _, err := p.Modify(adds, nil, Proof{}); err != nil {
		t.Fatalf("Pollard add: %v", err)
	}
	assertRootsMatch(t, s, &p)

	delTargets := []Hash{leaves[2], leaves[3]}
	proof, err := p.Prove(delTargets)
	if err != nil {
		t.Fatalf("Prove: %v", err)
	}
	if _, err := s.Modify(nil, delTargets, proof); err != nil {
		t.Fatalf("Stump delete: %v", err)
	}
	if _, err := p.Modify(nil, delTargets, proof); err != nil {
		t.Fatalf("Pollard delete: %v", err)
	}
	assertRootsMatch(t, s, &p)

	more := leafHashes(3)
	moreAdds := []Leaf{{Hash: more[0], Remember: true}, {Hash: more[1], Remember: true}, {Hash: more[2], Remember: true}}
	if _, err := s.Modify(more, nil, Proof{}); err != nil {
		t.Fatalf("Stump add 2: %v", err)
	}
	if _, err := p.Modify(moreAdds, nil, Proof{}); err != nil {
		t.Fatalf("Pollard add 2: %v", err)
	}
	assertRootsMatch(t, s, &p)
}

func assertRootsMatch(t *testing.T, s Stump, p *Pollard) {
	t.Helper()
	if s.NumLeaves != p.GetNumLeaves() {
		t.Fatalf("NumLeaves mismatch: stump=%d pollard=%d", s.NumLeaves, p.GetNumLeaves())
	}
	pr := p.GetRoots()
	if len(pr) != len(s.Roots) {
		t.Fatalf("root count mismatch: stump=%d pollard=%d", len(s.Roots), len(pr))
	}
	for i := range s.Roots {
		if !s.Roots[i].Equal(pr[i]) {
			t.Errorf("root %d mismatch: stump=%v pollard=%v", i, s.Roots[i], pr[i])
		}
	}
}

// TestProperty3PollardAddUndo: add(L); undo_adds(|L|) restores the prior
// Pollard roots and leaf count.
func TestProperty3PollardAddUndo(t *testing.T) {
	p := buildPollard(t, leafHashes(6), true)
	before := p.stump()

	more := leafHashes(4)
	adds := make([]Leaf, len(more))
	for i, h := range more {
		adds[i] = Leaf{Hash: h, Remember: true}
	}
	ud, err := p.Modify(adds, nil, Proof{})
	if err != nil {
		t.Fatalf("Modify: %v", err)
	}
	if err := p.Undo(ud); err != nil {
		t.Fatalf("Undo: %v", err)
	}

	after := p.stump()
	if after.NumLeaves != before.NumLeaves {
		t.Errorf("NumLeaves = %d, want %d", after.NumLeaves, before.NumLeaves)
	}
	for i := range before.Roots {
		if !before.Roots[i].Equal(after.Roots[i]) {
			t.Errorf("root %d = %v, want %v", i, after.Roots[i], before.Roots[i])
		}
	}
}

// TestProperty4VerifyRoundTrip: a proof produced by Prove for targets
// currently cached in p must verify against p's own roots.
func TestProperty4VerifyRoundTrip(t *testing.T) {
	leaves := leafHashes(11)
	p := buildPollard(t, leaves, true)

	want := []Hash{leaves[4], leaves[7]}
	proof, err := p.Prove(want)
	if err != nil {
		t.Fatalf("Prove: %v", err)
	}
	if _, err := Verify(p.stump(), want, Proof{Targets: proof.Targets, Proof: proof.Proof}); err != nil {
		t.Errorf("Verify rejected a proof Prove just built: %v", err)
	}
}

// TestProperty5ProofDeterminism: proving the same targets twice in a row
// (with no mutation in between) returns byte-identical proofs.
func TestProperty5ProofDeterminism(t *testing.T) {
	leaves := leafHashes(9)
	p := buildPollard(t, leaves, true)

	want := []Hash{leaves[1], leaves[5], leaves[8]}
	p1, err := p.Prove(want)
	if err != nil {
		t.Fatalf("Prove (1): %v", err)
	}
	p2, err := p.Prove(want)
	if err != nil {
		t.Fatalf("Prove (2): %v", err)
	}
	if len(p1.Targets) != len(p2.Targets) || len(p1.Proof) != len(p2.Proof) {
		t.Fatalf("non-deterministic proof shape: %v vs %v", p1, p2)
	}
	for i := range p1.Targets {
		if p1.Targets[i] != p2.Targets[i] {
			t.Errorf("target %d differs: %d vs %d", i, p1.Targets[i], p2.Targets[i])
		}
	}
	for i := range p1.Proof {
		if !p1.Proof[i].Equal(p2.Proof[i]) {
			t.Errorf("proof hash %d differs between calls", i)
		}
	}
}

// TestPollardVerifyIngestThenProve mirrors mappollard_test.go's pattern: a
// Pollard that never saw a leaf directly can still ingest a proof someone
// else built (Verify with remember=true) and then prove that same leaf
// itself afterward.
func TestPollardVerifyIngestThenProve(t *testing.T) {
	leaves := leafHashes(8)
	full := buildPollard(t, leaves, true)

	proof, err := full.Prove([]Hash{leaves[5]})
	if err != nil {
		t.Fatalf("Prove: %v", err)
	}

	bare := buildPollard(t, leaves, false)
	if err := bare.Verify([]Hash{leaves[5]}, proof, true); err != nil {
		t.Fatalf("Verify(remember=true): %v", err)
	}

	gotProof, err := bare.Prove([]Hash{leaves[5]})
	if err != nil {
		t.Fatalf("Prove after ingest: %v", err)
	}
	if len(gotProof.Targets) != 1 || gotProof.Targets[0] != proof.Targets[0] {
		t.Errorf("targets = %v, want %v", gotProof.Targets, proof.Targets)
	}
}

func TestPollardPrune(t *testing.T) {
	leaves := leafHashes(8)
	p := buildPollard(t, leaves, true)

	keep := leaves[3]
	toDrop := []Hash{leaves[0], leaves[1], leaves[2], leaves[4], leaves[5], leaves[6], leaves[7]}
	if err := p.Prune(toDrop); err != nil {
		t.Fatalf("Prune: %v", err)
	}

	if _, ok := p.CachedLeaves[keep]; !ok {
		t.Fatalf("Prune dropped a leaf that was not requested")
	}
	proof, err := p.Prove([]Hash{keep})
	if err != nil {
		t.Fatalf("Prove after Prune: %v", err)
	}
	if _, err := Verify(p.stump(), []Hash{keep}, proof); err != nil {
		t.Errorf("proof built after Prune failed to verify: %v", err)
	}

	for _, h := range toDrop {
		if _, ok := p.CachedLeaves[h]; ok {
			t.Errorf("Prune left a pruned leaf in CachedLeaves")
		}
	}
}

func TestPollardTotalRowsPinned(t *testing.T) {
	p := NewPollard()
	p.TotalRows = 6

	leaves := leafHashes(5)
	adds := make([]Leaf, len(leaves))
	for i, h := range leaves {
		adds[i] = Leaf{Hash: h, Remember: true}
	}
	if _, err := p.Modify(adds, nil, Proof{}); err != nil {
		t.Fatalf("Modify: %v", err)
	}
	if p.rows() != 6 {
		t.Fatalf("rows() = %d, want pinned 6", p.rows())
	}

	proof, err := p.Prove([]Hash{leaves[3]})
	if err != nil {
		t.Fatalf("Prove: %v", err)
	}
	if _, err := p.Modify(nil, []Hash{leaves[3]}, proof); err != nil {
		t.Fatalf("Modify (delete): %v", err)
	}
	if p.rows() != 6 {
		t.Fatalf("rows() changed after delete under a pinned TotalRows: %d", p.rows())
	}

	more := leafHashes(2)
	moreAdds := []Leaf{{Hash: more[0], Remember: true}, {Hash: more[1], Remember: true}}
	if _, err := p.Modify(moreAdds, nil, Proof{}); err != nil {
		t.Fatalf("Modify (add more): %v", err)
	}
	if p.rows() != 6 {
		t.Fatalf("rows() changed after a further add under a pinned TotalRows: %d", p.rows())
	}
}
