package utreexo

import (
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func leafHashes(n int) []Hash {
	out := make([]Hash, n)
	for i := range out {
		out[i] = HashFromByte(byte(i))
	}
	return out
}

// buildStump applies a full set of adds with no proof (fresh stump), as
// Scenario 2 describes.
func buildStump(t *testing.T, leaves []Hash) Stump {
	t.Helper()
	s := NewStump()
	if _, err := s.Modify(leaves, nil, Proof{}); err != nil {
		t.Fatalf("Modify: %v", err)
	}
	return s
}

func TestScenario1EmptyStump(t *testing.T) {
	s := NewStump()
	if s.NumLeaves != 0 {
		t.Errorf("fresh stump has %d leaves, want 0", s.NumLeaves)
	}
	if len(s.Roots) != 0 {
		t.Errorf("fresh stump has %d roots, want 0", len(s.Roots))
	}
}

func TestScenario2EightLeaves(t *testing.T) {
	s := buildStump(t, leafHashes(8))
	if s.NumLeaves != 8 {
		t.Fatalf("NumLeaves = %d, want 8", s.NumLeaves)
	}
	if len(s.Roots) != 1 {
		t.Fatalf("got %d roots, want 1 (8 = 2^3 is a single perfect tree)", len(s.Roots))
	}

	// Recompute the expected root by hand from the same leaves and compare.
	h := leafHashes(8)
	for len(h) > 1 {
		next := make([]Hash, 0, len(h)/2)
		for i := 0; i < len(h); i += 2 {
			next = append(next, ParentHash(h[i], h[i+1]))
		}
		h = next
	}
	if !s.Roots[0].Equal(h[0]) {
		t.Errorf("root = %v, want %v", s.Roots[0], h[0])
	}
}

func TestScenario3ProvePosition3(t *testing.T) {
	leaves := leafHashes(15)
	s := buildStump(t, leaves)

	p := NewPollard()
	adds := make([]Leaf, len(leaves))
	for i, h := range leaves {
		adds[i] = Leaf{Hash: h, Remember: true}
	}
	if _, err := p.Modify(adds, nil, Proof{}); err != nil {
		t.Fatalf("Pollard.Modify: %v", err)
	}

	proof, err := p.Prove([]Hash{leaves[3]})
	if err != nil {
		t.Fatalf("Prove: %v", err)
	}
	if len(proof.Targets) != 1 || proof.Targets[0] != 3 {
		t.Fatalf("targets = %v, want [3]", proof.Targets)
	}
	if len(proof.Proof) < 2 {
		t.Fatalf("got %d proof hashes, want at least 2 (sibling, aunt, ...)", len(proof.Proof))
	}
	wantSibling := leaves[2]
	wantAunt := ParentHash(leaves[0], leaves[1])
	if !proof.Proof[0].Equal(wantSibling) {
		t.Errorf("first proof hash = %v, want sibling h(2) = %v", proof.Proof[0], wantSibling)
	}
	if !proof.Proof[1].Equal(wantAunt) {
		t.Errorf("second proof hash = %v, want aunt parent_hash(h0,h1) = %v", proof.Proof[1], wantAunt)
	}

	if _, err := Verify(s, []Hash{leaves[3]}, proof); err != nil {
		t.Errorf("Verify failed on a proof built from the same leaves: %v", err)
	}
}

func TestScenario6OrderSensitivity(t *testing.T) {
	leaves := leafHashes(1)

	// add([h0]); delete([0])
	s1 := NewStump()
	if _, err := s1.Modify(leaves, nil, Proof{}); err != nil {
		t.Fatalf("add: %v", err)
	}
	delProof := Proof{Targets: []uint64{0}}
	if _, err := s1.Modify(nil, []Hash{leaves[0]}, delProof); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if s1.NumLeaves != 1 || len(s1.Roots) != 1 || !s1.Roots[0].IsEmpty() {
		t.Fatalf("add-then-delete: got leaves=%d roots=%v, want leaves=1 roots=[Empty]", s1.NumLeaves, s1.Roots)
	}

	// delete([0]); add([h0]) on a fresh (empty) stump: deleting a
	// nonexistent position must fail.
	s2 := NewStump()
	if _, err := s2.Modify(nil, []Hash{leaves[0]}, delProof); err == nil {
		t.Fatalf("delete-before-add succeeded against an empty stump, want an error")
	}
}

func TestProofSerializeRoundTrip(t *testing.T) {
	p := Proof{
		Targets: []uint64{1, 4, 9},
		Proof:   []Hash{HashFromByte(1), HashFromByte(2), HashFromByte(3)},
	}
	var buf bytes.Buffer
	if _, err := p.Serialize(&buf); err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	got, err := DeserializeProof(&buf)
	if err != nil {
		t.Fatalf("DeserializeProof: %v", err)
	}
	if diff := cmp.Diff(p.Targets, got.Targets); diff != "" {
		t.Errorf("targets mismatch (-want +got):\n%s", diff)
	}
	if len(got.Proof) != len(p.Proof) {
		t.Fatalf("got %d hashes, want %d", len(got.Proof), len(p.Proof))
	}
	for i := range p.Proof {
		if !got.Proof[i].Equal(p.Proof[i]) {
			t.Errorf("hash %d = %v, want %v", i, got.Proof[i], p.Proof[i])
		}
	}
}

func TestDeserializeProofRejectsTrailingBytes(t *testing.T) {
	p := Proof{Targets: []uint64{0}, Proof: []Hash{HashFromByte(1)}}
	var buf bytes.Buffer
	if _, err := p.Serialize(&buf); err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	buf.WriteByte(0xff)
	if _, err := DeserializeProof(&buf); err == nil {
		t.Fatalf("DeserializeProof accepted trailing garbage")
	}
}
