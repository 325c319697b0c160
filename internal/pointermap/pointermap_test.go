package pointermap

import (
	"context"
	"testing"

	"github.com/dsmmcken/scanflow/internal/addr"
	"github.com/dsmmcken/scanflow/internal/target/fake"
)

func le64(v uint64) []byte {
	b := make([]byte, 8)
	for i := range b {
		b[i] = byte(v >> (8 * i))
	}
	return b
}

func buildFixture() *fake.Target {
	tgt := fake.New(8)
	// region A at 0x10000 holds a pointer to 0x20000 at its start.
	a := make([]byte, 16)
	copy(a, le64(0x20000))
	tgt.MapRegion(0x10000, a)
	// region B at 0x20000 holds a pointer to 0x30000 at its start.
	b := make([]byte, 16)
	copy(b, le64(0x30000))
	tgt.MapRegion(0x20000, b)
	// region C at 0x30000 holds an unrelated value.
	c := make([]byte, 16)
	tgt.MapRegion(0x30000, c)
	return tgt
}

func TestPointerMapForwardAndInverse(t *testing.T) {
	tgt := buildFixture()
	pm := New(Options{Gap: 4096})
	if err := pm.Build(context.Background(), tgt); err != nil {
		t.Fatalf("Build: %v", err)
	}

	val, ok := pm.Lookup(0x10000)
	if !ok || val != 0x20000 {
		t.Fatalf("Lookup(0x10000) = (%s,%v), want (0x20000,true)", val, ok)
	}

	// Soundness: every forward-map value lies inside some mapped range.
	mapped := []addr.Range{{Base: 0x10000, Length: 16}, {Base: 0x20000, Length: 16}, {Base: 0x30000, Length: 16}}
	for _, p := range pm.Keys() {
		v, ok := pm.Lookup(p)
		if !ok {
			t.Fatalf("Keys() returned %s but Lookup failed", p)
		}
		inRange := false
		for _, r := range mapped {
			if r.Contains(v) {
				inRange = true
			}
		}
		if !inRange {
			t.Fatalf("forward[%s] = %s lies outside every mapped range", p, v)
		}
	}

	// Inverse-map transposition, spot-checked on one entry: forward[0x10000]
	// is 0x20000, so 0x10000 must be listed under inverse[0x20000].
	groups := pm.InverseWindow(0, addr.Address(1)<<47)
	foundA := false
	for _, g := range groups {
		if g.Val == 0x20000 {
			for _, pos := range g.Positions {
				if pos == 0x10000 {
					foundA = true
				}
			}
		}
	}
	if !foundA {
		t.Fatal("expected inverse map to contain 0x10000 under value 0x20000")
	}
}

func TestBuildParallelMatchesSequential(t *testing.T) {
	tgt := buildFixture()

	seq := New(Options{Gap: 4096})
	if err := seq.Build(context.Background(), tgt); err != nil {
		t.Fatalf("sequential Build: %v", err)
	}

	par := New(Options{Gap: 4096, Parallel: true, Workers: 2})
	if err := par.Build(context.Background(), tgt); err != nil {
		t.Fatalf("parallel Build: %v", err)
	}

	seqKeys, parKeys := seq.Keys(), par.Keys()
	if len(parKeys) != len(seqKeys) {
		t.Fatalf("parallel build found %d entries, sequential %d", len(parKeys), len(seqKeys))
	}
	// commit sorts by position, so the two builds must agree exactly.
	for i := range seqKeys {
		if parKeys[i] != seqKeys[i] {
			t.Fatalf("parallel keys %v, sequential keys %v", parKeys, seqKeys)
		}
		sv, _ := seq.Lookup(seqKeys[i])
		pv, ok := par.Lookup(parKeys[i])
		if !ok || pv != sv {
			t.Fatalf("Lookup(%s) = (%s,%v) in parallel build, want %s", parKeys[i], pv, ok, sv)
		}
	}
}

func TestInverseWindowRespectsBounds(t *testing.T) {
	tgt := buildFixture()
	pm := New(Options{Gap: 4096})
	if err := pm.Build(context.Background(), tgt); err != nil {
		t.Fatal(err)
	}

	groups := pm.InverseWindow(0x20000, 0x20000)
	for _, g := range groups {
		if g.Val != 0x20000 {
			t.Fatalf("InverseWindow returned out-of-bounds value %s", g.Val)
		}
	}

	empty := pm.InverseWindow(0x50000, 0x60000)
	if len(empty) != 0 {
		t.Fatalf("expected no groups in an empty window, got %d", len(empty))
	}
}
