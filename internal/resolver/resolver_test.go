package resolver

import (
	"context"
	"testing"

	"github.com/dsmmcken/scanflow/internal/addr"
	"github.com/dsmmcken/scanflow/internal/pointermap"
	"github.com/dsmmcken/scanflow/internal/target/fake"
)

func le64(v uint64) []byte {
	b := make([]byte, 8)
	for i := range b {
		b[i] = byte(v >> (8 * i))
	}
	return b
}

// buildChainFixture maps a two-hop pointer topology:
// 0x10000 -> 0x20000 -> 0x30000, with 0x30000 holding an unrelated value.
func buildChainFixture(t *testing.T) *pointermap.PointerMap {
	t.Helper()
	tgt := fake.New(8)
	a := make([]byte, 16)
	copy(a, le64(0x20000))
	tgt.MapRegion(0x10000, a)
	b := make([]byte, 16)
	copy(b, le64(0x30000))
	tgt.MapRegion(0x20000, b)
	c := make([]byte, 16)
	tgt.MapRegion(0x30000, c)

	pm := pointermap.New(pointermap.Options{Gap: 4096})
	if err := pm.Build(context.Background(), tgt); err != nil {
		t.Fatalf("Build: %v", err)
	}
	return pm
}

// traverse replays a chain's steps against a simple in-test memory model
// to check resolver soundness: starting from a0+o0, dereferencing and
// adding each subsequent offset must yield the chain's target.
func traverse(deref func(addr.Address) (addr.Address, bool), c Chain) (addr.Address, bool) {
	if len(c.Steps) == 0 {
		return 0, false
	}
	cur := c.Steps[0].Node.Add(uint64(c.Steps[0].Offset))
	if c.Steps[0].Offset < 0 {
		cur = c.Steps[0].Node.Sub(uint64(-c.Steps[0].Offset))
	}
	for _, step := range c.Steps[1:] {
		val, ok := deref(cur)
		if !ok {
			return 0, false
		}
		if step.Offset >= 0 {
			cur = val.Add(uint64(step.Offset))
		} else {
			cur = val.Sub(uint64(-step.Offset))
		}
	}
	return cur, true
}

func TestResolveProducesSoundChains(t *testing.T) {
	pm := buildChainFixture(t)
	anchors := pm.Keys() // "n": all pointer-map keys as start-points

	r := New(pm, anchors, Options{Lower: 0, Upper: 0, MaxDepth: 2})
	chains := r.Resolve([]addr.Address{0x30000})

	if len(chains) == 0 {
		t.Fatal("expected at least one emitted chain")
	}

	deref := func(a addr.Address) (addr.Address, bool) {
		v, ok := pm.Lookup(a)
		return v, ok
	}

	for _, c := range chains {
		got, ok := traverse(deref, c)
		if !ok {
			t.Fatalf("chain %+v could not be traversed", c)
		}
		if got != c.Target {
			t.Errorf("chain %+v traversed to %s, want target %s", c, got, c.Target)
		}
		for _, step := range c.Steps {
			if step.Offset != 0 {
				t.Errorf("step offset %d outside zero-width window", step.Offset)
			}
		}
	}
}

func TestResolveRespectsWindow(t *testing.T) {
	pm := buildChainFixture(t)
	anchors := pm.Keys()

	lower, upper := uint64(0), uint64(0)
	r := New(pm, anchors, Options{Lower: lower, Upper: upper, MaxDepth: 3})
	chains := r.Resolve([]addr.Address{0x30000})

	for _, c := range chains {
		for _, step := range c.Steps {
			if step.Offset > int64(lower) || step.Offset < -int64(upper) {
				t.Errorf("step offset %d escaped window [-%d,+%d]", step.Offset, upper, lower)
			}
		}
	}
}

func TestNearestAnchorTieBreaksPositive(t *testing.T) {
	node := addr.Address(1000)
	anchors := []addr.Address{node - 4, node + 4}

	got, ok := nearestAnchor(anchors, node, node-4, node+4)
	if !ok {
		t.Fatal("expected an anchor in window")
	}
	// Positive bias means the preferred anchor is the one signed_diff(node,
	// anchor) is positive for, i.e. anchor < node: node-4, not node+4.
	if got != node-4 {
		t.Fatalf("nearestAnchor tie-break chose %s, want %s (positive-biased)", got, node-4)
	}
}
