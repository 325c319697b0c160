// Package resolver recovers offset chains: a bounded depth-first walk
// over the pointer graph that finds paths of the form
// anchor + off0 -> deref -> + off1 -> ... -> target within a configurable
// proximity window.
package resolver

import (
	"sort"

	"github.com/dsmmcken/scanflow/internal/addr"
	"github.com/dsmmcken/scanflow/internal/pointermap"
)

// Step is one (node, offset) pair in a chain, in root-to-target order.
type Step struct {
	Node   addr.Address
	Offset int64
}

// Chain is one resolved path from an anchor to a target address.
type Chain struct {
	Target addr.Address
	Steps  []Step
}

// Options configures a resolver run.
type Options struct {
	// Lower bounds how far past a node the window search looks; Upper
	// bounds how far before it. The window at node N is [N-Upper, N+Lower]:
	// struct fields sit at positive offsets from a pointed-to object, so
	// the asymmetric mapping is intentional.
	Lower, Upper uint64
	MaxDepth     int
}

// Resolver walks pm's inverse map looking for anchors in a sorted slice
// of candidate start-point addresses (either all pointer-map keys or
// code-extracted globals).
type Resolver struct {
	pm      *pointermap.PointerMap
	anchors []addr.Address
	opts    Options
}

// New creates a Resolver. anchors must be sorted ascending; Resolve does
// not sort them (callers typically pass pm.Keys(), already sorted, or a
// sorted copy of the code anchor extractor's addresses).
func New(pm *pointermap.PointerMap, anchors []addr.Address, opts Options) *Resolver {
	return &Resolver{pm: pm, anchors: anchors, opts: opts}
}

// Resolve finds chains for every target address: each walk starts at the
// target itself, depth 1, with an empty path, and works backward toward
// an anchor.
func (r *Resolver) Resolve(targets []addr.Address) []Chain {
	var chains []Chain
	for _, t := range targets {
		r.walk(t, t, 1, nil, &chains)
	}
	return chains
}

func (r *Resolver) walk(target, node addr.Address, depth int, path []Step, out *[]Chain) {
	lo := node.Sub(r.opts.Upper)
	hi := node.Add(r.opts.Lower)

	// Anchor selection at this depth: binary-search for the lowest
	// anchor >= lo, iterate while <= hi, keep the one with the smallest
	// absolute signed distance. The strict less-than comparison keeps the
	// first-seen candidate on a tie, which biases toward positive
	// distances since anchors below the node are visited first.
	if a, ok := nearestAnchor(r.anchors, node, lo, hi); ok {
		diff := addr.SignedDiff(node, a)
		chain := Chain{
			Target: target,
			Steps:  reversedWith(path, Step{Node: a, Offset: diff}),
		}
		*out = append(*out, chain)
	}

	// Descent, bounded by MaxDepth.
	if depth < r.opts.MaxDepth {
		for _, g := range r.pm.InverseWindow(lo, hi) {
			offset := addr.SignedDiff(node, g.Val)
			step := Step{Node: g.Val, Offset: offset}
			nextPath := append(append([]Step(nil), path...), step)
			for _, v := range g.Positions {
				r.walk(target, v, depth+1, nextPath, out)
			}
		}
	}
}

// nearestAnchor finds the anchor in [lo, hi] closest to node, tie-broken
// toward positive SignedDiff(node, anchor).
func nearestAnchor(anchors []addr.Address, node, lo, hi addr.Address) (addr.Address, bool) {
	start := sort.Search(len(anchors), func(i int) bool { return anchors[i] >= lo })

	var best addr.Address
	bestAbs := int64(-1)
	found := false
	for i := start; i < len(anchors) && anchors[i] <= hi; i++ {
		diff := addr.SignedDiff(node, anchors[i])
		abs := diff
		if abs < 0 {
			abs = -abs
		}
		if !found || abs < bestAbs {
			best = anchors[i]
			bestAbs = abs
			found = true
		}
	}
	return best, found
}

// reversedWith returns path with step appended, then reversed into
// root-to-target order.
func reversedWith(path []Step, step Step) []Step {
	full := make([]Step, 0, len(path)+1)
	full = append(full, path...)
	full = append(full, step)
	for i, j := 0, len(full)-1; i < j; i, j = i+1, j-1 {
		full[i], full[j] = full[j], full[i]
	}
	return full
}
