// Package pointermap enumerates every pointer-sized word in the target's
// reachable memory, producing a forward map (position -> value) and an
// inverse map (value -> positions), plus the sorted position list the
// resolver binary searches.
//
// The forward map is a sorted slice of packed (Address, Address) pairs and
// the inverse map a sorted slice of per-value position groups, rather
// than tree-shaped containers: a multi-gigabyte target yields tens to
// hundreds of millions of entries, and flat sorted arrays keep that
// affordable while still giving O(log n + k) range queries.
package pointermap

import (
	"context"
	"encoding/binary"
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/dsmmcken/scanflow/internal/addr"
	"github.com/dsmmcken/scanflow/internal/scanner"
	"github.com/dsmmcken/scanflow/internal/target"
	"github.com/dsmmcken/scanflow/internal/workerpool"
)

const sweepStride = 4096

// Options configures a PointerMap build.
type Options struct {
	Gap      uint64 // page-map coalescing gap; zero means scanner.DefaultGap
	Parallel bool
	Workers  int
	// Order is the byte order pointer words are decoded with. Nil means
	// binary.LittleEndian; big-endian targets are not supported by any
	// shipped adapter, but the decode step is parameterised so one would
	// not require a rewrite.
	Order binary.ByteOrder
	Log   *logrus.Entry
}

// entry is one forward-map record: a pointer-sized word was found at Pos
// holding the value Val, and Val resolves inside some mapped range.
type entry struct {
	Pos addr.Address
	Val addr.Address
}

// InverseGroup is one inverse-map bucket: every position in Positions
// holds a pointer-sized word equal to Val.
type InverseGroup struct {
	Val       addr.Address
	Positions []addr.Address
}

// PointerMap is the built graph. Read-only after Build returns; safe for
// concurrent readers.
type PointerMap struct {
	opts Options
	log  *logrus.Entry

	forward []entry        // sorted by Pos
	groups  []InverseGroup // sorted by Val
}

// New creates an empty PointerMap with the given options.
func New(opts Options) *PointerMap {
	if opts.Gap == 0 {
		opts.Gap = scanner.DefaultGap
	}
	if opts.Order == nil {
		opts.Order = binary.LittleEndian
	}
	if opts.Log == nil {
		opts.Log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &PointerMap{opts: opts, log: opts.Log}
}

// Reset clears the map.
func (pm *PointerMap) Reset() {
	pm.forward = nil
	pm.groups = nil
}

// Build sweeps all mapped memory and (re)populates the forward and
// inverse maps.
func (pm *PointerMap) Build(ctx context.Context, mem target.Memory) error {
	addrSize := mem.AddressSize()
	if addrSize != 4 && addrSize != 8 {
		return fmt.Errorf("pointermap: unsupported address size %d", addrSize)
	}

	pageMap, err := mem.PageMap(ctx, pm.opts.Gap, 0, addr.Address(1)<<47)
	if err != nil {
		return fmt.Errorf("pointermap: page map: %w", err)
	}

	var mu sync.Mutex
	var all []entry

	sweepOne := func(r addr.Range, handle target.Memory) error {
		found, err := sweepRange(ctx, handle, r, addrSize, pm.opts.Order, pageMap)
		if err != nil {
			pm.log.WithError(err).WithField("range", r.Base).Warn("pointermap: skipping unreadable page")
			return nil
		}
		mu.Lock()
		all = append(all, found...)
		mu.Unlock()
		return nil
	}

	if pm.opts.Parallel {
		if cloner, ok := mem.(target.Cloner); ok {
			workers := pm.opts.Workers
			if workers <= 0 {
				workers = len(pageMap)
			}
			err := workerpool.Run(workers, pageMap, func(r addr.Range) error {
				handle := target.Memory(mem)
				if h, err := cloner.Clone(); err == nil {
					handle = h
				}
				return sweepOne(r, handle)
			})
			if err != nil {
				return err
			}
			pm.commit(all)
			return nil
		}
	}

	for _, r := range pageMap {
		if err := sweepOne(r, mem); err != nil {
			return err
		}
	}
	pm.commit(all)
	return nil
}

func sweepRange(ctx context.Context, mem target.Memory, r addr.Range, addrSize int, order binary.ByteOrder, pageMap []addr.Range) ([]entry, error) {
	overlap := uint64(addrSize - 1)
	buf := make([]byte, sweepStride+overlap)
	var found []entry

	for off := uint64(0); off < r.Length; off += sweepStride {
		readLen := sweepStride + overlap
		remaining := r.Length - off
		if readLen > remaining {
			readLen = remaining
		}
		if readLen < uint64(addrSize) {
			break
		}
		n, err := mem.ReadRange(ctx, r.Base.Add(off), buf[:readLen])
		if err != nil {
			return found, err
		}
		window := buf[:n]
		for i := 0; i+addrSize <= len(window); i++ {
			val := decodeWord(window[i:i+addrSize], addrSize, order)
			if inPageMap(pageMap, val) {
				found = append(found, entry{Pos: r.Base.Add(off + uint64(i)), Val: val})
			}
		}
	}
	return found, nil
}

// decodeWord interprets addrSize bytes as an unsigned integer in the
// target's byte order, zero-extended to 64 bits.
func decodeWord(b []byte, addrSize int, order binary.ByteOrder) addr.Address {
	if addrSize == 4 {
		return addr.Address(order.Uint32(b))
	}
	return addr.Address(order.Uint64(b))
}

// inPageMap binary-searches the sorted, coalesced page map for containment.
func inPageMap(pageMap []addr.Range, a addr.Address) bool {
	i := sort.Search(len(pageMap), func(i int) bool { return pageMap[i].End() > a })
	return i < len(pageMap) && pageMap[i].Contains(a)
}

func (pm *PointerMap) commit(all []entry) {
	sort.Slice(all, func(i, j int) bool { return all[i].Pos < all[j].Pos })
	pm.forward = all

	grouped := make([]entry, len(all))
	copy(grouped, all)
	sort.Slice(grouped, func(i, j int) bool { return grouped[i].Val < grouped[j].Val })

	var groups []InverseGroup
	for i := 0; i < len(grouped); {
		j := i + 1
		for j < len(grouped) && grouped[j].Val == grouped[i].Val {
			j++
		}
		positions := make([]addr.Address, 0, j-i)
		for _, e := range grouped[i:j] {
			positions = append(positions, e.Pos)
		}
		groups = append(groups, InverseGroup{Val: grouped[i].Val, Positions: positions})
		i = j
	}
	pm.groups = groups
}

// Keys returns the sorted forward-map positions: every address at which a
// resolvable pointer-sized word was found. This is the start-point set
// offset_scan uses when code anchors are not requested.
func (pm *PointerMap) Keys() []addr.Address {
	out := make([]addr.Address, len(pm.forward))
	for i, e := range pm.forward {
		out[i] = e.Pos
	}
	return out
}

// Lookup returns the value stored at position p, if p is a forward-map key.
func (pm *PointerMap) Lookup(p addr.Address) (addr.Address, bool) {
	i := sort.Search(len(pm.forward), func(i int) bool { return pm.forward[i].Pos >= p })
	if i < len(pm.forward) && pm.forward[i].Pos == p {
		return pm.forward[i].Val, true
	}
	return 0, false
}

// InverseWindow returns every inverse-map group whose value lies in
// [lo, hi], sorted by value. The resolver's descent uses it to find
// positions pointing near a node.
func (pm *PointerMap) InverseWindow(lo, hi addr.Address) []InverseGroup {
	start := sort.Search(len(pm.groups), func(i int) bool { return pm.groups[i].Val >= lo })
	end := start
	for end < len(pm.groups) && pm.groups[end].Val <= hi {
		end++
	}
	return pm.groups[start:end]
}

// Len returns the number of forward-map entries.
func (pm *PointerMap) Len() int { return len(pm.forward) }
