// Package fake is an in-memory Memory Provider double: a sparse set of
// byte regions standing in for a target process's address space. Tests
// map regions at chosen addresses, run the real scanner/pointer-map/
// resolver code against them, and poke bytes between passes to simulate
// the target mutating.
package fake

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/dsmmcken/scanflow/internal/addr"
	"github.com/dsmmcken/scanflow/internal/target"
)

type region struct {
	base addr.Address
	data []byte
}

func (r region) end() addr.Address { return r.base.Add(uint64(len(r.data))) }

// Target is the fake provider. It implements target.Memory,
// target.Cloner, and target.ModuleEnumerator. All methods are safe for
// concurrent use, so parallel scan paths exercise the same code they run
// against a real provider.
type Target struct {
	mu       sync.RWMutex
	addrSize int
	regions  []region
	modules  []target.Module
}

// New creates an empty fake target with the given pointer width (4 or 8).
func New(addrSize int) *Target {
	return &Target{addrSize: addrSize}
}

// MapRegion maps a copy of data at base. Regions are kept sorted by base;
// mapping overlapping regions is a test bug and panics.
func (t *Target) MapRegion(base addr.Address, data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r := region{base: base, data: append([]byte(nil), data...)}
	for _, other := range t.regions {
		if r.base < other.end() && other.base < r.end() {
			panic(fmt.Sprintf("fake: region at %s overlaps existing region at %s", base, other.base))
		}
	}
	t.regions = append(t.regions, r)
	sort.Slice(t.regions, func(i, j int) bool { return t.regions[i].base < t.regions[j].base })
}

// SetModules sets what Modules returns.
func (t *Target) SetModules(mods []target.Module) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.modules = append([]target.Module(nil), mods...)
}

// ReadRange fills buf starting at a. Unmapped bytes read as zeros, per
// the provider contract, so sweeps over coalesced page-map entries see
// the holes as zero pages rather than failing.
func (t *Target) ReadRange(ctx context.Context, a addr.Address, buf []byte) (int, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for i := range buf {
		buf[i] = 0
	}
	end := a.Add(uint64(len(buf)))
	for _, r := range t.regions {
		if r.end() <= a || r.base >= end {
			continue
		}
		lo := a
		if r.base > lo {
			lo = r.base
		}
		hi := end
		if r.end() < hi {
			hi = r.end()
		}
		copy(buf[lo-a:hi-a], r.data[lo-r.base:hi-r.base])
	}
	return len(buf), nil
}

// WriteRange overwrites mapped bytes in [a, a+len(data)). Writing a range
// that touches no mapped region is an error.
func (t *Target) WriteRange(ctx context.Context, a addr.Address, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	end := a.Add(uint64(len(data)))
	wrote := false
	for i := range t.regions {
		r := &t.regions[i]
		if r.end() <= a || r.base >= end {
			continue
		}
		lo := a
		if r.base > lo {
			lo = r.base
		}
		hi := end
		if r.end() < hi {
			hi = r.end()
		}
		copy(r.data[lo-r.base:hi-r.base], data[lo-a:hi-a])
		wrote = true
	}
	if !wrote {
		return fmt.Errorf("fake: write at %s hits no mapped region", a)
	}
	return nil
}

// PageMap returns the mapped ranges within [lower, upper), coalescing
// ranges separated by less than gap bytes into single entries.
func (t *Target) PageMap(ctx context.Context, gap uint64, lower, upper addr.Address) ([]addr.Range, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []addr.Range
	for _, r := range t.regions {
		base := r.base
		end := r.end()
		if end <= lower || base >= upper {
			continue
		}
		if base < lower {
			base = lower
		}
		if end > upper {
			end = upper
		}
		length := uint64(end - base)
		if n := len(out); n > 0 && uint64(base-out[n-1].End()) < gap {
			out[n-1].Length = uint64(end - out[n-1].Base)
			continue
		}
		out = append(out, addr.Range{Base: base, Length: length})
	}
	return out, nil
}

// AddressSize returns the pointer width passed to New.
func (t *Target) AddressSize() int { return t.addrSize }

// Clone returns a handle to the same fake target. The fake is internally
// synchronized, so sharing the state satisfies the "independent handle,
// concurrently usable" contract.
func (t *Target) Clone() (target.Memory, error) { return t, nil }

// Modules returns the modules set via SetModules.
func (t *Target) Modules(ctx context.Context) ([]target.Module, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]target.Module(nil), t.modules...), nil
}
