//go:build linux

// Package procfs adapts a live Linux process into the target.Memory and
// target.ModuleEnumerator interfaces via /proc/<pid>/mem and
// /proc/<pid>/maps. Reads and writes go through pread/pwrite on the mem
// file so no ptrace attach is needed beyond the kernel's ptrace-access
// check on open.
package procfs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/dsmmcken/scanflow/internal/addr"
	"github.com/dsmmcken/scanflow/internal/target"
)

// pageSize is the granularity of the unmapped-hole fallback read path.
const pageSize = 4096

// Provider is a procfs-backed Memory Provider for one target pid.
type Provider struct {
	pid      int
	addrSize int
	fd       int
}

// Open attaches to pid. addrSize is the target's pointer width (4 or 8);
// it is caller-supplied rather than probed, matching the CLI's explicit
// --addr-size flag.
func Open(pid, addrSize int) (*Provider, error) {
	if addrSize != 4 && addrSize != 8 {
		return nil, fmt.Errorf("procfs: address size must be 4 or 8, got %d", addrSize)
	}
	fd, err := unix.Open(fmt.Sprintf("/proc/%d/mem", pid), unix.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("procfs: opening /proc/%d/mem: %w", pid, err)
	}
	return &Provider{pid: pid, addrSize: addrSize, fd: fd}, nil
}

// Close releases the mem file descriptor.
func (p *Provider) Close() error {
	return unix.Close(p.fd)
}

// AddressSize returns the pointer width passed to Open.
func (p *Provider) AddressSize() int { return p.addrSize }

// Clone opens a second handle to the same pid, for concurrent workers.
func (p *Provider) Clone() (target.Memory, error) {
	return Open(p.pid, p.addrSize)
}

// ReadRange fills buf from the target at a. A read that fails mid-range
// (a page unmapped since the maps snapshot, or guarded) falls back to
// page-sized reads, leaving failed pages zeroed, so a sweep over a
// coalesced page-map entry survives holes.
func (p *Provider) ReadRange(ctx context.Context, a addr.Address, buf []byte) (int, error) {
	n, err := unix.Pread(p.fd, buf, int64(a))
	if err == nil && n == len(buf) {
		return n, nil
	}

	for i := range buf {
		buf[i] = 0
	}
	for off := 0; off < len(buf); off += pageSize {
		end := off + pageSize
		if end > len(buf) {
			end = len(buf)
		}
		if _, err := unix.Pread(p.fd, buf[off:end], int64(a)+int64(off)); err != nil {
			continue
		}
	}
	return len(buf), nil
}

// WriteRange overwrites target memory at a.
func (p *Provider) WriteRange(ctx context.Context, a addr.Address, data []byte) error {
	n, err := unix.Pwrite(p.fd, data, int64(a))
	if err != nil {
		return fmt.Errorf("procfs: pwrite at %s: %w", a, err)
	}
	if n != len(data) {
		return fmt.Errorf("procfs: short write at %s: %d of %d bytes", a, n, len(data))
	}
	return nil
}

// PageMap parses /proc/<pid>/maps and returns the readable ranges within
// [lower, upper), coalescing ranges separated by less than gap bytes.
func (p *Provider) PageMap(ctx context.Context, gap uint64, lower, upper addr.Address) ([]addr.Range, error) {
	lines, err := p.readMaps()
	if err != nil {
		return nil, err
	}

	var out []addr.Range
	for _, m := range lines {
		if !m.readable {
			continue
		}
		base, end := m.start, m.end
		if end <= lower || base >= upper {
			continue
		}
		if base < lower {
			base = lower
		}
		if end > upper {
			end = upper
		}
		if n := len(out); n > 0 && uint64(base-out[n-1].End()) < gap {
			out[n-1].Length = uint64(end - out[n-1].Base)
			continue
		}
		out = append(out, addr.Range{Base: base, Length: uint64(end - base)})
	}
	return out, nil
}

// Modules derives the loaded-module list from file-backed mappings: each
// distinct pathname becomes one module spanning its lowest base to its
// highest end, which is where the image header sits for both ELF and PE
// (Wine/Proton) images.
func (p *Provider) Modules(ctx context.Context) ([]target.Module, error) {
	lines, err := p.readMaps()
	if err != nil {
		return nil, err
	}

	type span struct {
		base addr.Address
		end  addr.Address
	}
	spans := make(map[string]*span)
	for _, m := range lines {
		if m.path == "" || strings.HasPrefix(m.path, "[") {
			continue
		}
		s, ok := spans[m.path]
		if !ok {
			spans[m.path] = &span{base: m.start, end: m.end}
			continue
		}
		if m.start < s.base {
			s.base = m.start
		}
		if m.end > s.end {
			s.end = m.end
		}
	}

	out := make([]target.Module, 0, len(spans))
	for path, s := range spans {
		out = append(out, target.Module{
			Name: filepath.Base(path),
			Base: s.base,
			Size: uint64(s.end - s.base),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Base < out[j].Base })
	return out, nil
}

// readMaps reads and parses /proc/<pid>/maps.
func (p *Provider) readMaps() ([]mapsLine, error) {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/maps", p.pid))
	if err != nil {
		return nil, fmt.Errorf("procfs: reading maps: %w", err)
	}
	return parseMaps(string(data)), nil
}
