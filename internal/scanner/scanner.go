// Package scanner implements the value scanner: a staged, parallelisable
// linear scan over the target's virtual pages on the first pass,
// narrowing to an exact-match subset on every subsequent pass.
package scanner

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/dsmmcken/scanflow/internal/addr"
	"github.com/dsmmcken/scanflow/internal/target"
	"github.com/dsmmcken/scanflow/internal/workerpool"
)

// DefaultGap is the default page-map coalescing gap: mapped ranges
// closer than this are swept as one entry.
const DefaultGap = 16 * 1024 * 1024

// scanStride is the stride of the first-pass page sweep.
const scanStride = 4096

// narrowChunk is the number of prior matches the narrowing scan walks per
// chunk; each address is still read with its own ReadRange call.
const narrowChunk = 256

// Options configures a Scanner.
type Options struct {
	// Gap is the page-map coalescing gap. Zero means DefaultGap.
	Gap uint64
	// Parallel enables first-pass fan-out across page-map entries when
	// the provider supports target.Cloner. The parallel path sorts its
	// matches on completion, so the match order is ascending either way.
	Parallel bool
	// Workers bounds the first-pass worker count when Parallel is set.
	// Zero means one worker per page-map entry.
	Workers int
	Log     *logrus.Entry
}

// Scanner holds the match set and cached page map between scans.
type Scanner struct {
	opts    Options
	mu      sync.Mutex
	matches []addr.Address
	pageMap []addr.Range
	log     *logrus.Entry
}

// New creates a Scanner with the given options.
func New(opts Options) *Scanner {
	if opts.Gap == 0 {
		opts.Gap = DefaultGap
	}
	if opts.Log == nil {
		opts.Log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Scanner{opts: opts, log: opts.Log}
}

// Reset clears the match set and cached page map.
func (s *Scanner) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.matches = nil
	s.pageMap = nil
}

// Matches returns the current match set. The returned slice is owned by
// the caller; it is a copy, not a live view, so later scans never mutate
// memory the caller is holding onto.
func (s *Scanner) Matches() []addr.Address {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]addr.Address, len(s.matches))
	copy(out, s.matches)
	return out
}

// Scan performs a first scan (page sweep) if the match set is empty, or a
// narrowing scan (re-read of existing matches) otherwise. needle must be
// at least one byte long.
func (s *Scanner) Scan(ctx context.Context, mem target.Memory, needle []byte) error {
	if len(needle) == 0 {
		return fmt.Errorf("scanner: empty needle")
	}

	s.mu.Lock()
	firstPass := len(s.matches) == 0
	s.mu.Unlock()

	if firstPass {
		return s.firstScan(ctx, mem, needle)
	}
	return s.narrowScan(ctx, mem, needle)
}

func (s *Scanner) firstScan(ctx context.Context, mem target.Memory, needle []byte) error {
	pageMap, err := mem.PageMap(ctx, s.opts.Gap, 0, addr.Address(1)<<47)
	if err != nil {
		return fmt.Errorf("scanner: page map: %w", err)
	}

	s.mu.Lock()
	s.pageMap = pageMap
	s.mu.Unlock()

	if s.opts.Parallel {
		if cloner, ok := mem.(target.Cloner); ok {
			return s.firstScanParallel(ctx, mem, cloner, needle, pageMap)
		}
	}
	return s.firstScanSequential(ctx, mem, needle, pageMap)
}

func (s *Scanner) firstScanSequential(ctx context.Context, mem target.Memory, needle []byte, pageMap []addr.Range) error {
	var found []addr.Address
	buf := make([]byte, scanStride+len(needle)-1)
	for _, r := range pageMap {
		m, err := scanRange(ctx, mem, r, needle, buf)
		if err != nil {
			s.log.WithError(err).WithField("range", r.Base).Warn("scanner: skipping unreadable page")
			continue
		}
		found = append(found, m...)
	}
	s.commit(found)
	return nil
}

func (s *Scanner) firstScanParallel(ctx context.Context, mem target.Memory, cloner target.Cloner, needle []byte, pageMap []addr.Range) error {
	workers := s.opts.Workers
	if workers <= 0 {
		workers = len(pageMap)
	}

	var mu sync.Mutex
	var found []addr.Address

	err := workerpool.Run(workers, pageMap, func(r addr.Range) error {
		handle := mem
		if h, err := cloner.Clone(); err == nil {
			handle = h
		}
		buf := make([]byte, scanStride+len(needle)-1)
		m, err := scanRange(ctx, handle, r, needle, buf)
		if err != nil {
			s.log.WithError(err).WithField("range", r.Base).Warn("scanner: skipping unreadable page")
			return nil
		}
		mu.Lock()
		found = append(found, m...)
		mu.Unlock()
		return nil
	})
	if err != nil {
		return err
	}

	// Workers finish out of order; sort so results are deterministic.
	sort.Slice(found, func(i, j int) bool { return found[i] < found[j] })
	s.commit(found)
	return nil
}

// scanRange reads range r in scanStride strides, each overlapping the
// next by len(needle)-1 bytes so a match straddling a stride boundary is
// never missed.
func scanRange(ctx context.Context, mem target.Memory, r addr.Range, needle []byte, buf []byte) ([]addr.Address, error) {
	var found []addr.Address
	overlap := uint64(len(needle) - 1)
	for off := uint64(0); off < r.Length; off += scanStride {
		readLen := scanStride + overlap
		remaining := r.Length - off
		if readLen > remaining {
			readLen = remaining
		}
		if readLen < uint64(len(needle)) {
			break
		}
		n, err := mem.ReadRange(ctx, r.Base.Add(off), buf[:readLen])
		if err != nil {
			return found, err
		}
		window := buf[:n]
		for i := 0; i+len(needle) <= len(window); i++ {
			if bytesEqual(window[i:i+len(needle)], needle) {
				found = append(found, r.Base.Add(off+uint64(i)))
			}
		}
	}
	return found, nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (s *Scanner) narrowScan(ctx context.Context, mem target.Memory, needle []byte) error {
	s.mu.Lock()
	prior := s.matches
	s.mu.Unlock()

	var kept []addr.Address
	buf := make([]byte, len(needle))

	for i := 0; i < len(prior); i += narrowChunk {
		end := i + narrowChunk
		if end > len(prior) {
			end = len(prior)
		}
		for _, a := range prior[i:end] {
			n, err := mem.ReadRange(ctx, a, buf)
			if err != nil {
				s.log.WithError(err).WithField("addr", a).Warn("scanner: skipping unreadable match")
				continue
			}
			if n == len(needle) && bytesEqual(buf, needle) {
				kept = append(kept, a)
			}
		}
	}

	s.commit(kept)
	return nil
}

func (s *Scanner) commit(matches []addr.Address) {
	s.mu.Lock()
	s.matches = matches
	s.mu.Unlock()
}
