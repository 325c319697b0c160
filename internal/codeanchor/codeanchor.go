// Package codeanchor disassembles the executable sections of loaded
// modules and records IP-relative, non-branch memory references as stable
// anchor candidates. Mutable state is rarely at a fixed address, but the
// globals that code reaches through RIP-relative operands are; those
// addresses seed the offset-chain resolver's start-point set.
package codeanchor

import (
	"bytes"
	"context"
	"debug/elf"
	"fmt"
	"sort"

	"github.com/mewrev/pe"
	"github.com/sirupsen/logrus"
	"golang.org/x/arch/x86/x86asm"

	"github.com/dsmmcken/scanflow/internal/addr"
	"github.com/dsmmcken/scanflow/internal/scanerr"
	"github.com/dsmmcken/scanflow/internal/target"
)

const (
	headerReadSize = 128 * 1024
	chunkSize      = 2 * 1024 * 1024
	chunkOverlap   = 32

	// imageSCNCntCode is IMAGE_SCN_CNT_CODE, PE section characteristics bit 0x20.
	imageSCNCntCode = 0x20
)

// Ref is one entry of the global-reference map: an instruction at IP uses
// IP-relative addressing to reach Target, a non-branch datum.
type Ref struct {
	IP     addr.Address
	Target addr.Address
}

// Options configures an Extractor.
type Options struct {
	Log *logrus.Entry
}

// Extractor holds the accumulated global-reference map across one or more
// module passes.
type Extractor struct {
	opts Options
	log  *logrus.Entry
	refs map[addr.Address]addr.Address
}

// New creates an empty Extractor.
func New(opts Options) *Extractor {
	if opts.Log == nil {
		opts.Log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Extractor{opts: opts, log: opts.Log, refs: make(map[addr.Address]addr.Address)}
}

// Reset clears the global-reference map.
func (e *Extractor) Reset() {
	e.refs = make(map[addr.Address]addr.Address)
}

// Globals returns a sorted snapshot of the global-reference map.
func (e *Extractor) Globals() []Ref {
	out := make([]Ref, 0, len(e.refs))
	for ip, tgt := range e.refs {
		out = append(out, Ref{IP: ip, Target: tgt})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IP < out[j].IP })
	return out
}

// execSection is a section's (rva, size) pair relative to its module base,
// before rebasing against the module's runtime load address.
type execSection struct {
	base addr.Address
	size uint64
}

// Section is an executable section of a loaded module, addresses already
// rebased against the module's load base.
type Section struct {
	Base addr.Address
	Size uint64
}

// CollectGlobals walks every loaded module, parses its image header, and
// disassembles its executable sections. A module with a malformed header
// is logged and skipped; the pass continues.
func (e *Extractor) CollectGlobals(ctx context.Context, mem target.Memory, modules []target.Module) error {
	for _, m := range modules {
		if err := e.collectModule(ctx, mem, m); err != nil {
			e.log.WithError(err).WithField("module", m.Name).Warn("codeanchor: skipping module")
		}
	}
	return nil
}

func (e *Extractor) collectModule(ctx context.Context, mem target.Memory, m target.Module) error {
	sections, mode, err := ModuleSections(ctx, mem, m)
	if err != nil {
		return err
	}
	for _, sec := range sections {
		if err := e.decodeSection(ctx, mem, sec.Base, sec.Size, mode); err != nil {
			e.log.WithError(err).WithField("section_base", sec.Base).Warn("codeanchor: skipping section")
		}
	}
	return nil
}

// ModuleSections reads m's image header and returns its executable
// sections (base addresses rebased against m.Base) plus the x86asm decode
// mode (32 or 64). Exported so the sigmaker command paths (internal/cmd
// and internal/replsession) can locate the section enclosing a given
// instruction address without re-parsing module headers themselves.
func ModuleSections(ctx context.Context, mem target.Memory, m target.Module) ([]Section, int, error) {
	header := make([]byte, headerReadSize)
	n, err := mem.ReadRange(ctx, m.Base, header)
	if err != nil {
		return nil, 0, fmt.Errorf("codeanchor: reading header: %w: %w", scanerr.ErrProviderRead, err)
	}
	header = header[:n]

	raw, mode, err := parseHeader(header)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %w", scanerr.ErrHeaderParse, err)
	}

	out := make([]Section, len(raw))
	for i, sec := range raw {
		out[i] = Section{Base: m.Base.Add(uint64(sec.base)), Size: sec.size}
	}
	return out, mode, nil
}

// parseHeader dispatches on the image magic (PE or ELF) and returns the
// executable sections as (rva, size) pairs relative to the module base,
// plus the decode mode (32 or 64).
func parseHeader(header []byte) ([]execSection, int, error) {
	switch {
	case bytes.HasPrefix(header, []byte("MZ")):
		return parsePE(header)
	case bytes.HasPrefix(header, []byte("\x7fELF")):
		return parseELF(header)
	default:
		return nil, 0, fmt.Errorf("codeanchor: unrecognized image magic")
	}
}

func parsePE(header []byte) ([]execSection, int, error) {
	f, err := pe.New(bytes.NewReader(header))
	if err != nil {
		return nil, 0, fmt.Errorf("codeanchor: pe: %w", err)
	}

	fileHdr, err := f.FileHeader()
	if err != nil {
		return nil, 0, fmt.Errorf("codeanchor: pe file header: %w", err)
	}
	mode := 32
	if fileHdr.Arch == pe.ArchAMD64 {
		mode = 64
	}

	sectHdrs, err := f.SectHeaders()
	if err != nil {
		return nil, 0, fmt.Errorf("codeanchor: pe section headers: %w", err)
	}
	var out []execSection
	for _, s := range sectHdrs {
		if uint32(s.Flags)&imageSCNCntCode == 0 {
			continue
		}
		out = append(out, execSection{base: addr.Address(s.RelAddr), size: uint64(s.VirtSize)})
	}
	return out, mode, nil
}

func parseELF(header []byte) ([]execSection, int, error) {
	f, err := elf.NewFile(bytes.NewReader(header))
	if err != nil {
		return nil, 0, fmt.Errorf("codeanchor: elf: %w", err)
	}
	defer f.Close()

	mode := 32
	if f.Class == elf.ELFCLASS64 {
		mode = 64
	}

	var out []execSection
	for _, s := range f.Sections {
		if s.Flags&elf.SHF_EXECINSTR == 0 {
			continue
		}
		out = append(out, execSection{base: addr.Address(s.Addr), size: s.Size})
	}
	return out, mode, nil
}

// decodeSection reads sectionSize bytes starting at sectionBase in
// chunkSize chunks with a chunkOverlap trailing window, decoding each
// chunk as a stream of x86/x86-64 instructions and recording IP-relative,
// non-branch memory references. The overlap lets an instruction whose
// last bytes cross a chunk boundary still decode; the ip < sectionEnd
// bound keeps the overlap from double-inserting past the section.
func (e *Extractor) decodeSection(ctx context.Context, mem target.Memory, sectionBase addr.Address, sectionSize uint64, mode int) error {
	sectionEnd := sectionBase.Add(sectionSize)
	buf := make([]byte, chunkSize+chunkOverlap)

	for off := uint64(0); off < sectionSize; off += chunkSize {
		readLen := uint64(chunkSize + chunkOverlap)
		remaining := sectionSize - off
		if readLen > remaining {
			readLen = remaining
		}
		chunkAddr := sectionBase.Add(off)
		n, err := mem.ReadRange(ctx, chunkAddr, buf[:readLen])
		if err != nil {
			return fmt.Errorf("%w: %w", scanerr.ErrProviderRead, err)
		}
		chunk := buf[:n]

		for pos := 0; pos < len(chunk); {
			ip := chunkAddr.Add(uint64(pos))
			if ip >= sectionEnd {
				break
			}
			inst, err := x86asm.Decode(chunk[pos:], mode)
			if err != nil || inst.Len == 0 {
				pos++
				continue
			}
			if ip.Add(uint64(inst.Len)) <= sectionEnd {
				if ref, ok := ipRelativeDataRef(inst, ip); ok {
					e.refs[ip] = ref
				}
			}
			pos += inst.Len
		}
	}
	return nil
}

// ipRelativeDataRef reports whether inst (decoded with IP at ip) addresses
// memory via a RIP-relative operand that is not itself a branch target,
// and if so returns the computed absolute address.
func ipRelativeDataRef(inst x86asm.Inst, ip addr.Address) (addr.Address, bool) {
	isBranch := false
	var dispTarget addr.Address
	found := false

	for _, a := range inst.Args {
		if a == nil {
			continue
		}
		switch v := a.(type) {
		case x86asm.Rel:
			isBranch = true
		case x86asm.Mem:
			if v.Base == x86asm.RIP {
				next := ip.Add(uint64(inst.Len))
				if v.Disp >= 0 {
					dispTarget = next.Add(uint64(v.Disp))
				} else {
					dispTarget = next.Sub(uint64(-v.Disp))
				}
				found = true
			}
		}
	}

	if !found || isBranch {
		return 0, false
	}
	return dispTarget, true
}
