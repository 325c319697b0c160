// Package sigmaker produces instruction-byte signatures: given an
// instruction address, it builds a wildcarded byte pattern unique within
// its enclosing section, reusing the same golang.org/x/arch/x86/x86asm
// decode path as internal/codeanchor rather than a second disassembler.
package sigmaker

import (
	"bytes"
	"context"
	"fmt"

	"golang.org/x/arch/x86/x86asm"

	"github.com/dsmmcken/scanflow/internal/addr"
	"github.com/dsmmcken/scanflow/internal/scanerr"
	"github.com/dsmmcken/scanflow/internal/target"
)

// Byte is one byte of a pattern: either a fixed value or a wildcard.
type Byte struct {
	Value    byte
	Wildcard bool
}

// Pattern is an ordered sequence of signature bytes, ready for rendering
// as "AA ?? BB" style mask strings by the command layer.
type Pattern []Byte

// String renders the pattern the way scanflow's CLI prints signatures:
// two hex digits per byte, "??" for a wildcard, space-separated.
func (p Pattern) String() string {
	var buf bytes.Buffer
	for i, b := range p {
		if i > 0 {
			buf.WriteByte(' ')
		}
		if b.Wildcard {
			buf.WriteString("??")
		} else {
			fmt.Fprintf(&buf, "%02x", b.Value)
		}
	}
	return buf.String()
}

// Options configures signature extraction.
type Options struct {
	Mode     int // 32 or 64, the x86asm decode mode
	MaxInsts int // instructions to absorb before giving up on uniqueness
}

// Extract builds a signature for the instruction at ip, walking forward
// through whole instructions (never splitting one) and wildcarding each
// instruction's PC-relative operand bytes, stopping as soon as the
// accumulated pattern is unique within [sectionBase, sectionBase+sectionSize).
func Extract(ctx context.Context, mem target.Memory, ip addr.Address, sectionBase addr.Address, sectionSize uint64, opts Options) (Pattern, error) {
	if opts.MaxInsts <= 0 {
		opts.MaxInsts = 32
	}
	sectionEnd := sectionBase.Add(sectionSize)
	if ip < sectionBase || ip >= sectionEnd {
		return nil, fmt.Errorf("sigmaker: ip %s outside section [%s,%s)", ip, sectionBase, sectionEnd)
	}

	section := make([]byte, sectionSize)
	n, err := mem.ReadRange(ctx, sectionBase, section)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", scanerr.ErrProviderRead, err)
	}
	section = section[:n]

	startOff := int(ip - sectionBase)
	var pattern Pattern

	for i := 0; i < opts.MaxInsts; i++ {
		cur := startOff + len(pattern)
		if cur >= len(section) {
			return nil, fmt.Errorf("sigmaker: ran off section end before a unique pattern emerged")
		}
		inst, err := x86asm.Decode(section[cur:], opts.Mode)
		if err != nil || inst.Len == 0 {
			return nil, fmt.Errorf("%w: decoding instruction at offset %d", scanerr.ErrDecoderInit, cur)
		}
		pattern = append(pattern, wildcardInst(section[cur:cur+inst.Len], inst)...)

		if countMatches(section, pattern) == 1 {
			return pattern, nil
		}
	}
	return nil, fmt.Errorf("sigmaker: no unique pattern found within %d instructions", opts.MaxInsts)
}

// wildcardInst returns raw as a Pattern with the PC-relative operand bytes
// (a RIP-relative displacement or a relative branch target) masked out, so
// the signature survives relocation. Other displacements and immediate
// operands are kept as fixed bytes.
func wildcardInst(raw []byte, inst x86asm.Inst) Pattern {
	out := make(Pattern, len(raw))
	for i, b := range raw {
		out[i] = Byte{Value: b}
	}

	if inst.PCRel > 0 && inst.PCRelOff >= 0 && inst.PCRelOff+inst.PCRel <= len(raw) {
		for i := inst.PCRelOff; i < inst.PCRelOff+inst.PCRel; i++ {
			out[i] = Byte{Wildcard: true}
		}
	}
	return out
}

// countMatches reports how many positions in section match pattern,
// short-circuiting at 2 since callers only need uniqueness, not a count.
func countMatches(section []byte, pattern Pattern) int {
	matches := 0
	for start := 0; start+len(pattern) <= len(section); start++ {
		if matchesAt(section, pattern, start) {
			matches++
			if matches > 1 {
				return matches
			}
		}
	}
	return matches
}

func matchesAt(section []byte, pattern Pattern, start int) bool {
	for i, b := range pattern {
		if b.Wildcard {
			continue
		}
		if section[start+i] != b.Value {
			return false
		}
	}
	return true
}
