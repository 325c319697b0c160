package sigmaker

import (
	"context"
	"testing"

	"github.com/dsmmcken/scanflow/internal/addr"
	"github.com/dsmmcken/scanflow/internal/target/fake"
)

func TestExtractWildcardsDisplacementAndIsUnique(t *testing.T) {
	tgt := fake.New(8)

	// Two "lea rax, [rip+disp32]" instructions back to back with different
	// displacements; with the displacement bytes wildcarded the first
	// instruction alone matches twice, so the signature has to absorb the
	// second instruction before it is unique.
	section := []byte{
		0x48, 0x8d, 0x05, 0x10, 0x00, 0x00, 0x00, // lea rax, [rip+0x10]
		0x48, 0x8d, 0x05, 0x20, 0x00, 0x00, 0x00, // lea rax, [rip+0x20]
		0x90, // nop
	}
	tgt.MapRegion(0x1000, section)

	pattern, err := Extract(context.Background(), tgt, addr.Address(0x1000), addr.Address(0x1000), uint64(len(section)), Options{Mode: 64})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}

	if len(pattern) < 3 {
		t.Fatalf("pattern too short: %s", pattern)
	}
	if !pattern[3].Wildcard {
		t.Fatalf("expected displacement byte at offset 3 to be wildcarded: %s", pattern)
	}
	if pattern[0].Wildcard || pattern[0].Value != 0x48 {
		t.Fatalf("expected opcode prefix byte to remain fixed: %s", pattern)
	}
}

func TestCountMatchesShortCircuitsAtTwo(t *testing.T) {
	section := []byte{0xaa, 0xaa, 0xaa, 0xaa}
	pattern := Pattern{{Value: 0xaa}}
	if n := countMatches(section, pattern); n != 2 {
		t.Fatalf("countMatches = %d, want 2 (counting stops at the second of 4 matches)", n)
	}
}

func TestPatternStringRendersWildcards(t *testing.T) {
	p := Pattern{{Value: 0xab}, {Wildcard: true}, {Value: 0x01}}
	if got, want := p.String(), "ab ?? 01"; got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
}
