package codeanchor

import (
	"testing"

	"golang.org/x/arch/x86/x86asm"

	"github.com/dsmmcken/scanflow/internal/addr"
)

func TestIPRelativeDataRefRecordsMemOperand(t *testing.T) {
	// lea rax, [rip+0x10]   (48 8D 05 10 00 00 00)
	raw := []byte{0x48, 0x8d, 0x05, 0x10, 0x00, 0x00, 0x00}
	inst, err := x86asm.Decode(raw, 64)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if inst.Len != len(raw) {
		t.Fatalf("decoded length %d, want %d", inst.Len, len(raw))
	}

	ip := addr.Address(0x140001000)
	target, ok := ipRelativeDataRef(inst, ip)
	if !ok {
		t.Fatal("expected an IP-relative data reference")
	}
	want := ip.Add(uint64(inst.Len)).Add(0x10)
	if target != want {
		t.Fatalf("target = %s, want %s", target, want)
	}
}

func TestIPRelativeDataRefIgnoresRegisterOperands(t *testing.T) {
	// mov eax, ecx (89 c8) has no memory operand at all.
	raw := []byte{0x89, 0xc8}
	inst, err := x86asm.Decode(raw, 64)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if _, ok := ipRelativeDataRef(inst, 0x1000); ok {
		t.Fatal("expected no data reference for a register-only instruction")
	}
}

func TestIPRelativeDataRefIgnoresNearCall(t *testing.T) {
	// call rel32 (E8 00 00 00 00), a control-flow transfer, not a data ref.
	raw := []byte{0xe8, 0x00, 0x00, 0x00, 0x00}
	inst, err := x86asm.Decode(raw, 64)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if _, ok := ipRelativeDataRef(inst, 0x1000); ok {
		t.Fatal("expected a near-branch target to be excluded from the global-reference map")
	}
}

func TestParseHeaderRejectsUnknownMagic(t *testing.T) {
	if _, _, err := parseHeader([]byte("not an image")); err == nil {
		t.Fatal("expected an error for unrecognized image magic")
	}
}
