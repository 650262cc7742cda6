package main

import (
	"bytes"
	"strings"
	"testing"
)

func TestX87Mnemonic(t *testing.T) {
	tests := []struct {
		op   uint16
		want string
	}{
		{0x0C1, "FADD ST(0),ST(1)"},
		{0x0D3, "FCOM ST(3)"},
		{0x006, "FADD m32real"},
		{0x1E8, "FLD1"},
		{0x1C9, "FXCH ST(1)"},
		{0x1D9, "FSTP1 ST(1)"},
		{0x1D1, "(bad)"},
		{0x10E, "(bad)"},
		{0x13E, "FNSTCW m2byte"},
		{0x2E9, "FUCOMPP"},
		{0x206, "FIADD m32int"},
		{0x3E3, "FNINIT"},
		{0x32E, "FLD m80real"},
		{0x4F9, "FDIV ST(1),ST(0)"},
		{0x4E1, "FSUBR ST(1),ST(0)"},
		{0x4D2, "FCOM2 ST(2)"},
		{0x536, "FNSAVE m94/108byte"},
		{0x5E1, "FUCOM ST(1)"},
		{0x5F0, "(bad)"},
		{0x6C1, "FADDP ST(1),ST(0)"},
		{0x6D9, "FCOMPP"},
		{0x6D8, "(bad)"},
		{0x7E0, "FNSTSW AX"},
		{0x7C9, "FXCH7 ST(1)"},
		{0x736, "FBSTP m80bcd"},
	}
	for _, tc := range tests {
		if got := x87Mnemonic(tc.op); got != tc.want {
			t.Errorf("x87Mnemonic(%03X) = %q, want %q", tc.op, got, tc.want)
		}
	}
}

// Every encoding the 387 tables execute has a name, and every name the
// decoder rejects is illegal in the tables.
func TestX87Mnemonic_MatchesTables(t *testing.T) {
	tables := x87ModelTables[x87Model387]
	for esc := range 8 {
		for modrm := range 256 {
			name := x87Mnemonic(uint16(esc)<<8 | uint16(modrm))
			illegal := tables.Illegal(byte(esc), byte(modrm))
			if illegal != (name == x87BadMnemonic) {
				t.Errorf("%02X %02X: name %q, illegal %v", 0xD8+esc, modrm, name, illegal)
			}
		}
	}
}

func TestDisassembleX86(t *testing.T) {
	code := []byte{
		0xD9, 0xE8, // FLD1
		0xDD, 0x1E, 0x10, 0x30, // FSTP QWORD [3010h]
		0x67, 0xD8, 0x43, 0x04, // FADD m32real [EBX+4]
		0x9B,             // WAIT
		0xB8, 0x34, 0x12, // MOV AX,1234h
		0xD1, 0xE0, // SHL AX,1
		0xF7, 0xF3, // DIV BX
		0x0F, 0xB6, 0xC3, // MOVZX AX,BL
		0xD9, 0x0E, 0x00, 0x30, // reserved
		0xF4,
	}
	read := func(addr uint32) byte {
		if int(addr) < len(code) {
			return code[addr]
		}
		return 0
	}
	lines := disassembleX86(read, 0, 10, false)
	want := []string{
		"FLD1",
		"FSTP m64real [0x3010]",
		"FADD m32real [EBX+4]",
		"WAIT",
		"MOV AX, 0x1234",
		"SHL AX, 1",
		"DIV BX",
		"MOVZX AX, BL",
		"(bad)",
		"HLT",
	}
	for i, w := range want {
		if lines[i].Mnemonic != w {
			t.Errorf("line %d: %q, want %q", i, lines[i].Mnemonic, w)
		}
	}
	if lines[1].HexBytes != "DD 1E 10 30" || lines[1].Size != 4 || lines[2].Address != 6 {
		t.Errorf("line 1 %+v, line 2 at %X", lines[1], lines[2].Address)
	}
	if lines[8].Size != 4 {
		t.Errorf("reserved memory form consumed %d bytes", lines[8].Size)
	}
}

func TestWriteX87TableMap(t *testing.T) {
	var buf bytes.Buffer
	if err := writeX87TableMap(&buf, x87ModelTables[x87Model287]); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if n := strings.Count(out, "\n"); n != 8*256+1 {
		t.Fatalf("%d lines", n)
	}
	for _, want := range []string{"model 287", "D9 E8  FLD1", "D9 FE  #UD", "DA E9  #UD", "DE D9  FCOMPP"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q", want)
		}
	}

	buf.Reset()
	writeX87TableMap(&buf, x87ModelTables[x87ModelNone])
	if !strings.Contains(buf.String(), "DD 06  (no coprocessor)") {
		t.Error("absent model map")
	}
}
