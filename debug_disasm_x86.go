// debug_disasm_x86.go - x86 disassembler for the monitor
//
// Covers the integer set the core executes and hands D8-DF to the x87
// decoder, filling in the memory operand.

package main

import (
	"fmt"
	"strings"
)

var x86Reg32 = [8]string{"EAX", "ECX", "EDX", "EBX", "ESP", "EBP", "ESI", "EDI"}
var x86Reg16 = [8]string{"AX", "CX", "DX", "BX", "SP", "BP", "SI", "DI"}
var x86Reg8 = [8]string{"AL", "CL", "DL", "BL", "AH", "CH", "DH", "BH"}
var x86SegRegs = [6]string{"ES", "CS", "SS", "DS", "FS", "GS"}
var x86Cond = [16]string{
	"O", "NO", "B", "NB", "Z", "NZ", "BE", "A",
	"S", "NS", "P", "NP", "L", "GE", "LE", "G",
}
var x86ALUNames = [8]string{"ADD", "OR", "ADC", "SBB", "AND", "SUB", "XOR", "CMP"}
var x86ShiftNames = [8]string{"ROL", "ROR", "RCL", "RCR", "SHL", "SHR", "SAL", "SAR"}
var x86Grp3Names = [8]string{"TEST", "TEST", "NOT", "NEG", "MUL", "IMUL", "DIV", "IDIV"}
var x86Grp5Names = [8]string{"INC", "DEC", "CALL", "CALL FAR", "JMP", "JMP FAR", "PUSH", "(bad)"}
var x86EA16 = [8]string{"BX+SI", "BX+DI", "BP+SI", "BP+DI", "SI", "DI", "BP", "BX"}

// DisassembledLine is one decoded instruction.
type DisassembledLine struct {
	Address  uint32
	HexBytes string
	Mnemonic string
	Size     int
}

type x86Disasm struct {
	read  func(addr uint32) byte
	pos   uint32
	op32  bool
	addr  bool // 32-bit addressing
	seg   string
	modrm byte
}

func (d *x86Disasm) readByte() byte {
	b := d.read(d.pos)
	d.pos++
	return b
}

func (d *x86Disasm) readWord() uint16 {
	return uint16(d.readByte()) | uint16(d.readByte())<<8
}

func (d *x86Disasm) readDword() uint32 {
	return uint32(d.readWord()) | uint32(d.readWord())<<16
}

func (d *x86Disasm) immv() string {
	if d.op32 {
		return fmt.Sprintf("0x%08X", d.readDword())
	}
	return fmt.Sprintf("0x%04X", d.readWord())
}

func (d *x86Disasm) regv(r byte) string {
	if d.op32 {
		return x86Reg32[r&7]
	}
	return x86Reg16[r&7]
}

// mem decodes the memory operand of the ModRM byte already read.
func (d *x86Disasm) mem() string {
	mod, rm := d.modrm>>6, d.modrm&7
	var ea string
	if d.addr {
		switch {
		case rm == 4:
			sib := d.readByte()
			scale, index, base := sib>>6, (sib>>3)&7, sib&7
			var parts []string
			if base == 5 && mod == 0 {
				parts = append(parts, fmt.Sprintf("0x%08X", d.readDword()))
			} else {
				parts = append(parts, x86Reg32[base])
			}
			if index != 4 {
				parts = append(parts, fmt.Sprintf("%s*%d", x86Reg32[index], 1<<scale))
			}
			ea = strings.Join(parts, "+")
		case rm == 5 && mod == 0:
			ea = fmt.Sprintf("0x%08X", d.readDword())
		default:
			ea = x86Reg32[rm]
		}
		switch mod {
		case 1:
			ea += fmt.Sprintf("%+d", int8(d.readByte()))
		case 2:
			ea += fmt.Sprintf("%+d", int32(d.readDword()))
		}
	} else {
		if rm == 6 && mod == 0 {
			ea = fmt.Sprintf("0x%04X", d.readWord())
		} else {
			ea = x86EA16[rm]
		}
		switch mod {
		case 1:
			ea += fmt.Sprintf("%+d", int8(d.readByte()))
		case 2:
			ea += fmt.Sprintf("%+d", int16(d.readWord()))
		}
	}
	return d.seg + "[" + ea + "]"
}

// rm returns the r/m operand; regs names the register file for mod 3.
func (d *x86Disasm) rm(regs *[8]string) string {
	d.modrm = d.readByte()
	if d.modrm >= 0xC0 {
		return regs[d.modrm&7]
	}
	return d.mem()
}

func (d *x86Disasm) rmv() string {
	if d.op32 {
		return d.rm(&x86Reg32)
	}
	return d.rm(&x86Reg16)
}

// disassembleX86 decodes count instructions starting at addr.
func disassembleX86(read func(addr uint32) byte, addr uint32, count int, use32 bool) []DisassembledLine {
	var lines []DisassembledLine
	for range count {
		d := &x86Disasm{read: read, pos: addr, op32: use32, addr: use32}
		text := d.decode()
		size := int(d.pos - addr)
		var hexParts []string
		for i := range size {
			hexParts = append(hexParts, fmt.Sprintf("%02X", read(addr+uint32(i))))
		}
		lines = append(lines, DisassembledLine{
			Address:  addr,
			HexBytes: strings.Join(hexParts, " "),
			Mnemonic: text,
			Size:     size,
		})
		addr = d.pos
	}
	return lines
}

func (d *x86Disasm) decode() string {
	var prefix string
	for {
		b := d.readByte()
		switch b {
		case 0x26, 0x2E, 0x36, 0x3E:
			d.seg = x86SegRegs[(b>>3)&3] + ":"
		case 0x64, 0x65:
			d.seg = x86SegRegs[b-0x60] + ":"
		case 0x66:
			d.op32 = !d.op32
		case 0x67:
			d.addr = !d.addr
		case 0xF0:
			prefix += "LOCK "
		case 0xF2:
			prefix += "REPNE "
		case 0xF3:
			prefix += "REP "
		default:
			return prefix + d.opcode(b)
		}
	}
}

func (d *x86Disasm) rel(n int) string {
	var off int32
	if n == 1 {
		off = int32(int8(d.readByte()))
	} else if d.op32 {
		off = int32(d.readDword())
	} else {
		off = int32(int16(d.readWord()))
	}
	return fmt.Sprintf("0x%08X", uint32(int32(d.pos)+off))
}

func (d *x86Disasm) opcode(op byte) string {
	switch {
	case op < 0x40 && op&7 < 6:
		name := x86ALUNames[op>>3]
		switch op & 7 {
		case 0:
			rm := d.rm(&x86Reg8)
			return fmt.Sprintf("%s %s, %s", name, rm, x86Reg8[(d.modrm>>3)&7])
		case 1:
			rm := d.rmv()
			return fmt.Sprintf("%s %s, %s", name, rm, d.regv(d.modrm>>3))
		case 2:
			rm := d.rm(&x86Reg8)
			return fmt.Sprintf("%s %s, %s", name, x86Reg8[(d.modrm>>3)&7], rm)
		case 3:
			rm := d.rmv()
			return fmt.Sprintf("%s %s, %s", name, d.regv(d.modrm>>3), rm)
		case 4:
			return fmt.Sprintf("%s AL, 0x%02X", name, d.readByte())
		default:
			return fmt.Sprintf("%s %s, %s", name, d.regv(0), d.immv())
		}
	case op >= 0x40 && op < 0x60:
		names := [4]string{"INC", "DEC", "PUSH", "POP"}
		return names[(op-0x40)>>3] + " " + d.regv(op)
	case op >= 0x70 && op < 0x80:
		return "J" + x86Cond[op&15] + " " + d.rel(1)
	case op >= 0x91 && op < 0x98:
		return fmt.Sprintf("XCHG %s, %s", d.regv(0), d.regv(op))
	case op >= 0xB0 && op < 0xB8:
		return fmt.Sprintf("MOV %s, 0x%02X", x86Reg8[op&7], d.readByte())
	case op >= 0xB8 && op < 0xC0:
		return fmt.Sprintf("MOV %s, %s", d.regv(op), d.immv())
	case op >= 0xD8 && op <= 0xDF:
		return d.escape(op)
	}

	switch op {
	case 0x0F:
		return d.twoByte()
	case 0x80, 0x81, 0x83:
		var rm, imm string
		if op == 0x80 {
			rm = d.rm(&x86Reg8)
			imm = fmt.Sprintf("0x%02X", d.readByte())
		} else {
			rm = d.rmv()
			if op == 0x81 {
				imm = d.immv()
			} else {
				imm = fmt.Sprintf("%d", int8(d.readByte()))
			}
		}
		return fmt.Sprintf("%s %s, %s", x86ALUNames[(d.modrm>>3)&7], rm, imm)
	case 0x69, 0x6B:
		rm := d.rmv()
		reg := d.regv(d.modrm >> 3)
		if op == 0x6B {
			return fmt.Sprintf("IMUL %s, %s, %d", reg, rm, int8(d.readByte()))
		}
		return fmt.Sprintf("IMUL %s, %s, %s", reg, rm, d.immv())
	case 0xC0, 0xC1, 0xD0, 0xD1, 0xD2, 0xD3:
		var rm string
		if op&1 == 0 {
			rm = d.rm(&x86Reg8)
		} else {
			rm = d.rmv()
		}
		name := x86ShiftNames[(d.modrm>>3)&7]
		switch op {
		case 0xC0, 0xC1:
			return fmt.Sprintf("%s %s, %d", name, rm, d.readByte())
		case 0xD2, 0xD3:
			return fmt.Sprintf("%s %s, CL", name, rm)
		}
		return fmt.Sprintf("%s %s, 1", name, rm)
	case 0xF6, 0xF7:
		var rm, imm string
		if op == 0xF6 {
			rm = d.rm(&x86Reg8)
			if (d.modrm>>3)&7 < 2 {
				imm = fmt.Sprintf(", 0x%02X", d.readByte())
			}
		} else {
			rm = d.rmv()
			if (d.modrm>>3)&7 < 2 {
				imm = ", " + d.immv()
			}
		}
		return x86Grp3Names[(d.modrm>>3)&7] + " " + rm + imm
	case 0xFE:
		rm := d.rm(&x86Reg8)
		if (d.modrm>>3)&7 > 1 {
			return "(bad)"
		}
		return x86Grp5Names[(d.modrm>>3)&7] + " BYTE " + rm
	case 0xFF:
		rm := d.rmv()
		return x86Grp5Names[(d.modrm>>3)&7] + " " + rm
	case 0x84:
		rm := d.rm(&x86Reg8)
		return fmt.Sprintf("TEST %s, %s", rm, x86Reg8[(d.modrm>>3)&7])
	case 0x85:
		rm := d.rmv()
		return fmt.Sprintf("TEST %s, %s", rm, d.regv(d.modrm>>3))
	case 0x88:
		rm := d.rm(&x86Reg8)
		return fmt.Sprintf("MOV %s, %s", rm, x86Reg8[(d.modrm>>3)&7])
	case 0x89:
		rm := d.rmv()
		return fmt.Sprintf("MOV %s, %s", rm, d.regv(d.modrm>>3))
	case 0x8A:
		rm := d.rm(&x86Reg8)
		return fmt.Sprintf("MOV %s, %s", x86Reg8[(d.modrm>>3)&7], rm)
	case 0x8B:
		rm := d.rmv()
		return fmt.Sprintf("MOV %s, %s", d.regv(d.modrm>>3), rm)
	case 0x8C:
		rm := d.rm(&x86Reg16)
		return fmt.Sprintf("MOV %s, %s", rm, x86SegRegs[((d.modrm>>3)&7)%6])
	case 0x8D:
		rm := d.rmv()
		return fmt.Sprintf("LEA %s, %s", d.regv(d.modrm>>3), rm)
	case 0x8E:
		rm := d.rm(&x86Reg16)
		return fmt.Sprintf("MOV %s, %s", x86SegRegs[((d.modrm>>3)&7)%6], rm)
	case 0x90:
		return "NOP"
	case 0x9B:
		return "WAIT"
	case 0x9C:
		return "PUSHF"
	case 0x9D:
		return "POPF"
	case 0x9E:
		return "SAHF"
	case 0x9F:
		return "LAHF"
	case 0xC3:
		return "RET"
	case 0xC6:
		rm := d.rm(&x86Reg8)
		return fmt.Sprintf("MOV BYTE %s, 0x%02X", rm, d.readByte())
	case 0xC7:
		rm := d.rmv()
		return fmt.Sprintf("MOV %s, %s", rm, d.immv())
	case 0xCC:
		return "INT 3"
	case 0xCD:
		return fmt.Sprintf("INT 0x%02X", d.readByte())
	case 0xCF:
		return "IRET"
	case 0xE4:
		return fmt.Sprintf("IN AL, 0x%02X", d.readByte())
	case 0xE6:
		return fmt.Sprintf("OUT 0x%02X, AL", d.readByte())
	case 0xE8:
		return "CALL " + d.rel(0)
	case 0xE9:
		return "JMP " + d.rel(0)
	case 0xEB:
		return "JMP " + d.rel(1)
	case 0xF4:
		return "HLT"
	case 0xF5:
		return "CMC"
	case 0xF8:
		return "CLC"
	case 0xF9:
		return "STC"
	case 0xFA:
		return "CLI"
	case 0xFB:
		return "STI"
	case 0xFC:
		return "CLD"
	case 0xFD:
		return "STD"
	}
	return fmt.Sprintf("DB 0x%02X", op)
}

func (d *x86Disasm) twoByte() string {
	op := d.readByte()
	switch {
	case op == 0x06:
		return "CLTS"
	case op == 0x20 || op == 0x22:
		d.modrm = d.readByte()
		cr := fmt.Sprintf("CR%d", (d.modrm>>3)&7)
		if op == 0x20 {
			return fmt.Sprintf("MOV %s, %s", x86Reg32[d.modrm&7], cr)
		}
		return fmt.Sprintf("MOV %s, %s", cr, x86Reg32[d.modrm&7])
	case op >= 0x80 && op < 0x90:
		return "J" + x86Cond[op&15] + " " + d.rel(0)
	case op >= 0x90 && op < 0xA0:
		return "SET" + x86Cond[op&15] + " " + d.rm(&x86Reg8)
	case op == 0xAF:
		rm := d.rmv()
		return fmt.Sprintf("IMUL %s, %s", d.regv(d.modrm>>3), rm)
	case op == 0xB6 || op == 0xB7 || op == 0xBE || op == 0xBF:
		name := "MOVZX"
		if op >= 0xBE {
			name = "MOVSX"
		}
		var rm string
		if op&1 == 0 {
			rm = d.rm(&x86Reg8)
		} else {
			rm = d.rm(&x86Reg16)
		}
		return fmt.Sprintf("%s %s, %s", name, d.regv(d.modrm>>3), rm)
	}
	return fmt.Sprintf("DB 0x0F, 0x%02X", op)
}

// escape names an x87 instruction; memory forms get their address.
func (d *x86Disasm) escape(op byte) string {
	d.modrm = d.readByte()
	name := x87Mnemonic(uint16(op&7)<<8 | uint16(d.modrm))
	if d.modrm >= 0xC0 {
		return name
	}
	m := d.mem()
	if name == x87BadMnemonic {
		return name
	}
	return name + " " + m
}
