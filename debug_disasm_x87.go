// debug_disasm_x87.go - x87 mnemonics from a recorded escape code
//
// x87Mnemonic works from x87Op alone (escape low bits and the ModRM byte),
// so memory forms are named by operand type rather than address.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import (
	"fmt"
	"io"
	"text/tabwriter"
)

var x87ArithNames = [8]string{"FADD", "FMUL", "FCOM", "FCOMP", "FSUB", "FSUBR", "FDIV", "FDIVR"}
var x87IntArithNames = [8]string{"FIADD", "FIMUL", "FICOM", "FICOMP", "FISUB", "FISUBR", "FIDIV", "FIDIVR"}

var x87MemNames = [8][8]string{
	0: {},
	1: {"FLD m32real", "", "FST m32real", "FSTP m32real", "FLDENV m14/28byte", "FLDCW m2byte", "FNSTENV m14/28byte", "FNSTCW m2byte"},
	2: {},
	3: {"FILD m32int", "", "FIST m32int", "FISTP m32int", "", "FLD m80real", "", "FSTP m80real"},
	4: {},
	5: {"FLD m64real", "", "FST m64real", "FSTP m64real", "FRSTOR m94/108byte", "", "FNSAVE m94/108byte", "FNSTSW m2byte"},
	6: {},
	7: {"FILD m16int", "", "FIST m16int", "FISTP m16int", "FBLD m80bcd", "FILD m64int", "FBSTP m80bcd", "FISTP m64int"},
}

var x87D9Names = map[byte]string{
	0xD0: "FNOP",
	0xE0: "FCHS", 0xE1: "FABS", 0xE4: "FTST", 0xE5: "FXAM",
	0xE8: "FLD1", 0xE9: "FLDL2T", 0xEA: "FLDL2E", 0xEB: "FLDPI",
	0xEC: "FLDLG2", 0xED: "FLDLN2", 0xEE: "FLDZ",
	0xF0: "F2XM1", 0xF1: "FYL2X", 0xF2: "FPTAN", 0xF3: "FPATAN",
	0xF4: "FXTRACT", 0xF5: "FPREM1", 0xF6: "FDECSTP", 0xF7: "FINCSTP",
	0xF8: "FPREM", 0xF9: "FYL2XP1", 0xFA: "FSQRT", 0xFB: "FSINCOS",
	0xFC: "FRNDINT", 0xFD: "FSCALE", 0xFE: "FSIN", 0xFF: "FCOS",
}

var x87DBNames = map[byte]string{
	0xE0: "FNENI", 0xE1: "FNDISI", 0xE2: "FNCLEX", 0xE3: "FNINIT", 0xE4: "FNSETPM",
}

const x87BadMnemonic = "(bad)"

// x87Mnemonic decodes an x87Op value into Intel syntax.
func x87Mnemonic(op uint16) string {
	esc := byte(op>>8) & 7
	modrm := byte(op)
	reg := (modrm >> 3) & 7
	if modrm < 0xC0 {
		var name string
		switch esc {
		case 0:
			name = x87ArithNames[reg] + " m32real"
		case 2:
			name = x87IntArithNames[reg] + " m32int"
		case 4:
			name = x87ArithNames[reg] + " m64real"
		case 6:
			name = x87IntArithNames[reg] + " m16int"
		default:
			name = x87MemNames[esc][reg]
		}
		if name == "" {
			return x87BadMnemonic
		}
		return name
	}

	i := modrm & 7
	sti := fmt.Sprintf("ST(%d)", i)
	switch esc {
	case 0:
		if reg == 2 || reg == 3 {
			return x87ArithNames[reg] + " " + sti
		}
		return x87ArithNames[reg] + " ST(0)," + sti
	case 1:
		switch reg {
		case 0:
			return "FLD " + sti
		case 1:
			return "FXCH " + sti
		case 3:
			return "FSTP1 " + sti
		}
		if name, ok := x87D9Names[modrm]; ok {
			return name
		}
	case 2:
		if modrm == 0xE9 {
			return "FUCOMPP"
		}
	case 3:
		if name, ok := x87DBNames[modrm]; ok {
			return name
		}
	case 4:
		switch reg {
		case 2:
			return "FCOM2 " + sti
		case 3:
			return "FCOMP3 " + sti
		}
		return x87ReverseName(reg) + " " + sti + ",ST(0)"
	case 5:
		switch reg {
		case 0:
			return "FFREE " + sti
		case 1:
			return "FXCH4 " + sti
		case 2:
			return "FST " + sti
		case 3:
			return "FSTP " + sti
		case 4:
			return "FUCOM " + sti
		case 5:
			return "FUCOMP " + sti
		}
	case 6:
		switch {
		case reg == 2:
			return "FCOMP5 " + sti
		case modrm == 0xD9:
			return "FCOMPP"
		case reg == 3:
			return x87BadMnemonic
		}
		return x87ReverseName(reg) + "P " + sti + ",ST(0)"
	case 7:
		switch reg {
		case 0:
			return "FFREEP " + sti
		case 1:
			return "FXCH7 " + sti
		case 2:
			return "FSTP8 " + sti
		case 3:
			return "FSTP9 " + sti
		}
		if modrm == 0xE0 {
			return "FNSTSW AX"
		}
	}
	return x87BadMnemonic
}

// x87ReverseName names the DC/DE register rows, where the subtract and
// divide encodings are swapped relative to D8.
func x87ReverseName(reg byte) string {
	switch reg {
	case 4:
		return "FSUBR"
	case 5:
		return "FSUB"
	case 6:
		return "FDIVR"
	case 7:
		return "FDIV"
	}
	return x87ArithNames[reg]
}

// writeX87TableMap prints every escape encoding of a model with the
// mnemonic it dispatches to, or #UD.
func writeX87TableMap(w io.Writer, t *x87Tables) error {
	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	fmt.Fprintf(tw, "; x87 dispatch map, model %s\n", t.model)
	for esc := range 8 {
		for modrm := range 256 {
			op := uint16(esc)<<8 | uint16(modrm)
			name := x87Mnemonic(op)
			switch {
			case t.model == x87ModelNone:
				name = "(no coprocessor)"
			case t.Illegal(byte(esc), byte(modrm)):
				name = "#UD"
			}
			fmt.Fprintf(tw, "%02X %02X\t%s\n", 0xD8+esc, modrm, name)
		}
	}
	return tw.Flush()
}
