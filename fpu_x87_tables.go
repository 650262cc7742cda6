// fpu_x87_tables.go - per-model x87 sub-dispatch tables
//
// Each escape prefix owns a pair of tables, one per address size. D8 and DC
// are indexed by ModRM bits 3-7 (32 entries); the others by the whole ModRM
// byte (256 entries). Tables are built once at init and shared read-only by
// every core.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import (
	"fmt"
	"maps"
	"strings"
)

type x87Model int

const (
	x87ModelNone x87Model = iota
	x87Model287
	x87Model387
)

func (m x87Model) String() string {
	switch m {
	case x87ModelNone:
		return "none"
	case x87Model287:
		return "287"
	}
	return "387"
}

func parseX87Model(s string) (x87Model, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none", "":
		return x87ModelNone, nil
	case "287", "80287":
		return x87Model287, nil
	case "387", "80387":
		return x87Model387, nil
	}
	return x87Model387, fmt.Errorf("unknown FPU model %q", s)
}

// x87Tables is the complete sub-dispatch set for one coprocessor model.
type x87Tables struct {
	model  x87Model
	D8, DC [2][32]x86Op
	D9, DA [2][256]x86Op
	DB, DD [2][256]x86Op
	DE, DF [2][256]x86Op

	// illegal marks encodings that fault with #UD, by prefix low bits and ModRM.
	illegal [8][256]bool
}

// Illegal reports whether escape (0xD8|esc) followed by modrm raises #UD.
func (t *x87Tables) Illegal(esc, modrm byte) bool {
	return t.illegal[esc&7][modrm]
}

// x87Layout describes one prefix before it is expanded into tables: memory
// forms by reg field, register rows by reg field, and single register
// encodings that override their row. nil entries are reserved.
type x87Layout struct {
	mem [8]x87MemFn
	reg [8]x87RegFn
	one map[byte]x87RegFn
}

func (l x87Layout) clone() x87Layout {
	l.one = maps.Clone(l.one)
	return l
}

func (l *x87Layout) regFor(modrm byte) x87RegFn {
	if fn, ok := l.one[modrm]; ok {
		return fn
	}
	return l.reg[(modrm>>3)&7]
}

// build256 expands a full-byte indexed prefix.
func (l *x87Layout) build256(t *x87Tables, esc int, out *[2][256]x86Op) {
	for v := range 2 {
		a32 := v == 1
		var mem [8]x86Op
		for r, fn := range l.mem {
			if fn != nil {
				mem[r] = x87Mem(a32, fn)
			}
		}
		for idx := range 256 {
			b := byte(idx)
			var op x86Op
			if b < 0xC0 {
				op = mem[(b>>3)&7]
			} else if fn := l.regFor(b); fn != nil {
				op = x87Reg(fn)
			}
			if op == nil {
				op = opX87Illegal
				t.illegal[esc][idx] = true
			}
			out[v][idx] = op
		}
	}
}

// build32 expands a reg-field indexed prefix: entries 0-23 are the memory
// forms for mod 0-2, 24-31 the register rows.
func (l *x87Layout) build32(t *x87Tables, esc int, out *[2][32]x86Op) {
	for v := range 2 {
		a32 := v == 1
		for idx := range 32 {
			r := idx & 7
			var op x86Op
			if idx < 24 {
				if l.mem[r] != nil {
					op = x87Mem(a32, l.mem[r])
				}
			} else if l.reg[r] != nil {
				op = x87Reg(l.reg[r])
			}
			if op == nil {
				op = opX87Illegal
			}
			out[v][idx] = op
		}
	}
	for modrm := range 256 {
		b := byte(modrm)
		if b < 0xC0 {
			t.illegal[esc][modrm] = l.mem[(b>>3)&7] == nil
		} else {
			t.illegal[esc][modrm] = l.reg[(b>>3)&7] == nil
		}
	}
}

// x87ArithLayout is the shared D8/DC/DA/DE memory row for one operand format.
func x87ArithLayout(kind int, add, mul, com, div int) [8]x87MemFn {
	return [8]x87MemFn{
		x87ArithMem(x87OpAdd, kind, add),
		x87ArithMem(x87OpMul, kind, mul),
		x87ArithMem(x87OpCom, kind, com),
		x87ArithMem(x87OpComp, kind, com),
		x87ArithMem(x87OpSub, kind, add),
		x87ArithMem(x87OpSubr, kind, add),
		x87ArithMem(x87OpDiv, kind, div),
		x87ArithMem(x87OpDivr, kind, div),
	}
}

// x87ReverseRow is the DC/DE register row: ST(i) is the destination and the
// sub/div encodings are swapped relative to D8.
func x87ReverseRow(pop bool) [8]x87RegFn {
	return [8]x87RegFn{
		x87ArithReg(x87OpAdd, true, pop, 23),
		x87ArithReg(x87OpMul, true, pop, 46),
		x87CompareReg(0, false, 24),
		x87CompareReg(1, false, 26),
		x87ArithReg(x87OpSubr, true, pop, 23),
		x87ArithReg(x87OpSub, true, pop, 23),
		x87ArithReg(x87OpDivr, true, pop, 88),
		x87ArithReg(x87OpDiv, true, pop, 88),
	}
}

func x87Remainder(nearest bool) func(f *FPU_X87, st0, st1 ExtendedReal) (ExtendedReal, bool) {
	return func(f *FPU_X87, st0, st1 ExtendedReal) (ExtendedReal, bool) {
		return f.remainder(st0, st1, nearest)
	}
}

// x87Layouts387 returns the 80387 layout of every prefix, indexed by the
// prefix low bits.
func x87Layouts387() [8]x87Layout {
	var l [8]x87Layout

	l[0].mem = x87ArithLayout(x87M32Real, 24, 27, 26, 89)
	l[0].reg = [8]x87RegFn{
		x87ArithReg(x87OpAdd, false, false, 23),
		x87ArithReg(x87OpMul, false, false, 46),
		x87CompareReg(0, false, 24),
		x87CompareReg(1, false, 26),
		x87ArithReg(x87OpSub, false, false, 23),
		x87ArithReg(x87OpSubr, false, false, 23),
		x87ArithReg(x87OpDiv, false, false, 88),
		x87ArithReg(x87OpDivr, false, false, 88),
	}

	l[1].mem = [8]x87MemFn{
		0: x87LoadMem(x87M32Real, 20),
		2: x87StoreMem(x87M32Real, false, 44),
		3: x87StoreMem(x87M32Real, true, 44),
		4: opFLDENV,
		5: opFLDCW,
		6: opFNSTENV,
		7: opFNSTCW,
	}
	l[1].reg = [8]x87RegFn{
		0: opFLD_STi,
		1: opFXCH,
		3: x87StoreReg(true), // FSTP1
	}
	l[1].one = map[byte]x87RegFn{
		0xD0: opFNOP,
		0xE0: opFCHS,
		0xE1: opFABS,
		0xE4: opFTST,
		0xE5: opFXAM,
		0xE8: x87LoadConst(24),
		0xE9: x87LoadConst(40),
		0xEA: x87LoadConst(40),
		0xEB: x87LoadConst(40),
		0xEC: x87LoadConst(40),
		0xED: x87LoadConst(40),
		0xEE: x87LoadConst(20),
		0xF0: x87Unary(242, (*FPU_X87).f2xm1),
		0xF1: x87Binary01(250, true, (*FPU_X87).yl2x),
		0xF2: x87Pusher(250, x87PTan),
		0xF3: x87Binary01(314, true, (*FPU_X87).atan),
		0xF4: x87Pusher(70, x87Xtract),
		0xF5: x87Binary01(95, false, x87Remainder(true)),
		0xF6: x87Top(-1, 22),
		0xF7: x87Top(1, 21),
		0xF8: x87Binary01(74, false, x87Remainder(false)),
		0xF9: x87Binary01(313, true, (*FPU_X87).yl2xp1),
		0xFA: x87Unary(122, (*FPU_X87).sqrt),
		0xFB: x87Pusher(300, x87SinCos),
		0xFC: x87Unary(66, (*FPU_X87).roundInt),
		0xFD: x87Binary01(67, false, (*FPU_X87).scale),
		0xFE: x87Unary(200, (*FPU_X87).sin),
		0xFF: x87Unary(200, (*FPU_X87).cos),
	}

	l[2].mem = x87ArithLayout(x87M32Int, 57, 61, 56, 120)
	l[2].one = map[byte]x87RegFn{
		0xE9: x87CompareST1(true, 26), // FUCOMPP
	}

	l[3].mem = [8]x87MemFn{
		0: x87LoadMem(x87M32Int, 45),
		2: x87StoreMem(x87M32Int, false, 79),
		3: x87StoreMem(x87M32Int, true, 79),
		5: x87LoadMem(x87M80Real, 44),
		7: x87StoreMem(x87M80Real, true, 53),
	}
	l[3].one = map[byte]x87RegFn{
		0xE0: opFNOPControl, // FENI
		0xE1: opFNOPControl, // FDISI
		0xE2: opFNCLEX,
		0xE3: opFNINIT,
		0xE4: opFNOPControl, // FSETPM
	}

	l[4].mem = x87ArithLayout(x87M64Real, 29, 32, 31, 94)
	l[4].reg = x87ReverseRow(false) // D0 and D8 rows are the FCOM2/FCOMP3 aliases

	l[5].mem = [8]x87MemFn{
		0: x87LoadMem(x87M64Real, 25),
		2: x87StoreMem(x87M64Real, false, 45),
		3: x87StoreMem(x87M64Real, true, 45),
		4: opFRSTOR,
		6: opFNSAVE,
		7: opFNSTSW,
	}
	l[5].reg = [8]x87RegFn{
		0: x87Free(false),
		1: opFXCH, // FXCH4
		2: x87StoreReg(false),
		3: x87StoreReg(true),
		4: x87CompareReg(0, true, 24),
		5: x87CompareReg(1, true, 26),
	}

	l[6].mem = x87ArithLayout(x87M16Int, 71, 76, 71, 136)
	l[6].reg = x87ReverseRow(true)
	l[6].reg[2] = x87CompareReg(1, false, 26) // FCOMP5
	l[6].reg[3] = nil
	l[6].one = map[byte]x87RegFn{
		0xD9: x87CompareST1(false, 26), // FCOMPP
	}

	l[7].mem = [8]x87MemFn{
		0: x87LoadMem(x87M16Int, 61),
		2: x87StoreMem(x87M16Int, false, 82),
		3: x87StoreMem(x87M16Int, true, 82),
		4: x87LoadMem(x87M80BCD, 266),
		5: x87LoadMem(x87M64Int, 56),
		6: x87StoreMem(x87M80BCD, true, 512),
		7: x87StoreMem(x87M64Int, true, 80),
	}
	l[7].reg = [8]x87RegFn{
		0: x87Free(true), // FFREEP
		1: opFXCH,        // FXCH7
		2: x87StoreReg(true),
		3: x87StoreReg(true),
	}
	l[7].one = map[byte]x87RegFn{
		0xE0: opFNSTSW_AX,
	}
	return l
}

// x87Layouts287 removes the instructions the 387 introduced.
func x87Layouts287() [8]x87Layout {
	l387 := x87Layouts387()
	var l [8]x87Layout
	for i := range l387 {
		l[i] = l387[i].clone()
	}
	for _, b := range []byte{0xF5, 0xFB, 0xFE, 0xFF} { // FPREM1 FSINCOS FSIN FCOS
		delete(l[1].one, b)
	}
	delete(l[2].one, 0xE9) // FUCOMPP
	l[5].reg[4] = nil      // FUCOM
	l[5].reg[5] = nil      // FUCOMP
	return l
}

func x87Build(model x87Model, l [8]x87Layout) *x87Tables {
	t := &x87Tables{model: model}
	l[0].build32(t, 0, &t.D8)
	l[4].build32(t, 4, &t.DC)
	l[1].build256(t, 1, &t.D9)
	l[2].build256(t, 2, &t.DA)
	l[3].build256(t, 3, &t.DB)
	l[5].build256(t, 5, &t.DD)
	l[6].build256(t, 6, &t.DE)
	l[7].build256(t, 7, &t.DF)
	return t
}

func x87BuildAbsent() *x87Tables {
	t := &x87Tables{model: x87ModelNone}
	for v := range 2 {
		op := x87Absent(v == 1)
		for i := range 32 {
			t.D8[v][i] = op
			t.DC[v][i] = op
		}
		for i := range 256 {
			t.D9[v][i] = op
			t.DA[v][i] = op
			t.DB[v][i] = op
			t.DD[v][i] = op
			t.DE[v][i] = op
			t.DF[v][i] = op
		}
	}
	return t
}

var x87ModelTables [3]*x87Tables

func init() {
	x87ModelTables[x87ModelNone] = x87BuildAbsent()
	x87ModelTables[x87Model287] = x87Build(x87Model287, x87Layouts287())
	x87ModelTables[x87Model387] = x87Build(x87Model387, x87Layouts387())
}
