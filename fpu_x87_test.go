package main

import (
	"math"
	"testing"
)

func ext(v float64) ExtendedReal {
	return ExtendedRealFromFloat64(v)
}

// pow2 is 2^e as an extended real.
func pow2(e int) ExtendedReal {
	return ExtendedReal{Exp: uint16(extBias + e), Mant: extMantMSB}
}

func TestX87_Init(t *testing.T) {
	f := NewFPU_X87()
	if f.FCW != 0x037F {
		t.Fatalf("FCW = 0x%04X, want 0x037F", f.FCW)
	}
	if f.FSW != 0 {
		t.Fatalf("FSW = 0x%04X, want 0", f.FSW)
	}
	if f.FTW != 0xFFFF {
		t.Fatalf("FTW = 0x%04X, want 0xFFFF", f.FTW)
	}
	if f.top() != 0 {
		t.Fatalf("TOP = %d, want 0", f.top())
	}
}

func TestX87_PushPopAndIndexing(t *testing.T) {
	f := NewFPU_X87()
	f.push(ext(1))
	f.push(ext(2))
	f.push(ext(3))
	if f.top() != 5 {
		t.Fatalf("TOP = %d, want 5", f.top())
	}
	if f.ST(0) != ext(3) || f.ST(1) != ext(2) || f.ST(2) != ext(1) {
		t.Fatalf("unexpected ST order: ST0=%v ST1=%v ST2=%v", f.ST(0), f.ST(1), f.ST(2))
	}
	f.pop()
	if f.ST(0) != ext(2) || f.top() != 6 {
		t.Fatalf("after pop ST0=%v TOP=%d", f.ST(0), f.top())
	}
	if !f.isEmpty(-1) {
		t.Fatal("popped register not tagged empty")
	}
}

func TestX87_StackOverflowMasked(t *testing.T) {
	f := NewFPU_X87()
	for i := range 8 {
		f.push(ext(float64(i)))
	}
	f.push(ext(9))
	want := x87FSW_IE | x87FSW_SF | x87FSW_C1
	if f.FSW&want != want {
		t.Fatalf("overflow flags FSW=0x%04X", f.FSW)
	}
	if f.ST(0) != x87Indefinite {
		t.Fatalf("ST0 = %v, want indefinite", f.ST(0))
	}
	if f.pendingException() {
		t.Fatal("masked overflow left an exception pending")
	}
}

func TestX87_StackUnderflowUnmasked(t *testing.T) {
	f := NewFPU_X87()
	f.FCW &^= x87FSW_IE
	f.stackUnderflow(0, false)
	if f.FSW&(x87FSW_IE|x87FSW_SF|x87FSW_ES|x87FSW_B) != x87FSW_IE|x87FSW_SF|x87FSW_ES|x87FSW_B {
		t.Fatalf("underflow flags FSW=0x%04X", f.FSW)
	}
	if f.FSW&x87FSW_C1 != 0 {
		t.Fatalf("underflow should clear C1, FSW=0x%04X", f.FSW)
	}
	if !f.isEmpty(0) {
		t.Fatal("unmasked underflow wrote the destination")
	}
	if !f.pendingException() {
		t.Fatal("no pending exception")
	}
}

func TestX87_TagWordClassification(t *testing.T) {
	f := NewFPU_X87()
	tests := []struct {
		v    ExtendedReal
		want uint16
	}{
		{ext(1), x87TagValid},
		{x87PosZero, x87TagZero},
		{x87NegInf, x87TagSpecial},
		{x87Indefinite, x87TagSpecial},
		{ExtendedReal{Mant: 1}, x87TagSpecial},
	}
	for _, tc := range tests {
		f.Reset()
		f.push(tc.v)
		if got := f.getTag(f.physReg(0)); got != tc.want {
			t.Fatalf("tag(%v) = %d, want %d", tc.v, got, tc.want)
		}
	}
}

func TestX87_UpdateSummary(t *testing.T) {
	f := NewFPU_X87()
	f.FSW = x87FSW_ZE
	f.updateSummary()
	if f.pendingException() {
		t.Fatal("masked ZE is pending")
	}
	f.FCW &^= x87FSW_ZE
	f.updateSummary()
	if f.FSW&(x87FSW_ES|x87FSW_B) != x87FSW_ES|x87FSW_B {
		t.Fatalf("FSW = %04X, want ES and B", f.FSW)
	}
}

func TestX87_AddRoundsOnce(t *testing.T) {
	tests := []struct {
		name string
		pc   uint16
		rc   uint16
		b    ExtendedReal
		want ExtendedReal
	}{
		{"extended nearest tie to even", 3, x87FCW_RCNearest, pow2(-64), x87One},
		{"extended up", 3, x87FCW_RCUp, pow2(-64), ExtendedReal{Exp: extBias, Mant: extMantMSB | 1}},
		{"extended chop", 3, x87FCW_RCChop, pow2(-64), x87One},
		{"single nearest tie to even", 0, x87FCW_RCNearest, pow2(-24), x87One},
		{"single up", 0, x87FCW_RCUp, pow2(-24), ExtendedReal{Exp: extBias, Mant: extMantMSB | 1<<40}},
		{"double up", 2, x87FCW_RCUp, pow2(-60), ExtendedReal{Exp: extBias, Mant: extMantMSB | 1<<11}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := NewFPU_X87()
			f.FCW = f.FCW&^(x87FCW_PCMask|x87FCW_RCMask) | tc.pc<<x87FCW_PCShift | tc.rc<<x87FCW_RCShift
			got, ok := f.arith(x87OpAdd, x87One, tc.b)
			if !ok || got != tc.want {
				t.Fatalf("1 + b = %+v ok=%v, want %+v", got, ok, tc.want)
			}
			if f.FSW&x87FSW_PE == 0 {
				t.Fatal("inexact result without PE")
			}
		})
	}
}

func TestX87_ExactArithmetic(t *testing.T) {
	f := NewFPU_X87()
	tests := []struct {
		op   int
		a, b float64
		want float64
	}{
		{x87OpAdd, 1.5, 2.25, 3.75},
		{x87OpSub, 1, 3, -2},
		{x87OpSubr, 1, 3, 2},
		{x87OpMul, -3, 0.5, -1.5},
		{x87OpDiv, 10, 4, 2.5},
		{x87OpDivr, 4, 10, 2.5},
	}
	for _, tc := range tests {
		f.FSW = 0
		got, ok := f.arith(tc.op, ext(tc.a), ext(tc.b))
		if !ok || got.ToFloat64() != tc.want {
			t.Fatalf("op %d (%v, %v) = %v, want %v", tc.op, tc.a, tc.b, got.ToFloat64(), tc.want)
		}
		if f.FSW&x87FSW_PE != 0 {
			t.Fatalf("op %d: exact result raised PE", tc.op)
		}
	}
}

func TestX87_DivideRounding(t *testing.T) {
	f := NewFPU_X87()
	got, _ := f.div(ext(1), ext(3))
	// 1/3 to 64 bits, nearest: 0xAAAAAAAAAAAAAAAB * 2^-65
	want := ExtendedReal{Exp: extBias - 2, Mant: 0xAAAAAAAAAAAAAAAB}
	if got != want {
		t.Fatalf("1/3 = %+v, want %+v", got, want)
	}
	if f.FSW&x87FSW_C1 == 0 {
		t.Fatal("rounded up without C1")
	}
}

func TestX87_DivideByZero(t *testing.T) {
	f := NewFPU_X87()
	got, ok := f.arith(x87OpDiv, ext(-2), x87PosZero)
	if !ok || got != x87NegInf {
		t.Fatalf("-2/0 = %+v ok=%v", got, ok)
	}
	if f.FSW&x87FSW_ZE == 0 {
		t.Fatalf("FSW = %04X, want ZE", f.FSW)
	}

	f.Reset()
	f.FCW &^= x87FSW_ZE
	if _, ok := f.arith(x87OpDiv, ext(1), x87PosZero); ok {
		t.Fatal("unmasked ZE delivered a result")
	}
	if !f.pendingException() {
		t.Fatal("unmasked ZE not pending")
	}
}

func TestX87_InvalidOperations(t *testing.T) {
	f := NewFPU_X87()
	if got, _ := f.sqrt(ext(-1)); got != x87Indefinite {
		t.Fatalf("sqrt(-1) = %+v", got)
	}
	if f.FSW&x87FSW_IE == 0 {
		t.Fatal("sqrt(-1) without IE")
	}
	f.FSW = 0
	if got, _ := f.arith(x87OpAdd, x87PosInf, x87NegInf); got != x87Indefinite {
		t.Fatalf("inf + -inf = %+v", got)
	}
	f.FSW = 0
	snan := ExtendedReal{Exp: extExpMax, Mant: extMantMSB | 1}
	got, _ := f.arith(x87OpMul, snan, ext(1))
	if !got.IsNaN() || got.IsSNaN() || f.FSW&x87FSW_IE == 0 {
		t.Fatalf("SNaN * 1 = %+v FSW=%04X", got, f.FSW)
	}
}

func TestX87_SqrtExact(t *testing.T) {
	f := NewFPU_X87()
	got, _ := f.sqrt(ext(2))
	want := ExtendedReal{Exp: extBias, Mant: 0xB504F333F9DE6484}
	if got != want {
		t.Fatalf("sqrt(2) = %016X, want %016X", got.Mant, want.Mant)
	}
	got, _ = f.sqrt(ext(144))
	if got != ext(12) {
		t.Fatalf("sqrt(144) = %v", got.ToFloat64())
	}
}

func TestX87_Compare(t *testing.T) {
	f := NewFPU_X87()
	tests := []struct {
		a, b       ExtendedReal
		c0, c2, c3 bool
	}{
		{ext(1), ext(2), true, false, false},
		{ext(2), ext(1), false, false, false},
		{ext(2), ext(2), false, false, true},
		{x87Indefinite, ext(1), true, true, true},
	}
	for _, tc := range tests {
		f.FSW = 0
		f.compare(tc.a, tc.b, true)
		got := [3]bool{f.FSW&x87FSW_C0 != 0, f.FSW&x87FSW_C2 != 0, f.FSW&x87FSW_C3 != 0}
		if got != [3]bool{tc.c0, tc.c2, tc.c3} {
			t.Fatalf("compare(%v, %v): C0 C2 C3 = %v", tc.a.ToFloat64(), tc.b.ToFloat64(), got)
		}
	}
}

func TestX87_Float32StoreRounding(t *testing.T) {
	f := NewFPU_X87()
	bus := NewTestX86Bus()
	v := ExtendedReal{Exp: extBias, Mant: extMantMSB | 1<<33} // 1 + 2^-30
	if !f.storeFloat32(bus, 0x100, v) {
		t.Fatal("store suppressed")
	}
	bits := uint32(read16le(bus, 0x100)) | uint32(read16le(bus, 0x102))<<16
	if math.Float32frombits(bits) != 1 {
		t.Fatalf("stored %08X, want 1.0", bits)
	}
	if f.FSW&x87FSW_PE == 0 {
		t.Fatal("inexact store without PE")
	}

	f.FSW = 0
	f.storeFloat32(bus, 0x100, ext(1e300))
	bits = uint32(read16le(bus, 0x100)) | uint32(read16le(bus, 0x102))<<16
	if !math.IsInf(float64(math.Float32frombits(bits)), 1) || f.FSW&x87FSW_OE == 0 {
		t.Fatalf("overflowing store: %08X FSW=%04X", bits, f.FSW)
	}
}

func TestX87_IntegerStores(t *testing.T) {
	f := NewFPU_X87()
	bus := NewTestX86Bus()
	f.storeInt16(bus, 0x100, ext(2.5))
	if v := int16(read16le(bus, 0x100)); v != 2 {
		t.Fatalf("FIST 2.5 = %d, want 2 (nearest even)", v)
	}
	f.FCW |= x87FCW_RCDown << x87FCW_RCShift
	f.storeInt16(bus, 0x100, ext(-2.5))
	if v := int16(read16le(bus, 0x100)); v != -3 {
		t.Fatalf("FIST -2.5 down = %d, want -3", v)
	}
	f.storeInt16(bus, 0x100, ext(40000))
	if v := read16le(bus, 0x100); v != 0x8000 || f.FSW&x87FSW_IE == 0 {
		t.Fatalf("FIST 40000 = %04X FSW=%04X, want integer indefinite", v, f.FSW)
	}
}

func TestX87_BCD(t *testing.T) {
	f := NewFPU_X87()
	bus := NewTestX86Bus()
	if !f.storeBCD(bus, 0x200, ext(-1234567)) {
		t.Fatal("store suppressed")
	}
	want := []byte{0x67, 0x45, 0x23, 0x01, 0, 0, 0, 0, 0, 0x80}
	for i, b := range want {
		if bus.memory[0x200+i] != b {
			t.Fatalf("byte %d = %02X, want %02X", i, bus.memory[0x200+i], b)
		}
	}
	if got := f.loadBCD(bus, 0x200); got != ext(-1234567) {
		t.Fatalf("loadBCD = %v", got.ToFloat64())
	}
}

func TestX87_EnvironmentLayouts(t *testing.T) {
	for _, op32 := range []bool{false, true} {
		f := NewFPU_X87()
		bus := NewTestX86Bus()
		f.push(ext(1))
		f.FIP, f.FDP, f.FOP, f.FCS, f.FDS = 0x1234, 0x5678, 0x5C1, 0x11, 0x22
		f.storeEnv(bus, 0x300, op32)

		stride := uint32(2)
		if op32 {
			stride = 4
		}
		if got := read16le(bus, 0x300); got != 0x037F {
			t.Fatalf("op32=%v: FCW image %04X", op32, got)
		}
		if got := read16le(bus, 0x300+stride); got != f.FSW {
			t.Fatalf("op32=%v: FSW image %04X, want %04X", op32, got, f.FSW)
		}
		if got := read16le(bus, 0x300+2*stride); got != 0x3FFF {
			t.Fatalf("op32=%v: tag image %04X, want 3FFF", op32, got)
		}
		if got := read16le(bus, 0x300+3*stride); got != 0x1234 {
			t.Fatalf("op32=%v: FIP image %04X", op32, got)
		}

		g := NewFPU_X87()
		g.loadEnv(bus, 0x300, op32)
		if g.FCW != f.FCW || g.FSW != f.FSW || g.FIP != f.FIP || g.FDP != f.FDP || g.FCS != f.FCS || g.FDS != f.FDS {
			t.Fatalf("op32=%v: environment did not round-trip", op32)
		}
		if op32 && g.FOP != f.FOP {
			t.Fatalf("FOP = %03X, want %03X", g.FOP, f.FOP)
		}
	}
	if x87EnvSize(false) != 14 || x87EnvSize(true) != 28 {
		t.Fatal("environment sizes")
	}
}

func TestX87_SaveRestore(t *testing.T) {
	f := NewFPU_X87()
	bus := NewTestX86Bus()
	f.push(ext(1.5))
	f.push(ext(-2))
	f.push(x87PosZero)
	ftw, fsw := f.FTW, f.FSW
	f.save(bus, 0x400, true)
	if f.FTW != 0xFFFF || f.top() != 0 {
		t.Fatal("FNSAVE did not reinitialise")
	}
	f.restore(bus, 0x400, true)
	if f.FTW != ftw || f.FSW != fsw {
		t.Fatalf("FTW=%04X FSW=%04X, want %04X %04X", f.FTW, f.FSW, ftw, fsw)
	}
	if f.ST(0) != x87PosZero || f.ST(1) != ext(-2) || f.ST(2) != ext(1.5) {
		t.Fatal("stack contents did not round-trip")
	}
}

func TestX87_Transcendentals(t *testing.T) {
	f := NewFPU_X87()
	if got, _ := f.sin(ext(math.Pi / 2)); math.Abs(got.ToFloat64()-1) > 1e-15 {
		t.Fatalf("sin(pi/2) = %v", got.ToFloat64())
	}
	f.FSW = 0
	big := ExtendedReal{Exp: x87TrigLimit, Mant: extMantMSB}
	got, ok := f.sin(big)
	if !ok || got != big || f.FSW&x87FSW_C2 == 0 {
		t.Fatalf("out-of-range sin: %+v C2=%v", got, f.FSW&x87FSW_C2 != 0)
	}
	if got, _ := f.yl2x(ext(8), ext(3)); got.ToFloat64() != 9 {
		t.Fatalf("3*log2(8) = %v", got.ToFloat64())
	}
}
