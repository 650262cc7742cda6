// fpu_x87_trans.go - x87 transcendental unit
//
// Transcendentals are evaluated through float64 and widened back into the
// register format. Argument screening and condition codes follow the 387.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import "math"

// x87TrigLimit is the magnitude at which FSIN/FCOS/FPTAN/FSINCOS refuse to
// reduce and report C2=1.
const x87TrigLimit = 0x403E // biased exponent of 2^63

func x87OutOfTrigRange(v ExtendedReal) bool {
	return !v.IsInf() && !v.IsNaN() && v.Exp >= x87TrigLimit
}

// transResult widens a float64 result, latching PE for inexact inputs.
func (f *FPU_X87) transResult(v float64, exact bool) (ExtendedReal, bool) {
	if math.IsNaN(v) {
		return f.invalid()
	}
	if !exact {
		f.raise(x87FSW_PE)
	}
	return f.roundTo(ExtendedRealFromFloat64(v).big()), true
}

func (f *FPU_X87) f2xm1(a ExtendedReal) (ExtendedReal, bool) {
	if res, done, ok := f.precheck(a, a); done {
		return res, ok
	}
	switch {
	case a.IsZero():
		return a, true
	case a.IsInf():
		if a.Sign == 1 {
			return ExtendedReal{Sign: 1, Exp: extBias, Mant: extMantMSB}, true
		}
		return a, true
	}
	return f.transResult(math.Expm1(a.ToFloat64()*math.Ln2), false)
}

// yl2x is FYL2X: y * log2(x).
func (f *FPU_X87) yl2x(x, y ExtendedReal) (ExtendedReal, bool) {
	if res, done, ok := f.precheck(x, y); done {
		return res, ok
	}
	switch {
	case x.Sign == 1 && !x.IsZero():
		return f.invalid()
	case x.IsZero():
		if y.IsZero() {
			return f.invalid()
		}
		if f.raise(x87FSW_ZE) {
			return x, false
		}
		return ExtendedReal{Sign: y.Sign ^ 1, Exp: extExpMax, Mant: extMantMSB}, true
	}
	xf, yf := x.ToFloat64(), y.ToFloat64()
	if xf == 1 {
		if y.IsInf() {
			return f.invalid()
		}
		return ExtendedReal{Sign: y.Sign}, true
	}
	return f.transResult(yf*math.Log2(xf), false)
}

// yl2xp1 is FYL2XP1: y * log2(x + 1).
func (f *FPU_X87) yl2xp1(x, y ExtendedReal) (ExtendedReal, bool) {
	if res, done, ok := f.precheck(x, y); done {
		return res, ok
	}
	if x.IsZero() {
		if y.IsInf() {
			return f.invalid()
		}
		return ExtendedReal{Sign: x.Sign ^ y.Sign}, true
	}
	xf := x.ToFloat64()
	if xf < -1 {
		return f.invalid()
	}
	return f.transResult(y.ToFloat64()*math.Log1p(xf)/math.Ln2, false)
}

// atan is FPATAN: atan(y / x) with the quadrant taken from both signs.
func (f *FPU_X87) atan(x, y ExtendedReal) (ExtendedReal, bool) {
	if res, done, ok := f.precheck(x, y); done {
		return res, ok
	}
	if y.IsZero() && x.Sign == 0 {
		return y, true
	}
	return f.transResult(math.Atan2(y.ToFloat64(), x.ToFloat64()), false)
}

// trig screens a trig operand. done reports a result already decided.
func (f *FPU_X87) trig(a ExtendedReal) (res ExtendedReal, done, ok bool) {
	if res, done, ok := f.precheck(a, a); done {
		f.FSW &^= x87FSW_C2
		return res, done, ok
	}
	if a.IsInf() {
		f.FSW &^= x87FSW_C2
		res, ok := f.invalid()
		return res, true, ok
	}
	if x87OutOfTrigRange(a) {
		f.FSW |= x87FSW_C2
		return a, true, true
	}
	f.FSW &^= x87FSW_C2
	return a, false, true
}

func (f *FPU_X87) sin(a ExtendedReal) (ExtendedReal, bool) {
	if res, done, ok := f.trig(a); done {
		return res, ok
	}
	if a.IsZero() {
		return a, true
	}
	return f.transResult(math.Sin(a.ToFloat64()), false)
}

func (f *FPU_X87) cos(a ExtendedReal) (ExtendedReal, bool) {
	if res, done, ok := f.trig(a); done {
		return res, ok
	}
	if a.IsZero() {
		return x87One, true
	}
	return f.transResult(math.Cos(a.ToFloat64()), false)
}

func (f *FPU_X87) tan(a ExtendedReal) (ExtendedReal, bool) {
	if res, done, ok := f.trig(a); done {
		return res, ok
	}
	if a.IsZero() {
		return a, true
	}
	return f.transResult(math.Tan(a.ToFloat64()), false)
}

// x87Constant returns an FLDxx constant adjusted for the rounding mode.
// The stored significands are the round-to-nearest values; PI, L2E, LG2 and
// LN2 were rounded up so they drop one ulp when rounding down or chopping,
// L2T was rounded down so it gains one when rounding up.
func (f *FPU_X87) x87Constant(sel byte) ExtendedReal {
	rc := f.rounding()
	down := rc == x87FCW_RCDown || rc == x87FCW_RCChop
	switch sel {
	case 0xE8:
		return x87One
	case 0xE9:
		v := ExtendedReal{Exp: 0x4000, Mant: 0xD49A784BCD1B8AFE}
		if rc == x87FCW_RCUp {
			v.Mant++
		}
		return v
	case 0xEA:
		return x87ConstDown(ExtendedReal{Exp: 0x3FFF, Mant: 0xB8AA3B295C17F0BC}, down)
	case 0xEB:
		return x87ConstDown(ExtendedReal{Exp: 0x4000, Mant: 0xC90FDAA22168C235}, down)
	case 0xEC:
		return x87ConstDown(ExtendedReal{Exp: 0x3FFD, Mant: 0x9A209A84FBCFF799}, down)
	case 0xED:
		return x87ConstDown(ExtendedReal{Exp: 0x3FFE, Mant: 0xB17217F7D1CF79AC}, down)
	}
	return x87PosZero
}

func x87ConstDown(v ExtendedReal, down bool) ExtendedReal {
	if down {
		v.Mant--
	}
	return v
}
