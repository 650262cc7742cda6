// fpu_x87_arith.go - x87 arithmetic, compares and exact partial remainder
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import (
	"math/big"
)

// Binary operations are numbered by the ModRM reg field of D8/DC/DA/DE.
const (
	x87OpAdd  = 0
	x87OpMul  = 1
	x87OpCom  = 2
	x87OpComp = 3
	x87OpSub  = 4
	x87OpSubr = 5
	x87OpDiv  = 6
	x87OpDivr = 7
)

// x87NaNResult picks the NaN an operation returns: with two NaNs the one
// with the larger significand wins.
func x87NaNResult(a, b ExtendedReal) ExtendedReal {
	switch {
	case a.IsNaN() && b.IsNaN():
		if b.Mant&^extMantMSB > a.Mant&^extMantMSB {
			return b.Quiet()
		}
		return a.Quiet()
	case a.IsNaN():
		return a.Quiet()
	}
	return b.Quiet()
}

// precheck screens operands shared by every two-operand operation.
// done means res already holds the answer; ok=false means an unmasked
// exception suppresses the destination write.
func (f *FPU_X87) precheck(a, b ExtendedReal) (res ExtendedReal, done, ok bool) {
	if a.IsUnsupported() || b.IsUnsupported() {
		if f.raise(x87FSW_IE) {
			return res, true, false
		}
		return x87Indefinite, true, true
	}
	if a.IsNaN() || b.IsNaN() {
		if (a.IsSNaN() || b.IsSNaN()) && f.raise(x87FSW_IE) {
			return res, true, false
		}
		return x87NaNResult(a, b), true, true
	}
	if (a.IsDenormal() || b.IsDenormal()) && f.raise(x87FSW_DE) {
		return res, true, false
	}
	return res, false, true
}

func (f *FPU_X87) invalid() (ExtendedReal, bool) {
	if f.raise(x87FSW_IE) {
		return ExtendedReal{}, false
	}
	return x87Indefinite, true
}

// arith computes dst op src and reports whether the result may be written.
func (f *FPU_X87) arith(op int, dst, src ExtendedReal) (ExtendedReal, bool) {
	f.setC1(false)
	switch op {
	case x87OpSubr:
		op, dst, src = x87OpSub, src, dst
	case x87OpDivr:
		op, dst, src = x87OpDiv, src, dst
	}
	if res, done, ok := f.precheck(dst, src); done {
		return res, ok
	}
	switch op {
	case x87OpAdd:
		return f.add(dst, src)
	case x87OpSub:
		return f.add(dst, src.Neg())
	case x87OpMul:
		return f.mul(dst, src)
	case x87OpDiv:
		return f.div(dst, src)
	}
	return dst, false
}

func (f *FPU_X87) add(a, b ExtendedReal) (ExtendedReal, bool) {
	switch {
	case a.IsInf() && b.IsInf():
		if a.Sign != b.Sign {
			return f.invalid()
		}
		return a, true
	case a.IsInf():
		return a, true
	case b.IsInf():
		return b, true
	case a.IsZero() && b.IsZero():
		if a.Sign == b.Sign {
			return a, true
		}
		return f.signedZero(), true
	}
	z := new(big.Float).SetPrec(x87WidePrec).SetMode(big.ToZero)
	z.Add(a.big(), b.big())
	if z.Sign() == 0 {
		return f.signedZero(), true
	}
	return f.roundTo(x87Sticky(z, z.Acc() != big.Exact)), true
}

// signedZero is the sign of an exact zero sum: negative only when rounding down.
func (f *FPU_X87) signedZero() ExtendedReal {
	if f.rounding() == x87FCW_RCDown {
		return x87NegZero
	}
	return x87PosZero
}

func (f *FPU_X87) mul(a, b ExtendedReal) (ExtendedReal, bool) {
	sign := a.Sign ^ b.Sign
	switch {
	case (a.IsInf() && b.IsZero()) || (a.IsZero() && b.IsInf()):
		return f.invalid()
	case a.IsInf() || b.IsInf():
		return ExtendedReal{Sign: sign, Exp: extExpMax, Mant: extMantMSB}, true
	case a.IsZero() || b.IsZero():
		return ExtendedReal{Sign: sign}, true
	}
	z := new(big.Float).SetPrec(128).Mul(a.big(), b.big())
	return f.roundTo(z), true
}

func (f *FPU_X87) div(a, b ExtendedReal) (ExtendedReal, bool) {
	sign := a.Sign ^ b.Sign
	switch {
	case a.IsInf() && b.IsInf(), a.IsZero() && b.IsZero():
		return f.invalid()
	case a.IsInf():
		return ExtendedReal{Sign: sign, Exp: extExpMax, Mant: extMantMSB}, true
	case b.IsInf():
		return ExtendedReal{Sign: sign}, true
	case b.IsZero():
		if f.raise(x87FSW_ZE) {
			return ExtendedReal{}, false
		}
		return ExtendedReal{Sign: sign, Exp: extExpMax, Mant: extMantMSB}, true
	case a.IsZero():
		return ExtendedReal{Sign: sign}, true
	}
	z := new(big.Float).SetPrec(x87WidePrec).SetMode(big.ToZero)
	z.Quo(a.big(), b.big())
	return f.roundTo(x87Sticky(z, z.Acc() != big.Exact)), true
}

func (f *FPU_X87) sqrt(a ExtendedReal) (ExtendedReal, bool) {
	switch {
	case a.IsUnsupported():
		return f.invalid()
	case a.IsNaN():
		if a.IsSNaN() && f.raise(x87FSW_IE) {
			return a, false
		}
		return a.Quiet(), true
	case a.IsZero():
		return a, true
	case a.Sign == 1:
		return f.invalid()
	case a.IsInf():
		return a, true
	}
	if a.IsDenormal() && f.raise(x87FSW_DE) {
		return a, false
	}
	x := a.big()
	r := new(big.Float).SetPrec(x87WidePrec).Sqrt(x)
	// Sqrt does not report accuracy; square back to find which side r is on.
	sq := new(big.Float).SetPrec(2 * x87WidePrec).Mul(r, r)
	switch sq.Cmp(x) {
	case 0:
		return f.roundTo(r), true
	case 1:
		ulp := new(big.Float).SetMantExp(big.NewFloat(1), r.MantExp(nil)-int(x87WidePrec))
		r.Sub(r, ulp)
	}
	return f.roundTo(x87Sticky(r, true)), true
}

// roundInt is FRNDINT.
func (f *FPU_X87) roundInt(a ExtendedReal) (ExtendedReal, bool) {
	switch {
	case a.IsUnsupported():
		return f.invalid()
	case a.IsNaN():
		if a.IsSNaN() && f.raise(x87FSW_IE) {
			return a, false
		}
		return a.Quiet(), true
	case a.IsZero(), a.IsInf():
		return a, true
	}
	if a.IsDenormal() && f.raise(x87FSW_DE) {
		return a, false
	}
	if int(a.Exp)-extBias >= 63 {
		return a, true
	}
	n, inexact, up := x87RoundToInt(a.Abs().big(), f.rounding(), a.Sign == 1)
	if inexact {
		f.raise(x87FSW_PE)
	}
	f.setC1(up)
	if n.Sign() == 0 {
		return ExtendedReal{Sign: a.Sign}, true
	}
	r := x87RoundValue(new(big.Float).SetInt(n), x87FmtExtended, x87FCW_RCChop)
	out := r.ext()
	out.Sign = a.Sign
	return out, true
}

// scale is FSCALE: a * 2^trunc(b).
func (f *FPU_X87) scale(a, b ExtendedReal) (ExtendedReal, bool) {
	if res, done, ok := f.precheck(a, b); done {
		return res, ok
	}
	switch {
	case b.IsInf():
		switch {
		case b.Sign == 0 && a.IsZero(), b.Sign == 1 && a.IsInf():
			return f.invalid()
		case b.Sign == 0:
			return ExtendedReal{Sign: a.Sign, Exp: extExpMax, Mant: extMantMSB}, true
		}
		return ExtendedReal{Sign: a.Sign}, true
	case a.IsZero(), a.IsInf():
		return a, true
	}
	k := 0
	if !b.IsZero() {
		n, _ := b.Abs().big().Int(nil)
		const limit = 1 << 20
		if n.BitLen() > 21 {
			k = limit
		} else {
			k = int(n.Int64())
		}
		if b.Sign == 1 {
			k = -k
		}
	}
	x := a.big()
	z := new(big.Float).SetPrec(x.Prec()).SetMantExp(x, k)
	return f.roundTo(z), true
}

// compare sets C3/C2/C0 for a compare of a with b. quiet selects the
// unordered-compare rule where only SNaNs signal. It returns false when an
// unmasked exception cancels the instruction.
func (f *FPU_X87) compare(a, b ExtendedReal, quiet bool) bool {
	f.clearCond()
	if a.IsUnsupported() || b.IsUnsupported() || a.IsNaN() || b.IsNaN() {
		signal := !quiet || a.IsSNaN() || b.IsSNaN() || a.IsUnsupported() || b.IsUnsupported()
		if signal && f.raise(x87FSW_IE) {
			return false
		}
		f.FSW |= x87FSW_C0 | x87FSW_C2 | x87FSW_C3
		return true
	}
	if (a.IsDenormal() || b.IsDenormal()) && f.raise(x87FSW_DE) {
		return false
	}
	switch x87Compare(a, b) {
	case -1:
		f.FSW |= x87FSW_C0
	case 0:
		f.FSW |= x87FSW_C3
	}
	return true
}

// compareUnderflow is the empty-register response of the compare family.
func (f *FPU_X87) compareUnderflow(pops int) {
	f.clearCond()
	if f.raise(x87FSW_IE | x87FSW_SF) {
		return
	}
	f.FSW |= x87FSW_C0 | x87FSW_C2 | x87FSW_C3
	for range pops {
		f.pop()
	}
}

// examine is FXAM.
func (f *FPU_X87) examine() {
	v := f.ST(0)
	empty := f.isEmpty(0)
	sign := v.Sign == 1
	switch {
	case empty:
		f.setCond(true, sign, false, true)
	case v.IsUnsupported():
		f.setCond(false, sign, false, false)
	case v.IsNaN():
		f.setCond(true, sign, false, false)
	case v.IsInf():
		f.setCond(true, sign, true, false)
	case v.IsZero():
		f.setCond(false, sign, false, true)
	case v.IsDenormal():
		f.setCond(false, sign, true, true)
	default:
		f.setCond(false, sign, true, false)
	}
}

// remainder computes FPREM (nearest=false) or FPREM1 (nearest=true).
// It returns the new ST(0) and whether it may be written; condition codes
// are set here.
func (f *FPU_X87) remainder(a, b ExtendedReal, nearest bool) (ExtendedReal, bool) {
	if res, done, ok := f.precheck(a, b); done {
		if ok {
			f.FSW &^= x87FSW_C2
		}
		return res, ok
	}
	switch {
	case a.IsInf(), b.IsZero():
		f.FSW &^= x87FSW_C2
		return f.invalid()
	case b.IsInf(), a.IsZero():
		f.setCond(false, false, false, false)
		return a, true
	}
	ea, ma := a.normalized()
	eb, mb := b.normalized()
	d := ea - eb

	ai := new(big.Int).SetUint64(ma)
	bi := new(big.Int).SetUint64(mb)
	var lsb int
	partial := d >= 64
	switch {
	case partial:
		n := 32 + (d & 31)
		// Reduce against b scaled by 2^(d-n) so the exponent drops by n.
		ai.Lsh(ai, uint(n))
		lsb = ea - 63 - n
	case d >= 0:
		ai.Lsh(ai, uint(d))
		lsb = eb - 63
	default:
		bi.Lsh(bi, uint(-d))
		lsb = ea - 63
	}

	q, r := new(big.Int).QuoRem(ai, bi, new(big.Int))
	neg := a.Sign == 1
	if nearest && !partial {
		twice := new(big.Int).Lsh(r, 1)
		if c := twice.Cmp(bi); c > 0 || (c == 0 && q.Bit(0) == 1) {
			q.Add(q, big.NewInt(1))
			r.Sub(bi, r)
			neg = !neg
		}
	}

	if partial {
		f.FSW |= x87FSW_C2
	} else {
		qb := q.Uint64()
		f.setCond(qb&4 != 0, qb&1 != 0, false, qb&2 != 0)
	}
	if r.Sign() == 0 {
		return ExtendedReal{Sign: a.Sign}, true
	}
	z := new(big.Float).SetInt(r)
	z.SetMantExp(z, lsb)
	if neg {
		z.Neg(z)
	}
	res := x87RoundValue(z, x87FmtExtended, x87FCW_RCNearest)
	if res.tiny && !f.masked(x87FSW_UE) {
		f.raise(x87FSW_UE)
	}
	return res.ext(), true
}

// extract is FXTRACT's split of a into exponent and significand.
func (f *FPU_X87) extract(a ExtendedReal) (exp, sig ExtendedReal, ok bool) {
	switch {
	case a.IsUnsupported():
		v, ok := f.invalid()
		return v, v, ok
	case a.IsNaN():
		if a.IsSNaN() && f.raise(x87FSW_IE) {
			return a, a, false
		}
		return a.Quiet(), a.Quiet(), true
	case a.IsInf():
		return x87PosInf, a, true
	case a.IsZero():
		if f.raise(x87FSW_ZE) {
			return a, a, false
		}
		return x87NegInf, a, true
	}
	if a.IsDenormal() && f.raise(x87FSW_DE) {
		return a, a, false
	}
	e, m := a.normalized()
	return extFromInt64(int64(e)), ExtendedReal{Sign: a.Sign, Exp: extBias, Mant: m}, true
}
