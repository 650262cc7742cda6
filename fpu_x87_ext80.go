// fpu_x87_ext80.go - 80-bit extended real values and exact rounding
//
// Registers of the x87 hold the full 80-bit format. Arithmetic that must
// round (add, subtract, multiply, divide, square root, format conversion)
// is carried out on exact or sticky-odd math/big values and rounded once to
// the destination format, so results match the hardware bit for bit.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import (
	"math"
	"math/big"
)

// ExtendedReal is an 80-bit x87 register value:
// 1 sign bit, 15-bit biased exponent, 64-bit significand with explicit integer bit.
type ExtendedReal struct {
	Sign uint8  // 0 = positive, 1 = negative
	Exp  uint16 // 15-bit biased exponent
	Mant uint64 // significand, bit 63 is the integer bit
}

const (
	extExpMax   uint16 = 0x7FFF
	extBias            = 16383
	extMantMSB  uint64 = 1 << 63
	extQuietBit uint64 = 1 << 62

	// x87WidePrec is the working precision for inexact intermediates.
	// Anything >= 66 bits with a sticky low bit rounds correctly to 64.
	x87WidePrec = 192

	// Exponent bias applied to results when OE/UE are unmasked.
	x87BiasAdjust = 24576
)

var (
	x87Indefinite = ExtendedReal{Sign: 1, Exp: extExpMax, Mant: 0xC000000000000000}
	x87PosZero    = ExtendedReal{}
	x87NegZero    = ExtendedReal{Sign: 1}
	x87PosInf     = ExtendedReal{Exp: extExpMax, Mant: extMantMSB}
	x87NegInf     = ExtendedReal{Sign: 1, Exp: extExpMax, Mant: extMantMSB}
	x87One        = ExtendedReal{Exp: extBias, Mant: extMantMSB}
)

func (e ExtendedReal) IsZero() bool {
	return e.Exp == 0 && e.Mant == 0
}

// IsDenormal reports denormals and pseudo-denormals (exponent field zero).
func (e ExtendedReal) IsDenormal() bool {
	return e.Exp == 0 && e.Mant != 0
}

func (e ExtendedReal) IsInf() bool {
	return e.Exp == extExpMax && e.Mant == extMantMSB
}

func (e ExtendedReal) IsNaN() bool {
	return e.Exp == extExpMax && e.Mant&extMantMSB != 0 && e.Mant&^extMantMSB != 0
}

func (e ExtendedReal) IsSNaN() bool {
	return e.IsNaN() && e.Mant&extQuietBit == 0
}

// IsUnsupported reports encodings the 387 rejects as invalid operands:
// unnormals, pseudo-NaNs and pseudo-infinities.
func (e ExtendedReal) IsUnsupported() bool {
	return e.Exp != 0 && e.Mant&extMantMSB == 0
}

func (e ExtendedReal) Quiet() ExtendedReal {
	e.Mant |= extQuietBit
	return e
}

func (e ExtendedReal) Neg() ExtendedReal {
	e.Sign ^= 1
	return e
}

func (e ExtendedReal) Abs() ExtendedReal {
	e.Sign = 0
	return e
}

// Bits packs the value into the 10-byte memory layout: significand in the
// low 64 bits, sign and exponent in the high 16.
func (e ExtendedReal) Bits() (lo uint64, hi uint16) {
	return e.Mant, uint16(e.Sign&1)<<15 | e.Exp&0x7FFF
}

func ExtendedRealFromBits(lo uint64, hi uint16) ExtendedReal {
	return ExtendedReal{Sign: uint8(hi >> 15), Exp: hi & 0x7FFF, Mant: lo}
}

// normalized returns the unbiased exponent and a significand with bit 63 set.
// Only valid for finite non-zero values.
func (e ExtendedReal) normalized() (int, uint64) {
	exp := int(e.Exp) - extBias
	if e.Exp == 0 {
		exp = 1 - extBias
	}
	m := e.Mant
	for m&extMantMSB == 0 {
		m <<= 1
		exp--
	}
	return exp, m
}

// ExtendedRealFromFloat64 converts exactly; every float64 fits in 80 bits.
func ExtendedRealFromFloat64(f float64) ExtendedReal {
	return extFromFloat64Bits(math.Float64bits(f))
}

func extFromFloat64Bits(bits uint64) ExtendedReal {
	sign := uint8(bits >> 63)
	exp := int((bits >> 52) & 0x7FF)
	frac := bits & (1<<52 - 1)
	switch {
	case exp == 0x7FF:
		// NaN payload moves to the top of the significand; signalling-ness survives.
		return ExtendedReal{Sign: sign, Exp: extExpMax, Mant: extMantMSB | frac<<11}
	case exp == 0 && frac == 0:
		return ExtendedReal{Sign: sign}
	case exp == 0:
		e := -1022
		for frac&(1<<52) == 0 {
			frac <<= 1
			e--
		}
		return ExtendedReal{Sign: sign, Exp: uint16(e + extBias), Mant: frac << 11}
	}
	return ExtendedReal{Sign: sign, Exp: uint16(exp - 1023 + extBias), Mant: (frac | 1<<52) << 11}
}

func extFromFloat32Bits(bits uint32) ExtendedReal {
	sign := uint8(bits >> 31)
	exp := int((bits >> 23) & 0xFF)
	frac := uint64(bits & (1<<23 - 1))
	switch {
	case exp == 0xFF:
		return ExtendedReal{Sign: sign, Exp: extExpMax, Mant: extMantMSB | frac<<40}
	case exp == 0 && frac == 0:
		return ExtendedReal{Sign: sign}
	case exp == 0:
		e := -126
		for frac&(1<<23) == 0 {
			frac <<= 1
			e--
		}
		return ExtendedReal{Sign: sign, Exp: uint16(e + extBias), Mant: frac << 40}
	}
	return ExtendedReal{Sign: sign, Exp: uint16(exp - 127 + extBias), Mant: (frac | 1<<23) << 40}
}

func extFromInt64(v int64) ExtendedReal {
	if v == 0 {
		return x87PosZero
	}
	var sign uint8
	m := uint64(v)
	if v < 0 {
		sign = 1
		m = uint64(-v) // MinInt64 wraps to 1<<63, which is the right magnitude
	}
	exp := extBias + 63
	for m&extMantMSB == 0 {
		m <<= 1
		exp--
	}
	return ExtendedReal{Sign: sign, Exp: uint16(exp), Mant: m}
}

// ToFloat64 converts with round-to-nearest; used by the transcendental unit.
func (e ExtendedReal) ToFloat64() float64 {
	switch {
	case e.IsNaN():
		return math.Float64frombits(uint64(e.Sign)<<63 | 0x7FF<<52 | (e.Mant&^extMantMSB)>>11 | 1<<51)
	case e.Exp == extExpMax:
		if e.Sign == 1 {
			return math.Inf(-1)
		}
		return math.Inf(1)
	case e.Mant == 0:
		if e.Sign == 1 {
			return math.Copysign(0, -1)
		}
		return 0
	}
	f, _ := e.big().Float64()
	return f
}

// big returns the exact value of a finite number.
func (e ExtendedReal) big() *big.Float {
	z := new(big.Float).SetPrec(64)
	if e.Mant == 0 {
		if e.Sign == 1 {
			z.Neg(z)
		}
		return z
	}
	exp := int(e.Exp) - extBias
	if e.Exp == 0 {
		exp = 1 - extBias
	}
	z.SetUint64(e.Mant)
	z.SetMantExp(z, exp-63)
	if e.Sign == 1 {
		z.Neg(z)
	}
	return z
}

// x87Format describes a destination format for rounding.
type x87Format struct {
	prec int // significand bits including the integer bit
	emin int // unbiased exponent of the smallest normal
	emax int // unbiased exponent of the largest finite value
	qmin int // exponent of the least significant denormal bit
}

var (
	x87FmtExtended = x87Format{prec: 64, emin: -16382, emax: 16383, qmin: -16382 - 63}
	x87FmtDouble   = x87Format{prec: 53, emin: -1022, emax: 1023, qmin: -1074}
	x87FmtSingle   = x87Format{prec: 24, emin: -126, emax: 127, qmin: -149}
)

// withPrecision narrows the significand per FCW.PC while keeping the
// extended exponent range.
func (fm x87Format) withPrecision(prec int) x87Format {
	fm.prec = prec
	return fm
}

// x87Rounded is the outcome of rounding an exact value to a format.
type x87Rounded struct {
	sign     uint8
	zero     bool
	exp      int    // unbiased exponent of the integer bit
	sig      uint64 // bit 63 set unless zero
	inexact  bool
	up       bool // magnitude was increased
	tiny     bool
	overflow bool
}

// x87RoundValue rounds z to fm using the x87 rounding control rc.
// z must be exact, or carry a sticky odd low bit at x87WidePrec.
func x87RoundValue(z *big.Float, fm x87Format, rc uint16) x87Rounded {
	var r x87Rounded
	if z.Signbit() {
		r.sign = 1
	}
	if z.Sign() == 0 {
		r.zero = true
		return r
	}
	a := new(big.Float).Abs(z)
	e := a.MantExp(nil) // a = m * 2^e, m in [0.5, 1)
	if e-1 < fm.emin {
		r.tiny = true
	}
	q := e - fm.prec
	if q < fm.qmin {
		q = fm.qmin
	}
	scaled := new(big.Float).SetPrec(a.Prec()).SetMantExp(a, -q)
	n, inexact, up := x87RoundToInt(scaled, rc, r.sign == 1)
	r.inexact = inexact
	r.up = up
	if n.BitLen() > fm.prec {
		n.Rsh(n, 1)
		q++
	}
	if n.Sign() == 0 {
		r.zero = true
		return r
	}
	l := n.BitLen()
	r.exp = q + l - 1
	r.sig = n.Uint64() << (64 - l)
	if r.exp > fm.emax {
		r.overflow = true
	}
	return r
}

// x87RoundToInt rounds a non-negative magnitude to an integer. neg gives the
// sign of the original value so directed modes pick the right direction.
func x87RoundToInt(x *big.Float, rc uint16, neg bool) (n *big.Int, inexact, up bool) {
	n, _ = x.Int(nil)
	prec := x.Prec()
	if uint(n.BitLen())+8 > prec {
		prec = uint(n.BitLen()) + 8
	}
	frac := new(big.Float).SetPrec(prec).Sub(x, new(big.Float).SetPrec(prec).SetInt(n))
	if frac.Sign() == 0 {
		return n, false, false
	}
	inexact = true
	switch rc {
	case x87FCW_RCChop:
		up = false
	case x87FCW_RCDown:
		up = neg
	case x87FCW_RCUp:
		up = !neg
	default:
		switch frac.Cmp(big.NewFloat(0.5)) {
		case 1:
			up = true
		case 0:
			up = n.Bit(0) == 1
		}
	}
	if up {
		n.Add(n, big.NewInt(1))
	}
	return n, inexact, up
}

// x87Sticky makes a truncated wide result carry a sticky low bit so a later
// rounding to <= 64 bits is correct.
func x87Sticky(z *big.Float, inexact bool) *big.Float {
	if !inexact || z.Sign() == 0 {
		return z
	}
	neg := z.Signbit()
	a := new(big.Float).Abs(z)
	e := a.MantExp(nil)
	m := new(big.Float).SetPrec(x87WidePrec).SetMantExp(a, int(x87WidePrec)-e)
	i, _ := m.Int(nil)
	i.SetBit(i, 0, 1)
	out := new(big.Float).SetPrec(x87WidePrec).SetInt(i)
	out.SetMantExp(out, e-int(x87WidePrec))
	if neg {
		out.Neg(out)
	}
	return out
}

// ext encodes a rounded value as an 80-bit register.
func (r x87Rounded) ext() ExtendedReal {
	if r.zero {
		return ExtendedReal{Sign: r.sign}
	}
	if r.exp < x87FmtExtended.emin {
		return ExtendedReal{Sign: r.sign, Mant: r.sig >> uint(x87FmtExtended.emin-r.exp)}
	}
	return ExtendedReal{Sign: r.sign, Exp: uint16(r.exp + extBias), Mant: r.sig}
}

func (r x87Rounded) float64Bits() uint64 {
	s := uint64(r.sign) << 63
	if r.zero {
		return s
	}
	if r.exp < -1022 {
		return s | r.sig>>uint(-1011-r.exp)
	}
	return s | uint64(r.exp+1023)<<52 | (r.sig>>11)&(1<<52-1)
}

func (r x87Rounded) float32Bits() uint32 {
	s := uint32(r.sign) << 31
	if r.zero {
		return s
	}
	if r.exp < -126 {
		return s | uint32(r.sig>>uint(-86-r.exp))
	}
	return s | uint32(r.exp+127)<<23 | uint32(r.sig>>40)&(1<<23-1)
}

// x87OverflowResult is the masked overflow response for fm and rc:
// infinity, or the largest finite magnitude when rounding toward zero.
func x87OverflowResult(sign uint8, fm x87Format, rc uint16) x87Rounded {
	toInf := true
	switch rc {
	case x87FCW_RCChop:
		toInf = false
	case x87FCW_RCDown:
		toInf = sign == 1
	case x87FCW_RCUp:
		toInf = sign == 0
	}
	r := x87Rounded{sign: sign, inexact: true, overflow: true}
	if toInf {
		r.exp = fm.emax + 1
		r.sig = extMantMSB
		r.up = true
		return r
	}
	r.exp = fm.emax
	r.sig = ^uint64(0) << uint(64-fm.prec)
	return r
}

// Infinity and NaN encodings for the memory formats.
func x87SpecialFloat64(e ExtendedReal) uint64 {
	s := uint64(e.Sign) << 63
	if e.IsInf() {
		return s | 0x7FF<<52
	}
	return s | 0x7FF<<52 | (e.Mant&^extMantMSB)>>11
}

func x87SpecialFloat32(e ExtendedReal) uint32 {
	s := uint32(e.Sign) << 31
	if e.IsInf() {
		return s | 0xFF<<23
	}
	return s | 0xFF<<23 | uint32((e.Mant&^extMantMSB)>>40)
}

// x87Compare orders two non-NaN values: -1, 0 or 1. Signed zeros compare equal.
func x87Compare(a, b ExtendedReal) int {
	if a.IsZero() && b.IsZero() {
		return 0
	}
	if a.Sign != b.Sign {
		if a.Sign == 1 {
			return -1
		}
		return 1
	}
	mag := x87CompareMagnitude(a, b)
	if a.Sign == 1 {
		return -mag
	}
	return mag
}

func x87CompareMagnitude(a, b ExtendedReal) int {
	switch {
	case a.IsZero() && b.IsZero():
		return 0
	case a.IsZero():
		return -1
	case b.IsZero():
		return 1
	case a.IsInf() && b.IsInf():
		return 0
	case a.IsInf():
		return 1
	case b.IsInf():
		return -1
	}
	ea, ma := a.normalized()
	eb, mb := b.normalized()
	switch {
	case ea > eb:
		return 1
	case ea < eb:
		return -1
	case ma > mb:
		return 1
	case ma < mb:
		return -1
	}
	return 0
}
