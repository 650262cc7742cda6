// fpu_x87.go - Intel 80387 numeric coprocessor state
//
// Register stack, tag word, status/control words, exception latching and
// the memory operand formats. Instruction handlers live in fpu_x87_ops.go.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import "math/big"

const (
	x87TagValid   = uint16(0)
	x87TagZero    = uint16(1)
	x87TagSpecial = uint16(2)
	x87TagEmpty   = uint16(3)
)

const (
	x87FSW_IE       = uint16(1 << 0)
	x87FSW_DE       = uint16(1 << 1)
	x87FSW_ZE       = uint16(1 << 2)
	x87FSW_OE       = uint16(1 << 3)
	x87FSW_UE       = uint16(1 << 4)
	x87FSW_PE       = uint16(1 << 5)
	x87FSW_SF       = uint16(1 << 6)
	x87FSW_ES       = uint16(1 << 7)
	x87FSW_C0       = uint16(1 << 8)
	x87FSW_C1       = uint16(1 << 9)
	x87FSW_C2       = uint16(1 << 10)
	x87FSW_TOPMask  = uint16(7 << 11)
	x87FSW_TOPShift = 11
	x87FSW_C3       = uint16(1 << 14)
	x87FSW_B        = uint16(1 << 15)

	x87FSW_ExcMask = uint16(0x3F)
	x87FSW_CCMask  = x87FSW_C0 | x87FSW_C1 | x87FSW_C2 | x87FSW_C3
)

const (
	x87FCW_PCShift = 8
	x87FCW_PCMask  = uint16(3 << x87FCW_PCShift)
	x87FCW_RCShift = 10
	x87FCW_RCMask  = uint16(3 << x87FCW_RCShift)
)

const (
	x87FCW_RCNearest = uint16(0)
	x87FCW_RCDown    = uint16(1)
	x87FCW_RCUp      = uint16(2)
	x87FCW_RCChop    = uint16(3)
)

// FPU_X87 is one coprocessor. Each emulated core owns its own instance.
type FPU_X87 struct {
	regs [8]ExtendedReal

	FCW uint16
	FSW uint16
	FTW uint16 // two bits per physical register, always kept in full form

	FIP uint32
	FCS uint16
	FDP uint32
	FDS uint16
	FOP uint16

	// SoftFloat selects the fully modelled exception path. With it off the
	// unit behaves like host-FPU passthrough and never reports a pending
	// exception to WAIT.
	SoftFloat bool
}

type x87Bus interface {
	Read(addr uint32) byte
	Write(addr uint32, value byte)
}

func NewFPU_X87() *FPU_X87 {
	f := &FPU_X87{SoftFloat: true}
	f.Reset()
	return f
}

// Reset is FNINIT.
func (f *FPU_X87) Reset() {
	for i := range f.regs {
		f.regs[i] = ExtendedReal{}
	}
	f.FCW = 0x037F
	f.FSW = 0
	f.FTW = 0xFFFF
	f.FIP = 0
	f.FCS = 0
	f.FDP = 0
	f.FDS = 0
	f.FOP = 0
}

func (f *FPU_X87) top() int {
	return int((f.FSW & x87FSW_TOPMask) >> x87FSW_TOPShift)
}

func (f *FPU_X87) setTop(top int) {
	f.FSW = (f.FSW &^ x87FSW_TOPMask) | (uint16(top&7) << x87FSW_TOPShift)
}

func (f *FPU_X87) physReg(stIdx int) int {
	return (f.top() + stIdx) & 7
}

// ST returns ST(i) regardless of its tag.
func (f *FPU_X87) ST(i int) ExtendedReal {
	return f.regs[f.physReg(i)]
}

func (f *FPU_X87) setST(i int, v ExtendedReal) {
	phys := f.physReg(i)
	f.regs[phys] = v
	f.setTag(phys, x87ClassifyTag(v))
}

func (f *FPU_X87) getTag(phys int) uint16 {
	shift := uint((phys & 7) * 2)
	return (f.FTW >> shift) & 0x3
}

func (f *FPU_X87) setTag(phys int, tag uint16) {
	shift := uint((phys & 7) * 2)
	f.FTW &^= 0x3 << shift
	f.FTW |= (tag & 0x3) << shift
}

func (f *FPU_X87) isEmpty(stIdx int) bool {
	return f.getTag(f.physReg(stIdx)) == x87TagEmpty
}

func x87ClassifyTag(v ExtendedReal) uint16 {
	switch {
	case v.IsZero():
		return x87TagZero
	case v.Exp == 0 || v.Exp == extExpMax || v.IsUnsupported():
		return x87TagSpecial
	}
	return x87TagValid
}

// precision returns the significand width selected by FCW.PC.
// The reserved encoding 01 behaves as extended precision.
func (f *FPU_X87) precision() int {
	switch (f.FCW & x87FCW_PCMask) >> x87FCW_PCShift {
	case 0:
		return 24
	case 2:
		return 53
	}
	return 64
}

func (f *FPU_X87) rounding() uint16 {
	return (f.FCW & x87FCW_RCMask) >> x87FCW_RCShift
}

func (f *FPU_X87) masked(exc uint16) bool {
	return f.FCW&exc == exc
}

// raise latches exception flags and returns true when any of them is
// unmasked. An unmasked exception sets the ES summary and B bits.
func (f *FPU_X87) raise(exc uint16) bool {
	f.FSW |= exc
	if exc&x87FSW_SF != 0 {
		exc |= x87FSW_IE
	}
	if exc&x87FSW_ExcMask&^f.FCW != 0 {
		f.FSW |= x87FSW_ES | x87FSW_B
		return true
	}
	return false
}

// updateSummary recomputes ES/B after FCW or FSW was loaded wholesale.
func (f *FPU_X87) updateSummary() {
	if f.FSW&x87FSW_ExcMask&^f.FCW != 0 {
		f.FSW |= x87FSW_ES | x87FSW_B
	} else {
		f.FSW &^= x87FSW_ES | x87FSW_B
	}
}

// pendingException reports an unserviced unmasked exception.
func (f *FPU_X87) pendingException() bool {
	return f.FSW&x87FSW_B != 0
}

func (f *FPU_X87) clearCond() {
	f.FSW &^= x87FSW_CCMask
}

func (f *FPU_X87) setCond(c0, c1, c2, c3 bool) {
	f.clearCond()
	if c0 {
		f.FSW |= x87FSW_C0
	}
	if c1 {
		f.FSW |= x87FSW_C1
	}
	if c2 {
		f.FSW |= x87FSW_C2
	}
	if c3 {
		f.FSW |= x87FSW_C3
	}
}

func (f *FPU_X87) setC1(on bool) {
	if on {
		f.FSW |= x87FSW_C1
	} else {
		f.FSW &^= x87FSW_C1
	}
}

// stackOverflow is raised when a push targets a non-empty register. With
// IE masked the push still happens and loads the real indefinite.
func (f *FPU_X87) stackOverflow() {
	f.setC1(true)
	if f.raise(x87FSW_IE | x87FSW_SF) {
		return
	}
	f.setTop(f.top() - 1)
	f.setST(0, x87Indefinite)
}

// stackUnderflow is raised when an operand register is empty. With IE
// masked the destination receives the real indefinite.
func (f *FPU_X87) stackUnderflow(dest int, pop bool) {
	f.setC1(false)
	if f.raise(x87FSW_IE | x87FSW_SF) {
		return
	}
	if dest >= 0 {
		f.setST(dest, x87Indefinite)
	}
	if pop {
		f.pop()
	}
}

func (f *FPU_X87) push(v ExtendedReal) {
	if !f.isEmpty(-1) {
		f.stackOverflow()
		return
	}
	f.setTop(f.top() - 1)
	f.setST(0, v)
}

// pop marks ST(0) empty and increments TOP. It never faults.
func (f *FPU_X87) pop() {
	f.setTag(f.top(), x87TagEmpty)
	f.setTop(f.top() + 1)
}

// roundTo rounds an exact value into the extended register format using
// FCW.PC and FCW.RC, applying the masked or unmasked response for OE/UE/PE.
// Unmasked OE/UE deliver the result with the exponent wrapped by 24576.
func (f *FPU_X87) roundTo(z *big.Float) ExtendedReal {
	fm := x87FmtExtended.withPrecision(f.precision())
	rc := f.rounding()
	r := x87RoundValue(z, fm, rc)
	if r.overflow {
		if !f.masked(x87FSW_OE) {
			f.raise(x87FSW_OE)
			scaled := new(big.Float).SetPrec(z.Prec()).SetMantExp(z, -x87BiasAdjust)
			r = x87RoundValue(scaled, fm, rc)
			if r.inexact {
				f.raise(x87FSW_PE)
			}
			f.setC1(r.up)
			return r.ext()
		}
		f.raise(x87FSW_OE | x87FSW_PE)
		r = x87OverflowResult(r.sign, fm, rc)
		f.setC1(r.up)
		return r.ext()
	}
	if r.tiny {
		if !f.masked(x87FSW_UE) {
			f.raise(x87FSW_UE)
			scaled := new(big.Float).SetPrec(z.Prec()).SetMantExp(z, x87BiasAdjust)
			r = x87RoundValue(scaled, fm, rc)
			if r.inexact {
				f.raise(x87FSW_PE)
			}
			f.setC1(r.up)
			return r.ext()
		}
		if r.inexact {
			f.raise(x87FSW_UE)
		}
	}
	if r.inexact {
		f.raise(x87FSW_PE)
	}
	f.setC1(r.up)
	return r.ext()
}

// ---------------------------------------------------------------------------
// Memory operand formats
// ---------------------------------------------------------------------------

func x87Read16(bus x87Bus, addr uint32) uint16 {
	return uint16(bus.Read(addr)) | uint16(bus.Read(addr+1))<<8
}

func x87Read32(bus x87Bus, addr uint32) uint32 {
	return uint32(bus.Read(addr)) |
		uint32(bus.Read(addr+1))<<8 |
		uint32(bus.Read(addr+2))<<16 |
		uint32(bus.Read(addr+3))<<24
}

func x87Read64(bus x87Bus, addr uint32) uint64 {
	return uint64(x87Read32(bus, addr)) | uint64(x87Read32(bus, addr+4))<<32
}

func x87Write16(bus x87Bus, addr uint32, v uint16) {
	bus.Write(addr, byte(v))
	bus.Write(addr+1, byte(v>>8))
}

func x87Write32(bus x87Bus, addr uint32, v uint32) {
	for i := range 4 {
		bus.Write(addr+uint32(i), byte(v>>(8*i)))
	}
}

func x87Write64(bus x87Bus, addr uint32, v uint64) {
	for i := range 8 {
		bus.Write(addr+uint32(i), byte(v>>(8*i)))
	}
}

// loadOperand validates a value arriving from memory: SNaNs raise IE and are
// quieted, denormal sources raise DE. ok is false when an unmasked exception
// suppresses the instruction.
func (f *FPU_X87) loadOperand(v ExtendedReal, srcDenormal bool) (ExtendedReal, bool) {
	if v.IsSNaN() {
		if f.raise(x87FSW_IE) {
			return v, false
		}
		v = v.Quiet()
	}
	if srcDenormal && f.raise(x87FSW_DE) {
		return v, false
	}
	return v, true
}

func (f *FPU_X87) loadFloat32(bus x87Bus, addr uint32) (ExtendedReal, bool) {
	bits := x87Read32(bus, addr)
	den := bits&0x7F800000 == 0 && bits&0x007FFFFF != 0
	return f.loadOperand(extFromFloat32Bits(bits), den)
}

func (f *FPU_X87) loadFloat64(bus x87Bus, addr uint32) (ExtendedReal, bool) {
	bits := x87Read64(bus, addr)
	den := bits&0x7FF0000000000000 == 0 && bits&0x000FFFFFFFFFFFFF != 0
	return f.loadOperand(extFromFloat64Bits(bits), den)
}

func (f *FPU_X87) loadExtended80(bus x87Bus, addr uint32) ExtendedReal {
	return ExtendedRealFromBits(x87Read64(bus, addr), x87Read16(bus, addr+8))
}

func (f *FPU_X87) writeExtended80(bus x87Bus, addr uint32, v ExtendedReal) {
	lo, hi := v.Bits()
	x87Write64(bus, addr, lo)
	x87Write16(bus, addr+8, hi)
}

func (f *FPU_X87) loadInt16(bus x87Bus, addr uint32) ExtendedReal {
	return extFromInt64(int64(int16(x87Read16(bus, addr))))
}

func (f *FPU_X87) loadInt32(bus x87Bus, addr uint32) ExtendedReal {
	return extFromInt64(int64(int32(x87Read32(bus, addr))))
}

func (f *FPU_X87) loadInt64(bus x87Bus, addr uint32) ExtendedReal {
	return extFromInt64(int64(x87Read64(bus, addr)))
}

// storeReal rounds v into a memory format. ok is false when nothing must be
// written because of an unmasked exception.
func (f *FPU_X87) storeReal(v ExtendedReal, fm x87Format) (r x87Rounded, special bool, ok bool) {
	switch {
	case v.IsUnsupported():
		if f.raise(x87FSW_IE) {
			return r, false, false
		}
		return r, true, true // caller writes the indefinite
	case v.IsSNaN():
		if f.raise(x87FSW_IE) {
			return r, false, false
		}
		return r, true, true
	case v.IsNaN(), v.IsInf():
		return r, true, true
	case v.IsZero():
		return x87Rounded{sign: v.Sign, zero: true}, false, true
	}
	if v.IsDenormal() && f.raise(x87FSW_DE) {
		return r, false, false
	}
	rc := f.rounding()
	r = x87RoundValue(v.big(), fm, rc)
	if r.overflow {
		if f.raise(x87FSW_OE) {
			return r, false, false
		}
		f.raise(x87FSW_PE)
		r = x87OverflowResult(r.sign, fm, rc)
		f.setC1(r.up)
		return r, false, true
	}
	if r.tiny && (r.inexact || !f.masked(x87FSW_UE)) {
		if f.raise(x87FSW_UE) {
			return r, false, false
		}
	}
	if r.inexact {
		f.raise(x87FSW_PE)
	}
	f.setC1(r.up)
	return r, false, true
}

func (f *FPU_X87) storeFloat32(bus x87Bus, addr uint32, v ExtendedReal) bool {
	r, special, ok := f.storeReal(v, x87FmtSingle)
	if !ok {
		return false
	}
	if special {
		if v.IsUnsupported() {
			v = x87Indefinite
		}
		x87Write32(bus, addr, x87SpecialFloat32(v.Quiet0()))
		return true
	}
	x87Write32(bus, addr, r.float32Bits())
	return true
}

func (f *FPU_X87) storeFloat64(bus x87Bus, addr uint32, v ExtendedReal) bool {
	r, special, ok := f.storeReal(v, x87FmtDouble)
	if !ok {
		return false
	}
	if special {
		if v.IsUnsupported() {
			v = x87Indefinite
		}
		x87Write64(bus, addr, x87SpecialFloat64(v.Quiet0()))
		return true
	}
	x87Write64(bus, addr, r.float64Bits())
	return true
}

// Quiet0 quiets NaNs and leaves every other value alone.
func (e ExtendedReal) Quiet0() ExtendedReal {
	if e.IsNaN() {
		return e.Quiet()
	}
	return e
}

// toInteger rounds v per FCW.RC into a signed integer of the given width.
// Out-of-range values, NaNs and infinities produce the integer indefinite.
func (f *FPU_X87) toInteger(v ExtendedReal, bits int) (int64, bool) {
	indef := int64(-1) << uint(bits-1)
	if v.IsNaN() || v.IsInf() || v.IsUnsupported() {
		if f.raise(x87FSW_IE) {
			return 0, false
		}
		return indef, true
	}
	if v.IsZero() {
		return 0, true
	}
	if v.IsDenormal() && f.raise(x87FSW_DE) {
		return 0, false
	}
	n, inexact, up := x87RoundToInt(v.Abs().big(), f.rounding(), v.Sign == 1)
	if v.Sign == 1 {
		n.Neg(n)
	}
	if n.BitLen() >= bits && !(v.Sign == 1 && n.BitLen() == bits && n.TrailingZeroBits() == uint(bits-1)) {
		if f.raise(x87FSW_IE) {
			return 0, false
		}
		return indef, true
	}
	if inexact {
		f.raise(x87FSW_PE)
	}
	f.setC1(up)
	return n.Int64(), true
}

func (f *FPU_X87) storeInt16(bus x87Bus, addr uint32, v ExtendedReal) bool {
	i, ok := f.toInteger(v, 16)
	if ok {
		x87Write16(bus, addr, uint16(i))
	}
	return ok
}

func (f *FPU_X87) storeInt32(bus x87Bus, addr uint32, v ExtendedReal) bool {
	i, ok := f.toInteger(v, 32)
	if ok {
		x87Write32(bus, addr, uint32(i))
	}
	return ok
}

func (f *FPU_X87) storeInt64(bus x87Bus, addr uint32, v ExtendedReal) bool {
	i, ok := f.toInteger(v, 64)
	if ok {
		x87Write64(bus, addr, uint64(i))
	}
	return ok
}

// loadBCD reads an 18-digit packed decimal. Digits above 9 are taken at
// face value, as the 387 does.
func (f *FPU_X87) loadBCD(bus x87Bus, addr uint32) ExtendedReal {
	var val int64
	for i := 8; i >= 0; i-- {
		b := bus.Read(addr + uint32(i))
		val = val*100 + int64(b>>4)*10 + int64(b&0x0F)
	}
	v := extFromInt64(val)
	if bus.Read(addr+9)&0x80 != 0 {
		v.Sign = 1
	}
	return v
}

const x87BCDMax = 999999999999999999

func (f *FPU_X87) storeBCD(bus x87Bus, addr uint32, v ExtendedReal) bool {
	writeIndef := func() {
		for i := range 7 {
			bus.Write(addr+uint32(i), 0)
		}
		bus.Write(addr+7, 0xC0)
		bus.Write(addr+8, 0xFF)
		bus.Write(addr+9, 0xFF)
	}
	if v.IsNaN() || v.IsInf() || v.IsUnsupported() {
		if f.raise(x87FSW_IE) {
			return false
		}
		writeIndef()
		return true
	}
	var r uint64
	if !v.IsZero() {
		if v.IsDenormal() && f.raise(x87FSW_DE) {
			return false
		}
		n, inexact, up := x87RoundToInt(v.Abs().big(), f.rounding(), v.Sign == 1)
		if !n.IsUint64() || n.Uint64() > x87BCDMax {
			if f.raise(x87FSW_IE) {
				return false
			}
			writeIndef()
			return true
		}
		if inexact {
			f.raise(x87FSW_PE)
		}
		f.setC1(up)
		r = n.Uint64()
	}
	for i := range 9 {
		d0 := byte(r % 10)
		r /= 10
		d1 := byte(r % 10)
		r /= 10
		bus.Write(addr+uint32(i), d0|(d1<<4))
	}
	if v.Sign == 1 {
		bus.Write(addr+9, 0x80)
	} else {
		bus.Write(addr+9, 0x00)
	}
	return true
}

// ---------------------------------------------------------------------------
// Environment and state images
// ---------------------------------------------------------------------------

// tagWordImage is the tag word as stored by FNSTENV: empty registers stay
// empty, others are reclassified from their contents.
func (f *FPU_X87) tagWordImage() uint16 {
	var tw uint16
	for phys := range 8 {
		tag := x87TagEmpty
		if f.getTag(phys) != x87TagEmpty {
			tag = x87ClassifyTag(f.regs[phys])
		}
		tw |= tag << uint(phys*2)
	}
	return tw
}

func (f *FPU_X87) loadTagWord(tw uint16) {
	for phys := range 8 {
		if (tw>>uint(phys*2))&3 == x87TagEmpty {
			f.setTag(phys, x87TagEmpty)
		} else {
			f.setTag(phys, x87ClassifyTag(f.regs[phys]))
		}
	}
}

// envSize is 28 bytes for a 32-bit operand size and 14 for 16-bit.
func x87EnvSize(op32 bool) uint32 {
	if op32 {
		return 28
	}
	return 14
}

func (f *FPU_X87) storeEnv(bus x87Bus, addr uint32, op32 bool) {
	if op32 {
		x87Write32(bus, addr, 0xFFFF0000|uint32(f.FCW))
		x87Write32(bus, addr+4, 0xFFFF0000|uint32(f.FSW))
		x87Write32(bus, addr+8, 0xFFFF0000|uint32(f.tagWordImage()))
		x87Write32(bus, addr+12, f.FIP)
		x87Write32(bus, addr+16, uint32(f.FCS)|uint32(f.FOP&0x7FF)<<16)
		x87Write32(bus, addr+20, f.FDP)
		x87Write32(bus, addr+24, 0xFFFF0000|uint32(f.FDS))
	} else {
		x87Write16(bus, addr, f.FCW)
		x87Write16(bus, addr+2, f.FSW)
		x87Write16(bus, addr+4, f.tagWordImage())
		x87Write16(bus, addr+6, uint16(f.FIP))
		x87Write16(bus, addr+8, f.FCS)
		x87Write16(bus, addr+10, uint16(f.FDP))
		x87Write16(bus, addr+12, f.FDS)
	}
}

func (f *FPU_X87) loadEnv(bus x87Bus, addr uint32, op32 bool) {
	var tw uint16
	if op32 {
		f.FCW = uint16(x87Read32(bus, addr))
		f.FSW = uint16(x87Read32(bus, addr+4))
		tw = uint16(x87Read32(bus, addr+8))
		f.FIP = x87Read32(bus, addr+12)
		mix := x87Read32(bus, addr+16)
		f.FCS = uint16(mix)
		f.FOP = uint16(mix>>16) & 0x7FF
		f.FDP = x87Read32(bus, addr+20)
		f.FDS = uint16(x87Read32(bus, addr+24))
	} else {
		f.FCW = x87Read16(bus, addr)
		f.FSW = x87Read16(bus, addr+2)
		tw = x87Read16(bus, addr+4)
		f.FIP = uint32(x87Read16(bus, addr+6))
		f.FCS = x87Read16(bus, addr+8)
		f.FDP = uint32(x87Read16(bus, addr+10))
		f.FDS = x87Read16(bus, addr+12)
	}
	f.loadTagWord(tw)
}

// save is FNSAVE: environment followed by ST(0)..ST(7), then FNINIT.
func (f *FPU_X87) save(bus x87Bus, addr uint32, op32 bool) {
	f.storeEnv(bus, addr, op32)
	base := addr + x87EnvSize(op32)
	for i := range 8 {
		f.writeExtended80(bus, base+uint32(i*10), f.ST(i))
	}
	f.Reset()
}

func (f *FPU_X87) restore(bus x87Bus, addr uint32, op32 bool) {
	base := addr + x87EnvSize(op32)
	var tw uint16
	if op32 {
		tw = uint16(x87Read32(bus, addr+8))
	} else {
		tw = x87Read16(bus, addr+4)
	}
	f.loadEnv(bus, addr, op32)
	for i := range 8 {
		f.regs[f.physReg(i)] = f.loadExtended80(bus, base+uint32(i*10))
	}
	f.loadTagWord(tw)
}
