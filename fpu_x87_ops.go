// fpu_x87_ops.go - x87 leaf handlers
//
// Every handler has the dispatch signature and returns 0 when it completed
// with its cycles charged, or 1 when it aborted into a fault or interrupt.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

// x87MemFn and x87RegFn are the two operand shapes a leaf sees once the
// ModRM byte is consumed: an effective address or a stack index.
type (
	x87MemFn func(c *CPU_X86, addr uint32) int
	x87RegFn func(c *CPU_X86, i int) int
)

// Memory operand formats.
const (
	x87M32Real = iota
	x87M64Real
	x87M80Real
	x87M16Int
	x87M32Int
	x87M64Int
	x87M80BCD
)

// x87Mem adapts a memory-form leaf to the dispatch signature for one
// address size.
func x87Mem(a32 bool, fn x87MemFn) x86Op {
	return func(c *CPU_X86, fetchdat uint32) int {
		c.fetchModRM()
		addr := c.effectiveAddress(a32)
		return fn(c, addr)
	}
}

// x87Reg adapts a register-form leaf; the stack index is the ModRM rm field.
func x87Reg(fn x87RegFn) x86Op {
	return func(c *CPU_X86, fetchdat uint32) int {
		c.fetchModRM()
		return fn(c, int(fetchdat&7))
	}
}

// x87Enter is the entry protocol shared by escape instructions. wait selects
// the waiting forms that first service a pending unmasked exception.
func (c *CPU_X86) x87Enter(wait bool) bool {
	if c.CR0&(x86CR0_EM|x86CR0_TS) != 0 {
		c.raiseFault(x86VecNM)
		return false
	}
	if wait && c.x87Pending() {
		return false
	}
	return true
}

// x87Pending routes a pending unmasked exception either to the deferred #MF
// request or to IRQ13. #MF is a fault and returns to the instruction;
// IRQ13 leaves EIP after it.
func (c *CPU_X86) x87Pending() bool {
	if !c.FPU.SoftFloat || !c.FPU.pendingException() {
		return false
	}
	if c.CR0&x86CR0_NE != 0 {
		c.pendingNE = true
		c.EIP = c.instrStart
	} else {
		c.pic.Raise(x86IRQFPU)
	}
	return true
}

// x87Note records the last-instruction pointers for data instructions.
func (c *CPU_X86) x87Note(mem bool, addr uint32) {
	f := c.FPU
	f.FIP = c.instrStart
	f.FCS = c.CS
	f.FOP = c.x87Op & 0x7FF
	if mem {
		f.FDP = addr
		f.FDS = c.getSeg(c.eaSeg)
	}
}

func (c *CPU_X86) x87Load(kind int, addr uint32) (ExtendedReal, bool) {
	f := c.FPU
	switch kind {
	case x87M32Real:
		return f.loadFloat32(c.bus, addr)
	case x87M64Real:
		return f.loadFloat64(c.bus, addr)
	case x87M80Real:
		return f.loadExtended80(c.bus, addr), true
	case x87M16Int:
		return f.loadInt16(c.bus, addr), true
	case x87M32Int:
		return f.loadInt32(c.bus, addr), true
	case x87M64Int:
		return f.loadInt64(c.bus, addr), true
	}
	return f.loadBCD(c.bus, addr), true
}

func (c *CPU_X86) x87Store(kind int, addr uint32, v ExtendedReal) bool {
	f := c.FPU
	switch kind {
	case x87M32Real:
		return f.storeFloat32(c.bus, addr, v)
	case x87M64Real:
		return f.storeFloat64(c.bus, addr, v)
	case x87M80Real:
		f.writeExtended80(c.bus, addr, v)
		return true
	case x87M16Int:
		return f.storeInt16(c.bus, addr, v)
	case x87M32Int:
		return f.storeInt32(c.bus, addr, v)
	case x87M64Int:
		return f.storeInt64(c.bus, addr, v)
	}
	return f.storeBCD(c.bus, addr, v)
}

// ---------------------------------------------------------------------------
// Arithmetic and compares
// ---------------------------------------------------------------------------

// x87ArithMem is ST(0) = ST(0) op mem, or the compare of ST(0) with mem.
func x87ArithMem(op, kind, cycles int) x87MemFn {
	return func(c *CPU_X86, addr uint32) int {
		if !c.x87Enter(true) {
			return 1
		}
		c.x87Note(true, addr)
		c.cycles(cycles)
		f := c.FPU
		src, ok := c.x87Load(kind, addr)
		if !ok {
			return 0
		}
		if op == x87OpCom || op == x87OpComp {
			pops := op - x87OpCom
			if f.isEmpty(0) {
				f.compareUnderflow(pops)
				return 0
			}
			if f.compare(f.ST(0), src, false) && pops > 0 {
				f.pop()
			}
			return 0
		}
		if f.isEmpty(0) {
			f.stackUnderflow(0, false)
			return 0
		}
		if r, ok := f.arith(op, f.ST(0), src); ok {
			f.setST(0, r)
		}
		return 0
	}
}

// x87ArithReg is the register form. toSTi selects ST(i) as destination;
// pop releases ST(0) afterwards.
func x87ArithReg(op int, toSTi, pop bool, cycles int) x87RegFn {
	return func(c *CPU_X86, i int) int {
		if !c.x87Enter(true) {
			return 1
		}
		c.x87Note(false, 0)
		c.cycles(cycles)
		f := c.FPU
		dst := 0
		a, b := f.ST(0), f.ST(i)
		if toSTi {
			dst = i
			a, b = b, a
		}
		if f.isEmpty(0) || f.isEmpty(i) {
			f.stackUnderflow(dst, pop)
			return 0
		}
		if r, ok := f.arith(op, a, b); ok {
			f.setST(dst, r)
			if pop {
				f.pop()
			}
		}
		return 0
	}
}

// x87CompareReg covers FCOM, FUCOM and their popping forms.
func x87CompareReg(pops int, quiet bool, cycles int) x87RegFn {
	return func(c *CPU_X86, i int) int {
		if !c.x87Enter(true) {
			return 1
		}
		c.x87Note(false, 0)
		c.cycles(cycles)
		f := c.FPU
		if f.isEmpty(0) || f.isEmpty(i) {
			f.compareUnderflow(pops)
			return 0
		}
		if f.compare(f.ST(0), f.ST(i), quiet) {
			for range pops {
				f.pop()
			}
		}
		return 0
	}
}

// x87CompareST1 is FCOMPP/FUCOMPP, fixed to ST(1).
func x87CompareST1(quiet bool, cycles int) x87RegFn {
	cmp := x87CompareReg(2, quiet, cycles)
	return func(c *CPU_X86, _ int) int {
		return cmp(c, 1)
	}
}

func opFTST(c *CPU_X86, _ int) int {
	if !c.x87Enter(true) {
		return 1
	}
	c.x87Note(false, 0)
	c.cycles(28)
	f := c.FPU
	if f.isEmpty(0) {
		f.compareUnderflow(0)
		return 0
	}
	f.compare(f.ST(0), x87PosZero, false)
	return 0
}

func opFXAM(c *CPU_X86, _ int) int {
	if !c.x87Enter(true) {
		return 1
	}
	c.x87Note(false, 0)
	c.cycles(30)
	c.FPU.examine()
	return 0
}

// ---------------------------------------------------------------------------
// Loads and stores
// ---------------------------------------------------------------------------

func x87LoadMem(kind, cycles int) x87MemFn {
	return func(c *CPU_X86, addr uint32) int {
		if !c.x87Enter(true) {
			return 1
		}
		c.x87Note(true, addr)
		c.cycles(cycles)
		f := c.FPU
		v, ok := c.x87Load(kind, addr)
		if !ok {
			return 0
		}
		f.setC1(false)
		f.push(v)
		return 0
	}
}

func x87StoreMem(kind int, pop bool, cycles int) x87MemFn {
	return func(c *CPU_X86, addr uint32) int {
		if !c.x87Enter(true) {
			return 1
		}
		c.x87Note(true, addr)
		c.cycles(cycles)
		f := c.FPU
		v := f.ST(0)
		f.setC1(false)
		if f.isEmpty(0) {
			if f.raise(x87FSW_IE | x87FSW_SF) {
				return 0
			}
			v = x87Indefinite
		}
		if c.x87Store(kind, addr, v) && pop {
			f.pop()
		}
		return 0
	}
}

func opFLD_STi(c *CPU_X86, i int) int {
	if !c.x87Enter(true) {
		return 1
	}
	c.x87Note(false, 0)
	c.cycles(14)
	f := c.FPU
	v := f.ST(i)
	if f.isEmpty(i) {
		f.setC1(false)
		if f.raise(x87FSW_IE | x87FSW_SF) {
			return 0
		}
		v = x87Indefinite
	}
	f.setC1(false)
	f.push(v)
	return 0
}

// x87StoreReg is FST/FSTP ST(i) and the FSTP aliases.
func x87StoreReg(pop bool) x87RegFn {
	return func(c *CPU_X86, i int) int {
		if !c.x87Enter(true) {
			return 1
		}
		c.x87Note(false, 0)
		c.cycles(11)
		f := c.FPU
		if f.isEmpty(0) {
			f.stackUnderflow(i, pop)
			return 0
		}
		f.setC1(false)
		f.setST(i, f.ST(0))
		if pop {
			f.pop()
		}
		return 0
	}
}

func opFXCH(c *CPU_X86, i int) int {
	if !c.x87Enter(true) {
		return 1
	}
	c.x87Note(false, 0)
	c.cycles(18)
	f := c.FPU
	e0, ei := f.isEmpty(0), f.isEmpty(i)
	if e0 || ei {
		f.setC1(false)
		if f.raise(x87FSW_IE | x87FSW_SF) {
			return 0
		}
		if e0 {
			f.setST(0, x87Indefinite)
		}
		if ei {
			f.setST(i, x87Indefinite)
		}
	}
	a, b := f.ST(0), f.ST(i)
	f.setST(0, b)
	f.setST(i, a)
	f.setC1(false)
	return 0
}

func x87LoadConst(cycles int) x87RegFn {
	return func(c *CPU_X86, _ int) int {
		if !c.x87Enter(true) {
			return 1
		}
		c.x87Note(false, 0)
		c.cycles(cycles)
		f := c.FPU
		f.setC1(false)
		f.push(f.x87Constant(byte(c.x87Op)))
		return 0
	}
}

// ---------------------------------------------------------------------------
// ST(0) operations
// ---------------------------------------------------------------------------

// x87Unary replaces ST(0) with fn(ST(0)).
func x87Unary(cycles int, fn func(f *FPU_X87, a ExtendedReal) (ExtendedReal, bool)) x87RegFn {
	return func(c *CPU_X86, _ int) int {
		if !c.x87Enter(true) {
			return 1
		}
		c.x87Note(false, 0)
		c.cycles(cycles)
		f := c.FPU
		if f.isEmpty(0) {
			f.stackUnderflow(0, false)
			return 0
		}
		f.setC1(false)
		if r, ok := fn(f, f.ST(0)); ok {
			f.setST(0, r)
		}
		return 0
	}
}

// x87Binary01 computes from ST(0) and ST(1) into ST(1) (pop) or ST(0).
func x87Binary01(cycles int, pop bool, fn func(f *FPU_X87, st0, st1 ExtendedReal) (ExtendedReal, bool)) x87RegFn {
	return func(c *CPU_X86, _ int) int {
		if !c.x87Enter(true) {
			return 1
		}
		c.x87Note(false, 0)
		c.cycles(cycles)
		f := c.FPU
		dst := 0
		if pop {
			dst = 1
		}
		if f.isEmpty(0) || f.isEmpty(1) {
			f.stackUnderflow(dst, pop)
			return 0
		}
		f.setC1(false)
		if r, ok := fn(f, f.ST(0), f.ST(1)); ok {
			f.setST(dst, r)
			if pop {
				f.pop()
			}
		}
		return 0
	}
}

// x87Pusher is FPTAN, FSINCOS and FXTRACT: ST(0) is replaced and a second
// value pushed. A full stack loads indefinites when IE is masked.
func x87Pusher(cycles int, fn func(f *FPU_X87, a ExtendedReal) (st0, pushed ExtendedReal, push, ok bool)) x87RegFn {
	return func(c *CPU_X86, _ int) int {
		if !c.x87Enter(true) {
			return 1
		}
		c.x87Note(false, 0)
		c.cycles(cycles)
		f := c.FPU
		if f.isEmpty(0) {
			f.stackUnderflow(0, false)
			return 0
		}
		if !f.isEmpty(-1) {
			if f.masked(x87FSW_IE) {
				f.setST(0, x87Indefinite)
			}
			f.stackOverflow()
			return 0
		}
		f.setC1(false)
		st0, pushed, push, ok := fn(f, f.ST(0))
		if !ok {
			return 0
		}
		f.setST(0, st0)
		if push {
			f.push(pushed)
		}
		return 0
	}
}

func x87PTan(f *FPU_X87, a ExtendedReal) (ExtendedReal, ExtendedReal, bool, bool) {
	r, ok := f.tan(a)
	if !ok || f.FSW&x87FSW_C2 != 0 {
		return r, r, false, ok
	}
	if r.IsNaN() {
		return r, r, true, true
	}
	return r, x87One, true, true
}

func x87SinCos(f *FPU_X87, a ExtendedReal) (ExtendedReal, ExtendedReal, bool, bool) {
	s, ok := f.sin(a)
	if !ok || f.FSW&x87FSW_C2 != 0 {
		return s, s, false, ok
	}
	if s.IsNaN() {
		return s, s, true, true
	}
	co, ok := f.cos(a)
	if !ok {
		return s, s, false, false
	}
	return s, co, true, true
}

func x87Xtract(f *FPU_X87, a ExtendedReal) (ExtendedReal, ExtendedReal, bool, bool) {
	e, s, ok := f.extract(a)
	return e, s, true, ok
}

var (
	opFCHS = x87Unary(24, func(_ *FPU_X87, a ExtendedReal) (ExtendedReal, bool) { return a.Neg(), true })
	opFABS = x87Unary(22, func(_ *FPU_X87, a ExtendedReal) (ExtendedReal, bool) { return a.Abs(), true })
)

// x87Top is FDECSTP/FINCSTP.
func x87Top(delta, cycles int) x87RegFn {
	return func(c *CPU_X86, _ int) int {
		if !c.x87Enter(true) {
			return 1
		}
		c.x87Note(false, 0)
		c.cycles(cycles)
		f := c.FPU
		f.setTop(f.top() + delta)
		f.setC1(false)
		return 0
	}
}

// x87Free is FFREE and, with pop, the undocumented FFREEP.
func x87Free(pop bool) x87RegFn {
	return func(c *CPU_X86, i int) int {
		if !c.x87Enter(true) {
			return 1
		}
		c.x87Note(false, 0)
		c.cycles(18)
		f := c.FPU
		f.setTag(f.physReg(i), x87TagEmpty)
		if pop {
			f.pop()
		}
		return 0
	}
}

func opFNOP(c *CPU_X86, _ int) int {
	if !c.x87Enter(true) {
		return 1
	}
	c.x87Note(false, 0)
	c.cycles(12)
	return 0
}

// ---------------------------------------------------------------------------
// Control
// ---------------------------------------------------------------------------

func opFLDCW(c *CPU_X86, addr uint32) int {
	if !c.x87Enter(true) {
		return 1
	}
	c.cycles(19)
	f := c.FPU
	f.FCW = c.read16(addr)
	f.updateSummary()
	return 0
}

func opFNSTCW(c *CPU_X86, addr uint32) int {
	if !c.x87Enter(false) {
		return 1
	}
	c.cycles(15)
	c.write16(addr, c.FPU.FCW)
	return 0
}

func opFNSTSW(c *CPU_X86, addr uint32) int {
	if !c.x87Enter(false) {
		return 1
	}
	c.cycles(15)
	c.write16(addr, c.FPU.FSW)
	return 0
}

func opFNSTSW_AX(c *CPU_X86, _ int) int {
	if !c.x87Enter(false) {
		return 1
	}
	c.cycles(13)
	c.SetAX(c.FPU.FSW)
	return 0
}

func opFLDENV(c *CPU_X86, addr uint32) int {
	if !c.x87Enter(true) {
		return 1
	}
	c.cycles(71)
	c.FPU.loadEnv(c.bus, addr, c.opSize32())
	c.FPU.updateSummary()
	return 0
}

// opFNSTENV stores the environment and then masks every exception.
func opFNSTENV(c *CPU_X86, addr uint32) int {
	if !c.x87Enter(false) {
		return 1
	}
	c.cycles(103)
	f := c.FPU
	f.storeEnv(c.bus, addr, c.opSize32())
	f.FCW |= x87FSW_ExcMask
	f.updateSummary()
	return 0
}

func opFRSTOR(c *CPU_X86, addr uint32) int {
	if !c.x87Enter(true) {
		return 1
	}
	c.cycles(308)
	c.FPU.restore(c.bus, addr, c.opSize32())
	c.FPU.updateSummary()
	return 0
}

func opFNSAVE(c *CPU_X86, addr uint32) int {
	if !c.x87Enter(false) {
		return 1
	}
	c.cycles(375)
	c.FPU.save(c.bus, addr, c.opSize32())
	return 0
}

func opFNCLEX(c *CPU_X86, _ int) int {
	if !c.x87Enter(false) {
		return 1
	}
	c.cycles(11)
	c.FPU.FSW &^= x87FSW_ExcMask | x87FSW_SF | x87FSW_ES | x87FSW_B
	return 0
}

func opFNINIT(c *CPU_X86, _ int) int {
	if !c.x87Enter(false) {
		return 1
	}
	c.cycles(33)
	c.FPU.Reset()
	return 0
}

// opFNOPControl is FENI, FDISI and FSETPM, which the 387 accepts and ignores.
func opFNOPControl(c *CPU_X86, _ int) int {
	if !c.x87Enter(false) {
		return 1
	}
	c.cycles(12)
	return 0
}

// opX87Illegal is every reserved encoding without a silicon alias. EM and
// TS still take precedence, as for any escape.
func opX87Illegal(c *CPU_X86, fetchdat uint32) int {
	if c.CR0&(x86CR0_EM|x86CR0_TS) != 0 {
		return c.raiseFault(x86VecNM)
	}
	return c.raiseFault(x86VecUD)
}

// x87Absent stands in for every escape when no coprocessor is fitted:
// EM or TS trap to #NM, otherwise the instruction and its operand are
// skipped.
func x87Absent(a32 bool) x86Op {
	return func(c *CPU_X86, fetchdat uint32) int {
		if c.CR0&(x86CR0_EM|x86CR0_TS) != 0 {
			return c.raiseFault(x86VecNM)
		}
		c.fetchModRM()
		if c.modrm < 0xC0 {
			c.effectiveAddress(a32)
		}
		c.cycles(2)
		return 0
	}
}
