// cpu_x86.go - Intel 386 CPU core with an attached x87 coprocessor
//
// This implements the execution core the coprocessor hangs off:
// - Table driven decode: one [2][256] opcode table per core, A16 and A32
// - 16/32-bit operand and address size from Use32 and the 66/67 prefixes
// - CR0 coprocessor bits (MP, EM, TS, NE) and real-mode fault delivery
// - An 8259 pair for IRQ13 and a deferred #MF request line
// - Flat memory model (segment values are kept but not added)
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import (
	"sync/atomic"
)

// X86Bus defines the interface for x86 memory and I/O operations
type X86Bus interface {
	Read(addr uint32) byte
	Write(addr uint32, value byte)
	In(port uint16) byte
	Out(port uint16, value byte)
	Tick(cycles int)
}

// InterruptController is the CPU's view of the 8259 pair.
type InterruptController interface {
	Raise(line int)
	Lower(line int)
	Pending() bool
	Acknowledge() (vector byte, ok bool)
}

// x86Op is one dispatch table entry. fetchdat holds the four bytes after
// the opcode, not yet consumed. A handler returns 0 when it completed and
// charged its cycles, and non-zero when it aborted into a fault or an
// interrupt request and nothing more may be charged.
type x86Op func(c *CPU_X86, fetchdat uint32) int

// CPU_X86 represents the x86 CPU state
type CPU_X86 struct {
	// General purpose registers (32-bit)
	EAX uint32
	EBX uint32
	ECX uint32
	EDX uint32
	ESI uint32
	EDI uint32
	EBP uint32
	ESP uint32

	// Instruction pointer
	EIP uint32

	// Segment registers (16-bit)
	CS uint16
	DS uint16
	ES uint16
	SS uint16
	FS uint16
	GS uint16

	// Flags register
	Flags uint32

	// Control register 0 (coprocessor bits are the ones that matter here)
	CR0 uint32

	// Use32 is the code segment default size: 32-bit operands and addresses.
	Use32 bool

	// Execution state
	Halted  bool
	running atomic.Bool
	Cycles  uint64

	// LastFault is the vector of the most recent fault, -1 if none.
	LastFault int
	// Faults counts faults delivered since reset.
	Faults int

	// Current instruction state
	instrStart     uint32 // EIP of the first prefix or opcode byte
	prefixSeg      int    // Segment override (-1 = none, 0-5 = ES/CS/SS/DS/FS/GS)
	prefixRep      int    // REP prefix (0 = none, 1 = REP/REPE, 2 = REPNE)
	prefixOpSize   bool   // Operand size prefix (0x66)
	prefixAddrSize bool   // Address size prefix (0x67)
	opcode         byte
	modrm          byte
	modrmLoaded    bool
	sib            byte
	sibLoaded      bool
	eaSeg          int // segment of the last effective address

	// Coprocessor
	FPU       *FPU_X87
	x87       *x87Tables
	x87Op     uint16 // escape low bits << 8 | byte after the escape
	pendingNE bool   // deferred #MF, delivered after the current instruction

	pic    InterruptController
	bus    X86Bus
	tracer *x87Tracer

	// Instruction dispatch tables
	ops         [2][256]x86Op // [a32][opcode]
	extendedOps [256]x86Op    // 0x0F prefix opcodes

	// Order: EAX, ECX, EDX, EBX, ESP, EBP, ESI, EDI
	regs32 [8]*uint32
}

// Flag bit positions
const (
	x86FlagCF = 1 << 0  // Carry Flag
	x86FlagPF = 1 << 2  // Parity Flag
	x86FlagAF = 1 << 4  // Auxiliary Carry Flag
	x86FlagZF = 1 << 6  // Zero Flag
	x86FlagSF = 1 << 7  // Sign Flag
	x86FlagTF = 1 << 8  // Trap Flag
	x86FlagIF = 1 << 9  // Interrupt Enable Flag
	x86FlagDF = 1 << 10 // Direction Flag
	x86FlagOF = 1 << 11 // Overflow Flag

	// Bit 1 always reads as one.
	x86FlagsFixed = 1 << 1
)

// CR0 bits
const (
	x86CR0_PE = 1 << 0 // Protection Enable
	x86CR0_MP = 1 << 1 // Monitor Coprocessor
	x86CR0_EM = 1 << 2 // Emulation
	x86CR0_TS = 1 << 3 // Task Switched
	x86CR0_ET = 1 << 4 // Extension Type (387 present)
	x86CR0_NE = 1 << 5 // Numeric Error reporting through #MF
)

// Exception vectors and interrupt lines
const (
	x86VecBP = 3  // breakpoint
	x86VecUD = 6  // invalid opcode
	x86VecNM = 7  // coprocessor not available
	x86VecMF = 16 // coprocessor error

	x86IRQFPU = 13
)

// Segment register indices
const (
	x86SegES = 0
	x86SegCS = 1
	x86SegSS = 2
	x86SegDS = 3
	x86SegFS = 4
	x86SegGS = 5
)

// Memory size constants
const (
	x86MemorySize  = 32 * 1024 * 1024 // 32MB address space
	x86AddressMask = 0x01FFFFFF       // 25-bit address mask (32MB)
)

// NewCPU_X86 creates a core with its own coprocessor of the given model.
func NewCPU_X86(bus X86Bus, pic InterruptController, model x87Model) *CPU_X86 {
	cpu := &CPU_X86{
		bus: bus,
		pic: pic,
		FPU: NewFPU_X87(),
		x87: x87ModelTables[model],
	}
	cpu.regs32 = [8]*uint32{
		&cpu.EAX, &cpu.ECX, &cpu.EDX, &cpu.EBX,
		&cpu.ESP, &cpu.EBP, &cpu.ESI, &cpu.EDI,
	}
	cpu.initBaseOps()
	cpu.initExtendedOps()
	cpu.Reset()
	return cpu
}

// Reset initializes the CPU to its power-on state. The entry point is 0 in
// the flat model; the stack starts below the top of the first 64K.
func (c *CPU_X86) Reset() {
	for _, r := range c.regs32 {
		*r = 0
	}
	c.ESP = 0xFFFE
	c.EIP = 0
	c.CS, c.DS, c.ES, c.SS, c.FS, c.GS = 0, 0, 0, 0, 0, 0
	c.Flags = x86FlagsFixed
	c.CR0 = x86CR0_ET
	if c.x87.model == x87ModelNone {
		c.CR0 = 0
	}

	c.prefixSeg = -1
	c.prefixRep = 0
	c.prefixOpSize = false
	c.prefixAddrSize = false
	c.modrmLoaded = false
	c.sibLoaded = false

	c.x87Op = 0
	c.pendingNE = false
	c.FPU.Reset()

	c.Halted = false
	c.running.Store(true)
	c.Cycles = 0
	c.LastFault = -1
	c.Faults = 0
}

// SetModel swaps the coprocessor sub-tables. The outer table is unchanged.
func (c *CPU_X86) SetModel(model x87Model) {
	c.x87 = x87ModelTables[model]
}

// Model returns the fitted coprocessor model.
func (c *CPU_X86) Model() x87Model {
	return c.x87.model
}

// Running returns the execution state (thread-safe)
func (c *CPU_X86) Running() bool {
	return c.running.Load()
}

// SetRunning sets the execution state (thread-safe)
func (c *CPU_X86) SetRunning(state bool) {
	c.running.Store(state)
}

// X87Op returns the escape code recorded by the last escape dispatch.
func (c *CPU_X86) X87Op() uint16 {
	return c.x87Op
}

// PendingNE reports a deferred #MF not yet delivered.
func (c *CPU_X86) PendingNE() bool {
	return c.pendingNE
}

// -----------------------------------------------------------------------------
// Register Access Helpers
// -----------------------------------------------------------------------------

func (c *CPU_X86) AX() uint16     { return uint16(c.EAX) }
func (c *CPU_X86) SetAX(v uint16) { c.EAX = (c.EAX &^ 0xFFFF) | uint32(v) }
func (c *CPU_X86) AL() byte       { return byte(c.EAX) }
func (c *CPU_X86) SetAL(v byte)   { c.EAX = (c.EAX &^ 0xFF) | uint32(v) }
func (c *CPU_X86) AH() byte       { return byte(c.EAX >> 8) }
func (c *CPU_X86) SetAH(v byte)   { c.EAX = (c.EAX &^ 0xFF00) | uint32(v)<<8 }
func (c *CPU_X86) IP() uint16     { return uint16(c.EIP) }
func (c *CPU_X86) SetIP(v uint16) { c.EIP = uint32(v) }

// getReg8 returns an 8-bit register by index (AL, CL, DL, BL, AH, CH, DH, BH)
func (c *CPU_X86) getReg8(idx byte) byte {
	return byte(*c.regs32[idx&3] >> (8 * ((idx >> 2) & 1)))
}

func (c *CPU_X86) setReg8(idx byte, v byte) {
	shift := 8 * ((idx >> 2) & 1)
	r := c.regs32[idx&3]
	*r = (*r &^ (0xFF << shift)) | uint32(v)<<shift
}

// getReg16 returns a 16-bit register by index (AX, CX, DX, BX, SP, BP, SI, DI)
func (c *CPU_X86) getReg16(idx byte) uint16 {
	return uint16(*c.regs32[idx&7])
}

func (c *CPU_X86) setReg16(idx byte, v uint16) {
	r := c.regs32[idx&7]
	*r = (*r &^ 0xFFFF) | uint32(v)
}

func (c *CPU_X86) getReg32(idx byte) uint32 {
	return *c.regs32[idx&7]
}

func (c *CPU_X86) setReg32(idx byte, v uint32) {
	*c.regs32[idx&7] = v
}

// getRegv/setRegv use the current operand size.
func (c *CPU_X86) getRegv(idx byte) uint32 {
	if c.opSize32() {
		return c.getReg32(idx)
	}
	return uint32(c.getReg16(idx))
}

func (c *CPU_X86) setRegv(idx byte, v uint32) {
	if c.opSize32() {
		c.setReg32(idx, v)
	} else {
		c.setReg16(idx, uint16(v))
	}
}

func (c *CPU_X86) getSeg(idx int) uint16 {
	switch idx {
	case x86SegES:
		return c.ES
	case x86SegCS:
		return c.CS
	case x86SegSS:
		return c.SS
	case x86SegFS:
		return c.FS
	case x86SegGS:
		return c.GS
	}
	return c.DS
}

func (c *CPU_X86) setSeg(idx int, v uint16) {
	switch idx {
	case x86SegES:
		c.ES = v
	case x86SegCS:
		c.CS = v
	case x86SegSS:
		c.SS = v
	case x86SegDS:
		c.DS = v
	case x86SegFS:
		c.FS = v
	case x86SegGS:
		c.GS = v
	}
}

// opSize32 and addr32 combine the segment default with the 66/67 prefixes.
func (c *CPU_X86) opSize32() bool { return c.Use32 != c.prefixOpSize }
func (c *CPU_X86) addr32() bool   { return c.Use32 != c.prefixAddrSize }

// -----------------------------------------------------------------------------
// Flag Helpers
// -----------------------------------------------------------------------------

func (c *CPU_X86) getFlag(flag uint32) bool {
	return (c.Flags & flag) != 0
}

func (c *CPU_X86) setFlag(flag uint32, set bool) {
	if set {
		c.Flags |= flag
	} else {
		c.Flags &^= flag
	}
}

func (c *CPU_X86) CF() bool { return c.getFlag(x86FlagCF) }
func (c *CPU_X86) ZF() bool { return c.getFlag(x86FlagZF) }
func (c *CPU_X86) SF() bool { return c.getFlag(x86FlagSF) }
func (c *CPU_X86) OF() bool { return c.getFlag(x86FlagOF) }
func (c *CPU_X86) PF() bool { return c.getFlag(x86FlagPF) }
func (c *CPU_X86) IF() bool { return c.getFlag(x86FlagIF) }

// parity returns the parity of the low byte (true = even, false = odd)
func parity(v byte) bool {
	v ^= v >> 4
	v ^= v >> 2
	v ^= v >> 1
	return (v & 1) == 0
}

// setFlagsArith sets flags after an add or subtract of the given width.
// result carries the borrow/carry out above the operand width.
func (c *CPU_X86) setFlagsArith(result uint64, a, b uint32, sub bool, bits uint) {
	mask := uint64(1)<<bits - 1
	sign := uint32(1) << (bits - 1)
	r := uint32(result & mask)
	c.setFlag(x86FlagCF, result > mask)
	c.setFlag(x86FlagZF, r == 0)
	c.setFlag(x86FlagSF, r&sign != 0)
	c.setFlag(x86FlagPF, parity(byte(r)))
	if sub {
		c.setFlag(x86FlagOF, ((a^b)&(a^r)&sign) != 0)
		c.setFlag(x86FlagAF, (a&0x0F) < (b&0x0F))
	} else {
		c.setFlag(x86FlagOF, ((^(a ^ b))&(a^r)&sign) != 0)
		c.setFlag(x86FlagAF, ((a&0x0F)+(b&0x0F)) > 0x0F)
	}
}

// setFlagsLogic sets flags after a logical operation of the given width.
func (c *CPU_X86) setFlagsLogic(r uint32, bits uint) {
	c.setFlag(x86FlagCF, false)
	c.setFlag(x86FlagOF, false)
	c.setFlag(x86FlagZF, r == 0)
	c.setFlag(x86FlagSF, r&(1<<(bits-1)) != 0)
	c.setFlag(x86FlagPF, parity(byte(r)))
}

// -----------------------------------------------------------------------------
// Memory Access
// -----------------------------------------------------------------------------

func (c *CPU_X86) fetch8() byte {
	v := c.bus.Read(c.EIP & x86AddressMask)
	c.EIP++
	return v
}

func (c *CPU_X86) fetch16() uint16 {
	v := c.read16(c.EIP)
	c.EIP += 2
	return v
}

func (c *CPU_X86) fetch32() uint32 {
	v := c.read32(c.EIP)
	c.EIP += 4
	return v
}

// fetchv fetches an immediate of the current operand size.
func (c *CPU_X86) fetchv() uint32 {
	if c.opSize32() {
		return c.fetch32()
	}
	return uint32(c.fetch16())
}

// peek32 is the fetch-ahead handed to every handler. EIP does not move.
func (c *CPU_X86) peek32() uint32 {
	return c.read32(c.EIP)
}

func (c *CPU_X86) read8(addr uint32) byte {
	return c.bus.Read(addr & x86AddressMask)
}

func (c *CPU_X86) read16(addr uint32) uint16 {
	return uint16(c.read8(addr)) | uint16(c.read8(addr+1))<<8
}

func (c *CPU_X86) read32(addr uint32) uint32 {
	return uint32(c.read16(addr)) | uint32(c.read16(addr+2))<<16
}

func (c *CPU_X86) write8(addr uint32, v byte) {
	c.bus.Write(addr&x86AddressMask, v)
}

func (c *CPU_X86) write16(addr uint32, v uint16) {
	c.write8(addr, byte(v))
	c.write8(addr+1, byte(v>>8))
}

func (c *CPU_X86) write32(addr uint32, v uint32) {
	c.write16(addr, uint16(v))
	c.write16(addr+2, uint16(v>>16))
}

// -----------------------------------------------------------------------------
// Stack Operations
// -----------------------------------------------------------------------------

func (c *CPU_X86) push16(v uint16) {
	c.ESP -= 2
	c.write16(c.ESP, v)
}

func (c *CPU_X86) pop16() uint16 {
	v := c.read16(c.ESP)
	c.ESP += 2
	return v
}

func (c *CPU_X86) push32(v uint32) {
	c.ESP -= 4
	c.write32(c.ESP, v)
}

func (c *CPU_X86) pop32() uint32 {
	v := c.read32(c.ESP)
	c.ESP += 4
	return v
}

// pushv/popv use the current operand size.
func (c *CPU_X86) pushv(v uint32) {
	if c.opSize32() {
		c.push32(v)
	} else {
		c.push16(uint16(v))
	}
}

func (c *CPU_X86) popv() uint32 {
	if c.opSize32() {
		return c.pop32()
	}
	return uint32(c.pop16())
}

// -----------------------------------------------------------------------------
// ModR/M and SIB Decoding
// -----------------------------------------------------------------------------

// fetchModRM fetches and caches the ModR/M byte
func (c *CPU_X86) fetchModRM() byte {
	if !c.modrmLoaded {
		c.modrm = c.fetch8()
		c.modrmLoaded = true
	}
	return c.modrm
}

func (c *CPU_X86) getModRMReg() byte { return (c.fetchModRM() >> 3) & 7 }
func (c *CPU_X86) getModRMRM() byte  { return c.fetchModRM() & 7 }
func (c *CPU_X86) getModRMMod() byte { return (c.fetchModRM() >> 6) & 3 }

func (c *CPU_X86) fetchSIB() byte {
	if !c.sibLoaded {
		c.sib = c.fetch8()
		c.sibLoaded = true
	}
	return c.sib
}

// calcEffectiveAddress16 calculates effective address for 16-bit addressing mode
func (c *CPU_X86) calcEffectiveAddress16() uint32 {
	mod := c.getModRMMod()
	rm := c.getModRMRM()

	var base uint16
	seg := x86SegDS

	switch rm {
	case 0: // [BX+SI]
		base = c.getReg16(3) + c.getReg16(6)
	case 1: // [BX+DI]
		base = c.getReg16(3) + c.getReg16(7)
	case 2: // [BP+SI]
		base = c.getReg16(5) + c.getReg16(6)
		seg = x86SegSS
	case 3: // [BP+DI]
		base = c.getReg16(5) + c.getReg16(7)
		seg = x86SegSS
	case 4: // [SI]
		base = c.getReg16(6)
	case 5: // [DI]
		base = c.getReg16(7)
	case 6: // [BP] or [disp16]
		if mod == 0 {
			base = c.fetch16()
		} else {
			base = c.getReg16(5)
			seg = x86SegSS
		}
	case 7: // [BX]
		base = c.getReg16(3)
	}

	switch mod {
	case 1:
		base += uint16(int16(int8(c.fetch8())))
	case 2:
		base += c.fetch16()
	}

	if c.prefixSeg >= 0 {
		seg = c.prefixSeg
	}
	c.eaSeg = seg
	return uint32(base)
}

// calcEffectiveAddress32 calculates effective address for 32-bit addressing mode
func (c *CPU_X86) calcEffectiveAddress32() uint32 {
	mod := c.getModRMMod()
	rm := c.getModRMRM()

	var addr uint32
	seg := x86SegDS

	switch {
	case rm == 4:
		sib := c.fetchSIB()
		scale, index, base := sib>>6, (sib>>3)&7, sib&7
		if base == 5 && mod == 0 {
			addr = c.fetch32()
		} else {
			addr = c.getReg32(base)
			if base == 4 || base == 5 {
				seg = x86SegSS
			}
		}
		if index != 4 {
			addr += c.getReg32(index) << scale
		}
	case rm == 5 && mod == 0:
		addr = c.fetch32()
	default:
		addr = c.getReg32(rm)
		if rm == 5 {
			seg = x86SegSS
		}
	}

	switch mod {
	case 1:
		addr += uint32(int32(int8(c.fetch8())))
	case 2:
		addr += c.fetch32()
	}

	if c.prefixSeg >= 0 {
		seg = c.prefixSeg
	}
	c.eaSeg = seg
	return addr
}

// effectiveAddress decodes the memory operand for an explicit address size.
// Escape tables are built per address size and call this directly.
func (c *CPU_X86) effectiveAddress(a32 bool) uint32 {
	if a32 {
		return c.calcEffectiveAddress32()
	}
	return c.calcEffectiveAddress16()
}

// getEffectiveAddress uses the address size of the current instruction.
func (c *CPU_X86) getEffectiveAddress() uint32 {
	return c.effectiveAddress(c.addr32())
}

// writeRM8 and writeRMv take the address decoded by a preceding read when
// the operand is read-modify-write.
func (c *CPU_X86) writeRM8(addr uint32, v byte) {
	if c.getModRMMod() == 3 {
		c.setReg8(c.getModRMRM(), v)
	} else {
		c.write8(addr, v)
	}
}

// decodeRM resolves the r/m operand once, returning its address when it is
// in memory.
func (c *CPU_X86) decodeRM() uint32 {
	if c.getModRMMod() == 3 {
		return 0
	}
	return c.getEffectiveAddress()
}

func (c *CPU_X86) readRMv(addr uint32) uint32 {
	if c.getModRMMod() == 3 {
		return c.getRegv(c.getModRMRM())
	}
	if c.opSize32() {
		return c.read32(addr)
	}
	return uint32(c.read16(addr))
}

func (c *CPU_X86) writeRMv(addr uint32, v uint32) {
	if c.getModRMMod() == 3 {
		c.setRegv(c.getModRMRM(), v)
		return
	}
	if c.opSize32() {
		c.write32(addr, v)
	} else {
		c.write16(addr, uint16(v))
	}
}

func (c *CPU_X86) readRM8At(addr uint32) byte {
	if c.getModRMMod() == 3 {
		return c.getReg8(c.getModRMRM())
	}
	return c.read8(addr)
}

// -----------------------------------------------------------------------------
// Instruction Execution
// -----------------------------------------------------------------------------

// cycles charges the instruction-timing account.
func (c *CPU_X86) cycles(n int) {
	c.Cycles += uint64(n)
}

// Step executes a single instruction and returns the cycles it consumed.
func (c *CPU_X86) Step() int {
	if !c.running.Load() {
		return 0
	}
	if c.pic != nil && c.IF() && c.pic.Pending() {
		if vector, ok := c.pic.Acknowledge(); ok {
			c.Halted = false
			c.handleInterrupt(vector)
		}
	}
	if c.Halted {
		return 0
	}

	c.prefixSeg = -1
	c.prefixRep = 0
	c.prefixOpSize = false
	c.prefixAddrSize = false
	c.modrmLoaded = false
	c.sibLoaded = false
	c.instrStart = c.EIP

	startCycles := c.Cycles
	result := 0

	for {
		c.opcode = c.fetch8()

		switch c.opcode {
		case 0x26:
			c.prefixSeg = x86SegES
		case 0x2E:
			c.prefixSeg = x86SegCS
		case 0x36:
			c.prefixSeg = x86SegSS
		case 0x3E:
			c.prefixSeg = x86SegDS
		case 0x64:
			c.prefixSeg = x86SegFS
		case 0x65:
			c.prefixSeg = x86SegGS
		case 0x66:
			c.prefixOpSize = true
		case 0x67:
			c.prefixAddrSize = true
		case 0xF0:
		case 0xF2:
			c.prefixRep = 2
		case 0xF3:
			c.prefixRep = 1
		default:
			a := 0
			if c.addr32() {
				a = 1
			}
			result = c.ops[a][c.opcode](c, c.peek32())
			goto done
		}
	}

done:
	if c.pendingNE {
		c.pendingNE = false
		c.deliverFault(x86VecMF)
	}
	cycles := int(c.Cycles - startCycles)
	if result == 0 && cycles == 0 {
		cycles = 1
		c.Cycles++
	}
	c.bus.Tick(cycles)
	return cycles
}

// raiseFault restarts the current instruction through the guest's handler
// for vector and returns the abort code.
func (c *CPU_X86) raiseFault(vector byte) int {
	c.EIP = c.instrStart
	c.deliverFault(vector)
	return 1
}

func (c *CPU_X86) deliverFault(vector byte) {
	c.LastFault = int(vector)
	c.Faults++
	c.handleInterrupt(vector)
}

// handleInterrupt delivers through the real-mode vector table. A vector
// with no handler installed (0000:0000) halts the core instead.
func (c *CPU_X86) handleInterrupt(vector byte) {
	addr := uint32(vector) * 4
	newIP := c.read16(addr)
	newCS := c.read16(addr + 2)
	if newIP == 0 && newCS == 0 {
		c.Halted = true
		return
	}

	c.push16(uint16(c.Flags))
	c.push16(c.CS)
	c.push16(c.IP())

	c.setFlag(x86FlagIF, false)
	c.setFlag(x86FlagTF, false)

	c.EIP = uint32(newIP)
	c.CS = newCS
}
