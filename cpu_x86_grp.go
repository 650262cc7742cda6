// cpu_x86_grp.go - x86 group opcodes: shifts, multiply/divide, INC/DEC/CALL/JMP/PUSH Ev,
// SETcc and the zero/sign extending moves
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

const x86VecDE = 0 // divide error

// signExtend widens the low bits of v as a signed value.
func signExtend(v uint32, bits uint) int64 {
	s := 32 - bits
	return int64(int32(v<<s) >> s)
}

func widthMask(bits uint) uint32 {
	return uint32(uint64(1)<<bits - 1)
}

// =============================================================================
// Group 2 (ROL, ROR, RCL, RCR, SHL, SHR, SAL, SAR)
// =============================================================================

// shiftRotate applies group 2 operation op to val at the given width. The
// count is masked to five bits; a zero count leaves flags alone.
func (c *CPU_X86) shiftRotate(val uint32, count byte, op byte, bits uint) uint32 {
	count &= 0x1F
	if count == 0 {
		return val
	}
	mask := widthMask(bits)
	sign := uint32(1) << (bits - 1)
	val &= mask

	var result uint32
	switch op {
	case 0: // ROL
		result = val
		for range count {
			result = (result<<1 | result>>(bits-1)) & mask
		}
		c.setFlag(x86FlagCF, result&1 != 0)
		c.setFlag(x86FlagOF, (result&sign != 0) != (result&1 != 0))
	case 1: // ROR
		result = val
		for range count {
			result = (result>>1 | result<<(bits-1)) & mask
		}
		c.setFlag(x86FlagCF, result&sign != 0)
		c.setFlag(x86FlagOF, (result&sign != 0) != (result&(sign>>1) != 0))
	case 2: // RCL
		cf := c.CF()
		result = val
		for range count {
			out := result&sign != 0
			result = result << 1 & mask
			if cf {
				result |= 1
			}
			cf = out
		}
		c.setFlag(x86FlagCF, cf)
		c.setFlag(x86FlagOF, (result&sign != 0) != cf)
	case 3: // RCR
		cf := c.CF()
		result = val
		for range count {
			out := result&1 != 0
			result >>= 1
			if cf {
				result |= sign
			}
			cf = out
		}
		c.setFlag(x86FlagCF, cf)
		c.setFlag(x86FlagOF, (result&sign != 0) != (result&(sign>>1) != 0))
	case 4, 6: // SHL/SAL
		wide := uint64(val) << count
		result = uint32(wide) & mask
		c.setFlag(x86FlagCF, wide>>bits&1 != 0)
		c.setFlag(x86FlagOF, (result&sign != 0) != (val&sign != 0))
		c.setShiftFlags(result, sign)
	case 5: // SHR
		result = val >> count
		c.setFlag(x86FlagCF, val>>(count-1)&1 != 0)
		c.setFlag(x86FlagOF, val&sign != 0)
		c.setShiftFlags(result, sign)
	case 7: // SAR
		sv := signExtend(val, bits)
		result = uint32(sv>>count) & mask
		c.setFlag(x86FlagCF, sv>>(count-1)&1 != 0)
		c.setFlag(x86FlagOF, false)
		c.setShiftFlags(result, sign)
	}
	return result
}

func (c *CPU_X86) setShiftFlags(r, sign uint32) {
	c.setFlag(x86FlagSF, r&sign != 0)
	c.setFlag(x86FlagZF, r == 0)
	c.setFlag(x86FlagPF, parity(byte(r)))
}

// shiftCount reads the count operand for D0-D3 and C0/C1.
func (c *CPU_X86) shiftCount() byte {
	switch c.opcode {
	case 0xD0, 0xD1:
		return 1
	case 0xD2, 0xD3:
		return byte(c.ECX)
	}
	return c.fetch8()
}

func opGrp2_Eb(c *CPU_X86, _ uint32) int {
	c.fetchModRM()
	addr := c.decodeRM()
	count := c.shiftCount()
	c.writeRM8(addr, byte(c.shiftRotate(uint32(c.readRM8At(addr)), count, c.getModRMReg(), 8)))
	c.cycles(3)
	return 0
}

func opGrp2_Ev(c *CPU_X86, _ uint32) int {
	c.fetchModRM()
	addr := c.decodeRM()
	count := c.shiftCount()
	c.writeRMv(addr, c.shiftRotate(c.readRMv(addr), count, c.getModRMReg(), c.widthv()))
	c.cycles(3)
	return 0
}

// =============================================================================
// Group 3 (TEST, NOT, NEG, MUL, IMUL, DIV, IDIV)
// =============================================================================

// accumulator returns the implicit multiply/divide pair: AL:AH, AX:DX or
// EAX:EDX.
func (c *CPU_X86) accumulator(bits uint) (lo, hi uint32) {
	switch bits {
	case 8:
		return uint32(c.AL()), uint32(c.AH())
	case 16:
		return c.EAX & 0xFFFF, c.EDX & 0xFFFF
	}
	return c.EAX, c.EDX
}

func (c *CPU_X86) setAccumulator(bits uint, lo, hi uint32) {
	switch bits {
	case 8:
		c.SetAL(byte(lo))
		c.SetAH(byte(hi))
	case 16:
		c.SetAX(uint16(lo))
		c.setReg16(2, uint16(hi))
	default:
		c.EAX, c.EDX = lo, hi
	}
}

// grp3 runs one group 3 operation on val. It returns the value to write
// back, whether to write it, and the abort code of a divide error.
func (c *CPU_X86) grp3(op byte, val uint32, bits uint, imm func() uint32) (uint32, bool, int) {
	mask := widthMask(bits)
	switch op {
	case 0, 1: // TEST
		c.alu(aluAND, val, imm(), bits)
	case 2: // NOT
		return ^val & mask, true, 0
	case 3: // NEG
		r, _ := c.alu(aluSUB, 0, val, bits)
		return r, true, 0
	case 4: // MUL
		lo, _ := c.accumulator(bits)
		r := uint64(lo) * uint64(val)
		hi := uint32(r >> bits)
		c.setAccumulator(bits, uint32(r)&mask, hi)
		c.setFlag(x86FlagCF, hi != 0)
		c.setFlag(x86FlagOF, hi != 0)
	case 5: // IMUL
		lo, _ := c.accumulator(bits)
		r := signExtend(lo, bits) * signExtend(val, bits)
		c.setAccumulator(bits, uint32(r)&mask, uint32(r>>bits)&mask)
		overflow := r != signExtend(uint32(r)&mask, bits)
		c.setFlag(x86FlagCF, overflow)
		c.setFlag(x86FlagOF, overflow)
	case 6: // DIV
		lo, hi := c.accumulator(bits)
		if val == 0 {
			return 0, false, c.raiseFault(x86VecDE)
		}
		dividend := uint64(hi)<<bits | uint64(lo)
		q := dividend / uint64(val)
		if q > uint64(mask) {
			return 0, false, c.raiseFault(x86VecDE)
		}
		c.setAccumulator(bits, uint32(q), uint32(dividend%uint64(val)))
	case 7: // IDIV
		lo, hi := c.accumulator(bits)
		if val == 0 {
			return 0, false, c.raiseFault(x86VecDE)
		}
		s := 64 - 2*bits
		dividend := int64((uint64(hi)<<bits|uint64(lo))<<s) >> s
		divisor := signExtend(val, bits)
		q := dividend / divisor
		limit := int64(1) << (bits - 1)
		if q >= limit || q < -limit {
			return 0, false, c.raiseFault(x86VecDE)
		}
		c.setAccumulator(bits, uint32(q)&mask, uint32(dividend%divisor)&mask)
	}
	return 0, false, 0
}

func opGrp3_Eb(c *CPU_X86, _ uint32) int {
	c.fetchModRM()
	addr := c.decodeRM()
	r, write, abort := c.grp3(c.getModRMReg(), uint32(c.readRM8At(addr)), 8, func() uint32 {
		return uint32(c.fetch8())
	})
	if abort != 0 {
		return abort
	}
	if write {
		c.writeRM8(addr, byte(r))
	}
	c.cycles(10)
	return 0
}

func opGrp3_Ev(c *CPU_X86, _ uint32) int {
	c.fetchModRM()
	addr := c.decodeRM()
	r, write, abort := c.grp3(c.getModRMReg(), c.readRMv(addr), c.widthv(), c.fetchv)
	if abort != 0 {
		return abort
	}
	if write {
		c.writeRMv(addr, r)
	}
	c.cycles(10)
	return 0
}

// =============================================================================
// IMUL (multi-operand forms)
// =============================================================================

// imulv multiplies signed at operand width and sets CF/OF on truncation.
func (c *CPU_X86) imulv(a, b uint32) uint32 {
	bits := c.widthv()
	r := signExtend(a, bits) * signExtend(b, bits)
	t := uint32(r) & widthMask(bits)
	overflow := r != signExtend(t, bits)
	c.setFlag(x86FlagCF, overflow)
	c.setFlag(x86FlagOF, overflow)
	return t
}

func opIMUL_Gv_Ev(c *CPU_X86, _ uint32) int {
	c.fetchModRM()
	reg := c.getModRMReg()
	c.setRegv(reg, c.imulv(c.getRegv(reg), c.readRMv(c.decodeRM())))
	c.cycles(12)
	return 0
}

// opIMUL_Gv_Ev_I covers 69 (Iv) and 6B (sign-extended Ib).
func opIMUL_Gv_Ev_I(c *CPU_X86, _ uint32) int {
	c.fetchModRM()
	src := c.readRMv(c.decodeRM())
	var imm uint32
	if c.opcode == 0x6B {
		imm = uint32(int32(int8(c.fetch8())))
	} else {
		imm = c.fetchv()
	}
	c.setRegv(c.getModRMReg(), c.imulv(src, imm))
	c.cycles(12)
	return 0
}

// =============================================================================
// Group 4 and 5
// =============================================================================

// incDec adds or subtracts one, preserving CF.
func (c *CPU_X86) incDec(v uint32, dec bool, bits uint) uint32 {
	cf := c.CF()
	kind := aluADD
	if dec {
		kind = aluSUB
	}
	r, _ := c.alu(kind, v, 1, bits)
	c.setFlag(x86FlagCF, cf)
	return r
}

func opGrp4_Eb(c *CPU_X86, _ uint32) int {
	c.fetchModRM()
	op := c.getModRMReg()
	if op > 1 {
		return c.raiseFault(x86VecUD)
	}
	addr := c.decodeRM()
	c.writeRM8(addr, byte(c.incDec(uint32(c.readRM8At(addr)), op == 1, 8)))
	c.cycles(2)
	return 0
}

// opGrp5_Ev implements the near forms. Far CALL and JMP need segmentation
// and raise #UD.
func opGrp5_Ev(c *CPU_X86, _ uint32) int {
	c.fetchModRM()
	op := c.getModRMReg()
	if op == 3 || op == 5 || op == 7 {
		return c.raiseFault(x86VecUD)
	}
	addr := c.decodeRM()
	val := c.readRMv(addr)
	switch op {
	case 0, 1:
		c.writeRMv(addr, c.incDec(val, op == 1, c.widthv()))
	case 2:
		c.pushv(c.EIP)
		c.jump(val)
	case 4:
		c.jump(val)
	case 6:
		c.pushv(val)
	}
	c.cycles(5)
	return 0
}

// =============================================================================
// SETcc, MOVZX, MOVSX
// =============================================================================

func opSETcc(c *CPU_X86, _ uint32) int {
	c.fetchModRM()
	var v byte
	if c.condition(c.opcode & 0x0F) {
		v = 1
	}
	c.writeRM8(c.decodeRM(), v)
	c.cycles(4)
	return 0
}

// readRMw reads a 16-bit r/m operand regardless of operand size.
func (c *CPU_X86) readRMw(addr uint32) uint16 {
	if c.getModRMMod() == 3 {
		return c.getReg16(c.getModRMRM())
	}
	return c.read16(addr)
}

// opMOVX covers MOVZX (0F B6/B7) and MOVSX (0F BE/BF).
func opMOVX(c *CPU_X86, _ uint32) int {
	c.fetchModRM()
	addr := c.decodeRM()
	var v uint32
	switch c.opcode {
	case 0xB6:
		v = uint32(c.readRM8At(addr))
	case 0xB7:
		v = uint32(c.readRMw(addr))
	case 0xBE:
		v = uint32(int32(int8(c.readRM8At(addr))))
	case 0xBF:
		v = uint32(int32(int16(c.readRMw(addr))))
	}
	if !c.opSize32() {
		v &= 0xFFFF
	}
	c.setRegv(c.getModRMReg(), v)
	c.cycles(3)
	return 0
}
