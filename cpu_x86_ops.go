// cpu_x86_ops.go - x86 integer instructions and the outer opcode tables
//
// The integer set covers what coprocessor test programs and their fault
// handlers need: moves, ALU, stack, branches, flags, interrupts and CR0.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

// =============================================================================
// Table construction
// =============================================================================

// initBaseOps fills both address-size halves of the one-byte opcode table.
// Integer handlers read the address size from the prefix state; the escape
// entries are distinct per half.
func (c *CPU_X86) initBaseOps() {
	var base [256]x86Op
	for i := range base {
		base[i] = opILLEGAL
	}

	// 0x00-0x3D: ADD OR ADC SBB AND SUB XOR CMP, six forms each
	for kind := range 8 {
		op := kind * 8
		base[op+0] = aluEbGb(kind)
		base[op+1] = aluEvGv(kind)
		base[op+2] = aluGbEb(kind)
		base[op+3] = aluGvEv(kind)
		base[op+4] = aluALIb(kind)
		base[op+5] = aluAXIv(kind)
	}

	for r := range 8 {
		base[0x40+r] = opINC_reg
		base[0x48+r] = opDEC_reg
		base[0x50+r] = opPUSH_reg
		base[0x58+r] = opPOP_reg
		base[0x90+r] = opXCHG_AX_reg
		base[0xB0+r] = opMOV_reg8_Ib
		base[0xB8+r] = opMOV_reg_Iv
	}
	for cc := range 16 {
		base[0x70+cc] = opJcc_rel8
	}

	base[0x0F] = opTwoBytePrefix
	base[0x69] = opIMUL_Gv_Ev_I
	base[0x6B] = opIMUL_Gv_Ev_I
	base[0x80] = opGrp1_Eb_Ib
	base[0x81] = opGrp1_Ev_Iv
	base[0x83] = opGrp1_Ev_Ib
	base[0x84] = opTEST_Eb_Gb
	base[0x85] = opTEST_Ev_Gv
	base[0x88] = opMOV_Eb_Gb
	base[0x89] = opMOV_Ev_Gv
	base[0x8A] = opMOV_Gb_Eb
	base[0x8B] = opMOV_Gv_Ev
	base[0x8C] = opMOV_Ew_Sw
	base[0x8D] = opLEA
	base[0x8E] = opMOV_Sw_Ew
	base[0x9B] = opWAIT
	base[0x9C] = opPUSHF
	base[0x9D] = opPOPF
	base[0x9E] = opSAHF
	base[0x9F] = opLAHF
	base[0xC0] = opGrp2_Eb
	base[0xC1] = opGrp2_Ev
	base[0xC3] = opRET
	base[0xC6] = opMOV_Eb_Ib
	base[0xC7] = opMOV_Ev_Iv
	base[0xCC] = opINT3
	base[0xCD] = opINT_Ib
	base[0xCF] = opIRET
	base[0xD0] = opGrp2_Eb
	base[0xD1] = opGrp2_Ev
	base[0xD2] = opGrp2_Eb
	base[0xD3] = opGrp2_Ev
	base[0xE8] = opCALL_rel
	base[0xE9] = opJMP_rel
	base[0xEB] = opJMP_rel8
	base[0xE4] = opIN_AL_Ib
	base[0xE6] = opOUT_Ib_AL
	base[0xF4] = opHLT
	base[0xF5] = opFlagOp
	base[0xF6] = opGrp3_Eb
	base[0xF7] = opGrp3_Ev
	base[0xF8] = opFlagOp
	base[0xF9] = opFlagOp
	base[0xFA] = opFlagOp
	base[0xFB] = opFlagOp
	base[0xFC] = opFlagOp
	base[0xFD] = opFlagOp
	base[0xFE] = opGrp4_Eb
	base[0xFF] = opGrp5_Ev

	c.ops[0] = base
	c.ops[1] = base
	for esc := range 8 {
		c.ops[0][0xD8+esc] = x87EscapeOps[0][esc]
		c.ops[1][0xD8+esc] = x87EscapeOps[1][esc]
	}
}

// initExtendedOps initializes the 0x0F prefixed opcode dispatch table
func (c *CPU_X86) initExtendedOps() {
	for i := range c.extendedOps {
		c.extendedOps[i] = opILLEGAL
	}
	c.extendedOps[0x06] = opCLTS
	c.extendedOps[0x20] = opMOV_Rd_CRn
	c.extendedOps[0x22] = opMOV_CRn_Rd
	for cc := range 16 {
		c.extendedOps[0x80+cc] = opJcc_rel
		c.extendedOps[0x90+cc] = opSETcc
	}
	c.extendedOps[0xAF] = opIMUL_Gv_Ev
	c.extendedOps[0xB6] = opMOVX
	c.extendedOps[0xB7] = opMOVX
	c.extendedOps[0xBE] = opMOVX
	c.extendedOps[0xBF] = opMOVX
}

// opTwoBytePrefix handles the 0x0F two-byte opcode prefix
func opTwoBytePrefix(c *CPU_X86, fetchdat uint32) int {
	c.opcode = c.fetch8()
	return c.extendedOps[c.opcode](c, c.peek32())
}

// opILLEGAL raises #UD for every opcode the core does not implement.
func opILLEGAL(c *CPU_X86, fetchdat uint32) int {
	return c.raiseFault(x86VecUD)
}

// =============================================================================
// ALU
// =============================================================================

const (
	aluADD = iota
	aluOR
	aluADC
	aluSBB
	aluAND
	aluSUB
	aluXOR
	aluCMP
)

// alu computes a kind b at the given width, setting flags. write is false
// for CMP.
func (c *CPU_X86) alu(kind int, a, b uint32, bits uint) (r uint32, write bool) {
	mask := uint64(1)<<bits - 1
	carry := uint64(0)
	if c.CF() {
		carry = 1
	}
	switch kind {
	case aluADD, aluADC:
		if kind == aluADD {
			carry = 0
		}
		res := uint64(a) + uint64(b) + carry
		c.setFlagsArith(res, a, b, false, bits)
		return uint32(res & mask), true
	case aluSUB, aluSBB, aluCMP:
		if kind != aluSBB {
			carry = 0
		}
		res := uint64(a) - uint64(b) - carry
		c.setFlagsArith(res&mask, a, b, true, bits)
		c.setFlag(x86FlagCF, uint64(a) < uint64(b)+carry)
		return uint32(res & mask), kind != aluCMP
	case aluOR:
		r = a | b
	case aluAND:
		r = a & b
	case aluXOR:
		r = a ^ b
	}
	r &= uint32(mask)
	c.setFlagsLogic(r, bits)
	return r, true
}

func (c *CPU_X86) widthv() uint {
	if c.opSize32() {
		return 32
	}
	return 16
}

func aluEbGb(kind int) x86Op {
	return func(c *CPU_X86, _ uint32) int {
		c.fetchModRM()
		addr := c.decodeRM()
		a := c.readRM8At(addr)
		b := c.getReg8(c.getModRMReg())
		if r, w := c.alu(kind, uint32(a), uint32(b), 8); w {
			c.writeRM8(addr, byte(r))
		}
		c.cycles(2)
		return 0
	}
}

func aluEvGv(kind int) x86Op {
	return func(c *CPU_X86, _ uint32) int {
		c.fetchModRM()
		addr := c.decodeRM()
		a := c.readRMv(addr)
		b := c.getRegv(c.getModRMReg())
		if r, w := c.alu(kind, a, b, c.widthv()); w {
			c.writeRMv(addr, r)
		}
		c.cycles(2)
		return 0
	}
}

func aluGbEb(kind int) x86Op {
	return func(c *CPU_X86, _ uint32) int {
		c.fetchModRM()
		addr := c.decodeRM()
		reg := c.getModRMReg()
		if r, w := c.alu(kind, uint32(c.getReg8(reg)), uint32(c.readRM8At(addr)), 8); w {
			c.setReg8(reg, byte(r))
		}
		c.cycles(2)
		return 0
	}
}

func aluGvEv(kind int) x86Op {
	return func(c *CPU_X86, _ uint32) int {
		c.fetchModRM()
		addr := c.decodeRM()
		reg := c.getModRMReg()
		if r, w := c.alu(kind, c.getRegv(reg), c.readRMv(addr), c.widthv()); w {
			c.setRegv(reg, r)
		}
		c.cycles(2)
		return 0
	}
}

func aluALIb(kind int) x86Op {
	return func(c *CPU_X86, _ uint32) int {
		imm := c.fetch8()
		if r, w := c.alu(kind, uint32(c.AL()), uint32(imm), 8); w {
			c.SetAL(byte(r))
		}
		c.cycles(2)
		return 0
	}
}

func aluAXIv(kind int) x86Op {
	return func(c *CPU_X86, _ uint32) int {
		imm := c.fetchv()
		if r, w := c.alu(kind, c.getRegv(0), imm, c.widthv()); w {
			c.setRegv(0, r)
		}
		c.cycles(2)
		return 0
	}
}

func opGrp1_Eb_Ib(c *CPU_X86, _ uint32) int {
	c.fetchModRM()
	addr := c.decodeRM()
	imm := c.fetch8()
	if r, w := c.alu(int(c.getModRMReg()), uint32(c.readRM8At(addr)), uint32(imm), 8); w {
		c.writeRM8(addr, byte(r))
	}
	c.cycles(3)
	return 0
}

func opGrp1_Ev_Iv(c *CPU_X86, _ uint32) int {
	c.fetchModRM()
	addr := c.decodeRM()
	imm := c.fetchv()
	if r, w := c.alu(int(c.getModRMReg()), c.readRMv(addr), imm, c.widthv()); w {
		c.writeRMv(addr, r)
	}
	c.cycles(3)
	return 0
}

func opGrp1_Ev_Ib(c *CPU_X86, _ uint32) int {
	c.fetchModRM()
	addr := c.decodeRM()
	imm := uint32(int32(int8(c.fetch8())))
	if !c.opSize32() {
		imm &= 0xFFFF
	}
	if r, w := c.alu(int(c.getModRMReg()), c.readRMv(addr), imm, c.widthv()); w {
		c.writeRMv(addr, r)
	}
	c.cycles(3)
	return 0
}

func opTEST_Eb_Gb(c *CPU_X86, _ uint32) int {
	c.fetchModRM()
	addr := c.decodeRM()
	c.alu(aluAND, uint32(c.readRM8At(addr)), uint32(c.getReg8(c.getModRMReg())), 8)
	c.cycles(2)
	return 0
}

func opTEST_Ev_Gv(c *CPU_X86, _ uint32) int {
	c.fetchModRM()
	addr := c.decodeRM()
	c.alu(aluAND, c.readRMv(addr), c.getRegv(c.getModRMReg()), c.widthv())
	c.cycles(2)
	return 0
}

// opINC_reg and opDEC_reg leave CF alone.
func opINC_reg(c *CPU_X86, _ uint32) int {
	reg := c.opcode & 7
	cf := c.CF()
	r, _ := c.alu(aluADD, c.getRegv(reg), 1, c.widthv())
	c.setRegv(reg, r)
	c.setFlag(x86FlagCF, cf)
	c.cycles(2)
	return 0
}

func opDEC_reg(c *CPU_X86, _ uint32) int {
	reg := c.opcode & 7
	cf := c.CF()
	r, _ := c.alu(aluSUB, c.getRegv(reg), 1, c.widthv())
	c.setRegv(reg, r)
	c.setFlag(x86FlagCF, cf)
	c.cycles(2)
	return 0
}

// =============================================================================
// Data movement
// =============================================================================

func opMOV_Eb_Gb(c *CPU_X86, _ uint32) int {
	c.fetchModRM()
	c.writeRM8(c.decodeRM(), c.getReg8(c.getModRMReg()))
	c.cycles(2)
	return 0
}

func opMOV_Ev_Gv(c *CPU_X86, _ uint32) int {
	c.fetchModRM()
	c.writeRMv(c.decodeRM(), c.getRegv(c.getModRMReg()))
	c.cycles(2)
	return 0
}

func opMOV_Gb_Eb(c *CPU_X86, _ uint32) int {
	c.fetchModRM()
	c.setReg8(c.getModRMReg(), c.readRM8At(c.decodeRM()))
	c.cycles(4)
	return 0
}

func opMOV_Gv_Ev(c *CPU_X86, _ uint32) int {
	c.fetchModRM()
	c.setRegv(c.getModRMReg(), c.readRMv(c.decodeRM()))
	c.cycles(4)
	return 0
}

func opMOV_Eb_Ib(c *CPU_X86, _ uint32) int {
	c.fetchModRM()
	addr := c.decodeRM()
	c.writeRM8(addr, c.fetch8())
	c.cycles(2)
	return 0
}

func opMOV_Ev_Iv(c *CPU_X86, _ uint32) int {
	c.fetchModRM()
	addr := c.decodeRM()
	c.writeRMv(addr, c.fetchv())
	c.cycles(2)
	return 0
}

func opMOV_reg8_Ib(c *CPU_X86, _ uint32) int {
	c.setReg8(c.opcode&7, c.fetch8())
	c.cycles(2)
	return 0
}

func opMOV_reg_Iv(c *CPU_X86, _ uint32) int {
	c.setRegv(c.opcode&7, c.fetchv())
	c.cycles(2)
	return 0
}

// opMOV_Ew_Sw and opMOV_Sw_Ew always move 16 bits.
func opMOV_Ew_Sw(c *CPU_X86, _ uint32) int {
	c.fetchModRM()
	v := c.getSeg(int(c.getModRMReg()))
	if c.getModRMMod() == 3 {
		c.setReg16(c.getModRMRM(), v)
	} else {
		c.write16(c.getEffectiveAddress(), v)
	}
	c.cycles(2)
	return 0
}

func opMOV_Sw_Ew(c *CPU_X86, _ uint32) int {
	c.fetchModRM()
	seg := int(c.getModRMReg())
	if seg == x86SegCS || seg > x86SegGS {
		return c.raiseFault(x86VecUD)
	}
	var v uint16
	if c.getModRMMod() == 3 {
		v = c.getReg16(c.getModRMRM())
	} else {
		v = c.read16(c.getEffectiveAddress())
	}
	c.setSeg(seg, v)
	c.cycles(2)
	return 0
}

func opLEA(c *CPU_X86, _ uint32) int {
	c.fetchModRM()
	if c.getModRMMod() == 3 {
		return c.raiseFault(x86VecUD)
	}
	c.setRegv(c.getModRMReg(), c.getEffectiveAddress())
	c.cycles(2)
	return 0
}

func opXCHG_AX_reg(c *CPU_X86, _ uint32) int {
	reg := c.opcode & 7
	a, b := c.getRegv(0), c.getRegv(reg)
	c.setRegv(0, b)
	c.setRegv(reg, a)
	c.cycles(3)
	return 0
}

func opPUSH_reg(c *CPU_X86, _ uint32) int {
	c.pushv(c.getRegv(c.opcode & 7))
	c.cycles(2)
	return 0
}

func opPOP_reg(c *CPU_X86, _ uint32) int {
	c.setRegv(c.opcode&7, c.popv())
	c.cycles(4)
	return 0
}

func opIN_AL_Ib(c *CPU_X86, _ uint32) int {
	c.SetAL(c.bus.In(uint16(c.fetch8())))
	c.cycles(12)
	return 0
}

func opOUT_Ib_AL(c *CPU_X86, _ uint32) int {
	c.bus.Out(uint16(c.fetch8()), c.AL())
	c.cycles(10)
	return 0
}

// =============================================================================
// Flags
// =============================================================================

func opPUSHF(c *CPU_X86, _ uint32) int {
	c.pushv(c.Flags)
	c.cycles(4)
	return 0
}

func opPOPF(c *CPU_X86, _ uint32) int {
	v := c.popv()
	if !c.opSize32() {
		v = c.Flags&0xFFFF0000 | v&0xFFFF
	}
	c.Flags = v | x86FlagsFixed
	c.cycles(5)
	return 0
}

// opSAHF loads SF ZF AF PF CF from AH; FNSTSW AX / SAHF maps C3 C2 C0 onto
// ZF PF CF.
func opSAHF(c *CPU_X86, _ uint32) int {
	const m = x86FlagSF | x86FlagZF | x86FlagAF | x86FlagPF | x86FlagCF
	c.Flags = c.Flags&^m | uint32(c.AH())&m | x86FlagsFixed
	c.cycles(3)
	return 0
}

func opLAHF(c *CPU_X86, _ uint32) int {
	c.SetAH(byte(c.Flags) | x86FlagsFixed)
	c.cycles(2)
	return 0
}

// opFlagOp covers CMC CLC STC CLI STI CLD STD.
func opFlagOp(c *CPU_X86, _ uint32) int {
	switch c.opcode {
	case 0xF5:
		c.setFlag(x86FlagCF, !c.CF())
	case 0xF8:
		c.setFlag(x86FlagCF, false)
	case 0xF9:
		c.setFlag(x86FlagCF, true)
	case 0xFA:
		c.setFlag(x86FlagIF, false)
	case 0xFB:
		c.setFlag(x86FlagIF, true)
	case 0xFC:
		c.setFlag(x86FlagDF, false)
	case 0xFD:
		c.setFlag(x86FlagDF, true)
	}
	c.cycles(2)
	return 0
}

// =============================================================================
// Control transfer
// =============================================================================

// condition evaluates Jcc condition code cc (low four opcode bits).
func (c *CPU_X86) condition(cc byte) bool {
	var r bool
	switch cc >> 1 {
	case 0:
		r = c.OF()
	case 1:
		r = c.CF()
	case 2:
		r = c.ZF()
	case 3:
		r = c.CF() || c.ZF()
	case 4:
		r = c.SF()
	case 5:
		r = c.PF()
	case 6:
		r = c.SF() != c.OF()
	case 7:
		r = c.ZF() || c.SF() != c.OF()
	}
	if cc&1 != 0 {
		return !r
	}
	return r
}

// jump sets EIP, truncated to 16 bits for 16-bit operand size.
func (c *CPU_X86) jump(target uint32) {
	if !c.opSize32() {
		target &= 0xFFFF
	}
	c.EIP = target
}

func opJcc_rel8(c *CPU_X86, _ uint32) int {
	disp := uint32(int32(int8(c.fetch8())))
	if c.condition(c.opcode & 0x0F) {
		c.jump(c.EIP + disp)
		c.cycles(7)
	} else {
		c.cycles(3)
	}
	return 0
}

func (c *CPU_X86) fetchRelv() uint32 {
	if c.opSize32() {
		return c.fetch32()
	}
	return uint32(int32(int16(c.fetch16())))
}

func opJcc_rel(c *CPU_X86, _ uint32) int {
	disp := c.fetchRelv()
	if c.condition(c.opcode & 0x0F) {
		c.jump(c.EIP + disp)
		c.cycles(7)
	} else {
		c.cycles(3)
	}
	return 0
}

func opJMP_rel8(c *CPU_X86, _ uint32) int {
	disp := uint32(int32(int8(c.fetch8())))
	c.jump(c.EIP + disp)
	c.cycles(7)
	return 0
}

func opJMP_rel(c *CPU_X86, _ uint32) int {
	disp := c.fetchRelv()
	c.jump(c.EIP + disp)
	c.cycles(7)
	return 0
}

func opCALL_rel(c *CPU_X86, _ uint32) int {
	disp := c.fetchRelv()
	c.pushv(c.EIP)
	c.jump(c.EIP + disp)
	c.cycles(7)
	return 0
}

func opRET(c *CPU_X86, _ uint32) int {
	c.jump(c.popv())
	c.cycles(10)
	return 0
}

func opHLT(c *CPU_X86, _ uint32) int {
	c.Halted = true
	c.cycles(5)
	return 0
}

// =============================================================================
// Interrupts
// =============================================================================

func opINT3(c *CPU_X86, _ uint32) int {
	c.handleInterrupt(x86VecBP)
	c.cycles(33)
	return 0
}

func opINT_Ib(c *CPU_X86, _ uint32) int {
	vector := c.fetch8()
	c.handleInterrupt(vector)
	c.cycles(37)
	return 0
}

func opIRET(c *CPU_X86, _ uint32) int {
	c.EIP = uint32(c.pop16())
	c.CS = c.pop16()
	c.Flags = uint32(c.pop16()) | x86FlagsFixed
	c.cycles(22)
	return 0
}

// =============================================================================
// System
// =============================================================================

func opCLTS(c *CPU_X86, _ uint32) int {
	c.CR0 &^= x86CR0_TS
	c.cycles(5)
	return 0
}

// opMOV_Rd_CRn reads CR0; the other control registers read as zero.
func opMOV_Rd_CRn(c *CPU_X86, _ uint32) int {
	c.fetchModRM()
	var v uint32
	if c.getModRMReg() == 0 {
		v = c.CR0
	}
	c.setReg32(c.getModRMRM(), v)
	c.cycles(6)
	return 0
}

func opMOV_CRn_Rd(c *CPU_X86, _ uint32) int {
	c.fetchModRM()
	if c.getModRMReg() == 0 {
		c.CR0 = c.getReg32(c.getModRMRM())
	}
	c.cycles(10)
	return 0
}
