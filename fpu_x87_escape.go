// fpu_x87_escape.go - coprocessor escape decode (D8-DF) and WAIT
//
// The outer opcode table holds one entry per escape byte and address size.
// Each entry records x87Op from the raw byte after the escape, selects the
// sub-table of the fitted coprocessor model and returns the leaf's result
// unchanged. EIP is never moved here; the leaf consumes its own bytes.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

func (c *CPU_X86) x87Dispatch(esc byte, fetchdat uint32) {
	c.x87Op = uint16(esc&7)<<8 | uint16(fetchdat&0xff)
	if c.tracer != nil {
		c.tracer.escape(c)
	}
}

func opESCAPE_D8_a16(c *CPU_X86, fetchdat uint32) int {
	c.x87Dispatch(0xD8, fetchdat)
	return c.x87.D8[0][(fetchdat>>3)&0x1f](c, fetchdat)
}

func opESCAPE_D8_a32(c *CPU_X86, fetchdat uint32) int {
	c.x87Dispatch(0xD8, fetchdat)
	return c.x87.D8[1][(fetchdat>>3)&0x1f](c, fetchdat)
}

func opESCAPE_D9_a16(c *CPU_X86, fetchdat uint32) int {
	c.x87Dispatch(0xD9, fetchdat)
	return c.x87.D9[0][fetchdat&0xff](c, fetchdat)
}

func opESCAPE_D9_a32(c *CPU_X86, fetchdat uint32) int {
	c.x87Dispatch(0xD9, fetchdat)
	return c.x87.D9[1][fetchdat&0xff](c, fetchdat)
}

func opESCAPE_DA_a16(c *CPU_X86, fetchdat uint32) int {
	c.x87Dispatch(0xDA, fetchdat)
	return c.x87.DA[0][fetchdat&0xff](c, fetchdat)
}

func opESCAPE_DA_a32(c *CPU_X86, fetchdat uint32) int {
	c.x87Dispatch(0xDA, fetchdat)
	return c.x87.DA[1][fetchdat&0xff](c, fetchdat)
}

func opESCAPE_DB_a16(c *CPU_X86, fetchdat uint32) int {
	c.x87Dispatch(0xDB, fetchdat)
	return c.x87.DB[0][fetchdat&0xff](c, fetchdat)
}

func opESCAPE_DB_a32(c *CPU_X86, fetchdat uint32) int {
	c.x87Dispatch(0xDB, fetchdat)
	return c.x87.DB[1][fetchdat&0xff](c, fetchdat)
}

func opESCAPE_DC_a16(c *CPU_X86, fetchdat uint32) int {
	c.x87Dispatch(0xDC, fetchdat)
	return c.x87.DC[0][(fetchdat>>3)&0x1f](c, fetchdat)
}

func opESCAPE_DC_a32(c *CPU_X86, fetchdat uint32) int {
	c.x87Dispatch(0xDC, fetchdat)
	return c.x87.DC[1][(fetchdat>>3)&0x1f](c, fetchdat)
}

func opESCAPE_DD_a16(c *CPU_X86, fetchdat uint32) int {
	c.x87Dispatch(0xDD, fetchdat)
	return c.x87.DD[0][fetchdat&0xff](c, fetchdat)
}

func opESCAPE_DD_a32(c *CPU_X86, fetchdat uint32) int {
	c.x87Dispatch(0xDD, fetchdat)
	return c.x87.DD[1][fetchdat&0xff](c, fetchdat)
}

func opESCAPE_DE_a16(c *CPU_X86, fetchdat uint32) int {
	c.x87Dispatch(0xDE, fetchdat)
	return c.x87.DE[0][fetchdat&0xff](c, fetchdat)
}

func opESCAPE_DE_a32(c *CPU_X86, fetchdat uint32) int {
	c.x87Dispatch(0xDE, fetchdat)
	return c.x87.DE[1][fetchdat&0xff](c, fetchdat)
}

func opESCAPE_DF_a16(c *CPU_X86, fetchdat uint32) int {
	c.x87Dispatch(0xDF, fetchdat)
	return c.x87.DF[0][fetchdat&0xff](c, fetchdat)
}

func opESCAPE_DF_a32(c *CPU_X86, fetchdat uint32) int {
	c.x87Dispatch(0xDF, fetchdat)
	return c.x87.DF[1][fetchdat&0xff](c, fetchdat)
}

// x87EscapeOps lists the outer table entries, [a32][opcode-0xD8].
var x87EscapeOps = [2][8]x86Op{
	{opESCAPE_D8_a16, opESCAPE_D9_a16, opESCAPE_DA_a16, opESCAPE_DB_a16,
		opESCAPE_DC_a16, opESCAPE_DD_a16, opESCAPE_DE_a16, opESCAPE_DF_a16},
	{opESCAPE_D8_a32, opESCAPE_D9_a32, opESCAPE_DA_a32, opESCAPE_DB_a32,
		opESCAPE_DC_a32, opESCAPE_DD_a32, opESCAPE_DE_a32, opESCAPE_DF_a32},
}

// opWAIT (9B) synchronises with the coprocessor.
//
// MP and TS both set: #NM. Otherwise a pending unmasked exception under the
// modelled FPU is reported, through a deferred #MF when CR0.NE is set or
// through IRQ13 when it is not, and no cycles are charged. A clean unit
// costs four cycles.
func opWAIT(c *CPU_X86, fetchdat uint32) int {
	if c.CR0&(x86CR0_MP|x86CR0_TS) == x86CR0_MP|x86CR0_TS {
		return c.raiseFault(x86VecNM)
	}
	if c.x87Pending() {
		return 1
	}
	c.cycles(4)
	return 0
}
