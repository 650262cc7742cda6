// debug_cpu_x86.go - named register access for the monitor and scripts

package main

import (
	"fmt"
	"strings"
)

// x86RegisterInfo is one row of a register listing.
type x86RegisterInfo struct {
	Name     string
	BitWidth int
	Value    uint32
	Group    string
}

// Registers lists the integer, control and coprocessor registers.
func (c *CPU_X86) Registers() []x86RegisterInfo {
	f := c.FPU
	return []x86RegisterInfo{
		{Name: "EAX", BitWidth: 32, Value: c.EAX, Group: "general"},
		{Name: "EBX", BitWidth: 32, Value: c.EBX, Group: "general"},
		{Name: "ECX", BitWidth: 32, Value: c.ECX, Group: "general"},
		{Name: "EDX", BitWidth: 32, Value: c.EDX, Group: "general"},
		{Name: "ESI", BitWidth: 32, Value: c.ESI, Group: "general"},
		{Name: "EDI", BitWidth: 32, Value: c.EDI, Group: "general"},
		{Name: "EBP", BitWidth: 32, Value: c.EBP, Group: "general"},
		{Name: "ESP", BitWidth: 32, Value: c.ESP, Group: "general"},
		{Name: "EIP", BitWidth: 32, Value: c.EIP, Group: "general"},
		{Name: "EFLAGS", BitWidth: 32, Value: c.Flags, Group: "flags"},
		{Name: "CS", BitWidth: 16, Value: uint32(c.CS), Group: "segment"},
		{Name: "DS", BitWidth: 16, Value: uint32(c.DS), Group: "segment"},
		{Name: "ES", BitWidth: 16, Value: uint32(c.ES), Group: "segment"},
		{Name: "SS", BitWidth: 16, Value: uint32(c.SS), Group: "segment"},
		{Name: "CR0", BitWidth: 32, Value: c.CR0, Group: "control"},
		{Name: "FCW", BitWidth: 16, Value: uint32(f.FCW), Group: "x87"},
		{Name: "FSW", BitWidth: 16, Value: uint32(f.FSW), Group: "x87"},
		{Name: "FTW", BitWidth: 16, Value: uint32(f.FTW), Group: "x87"},
		{Name: "FIP", BitWidth: 32, Value: f.FIP, Group: "x87"},
		{Name: "FDP", BitWidth: 32, Value: f.FDP, Group: "x87"},
		{Name: "FOP", BitWidth: 11, Value: uint32(f.FOP), Group: "x87"},
	}
}

var x86RegIndex = map[string]byte{
	"EAX": 0, "ECX": 1, "EDX": 2, "EBX": 3, "ESP": 4, "EBP": 5, "ESI": 6, "EDI": 7,
	"AX": 0, "CX": 1, "DX": 2, "BX": 3, "SP": 4, "BP": 5, "SI": 6, "DI": 7,
	"AL": 0, "CL": 1, "DL": 2, "BL": 3, "AH": 4, "CH": 5, "DH": 6, "BH": 7,
}

// Register reads a register by name (any case).
func (c *CPU_X86) Register(name string) (uint32, bool) {
	name = strings.ToUpper(name)
	if idx, ok := x86RegIndex[name]; ok {
		switch len(name) {
		case 3:
			return c.getReg32(idx), true
		case 2:
			if name[1] == 'L' || name[1] == 'H' {
				return uint32(c.getReg8(idx)), true
			}
			return uint32(c.getReg16(idx)), true
		}
	}
	f := c.FPU
	switch name {
	case "EIP":
		return c.EIP, true
	case "FLAGS", "EFLAGS":
		return c.Flags, true
	case "CS":
		return uint32(c.CS), true
	case "DS":
		return uint32(c.DS), true
	case "ES":
		return uint32(c.ES), true
	case "SS":
		return uint32(c.SS), true
	case "FS":
		return uint32(c.FS), true
	case "GS":
		return uint32(c.GS), true
	case "CR0":
		return c.CR0, true
	case "FCW":
		return uint32(f.FCW), true
	case "FSW":
		return uint32(f.FSW), true
	case "FTW":
		return uint32(f.FTW), true
	case "FIP":
		return f.FIP, true
	case "FDP":
		return f.FDP, true
	case "FOP":
		return uint32(f.FOP), true
	}
	return 0, false
}

// SetRegister writes a register by name (any case).
func (c *CPU_X86) SetRegister(name string, value uint32) bool {
	name = strings.ToUpper(name)
	if idx, ok := x86RegIndex[name]; ok {
		switch {
		case len(name) == 3:
			c.setReg32(idx, value)
		case name[1] == 'L' || name[1] == 'H':
			c.setReg8(idx, byte(value))
		default:
			c.setReg16(idx, uint16(value))
		}
		return true
	}
	f := c.FPU
	switch name {
	case "EIP":
		c.EIP = value
	case "FLAGS", "EFLAGS":
		c.Flags = value | x86FlagsFixed
	case "CS":
		c.CS = uint16(value)
	case "DS":
		c.DS = uint16(value)
	case "ES":
		c.ES = uint16(value)
	case "SS":
		c.SS = uint16(value)
	case "FS":
		c.FS = uint16(value)
	case "GS":
		c.GS = uint16(value)
	case "CR0":
		c.CR0 = value
	case "FCW":
		f.FCW = uint16(value)
		f.updateSummary()
	case "FSW":
		f.FSW = uint16(value)
	case "FTW":
		f.FTW = uint16(value)
	default:
		return false
	}
	return true
}

// formatX87Stack renders ST(0)..ST(7) with tags, one per line.
func formatX87Stack(f *FPU_X87) string {
	var sb strings.Builder
	tags := [4]string{"valid", "zero", "special", "empty"}
	for i := range 8 {
		v := f.ST(i)
		tag := f.getTag(f.physReg(i))
		fmt.Fprintf(&sb, "ST(%d) %s  %-7s", i, extHex(v), tags[tag])
		if tag != x87TagEmpty {
			fmt.Fprintf(&sb, "  %g", v.ToFloat64())
		}
		sb.WriteByte('\n')
	}
	fmt.Fprintf(&sb, "FCW=%04X FSW=%04X FTW=%04X TOP=%d FOP=%03X FIP=%08X FDP=%08X\n",
		f.FCW, f.FSW, f.FTW, f.top(), f.FOP, f.FIP, f.FDP)
	return sb.String()
}
