package main

import (
	"testing"
)

// TestX87_EscapeRecordsOpcode walks every escape byte, address size and
// following byte. With CR0.EM set every leaf traps to #NM before touching
// state, so the only effects are the recorded opcode and the restart.
func TestX87_EscapeRecordsOpcode(t *testing.T) {
	for _, model := range []x87Model{x87Model287, x87Model387, x87ModelNone} {
		cpu, bus, _ := newTestX86(model)
		for a32 := range 2 {
			for esc := range 8 {
				for b := range 256 {
					cpu.Reset()
					cpu.CR0 = x86CR0_EM
					cpu.EIP = testCodeAddr
					code := []byte{byte(0xD8 + esc), byte(b), 0x00, 0x00, 0x00, 0x00}
					if a32 == 1 {
						code = append([]byte{0x67}, code...)
					}
					writeCode(bus, testCodeAddr, code...)
					cpu.Step()

					want := uint16(esc)<<8 | uint16(b)
					if cpu.X87Op() != want {
						t.Fatalf("model %v a32=%d %02X %02X: x87Op=%03X, want %03X", model, a32, 0xD8+esc, b, cpu.X87Op(), want)
					}
					if cpu.LastFault != x86VecNM || cpu.EIP != testCodeAddr {
						t.Fatalf("model %v a32=%d %02X %02X: fault=%d EIP=%X", model, a32, 0xD8+esc, b, cpu.LastFault, cpu.EIP)
					}
				}
			}
		}
	}
}

// TestX87_EscapeLeavesEIPToLeaf calls the outer entries directly: the leaf
// consumes the ModRM byte and operand, the decoder nothing.
func TestX87_EscapeLeavesEIPToLeaf(t *testing.T) {
	cpu, bus, _ := newTestX86(x87Model387)
	writeCode(bus, testCodeAddr, 0xD9, 0xE8) // FLD1
	cpu.EIP = testCodeAddr + 1
	cpu.instrStart = testCodeAddr
	cpu.modrmLoaded = false
	fetchdat := cpu.peek32()
	if r := x87EscapeOps[0][1](cpu, fetchdat); r != 0 {
		t.Fatalf("FLD1 returned %d", r)
	}
	if cpu.EIP != testCodeAddr+2 {
		t.Fatalf("EIP = %X, want after ModRM", cpu.EIP)
	}
	if cpu.FPU.ST(0) != x87One {
		t.Fatalf("ST0 = %+v", cpu.FPU.ST(0))
	}
}

// TestX87_EscapeIdempotentDecode decodes the same bytes twice and checks
// both runs leave identical state.
func TestX87_EscapeIdempotentDecode(t *testing.T) {
	run := func() (*CPU_X86, *TestX86Bus) {
		cpu, bus, _ := newTestX86(x87Model387)
		writeCode(bus, testCodeAddr,
			0xD9, 0xEB, // FLDPI
			0xD9, 0xE8, // FLD1
			0xDE, 0xC1, // FADDP ST(1),ST(0)
			0xDD, 0x1E, 0x00, 0x30, // FSTP QWORD [3000h]
		)
		stepN(cpu, 4)
		return cpu, bus
	}
	c1, b1 := run()
	c2, b2 := run()
	if c1.FPU.FSW != c2.FPU.FSW || c1.FPU.FTW != c2.FPU.FTW || c1.X87Op() != c2.X87Op() || c1.Cycles != c2.Cycles {
		t.Fatal("two decodes of the same stream diverged")
	}
	for i := range uint32(8) {
		if b1.memory[0x3000+i] != b2.memory[0x3000+i] {
			t.Fatal("stored results diverged")
		}
	}
	if c1.X87Op() != 0x51E {
		t.Fatalf("x87Op = %03X, want 51E", c1.X87Op())
	}
}

func TestX87_FamilyIndexing(t *testing.T) {
	// D8 and DC index by ModRM bits 3-7: every mod 0-2 encoding with the same
	// reg field reaches the same memory leaf.
	cpu, bus, _ := newTestX86(x87Model387)
	write32le(bus, 0x3000, 0x40000000) // 2.0f
	cpu.FPU.push(ext(3))
	cpu.EBX = 0x3000
	writeCode(bus, testCodeAddr,
		0xD8, 0x0F, // FMUL DWORD [BX]
		0xD8, 0x4F, 0x00, // FMUL DWORD [BX+0]
		0xD8, 0x8F, 0x00, 0x00, // FMUL DWORD [BX+0000]
	)
	stepN(cpu, 3)
	if got := cpu.FPU.ST(0).ToFloat64(); got != 24 {
		t.Fatalf("ST0 = %v, want 24", got)
	}
	if cpu.EIP != testCodeAddr+9 {
		t.Fatalf("EIP = %X", cpu.EIP)
	}
}

func TestX87_WaitCleanCostsFourCycles(t *testing.T) {
	cpu, bus, _ := newTestX86(x87Model387)
	writeCode(bus, testCodeAddr, 0x9B)
	before := cpu.Cycles
	if n := cpu.Step(); n != 4 || cpu.Cycles-before != 4 {
		t.Fatalf("WAIT charged %d (%d)", n, cpu.Cycles-before)
	}
	if cpu.EIP != testCodeAddr+1 {
		t.Fatalf("EIP = %X", cpu.EIP)
	}
}

func TestX87_WaitMPAndTS(t *testing.T) {
	tests := []struct {
		cr0     uint32
		pending bool
		wantNM  bool
	}{
		{x86CR0_MP | x86CR0_TS, false, true},
		{x86CR0_TS, false, false},
		{x86CR0_MP, false, false},
		{x86CR0_EM | x86CR0_TS, false, false},
		// #NM wins over both reporting paths for a pending exception.
		{x86CR0_MP | x86CR0_TS, true, true},
		{x86CR0_MP | x86CR0_TS | x86CR0_NE, true, true},
	}
	for _, tc := range tests {
		cpu, bus, pic := newTestX86(x87Model387)
		setVector(bus, x86VecNM, 0x2000)
		writeCode(bus, 0x2000, 0xF4)
		writeCode(bus, testCodeAddr, 0x9B)
		cpu.CR0 = tc.cr0
		if tc.pending {
			pendingZE(cpu)
		}
		cycles := cpu.Step()
		gotNM := cpu.LastFault == x86VecNM
		if gotNM != tc.wantNM {
			t.Fatalf("CR0=%X pending=%v: #NM=%v, want %v", tc.cr0, tc.pending, gotNM, tc.wantNM)
		}
		if tc.wantNM && (cycles != 0 || cpu.EIP != 0x2000 || read16le(bus, cpu.ESP) != testCodeAddr) {
			t.Fatalf("CR0=%X: cycles=%d EIP=%X", tc.cr0, cycles, cpu.EIP)
		}
		if pic.Requested(x86IRQFPU) || cpu.PendingNE() {
			t.Fatalf("CR0=%X pending=%v: IRQ13=%v NE=%v alongside #NM", tc.cr0, tc.pending, pic.Requested(x86IRQFPU), cpu.PendingNE())
		}
	}
}

// pendingZE leaves an unmasked divide-by-zero latched in the FPU.
func pendingZE(cpu *CPU_X86) {
	f := cpu.FPU
	f.FCW &^= x87FSW_ZE
	f.FSW |= x87FSW_ZE
	f.updateSummary()
}

func TestX87_WaitRaisesIRQ13(t *testing.T) {
	cpu, bus, pic := newTestX86(x87Model387)
	pendingZE(cpu)
	writeCode(bus, testCodeAddr, 0x9B)
	before := cpu.Cycles
	if n := cpu.Step(); n != 0 || cpu.Cycles != before {
		t.Fatalf("aborted WAIT charged %d cycles", n)
	}
	if cpu.EIP != testCodeAddr+1 {
		t.Fatalf("EIP = %X, want past the WAIT", cpu.EIP)
	}
	if !pic.Requested(x86IRQFPU) {
		t.Fatal("IRQ13 not raised")
	}
	if cpu.PendingNE() || cpu.LastFault != -1 {
		t.Fatal("NE path taken with CR0.NE clear")
	}
	if v, ok := pic.Acknowledge(); !ok || v != 0x75 {
		t.Fatalf("acknowledge = %02X %v, want 75", v, ok)
	}
}

// With IF clear or IRQ13 masked nothing services the request, and the
// core still runs on past the WAIT.
func TestX87_WaitIRQ13Unserviced(t *testing.T) {
	tests := []struct {
		name string
		sti  bool
		mask bool
	}{
		{"interrupts off", false, false},
		{"line masked", true, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			pic := NewPIC8259()
			bus, err := NewRAMBus(1<<20, pic)
			if err != nil {
				t.Fatal(err)
			}
			cpu := NewCPU_X86(bus, pic, x87Model387)
			cpu.EIP = testCodeAddr
			if tc.mask {
				pic.Out(picSlaveData, 1<<(x86IRQFPU-8))
			}
			code := []byte{0x9B, 0xF4} // WAIT; HLT
			if tc.sti {
				code = append([]byte{0xFB}, code...)
			}
			if err := bus.Load(testCodeAddr, code); err != nil {
				t.Fatal(err)
			}
			pendingZE(cpu)
			start := cpu.Cycles
			for range 1000 {
				if cpu.Halted {
					break
				}
				cpu.Step()
			}
			if !cpu.Halted || cpu.EIP != testCodeAddr+uint32(len(code)) {
				t.Fatalf("Halted=%v EIP=%X, want HLT reached", cpu.Halted, cpu.EIP)
			}
			if cpu.Cycles == start {
				t.Fatal("no cycles charged")
			}
			if !pic.Requested(x86IRQFPU) || cpu.LastFault != -1 {
				t.Fatalf("IRQ13=%v LastFault=%d", pic.Requested(x86IRQFPU), cpu.LastFault)
			}
		})
	}
}

func TestX87_WaitRaisesMF(t *testing.T) {
	cpu, bus, pic := newTestX86(x87Model387)
	setVector(bus, x86VecMF, 0x2000)
	writeCode(bus, 0x2000, 0xF4)
	pendingZE(cpu)
	cpu.CR0 |= x86CR0_NE
	writeCode(bus, testCodeAddr, 0x9B)
	if n := cpu.Step(); n != 0 {
		t.Fatalf("aborted WAIT charged %d cycles", n)
	}
	if cpu.LastFault != x86VecMF || cpu.EIP != 0x2000 {
		t.Fatalf("LastFault=%d EIP=%X, want #MF handler", cpu.LastFault, cpu.EIP)
	}
	if cpu.PendingNE() {
		t.Fatal("deferred #MF not cleared after delivery")
	}
	if ret := read16le(bus, cpu.ESP); ret != testCodeAddr {
		t.Fatalf("return IP %X, want the WAIT", ret)
	}
	if pic.Requested(x86IRQFPU) {
		t.Fatal("IRQ13 raised with CR0.NE set")
	}
}

func TestX87_WaitIgnoresPendingWithoutSoftFloat(t *testing.T) {
	cpu, bus, pic := newTestX86(x87Model387)
	cpu.FPU.SoftFloat = false
	pendingZE(cpu)
	writeCode(bus, testCodeAddr, 0x9B)
	if n := cpu.Step(); n != 4 {
		t.Fatalf("WAIT charged %d, want 4", n)
	}
	if pic.Requested(x86IRQFPU) {
		t.Fatal("IRQ13 raised without SoftFloat")
	}
}

func TestX87_WaitingEscapeReportsPending(t *testing.T) {
	cpu, bus, pic := newTestX86(x87Model387)
	pendingZE(cpu)
	writeCode(bus, testCodeAddr, 0xD9, 0xE8) // FLD1
	cpu.Step()
	if cpu.EIP != testCodeAddr+2 || !pic.Requested(x86IRQFPU) {
		t.Fatalf("EIP=%X IRQ13=%v", cpu.EIP, pic.Requested(x86IRQFPU))
	}
	if !cpu.FPU.isEmpty(0) {
		t.Fatal("FLD1 executed despite a pending exception")
	}

	// The non-waiting forms run regardless.
	cpu.EIP = testCodeAddr
	writeCode(bus, testCodeAddr, 0xDF, 0xE0) // FNSTSW AX
	cpu.Step()
	if cpu.AX() != cpu.FPU.FSW || cpu.EIP != testCodeAddr+2 {
		t.Fatalf("FNSTSW AX: AX=%04X FSW=%04X", cpu.AX(), cpu.FPU.FSW)
	}
}

func TestX87_EscapeEMAndTS(t *testing.T) {
	for _, cr0 := range []uint32{x86CR0_EM, x86CR0_TS, x86CR0_EM | x86CR0_MP} {
		cpu, bus, _ := newTestX86(x87Model387)
		cpu.CR0 = cr0
		writeCode(bus, testCodeAddr, 0xDB, 0xE3) // FNINIT
		cpu.Step()
		if cpu.LastFault != x86VecNM {
			t.Fatalf("CR0=%X: LastFault=%d, want #NM", cr0, cpu.LastFault)
		}
	}
	cpu, bus, _ := newTestX86(x87Model387)
	cpu.CR0 = x86CR0_MP
	writeCode(bus, testCodeAddr, 0xDB, 0xE3)
	cpu.Step()
	if cpu.LastFault != -1 {
		t.Fatalf("MP alone faulted: %d", cpu.LastFault)
	}
}

func TestX87_InterruptHandlerServicesIRQ13(t *testing.T) {
	pic := NewPIC8259()
	bus, err := NewRAMBus(1<<20, pic)
	if err != nil {
		t.Fatal(err)
	}
	cpu := NewCPU_X86(bus, pic, x87Model387)
	cpu.EIP = testCodeAddr
	if err := bus.Load(0x75*4, []byte{0x00, 0x20, 0x00, 0x00}); err != nil {
		t.Fatal(err)
	}
	handler := []byte{
		0xDB, 0xE2, // FNCLEX
		0xE6, 0xF0, // OUT F0h,AL
		0xB0, 0x20, // MOV AL,20h
		0xE6, 0xA0, // OUT A0h,AL
		0xE6, 0x20, // OUT 20h,AL
		0xCF, // IRET
	}
	if err := bus.Load(0x2000, handler); err != nil {
		t.Fatal(err)
	}
	if err := bus.Load(testCodeAddr, []byte{0xFB, 0x9B, 0xF4}); err != nil { // STI; WAIT; HLT
		t.Fatal(err)
	}
	cpu.Step()
	pendingZE(cpu)
	for range 10 {
		cpu.Step()
	}
	if !cpu.Halted || cpu.EIP != testCodeAddr+3 {
		t.Fatalf("Halted=%v EIP=%X, want HLT after serviced WAIT", cpu.Halted, cpu.EIP)
	}
	if cpu.FPU.pendingException() {
		t.Fatal("exception still pending")
	}
	if pic.InService(x86IRQFPU) || pic.Requested(x86IRQFPU) {
		t.Fatal("IRQ13 not fully serviced")
	}
	if pic.InService(picCascadeLine) {
		t.Fatal("cascade line left in service")
	}
}

func TestX87_NoneModelSkipsEscapes(t *testing.T) {
	cpu, bus, _ := newTestX86(x87ModelNone)
	writeCode(bus, testCodeAddr,
		0xDD, 0x06, 0x00, 0x30, // FLD QWORD [3000h]
		0xD9, 0xE8, // FLD1
		0x9B, // WAIT
	)
	stepN(cpu, 3)
	if cpu.EIP != testCodeAddr+7 || cpu.LastFault != -1 {
		t.Fatalf("EIP=%X LastFault=%d", cpu.EIP, cpu.LastFault)
	}
	if cpu.FPU.FTW != 0xFFFF {
		t.Fatal("absent coprocessor changed state")
	}
}
