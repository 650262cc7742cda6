// machine_test.go - multi-core machine tests
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import (
	"bytes"
	"context"
	"errors"
	"log"
	"strings"
	"testing"
)

func testMachine(t *testing.T, cores int, code ...byte) *Machine {
	t.Helper()
	cfg := DefaultMachineConfig()
	cfg.Cores = cores
	m, err := NewMachine(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if err := m.LoadProgram(code); err != nil {
		t.Fatal(err)
	}
	return m
}

func TestMachine_RejectsBadConfig(t *testing.T) {
	cfg := DefaultMachineConfig()
	cfg.Cores = 0
	if _, err := NewMachine(cfg); err == nil {
		t.Fatal("zero cores accepted")
	}
	cfg = DefaultMachineConfig()
	cfg.MemorySize = 3000
	if _, err := NewMachine(cfg); err == nil {
		t.Fatal("non power of two memory accepted")
	}
}

func TestMachine_CoresShareNothing(t *testing.T) {
	m := testMachine(t, 4,
		0xD9, 0xE8, // FLD1
		0xF4,
	)
	// Core 1 gets a different program, core 2 an unmasked exception that
	// halts it through an empty #MF vector.
	if err := m.Core(1).LoadProgramData([]byte{0xD9, 0xEB, 0xF4}); err != nil {
		t.Fatal(err)
	}
	m.CPU(2).CR0 |= x86CR0_NE
	m.CPU(2).FPU.FCW &^= x87FSW_ZE
	m.CPU(2).FPU.FSW |= x87FSW_ZE
	m.CPU(2).FPU.updateSummary()

	if err := m.RunCores(context.Background(), 100); err != nil {
		t.Fatal(err)
	}
	for i := range m.NumCores() {
		c := m.CPU(i)
		want := x87One
		if i == 1 {
			want = ExtendedReal{Exp: 0x4000, Mant: 0xC90FDAA22168C235}
		}
		if i == 2 {
			if !c.FPU.isEmpty(0) || c.LastFault != x86VecMF || !c.Halted {
				t.Fatalf("core 2 ran FLD1 over a pending exception")
			}
			continue
		}
		if c.FPU.ST(0) != want {
			t.Fatalf("core %d ST0=%+v, want %+v", i, c.FPU.ST(0), want)
		}
		if m.Core(i).PIC().Requested(x86IRQFPU) {
			t.Fatalf("core %d saw another core's IRQ13", i)
		}
	}
}

func TestMachine_StepLimit(t *testing.T) {
	m := testMachine(t, 2, 0xEB, 0xFE) // JMP $
	err := m.RunCores(context.Background(), 50)
	if !errors.Is(err, ErrStepLimit) {
		t.Fatalf("err = %v, want step limit", err)
	}
	if m.Core(0).InstructionCount == 0 {
		t.Fatal("core did not run")
	}
}

func TestMachine_Cancellation(t *testing.T) {
	m := testMachine(t, 2, 0xEB, 0xFE)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := m.RunCores(ctx, 0); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want cancellation", err)
	}
}

func TestMachine_Trace(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultMachineConfig()
	cfg.Cores = 2
	cfg.Trace = true
	cfg.Log = log.New(&buf, "", 0)
	m, err := NewMachine(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if err := m.LoadProgram([]byte{0xD9, 0xE8, 0xDE, 0xC1, 0xF4}); err != nil {
		t.Fatal(err)
	}
	if err := m.RunCores(context.Background(), 10); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{
		"cpu0 00001000 1E8 FLD1 ",
		"cpu1 00001000 1E8 FLD1 ",
		"cpu0 00001002 6C1 FADDP ST(1),ST(0)",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("trace missing %q:\n%s", want, out)
		}
	}
	if n := strings.Count(out, "\n"); n != 4 {
		t.Errorf("%d trace lines, want 4", n)
	}
}

func TestMachine_ConsolePort(t *testing.T) {
	var out bytes.Buffer
	cfg := DefaultMachineConfig()
	cfg.Console = &out
	m, err := NewMachine(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if err := m.LoadProgram([]byte{
		0xB0, 'o', 0xE6, 0xE9, // MOV AL,'o'; OUT E9h,AL
		0xB0, 'k', 0xE6, 0xE9,
		0xF4,
	}); err != nil {
		t.Fatal(err)
	}
	if err := m.RunCores(context.Background(), 0); err != nil {
		t.Fatal(err)
	}
	if out.String() != "ok" {
		t.Fatalf("console %q", out.String())
	}
}

func TestMachine_ResetKeepsMemory(t *testing.T) {
	m := testMachine(t, 1, 0xD9, 0xE8, 0xF4)
	if err := m.RunCores(context.Background(), 0); err != nil {
		t.Fatal(err)
	}
	m.Reset()
	c := m.CPU(0)
	if c.EIP != defaultX86LoadAddr || c.Halted || c.FPU.FTW != 0xFFFF || !c.FPU.SoftFloat {
		t.Fatalf("EIP=%X Halted=%v FTW=%04X", c.EIP, c.Halted, c.FPU.FTW)
	}
	if err := m.RunCores(context.Background(), 0); err != nil {
		t.Fatal(err)
	}
	if c.FPU.ST(0) != x87One {
		t.Fatal("program lost across reset")
	}
}
