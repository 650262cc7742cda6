// monitor_test.go - monitor command tests
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func newTestMonitor(t *testing.T, cores int) (*Monitor, *bytes.Buffer) {
	t.Helper()
	m := testMachine(t, cores,
		0xD9, 0xE8, // FLD1
		0xD9, 0xEB, // FLDPI
		0xF4,
	)
	var out bytes.Buffer
	return NewMonitor(m, &out), &out
}

func TestMonitor_StepAndFPU(t *testing.T) {
	mon, out := newTestMonitor(t, 1)
	if err := mon.Exec("s 2"); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "2 steps, EIP=00001004") {
		t.Fatalf("step output %q", out.String())
	}
	out.Reset()
	if err := mon.Exec("f"); err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"ST(0) 4000C90FDAA22168C235  valid", "ST(1) 3FFF8000000000000000  valid", "ST(2)", "empty", "TOP=6"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("fpu view missing %q:\n%s", want, out.String())
		}
	}

	out.Reset()
	mon.Exec("s 5")
	if !strings.Contains(out.String(), "core halted") {
		t.Fatalf("halt not reported: %q", out.String())
	}
}

func TestMonitor_DisassembleAndRegisters(t *testing.T) {
	mon, out := newTestMonitor(t, 1)
	if err := mon.Exec("u $1000 3"); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 3 || !strings.HasSuffix(lines[1], "FLDPI") || !strings.HasPrefix(lines[2], "00001004") {
		t.Fatalf("disassembly:\n%s", out.String())
	}
	out.Reset()
	mon.Exec("r")
	if !strings.Contains(out.String(), "EIP    00001000") || strings.Contains(out.String(), "FCW") {
		t.Fatalf("registers:\n%s", out.String())
	}
}

func TestMonitor_CR0AndCores(t *testing.T) {
	mon, out := newTestMonitor(t, 2)
	if err := mon.Exec("c 1"); err != nil {
		t.Fatal(err)
	}
	if err := mon.Exec("cr0 $14"); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "CR0=00000014") {
		t.Fatalf("cr0 output %q", out.String())
	}
	if mon.m.CPU(1).CR0 != 0x14 || mon.m.CPU(0).CR0 != x86CR0_ET {
		t.Fatal("cr0 set on the wrong core")
	}
	mon.Exec("s")
	if mon.m.CPU(1).LastFault != x86VecNM {
		t.Fatalf("core 1 fault %d, want #NM", mon.m.CPU(1).LastFault)
	}
	if err := mon.Exec("c 2"); err == nil {
		t.Fatal("selected a core that does not exist")
	}
}

func TestMonitor_DumpAndCopy(t *testing.T) {
	mon, out := newTestMonitor(t, 1)
	mon.Exec("s")
	mon.Exec("d")
	for _, want := range []string{"x86Snapshot", "X87Op", "1E8", "FLD1"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("dump missing %q:\n%s", want, out.String())
		}
	}

	var copied string
	mon.copy = func(text string) error {
		copied = text
		return nil
	}
	if err := mon.Exec("y"); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(copied, "ST(0) 3FFF8000000000000000") {
		t.Fatalf("copied %q", copied)
	}
	mon.copy = func(string) error { return errors.New("no display") }
	if err := mon.Exec("y"); err == nil {
		t.Fatal("clipboard failure swallowed")
	}
}

func TestMonitor_Errors(t *testing.T) {
	mon, _ := newTestMonitor(t, 1)
	if err := mon.Exec("frobnicate"); err == nil {
		t.Fatal("unknown command accepted")
	}
	if err := mon.Exec("s zz"); err == nil {
		t.Fatal("bad count accepted")
	}
	if err := mon.Exec(""); err != nil {
		t.Fatal(err)
	}
	if err := mon.Exec("q"); !errors.Is(err, errMonitorQuit) {
		t.Fatalf("q returned %v", err)
	}
}

func TestParseNumber(t *testing.T) {
	tests := []struct {
		in   string
		want uint32
		ok   bool
	}{
		{"10", 10, true},
		{"0x10", 16, true},
		{"$10", 16, true},
		{"$zz", 0, false},
		{"", 0, false},
	}
	for _, tc := range tests {
		got, err := parseNumber(tc.in)
		if (err == nil) != tc.ok || got != tc.want {
			t.Errorf("parseNumber(%q) = %d, %v", tc.in, got, err)
		}
	}
}
