// pic_8259_test.go - interrupt controller tests
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import (
	"sync"
	"testing"
)

func TestPIC_DefaultVectors(t *testing.T) {
	p := NewPIC8259()
	p.Raise(1)
	if v, ok := p.Acknowledge(); !ok || v != 0x09 {
		t.Fatalf("IRQ1 vector %02X %v, want 09", v, ok)
	}
	p.Raise(x86IRQFPU)
	p.Out(picMasterCmd, picEOI)
	if v, ok := p.Acknowledge(); !ok || v != 0x75 {
		t.Fatalf("IRQ13 vector %02X %v, want 75", v, ok)
	}
	if !p.InService(x86IRQFPU) || !p.InService(picCascadeLine) {
		t.Fatal("slave line and cascade not in service")
	}
}

func TestPIC_InitializationSequence(t *testing.T) {
	p := NewPIC8259()
	p.Out(picMasterCmd, 0x11) // ICW1, ICW4 needed
	p.Out(picMasterData, 0x20)
	p.Out(picMasterData, 0x04)
	p.Out(picMasterData, 0x01)
	p.Out(picSlaveCmd, 0x11)
	p.Out(picSlaveData, 0x28)
	p.Out(picSlaveData, 0x02)
	p.Out(picSlaveData, 0x01)

	if got := p.In(picMasterData); got != 0 {
		t.Fatalf("IMR after init %02X", got)
	}
	p.Raise(0)
	if v, _ := p.Acknowledge(); v != 0x20 {
		t.Fatalf("IRQ0 vector %02X, want 20", v)
	}
	p.Out(picMasterCmd, picEOI)
	p.Raise(x86IRQFPU)
	if v, _ := p.Acknowledge(); v != 0x2D {
		t.Fatalf("IRQ13 vector %02X, want 2D", v)
	}

	// The next data write after init is the mask.
	p.Out(picMasterData, 0xFB)
	if got := p.In(picMasterData); got != 0xFB {
		t.Fatalf("IMR %02X", got)
	}
}

func TestPIC_MaskAndPriority(t *testing.T) {
	p := NewPIC8259()
	p.Out(picSlaveData, 1<<(x86IRQFPU-8))
	p.Raise(x86IRQFPU)
	if p.Pending() {
		t.Fatal("masked IRQ13 pending")
	}
	p.Out(picSlaveData, 0)
	if !p.Pending() {
		t.Fatal("unmasked IRQ13 not pending")
	}

	p.Raise(0)
	if v, _ := p.Acknowledge(); v != 0x08 {
		t.Fatalf("IRQ0 should win, got %02X", v)
	}
	if p.Pending() {
		t.Fatal("lower priority request passed an in-service line")
	}
	p.Out(picMasterCmd, picEOI)
	if v, _ := p.Acknowledge(); v != 0x75 {
		t.Fatalf("vector %02X after EOI, want 75", v)
	}
}

func TestPIC_FPUClearPort(t *testing.T) {
	p := NewPIC8259()
	p.Raise(x86IRQFPU)
	if !p.Requested(x86IRQFPU) {
		t.Fatal("request not latched")
	}
	p.Out(picFPUClear, 0)
	if p.Requested(x86IRQFPU) || p.Pending() {
		t.Fatal("port F0h did not withdraw IRQ13")
	}
}

func TestPIC_ReadRegisters(t *testing.T) {
	p := NewPIC8259()
	p.Raise(3)
	if got := p.In(picMasterCmd); got != 1<<3 {
		t.Fatalf("IRR %02X", got)
	}
	p.Acknowledge()
	p.Out(picMasterCmd, 0x0B) // OCW3: read ISR
	if got := p.In(picMasterCmd); got != 1<<3 {
		t.Fatalf("ISR %02X", got)
	}
	if p.In(0x60) != 0xFF {
		t.Fatal("foreign port answered")
	}
	if p.Handles(0x60) || !p.Handles(picFPUClear) {
		t.Fatal("port ownership wrong")
	}
}

func TestPIC_ConcurrentRaise(t *testing.T) {
	p := NewPIC8259()
	var wg sync.WaitGroup
	for line := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Raise(8 + line)
		}()
	}
	wg.Wait()
	seen := 0
	for range 8 {
		v, ok := p.Acknowledge()
		if !ok {
			t.Fatalf("only %d of 8 slave lines delivered", seen)
		}
		seen++
		p.Out(picSlaveCmd, picEOI)
		p.Out(picMasterCmd, picEOI)
		if v < 0x70 || v > 0x77 {
			t.Fatalf("vector %02X outside the slave range", v)
		}
	}
}
