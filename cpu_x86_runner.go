// cpu_x86_runner.go - x86 core runner and its private system bus
//
// Each core gets a RAMBus of its own: flat RAM, the 8259 pair on its ports
// and a Bochs-style debug console on port E9h. Nothing on the bus is shared
// with other cores.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

const (
	defaultX86LoadAddr = 0x00001000

	x86PortDebugConsole = 0xE9
)

var (
	// ErrHalted is returned when a core stops on HLT or on an interrupt
	// with no handler before the requested work is done.
	ErrHalted = errors.New("core halted")
	// ErrStepLimit is returned when a core is still running after its step
	// budget.
	ErrStepLimit = errors.New("step limit reached")
)

// RAMBus implements X86Bus for one core.
type RAMBus struct {
	mem     []byte
	mask    uint32
	pic     *PIC8259
	console io.Writer

	Ticks uint64
}

// NewRAMBus allocates size bytes of RAM; size must be a power of two.
func NewRAMBus(size int, pic *PIC8259) (*RAMBus, error) {
	if size <= 0 || size&(size-1) != 0 || size > x86MemorySize {
		return nil, fmt.Errorf("memory size %d: must be a power of two up to %d", size, x86MemorySize)
	}
	return &RAMBus{mem: make([]byte, size), mask: uint32(size - 1), pic: pic}, nil
}

// Read implements X86Bus.Read
func (b *RAMBus) Read(addr uint32) byte {
	return b.mem[addr&b.mask]
}

// Write implements X86Bus.Write
func (b *RAMBus) Write(addr uint32, value byte) {
	b.mem[addr&b.mask] = value
}

// In implements X86Bus.In. Unclaimed ports float high.
func (b *RAMBus) In(port uint16) byte {
	if b.pic != nil && b.pic.Handles(port) {
		return b.pic.In(port)
	}
	return 0xFF
}

// Out implements X86Bus.Out
func (b *RAMBus) Out(port uint16, value byte) {
	switch {
	case b.pic != nil && b.pic.Handles(port):
		b.pic.Out(port, value)
	case port == x86PortDebugConsole && b.console != nil:
		b.console.Write([]byte{value})
	}
}

// Tick implements X86Bus.Tick
func (b *RAMBus) Tick(cycles int) {
	b.Ticks += uint64(cycles)
}

// Load copies data into RAM at addr.
func (b *RAMBus) Load(addr uint32, data []byte) error {
	if uint64(addr)+uint64(len(data)) > uint64(len(b.mem)) {
		return fmt.Errorf("%d bytes at %08X exceed %d bytes of RAM", len(data), addr, len(b.mem))
	}
	copy(b.mem[addr:], data)
	return nil
}

// Size returns the RAM size in bytes.
func (b *RAMBus) Size() int {
	return len(b.mem)
}

// Reset clears RAM and the interrupt controller.
func (b *RAMBus) Reset() {
	clear(b.mem)
	b.Ticks = 0
	if b.pic != nil {
		b.pic.Reset()
	}
}

// CPUX86Runner owns one core and its bus.
type CPUX86Runner struct {
	cpu      *CPU_X86
	bus      *RAMBus
	pic      *PIC8259
	loadAddr uint32
	entry    uint32

	// Performance monitoring
	PerfEnabled      bool
	InstructionCount uint64
	perfStartTime    time.Time
	lastPerfReport   time.Time
}

// CPUX86Config is the per-core part of MachineConfig.
type CPUX86Config struct {
	MemorySize int
	Model      x87Model
	SoftFloat  bool
	Use32      bool
	LoadAddr   uint32
	Entry      uint32
	Console    io.Writer
}

// NewCPUX86Runner builds a core with its own RAM and interrupt controller.
func NewCPUX86Runner(config CPUX86Config) (*CPUX86Runner, error) {
	pic := NewPIC8259()
	bus, err := NewRAMBus(config.MemorySize, pic)
	if err != nil {
		return nil, err
	}
	bus.console = config.Console

	cpu := NewCPU_X86(bus, pic, config.Model)
	cpu.FPU.SoftFloat = config.SoftFloat
	cpu.Use32 = config.Use32

	r := &CPUX86Runner{
		cpu:      cpu,
		bus:      bus,
		pic:      pic,
		loadAddr: config.LoadAddr,
		entry:    config.Entry,
	}
	cpu.EIP = r.entry
	return r, nil
}

// LoadProgramData loads a binary program from bytes into memory
func (r *CPUX86Runner) LoadProgramData(data []byte) error {
	if err := r.bus.Load(r.loadAddr, data); err != nil {
		return fmt.Errorf("program too large: %w", err)
	}
	r.cpu.EIP = r.entry
	return nil
}

// LoadProgram loads a binary program from a file
func (r *CPUX86Runner) LoadProgram(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}
	return r.LoadProgramData(data)
}

// Step executes a single instruction
func (r *CPUX86Runner) Step() int {
	return r.cpu.Step()
}

// StepN executes up to n instructions and reports ErrHalted when the core
// stops first.
func (r *CPUX86Runner) StepN(n int) (int, error) {
	for i := range n {
		if !r.IsRunning() {
			return i, ErrHalted
		}
		r.cpu.Step()
		r.InstructionCount++
	}
	return n, nil
}

// Run executes until the core halts, the context is cancelled or maxSteps
// instructions have run (maxSteps <= 0 means no limit). A halt is a normal
// end of the program and returns nil.
func (r *CPUX86Runner) Run(ctx context.Context, maxSteps int) error {
	if r.PerfEnabled {
		r.perfStartTime = time.Now()
		r.lastPerfReport = r.perfStartTime
	}
	steps := 0
	for r.IsRunning() {
		if maxSteps > 0 && steps >= maxSteps {
			return ErrStepLimit
		}
		if steps&0xFFF == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		r.cpu.Step()
		steps++
		r.InstructionCount++

		if r.PerfEnabled && r.InstructionCount&0xFFFFFF == 0 { // Every ~16M instructions
			now := time.Now()
			if now.Sub(r.lastPerfReport) >= time.Second {
				elapsed := now.Sub(r.perfStartTime).Seconds()
				mips := float64(r.InstructionCount) / elapsed / 1_000_000
				fmt.Printf("x86: %.2f MIPS (%.0f instructions in %.1fs)\n", mips, float64(r.InstructionCount), elapsed)
				r.lastPerfReport = now
			}
		}
	}
	return nil
}

// GetCPU returns the CPU instance
func (r *CPUX86Runner) GetCPU() *CPU_X86 {
	return r.cpu
}

// Bus returns the core's private bus.
func (r *CPUX86Runner) Bus() *RAMBus {
	return r.bus
}

// PIC returns the core's interrupt controller.
func (r *CPUX86Runner) PIC() *PIC8259 {
	return r.pic
}

// Reset resets the CPU and its interrupt controller; RAM is kept.
func (r *CPUX86Runner) Reset() {
	use32, soft := r.cpu.Use32, r.cpu.FPU.SoftFloat
	r.cpu.Reset()
	r.cpu.Use32 = use32
	r.cpu.FPU.SoftFloat = soft
	r.cpu.EIP = r.entry
	r.pic.Reset()
	r.InstructionCount = 0
}

// IsRunning returns whether the CPU can still make progress. A halted core
// with an acceptable interrupt pending counts as running.
func (r *CPUX86Runner) IsRunning() bool {
	if !r.cpu.Running() {
		return false
	}
	return !r.cpu.Halted || (r.cpu.IF() && r.pic.Pending())
}

// Stop ends execution at the next instruction boundary.
func (r *CPUX86Runner) Stop() {
	r.cpu.SetRunning(false)
}
