// machine.go - one or more independent x86+x87 cores
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import (
	"context"
	"fmt"
	"io"
	"log"

	"golang.org/x/sync/errgroup"
)

// MachineConfig describes the machine to build.
type MachineConfig struct {
	MemorySize int      // per core, power of two
	Model      x87Model // coprocessor fitted to every core
	SoftFloat  bool     // fully modelled exception reporting
	Use32      bool     // 32-bit default operand and address size
	Cores      int
	Trace      bool
	LoadAddr   uint32
	Entry      uint32

	Log     *log.Logger // trace destination, discarded when nil
	Console io.Writer   // port E9h output, discarded when nil
}

// DefaultMachineConfig is a single 387 core with 1MB and 16-bit code
// loaded above the interrupt vector table.
func DefaultMachineConfig() MachineConfig {
	return MachineConfig{
		MemorySize: 1 << 20,
		Model:      x87Model387,
		SoftFloat:  true,
		Cores:      1,
		LoadAddr:   defaultX86LoadAddr,
		Entry:      defaultX86LoadAddr,
	}
}

// Machine is a set of cores that share nothing except the read-only
// dispatch tables.
type Machine struct {
	cfg   MachineConfig
	cores []*CPUX86Runner
	log   *log.Logger
}

func NewMachine(cfg MachineConfig) (*Machine, error) {
	if cfg.Cores < 1 {
		return nil, fmt.Errorf("core count %d: need at least one", cfg.Cores)
	}
	m := &Machine{cfg: cfg, log: cfg.Log}
	if m.log == nil {
		m.log = log.New(io.Discard, "", 0)
	}
	for i := range cfg.Cores {
		r, err := NewCPUX86Runner(CPUX86Config{
			MemorySize: cfg.MemorySize,
			Model:      cfg.Model,
			SoftFloat:  cfg.SoftFloat,
			Use32:      cfg.Use32,
			LoadAddr:   cfg.LoadAddr,
			Entry:      cfg.Entry,
			Console:    cfg.Console,
		})
		if err != nil {
			return nil, fmt.Errorf("core %d: %w", i, err)
		}
		if cfg.Trace {
			r.cpu.SetTracer(newX87Tracer(m.log, i))
		}
		m.cores = append(m.cores, r)
	}
	return m, nil
}

// Config returns the configuration the machine was built with.
func (m *Machine) Config() MachineConfig {
	return m.cfg
}

// NumCores returns the number of cores.
func (m *Machine) NumCores() int {
	return len(m.cores)
}

// Core returns core i.
func (m *Machine) Core(i int) *CPUX86Runner {
	return m.cores[i]
}

// CPU is shorthand for Core(i).GetCPU().
func (m *Machine) CPU(i int) *CPU_X86 {
	return m.cores[i].cpu
}

// LoadProgram copies the same program into every core.
func (m *Machine) LoadProgram(data []byte) error {
	for i, r := range m.cores {
		if err := r.LoadProgramData(data); err != nil {
			return fmt.Errorf("core %d: %w", i, err)
		}
	}
	return nil
}

// Reset resets every core. RAM contents are kept.
func (m *Machine) Reset() {
	for _, r := range m.cores {
		r.Reset()
	}
}

// RunCores runs every core on its own goroutine until each halts. The first
// core error (step limit or cancellation) stops the others.
func (m *Machine) RunCores(ctx context.Context, maxSteps int) error {
	g, ctx := errgroup.WithContext(ctx)
	for i, r := range m.cores {
		g.Go(func() error {
			if err := r.Run(ctx, maxSteps); err != nil {
				return fmt.Errorf("core %d: %w", i, err)
			}
			return nil
		})
	}
	return g.Wait()
}
