// monitor.go - interactive machine monitor
//
// Commands:
//
//	s [n]         step n instructions (default 1)
//	r             integer and control registers
//	f             FPU stack and status
//	u [addr [n]]  disassemble (default EIP, 8 lines)
//	d             pretty dump of the core state
//	y             copy the FPU view to the clipboard
//	cr0 [v]       show or set CR0
//	c n           select core n
//	q             quit
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/k0kubun/pp/v3"
	"golang.design/x/clipboard"
)

var errMonitorQuit = errors.New("quit")

// Monitor executes monitor commands against one core at a time.
type Monitor struct {
	m      *Machine
	core   int
	out    io.Writer
	colour bool

	clipboardOnce sync.Once
	clipboardOK   bool
	// copy is the clipboard writer; tests replace it.
	copy func(text string) error
}

func NewMonitor(m *Machine, out io.Writer) *Monitor {
	mon := &Monitor{m: m, out: out}
	mon.copy = mon.systemClipboard
	return mon
}

func (mon *Monitor) systemClipboard(text string) error {
	mon.clipboardOnce.Do(func() {
		mon.clipboardOK = clipboard.Init() == nil
	})
	if !mon.clipboardOK {
		return errors.New("clipboard unavailable")
	}
	clipboard.Write(clipboard.FmtText, []byte(text))
	return nil
}

// x86Snapshot is what the d command dumps.
type x86Snapshot struct {
	Core      int
	Model     string
	EIP       string
	CR0       string
	Halted    bool
	LastFault int
	Faults    int
	PendingNE bool
	X87Op     string
	Mnemonic  string
	TOP       int
	FCW       string
	FSW       string
	FTW       string
	Stack     []string
}

func (mon *Monitor) snapshot() x86Snapshot {
	c := mon.m.CPU(mon.core)
	f := c.FPU
	s := x86Snapshot{
		Core:      mon.core,
		Model:     c.Model().String(),
		EIP:       fmt.Sprintf("%08X", c.EIP),
		CR0:       fmt.Sprintf("%08X", c.CR0),
		Halted:    c.Halted,
		LastFault: c.LastFault,
		Faults:    c.Faults,
		PendingNE: c.PendingNE(),
		X87Op:     fmt.Sprintf("%03X", c.X87Op()),
		Mnemonic:  x87Mnemonic(c.X87Op()),
		TOP:       f.top(),
		FCW:       fmt.Sprintf("%04X", f.FCW),
		FSW:       fmt.Sprintf("%04X", f.FSW),
		FTW:       fmt.Sprintf("%04X", f.FTW),
	}
	for i := range 8 {
		s.Stack = append(s.Stack, extHex(f.ST(i)))
	}
	return s
}

func parseNumber(s string) (uint32, error) {
	base := 0
	if rest, ok := strings.CutPrefix(s, "$"); ok {
		s, base = rest, 16
	}
	v, err := strconv.ParseUint(s, base, 32)
	if err != nil {
		return 0, fmt.Errorf("bad number %q", s)
	}
	return uint32(v), nil
}

// Exec runs one command line. It returns errMonitorQuit for q.
func (mon *Monitor) Exec(line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	r := mon.m.Core(mon.core)
	c := r.GetCPU()
	args := fields[1:]

	switch strings.ToLower(fields[0]) {
	case "q", "quit", "x":
		return errMonitorQuit
	case "s", "step":
		n := uint32(1)
		if len(args) > 0 {
			var err error
			if n, err = parseNumber(args[0]); err != nil {
				return err
			}
		}
		done, err := r.StepN(int(n))
		fmt.Fprintf(mon.out, "%d steps, EIP=%08X\n", done, c.EIP)
		if errors.Is(err, ErrHalted) {
			fmt.Fprintln(mon.out, "core halted")
			return nil
		}
		return err
	case "r", "regs":
		for _, reg := range c.Registers() {
			if reg.Group == "x87" {
				continue
			}
			fmt.Fprintf(mon.out, "%-6s %0*X\n", reg.Name, reg.BitWidth/4, reg.Value)
		}
	case "f", "fpu":
		fmt.Fprint(mon.out, formatX87Stack(c.FPU))
	case "u":
		addr, n := c.EIP, uint32(8)
		var err error
		if len(args) > 0 {
			if addr, err = parseNumber(args[0]); err != nil {
				return err
			}
		}
		if len(args) > 1 {
			if n, err = parseNumber(args[1]); err != nil {
				return err
			}
		}
		for _, l := range disassembleX86(r.Bus().Read, addr, int(n), c.Use32) {
			fmt.Fprintf(mon.out, "%08X  %-20s %s\n", l.Address, l.HexBytes, l.Mnemonic)
		}
	case "d", "dump":
		p := pp.New()
		p.SetColoringEnabled(mon.colour)
		p.Fprintln(mon.out, mon.snapshot())
	case "y", "yank":
		if err := mon.copy(formatX87Stack(c.FPU)); err != nil {
			return err
		}
		fmt.Fprintln(mon.out, "FPU state copied")
	case "cr0":
		if len(args) > 0 {
			v, err := parseNumber(args[0])
			if err != nil {
				return err
			}
			c.CR0 = v
		}
		fmt.Fprintf(mon.out, "CR0=%08X\n", c.CR0)
	case "c", "core":
		if len(args) == 0 {
			fmt.Fprintf(mon.out, "core %d of %d\n", mon.core, mon.m.NumCores())
			return nil
		}
		v, err := parseNumber(args[0])
		if err != nil {
			return err
		}
		if int(v) >= mon.m.NumCores() {
			return fmt.Errorf("no core %d", v)
		}
		mon.core = int(v)
	default:
		return fmt.Errorf("unknown command %q", fields[0])
	}
	return nil
}

// Run reads commands from the host until q or end of input.
func (mon *Monitor) Run(h *TerminalHost) error {
	mon.out = h.Output()
	mon.colour = h.Colour()
	for {
		line, err := h.ReadLine()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		switch err := mon.Exec(line); {
		case errors.Is(err, errMonitorQuit):
			return nil
		case err != nil:
			fmt.Fprintf(mon.out, "error: %v\n", err)
		}
	}
}
