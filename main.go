// main.go - Main entry point for the pcx87 machine

/*
pcx87 - a 386-class core with an attached 287/387 numeric coprocessor.

(c) 2024 - 2026 Zayn Otley
https://github.com/IntuitionAmiga/IntuitionEngine
License: GPLv3 or later
*/

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strconv"
)

func boilerPlate(w io.Writer) {
	fmt.Fprintln(w, "\n\033[38;2;255;20;147mpcx87\033[0m \033[38;2;255;140;147m386 + x87 numeric coprocessor\033[0m")
	fmt.Fprintln(w, "(c) 2024 - 2026 Zayn Otley")
	fmt.Fprintln(w, "License: GPLv3 or later")
}

// cliOptions is everything the command line selects.
type cliOptions struct {
	model     string
	softFloat bool
	use32     bool
	cores     int
	steps     int
	memSize   string
	loadAddr  string
	entryAddr string
	trace     bool
	bundle    string
	script    string
	monitor   bool
	tables    bool
	quiet     bool
	program   string
}

func parseFlags(args []string) (*cliOptions, *flag.FlagSet, error) {
	o := &cliOptions{}
	flagSet := flag.NewFlagSet("pcx87", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)
	flagSet.StringVar(&o.model, "model", "387", "Coprocessor model: 387, 287 or none")
	flagSet.BoolVar(&o.softFloat, "softfloat", true, "Model pending exceptions for WAIT and waiting escapes")
	flagSet.BoolVar(&o.use32, "use32", false, "32-bit default operand and address size")
	flagSet.IntVar(&o.cores, "cores", 1, "Number of independent cores")
	flagSet.IntVar(&o.steps, "steps", 0, "Instruction budget per core (0 = until halt)")
	flagSet.StringVar(&o.memSize, "mem", "0x100000", "RAM per core in bytes (power of two)")
	flagSet.StringVar(&o.loadAddr, "load-addr", "0x1000", "Program load address (hex or decimal)")
	flagSet.StringVar(&o.entryAddr, "entry", "", "Entry address (defaults to the load address)")
	flagSet.BoolVar(&o.trace, "trace", false, "Log every escape dispatch to stderr")
	flagSet.StringVar(&o.bundle, "bundle", "", "Run a txtar program bundle and check its expectations")
	flagSet.StringVar(&o.script, "script", "", "Run a Lua script against the machine")
	flagSet.BoolVar(&o.monitor, "monitor", false, "Start the interactive monitor instead of running")
	flagSet.BoolVar(&o.tables, "tables", false, "Print the escape dispatch map for -model and exit")
	flagSet.BoolVar(&o.quiet, "q", false, "Suppress the banner")

	if err := flagSet.Parse(args); err != nil {
		return nil, flagSet, err
	}
	o.program = flagSet.Arg(0)
	return o, flagSet, nil
}

func (o *cliOptions) machineConfig(stderr io.Writer) (MachineConfig, error) {
	cfg := DefaultMachineConfig()
	model, err := parseX87Model(o.model)
	if err != nil {
		return cfg, err
	}
	mem, err := strconv.ParseUint(o.memSize, 0, 32)
	if err != nil {
		return cfg, fmt.Errorf("invalid -mem: %w", err)
	}
	load, err := strconv.ParseUint(o.loadAddr, 0, 32)
	if err != nil {
		return cfg, fmt.Errorf("invalid -load-addr: %w", err)
	}
	entry := load
	if o.entryAddr != "" {
		if entry, err = strconv.ParseUint(o.entryAddr, 0, 32); err != nil {
			return cfg, fmt.Errorf("invalid -entry: %w", err)
		}
	}
	cfg.Model = model
	cfg.SoftFloat = o.softFloat
	cfg.Use32 = o.use32
	cfg.Cores = o.cores
	cfg.MemorySize = int(mem)
	cfg.LoadAddr = uint32(load)
	cfg.Entry = uint32(entry)
	cfg.Trace = o.trace
	cfg.Log = log.New(stderr, "x87: ", 0)
	cfg.Console = os.Stdout
	return cfg, nil
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run is main without the process exit, returning the exit status.
func run(args []string, stdout, stderr io.Writer) int {
	o, flagSet, err := parseFlags(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			flagSet.SetOutput(stdout)
			fmt.Fprintln(stdout, "Usage: pcx87 [-model 387|287|none] [-use32] [-cores N] [-steps N] [-trace] [-bundle file | -script file | -monitor | -tables] [program.bin]")
			flagSet.PrintDefaults()
			return 0
		}
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if !o.quiet && !o.tables {
		boilerPlate(stdout)
	}

	cfg, err := o.machineConfig(stderr)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	if o.tables {
		if err := writeX87TableMap(stdout, x87ModelTables[cfg.Model]); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		return 0
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if o.bundle != "" {
		return runBundle(ctx, o.bundle, cfg, stdout, stderr)
	}

	m, err := NewMachine(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if o.program != "" {
		for i := range m.NumCores() {
			if err := m.Core(i).LoadProgram(o.program); err != nil {
				fmt.Fprintf(stderr, "Error loading program: %v\n", err)
				return 1
			}
		}
	} else if o.script == "" && !o.monitor {
		fmt.Fprintln(stderr, "Error: no program, bundle, script or monitor selected")
		return 1
	}

	switch {
	case o.script != "":
		h := newLuaHost(m)
		defer h.Close()
		if err := h.RunFile(o.script); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		return 0
	case o.monitor:
		host := NewTerminalHost(os.Stdin, stdout, "pcx87> ")
		if err := host.Start(); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		defer host.Stop()
		if err := NewMonitor(m, stdout).Run(host); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		return 0
	}

	err = m.RunCores(ctx, o.steps)
	for i := range m.NumCores() {
		c := m.CPU(i)
		fmt.Fprintf(stdout, "core %d: EIP=%08X halted=%t last fault=%d\n", i, c.EIP, c.Halted, c.LastFault)
		fmt.Fprint(stdout, formatX87Stack(c.FPU))
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func runBundle(ctx context.Context, path string, cfg MachineConfig, stdout, stderr io.Writer) int {
	b, err := LoadBundle(path)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	m, err := b.Run(ctx, cfg)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %s: %v\n", path, err)
		return 1
	}
	if err := b.Check(m); err != nil {
		fmt.Fprintf(stdout, "FAIL %s\n%v\n", path, err)
		return 1
	}
	fmt.Fprintf(stdout, "ok   %s\n", path)
	return 0
}
