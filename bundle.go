// bundle.go - txtar program bundles
//
// A bundle is a text archive describing one guest run:
//
//	-- config --     key=value: model, cr0, use32, softfloat, steps, cores, mem, org
//	-- code --       hex bytes loaded and entered at org (default 1000h)
//	-- data@ADDR --  hex bytes loaded at ADDR (any number of these)
//	-- expect --     key=value checked on every core after the run
//
// Hex sections accept whitespace and ; comments. Expect keys are st0-st7
// (20 hex digits, sign/exponent first), fsw, fcw, ftw, eax, eip, cr0,
// irq13, mf, fault, faults, halted and mem@ADDR.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/tools/txtar"
)

type bundleData struct {
	addr  uint32
	bytes []byte
}

type bundleExpect struct {
	key, want string
}

// Bundle is a parsed program bundle.
type Bundle struct {
	Name    string
	Comment string

	config map[string]string
	code   []byte
	data   []bundleData
	expect []bundleExpect
}

// LoadBundle reads and parses a bundle file.
func LoadBundle(path string) (*Bundle, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	b, err := ParseBundle(src)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	b.Name = path
	return b, nil
}

// ParseBundle parses a bundle from txtar source.
func ParseBundle(src []byte) (*Bundle, error) {
	ar := txtar.Parse(src)
	b := &Bundle{Comment: strings.TrimSpace(string(ar.Comment)), config: map[string]string{}}
	for _, f := range ar.Files {
		switch name := f.Name; {
		case name == "config":
			kv, err := parseKeyValues(f.Data)
			if err != nil {
				return nil, fmt.Errorf("config: %w", err)
			}
			for _, e := range kv {
				b.config[e.key] = e.want
			}
		case name == "code":
			code, err := parseHexSection(f.Data)
			if err != nil {
				return nil, fmt.Errorf("code: %w", err)
			}
			b.code = code
		case strings.HasPrefix(name, "data@"):
			addr, err := strconv.ParseUint(strings.TrimPrefix(name, "data@"), 0, 32)
			if err != nil {
				return nil, fmt.Errorf("%s: bad address: %w", name, err)
			}
			data, err := parseHexSection(f.Data)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", name, err)
			}
			b.data = append(b.data, bundleData{addr: uint32(addr), bytes: data})
		case name == "expect":
			kv, err := parseKeyValues(f.Data)
			if err != nil {
				return nil, fmt.Errorf("expect: %w", err)
			}
			b.expect = kv
		default:
			return nil, fmt.Errorf("unknown section %q", name)
		}
	}
	if len(b.code) == 0 {
		return nil, errors.New("bundle has no code")
	}
	return b, nil
}

func stripComment(line string) string {
	if i := strings.IndexAny(line, ";#"); i >= 0 {
		line = line[:i]
	}
	return strings.TrimSpace(line)
}

func parseHexSection(data []byte) ([]byte, error) {
	var digits strings.Builder
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		for _, field := range strings.Fields(stripComment(sc.Text())) {
			digits.WriteString(field)
		}
	}
	out, err := hex.DecodeString(digits.String())
	if err != nil {
		return nil, err
	}
	return out, nil
}

func parseKeyValues(data []byte) ([]bundleExpect, error) {
	var out []bundleExpect
	sc := bufio.NewScanner(bytes.NewReader(data))
	for n := 1; sc.Scan(); n++ {
		line := stripComment(sc.Text())
		if line == "" {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("line %d: want key=value, got %q", n, line)
		}
		out = append(out, bundleExpect{key: strings.ToLower(strings.TrimSpace(k)), want: strings.TrimSpace(v)})
	}
	return out, nil
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	}
	return false, fmt.Errorf("bad boolean %q", s)
}

// MachineConfig applies the bundle's config section over base.
func (b *Bundle) MachineConfig(base MachineConfig) (MachineConfig, error) {
	cfg := base
	for k, v := range b.config {
		var err error
		switch k {
		case "model":
			cfg.Model, err = parseX87Model(v)
		case "use32":
			cfg.Use32, err = parseBool(v)
		case "softfloat":
			cfg.SoftFloat, err = parseBool(v)
		case "cores":
			cfg.Cores, err = strconv.Atoi(v)
		case "mem":
			var n uint64
			n, err = strconv.ParseUint(v, 0, 32)
			cfg.MemorySize = int(n)
		case "org":
			var n uint64
			n, err = strconv.ParseUint(v, 0, 32)
			cfg.LoadAddr, cfg.Entry = uint32(n), uint32(n)
		case "cr0":
			_, _, err = b.cr0()
		case "steps":
			_, err = b.Steps()
		default:
			err = errors.New("unknown key")
		}
		if err != nil {
			return cfg, fmt.Errorf("config %s=%s: %w", k, v, err)
		}
	}
	return cfg, nil
}

// Steps is the step budget from the config section, 0 if unset.
func (b *Bundle) Steps() (int, error) {
	v, ok := b.config["steps"]
	if !ok {
		return 0, nil
	}
	n, err := strconv.ParseUint(v, 0, 31)
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// cr0 is the CR0 override from the config section.
func (b *Bundle) cr0() (uint32, bool, error) {
	v, ok := b.config["cr0"]
	if !ok {
		return 0, false, nil
	}
	n, err := strconv.ParseUint(v, 0, 32)
	return uint32(n), true, err
}

// Run builds a machine from base plus the bundle config, loads the bundle
// into every core and runs it. Exhausting the step budget is not an error.
func (b *Bundle) Run(ctx context.Context, base MachineConfig) (*Machine, error) {
	cfg, err := b.MachineConfig(base)
	if err != nil {
		return nil, err
	}
	steps, err := b.Steps()
	if err != nil {
		return nil, fmt.Errorf("config steps: %w", err)
	}
	cr0, setCR0, err := b.cr0()
	if err != nil {
		return nil, fmt.Errorf("config cr0: %w", err)
	}
	m, err := NewMachine(cfg)
	if err != nil {
		return nil, err
	}
	if err := m.LoadProgram(b.code); err != nil {
		return nil, err
	}
	for i := range m.NumCores() {
		bus := m.Core(i).Bus()
		for _, d := range b.data {
			if err := bus.Load(d.addr, d.bytes); err != nil {
				return nil, fmt.Errorf("data@%X: %w", d.addr, err)
			}
		}
		if setCR0 {
			m.CPU(i).CR0 = cr0
		}
	}
	if err := m.RunCores(ctx, steps); err != nil && !errors.Is(err, ErrStepLimit) {
		return m, err
	}
	return m, nil
}

// extHex formats an 80-bit value the way expect lines write it.
func extHex(e ExtendedReal) string {
	lo, hi := e.Bits()
	return fmt.Sprintf("%04X%016X", hi, lo)
}

func boolDigit(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// observe returns the current value of an expect key on core i.
func (m *Machine) observe(i int, key string) (string, error) {
	r := m.Core(i)
	c := r.GetCPU()
	f := c.FPU
	if len(key) == 3 && strings.HasPrefix(key, "st") && key[2] >= '0' && key[2] <= '7' {
		return extHex(f.ST(int(key[2] - '0'))), nil
	}
	if addr, ok := strings.CutPrefix(key, "mem@"); ok {
		a, err := strconv.ParseUint(addr, 0, 32)
		if err != nil {
			return "", fmt.Errorf("bad address %q", addr)
		}
		return fmt.Sprintf("%02X", r.Bus().Read(uint32(a))), nil
	}
	switch key {
	case "fsw":
		return fmt.Sprintf("%04X", f.FSW), nil
	case "fcw":
		return fmt.Sprintf("%04X", f.FCW), nil
	case "ftw":
		return fmt.Sprintf("%04X", f.FTW), nil
	case "eax":
		return fmt.Sprintf("%08X", c.EAX), nil
	case "eip":
		return fmt.Sprintf("%08X", c.EIP), nil
	case "cr0":
		return fmt.Sprintf("%08X", c.CR0), nil
	case "irq13":
		return boolDigit(r.PIC().Requested(x86IRQFPU) || r.PIC().InService(x86IRQFPU)), nil
	case "mf":
		return boolDigit(c.LastFault == x86VecMF), nil
	case "fault":
		return strconv.Itoa(c.LastFault), nil
	case "faults":
		return strconv.Itoa(c.Faults), nil
	case "halted":
		return boolDigit(c.Halted), nil
	}
	return "", fmt.Errorf("unknown expect key %q", key)
}

// sameValue compares hex renderings without caring about case or a 0x
// prefix; fault counts compare as decimal.
func sameValue(got, want string) bool {
	norm := func(s string) string {
		s = strings.ToUpper(strings.ReplaceAll(s, "_", ""))
		return strings.TrimPrefix(s, "0X")
	}
	g, w := norm(got), norm(want)
	if g == w {
		return true
	}
	gv, err1 := strconv.ParseUint(g, 16, 64)
	wv, err2 := strconv.ParseUint(w, 16, 64)
	return err1 == nil && err2 == nil && gv == wv
}

// Check compares every expect line against every core and returns all
// mismatches joined.
func (b *Bundle) Check(m *Machine) error {
	var errs []error
	for i := range m.NumCores() {
		for _, e := range b.expect {
			got, err := m.observe(i, e.key)
			if err != nil {
				errs = append(errs, fmt.Errorf("core %d: %w", i, err))
				continue
			}
			if !sameValue(got, e.want) {
				errs = append(errs, fmt.Errorf("core %d: %s = %s, want %s", i, e.key, got, e.want))
			}
		}
	}
	return errors.Join(errs...)
}
