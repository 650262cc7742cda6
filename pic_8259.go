// pic_8259.go - cascaded Intel 8259A interrupt controllers
//
// Master at ports 20h/21h with vectors 08h-0Fh, slave at A0h/A1h with
// vectors 70h-77h cascaded on master IRQ2, as in a PC/AT. Requests are
// edge-latched; EOI is non-specific. The coprocessor error line is IRQ13,
// which the AT wires through the slave and clears with a write to port F0h.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import "sync"

const (
	picMasterCmd  = 0x20
	picMasterData = 0x21
	picSlaveCmd   = 0xA0
	picSlaveData  = 0xA1
	picFPUClear   = 0xF0

	picCascadeLine = 2
	picEOI         = 0x20
)

type pic8259 struct {
	irr, imr, isr byte
	base          byte
	icw           int // next initialization word expected on the data port, 0 when done
	needICW4      bool
	readISR       bool
}

func (p *pic8259) highest(bits byte) int {
	for i := range 8 {
		if bits&(1<<i) != 0 {
			return i
		}
	}
	return -1
}

// request returns the line this chip would present, honouring IMR and the
// priority of whatever is already in service.
func (p *pic8259) request() int {
	line := p.highest(p.irr &^ p.imr)
	if line < 0 {
		return -1
	}
	if svc := p.highest(p.isr); svc >= 0 && svc <= line {
		return -1
	}
	return line
}

func (p *pic8259) command(v byte) {
	switch {
	case v&0x10 != 0: // ICW1
		p.imr = 0
		p.isr = 0
		p.irr = 0
		p.needICW4 = v&0x01 != 0
		p.icw = 2
	case v&0x18 == 0x08: // OCW3
		if v&0x02 != 0 {
			p.readISR = v&0x01 != 0
		}
	case v&0xE0 == picEOI: // non-specific EOI
		if line := p.highest(p.isr); line >= 0 {
			p.isr &^= 1 << line
		}
	}
}

func (p *pic8259) data(v byte) {
	switch p.icw {
	case 0:
		p.imr = v
	case 2:
		p.base = v &^ 7
		p.icw = 3
	case 3:
		p.icw = 0
		if p.needICW4 {
			p.icw = 4
		}
	case 4:
		p.icw = 0
	}
}

// PIC8259 is the AT interrupt controller pair. It is safe for concurrent
// use: lines may be raised from another goroutine while the core runs.
type PIC8259 struct {
	mu            sync.Mutex
	master, slave pic8259
}

func NewPIC8259() *PIC8259 {
	p := &PIC8259{}
	p.Reset()
	return p
}

// Reset programs the BIOS defaults with every line unmasked.
func (p *PIC8259) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.master = pic8259{base: 0x08}
	p.slave = pic8259{base: 0x70}
}

// Raise latches a request on line 0-15.
func (p *PIC8259) Raise(line int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if line >= 8 {
		p.slave.irr |= 1 << uint(line-8)
	} else {
		p.master.irr |= 1 << uint(line)
	}
}

// Lower withdraws a request that has not been acknowledged yet.
func (p *PIC8259) Lower(line int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if line >= 8 {
		p.slave.irr &^= 1 << uint(line-8)
	} else {
		p.master.irr &^= 1 << uint(line)
	}
}

func (p *PIC8259) cascade() {
	if p.slave.request() >= 0 {
		p.master.irr |= 1 << picCascadeLine
	} else {
		p.master.irr &^= 1 << picCascadeLine
	}
}

// Pending reports whether an unmasked request would interrupt the CPU.
func (p *PIC8259) Pending() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cascade()
	return p.master.request() >= 0
}

// Acknowledge performs the INTA cycle and returns the vector.
func (p *PIC8259) Acknowledge() (byte, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cascade()
	line := p.master.request()
	if line < 0 {
		return 0, false
	}
	p.master.isr |= 1 << line
	if line != picCascadeLine {
		p.master.irr &^= 1 << line
		return p.master.base + byte(line), true
	}
	s := p.slave.request()
	p.slave.isr |= 1 << s
	p.slave.irr &^= 1 << s
	p.cascade()
	return p.slave.base + byte(s), true
}

// InService reports whether line 0-15 is being serviced.
func (p *PIC8259) InService(line int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if line >= 8 {
		return p.slave.isr&(1<<uint(line-8)) != 0
	}
	return p.master.isr&(1<<uint(line)) != 0
}

// Requested reports a latched, unacknowledged request on line 0-15.
func (p *PIC8259) Requested(line int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if line >= 8 {
		return p.slave.irr&(1<<uint(line-8)) != 0
	}
	return p.master.irr&(1<<uint(line)) != 0
}

// Handles reports whether port belongs to the controller pair.
func (p *PIC8259) Handles(port uint16) bool {
	switch port {
	case picMasterCmd, picMasterData, picSlaveCmd, picSlaveData, picFPUClear:
		return true
	}
	return false
}

func (p *PIC8259) In(port uint16) byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	chip := &p.master
	if port == picSlaveCmd || port == picSlaveData {
		chip = &p.slave
	}
	switch port {
	case picMasterCmd, picSlaveCmd:
		if chip.readISR {
			return chip.isr
		}
		return chip.irr
	case picMasterData, picSlaveData:
		return chip.imr
	}
	return 0xFF
}

func (p *PIC8259) Out(port uint16, v byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch port {
	case picMasterCmd:
		p.master.command(v)
	case picMasterData:
		p.master.data(v)
	case picSlaveCmd:
		p.slave.command(v)
	case picSlaveData:
		p.slave.data(v)
	case picFPUClear:
		p.slave.irr &^= 1 << (x86IRQFPU - 8)
	}
}
