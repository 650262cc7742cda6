// trace.go - escape dispatch trace
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import "log"

// x87Tracer logs one line per escape dispatch, before the leaf runs.
type x87Tracer struct {
	log  *log.Logger
	core int
}

func newX87Tracer(l *log.Logger, core int) *x87Tracer {
	return &x87Tracer{log: l, core: core}
}

func (t *x87Tracer) escape(c *CPU_X86) {
	f := c.FPU
	t.log.Printf("cpu%d %08X %03X %-22s TOP=%d FSW=%04X",
		t.core, c.instrStart, c.x87Op, x87Mnemonic(c.x87Op), f.top(), f.FSW)
}

// SetTracer enables escape tracing on this core; nil disables it.
func (c *CPU_X86) SetTracer(t *x87Tracer) {
	c.tracer = t
}
