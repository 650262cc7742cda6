package main

import (
	"testing"
)

// ─── helpers ────────────────────────────────────────────────────────────────

// benchX87Loop runs body on a fresh 387 core with the code pointer reset
// before every iteration.
func benchX87Loop(b *testing.B, setup func(cpu *CPU_X86, bus *TestX86Bus), steps int, code ...byte) {
	cpu, bus, _ := newTestX86(x87Model387)
	writeCode(bus, testCodeAddr, code...)
	if setup != nil {
		setup(cpu, bus)
	}
	b.ResetTimer()
	for range b.N {
		cpu.EIP = testCodeAddr
		cpu.FPU.Reset()
		for range steps {
			cpu.Step()
		}
	}
}

// ─── Isolated FPU operations ────────────────────────────────────────────────

func BenchmarkX87_PushPop(b *testing.B) {
	f := NewFPU_X87()
	v := ext(3.14)
	for range b.N {
		f.push(v)
		f.pop()
	}
}

func BenchmarkX87_ClassifyTag(b *testing.B) {
	vals := []ExtendedReal{ext(1.5), x87PosZero, x87Indefinite, {Mant: 1}}
	var sink uint16
	for i := range b.N {
		sink += x87ClassifyTag(vals[i&3])
	}
	_ = sink
}

func BenchmarkX87_ArithAdd(b *testing.B) {
	f := NewFPU_X87()
	a, c := ext(1.25), ext(3.0/7.0)
	for range b.N {
		f.arith(x87OpAdd, a, c)
	}
}

func BenchmarkX87_ArithDiv(b *testing.B) {
	f := NewFPU_X87()
	a, c := ext(1), ext(3)
	for range b.N {
		f.arith(x87OpDiv, a, c)
	}
}

func BenchmarkX87_Compare(b *testing.B) {
	f := NewFPU_X87()
	a, c := ext(1), ext(2)
	for range b.N {
		f.compare(a, c, false)
	}
}

func BenchmarkX87_Sqrt(b *testing.B) {
	f := NewFPU_X87()
	a := ext(2)
	for range b.N {
		f.sqrt(a)
	}
}

func BenchmarkX87_Sin(b *testing.B) {
	f := NewFPU_X87()
	a := ext(0.5)
	for range b.N {
		f.sin(a)
	}
}

// ─── Through the escape decoder ─────────────────────────────────────────────

func BenchmarkX87_FLD1_FADDP(b *testing.B) {
	benchX87Loop(b, nil, 3,
		0xD9, 0xE8, // FLD1
		0xD9, 0xEB, // FLDPI
		0xDE, 0xC1, // FADDP
	)
}

func BenchmarkX87_FLD_FMUL_FSTP_m64(b *testing.B) {
	benchX87Loop(b, func(_ *CPU_X86, bus *TestX86Bus) {
		putFloat64(bus, 0x3000, 1.5)
		putFloat64(bus, 0x3008, 2.5)
	}, 3,
		0xDD, 0x06, 0x00, 0x30, // FLD QWORD [3000h]
		0xDC, 0x0E, 0x08, 0x30, // FMUL QWORD [3008h]
		0xDD, 0x1E, 0x10, 0x30, // FSTP QWORD [3010h]
	)
}

func BenchmarkX87_FSIN(b *testing.B) {
	benchX87Loop(b, nil, 2,
		0xD9, 0xE8, // FLD1
		0xD9, 0xFE, // FSIN
	)
}

func BenchmarkX87_FCOMPP_FNSTSW(b *testing.B) {
	benchX87Loop(b, nil, 4,
		0xD9, 0xE8, // FLD1
		0xD9, 0xEE, // FLDZ
		0xDE, 0xD9, // FCOMPP
		0xDF, 0xE0, // FNSTSW AX
	)
}

func BenchmarkX87_WAIT(b *testing.B) {
	benchX87Loop(b, nil, 1, 0x9B)
}

func BenchmarkX87_EscapeTrapNM(b *testing.B) {
	benchX87Loop(b, func(cpu *CPU_X86, bus *TestX86Bus) {
		cpu.CR0 |= x86CR0_EM
		setVector(bus, x86VecNM, 0x2000)
		writeCode(bus, 0x2000, 0xCF) // IRET
	}, 2, 0xD9, 0xE8)
}
