// script_lua.go - Lua scripting host
//
// Scripts drive one core of a machine:
//
//	poke(addr, byte)      peek(addr)         code(addr, "D9 E8 ...")
//	step([n])             reg(name)          setreg(name, value)
//	st(i)                 fsw()              fcw()
//	cr0([value])          x87op()            mnemonic([op])
//	core(i)               reset()
//
// step returns the number of instructions run and whether the core is
// still running.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import (
	"encoding/hex"
	"fmt"
	"strings"

	lua "github.com/yuin/gopher-lua"
)

type luaHost struct {
	m    *Machine
	core int
	L    *lua.LState
}

func newLuaHost(m *Machine) *luaHost {
	h := &luaHost{m: m, L: lua.NewState()}
	for name, fn := range map[string]lua.LGFunction{
		"poke":     h.poke,
		"peek":     h.peek,
		"code":     h.code,
		"step":     h.step,
		"reg":      h.reg,
		"setreg":   h.setreg,
		"st":       h.st,
		"fsw":      h.fsw,
		"fcw":      h.fcw,
		"cr0":      h.cr0,
		"x87op":    h.x87op,
		"mnemonic": h.mnemonic,
		"core":     h.selectCore,
		"reset":    h.reset,
	} {
		h.L.SetGlobal(name, h.L.NewFunction(fn))
	}
	return h
}

func (h *luaHost) Close() {
	h.L.Close()
}

// RunString executes a chunk of Lua source.
func (h *luaHost) RunString(src string) error {
	return h.L.DoString(src)
}

// RunFile executes a Lua file.
func (h *luaHost) RunFile(path string) error {
	return h.L.DoFile(path)
}

func (h *luaHost) cpu() *CPU_X86 {
	return h.m.CPU(h.core)
}

func (h *luaHost) poke(L *lua.LState) int {
	addr := uint32(L.CheckInt64(1))
	h.m.Core(h.core).Bus().Write(addr, byte(L.CheckInt(2)))
	return 0
}

func (h *luaHost) peek(L *lua.LState) int {
	addr := uint32(L.CheckInt64(1))
	L.Push(lua.LNumber(h.m.Core(h.core).Bus().Read(addr)))
	return 1
}

func (h *luaHost) code(L *lua.LState) int {
	addr := uint32(L.CheckInt64(1))
	src := strings.Join(strings.Fields(L.CheckString(2)), "")
	data, err := hex.DecodeString(src)
	if err != nil {
		L.RaiseError("code: %v", err)
		return 0
	}
	if err := h.m.Core(h.core).Bus().Load(addr, data); err != nil {
		L.RaiseError("code: %v", err)
	}
	return 0
}

func (h *luaHost) step(L *lua.LState) int {
	n, err := h.m.Core(h.core).StepN(L.OptInt(1, 1))
	L.Push(lua.LNumber(n))
	L.Push(lua.LBool(err == nil && h.m.Core(h.core).IsRunning()))
	return 2
}

func (h *luaHost) reg(L *lua.LState) int {
	name := L.CheckString(1)
	v, ok := h.cpu().Register(name)
	if !ok {
		L.ArgError(1, fmt.Sprintf("unknown register %q", name))
		return 0
	}
	L.Push(lua.LNumber(v))
	return 1
}

func (h *luaHost) setreg(L *lua.LState) int {
	name := L.CheckString(1)
	if !h.cpu().SetRegister(name, uint32(L.CheckInt64(2))) {
		L.ArgError(1, fmt.Sprintf("unknown register %q", name))
	}
	return 0
}

func (h *luaHost) st(L *lua.LState) int {
	i := L.CheckInt(1)
	if i < 0 || i > 7 {
		L.ArgError(1, "stack index out of range")
		return 0
	}
	L.Push(lua.LNumber(h.cpu().FPU.ST(i).ToFloat64()))
	return 1
}

func (h *luaHost) fsw(L *lua.LState) int {
	L.Push(lua.LNumber(h.cpu().FPU.FSW))
	return 1
}

func (h *luaHost) fcw(L *lua.LState) int {
	L.Push(lua.LNumber(h.cpu().FPU.FCW))
	return 1
}

func (h *luaHost) cr0(L *lua.LState) int {
	c := h.cpu()
	if L.GetTop() >= 1 {
		c.CR0 = uint32(L.CheckInt64(1))
	}
	L.Push(lua.LNumber(c.CR0))
	return 1
}

func (h *luaHost) x87op(L *lua.LState) int {
	L.Push(lua.LNumber(h.cpu().X87Op()))
	return 1
}

func (h *luaHost) mnemonic(L *lua.LState) int {
	op := uint16(L.OptInt(1, int(h.cpu().X87Op())))
	L.Push(lua.LString(x87Mnemonic(op)))
	return 1
}

func (h *luaHost) selectCore(L *lua.LState) int {
	i := L.CheckInt(1)
	if i < 0 || i >= h.m.NumCores() {
		L.ArgError(1, "no such core")
		return 0
	}
	h.core = i
	return 0
}

func (h *luaHost) reset(L *lua.LState) int {
	h.m.Core(h.core).Reset()
	return 0
}
