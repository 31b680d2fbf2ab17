package config

import (
	lua "github.com/yuin/gopher-lua"
)

// Resource limits for condition VMs.
const (
	luaCallStackSize = 256
	luaRegistrySize  = 8 * 1024
)

// sandboxLuaVM strips a Lua VM down to side-effect free expression
// evaluation. The os, io and debug libraries and all code loading entry
// points are removed. string, table and math stay available.
func sandboxLuaVM(L *lua.LState) {
	for _, name := range []string{
		"os",
		"io",
		"debug",
		"require",
		"dofile",
		"loadfile",
		"load",
		"loadstring",
		"module",
		"collectgarbage",
		"rawset",
		"rawget",
		"setfenv",
		"getfenv",
	} {
		L.SetGlobal(name, lua.LNil)
	}
}

// newSandboxedVM creates a new Lua VM with sandboxing and limits applied.
func newSandboxedVM() *lua.LState {
	L := lua.NewState(lua.Options{
		CallStackSize: luaCallStackSize,
		RegistrySize:  luaRegistrySize,
	})
	sandboxLuaVM(L)
	return L
}
