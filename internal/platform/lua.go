package platform

import (
	lua "github.com/yuin/gopher-lua"
)

// GlobalName is the Lua global the platform table is bound to.
const GlobalName = "platform"

// Inject binds a read-only platform table to the "platform" global of L.
// It must run before any manifest expression is evaluated.
func Inject(L *lua.LState, info *Info) {
	L.SetGlobal(GlobalName, Table(L, info))
}

// Table builds the read-only Lua view of info.
func Table(L *lua.LState, info *Info) *lua.LTable {
	t := L.NewTable()

	fields := map[string]string{
		"os":       info.OS,
		"arch":     info.Arch,
		"arch_raw": info.ArchRaw,
		"distro":   info.Distro,
		"family":   info.Family,
		"version":  info.Version,
		"kernel":   info.Kernel,
	}
	for k, v := range fields {
		if v == "" {
			continue
		}
		L.SetField(t, k, lua.LString(v))
	}

	L.SetField(t, "is_linux", lua.LBool(info.IsLinux()))
	L.SetField(t, "is_macos", lua.LBool(info.IsMacOS()))
	L.SetField(t, "is_windows", lua.LBool(info.IsWindows()))

	// matches(os [, arch]) compares against the detected values
	L.SetField(t, "matches", L.NewFunction(func(L *lua.LState) int {
		os := L.CheckString(1)
		arch := L.OptString(2, "")
		ok := os == info.OS && (arch == "" || arch == info.Arch)
		L.Push(lua.LBool(ok))
		return 1
	}))

	return readOnly(L, t)
}

// readOnly wraps table in a proxy whose metatable rejects writes.
func readOnly(L *lua.LState, table *lua.LTable) *lua.LTable {
	mt := L.NewTable()
	L.SetField(mt, "__index", table)
	L.SetField(mt, "__newindex", L.NewFunction(func(L *lua.LState) int {
		L.RaiseError("platform table is read-only")
		return 0
	}))
	L.SetField(mt, "__metatable", lua.LString("protected"))

	proxy := L.NewTable()
	L.SetMetatable(proxy, mt)
	return proxy
}
