// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Blockhost Contributors

package lua

import (
	"fmt"

	lua "github.com/yuin/gopher-lua"
)

// safeLibrary is a Lua library that may be opened in a sandboxed state.
type safeLibrary struct {
	name string
	fn   lua.LGFunction
}

// defaultSafeLibraries opens base, table, string and math. os, io, debug
// and package stay closed.
func defaultSafeLibraries() []safeLibrary {
	return []safeLibrary{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	}
}

// unsafeBaseFunctions reach the filesystem or compile arbitrary chunks.
var unsafeBaseFunctions = []string{"dofile", "loadfile", "loadstring", "load"}

// StateFactory creates sandboxed Lua states.
type StateFactory struct {
	libraries []safeLibrary
}

// NewStateFactory creates a factory opening the safe libraries.
func NewStateFactory() *StateFactory {
	return &StateFactory{libraries: defaultSafeLibraries()}
}

// NewState creates a fresh sandboxed state.
func (f *StateFactory) NewState() (*lua.LState, error) {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})

	for _, lib := range f.libraries {
		if err := L.CallByParam(lua.P{
			Fn:      L.NewFunction(lib.fn),
			NRet:    0,
			Protect: true,
		}, lua.LString(lib.name)); err != nil {
			L.Close()
			return nil, fmt.Errorf("failed to open library %s: %w", lib.name, err)
		}
	}

	for _, fn := range unsafeBaseFunctions {
		L.SetGlobal(fn, lua.LNil)
	}
	return L, nil
}
