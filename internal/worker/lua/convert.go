// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Blockhost Contributors

package lua

import (
	"fmt"
	"sort"

	lua "github.com/yuin/gopher-lua"
)

// toLua converts a generic value tree (as produced by blockext.Generic)
// into Lua values. Tables built from maps have their keys inserted in
// order so iteration in scripts is stable.
func toLua(L *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(val)
	case string:
		return lua.LString(val)
	case float64:
		return lua.LNumber(val)
	case int:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case []any:
		t := L.CreateTable(len(val), 0)
		for _, item := range val {
			t.Append(toLua(L, item))
		}
		return t
	case map[string]any:
		t := L.CreateTable(0, len(val))
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			t.RawSetString(k, toLua(L, val[k]))
		}
		return t
	default:
		return lua.LString(fmt.Sprint(val))
	}
}

// fromLua converts a Lua value into a generic value tree. Sequences
// become slices, other tables become maps, functions are dropped and
// empty tables become nil.
func fromLua(v lua.LValue) any {
	switch val := v.(type) {
	case *lua.LNilType:
		return nil
	case lua.LBool:
		return bool(val)
	case lua.LString:
		return string(val)
	case lua.LNumber:
		return float64(val)
	case *lua.LTable:
		return tableToGo(val)
	default:
		return nil
	}
}

func tableToGo(t *lua.LTable) any {
	n := t.Len()
	total := 0
	t.ForEach(func(_, _ lua.LValue) { total++ })
	if total == 0 {
		return nil
	}
	if n > 0 && n == total {
		out := make([]any, 0, n)
		for i := 1; i <= n; i++ {
			out = append(out, fromLua(t.RawGetInt(i)))
		}
		return out
	}
	out := make(map[string]any, total)
	t.ForEach(func(k, v lua.LValue) {
		if v.Type() == lua.LTFunction {
			return
		}
		out[k.String()] = fromLua(v)
	})
	return out
}
