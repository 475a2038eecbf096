package lua

import (
	"strings"

	lua "github.com/yuin/gopher-lua"
)

// GoToLua converts a decoded JSON value to Lua.
func GoToLua(L *lua.LState, val any) lua.LValue {
	switch v := val.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(v)
	case float64:
		return lua.LNumber(v)
	case int:
		return lua.LNumber(float64(v))
	case int64:
		return lua.LNumber(float64(v))
	case string:
		return lua.LString(v)
	case []any:
		tbl := L.NewTable()
		for i, item := range v {
			L.RawSetInt(tbl, i+1, GoToLua(L, item))
		}
		return tbl
	case map[string]any:
		tbl := L.NewTable()
		for k, item := range v {
			L.SetField(tbl, k, GoToLua(L, item))
		}
		return tbl
	}
	return lua.LNil
}

// LuaToGo converts a Lua value to its JSON shape. Tables with only numeric
// keys become arrays; an empty table becomes an empty array. Keys starting
// with "_" are private to the script and dropped.
func LuaToGo(val lua.LValue) any {
	switch v := val.(type) {
	case lua.LBool:
		return bool(v)
	case lua.LNumber:
		return float64(v)
	case lua.LString:
		return string(v)
	case *lua.LTable:
		hasNumericKeys := false
		hasStringKeys := false
		maxN := 0
		v.ForEach(func(key, _ lua.LValue) {
			if n, ok := key.(lua.LNumber); ok {
				hasNumericKeys = true
				if int(n) > maxN {
					maxN = int(n)
				}
			} else if ks, ok := key.(lua.LString); ok && !strings.HasPrefix(string(ks), "_") {
				hasStringKeys = true
			}
		})

		if !hasStringKeys && (hasNumericKeys || v.Len() == 0) {
			arr := make([]any, maxN)
			for i := 1; i <= maxN; i++ {
				arr[i-1] = LuaToGo(v.RawGetInt(i))
			}
			return arr
		}

		m := make(map[string]any)
		v.ForEach(func(key, value lua.LValue) {
			if ks, ok := key.(lua.LString); ok && !strings.HasPrefix(string(ks), "_") {
				m[string(ks)] = LuaToGo(value)
			}
		})
		return m
	}
	return nil
}
