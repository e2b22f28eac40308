package lua

import (
	"encoding/json"
	"math"
	"reflect"
	"sort"
	"strconv"

	lua "github.com/yuin/gopher-lua"
)

// ToGo converts a Lua value to a JSON-shaped Go value. Tables with keys
// 1..n become []any, other tables become map[string]any. Functions and
// cyclic references convert to nil.
func ToGo(lv lua.LValue) any {
	return toGo(lv, make(map[*lua.LTable]bool))
}

func toGo(lv lua.LValue, visited map[*lua.LTable]bool) any {
	switch v := lv.(type) {
	case nil, *lua.LNilType:
		return nil
	case lua.LBool:
		return bool(v)
	case lua.LNumber:
		f := float64(v)
		if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
			return int64(f)
		}
		return f
	case lua.LString:
		return string(v)
	case *lua.LTable:
		if visited[v] {
			return nil
		}
		visited[v] = true
		defer delete(visited, v)
		return tableToGo(v, visited)
	case *lua.LUserData:
		return v.Value
	default:
		return nil
	}
}

func tableToGo(t *lua.LTable, visited map[*lua.LTable]bool) any {
	n := t.Len()
	count := 0
	t.ForEach(func(_, _ lua.LValue) { count++ })

	if n > 0 && count == n {
		arr := make([]any, n)
		for i := 1; i <= n; i++ {
			arr[i-1] = toGo(t.RawGetInt(i), visited)
		}
		return arr
	}

	m := make(map[string]any, count)
	t.ForEach(func(k, v lua.LValue) {
		var key string
		switch kv := k.(type) {
		case lua.LString:
			key = string(kv)
		case lua.LNumber:
			key = strconv.FormatFloat(float64(kv), 'f', -1, 64)
		default:
			key = k.String()
		}
		m[key] = toGo(v, visited)
	})
	return m
}

// ToLua converts a Go value to a Lua value in L.
func ToLua(L *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case lua.LValue:
		return val
	case bool:
		return lua.LBool(val)
	case int:
		return lua.LNumber(val)
	case int32:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case uint32:
		return lua.LNumber(val)
	case uint64:
		return lua.LNumber(val)
	case float32:
		return lua.LNumber(val)
	case float64:
		return lua.LNumber(val)
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return lua.LString(val)
		}
		return lua.LNumber(f)
	case string:
		return lua.LString(val)
	case []byte:
		return lua.LString(val)
	case []any:
		t := L.CreateTable(len(val), 0)
		for i, e := range val {
			t.RawSetInt(i+1, ToLua(L, e))
		}
		return t
	case map[string]any:
		t := L.CreateTable(0, len(val))
		for k, e := range val {
			t.RawSetString(k, ToLua(L, e))
		}
		return t
	default:
		return reflectToLua(L, reflect.ValueOf(v))
	}
}

func reflectToLua(L *lua.LState, rv reflect.Value) lua.LValue {
	if !rv.IsValid() {
		return lua.LNil
	}

	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return lua.LNil
		}
		return ToLua(L, rv.Elem().Interface())

	case reflect.Bool:
		return lua.LBool(rv.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return lua.LNumber(rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return lua.LNumber(rv.Uint())
	case reflect.Float32, reflect.Float64:
		return lua.LNumber(rv.Float())
	case reflect.String:
		return lua.LString(rv.String())

	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return L.NewTable()
		}
		t := L.CreateTable(rv.Len(), 0)
		for i := 0; i < rv.Len(); i++ {
			t.RawSetInt(i+1, ToLua(L, rv.Index(i).Interface()))
		}
		return t

	case reflect.Map:
		t := L.CreateTable(0, rv.Len())
		keys := rv.MapKeys()
		sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
		for _, key := range keys {
			t.RawSet(ToLua(L, key.Interface()), ToLua(L, rv.MapIndex(key).Interface()))
		}
		return t

	case reflect.Struct:
		// Round-trip through JSON so struct tags decide field names.
		data, err := json.Marshal(rv.Interface())
		if err != nil {
			return lua.LNil
		}
		var generic any
		if err := json.Unmarshal(data, &generic); err != nil {
			return lua.LNil
		}
		return ToLua(L, generic)

	default:
		ud := L.NewUserData()
		ud.Value = rv.Interface()
		return ud
	}
}
