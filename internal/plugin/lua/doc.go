// Package lua runs plugin backend modules in sandboxed gopher-lua states.
//
// A State opens only the base, table, string, math and package libraries,
// plus a time-only subset of os. Functions that load code from arbitrary
// places (dofile, loadfile, load, loadstring) are removed, and require
// resolves only built-in libraries and files below the module root the
// State was created with:
//
//	st, err := lua.NewState(lua.WithModuleRoot("/plugins/notes-plugin"))
//	if err != nil {
//	    return err
//	}
//	exports, err := st.Exec("/plugins/notes-plugin/service.lua")
//
// gopher-lua states are not goroutine-safe. An Executor owns one State and
// runs every operation on it from a single goroutine:
//
//	exec := lua.NewExecutor(st, 0)
//	defer exec.Close()
//	err := exec.Do(ctx, func(st *lua.State) error {
//	    _, err := st.CallFunction(fn, lua.ToLua(st.L, params))
//	    return err
//	})
//
// ToGo and ToLua convert between Lua values and the JSON-shaped Go values
// used on the capability bridge.
package lua
