package lua

import (
	"os"
	"path/filepath"
	"strings"

	lua "github.com/yuin/gopher-lua"
)

// removedGlobals load code from outside the sandbox's control.
var removedGlobals = []string{"dofile", "loadfile", "load", "loadstring", "module"}

// builtinModules may always be required.
var builtinModules = map[string]bool{
	"string": true,
	"table":  true,
	"math":   true,
	"os":     true,
}

// safeOS is the part of os that only reads the clock.
var safeOS = []string{"time", "date", "clock", "difftime"}

// Sandbox restricts what Lua code in a State can reach.
type Sandbox struct {
	L    *lua.LState
	root string

	loaded map[string]lua.LValue
}

// NewSandbox creates a sandbox for L. When root is non-empty, require may
// load "a.b" from root/a/b.lua or root/a/b/init.lua.
func NewSandbox(L *lua.LState, root string) *Sandbox {
	if root != "" {
		if abs, err := filepath.Abs(root); err == nil {
			root = abs
		}
	}
	return &Sandbox{L: L, root: root, loaded: make(map[string]lua.LValue)}
}

// Root returns the module root, or "".
func (s *Sandbox) Root() string { return s.root }

// Install applies the restrictions.
func (s *Sandbox) Install() {
	for _, name := range removedGlobals {
		s.L.SetGlobal(name, lua.LNil)
	}
	s.restrictOS()
	s.restrictPackage()
	s.L.SetGlobal("require", s.L.NewFunction(s.require))
}

func (s *Sandbox) restrictOS() {
	full, ok := s.L.GetGlobal("os").(*lua.LTable)
	if !ok {
		return
	}
	restricted := s.L.NewTable()
	for _, name := range safeOS {
		restricted.RawSetString(name, full.RawGetString(name))
	}
	s.L.SetGlobal("os", restricted)
	if loaded, ok := s.L.GetField(s.L.Get(lua.RegistryIndex), "_LOADED").(*lua.LTable); ok {
		loaded.RawSetString("os", restricted)
	}
}

// restrictPackage removes the search paths and the loader list so nothing
// reaches disk except through require below.
func (s *Sandbox) restrictPackage() {
	pkg, ok := s.L.GetGlobal("package").(*lua.LTable)
	if !ok {
		return
	}
	pkg.RawSetString("path", lua.LString(""))
	pkg.RawSetString("cpath", lua.LString(""))
	pkg.RawSetString("loaders", s.L.NewTable())
	pkg.RawSetString("loadlib", lua.LNil)
	pkg.RawSetString("seeall", lua.LNil)
}

func (s *Sandbox) require(L *lua.LState) int {
	name := L.CheckString(1)

	if builtinModules[name] {
		L.Push(L.GetGlobal(name))
		return 1
	}
	if v, ok := s.loaded[name]; ok {
		if v == lua.LFalse {
			L.RaiseError("module %q: circular require", name)
		}
		L.Push(v)
		return 1
	}

	path, ok := s.resolve(name)
	if !ok {
		L.RaiseError("module %q: %s", name, ErrModuleNotAllowed.Error())
	}

	fn, err := L.LoadFile(path)
	if err != nil {
		L.RaiseError("module %q: %s", name, err.Error())
	}

	s.loaded[name] = lua.LFalse
	L.Push(fn)
	L.Push(lua.LString(name))
	if err := L.PCall(1, 1, nil); err != nil {
		delete(s.loaded, name)
		L.RaiseError("module %q: %s", name, err.Error())
	}
	v := L.Get(-1)
	L.Pop(1)
	if v == lua.LNil {
		v = lua.LTrue
	}
	s.loaded[name] = v
	L.Push(v)
	return 1
}

// resolve maps a dotted module name to a file inside the root.
func (s *Sandbox) resolve(name string) (string, bool) {
	if s.root == "" || name == "" {
		return "", false
	}
	for _, part := range strings.Split(name, ".") {
		if part == "" || part == ".." || strings.ContainsAny(part, `/\`) {
			return "", false
		}
	}
	base := filepath.Join(s.root, filepath.FromSlash(strings.ReplaceAll(name, ".", "/")))
	for _, candidate := range []string{base + ".lua", filepath.Join(base, "init.lua")} {
		if !inside(s.root, candidate) {
			continue
		}
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, true
		}
	}
	return "", false
}

func inside(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
