package service

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"sort"

	lua "github.com/yuin/gopher-lua"

	plua "github.com/dshills/cmdcenter/internal/plugin/lua"
)

// defaultExport is the wrapper table some modules return their methods in.
const defaultExport = "default"

// initFunc is the lifecycle export called once at load.
const initFunc = "init"

// luaService is a backend module running in its own sandboxed Lua state.
type luaService struct {
	pluginID string
	exec     *plua.Executor
	host     *hostAPI
	location *regexp.Regexp

	// Resolved once after init; read-only afterwards.
	methods map[string]*luaMethod
	names   []string
}

type luaMethod struct {
	svc  *luaService
	name string
	fn   *lua.LFunction
}

func (s *luaService) PluginID() string { return s.pluginID }

func (s *luaService) Methods() []string {
	out := make([]string, len(s.names))
	copy(out, s.names)
	return out
}

func (s *luaService) Method(name string) (Method, error) {
	m, ok := s.methods[name]
	if !ok {
		return nil, methodNotFound(s.pluginID, name, s.names)
	}
	return m, nil
}

func (s *luaService) Close(ctx context.Context) error {
	return s.exec.Shutdown(ctx)
}

// collectMethods records every function export. Top-level exports win over
// those under the default wrapper. init is not callable from outside.
func (s *luaService) collectMethods(exports *lua.LTable) {
	s.methods = make(map[string]*luaMethod)
	add := func(t *lua.LTable) {
		t.ForEach(func(k, v lua.LValue) {
			name, ok := k.(lua.LString)
			fn, isFn := v.(*lua.LFunction)
			if !ok || !isFn || string(name) == initFunc {
				return
			}
			if _, exists := s.methods[string(name)]; exists {
				return
			}
			s.methods[string(name)] = &luaMethod{svc: s, name: string(name), fn: fn}
		})
	}
	add(exports)
	if def, ok := exports.RawGetString(defaultExport).(*lua.LTable); ok {
		add(def)
	}

	s.names = make([]string, 0, len(s.methods))
	for name := range s.methods {
		s.names = append(s.names, name)
	}
	sort.Strings(s.names)
}

// findInit returns init from the exports or the default wrapper.
func findInit(exports *lua.LTable) (*lua.LFunction, bool) {
	if fn, ok := exports.RawGetString(initFunc).(*lua.LFunction); ok {
		return fn, true
	}
	if def, ok := exports.RawGetString(defaultExport).(*lua.LTable); ok {
		if fn, ok := def.RawGetString(initFunc).(*lua.LFunction); ok {
			return fn, true
		}
	}
	return nil, false
}

func (m *luaMethod) Name() string { return m.name }

// Call runs the method with params as its single argument. A method that
// returns nothing yields nil; several results yield a slice. Errors raised
// by the method come back as *PluginError.
func (m *luaMethod) Call(ctx context.Context, params any) (any, error) {
	var out any
	err := m.svc.exec.Do(ctx, func(st *plua.State) error {
		m.svc.host.ctx = context.WithoutCancel(ctx)
		defer func() { m.svc.host.ctx = nil }()

		results, err := st.CallFunction(m.fn, plua.ToLua(st.L, params))
		if err != nil {
			return m.svc.pluginError(m.name, err)
		}
		switch len(results) {
		case 0:
		case 1:
			out = plua.ToGo(results[0])
		default:
			list := make([]any, len(results))
			for i, r := range results {
				list[i] = plua.ToGo(r)
			}
			out = list
		}
		return nil
	})
	return out, err
}

// pluginError converts an error raised inside Lua into a PluginError that
// carries the raised message verbatim.
func (s *luaService) pluginError(method string, err error) error {
	v, ok := plua.ErrorValue(err)
	if !ok {
		return err
	}
	pe := &PluginError{PluginID: s.pluginID, Method: method}
	switch raised := v.(type) {
	case lua.LString:
		pe.Message = s.location.ReplaceAllString(string(raised), "")
	case *lua.LTable:
		pe.Value = plua.ToGo(raised)
		if msg, ok := raised.RawGetString("message").(lua.LString); ok {
			pe.Message = string(msg)
		} else {
			pe.Message = fmt.Sprintf("%s.%s failed", s.pluginID, method)
		}
	default:
		pe.Message = v.String()
		pe.Value = plua.ToGo(v)
	}
	return pe
}

// locationPattern matches the "<chunk>:12: " prefix error() adds to
// messages, where the chunk is a .lua file below the plugin root.
func locationPattern(root string) *regexp.Regexp {
	dir := regexp.QuoteMeta(filepath.Clean(root) + string(filepath.Separator))
	return regexp.MustCompile(`^` + dir + `[^:\n]*\.lua:\d+: `)
}
