package service

import (
	"context"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	plua "github.com/dshills/cmdcenter/internal/plugin/lua"
	"github.com/dshills/cmdcenter/internal/store"
)

// DataAccessor is the store surface handed to backend modules. Backend
// modules are trusted, so statements are not scope-checked.
type DataAccessor interface {
	Run(ctx context.Context, query string, args ...any) (store.Result, error)
	All(ctx context.Context, query string, args ...any) ([]store.Row, error)
	Get(ctx context.Context, query string, args ...any) (store.Row, error)
	PluginSetting(ctx context.Context, prefix, key string) (string, error)
	SetPluginSetting(ctx context.Context, prefix, key, value string) error
}

// UI lets backend modules reach the user and the plugin's surfaces.
type UI interface {
	// Notify shows a system notification.
	Notify(title, body string) error
	// Send delivers an event to the plugin's connected surfaces.
	Send(pluginID, channel string, payload any) error
}

// hostAPI builds the tables passed to a module's init(db, ui).
type hostAPI struct {
	pluginID string
	prefix   string
	db       DataAccessor
	ui       UI
	logger   *zap.Logger

	// ctx is the context of the call currently running on the module's
	// executor. It is only read and written on that goroutine.
	ctx context.Context
}

func (h *hostAPI) callCtx() context.Context {
	if h.ctx == nil {
		return context.Background()
	}
	return h.ctx
}

func (h *hostAPI) dbTable(st *plua.State) *lua.LTable {
	t := st.NewModule(map[string]lua.LGFunction{
		"run": func(L *lua.LState) int {
			query, args := statementArgs(L)
			res, err := h.db.Run(h.callCtx(), query, args...)
			if err != nil {
				L.RaiseError("%s", err.Error())
			}
			L.Push(plua.ToLua(L, res))
			return 1
		},
		"all": func(L *lua.LState) int {
			query, args := statementArgs(L)
			rows, err := h.db.All(h.callCtx(), query, args...)
			if err != nil {
				L.RaiseError("%s", err.Error())
			}
			L.Push(plua.ToLua(L, rows))
			return 1
		},
		"get": func(L *lua.LState) int {
			query, args := statementArgs(L)
			row, err := h.db.Get(h.callCtx(), query, args...)
			if err != nil {
				L.RaiseError("%s", err.Error())
			}
			if row == nil {
				L.Push(lua.LNil)
				return 1
			}
			L.Push(plua.ToLua(L, row))
			return 1
		},
		"table": func(L *lua.LState) int {
			name := L.CheckString(1)
			if !store.ValidIdentifier(name) {
				L.ArgError(1, "invalid table name")
			}
			L.Push(lua.LString(store.TableName(h.prefix, name)))
			return 1
		},
		"getSetting": func(L *lua.LState) int {
			v, err := h.db.PluginSetting(h.callCtx(), h.prefix, L.CheckString(1))
			if err != nil {
				L.RaiseError("%s", err.Error())
			}
			L.Push(lua.LString(v))
			return 1
		},
		"setSetting": func(L *lua.LState) int {
			err := h.db.SetPluginSetting(h.callCtx(), h.prefix, L.CheckString(1), L.CheckString(2))
			if err != nil {
				L.RaiseError("%s", err.Error())
			}
			return 0
		},
	})
	t.RawSetString("prefix", lua.LString(store.TablePrefix(h.prefix)))
	return t
}

func (h *hostAPI) uiTable(st *plua.State) *lua.LTable {
	return st.NewModule(map[string]lua.LGFunction{
		"notify": func(L *lua.LState) int {
			if err := h.ui.Notify(L.CheckString(1), L.OptString(2, "")); err != nil {
				h.logger.Warn("notification failed", zap.Error(err))
			}
			return 0
		},
		"send": func(L *lua.LState) int {
			channel := L.CheckString(1)
			payload := plua.ToGo(L.Get(2))
			if err := h.ui.Send(h.pluginID, channel, payload); err != nil {
				L.RaiseError("%s", err.Error())
			}
			return 0
		},
	})
}

// installLogging routes print and log.* to the host logger.
func (h *hostAPI) installLogging(st *plua.State) {
	logger := h.logger
	line := func(L *lua.LState, from int) string {
		var s string
		for i := from; i <= L.GetTop(); i++ {
			if i > from {
				s += "\t"
			}
			s += L.ToStringMeta(L.Get(i)).String()
		}
		return s
	}
	st.SetGlobal("print", st.L.NewFunction(func(L *lua.LState) int {
		logger.Info(line(L, 1))
		return 0
	}))
	st.SetGlobal("log", st.NewModule(map[string]lua.LGFunction{
		"debug": func(L *lua.LState) int { logger.Debug(line(L, 1)); return 0 },
		"info":  func(L *lua.LState) int { logger.Info(line(L, 1)); return 0 },
		"warn":  func(L *lua.LState) int { logger.Warn(line(L, 1)); return 0 },
		"error": func(L *lua.LState) int { logger.Error(line(L, 1)); return 0 },
	}))
}

// statementArgs reads (sql, p1, p2, ...) or (sql, {p1, p2, ...}).
func statementArgs(L *lua.LState) (string, []any) {
	query := L.CheckString(1)
	top := L.GetTop()
	if top == 2 {
		if t, ok := L.Get(2).(*lua.LTable); ok {
			if list, ok := plua.ToGo(t).([]any); ok {
				return query, list
			}
			if t.Len() == 0 {
				return query, nil
			}
		}
	}
	args := make([]any, 0, top-1)
	for i := 2; i <= top; i++ {
		args = append(args, plua.ToGo(L.Get(i)))
	}
	return query, args
}
