package lua

import (
	"context"
	"errors"
	"fmt"
	"sync"

	lua "github.com/yuin/gopher-lua"
)

// Default VM sizing.
const (
	DefaultCallStackSize = 256
	DefaultRegistrySize  = 1024 * 20
)

// State wraps gopher-lua with the sandbox applied.
//
// A State is not goroutine-safe. The mutex guards against accidental
// concurrent use from Go; callers that share a State across goroutines
// should go through an Executor.
type State struct {
	L *lua.LState

	mu sync.Mutex

	callStackSize int
	registrySize  int
	moduleRoot    string

	sandbox *Sandbox
	closed  bool

	// interrupt aborts whatever Lua code is running.
	interrupt context.CancelFunc
}

// StateOption configures a State.
type StateOption func(*State)

// WithCallStackSize sets the maximum Lua call depth.
func WithCallStackSize(n int) StateOption {
	return func(s *State) {
		if n > 0 {
			s.callStackSize = n
		}
	}
}

// WithRegistrySize sets the initial Lua registry size.
func WithRegistrySize(n int) StateOption {
	return func(s *State) {
		if n > 0 {
			s.registrySize = n
		}
	}
}

// WithModuleRoot lets require load .lua files below dir.
func WithModuleRoot(dir string) StateOption {
	return func(s *State) {
		s.moduleRoot = dir
	}
}

// NewState creates a new sandboxed Lua state.
func NewState(opts ...StateOption) (*State, error) {
	s := &State{
		callStackSize: DefaultCallStackSize,
		registrySize:  DefaultRegistrySize,
	}
	for _, opt := range opts {
		opt(s)
	}

	L := lua.NewState(lua.Options{
		SkipOpenLibs:        true,
		CallStackSize:       s.callStackSize,
		RegistrySize:        s.registrySize,
		IncludeGoStackTrace: false,
	})
	s.L = L

	ctx, cancel := context.WithCancel(context.Background())
	L.SetContext(ctx)
	s.interrupt = cancel

	for _, open := range []lua.LGFunction{lua.OpenBase, lua.OpenPackage, lua.OpenTable, lua.OpenString, lua.OpenMath, lua.OpenOs} {
		L.Push(L.NewFunction(open))
		if err := L.PCall(0, 0, nil); err != nil {
			cancel()
			L.Close()
			return nil, fmt.Errorf("open lua libraries: %w", err)
		}
	}

	s.sandbox = NewSandbox(L, s.moduleRoot)
	s.sandbox.Install()

	return s, nil
}

// Exec runs a Lua file and returns its first return value, or LNil.
func (s *State) Exec(path string) (ret lua.LValue, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return lua.LNil, ErrStateClosed
	}

	defer recoverInto(&err)

	fn, err := s.L.LoadFile(path)
	if err != nil {
		return lua.LNil, err
	}
	s.L.Push(fn)
	if err := s.L.PCall(0, 1, nil); err != nil {
		return lua.LNil, err
	}
	ret = s.L.Get(-1)
	s.L.Pop(1)
	return ret, nil
}

// ExecString runs a chunk of Lua source and returns its first return value.
func (s *State) ExecString(source string) (ret lua.LValue, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return lua.LNil, ErrStateClosed
	}

	defer recoverInto(&err)

	fn, err := s.L.LoadString(source)
	if err != nil {
		return lua.LNil, err
	}
	s.L.Push(fn)
	if err := s.L.PCall(0, 1, nil); err != nil {
		return lua.LNil, err
	}
	ret = s.L.Get(-1)
	s.L.Pop(1)
	return ret, nil
}

// CallFunction calls fn with args and returns every result. It returns an
// empty slice, not nil, when fn returns nothing.
func (s *State) CallFunction(fn lua.LValue, args ...lua.LValue) (results []lua.LValue, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStateClosed
	}
	if fn.Type() != lua.LTFunction {
		return nil, fmt.Errorf("not a function (got %s)", fn.Type())
	}

	defer recoverInto(&err)

	top := s.L.GetTop()
	s.L.Push(fn)
	for _, arg := range args {
		s.L.Push(arg)
	}
	if err := s.L.PCall(len(args), lua.MultRet, nil); err != nil {
		s.L.SetTop(top)
		return nil, err
	}

	n := s.L.GetTop() - top
	results = make([]lua.LValue, n)
	for i := 0; i < n; i++ {
		results[i] = s.L.Get(top + i + 1)
	}
	s.L.SetTop(top)
	return results, nil
}

// NewModule builds a table of Go functions, for handing host APIs to Lua.
func (s *State) NewModule(funcs map[string]lua.LGFunction) *lua.LTable {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.L.SetFuncs(s.L.NewTable(), funcs)
}

// SetGlobal sets a global variable.
func (s *State) SetGlobal(name string, value lua.LValue) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.L.SetGlobal(name, value)
}

// Sandbox returns the installed sandbox.
func (s *State) Sandbox() *Sandbox {
	return s.sandbox
}

// IsClosed returns true if the state has been closed.
func (s *State) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Interrupt makes the running Lua code, and any later code, fail with a
// context error. It is safe to call from any goroutine.
func (s *State) Interrupt() {
	s.interrupt()
}

// Close releases the Lua state. Later calls return ErrStateClosed.
func (s *State) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.interrupt()
	s.L.Close()
	s.closed = true
	return nil
}

// ErrorValue returns the Lua value carried by an error raised from Lua, so
// callers can report it exactly as the script raised it.
func ErrorValue(err error) (lua.LValue, bool) {
	var apiErr *lua.ApiError
	if errors.As(err, &apiErr) && apiErr.Object != nil {
		return apiErr.Object, true
	}
	return lua.LNil, false
}

func recoverInto(err *error) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("lua panic: %v", r)
	}
}
