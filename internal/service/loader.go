package service

import (
	"context"
	"fmt"
	"sync"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/dshills/cmdcenter/internal/failure"
	"github.com/dshills/cmdcenter/internal/plugin"
	plua "github.com/dshills/cmdcenter/internal/plugin/lua"
)

// Loader loads the backend module of each plugin that declares one.
type Loader struct {
	db        DataAccessor
	ui        UI
	logger    *zap.Logger
	stateOpts []plua.StateOption
	queueSize int
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithLogger sets the loader logger.
func WithLogger(logger *zap.Logger) LoaderOption {
	return func(l *Loader) {
		l.logger = logger
	}
}

// WithStateOptions applies opts to every module's Lua state.
func WithStateOptions(opts ...plua.StateOption) LoaderOption {
	return func(l *Loader) {
		l.stateOpts = append(l.stateOpts, opts...)
	}
}

// WithQueueSize sets how many calls each module buffers.
func WithQueueSize(n int) LoaderOption {
	return func(l *Loader) {
		l.queueSize = n
	}
}

// NewLoader creates a loader that hands db and ui to every module's init.
func NewLoader(db DataAccessor, ui UI, opts ...LoaderOption) *Loader {
	l := &Loader{db: db, ui: ui, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// LoadAll loads every service in parallel and returns the populated
// registry. A module that fails to load is logged, recorded as a
// ServiceLoadFailed failure, and left out; it never stops the others. No
// order is guaranteed between the modules' init calls.
func (l *Loader) LoadAll(ctx context.Context, descriptors []*plugin.Descriptor) *Registry {
	reg := NewRegistry()

	var wg sync.WaitGroup
	for _, d := range descriptors {
		if !d.HasService() {
			continue
		}
		wg.Add(1)
		go func(d *plugin.Descriptor) {
			defer wg.Done()
			svc, err := l.Load(ctx, d)
			if err != nil {
				l.logger.Error("service not loaded",
					zap.String("plugin", d.ID),
					zap.String("policy", failure.PolicyFor(failure.ServiceLoadFailed).String()),
					zap.Error(err))
				reg.recordFailure(d.ID, err)
				return
			}
			reg.Register(svc)
		}(d)
	}
	wg.Wait()

	l.logger.Info("services loaded", zap.Strings("plugins", reg.IDs()))
	return reg
}

// Load loads one plugin's backend module and runs its init. An init that
// raises is logged and the service is still returned, so methods that do
// not depend on it keep working.
func (l *Loader) Load(ctx context.Context, d *plugin.Descriptor) (Service, error) {
	if !d.HasService() {
		return nil, failure.New(failure.ServiceLoadFailed, "load", d.ID, "plugin declares no service")
	}

	opts := append([]plua.StateOption{plua.WithModuleRoot(d.RootPath)}, l.stateOpts...)
	st, err := plua.NewState(opts...)
	if err != nil {
		return nil, failure.Wrap(failure.ServiceLoadFailed, "load", d.ID, err)
	}

	logger := l.logger.With(zap.String("plugin", d.ID))
	svc := &luaService{
		pluginID: d.ID,
		exec:     plua.NewExecutor(st, l.queueSize),
		location: locationPattern(d.RootPath),
		host: &hostAPI{
			pluginID: d.ID,
			prefix:   d.Prefix(),
			db:       l.db,
			ui:       l.ui,
			logger:   logger,
		},
	}

	var initErr error
	err = svc.exec.Do(ctx, func(st *plua.State) error {
		svc.host.installLogging(st)

		v, err := st.Exec(d.ServiceEntry)
		if err != nil {
			return err
		}
		exports, ok := v.(*lua.LTable)
		if !ok {
			return fmt.Errorf("%s must return a table of methods, got %s", d.ServiceEntry, v.Type())
		}

		if initFn, ok := findInit(exports); ok {
			svc.host.ctx = context.WithoutCancel(ctx)
			_, initErr = st.CallFunction(initFn, svc.host.dbTable(st), svc.host.uiTable(st))
			svc.host.ctx = nil
		}
		svc.collectMethods(exports)
		return nil
	})
	if err != nil {
		_ = svc.exec.Close()
		return nil, failure.Wrap(failure.ServiceLoadFailed, "load", d.ID, err)
	}

	if initErr != nil {
		logger.Warn("service init failed", zap.Error(svc.pluginError(initFunc, initErr)))
	}
	logger.Debug("service ready", zap.Strings("methods", svc.names))
	return svc, nil
}
