package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/dshills/cmdcenter/internal/bridge"
	"github.com/dshills/cmdcenter/internal/failure"
	"github.com/dshills/cmdcenter/internal/hostos"
	"github.com/dshills/cmdcenter/internal/logging"
	"github.com/dshills/cmdcenter/internal/plugin"
	plua "github.com/dshills/cmdcenter/internal/plugin/lua"
	"github.com/dshills/cmdcenter/internal/sandbox"
	"github.com/dshills/cmdcenter/internal/service"
	"github.com/dshills/cmdcenter/internal/store"
)

// bootstrapper handles component initialization with proper cleanup on failure.
type bootstrapper struct {
	host      *Host
	opts      Options
	initOrder []string
}

// newBootstrapper creates a new bootstrapper for the host.
func newBootstrapper(h *Host, opts Options) *bootstrapper {
	return &bootstrapper{
		host:      h,
		opts:      opts,
		initOrder: make([]string, 0, 8),
	}
}

// bootstrap initializes all components in dependency order. Startup
// finishes before the listener opens. On failure, it cleans up
// already-initialized components.
func (b *bootstrapper) bootstrap(ctx context.Context) error {
	steps := []func(context.Context) error{
		b.initLogger,
		b.initTelemetry,
		b.initStore,
		b.initPlugins,
		b.initSchemas,
		b.initServices,
		b.initBridge,
	}
	for _, step := range steps {
		if err := step(ctx); err != nil {
			b.cleanup()
			return err
		}
	}
	b.host.Logger.Info("host ready",
		zap.Int("plugins", len(b.host.Plugins.Descriptors())),
		zap.Strings("services", b.host.Services.IDs()),
		zap.String("addr", b.host.Config.Server.Addr))
	return nil
}

// initLogger builds the root logger.
func (b *bootstrapper) initLogger(context.Context) error {
	if b.opts.Logger != nil {
		b.host.Logger = b.opts.Logger
	} else {
		cfg := b.host.Config.Log
		logger, err := logging.New(logging.Config{Level: cfg.Level, Development: cfg.Development})
		if err != nil {
			return &InitError{Component: "logger", Err: err}
		}
		b.host.Logger = logger
	}
	b.initOrder = append(b.initOrder, "logger")
	return nil
}

// initTelemetry creates the metrics registry and the tracer provider.
func (b *bootstrapper) initTelemetry(ctx context.Context) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	b.host.Metrics = reg

	tp, err := newTracerProvider(ctx, b.host.Config.Tracing, b.opts.Version)
	if err != nil {
		return &InitError{Component: "tracing", Err: err}
	}
	b.host.Tracing = tp
	b.initOrder = append(b.initOrder, "tracing")
	return nil
}

// initStore opens the database and applies host migrations.
func (b *bootstrapper) initStore(context.Context) error {
	path := b.host.Config.Store.Path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return &InitError{Component: "store", Err: err}
		}
	}
	s, err := store.Open(path)
	if err != nil {
		return &InitError{Component: "store", Err: err}
	}
	b.host.Store = s
	b.initOrder = append(b.initOrder, "store")

	if err := s.Migrate(); err != nil {
		return &InitError{Component: "store", Err: fmt.Errorf("migrate: %w", err)}
	}
	return nil
}

// initPlugins scans the plugins directory.
func (b *bootstrapper) initPlugins(ctx context.Context) error {
	b.host.Plugins = plugin.NewRegistry(b.host.Config.Plugins.Dir,
		plugin.WithLogger(b.host.Logger.Named("registry")))
	if _, err := b.host.Plugins.Load(ctx); err != nil {
		return &InitError{Component: "plugins", Err: err}
	}
	return nil
}

// initSchemas creates every plugin's tables. A provisioning failure stops
// startup.
func (b *bootstrapper) initSchemas(ctx context.Context) error {
	b.host.Provisioner = store.NewProvisioner(b.host.Store, b.host.Logger.Named("provisioner"))
	if err := b.host.Provisioner.Provision(ctx, b.host.Plugins.Schemas()); err != nil {
		if failure.PolicyFor(failure.CodeOf(err)) == failure.Fatal {
			return &InitError{Component: "schemas", Err: err}
		}
		b.host.Logger.Error("schema provisioning incomplete", zap.Error(err))
	}
	return nil
}

// initServices loads backend modules. Modules that fail are left out.
func (b *bootstrapper) initServices(ctx context.Context) error {
	desktop := b.opts.Desktop
	if desktop == nil {
		desktop = hostos.NewDesktop(hostos.WithLogger(b.host.Logger.Named("desktop")))
	}
	b.host.Desktop = desktop
	b.host.ui = newHostUI(desktop, b.host.Logger.Named("ui"))

	var stateOpts []plua.StateOption
	if n := b.host.Config.Lua.CallStackSize; n > 0 {
		stateOpts = append(stateOpts, plua.WithCallStackSize(n))
	}
	if n := b.host.Config.Lua.RegistrySize; n > 0 {
		stateOpts = append(stateOpts, plua.WithRegistrySize(n))
	}

	loader := service.NewLoader(b.host.Store, b.host.ui,
		service.WithLogger(b.host.Logger.Named("services")),
		service.WithStateOptions(stateOpts...),
	)
	b.host.Services = loader.LoadAll(ctx, b.host.Plugins.Descriptors())
	b.initOrder = append(b.initOrder, "services")
	return nil
}

// initBridge builds the policy, the bridge, its hub and the HTTP server.
func (b *bootstrapper) initBridge(context.Context) error {
	h := b.host
	h.Policy = sandbox.NewPolicy(h.Plugins, h.Config.Sandbox.BridgeScript,
		sandbox.WithLogger(h.Logger.Named("sandbox")),
		sandbox.WithServices(h.Services),
	)

	metrics := bridge.NewMetrics(h.Metrics)
	h.Bridge = bridge.New(bridge.Deps{
		Store:       h.Store,
		Plugins:     h.Plugins,
		Services:    h.Services,
		Provisioner: h.Provisioner,
		Host:        h.Desktop,
		Events:      h.ui,
	},
		bridge.WithLogger(h.Logger.Named("bridge")),
		bridge.WithMetrics(metrics),
		bridge.WithTracer(h.Tracing.Tracer("github.com/dshills/cmdcenter/internal/bridge")),
	)
	h.Hub = bridge.NewHub(h.Bridge, h.Logger.Named("hub"), metrics)
	h.ui.bind(h.Hub)
	h.Server = bridge.NewServer(h.Config.Server.Addr, h.Hub, h.Plugins, h.Policy,
		bridge.WithGatherer(h.Metrics),
		bridge.WithServerLogger(h.Logger.Named("server")),
	)
	b.initOrder = append(b.initOrder, "bridge")

	if path := h.Config.Server.TokenFile; path != "" {
		if err := writeShellToken(path, h.Server.ShellToken()); err != nil {
			return &InitError{Component: "bridge", Err: err}
		}
		h.Logger.Info("shell token written", zap.String("path", path))
	}
	return nil
}

// writeShellToken stores token where only the current user can read it.
func writeShellToken(path, token string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create token dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(token+"\n"), 0o600); err != nil {
		return fmt.Errorf("write shell token: %w", err)
	}
	// WriteFile keeps the mode of an existing file.
	return os.Chmod(path, 0o600)
}

// cleanup releases initialized components in reverse order.
func (b *bootstrapper) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	if err := b.shutdown(ctx); err != nil && b.host.Logger != nil {
		b.host.Logger.Warn("cleanup after failed start", zap.Error(err))
	}
}

// shutdown closes components in reverse initialization order.
func (b *bootstrapper) shutdown(ctx context.Context) error {
	var errs []error
	for i := len(b.initOrder) - 1; i >= 0; i-- {
		h := b.host
		switch b.initOrder[i] {
		case "bridge":
			h.Hub.Close()
			if path := h.Config.Server.TokenFile; path != "" {
				if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
					errs = append(errs, &ComponentError{Component: "bridge", Action: "remove token", Err: err})
				}
			}
		case "services":
			if err := h.Services.Close(ctx); err != nil {
				errs = append(errs, &ComponentError{Component: "services", Action: "close", Err: err})
			}
		case "store":
			if err := h.Store.Close(); err != nil {
				errs = append(errs, &ComponentError{Component: "store", Action: "close", Err: err})
			}
		case "tracing":
			if err := h.Tracing.Shutdown(ctx); err != nil {
				errs = append(errs, &ComponentError{Component: "tracing", Action: "shutdown", Err: err})
			}
		}
	}
	b.initOrder = b.initOrder[:0]
	return errors.Join(errs...)
}
