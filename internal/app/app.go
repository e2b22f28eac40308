// Package app wires the host components together and runs them.
//
// New builds a Host in dependency order: logger, tracing, store and global
// migrations, plugin registry, schema provisioning, service loading, and
// finally the bridge and its HTTP server. Everything the components share is
// held by the Host and passed explicitly; there is no package-level state.
package app

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/cmdcenter/internal/bridge"
	"github.com/dshills/cmdcenter/internal/config"
	"github.com/dshills/cmdcenter/internal/hostos"
	"github.com/dshills/cmdcenter/internal/plugin"
	"github.com/dshills/cmdcenter/internal/sandbox"
	"github.com/dshills/cmdcenter/internal/service"
	"github.com/dshills/cmdcenter/internal/store"
)

const cleanupTimeout = 5 * time.Second

// Host is the running command center: every component, built once.
type Host struct {
	Config config.Config
	Logger *zap.Logger

	Store       *store.Store
	Plugins     *plugin.Registry
	Provisioner *store.Provisioner
	Services    *service.Registry
	Desktop     hostos.Host
	Policy      *sandbox.Policy
	Bridge      *bridge.Bridge
	Hub         *bridge.Hub
	Server      *bridge.Server

	Metrics *prometheus.Registry
	Tracing *sdktrace.TracerProvider

	ui        *hostUI
	running   atomic.Bool
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
	cleanup   func(context.Context) error
}

// Options overrides components, mainly for tests.
type Options struct {
	// Logger replaces the logger built from the config.
	Logger *zap.Logger

	// Desktop replaces the native host facilities.
	Desktop hostos.Host

	// Version is reported by tracing resources.
	Version string
}

// New builds a host from cfg. On failure every component already started
// is closed again.
func New(ctx context.Context, cfg config.Config, opts Options) (*Host, error) {
	h := &Host{Config: cfg}
	b := newBootstrapper(h, opts)
	if err := b.bootstrap(ctx); err != nil {
		return nil, err
	}
	h.cleanup = b.shutdown
	return h, nil
}

// Run serves the bridge and, when configured, watches the plugins
// directory. It returns when ctx is cancelled or the server fails.
func (h *Host) Run(ctx context.Context) error {
	if h.closed.Load() {
		return ErrClosed
	}
	if !h.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer h.running.Store(false)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := h.Server.Run(ctx); err != nil {
			return &ComponentError{Component: "server", Action: "serve", Err: err}
		}
		return nil
	})

	if h.Config.Plugins.Watch {
		w, err := plugin.NewWatcher(h.Plugins,
			plugin.OnReload(h.onPluginsReloaded),
		)
		if err != nil {
			h.Logger.Warn("plugin watcher unavailable", zap.Error(err))
		} else {
			g.Go(func() error {
				if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					return &ComponentError{Component: "watcher", Action: "run", Err: err}
				}
				return nil
			})
		}
	}

	return g.Wait()
}

// onPluginsReloaded provisions tables for plugins that appeared. Service
// modules are loaded once at startup and are not reloaded.
func (h *Host) onPluginsReloaded(ds []*plugin.Descriptor) {
	ctx := context.Background()
	for _, d := range ds {
		if err := h.Provisioner.ProvisionOne(ctx, d.Schema()); err != nil {
			h.Logger.Error("provisioning reloaded plugin failed", zap.String("plugin", d.ID), zap.Error(err))
		}
		if d.HasService() && !h.Services.Has(d.ID) && h.Services.Failure(d.ID) == nil {
			h.Logger.Info("new service module is loaded on next start", zap.String("plugin", d.ID))
		}
	}
}

// Close stops every component in reverse start order.
func (h *Host) Close() error {
	h.closeOnce.Do(func() {
		h.closed.Store(true)
		ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
		defer cancel()
		if h.cleanup != nil {
			h.closeErr = h.cleanup(ctx)
		}
		_ = h.Logger.Sync()
	})
	return h.closeErr
}
