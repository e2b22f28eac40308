// Package service loads plugin backend modules and exposes their exported
// methods through a typed registry keyed by plugin id.
package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/agnivade/levenshtein"

	"github.com/dshills/cmdcenter/internal/failure"
)

// Method is one callable export of a service.
type Method interface {
	Name() string
	Call(ctx context.Context, params any) (any, error)
}

// Service is a loaded backend module.
type Service interface {
	PluginID() string
	// Methods returns the exported method names, sorted.
	Methods() []string
	// Method resolves a name to a callable, or fails with MethodNotFound.
	Method(name string) (Method, error)
	// Close stops the module, interrupting a running call. It gives up
	// when ctx ends.
	Close(ctx context.Context) error
}

// PluginError is an error raised by plugin code. Message is exactly what
// the plugin raised so its UI can show it as is.
type PluginError struct {
	PluginID string
	Method   string
	Message  string
	Value    any // Raised value when it was not a plain string
}

func (e *PluginError) Error() string { return e.Message }

// Registry maps plugin ids to loaded services.
type Registry struct {
	mu       sync.RWMutex
	services map[string]Service
	failures map[string]error
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		services: make(map[string]Service),
		failures: make(map[string]error),
	}
}

// Register adds or replaces the service of a plugin.
func (r *Registry) Register(s Service) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.services[s.PluginID()] = s
	delete(r.failures, s.PluginID())
}

// recordFailure notes that a plugin's service could not be loaded.
func (r *Registry) recordFailure(pluginID string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures[pluginID] = err
}

// Lookup returns the service of a plugin.
func (r *Registry) Lookup(pluginID string) (Service, error) {
	r.mu.RLock()
	s, ok := r.services[pluginID]
	r.mu.RUnlock()
	if !ok {
		return nil, failure.New(failure.ServiceNotFound, "call", pluginID,
			"service for plugin %q not found", pluginID)
	}
	return s, nil
}

// Call resolves and invokes pluginID.method with params.
func (r *Registry) Call(ctx context.Context, pluginID, method string, params any) (any, error) {
	s, err := r.Lookup(pluginID)
	if err != nil {
		return nil, err
	}
	m, err := s.Method(method)
	if err != nil {
		return nil, err
	}
	return m.Call(ctx, params)
}

// Has reports whether a plugin has a loaded service.
func (r *Registry) Has(pluginID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.services[pluginID]
	return ok
}

// Failure returns the load error of a plugin's service, if any.
func (r *Registry) Failure(pluginID string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.failures[pluginID]
}

// IDs returns the ids of loaded services, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.services))
	for id := range r.services {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Close closes every service and empties the registry. A module stuck in a
// call that cannot be interrupted is abandoned when ctx ends.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	services := r.services
	r.services = make(map[string]Service)
	r.mu.Unlock()

	var errs []error
	for id, s := range services {
		if err := s.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// methodNotFound builds the MethodNotFound failure, suggesting the closest
// exported name when one is near enough to be a likely typo.
func methodNotFound(pluginID, method string, names []string) error {
	best, bestDist := "", -1
	for _, n := range names {
		d := levenshtein.ComputeDistance(method, n)
		if bestDist < 0 || d < bestDist {
			best, bestDist = n, d
		}
	}
	if best != "" && bestDist <= max(2, len(method)/3) {
		return failure.New(failure.MethodNotFound, "call", pluginID,
			"method %q not found in plugin %q service (did you mean %q?)", method, pluginID, best)
	}
	return failure.New(failure.MethodNotFound, "call", pluginID,
		"method %q not found in plugin %q service", method, pluginID)
}
