package plugin

import (
	"context"
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/dshills/cmdcenter/internal/failure"
	"github.com/dshills/cmdcenter/internal/store"
)

// Registry discovers plugins in a directory and holds the current
// descriptor set. Load replaces the set wholesale.
type Registry struct {
	dir    string
	logger *zap.Logger

	mu          sync.RWMutex
	descriptors []*Descriptor
	byID        map[string]*Descriptor
	failures    []error
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(logger *zap.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = logger
	}
}

// NewRegistry creates a registry over the plugins directory dir.
func NewRegistry(dir string, opts ...RegistryOption) *Registry {
	r := &Registry{
		dir:    dir,
		logger: zap.NewNop(),
		byID:   make(map[string]*Descriptor),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Dir returns the plugins directory.
func (r *Registry) Dir() string { return r.dir }

// Load scans the plugins directory. A plugin whose descriptor is invalid is
// logged, recorded in Failures, and left out; it never aborts the scan. The
// returned error is non-nil only when the directory itself cannot be read.
// A missing directory yields an empty set.
func (r *Registry) Load(ctx context.Context) ([]*Descriptor, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	var (
		loaded   []*Descriptor
		failures []error
	)
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}

		d, err := LoadDescriptor(filepath.Join(r.dir, entry.Name()))
		if err != nil {
			r.logger.Warn("plugin excluded",
				zap.String("plugin", entry.Name()),
				zap.String("policy", failure.PolicyFor(failure.DescriptorInvalid).String()),
				zap.Error(err))
			failures = append(failures, err)
			continue
		}
		loaded = append(loaded, d)
	}

	loaded, rejected := rejectCollisions(loaded)
	for _, err := range rejected {
		r.logger.Warn("plugin excluded", zap.Error(err))
	}
	failures = append(failures, rejected...)

	byID := make(map[string]*Descriptor, len(loaded))
	for _, d := range loaded {
		byID[d.ID] = d
	}

	r.mu.Lock()
	r.descriptors = loaded
	r.byID = byID
	r.failures = failures
	r.mu.Unlock()

	r.logger.Info("plugins loaded",
		zap.String("dir", r.dir),
		zap.Int("loaded", len(loaded)),
		zap.Int("excluded", len(failures)))

	return r.Descriptors(), nil
}

// rejectCollisions drops plugins whose namespace cannot be kept apart from
// another plugin's. Ids are taken in sorted order, so the earlier id keeps
// a contested prefix. A declared table whose physical name falls under a
// longer prefix owned by another plugin is rejected with its plugin.
func rejectCollisions(in []*Descriptor) ([]*Descriptor, []error) {
	sort.Slice(in, func(i, j int) bool { return in[i].ID < in[j].ID })

	var (
		kept     []*Descriptor
		rejected []error
		owners   = make(map[string]string, len(in))
	)
	for _, d := range in {
		if other, taken := owners[d.prefix]; taken {
			rejected = append(rejected, failure.Wrap(failure.DescriptorInvalid, "load", d.ID,
				errors.Join(ErrPrefixCollision, errors.New("prefix "+d.prefix+" already used by "+other))))
			continue
		}
		owners[d.prefix] = d.ID
		kept = append(kept, d)
	}

	prefixes := make(map[string]string, len(kept))
	for _, d := range kept {
		prefixes[d.ID] = store.TablePrefix(d.prefix)
	}

	out := kept[:0]
	for _, d := range kept {
		var bad error
		for _, name := range append(d.TableNames(), store.SettingsTable(d.prefix)) {
			if owner := ownerOf(name, prefixes); owner != d.ID {
				bad = failure.Wrap(failure.DescriptorInvalid, "load", d.ID,
					errors.Join(ErrPrefixCollision, errors.New("table "+name+" belongs to "+owner)))
				break
			}
		}
		if bad != nil {
			rejected = append(rejected, bad)
			continue
		}
		out = append(out, d)
	}
	return out, rejected
}

// ownerOf returns the plugin whose table prefix is the longest match for a
// physical table name.
func ownerOf(table string, prefixes map[string]string) string {
	owner, best := "", 0
	for id, p := range prefixes {
		if len(p) > best && strings.HasPrefix(table, p) {
			owner, best = id, len(p)
		}
	}
	return owner
}

// Descriptors returns the current descriptor set sorted by id.
func (r *Registry) Descriptors() []*Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Descriptor, len(r.descriptors))
	copy(out, r.descriptors)
	return out
}

// Lookup returns the descriptor for a plugin id.
func (r *Registry) Lookup(id string) (*Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byID[id]
	return d, ok
}

// Prefix returns the table prefix of a loaded plugin.
func (r *Registry) Prefix(id string) (string, bool) {
	d, ok := r.Lookup(id)
	if !ok {
		return "", false
	}
	return d.prefix, true
}

// TablePrefixes maps every loaded plugin id to its "plugin_<prefix>_" string.
func (r *Registry) TablePrefixes() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string, len(r.descriptors))
	for _, d := range r.descriptors {
		out[d.ID] = store.TablePrefix(d.prefix)
	}
	return out
}

// Schemas returns the provisioning schema of every loaded plugin.
func (r *Registry) Schemas() []store.Schema {
	ds := r.Descriptors()
	out := make([]store.Schema, len(ds))
	for i, d := range ds {
		out[i] = d.Schema()
	}
	return out
}

// Failures returns the descriptors rejected by the last Load.
func (r *Registry) Failures() []error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]error, len(r.failures))
	copy(out, r.failures)
	return out
}

// ByOrigin resolves the plugin that owns a rendering surface. origin may be
// a file URL, an absolute path, or a host URL of the form
// /plugins/<id>/... as served by the bridge server.
func (r *Registry) ByOrigin(origin string) (*Descriptor, bool) {
	if origin == "" {
		return nil, false
	}

	path := origin
	if u, err := url.Parse(origin); err == nil && u.Scheme != "" && len(u.Scheme) > 1 {
		path = u.Path
		if u.Scheme != "file" {
			return r.byServedPath(path)
		}
	}
	if d, ok := r.byServedPath(path); ok {
		return d, ok
	}

	path = filepath.Clean(filepath.FromSlash(path))
	if !filepath.IsAbs(path) {
		return nil, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, d := range r.descriptors {
		if within(d.RootPath, path) {
			return d, true
		}
	}
	return nil, false
}

func (r *Registry) byServedPath(p string) (*Descriptor, bool) {
	rest, ok := strings.CutPrefix(p, "/plugins/")
	if !ok {
		return nil, false
	}
	id, _, _ := strings.Cut(rest, "/")
	id, err := url.PathUnescape(id)
	if err != nil {
		return nil, false
	}
	return r.Lookup(id)
}

// within reports whether path is root or lies below it. Comparison ignores
// case, as plugin roots come from directory listings on case-insensitive
// filesystems too.
func within(root, path string) bool {
	rel, err := filepath.Rel(strings.ToLower(root), strings.ToLower(path))
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
