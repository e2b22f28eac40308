package sandbox

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/dshills/cmdcenter/internal/plugin"
)

// Branch names the rule that produced a Decision.
type Branch string

const (
	// BranchService is an isolated surface whose plugin has a backend module.
	BranchService Branch = "service"

	// BranchStandard is an isolated surface of a UI-only plugin.
	BranchStandard Branch = "standard"

	// BranchTrusted is a surface of a nodeIntegration plugin.
	BranchTrusted Branch = "trusted"

	// BranchUnresolved is a surface no loaded plugin owns.
	BranchUnresolved Branch = "unresolved"
)

// Decision is the isolation applied to one surface.
type Decision struct {
	// PluginID is the owning plugin, empty when unresolved.
	PluginID string `json:"pluginId,omitempty"`

	// ScriptPrivilege grants the surface direct host scripting.
	ScriptPrivilege bool `json:"scriptPrivilege"`

	// Isolate runs the surface in an isolated context.
	Isolate bool `json:"isolate"`

	// InjectBridge installs the capability bridge in the surface.
	InjectBridge bool `json:"injectBridge"`

	// BridgeScript is the preload script path when InjectBridge is set.
	BridgeScript string `json:"bridgeScript,omitempty"`

	// Branch is the rule that matched.
	Branch Branch `json:"branch"`
}

// Untrusted reports whether the surface is confined to the bridge.
func (d Decision) Untrusted() bool {
	return !d.ScriptPrivilege
}

// Resolver finds the plugin that owns a surface origin.
type Resolver interface {
	ByOrigin(origin string) (*plugin.Descriptor, bool)
}

// ServiceChecker reports whether a plugin's backend module is loaded.
type ServiceChecker interface {
	Has(pluginID string) bool
}

// Policy classifies surfaces.
type Policy struct {
	resolver     Resolver
	services     ServiceChecker
	bridgeScript string
	logger       *zap.Logger
}

// Option configures a Policy.
type Option func(*Policy)

// WithLogger sets the policy logger.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Policy) {
		p.logger = logger
	}
}

// WithServices lets the policy tell service plugins apart in its branch
// labels. It does not change what a surface is allowed to do.
func WithServices(s ServiceChecker) Option {
	return func(p *Policy) {
		p.services = s
	}
}

// NewPolicy creates a policy that resolves origins with resolver and
// injects bridgeScript into untrusted surfaces.
func NewPolicy(resolver Resolver, bridgeScript string, opts ...Option) *Policy {
	p := &Policy{
		resolver:     resolver,
		bridgeScript: bridgeScript,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// BridgeScript returns the configured preload script path.
func (p *Policy) BridgeScript() string { return p.bridgeScript }

// Decide classifies the surface at origin. Any failure to resolve the
// origin, including a panic in the resolver, yields the untrusted decision.
func (p *Policy) Decide(origin string) (d Decision) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("origin lookup panicked",
				zap.String("origin", origin),
				zap.String("panic", fmt.Sprint(r)))
			d = p.untrusted("", BranchUnresolved)
		}
	}()

	desc, ok := p.resolver.ByOrigin(origin)
	if !ok || desc == nil {
		p.logger.Debug("surface origin unresolved", zap.String("origin", origin))
		return p.untrusted("", BranchUnresolved)
	}

	if desc.FullTrust() {
		return Decision{
			PluginID:        desc.ID,
			ScriptPrivilege: true,
			Branch:          BranchTrusted,
		}
	}

	branch := BranchStandard
	if desc.HasService() && (p.services == nil || p.services.Has(desc.ID)) {
		branch = BranchService
	}
	return p.untrusted(desc.ID, branch)
}

func (p *Policy) untrusted(pluginID string, branch Branch) Decision {
	return Decision{
		PluginID:     pluginID,
		Isolate:      true,
		InjectBridge: true,
		BridgeScript: p.bridgeScript,
		Branch:       branch,
	}
}
