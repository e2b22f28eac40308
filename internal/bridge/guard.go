package bridge

import (
	"strings"

	"github.com/dshills/cmdcenter/internal/failure"
	"github.com/dshills/cmdcenter/internal/store"
)

// PrefixSource returns the "plugin_<prefix>_" table prefix of every loaded
// plugin, keyed by plugin id.
type PrefixSource interface {
	TablePrefixes() map[string]string
}

// ScopeGuard confines a plugin's SQL to its own tables. It is a textual
// check over the lowercased statement: every occurrence of the plugin_
// marker must start the caller's prefix, and no other loaded plugin may own
// a longer prefix at that position.
type ScopeGuard struct {
	prefixes PrefixSource
}

// NewScopeGuard creates a guard over the current plugin set.
func NewScopeGuard(prefixes PrefixSource) *ScopeGuard {
	return &ScopeGuard{prefixes: prefixes}
}

// Check returns an AccessDenied failure when sql references tables outside
// pluginID's namespace, or when pluginID is not loaded.
func (g *ScopeGuard) Check(pluginID, sql string) error {
	all := g.prefixes.TablePrefixes()
	own, ok := all[pluginID]
	if !ok {
		return failure.New(failure.AccessDenied, "guard", pluginID, "unknown plugin %q", pluginID)
	}

	stmt := strings.ToLower(sql)
	for i := 0; ; {
		j := strings.Index(stmt[i:], store.NamespaceMarker)
		if j < 0 {
			return nil
		}
		at := stmt[i+j:]
		if !strings.HasPrefix(at, own) || longestOwner(at, all) != pluginID {
			return failure.New(failure.AccessDenied, "guard", pluginID,
				"statement references %q outside the plugin's tables", ident(at))
		}
		i += j + len(ident(at))
	}
}

func longestOwner(s string, prefixes map[string]string) string {
	owner, best := "", 0
	for id, p := range prefixes {
		if len(p) > best && strings.HasPrefix(s, p) {
			owner, best = id, len(p)
		}
	}
	return owner
}

// ident returns the identifier at the start of s, for error messages.
func ident(s string) string {
	end := strings.IndexFunc(s, func(r rune) bool {
		return !(r == '_' || r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	if end < 0 {
		return s
	}
	return s[:end]
}
