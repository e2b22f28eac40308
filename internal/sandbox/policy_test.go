package sandbox

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/cmdcenter/internal/plugin"
	"github.com/dshills/cmdcenter/internal/plugin/plugintest"
)

const bridgeScript = "/opt/cmdcenter/bridge.js"

type panicResolver struct{}

func (panicResolver) ByOrigin(string) (*plugin.Descriptor, bool) {
	panic("lookup exploded")
}

type noServices struct{}

func (noServices) Has(string) bool { return false }

func loadRegistry(t *testing.T) (*plugin.Registry, string) {
	t.Helper()
	dir := t.TempDir()
	plugintest.Write(t, dir, "notes", plugintest.NotesManifest,
		map[string]string{"service.lua": "return {}"})
	plugintest.Write(t, dir, "clock", `{"name":"Clock","entryPoint":"index.html"}`, nil)
	plugintest.Write(t, dir, "terminal",
		`{"name":"Terminal","entryPoint":"index.html","trustLevel":"nodeIntegration"}`, nil)

	r := plugin.NewRegistry(dir)
	_, err := r.Load(context.Background())
	require.NoError(t, err)
	return r, dir
}

func TestDecide(t *testing.T) {
	r, dir := loadRegistry(t)
	p := NewPolicy(r, bridgeScript)

	tests := []struct {
		name       string
		origin     string
		pluginID   string
		branch     Branch
		privileged bool
	}{
		{"service plugin", "file://" + filepath.ToSlash(filepath.Join(dir, "notes", "index.html")), "notes", BranchService, false},
		{"standard plugin", filepath.Join(dir, "clock", "index.html"), "clock", BranchStandard, false},
		{"trusted plugin", "file://" + filepath.ToSlash(filepath.Join(dir, "terminal", "index.html")), "terminal", BranchTrusted, true},
		{"served path", "http://127.0.0.1:7777/plugins/clock/index.html", "clock", BranchStandard, false},
		{"unknown origin", "https://example.com/page", "", BranchUnresolved, false},
		{"empty origin", "", "", BranchUnresolved, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := p.Decide(tt.origin)
			assert.Equal(t, tt.pluginID, d.PluginID)
			assert.Equal(t, tt.branch, d.Branch)
			assert.Equal(t, tt.privileged, d.ScriptPrivilege)
			if tt.privileged {
				assert.False(t, d.Isolate)
				assert.False(t, d.InjectBridge)
				assert.Empty(t, d.BridgeScript)
			} else {
				assert.True(t, d.Untrusted())
				assert.True(t, d.Isolate)
				assert.True(t, d.InjectBridge)
				assert.Equal(t, bridgeScript, d.BridgeScript)
			}
		})
	}
}

func TestDecideAfterReload(t *testing.T) {
	r, dir := loadRegistry(t)
	p := NewPolicy(r, bridgeScript)
	origin := filepath.Join(dir, "clock", "index.html")

	assert.Equal(t, BranchStandard, p.Decide(origin).Branch)

	plugintest.Write(t, dir, "clock",
		`{"name":"Clock","entryPoint":"index.html","nodeIntegration":true}`, nil)
	_, err := r.Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, BranchTrusted, p.Decide(origin).Branch)
}

func TestDecideFailedServiceIsStandard(t *testing.T) {
	r, dir := loadRegistry(t)
	p := NewPolicy(r, bridgeScript, WithServices(noServices{}))

	d := p.Decide(filepath.Join(dir, "notes", "index.html"))
	assert.Equal(t, BranchStandard, d.Branch)
	assert.True(t, d.InjectBridge)
}

func TestDecideRecoversPanic(t *testing.T) {
	p := NewPolicy(panicResolver{}, bridgeScript)

	var d Decision
	require.NotPanics(t, func() { d = p.Decide("file:///anything") })
	assert.Equal(t, BranchUnresolved, d.Branch)
	assert.True(t, d.InjectBridge)
	assert.False(t, d.ScriptPrivilege)
}
