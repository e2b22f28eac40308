package app

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dshills/cmdcenter/internal/bridge"
	"github.com/dshills/cmdcenter/internal/config"
	"github.com/dshills/cmdcenter/internal/failure"
	"github.com/dshills/cmdcenter/internal/hostos"
	"github.com/dshills/cmdcenter/internal/plugin/plugintest"
)

const greeterService = `
local ui
return {
  init = function(db, u) ui = u end,
  greet = function(p)
    ui.notify("Greeter", "hello " .. p.name)
    return "hello " .. p.name
  end,
}
`

type fakeDesktop struct {
	mu       sync.Mutex
	notified []string
}

var _ hostos.Host = (*fakeDesktop)(nil)

func (d *fakeDesktop) Confirm(title, message string) (bool, error) { return true, nil }
func (d *fakeDesktop) Error(title, message string) error           { return nil }
func (d *fakeDesktop) Info(title, message string) error            { return nil }
func (d *fakeDesktop) Open(hostos.FileDialog) ([]string, error)    { return nil, hostos.ErrCanceled }
func (d *fakeDesktop) Save(hostos.FileDialog) (string, error)      { return "", hostos.ErrCanceled }
func (d *fakeDesktop) WriteClipboard(string, hostos.Format) error  { return nil }
func (d *fakeDesktop) OpenLink(string) error                       { return nil }
func (d *fakeDesktop) SystemInfo(field string) (any, error)        { return hostos.SystemField(field) }

func (d *fakeDesktop) Notify(title, body string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.notified = append(d.notified, title+": "+body)
	return nil
}

func (d *fakeDesktop) notifications() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.notified...)
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Plugins.Dir = filepath.Join(dir, "plugins")
	cfg.Plugins.Watch = false
	cfg.Store.Path = filepath.Join(dir, "data", "cmdcenter.db")
	cfg.Server.Addr = "127.0.0.1:0"
	cfg.Server.TokenFile = filepath.Join(dir, "data", "shell.token")
	return cfg
}

func dispatch(t *testing.T, h *Host, op bridge.Op, payload any) bridge.Response {
	t.Helper()
	req, err := bridge.NewRequest(op, payload)
	require.NoError(t, err)
	return h.Bridge.Dispatch(context.Background(), req)
}

func TestNewWiresComponents(t *testing.T) {
	cfg := testConfig(t)
	plugintest.Write(t, cfg.Plugins.Dir, "notes-plugin", plugintest.NotesManifest,
		map[string]string{"service.lua": `return { ping = function() return "pong" end }`})
	plugintest.Write(t, cfg.Plugins.Dir, "greeter",
		`{"name":"Greeter","entryPoint":"index.html","service":"service.lua"}`,
		map[string]string{"service.lua": greeterService})

	desktop := &fakeDesktop{}
	h, err := New(context.Background(), cfg, Options{Logger: zap.NewNop(), Desktop: desktop})
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })

	assert.Len(t, h.Plugins.Descriptors(), 2)
	assert.ElementsMatch(t, []string{"greeter", "notes-plugin"}, h.Services.IDs())

	tables, err := h.Store.ListTables(context.Background())
	require.NoError(t, err)
	assert.Contains(t, tables, "plugin_notes_plugin_notes")
	assert.Contains(t, tables, "plugin_notes_plugin_settings")
	assert.Contains(t, tables, "plugin_greeter_settings")

	resp := dispatch(t, h, bridge.OpPluginCall, map[string]any{"pluginId": "notes-plugin", "method": "ping"})
	require.True(t, resp.OK, "%+v", resp.Error)
	assert.Equal(t, "pong", resp.Result)

	resp = dispatch(t, h, bridge.OpPluginCall, map[string]any{
		"pluginId": "greeter", "method": "greet", "params": map[string]any{"name": "ada"},
	})
	require.True(t, resp.OK, "%+v", resp.Error)
	assert.Equal(t, "hello ada", resp.Result)
	assert.Equal(t, []string{"Greeter: hello ada"}, desktop.notifications())
}

func TestNewFailsOnProvisioning(t *testing.T) {
	cfg := testConfig(t)
	plugintest.Write(t, cfg.Plugins.Dir, "broken", `{
  "name": "Broken",
  "entryPoint": "index.html",
  "tables": [{"name": "items", "columns": [
    {"name": "a", "type": "TEXT"},
    {"name": "a", "type": "TEXT"}
  ]}]
}`, nil)

	_, err := New(context.Background(), cfg, Options{Logger: zap.NewNop(), Desktop: &fakeDesktop{}})
	require.Error(t, err)

	var initErr *InitError
	require.ErrorAs(t, err, &initErr)
	assert.Equal(t, "schemas", initErr.Component)
	assert.ErrorIs(t, err, failure.ErrSchemaProvisionFailed)
}

func TestNewSkipsBrokenPlugins(t *testing.T) {
	cfg := testConfig(t)
	plugintest.Write(t, cfg.Plugins.Dir, "bad", `{"name": `, nil)
	plugintest.Write(t, cfg.Plugins.Dir, "crashy",
		`{"name":"Crashy","entryPoint":"index.html","service":"service.lua"}`,
		map[string]string{"service.lua": `error("boom")`})

	h, err := New(context.Background(), cfg, Options{Logger: zap.NewNop(), Desktop: &fakeDesktop{}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })

	_, ok := h.Plugins.Lookup("bad")
	assert.False(t, ok)
	_, ok = h.Plugins.Lookup("crashy")
	assert.True(t, ok)
	assert.False(t, h.Services.Has("crashy"))
	assert.ErrorIs(t, h.Services.Failure("crashy"), failure.ErrServiceLoadFailed)
}

func TestRunStopsOnCancel(t *testing.T) {
	cfg := testConfig(t)
	h, err := New(context.Background(), cfg, Options{Logger: zap.NewNop(), Desktop: &fakeDesktop{}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Run(ctx) }()

	assert.Eventually(t, func() bool { return h.running.Load() }, time.Second, 10*time.Millisecond)
	assert.ErrorIs(t, h.Run(context.Background()), ErrAlreadyRunning)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRunProvisionsPluginsAddedWhileWatching(t *testing.T) {
	cfg := testConfig(t)
	cfg.Plugins.Watch = true
	plugintest.Write(t, cfg.Plugins.Dir, "clock", `{"name":"Clock","entryPoint":"index.html"}`, nil)

	h, err := New(context.Background(), cfg, Options{Logger: zap.NewNop(), Desktop: &fakeDesktop{}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	// Give the watcher time to register the directory.
	time.Sleep(200 * time.Millisecond)
	plugintest.Write(t, cfg.Plugins.Dir, "notes-plugin", plugintest.NotesManifest,
		map[string]string{"service.lua": "return {}"})

	assert.Eventually(t, func() bool {
		ok, err := h.Store.TableExists(context.Background(), "plugin_notes_plugin_notes")
		return err == nil && ok
	}, 5*time.Second, 50*time.Millisecond)

	_, found := h.Plugins.Lookup("notes-plugin")
	assert.True(t, found)
	assert.False(t, h.Services.Has("notes-plugin"))
}

func TestShellTokenFile(t *testing.T) {
	cfg := testConfig(t)
	h, err := New(context.Background(), cfg, Options{Logger: zap.NewNop(), Desktop: &fakeDesktop{}})
	require.NoError(t, err)

	data, err := os.ReadFile(cfg.Server.TokenFile)
	require.NoError(t, err)
	assert.Equal(t, h.Server.ShellToken()+"\n", string(data))
	if runtime.GOOS != "windows" {
		info, err := os.Stat(cfg.Server.TokenFile)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	}

	require.NoError(t, h.Close())
	_, err = os.Stat(cfg.Server.TokenFile)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestCloseIsIdempotent(t *testing.T) {
	h, err := New(context.Background(), testConfig(t), Options{Logger: zap.NewNop(), Desktop: &fakeDesktop{}})
	require.NoError(t, err)
	require.NoError(t, h.Close())
	require.NoError(t, h.Close())
	assert.ErrorIs(t, h.Run(context.Background()), ErrClosed)
}

func TestHostUIDropsEventsBeforeBind(t *testing.T) {
	desktop := &fakeDesktop{}
	ui := newHostUI(desktop, zap.NewNop())

	assert.NoError(t, ui.Send("notes", "updated", nil))
	ui.Broadcast(bridge.Event{Event: "toast"})
	require.NoError(t, ui.Notify("t", "b"))
	assert.Equal(t, []string{"t: b"}, desktop.notifications())
}

func TestInitErrorUnwraps(t *testing.T) {
	err := &InitError{Component: "store", Err: failure.ErrInternal}
	assert.Equal(t, "init store: "+failure.ErrInternal.Error(), err.Error())
	assert.ErrorIs(t, err, failure.ErrInternal)

	ce := &ComponentError{Component: "server", Action: "serve", Err: ErrClosed}
	assert.Equal(t, "server: serve: host closed", ce.Error())
	assert.ErrorIs(t, ce, ErrClosed)
}
