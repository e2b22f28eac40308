package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/dshills/cmdcenter/internal/plugin"
	"github.com/dshills/cmdcenter/internal/plugin/plugintest"
	"github.com/dshills/cmdcenter/internal/store"
)

type env struct {
	dir        string
	configPath string
	pluginsDir string
	dbPath     string
}

func newEnv(t *testing.T) env {
	t.Helper()
	dir := t.TempDir()
	e := env{
		dir:        dir,
		configPath: filepath.Join(dir, "cmdcenter.toml"),
		pluginsDir: filepath.Join(dir, "plugins"),
		dbPath:     filepath.Join(dir, "cmdcenter.db"),
	}
	cfg := fmt.Sprintf("[plugins]\ndir = %q\nwatch = false\n\n[store]\npath = %q\n", e.pluginsDir, e.dbPath)
	require.NoError(t, os.WriteFile(e.configPath, []byte(cfg), 0o644))
	return e
}

func (e env) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand("1.2.3", "abc123", "2026-01-01")
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{"--config", e.configPath}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

// provision creates the notes plugin's tables the way serve would.
func (e env) provision(t *testing.T) {
	t.Helper()
	root := plugintest.Write(t, e.pluginsDir, "notes-plugin", plugintest.NotesManifest,
		map[string]string{"service.lua": "return {}"})
	d, err := plugin.LoadDescriptor(root)
	require.NoError(t, err)

	s, err := store.Open(e.dbPath)
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Migrate())
	require.NoError(t, store.NewProvisioner(s, nil).ProvisionOne(context.Background(), d.Schema()))
	_, err = s.Run(context.Background(), "INSERT INTO plugin_notes_plugin_notes (content) VALUES (?)", "hello")
	require.NoError(t, err)
}

func TestVersionCommand(t *testing.T) {
	out, err := newEnv(t).run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "cmdcenter 1.2.3")
	assert.Contains(t, out, "commit: abc123")
}

func TestPluginsList(t *testing.T) {
	e := newEnv(t)
	plugintest.Write(t, e.pluginsDir, "notes-plugin", plugintest.NotesManifest,
		map[string]string{"service.lua": "return {}"})
	plugintest.Write(t, e.pluginsDir, "clock", `{"name":"Clock","entryPoint":"index.html"}`, nil)

	t.Run("table", func(t *testing.T) {
		out, err := e.run(t, "plugins", "list")
		require.NoError(t, err)
		assert.Contains(t, out, "ID")
		assert.Contains(t, out, "notes-plugin")
		assert.Contains(t, out, "plugin_notes_plugin_notes")
	})

	t.Run("json", func(t *testing.T) {
		out, err := e.run(t, "plugins", "list", "-o", "json")
		require.NoError(t, err)
		var rows []pluginRow
		require.NoError(t, json.Unmarshal([]byte(out), &rows))
		require.Len(t, rows, 2)
		byID := map[string]pluginRow{}
		for _, r := range rows {
			byID[r.ID] = r
		}
		assert.True(t, byID["notes-plugin"].Service)
		assert.False(t, byID["clock"].Service)
		assert.Equal(t, "notes_plugin", byID["notes-plugin"].Prefix)
	})

	t.Run("yaml", func(t *testing.T) {
		out, err := e.run(t, "plugins", "list", "-o", "yaml")
		require.NoError(t, err)
		var rows []pluginRow
		require.NoError(t, yaml.Unmarshal([]byte(out), &rows))
		assert.Len(t, rows, 2)
	})

	t.Run("unknown format", func(t *testing.T) {
		_, err := e.run(t, "plugins", "list", "-o", "xml")
		assert.Error(t, err)
	})
}

func TestTablesCommands(t *testing.T) {
	e := newEnv(t)
	e.provision(t)

	out, err := e.run(t, "tables", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "plugin_notes_plugin_notes")
	assert.Contains(t, out, "plugin_notes_plugin_settings")

	out, err = e.run(t, "tables", "show", "plugin_notes_plugin_notes")
	require.NoError(t, err)
	assert.Contains(t, out, `"hello"`)

	_, err = e.run(t, "tables", "delete-row", "plugin_notes_plugin_notes", "1")
	require.NoError(t, err)
	out, err = e.run(t, "tables", "show", "plugin_notes_plugin_notes")
	require.NoError(t, err)
	assert.NotContains(t, out, `"hello"`)

	_, err = e.run(t, "tables", "drop", "plugin_notes_plugin_notes")
	require.NoError(t, err)
	out, err = e.run(t, "tables", "list")
	require.NoError(t, err)
	assert.NotContains(t, out, "plugin_notes_plugin_notes\n")

	_, err = e.run(t, "tables", "drop", "notes; DROP TABLE x")
	assert.Error(t, err)
}

func TestConfigInit(t *testing.T) {
	e := newEnv(t)
	path := filepath.Join(e.dir, "fresh", "cmdcenter.toml")

	cmd := NewRootCommand("dev", "none", "unknown")
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"--config", path, "config", "init"})
	require.NoError(t, cmd.Execute())
	assert.FileExists(t, path)

	cmd = NewRootCommand("dev", "none", "unknown")
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--config", path, "config", "init"})
	assert.Error(t, cmd.Execute())

	cmd = NewRootCommand("dev", "none", "unknown")
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"--config", path, "config", "init", "--force"})
	assert.NoError(t, cmd.Execute())
}

func TestConfigShow(t *testing.T) {
	e := newEnv(t)
	out, err := e.run(t, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, e.pluginsDir)
	assert.Contains(t, out, "[server]")
}
