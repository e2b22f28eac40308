package plugin

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/cmdcenter/internal/failure"
	"github.com/dshills/cmdcenter/internal/plugin/plugintest"
)

const minimalManifest = `{"name":"P","entryPoint":"index.html"}`

func TestRegistryLoadSoftFails(t *testing.T) {
	dir := t.TempDir()
	plugintest.Write(t, dir, "notes-plugin", plugintest.NotesManifest,
		map[string]string{"service.lua": "return {}"})
	plugintest.Write(t, dir, "clock", minimalManifest, nil)
	plugintest.Write(t, dir, "broken", `{"name":`, nil)
	plugintest.Write(t, dir, ".hidden", minimalManifest, nil)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("x"), 0o644))

	r := NewRegistry(dir)
	ds, err := r.Load(context.Background())
	require.NoError(t, err)

	require.Len(t, ds, 2)
	assert.Equal(t, "clock", ds[0].ID)
	assert.Equal(t, "notes-plugin", ds[1].ID)

	failures := r.Failures()
	require.Len(t, failures, 1)
	assert.ErrorIs(t, failures[0], failure.ErrDescriptorInvalid)

	d, ok := r.Lookup("notes-plugin")
	require.True(t, ok)
	assert.Equal(t, "Notes", d.DisplayName)

	_, ok = r.Lookup("broken")
	assert.False(t, ok)
}

func TestRegistryLoadMissingDir(t *testing.T) {
	r := NewRegistry(filepath.Join(t.TempDir(), "absent"))
	ds, err := r.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ds)
}

func TestRegistryLoadReplacesSet(t *testing.T) {
	dir := t.TempDir()
	plugintest.Write(t, dir, "a", minimalManifest, nil)
	r := NewRegistry(dir)
	_, err := r.Load(context.Background())
	require.NoError(t, err)

	require.NoError(t, os.RemoveAll(filepath.Join(dir, "a")))
	plugintest.Write(t, dir, "b", minimalManifest, nil)
	ds, err := r.Load(context.Background())
	require.NoError(t, err)

	require.Len(t, ds, 1)
	assert.Equal(t, "b", ds[0].ID)
	_, ok := r.Lookup("a")
	assert.False(t, ok)
}

func TestRegistryRejectsNamespaceCollisions(t *testing.T) {
	dir := t.TempDir()
	plugintest.Write(t, dir, "a", `{"name":"A","entryPoint":"index.html",
		"tables":[{"name":"b_settings","columns":[{"name":"k","type":"TEXT"}]}]}`, nil)
	plugintest.Write(t, dir, "a-b", minimalManifest, nil)
	plugintest.Write(t, dir, "notes-plugin", minimalManifest, nil)

	r := NewRegistry(dir)
	ds, err := r.Load(context.Background())
	require.NoError(t, err)

	ids := make([]string, len(ds))
	for i, d := range ds {
		ids[i] = d.ID
	}
	// "a" declares plugin_a_b_settings, which is the settings table of "a-b".
	assert.Equal(t, []string{"a-b", "notes-plugin"}, ids)

	failures := r.Failures()
	require.Len(t, failures, 1)
	assert.ErrorIs(t, failures[0], ErrPrefixCollision)
}

func TestRegistryPrefixes(t *testing.T) {
	dir := t.TempDir()
	plugintest.Write(t, dir, "notes-plugin", minimalManifest, nil)
	plugintest.Write(t, dir, "notes", minimalManifest, nil)
	r := NewRegistry(dir)
	_, err := r.Load(context.Background())
	require.NoError(t, err)

	p, ok := r.Prefix("notes-plugin")
	require.True(t, ok)
	assert.Equal(t, "notes_plugin", p)

	assert.Equal(t, map[string]string{
		"notes":        "plugin_notes_",
		"notes-plugin": "plugin_notes_plugin_",
	}, r.TablePrefixes())
	assert.Len(t, r.Schemas(), 2)
}

func TestRegistryByOrigin(t *testing.T) {
	dir := t.TempDir()
	root := plugintest.Write(t, dir, "notes-plugin", minimalManifest, nil)
	r := NewRegistry(dir)
	_, err := r.Load(context.Background())
	require.NoError(t, err)

	tests := []struct {
		origin string
		want   string
	}{
		{filepath.Join(root, "index.html"), "notes-plugin"},
		{"file://" + filepath.ToSlash(filepath.Join(root, "index.html")), "notes-plugin"},
		{"http://127.0.0.1:7420/plugins/notes-plugin/index.html", "notes-plugin"},
		{"/plugins/notes-plugin/js/app.js", "notes-plugin"},
		{filepath.Join(dir, "other", "index.html"), ""},
		{"http://evil.example/index.html", ""},
		{"relative/index.html", ""},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			d, ok := r.ByOrigin(tt.origin)
			if tt.want == "" {
				assert.False(t, ok)
				return
			}
			require.True(t, ok)
			assert.Equal(t, tt.want, d.ID)
		})
	}
}
