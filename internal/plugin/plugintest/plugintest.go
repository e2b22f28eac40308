// Package plugintest writes plugin bundles for tests.
package plugintest

import (
	"os"
	"path/filepath"
	"testing"
)

// NotesManifest declares a service-backed plugin with one custom table.
const NotesManifest = `{
  "name": "Notes",
  "entryPoint": "index.html",
  "service": "service.lua",
  "tables": [
    {"name": "notes", "columns": [
      {"name": "id", "type": "INTEGER PRIMARY KEY AUTOINCREMENT"},
      {"name": "content", "type": "TEXT"},
      {"name": "updatedAt", "type": "TEXT"}
    ]}
  ]
}`

// Write creates dir/id with a manifest.json and the given extra files.
// Files named by the manifest but absent from files are created empty.
func Write(t testing.TB, dir, id, manifest string, files map[string]string) string {
	t.Helper()
	root := filepath.Join(dir, id)
	if err := os.MkdirAll(root, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", root, err)
	}
	if manifest != "" {
		writeFile(t, filepath.Join(root, "manifest.json"), manifest)
	}
	if _, ok := files["index.html"]; !ok {
		writeFile(t, filepath.Join(root, "index.html"), "<html></html>")
	}
	for name, content := range files {
		writeFile(t, filepath.Join(root, filepath.FromSlash(name)), content)
	}
	return root
}

func writeFile(t testing.TB, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
