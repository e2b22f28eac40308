package plugin

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/dshills/cmdcenter/internal/failure"
	"github.com/dshills/cmdcenter/internal/store"
)

// ManifestFile is the descriptor file name inside each plugin directory.
const ManifestFile = "manifest.json"

// TrustLevel selects how much host privilege a plugin's surface receives.
type TrustLevel string

const (
	// TrustSandboxed surfaces reach the host only through the bridge.
	TrustSandboxed TrustLevel = "sandboxed"
	// TrustNodeIntegration surfaces get full script privilege.
	TrustNodeIntegration TrustLevel = "nodeIntegration"
)

// Manifest is the on-disk form of manifest.json.
type Manifest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Version     string `json:"version"`

	EntryPoint   string `json:"entryPoint"`   // UI surface file, relative to the plugin dir
	Service      string `json:"service"`      // Backend module, relative to the plugin dir
	ServiceEntry string `json:"serviceEntry"` // Alias of Service

	Tables []TableSchema `json:"tables"`

	Settings       json.RawMessage `json:"settings"`
	SettingsSchema json.RawMessage `json:"settingsSchema"` // Alias of Settings

	TrustLevel      TrustLevel `json:"trustLevel"`
	NodeIntegration bool       `json:"nodeIntegration"`

	Dependencies map[string]string `json:"dependencies"`

	// Hints for the UI shell, passed through untouched.
	Widget        json.RawMessage `json:"widget"`
	PluginButtons json.RawMessage `json:"pluginButtons"`
}

// TableSchema declares one custom table.
type TableSchema struct {
	Name    string         `json:"name"`
	Columns []ColumnSchema `json:"columns"`
}

// ColumnSchema declares one column. Type is opaque to the host.
type ColumnSchema struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Descriptor is a validated plugin with every path resolved. It is never
// modified after the registry publishes it.
type Descriptor struct {
	ID           string
	RootPath     string
	DisplayName  string
	Description  string
	Version      string
	EntryPoint   string
	ServiceEntry string

	Tables         []TableSchema
	SettingsSchema json.RawMessage
	TrustLevel     TrustLevel
	Dependencies   map[string]string

	Widget        json.RawMessage
	PluginButtons json.RawMessage

	prefix string
}

// LoadDescriptor reads and validates the manifest in dir. The plugin id is
// the directory's base name.
func LoadDescriptor(dir string) (*Descriptor, error) {
	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	id := filepath.Base(root)

	data, err := os.ReadFile(filepath.Join(root, ManifestFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, failure.Wrap(failure.DescriptorInvalid, "load", id, ErrNoManifest)
		}
		return nil, failure.Wrap(failure.DescriptorInvalid, "load", id, err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, failure.Wrap(failure.DescriptorInvalid, "load", id,
			fmt.Errorf("parse manifest: %w", err))
	}

	d, err := m.resolve(id, root)
	if err != nil {
		return nil, failure.Wrap(failure.DescriptorInvalid, "load", id, err)
	}
	return d, nil
}

func (m *Manifest) resolve(id, root string) (*Descriptor, error) {
	if strings.TrimSpace(m.Name) == "" {
		return nil, ErrMissingName
	}
	if m.EntryPoint == "" {
		return nil, ErrMissingEntryPoint
	}

	d := &Descriptor{
		ID:             id,
		RootPath:       root,
		DisplayName:    m.Name,
		Description:    m.Description,
		Version:        m.Version,
		Dependencies:   m.Dependencies,
		Widget:         m.Widget,
		PluginButtons:  m.PluginButtons,
		SettingsSchema: m.Settings,
		prefix:         store.Prefix(id),
	}
	if len(d.SettingsSchema) == 0 {
		d.SettingsSchema = m.SettingsSchema
	}

	var err error
	if d.EntryPoint, err = resolveFile(root, m.EntryPoint); err != nil {
		return nil, fmt.Errorf("entryPoint: %w", err)
	}

	service := m.Service
	if service == "" {
		service = m.ServiceEntry
	}
	if service != "" {
		if d.ServiceEntry, err = resolveFile(root, service); err != nil {
			return nil, fmt.Errorf("service: %w", err)
		}
	}

	switch {
	case m.TrustLevel == TrustNodeIntegration || (m.TrustLevel == "" && m.NodeIntegration):
		d.TrustLevel = TrustNodeIntegration
	case m.TrustLevel == "" || m.TrustLevel == TrustSandboxed:
		d.TrustLevel = TrustSandboxed
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidTrustLevel, m.TrustLevel)
	}

	for i, t := range m.Tables {
		if err := validateTable(t); err != nil {
			return nil, fmt.Errorf("tables[%d]: %w", i, err)
		}
	}
	d.Tables = m.Tables

	return d, nil
}

func validateTable(t TableSchema) error {
	if !store.ValidIdentifier(t.Name) {
		return fmt.Errorf("%w: name %q", ErrInvalidTable, t.Name)
	}
	if len(t.Columns) == 0 {
		return fmt.Errorf("%w: %s has no columns", ErrInvalidTable, t.Name)
	}
	for _, c := range t.Columns {
		if !store.ValidIdentifier(c.Name) {
			return fmt.Errorf("%w: %s column %q", ErrInvalidTable, t.Name, c.Name)
		}
		// go-sqlite3's Exec runs every statement in the string.
		if strings.ContainsAny(c.Type, ";") {
			return fmt.Errorf("%w: %s column %s type %q", ErrInvalidTable, t.Name, c.Name, c.Type)
		}
	}
	return nil
}

// resolveFile joins rel to root and requires the result to be an existing
// file inside root.
func resolveFile(root, rel string) (string, error) {
	p := filepath.Clean(filepath.Join(root, filepath.FromSlash(rel)))
	r, err := filepath.Rel(root, p)
	if err != nil || r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrPathEscapesRoot, rel)
	}
	info, err := os.Stat(p)
	if err != nil || info.IsDir() {
		return "", fmt.Errorf("%w: %s", ErrMissingFile, rel)
	}
	return p, nil
}

// Prefix returns the plugin's table prefix.
func (d *Descriptor) Prefix() string { return d.prefix }

// HasService reports whether the plugin declares a backend module.
func (d *Descriptor) HasService() bool { return d.ServiceEntry != "" }

// FullTrust reports whether the surface runs with full script privilege.
func (d *Descriptor) FullTrust() bool { return d.TrustLevel == TrustNodeIntegration }

// EntryURL returns the entry point as a file URL.
func (d *Descriptor) EntryURL() string {
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(d.EntryPoint)}
	if !strings.HasPrefix(u.Path, "/") {
		u.Path = "/" + u.Path
	}
	return u.String()
}

// TableNames returns the physical names of the plugin's declared tables.
func (d *Descriptor) TableNames() []string {
	names := make([]string, len(d.Tables))
	for i, t := range d.Tables {
		names[i] = store.TableName(d.prefix, t.Name)
	}
	return names
}

// Schema returns what the provisioner creates for this plugin.
func (d *Descriptor) Schema() store.Schema {
	s := store.Schema{PluginID: d.ID, Prefix: d.prefix}
	for _, t := range d.Tables {
		def := store.TableDef{Name: t.Name, Columns: make([]store.Column, len(t.Columns))}
		for i, c := range t.Columns {
			def.Columns[i] = store.Column{Name: c.Name, Type: c.Type}
		}
		s.Tables = append(s.Tables, def)
	}
	return s
}

// String returns a short description of the plugin.
func (d *Descriptor) String() string {
	if d.Version != "" {
		return fmt.Sprintf("%s (%s v%s)", d.ID, d.DisplayName, d.Version)
	}
	return fmt.Sprintf("%s (%s)", d.ID, d.DisplayName)
}
