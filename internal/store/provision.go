package store

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/dshills/cmdcenter/internal/failure"
)

// Column is one column of a declared table. Type is passed to the store
// verbatim.
type Column struct {
	Name string
	Type string
}

// TableDef is a table a plugin declares under its logical name.
type TableDef struct {
	Name    string
	Columns []Column
}

// Schema is everything provisioned for one plugin.
type Schema struct {
	PluginID string
	Prefix   string
	Tables   []TableDef
}

// Provisioner creates each plugin's settings table and declared tables.
type Provisioner struct {
	store  *Store
	logger *zap.Logger
}

// NewProvisioner creates a provisioner over s.
func NewProvisioner(s *Store, logger *zap.Logger) *Provisioner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provisioner{store: s, logger: logger}
}

// Provision creates every missing table. It never drops or alters existing
// tables, so it is safe on every startup. The first failing statement stops
// provisioning and is returned as SchemaProvisionFailed.
func (p *Provisioner) Provision(ctx context.Context, schemas []Schema) error {
	for _, schema := range schemas {
		if err := p.ProvisionOne(ctx, schema); err != nil {
			return err
		}
	}
	return nil
}

// ProvisionOne creates the tables of a single plugin.
func (p *Provisioner) ProvisionOne(ctx context.Context, schema Schema) error {
	settings := SettingsTable(schema.Prefix)
	if err := p.exec(ctx, schema.PluginID, settings, createSettingsSQL(settings)); err != nil {
		return err
	}

	for _, t := range schema.Tables {
		name := TableName(schema.Prefix, t.Name)
		stmt, err := createTableSQL(name, t.Columns)
		if err != nil {
			return failure.Wrap(failure.SchemaProvisionFailed, "provision", schema.PluginID, err)
		}
		if err := p.exec(ctx, schema.PluginID, name, stmt); err != nil {
			return err
		}
	}

	p.logger.Debug("schema provisioned",
		zap.String("plugin", schema.PluginID),
		zap.Int("tables", len(schema.Tables)+1))
	return nil
}

// Regenerate drops the declared tables of a plugin and creates them again
// empty. The settings table is kept.
func (p *Provisioner) Regenerate(ctx context.Context, schema Schema) error {
	for _, t := range schema.Tables {
		name := TableName(schema.Prefix, t.Name)
		if err := p.store.DropTable(ctx, name); err != nil {
			return err
		}
		p.logger.Info("table dropped for regeneration",
			zap.String("plugin", schema.PluginID),
			zap.String("table", name))
	}
	return p.ProvisionOne(ctx, schema)
}

func (p *Provisioner) exec(ctx context.Context, pluginID, table, stmt string) error {
	if !ValidIdentifier(table) {
		return failure.Wrap(failure.SchemaProvisionFailed, "provision", pluginID,
			failure.New(failure.InvalidIdentifier, "", table, "invalid table name"))
	}
	if _, err := p.store.db.ExecContext(ctx, stmt); err != nil {
		return failure.Wrap(failure.SchemaProvisionFailed, "provision", pluginID,
			fmt.Errorf("create %s: %w", table, err))
	}
	return nil
}

func createTableSQL(table string, columns []Column) (string, error) {
	if len(columns) == 0 {
		return "", fmt.Errorf("table %s declares no columns", table)
	}
	defs := make([]string, 0, len(columns))
	for _, c := range columns {
		if !ValidIdentifier(c.Name) {
			return "", fmt.Errorf("table %s: invalid column name %q", table, c.Name)
		}
		defs = append(defs, strings.TrimSpace(c.Name+" "+c.Type))
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", table, strings.Join(defs, ", ")), nil
}
