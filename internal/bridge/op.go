package bridge

import "sort"

// Op names a bridge operation.
type Op string

const (
	OpSettingsGet       Op = "settings.get"
	OpSettingsSet       Op = "settings.set"
	OpPluginSettingsGet Op = "plugin-settings.get"
	OpPluginSettingsSet Op = "plugin-settings.set"
	OpPluginSettingsAll Op = "plugin-settings.all"

	OpDBRun Op = "db.run"
	OpDBAll Op = "db.all"
	OpDBGet Op = "db.get"

	OpPluginCall  Op = "plugin.call"
	OpPluginsList Op = "plugins.list"
	OpPluginModal Op = "plugin.modal"

	OpDialogConfirm Op = "dialog.confirm"
	OpDialogError   Op = "dialog.error"
	OpDialogInfo    Op = "dialog.info"
	OpDialogOpen    Op = "dialog.open"
	OpDialogSave    Op = "dialog.save"

	OpClipboardWrite Op = "clipboard.write"
	OpNotify         Op = "notify"
	OpLinkOpen       Op = "link.open"
	OpToast          Op = "toast"
	OpOSInfo         Op = "os.info"

	OpTablesList       Op = "tables.list"
	OpTablesContent    Op = "tables.content"
	OpTablesDrop       Op = "tables.drop"
	OpTablesDeleteRow  Op = "tables.delete-row"
	OpTablesRegenerate Op = "tables.regenerate"
)

// String returns the wire name of the op.
func (o Op) String() string { return string(o) }

// Ops returns every op the bridge serves, sorted.
func (b *Bridge) Ops() []Op {
	ops := make([]Op, 0, len(b.handlers))
	for op := range b.handlers {
		ops = append(ops, op)
	}
	sort.Slice(ops, func(i, j int) bool { return ops[i] < ops[j] })
	return ops
}
