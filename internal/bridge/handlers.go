package bridge

import (
	"context"
	"errors"
	"strings"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/dshills/cmdcenter/internal/failure"
	"github.com/dshills/cmdcenter/internal/hostos"
	"github.com/dshills/cmdcenter/internal/plugin"
)

// EventToast is the event name toasts are delivered under.
const EventToast = "toast"

func (b *Bridge) routes() map[Op]handlerFunc {
	return map[Op]handlerFunc{
		OpSettingsGet:       b.settingsGet,
		OpSettingsSet:       b.settingsSet,
		OpPluginSettingsGet: b.pluginSettingsGet,
		OpPluginSettingsSet: b.pluginSettingsSet,
		OpPluginSettingsAll: b.pluginSettingsAll,

		OpDBRun: b.dbRun,
		OpDBAll: b.dbAll,
		OpDBGet: b.dbGet,

		OpPluginCall:  b.pluginCall,
		OpPluginsList: b.pluginsList,
		OpPluginModal: b.pluginModal,

		OpDialogConfirm: b.dialogConfirm,
		OpDialogError:   b.dialogError,
		OpDialogInfo:    b.dialogInfo,
		OpDialogOpen:    b.dialogOpen,
		OpDialogSave:    b.dialogSave,

		OpClipboardWrite: b.clipboardWrite,
		OpNotify:         b.notify,
		OpLinkOpen:       b.linkOpen,
		OpToast:          b.toast,
		OpOSInfo:         b.osInfo,

		OpTablesList:       b.tablesList,
		OpTablesContent:    b.tablesContent,
		OpTablesDrop:       b.tablesDrop,
		OpTablesDeleteRow:  b.tablesDeleteRow,
		OpTablesRegenerate: b.tablesRegenerate,
	}
}

// plugin resolves the payload's pluginId to a loaded plugin. A surface
// bound to one plugin may not name another.
func (b *Bridge) plugin(ctx context.Context, p payload) (*plugin.Descriptor, error) {
	id, err := p.required("pluginId")
	if err != nil {
		return nil, err
	}
	if caller, ok := CallerFrom(ctx); ok && caller != id {
		return nil, failure.New(failure.AccessDenied, p.op.String(), id, "surface of %q may not act for %q", caller, id)
	}
	d, ok := b.deps.Plugins.Lookup(id)
	if !ok {
		return nil, failure.New(failure.InvalidRequest, p.op.String(), id, "unknown plugin %q", id)
	}
	return d, nil
}

// Global settings.

func (b *Bridge) settingsGet(ctx context.Context, p payload) (any, error) {
	key, err := p.required("key")
	if err != nil {
		return nil, err
	}
	return b.deps.Store.GlobalSetting(ctx, key)
}

func (b *Bridge) settingsSet(ctx context.Context, p payload) (any, error) {
	key, err := p.required("key")
	if err != nil {
		return nil, err
	}
	value, err := p.stringValue("value")
	if err != nil {
		return nil, err
	}
	if err := b.deps.Store.SetGlobalSetting(ctx, key, value); err != nil {
		return nil, err
	}
	return true, nil
}

// Plugin settings.

func (b *Bridge) pluginSettingsGet(ctx context.Context, p payload) (any, error) {
	d, err := b.plugin(ctx, p)
	if err != nil {
		return nil, err
	}
	key, err := p.required("key")
	if err != nil {
		return nil, err
	}
	return b.deps.Store.PluginSetting(ctx, d.Prefix(), key)
}

func (b *Bridge) pluginSettingsSet(ctx context.Context, p payload) (any, error) {
	d, err := b.plugin(ctx, p)
	if err != nil {
		return nil, err
	}
	key, err := p.required("key")
	if err != nil {
		return nil, err
	}
	value, err := p.stringValue("value")
	if err != nil {
		return nil, err
	}
	if err := b.deps.Store.SetPluginSetting(ctx, d.Prefix(), key, value); err != nil {
		return nil, err
	}
	return true, nil
}

func (b *Bridge) pluginSettingsAll(ctx context.Context, p payload) (any, error) {
	d, err := b.plugin(ctx, p)
	if err != nil {
		return nil, err
	}
	return b.deps.Store.PluginSettings(ctx, d.Prefix())
}

// Scoped queries.

func (b *Bridge) statement(ctx context.Context, p payload) (string, []any, error) {
	d, err := b.plugin(ctx, p)
	if err != nil {
		return "", nil, err
	}
	sql, err := p.required("sql")
	if err != nil {
		return "", nil, err
	}
	if err := b.guard.Check(d.ID, sql); err != nil {
		return "", nil, err
	}
	params, err := p.params()
	if err != nil {
		return "", nil, err
	}
	return sql, params, nil
}

func (b *Bridge) dbRun(ctx context.Context, p payload) (any, error) {
	sql, params, err := b.statement(ctx, p)
	if err != nil {
		return nil, err
	}
	return b.deps.Store.Run(ctx, sql, params...)
}

func (b *Bridge) dbAll(ctx context.Context, p payload) (any, error) {
	sql, params, err := b.statement(ctx, p)
	if err != nil {
		return nil, err
	}
	return b.deps.Store.All(ctx, sql, params...)
}

func (b *Bridge) dbGet(ctx context.Context, p payload) (any, error) {
	sql, params, err := b.statement(ctx, p)
	if err != nil {
		return nil, err
	}
	row, err := b.deps.Store.Get(ctx, sql, params...)
	if err != nil || row == nil {
		return nil, err
	}
	return row, nil
}

// Plugins.

func (b *Bridge) pluginCall(ctx context.Context, p payload) (any, error) {
	id, err := p.required("pluginId")
	if err != nil {
		return nil, err
	}
	if caller, ok := CallerFrom(ctx); ok && caller != id {
		return nil, failure.New(failure.AccessDenied, p.op.String(), id, "surface of %q may not call %q", caller, id)
	}
	method, err := p.required("method")
	if err != nil {
		return nil, err
	}
	var params any
	if v := p.Get("params"); v.Exists() {
		params = jsonValue(v)
	}
	return b.deps.Services.Call(ctx, id, method, params)
}

// PluginView is how plugins.list describes a plugin to the UI shell.
type PluginView struct {
	ID            string            `json:"id"`
	Name          string            `json:"name"`
	Description   string            `json:"description,omitempty"`
	Version       string            `json:"version,omitempty"`
	EntryPoint    string            `json:"entryPoint"`
	TrustLevel    plugin.TrustLevel `json:"trustLevel"`
	HasService    bool              `json:"hasService"`
	Tables        []string          `json:"tables"`
	Widget        any               `json:"widget,omitempty"`
	PluginButtons any               `json:"pluginButtons,omitempty"`
}

// NewPluginView describes d. serviceLoaded reports whether its backend
// module is running.
func NewPluginView(d *plugin.Descriptor, serviceLoaded bool) PluginView {
	v := PluginView{
		ID:          d.ID,
		Name:        d.DisplayName,
		Description: d.Description,
		Version:     d.Version,
		EntryPoint:  d.EntryURL(),
		TrustLevel:  d.TrustLevel,
		HasService:  serviceLoaded,
		Tables:      d.TableNames(),
	}
	if len(d.Widget) > 0 {
		v.Widget = gjson.ParseBytes(d.Widget).Value()
	}
	if len(d.PluginButtons) > 0 {
		v.PluginButtons = gjson.ParseBytes(d.PluginButtons).Value()
	}
	return v
}

func (b *Bridge) pluginsList(ctx context.Context, _ payload) (any, error) {
	ds := b.deps.Plugins.Descriptors()
	caller, bound := CallerFrom(ctx)
	views := make([]PluginView, 0, len(ds))
	for _, d := range ds {
		if bound && caller != d.ID {
			continue
		}
		views = append(views, NewPluginView(d, b.deps.Services.Has(d.ID)))
	}
	return views, nil
}

// EventModalRequest asks a plugin's surface to open one of its modals.
const EventModalRequest = "plugin-modal-request"

func (b *Bridge) pluginModal(ctx context.Context, p payload) (any, error) {
	d, err := b.plugin(ctx, p)
	if err != nil {
		return nil, err
	}
	modalType, err := p.required("modalType")
	if err != nil {
		return nil, err
	}
	if b.deps.Events == nil {
		return true, nil
	}
	if err := b.deps.Events.Send(d.ID, EventModalRequest, map[string]any{"modalType": modalType}); err != nil {
		return nil, err
	}
	return true, nil
}

// Dialogs.

func (b *Bridge) dialogConfirm(_ context.Context, p payload) (any, error) {
	return b.deps.Host.Confirm(p.str("title"), p.str("message"))
}

func (b *Bridge) dialogError(_ context.Context, p payload) (any, error) {
	return nil, canceledAsNull(b.deps.Host.Error(p.str("title"), p.str("message")))
}

func (b *Bridge) dialogInfo(_ context.Context, p payload) (any, error) {
	return nil, canceledAsNull(b.deps.Host.Info(p.str("title"), p.str("message")))
}

func fileDialog(p payload) hostos.FileDialog {
	opts := hostos.FileDialog{
		Title:       p.str("title"),
		DefaultPath: p.str("defaultPath"),
		Multiple:    p.Get("multiple").Bool(),
		Directory:   p.Get("directory").Bool(),
	}
	for _, f := range p.Get("filters").Array() {
		filter := hostos.FileFilter{Name: f.Get("name").String()}
		for _, ext := range f.Get("extensions").Array() {
			filter.Extensions = append(filter.Extensions, ext.String())
		}
		opts.Filters = append(opts.Filters, filter)
	}
	return opts
}

func (b *Bridge) dialogOpen(_ context.Context, p payload) (any, error) {
	paths, err := b.deps.Host.Open(fileDialog(p))
	if err != nil || len(paths) == 0 {
		return nil, canceledAsNull(err)
	}
	if p.Get("multiple").Bool() {
		return paths, nil
	}
	return paths[0], nil
}

func (b *Bridge) dialogSave(_ context.Context, p payload) (any, error) {
	path, err := b.deps.Host.Save(fileDialog(p))
	if err != nil || path == "" {
		return nil, canceledAsNull(err)
	}
	return path, nil
}

// canceledAsNull turns a dismissed dialog into a null result.
func canceledAsNull(err error) error {
	if errors.Is(err, hostos.ErrCanceled) {
		return nil
	}
	return err
}

// Host passthroughs.

func (b *Bridge) clipboardWrite(_ context.Context, p payload) (any, error) {
	text, err := p.stringValue("text")
	if err != nil {
		return nil, err
	}
	format, err := hostos.ParseFormat(p.str("format"))
	if err != nil {
		return nil, err
	}
	if err := b.deps.Host.WriteClipboard(text, format); err != nil {
		return nil, err
	}
	return true, nil
}

func (b *Bridge) notify(_ context.Context, p payload) (any, error) {
	if err := b.deps.Host.Notify(p.str("title"), p.str("body")); err != nil {
		return nil, err
	}
	return true, nil
}

// LinkResult reports whether a link was opened.
type LinkResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

func (b *Bridge) linkOpen(_ context.Context, p payload) (any, error) {
	raw, err := p.required("url")
	if err != nil {
		return LinkResult{Error: err.Error()}, nil
	}
	if err := b.deps.Host.OpenLink(raw); err != nil {
		return LinkResult{Error: err.Error()}, nil
	}
	return LinkResult{Success: true}, nil
}

// Toast is a transient message shown by the UI shell.
type Toast struct {
	PluginID string `json:"pluginId,omitempty"`
	Message  string `json:"message"`
	Type     string `json:"type"`
}

var toastTypes = map[string]bool{"info": true, "success": true, "warning": true, "error": true}

func (b *Bridge) toast(ctx context.Context, p payload) (any, error) {
	msg, err := p.required("message")
	if err != nil {
		return nil, err
	}
	kind := strings.ToLower(p.str("type"))
	if kind == "" {
		kind = "info"
	}
	if !toastTypes[kind] {
		return nil, failure.New(failure.InvalidRequest, p.op.String(), kind, "unknown toast type %q", kind)
	}
	t := Toast{Message: msg, Type: kind}
	t.PluginID, _ = CallerFrom(ctx)
	if b.deps.Events != nil {
		b.deps.Events.Broadcast(Event{Event: EventToast, Payload: t})
	}
	return true, nil
}

func (b *Bridge) osInfo(_ context.Context, p payload) (any, error) {
	field, err := p.required("field")
	if err != nil {
		return nil, err
	}
	return b.deps.Host.SystemInfo(field)
}

// Table management. A bound surface only sees its own plugin's tables.

func (b *Bridge) tableAllowed(ctx context.Context, op Op, table string) error {
	caller, ok := CallerFrom(ctx)
	if !ok {
		return nil
	}
	if longestOwner(strings.ToLower(table), b.deps.Plugins.TablePrefixes()) != caller {
		return failure.New(failure.AccessDenied, op.String(), table, "table belongs to another plugin")
	}
	return nil
}

func (b *Bridge) tablesList(ctx context.Context, p payload) (any, error) {
	tables, err := b.deps.Store.ListTables(ctx)
	if err != nil {
		return nil, err
	}
	if _, ok := CallerFrom(ctx); !ok {
		return tables, nil
	}
	own := make([]string, 0, len(tables))
	for _, t := range tables {
		if b.tableAllowed(ctx, p.op, t) == nil {
			own = append(own, t)
		}
	}
	return own, nil
}

func (b *Bridge) tablesContent(ctx context.Context, p payload) (any, error) {
	table, err := p.required("tableName")
	if err != nil {
		return nil, err
	}
	if err := b.tableAllowed(ctx, p.op, table); err != nil {
		return nil, err
	}
	return b.deps.Store.TableContent(ctx, table)
}

func (b *Bridge) tablesDrop(ctx context.Context, p payload) (any, error) {
	table, err := p.required("tableName")
	if err != nil {
		return nil, err
	}
	if err := b.tableAllowed(ctx, p.op, table); err != nil {
		return nil, err
	}
	if err := b.deps.Store.DropTable(ctx, table); err != nil {
		return nil, err
	}
	return true, nil
}

func (b *Bridge) tablesDeleteRow(ctx context.Context, p payload) (any, error) {
	table, err := p.required("tableName")
	if err != nil {
		return nil, err
	}
	rowID, err := p.stringValue("rowId")
	if err != nil {
		return nil, err
	}
	if err := b.tableAllowed(ctx, p.op, table); err != nil {
		return nil, err
	}
	if err := b.deps.Store.DeleteRow(ctx, table, rowID); err != nil {
		return nil, err
	}
	return true, nil
}

func (b *Bridge) tablesRegenerate(ctx context.Context, p payload) (any, error) {
	d, err := b.plugin(ctx, p)
	if err != nil {
		return nil, err
	}
	if err := b.deps.Provisioner.Regenerate(ctx, d.Schema()); err != nil {
		return nil, err
	}
	b.logger.Info("plugin tables regenerated", zap.String("plugin", d.ID))
	return d.TableNames(), nil
}
