package hostos

import (
	"errors"
	"fmt"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/gen2brain/beeep"
	"github.com/ncruces/zenity"
	"github.com/pkg/browser"
	"go.uber.org/zap"

	"github.com/dshills/cmdcenter/internal/failure"
)

// Desktop implements Host with the native facilities of the running OS.
type Desktop struct {
	appName string
	logger  *zap.Logger
}

// DesktopOption configures a Desktop.
type DesktopOption func(*Desktop)

// WithLogger sets the desktop logger.
func WithLogger(logger *zap.Logger) DesktopOption {
	return func(d *Desktop) {
		d.logger = logger
	}
}

// WithAppName sets the name used for notifications and dialog titles.
func WithAppName(name string) DesktopOption {
	return func(d *Desktop) {
		d.appName = name
	}
}

// NewDesktop creates the native host facilities.
func NewDesktop(opts ...DesktopOption) *Desktop {
	d := &Desktop{appName: "cmdcenter", logger: zap.NewNop()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

var _ Host = (*Desktop)(nil)

func (d *Desktop) title(t string) string {
	if t == "" {
		return d.appName
	}
	return t
}

// Confirm asks a yes/no question. Cancelling counts as no.
func (d *Desktop) Confirm(title, message string) (bool, error) {
	err := zenity.Question(message, zenity.Title(d.title(title)))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, zenity.ErrCanceled):
		return false, nil
	default:
		return false, unsupported("dialog.confirm", err)
	}
}

// Error shows an error message.
func (d *Desktop) Error(title, message string) error {
	return dialogErr("dialog.error", zenity.Error(message, zenity.Title(d.title(title))))
}

// Info shows an informational message.
func (d *Desktop) Info(title, message string) error {
	return dialogErr("dialog.info", zenity.Info(message, zenity.Title(d.title(title))))
}

// Open asks for one or more existing files or directories.
func (d *Desktop) Open(opts FileDialog) ([]string, error) {
	zopts := d.fileOptions(opts)
	if opts.Directory {
		zopts = append(zopts, zenity.Directory())
	}
	if opts.Multiple {
		paths, err := zenity.SelectFileMultiple(zopts...)
		if err != nil {
			return nil, dialogErr("dialog.open", err)
		}
		return paths, nil
	}
	path, err := zenity.SelectFile(zopts...)
	if err != nil {
		return nil, dialogErr("dialog.open", err)
	}
	return []string{path}, nil
}

// Save asks for a file path to write.
func (d *Desktop) Save(opts FileDialog) (string, error) {
	zopts := append(d.fileOptions(opts), zenity.ConfirmOverwrite())
	path, err := zenity.SelectFileSave(zopts...)
	if err != nil {
		return "", dialogErr("dialog.save", err)
	}
	return path, nil
}

func (d *Desktop) fileOptions(opts FileDialog) []zenity.Option {
	zopts := []zenity.Option{zenity.Title(d.title(opts.Title))}
	if opts.DefaultPath != "" {
		zopts = append(zopts, zenity.Filename(opts.DefaultPath))
	}
	if len(opts.Filters) > 0 {
		filters := make(zenity.FileFilters, 0, len(opts.Filters))
		for _, f := range opts.Filters {
			patterns := make([]string, len(f.Extensions))
			for i, ext := range f.Extensions {
				patterns[i] = "*." + strings.TrimPrefix(ext, ".")
			}
			filters = append(filters, zenity.FileFilter{Name: f.Name, Patterns: patterns, CaseFold: true})
		}
		zopts = append(zopts, filters)
	}
	return zopts
}

// WriteClipboard places text on the clipboard. Rich formats are written as
// their markup, since the clipboard backend carries plain text only.
func (d *Desktop) WriteClipboard(text string, format Format) error {
	if clipboard.Unsupported {
		return failure.New(failure.Unsupported, "clipboard.write", string(format), "no clipboard available")
	}
	if format != FormatText {
		d.logger.Debug("rich clipboard format written as text", zap.String("format", string(format)))
	}
	if err := clipboard.WriteAll(text); err != nil {
		return unsupported("clipboard.write", err)
	}
	return nil
}

// Notify shows a system notification. Where notifications are unavailable
// it logs a warning and succeeds.
func (d *Desktop) Notify(title, body string) error {
	if err := beeep.Notify(d.title(title), body, ""); err != nil {
		d.logger.Warn("notifications unavailable",
			zap.String("title", title),
			zap.Error(err))
	}
	return nil
}

// OpenLink opens an http, https or mailto URL in the default handler.
func (d *Desktop) OpenLink(raw string) error {
	u, err := CheckLink(raw)
	if err != nil {
		return err
	}
	if err := browser.OpenURL(u.String()); err != nil {
		return fmt.Errorf("open %s: %w", u.Redacted(), err)
	}
	return nil
}

// SystemInfo returns one field of host information.
func (d *Desktop) SystemInfo(field string) (any, error) {
	return SystemField(field)
}

func dialogErr(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, zenity.ErrCanceled):
		return ErrCanceled
	default:
		return unsupported(op, err)
	}
}

func unsupported(op string, err error) error {
	return failure.Wrap(failure.Unsupported, op, "", err)
}
