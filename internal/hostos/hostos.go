package hostos

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/dshills/cmdcenter/internal/failure"
)

// Format is a clipboard content type.
type Format string

const (
	FormatText Format = "text"
	FormatHTML Format = "html"
	FormatRTF  Format = "rtf"
)

// ParseFormat parses a clipboard format; empty means text.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case "":
		return FormatText, nil
	case FormatText, FormatHTML, FormatRTF:
		return f, nil
	default:
		return "", failure.New(failure.InvalidRequest, "clipboard", s, "unknown clipboard format")
	}
}

// FileFilter restricts a file dialog to matching names.
type FileFilter struct {
	Name       string   `json:"name"`
	Extensions []string `json:"extensions"`
}

// FileDialog configures an open or save dialog.
type FileDialog struct {
	Title       string       `json:"title"`
	DefaultPath string       `json:"defaultPath"`
	Filters     []FileFilter `json:"filters"`
	Multiple    bool         `json:"multiple"`
	Directory   bool         `json:"directory"`
}

// Dialogs shows native dialogs. A cancelled dialog returns ErrCanceled.
type Dialogs interface {
	Confirm(title, message string) (bool, error)
	Error(title, message string) error
	Info(title, message string) error
	Open(opts FileDialog) ([]string, error)
	Save(opts FileDialog) (string, error)
}

// Clipboard writes to the system clipboard.
type Clipboard interface {
	WriteClipboard(text string, format Format) error
}

// Notifier shows system notifications.
type Notifier interface {
	Notify(title, body string) error
}

// Links opens URLs in the user's default handler.
type Links interface {
	OpenLink(raw string) error
}

// System reports facts about the host machine.
type System interface {
	SystemInfo(field string) (any, error)
}

// Host is the full set of desktop facilities.
type Host interface {
	Dialogs
	Clipboard
	Notifier
	Links
	System
}

// ErrCanceled is returned when the user dismisses a dialog.
var ErrCanceled = errors.New("dialog canceled")

// ErrUnsafeLink is returned for URLs whose scheme may not be opened.
var ErrUnsafeLink = errors.New("only http, https and mailto links can be opened")

var linkSchemes = map[string]bool{"http": true, "https": true, "mailto": true}

// CheckLink validates that raw is an absolute URL with an allowed scheme.
func CheckLink(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("parse link: %w", err)
	}
	if !linkSchemes[strings.ToLower(u.Scheme)] {
		return nil, ErrUnsafeLink
	}
	if u.Scheme != "mailto" && u.Host == "" {
		return nil, fmt.Errorf("link %q has no host", raw)
	}
	return u, nil
}
