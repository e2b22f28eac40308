// Package hostos exposes the desktop facilities plugin surfaces may use
// through the bridge: dialogs, the clipboard, notifications, opening links,
// and read-only system information.
package hostos
