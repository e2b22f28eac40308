package store

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

// NamespaceMarker begins every plugin-owned physical table name.
const NamespaceMarker = "plugin_"

// settingsTable is the logical name of each plugin's settings table.
const settingsTable = "settings"

var (
	identifierPattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)
	simpleIDPattern   = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)
)

// ValidIdentifier reports whether s may be interpolated into a statement as
// a table or column name.
func ValidIdentifier(s string) bool {
	return identifierPattern.MatchString(s)
}

// Prefix maps a plugin id to its table prefix.
//
// Lowercase ids made of alphanumeric runs joined by single hyphens map to
// themselves with hyphens turned into underscores ("notes-plugin" becomes
// "notes_plugin"); no two simple ids share one. Every other id is
// lowercased, has each non-alphanumeric rune replaced by an underscore, and
// gains a suffix derived from a SHA-256 of the raw id, so ids that differ only
// in case or punctuation stay apart. Callers holding a set of ids must still
// reject the rare residual collision.
func Prefix(id string) string {
	if simpleIDPattern.MatchString(id) {
		return strings.ReplaceAll(id, "-", "_")
	}

	var b strings.Builder
	for _, r := range strings.ToLower(id) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	sum := sha256.Sum256([]byte(id))
	b.WriteString("_h")
	b.WriteString(hex.EncodeToString(sum[:4]))
	return b.String()
}

// TablePrefix returns the physical prefix, marker included, shared by every
// table of the namespace: "plugin_<prefix>_".
func TablePrefix(prefix string) string {
	return NamespaceMarker + prefix + "_"
}

// TableName returns the physical name of a plugin table.
func TableName(prefix, logical string) string {
	return TablePrefix(prefix) + logical
}

// SettingsTable returns the physical name of a plugin's settings table.
func SettingsTable(prefix string) string {
	return TableName(prefix, settingsTable)
}
