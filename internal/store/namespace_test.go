package store

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestPrefix(t *testing.T) {
	tests := []struct {
		id   string
		want string
	}{
		{"notes-plugin", "notes_plugin"},
		{"calendar-dashboard", "calendar_dashboard"},
		{"clock", "clock"},
		{"v2-widget-3", "v2_widget_3"},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			assert.Equal(t, tt.want, Prefix(tt.id))
		})
	}
}

func TestPrefixSeparatesLookalikes(t *testing.T) {
	ids := []string{"notes-plugin", "notes_plugin", "Notes-Plugin", "notes--plugin", "notes.plugin"}
	seen := make(map[string]string)
	for _, id := range ids {
		p := Prefix(id)
		if other, dup := seen[p]; dup {
			t.Fatalf("Prefix(%q) = Prefix(%q) = %q", id, other, p)
		}
		seen[p] = id
		assert.True(t, ValidIdentifier(p), "prefix %q", p)
	}
}

func TestPrefixProperties(t *testing.T) {
	idGen := rapid.StringMatching(`[A-Za-z0-9_.\- ]{1,16}`)
	rapid.Check(t, func(t *rapid.T) {
		a := idGen.Draw(t, "a")
		b := idGen.Filter(func(s string) bool { return s != a }).Draw(t, "b")

		pa, pb := Prefix(a), Prefix(b)
		if pa == pb {
			t.Fatalf("Prefix(%q) == Prefix(%q) == %q", a, b, pa)
		}
		if !ValidIdentifier(pa) || pa != strings.ToLower(pa) {
			t.Fatalf("Prefix(%q) = %q is not a lowercase identifier", a, pa)
		}
	})
}

func TestTableNames(t *testing.T) {
	p := Prefix("notes-plugin")
	assert.Equal(t, "plugin_notes_plugin_notes", TableName(p, "notes"))
	assert.Equal(t, "plugin_notes_plugin_settings", SettingsTable(p))
	assert.Equal(t, "plugin_notes_plugin_", TablePrefix(p))
}

func TestValidIdentifier(t *testing.T) {
	assert.True(t, ValidIdentifier("plugin_a_b"))
	assert.False(t, ValidIdentifier(""))
	assert.False(t, ValidIdentifier("users; DROP TABLE x"))
	assert.False(t, ValidIdentifier("a-b"))
}
