package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGlobalSettingRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	v, err := s.GlobalSetting(ctx, "theme")
	require.NoError(t, err)
	assert.Equal(t, "", v)

	require.NoError(t, s.SetGlobalSetting(ctx, "theme", "dark"))
	require.NoError(t, s.SetGlobalSetting(ctx, "theme", "light"))

	v, err = s.GlobalSetting(ctx, "theme")
	require.NoError(t, err)
	assert.Equal(t, "light", v)
}

func TestPluginSettingWithoutTable(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	prefix := Prefix("never-provisioned")

	v, err := s.PluginSetting(ctx, prefix, "anything")
	require.NoError(t, err)
	assert.Equal(t, "", v)

	all, err := s.PluginSettings(ctx, prefix)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestPluginSettingRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	prefix := Prefix("calendar-dashboard")

	require.NoError(t, s.SetPluginSetting(ctx, prefix, "calendarId", "primary"))

	v, err := s.PluginSetting(ctx, prefix, "calendarId")
	require.NoError(t, err)
	assert.Equal(t, "primary", v)

	all, err := s.PluginSettings(ctx, prefix)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"calendarId": "primary"}, all)

	// Plugin scopes do not leak into each other or into the global scope.
	other, err := s.PluginSetting(ctx, Prefix("notes-plugin"), "calendarId")
	require.NoError(t, err)
	assert.Equal(t, "", other)

	global, err := s.GlobalSetting(ctx, "calendarId")
	require.NoError(t, err)
	assert.Equal(t, "", global)
}
