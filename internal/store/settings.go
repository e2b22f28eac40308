package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dshills/cmdcenter/internal/failure"
)

// GlobalSettingsTable holds settings that belong to no plugin.
const GlobalSettingsTable = "global_settings"

// GlobalSetting returns the value for key, or "" when unset.
func (s *Store) GlobalSetting(ctx context.Context, key string) (string, error) {
	return s.lookupSetting(ctx, GlobalSettingsTable, key)
}

// SetGlobalSetting stores value under key. The last write wins.
func (s *Store) SetGlobalSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO "+GlobalSettingsTable+" (key, value) VALUES (?, ?)", key, value)
	return err
}

// PluginSetting returns a plugin's value for key, or "" when unset. A plugin
// whose settings table was never created has no settings, not an error.
func (s *Store) PluginSetting(ctx context.Context, prefix, key string) (string, error) {
	table, err := s.pluginSettingsTable(prefix)
	if err != nil {
		return "", err
	}
	ok, err := s.TableExists(ctx, table)
	if err != nil || !ok {
		return "", err
	}
	return s.lookupSetting(ctx, table, key)
}

// PluginSettings returns every setting of a plugin.
func (s *Store) PluginSettings(ctx context.Context, prefix string) (map[string]string, error) {
	table, err := s.pluginSettingsTable(prefix)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string)
	ok, err := s.TableExists(ctx, table)
	if err != nil || !ok {
		return out, err
	}

	rows, err := s.db.QueryContext(ctx, "SELECT key, value FROM "+table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var k string
		var v sql.NullString
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v.String
	}
	return out, rows.Err()
}

// SetPluginSetting stores a plugin's value under key, creating the settings
// table first if it does not exist.
func (s *Store) SetPluginSetting(ctx context.Context, prefix, key, value string) error {
	table, err := s.pluginSettingsTable(prefix)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, createSettingsSQL(table)); err != nil {
		return fmt.Errorf("create %s: %w", table, err)
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO "+table+" (key, value) VALUES (?, ?)", key, value)
	return err
}

func (s *Store) lookupSetting(ctx context.Context, table, key string) (string, error) {
	var v sql.NullString
	err := s.db.QueryRowContext(ctx, "SELECT value FROM "+table+" WHERE key = ?", key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return v.String, nil
}

func (s *Store) pluginSettingsTable(prefix string) (string, error) {
	table := SettingsTable(prefix)
	if !ValidIdentifier(table) {
		return "", failure.New(failure.InvalidIdentifier, "settings", table, "invalid table name")
	}
	return table, nil
}

func createSettingsSQL(table string) string {
	return "CREATE TABLE IF NOT EXISTS " + table + " (key TEXT PRIMARY KEY, value TEXT)"
}
