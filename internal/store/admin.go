package store

import (
	"context"
	"regexp"
	"strconv"

	"github.com/dshills/cmdcenter/internal/failure"
)

var rowIDPattern = regexp.MustCompile(`^[1-9][0-9]*$`)

// ListTables returns the name of every table, sorted.
func (s *Store) ListTables(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT name FROM sqlite_master WHERE type = 'table' ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	names := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// TableContent returns every row of a table with its rowid.
func (s *Store) TableContent(ctx context.Context, table string) ([]Row, error) {
	if err := checkTable("content", table); err != nil {
		return nil, err
	}
	return s.All(ctx, "SELECT rowid, * FROM "+table)
}

// DropTable drops a table if it exists.
func (s *Store) DropTable(ctx context.Context, table string) error {
	if err := checkTable("drop", table); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table)
	return err
}

// DeleteRow deletes the row with the given rowid. rowID must be a positive
// decimal integer.
func (s *Store) DeleteRow(ctx context.Context, table, rowID string) error {
	if err := checkTable("delete-row", table); err != nil {
		return err
	}
	id, err := ParseRowID(rowID)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, "DELETE FROM "+table+" WHERE rowid = ?", id)
	return err
}

// ParseRowID validates and converts a row identifier.
func ParseRowID(rowID string) (int64, error) {
	if !rowIDPattern.MatchString(rowID) {
		return 0, failure.New(failure.InvalidIdentifier, "delete-row", rowID, "invalid row id")
	}
	id, err := strconv.ParseInt(rowID, 10, 64)
	if err != nil {
		return 0, failure.Wrap(failure.InvalidIdentifier, "delete-row", rowID, err)
	}
	return id, nil
}

func checkTable(op, table string) error {
	if !ValidIdentifier(table) {
		return failure.New(failure.InvalidIdentifier, op, table, "invalid table name")
	}
	return nil
}
