// Package store is the shared relational store: one SQLite file holding the
// global settings table and every plugin's namespaced tables.
package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Store wraps the SQLite handle.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens the database file at path. Use ":memory:" for a private
// in-memory database.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	// sqlite serializes writers; a single connection also keeps
	// ":memory:" databases shared across calls.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return &Store{db: db, path: path}, nil
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// DB returns the underlying handle.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// Migrate applies the embedded host migrations.
func (s *Store) Migrate() error {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return err
	}
	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return err
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return err
	}
	// m.Close would close the shared *sql.DB through the driver.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// Result reports the effect of a write statement.
type Result struct {
	Changes         int64 `json:"changes"`
	LastInsertRowID int64 `json:"lastInsertRowid"`
}

// Row is one result row keyed by column name.
type Row map[string]any

// Run executes a statement that returns no rows.
func (s *Store) Run(ctx context.Context, query string, args ...any) (Result, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return Result{}, err
	}
	var out Result
	out.Changes, _ = res.RowsAffected()
	out.LastInsertRowID, _ = res.LastInsertId()
	return out, nil
}

// All returns every row of a query.
func (s *Store) All(ctx context.Context, query string, args ...any) ([]Row, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRows(rows, -1)
}

// Get returns the first row of a query, or nil when there is none.
func (s *Store) Get(ctx context.Context, query string, args ...any) (Row, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out, err := scanRows(rows, 1)
	if err != nil || len(out) == 0 {
		return nil, err
	}
	return out[0], nil
}

func scanRows(rows *sql.Rows, limit int) ([]Row, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	out := make([]Row, 0)
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(Row, len(cols))
		for i, c := range cols {
			if b, ok := vals[i].([]byte); ok {
				row[c] = string(b)
				continue
			}
			row[c] = vals[i]
		}
		out = append(out, row)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, rows.Err()
}

// TableExists reports whether a table is present.
func (s *Store) TableExists(ctx context.Context, name string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", name).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
