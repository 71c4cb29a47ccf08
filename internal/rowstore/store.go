// Package rowstore reads mirrored tables from the relational system of
// record.
package rowstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/syntrixbase/searchsync/internal/events"
)

// ErrNotFound is returned by Get when no row has the id.
var ErrNotFound = errors.New("row not found")

// Reader is the row access the sync orchestrator needs.
type Reader interface {
	// ListActive returns every row that is not logically deleted.
	ListActive(ctx context.Context, t Table) ([]events.Row, error)
	// ListUpdatedSince returns rows updated at or after since, including
	// logically deleted ones.
	ListUpdatedSince(ctx context.Context, t Table, since time.Time) ([]events.Row, error)
	// Get returns one row, deleted or not.
	Get(ctx context.Context, t Table, id string) (events.Row, error)
	// ActiveIDs returns the ids of every row that is not logically deleted.
	ActiveIDs(ctx context.Context, t Table) ([]string, error)
}

// Open opens a connection pool for cfg.
func Open(cfg Config) (*sql.DB, error) {
	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", cfg.Driver, err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	return db, nil
}

type dialect struct {
	quote       func(string) string
	placeholder func(int) string
}

var dialects = map[string]dialect{
	DriverPostgres: {
		quote:       pq.QuoteIdentifier,
		placeholder: func(n int) string { return fmt.Sprintf("$%d", n) },
	},
	DriverMySQL: {
		quote:       func(name string) string { return "`" + strings.ReplaceAll(name, "`", "``") + "`" },
		placeholder: func(int) string { return "?" },
	},
}

// Store implements Reader over database/sql.
type Store struct {
	db      *sql.DB
	dialect dialect
}

var _ Reader = (*Store)(nil)

// NewStore creates a Store for the given driver.
func NewStore(db *sql.DB, driver string) (*Store, error) {
	d, ok := dialects[driver]
	if !ok {
		return nil, fmt.Errorf("unsupported driver: %s", driver)
	}
	return &Store{db: db, dialect: d}, nil
}

func (s *Store) activeClause(t Table) string {
	if t.DeletedColumn == "" {
		return "1 = 1"
	}
	col := s.dialect.quote(t.DeletedColumn)
	return fmt.Sprintf("(%s = 0 OR %s IS NULL)", col, col)
}

func (s *Store) ListActive(ctx context.Context, t Table) ([]events.Row, error) {
	q := fmt.Sprintf("SELECT * FROM %s WHERE %s", s.dialect.quote(t.Name), s.activeClause(t))
	return s.query(ctx, q)
}

func (s *Store) ListUpdatedSince(ctx context.Context, t Table, since time.Time) ([]events.Row, error) {
	col := s.dialect.quote(t.UpdatedAtColumn)
	q := fmt.Sprintf("SELECT * FROM %s WHERE %s >= %s ORDER BY %s",
		s.dialect.quote(t.Name), col, s.dialect.placeholder(1), col)
	return s.query(ctx, q, since)
}

func (s *Store) Get(ctx context.Context, t Table, id string) (events.Row, error) {
	q := fmt.Sprintf("SELECT * FROM %s WHERE %s = %s",
		s.dialect.quote(t.Name), s.dialect.quote(t.IDColumn), s.dialect.placeholder(1))
	rows, err := s.query(ctx, q, id)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return rows[0], nil
}

func (s *Store) ActiveIDs(ctx context.Context, t Table) ([]string, error) {
	q := fmt.Sprintf("SELECT %s FROM %s WHERE %s",
		s.dialect.quote(t.IDColumn), s.dialect.quote(t.Name), s.activeClause(t))
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to query ids of %s: %w", t.Name, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id any
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan id: %w", err)
		}
		ids = append(ids, stringify(id))
	}
	return ids, rows.Err()
}

func (s *Store) query(ctx context.Context, q string, args ...any) ([]events.Row, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query rows: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read columns: %w", err)
	}

	var out []events.Row
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		row := make(events.Row, len(cols))
		for i, name := range cols {
			row[i] = events.Field{Name: name, Value: normalize(values[i])}
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rows: %w", err)
	}
	return out, nil
}

func normalize(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

func stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case []byte:
		return string(x)
	case string:
		return x
	default:
		return fmt.Sprint(x)
	}
}

// RowID returns the id of row as a document id.
func RowID(row events.Row, t Table) (string, bool) {
	v, ok := row.GetFold(t.IDColumn)
	if !ok || v == nil {
		return "", false
	}
	id := stringify(v)
	return id, id != ""
}

// RowDeleted reports whether row carries a logical-delete marker.
func RowDeleted(row events.Row, t Table, isDeleted func(any) bool) bool {
	if t.DeletedColumn == "" {
		return false
	}
	v, ok := row.GetFold(t.DeletedColumn)
	return ok && isDeleted(v)
}
