package records

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
)

// Querier is the subset of *sql.DB used by PostgresCatalog.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// PostgresCatalog exposes every base table of one schema as a source. Column
// names form the header row and the first column is the row identifier.
type PostgresCatalog struct {
	db     Querier
	schema string
}

func NewPostgresCatalog(db Querier, schema string) *PostgresCatalog {
	return &PostgresCatalog{db: db, schema: schema}
}

func (c *PostgresCatalog) Sources(ctx context.Context) ([]Source, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = $1
		  AND table_type = 'BASE TABLE'
		ORDER BY table_name
	`, c.schema)
	if err != nil {
		return nil, fmt.Errorf("records: list tables: %w", err)
	}
	defer rows.Close()

	var sources []Source
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("records: list tables: %w", err)
		}
		sources = append(sources, &pgTable{db: c.db, schema: c.schema, name: name})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("records: list tables: %w", err)
	}

	return sources, nil
}

type pgTable struct {
	db     Querier
	schema string
	name   string
}

func (t *pgTable) Name() string { return t.name }

// Rows reads the whole table in physical order, which for an imported,
// append-only table is the import order.
func (t *pgTable) Rows(ctx context.Context) ([][]any, error) {
	query := fmt.Sprintf("SELECT * FROM %s.%s ORDER BY ctid",
		pq.QuoteIdentifier(t.schema),
		pq.QuoteIdentifier(t.name),
	)

	rows, err := t.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("records: read %s: %w", t.name, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("records: read %s: %w", t.name, err)
	}

	header := make([]any, len(cols))
	for i, c := range cols {
		header[i] = c
	}
	out := [][]any{header}

	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("records: read %s: %w", t.name, err)
		}
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		out = append(out, values)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("records: read %s: %w", t.name, err)
	}

	return out, nil
}
