package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
)

// EnsureRecordsSchema creates the schema that holds the record tables. The
// tables themselves are imported out of band and only read by this service.
func EnsureRecordsSchema(ctx context.Context, db *sql.DB, schema string) error {
	if schema == "" {
		return fmt.Errorf("db: records schema name is empty")
	}
	_, err := db.ExecContext(ctx, "CREATE SCHEMA IF NOT EXISTS "+pq.QuoteIdentifier(schema))
	return err
}
