package records

import "context"

// Table is an in-memory source.
type Table struct {
	TableName string
	Data      [][]any
	Err       error
}

func (t *Table) Name() string { return t.TableName }

func (t *Table) Rows(ctx context.Context) ([][]any, error) {
	if t.Err != nil {
		return nil, t.Err
	}
	return t.Data, nil
}

// MemoryCatalog serves a fixed list of sources.
type MemoryCatalog []Source

func (c MemoryCatalog) Sources(ctx context.Context) ([]Source, error) {
	return c, nil
}
