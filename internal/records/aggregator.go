package records

import (
	"context"
	"fmt"
	"strings"

	"roster-lookup/internal/logger"
)

// Source is one named table. Rows returns the header row first, followed by
// the data rows; column 0 of every data row is the row's identifier.
type Source interface {
	Name() string
	Rows(ctx context.Context) ([][]any, error)
}

// Catalog lists the sources available for lookup, in scan order.
type Catalog interface {
	Sources(ctx context.Context) ([]Source, error)
}

// Aggregator finds a user's row in every non-excluded source of a catalog.
type Aggregator struct {
	catalog  Catalog
	excluded []string
}

func NewAggregator(catalog Catalog, excluded []string) *Aggregator {
	return &Aggregator{
		catalog:  catalog,
		excluded: append([]string(nil), excluded...),
	}
}

// Lookup lists the catalog and scans it for key. A catalog that cannot be
// listed yields nil.
func (a *Aggregator) Lookup(ctx context.Context, key string) Records {
	sources, err := a.catalog.Sources(ctx)
	if err != nil {
		logger.Error("record catalog unavailable", map[string]any{
			"error": err.Error(),
		})
		return nil
	}
	return Lookup(ctx, key, sources, a.excluded)
}

// Lookup scans sources in order and returns, per source, the first row whose
// identifier equals key after trimming and lower-casing both. Excluded names
// match exactly. A source that fails to read is logged and skipped. The
// result is nil when no source matched, and also for an empty key.
func Lookup(ctx context.Context, key string, sources []Source, excluded []string) Records {
	target := normalizeKey(key)
	if target == "" {
		return nil
	}

	skip := make(map[string]struct{}, len(excluded))
	for _, name := range excluded {
		skip[name] = struct{}{}
	}

	found := make(Records)
	for _, src := range sources {
		name := src.Name()
		if _, ok := skip[name]; ok {
			continue
		}
		if _, ok := found[name]; ok {
			continue
		}

		rows, err := src.Rows(ctx)
		if err != nil {
			logger.Warn("record source read failed", map[string]any{
				"source": name,
				"error":  err.Error(),
			})
			continue
		}

		if rec, ok := match(rows, target); ok {
			found[name] = rec
		}
	}

	logger.Info("record lookup finished", map[string]any{
		"key":     key,
		"sources": len(found),
	})

	if len(found) == 0 {
		return nil
	}
	return found
}

// match returns the first data row whose identifier equals target.
func match(rows [][]any, target string) (Record, bool) {
	if len(rows) < 2 {
		return nil, false
	}

	header := rows[0]
	for _, row := range rows[1:] {
		if len(row) == 0 || normalizeKey(cellString(row[0])) != target {
			continue
		}
		return buildRecord(header, row), true
	}
	return nil, false
}

func buildRecord(header, row []any) Record {
	rec := make(Record, 0, len(header))
	for j, h := range header {
		name := cellString(h)
		if name == "" {
			continue
		}

		var value any
		if j < len(row) {
			value = row[j]
		}

		// A repeated header keeps its first position and takes the later value.
		replaced := false
		for i := range rec {
			if rec[i].Name == name {
				rec[i].Value = value
				replaced = true
				break
			}
		}
		if !replaced {
			rec = append(rec, Field{Name: name, Value: value})
		}
	}
	return rec
}

func normalizeKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func cellString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	default:
		return fmt.Sprint(t)
	}
}
