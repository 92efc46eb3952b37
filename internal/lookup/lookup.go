// Package lookup resolves foreign keys found in fetched rows with
// one batched query per referenced table.
package lookup

import (
	"context"
	"fmt"
	"sort"

	"github.com/samber/lo"

	"github.com/quizhub/adminview/internal/db"
)

// Unknown is the display value for ids whose referenced row is
// missing.
const Unknown = "Unknown"

// chunkSize bounds bind variables per filtered lookup.
const chunkSize = 500

// CollectKeys returns the distinct non-empty values of the given
// columns across rows, sorted.
func CollectKeys(rows []db.Row, fields ...string) []string {
	keys := make([]string, 0, len(rows))
	for _, r := range rows {
		for _, f := range fields {
			keys = append(keys, r.String(f))
		}
	}
	keys = lo.Uniq(lo.Compact(keys))
	sort.Strings(keys)
	return keys
}

// Table maps an id (or another key column) to its row.
type Table struct {
	rows map[string]db.Row
}

// Fetch batch-loads table rows whose id is in ids. Columns
// limits the projection; "id" is always included.
func Fetch(
	ctx context.Context, src db.Source,
	table string, ids []string, columns ...string,
) (Table, error) {
	return FetchBy(ctx, src, table, "id", ids, columns...)
}

// FetchBy is Fetch keyed by an arbitrary column, for references
// such as profiles.country_code -> countries.code. Lookups by a
// non-id column go through one filtered page read.
func FetchBy(
	ctx context.Context, src db.Source,
	table, key string, values []string, columns ...string,
) (Table, error) {
	t := Table{rows: make(map[string]db.Row, len(values))}
	if len(values) == 0 {
		return t, nil
	}
	if len(columns) > 0 && !lo.Contains(columns, key) {
		columns = append([]string{key}, columns...)
	}

	var rows []db.Row
	var err error
	if key == "id" {
		rows, err = src.FetchByIDs(ctx, table, values, columns...)
	} else {
		for _, chunk := range lo.Chunk(values, chunkSize) {
			var page db.Page
			page, err = src.FetchPage(ctx, table, db.Query{
				Columns: columns,
				Filters: []db.Filter{db.In(key, chunk)},
			})
			if err != nil {
				break
			}
			rows = append(rows, page.Rows...)
		}
	}
	if err != nil {
		return t, fmt.Errorf("resolving %s: %w", table, err)
	}
	for _, r := range rows {
		t.rows[r.String(key)] = r
	}
	return t, nil
}

// Len returns the number of resolved rows.
func (t Table) Len() int { return len(t.rows) }

// Row returns the resolved row for id.
func (t Table) Row(id string) (db.Row, bool) {
	r, ok := t.rows[id]
	return r, ok
}

// Label returns column of the row for id, or Unknown when the
// row is missing or the value is empty.
func (t Table) Label(id, column string) string {
	return t.LabelOr(id, column, Unknown)
}

// LabelOr is Label with a caller-chosen fallback.
func (t Table) LabelOr(id, column, fallback string) string {
	r, ok := t.rows[id]
	if !ok {
		return fallback
	}
	if v := r.String(column); v != "" {
		return v
	}
	return fallback
}
