package db

import (
	"context"
	"database/sql"
	"fmt"
)

// Source is the read side every aggregation depends on.
type Source interface {
	// FetchPage returns rows of table matching q, plus the
	// exact count of matching rows ignoring Offset/Limit.
	FetchPage(ctx context.Context, table string, q Query) (Page, error)
	// FetchByIDs resolves many ids in batched IN lookups.
	// Missing ids are simply absent from the result.
	FetchByIDs(
		ctx context.Context, table string, ids []string, columns ...string,
	) ([]Row, error)
}

// Store adds the operator mutations to Source.
type Store interface {
	Source
	// DeleteByIDs deletes the given rows that also match every
	// guard filter and returns how many were removed. It does
	// not cascade.
	DeleteByIDs(
		ctx context.Context, table string, ids []string, guards ...Filter,
	) (int, error)
	// UpdateByID sets columns on one row; ErrNotFound when the
	// row does not exist.
	UpdateByID(
		ctx context.Context, table, id string, set map[string]any,
	) error
	// Insert writes rows into table and returns the count.
	Insert(ctx context.Context, table string, rows []Row) (int, error)
	Ping(ctx context.Context) error
	Close() error
}

// FetchPage implements Source.
func (db *DB) FetchPage(
	ctx context.Context, table string, q Query,
) (Page, error) {
	rowsSQL, countSQL, args, err := pageStatements(
		sqliteDialect, table, q,
	)
	if err != nil {
		return Page{}, err
	}

	rows, err := db.queryRows(ctx, rowsSQL, args)
	if err != nil {
		return Page{}, fmt.Errorf("querying %s: %w", table, err)
	}
	page := Page{Rows: rows, TotalCount: len(rows)}
	if q.Limit > 0 || q.Offset > 0 {
		if err := db.reader.QueryRowContext(
			ctx, countSQL, args...,
		).Scan(&page.TotalCount); err != nil {
			return Page{}, fmt.Errorf("counting %s: %w", table, err)
		}
	}
	return page, nil
}

// FetchByIDs implements Source.
func (db *DB) FetchByIDs(
	ctx context.Context, table string, ids []string, columns ...string,
) ([]Row, error) {
	var out []Row
	err := chunked(ids, func(chunk []string) error {
		query, args, err := byIDStatement(
			sqliteDialect, table, chunk, columns,
		)
		if err != nil {
			return err
		}
		rows, err := db.queryRows(ctx, query, args)
		if err != nil {
			return fmt.Errorf("looking up %s: %w", table, err)
		}
		out = append(out, rows...)
		return nil
	})
	return out, err
}

// DeleteByIDs deletes all ids in one transaction, so a failure
// in any chunk leaves every row in place.
func (db *DB) DeleteByIDs(
	ctx context.Context, table string, ids []string, guards ...Filter,
) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	deleted := 0
	err := db.Update(func(tx *sql.Tx) error {
		return chunked(ids, func(chunk []string) error {
			query, args, err := deleteStatement(
				sqliteDialect, table, chunk, guards...,
			)
			if err != nil {
				return err
			}
			res, err := tx.ExecContext(ctx, query, args...)
			if err != nil {
				return fmt.Errorf("deleting from %s: %w", table, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			deleted += int(n)
			return nil
		})
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

// UpdateByID implements Store.
func (db *DB) UpdateByID(
	ctx context.Context, table, id string, set map[string]any,
) error {
	query, args, err := updateStatement(sqliteDialect, table, id, set)
	if err != nil {
		return err
	}
	return db.Update(func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("updating %s %s: %w", table, id, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("%s %s: %w", table, id, ErrNotFound)
		}
		return nil
	})
}

// Insert implements Store. All rows commit together.
func (db *DB) Insert(
	ctx context.Context, table string, rows []Row,
) (int, error) {
	err := db.Update(func(tx *sql.Tx) error {
		for _, r := range rows {
			query, args, err := insertStatement(sqliteDialect, table, r)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, query, args...); err != nil {
				return fmt.Errorf(
					"inserting into %s (id %s): %w",
					table, r.String("id"), err,
				)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}

// queryRows runs a read on the reader pool and scans every
// row into a column map.
func (db *DB) queryRows(
	ctx context.Context, query string, args []any,
) ([]Row, error) {
	rows, err := db.reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out []Row
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		r := make(Row, len(cols))
		for i, c := range cols {
			if b, ok := vals[i].([]byte); ok {
				vals[i] = string(b)
			}
			r[c] = vals[i]
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
