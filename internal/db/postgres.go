package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PG reads and writes the platform tables on the hosted
// Postgres database directly.
type PG struct {
	pool *pgxpool.Pool
}

var _ Store = (*PG)(nil)

// OpenPostgres creates a connection pool and verifies it.
func OpenPostgres(ctx context.Context, dbURL string) (*PG, error) {
	if dbURL == "" {
		return nil, errors.New("database url is empty")
	}
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return nil, fmt.Errorf("creating pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return &PG{pool: pool}, nil
}

// Close closes the pool.
func (p *PG) Close() error {
	p.pool.Close()
	return nil
}

// Ping checks connectivity.
func (p *PG) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// FetchPage implements Source.
func (p *PG) FetchPage(
	ctx context.Context, table string, q Query,
) (Page, error) {
	rowsSQL, countSQL, args, err := pageStatements(
		postgresDialect, table, q,
	)
	if err != nil {
		return Page{}, err
	}
	rows, err := p.queryRows(ctx, rowsSQL, args)
	if err != nil {
		return Page{}, fmt.Errorf("querying %s: %w", table, err)
	}
	page := Page{Rows: rows, TotalCount: len(rows)}
	if q.Limit > 0 || q.Offset > 0 {
		var total int64
		if err := p.pool.QueryRow(
			ctx, countSQL, args...,
		).Scan(&total); err != nil {
			return Page{}, fmt.Errorf("counting %s: %w", table, err)
		}
		page.TotalCount = int(total)
	}
	return page, nil
}

// FetchByIDs implements Source.
func (p *PG) FetchByIDs(
	ctx context.Context, table string, ids []string, columns ...string,
) ([]Row, error) {
	var out []Row
	err := chunked(ids, func(chunk []string) error {
		query, args, err := byIDStatement(
			postgresDialect, table, chunk, columns,
		)
		if err != nil {
			return err
		}
		rows, err := p.queryRows(ctx, query, args)
		if err != nil {
			return fmt.Errorf("looking up %s: %w", table, err)
		}
		out = append(out, rows...)
		return nil
	})
	return out, err
}

// DeleteByIDs implements Store inside one transaction.
func (p *PG) DeleteByIDs(
	ctx context.Context, table string, ids []string, guards ...Filter,
) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	deleted := 0
	err := p.inTx(ctx, func(tx pgx.Tx) error {
		return chunked(ids, func(chunk []string) error {
			query, args, err := deleteStatement(
				postgresDialect, table, chunk, guards...,
			)
			if err != nil {
				return err
			}
			tag, err := tx.Exec(ctx, query, args...)
			if err != nil {
				return fmt.Errorf("deleting from %s: %w", table, err)
			}
			deleted += int(tag.RowsAffected())
			return nil
		})
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

// UpdateByID implements Store.
func (p *PG) UpdateByID(
	ctx context.Context, table, id string, set map[string]any,
) error {
	query, args, err := updateStatement(postgresDialect, table, id, set)
	if err != nil {
		return err
	}
	tag, err := p.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating %s %s: %w", table, id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s %s: %w", table, id, ErrNotFound)
	}
	return nil
}

// Insert implements Store.
func (p *PG) Insert(
	ctx context.Context, table string, rows []Row,
) (int, error) {
	err := p.inTx(ctx, func(tx pgx.Tx) error {
		for _, r := range rows {
			query, args, err := insertStatement(postgresDialect, table, r)
			if err != nil {
				return err
			}
			if _, err := tx.Exec(ctx, query, args...); err != nil {
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

func (p *PG) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (p *PG) queryRows(
	ctx context.Context, query string, args []any,
) ([]Row, error) {
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	var out []Row
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		r := make(Row, len(fields))
		for i, f := range fields {
			r[f.Name] = vals[i]
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
