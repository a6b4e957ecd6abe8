package checkpoint

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type rowQuerier interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
}

// PostgresStore keeps the cursor in the single-row crawl_checkpoint table.
type PostgresStore struct {
	db       rowQuerier
	fallback Cursor
}

// NewPostgresStore builds a PostgresStore over an existing pool.
func NewPostgresStore(db rowQuerier, fallback Cursor) (*PostgresStore, error) {
	if db == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &PostgresStore{db: db, fallback: fallback}, nil
}

// Load reads the cursor row, returning the fallback when none exists yet.
func (s *PostgresStore) Load(ctx context.Context) (Cursor, error) {
	var c Cursor
	err := s.db.QueryRow(ctx,
		`SELECT year, month, market_index, page FROM crawl_checkpoint WHERE id = 1`,
	).Scan(&c.Year, &c.Month, &c.MarketIndex, &c.Page)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return s.fallback, nil
		}
		return Cursor{}, fmt.Errorf("load checkpoint: %w", err)
	}
	return c.Normalize(), nil
}

// Save upserts the cursor row.
func (s *PostgresStore) Save(ctx context.Context, c Cursor) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO crawl_checkpoint (id, year, month, market_index, page, updated_at)
		VALUES (1, $1, $2, $3, $4, NOW())
		ON CONFLICT (id) DO UPDATE SET
			year = EXCLUDED.year,
			month = EXCLUDED.month,
			market_index = EXCLUDED.market_index,
			page = EXCLUDED.page,
			updated_at = NOW()
	`, c.Year, c.Month, c.MarketIndex, c.Page)
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}
