// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/disclosure-monitor/internal/crawler"
	"github.com/JakeFAU/disclosure-monitor/internal/store"
)

// PoolConfig controls the Postgres connection pool.
type PoolConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// NewPool opens a pgx pool using cfg.
func NewPool(ctx context.Context, cfg PoolConfig) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return pool, nil
}

type pgxPool interface {
	Begin(context.Context) (pgx.Tx, error)
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
}

// DisclosureStore writes disclosures and their alerts.
type DisclosureStore struct {
	pool pgxPool
}

// NewDisclosureStore constructs a store over an existing pool.
func NewDisclosureStore(pool pgxPool) (*DisclosureStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &DisclosureStore{pool: pool}, nil
}

const insertColumns = `market, company_code, company_name, publish_date, publish_time,
	subject, content, source_date, raw_onclick_params`

const insertIgnoreSQL = `
INSERT INTO disclosures (` + insertColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (company_code, publish_date, publish_time, subject) DO NOTHING
RETURNING id`

const insertUpdateNameSQL = `
INSERT INTO disclosures (` + insertColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (company_code, publish_date, publish_time, subject)
DO UPDATE SET company_name = EXCLUDED.company_name
RETURNING id, (xmax = 0) AS inserted`

const selectIDSQL = `
SELECT id FROM disclosures
WHERE company_code = $1 AND publish_date = $2 AND publish_time = $3 AND subject = $4`

const insertAlertSQL = `
INSERT INTO alerts (disclosure_id, matched_keyword)
VALUES ($1, $2)
ON CONFLICT (disclosure_id, matched_keyword) DO NOTHING`

// Save upserts the disclosure under req.Conflict and, when req.AlertMode
// allows, records an alert per keyword. Everything commits together.
func (s *DisclosureStore) Save(ctx context.Context, req crawler.WriteRequest) (crawler.WriteResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return crawler.WriteResult{}, fmt.Errorf("begin disclosure tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	id, inserted, err := upsertDisclosure(ctx, tx, req)
	if err != nil {
		return crawler.WriteResult{}, err
	}
	res := crawler.WriteResult{ID: id, Inserted: inserted}

	deriveAlerts := id != 0 && (inserted || req.AlertMode == crawler.AlertsOnUpsert)
	if deriveAlerts && len(req.Keywords) > 0 {
		res.AlertsCreated, err = insertAlerts(ctx, tx, id, req.Keywords)
		if err != nil {
			return crawler.WriteResult{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return crawler.WriteResult{}, fmt.Errorf("commit disclosure: %w", err)
	}
	committed = true
	return res, nil
}

func upsertDisclosure(ctx context.Context, tx pgx.Tx, req crawler.WriteRequest) (int64, bool, error) {
	d := req.Disclosure
	args := []any{
		d.Market,
		d.CompanyCode,
		d.CompanyName,
		d.PublishDate,
		d.PublishTime,
		d.Subject,
		d.Content,
		d.SourceDate,
		d.RawParams,
	}

	var id int64
	if req.Conflict == crawler.ConflictUpdateName {
		var inserted bool
		if err := tx.QueryRow(ctx, insertUpdateNameSQL, args...).Scan(&id, &inserted); err != nil {
			return 0, false, fmt.Errorf("upsert disclosure: %w", err)
		}
		return id, inserted, nil
	}

	err := tx.QueryRow(ctx, insertIgnoreSQL, args...).Scan(&id)
	switch {
	case err == nil:
		return id, true, nil
	case !errors.Is(err, pgx.ErrNoRows):
		return 0, false, fmt.Errorf("insert disclosure: %w", err)
	case req.AlertMode != crawler.AlertsOnUpsert:
		return 0, false, nil
	}
	if err := tx.QueryRow(ctx, selectIDSQL, d.CompanyCode, d.PublishDate, d.PublishTime, d.Subject).Scan(&id); err != nil {
		return 0, false, fmt.Errorf("lookup existing disclosure: %w", err)
	}
	return id, false, nil
}

type execer interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
}

func insertAlerts(ctx context.Context, db execer, id int64, keywords []string) ([]string, error) {
	var created []string
	for _, kw := range keywords {
		tag, err := db.Exec(ctx, insertAlertSQL, id, kw)
		if err != nil {
			return nil, fmt.Errorf("insert alert %q: %w", kw, err)
		}
		if tag.RowsAffected() > 0 {
			created = append(created, kw)
		}
	}
	return created, nil
}

// ListDisclosureTexts returns up to limit disclosures with id > afterID in
// ascending id order.
func (s *DisclosureStore) ListDisclosureTexts(ctx context.Context, afterID int64, limit int) ([]crawler.DisclosureText, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, subject, content FROM disclosures WHERE id > $1 ORDER BY id LIMIT $2`,
		afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("list disclosures: %w", err)
	}
	defer rows.Close()

	var out []crawler.DisclosureText
	for rows.Next() {
		var t crawler.DisclosureText
		if err := rows.Scan(&t.ID, &t.Subject, &t.Content); err != nil {
			return nil, fmt.Errorf("scan disclosure: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate disclosures: %w", err)
	}
	return out, nil
}

// InsertAlerts records alerts for an existing disclosure and returns the
// keywords that were new.
func (s *DisclosureStore) InsertAlerts(ctx context.Context, disclosureID int64, keywords []string) ([]string, error) {
	if len(keywords) == 0 {
		return nil, nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin alert tx: %w", err)
	}
	created, err := insertAlerts(ctx, tx, disclosureID, keywords)
	if err != nil {
		_ = tx.Rollback(ctx)
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit alerts: %w", err)
	}
	return created, nil
}

// RecentAlerts returns the newest alerts first.
func (s *DisclosureStore) RecentAlerts(ctx context.Context, limit int) ([]store.AlertView, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT a.id, a.disclosure_id, a.matched_keyword, a.created_at,
			d.market, d.company_code, d.company_name,
			to_char(d.publish_date, 'YYYY-MM-DD'), d.publish_time, d.subject
		FROM alerts a
		JOIN disclosures d ON d.id = a.disclosure_id
		ORDER BY a.id DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()

	var out []store.AlertView
	for rows.Next() {
		var a store.AlertView
		if err := rows.Scan(
			&a.ID, &a.DisclosureID, &a.Keyword, &a.CreatedAt,
			&a.Market, &a.CompanyCode, &a.CompanyName,
			&a.PublishDate, &a.PublishTime, &a.Subject,
		); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate alerts: %w", err)
	}
	return out, nil
}
