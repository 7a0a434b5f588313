package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sellerlab/wb-search-sync/internal/models"
)

// ErrNoIdentifiers means the catalog query succeeded but returned zero
// nm_ids. Callers must treat this as fatal, not as an empty run.
var ErrNoIdentifiers = errors.New("catalog holds no nm_ids")

const searchTextsTable = "public.wb_search_texts"

var schemaDDL = fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
  load_dttm     timestamptz NOT NULL,
  period_start  date        NOT NULL,
  period_end    date        NOT NULL,
  top_order_by  text        NOT NULL,
  nm_id         bigint      NOT NULL,
  search_text   text        NOT NULL,
  avg_position  double precision,
  open_card     bigint,
  add_to_cart   bigint,
  orders        bigint,
  open_to_cart  double precision,
  cart_to_order double precision,
  open_to_order double precision,
  raw_item      jsonb,
  PRIMARY KEY (period_start, period_end, top_order_by, nm_id, search_text)
)`, searchTextsTable)

// Postgres is the run's single storage handle: key source, upsert sink
// and retention pruning over one pgx pool.
type Postgres struct {
	pool         *pgxpool.Pool
	catalogTable string
}

func Open(ctx context.Context, conninfo, catalogTable string, maxConns int) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(conninfo)
	if err != nil {
		return nil, fmt.Errorf("parse conninfo: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = int32(maxConns)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Postgres{pool: pool, catalogTable: catalogTable}, nil
}

func (s *Postgres) Close() { s.pool.Close() }

// EnsureSchema creates the target table when absent. Idempotent.
func (s *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaDDL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// ListNmIDs returns every distinct catalog identifier, ascending.
func (s *Postgres) ListNmIDs(ctx context.Context) ([]int64, error) {
	q := fmt.Sprintf(
		`SELECT DISTINCT nm_id FROM %s WHERE nm_id IS NOT NULL ORDER BY nm_id`,
		sanitizeTable(s.catalogTable))
	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query catalog %s: %w", s.catalogTable, err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan nm_id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", s.catalogTable, err)
	}
	if len(ids) == 0 {
		return nil, ErrNoIdentifiers
	}
	return ids, nil
}

const upsertSQL = `
INSERT INTO ` + searchTextsTable + ` (
  load_dttm, period_start, period_end, top_order_by, nm_id, search_text,
  avg_position, open_card, add_to_cart, orders,
  open_to_cart, cart_to_order, open_to_order, raw_item
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
ON CONFLICT (period_start, period_end, top_order_by, nm_id, search_text)
DO UPDATE SET
  load_dttm     = EXCLUDED.load_dttm,
  avg_position  = EXCLUDED.avg_position,
  open_card     = EXCLUDED.open_card,
  add_to_cart   = EXCLUDED.add_to_cart,
  orders        = EXCLUDED.orders,
  open_to_cart  = EXCLUDED.open_to_cart,
  cart_to_order = EXCLUDED.cart_to_order,
  open_to_order = EXCLUDED.open_to_order,
  raw_item      = EXCLUDED.raw_item`

// UpsertSearchTexts writes rows in one transaction: all of a call's rows
// commit or none do. Re-running the same rows is safe; the latest write
// wins per key.
func (s *Postgres) UpsertSearchTexts(ctx context.Context, rows []models.SearchTextRow) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin upsert tx: %w", err)
	}
	defer tx.Rollback(ctx)

	b := &pgx.Batch{}
	for _, r := range rows {
		var raw any
		if len(r.Raw) > 0 {
			raw = string(r.Raw)
		}
		b.Queue(upsertSQL,
			r.LoadDttm, r.PeriodStart, r.PeriodEnd, r.TopOrderBy, r.NmID, r.SearchText,
			r.AvgPosition, r.OpenCard, r.AddToCart, r.Orders,
			r.OpenToCart, r.CartToOrder, r.OpenToOrder, raw,
		)
	}
	br := tx.SendBatch(ctx, b)
	for range rows {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return 0, fmt.Errorf("upsert row: %w", err)
		}
	}
	if err := br.Close(); err != nil {
		return 0, fmt.Errorf("close upsert batch: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit upsert tx: %w", err)
	}
	return len(rows), nil
}

// PruneBefore deletes rows whose reporting window ended before cutoff.
func (s *Postgres) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM `+searchTextsTable+` WHERE period_end < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune before %s: %w", cutoff.Format(models.DateLayout), err)
	}
	return tag.RowsAffected(), nil
}

// sanitizeTable quotes a possibly schema-qualified table name.
func sanitizeTable(name string) string {
	parts := strings.Split(name, ".")
	return pgx.Identifier(parts).Sanitize()
}
