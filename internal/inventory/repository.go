package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/importdesk/importdesk/internal/platform/db"
	"github.com/importdesk/importdesk/internal/shared"
)

// Repository is the PostgreSQL implementation of both the transactional and
// read ports. Bind it to a pgx.Tx for writes or to the pool for reads.
type Repository struct {
	db db.DBTX
}

// NewRepository builds a repository over conn.
func NewRepository(conn db.DBTX) *Repository {
	return &Repository{db: conn}
}

const batchColumns = `id, item_id, gd_id, quantity_remaining, cost, mrp, source, stocked_by, stocked_at`

func scanBatch(row pgx.Row) (Batch, error) {
	var b Batch
	var source string
	err := row.Scan(&b.ID, &b.ItemID, &b.GDID, &b.QuantityRemaining, &b.Cost, &b.MRP, &source, &b.StockedBy, &b.StockedAt)
	b.Source = Source(source)
	return b, err
}

func collectBatches(rows pgx.Rows) ([]Batch, error) {
	defer rows.Close()
	var out []Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// InsertBatch stores a new batch.
func (r *Repository) InsertBatch(ctx context.Context, b Batch) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `INSERT INTO inventory_batches (item_id, gd_id, quantity_remaining, cost, mrp, source, stocked_by, stocked_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		b.ItemID, b.GDID, b.QuantityRemaining, b.Cost, b.MRP, string(b.Source), b.StockedBy, b.StockedAt).Scan(&id)
	return id, err
}

// LockBatches selects the item's batches for the GD with FOR UPDATE.
func (r *Repository) LockBatches(ctx context.Context, itemID string, gdID int64) ([]Batch, error) {
	rows, err := r.db.Query(ctx, `SELECT `+batchColumns+` FROM inventory_batches
WHERE item_id = $1 AND gd_id = $2 ORDER BY stocked_at, id FOR UPDATE`, itemID, gdID)
	if err != nil {
		return nil, err
	}
	return collectBatches(rows)
}

// UpdateBatchQuantity overwrites quantity_remaining.
func (r *Repository) UpdateBatchQuantity(ctx context.Context, batchID int64, quantity float64) error {
	tag, err := r.db.Exec(ctx, `UPDATE inventory_batches SET quantity_remaining = $2 WHERE id = $1`, batchID, quantity)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFound(ErrBatchNotFound, "batch %d", batchID)
	}
	return nil
}

// DeleteBatch removes an exhausted batch.
func (r *Repository) DeleteBatch(ctx context.Context, batchID int64) error {
	_, err := r.db.Exec(ctx, `DELETE FROM inventory_batches WHERE id = $1`, batchID)
	return err
}

// InsertLog appends a ledger entry.
func (r *Repository) InsertLog(ctx context.Context, e LogEntry) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `INSERT INTO inventory_log (batch_id, item_id, gd_id, delta, resulting_quantity, reason, ref, actor, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`,
		e.BatchID, e.ItemID, e.GDID, e.Delta, e.ResultingQuantity, string(e.Reason), e.Ref, e.Actor, e.CreatedAt).Scan(&id)
	return id, err
}

// CountBatches counts live batches belonging to a GD.
func (r *Repository) CountBatches(ctx context.Context, gdID int64) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM inventory_batches WHERE gd_id = $1`, gdID).Scan(&n)
	return n, err
}

// RepriceBatches rewrites cost and mrp of the item's GD-sourced batches.
func (r *Repository) RepriceBatches(ctx context.Context, itemID string, gdID int64, cost, mrp float64) (int64, error) {
	tag, err := r.db.Exec(ctx, `UPDATE inventory_batches SET cost = $3, mrp = $4
WHERE item_id = $1 AND gd_id = $2 AND source = $5`, itemID, gdID, cost, mrp, string(SourceGD))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// CheapestBatch returns the lowest cost live batch for an item within a GD.
func (r *Repository) CheapestBatch(ctx context.Context, itemID string, gdID int64) (Batch, bool, error) {
	b, err := scanBatch(r.db.QueryRow(ctx, `SELECT `+batchColumns+` FROM inventory_batches
WHERE item_id = $1 AND gd_id = $2 ORDER BY cost, stocked_at, id LIMIT 1`, itemID, gdID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Batch{}, false, nil
	}
	if err != nil {
		return Batch{}, false, err
	}
	return b, true, nil
}

// ListBatches returns live batches for an item, optionally scoped to a GD.
func (r *Repository) ListBatches(ctx context.Context, itemID string, gdID int64) ([]Batch, error) {
	rows, err := r.db.Query(ctx, `SELECT `+batchColumns+` FROM inventory_batches
WHERE item_id = $1 AND ($2::bigint = 0 OR gd_id = $2) ORDER BY stocked_at, id`, itemID, gdID)
	if err != nil {
		return nil, fmt.Errorf("inventory: list batches: %w", err)
	}
	return collectBatches(rows)
}

// StockCard lists log entries for an item.
func (r *Repository) StockCard(ctx context.Context, f StockCardFilter) ([]LogEntry, error) {
	rows, err := r.db.Query(ctx, `SELECT id, batch_id, item_id, gd_id, delta, resulting_quantity, reason, ref, actor, created_at
FROM inventory_log
WHERE item_id = $1 AND ($2::bigint = 0 OR gd_id = $2)
  AND ($3::timestamptz IS NULL OR created_at >= $3)
  AND ($4::timestamptz IS NULL OR created_at <= $4)
ORDER BY id LIMIT $5`, f.ItemID, f.GDID, f.From, f.To, f.Limit)
	if err != nil {
		return nil, fmt.Errorf("inventory: stock card: %w", err)
	}
	defer rows.Close()
	var out []LogEntry
	for rows.Next() {
		var e LogEntry
		var reason string
		if err := rows.Scan(&e.ID, &e.BatchID, &e.ItemID, &e.GDID, &e.Delta, &e.ResultingQuantity, &reason, &e.Ref, &e.Actor, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Reason = Reason(reason)
		out = append(out, e)
	}
	return out, rows.Err()
}

// LedgerTotals aggregates the log and live batches per (item, GD).
func (r *Repository) LedgerTotals(ctx context.Context, itemID string, gdID int64) ([]LedgerTotals, error) {
	rows, err := r.db.Query(ctx, `WITH logs AS (
    SELECT item_id, gd_id,
        COALESCE(SUM(delta) FILTER (WHERE reason = 'stock_in'), 0) AS stocked,
        COALESCE(-SUM(delta) FILTER (WHERE reason = 'sale'), 0) AS consumed,
        COALESCE(SUM(delta) FILTER (WHERE reason = 'restock'), 0) AS restocked
    FROM inventory_log
    WHERE ($1::text = '' OR item_id = $1) AND ($2::bigint = 0 OR gd_id = $2)
    GROUP BY item_id, gd_id
), live AS (
    SELECT item_id, gd_id, SUM(quantity_remaining) AS remaining
    FROM inventory_batches
    WHERE ($1::text = '' OR item_id = $1) AND ($2::bigint = 0 OR gd_id = $2)
    GROUP BY item_id, gd_id
)
SELECT COALESCE(l.item_id, b.item_id), COALESCE(l.gd_id, b.gd_id),
       COALESCE(l.stocked, 0), COALESCE(l.consumed, 0), COALESCE(l.restocked, 0), COALESCE(b.remaining, 0)
FROM logs l
FULL OUTER JOIN live b ON b.item_id = l.item_id AND b.gd_id = l.gd_id
ORDER BY 1, 2`, itemID, gdID)
	if err != nil {
		return nil, fmt.Errorf("inventory: ledger totals: %w", err)
	}
	defer rows.Close()
	var out []LedgerTotals
	for rows.Next() {
		var t LedgerTotals
		if err := rows.Scan(&t.ItemID, &t.GDID, &t.Stocked, &t.Consumed, &t.Restocked, &t.Remaining); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
