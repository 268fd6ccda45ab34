package customs

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/importdesk/importdesk/internal/platform/db"
	"github.com/importdesk/importdesk/internal/shared"
)

// Repository implements TxRepository on PostgreSQL.
type Repository struct {
	db db.DBTX
}

// NewRepository builds a repository over a pool or transaction.
func NewRepository(conn db.DBTX) *Repository {
	return &Repository{db: conn}
}

const gdColumns = `id, gd_number, importer, port, vessel, bl_number, declared_on, income_tax_rate, landed_cost,
stocked_in, COALESCE(stocked_by, ''), stocked_at, retired_at, COALESCE(retired_by, ''), created_at`

const itemColumns = `id, gd_id, item_id, ordinal, description, hs_code, quantity, unit_price, gross_weight,
custom_duty, acd, sales_tax, gst, ast, income_tax, landed_cost, retail_price, mrp, gross_margin, sale_price`

func (r *Repository) scanGD(row pgx.Row, id int64) (GD, error) {
	var g GD
	err := row.Scan(&g.ID, &g.GDNumber, &g.Importer, &g.Port, &g.Vessel, &g.BLNumber, &g.DeclaredOn,
		&g.IncomeTaxRate, &g.LandedCost, &g.StockedIn, &g.StockedBy, &g.StockedAt, &g.RetiredAt, &g.RetiredBy, &g.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return GD{}, shared.NotFound(ErrGDNotFound, "gd %d", id)
	}
	return g, err
}

// InsertGD stores a header.
func (r *Repository) InsertGD(ctx context.Context, g GD) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `INSERT INTO gds (gd_number, importer, port, vessel, bl_number, declared_on, income_tax_rate, landed_cost)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		g.GDNumber, g.Importer, g.Port, g.Vessel, g.BLNumber, g.DeclaredOn, g.IncomeTaxRate, g.LandedCost).Scan(&id)
	if err != nil && db.IsUniqueViolation(err) {
		return 0, shared.Conflict(ErrDuplicateNumber, "gd number %s", g.GDNumber)
	}
	return id, err
}

// GetGD loads a header.
func (r *Repository) GetGD(ctx context.Context, id int64) (GD, error) {
	return r.scanGD(r.db.QueryRow(ctx, `SELECT `+gdColumns+` FROM gds WHERE id = $1`, id), id)
}

// GetGDForUpdate loads and row-locks a header.
func (r *Repository) GetGDForUpdate(ctx context.Context, id int64) (GD, error) {
	return r.scanGD(r.db.QueryRow(ctx, `SELECT `+gdColumns+` FROM gds WHERE id = $1 FOR UPDATE`, id), id)
}

// InsertCharge stores a charge.
func (r *Repository) InsertCharge(ctx context.Context, c Charge) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `INSERT INTO gd_charges (gd_id, label, amount) VALUES ($1, $2, $3) RETURNING id`,
		c.GDID, c.Label, c.Amount).Scan(&id)
	return id, err
}

// ListCharges returns a GD's charges in insertion order.
func (r *Repository) ListCharges(ctx context.Context, gdID int64) ([]Charge, error) {
	rows, err := r.db.Query(ctx, `SELECT id, gd_id, label, amount FROM gd_charges WHERE gd_id = $1 ORDER BY id`, gdID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Charge
	for rows.Next() {
		var c Charge
		if err := rows.Scan(&c.ID, &c.GDID, &c.Label, &c.Amount); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// InsertItem stores a line with its derived fields.
func (r *Repository) InsertItem(ctx context.Context, it Item) (int64, error) {
	var id int64
	raw := it.Raw
	err := r.db.QueryRow(ctx, `INSERT INTO gd_items (gd_id, item_id, ordinal, description, hs_code, quantity, unit_price, gross_weight,
custom_duty, acd, sales_tax, gst, ast, income_tax, landed_cost, retail_price, mrp, gross_margin, sale_price)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19) RETURNING id`,
		it.GDID, it.ItemID, it.Ordinal, it.Description, it.HSCode, raw.Quantity, raw.UnitPrice, raw.GrossWeight,
		raw.CustomDuty, raw.ACD, raw.SalesTax, raw.GST, raw.AST, raw.IncomeTax,
		it.LandedCost, it.RetailPrice, it.MRP, it.GrossMargin, it.SalePrice).Scan(&id)
	if err != nil && db.IsUniqueViolation(err) {
		return 0, shared.Conflict(ErrDuplicateNumber, "item %s", it.ItemID)
	}
	return id, err
}

// ListItems returns a GD's lines by ordinal.
func (r *Repository) ListItems(ctx context.Context, gdID int64) ([]Item, error) {
	rows, err := r.db.Query(ctx, `SELECT `+itemColumns+` FROM gd_items WHERE gd_id = $1 ORDER BY ordinal`, gdID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Item
	for rows.Next() {
		var it Item
		raw := &it.Raw
		if err := rows.Scan(&it.ID, &it.GDID, &it.ItemID, &it.Ordinal, &it.Description, &it.HSCode,
			&raw.Quantity, &raw.UnitPrice, &raw.GrossWeight, &raw.CustomDuty, &raw.ACD, &raw.SalesTax, &raw.GST, &raw.AST, &raw.IncomeTax,
			&it.LandedCost, &it.RetailPrice, &it.MRP, &it.GrossMargin, &it.SalePrice); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// UpdateItem overwrites raw and derived fields of a line.
func (r *Repository) UpdateItem(ctx context.Context, it Item) error {
	raw := it.Raw
	tag, err := r.db.Exec(ctx, `UPDATE gd_items SET description = $2, quantity = $3, unit_price = $4, gross_weight = $5,
custom_duty = $6, acd = $7, sales_tax = $8, gst = $9, ast = $10, income_tax = $11,
landed_cost = $12, retail_price = $13, mrp = $14, gross_margin = $15, sale_price = $16
WHERE item_id = $1`,
		it.ItemID, it.Description, raw.Quantity, raw.UnitPrice, raw.GrossWeight,
		raw.CustomDuty, raw.ACD, raw.SalesTax, raw.GST, raw.AST, raw.IncomeTax,
		it.LandedCost, it.RetailPrice, it.MRP, it.GrossMargin, it.SalePrice)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFound(ErrItemNotFound, "item %s", it.ItemID)
	}
	return nil
}

// UpdateLandedCost stores the recomputed average and the rate it used.
func (r *Repository) UpdateLandedCost(ctx context.Context, gdID int64, avg, rate float64) error {
	return r.touch(ctx, `UPDATE gds SET landed_cost = $2, income_tax_rate = $3 WHERE id = $1`, gdID, avg, rate)
}

// MarkStocked flags the GD as stocked in.
func (r *Repository) MarkStocked(ctx context.Context, gdID int64, by string, at time.Time) error {
	return r.touch(ctx, `UPDATE gds SET stocked_in = TRUE, stocked_by = $2, stocked_at = $3 WHERE id = $1`, gdID, by, at)
}

// Retire soft-deletes the GD; items and charges stay for audit.
func (r *Repository) Retire(ctx context.Context, gdID int64, by string, at time.Time) error {
	return r.touch(ctx, `UPDATE gds SET retired_at = $3, retired_by = $2 WHERE id = $1 AND retired_at IS NULL`, gdID, by, at)
}

// Reinstate clears the retired flag after returned goods re-enter stock.
func (r *Repository) Reinstate(ctx context.Context, gdID int64) error {
	return r.touch(ctx, `UPDATE gds SET retired_at = NULL, retired_by = NULL WHERE id = $1`, gdID)
}

func (r *Repository) touch(ctx context.Context, sql string, gdID int64, args ...any) error {
	tag, err := r.db.Exec(ctx, sql, append([]any{gdID}, args...)...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFound(ErrGDNotFound, "gd %d", gdID)
	}
	return nil
}
