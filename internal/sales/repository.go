package sales

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

const invoiceColumns = `invoice_number, customer_id, gd_id, tax_section, withholding_rate, gross_total, sales_tax,
withholding_tax, income_tax_paid, total_cost, gross_profit, is_paid, bank_or_cash, payer_name, paid_on, receipt_ref,
total_refund, total_refund_tax, fully_refunded, created_by, created_at`

func scanInvoice(row pgx.Row) (Invoice, error) {
	var (
		inv                        Invoice
		section                    string
		bankOrCash, payer, receipt *string
		paidOn                     *time.Time
	)
	err := row.Scan(&inv.Number, &inv.CustomerID, &inv.GDID, &section, &inv.WithholdingRate, &inv.GrossTotal, &inv.SalesTax,
		&inv.WithholdingTax, &inv.IncomeTaxPaid, &inv.TotalCost, &inv.GrossProfit, &inv.IsPaid, &bankOrCash, &payer, &paidOn, &receipt,
		&inv.TotalRefund, &inv.TotalRefundTax, &inv.FullyRefunded, &inv.CreatedBy, &inv.CreatedAt)
	if err != nil {
		return Invoice{}, err
	}
	inv.TaxSection = TaxSection(section)
	if inv.IsPaid {
		info := PaymentInfo{}
		if bankOrCash != nil {
			info.BankOrCash = *bankOrCash
		}
		if payer != nil {
			info.PayerName = *payer
		}
		if paidOn != nil {
			info.PaidOn = *paidOn
		}
		if receipt != nil {
			info.ReceiptRef = *receipt
		}
		inv.Payment = &info
	}
	return inv, nil
}

func notFoundInvoice(err error, number string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return shared.NotFound(ErrInvoiceNotFound, "invoice %s", number)
	}
	return err
}

// NextInvoiceSequence bumps and returns the per-day counter.
func (r *Repository) NextInvoiceSequence(ctx context.Context, day time.Time) (int, error) {
	var seq int
	err := r.db.QueryRow(ctx, `INSERT INTO invoice_sequences (day, last) VALUES ($1::date, 1)
ON CONFLICT (day) DO UPDATE SET last = invoice_sequences.last + 1 RETURNING last`, day).Scan(&seq)
	return seq, err
}

// InsertInvoice stores an invoice header.
func (r *Repository) InsertInvoice(ctx context.Context, inv Invoice) error {
	_, err := r.db.Exec(ctx, `INSERT INTO sales_invoices (invoice_number, customer_id, gd_id, tax_section, withholding_rate,
gross_total, sales_tax, withholding_tax, income_tax_paid, total_cost, gross_profit, created_by, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		inv.Number, inv.CustomerID, inv.GDID, string(inv.TaxSection), inv.WithholdingRate,
		inv.GrossTotal, inv.SalesTax, inv.WithholdingTax, inv.IncomeTaxPaid, inv.TotalCost, inv.GrossProfit,
		inv.CreatedBy, inv.CreatedAt)
	return err
}

// InsertInvoiceItem stores an invoice line.
func (r *Repository) InsertInvoiceItem(ctx context.Context, it InvoiceItem) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `INSERT INTO sales_invoice_items (invoice_number, item_id, quantity_sold, sale_rate, retail_price, cost, quantity_returned)
VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		it.InvoiceNumber, it.ItemID, it.QuantitySold, it.SaleRate, it.RetailPrice, it.Cost, it.QuantityReturned).Scan(&id)
	return id, err
}

// GetInvoice loads a header.
func (r *Repository) GetInvoice(ctx context.Context, number string) (Invoice, error) {
	inv, err := scanInvoice(r.db.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM sales_invoices WHERE invoice_number = $1`, number))
	return inv, notFoundInvoice(err, number)
}

// GetInvoiceForUpdate loads and row-locks a header.
func (r *Repository) GetInvoiceForUpdate(ctx context.Context, number string) (Invoice, error) {
	inv, err := scanInvoice(r.db.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM sales_invoices WHERE invoice_number = $1 FOR UPDATE`, number))
	return inv, notFoundInvoice(err, number)
}

// ListInvoiceItems returns lines in insertion order.
func (r *Repository) ListInvoiceItems(ctx context.Context, number string) ([]InvoiceItem, error) {
	rows, err := r.db.Query(ctx, `SELECT id, invoice_number, item_id, quantity_sold, sale_rate, retail_price, cost, quantity_returned
FROM sales_invoice_items WHERE invoice_number = $1 ORDER BY id`, number)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []InvoiceItem
	for rows.Next() {
		var it InvoiceItem
		if err := rows.Scan(&it.ID, &it.InvoiceNumber, &it.ItemID, &it.QuantitySold, &it.SaleRate, &it.RetailPrice, &it.Cost, &it.QuantityReturned); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// UpdateInvoiceTotals persists totals produced by Invoice.ApplyReturn.
func (r *Repository) UpdateInvoiceTotals(ctx context.Context, inv Invoice) error {
	tag, err := r.db.Exec(ctx, `UPDATE sales_invoices SET gross_total = $2, sales_tax = $3, gross_profit = $4,
total_refund = $5, total_refund_tax = $6, fully_refunded = $7 WHERE invoice_number = $1`,
		inv.Number, inv.GrossTotal, inv.SalesTax, inv.GrossProfit, inv.TotalRefund, inv.TotalRefundTax, inv.FullyRefunded)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFound(ErrInvoiceNotFound, "invoice %s", inv.Number)
	}
	return nil
}

// SetQuantityReturned stores the cumulative returned quantity of a line.
func (r *Repository) SetQuantityReturned(ctx context.Context, invoiceItemID int64, quantity float64) error {
	tag, err := r.db.Exec(ctx, `UPDATE sales_invoice_items SET quantity_returned = $2 WHERE id = $1`, invoiceItemID, quantity)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFound(ErrLineNotFound, "line %d", invoiceItemID)
	}
	return nil
}

// MarkPaid sets is_paid and overwrites settlement metadata.
func (r *Repository) MarkPaid(ctx context.Context, number string, info PaymentInfo) error {
	tag, err := r.db.Exec(ctx, `UPDATE sales_invoices SET is_paid = TRUE, bank_or_cash = $2, payer_name = $3, paid_on = $4, receipt_ref = $5
WHERE invoice_number = $1`, number, info.BankOrCash, info.PayerName, info.PaidOn, info.ReceiptRef)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFound(ErrInvoiceNotFound, "invoice %s", number)
	}
	return nil
}

// DeleteInvoice removes a header; lines cascade.
func (r *Repository) DeleteInvoice(ctx context.Context, number string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM sales_invoices WHERE invoice_number = $1`, number)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFound(ErrInvoiceNotFound, "invoice %s", number)
	}
	return nil
}

// InsertReturn appends a return row.
func (r *Repository) InsertReturn(ctx context.Context, ret Return) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `INSERT INTO sales_returns (return_number, invoice_number, invoice_item_id, item_id, quantity,
refund_amount, tax_reversal, restock, refund_method, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) RETURNING id`,
		ret.ReturnNumber, ret.InvoiceNumber, ret.InvoiceItemID, ret.ItemID, ret.Quantity,
		ret.RefundAmount, ret.TaxReversal, ret.Restock, string(ret.RefundMethod), ret.CreatedAt).Scan(&id)
	return id, err
}

// ListReturns returns an invoice's return rows in order.
func (r *Repository) ListReturns(ctx context.Context, number string) ([]Return, error) {
	rows, err := r.db.Query(ctx, `SELECT id, return_number, invoice_number, invoice_item_id, item_id, quantity,
refund_amount, tax_reversal, restock, refund_method, created_at
FROM sales_returns WHERE invoice_number = $1 ORDER BY id`, number)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Return
	for rows.Next() {
		var ret Return
		var method string
		if err := rows.Scan(&ret.ID, &ret.ReturnNumber, &ret.InvoiceNumber, &ret.InvoiceItemID, &ret.ItemID, &ret.Quantity,
			&ret.RefundAmount, &ret.TaxReversal, &ret.Restock, &method, &ret.CreatedAt); err != nil {
			return nil, err
		}
		ret.RefundMethod = RefundMethod(method)
		out = append(out, ret)
	}
	return out, rows.Err()
}

// ReturnedQuantity sums prior returns of a line.
func (r *Repository) ReturnedQuantity(ctx context.Context, invoiceItemID int64) (float64, error) {
	var qty float64
	err := r.db.QueryRow(ctx, `SELECT COALESCE(SUM(quantity), 0) FROM sales_returns WHERE invoice_item_id = $1`, invoiceItemID).Scan(&qty)
	return qty, err
}

// ListUnpaid returns a customer's unpaid invoices, oldest first.
func (r *Repository) ListUnpaid(ctx context.Context, customerID int64, lock bool) ([]Invoice, error) {
	sql := `SELECT ` + invoiceColumns + ` FROM sales_invoices
WHERE customer_id = $1 AND NOT is_paid ORDER BY created_at, invoice_number`
	if lock {
		sql += ` FOR UPDATE`
	}
	rows, err := r.db.Query(ctx, sql, customerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}
