package ar

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/importdesk/importdesk/internal/platform/db"
)

// Repository provides PostgreSQL backed persistence for payments.
type Repository struct {
	db db.DBTX
}

// NewRepository constructs a repository over a pool or transaction.
func NewRepository(conn db.DBTX) *Repository {
	return &Repository{db: conn}
}

// InsertPayment stores a payment and returns its id.
func (r *Repository) InsertPayment(ctx context.Context, p Payment) (int64, error) {
	var invoice pgtype.Text
	if p.InvoiceNumber != "" {
		invoice = pgtype.Text{String: p.InvoiceNumber, Valid: true}
	}
	var id int64
	err := r.db.QueryRow(ctx, `INSERT INTO payments (customer_id, payment_for, invoice_number, amount, mode, receipt_ref, paid_on)
VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		p.CustomerID, string(p.For), invoice, p.Amount, p.Mode, p.ReceiptRef, p.PaidOn).Scan(&id)
	return id, err
}

// InsertAllocation stores one allocation row.
func (r *Repository) InsertAllocation(ctx context.Context, a Allocation) error {
	_, err := r.db.Exec(ctx, `INSERT INTO payment_allocations (payment_id, invoice_number, amount) VALUES ($1, $2, $3)`,
		a.PaymentID, a.InvoiceNumber, a.Amount)
	return err
}

// AllocatedTotal sums allocations against an invoice.
func (r *Repository) AllocatedTotal(ctx context.Context, invoiceNumber string) (float64, error) {
	var total float64
	err := r.db.QueryRow(ctx, `SELECT COALESCE(SUM(amount), 0)::float8 FROM payment_allocations WHERE invoice_number = $1`,
		invoiceNumber).Scan(&total)
	return total, err
}
