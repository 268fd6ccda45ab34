// Package store binds the per-package transaction ports to one pgx
// transaction.
package store

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/importdesk/importdesk/internal/ar"
	"github.com/importdesk/importdesk/internal/customs"
	"github.com/importdesk/importdesk/internal/inventory"
	"github.com/importdesk/importdesk/internal/platform/db"
	"github.com/importdesk/importdesk/internal/sales"
	"github.com/importdesk/importdesk/internal/sales/customers"
	"github.com/importdesk/importdesk/internal/shared"
)

// Store opens repeatable-read transactions on the pool.
type Store struct {
	pool *pgxpool.Pool
}

// New builds a Store.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// pgTx exposes every repository over the same transaction.
type pgTx struct {
	gds         *customs.Repository
	inventory   *inventory.Repository
	audit       *shared.AuditLogger
	invoices    *sales.Repository
	customers   *customers.Repository
	idempotency *shared.IdempotencyStore
	payments    *ar.Repository
}

func newTx(tx pgx.Tx) *pgTx {
	return &pgTx{
		gds:         customs.NewRepository(tx),
		inventory:   inventory.NewRepository(tx),
		audit:       shared.NewAuditLogger(tx),
		invoices:    sales.NewRepository(tx),
		customers:   customers.NewRepository(tx),
		idempotency: shared.NewIdempotencyStore(tx),
		payments:    ar.NewRepository(tx),
	}
}

func (t *pgTx) GDs() customs.TxRepository                 { return t.gds }
func (t *pgTx) Inventory() inventory.TxRepository         { return t.inventory }
func (t *pgTx) Audit() shared.AuditRecorder               { return t.audit }
func (t *pgTx) Invoices() sales.TxRepository              { return t.invoices }
func (t *pgTx) Customers() customers.TxRepository         { return t.customers }
func (t *pgTx) Idempotency() shared.IdempotencyRepository { return t.idempotency }
func (t *pgTx) Payments() ar.TxRepository                 { return t.payments }

func (s *Store) run(ctx context.Context, fn func(*pgTx) error) error {
	err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(newTx(tx))
	})
	return shared.Persistence(err)
}

// Customs returns the unit of work used by GD workflows.
func (s *Store) Customs() customs.UnitOfWork { return customsUOW{s} }

// Sales returns the unit of work used by invoice and return workflows.
func (s *Store) Sales() sales.UnitOfWork { return salesUOW{s} }

// AR returns the unit of work used by payment workflows.
func (s *Store) AR() ar.UnitOfWork { return arUOW{s} }

type customsUOW struct{ s *Store }

func (u customsUOW) WithTx(ctx context.Context, fn func(context.Context, customs.Tx) error) error {
	return u.s.run(ctx, func(tx *pgTx) error { return fn(ctx, tx) })
}

type salesUOW struct{ s *Store }

func (u salesUOW) WithTx(ctx context.Context, fn func(context.Context, sales.Tx) error) error {
	return u.s.run(ctx, func(tx *pgTx) error { return fn(ctx, tx) })
}

type arUOW struct{ s *Store }

func (u arUOW) WithTx(ctx context.Context, fn func(context.Context, ar.Tx) error) error {
	return u.s.run(ctx, func(tx *pgTx) error { return fn(ctx, tx) })
}
