package customers

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/importdesk/importdesk/internal/platform/db"
	"github.com/importdesk/importdesk/internal/shared"
)

// TxRepository is the storage port used by customers and by the workflows
// that adjust customer balances inside their own transaction.
type TxRepository interface {
	Create(ctx context.Context, c Customer) (int64, error)
	Get(ctx context.Context, id int64) (Customer, error)
	GetForUpdate(ctx context.Context, id int64) (Customer, error)
	List(ctx context.Context, limit, offset int) ([]Customer, error)
	AdjustBalance(ctx context.Context, id int64, delta float64) error
	AddCredit(ctx context.Context, id int64, delta float64) error
}

// Repository implements TxRepository on PostgreSQL.
type Repository struct {
	db db.DBTX
}

// NewRepository builds a repository over a pool or transaction.
func NewRepository(conn db.DBTX) *Repository {
	return &Repository{db: conn}
}

const customerColumns = `id, name, filer, credit_limit, balance, credit, created_at`

func scanCustomer(row pgx.Row, id int64) (Customer, error) {
	var c Customer
	err := row.Scan(&c.ID, &c.Name, &c.Filer, &c.CreditLimit, &c.Balance, &c.Credit, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Customer{}, shared.NotFound(ErrCustomerNotFound, "customer %d", id)
	}
	return c, err
}

// Create inserts a customer.
func (r *Repository) Create(ctx context.Context, c Customer) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `INSERT INTO customers (name, filer, credit_limit, balance, credit) VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		c.Name, c.Filer, c.CreditLimit, c.Balance, c.Credit).Scan(&id)
	return id, err
}

// Get loads a customer.
func (r *Repository) Get(ctx context.Context, id int64) (Customer, error) {
	return scanCustomer(r.db.QueryRow(ctx, `SELECT `+customerColumns+` FROM customers WHERE id = $1`, id), id)
}

// GetForUpdate loads and row-locks a customer.
func (r *Repository) GetForUpdate(ctx context.Context, id int64) (Customer, error) {
	return scanCustomer(r.db.QueryRow(ctx, `SELECT `+customerColumns+` FROM customers WHERE id = $1 FOR UPDATE`, id), id)
}

// List pages customers by id.
func (r *Repository) List(ctx context.Context, limit, offset int) ([]Customer, error) {
	rows, err := r.db.Query(ctx, `SELECT `+customerColumns+` FROM customers ORDER BY id LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Customer
	for rows.Next() {
		var c Customer
		if err := rows.Scan(&c.ID, &c.Name, &c.Filer, &c.CreditLimit, &c.Balance, &c.Credit, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// AdjustBalance adds delta to the running balance.
func (r *Repository) AdjustBalance(ctx context.Context, id int64, delta float64) error {
	return r.bump(ctx, `UPDATE customers SET balance = balance + $2 WHERE id = $1`, id, delta)
}

// AddCredit adds delta to the unallocated credit pool.
func (r *Repository) AddCredit(ctx context.Context, id int64, delta float64) error {
	return r.bump(ctx, `UPDATE customers SET credit = credit + $2 WHERE id = $1`, id, delta)
}

func (r *Repository) bump(ctx context.Context, sql string, id int64, delta float64) error {
	tag, err := r.db.Exec(ctx, sql, id, delta)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFound(ErrCustomerNotFound, "customer %d", id)
	}
	return nil
}
