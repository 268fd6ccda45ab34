package customers

import (
	"errors"
	"time"
)

var (
	// ErrCustomerNotFound indicates an unknown customer id.
	ErrCustomerNotFound = errors.New("customers: customer not found")
	// ErrInvalidCustomer indicates a create payload that fails domain rules.
	ErrInvalidCustomer = errors.New("customers: invalid customer")
)

// Customer tracks a buyer's running balance and unallocated credit.
// Balance is positive when the customer owes money.
type Customer struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Filer       bool      `json:"filer"`
	CreditLimit float64   `json:"credit_limit"`
	Balance     float64   `json:"balance"`
	Credit      float64   `json:"credit"`
	CreatedAt   time.Time `json:"created_at"`
}

// ExceedsLimit reports whether adding amount would push the balance past the
// credit limit. A zero limit means unlimited.
func (c Customer) ExceedsLimit(amount float64) bool {
	if c.CreditLimit <= 0 {
		return false
	}
	return c.Balance+amount > c.CreditLimit
}
