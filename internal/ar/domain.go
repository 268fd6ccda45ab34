// Package ar allocates customer payments against unpaid invoices and reports
// receivable aging.
package ar

import (
	"context"
	"errors"
	"time"

	"github.com/importdesk/importdesk/internal/sales"
	"github.com/importdesk/importdesk/internal/sales/customers"
)

var (
	ErrInvalidPayment = errors.New("ar: invalid payment")
	ErrAlreadyPaid    = errors.New("ar: invoice already paid")
)

// PaymentFor records what a payment was made against.
type PaymentFor string

const (
	PaymentForCustomer PaymentFor = "customer"
	PaymentForInvoice  PaymentFor = "invoice"
)

// Payment is a received amount.
type Payment struct {
	ID            int64
	CustomerID    int64
	For           PaymentFor
	InvoiceNumber string
	Amount        float64
	Mode          string
	ReceiptRef    string
	PaidOn        time.Time
	CreatedAt     time.Time
}

// Allocation is the share of a payment applied to one invoice.
type Allocation struct {
	PaymentID     int64   `json:"payment_id"`
	InvoiceNumber string  `json:"invoice_number"`
	Amount        float64 `json:"amount"`
	Due           float64 `json:"due"`
	Settled       bool    `json:"settled"`
}

// AllocateInput is a lump-sum payment from a customer.
type AllocateInput struct {
	CustomerID int64
	Amount     float64
	Mode       string
	PayerName  string
	ReceiptRef string
	PaidOn     time.Time
}

// AllocationResult reports how a payment was spread.
type AllocationResult struct {
	PaymentID   int64        `json:"payment_id"`
	Allocations []Allocation `json:"allocations"`
	Unallocated float64      `json:"unallocated"`
}

// InvoicePaymentInput pays one invoice directly. A zero Amount settles the
// outstanding due.
type InvoicePaymentInput struct {
	InvoiceNumber string
	Amount        float64
	Mode          string
	PayerName     string
	ReceiptRef    string
	PaidOn        time.Time
}

// AgingBucket groups outstanding receivables by days since invoicing.
type AgingBucket struct {
	Current   float64 `json:"current"`
	Bucket30  float64 `json:"bucket_30"`
	Bucket60  float64 `json:"bucket_60"`
	Bucket90  float64 `json:"bucket_90"`
	Bucket120 float64 `json:"bucket_120"`
}

// Total sums every bucket.
func (b AgingBucket) Total() float64 {
	return b.Current + b.Bucket30 + b.Bucket60 + b.Bucket90 + b.Bucket120
}

// TxRepository is the payment storage port bound to one transaction.
type TxRepository interface {
	InsertPayment(ctx context.Context, p Payment) (int64, error)
	InsertAllocation(ctx context.Context, a Allocation) error
	// AllocatedTotal sums prior allocations against an invoice.
	AllocatedTotal(ctx context.Context, invoiceNumber string) (float64, error)
}

// Tx groups the repositories a payment touches atomically.
type Tx interface {
	Payments() TxRepository
	Invoices() sales.TxRepository
	Customers() customers.TxRepository
}

// UnitOfWork runs fn in one transaction, committing only when fn succeeds.
type UnitOfWork interface {
	WithTx(ctx context.Context, fn func(context.Context, Tx) error) error
}
