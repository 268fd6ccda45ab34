// Package sales issues invoices against GD stock and processes partial
// returns. Invoice totals change after creation only through
// Invoice.ApplyReturn.
package sales

import (
	"context"
	"errors"
	"time"

	"github.com/importdesk/importdesk/internal/customs"
	"github.com/importdesk/importdesk/internal/sales/customers"
	"github.com/importdesk/importdesk/internal/shared"
	"github.com/importdesk/importdesk/internal/shared/money"
)

var (
	ErrInvoiceNotFound  = errors.New("sales: invoice not found")
	ErrInvoicePaid      = errors.New("sales: invoice already paid")
	ErrInvalidInvoice   = errors.New("sales: invalid invoice")
	ErrLineNotFound     = errors.New("sales: invoice line not found")
	ErrOverReturn       = errors.New("sales: return exceeds quantity sold")
	ErrInvalidReturn    = errors.New("sales: invalid return")
	ErrUnknownGDItem    = errors.New("sales: item does not belong to gd")
	ErrCustomerRequired = errors.New("sales: customer required")
)

// TaxSection selects the withholding regime printed on the invoice.
type TaxSection string

const (
	Section236G TaxSection = "236G"
	Section236H TaxSection = "236H"
)

// Valid reports whether s is a supported section.
func (s TaxSection) Valid() bool {
	return s == Section236G || s == Section236H
}

// RefundMethod is how a return is settled with the customer.
type RefundMethod string

const (
	RefundCash   RefundMethod = "cash"
	RefundCredit RefundMethod = "credit"
)

// Valid reports whether m is a supported method.
func (m RefundMethod) Valid() bool {
	return m == RefundCash || m == RefundCredit
}

// PaymentInfo is the settlement metadata stored when an invoice is paid.
type PaymentInfo struct {
	BankOrCash string
	PayerName  string
	PaidOn     time.Time
	ReceiptRef string
}

// Invoice is the invoice aggregate header.
type Invoice struct {
	Number          string
	CustomerID      int64
	GDID            int64
	TaxSection      TaxSection
	WithholdingRate float64
	GrossTotal      float64
	SalesTax        float64
	WithholdingTax  float64
	IncomeTaxPaid   float64
	TotalCost       float64
	GrossProfit     float64
	IsPaid          bool
	Payment         *PaymentInfo
	TotalRefund     float64
	TotalRefundTax  float64
	FullyRefunded   bool
	CreatedBy       string
	CreatedAt       time.Time
}

// TotalsAdjustment is the single message through which a return changes an
// invoice after creation.
type TotalsAdjustment struct {
	Refund        float64
	TaxReversal   float64
	FullyRefunded bool
}

// ApplyReturn reduces the invoice totals by one return event and accumulates
// the refund counters.
func (inv *Invoice) ApplyReturn(adj TotalsAdjustment) {
	inv.GrossTotal = money.Round2(inv.GrossTotal - adj.Refund)
	inv.SalesTax = money.Round2(inv.SalesTax - adj.TaxReversal)
	inv.GrossProfit = money.Round2(inv.GrossProfit - (adj.Refund - adj.TaxReversal))
	inv.TotalRefund = money.Round2(inv.TotalRefund + adj.Refund)
	inv.TotalRefundTax = money.Round2(inv.TotalRefundTax + adj.TaxReversal)
	inv.FullyRefunded = adj.FullyRefunded
}

// InvoiceItem is one sold line. Cost is the FIFO cost consumed per unit.
type InvoiceItem struct {
	ID               int64
	InvoiceNumber    string
	ItemID           string
	QuantitySold     float64
	SaleRate         float64
	RetailPrice      float64
	Cost             float64
	QuantityReturned float64
}

// Outstanding is the quantity still eligible for return.
func (it InvoiceItem) Outstanding() float64 {
	return it.QuantitySold - it.QuantityReturned
}

// Return is an immutable record of one returned line.
type Return struct {
	ID            int64
	ReturnNumber  string
	InvoiceNumber string
	InvoiceItemID int64
	ItemID        string
	Quantity      float64
	RefundAmount  float64
	TaxReversal   float64
	Restock       bool
	RefundMethod  RefundMethod
	CreatedAt     time.Time
}

// InvoiceLineInput is one requested sale line.
type InvoiceLineInput struct {
	ItemID   string
	Quantity float64
	SaleRate float64
}

// CreateInvoiceInput is a sale request against one GD.
type CreateInvoiceInput struct {
	CustomerID      int64
	GDID            int64
	Items           []InvoiceLineInput
	WithholdingRate *float64
	TaxSection      TaxSection
	CreatedBy       string
	IdempotencyKey  string
}

// InvoiceWithItems is the read model of an invoice.
type InvoiceWithItems struct {
	Invoice Invoice
	Items   []InvoiceItem
	Returns []Return
}

// ReturnLine asks to return quantity of one invoice line.
type ReturnLine struct {
	InvoiceItemID int64
	Quantity      float64
	Restock       bool
}

// CreateReturnInput is a batch of lines returned together.
type CreateReturnInput struct {
	InvoiceNumber  string
	Items          []ReturnLine
	RefundMethod   RefundMethod
	Actor          string
	IdempotencyKey string
}

// ReturnResult summarises a committed return.
type ReturnResult struct {
	ReturnNumber  string  `json:"return_number"`
	RefundAmount  float64 `json:"refund_amount"`
	RefundTax     float64 `json:"refund_tax"`
	FullyReturned bool    `json:"fully_returned"`
}

// TxRepository is the invoice storage port bound to one transaction.
type TxRepository interface {
	NextInvoiceSequence(ctx context.Context, day time.Time) (int, error)
	InsertInvoice(ctx context.Context, inv Invoice) error
	InsertInvoiceItem(ctx context.Context, item InvoiceItem) (int64, error)
	GetInvoice(ctx context.Context, number string) (Invoice, error)
	GetInvoiceForUpdate(ctx context.Context, number string) (Invoice, error)
	ListInvoiceItems(ctx context.Context, number string) ([]InvoiceItem, error)
	UpdateInvoiceTotals(ctx context.Context, inv Invoice) error
	SetQuantityReturned(ctx context.Context, invoiceItemID int64, quantity float64) error
	MarkPaid(ctx context.Context, number string, info PaymentInfo) error
	DeleteInvoice(ctx context.Context, number string) error
	InsertReturn(ctx context.Context, ret Return) (int64, error)
	ListReturns(ctx context.Context, number string) ([]Return, error)
	ReturnedQuantity(ctx context.Context, invoiceItemID int64) (float64, error)
	// ListUnpaid returns a customer's unpaid invoices oldest first, row-locked
	// when lock is set.
	ListUnpaid(ctx context.Context, customerID int64, lock bool) ([]Invoice, error)
}

// Tx groups every repository a sale or return touches atomically.
type Tx interface {
	customs.Tx
	Invoices() TxRepository
	Customers() customers.TxRepository
	Idempotency() shared.IdempotencyRepository
}

// UnitOfWork runs fn in one transaction, committing only when fn succeeds.
type UnitOfWork interface {
	WithTx(ctx context.Context, fn func(context.Context, Tx) error) error
}
