package ar_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/importdesk/importdesk/internal/ar"
	"github.com/importdesk/importdesk/internal/sales"
	"github.com/importdesk/importdesk/internal/sales/customers"
	"github.com/importdesk/importdesk/internal/shared"
	"github.com/importdesk/importdesk/internal/testing/memstore"
)

var day = time.Date(2024, 4, 1, 10, 0, 0, 0, time.UTC)

func seedInvoice(t *testing.T, store *memstore.Store, number string, customerID int64, gross float64, createdAt time.Time) {
	t.Helper()
	err := store.Sales().WithTx(context.Background(), func(ctx context.Context, tx sales.Tx) error {
		return tx.Invoices().InsertInvoice(ctx, sales.Invoice{
			Number:     number,
			CustomerID: customerID,
			GDID:       1,
			TaxSection: sales.Section236G,
			GrossTotal: gross,
			CreatedAt:  createdAt,
		})
	})
	require.NoError(t, err)
}

func TestAllocateCustomerPaymentOldestFirst(t *testing.T) {
	store := memstore.New()
	svc := ar.NewService(store.AR(), nil)
	customerID := store.AddCustomer(customers.Customer{Name: "Noor Traders"})

	// Seeded out of order; allocation follows creation time.
	seedInvoice(t, store, "INV-20240302-0001", customerID, 700, day.AddDate(0, 0, 1))
	seedInvoice(t, store, "INV-20240301-0001", customerID, 600, day)

	res, err := svc.AllocateCustomerPayment(context.Background(), ar.AllocateInput{CustomerID: customerID, Amount: 1000, Mode: "bank"})
	require.NoError(t, err)
	require.NotZero(t, res.PaymentID)
	require.Zero(t, res.Unallocated)
	require.Len(t, res.Allocations, 2)

	require.Equal(t, "INV-20240301-0001", res.Allocations[0].InvoiceNumber)
	require.InDelta(t, 600, res.Allocations[0].Amount, 1e-9)
	require.True(t, res.Allocations[0].Settled)
	require.Equal(t, "INV-20240302-0001", res.Allocations[1].InvoiceNumber)
	require.InDelta(t, 400, res.Allocations[1].Amount, 1e-9)
	require.False(t, res.Allocations[1].Settled)

	first, _ := store.Invoice("INV-20240301-0001")
	require.True(t, first.IsPaid)
	require.Equal(t, "bank", first.Payment.BankOrCash)
	second, _ := store.Invoice("INV-20240302-0001")
	require.False(t, second.IsPaid)

	payments := store.Payments()
	require.Len(t, payments, 1)
	require.Equal(t, ar.PaymentForCustomer, payments[0].For)
	require.Len(t, store.Allocations(), 2)
	require.Zero(t, store.Customer(customerID).Credit)

	// The next payment sees the 400 already allocated and settles the rest.
	res, err = svc.AllocateCustomerPayment(context.Background(), ar.AllocateInput{CustomerID: customerID, Amount: 500})
	require.NoError(t, err)
	require.Len(t, res.Allocations, 1)
	require.InDelta(t, 300, res.Allocations[0].Amount, 1e-9)
	require.InDelta(t, 300, res.Allocations[0].Due, 1e-9)
	require.True(t, res.Allocations[0].Settled)
	require.InDelta(t, 200, res.Unallocated, 1e-9)
	require.InDelta(t, 200, store.Customer(customerID).Credit, 1e-9)

	second, _ = store.Invoice("INV-20240302-0001")
	require.True(t, second.IsPaid)
}

func TestAllocateCustomerPaymentValidation(t *testing.T) {
	store := memstore.New()
	svc := ar.NewService(store.AR(), nil)
	ctx := context.Background()

	_, err := svc.AllocateCustomerPayment(ctx, ar.AllocateInput{Amount: 10})
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = svc.AllocateCustomerPayment(ctx, ar.AllocateInput{CustomerID: 1, Amount: 0})
	require.ErrorIs(t, err, shared.ErrValidation)
	customerID := store.AddCustomer(customers.Customer{Name: "Noor Traders"})
	_, err = svc.AllocateCustomerPayment(ctx, ar.AllocateInput{CustomerID: customerID, Amount: 0.004})
	require.ErrorIs(t, err, shared.ErrValidation)
	require.ErrorIs(t, err, ar.ErrInvalidPayment)
	_, err = svc.AllocateCustomerPayment(ctx, ar.AllocateInput{CustomerID: 404, Amount: 10})
	require.ErrorIs(t, err, shared.ErrNotFound)
	require.Empty(t, store.Payments())
	require.Zero(t, store.Customer(customerID).Credit)
}

func TestAllocateCustomerPaymentRollsBack(t *testing.T) {
	store := memstore.New()
	svc := ar.NewService(store.AR(), nil)
	customerID := store.AddCustomer(customers.Customer{Name: "Noor Traders"})
	seedInvoice(t, store, "INV-1", customerID, 600, day)
	seedInvoice(t, store, "INV-2", customerID, 700, day.Add(time.Hour))

	store.FailOn("ar.InsertAllocation", errors.New("write timeout"))
	_, err := svc.AllocateCustomerPayment(context.Background(), ar.AllocateInput{CustomerID: customerID, Amount: 1000})
	require.ErrorIs(t, err, shared.ErrPersistence)

	inv, _ := store.Invoice("INV-1")
	require.False(t, inv.IsPaid)
	require.Empty(t, store.Payments())
	require.Empty(t, store.Allocations())
}

func TestRecordInvoicePayment(t *testing.T) {
	store := memstore.New()
	svc := ar.NewService(store.AR(), nil)
	ctx := context.Background()
	customerID := store.AddCustomer(customers.Customer{Name: "Noor Traders"})
	seedInvoice(t, store, "INV-1", customerID, 600, day)

	// A sub-cent amount is not a request to settle.
	_, err := svc.RecordInvoicePayment(ctx, ar.InvoicePaymentInput{InvoiceNumber: "INV-1", Amount: 0.004, Mode: "cash"})
	require.ErrorIs(t, err, shared.ErrValidation)
	require.ErrorIs(t, err, ar.ErrInvalidPayment)
	inv, _ := store.Invoice("INV-1")
	require.False(t, inv.IsPaid)
	require.Empty(t, store.Payments())

	alloc, err := svc.RecordInvoicePayment(ctx, ar.InvoicePaymentInput{InvoiceNumber: "INV-1", Amount: 250, Mode: "cash"})
	require.NoError(t, err)
	require.False(t, alloc.Settled)
	inv, _ = store.Invoice("INV-1")
	require.False(t, inv.IsPaid)

	// Zero amount settles whatever is left.
	alloc, err = svc.RecordInvoicePayment(ctx, ar.InvoicePaymentInput{InvoiceNumber: "INV-1", Mode: "cash", ReceiptRef: "R-9"})
	require.NoError(t, err)
	require.True(t, alloc.Settled)
	require.InDelta(t, 350, alloc.Amount, 1e-9)
	inv, _ = store.Invoice("INV-1")
	require.True(t, inv.IsPaid)
	require.Equal(t, "R-9", inv.Payment.ReceiptRef)

	payments := store.Payments()
	require.Len(t, payments, 2)
	require.Equal(t, ar.PaymentForInvoice, payments[1].For)
	require.Equal(t, "INV-1", payments[1].InvoiceNumber)

	_, err = svc.RecordInvoicePayment(ctx, ar.InvoicePaymentInput{InvoiceNumber: "INV-1", Amount: 10})
	require.ErrorIs(t, err, shared.ErrConflict)
	require.ErrorIs(t, err, ar.ErrAlreadyPaid)

	seedInvoice(t, store, "INV-2", customerID, 100, day)
	alloc, err = svc.RecordInvoicePayment(ctx, ar.InvoicePaymentInput{InvoiceNumber: "INV-2", Amount: 130})
	require.NoError(t, err)
	require.True(t, alloc.Settled)
	require.InDelta(t, 100, alloc.Amount, 1e-9)
	require.InDelta(t, 30, store.Customer(customerID).Credit, 1e-9)

	_, err = svc.RecordInvoicePayment(ctx, ar.InvoicePaymentInput{InvoiceNumber: "INV-404"})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestCalculateAging(t *testing.T) {
	store := memstore.New()
	svc := ar.NewService(store.AR(), nil)
	ctx := context.Background()
	customerID := store.AddCustomer(customers.Customer{Name: "Noor Traders"})

	asOf := day.AddDate(0, 0, 100)
	seedInvoice(t, store, "INV-A", customerID, 100, asOf)
	seedInvoice(t, store, "INV-B", customerID, 200, asOf.AddDate(0, 0, -20))
	seedInvoice(t, store, "INV-C", customerID, 300, asOf.AddDate(0, 0, -45))
	seedInvoice(t, store, "INV-D", customerID, 400, asOf.AddDate(0, 0, -75))
	seedInvoice(t, store, "INV-E", customerID, 500, day)

	_, err := svc.RecordInvoicePayment(ctx, ar.InvoicePaymentInput{InvoiceNumber: "INV-B", Amount: 50})
	require.NoError(t, err)

	bucket, err := svc.CalculateAging(ctx, customerID, asOf)
	require.NoError(t, err)
	require.Equal(t, ar.AgingBucket{Current: 100, Bucket30: 150, Bucket60: 300, Bucket90: 400, Bucket120: 500}, bucket)
	require.InDelta(t, 1450, bucket.Total(), 1e-9)

	_, err = svc.CalculateAging(ctx, 404, asOf)
	require.ErrorIs(t, err, shared.ErrNotFound)
}
