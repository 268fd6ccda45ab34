package sales_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/importdesk/importdesk/internal/customs"
	"github.com/importdesk/importdesk/internal/inventory"
	"github.com/importdesk/importdesk/internal/platform/lock"
	"github.com/importdesk/importdesk/internal/sales"
	"github.com/importdesk/importdesk/internal/sales/customers"
	"github.com/importdesk/importdesk/internal/shared"
)

func TestCreateInvoiceComputesTotals(t *testing.T) {
	f := newFixture(t, nil)
	number := f.sell(t, 4, 50)
	require.Regexp(t, `^INV-\d{8}-0001$`, number)

	inv, ok := f.store.Invoice(number)
	require.True(t, ok)
	require.InDelta(t, 200, inv.GrossTotal, 1e-9)
	require.InDelta(t, 4*40*0.18, inv.SalesTax, 1e-9)
	require.InDelta(t, 200*sales.DefaultFilerWithholdingRate, inv.WithholdingTax, 1e-9)
	require.InDelta(t, 80, inv.TotalCost, 1e-9)
	require.InDelta(t, 120, inv.GrossProfit, 1e-9)
	require.False(t, inv.IsPaid)

	lines := f.store.InvoiceItems(number)
	require.Len(t, lines, 1)
	require.InDelta(t, 20, lines[0].Cost, 1e-9)
	require.InDelta(t, 40, lines[0].RetailPrice, 1e-9)
	require.InDelta(t, 6, f.remaining(), 1e-9)

	second := f.sell(t, 1, 50)
	require.Regexp(t, `^INV-\d{8}-0002$`, second)
}

func TestCreateInvoiceWithholdingDefaults(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	nonFiler := f.store.AddCustomer(customers.Customer{Name: "Walk-in"})
	in := f.invoiceInput(1, 100)
	in.CustomerID = nonFiler
	number, err := f.svc.CreateInvoice(ctx, in)
	require.NoError(t, err)
	inv, _ := f.store.Invoice(number)
	require.InDelta(t, sales.DefaultNonFilerWithholdingRate, inv.WithholdingRate, 1e-9)
	require.InDelta(t, 1, inv.WithholdingTax, 1e-9)

	override := 0.02
	in = f.invoiceInput(1, 100)
	in.WithholdingRate = &override
	number, err = f.svc.CreateInvoice(ctx, in)
	require.NoError(t, err)
	inv, _ = f.store.Invoice(number)
	require.InDelta(t, 2, inv.WithholdingTax, 1e-9)
}

func TestCreateInvoiceValidation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	cases := map[string]func(*sales.CreateInvoiceInput){
		"missing customer": func(in *sales.CreateInvoiceInput) { in.CustomerID = 0 },
		"bad section":      func(in *sales.CreateInvoiceInput) { in.TaxSection = "999" },
		"no lines":         func(in *sales.CreateInvoiceInput) { in.Items = nil },
		"zero quantity":    func(in *sales.CreateInvoiceInput) { in.Items[0].Quantity = 0 },
		"negative rate":    func(in *sales.CreateInvoiceInput) { in.Items[0].SaleRate = -1 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			in := f.invoiceInput(1, 10)
			mutate(&in)
			_, err := f.svc.CreateInvoice(ctx, in)
			require.ErrorIs(t, err, shared.ErrValidation)
		})
	}
	require.Zero(t, f.store.InvoiceCount())

	in := f.invoiceInput(1, 10)
	in.CustomerID = 999
	_, err := f.svc.CreateInvoice(ctx, in)
	require.ErrorIs(t, err, shared.ErrNotFound)

	in = f.invoiceInput(1, 10)
	in.Items[0].ItemID = "GD-77-0000-9"
	_, err = f.svc.CreateInvoice(ctx, in)
	require.ErrorIs(t, err, sales.ErrUnknownGDItem)
}

func TestCreateInvoiceInsufficientStockWritesNothing(t *testing.T) {
	f := newFixture(t, nil)
	logs := len(f.store.Logs())

	_, err := f.svc.CreateInvoice(context.Background(), f.invoiceInput(11, 50))
	require.ErrorIs(t, err, shared.ErrInsufficientStock)
	require.ErrorIs(t, err, inventory.ErrInsufficientStock)
	require.InDelta(t, 10, f.remaining(), 1e-9)
	require.Len(t, f.store.Logs(), logs)
	require.Zero(t, f.store.InvoiceCount())
}

func TestCreateInvoiceRollsBackDeductionWhenInsertFails(t *testing.T) {
	f := newFixture(t, nil)
	before := f.store.Batches(f.itemID, f.gdID)
	logs := len(f.store.Logs())
	audit := len(f.store.AuditLogs())

	f.store.FailOn("sales.InsertInvoice", errors.New("connection reset"))
	_, err := f.svc.CreateInvoice(context.Background(), f.invoiceInput(10, 50))
	require.ErrorIs(t, err, shared.ErrPersistence)

	require.Equal(t, before, f.store.Batches(f.itemID, f.gdID))
	require.Len(t, f.store.Logs(), logs)
	require.Len(t, f.store.AuditLogs(), audit)
	gd, _ := f.store.GD(f.gdID)
	require.Equal(t, customs.StateStockedIn, gd.State(), "retirement must roll back with the sale")
	require.Zero(t, f.store.InvoiceCount())

	f.store.FailOn("sales.InsertInvoice", nil)
	f.sell(t, 10, 50)
	require.Zero(t, f.remaining())
}

func TestCreateInvoiceRetiresDepletedGD(t *testing.T) {
	f := newFixture(t, nil)
	f.sell(t, 10, 50)

	gd, _ := f.store.GD(f.gdID)
	require.Equal(t, customs.StateRetired, gd.State())
	require.Equal(t, "cashier", gd.RetiredBy)
	require.Empty(t, f.store.Batches(f.itemID, f.gdID))

	var actions []string
	for _, a := range f.store.AuditLogs() {
		actions = append(actions, a.Action)
	}
	require.Contains(t, actions, "gd.retired")

	// Cost basis survives retirement.
	require.Len(t, f.store.GDItems(f.gdID), 1)

	_, err := f.svc.CreateInvoice(context.Background(), f.invoiceInput(1, 50))
	require.ErrorIs(t, err, shared.ErrConflict)
	require.ErrorIs(t, err, customs.ErrRetired)
}

func TestCreateInvoiceIdempotencyKey(t *testing.T) {
	f := newFixture(t, nil)
	in := f.invoiceInput(3, 50)
	in.IdempotencyKey = "c0ffee"

	first, err := f.svc.CreateInvoice(context.Background(), in)
	require.NoError(t, err)
	second, err := f.svc.CreateInvoice(context.Background(), in)
	require.NoError(t, err)

	require.Equal(t, first, second)
	require.Equal(t, 1, f.store.InvoiceCount())
	require.InDelta(t, 7, f.remaining(), 1e-9)
}

func TestCreateInvoiceHonoursStockLock(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	locker := lock.New(rdb, lock.Config{TTL: time.Second}, nil)
	f := newFixture(t, locker)
	f.sell(t, 1, 50)

	other := lock.New(rdb, lock.Config{TTL: time.Second}, nil)
	release, err := other.Acquire(context.Background(), shared.StockLockKey(f.itemID, f.gdID))
	require.NoError(t, err)

	_, err = f.svc.CreateInvoice(context.Background(), f.invoiceInput(1, 50))
	require.ErrorIs(t, err, shared.ErrConflict)
	require.ErrorIs(t, err, lock.ErrBusy)
	require.InDelta(t, 9, f.remaining(), 1e-9)

	release()
	f.sell(t, 1, 50)
	require.InDelta(t, 8, f.remaining(), 1e-9)
}

func TestGDLockSerialisesSalesAndRestockingReturns(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	f := newFixture(t, lock.New(rdb, lock.Config{TTL: time.Second}, nil))
	ctx := context.Background()
	number := f.sell(t, 4, 50)
	line := f.store.InvoiceItems(number)[0].ID

	other := lock.New(rdb, lock.Config{TTL: time.Second}, nil)
	release, err := other.Acquire(ctx, shared.GDLockKey(f.gdID))
	require.NoError(t, err)

	_, err = f.svc.CreateInvoice(ctx, f.invoiceInput(1, 50))
	require.ErrorIs(t, err, lock.ErrBusy)

	_, err = f.svc.CreateReturn(ctx, sales.CreateReturnInput{
		InvoiceNumber: number,
		Items:         []sales.ReturnLine{{InvoiceItemID: line, Quantity: 1, Restock: true}},
		RefundMethod:  sales.RefundCash,
		Actor:         "cashier",
	})
	require.ErrorIs(t, err, lock.ErrBusy)
	require.InDelta(t, 6, f.remaining(), 1e-9)

	// Returns that do not restock leave the GD untouched and skip the lock.
	_, err = f.svc.CreateReturn(ctx, sales.CreateReturnInput{
		InvoiceNumber: number,
		Items:         []sales.ReturnLine{{InvoiceItemID: line, Quantity: 1}},
		RefundMethod:  sales.RefundCash,
		Actor:         "cashier",
	})
	require.NoError(t, err)

	release()
	f.sell(t, 1, 50)
	require.InDelta(t, 5, f.remaining(), 1e-9)
}

func TestGetInvoice(t *testing.T) {
	f := newFixture(t, nil)
	number := f.sell(t, 2, 50)

	out, err := f.svc.GetInvoice(context.Background(), number)
	require.NoError(t, err)
	require.Equal(t, number, out.Invoice.Number)
	require.Len(t, out.Items, 1)
	require.Empty(t, out.Returns)

	_, err = f.svc.GetInvoice(context.Background(), "INV-00000000-0000")
	require.ErrorIs(t, err, shared.ErrNotFound)
}

// gatedUOW parks the first transaction until release is closed.
type gatedUOW struct {
	inner   sales.UnitOfWork
	once    sync.Once
	entered chan context.Context
	release chan struct{}
}

func (g *gatedUOW) WithTx(ctx context.Context, fn func(context.Context, sales.Tx) error) error {
	g.once.Do(func() {
		g.entered <- ctx
		<-g.release
	})
	return g.inner.WithTx(ctx, fn)
}

func TestGetInvoiceSharedReadSurvivesCallerCancel(t *testing.T) {
	f := newFixture(t, nil)
	number := f.sell(t, 2, 50)

	gate := &gatedUOW{inner: f.store.Sales(), entered: make(chan context.Context, 1), release: make(chan struct{})}
	svc := sales.NewService(gate, f.ledger, nil, sales.DefaultConfig(), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := svc.GetInvoice(ctx, number)
		done <- err
	}()

	readCtx := <-gate.entered
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
	require.NoError(t, readCtx.Err())

	close(gate.release)
	out, err := svc.GetInvoice(context.Background(), number)
	require.NoError(t, err)
	require.Equal(t, number, out.Invoice.Number)
}

func TestMarkPaidAndDelete(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	paid := f.sell(t, 2, 50)
	open := f.sell(t, 2, 50)

	paidOn := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	require.NoError(t, f.svc.MarkPaid(ctx, paid, sales.PaymentInfo{BankOrCash: "cash", PayerName: "Bilal", PaidOn: paidOn, ReceiptRef: "R-1"}))
	inv, _ := f.store.Invoice(paid)
	require.True(t, inv.IsPaid)
	require.Equal(t, "R-1", inv.Payment.ReceiptRef)

	require.NoError(t, f.svc.MarkPaid(ctx, paid, sales.PaymentInfo{BankOrCash: "bank", ReceiptRef: "R-2"}))
	inv, _ = f.store.Invoice(paid)
	require.Equal(t, "R-2", inv.Payment.ReceiptRef)

	err := f.svc.DeleteInvoice(ctx, paid)
	require.ErrorIs(t, err, shared.ErrConflict)
	require.ErrorIs(t, err, sales.ErrInvoicePaid)
	_, ok := f.store.Invoice(paid)
	require.True(t, ok)

	require.NoError(t, f.svc.DeleteInvoice(ctx, open))
	_, ok = f.store.Invoice(open)
	require.False(t, ok)
	require.Empty(t, f.store.InvoiceItems(open))

	require.ErrorIs(t, f.svc.DeleteInvoice(ctx, open), shared.ErrNotFound)
}
