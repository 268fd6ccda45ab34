package sales_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/importdesk/importdesk/internal/customs"
	"github.com/importdesk/importdesk/internal/inventory"
	"github.com/importdesk/importdesk/internal/landedcost"
	"github.com/importdesk/importdesk/internal/sales"
	"github.com/importdesk/importdesk/internal/sales/customers"
	"github.com/importdesk/importdesk/internal/testing/memstore"
)

var stockedAt = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

type fixture struct {
	store      *memstore.Store
	ledger     *inventory.Ledger
	svc        *sales.Service
	customerID int64
	gdID       int64
	itemID     string
}

// newFixture stocks one GD line of 10 units whose retail price works out to
// 40 (7.2 sales tax per unit at 18%) and whose landed cost is 20.
func newFixture(t *testing.T, locker sales.Locker) *fixture {
	t.Helper()
	store := memstore.New()
	ledger := inventory.NewLedger(nil, nil)
	gds := customs.NewService(store.Customs(), ledger, landedcost.DefaultRates(), nil)

	ctx := context.Background()
	res, err := gds.CreateGD(ctx, customs.CreateGDInput{
		Header: customs.Header{GDNumber: "GD-77"},
		Items: []customs.ItemInput{
			{HSCode: "6403", Description: "boots", Raw: landedcost.RawItem{Quantity: 10, UnitPrice: 20, SalesTax: 72}},
		},
	})
	require.NoError(t, err)
	require.NoError(t, gds.StockIn(ctx, res.GDID, "keeper", stockedAt))

	items := store.GDItems(res.GDID)
	require.Len(t, items, 1)
	require.InDelta(t, 40, items[0].RetailPrice, 1e-9)
	require.InDelta(t, 20, items[0].LandedCost, 1e-9)

	customerID := store.AddCustomer(customers.Customer{Name: "Bilal Stores", Filer: true, CreditLimit: 10000})
	return &fixture{
		store:      store,
		ledger:     ledger,
		svc:        sales.NewService(store.Sales(), ledger, locker, sales.DefaultConfig(), nil, nil),
		customerID: customerID,
		gdID:       res.GDID,
		itemID:     items[0].ItemID,
	}
}

func (f *fixture) sell(t *testing.T, qty, rate float64) string {
	t.Helper()
	number, err := f.svc.CreateInvoice(context.Background(), f.invoiceInput(qty, rate))
	require.NoError(t, err)
	return number
}

func (f *fixture) invoiceInput(qty, rate float64) sales.CreateInvoiceInput {
	return sales.CreateInvoiceInput{
		CustomerID: f.customerID,
		GDID:       f.gdID,
		TaxSection: sales.Section236G,
		Items:      []sales.InvoiceLineInput{{ItemID: f.itemID, Quantity: qty, SaleRate: rate}},
		CreatedBy:  "cashier",
	}
}

func (f *fixture) remaining() float64 {
	var total float64
	for _, b := range f.store.Batches(f.itemID, f.gdID) {
		total += b.QuantityRemaining
	}
	return total
}
