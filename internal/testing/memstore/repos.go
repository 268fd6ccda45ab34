package memstore

import (
	"context"
	"sort"
	"time"

	"github.com/importdesk/importdesk/internal/ar"
	"github.com/importdesk/importdesk/internal/customs"
	"github.com/importdesk/importdesk/internal/inventory"
	"github.com/importdesk/importdesk/internal/sales"
	"github.com/importdesk/importdesk/internal/sales/customers"
	"github.com/importdesk/importdesk/internal/shared"
)

type gdRepo struct{ t *tx }

func (r gdRepo) InsertGD(_ context.Context, g customs.GD) (int64, error) {
	if err := r.t.fault("customs.InsertGD"); err != nil {
		return 0, err
	}
	for _, existing := range r.t.d.gds {
		if existing.GDNumber == g.GDNumber {
			return 0, shared.Conflict(customs.ErrDuplicateNumber, "gd number %s", g.GDNumber)
		}
	}
	g.ID = r.t.d.nextID()
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now().UTC()
	}
	r.t.d.gds[g.ID] = g
	return g.ID, nil
}

func (r gdRepo) GetGD(_ context.Context, id int64) (customs.GD, error) {
	g, ok := r.t.d.gds[id]
	if !ok {
		return customs.GD{}, shared.NotFound(customs.ErrGDNotFound, "gd %d", id)
	}
	return g, nil
}

func (r gdRepo) GetGDForUpdate(ctx context.Context, id int64) (customs.GD, error) {
	return r.GetGD(ctx, id)
}

func (r gdRepo) InsertCharge(_ context.Context, c customs.Charge) (int64, error) {
	c.ID = r.t.d.nextID()
	r.t.d.charges = append(r.t.d.charges, c)
	return c.ID, nil
}

func (r gdRepo) ListCharges(_ context.Context, gdID int64) ([]customs.Charge, error) {
	var out []customs.Charge
	for _, c := range r.t.d.charges {
		if c.GDID == gdID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r gdRepo) InsertItem(_ context.Context, it customs.Item) (int64, error) {
	if err := r.t.fault("customs.InsertItem"); err != nil {
		return 0, err
	}
	for _, existing := range r.t.d.items {
		if existing.ItemID == it.ItemID {
			return 0, shared.Conflict(customs.ErrDuplicateNumber, "item %s", it.ItemID)
		}
	}
	it.ID = r.t.d.nextID()
	r.t.d.items = append(r.t.d.items, it)
	return it.ID, nil
}

func (r gdRepo) ListItems(_ context.Context, gdID int64) ([]customs.Item, error) {
	var out []customs.Item
	for _, it := range r.t.d.items {
		if it.GDID == gdID {
			out = append(out, it)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Ordinal < out[j].Ordinal })
	return out, nil
}

func (r gdRepo) UpdateItem(_ context.Context, it customs.Item) error {
	for i, existing := range r.t.d.items {
		if existing.ItemID == it.ItemID {
			it.ID, it.GDID, it.Ordinal, it.HSCode = existing.ID, existing.GDID, existing.Ordinal, existing.HSCode
			r.t.d.items[i] = it
			return nil
		}
	}
	return shared.NotFound(customs.ErrItemNotFound, "item %s", it.ItemID)
}

func (r gdRepo) update(gdID int64, fn func(*customs.GD)) error {
	g, ok := r.t.d.gds[gdID]
	if !ok {
		return shared.NotFound(customs.ErrGDNotFound, "gd %d", gdID)
	}
	fn(&g)
	r.t.d.gds[gdID] = g
	return nil
}

func (r gdRepo) UpdateLandedCost(_ context.Context, gdID int64, avg, rate float64) error {
	return r.update(gdID, func(g *customs.GD) { g.LandedCost, g.IncomeTaxRate = avg, rate })
}

func (r gdRepo) MarkStocked(_ context.Context, gdID int64, by string, at time.Time) error {
	return r.update(gdID, func(g *customs.GD) {
		g.StockedIn, g.StockedBy = true, by
		g.StockedAt = &at
	})
}

func (r gdRepo) Retire(_ context.Context, gdID int64, by string, at time.Time) error {
	if err := r.t.fault("customs.Retire"); err != nil {
		return err
	}
	g, ok := r.t.d.gds[gdID]
	if !ok || g.RetiredAt != nil {
		return shared.NotFound(customs.ErrGDNotFound, "gd %d", gdID)
	}
	return r.update(gdID, func(g *customs.GD) {
		g.RetiredAt, g.RetiredBy = &at, by
	})
}

func (r gdRepo) Reinstate(_ context.Context, gdID int64) error {
	return r.update(gdID, func(g *customs.GD) { g.RetiredAt, g.RetiredBy = nil, "" })
}

type inventoryRepo struct{ t *tx }

func (r inventoryRepo) InsertBatch(_ context.Context, b inventory.Batch) (int64, error) {
	if err := r.t.fault("inventory.InsertBatch"); err != nil {
		return 0, err
	}
	b.ID = r.t.d.nextID()
	r.t.d.batches[b.ID] = b
	return b.ID, nil
}

func (r inventoryRepo) LockBatches(_ context.Context, itemID string, gdID int64) ([]inventory.Batch, error) {
	var out []inventory.Batch
	for _, b := range r.t.d.batches {
		if b.ItemID == itemID && b.GDID == gdID {
			out = append(out, b)
		}
	}
	sortBatches(out)
	return out, nil
}

func (r inventoryRepo) UpdateBatchQuantity(_ context.Context, id int64, qty float64) error {
	if err := r.t.fault("inventory.UpdateBatchQuantity"); err != nil {
		return err
	}
	b, ok := r.t.d.batches[id]
	if !ok {
		return shared.NotFound(inventory.ErrBatchNotFound, "batch %d", id)
	}
	b.QuantityRemaining = qty
	r.t.d.batches[id] = b
	return nil
}

func (r inventoryRepo) DeleteBatch(_ context.Context, id int64) error {
	delete(r.t.d.batches, id)
	return nil
}

func (r inventoryRepo) InsertLog(_ context.Context, e inventory.LogEntry) (int64, error) {
	if err := r.t.fault("inventory.InsertLog"); err != nil {
		return 0, err
	}
	e.ID = r.t.d.nextID()
	r.t.d.logs = append(r.t.d.logs, e)
	return e.ID, nil
}

func (r inventoryRepo) CountBatches(_ context.Context, gdID int64) (int, error) {
	n := 0
	for _, b := range r.t.d.batches {
		if b.GDID == gdID {
			n++
		}
	}
	return n, nil
}

func (r inventoryRepo) RepriceBatches(_ context.Context, itemID string, gdID int64, cost, mrp float64) (int64, error) {
	var n int64
	for id, b := range r.t.d.batches {
		if b.ItemID == itemID && b.GDID == gdID && b.Source == inventory.SourceGD {
			b.Cost, b.MRP = cost, mrp
			r.t.d.batches[id] = b
			n++
		}
	}
	return n, nil
}

func (r inventoryRepo) CheapestBatch(_ context.Context, itemID string, gdID int64) (inventory.Batch, bool, error) {
	batches, _ := r.LockBatches(context.Background(), itemID, gdID)
	if len(batches) == 0 {
		return inventory.Batch{}, false, nil
	}
	best := batches[0]
	for _, b := range batches[1:] {
		if b.Cost < best.Cost {
			best = b
		}
	}
	return best, true, nil
}

type auditRepo struct{ t *tx }

func (r auditRepo) Record(_ context.Context, log shared.AuditLog) error {
	if err := log.Validate(); err != nil {
		return err
	}
	if err := r.t.fault("audit.Record"); err != nil {
		return err
	}
	r.t.d.audit = append(r.t.d.audit, log)
	return nil
}

type customerRepo struct{ t *tx }

func (r customerRepo) Create(_ context.Context, c customers.Customer) (int64, error) {
	c.ID = r.t.d.nextID()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	r.t.d.customers[c.ID] = c
	return c.ID, nil
}

func (r customerRepo) Get(_ context.Context, id int64) (customers.Customer, error) {
	c, ok := r.t.d.customers[id]
	if !ok {
		return customers.Customer{}, shared.NotFound(customers.ErrCustomerNotFound, "customer %d", id)
	}
	return c, nil
}

func (r customerRepo) GetForUpdate(ctx context.Context, id int64) (customers.Customer, error) {
	return r.Get(ctx, id)
}

func (r customerRepo) List(_ context.Context, limit, offset int) ([]customers.Customer, error) {
	var out []customers.Customer
	for _, c := range r.t.d.customers {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r customerRepo) bump(id int64, fn func(*customers.Customer)) error {
	c, ok := r.t.d.customers[id]
	if !ok {
		return shared.NotFound(customers.ErrCustomerNotFound, "customer %d", id)
	}
	fn(&c)
	r.t.d.customers[id] = c
	return nil
}

func (r customerRepo) AdjustBalance(_ context.Context, id int64, delta float64) error {
	if err := r.t.fault("customers.AdjustBalance"); err != nil {
		return err
	}
	return r.bump(id, func(c *customers.Customer) { c.Balance += delta })
}

func (r customerRepo) AddCredit(_ context.Context, id int64, delta float64) error {
	return r.bump(id, func(c *customers.Customer) { c.Credit += delta })
}

type idemRepo struct{ t *tx }

func (r idemRepo) Lookup(_ context.Context, key, module string) (string, bool, error) {
	v, ok := r.t.d.idem[module+"\x00"+key]
	return v, ok, nil
}

func (r idemRepo) Save(_ context.Context, key, module, result string) error {
	k := module + "\x00" + key
	if _, ok := r.t.d.idem[k]; ok {
		return shared.Conflict(shared.ErrIdempotencyConflict, "idempotency key %s already used", key)
	}
	r.t.d.idem[k] = result
	return nil
}

type invoiceRepo struct{ t *tx }

func (r invoiceRepo) NextInvoiceSequence(_ context.Context, day time.Time) (int, error) {
	k := day.Format("2006-01-02")
	r.t.d.dayCount[k]++
	return r.t.d.dayCount[k], nil
}

func (r invoiceRepo) InsertInvoice(_ context.Context, inv sales.Invoice) error {
	if err := r.t.fault("sales.InsertInvoice"); err != nil {
		return err
	}
	if _, ok := r.t.d.invoices[inv.Number]; ok {
		return shared.Conflict(sales.ErrInvalidInvoice, "invoice %s exists", inv.Number)
	}
	r.t.d.invoices[inv.Number] = inv
	return nil
}

func (r invoiceRepo) InsertInvoiceItem(_ context.Context, it sales.InvoiceItem) (int64, error) {
	if err := r.t.fault("sales.InsertInvoiceItem"); err != nil {
		return 0, err
	}
	it.ID = r.t.d.nextID()
	r.t.d.lines = append(r.t.d.lines, it)
	return it.ID, nil
}

func (r invoiceRepo) GetInvoice(_ context.Context, number string) (sales.Invoice, error) {
	inv, ok := r.t.d.invoices[number]
	if !ok {
		return sales.Invoice{}, shared.NotFound(sales.ErrInvoiceNotFound, "invoice %s", number)
	}
	return inv, nil
}

func (r invoiceRepo) GetInvoiceForUpdate(ctx context.Context, number string) (sales.Invoice, error) {
	return r.GetInvoice(ctx, number)
}

func (r invoiceRepo) ListInvoiceItems(_ context.Context, number string) ([]sales.InvoiceItem, error) {
	var out []sales.InvoiceItem
	for _, it := range r.t.d.lines {
		if it.InvoiceNumber == number {
			out = append(out, it)
		}
	}
	return out, nil
}

func (r invoiceRepo) UpdateInvoiceTotals(_ context.Context, inv sales.Invoice) error {
	if err := r.t.fault("sales.UpdateInvoiceTotals"); err != nil {
		return err
	}
	cur, ok := r.t.d.invoices[inv.Number]
	if !ok {
		return shared.NotFound(sales.ErrInvoiceNotFound, "invoice %s", inv.Number)
	}
	cur.GrossTotal, cur.SalesTax, cur.GrossProfit = inv.GrossTotal, inv.SalesTax, inv.GrossProfit
	cur.TotalRefund, cur.TotalRefundTax, cur.FullyRefunded = inv.TotalRefund, inv.TotalRefundTax, inv.FullyRefunded
	r.t.d.invoices[inv.Number] = cur
	return nil
}

func (r invoiceRepo) SetQuantityReturned(_ context.Context, id int64, qty float64) error {
	for i, it := range r.t.d.lines {
		if it.ID == id {
			r.t.d.lines[i].QuantityReturned = qty
			return nil
		}
	}
	return shared.NotFound(sales.ErrLineNotFound, "line %d", id)
}

func (r invoiceRepo) MarkPaid(_ context.Context, number string, info sales.PaymentInfo) error {
	inv, ok := r.t.d.invoices[number]
	if !ok {
		return shared.NotFound(sales.ErrInvoiceNotFound, "invoice %s", number)
	}
	inv.IsPaid = true
	inv.Payment = &info
	r.t.d.invoices[number] = inv
	return nil
}

func (r invoiceRepo) DeleteInvoice(_ context.Context, number string) error {
	if _, ok := r.t.d.invoices[number]; !ok {
		return shared.NotFound(sales.ErrInvoiceNotFound, "invoice %s", number)
	}
	delete(r.t.d.invoices, number)
	lines := r.t.d.lines[:0:0]
	for _, it := range r.t.d.lines {
		if it.InvoiceNumber != number {
			lines = append(lines, it)
		}
	}
	r.t.d.lines = lines
	returns := r.t.d.returns[:0:0]
	for _, ret := range r.t.d.returns {
		if ret.InvoiceNumber != number {
			returns = append(returns, ret)
		}
	}
	r.t.d.returns = returns
	return nil
}

func (r invoiceRepo) InsertReturn(_ context.Context, ret sales.Return) (int64, error) {
	if err := r.t.fault("sales.InsertReturn"); err != nil {
		return 0, err
	}
	ret.ID = r.t.d.nextID()
	r.t.d.returns = append(r.t.d.returns, ret)
	return ret.ID, nil
}

func (r invoiceRepo) ListReturns(_ context.Context, number string) ([]sales.Return, error) {
	var out []sales.Return
	for _, ret := range r.t.d.returns {
		if ret.InvoiceNumber == number {
			out = append(out, ret)
		}
	}
	return out, nil
}

func (r invoiceRepo) ReturnedQuantity(_ context.Context, id int64) (float64, error) {
	var qty float64
	for _, ret := range r.t.d.returns {
		if ret.InvoiceItemID == id {
			qty += ret.Quantity
		}
	}
	return qty, nil
}

func (r invoiceRepo) ListUnpaid(_ context.Context, customerID int64, _ bool) ([]sales.Invoice, error) {
	var out []sales.Invoice
	for _, inv := range r.t.d.invoices {
		if inv.CustomerID == customerID && !inv.IsPaid {
			out = append(out, inv)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].Number < out[j].Number
	})
	return out, nil
}

type paymentRepo struct{ t *tx }

func (r paymentRepo) InsertPayment(_ context.Context, p ar.Payment) (int64, error) {
	if err := r.t.fault("ar.InsertPayment"); err != nil {
		return 0, err
	}
	p.ID = r.t.d.nextID()
	r.t.d.payments = append(r.t.d.payments, p)
	return p.ID, nil
}

func (r paymentRepo) InsertAllocation(_ context.Context, a ar.Allocation) error {
	if err := r.t.fault("ar.InsertAllocation"); err != nil {
		return err
	}
	r.t.d.allocs = append(r.t.d.allocs, a)
	return nil
}

func (r paymentRepo) AllocatedTotal(_ context.Context, number string) (float64, error) {
	var total float64
	for _, a := range r.t.d.allocs {
		if a.InvoiceNumber == number {
			total += a.Amount
		}
	}
	return total, nil
}
