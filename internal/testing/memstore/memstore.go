// Package memstore is an in-memory implementation of every transaction port.
// Each WithTx snapshots the data and restores it when fn fails, so tests can
// assert that failed workflows leave no trace.
package memstore

import (
	"context"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/importdesk/importdesk/internal/ar"
	"github.com/importdesk/importdesk/internal/customs"
	"github.com/importdesk/importdesk/internal/inventory"
	"github.com/importdesk/importdesk/internal/sales"
	"github.com/importdesk/importdesk/internal/sales/customers"
	"github.com/importdesk/importdesk/internal/shared"
)

type data struct {
	seq int64

	gds       map[int64]customs.GD
	charges   []customs.Charge
	items     []customs.Item
	batches   map[int64]inventory.Batch
	logs      []inventory.LogEntry
	audit     []shared.AuditLog
	customers map[int64]customers.Customer
	dayCount  map[string]int
	invoices  map[string]sales.Invoice
	lines     []sales.InvoiceItem
	returns   []sales.Return
	payments  []ar.Payment
	allocs    []ar.Allocation
	idem      map[string]string
}

func newData() *data {
	return &data{
		gds:       map[int64]customs.GD{},
		batches:   map[int64]inventory.Batch{},
		customers: map[int64]customers.Customer{},
		dayCount:  map[string]int{},
		invoices:  map[string]sales.Invoice{},
		idem:      map[string]string{},
	}
}

func (d *data) clone() *data {
	return &data{
		seq:       d.seq,
		gds:       maps.Clone(d.gds),
		charges:   slices.Clone(d.charges),
		items:     slices.Clone(d.items),
		batches:   maps.Clone(d.batches),
		logs:      slices.Clone(d.logs),
		audit:     slices.Clone(d.audit),
		customers: maps.Clone(d.customers),
		dayCount:  maps.Clone(d.dayCount),
		invoices:  maps.Clone(d.invoices),
		lines:     slices.Clone(d.lines),
		returns:   slices.Clone(d.returns),
		payments:  slices.Clone(d.payments),
		allocs:    slices.Clone(d.allocs),
		idem:      maps.Clone(d.idem),
	}
}

func (d *data) nextID() int64 {
	d.seq++
	return d.seq
}

// Store holds the data and serialises transactions.
type Store struct {
	mu     sync.Mutex
	d      *data
	faults map[string]error
	txs    int
}

// New returns an empty store.
func New() *Store {
	return &Store{d: newData(), faults: map[string]error{}}
}

// FailOn makes the named operation (e.g. "sales.InsertInvoice") return err
// until cleared with a nil err.
func (s *Store) FailOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.faults, op)
		return
	}
	s.faults[op] = err
}

// Transactions reports how many transactions ran, committed or not.
func (s *Store) Transactions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.txs
}

func (s *Store) run(fn func(*tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txs++
	snapshot := s.d.clone()
	if err := fn(&tx{d: s.d, faults: s.faults}); err != nil {
		s.d = snapshot
		return err
	}
	return nil
}

// Customs returns the unit of work for GD workflows.
func (s *Store) Customs() customs.UnitOfWork { return customsUOW{s} }

// Sales returns the unit of work for invoice and return workflows.
func (s *Store) Sales() sales.UnitOfWork { return salesUOW{s} }

// AR returns the unit of work for payment workflows.
func (s *Store) AR() ar.UnitOfWork { return arUOW{s} }

type customsUOW struct{ s *Store }

func (u customsUOW) WithTx(ctx context.Context, fn func(context.Context, customs.Tx) error) error {
	return u.s.run(func(t *tx) error { return fn(ctx, t) })
}

type salesUOW struct{ s *Store }

func (u salesUOW) WithTx(ctx context.Context, fn func(context.Context, sales.Tx) error) error {
	return u.s.run(func(t *tx) error { return fn(ctx, t) })
}

type arUOW struct{ s *Store }

func (u arUOW) WithTx(ctx context.Context, fn func(context.Context, ar.Tx) error) error {
	return u.s.run(func(t *tx) error { return fn(ctx, t) })
}

// tx implements every repository port over the live data.
type tx struct {
	d      *data
	faults map[string]error
}

func (t *tx) fault(op string) error {
	return t.faults[op]
}

func (t *tx) GDs() customs.TxRepository                 { return gdRepo{t} }
func (t *tx) Inventory() inventory.TxRepository         { return inventoryRepo{t} }
func (t *tx) Audit() shared.AuditRecorder               { return auditRepo{t} }
func (t *tx) Invoices() sales.TxRepository              { return invoiceRepo{t} }
func (t *tx) Customers() customers.TxRepository         { return customerRepo{t} }
func (t *tx) Idempotency() shared.IdempotencyRepository { return idemRepo{t} }
func (t *tx) Payments() ar.TxRepository                 { return paymentRepo{t} }

// Reader exposes the non-transactional read ports used by query services.
type Reader struct{ s *Store }

// Reader returns read ports over the current data.
func (s *Store) Reader() Reader { return Reader{s} }

func (r Reader) view(fn func(*tx) error) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return fn(&tx{d: r.s.d, faults: r.s.faults})
}

// CustomerRepo returns a customers repository that commits each call on its own.
func (s *Store) CustomerRepo() customers.TxRepository {
	return directCustomers{s}
}

type directCustomers struct{ s *Store }

func (c directCustomers) Create(ctx context.Context, cu customers.Customer) (id int64, err error) {
	err = c.s.run(func(t *tx) error { id, err = customerRepo{t}.Create(ctx, cu); return err })
	return id, err
}

func (c directCustomers) Get(ctx context.Context, id int64) (cu customers.Customer, err error) {
	err = c.s.run(func(t *tx) error { cu, err = customerRepo{t}.Get(ctx, id); return err })
	return cu, err
}

func (c directCustomers) GetForUpdate(ctx context.Context, id int64) (customers.Customer, error) {
	return c.Get(ctx, id)
}

func (c directCustomers) List(ctx context.Context, limit, offset int) (out []customers.Customer, err error) {
	err = c.s.run(func(t *tx) error { out, err = customerRepo{t}.List(ctx, limit, offset); return err })
	return out, err
}

func (c directCustomers) AdjustBalance(ctx context.Context, id int64, delta float64) error {
	return c.s.run(func(t *tx) error { return customerRepo{t}.AdjustBalance(ctx, id, delta) })
}

func (c directCustomers) AddCredit(ctx context.Context, id int64, delta float64) error {
	return c.s.run(func(t *tx) error { return customerRepo{t}.AddCredit(ctx, id, delta) })
}

// ListBatches implements inventory.ReadRepository.
func (r Reader) ListBatches(ctx context.Context, itemID string, gdID int64) (out []inventory.Batch, err error) {
	err = r.view(func(t *tx) error {
		for _, b := range t.d.batches {
			if b.ItemID == itemID && (gdID == 0 || b.GDID == gdID) {
				out = append(out, b)
			}
		}
		sortBatches(out)
		return t.fault("inventory.ListBatches")
	})
	return out, err
}

// StockCard implements inventory.ReadRepository.
func (r Reader) StockCard(ctx context.Context, f inventory.StockCardFilter) (out []inventory.LogEntry, err error) {
	err = r.view(func(t *tx) error {
		for _, e := range t.d.logs {
			if e.ItemID != f.ItemID || (f.GDID != 0 && e.GDID != f.GDID) {
				continue
			}
			if f.From != nil && e.CreatedAt.Before(*f.From) {
				continue
			}
			if f.To != nil && e.CreatedAt.After(*f.To) {
				continue
			}
			out = append(out, e)
			if f.Limit > 0 && len(out) == f.Limit {
				break
			}
		}
		return nil
	})
	return out, err
}

// LedgerTotals implements inventory.ReadRepository.
func (r Reader) LedgerTotals(ctx context.Context, itemID string, gdID int64) (out []inventory.LedgerTotals, err error) {
	type key struct {
		item string
		gd   int64
	}
	err = r.view(func(t *tx) error {
		acc := map[key]*inventory.LedgerTotals{}
		get := func(item string, gd int64) *inventory.LedgerTotals {
			k := key{item, gd}
			if acc[k] == nil {
				acc[k] = &inventory.LedgerTotals{ItemID: item, GDID: gd}
			}
			return acc[k]
		}
		match := func(item string, gd int64) bool {
			return (itemID == "" || item == itemID) && (gdID == 0 || gd == gdID)
		}
		for _, e := range t.d.logs {
			if !match(e.ItemID, e.GDID) {
				continue
			}
			lt := get(e.ItemID, e.GDID)
			switch e.Reason {
			case inventory.ReasonStockIn:
				lt.Stocked += e.Delta
			case inventory.ReasonSale:
				lt.Consumed -= e.Delta
			case inventory.ReasonRestock:
				lt.Restocked += e.Delta
			}
		}
		for _, b := range t.d.batches {
			if match(b.ItemID, b.GDID) {
				get(b.ItemID, b.GDID).Remaining += b.QuantityRemaining
			}
		}
		for _, lt := range acc {
			out = append(out, *lt)
		}
		sort.Slice(out, func(i, j int) bool {
			if out[i].GDID != out[j].GDID {
				return out[i].GDID < out[j].GDID
			}
			return out[i].ItemID < out[j].ItemID
		})
		return nil
	})
	return out, err
}

func sortBatches(out []inventory.Batch) {
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StockedAt.Equal(out[j].StockedAt) {
			return out[i].StockedAt.Before(out[j].StockedAt)
		}
		return out[i].ID < out[j].ID
	})
}

// Seed helpers and inspectors used by tests.

// AddCustomer stores a customer outside any workflow.
func (s *Store) AddCustomer(c customers.Customer) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.ID = s.d.nextID()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	s.d.customers[c.ID] = c
	return c.ID
}

// Customer returns the stored customer.
func (s *Store) Customer(id int64) customers.Customer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.customers[id]
}

// GD returns the stored GD header.
func (s *Store) GD(id int64) (customs.GD, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.d.gds[id]
	return g, ok
}

// GDItems returns a GD's stored lines by ordinal.
func (s *Store) GDItems(gdID int64) []customs.Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	items, _ := gdRepo{&tx{d: s.d}}.ListItems(context.Background(), gdID)
	return items
}

// Batches returns live batches for an (item, GD) pair in FIFO order.
func (s *Store) Batches(itemID string, gdID int64) []inventory.Batch {
	out, _ := s.Reader().ListBatches(context.Background(), itemID, gdID)
	return out
}

// Logs returns every ledger entry.
func (s *Store) Logs() []inventory.LogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.d.logs)
}

// AuditLogs returns every audit entry.
func (s *Store) AuditLogs() []shared.AuditLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.d.audit)
}

// Invoice returns a stored invoice header.
func (s *Store) Invoice(number string) (sales.Invoice, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.d.invoices[number]
	return inv, ok
}

// InvoiceCount reports how many invoices are stored.
func (s *Store) InvoiceCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.d.invoices)
}

// InvoiceItems returns an invoice's lines.
func (s *Store) InvoiceItems(number string) []sales.InvoiceItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	items, _ := invoiceRepo{&tx{d: s.d}}.ListInvoiceItems(context.Background(), number)
	return items
}

// Returns returns every return row.
func (s *Store) Returns() []sales.Return {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.d.returns)
}

// Payments returns every payment row.
func (s *Store) Payments() []ar.Payment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.d.payments)
}

// Allocations returns every allocation row.
func (s *Store) Allocations() []ar.Allocation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.d.allocs)
}

// SetInvoiceCreatedAt rewrites an invoice's creation time, for aging tests.
func (s *Store) SetInvoiceCreatedAt(number string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.d.invoices[number]
	if ok {
		inv.CreatedAt = at
		s.d.invoices[number] = inv
	}
}
