package sales

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/importdesk/importdesk/internal/customs"
	"github.com/importdesk/importdesk/internal/inventory"
	"github.com/importdesk/importdesk/internal/landedcost"
	"github.com/importdesk/importdesk/internal/platform/lock"
	"github.com/importdesk/importdesk/internal/shared"
	"github.com/importdesk/importdesk/internal/shared/money"
)

const (
	idempotencyInvoice = "sales.invoice"
	idempotencyReturn  = "sales.return"

	// DefaultFilerWithholdingRate applies to customers on the active taxpayer list.
	DefaultFilerWithholdingRate = 0.005
	// DefaultNonFilerWithholdingRate applies to everyone else.
	DefaultNonFilerWithholdingRate = 0.01
)

// Config carries the tax constants applied to invoices.
type Config struct {
	SalesTaxRate            float64
	FilerWithholdingRate    float64
	NonFilerWithholdingRate float64
}

// DefaultConfig returns the stock rates.
func DefaultConfig() Config {
	return Config{
		SalesTaxRate:            landedcost.DefaultSalesTaxRate,
		FilerWithholdingRate:    DefaultFilerWithholdingRate,
		NonFilerWithholdingRate: DefaultNonFilerWithholdingRate,
	}
}

// Locker serialises FIFO consumption per (item, GD).
type Locker interface {
	Acquire(ctx context.Context, keys ...string) (lock.Release, error)
}

// Metrics receives sales events. Nil metrics are ignored.
type Metrics interface {
	InvoiceCreated(section string, gross float64)
	ReturnRecorded(refund float64, lines int)
}

// Service coordinates invoice and return workflows.
type Service struct {
	uow     UnitOfWork
	ledger  *inventory.Ledger
	locker  Locker
	cfg     Config
	metrics Metrics
	logger  *slog.Logger
	now     func() time.Time
	reads   singleflight.Group
}

// NewService builds Service. locker and metrics may be nil.
func NewService(uow UnitOfWork, ledger *inventory.Ledger, locker Locker, cfg Config, metrics Metrics, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SalesTaxRate <= 0 {
		cfg.SalesTaxRate = landedcost.DefaultSalesTaxRate
	}
	return &Service{
		uow:     uow,
		ledger:  ledger,
		locker:  locker,
		cfg:     cfg,
		metrics: metrics,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// CreateInvoice consumes stock FIFO from the GD and persists the invoice in
// the same transaction. It returns the invoice number.
func (s *Service) CreateInvoice(ctx context.Context, input CreateInvoiceInput) (string, error) {
	if err := s.validateInvoice(input); err != nil {
		return "", err
	}
	// The GD key serialises the depleted check across items of one GD.
	keys := make([]string, 0, len(input.Items)+1)
	keys = append(keys, shared.GDLockKey(input.GDID))
	for _, line := range input.Items {
		keys = append(keys, shared.StockLockKey(line.ItemID, input.GDID))
	}
	release, err := s.acquire(ctx, keys...)
	if err != nil {
		return "", err
	}
	defer release()

	var (
		inv      Invoice
		lines    []InvoiceItem
		retired  bool
		replayed bool
		overflow bool
	)
	err = s.uow.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		if input.IdempotencyKey != "" {
			prior, ok, err := tx.Idempotency().Lookup(ctx, input.IdempotencyKey, idempotencyInvoice)
			if err != nil {
				return err
			}
			if ok {
				inv.Number, replayed = prior, true
				return nil
			}
		}

		customer, err := tx.Customers().Get(ctx, input.CustomerID)
		if err != nil {
			return err
		}
		gd, err := tx.GDs().GetGD(ctx, input.GDID)
		if err != nil {
			return err
		}
		switch gd.State() {
		case customs.StateRetired:
			return shared.Conflict(customs.ErrRetired, "gd %d is retired", gd.ID)
		case customs.StateStored:
			return shared.Conflict(ErrInvalidInvoice, "gd %d has not been stocked in", gd.ID)
		}
		gdItems, err := tx.GDs().ListItems(ctx, gd.ID)
		if err != nil {
			return err
		}
		byItem := make(map[string]customs.Item, len(gdItems))
		var incomeTax []float64
		for _, it := range gdItems {
			byItem[it.ItemID] = it
			incomeTax = append(incomeTax, it.Raw.IncomeTax)
		}

		rate := s.cfg.NonFilerWithholdingRate
		if customer.Filer {
			rate = s.cfg.FilerWithholdingRate
		}
		if input.WithholdingRate != nil {
			rate = *input.WithholdingRate
		}

		now := s.now()
		seq, err := tx.Invoices().NextInvoiceSequence(ctx, now)
		if err != nil {
			return err
		}
		number := fmt.Sprintf("INV-%s-%04d", now.Format("20060102"), seq)

		var grossTotal, salesTax, totalCost float64
		for _, line := range input.Items {
			gdItem, ok := byItem[line.ItemID]
			if !ok {
				return shared.NotFound(ErrUnknownGDItem, "item %s in gd %d", line.ItemID, gd.ID)
			}
			grossTotal += line.Quantity * line.SaleRate
			salesTax += line.Quantity * gdItem.RetailPrice * s.cfg.SalesTaxRate

			consumed, err := s.ledger.ConsumeFIFO(ctx, tx.Inventory(), inventory.ConsumeInput{
				ItemID:   line.ItemID,
				GDID:     gd.ID,
				Quantity: line.Quantity,
				Ref:      number,
				Actor:    input.CreatedBy,
			})
			if err != nil {
				return err
			}
			totalCost += consumed.TotalCost
			lines = append(lines, InvoiceItem{
				InvoiceNumber: number,
				ItemID:        line.ItemID,
				QuantitySold:  line.Quantity,
				SaleRate:      line.SaleRate,
				RetailPrice:   gdItem.RetailPrice,
				Cost:          money.Round2(consumed.TotalCost / line.Quantity),
			})
		}

		retired, err = customs.RetireIfDepleted(ctx, tx, gd.ID, input.CreatedBy, now)
		if err != nil {
			return err
		}

		inv = Invoice{
			Number:          number,
			CustomerID:      customer.ID,
			GDID:            gd.ID,
			TaxSection:      input.TaxSection,
			WithholdingRate: rate,
			GrossTotal:      money.Round2(grossTotal),
			SalesTax:        money.Round2(salesTax),
			WithholdingTax:  money.Round2(grossTotal * rate),
			IncomeTaxPaid:   money.Round2(money.Sum(incomeTax...)),
			TotalCost:       money.Round2(totalCost),
			GrossProfit:     money.Round2(grossTotal - totalCost),
			CreatedBy:       input.CreatedBy,
			CreatedAt:       now,
		}
		if err := tx.Invoices().InsertInvoice(ctx, inv); err != nil {
			return fmt.Errorf("sales: insert invoice %s: %w", number, err)
		}
		for i := range lines {
			id, err := tx.Invoices().InsertInvoiceItem(ctx, lines[i])
			if err != nil {
				return fmt.Errorf("sales: insert invoice line %s: %w", lines[i].ItemID, err)
			}
			lines[i].ID = id
		}
		overflow = customer.ExceedsLimit(inv.GrossTotal)
		if input.IdempotencyKey != "" {
			return tx.Idempotency().Save(ctx, input.IdempotencyKey, idempotencyInvoice, number)
		}
		return nil
	})
	if err != nil {
		return "", shared.Persistence(err)
	}
	if replayed {
		s.logger.InfoContext(ctx, "invoice replayed from idempotency key", slog.String("invoice_number", inv.Number))
		return inv.Number, nil
	}

	if overflow {
		s.logger.WarnContext(ctx, "customer credit limit exceeded",
			slog.Int64("customer_id", inv.CustomerID),
			slog.String("invoice_number", inv.Number),
			slog.Float64("gross_total", inv.GrossTotal))
	}
	if retired {
		s.logger.InfoContext(ctx, "gd retired after sale", slog.Int64("gd_id", inv.GDID), slog.String("invoice_number", inv.Number))
	}
	if s.metrics != nil {
		s.metrics.InvoiceCreated(string(inv.TaxSection), inv.GrossTotal)
	}
	s.logger.InfoContext(ctx, "invoice created",
		slog.String("invoice_number", inv.Number),
		slog.Int64("customer_id", inv.CustomerID),
		slog.Int64("gd_id", inv.GDID),
		slog.Int("lines", len(lines)),
		slog.Float64("gross_total", inv.GrossTotal),
		slog.Float64("total_cost", inv.TotalCost))
	return inv.Number, nil
}

// GetInvoice loads an invoice with its lines and returns. Concurrent reads of
// the same number share one query.
func (s *Service) GetInvoice(ctx context.Context, number string) (InvoiceWithItems, error) {
	number = strings.TrimSpace(number)
	if number == "" {
		return InvoiceWithItems{}, shared.Validation(ErrInvalidInvoice, "invoice number required")
	}
	// The shared read outlives any single caller; each caller still stops
	// waiting when its own context ends.
	readCtx := context.WithoutCancel(ctx)
	ch := s.reads.DoChan(number, func() (any, error) {
		var out InvoiceWithItems
		err := s.uow.WithTx(readCtx, func(ctx context.Context, tx Tx) error {
			inv, err := tx.Invoices().GetInvoice(ctx, number)
			if err != nil {
				return err
			}
			items, err := tx.Invoices().ListInvoiceItems(ctx, number)
			if err != nil {
				return err
			}
			returns, err := tx.Invoices().ListReturns(ctx, number)
			if err != nil {
				return err
			}
			out = InvoiceWithItems{Invoice: inv, Items: items, Returns: returns}
			return nil
		})
		return out, err
	})
	select {
	case <-ctx.Done():
		return InvoiceWithItems{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return InvoiceWithItems{}, shared.Persistence(res.Err)
		}
		return res.Val.(InvoiceWithItems), nil
	}
}

// MarkPaid stores settlement metadata. Calling it again overwrites the
// previous metadata.
func (s *Service) MarkPaid(ctx context.Context, number string, info PaymentInfo) error {
	if strings.TrimSpace(number) == "" {
		return shared.Validation(ErrInvalidInvoice, "invoice number required")
	}
	if info.PaidOn.IsZero() {
		info.PaidOn = s.now()
	}
	var repeat bool
	err := s.uow.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		inv, err := tx.Invoices().GetInvoiceForUpdate(ctx, number)
		if err != nil {
			return err
		}
		repeat = inv.IsPaid
		return tx.Invoices().MarkPaid(ctx, number, info)
	})
	if err != nil {
		return shared.Persistence(err)
	}
	if repeat {
		s.logger.WarnContext(ctx, "payment metadata overwritten on paid invoice", slog.String("invoice_number", number))
	}
	s.logger.InfoContext(ctx, "invoice marked paid", slog.String("invoice_number", number), slog.String("mode", info.BankOrCash))
	return nil
}

// DeleteInvoice removes an unpaid invoice and its lines.
func (s *Service) DeleteInvoice(ctx context.Context, number string) error {
	if strings.TrimSpace(number) == "" {
		return shared.Validation(ErrInvalidInvoice, "invoice number required")
	}
	err := s.uow.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		inv, err := tx.Invoices().GetInvoiceForUpdate(ctx, number)
		if err != nil {
			return err
		}
		if inv.IsPaid {
			return shared.Conflict(ErrInvoicePaid, "invoice %s is paid", number)
		}
		return tx.Invoices().DeleteInvoice(ctx, number)
	})
	if err != nil {
		return shared.Persistence(err)
	}
	s.logger.InfoContext(ctx, "invoice deleted", slog.String("invoice_number", number))
	return nil
}

func (s *Service) validateInvoice(input CreateInvoiceInput) error {
	if input.CustomerID == 0 {
		return shared.Validation(ErrCustomerRequired, "customer id required")
	}
	if input.GDID == 0 {
		return shared.Validation(ErrInvalidInvoice, "gd id required")
	}
	if !input.TaxSection.Valid() {
		return shared.Validation(ErrInvalidInvoice, "unsupported tax section %q", input.TaxSection)
	}
	if len(input.Items) == 0 {
		return shared.Validation(ErrInvalidInvoice, "invoice has no lines")
	}
	if r := input.WithholdingRate; r != nil && (math.IsNaN(*r) || *r < 0 || *r > 1) {
		return shared.Validation(ErrInvalidInvoice, "withholding rate %v must be in [0, 1]", *r)
	}
	for i, line := range input.Items {
		if line.ItemID == "" {
			return shared.Validation(ErrInvalidInvoice, "line %d: item id required", i+1)
		}
		if !(line.Quantity > 0) || math.IsInf(line.Quantity, 0) {
			return shared.Validation(inventory.ErrInvalidQuantity, "line %d: quantity must be positive", i+1)
		}
		if line.SaleRate < 0 || math.IsNaN(line.SaleRate) {
			return shared.Validation(ErrInvalidInvoice, "line %d: sale rate must not be negative", i+1)
		}
	}
	return nil
}

func (s *Service) acquire(ctx context.Context, keys ...string) (lock.Release, error) {
	if s.locker == nil {
		return func() {}, nil
	}
	release, err := s.locker.Acquire(ctx, keys...)
	if err != nil {
		var classified *shared.Error
		if errors.As(err, &classified) {
			return nil, err
		}
		// Without redis the row locks taken inside the transaction still
		// serialise consumption of a batch, but not retirement of its GD.
		s.logger.WarnContext(ctx, "stock lock unavailable, relying on row locks", slog.Any("error", err))
		return func() {}, nil
	}
	return release, nil
}
