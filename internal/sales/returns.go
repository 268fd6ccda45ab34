package sales

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/google/uuid"

	"github.com/importdesk/importdesk/internal/customs"
	"github.com/importdesk/importdesk/internal/inventory"
	"github.com/importdesk/importdesk/internal/shared"
	"github.com/importdesk/importdesk/internal/shared/money"
)

const qtyEpsilon = 1e-9

// CreateReturn records a batch of returned lines against one invoice. Every
// line is validated against cumulative prior returns before anything is
// written; one over-return aborts the whole batch.
func (s *Service) CreateReturn(ctx context.Context, input CreateReturnInput) (ReturnResult, error) {
	number := strings.TrimSpace(input.InvoiceNumber)
	if number == "" {
		return ReturnResult{}, shared.Validation(ErrInvalidReturn, "invoice number required")
	}
	if !input.RefundMethod.Valid() {
		return ReturnResult{}, shared.Validation(ErrInvalidReturn, "unsupported refund method %q", input.RefundMethod)
	}
	if len(input.Items) == 0 {
		return ReturnResult{}, shared.Validation(ErrInvalidReturn, "return has no lines")
	}
	for i, line := range input.Items {
		if !(line.Quantity > 0) || math.IsInf(line.Quantity, 0) {
			return ReturnResult{}, shared.Validation(ErrInvalidReturn, "line %d: quantity must be positive", i+1)
		}
	}

	release, err := s.lockReturn(ctx, number, input.Items)
	if err != nil {
		return ReturnResult{}, err
	}
	defer release()

	var (
		result       ReturnResult
		replayed     bool
		reinstated   bool
		gdID         int64
		restockedQty float64
	)
	err = s.uow.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		if input.IdempotencyKey != "" {
			prior, ok, err := tx.Idempotency().Lookup(ctx, input.IdempotencyKey, idempotencyReturn)
			if err != nil {
				return err
			}
			if ok {
				replayed = true
				return json.Unmarshal([]byte(prior), &result)
			}
		}

		inv, err := tx.Invoices().GetInvoiceForUpdate(ctx, number)
		if err != nil {
			return err
		}
		gdID = inv.GDID
		items, err := tx.Invoices().ListInvoiceItems(ctx, number)
		if err != nil {
			return err
		}
		byID := make(map[int64]*InvoiceItem, len(items))
		for i := range items {
			byID[items[i].ID] = &items[i]
		}

		// Validate every line before the first write.
		requested := make(map[int64]float64, len(input.Items))
		for _, line := range input.Items {
			item, ok := byID[line.InvoiceItemID]
			if !ok {
				return shared.NotFound(ErrLineNotFound, "line %d on invoice %s", line.InvoiceItemID, number)
			}
			if _, seen := requested[item.ID]; !seen {
				prior, err := tx.Invoices().ReturnedQuantity(ctx, item.ID)
				if err != nil {
					return err
				}
				requested[item.ID] = prior
			}
			requested[item.ID] += line.Quantity
			if requested[item.ID] > item.QuantitySold+qtyEpsilon {
				return shared.Validation(ErrOverReturn, "line %d: returning %v of %v sold",
					item.ID, requested[item.ID], item.QuantitySold)
			}
		}

		returnNumber := "RET-" + strings.ToUpper(uuid.NewString()[:8])
		now := s.now()
		var refunds, reversals []float64
		for _, line := range input.Items {
			item := byID[line.InvoiceItemID]
			refund := line.Quantity * item.SaleRate
			reversal := line.Quantity * item.RetailPrice * s.cfg.SalesTaxRate
			refunds = append(refunds, refund)
			reversals = append(reversals, reversal)

			if _, err := tx.Invoices().InsertReturn(ctx, Return{
				ReturnNumber:  returnNumber,
				InvoiceNumber: number,
				InvoiceItemID: item.ID,
				ItemID:        item.ItemID,
				Quantity:      line.Quantity,
				RefundAmount:  money.Round2(refund),
				TaxReversal:   money.Round2(reversal),
				Restock:       line.Restock,
				RefundMethod:  input.RefundMethod,
				CreatedAt:     now,
			}); err != nil {
				return fmt.Errorf("sales: insert return line %d: %w", item.ID, err)
			}
			item.QuantityReturned += line.Quantity
			if err := tx.Invoices().SetQuantityReturned(ctx, item.ID, item.QuantityReturned); err != nil {
				return err
			}

			if !line.Restock {
				continue
			}
			cost, mrp, err := s.ledger.RestockBasis(ctx, tx.Inventory(), item.ItemID, inv.GDID,
				item.Cost, item.RetailPrice*(1+s.cfg.SalesTaxRate))
			if err != nil {
				return err
			}
			if _, err := s.ledger.Restock(ctx, tx.Inventory(), inventory.RestockInput{
				ItemID:   item.ItemID,
				GDID:     inv.GDID,
				Quantity: line.Quantity,
				Cost:     cost,
				MRP:      money.Round2(mrp),
				Ref:      returnNumber,
				Actor:    input.Actor,
				At:       now,
			}); err != nil {
				return err
			}
			restockedQty += line.Quantity
		}
		if restockedQty > 0 {
			if reinstated, err = customs.ReinstateIfRetired(ctx, tx, inv.GDID, input.Actor, now); err != nil {
				return err
			}
		}

		fully := true
		for _, item := range items {
			if item.Outstanding() > qtyEpsilon {
				fully = false
				break
			}
		}
		totalRefund := money.Round2(money.Sum(refunds...))
		totalReversal := money.Round2(money.Sum(reversals...))
		inv.ApplyReturn(TotalsAdjustment{Refund: totalRefund, TaxReversal: totalReversal, FullyRefunded: fully})
		if err := tx.Invoices().UpdateInvoiceTotals(ctx, inv); err != nil {
			return err
		}
		if err := tx.Customers().AdjustBalance(ctx, inv.CustomerID, totalRefund); err != nil {
			return err
		}

		result = ReturnResult{
			ReturnNumber:  returnNumber,
			RefundAmount:  totalRefund,
			RefundTax:     totalReversal,
			FullyReturned: fully,
		}
		if input.IdempotencyKey != "" {
			encoded, err := json.Marshal(result)
			if err != nil {
				return err
			}
			return tx.Idempotency().Save(ctx, input.IdempotencyKey, idempotencyReturn, string(encoded))
		}
		return nil
	})
	if err != nil {
		return ReturnResult{}, shared.Persistence(err)
	}
	if replayed {
		s.logger.InfoContext(ctx, "return replayed from idempotency key", slog.String("return_number", result.ReturnNumber))
		return result, nil
	}
	if reinstated {
		s.logger.InfoContext(ctx, "gd reinstated by restocked return", slog.Int64("gd_id", gdID))
	}
	if s.metrics != nil {
		s.metrics.ReturnRecorded(result.RefundAmount, len(input.Items))
	}
	s.logger.InfoContext(ctx, "return recorded",
		slog.String("return_number", result.ReturnNumber),
		slog.String("invoice_number", number),
		slog.Float64("refund", result.RefundAmount),
		slog.Float64("tax_reversal", result.RefundTax),
		slog.Float64("restocked", restockedQty),
		slog.Bool("fully_returned", result.FullyReturned))
	return result, nil
}

// lockReturn takes the stock locks for lines that will be restocked. The lines
// are resolved with a read before the write transaction starts.
func (s *Service) lockReturn(ctx context.Context, number string, lines []ReturnLine) (func(), error) {
	restock := make(map[int64]bool, len(lines))
	for _, l := range lines {
		if l.Restock {
			restock[l.InvoiceItemID] = true
		}
	}
	if len(restock) == 0 || s.locker == nil {
		return func() {}, nil
	}
	var keys []string
	err := s.uow.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		inv, err := tx.Invoices().GetInvoice(ctx, number)
		if err != nil {
			return err
		}
		items, err := tx.Invoices().ListInvoiceItems(ctx, number)
		if err != nil {
			return err
		}
		for _, it := range items {
			if restock[it.ID] {
				keys = append(keys, shared.StockLockKey(it.ItemID, inv.GDID))
			}
		}
		if len(keys) > 0 {
			keys = append(keys, shared.GDLockKey(inv.GDID))
		}
		return nil
	})
	if err != nil {
		return nil, shared.Persistence(err)
	}
	release, err := s.acquire(ctx, keys...)
	if err != nil {
		return nil, err
	}
	return release, nil
}
