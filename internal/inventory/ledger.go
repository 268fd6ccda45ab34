package inventory

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/importdesk/importdesk/internal/shared"
)

// TxRepository exposes batch and log mutations bound to one transaction.
type TxRepository interface {
	InsertBatch(ctx context.Context, batch Batch) (int64, error)
	// LockBatches returns the item's batches for the GD ordered by stocked_at, id
	// and holds row locks on them until the transaction ends.
	LockBatches(ctx context.Context, itemID string, gdID int64) ([]Batch, error)
	UpdateBatchQuantity(ctx context.Context, batchID int64, quantity float64) error
	DeleteBatch(ctx context.Context, batchID int64) error
	InsertLog(ctx context.Context, entry LogEntry) (int64, error)
	CountBatches(ctx context.Context, gdID int64) (int, error)
	CheapestBatch(ctx context.Context, itemID string, gdID int64) (Batch, bool, error)
	// RepriceBatches rewrites cost and mrp of the GD-sourced batches of an item.
	RepriceBatches(ctx context.Context, itemID string, gdID int64, cost, mrp float64) (int64, error)
}

// Observer receives ledger events for metrics. Nil observers are ignored.
type Observer interface {
	ObserveConsumption(deducted float64, batches int)
	ObserveShortfall(itemID string)
	ObserveRestock(quantity float64)
}

// Ledger applies quantity movements inside a caller-owned transaction.
type Ledger struct {
	logger   *slog.Logger
	observer Observer
	now      func() time.Time
}

// NewLedger builds a Ledger.
func NewLedger(logger *slog.Logger, observer Observer) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{logger: logger, observer: observer, now: func() time.Time { return time.Now().UTC() }}
}

// StockIn creates one batch and one stock_in log entry per item.
func (l *Ledger) StockIn(ctx context.Context, tx TxRepository, input StockInInput) error {
	if input.GDID == 0 {
		return shared.Validation(ErrItemRequired, "stock in requires a gd")
	}
	at := input.StockedAt
	if at.IsZero() {
		at = l.now()
	}
	for _, item := range input.Items {
		if item.ItemID == "" {
			return shared.Validation(ErrItemRequired, "stock in line without item id")
		}
		if item.Quantity <= 0 || math.IsNaN(item.Quantity) {
			return shared.Validation(ErrInvalidQuantity, "item %s quantity %v", item.ItemID, item.Quantity)
		}
		if item.Cost < 0 {
			return shared.Validation(ErrInvalidCost, "item %s cost %v", item.ItemID, item.Cost)
		}
		batchID, err := tx.InsertBatch(ctx, Batch{
			ItemID:            item.ItemID,
			GDID:              input.GDID,
			QuantityRemaining: item.Quantity,
			Cost:              item.Cost,
			MRP:               item.MRP,
			Source:            SourceGD,
			StockedBy:         input.StockedBy,
			StockedAt:         at,
		})
		if err != nil {
			return fmt.Errorf("inventory: insert batch for %s: %w", item.ItemID, err)
		}
		if _, err := tx.InsertLog(ctx, LogEntry{
			BatchID:           batchID,
			ItemID:            item.ItemID,
			GDID:              input.GDID,
			Delta:             item.Quantity,
			ResultingQuantity: item.Quantity,
			Reason:            ReasonStockIn,
			Ref:               fmt.Sprintf("GD-%d", input.GDID),
			Actor:             input.StockedBy,
			CreatedAt:         at,
		}); err != nil {
			return fmt.Errorf("inventory: log stock in for %s: %w", item.ItemID, err)
		}
	}
	return nil
}

// ConsumeFIFO deducts quantity from the oldest batches first. When the batches
// cannot cover the request nothing is written and an insufficient stock error
// is returned alongside the computed shortfall.
func (l *Ledger) ConsumeFIFO(ctx context.Context, tx TxRepository, input ConsumeInput) (ConsumeResult, error) {
	if input.ItemID == "" || input.GDID == 0 {
		return ConsumeResult{}, shared.Validation(ErrItemRequired, "consume requires item and gd")
	}
	if input.Quantity <= 0 || math.IsNaN(input.Quantity) || math.IsInf(input.Quantity, 0) {
		return ConsumeResult{}, shared.Validation(ErrInvalidQuantity, "item %s quantity %v", input.ItemID, input.Quantity)
	}

	batches, err := tx.LockBatches(ctx, input.ItemID, input.GDID)
	if err != nil {
		return ConsumeResult{}, fmt.Errorf("inventory: lock batches for %s: %w", input.ItemID, err)
	}
	sortFIFO(batches)

	plan := planFIFO(batches, input.Quantity)
	if plan.Shortfall > qtyEpsilon {
		if l.observer != nil {
			l.observer.ObserveShortfall(input.ItemID)
		}
		return plan, shared.InsufficientStock(ErrInsufficientStock,
			"item %s: requested %v, available %v", input.ItemID, input.Quantity, plan.Consumed())
	}
	plan.Shortfall = 0

	at := l.now()
	for _, d := range plan.Deductions {
		if d.ResultingRemaining <= qtyEpsilon {
			err = tx.DeleteBatch(ctx, d.BatchID)
		} else {
			err = tx.UpdateBatchQuantity(ctx, d.BatchID, d.ResultingRemaining)
		}
		if err != nil {
			return ConsumeResult{}, fmt.Errorf("inventory: apply deduction to batch %d: %w", d.BatchID, err)
		}
		if _, err := tx.InsertLog(ctx, LogEntry{
			BatchID:           d.BatchID,
			ItemID:            input.ItemID,
			GDID:              input.GDID,
			Delta:             -d.Deducted,
			ResultingQuantity: d.ResultingRemaining,
			Reason:            ReasonSale,
			Ref:               input.Ref,
			Actor:             input.Actor,
			CreatedAt:         at,
		}); err != nil {
			return ConsumeResult{}, fmt.Errorf("inventory: log deduction on batch %d: %w", d.BatchID, err)
		}
	}

	if l.observer != nil {
		l.observer.ObserveConsumption(plan.Consumed(), len(plan.Deductions))
	}
	l.logger.DebugContext(ctx, "fifo consumption applied",
		slog.String("item_id", input.ItemID),
		slog.Int64("gd_id", input.GDID),
		slog.Float64("quantity", input.Quantity),
		slog.Int("batches", len(plan.Deductions)),
		slog.String("ref", input.Ref))
	return plan, nil
}

// Restock adds a fresh return batch. It never merges into existing batches
// because the cost basis may differ.
func (l *Ledger) Restock(ctx context.Context, tx TxRepository, input RestockInput) (Batch, error) {
	if input.ItemID == "" || input.GDID == 0 {
		return Batch{}, shared.Validation(ErrItemRequired, "restock requires item and gd")
	}
	if input.Quantity <= 0 || math.IsNaN(input.Quantity) {
		return Batch{}, shared.Validation(ErrInvalidQuantity, "item %s quantity %v", input.ItemID, input.Quantity)
	}
	if input.Cost < 0 {
		return Batch{}, shared.Validation(ErrInvalidCost, "item %s cost %v", input.ItemID, input.Cost)
	}
	at := input.At
	if at.IsZero() {
		at = l.now()
	}
	batch := Batch{
		ItemID:            input.ItemID,
		GDID:              input.GDID,
		QuantityRemaining: input.Quantity,
		Cost:              input.Cost,
		MRP:               input.MRP,
		Source:            SourceReturn,
		StockedBy:         input.Actor,
		StockedAt:         at,
	}
	id, err := tx.InsertBatch(ctx, batch)
	if err != nil {
		return Batch{}, fmt.Errorf("inventory: insert return batch for %s: %w", input.ItemID, err)
	}
	batch.ID = id
	if _, err := tx.InsertLog(ctx, LogEntry{
		BatchID:           id,
		ItemID:            input.ItemID,
		GDID:              input.GDID,
		Delta:             input.Quantity,
		ResultingQuantity: input.Quantity,
		Reason:            ReasonRestock,
		Ref:               input.Ref,
		Actor:             input.Actor,
		CreatedAt:         at,
	}); err != nil {
		return Batch{}, fmt.Errorf("inventory: log restock for %s: %w", input.ItemID, err)
	}
	if l.observer != nil {
		l.observer.ObserveRestock(input.Quantity)
	}
	return batch, nil
}

// RestockBasis picks the cost basis for returned goods: the cheapest live batch
// of the item within the GD, or the fallback when every batch is sold out.
func (l *Ledger) RestockBasis(ctx context.Context, tx TxRepository, itemID string, gdID int64, fallbackCost, fallbackMRP float64) (float64, float64, error) {
	batch, ok, err := tx.CheapestBatch(ctx, itemID, gdID)
	if err != nil {
		return 0, 0, fmt.Errorf("inventory: cheapest batch for %s: %w", itemID, err)
	}
	if !ok {
		return fallbackCost, fallbackMRP, nil
	}
	return batch.Cost, batch.MRP, nil
}

func sortFIFO(batches []Batch) {
	sort.SliceStable(batches, func(i, j int) bool {
		if !batches[i].StockedAt.Equal(batches[j].StockedAt) {
			return batches[i].StockedAt.Before(batches[j].StockedAt)
		}
		return batches[i].ID < batches[j].ID
	})
}

// planFIFO walks batches in order and computes deductions without side effects.
func planFIFO(batches []Batch, quantity float64) ConsumeResult {
	remaining := decimal.NewFromFloat(quantity)
	totalCost := decimal.Zero
	result := ConsumeResult{}
	for _, b := range batches {
		if !remaining.IsPositive() {
			break
		}
		available := decimal.NewFromFloat(b.QuantityRemaining)
		if !available.IsPositive() {
			continue
		}
		take := decimal.Min(remaining, available)
		left := available.Sub(take)
		result.Deductions = append(result.Deductions, Deduction{
			BatchID:            b.ID,
			Deducted:           take.InexactFloat64(),
			ResultingRemaining: left.InexactFloat64(),
			UnitCost:           b.Cost,
		})
		totalCost = totalCost.Add(take.Mul(decimal.NewFromFloat(b.Cost)))
		remaining = remaining.Sub(take)
	}
	result.TotalCost = totalCost.InexactFloat64()
	if remaining.IsPositive() {
		result.Shortfall = remaining.InexactFloat64()
	}
	return result
}
