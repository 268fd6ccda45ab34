package customs

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/importdesk/importdesk/internal/inventory"
	"github.com/importdesk/importdesk/internal/landedcost"
	"github.com/importdesk/importdesk/internal/shared"
	"github.com/importdesk/importdesk/internal/shared/money"
)

// Service coordinates the GD entry workflow.
type Service struct {
	uow    UnitOfWork
	ledger *inventory.Ledger
	rates  landedcost.Rates
	logger *slog.Logger
	now    func() time.Time
}

// NewService builds Service.
func NewService(uow UnitOfWork, ledger *inventory.Ledger, rates landedcost.Rates, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{uow: uow, ledger: ledger, rates: rates, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// CreateGD stores header, charges and computed items in one transaction.
func (s *Service) CreateGD(ctx context.Context, input CreateGDInput) (CreateGDResult, error) {
	header := normaliseHeader(input.Header)
	if header.GDNumber == "" {
		return CreateGDResult{}, shared.Validation(ErrInvalidGD, "gd number required")
	}
	if len(input.Items) == 0 {
		return CreateGDResult{}, shared.Validation(ErrInvalidGD, "gd %s has no items", header.GDNumber)
	}
	if err := validateItems(input.Items, false); err != nil {
		return CreateGDResult{}, err
	}
	if err := validateCharges(input.Charges); err != nil {
		return CreateGDResult{}, err
	}
	rates := s.rates.WithIncomeTaxRate(input.IncomeTaxRate)
	if err := rates.Validate(); err != nil {
		return CreateGDResult{}, err
	}

	charges := make([]Charge, 0, len(input.Charges))
	for _, c := range input.Charges {
		charges = append(charges, Charge{Label: strings.TrimSpace(c.Label), Amount: money.Round2(c.Amount)})
	}
	items := make([]Item, 0, len(input.Items))
	for i, in := range input.Items {
		ordinal := i + 1
		hs := strings.TrimSpace(in.HSCode)
		items = append(items, Item{
			ItemID:      ItemID(header.GDNumber, hs, ordinal),
			Ordinal:     ordinal,
			Description: strings.TrimSpace(in.Description),
			HSCode:      hs,
			Raw:         in.Raw,
		})
	}
	items, avg, err := recompute(items, charges, rates)
	if err != nil {
		return CreateGDResult{}, err
	}

	var result CreateGDResult
	err = s.uow.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		gdID, err := tx.GDs().InsertGD(ctx, GD{Header: header, IncomeTaxRate: rates.IncomeTaxRate, LandedCost: avg})
		if err != nil {
			return err
		}
		for _, c := range charges {
			c.GDID = gdID
			if _, err := tx.GDs().InsertCharge(ctx, c); err != nil {
				return fmt.Errorf("customs: insert charge %q: %w", c.Label, err)
			}
		}
		for _, it := range items {
			it.GDID = gdID
			if _, err := tx.GDs().InsertItem(ctx, it); err != nil {
				return fmt.Errorf("customs: insert item %s: %w", it.ItemID, err)
			}
		}
		result = CreateGDResult{GDID: gdID, AvgLandedCost: avg}
		return nil
	})
	if err != nil {
		return CreateGDResult{}, shared.Persistence(err)
	}
	s.logger.InfoContext(ctx, "gd created",
		slog.Int64("gd_id", result.GDID),
		slog.String("gd_number", header.GDNumber),
		slog.Int("items", len(items)),
		slog.Float64("avg_landed_cost", avg))
	return result, nil
}

// UpdateItems replaces raw figures of existing lines and recomputes every line
// of the GD against its persisted charges. On a stocked GD the remaining
// batches it stocked in are repriced to the new landed cost and MRP.
func (s *Service) UpdateItems(ctx context.Context, input UpdateItemsInput) (float64, error) {
	if input.GDID == 0 {
		return 0, shared.Validation(ErrInvalidGD, "gd id required")
	}
	if err := validateItems(input.Items, true); err != nil {
		return 0, err
	}
	var (
		avg      float64
		repriced int64
	)
	err := s.uow.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		gd, err := tx.GDs().GetGDForUpdate(ctx, input.GDID)
		if err != nil {
			return err
		}
		rates := s.rates
		rates.IncomeTaxRate = gd.IncomeTaxRate
		rates = rates.WithIncomeTaxRate(input.IncomeTaxRate)
		if err := rates.Validate(); err != nil {
			return err
		}

		items, err := tx.GDs().ListItems(ctx, gd.ID)
		if err != nil {
			return err
		}
		byID := make(map[string]int, len(items))
		for i, it := range items {
			byID[it.ItemID] = i
		}
		for _, in := range input.Items {
			idx, ok := byID[in.ItemID]
			if !ok {
				return shared.NotFound(ErrItemNotFound, "item %s in gd %d", in.ItemID, gd.ID)
			}
			items[idx].Raw = in.Raw
			if d := strings.TrimSpace(in.Description); d != "" {
				items[idx].Description = d
			}
		}

		charges, err := tx.GDs().ListCharges(ctx, gd.ID)
		if err != nil {
			return err
		}
		items, avg, err = recompute(items, charges, rates)
		if err != nil {
			return err
		}
		stocked := gd.State() != StateStored
		for _, it := range items {
			if err := tx.GDs().UpdateItem(ctx, it); err != nil {
				return fmt.Errorf("customs: update item %s: %w", it.ItemID, err)
			}
			if !stocked {
				continue
			}
			n, err := tx.Inventory().RepriceBatches(ctx, it.ItemID, gd.ID, it.LandedCost, it.MRP)
			if err != nil {
				return fmt.Errorf("customs: reprice batches of %s: %w", it.ItemID, err)
			}
			repriced += n
		}
		return tx.GDs().UpdateLandedCost(ctx, gd.ID, avg, rates.IncomeTaxRate)
	})
	if err != nil {
		return 0, shared.Persistence(err)
	}
	s.logger.InfoContext(ctx, "gd items recomputed",
		slog.Int64("gd_id", input.GDID),
		slog.Int("changed", len(input.Items)),
		slog.Int64("repriced_batches", repriced),
		slog.Float64("avg_landed_cost", avg))
	return avg, nil
}

// StockIn moves every line of a stored GD into inventory.
func (s *Service) StockIn(ctx context.Context, gdID int64, stockedBy string, stockedAt time.Time) error {
	if gdID == 0 {
		return shared.Validation(ErrInvalidGD, "gd id required")
	}
	if stockedAt.IsZero() {
		stockedAt = s.now()
	}
	var lines int
	err := s.uow.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		gd, err := tx.GDs().GetGDForUpdate(ctx, gdID)
		if err != nil {
			return err
		}
		switch gd.State() {
		case StateRetired:
			return shared.Conflict(ErrRetired, "gd %d is retired", gd.ID)
		case StateStockedIn:
			return shared.Conflict(ErrAlreadyStocked, "gd %d already stocked in", gd.ID)
		}
		items, err := tx.GDs().ListItems(ctx, gd.ID)
		if err != nil {
			return err
		}
		in := inventory.StockInInput{GDID: gd.ID, StockedBy: stockedBy, StockedAt: stockedAt}
		for _, it := range items {
			if it.Raw.Quantity <= 0 {
				s.logger.WarnContext(ctx, "skipping zero quantity line on stock in", slog.String("item_id", it.ItemID))
				continue
			}
			in.Items = append(in.Items, inventory.StockInItem{
				ItemID:   it.ItemID,
				Quantity: it.Raw.Quantity,
				Cost:     it.LandedCost,
				MRP:      it.MRP,
			})
		}
		lines = len(in.Items)
		if lines == 0 {
			return shared.Validation(ErrInvalidGD, "gd %d has no line with quantity to stock in", gd.ID)
		}
		if err := s.ledger.StockIn(ctx, tx.Inventory(), in); err != nil {
			return err
		}
		if err := tx.GDs().MarkStocked(ctx, gd.ID, stockedBy, stockedAt); err != nil {
			return err
		}
		return tx.Audit().Record(ctx, shared.AuditLog{
			Actor:    stockedBy,
			Action:   "gd.stock_in",
			Entity:   "gd",
			EntityID: strconv.FormatInt(gd.ID, 10),
			Meta:     map[string]any{"gd_number": gd.GDNumber, "lines": lines},
			At:       stockedAt,
		})
	})
	if err != nil {
		return shared.Persistence(err)
	}
	s.logger.InfoContext(ctx, "gd stocked in", slog.Int64("gd_id", gdID), slog.Int("lines", lines), slog.String("by", stockedBy))
	return nil
}

// Get returns a GD with its items and charges.
func (s *Service) Get(ctx context.Context, gdID int64) (Detail, error) {
	var out Detail
	err := s.uow.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		gd, err := tx.GDs().GetGD(ctx, gdID)
		if err != nil {
			return err
		}
		items, err := tx.GDs().ListItems(ctx, gdID)
		if err != nil {
			return err
		}
		charges, err := tx.GDs().ListCharges(ctx, gdID)
		if err != nil {
			return err
		}
		out = Detail{GD: gd, Items: items, Charges: charges}
		return nil
	})
	if err != nil {
		return Detail{}, shared.Persistence(err)
	}
	return out, nil
}

// RetireIfDepleted retires the GD once no inventory batch references it and
// records who triggered it. Callers pass their own transaction so retirement
// commits together with the sale that emptied the GD.
func RetireIfDepleted(ctx context.Context, tx Tx, gdID int64, actor string, at time.Time) (bool, error) {
	remaining, err := tx.Inventory().CountBatches(ctx, gdID)
	if err != nil {
		return false, err
	}
	if remaining > 0 {
		return false, nil
	}
	gd, err := tx.GDs().GetGDForUpdate(ctx, gdID)
	if err != nil {
		return false, err
	}
	if gd.State() == StateRetired {
		return false, nil
	}
	if err := tx.GDs().Retire(ctx, gdID, actor, at); err != nil {
		return false, err
	}
	if err := tx.Audit().Record(ctx, shared.AuditLog{
		Actor:    actor,
		Action:   "gd.retired",
		Entity:   "gd",
		EntityID: strconv.FormatInt(gdID, 10),
		Meta:     map[string]any{"gd_number": gd.GDNumber, "reason": "inventory depleted"},
		At:       at,
	}); err != nil {
		return false, err
	}
	return true, nil
}

// ReinstateIfRetired returns a retired GD to the stocked state when returned
// goods are restocked against it.
func ReinstateIfRetired(ctx context.Context, tx Tx, gdID int64, actor string, at time.Time) (bool, error) {
	gd, err := tx.GDs().GetGDForUpdate(ctx, gdID)
	if err != nil {
		return false, err
	}
	if gd.State() != StateRetired {
		return false, nil
	}
	if err := tx.GDs().Reinstate(ctx, gdID); err != nil {
		return false, err
	}
	if err := tx.Audit().Record(ctx, shared.AuditLog{
		Actor:    actor,
		Action:   "gd.reinstated",
		Entity:   "gd",
		EntityID: strconv.FormatInt(gdID, 10),
		Meta:     map[string]any{"gd_number": gd.GDNumber, "reason": "return restocked"},
		At:       at,
	}); err != nil {
		return false, err
	}
	return true, nil
}

// recompute derives every line against GD-wide aggregates and returns the
// rounded items plus the quantity-weighted average landed cost.
func recompute(items []Item, charges []Charge, rates landedcost.Rates) ([]Item, float64, error) {
	raws := make([]landedcost.RawItem, 0, len(items))
	for _, it := range items {
		raws = append(raws, it.Raw)
	}
	amounts := make([]float64, 0, len(charges))
	for _, c := range charges {
		amounts = append(amounts, c.Amount)
	}
	derived, err := landedcost.Allocate(raws, amounts, rates)
	if err != nil {
		return nil, 0, err
	}
	costed := make([]landedcost.Costed, 0, len(items))
	out := make([]Item, len(items))
	for i, it := range items {
		d := derived[i]
		costed = append(costed, landedcost.Costed{Quantity: it.Raw.Quantity, LandedCost: d.LandedCost})
		r := d.Rounded()
		it.LandedCost = r.LandedCost
		it.RetailPrice = r.RetailPrice
		it.MRP = r.MRP
		it.GrossMargin = r.GrossMargin
		it.SalePrice = r.SalePrice
		out[i] = it
	}
	return out, money.Round2(landedcost.AverageLandedCost(costed)), nil
}

func normaliseHeader(h Header) Header {
	h.GDNumber = strings.TrimSpace(h.GDNumber)
	h.Importer = strings.TrimSpace(h.Importer)
	h.Port = strings.TrimSpace(h.Port)
	h.Vessel = strings.TrimSpace(h.Vessel)
	h.BLNumber = strings.TrimSpace(h.BLNumber)
	return h
}

func validateItems(items []ItemInput, update bool) error {
	for i, in := range items {
		if update && in.ItemID == "" {
			return shared.Validation(ErrInvalidGD, "line %d: item id required", i+1)
		}
		if !update && strings.TrimSpace(in.HSCode) == "" {
			return shared.Validation(ErrInvalidGD, "line %d: hs code required", i+1)
		}
		r := in.Raw
		for name, v := range map[string]float64{
			"quantity": r.Quantity, "unit_price": r.UnitPrice, "gross_weight": r.GrossWeight,
			"custom_duty": r.CustomDuty, "acd": r.ACD, "sales_tax": r.SalesTax,
			"gst": r.GST, "ast": r.AST, "income_tax": r.IncomeTax,
		} {
			if v < 0 {
				return shared.Validation(ErrInvalidGD, "line %d: %s must not be negative", i+1, name)
			}
		}
	}
	return nil
}

func validateCharges(charges []ChargeInput) error {
	for i, c := range charges {
		if strings.TrimSpace(c.Label) == "" {
			return shared.Validation(ErrInvalidGD, "charge %d: label required", i+1)
		}
		if c.Amount < 0 {
			return shared.Validation(ErrInvalidGD, "charge %d: amount must not be negative", i+1)
		}
	}
	return nil
}
