package landedcost

import (
	"math"

	"github.com/importdesk/importdesk/internal/shared"
	"github.com/importdesk/importdesk/internal/shared/money"
)

// Validate checks the rates are finite and in range.
func (r Rates) Validate() error {
	if math.IsNaN(r.IncomeTaxRate) || math.IsInf(r.IncomeTaxRate, 0) || r.IncomeTaxRate <= 0 || r.IncomeTaxRate > 1 {
		return shared.Validation(ErrInvalidRate, "income tax rate %v must be in (0, 1]", r.IncomeTaxRate)
	}
	if math.IsNaN(r.SalesTaxRate) || math.IsInf(r.SalesTaxRate, 0) || r.SalesTaxRate <= 0 {
		return shared.Validation(ErrInvalidRate, "sales tax rate %v must be positive", r.SalesTaxRate)
	}
	return nil
}

// Compute derives landed cost, retail price, MRP, margin and suggested sale
// price for a single item. Results are unrounded.
func Compute(item RawItem, totals Totals, rates Rates) (Derived, error) {
	if err := rates.Validate(); err != nil {
		return Derived{}, err
	}
	it := item.normalised()
	otherCharges := money.Finite(totals.OtherCharges)
	totalWeight := money.Finite(totals.GrossWeight)

	customs := it.CustomDuty + it.ACD
	if !rates.ExcludeIncomeTaxFromCost {
		customs += it.IncomeTax
	}
	customsPerUnit := customs / it.Quantity

	var otherPerUnit float64
	if totalWeight > 0 {
		otherPerUnit = (it.GrossWeight * otherCharges / totalWeight) / it.Quantity
	}

	cost := it.UnitPrice + customsPerUnit + otherPerUnit

	perUnitSalesTax := (it.SalesTax + it.GST + it.AST) / it.Quantity
	retail := perUnitSalesTax / rates.SalesTaxRate
	mrp := retail + perUnitSalesTax

	perUnitProfit := (it.IncomeTax / rates.IncomeTaxRate) / it.Quantity
	salePrice := cost + perUnitProfit
	clamped := false
	if salePrice > retail {
		salePrice = cost + overRetailShare*(retail-cost)
		clamped = true
	}

	return Derived{
		CustomsPerUnit:   customsPerUnit,
		OtherCostPerUnit: otherPerUnit,
		PerUnitSalesTax:  perUnitSalesTax,
		PerUnitProfit:    perUnitProfit,
		LandedCost:       cost,
		RetailPrice:      retail,
		MRP:              mrp,
		GrossMargin:      retail - cost,
		SalePrice:        salePrice,
		Clamped:          clamped,
	}, nil
}

// TotalsFor aggregates charges and gross weight across all items of a GD.
func TotalsFor(items []RawItem, charges []float64) Totals {
	weights := make([]float64, 0, len(items))
	for _, it := range items {
		weights = append(weights, it.GrossWeight)
	}
	return Totals{
		OtherCharges: money.Sum(charges...),
		GrossWeight:  money.Sum(weights...),
	}
}

// Allocate runs Compute for every item against the GD-wide aggregates.
func Allocate(items []RawItem, charges []float64, rates Rates) ([]Derived, error) {
	if err := rates.Validate(); err != nil {
		return nil, err
	}
	totals := TotalsFor(items, charges)
	out := make([]Derived, 0, len(items))
	for _, it := range items {
		d, err := Compute(it, totals, rates)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// AverageLandedCost returns the quantity-weighted mean landed cost.
func AverageLandedCost(items []Costed) float64 {
	var qty, value float64
	for _, it := range items {
		q := money.Finite(it.Quantity)
		qty += q
		value += q * money.Finite(it.LandedCost)
	}
	if qty == 0 {
		return 0
	}
	return value / qty
}
