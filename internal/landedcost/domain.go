// Package landedcost derives per-unit landed cost and retail pricing from the
// raw customs figures of a goods declaration. It performs no I/O.
package landedcost

import (
	"errors"

	"github.com/importdesk/importdesk/internal/shared/money"
)

const (
	// DefaultSalesTaxRate is the flat sales tax assumed when reversing retail price.
	DefaultSalesTaxRate = 0.18
	// DefaultIncomeTaxRate is the rate income tax is withheld at on import.
	DefaultIncomeTaxRate = 0.35
	// overRetailShare is the portion of the nominal margin kept when the
	// suggested sale price would exceed the retail ceiling.
	overRetailShare = 0.9
)

// ErrInvalidRate indicates a rate outside its allowed range.
var ErrInvalidRate = errors.New("landedcost: invalid rate")

// Rates carries the tax constants used by the calculator.
type Rates struct {
	SalesTaxRate  float64
	IncomeTaxRate float64
	// ExcludeIncomeTaxFromCost treats import income tax as an adjustable
	// advance rather than a landed-cost component.
	ExcludeIncomeTaxFromCost bool
}

// DefaultRates returns the stock 18% sales tax and 35% income tax rates.
func DefaultRates() Rates {
	return Rates{SalesTaxRate: DefaultSalesTaxRate, IncomeTaxRate: DefaultIncomeTaxRate}
}

// WithIncomeTaxRate overrides the income tax rate when rate is non-nil.
func (r Rates) WithIncomeTaxRate(rate *float64) Rates {
	if rate != nil {
		r.IncomeTaxRate = *rate
	}
	return r
}

// RawItem holds the import figures of a single customs line.
type RawItem struct {
	Quantity    float64
	UnitPrice   float64
	GrossWeight float64
	CustomDuty  float64
	ACD         float64
	SalesTax    float64
	GST         float64
	AST         float64
	IncomeTax   float64
}

// normalised replaces NaN/Inf with zero and a zero quantity with one.
func (r RawItem) normalised() RawItem {
	out := RawItem{
		Quantity:    money.Finite(r.Quantity),
		UnitPrice:   money.Finite(r.UnitPrice),
		GrossWeight: money.Finite(r.GrossWeight),
		CustomDuty:  money.Finite(r.CustomDuty),
		ACD:         money.Finite(r.ACD),
		SalesTax:    money.Finite(r.SalesTax),
		GST:         money.Finite(r.GST),
		AST:         money.Finite(r.AST),
		IncomeTax:   money.Finite(r.IncomeTax),
	}
	if out.Quantity == 0 {
		out.Quantity = 1
	}
	return out
}

// Derived holds the computed economics of one item.
type Derived struct {
	CustomsPerUnit   float64
	OtherCostPerUnit float64
	PerUnitSalesTax  float64
	PerUnitProfit    float64

	LandedCost  float64
	RetailPrice float64
	MRP         float64
	GrossMargin float64
	SalePrice   float64
	Clamped     bool
}

// Rounded returns a copy with every monetary field rounded to two places.
func (d Derived) Rounded() Derived {
	return Derived{
		CustomsPerUnit:   money.Round2(d.CustomsPerUnit),
		OtherCostPerUnit: money.Round2(d.OtherCostPerUnit),
		PerUnitSalesTax:  money.Round2(d.PerUnitSalesTax),
		PerUnitProfit:    money.Round2(d.PerUnitProfit),
		LandedCost:       money.Round2(d.LandedCost),
		RetailPrice:      money.Round2(d.RetailPrice),
		MRP:              money.Round2(d.MRP),
		GrossMargin:      money.Round2(d.GrossMargin),
		SalePrice:        money.Round2(d.SalePrice),
		Clamped:          d.Clamped,
	}
}

// Totals are the GD-wide aggregates an item's share is computed against.
type Totals struct {
	OtherCharges float64
	GrossWeight  float64
}

// Costed is the minimum needed to average landed cost across a GD.
type Costed struct {
	Quantity   float64
	LandedCost float64
}
