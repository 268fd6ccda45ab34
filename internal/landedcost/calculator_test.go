package landedcost

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func scenarioItem() RawItem {
	return RawItem{
		Quantity:   100,
		UnitPrice:  10,
		CustomDuty: 500,
		SalesTax:   180,
		IncomeTax:  350,
	}
}

func TestComputeClampsOverRetail(t *testing.T) {
	rates := DefaultRates()
	rates.ExcludeIncomeTaxFromCost = true

	d, err := Compute(scenarioItem(), Totals{}, rates)
	require.NoError(t, err)

	require.InDelta(t, 5, d.CustomsPerUnit, 1e-9)
	require.InDelta(t, 1.8, d.PerUnitSalesTax, 1e-9)
	require.InDelta(t, 10, d.RetailPrice, 1e-9)
	require.InDelta(t, 11.8, d.MRP, 1e-9)
	require.InDelta(t, 15, d.LandedCost, 1e-9)
	require.InDelta(t, 10, d.PerUnitProfit, 1e-9)
	require.InDelta(t, -5, d.GrossMargin, 1e-9)
	require.True(t, d.Clamped)
	require.InDelta(t, 10.5, d.SalePrice, 1e-9)
}

func TestComputeIncludesIncomeTaxInCustomsByDefault(t *testing.T) {
	d, err := Compute(scenarioItem(), Totals{}, DefaultRates())
	require.NoError(t, err)

	require.InDelta(t, 8.5, d.CustomsPerUnit, 1e-9)
	require.InDelta(t, 18.5, d.LandedCost, 1e-9)
	require.True(t, d.Clamped)
	require.InDelta(t, 18.5+0.9*(10-18.5), d.SalePrice, 1e-9)
}

func TestComputeKeepsSalePriceUnderRetail(t *testing.T) {
	item := RawItem{Quantity: 10, UnitPrice: 50, SalesTax: 180, IncomeTax: 35}
	d, err := Compute(item, Totals{}, DefaultRates())
	require.NoError(t, err)

	// retail = 18/0.18 = 100, cost = 50 + 3.5, profit = 10
	require.InDelta(t, 100, d.RetailPrice, 1e-9)
	require.InDelta(t, 53.5, d.LandedCost, 1e-9)
	require.False(t, d.Clamped)
	require.InDelta(t, 63.5, d.SalePrice, 1e-9)
	require.LessOrEqual(t, d.SalePrice, d.RetailPrice)
}

func TestAllocateSplitsChargesByGrossWeight(t *testing.T) {
	items := []RawItem{
		{Quantity: 10, UnitPrice: 1, GrossWeight: 30},
		{Quantity: 5, UnitPrice: 1, GrossWeight: 10},
	}
	out, err := Allocate(items, []float64{300, 100}, DefaultRates())
	require.NoError(t, err)
	require.Len(t, out, 2)

	// 400 charges over 40kg: 300 to the first item, 100 to the second.
	require.InDelta(t, 30, out[0].OtherCostPerUnit, 1e-9)
	require.InDelta(t, 20, out[1].OtherCostPerUnit, 1e-9)
	require.InDelta(t, 31, out[0].LandedCost, 1e-9)

	allocated := out[0].OtherCostPerUnit*10 + out[1].OtherCostPerUnit*5
	require.InDelta(t, 400, allocated, 1e-9)
}

func TestComputeEdgeInputs(t *testing.T) {
	t.Run("zero quantity treated as one", func(t *testing.T) {
		d, err := Compute(RawItem{UnitPrice: 7, CustomDuty: 3}, Totals{}, DefaultRates())
		require.NoError(t, err)
		require.InDelta(t, 10, d.LandedCost, 1e-9)
	})

	t.Run("nan inputs default to zero", func(t *testing.T) {
		item := RawItem{Quantity: 2, UnitPrice: 4, CustomDuty: math.NaN(), ACD: math.Inf(1)}
		d, err := Compute(item, Totals{OtherCharges: math.NaN(), GrossWeight: 10}, DefaultRates())
		require.NoError(t, err)
		require.InDelta(t, 4, d.LandedCost, 1e-9)
		require.False(t, math.IsNaN(d.SalePrice))
	})

	t.Run("zero gross weight allocates no charges", func(t *testing.T) {
		d, err := Compute(RawItem{Quantity: 1, UnitPrice: 1}, Totals{OtherCharges: 500}, DefaultRates())
		require.NoError(t, err)
		require.Zero(t, d.OtherCostPerUnit)
	})
}

func TestComputeRejectsInvalidIncomeTaxRate(t *testing.T) {
	for _, rate := range []float64{0, -0.1, 1.5, math.NaN(), math.Inf(1)} {
		rates := DefaultRates()
		rates.IncomeTaxRate = rate
		_, err := Compute(scenarioItem(), Totals{}, rates)
		require.ErrorIs(t, err, ErrInvalidRate)

		_, err = Allocate([]RawItem{scenarioItem()}, nil, rates)
		require.ErrorIs(t, err, ErrInvalidRate)
	}

	rates := DefaultRates()
	rates.IncomeTaxRate = 1
	_, err := Compute(scenarioItem(), Totals{}, rates)
	require.NoError(t, err)
}

func TestComputeIsDeterministic(t *testing.T) {
	items := []RawItem{
		{Quantity: 13, UnitPrice: 7.77, GrossWeight: 12.5, CustomDuty: 91.3, ACD: 4.4, SalesTax: 33.1, GST: 2.2, AST: 1.1, IncomeTax: 19.9},
		{Quantity: 3, UnitPrice: 120.05, GrossWeight: 40, CustomDuty: 55, SalesTax: 70, IncomeTax: 44},
	}
	charges := []float64{123.45, 67.89}

	first, err := Allocate(items, charges, DefaultRates())
	require.NoError(t, err)
	second, err := Allocate(items, charges, DefaultRates())
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestRoundingIsStable(t *testing.T) {
	item := RawItem{Quantity: 7, UnitPrice: 3.33, GrossWeight: 2.25, CustomDuty: 10.01, ACD: 0.99, SalesTax: 12.34, GST: 0.66, IncomeTax: 5.55}
	totals := Totals{OtherCharges: 99.99, GrossWeight: 9.75}

	d, err := Compute(item, totals, DefaultRates())
	require.NoError(t, err)

	once := d.Rounded()
	twice := once.Rounded()
	require.Equal(t, once, twice)

	fields := [][2]float64{
		{d.LandedCost, once.LandedCost},
		{d.RetailPrice, once.RetailPrice},
		{d.MRP, once.MRP},
		{d.GrossMargin, once.GrossMargin},
		{d.SalePrice, once.SalePrice},
	}
	for _, f := range fields {
		require.InDelta(t, f[0], f[1], 0.005)
	}
}

func TestAverageLandedCost(t *testing.T) {
	avg := AverageLandedCost([]Costed{
		{Quantity: 10, LandedCost: 20},
		{Quantity: 30, LandedCost: 40},
	})
	require.InDelta(t, 35, avg, 1e-9)
	require.Zero(t, AverageLandedCost(nil))
	require.Zero(t, AverageLandedCost([]Costed{{Quantity: 0, LandedCost: 12}}))
}
