package inventory

import (
	"errors"
	"time"
)

// Source identifies where a batch came from.
type Source string

const (
	SourceGD     Source = "gd"
	SourceReturn Source = "return"
)

// Reason classifies ledger movements.
type Reason string

const (
	ReasonStockIn Reason = "stock_in"
	ReasonSale    Reason = "sale"
	ReasonRestock Reason = "restock"
)

var (
	// ErrInvalidQuantity indicates zero or negative quantity input.
	ErrInvalidQuantity = errors.New("inventory: invalid quantity")
	// ErrInsufficientStock indicates not enough batch quantity to satisfy a sale.
	ErrInsufficientStock = errors.New("inventory: insufficient stock")
	// ErrInvalidCost indicates a negative cost basis.
	ErrInvalidCost = errors.New("inventory: invalid cost")
	// ErrItemRequired indicates a movement without an item reference.
	ErrItemRequired = errors.New("inventory: item and gd required")
	// ErrBatchNotFound indicates a batch vanished under a locked update.
	ErrBatchNotFound = errors.New("inventory: batch not found")
)

// qtyEpsilon absorbs float noise when comparing quantities.
const qtyEpsilon = 1e-9

// Batch is a lot of one item originating from one GD (or a return against it).
type Batch struct {
	ID                int64
	ItemID            string
	GDID              int64
	QuantityRemaining float64
	Cost              float64
	MRP               float64
	Source            Source
	StockedBy         string
	StockedAt         time.Time
}

// LogEntry is an immutable record of one quantity change.
type LogEntry struct {
	ID                int64
	BatchID           int64
	ItemID            string
	GDID              int64
	Delta             float64
	ResultingQuantity float64
	Reason            Reason
	Ref               string
	Actor             string
	CreatedAt         time.Time
}

// StockInItem describes one GD line entering stock.
type StockInItem struct {
	ItemID   string
	Quantity float64
	Cost     float64
	MRP      float64
}

// StockInInput creates the opening batches of a GD.
type StockInInput struct {
	GDID      int64
	Items     []StockInItem
	StockedBy string
	StockedAt time.Time
}

// ConsumeInput requests FIFO consumption of an item scoped to its GD.
type ConsumeInput struct {
	ItemID   string
	GDID     int64
	Quantity float64
	Ref      string
	Actor    string
}

// Deduction records what one batch gave up.
type Deduction struct {
	BatchID            int64
	Deducted           float64
	ResultingRemaining float64
	UnitCost           float64
}

// ConsumeResult summarises a FIFO pass.
type ConsumeResult struct {
	Deductions []Deduction
	TotalCost  float64
	Shortfall  float64
}

// Consumed returns the quantity actually taken.
func (r ConsumeResult) Consumed() float64 {
	var total float64
	for _, d := range r.Deductions {
		total += d.Deducted
	}
	return total
}

// RestockInput puts returned goods back as a fresh batch.
type RestockInput struct {
	ItemID   string
	GDID     int64
	Quantity float64
	Cost     float64
	MRP      float64
	Ref      string
	Actor    string
	At       time.Time
}

// StockCardFilter narrows a stock card query.
type StockCardFilter struct {
	ItemID string
	GDID   int64
	From   *time.Time
	To     *time.Time
	Limit  int
}

// LedgerTotals aggregates the log and live batches for one (item, GD) pair.
type LedgerTotals struct {
	ItemID    string
	GDID      int64
	Stocked   float64
	Consumed  float64
	Restocked float64
	Remaining float64
}

// Expected is the quantity the log says should remain.
func (t LedgerTotals) Expected() float64 {
	return t.Stocked - t.Consumed + t.Restocked
}

// Discrepancy is an (item, GD) pair whose batches disagree with the log.
type Discrepancy struct {
	LedgerTotals
	Difference float64
}

// ReconcileReport lists every checked pair and any mismatches.
type ReconcileReport struct {
	Checked       int
	Discrepancies []Discrepancy
}
