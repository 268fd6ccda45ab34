// Package customs owns Goods Declarations: their header, charges and items,
// the landed cost derived from them, and the GD lifecycle
// Stored -> StockedIn -> Retired.
package customs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/importdesk/importdesk/internal/inventory"
	"github.com/importdesk/importdesk/internal/landedcost"
	"github.com/importdesk/importdesk/internal/shared"
)

var (
	ErrGDNotFound      = errors.New("customs: gd not found")
	ErrItemNotFound    = errors.New("customs: gd item not found")
	ErrInvalidGD       = errors.New("customs: invalid gd")
	ErrAlreadyStocked  = errors.New("customs: gd already stocked in")
	ErrRetired         = errors.New("customs: gd retired")
	ErrDuplicateNumber = errors.New("customs: gd number already exists")
)

// State is the lifecycle position of a GD.
type State string

const (
	StateStored    State = "stored"
	StateStockedIn State = "stocked_in"
	StateRetired   State = "retired"
)

// Header carries the customs and shipping metadata of a declaration.
type Header struct {
	GDNumber   string
	Importer   string
	Port       string
	Vessel     string
	BLNumber   string
	DeclaredOn *time.Time
}

// GD is a persisted goods declaration.
type GD struct {
	ID int64
	Header
	IncomeTaxRate float64
	LandedCost    float64
	StockedIn     bool
	StockedBy     string
	StockedAt     *time.Time
	RetiredAt     *time.Time
	RetiredBy     string
	CreatedAt     time.Time
}

// State derives the lifecycle state from the stored flags.
func (g GD) State() State {
	switch {
	case g.RetiredAt != nil:
		return StateRetired
	case g.StockedIn:
		return StateStockedIn
	default:
		return StateStored
	}
}

// Charge is a freight-like cost allocated across items by gross weight.
type Charge struct {
	ID     int64
	GDID   int64
	Label  string
	Amount float64
}

// Item is one customs line with raw figures and the values derived from them.
type Item struct {
	ID          int64
	GDID        int64
	ItemID      string
	Ordinal     int
	Description string
	HSCode      string
	Raw         landedcost.RawItem

	LandedCost  float64
	RetailPrice float64
	MRP         float64
	GrossMargin float64
	SalePrice   float64
}

// ItemID synthesises the stable identifier of the ordinal-th line of a GD.
func ItemID(gdNumber, hsCode string, ordinal int) string {
	return fmt.Sprintf("%s-%s-%d", gdNumber, hsCode, ordinal)
}

// ItemInput is a submitted customs line. ItemID addresses an existing line
// on update and is ignored on create.
type ItemInput struct {
	ItemID      string
	Description string
	HSCode      string
	Raw         landedcost.RawItem
}

// ChargeInput is a submitted charge.
type ChargeInput struct {
	Label  string
	Amount float64
}

// CreateGDInput is everything needed to store a new declaration.
type CreateGDInput struct {
	Header        Header
	Items         []ItemInput
	Charges       []ChargeInput
	IncomeTaxRate *float64
	CreatedBy     string
}

// CreateGDResult reports the stored GD and its average landed cost.
type CreateGDResult struct {
	GDID          int64
	AvgLandedCost float64
}

// UpdateItemsInput replaces raw figures of existing lines.
type UpdateItemsInput struct {
	GDID          int64
	Items         []ItemInput
	IncomeTaxRate *float64
	UpdatedBy     string
}

// Detail is a GD with its lines and charges.
type Detail struct {
	GD      GD
	Items   []Item
	Charges []Charge
}

// TxRepository is the GD storage port bound to one transaction.
type TxRepository interface {
	InsertGD(ctx context.Context, gd GD) (int64, error)
	GetGD(ctx context.Context, id int64) (GD, error)
	GetGDForUpdate(ctx context.Context, id int64) (GD, error)
	InsertCharge(ctx context.Context, charge Charge) (int64, error)
	ListCharges(ctx context.Context, gdID int64) ([]Charge, error)
	InsertItem(ctx context.Context, item Item) (int64, error)
	ListItems(ctx context.Context, gdID int64) ([]Item, error)
	UpdateItem(ctx context.Context, item Item) error
	UpdateLandedCost(ctx context.Context, gdID int64, avg, incomeTaxRate float64) error
	MarkStocked(ctx context.Context, gdID int64, by string, at time.Time) error
	Retire(ctx context.Context, gdID int64, by string, at time.Time) error
	Reinstate(ctx context.Context, gdID int64) error
}

// Tx groups the repositories a GD workflow touches atomically.
type Tx interface {
	GDs() TxRepository
	Inventory() inventory.TxRepository
	Audit() shared.AuditRecorder
}

// UnitOfWork runs fn in one transaction, committing only when fn succeeds.
type UnitOfWork interface {
	WithTx(ctx context.Context, fn func(context.Context, Tx) error) error
}
