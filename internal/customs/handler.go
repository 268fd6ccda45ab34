package customs

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/importdesk/importdesk/internal/landedcost"
	"github.com/importdesk/importdesk/internal/platform/httpx"
	"github.com/importdesk/importdesk/internal/shared"
	"github.com/importdesk/importdesk/internal/shared/money"
)

// Handler exposes the GD workflow over JSON.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs the handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers GD routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.handleCreate)
	r.Get("/{id}", h.handleGet)
	r.Put("/{id}/items", h.handleUpdateItems)
	r.Post("/{id}/stock-in", h.handleStockIn)
}

type itemRequest struct {
	ItemID      string  `json:"item_id"`
	Description string  `json:"description" validate:"max=500"`
	HSCode      string  `json:"hs_code" validate:"max=20"`
	Quantity    float64 `json:"quantity" validate:"gte=0"`
	UnitPrice   float64 `json:"unit_price" validate:"gte=0"`
	GrossWeight float64 `json:"gross_weight" validate:"gte=0"`
	CustomDuty  float64 `json:"custom_duty" validate:"gte=0"`
	ACD         float64 `json:"acd" validate:"gte=0"`
	SalesTax    float64 `json:"sales_tax" validate:"gte=0"`
	GST         float64 `json:"gst" validate:"gte=0"`
	AST         float64 `json:"ast" validate:"gte=0"`
	IncomeTax   float64 `json:"income_tax" validate:"gte=0"`
}

func (r itemRequest) input() ItemInput {
	return ItemInput{
		ItemID:      r.ItemID,
		Description: r.Description,
		HSCode:      r.HSCode,
		Raw: landedcost.RawItem{
			Quantity: r.Quantity, UnitPrice: r.UnitPrice, GrossWeight: r.GrossWeight,
			CustomDuty: r.CustomDuty, ACD: r.ACD, SalesTax: r.SalesTax,
			GST: r.GST, AST: r.AST, IncomeTax: r.IncomeTax,
		},
	}
}

type createRequest struct {
	GDNumber   string        `json:"gd_number" validate:"required,max=64"`
	Importer   string        `json:"importer"`
	Port       string        `json:"port"`
	Vessel     string        `json:"vessel"`
	BLNumber   string        `json:"bl_number"`
	DeclaredOn string        `json:"declared_on" validate:"omitempty,datetime=2006-01-02"`
	Items      []itemRequest `json:"items" validate:"required,min=1,dive"`
	Charges    []struct {
		Label  string  `json:"label" validate:"required"`
		Amount float64 `json:"amount" validate:"gte=0"`
	} `json:"charges" validate:"dive"`
	TaxRate   *float64 `json:"tax_rate"`
	CreatedBy string   `json:"created_by"`
}

type updateItemsRequest struct {
	Items   []itemRequest `json:"items" validate:"required,min=1,dive"`
	TaxRate *float64      `json:"tax_rate"`
}

type stockInRequest struct {
	StockedBy string     `json:"stocked_by" validate:"required"`
	StockedAt *time.Time `json:"stocked_at"`
}

type itemResponse struct {
	ItemID      string  `json:"item_id"`
	Ordinal     int     `json:"ordinal"`
	Description string  `json:"description"`
	HSCode      string  `json:"hs_code"`
	Quantity    float64 `json:"quantity"`
	UnitPrice   float64 `json:"unit_price"`
	LandedCost  float64 `json:"landed_cost"`
	RetailPrice float64 `json:"retail_price"`
	MRP         float64 `json:"mrp"`
	GrossMargin float64 `json:"gross_margin"`
	SalePrice   float64 `json:"sale_price"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	in := CreateGDInput{
		Header: Header{
			GDNumber: req.GDNumber, Importer: req.Importer, Port: req.Port,
			Vessel: req.Vessel, BLNumber: req.BLNumber,
		},
		IncomeTaxRate: req.TaxRate,
		CreatedBy:     req.CreatedBy,
	}
	if req.DeclaredOn != "" {
		d, err := time.Parse("2006-01-02", req.DeclaredOn)
		if err != nil {
			httpx.RespondError(w, h.logger, shared.Validation(httpx.ErrBadRequest, "invalid declared_on"))
			return
		}
		in.Header.DeclaredOn = &d
	}
	for _, it := range req.Items {
		in.Items = append(in.Items, it.input())
	}
	for _, c := range req.Charges {
		in.Charges = append(in.Charges, ChargeInput{Label: c.Label, Amount: c.Amount})
	}
	res, err := h.service.CreateGD(r.Context(), in)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"gd_id": res.GDID, "avg_landed_cost": money.Round2(res.AvgLandedCost)})
}

func (h *Handler) handleUpdateItems(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathInt64(r, "id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	var req updateItemsRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	in := UpdateItemsInput{GDID: id, IncomeTaxRate: req.TaxRate}
	for _, it := range req.Items {
		in.Items = append(in.Items, it.input())
	}
	avg, err := h.service.UpdateItems(r.Context(), in)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"avg_landed_cost": money.Round2(avg)})
}

func (h *Handler) handleStockIn(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathInt64(r, "id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	var req stockInRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	var at time.Time
	if req.StockedAt != nil {
		at = req.StockedAt.UTC()
	}
	if err := h.service.StockIn(r.Context(), id, req.StockedBy, at); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathInt64(r, "id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	d, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	items := make([]itemResponse, 0, len(d.Items))
	for _, it := range d.Items {
		items = append(items, itemResponse{
			ItemID: it.ItemID, Ordinal: it.Ordinal, Description: it.Description, HSCode: it.HSCode,
			Quantity: it.Raw.Quantity, UnitPrice: it.Raw.UnitPrice,
			LandedCost: it.LandedCost, RetailPrice: it.RetailPrice, MRP: it.MRP,
			GrossMargin: it.GrossMargin, SalePrice: it.SalePrice,
		})
	}
	charges := make([]map[string]any, 0, len(d.Charges))
	for _, c := range d.Charges {
		charges = append(charges, map[string]any{"label": c.Label, "amount": c.Amount})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"id":              d.GD.ID,
		"gd_number":       d.GD.GDNumber,
		"importer":        d.GD.Importer,
		"port":            d.GD.Port,
		"vessel":          d.GD.Vessel,
		"bl_number":       d.GD.BLNumber,
		"declared_on":     d.GD.DeclaredOn,
		"income_tax_rate": d.GD.IncomeTaxRate,
		"landed_cost":     d.GD.LandedCost,
		"state":           d.GD.State(),
		"stocked_by":      d.GD.StockedBy,
		"stocked_at":      d.GD.StockedAt,
		"retired_at":      d.GD.RetiredAt,
		"items":           items,
		"charges":         charges,
	})
}
