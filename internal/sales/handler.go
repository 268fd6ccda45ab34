package sales

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/importdesk/importdesk/internal/platform/httpx"
	"github.com/importdesk/importdesk/internal/shared"
)

// Handler exposes invoice and return endpoints as JSON.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs the handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers invoice routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.handleCreate)
	r.Get("/{number}", h.handleGet)
	r.Delete("/{number}", h.handleDelete)
	r.Post("/{number}/paid", h.handleMarkPaid)
	r.Post("/{number}/returns", h.handleCreateReturn)
}

type createInvoiceRequest struct {
	CustomerID int64 `json:"customer_id" validate:"required,gt=0"`
	GDID       int64 `json:"gd_entry_id" validate:"required,gt=0"`
	Items      []struct {
		ItemID   string  `json:"item_id" validate:"required"`
		Quantity float64 `json:"quantity" validate:"gt=0"`
		SaleRate float64 `json:"sale_rate" validate:"gte=0"`
	} `json:"items" validate:"required,min=1,dive"`
	WithholdingRate *float64 `json:"withholding_rate" validate:"omitempty,gte=0,lte=1"`
	TaxSection      string   `json:"tax_section" validate:"required,oneof=236G 236H"`
	CreatedBy       string   `json:"created_by"`
}

type markPaidRequest struct {
	BankOrCash string `json:"bank_or_cash" validate:"required"`
	PayerName  string `json:"payer_name"`
	Date       string `json:"date" validate:"omitempty,datetime=2006-01-02"`
	ReceiptRef string `json:"receipt_ref"`
}

type createReturnRequest struct {
	Items []struct {
		InvoiceItemID int64   `json:"invoice_item_id" validate:"required,gt=0"`
		Quantity      float64 `json:"quantity" validate:"gt=0"`
		Restock       bool    `json:"restock"`
	} `json:"items" validate:"required,min=1,dive"`
	RefundMethod string `json:"refund_method" validate:"required,oneof=cash credit"`
	Actor        string `json:"actor"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createInvoiceRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	in := CreateInvoiceInput{
		CustomerID:      req.CustomerID,
		GDID:            req.GDID,
		WithholdingRate: req.WithholdingRate,
		TaxSection:      TaxSection(req.TaxSection),
		CreatedBy:       req.CreatedBy,
		IdempotencyKey:  r.Header.Get("Idempotency-Key"),
	}
	for _, it := range req.Items {
		in.Items = append(in.Items, InvoiceLineInput{ItemID: it.ItemID, Quantity: it.Quantity, SaleRate: it.SaleRate})
	}
	number, err := h.service.CreateInvoice(r.Context(), in)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"invoice_number": number})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	out, err := h.service.GetInvoice(r.Context(), chi.URLParam(r, "number"))
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, invoiceView(out))
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteInvoice(r.Context(), chi.URLParam(r, "number")); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleMarkPaid(w http.ResponseWriter, r *http.Request) {
	var req markPaidRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	info := PaymentInfo{BankOrCash: req.BankOrCash, PayerName: req.PayerName, ReceiptRef: req.ReceiptRef}
	if req.Date != "" {
		d, err := time.Parse("2006-01-02", req.Date)
		if err != nil {
			httpx.RespondError(w, h.logger, shared.Validation(httpx.ErrBadRequest, "invalid date %q", req.Date))
			return
		}
		info.PaidOn = d
	}
	if err := h.service.MarkPaid(r.Context(), chi.URLParam(r, "number"), info); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) handleCreateReturn(w http.ResponseWriter, r *http.Request) {
	var req createReturnRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	in := CreateReturnInput{
		InvoiceNumber:  chi.URLParam(r, "number"),
		RefundMethod:   RefundMethod(req.RefundMethod),
		Actor:          req.Actor,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	}
	for _, it := range req.Items {
		in.Items = append(in.Items, ReturnLine{InvoiceItemID: it.InvoiceItemID, Quantity: it.Quantity, Restock: it.Restock})
	}
	res, err := h.service.CreateReturn(r.Context(), in)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, res)
}

func invoiceView(out InvoiceWithItems) map[string]any {
	inv := out.Invoice
	items := make([]map[string]any, 0, len(out.Items))
	for _, it := range out.Items {
		items = append(items, map[string]any{
			"id":                it.ID,
			"item_id":           it.ItemID,
			"quantity_sold":     it.QuantitySold,
			"sale_rate":         it.SaleRate,
			"retail_price":      it.RetailPrice,
			"cost":              it.Cost,
			"quantity_returned": it.QuantityReturned,
		})
	}
	returns := make([]map[string]any, 0, len(out.Returns))
	for _, ret := range out.Returns {
		returns = append(returns, map[string]any{
			"return_number":   ret.ReturnNumber,
			"invoice_item_id": ret.InvoiceItemID,
			"quantity":        ret.Quantity,
			"refund_amount":   ret.RefundAmount,
			"tax_reversal":    ret.TaxReversal,
			"restock":         ret.Restock,
			"refund_method":   ret.RefundMethod,
			"created_at":      ret.CreatedAt,
		})
	}
	invoice := map[string]any{
		"invoice_number":   inv.Number,
		"customer_id":      inv.CustomerID,
		"gd_entry_id":      inv.GDID,
		"tax_section":      inv.TaxSection,
		"withholding_rate": inv.WithholdingRate,
		"gross_total":      inv.GrossTotal,
		"sales_tax":        inv.SalesTax,
		"withholding_tax":  inv.WithholdingTax,
		"income_tax_paid":  inv.IncomeTaxPaid,
		"total_cost":       inv.TotalCost,
		"gross_profit":     inv.GrossProfit,
		"is_paid":          inv.IsPaid,
		"total_refund":     inv.TotalRefund,
		"total_refund_tax": inv.TotalRefundTax,
		"fully_refunded":   inv.FullyRefunded,
		"created_at":       inv.CreatedAt,
	}
	if inv.Payment != nil {
		invoice["bank_or_cash"] = inv.Payment.BankOrCash
		invoice["payer_name"] = inv.Payment.PayerName
		invoice["paid_on"] = inv.Payment.PaidOn.Format("2006-01-02")
		invoice["receipt_ref"] = inv.Payment.ReceiptRef
	}
	return map[string]any{"invoice": invoice, "items": items, "returns": returns}
}
