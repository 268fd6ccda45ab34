package ar

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/importdesk/importdesk/internal/platform/httpx"
	"github.com/importdesk/importdesk/internal/shared"
)

// Handler manages payment endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountCustomerRoutes registers routes relative to /customers.
func (h *Handler) MountCustomerRoutes(r chi.Router) {
	r.Post("/{id}/payments", h.allocatePayment)
	r.Get("/{id}/aging", h.showAging)
}

// MountInvoiceRoutes registers routes relative to /invoices.
func (h *Handler) MountInvoiceRoutes(r chi.Router) {
	r.Post("/{number}/payments", h.payInvoice)
}

type paymentRequest struct {
	Amount     float64 `json:"amount" validate:"gte=0"`
	Mode       string  `json:"mode"`
	PayerName  string  `json:"payer_name"`
	ReceiptRef string  `json:"receipt_ref"`
	Date       string  `json:"date" validate:"omitempty,datetime=2006-01-02"`
}

func (req paymentRequest) paidOn() (time.Time, error) {
	if req.Date == "" {
		return time.Time{}, nil
	}
	d, err := time.Parse("2006-01-02", req.Date)
	if err != nil {
		return time.Time{}, shared.Validation(httpx.ErrBadRequest, "invalid date %q", req.Date)
	}
	return d, nil
}

func (h *Handler) allocatePayment(w http.ResponseWriter, r *http.Request) {
	customerID, err := httpx.PathInt64(r, "id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	var req paymentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	paidOn, err := req.paidOn()
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	res, err := h.service.AllocateCustomerPayment(r.Context(), AllocateInput{
		CustomerID: customerID,
		Amount:     req.Amount,
		Mode:       req.Mode,
		PayerName:  req.PayerName,
		ReceiptRef: req.ReceiptRef,
		PaidOn:     paidOn,
	})
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, res)
}

func (h *Handler) payInvoice(w http.ResponseWriter, r *http.Request) {
	var req paymentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	paidOn, err := req.paidOn()
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	alloc, err := h.service.RecordInvoicePayment(r.Context(), InvoicePaymentInput{
		InvoiceNumber: chi.URLParam(r, "number"),
		Amount:        req.Amount,
		Mode:          req.Mode,
		PayerName:     req.PayerName,
		ReceiptRef:    req.ReceiptRef,
		PaidOn:        paidOn,
	})
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, alloc)
}

func (h *Handler) showAging(w http.ResponseWriter, r *http.Request) {
	customerID, err := httpx.PathInt64(r, "id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	var asOf time.Time
	if v := r.URL.Query().Get("as_of"); v != "" {
		asOf, err = time.Parse("2006-01-02", v)
		if err != nil {
			httpx.RespondError(w, h.logger, shared.Validation(httpx.ErrBadRequest, "invalid as_of %q", v))
			return
		}
	}
	bucket, err := h.service.CalculateAging(r.Context(), customerID, asOf)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"customer_id": customerID, "aging": bucket, "total": bucket.Total()})
}
