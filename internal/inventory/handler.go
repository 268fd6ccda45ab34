package inventory

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/importdesk/importdesk/internal/platform/httpx"
	"github.com/importdesk/importdesk/internal/shared"
)

// Handler wires HTTP endpoints for the inventory module.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs inventory handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/items/{itemID}/batches", h.handleBatches)
	r.Get("/items/{itemID}/card", h.handleStockCard)
	r.Get("/reconcile", h.handleReconcile)
}

type batchResponse struct {
	ID                int64     `json:"id"`
	GDID              int64     `json:"gd_id"`
	QuantityRemaining float64   `json:"quantity_remaining"`
	Cost              float64   `json:"cost"`
	MRP               float64   `json:"mrp"`
	Source            Source    `json:"source"`
	StockedBy         string    `json:"stocked_by"`
	StockedAt         time.Time `json:"stocked_at"`
}

type cardResponse struct {
	ID                int64     `json:"id"`
	BatchID           int64     `json:"batch_id"`
	GDID              int64     `json:"gd_id"`
	Delta             float64   `json:"delta"`
	ResultingQuantity float64   `json:"resulting_quantity"`
	Reason            Reason    `json:"reason"`
	Ref               string    `json:"ref"`
	Actor             string    `json:"actor,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

func (h *Handler) handleBatches(w http.ResponseWriter, r *http.Request) {
	gdID, err := queryInt64(r, "gd_id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	batches, err := h.service.Batches(r.Context(), chi.URLParam(r, "itemID"), gdID)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	out := make([]batchResponse, 0, len(batches))
	for _, b := range batches {
		out = append(out, batchResponse{
			ID: b.ID, GDID: b.GDID, QuantityRemaining: b.QuantityRemaining,
			Cost: b.Cost, MRP: b.MRP, Source: b.Source,
			StockedBy: b.StockedBy, StockedAt: b.StockedAt,
		})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"batches": out})
}

func (h *Handler) handleStockCard(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := StockCardFilter{ItemID: chi.URLParam(r, "itemID")}
	var err error
	if filter.GDID, err = queryInt64(r, "gd_id"); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	if raw := q.Get("from"); raw != "" {
		from, perr := time.Parse("2006-01-02", raw)
		if perr != nil {
			httpx.RespondError(w, h.logger, shared.Validation(httpx.ErrBadRequest, "invalid from date %q", raw))
			return
		}
		filter.From = &from
	}
	if raw := q.Get("to"); raw != "" {
		to, perr := time.Parse("2006-01-02", raw)
		if perr != nil {
			httpx.RespondError(w, h.logger, shared.Validation(httpx.ErrBadRequest, "invalid to date %q", raw))
			return
		}
		end := to.Add(24*time.Hour - time.Nanosecond)
		filter.To = &end
	}
	if raw := q.Get("limit"); raw != "" {
		if n, perr := strconv.Atoi(raw); perr == nil {
			filter.Limit = n
		}
	}
	entries, err := h.service.StockCard(r.Context(), filter)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	out := make([]cardResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, cardResponse{
			ID: e.ID, BatchID: e.BatchID, GDID: e.GDID, Delta: e.Delta,
			ResultingQuantity: e.ResultingQuantity, Reason: e.Reason,
			Ref: e.Ref, Actor: e.Actor, CreatedAt: e.CreatedAt,
		})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"item_id": filter.ItemID, "entries": out})
}

func (h *Handler) handleReconcile(w http.ResponseWriter, r *http.Request) {
	gdID, err := queryInt64(r, "gd_id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	report, err := h.service.Reconcile(r.Context(), r.URL.Query().Get("item_id"), gdID)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

func queryInt64(r *http.Request, name string) (int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return 0, shared.Validation(httpx.ErrBadRequest, "invalid %s %q", name, raw)
	}
	return v, nil
}
