package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/stockd/stock-service/internal/stock/application"
	"github.com/stockd/stock-service/internal/stock/domain"
)

type Handler struct {
	log     *slog.Logger
	service *application.Service
	tracer  trace.Tracer
}

func NewHandler(log *slog.Logger, service *application.Service) *Handler {
	return &Handler{
		log:     log,
		service: service,
		tracer:  otel.Tracer("stock-http"),
	}
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Post("/stock", h.createStock)
	r.Get("/stock/{id}", h.getStock)
	r.Get("/stock/{id}/movements", h.listMovements)
	r.Get("/stock/variant/{id}", h.listByVariant)
	r.Get("/stock/variant/{id}/warehouse/{warehouseId}", h.getByVariantAndWarehouse)
	r.Get("/stock/warehouse/{id}", h.listByWarehouse)
	r.Get("/stock/warehouse/{id}/low-stock", h.listLowStock)
	r.Post("/stock/adjust", h.adjustStock)
	r.Post("/stock/reserve", h.reserveStock)
	r.Post("/stock/reservations/{id}/release", h.releaseReservation)
	r.Post("/stock/reservations/{id}/confirm", h.confirmReservation)
	return r
}

type createStockReq struct {
	ProductID         string `json:"productId"`
	VariantID         string `json:"variantId"`
	WarehouseID       string `json:"warehouseId"`
	InitialQuantity   int    `json:"initialQuantity"`
	LowStockThreshold int    `json:"lowStockThreshold"`
	ReorderPoint      int    `json:"reorderPoint"`
	PerformedBy       string `json:"performedBy"`
}

type adjustStockReq struct {
	StockID       string `json:"stockId"`
	Quantity      int    `json:"quantity"`
	ReferenceType string `json:"referenceType"`
	ReferenceID   string `json:"referenceId"`
	PerformedBy   string `json:"performedBy"`
	Note          string `json:"note"`
}

type reserveStockReq struct {
	StockID   string     `json:"stockId"`
	Quantity  int        `json:"quantity"`
	Type      string     `json:"type"`
	CartID    string     `json:"cartId"`
	OrderID   string     `json:"orderId"`
	ExpiresAt *time.Time `json:"expiresAt"`
}

type confirmReservationReq struct {
	OrderID     string `json:"orderId"`
	PerformedBy string `json:"performedBy"`
}

type releaseReservationReq struct {
	Reason string `json:"reason"`
}

type stockResp struct {
	ID                string    `json:"id"`
	ProductID         string    `json:"productId"`
	VariantID         string    `json:"variantId"`
	WarehouseID       string    `json:"warehouseId"`
	QuantityAvailable int       `json:"quantityAvailable"`
	QuantityReserved  int       `json:"quantityReserved"`
	LowStockThreshold int       `json:"lowStockThreshold"`
	ReorderPoint      int       `json:"reorderPoint"`
	LowStock          bool      `json:"lowStock"`
	Version           int64     `json:"version"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

type reservationResp struct {
	ID        string     `json:"id"`
	StockID   string     `json:"stockId"`
	Quantity  int        `json:"quantity"`
	Type      string     `json:"type"`
	CartID    string     `json:"cartId,omitempty"`
	OrderID   string     `json:"orderId,omitempty"`
	Status    string     `json:"status"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
}

func (h *Handler) createStock(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "CreateStock")
	defer span.End()

	var req createStockReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	l, err := h.service.CreateStock(ctx, application.CreateStockInput{
		ProductID:         req.ProductID,
		VariantID:         req.VariantID,
		WarehouseID:       req.WarehouseID,
		InitialQuantity:   req.InitialQuantity,
		LowStockThreshold: req.LowStockThreshold,
		ReorderPoint:      req.ReorderPoint,
		PerformedBy:       req.PerformedBy,
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toStockResp(l))
}

func (h *Handler) getStock(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "GetStock")
	defer span.End()

	l, err := h.service.GetStock(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toStockResp(l))
}

func (h *Handler) listMovements(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "ListMovements")
	defer span.End()

	ms, err := h.service.ListMovements(ctx, chi.URLParam(r, "id"), 100)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ms)
}

func (h *Handler) listByVariant(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "ListStockByVariant")
	defer span.End()

	ls, err := h.service.ListStockByVariant(ctx, chi.URLParam(r, "id"))
	h.respondStockList(w, ls, err)
}

func (h *Handler) getByVariantAndWarehouse(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "GetStockByVariantAndWarehouse")
	defer span.End()

	l, err := h.service.GetStockByVariantAndWarehouse(ctx, chi.URLParam(r, "id"), chi.URLParam(r, "warehouseId"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toStockResp(l))
}

func (h *Handler) listByWarehouse(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "ListStockByWarehouse")
	defer span.End()

	ls, err := h.service.ListStockByWarehouse(ctx, chi.URLParam(r, "id"))
	h.respondStockList(w, ls, err)
}

func (h *Handler) listLowStock(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "ListLowStock")
	defer span.End()

	ls, err := h.service.ListLowStock(ctx, chi.URLParam(r, "id"))
	h.respondStockList(w, ls, err)
}

func (h *Handler) adjustStock(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "AdjustStock")
	defer span.End()

	var req adjustStockReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	l, err := h.service.AdjustStock(ctx, application.AdjustStockInput{
		StockID:       req.StockID,
		Quantity:      req.Quantity,
		ReferenceType: req.ReferenceType,
		ReferenceID:   req.ReferenceID,
		PerformedBy:   req.PerformedBy,
		Note:          req.Note,
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toStockResp(l))
}

func (h *Handler) reserveStock(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "ReserveStock")
	defer span.End()

	var req reserveStockReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	res, err := h.service.ReserveStock(ctx, application.ReserveStockInput{
		StockID:   req.StockID,
		Quantity:  req.Quantity,
		Type:      domain.ReservationType(req.Type),
		CartID:    req.CartID,
		OrderID:   req.OrderID,
		ExpiresAt: req.ExpiresAt,
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toReservationResp(res))
}

func (h *Handler) confirmReservation(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "ConfirmReservation")
	defer span.End()

	var req confirmReservationReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	res, err := h.service.ConfirmReservation(ctx, chi.URLParam(r, "id"), req.OrderID, req.PerformedBy)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toReservationResp(res))
}

func (h *Handler) releaseReservation(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "ReleaseReservation")
	defer span.End()

	var req releaseReservationReq
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	if req.Reason == "" {
		req.Reason = "Released by caller"
	}
	if _, err := h.service.ReleaseReservation(ctx, chi.URLParam(r, "id"), req.Reason); err != nil {
		h.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) respondStockList(w http.ResponseWriter, ls []domain.StockLedger, err error) {
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	out := make([]stockResp, 0, len(ls))
	for _, l := range ls {
		out = append(out, toStockResp(l))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrStockNotFound), errors.Is(err, domain.ErrReservationNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrInsufficientStock):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, domain.ErrInvalidReservationState):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrDuplicateStock), errors.Is(err, domain.ErrInvalidQuantity):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrConcurrencyConflict):
		writeError(w, http.StatusConflict, "conflicting update, retry")
	default:
		h.log.Error("request failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func toStockResp(l domain.StockLedger) stockResp {
	return stockResp{
		ID:                l.ID,
		ProductID:         l.ProductID,
		VariantID:         l.VariantID,
		WarehouseID:       l.WarehouseID,
		QuantityAvailable: l.QuantityAvailable,
		QuantityReserved:  l.QuantityReserved,
		LowStockThreshold: l.LowStockThreshold,
		ReorderPoint:      l.ReorderPoint,
		LowStock:          l.IsLowStock(),
		Version:           l.Version,
		CreatedAt:         l.CreatedAt,
		UpdatedAt:         l.UpdatedAt,
	}
}

func toReservationResp(res domain.Reservation) reservationResp {
	return reservationResp{
		ID:        res.ID,
		StockID:   res.StockID,
		Quantity:  res.Quantity,
		Type:      string(res.Type),
		CartID:    res.CartID,
		OrderID:   res.OrderID,
		Status:    string(res.Status),
		ExpiresAt: res.ExpiresAt,
		CreatedAt: res.CreatedAt,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
