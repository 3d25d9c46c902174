package inventory

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/bodega-erp/bodega-erp/internal/platform/httpx"
	"github.com/bodega-erp/bodega-erp/internal/shared"
)

// Handler wires HTTP endpoints for the inventory module.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs inventory handler.
func NewHandler(logger *slog.Logger, service *Service, validate *validator.Validate) *Handler {
	return &Handler{logger: logger, service: service, validate: validate}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/lots", h.handleListLots)
	r.Get("/ledger", h.handleListLedger)
	r.Post("/adjustments", h.handleAdjustment)
}

type lotResponse struct {
	ID          int64  `json:"id"`
	EntryNumber string `json:"entry_number"`
	BranchID    int64  `json:"branch_id"`
	ProductID   int64  `json:"product_id"`
	Batch       string `json:"batch"`
	OriginalQty string `json:"original_qty"`
	Qty         string `json:"qty"`
	Cost        string `json:"cost"`
	CreatedAt   string `json:"created_at"`
}

type ledgerEntryResponse struct {
	ID             int64  `json:"id"`
	DocumentNumber string `json:"document_number"`
	MovementCode   string `json:"movement_code"`
	LotID          int64  `json:"lot_id"`
	BranchID       int64  `json:"branch_id"`
	ProductID      int64  `json:"product_id"`
	Batch          string `json:"batch"`
	Qty            string `json:"qty"`
	Cost           string `json:"cost"`
	CreatedAt      string `json:"created_at"`
}

type adjustmentRequest struct {
	BranchID       int64  `json:"branch_id" validate:"required,gt=0"`
	ProductID      int64  `json:"product_id" validate:"required,gt=0"`
	Qty            string `json:"qty" validate:"required"`
	Cost           string `json:"cost"`
	DocumentNumber string `json:"document_number"`
	ActorID        int64  `json:"actor_id"`
}

func (h *Handler) handleListLots(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	branchID, _ := strconv.ParseInt(q.Get("branch_id"), 10, 64)
	productID, _ := strconv.ParseInt(q.Get("product_id"), 10, 64)
	if branchID == 0 || productID == 0 {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "branch_id and product_id are required")
		return
	}
	lots, err := h.service.AvailableLots(r.Context(), branchID, productID)
	if err != nil {
		h.logger.Error("list lots failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Server Error", "failed to list lots")
		return
	}
	out := make([]lotResponse, 0, len(lots))
	for _, lot := range lots {
		out = append(out, toLotResponse(lot))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"lots": out})
}

func (h *Handler) handleListLedger(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := LedgerFilter{DocumentNumber: q.Get("document_number")}
	filter.BranchID, _ = strconv.ParseInt(q.Get("branch_id"), 10, 64)
	filter.ProductID, _ = strconv.ParseInt(q.Get("product_id"), 10, 64)
	filter.Limit, _ = strconv.Atoi(q.Get("limit"))
	if raw := q.Get("from"); raw != "" {
		t, err := time.Parse("2006-01-02", raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid from date")
			return
		}
		filter.From = t
	}
	if raw := q.Get("to"); raw != "" {
		t, err := time.Parse("2006-01-02", raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid to date")
			return
		}
		// inclusive end of day
		filter.To = t.Add(24*time.Hour - time.Nanosecond)
	}
	entries, err := h.service.LedgerEntries(r.Context(), filter)
	if err != nil {
		h.logger.Error("list ledger failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Server Error", "failed to list ledger")
		return
	}
	out := make([]ledgerEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, toLedgerResponse(e))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"entries": out})
}

func (h *Handler) handleAdjustment(w http.ResponseWriter, r *http.Request) {
	var req adjustmentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Unprocessable Entity", err.Error())
		return
	}
	qty, err := decimal.NewFromString(req.Qty)
	if err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Unprocessable Entity", "qty must be a decimal number")
		return
	}
	cost := decimal.Zero
	if req.Cost != "" {
		cost, err = decimal.NewFromString(req.Cost)
		if err != nil {
			httpx.Problem(w, http.StatusUnprocessableEntity, "Unprocessable Entity", "cost must be a decimal number")
			return
		}
	}
	entries, err := h.service.PostAdjustment(r.Context(), AdjustmentInput{
		BranchID:       req.BranchID,
		ProductID:      req.ProductID,
		Qty:            qty,
		Cost:           cost,
		DocumentNumber: req.DocumentNumber,
		ActorID:        req.ActorID,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	out := make([]ledgerEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, toLedgerResponse(e))
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"entries": out})
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	var insufficient *InsufficientStockError
	switch {
	case errors.As(err, &insufficient):
		httpx.Problem(w, http.StatusConflict, "Conflict", insufficient.Error())
	case errors.Is(err, ErrInvalidQuantity):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Unprocessable Entity", err.Error())
	case errors.Is(err, shared.ErrIdempotencyConflict):
		httpx.Problem(w, http.StatusConflict, "Conflict", "adjustment already processed")
	default:
		h.logger.Error("post adjustment failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Server Error", "failed to post adjustment")
	}
}

func toLotResponse(lot Lot) lotResponse {
	return lotResponse{
		ID:          lot.ID,
		EntryNumber: lot.EntryNumber.String(),
		BranchID:    lot.BranchID,
		ProductID:   lot.ProductID,
		Batch:       lot.Batch.String(),
		OriginalQty: lot.OriginalQty.String(),
		Qty:         lot.Qty.String(),
		Cost:        lot.Cost.String(),
		CreatedAt:   lot.CreatedAt.Format(time.RFC3339),
	}
}

func toLedgerResponse(e LedgerEntry) ledgerEntryResponse {
	return ledgerEntryResponse{
		ID:             e.ID,
		DocumentNumber: e.DocumentNumber,
		MovementCode:   e.MovementCode,
		LotID:          e.LotID,
		BranchID:       e.BranchID,
		ProductID:      e.ProductID,
		Batch:          e.Batch.String(),
		Qty:            e.Qty.String(),
		Cost:           e.Cost.String(),
		CreatedAt:      e.CreatedAt.Format(time.RFC3339),
	}
}
