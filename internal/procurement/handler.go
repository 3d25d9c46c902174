package procurement

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/bodega-erp/bodega-erp/internal/inventory"
	"github.com/bodega-erp/bodega-erp/internal/platform/httpx"
	"github.com/bodega-erp/bodega-erp/internal/shared"
)

// Handler wires HTTP endpoints for the procurement module.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs procurement handler.
func NewHandler(logger *slog.Logger, service *Service, validate *validator.Validate) *Handler {
	return &Handler{logger: logger, service: service, validate: validate}
}

// MountRoutes registers procurement routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/quotations", h.handleCreateQuotation)
	r.Post("/quotations/{quotationID}/approve", h.handleApproveQuotation)
	r.Post("/buy-orders", h.handleCreateBuyOrder)
	r.Post("/buy-orders/{orderID}/approve", h.handleApproveBuyOrder)
	r.Post("/purchases", h.handleCreatePurchase)
	r.Get("/purchases/{purchaseID}", h.handleGetPurchase)
	r.Put("/purchases/lines/{lineID}/verify", h.handleVerifyLine)
	r.Post("/purchases/{purchaseID}/approve", h.handleApprovePurchase)
}

type quotationRequest struct {
	SupplierID int64              `json:"supplier_id" validate:"required,gt=0"`
	Lines      []lineItemRequest  `json:"lines" validate:"required,min=1,dive"`
}

type lineItemRequest struct {
	ProductID int64  `json:"product_id" validate:"required,gt=0"`
	Qty       string `json:"qty" validate:"required"`
	UnitPrice string `json:"unit_price" validate:"required"`
}

type buyOrderRequest struct {
	QuotationID int64 `json:"quotation_id" validate:"required,gt=0"`
}

type purchaseRequest struct {
	BuyOrderID int64             `json:"buy_order_id" validate:"required,gt=0"`
	BranchID   int64             `json:"branch_id" validate:"required,gt=0"`
	Lines      []lineItemRequest `json:"lines" validate:"required,min=1,dive"`
}

type verifyRequest struct {
	VerifiedQty string `json:"verified_qty" validate:"required"`
}

type purchaseResponse struct {
	ID             int64                  `json:"id"`
	DocumentNumber string                 `json:"document_number"`
	BuyOrderID     int64                  `json:"buy_order_id"`
	BranchID       int64                  `json:"branch_id"`
	Batch          string                 `json:"batch"`
	Status         string                 `json:"status"`
	Lines          []purchaseLineResponse `json:"lines,omitempty"`
}

type purchaseLineResponse struct {
	ID          int64  `json:"id"`
	ProductID   int64  `json:"product_id"`
	Qty         string `json:"qty"`
	VerifiedQty string `json:"verified_qty"`
	UnitPrice   string `json:"unit_price"`
}

func (h *Handler) handleCreateQuotation(w http.ResponseWriter, r *http.Request) {
	var req quotationRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Unprocessable Entity", err.Error())
		return
	}
	lines, ok := h.decodeLineItems(w, req.Lines)
	if !ok {
		return
	}
	inputs := make([]QuotationLineInput, 0, len(lines))
	for _, line := range lines {
		inputs = append(inputs, QuotationLineInput(line))
	}
	quotation, err := h.service.CreateQuotation(r.Context(), req.SupplierID, inputs)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{
		"id":              quotation.ID,
		"document_number": quotation.DocumentNumber,
		"supplier_id":     quotation.SupplierID,
		"approved":        quotation.Approved,
	})
}

func (h *Handler) handleApproveQuotation(w http.ResponseWriter, r *http.Request) {
	quotationID, err := strconv.ParseInt(chi.URLParam(r, "quotationID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid quotation id")
		return
	}
	if err := h.service.ApproveQuotation(r.Context(), quotationID); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleCreateBuyOrder(w http.ResponseWriter, r *http.Request) {
	var req buyOrderRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Unprocessable Entity", err.Error())
		return
	}
	order, err := h.service.CreateBuyOrder(r.Context(), req.QuotationID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{
		"id":              order.ID,
		"document_number": order.DocumentNumber,
		"quotation_id":    order.QuotationID,
		"approved":        order.Approved,
	})
}

func (h *Handler) handleApproveBuyOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := strconv.ParseInt(chi.URLParam(r, "orderID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid buy order id")
		return
	}
	if err := h.service.ApproveBuyOrder(r.Context(), orderID); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleCreatePurchase(w http.ResponseWriter, r *http.Request) {
	var req purchaseRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Unprocessable Entity", err.Error())
		return
	}
	lines, ok := h.decodeLineItems(w, req.Lines)
	if !ok {
		return
	}
	inputs := make([]PurchaseLineInput, 0, len(lines))
	for _, line := range lines {
		inputs = append(inputs, PurchaseLineInput(line))
	}
	purchase, err := h.service.CreatePurchase(r.Context(), req.BuyOrderID, req.BranchID, inputs)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toPurchaseResponse(purchase, nil))
}

func (h *Handler) handleGetPurchase(w http.ResponseWriter, r *http.Request) {
	purchaseID, err := strconv.ParseInt(chi.URLParam(r, "purchaseID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid purchase id")
		return
	}
	purchase, lines, err := h.service.Purchase(r.Context(), purchaseID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toPurchaseResponse(purchase, lines))
}

func (h *Handler) handleVerifyLine(w http.ResponseWriter, r *http.Request) {
	lineID, err := strconv.ParseInt(chi.URLParam(r, "lineID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid line id")
		return
	}
	var req verifyRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid request body")
		return
	}
	qty, err := decimal.NewFromString(req.VerifiedQty)
	if err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Unprocessable Entity", "verified_qty must be a decimal number")
		return
	}
	if err := h.service.VerifyLine(r.Context(), lineID, qty); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleApprovePurchase(w http.ResponseWriter, r *http.Request) {
	purchaseID, err := strconv.ParseInt(chi.URLParam(r, "purchaseID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid purchase id")
		return
	}
	actorID, _ := strconv.ParseInt(r.URL.Query().Get("actor_id"), 10, 64)
	purchase, err := h.service.ApprovePurchase(r.Context(), purchaseID, actorID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toPurchaseResponse(purchase, nil))
}

type lineItem struct {
	ProductID int64
	Qty       decimal.Decimal
	UnitPrice decimal.Decimal
}

func (h *Handler) decodeLineItems(w http.ResponseWriter, raw []lineItemRequest) ([]lineItem, bool) {
	lines := make([]lineItem, 0, len(raw))
	for _, item := range raw {
		qty, err := decimal.NewFromString(item.Qty)
		if err != nil {
			httpx.Problem(w, http.StatusUnprocessableEntity, "Unprocessable Entity", "qty must be a decimal number")
			return nil, false
		}
		price, err := decimal.NewFromString(item.UnitPrice)
		if err != nil {
			httpx.Problem(w, http.StatusUnprocessableEntity, "Unprocessable Entity", "unit_price must be a decimal number")
			return nil, false
		}
		lines = append(lines, lineItem{ProductID: item.ProductID, Qty: qty, UnitPrice: price})
	}
	return lines, true
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrQuotationNotFound), errors.Is(err, ErrBuyOrderNotFound),
		errors.Is(err, ErrPurchaseNotFound), errors.Is(err, ErrLineNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrPurchaseApproved), errors.Is(err, shared.ErrTransitionNotAllowed):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, ErrQuotationNotApproved), errors.Is(err, ErrBuyOrderNotApproved),
		errors.Is(err, ErrNoLines), errors.Is(err, inventory.ErrInvalidQuantity):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Unprocessable Entity", err.Error())
	default:
		h.logger.Error("procurement request failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Server Error", "request failed")
	}
}

func toPurchaseResponse(p Purchase, lines []PurchaseLine) purchaseResponse {
	resp := purchaseResponse{
		ID:             p.ID,
		DocumentNumber: p.DocumentNumber,
		BuyOrderID:     p.BuyOrderID,
		BranchID:       p.BranchID,
		Batch:          p.Batch.String(),
		Status:         p.Status,
	}
	for _, line := range lines {
		resp.Lines = append(resp.Lines, purchaseLineResponse{
			ID:          line.ID,
			ProductID:   line.ProductID,
			Qty:         line.Qty.String(),
			VerifiedQty: line.VerifiedQty.String(),
			UnitPrice:   line.UnitPrice.String(),
		})
	}
	return resp
}
