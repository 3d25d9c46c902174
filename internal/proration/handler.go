package proration

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
)

// Handler wires HTTP endpoints for the proration module.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs proration handler.
func NewHandler(logger *slog.Logger, service *Service, validate *validator.Validate) *Handler {
	return &Handler{logger: logger, service: service, validate: validate}
}

// MountRoutes registers proration routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.handleCreate)
	r.Get("/{prorationID}", h.handleGet)
	r.Post("/{prorationID}/expenses", h.handleAddExpense)
	r.Put("/expenses/{lineID}", h.handleUpdateExpense)
	r.Post("/{prorationID}/run", h.handleRun)
}

type createProrationRequest struct {
	PurchaseID int64               `json:"purchase_id" validate:"required,gt=0"`
	Items      []prorationItemReq  `json:"items" validate:"required,min=1,dive"`
}

type prorationItemReq struct {
	ProductID    int64  `json:"product_id" validate:"required,gt=0"`
	Qty          string `json:"qty" validate:"required"`
	FOBUnitValue string `json:"fob_unit_value" validate:"required"`
}

type expenseRequest struct {
	Category    string `json:"category" validate:"required,oneof=FREIGHT DAI OTHER"`
	Description string `json:"description"`
	Amount      string `json:"amount" validate:"required"`
	Includable  bool   `json:"includable"`
}

type updateExpenseRequest struct {
	Amount     string `json:"amount" validate:"required"`
	Includable bool   `json:"includable"`
}

type prorationResponse struct {
	ID           int64                  `json:"id"`
	PurchaseID   int64                  `json:"purchase_id"`
	TotalFOB     string                 `json:"total_fob"`
	TotalFreight string                 `json:"total_freight"`
	TotalDAI     string                 `json:"total_dai"`
	TotalOther   string                 `json:"total_other"`
	Items        []itemResponse         `json:"items,omitempty"`
	Expenses     []expenseLineResponse  `json:"expenses,omitempty"`
}

type itemResponse struct {
	ID               int64  `json:"id"`
	ProductID        int64  `json:"product_id"`
	Qty              string `json:"qty"`
	FOBUnitValue     string `json:"fob_unit_value"`
	CostPercentage   string `json:"cost_percentage"`
	AllocatedFreight string `json:"allocated_freight"`
	AllocatedDAI     string `json:"allocated_dai"`
	AllocatedOther   string `json:"allocated_other"`
	ProratedUnitCost string `json:"prorated_unit_cost"`
}

type expenseLineResponse struct {
	ID          int64  `json:"id"`
	Category    string `json:"category"`
	Description string `json:"description,omitempty"`
	Amount      string `json:"amount"`
	Includable  bool   `json:"includable"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createProrationRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Unprocessable Entity", err.Error())
		return
	}
	items := make([]ItemInput, 0, len(req.Items))
	for _, item := range req.Items {
		qty, err := decimal.NewFromString(item.Qty)
		if err != nil {
			httpx.Problem(w, http.StatusUnprocessableEntity, "Unprocessable Entity", "qty must be a decimal number")
			return
		}
		fob, err := decimal.NewFromString(item.FOBUnitValue)
		if err != nil {
			httpx.Problem(w, http.StatusUnprocessableEntity, "Unprocessable Entity", "fob_unit_value must be a decimal number")
			return
		}
		items = append(items, ItemInput{ProductID: item.ProductID, Qty: qty, FOBUnitValue: fob})
	}
	proration, err := h.service.Create(r.Context(), req.PurchaseID, items)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toProrationResponse(proration, nil, nil))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	prorationID, err := strconv.ParseInt(chi.URLParam(r, "prorationID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid proration id")
		return
	}
	proration, items, expenses, err := h.service.Proration(r.Context(), prorationID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toProrationResponse(proration, items, expenses))
}

func (h *Handler) handleAddExpense(w http.ResponseWriter, r *http.Request) {
	prorationID, err := strconv.ParseInt(chi.URLParam(r, "prorationID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid proration id")
		return
	}
	var req expenseRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Unprocessable Entity", err.Error())
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Unprocessable Entity", "amount must be a decimal number")
		return
	}
	line, err := h.service.AddExpense(r.Context(), prorationID, ExpenseInput{
		Category:    req.Category,
		Description: req.Description,
		Amount:      amount,
		Includable:  req.Includable,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toExpenseResponse(line))
}

func (h *Handler) handleUpdateExpense(w http.ResponseWriter, r *http.Request) {
	lineID, err := strconv.ParseInt(chi.URLParam(r, "lineID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid expense id")
		return
	}
	var req updateExpenseRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid request body")
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Unprocessable Entity", "amount must be a decimal number")
		return
	}
	if err := h.service.UpdateExpense(r.Context(), lineID, amount, req.Includable); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleRun(w http.ResponseWriter, r *http.Request) {
	prorationID, err := strconv.ParseInt(chi.URLParam(r, "prorationID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid proration id")
		return
	}
	actorID, _ := strconv.ParseInt(r.URL.Query().Get("actor_id"), 10, 64)
	proration, items, err := h.service.Run(r.Context(), prorationID, actorID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toProrationResponse(proration, items, nil))
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrProrationNotFound), errors.Is(err, ErrExpenseNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrInvalidCategory), errors.Is(err, ErrNoItems), errors.Is(err, inventory.ErrInvalidQuantity):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Unprocessable Entity", err.Error())
	default:
		h.logger.Error("proration request failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Server Error", "request failed")
	}
}

func toProrationResponse(p Proration, items []Item, expenses []ExpenseLine) prorationResponse {
	resp := prorationResponse{
		ID:           p.ID,
		PurchaseID:   p.PurchaseID,
		TotalFOB:     p.TotalFOB.String(),
		TotalFreight: p.TotalFreight.String(),
		TotalDAI:     p.TotalDAI.String(),
		TotalOther:   p.TotalOther.String(),
	}
	for _, item := range items {
		resp.Items = append(resp.Items, itemResponse{
			ID:               item.ID,
			ProductID:        item.ProductID,
			Qty:              item.Qty.String(),
			FOBUnitValue:     item.FOBUnitValue.String(),
			CostPercentage:   item.CostPercentage.String(),
			AllocatedFreight: item.AllocatedFreight.String(),
			AllocatedDAI:     item.AllocatedDAI.String(),
			AllocatedOther:   item.AllocatedOther.String(),
			ProratedUnitCost: item.ProratedUnitCost.String(),
		})
	}
	for _, line := range expenses {
		resp.Expenses = append(resp.Expenses, toExpenseResponse(line))
	}
	return resp
}

func toExpenseResponse(line ExpenseLine) expenseLineResponse {
	return expenseLineResponse{
		ID:          line.ID,
		Category:    line.Category,
		Description: line.Description,
		Amount:      line.Amount.String(),
		Includable:  line.Includable,
	}
}
