package sales

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

// Handler wires HTTP endpoints for the sales module.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs sales handler.
func NewHandler(logger *slog.Logger, service *Service, validate *validator.Validate) *Handler {
	return &Handler{logger: logger, service: service, validate: validate}
}

// MountRoutes registers sales routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.handleCreateDraft)
	r.Get("/{saleID}", h.handleGetSale)
	r.Post("/{saleID}/lines", h.handleAddLine)
	r.Put("/lines/{lineID}", h.handleUpdateLine)
	r.Delete("/lines/{lineID}", h.handleRemoveLine)
	r.Post("/{saleID}/complete", h.handleComplete)
	r.Get("/price-suggestion", h.handleSuggestPrice)
}

type createSaleRequest struct {
	BranchID     int64  `json:"branch_id" validate:"required,gt=0"`
	ClientID     int64  `json:"client_id" validate:"required,gt=0"`
	DocumentType string `json:"document_type" validate:"required,oneof=FCF CCF"`
	ActorID      int64  `json:"actor_id"`
}

type lineRequest struct {
	ProductID   int64  `json:"product_id" validate:"required,gt=0"`
	Qty         string `json:"qty" validate:"required"`
	UnitPrice   string `json:"unit_price"`
	DiscountPct string `json:"discount_pct"`
}

type saleResponse struct {
	ID             int64          `json:"id"`
	DocumentNumber string         `json:"document_number"`
	BranchID       int64          `json:"branch_id"`
	ClientID       int64          `json:"client_id"`
	DocumentType   string         `json:"document_type"`
	Status         string         `json:"status"`
	Subtotal       string         `json:"subtotal"`
	Tax            string         `json:"tax"`
	Total          string         `json:"total"`
	Lines          []lineResponse `json:"lines,omitempty"`
}

type lineResponse struct {
	ID          int64  `json:"id"`
	ProductID   int64  `json:"product_id"`
	Qty         string `json:"qty"`
	UnitPrice   string `json:"unit_price"`
	DiscountPct string `json:"discount_pct"`
}

func (h *Handler) handleCreateDraft(w http.ResponseWriter, r *http.Request) {
	var req createSaleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Unprocessable Entity", err.Error())
		return
	}
	sale, err := h.service.CreateDraft(r.Context(), CreateSaleInput{
		BranchID:     req.BranchID,
		ClientID:     req.ClientID,
		DocumentType: req.DocumentType,
		ActorID:      req.ActorID,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toSaleResponse(sale, nil))
}

func (h *Handler) handleGetSale(w http.ResponseWriter, r *http.Request) {
	saleID, err := strconv.ParseInt(chi.URLParam(r, "saleID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid sale id")
		return
	}
	sale, lines, err := h.service.Sale(r.Context(), saleID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toSaleResponse(sale, lines))
}

func (h *Handler) handleAddLine(w http.ResponseWriter, r *http.Request) {
	saleID, err := strconv.ParseInt(chi.URLParam(r, "saleID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid sale id")
		return
	}
	input, ok := h.decodeLine(w, r, saleID)
	if !ok {
		return
	}
	line, err := h.service.AddLine(r.Context(), input)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toLineResponse(line))
}

func (h *Handler) handleUpdateLine(w http.ResponseWriter, r *http.Request) {
	lineID, err := strconv.ParseInt(chi.URLParam(r, "lineID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid line id")
		return
	}
	input, ok := h.decodeLine(w, r, 0)
	if !ok {
		return
	}
	line, err := h.service.UpdateLine(r.Context(), lineID, input)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toLineResponse(line))
}

func (h *Handler) handleRemoveLine(w http.ResponseWriter, r *http.Request) {
	lineID, err := strconv.ParseInt(chi.URLParam(r, "lineID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid line id")
		return
	}
	if err := h.service.RemoveLine(r.Context(), lineID); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleComplete(w http.ResponseWriter, r *http.Request) {
	saleID, err := strconv.ParseInt(chi.URLParam(r, "saleID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid sale id")
		return
	}
	actorID, _ := strconv.ParseInt(r.URL.Query().Get("actor_id"), 10, 64)
	sale, lines, err := h.service.Complete(r.Context(), saleID, actorID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toSaleResponse(sale, lines))
}

func (h *Handler) handleSuggestPrice(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	branchID, _ := strconv.ParseInt(q.Get("branch_id"), 10, 64)
	productID, _ := strconv.ParseInt(q.Get("product_id"), 10, 64)
	if branchID == 0 || productID == 0 {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "branch_id and product_id are required")
		return
	}
	price, err := h.service.SuggestPrice(r.Context(), branchID, productID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"unit_price": price.String()})
}

func (h *Handler) decodeLine(w http.ResponseWriter, r *http.Request, saleID int64) (LineInput, bool) {
	var req lineRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid request body")
		return LineInput{}, false
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Unprocessable Entity", err.Error())
		return LineInput{}, false
	}
	qty, err := decimal.NewFromString(req.Qty)
	if err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Unprocessable Entity", "qty must be a decimal number")
		return LineInput{}, false
	}
	input := LineInput{SaleID: saleID, ProductID: req.ProductID, Qty: qty}
	if req.UnitPrice != "" {
		input.UnitPrice, err = decimal.NewFromString(req.UnitPrice)
		if err != nil {
			httpx.Problem(w, http.StatusUnprocessableEntity, "Unprocessable Entity", "unit_price must be a decimal number")
			return LineInput{}, false
		}
	}
	if req.DiscountPct != "" {
		input.DiscountPct, err = decimal.NewFromString(req.DiscountPct)
		if err != nil {
			httpx.Problem(w, http.StatusUnprocessableEntity, "Unprocessable Entity", "discount_pct must be a decimal number")
			return LineInput{}, false
		}
	}
	return input, true
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	var insufficient *inventory.InsufficientStockError
	switch {
	case errors.Is(err, ErrSaleNotFound), errors.Is(err, ErrLineNotFound),
		errors.Is(err, ErrClientNotFound), errors.Is(err, inventory.ErrLotNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.As(err, &insufficient):
		httpx.Problem(w, http.StatusConflict, "Conflict", insufficient.Error())
	case errors.Is(err, ErrSaleFrozen), errors.Is(err, shared.ErrTransitionNotAllowed):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, ErrNoLines), errors.Is(err, ErrTaxDocumentNotAllowed),
		errors.Is(err, ErrInvalidDocumentType), errors.Is(err, inventory.ErrInvalidQuantity):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Unprocessable Entity", err.Error())
	default:
		h.logger.Error("sales request failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Server Error", "request failed")
	}
}

func toSaleResponse(sale Sale, lines []SaleLine) saleResponse {
	resp := saleResponse{
		ID:             sale.ID,
		DocumentNumber: sale.DocumentNumber,
		BranchID:       sale.BranchID,
		ClientID:       sale.ClientID,
		DocumentType:   sale.DocumentType,
		Status:         sale.Status,
		Subtotal:       sale.Subtotal.String(),
		Tax:            sale.Tax.String(),
		Total:          sale.Total.String(),
	}
	for _, line := range lines {
		resp.Lines = append(resp.Lines, toLineResponse(line))
	}
	return resp
}

func toLineResponse(line SaleLine) lineResponse {
	return lineResponse{
		ID:          line.ID,
		ProductID:   line.ProductID,
		Qty:         line.Qty.String(),
		UnitPrice:   line.UnitPrice.String(),
		DiscountPct: line.DiscountPct.String(),
	}
}
