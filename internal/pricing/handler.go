package pricing

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
	"github.com/bodega-erp/bodega-erp/internal/proration"
	"github.com/bodega-erp/bodega-erp/internal/shared"
)

// Handler wires HTTP endpoints for the pricing module.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs pricing handler.
func NewHandler(logger *slog.Logger, service *Service, validate *validator.Validate) *Handler {
	return &Handler{logger: logger, service: service, validate: validate}
}

// MountRoutes registers pricing routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/analyses", h.handleCreateAnalysis)
	r.Get("/analyses/{analysisID}", h.handleGetAnalysis)
	r.Put("/analyses/lines/{lineID}/utility", h.handleSetUtility)
	r.Post("/analyses/{analysisID}/approve", h.handleApprove)
	r.Get("/products/{productID}/active", h.handleActivePrice)
	r.Get("/products/{productID}/history", h.handleHistory)
}

type createAnalysisRequest struct {
	ProrationID int64 `json:"proration_id" validate:"required,gt=0"`
}

type utilityRequest struct {
	Utility string `json:"utility" validate:"required"`
}

type analysisResponse struct {
	ID          int64                  `json:"id"`
	ProrationID int64                  `json:"proration_id"`
	Status      string                 `json:"status"`
	Lines       []analysisLineResponse `json:"lines,omitempty"`
}

type analysisLineResponse struct {
	ID        int64  `json:"id"`
	ProductID int64  `json:"product_id"`
	Cost      string `json:"cost"`
	Utility   string `json:"utility"`
	SalePrice string `json:"sale_price"`
}

type priceHistoryResponse struct {
	ID        int64  `json:"id"`
	Price     string `json:"price"`
	Active    bool   `json:"active"`
	CreatedAt string `json:"created_at"`
}

func (h *Handler) handleCreateAnalysis(w http.ResponseWriter, r *http.Request) {
	var req createAnalysisRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Unprocessable Entity", err.Error())
		return
	}
	analysis, lines, err := h.service.CreateAnalysis(r.Context(), req.ProrationID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toAnalysisResponse(analysis, lines))
}

func (h *Handler) handleGetAnalysis(w http.ResponseWriter, r *http.Request) {
	analysisID, err := strconv.ParseInt(chi.URLParam(r, "analysisID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid analysis id")
		return
	}
	analysis, lines, err := h.service.Analysis(r.Context(), analysisID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toAnalysisResponse(analysis, lines))
}

func (h *Handler) handleSetUtility(w http.ResponseWriter, r *http.Request) {
	lineID, err := strconv.ParseInt(chi.URLParam(r, "lineID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid line id")
		return
	}
	var req utilityRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid request body")
		return
	}
	utility, err := decimal.NewFromString(req.Utility)
	if err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Unprocessable Entity", "utility must be a decimal number")
		return
	}
	line, err := h.service.SetUtility(r.Context(), lineID, utility)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toLineResponse(line))
}

func (h *Handler) handleApprove(w http.ResponseWriter, r *http.Request) {
	analysisID, err := strconv.ParseInt(chi.URLParam(r, "analysisID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid analysis id")
		return
	}
	actorID, _ := strconv.ParseInt(r.URL.Query().Get("actor_id"), 10, 64)
	analysis, err := h.service.Approve(r.Context(), analysisID, actorID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toAnalysisResponse(analysis, nil))
}

func (h *Handler) handleActivePrice(w http.ResponseWriter, r *http.Request) {
	productID, err := strconv.ParseInt(chi.URLParam(r, "productID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid product id")
		return
	}
	price, err := h.service.ActivePrice(r.Context(), productID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"price": price.String()})
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	productID, err := strconv.ParseInt(chi.URLParam(r, "productID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid product id")
		return
	}
	records, err := h.service.History(r.Context(), productID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	out := make([]priceHistoryResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, priceHistoryResponse{
			ID:        rec.ID,
			Price:     rec.Price.String(),
			Active:    rec.Active,
			CreatedAt: rec.CreatedAt.Format(time.RFC3339),
		})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"history": out})
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrAnalysisNotFound), errors.Is(err, ErrLineNotFound),
		errors.Is(err, ErrNoActivePrice), errors.Is(err, proration.ErrProrationNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrAnalysisApproved), errors.Is(err, shared.ErrTransitionNotAllowed):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, ErrInvalidUtility), errors.Is(err, ErrNoLines):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Unprocessable Entity", err.Error())
	default:
		h.logger.Error("pricing request failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Server Error", "request failed")
	}
}

func toAnalysisResponse(a Analysis, lines []AnalysisLine) analysisResponse {
	resp := analysisResponse{ID: a.ID, ProrationID: a.ProrationID, Status: a.Status}
	for _, line := range lines {
		resp.Lines = append(resp.Lines, toLineResponse(line))
	}
	return resp
}

func toLineResponse(line AnalysisLine) analysisLineResponse {
	return analysisLineResponse{
		ID:        line.ID,
		ProductID: line.ProductID,
		Cost:      line.Cost.String(),
		Utility:   line.Utility.String(),
		SalePrice: line.SalePrice.String(),
	}
}
