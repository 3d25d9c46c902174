package transfers

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

// Handler wires HTTP endpoints for the transfers module.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs transfers handler.
func NewHandler(logger *slog.Logger, service *Service, validate *validator.Validate) *Handler {
	return &Handler{logger: logger, service: service, validate: validate}
}

// MountRoutes registers transfer routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.handleCreate)
	r.Get("/{transferID}", h.handleGet)
	r.Post("/{transferID}/lines", h.handleAddLine)
	r.Put("/lines/{lineID}", h.handleUpdateLine)
	r.Delete("/lines/{lineID}", h.handleRemoveLine)
	r.Post("/{transferID}/dispatch", h.handleDispatch)
	r.Post("/{transferID}/receive", h.handleReceive)
}

type createTransferRequest struct {
	SourceBranchID int64 `json:"source_branch_id" validate:"required,gt=0"`
	DestBranchID   int64 `json:"dest_branch_id" validate:"required,gt=0"`
	VehicleID      int64 `json:"vehicle_id"`
	ActorID        int64 `json:"actor_id"`
}

type transferLineRequest struct {
	ProductID int64  `json:"product_id" validate:"required,gt=0"`
	SentQty   string `json:"sent_qty" validate:"required"`
}

type receiveRequest struct {
	ActorID int64             `json:"actor_id"`
	Lines   map[string]string `json:"received_qty"`
}

type transferResponse struct {
	ID             int64                  `json:"id"`
	DocumentNumber string                 `json:"document_number"`
	SourceBranchID int64                  `json:"source_branch_id"`
	DestBranchID   int64                  `json:"dest_branch_id"`
	VehicleID      int64                  `json:"vehicle_id,omitempty"`
	Status         string                 `json:"status"`
	Lines          []transferLineResponse `json:"lines,omitempty"`
}

type transferLineResponse struct {
	ID          int64  `json:"id"`
	ProductID   int64  `json:"product_id"`
	SentQty     string `json:"sent_qty"`
	ReceivedQty string `json:"received_qty"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createTransferRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Unprocessable Entity", err.Error())
		return
	}
	transfer, err := h.service.Create(r.Context(), CreateTransferInput{
		SourceBranchID: req.SourceBranchID,
		DestBranchID:   req.DestBranchID,
		VehicleID:      req.VehicleID,
		ActorID:        req.ActorID,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toTransferResponse(transfer, nil))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	transferID, err := strconv.ParseInt(chi.URLParam(r, "transferID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid transfer id")
		return
	}
	transfer, lines, err := h.service.Transfer(r.Context(), transferID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toTransferResponse(transfer, lines))
}

func (h *Handler) handleAddLine(w http.ResponseWriter, r *http.Request) {
	transferID, err := strconv.ParseInt(chi.URLParam(r, "transferID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid transfer id")
		return
	}
	input, ok := h.decodeLine(w, r, transferID)
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

func (h *Handler) handleDispatch(w http.ResponseWriter, r *http.Request) {
	transferID, err := strconv.ParseInt(chi.URLParam(r, "transferID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid transfer id")
		return
	}
	actorID, _ := strconv.ParseInt(r.URL.Query().Get("actor_id"), 10, 64)
	transfer, err := h.service.Dispatch(r.Context(), transferID, actorID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toTransferResponse(transfer, nil))
}

func (h *Handler) handleReceive(w http.ResponseWriter, r *http.Request) {
	transferID, err := strconv.ParseInt(chi.URLParam(r, "transferID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid transfer id")
		return
	}
	var req receiveRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid request body")
		return
	}
	received := make(map[int64]decimal.Decimal, len(req.Lines))
	for rawID, rawQty := range req.Lines {
		lineID, err := strconv.ParseInt(rawID, 10, 64)
		if err != nil {
			httpx.Problem(w, http.StatusUnprocessableEntity, "Unprocessable Entity", "invalid line id in received_qty")
			return
		}
		qty, err := decimal.NewFromString(rawQty)
		if err != nil {
			httpx.Problem(w, http.StatusUnprocessableEntity, "Unprocessable Entity", "received_qty must be decimal numbers")
			return
		}
		received[lineID] = qty
	}
	transfer, err := h.service.Receive(r.Context(), transferID, req.ActorID, received)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toTransferResponse(transfer, nil))
}

func (h *Handler) decodeLine(w http.ResponseWriter, r *http.Request, transferID int64) (LineInput, bool) {
	var req transferLineRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid request body")
		return LineInput{}, false
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Unprocessable Entity", err.Error())
		return LineInput{}, false
	}
	qty, err := decimal.NewFromString(req.SentQty)
	if err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Unprocessable Entity", "sent_qty must be a decimal number")
		return LineInput{}, false
	}
	return LineInput{TransferID: transferID, ProductID: req.ProductID, SentQty: qty}, true
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	var insufficient *inventory.InsufficientStockError
	switch {
	case errors.Is(err, ErrTransferNotFound), errors.Is(err, ErrLineNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.As(err, &insufficient):
		httpx.Problem(w, http.StatusConflict, "Conflict", insufficient.Error())
	case errors.Is(err, ErrTransferFrozen), errors.Is(err, ErrNotPicking), errors.Is(err, ErrNotTransit),
		errors.Is(err, ErrVehicleBusy), errors.Is(err, shared.ErrTransitionNotAllowed):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, ErrSameBranch), errors.Is(err, ErrNoLines), errors.Is(err, inventory.ErrInvalidQuantity):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Unprocessable Entity", err.Error())
	default:
		h.logger.Error("transfers request failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Server Error", "request failed")
	}
}

func toTransferResponse(transfer Transfer, lines []TransferLine) transferResponse {
	resp := transferResponse{
		ID:             transfer.ID,
		DocumentNumber: transfer.DocumentNumber,
		SourceBranchID: transfer.SourceBranchID,
		DestBranchID:   transfer.DestBranchID,
		VehicleID:      transfer.VehicleID,
		Status:         transfer.Status,
	}
	for _, line := range lines {
		resp.Lines = append(resp.Lines, toLineResponse(line))
	}
	return resp
}

func toLineResponse(line TransferLine) transferLineResponse {
	return transferLineResponse{
		ID:          line.ID,
		ProductID:   line.ProductID,
		SentQty:     line.SentQty.String(),
		ReceivedQty: line.ReceivedQty.String(),
	}
}
