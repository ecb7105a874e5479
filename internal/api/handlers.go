package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"invest-ledger-go/internal/ledger"
	"invest-ledger-go/internal/portfolio"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Handler holds dependencies for the API endpoints.
type Handler struct {
	log *zap.Logger
	svc *portfolio.Service
}

// NewHandler creates a new Handler.
func NewHandler(log *zap.Logger, svc *portfolio.Service) *Handler {
	return &Handler{log: log, svc: svc}
}

// transactionRequest is the payload for recording a buy or sell.
type transactionRequest struct {
	Symbol    string          `json:"symbol"`
	Side      string          `json:"side"`
	Quantity  decimal.Decimal `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	TradeDate string          `json:"trade_date"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// CreateTransaction records a transaction and returns the stored row once
// the owning position has been recomputed and committed.
func (h *Handler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req transactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	tradeDate, err := parseDate(req.TradeDate)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "trade_date must be YYYY-MM-DD or RFC3339")
		return
	}

	record, err := h.svc.AddTransaction(r.Context(), portfolio.TransactionInput{
		Symbol:    req.Symbol,
		Side:      req.Side,
		Quantity:  req.Quantity,
		UnitPrice: req.UnitPrice,
		TradeDate: tradeDate,
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, record)
}

// DeleteTransaction removes a transaction by reference id.
func (h *Handler) DeleteTransaction(w http.ResponseWriter, r *http.Request) {
	refID := r.PathValue("refID")
	if err := h.svc.DeleteTransaction(r.Context(), refID); err != nil {
		h.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListTransactions returns the transaction log for the asset in the symbol
// query parameter, newest first.
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	if symbol == "" {
		h.writeError(w, http.StatusBadRequest, "symbol query parameter is required")
		return
	}

	rows, err := h.svc.ListTransactions(r.Context(), symbol)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, rows)
}

// ListPositions returns the stored position summaries for all assets.
func (h *Handler) ListPositions(w http.ResponseWriter, r *http.Request) {
	views, err := h.svc.ListPositions(r.Context())
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, views)
}

// GetPosition returns the stored position summary for one asset.
func (h *Handler) GetPosition(w http.ResponseWriter, r *http.Request) {
	view, err := h.svc.GetPosition(r.Context(), r.PathValue("symbol"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, view)
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK\n"))
}

func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrInvalidQuantity),
		errors.Is(err, ledger.ErrInvalidPrice),
		errors.Is(err, ledger.ErrUnknownSide),
		errors.Is(err, portfolio.ErrInvalidInput):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, portfolio.ErrOversell):
		h.writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, portfolio.ErrAssetNotFound),
		errors.Is(err, portfolio.ErrTransactionNotFound):
		h.writeError(w, http.StatusNotFound, err.Error())
	default:
		h.log.Error("Request failed", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, errorResponse{Error: msg})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.log.Error("Failed to write response", zap.Error(err))
	}
}

// parseDate accepts a date-only value or a full RFC3339 timestamp. Date-only
// values normalize to midnight UTC so same-day ordering falls through to
// insertion order.
func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}
