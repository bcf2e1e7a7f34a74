package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/logger"
	"github.com/fjod/go_cart/storefront/internal/remote"
	"github.com/fjod/go_cart/storefront/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const maxQuantity = 99

// Sessions hands out the synchronizer bound to a visitor session.
type Sessions interface {
	Open(ctx context.Context, sessionID string) (*service.Synchronizer, error)
	Close(sessionID string) bool
}

type ProductLookup interface {
	GetProduct(ctx context.Context, productID int64) (domain.Product, error)
}

type CartHandler struct {
	sessions Sessions
	catalog  ProductLookup
	timeout  time.Duration
	logger   *zap.Logger
}

func NewCartHandler(sessions Sessions, catalog ProductLookup, timeout time.Duration, log *zap.Logger) *CartHandler {
	return &CartHandler{
		sessions: sessions,
		catalog:  catalog,
		timeout:  timeout,
		logger:   log,
	}
}

type AddItemRequestDTO struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

type ChangeQuantityRequestDTO struct {
	Delta int `json:"delta"`
}

type CartLineResponse struct {
	ProductID int64           `json:"product_id"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity"`
	Stock     int             `json:"stock"`
	Subtotal  decimal.Decimal `json:"subtotal"`
}

type CartResponse struct {
	CartID    string             `json:"cart_id"`
	Lines     []CartLineResponse `json:"lines"`
	ItemCount int                `json:"item_count"`
	LineCount int                `json:"line_count"`
	Total     decimal.Decimal    `json:"total"`
	Status    string             `json:"status,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

func convertCart(c *domain.Cart, status service.Status) CartResponse {
	resp := CartResponse{
		CartID:    c.ID,
		Lines:     make([]CartLineResponse, len(c.Lines)),
		ItemCount: c.ItemCount(),
		LineCount: c.LineCount(),
		Total:     c.Total(),
	}
	if status != 0 {
		resp.Status = status.String()
	}
	for i, l := range c.Lines {
		resp.Lines[i] = CartLineResponse{
			ProductID: l.ProductID,
			Name:      l.Name,
			UnitPrice: l.UnitPrice,
			Quantity:  l.Quantity,
			Stock:     l.Stock,
			Subtotal:  l.Subtotal(),
		}
	}
	return resp
}

func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	cs, ok := h.open(ctx, w)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, convertCart(cs.Cart(), 0))
}

func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req AddItemRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.ProductID <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "product_id must be positive")
		return
	}
	if req.Quantity <= 0 || req.Quantity > maxQuantity {
		respondError(w, http.StatusBadRequest, "invalid_quantity", "quantity must be between 1 and 99")
		return
	}

	cs, ok := h.open(ctx, w)
	if !ok {
		return
	}

	product, err := h.catalog.GetProduct(ctx, req.ProductID)
	if err != nil {
		var se *remote.StatusError
		if errors.As(err, &se) && se.StatusCode == http.StatusNotFound {
			respondError(w, http.StatusNotFound, "not_found", "product not found")
			return
		}
		logger.For(ctx, h.logger).Warn("product lookup failed", zap.Int64("product_id", req.ProductID), zap.Error(err))
		respondError(w, http.StatusBadGateway, "catalog_unavailable", "failed to read product")
		return
	}

	h.respondOutcome(w, cs, cs.AddItem(ctx, product, req.Quantity))
}

func (h *CartHandler) ChangeQuantity(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	productID, ok := productIDParam(w, r)
	if !ok {
		return
	}

	var req ChangeQuantityRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.Delta == 0 {
		respondError(w, http.StatusBadRequest, "invalid_delta", "delta must be non-zero")
		return
	}

	cs, ok := h.open(ctx, w)
	if !ok {
		return
	}
	h.respondOutcome(w, cs, cs.ChangeQuantity(ctx, productID, req.Delta))
}

func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	productID, ok := productIDParam(w, r)
	if !ok {
		return
	}

	cs, ok := h.open(ctx, w)
	if !ok {
		return
	}
	h.respondOutcome(w, cs, cs.RemoveItem(ctx, productID))
}

func (h *CartHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	cs, ok := h.open(ctx, w)
	if !ok {
		return
	}
	if err := cs.Refresh(ctx); err != nil {
		handleSyncError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, convertCart(cs.Cart(), service.Confirmed))
}

// EndSession drops the session's synchronizer. The remote cart is kept.
func (h *CartHandler) EndSession(w http.ResponseWriter, r *http.Request) {
	sessionID := getSessionID(r.Context())
	if sessionID == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing session")
		return
	}
	h.sessions.Close(sessionID)
	w.WriteHeader(http.StatusNoContent)
}

func (h *CartHandler) open(ctx context.Context, w http.ResponseWriter) (*service.Synchronizer, bool) {
	sessionID := getSessionID(ctx)
	if sessionID == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing session")
		return nil, false
	}
	cs, err := h.sessions.Open(ctx, sessionID)
	if err != nil {
		handleSyncError(w, err)
		return nil, false
	}
	return cs, true
}

func (h *CartHandler) respondOutcome(w http.ResponseWriter, cs *service.Synchronizer, out service.Outcome) {
	if !out.OK() {
		handleSyncError(w, out.Err)
		return
	}
	respondJSON(w, http.StatusOK, convertCart(cs.Cart(), out.Status))
}

func productIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	productID, err := strconv.ParseInt(chi.URLParam(r, "product_id"), 10, 64)
	if err != nil || productID <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "product_id must be a positive integer")
		return 0, false
	}
	return productID, true
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

func handleSyncError(w http.ResponseWriter, err error) {
	kind, ok := service.KindOf(err)
	if !ok {
		respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}

	var httpStatus int
	switch kind {
	case service.InvalidSession:
		httpStatus = http.StatusUnauthorized
	case service.InvalidRequest:
		httpStatus = http.StatusBadRequest
	case service.ServerRejected:
		httpStatus = http.StatusBadGateway
	case service.NetworkError:
		httpStatus = http.StatusServiceUnavailable
	default:
		httpStatus = http.StatusInternalServerError
	}

	respondJSON(w, httpStatus, ErrorResponse{
		Error:   "cart update failed",
		Code:    kind.String(),
		Details: err.Error(),
	})
}
