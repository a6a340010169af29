package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"

	apitypes "github.com/openalpha/spot-dex/api/types"
	"github.com/openalpha/spot-dex/gateway"
	"github.com/openalpha/spot-dex/types"
)

// OrderHandler handles order-related HTTP requests
type OrderHandler struct {
	service apitypes.Exchange
}

// NewOrderHandler creates a new order handler
func NewOrderHandler(service apitypes.Exchange) *OrderHandler {
	return &OrderHandler{service: service}
}

// HandleOrders handles /v1/orders (GET for list, POST for submit)
func (h *OrderHandler) HandleOrders(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.listOrders(w, r)
	case http.MethodPost:
		h.submitOrder(w, r)
	case http.MethodOptions:
		w.WriteHeader(http.StatusOK)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed")
	}
}

// HandleOrder handles /v1/orders/{id} (GET, DELETE)
func (h *OrderHandler) HandleOrder(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimPrefix(r.URL.Path, "/v1/orders/")
	if raw == "" {
		writeError(w, http.StatusBadRequest, "missing_order_id", "Order ID is required")
		return
	}
	orderID, err := uuid.Parse(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_order_id", "Order ID must be a UUID")
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.getOrder(w, r, orderID)
	case http.MethodDelete:
		h.cancelOrder(w, r, orderID)
	case http.MethodOptions:
		w.WriteHeader(http.StatusOK)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed")
	}
}

// submitOrder handles POST /v1/orders
func (h *OrderHandler) submitOrder(w http.ResponseWriter, r *http.Request) {
	caller, ok := resolveCaller(w, r, h.service)
	if !ok {
		return
	}

	var req apitypes.SubmitOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "Invalid JSON body")
		return
	}

	p := gateway.SubmitParams{
		Ticker:    req.Ticker,
		Direction: req.Direction,
		Kind:      types.KindMarket,
		Qty:       req.Qty,
	}
	if req.Price != nil {
		p.Kind = types.KindLimit
		p.Price = *req.Price
	}

	order, trades, err := h.service.SubmitOrder(r.Context(), caller, p)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, apitypes.SubmitOrderResponse{Order: order, Trades: trades})
}

// cancelOrder handles DELETE /v1/orders/{id}
func (h *OrderHandler) cancelOrder(w http.ResponseWriter, r *http.Request, orderID uuid.UUID) {
	caller, ok := resolveCaller(w, r, h.service)
	if !ok {
		return
	}
	if _, err := h.service.CancelOrder(r.Context(), caller, orderID); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, apitypes.OKResponse{Success: true})
}

// getOrder handles GET /v1/orders/{id}
func (h *OrderHandler) getOrder(w http.ResponseWriter, r *http.Request, orderID uuid.UUID) {
	caller, ok := resolveCaller(w, r, h.service)
	if !ok {
		return
	}
	order, err := h.service.GetOrder(r.Context(), caller, orderID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// listOrders handles GET /v1/orders
func (h *OrderHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	caller, ok := resolveCaller(w, r, h.service)
	if !ok {
		return
	}
	orders, err := h.service.ListOrders(r.Context(), caller, r.URL.Query().Get("ticker"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}
