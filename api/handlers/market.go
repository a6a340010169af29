package handlers

import (
	"net/http"
	"strconv"
	"strings"

	apitypes "github.com/openalpha/spot-dex/api/types"
)

// MarketHandler handles public market-data HTTP requests
type MarketHandler struct {
	service apitypes.Exchange
}

// NewMarketHandler creates a new market data handler
func NewMarketHandler(service apitypes.Exchange) *MarketHandler {
	return &MarketHandler{service: service}
}

// HandleInstruments handles GET /v1/instruments
func (h *MarketHandler) HandleInstruments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed")
		return
	}
	list, err := h.service.ListInstruments(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// HandleOrderBook handles GET /v1/orderbook/{ticker}
func (h *MarketHandler) HandleOrderBook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed")
		return
	}
	ticker := strings.TrimPrefix(r.URL.Path, "/v1/orderbook/")
	if ticker == "" {
		writeError(w, http.StatusBadRequest, "missing_ticker", "Ticker is required")
		return
	}
	depth, _ := strconv.Atoi(r.URL.Query().Get("depth"))
	book, err := h.service.GetOrderBook(r.Context(), ticker, depth)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, book)
}

// HandleTrades handles GET /v1/trades/{ticker}
func (h *MarketHandler) HandleTrades(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed")
		return
	}
	ticker := strings.TrimPrefix(r.URL.Path, "/v1/trades/")
	if ticker == "" {
		writeError(w, http.StatusBadRequest, "missing_ticker", "Ticker is required")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	trades, err := h.service.ListTrades(r.Context(), ticker, limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, trades)
}

// HandleHealth handles GET /health
func (h *MarketHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
