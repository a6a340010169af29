// Package types defines the HTTP request and response shapes of the
// exchange API and the service surface the handlers consume.
package types

import (
	"context"

	"github.com/google/uuid"

	"github.com/openalpha/spot-dex/gateway"
	"github.com/openalpha/spot-dex/types"
)

// Exchange is the gateway surface the handlers call.
type Exchange interface {
	ResolveCaller(ctx context.Context, userID uuid.UUID) (types.Caller, error)
	RegisterUser(ctx context.Context, name string) (*types.User, string, error)
	GetUser(ctx context.Context, caller types.Caller, userID uuid.UUID) (*types.User, error)
	DeleteUser(ctx context.Context, caller types.Caller, userID uuid.UUID) (*types.User, error)

	CreateInstrument(ctx context.Context, caller types.Caller, ticker, name string) (*types.Instrument, error)
	ListInstruments(ctx context.Context) ([]*types.Instrument, error)

	SubmitOrder(ctx context.Context, caller types.Caller, p gateway.SubmitParams) (*types.Order, []*types.Trade, error)
	CancelOrder(ctx context.Context, caller types.Caller, orderID uuid.UUID) (*types.Order, error)
	GetOrder(ctx context.Context, caller types.Caller, orderID uuid.UUID) (*types.Order, error)
	ListOrders(ctx context.Context, caller types.Caller, ticker string) ([]*types.Order, error)

	GetOrderBook(ctx context.Context, ticker string, depth int) (*types.OrderBook, error)
	ListTrades(ctx context.Context, ticker string, limit int) ([]*types.Trade, error)

	GetBalances(ctx context.Context, caller types.Caller) ([]*types.Balance, error)
	Deposit(ctx context.Context, caller types.Caller, userID uuid.UUID, ticker string, amount int64) error
	Withdraw(ctx context.Context, caller types.Caller, userID uuid.UUID, ticker string, amount int64) error
}

// RegisterRequest creates a user.
type RegisterRequest struct {
	Name string `json:"name"`
}

// RegisterResponse returns the new user and their API key. The key is
// shown exactly once.
type RegisterResponse struct {
	User   *types.User `json:"user"`
	APIKey string      `json:"api_key"`
}

// SubmitOrderRequest places an order. A present positive price makes
// it a limit order; an absent price makes it a market order.
type SubmitOrderRequest struct {
	Direction types.Direction `json:"direction"`
	Ticker    string          `json:"ticker"`
	Qty       int64           `json:"qty"`
	Price     *int64          `json:"price,omitempty"`
}

// SubmitOrderResponse returns the admitted order and its immediate
// fills.
type SubmitOrderResponse struct {
	Order  *types.Order   `json:"order"`
	Trades []*types.Trade `json:"trades"`
}

// BalanceEntry is one row of the balance response.
type BalanceEntry struct {
	Total     int64 `json:"total"`
	Reserved  int64 `json:"reserved"`
	Available int64 `json:"available"`
}

// BalanceResponse maps ticker to amounts.
type BalanceResponse map[string]BalanceEntry

// AmountRequest moves admin-managed funds.
type AmountRequest struct {
	UserID uuid.UUID `json:"user_id"`
	Ticker string    `json:"ticker"`
	Amount int64     `json:"amount"`
}

// InstrumentRequest lists a new symbol.
type InstrumentRequest struct {
	Ticker string `json:"ticker"`
	Name   string `json:"name"`
}

// OKResponse acknowledges a side-effect-only call.
type OKResponse struct {
	Success bool `json:"success"`
}
