// Package types defines the core records of the spot exchange: users,
// instruments, balances, orders and trades, plus the enumerations they
// share. Records map 1:1 onto storage rows; amounts and prices are
// integers of minor units and notional is always qty*price with no
// rounding.
package types

import (
	"regexp"
	"time"

	"github.com/google/uuid"
)

// QuoteTicker is the distinguished quote currency. All prices are
// denominated in it and it is never itself tradable.
const QuoteTicker = "RUB"

// tickerRE validates instrument tickers: uppercase, 2..10 characters.
var tickerRE = regexp.MustCompile(`^[A-Z]{2,10}$`)

// ValidTicker reports whether s is a well-formed instrument ticker.
func ValidTicker(s string) bool {
	return tickerRE.MatchString(s)
}

// Role represents a user role.
type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

// Direction represents an order side.
type Direction string

const (
	DirectionBuy  Direction = "BUY"
	DirectionSell Direction = "SELL"
)

// Opposite returns the counterparty side.
func (d Direction) Opposite() Direction {
	if d == DirectionBuy {
		return DirectionSell
	}
	return DirectionBuy
}

// Valid reports whether d is a known direction.
func (d Direction) Valid() bool {
	return d == DirectionBuy || d == DirectionSell
}

// OrderKind represents the order type.
type OrderKind string

const (
	KindMarket OrderKind = "MARKET"
	KindLimit  OrderKind = "LIMIT"
)

// OrderStatus represents the order lifecycle state.
//
// The state machine is NEW -> PART_EXECUTED -> EXECUTED and
// NEW|PART_EXECUTED -> CANCELLED; EXECUTED and CANCELLED are terminal.
type OrderStatus string

const (
	StatusNew          OrderStatus = "NEW"
	StatusPartExecuted OrderStatus = "PART_EXECUTED"
	StatusExecuted     OrderStatus = "EXECUTED"
	StatusCancelled    OrderStatus = "CANCELLED"
)

// Terminal reports whether no further transitions are possible.
func (s OrderStatus) Terminal() bool {
	return s == StatusExecuted || s == StatusCancelled
}

// CanTransition reports whether the move from s to next is legal.
func (s OrderStatus) CanTransition(next OrderStatus) bool {
	switch s {
	case StatusNew:
		return next == StatusPartExecuted || next == StatusExecuted || next == StatusCancelled
	case StatusPartExecuted:
		return next == StatusExecuted || next == StatusCancelled
	default:
		return false
	}
}

// StatusForFilled returns the status implied by a fill level of a
// non-cancelled order.
func StatusForFilled(filled, qty int64) OrderStatus {
	switch {
	case filled >= qty:
		return StatusExecuted
	case filled > 0:
		return StatusPartExecuted
	default:
		return StatusNew
	}
}

// User is an exchange account holder. APIKeyHash is the bcrypt hash of
// the issued key; the plaintext key leaves the system exactly once, in
// the registration response.
type User struct {
	ID         uuid.UUID `db:"id" json:"id"`
	Name       string    `db:"name" json:"name"`
	Role       Role      `db:"role" json:"role"`
	APIKeyHash []byte    `db:"api_key_hash" json:"-"`
	CreatedAt  int64     `db:"created_at" json:"created_at"`
}

// Caller is the authenticated identity the glue layer hands to the
// gateway. The core never parses credentials.
type Caller struct {
	UserID uuid.UUID
	Role   Role
}

// IsAdmin reports whether the caller holds the admin role.
func (c Caller) IsAdmin() bool { return c.Role == RoleAdmin }

// Instrument is a tradable symbol.
type Instrument struct {
	Ticker string `db:"ticker" json:"ticker"`
	Name   string `db:"name" json:"name"`
}

// Balance is one (user, ticker) ledger row. Reserved is the portion
// earmarked by open orders; it is part of Total, never in addition to it.
// Invariant: 0 <= Reserved <= Total.
type Balance struct {
	UserID   uuid.UUID `db:"user_id" json:"user_id"`
	Ticker   string    `db:"ticker" json:"ticker"`
	Total    int64     `db:"total" json:"total"`
	Reserved int64     `db:"reserved" json:"reserved"`
}

// Available returns the spendable portion of the balance.
func (b Balance) Available() int64 { return b.Total - b.Reserved }

// Order is a flat order record. Price is meaningful iff Kind is LIMIT;
// market rows persist with a zero price. Timestamp is the admission
// instant in nanoseconds, assigned by the gateway clock, and is the
// time-priority key.
type Order struct {
	ID        uuid.UUID   `db:"id" json:"id"`
	UserID    uuid.UUID   `db:"user_id" json:"user_id"`
	Ticker    string      `db:"ticker" json:"ticker"`
	Direction Direction   `db:"direction" json:"direction"`
	Kind      OrderKind   `db:"kind" json:"kind"`
	Qty       int64       `db:"qty" json:"qty"`
	Price     int64       `db:"price" json:"price,omitempty"`
	Filled    int64       `db:"filled" json:"filled"`
	Status    OrderStatus `db:"status" json:"status"`
	Timestamp int64       `db:"timestamp" json:"timestamp"`
}

// Remaining returns the unfilled quantity.
func (o *Order) Remaining() int64 { return o.Qty - o.Filled }

// Resting reports whether the order still sits on the book.
func (o *Order) Resting() bool {
	return o.Status == StatusNew || o.Status == StatusPartExecuted
}

// Trade is one executed fill. Price is always the maker's price.
// Trades are append-only and immutable.
type Trade struct {
	ID           uuid.UUID `db:"id" json:"id"`
	Ticker       string    `db:"ticker" json:"ticker"`
	MakerOrderID uuid.UUID `db:"maker_order_id" json:"maker_order_id"`
	TakerOrderID uuid.UUID `db:"taker_order_id" json:"taker_order_id"`
	BuyerID      uuid.UUID `db:"buyer_id" json:"buyer_id"`
	SellerID     uuid.UUID `db:"seller_id" json:"seller_id"`
	Qty          int64     `db:"qty" json:"qty"`
	Price        int64     `db:"price" json:"price"`
	Timestamp    int64     `db:"timestamp" json:"timestamp"`
}

// Notional returns the quote value of the trade.
func (t *Trade) Notional() int64 { return t.Qty * t.Price }

// PriceLevel is one aggregated line of an L2 snapshot.
type PriceLevel struct {
	Price int64 `json:"price"`
	Qty   int64 `json:"qty"`
}

// OrderBook is an aggregated L2 snapshot: bids descending, asks
// ascending, each truncated to the requested depth.
type OrderBook struct {
	Ticker string       `json:"ticker"`
	Bids   []PriceLevel `json:"bids"`
	Asks   []PriceLevel `json:"asks"`
}

// Now returns the current wall clock in nanoseconds. Admission
// timestamps go through the gateway clock instead, which enforces
// strict monotonicity.
func Now() int64 { return time.Now().UnixNano() }
