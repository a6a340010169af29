// Package gateway is the single entry point in front of the matching
// engine. It validates requests, serializes order flow per ticker and
// stamps every admitted order with a strictly increasing timestamp.
// Read-only queries bypass the locks entirely.
package gateway

import (
	"context"
	"math"
	"sync"
	"time"

	"cosmossdk.io/errors"
	"cosmossdk.io/log"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"golang.org/x/crypto/bcrypt"

	"github.com/openalpha/spot-dex/engine"
	"github.com/openalpha/spot-dex/ledger"
	"github.com/openalpha/spot-dex/metrics"
	"github.com/openalpha/spot-dex/storage"
	"github.com/openalpha/spot-dex/types"
)

// AdmissionClock issues strictly increasing nanosecond timestamps.
// Wall-clock repeats and rewinds collapse to +1ns steps, so timestamps
// remain a total order across the process.
type AdmissionClock struct {
	mu   sync.Mutex
	last int64
}

// Next returns the next timestamp.
func (c *AdmissionClock) Next() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := types.Now()
	if now <= c.last {
		now = c.last + 1
	}
	c.last = now
	return now
}

// SubmitParams carries a validated-by-construction order request. For
// market orders Price must be zero.
type SubmitParams struct {
	Ticker    string
	Direction types.Direction
	Kind      types.OrderKind
	Qty       int64
	Price     int64
}

// Gateway owns the per-ticker locks and fronts every exchange
// operation.
type Gateway struct {
	store   *storage.Store
	users   *storage.UserStore
	orders  *storage.OrderStore
	trades  *storage.TradeLog
	ledger  *ledger.Ledger
	engine  *engine.Engine
	metrics *metrics.Metrics
	clock   *AdmissionClock
	logger  log.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New wires a gateway over the engine and stores. The clock must be
// the same instance the engine stamps trades with.
func New(store *storage.Store, users *storage.UserStore, orders *storage.OrderStore, trades *storage.TradeLog, led *ledger.Ledger, eng *engine.Engine, m *metrics.Metrics, clock *AdmissionClock, logger log.Logger) *Gateway {
	return &Gateway{
		store:   store,
		users:   users,
		orders:  orders,
		trades:  trades,
		ledger:  led,
		engine:  eng,
		metrics: m,
		clock:   clock,
		logger:  logger.With("module", "gateway"),
		locks:   make(map[string]*sync.Mutex),
	}
}

// lockFor returns the mutex serializing one ticker's order flow,
// creating it on first use. Lock entries are never removed; the set of
// tickers is small and bounded by the instrument table.
func (g *Gateway) lockFor(ticker string) *sync.Mutex {
	g.mu.Lock()
	defer g.mu.Unlock()
	l, ok := g.locks[ticker]
	if !ok {
		l = &sync.Mutex{}
		g.locks[ticker] = l
	}
	return l
}

// ResolveCaller maps an authenticated user id to the caller identity
// the rest of the core consumes.
func (g *Gateway) ResolveCaller(ctx context.Context, userID uuid.UUID) (types.Caller, error) {
	u, err := g.users.GetUser(ctx, g.store.DB(), userID)
	if err != nil {
		return types.Caller{}, err
	}
	return types.Caller{UserID: u.ID, Role: u.Role}, nil
}

func (g *Gateway) requireAdmin(caller types.Caller) error {
	if !caller.IsAdmin() {
		return types.ErrForbidden.Wrap("admin role required")
	}
	return nil
}

// validateSubmit rejects malformed order requests before any lock is
// taken.
func (g *Gateway) validateSubmit(ctx context.Context, p SubmitParams) error {
	if !p.Direction.Valid() {
		return types.ErrValidation.Wrapf("direction %q", p.Direction)
	}
	if p.Kind != types.KindMarket && p.Kind != types.KindLimit {
		return types.ErrValidation.Wrapf("kind %q", p.Kind)
	}
	if !types.ValidTicker(p.Ticker) {
		return types.ErrValidation.Wrapf("ticker %q", p.Ticker)
	}
	if p.Ticker == types.QuoteTicker {
		return types.ErrValidation.Wrap("quote currency is not tradable")
	}
	if p.Qty <= 0 {
		return types.ErrValidation.Wrapf("qty %d", p.Qty)
	}
	switch p.Kind {
	case types.KindLimit:
		if p.Price <= 0 {
			return types.ErrValidation.Wrapf("limit price %d", p.Price)
		}
		// The full notional must fit in int64 or the reservation
		// arithmetic wraps.
		if p.Qty > math.MaxInt64/p.Price {
			return types.ErrValidation.Wrapf("notional %d x %d overflows", p.Qty, p.Price)
		}
	case types.KindMarket:
		if p.Price != 0 {
			return types.ErrValidation.Wrap("market order carries no price")
		}
	}
	if _, err := g.users.GetInstrument(ctx, g.store.DB(), p.Ticker); err != nil {
		if errors.IsOf(err, types.ErrNotFound) {
			return types.ErrValidation.Wrapf("unknown ticker %s", p.Ticker)
		}
		return err
	}
	return nil
}

// SubmitOrder admits one order. The request context is honored up to
// lock acquisition; once matching starts the transaction runs to
// commit or rollback regardless of cancellation.
func (g *Gateway) SubmitOrder(ctx context.Context, caller types.Caller, p SubmitParams) (*types.Order, []*types.Trade, error) {
	if err := g.validateSubmit(ctx, p); err != nil {
		return nil, nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, types.ErrConflict.Wrapf("request abandoned: %v", err)
	}

	lock := g.lockFor(p.Ticker)
	lock.Lock()
	defer lock.Unlock()

	o := &types.Order{
		ID:        uuid.New(),
		UserID:    caller.UserID,
		Ticker:    p.Ticker,
		Direction: p.Direction,
		Kind:      p.Kind,
		Qty:       p.Qty,
		Price:     p.Price,
		Status:    types.StatusNew,
		Timestamp: g.clock.Next(),
	}

	start := time.Now()
	var (
		trades []*types.Trade
		err    error
	)
	if p.Kind == types.KindMarket {
		trades, err = g.engine.SubmitMarket(ctx, o)
	} else {
		trades, err = g.engine.SubmitLimit(ctx, o)
	}
	g.metrics.ObserveMatching(p.Ticker, time.Since(start))

	outcome := "accepted"
	if err != nil {
		outcome = "rejected"
	}
	g.metrics.OrderSubmitted(p.Ticker, string(p.Direction), string(p.Kind), outcome)
	if err != nil {
		return nil, nil, err
	}
	for _, t := range trades {
		g.metrics.TradeExecuted(t.Ticker, t.Qty, t.Notional())
	}
	return o, trades, nil
}

// CancelOrder cancels the caller's order under the ticker lock.
func (g *Gateway) CancelOrder(ctx context.Context, caller types.Caller, orderID uuid.UUID) (*types.Order, error) {
	o, err := g.orders.GetByID(ctx, g.store.DB(), orderID)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, types.ErrConflict.Wrapf("request abandoned: %v", err)
	}

	lock := g.lockFor(o.Ticker)
	lock.Lock()
	defer lock.Unlock()
	return g.engine.Cancel(ctx, caller, orderID)
}

// GetOrder returns one order visible to the caller.
func (g *Gateway) GetOrder(ctx context.Context, caller types.Caller, orderID uuid.UUID) (*types.Order, error) {
	o, err := g.orders.GetByID(ctx, g.store.DB(), orderID)
	if err != nil {
		return nil, err
	}
	if o.UserID != caller.UserID && !caller.IsAdmin() {
		return nil, types.ErrForbidden.Wrapf("order %s belongs to another user", orderID)
	}
	return o, nil
}

// ListOrders returns the caller's orders, newest first.
func (g *Gateway) ListOrders(ctx context.Context, caller types.Caller, ticker string) ([]*types.Order, error) {
	if ticker != "" && !types.ValidTicker(ticker) {
		return nil, types.ErrValidation.Wrapf("ticker %q", ticker)
	}
	return g.orders.ListByUser(ctx, g.store.DB(), caller.UserID, ticker)
}

// ListTrades returns an instrument's public trade tape, newest first.
func (g *Gateway) ListTrades(ctx context.Context, ticker string, limit int) ([]*types.Trade, error) {
	if !types.ValidTicker(ticker) {
		return nil, types.ErrValidation.Wrapf("ticker %q", ticker)
	}
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	return g.trades.List(ctx, g.store.DB(), ticker, nil, limit)
}

// GetBalances returns the caller's balance rows.
func (g *Gateway) GetBalances(ctx context.Context, caller types.Caller) ([]*types.Balance, error) {
	return g.ledger.ListByUser(ctx, g.store.DB(), caller.UserID)
}

// RegisterUser creates a user and issues their API key. The plaintext
// key is returned exactly once; only its bcrypt hash is stored.
func (g *Gateway) RegisterUser(ctx context.Context, name string) (*types.User, string, error) {
	if name == "" {
		return nil, "", types.ErrValidation.Wrap("empty name")
	}
	apiKey := "key-" + uuid.NewString()
	hash, err := bcrypt.GenerateFromPassword([]byte(apiKey), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", types.ErrStorage.Wrapf("hash api key: %v", err)
	}
	u := &types.User{
		ID:         uuid.New(),
		Name:       name,
		Role:       types.RoleUser,
		APIKeyHash: hash,
		CreatedAt:  types.Now(),
	}
	if err := g.users.CreateUser(ctx, g.store.DB(), u); err != nil {
		return nil, "", err
	}
	g.logger.Info("user registered", "user", u.ID, "name", name)
	return u, apiKey, nil
}

// GetUser returns a user record. Admin only.
func (g *Gateway) GetUser(ctx context.Context, caller types.Caller, userID uuid.UUID) (*types.User, error) {
	if err := g.requireAdmin(caller); err != nil {
		return nil, err
	}
	return g.users.GetUser(ctx, g.store.DB(), userID)
}

// DeleteUser removes a user. The user must hold no funds and no open
// orders; otherwise the deletion is rejected so the books stay
// consistent.
func (g *Gateway) DeleteUser(ctx context.Context, caller types.Caller, userID uuid.UUID) (*types.User, error) {
	if err := g.requireAdmin(caller); err != nil {
		return nil, err
	}
	var out *types.User
	err := g.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		u, err := g.users.GetUser(ctx, tx, userID)
		if err != nil {
			return err
		}
		open, err := g.orders.CountOpenByUser(ctx, tx, userID)
		if err != nil {
			return err
		}
		if open > 0 {
			return types.ErrConflict.Wrapf("user %s has %d open orders", userID, open)
		}
		balances, err := g.ledger.ListByUser(ctx, tx, userID)
		if err != nil {
			return err
		}
		for _, b := range balances {
			if b.Total != 0 {
				return types.ErrConflict.Wrapf("user %s holds %d %s", userID, b.Total, b.Ticker)
			}
		}
		out = u
		return g.users.DeleteUser(ctx, tx, userID)
	})
	if err != nil {
		return nil, err
	}
	g.logger.Info("user deleted", "user", userID)
	return out, nil
}

// CreateInstrument registers a tradable symbol. Admin only.
func (g *Gateway) CreateInstrument(ctx context.Context, caller types.Caller, ticker, name string) (*types.Instrument, error) {
	if err := g.requireAdmin(caller); err != nil {
		return nil, err
	}
	if !types.ValidTicker(ticker) {
		return nil, types.ErrValidation.Wrapf("ticker %q", ticker)
	}
	if name == "" {
		return nil, types.ErrValidation.Wrap("empty name")
	}
	ins := &types.Instrument{Ticker: ticker, Name: name}
	if err := g.users.CreateInstrument(ctx, g.store.DB(), ins); err != nil {
		return nil, err
	}
	g.logger.Info("instrument created", "ticker", ticker)
	return ins, nil
}

// ListInstruments returns every listed symbol, the quote currency
// included.
func (g *Gateway) ListInstruments(ctx context.Context) ([]*types.Instrument, error) {
	return g.users.ListInstruments(ctx, g.store.DB())
}

// Deposit credits a user's balance. Admin only.
func (g *Gateway) Deposit(ctx context.Context, caller types.Caller, userID uuid.UUID, ticker string, amount int64) error {
	if err := g.adminBalanceChecks(ctx, caller, userID, ticker); err != nil {
		return err
	}
	return g.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		return g.ledger.Credit(ctx, tx, userID, ticker, amount)
	})
}

// Withdraw debits a user's available balance. Admin only; funds
// reserved by open orders cannot be withdrawn.
func (g *Gateway) Withdraw(ctx context.Context, caller types.Caller, userID uuid.UUID, ticker string, amount int64) error {
	if err := g.adminBalanceChecks(ctx, caller, userID, ticker); err != nil {
		return err
	}
	return g.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		return g.ledger.Debit(ctx, tx, userID, ticker, amount)
	})
}

func (g *Gateway) adminBalanceChecks(ctx context.Context, caller types.Caller, userID uuid.UUID, ticker string) error {
	if err := g.requireAdmin(caller); err != nil {
		return err
	}
	if _, err := g.users.GetUser(ctx, g.store.DB(), userID); err != nil {
		return err
	}
	if _, err := g.users.GetInstrument(ctx, g.store.DB(), ticker); err != nil {
		if errors.IsOf(err, types.ErrNotFound) {
			return types.ErrValidation.Wrapf("unknown ticker %s", ticker)
		}
		return err
	}
	return nil
}
