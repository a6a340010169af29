// Package engine implements price-time-priority matching for the spot
// exchange. Each entry point runs inside one storage transaction: the
// reservation, every fill's four balance legs, the order rows and the
// trade rows all commit together or not at all.
package engine

import (
	"context"
	"math"

	"cosmossdk.io/log"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/openalpha/spot-dex/ledger"
	"github.com/openalpha/spot-dex/storage"
	"github.com/openalpha/spot-dex/types"
)

// Clock supplies strictly increasing nanosecond timestamps for trades.
// The gateway owns the instance so admission order and trade order agree.
type Clock func() int64

// Engine matches incoming orders against the resting book.
type Engine struct {
	store  *storage.Store
	orders *storage.OrderStore
	trades *storage.TradeLog
	ledger *ledger.Ledger
	clock  Clock
	logger log.Logger
}

// New creates an engine over the given stores.
func New(store *storage.Store, orders *storage.OrderStore, trades *storage.TradeLog, led *ledger.Ledger, clock Clock, logger log.Logger) *Engine {
	return &Engine{
		store:  store,
		orders: orders,
		trades: trades,
		ledger: led,
		clock:  clock,
		logger: logger.With("module", "engine"),
	}
}

// fill is one planned execution against a resting offer.
type fill struct {
	maker *types.Order
	qty   int64
}

// plan walks offers in book order and allocates quantity until the
// taker is satisfied or the side is exhausted. Offers arrive already
// sorted by price improvement, then time, then id. The accumulated
// cost is overflow-checked: a sweep whose notional exceeds int64
// cannot be funded and is rejected rather than wrapped.
func plan(offers []*types.Order, want int64) (fills []fill, matched, cost int64, err error) {
	for _, offer := range offers {
		if matched == want {
			break
		}
		take := offer.Remaining()
		if take > want-matched {
			take = want - matched
		}
		if take > math.MaxInt64/offer.Price {
			return nil, 0, 0, types.ErrValidation.Wrapf(
				"notional %d x %d overflows", take, offer.Price)
		}
		notional := take * offer.Price
		if cost > math.MaxInt64-notional {
			return nil, 0, 0, types.ErrValidation.Wrap("sweep notional overflows")
		}
		fills = append(fills, fill{maker: offer, qty: take})
		matched += take
		cost += notional
	}
	return fills, matched, cost, nil
}

// execute settles one planned fill: balances move, the maker's fill
// level advances and the trade is recorded at the maker's price.
func (e *Engine) execute(ctx context.Context, tx *sqlx.Tx, taker *types.Order, f fill) (*types.Trade, error) {
	buyerID, sellerID := taker.UserID, f.maker.UserID
	if taker.Direction == types.DirectionSell {
		buyerID, sellerID = f.maker.UserID, taker.UserID
	}
	if err := e.ledger.Settle(ctx, tx, buyerID, sellerID, taker.Ticker, f.qty, f.maker.Price); err != nil {
		return nil, err
	}
	if err := e.orders.ApplyFill(ctx, tx, f.maker.ID, f.qty); err != nil {
		return nil, err
	}
	trade := &types.Trade{
		ID:           uuid.New(),
		Ticker:       taker.Ticker,
		MakerOrderID: f.maker.ID,
		TakerOrderID: taker.ID,
		BuyerID:      buyerID,
		SellerID:     sellerID,
		Qty:          f.qty,
		Price:        f.maker.Price,
		Timestamp:    e.clock(),
	}
	if err := e.trades.Append(ctx, tx, trade); err != nil {
		return nil, err
	}
	e.logger.Debug("fill",
		"ticker", trade.Ticker, "qty", trade.Qty, "price", trade.Price,
		"maker", trade.MakerOrderID, "taker", trade.TakerOrderID)
	return trade, nil
}

// SubmitLimit matches the order against crossing offers and rests any
// remainder on the book. The taker pays maker prices on the crossed
// portion; the resting remainder reserves worst case at the limit
// price (BUY) or the remaining units (SELL).
func (e *Engine) SubmitLimit(ctx context.Context, o *types.Order) ([]*types.Trade, error) {
	if o.Qty <= 0 || o.Price <= 0 {
		return nil, types.ErrValidation.Wrapf("limit qty %d price %d", o.Qty, o.Price)
	}
	var trades []*types.Trade
	err := e.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		offers, err := e.orders.FetchOffers(ctx, tx, o.Ticker, o.Direction.Opposite(), &o.Price)
		if err != nil {
			return err
		}
		fills, matched, cost, err := plan(offers, o.Qty)
		if err != nil {
			return err
		}
		rest := o.Qty - matched

		if o.Direction == types.DirectionBuy {
			if rest > math.MaxInt64/o.Price || cost > math.MaxInt64-rest*o.Price {
				return types.ErrValidation.Wrapf("notional %d x %d overflows", o.Qty, o.Price)
			}
			err = e.ledger.Reserve(ctx, tx, o.UserID, types.QuoteTicker, cost+rest*o.Price)
		} else {
			err = e.ledger.Reserve(ctx, tx, o.UserID, o.Ticker, o.Qty)
		}
		if err != nil {
			return err
		}

		for _, f := range fills {
			trade, err := e.execute(ctx, tx, o, f)
			if err != nil {
				return err
			}
			trades = append(trades, trade)
		}

		o.Filled = matched
		o.Status = types.StatusForFilled(matched, o.Qty)
		return e.orders.Insert(ctx, tx, o)
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info("limit order accepted",
		"order", o.ID, "ticker", o.Ticker, "direction", o.Direction,
		"qty", o.Qty, "price", o.Price, "status", o.Status)
	return trades, nil
}

// SubmitMarket fills the order completely at resting prices or rejects
// it without any effect. A market order never rests: insufficient
// depth on the opposite side fails with ErrInsufficientLiquidity
// before any balance moves.
func (e *Engine) SubmitMarket(ctx context.Context, o *types.Order) ([]*types.Trade, error) {
	if o.Qty <= 0 {
		return nil, types.ErrValidation.Wrapf("market qty %d", o.Qty)
	}
	var trades []*types.Trade
	err := e.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		offers, err := e.orders.FetchOffers(ctx, tx, o.Ticker, o.Direction.Opposite(), nil)
		if err != nil {
			return err
		}
		fills, matched, cost, err := plan(offers, o.Qty)
		if err != nil {
			return err
		}
		if matched < o.Qty {
			return types.ErrInsufficientLiquidity.Wrapf(
				"%s %s: book holds %d of %d", o.Direction, o.Ticker, matched, o.Qty)
		}

		if o.Direction == types.DirectionBuy {
			err = e.ledger.Reserve(ctx, tx, o.UserID, types.QuoteTicker, cost)
		} else {
			err = e.ledger.Reserve(ctx, tx, o.UserID, o.Ticker, o.Qty)
		}
		if err != nil {
			return err
		}

		for _, f := range fills {
			trade, err := e.execute(ctx, tx, o, f)
			if err != nil {
				return err
			}
			trades = append(trades, trade)
		}

		o.Filled = o.Qty
		o.Status = types.StatusExecuted
		return e.orders.Insert(ctx, tx, o)
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info("market order executed",
		"order", o.ID, "ticker", o.Ticker, "direction", o.Direction, "qty", o.Qty)
	return trades, nil
}

// Cancel removes a resting order and releases its remaining
// reservation. Cancelling an order that already reached a terminal
// state succeeds and returns it unchanged. Only the owner or an admin
// may cancel.
func (e *Engine) Cancel(ctx context.Context, caller types.Caller, orderID uuid.UUID) (*types.Order, error) {
	var out *types.Order
	err := e.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		o, err := e.orders.GetByID(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if o.UserID != caller.UserID && !caller.IsAdmin() {
			return types.ErrForbidden.Wrapf("order %s belongs to another user", orderID)
		}
		if o.Status.Terminal() {
			// Idempotent: the order is already off the book.
			out = o
			return nil
		}

		if o.Direction == types.DirectionBuy {
			err = e.ledger.Release(ctx, tx, o.UserID, types.QuoteTicker, o.Remaining()*o.Price)
		} else {
			err = e.ledger.Release(ctx, tx, o.UserID, o.Ticker, o.Remaining())
		}
		if err != nil {
			return err
		}
		if _, err := e.orders.MarkCancelled(ctx, tx, o.ID); err != nil {
			return err
		}
		o.Status = types.StatusCancelled
		out = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info("order cancelled", "order", orderID, "status", out.Status)
	return out, nil
}
