package gateway

import (
	"context"

	"github.com/google/btree"
	"github.com/jmoiron/sqlx"

	"github.com/openalpha/spot-dex/types"
)

const (
	defaultBookDepth = 20
	maxBookDepth     = 100
)

func levelLess(a, b types.PriceLevel) bool { return a.Price < b.Price }

// aggregate folds resting orders into price levels keyed by price.
func aggregate(orders []*types.Order) *btree.BTreeG[types.PriceLevel] {
	tree := btree.NewG(8, levelLess)
	for _, o := range orders {
		level := types.PriceLevel{Price: o.Price}
		if existing, ok := tree.Get(level); ok {
			level.Qty = existing.Qty
		}
		level.Qty += o.Remaining()
		tree.ReplaceOrInsert(level)
	}
	return tree
}

// GetOrderBook builds an aggregated L2 snapshot: bids best (highest)
// first, asks best (lowest) first, both truncated to depth levels.
func (g *Gateway) GetOrderBook(ctx context.Context, ticker string, depth int) (*types.OrderBook, error) {
	if !types.ValidTicker(ticker) {
		return nil, types.ErrValidation.Wrapf("ticker %q", ticker)
	}
	if _, err := g.users.GetInstrument(ctx, g.store.DB(), ticker); err != nil {
		return nil, err
	}
	if depth <= 0 {
		depth = defaultBookDepth
	}
	if depth > maxBookDepth {
		depth = maxBookDepth
	}

	// Both sides are read in one transaction so a concurrent match
	// cannot tear the snapshot into a crossed book.
	var bids, asks []*types.Order
	err := g.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		if bids, err = g.orders.FetchOffers(ctx, tx, ticker, types.DirectionBuy, nil); err != nil {
			return err
		}
		asks, err = g.orders.FetchOffers(ctx, tx, ticker, types.DirectionSell, nil)
		return err
	})
	if err != nil {
		return nil, err
	}

	book := &types.OrderBook{
		Ticker: ticker,
		Bids:   make([]types.PriceLevel, 0, depth),
		Asks:   make([]types.PriceLevel, 0, depth),
	}
	aggregate(bids).Descend(func(l types.PriceLevel) bool {
		book.Bids = append(book.Bids, l)
		return len(book.Bids) < depth
	})
	aggregate(asks).Ascend(func(l types.PriceLevel) bool {
		book.Asks = append(book.Asks, l)
		return len(book.Asks) < depth
	})
	return book, nil
}
