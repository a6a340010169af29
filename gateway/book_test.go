package gateway

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"cosmossdk.io/errors"
	"github.com/stretchr/testify/require"

	"github.com/openalpha/spot-dex/types"
)

func TestOrderBookAggregation(t *testing.T) {
	g, _ := newTestGateway(t)
	ctx := context.Background()
	seedInstrument(t, g, "AAPL")
	buyer := seedUser(t, g, map[string]int64{"RUB": 100_000})
	seller := seedUser(t, g, map[string]int64{"AAPL": 100})

	submit := func(c types.Caller, dir types.Direction, qty, price int64) {
		t.Helper()
		_, _, err := g.SubmitOrder(ctx, c, SubmitParams{
			Ticker: "AAPL", Direction: dir, Kind: types.KindLimit, Qty: qty, Price: price,
		})
		require.NoError(t, err)
	}

	// Two bids at 98 collapse into one level.
	submit(buyer, types.DirectionBuy, 5, 98)
	submit(buyer, types.DirectionBuy, 3, 98)
	submit(buyer, types.DirectionBuy, 2, 97)
	submit(seller, types.DirectionSell, 4, 101)
	submit(seller, types.DirectionSell, 6, 103)

	book, err := g.GetOrderBook(ctx, "AAPL", 0)
	require.NoError(t, err)
	require.Equal(t, "AAPL", book.Ticker)
	require.Equal(t, []types.PriceLevel{{Price: 98, Qty: 8}, {Price: 97, Qty: 2}}, book.Bids)
	require.Equal(t, []types.PriceLevel{{Price: 101, Qty: 4}, {Price: 103, Qty: 6}}, book.Asks)
}

func TestOrderBookDepthAndFilledExclusion(t *testing.T) {
	g, _ := newTestGateway(t)
	ctx := context.Background()
	seedInstrument(t, g, "AAPL")
	buyer := seedUser(t, g, map[string]int64{"RUB": 100_000})
	seller := seedUser(t, g, map[string]int64{"AAPL": 100})

	for i := int64(0); i < 5; i++ {
		_, _, err := g.SubmitOrder(ctx, seller, SubmitParams{
			Ticker: "AAPL", Direction: types.DirectionSell, Kind: types.KindLimit, Qty: 2, Price: 100 + i,
		})
		require.NoError(t, err)
	}

	book, err := g.GetOrderBook(ctx, "AAPL", 3)
	require.NoError(t, err)
	require.Len(t, book.Asks, 3)
	require.EqualValues(t, 100, book.Asks[0].Price)

	// Sweep the best level; it must vanish from the snapshot and the
	// partially filled next level shows only its remainder.
	_, _, err = g.SubmitOrder(ctx, buyer, SubmitParams{
		Ticker: "AAPL", Direction: types.DirectionBuy, Kind: types.KindMarket, Qty: 3,
	})
	require.NoError(t, err)

	book, err = g.GetOrderBook(ctx, "AAPL", 3)
	require.NoError(t, err)
	require.Equal(t, types.PriceLevel{Price: 101, Qty: 1}, book.Asks[0])
}

func TestOrderBookSnapshotNeverCrossed(t *testing.T) {
	g, _ := newTestGateway(t)
	ctx := context.Background()
	seedInstrument(t, g, "AAPL")
	buyer := seedUser(t, g, map[string]int64{"RUB": 100_000})
	seller := seedUser(t, g, map[string]int64{"AAPL": 200})

	// Each round a sell sweeps the resting bid and rests its
	// remainder below it in the same transaction. A snapshot reading
	// the two sides at different instants could report the old bid
	// above the new ask.
	var crossed atomic.Bool
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
			}
			book, err := g.GetOrderBook(ctx, "AAPL", 5)
			if err != nil {
				continue
			}
			if len(book.Bids) > 0 && len(book.Asks) > 0 &&
				book.Bids[0].Price >= book.Asks[0].Price {
				crossed.Store(true)
				return
			}
		}
	}()

	for i := 0; i < 25; i++ {
		_, _, err := g.SubmitOrder(ctx, buyer, SubmitParams{
			Ticker: "AAPL", Direction: types.DirectionBuy, Kind: types.KindLimit, Qty: 5, Price: 100,
		})
		require.NoError(t, err)
		_, _, err = g.SubmitOrder(ctx, seller, SubmitParams{
			Ticker: "AAPL", Direction: types.DirectionSell, Kind: types.KindLimit, Qty: 8, Price: 90,
		})
		require.NoError(t, err)
		_, _, err = g.SubmitOrder(ctx, buyer, SubmitParams{
			Ticker: "AAPL", Direction: types.DirectionBuy, Kind: types.KindMarket, Qty: 3,
		})
		require.NoError(t, err)
	}
	close(done)
	wg.Wait()
	require.False(t, crossed.Load(), "snapshot observed a crossed book")
}

func TestOrderBookUnknownTicker(t *testing.T) {
	g, _ := newTestGateway(t)
	ctx := context.Background()

	_, err := g.GetOrderBook(ctx, "NOPE", 10)
	require.True(t, errors.IsOf(err, types.ErrNotFound))

	_, err = g.GetOrderBook(ctx, "bad!", 10)
	require.True(t, errors.IsOf(err, types.ErrValidation))
}
