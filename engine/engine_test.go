package engine

import (
	"context"
	"math"
	"sync/atomic"
	"testing"

	"cosmossdk.io/errors"
	"cosmossdk.io/log"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/openalpha/spot-dex/ledger"
	"github.com/openalpha/spot-dex/storage"
	"github.com/openalpha/spot-dex/types"
)

type harness struct {
	engine *Engine
	store  *storage.Store
	orders *storage.OrderStore
	trades *storage.TradeLog
	ledger *ledger.Ledger
	tick   atomic.Int64
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store, err := storage.Open(":memory:", log.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	h := &harness{
		store:  store,
		orders: storage.NewOrderStore(),
		trades: storage.NewTradeLog(),
		ledger: ledger.New(log.NewNopLogger()),
	}
	h.engine = New(store, h.orders, h.trades, h.ledger,
		func() int64 { return h.tick.Add(1) }, log.NewNopLogger())
	return h
}

func (h *harness) fund(t *testing.T, user uuid.UUID, ticker string, amount int64) {
	t.Helper()
	require.NoError(t, h.ledger.Credit(context.Background(), h.store.DB(), user, ticker, amount))
}

func (h *harness) limit(user uuid.UUID, dir types.Direction, qty, price int64) *types.Order {
	return &types.Order{
		ID: uuid.New(), UserID: user, Ticker: "AAPL",
		Direction: dir, Kind: types.KindLimit,
		Qty: qty, Price: price, Status: types.StatusNew,
		Timestamp: h.tick.Add(1),
	}
}

func (h *harness) market(user uuid.UUID, dir types.Direction, qty int64) *types.Order {
	return &types.Order{
		ID: uuid.New(), UserID: user, Ticker: "AAPL",
		Direction: dir, Kind: types.KindMarket,
		Qty: qty, Status: types.StatusNew,
		Timestamp: h.tick.Add(1),
	}
}

func (h *harness) balance(t *testing.T, user uuid.UUID, ticker string) *types.Balance {
	t.Helper()
	b, err := h.ledger.Get(context.Background(), h.store.DB(), user, ticker)
	require.NoError(t, err)
	return b
}

func TestLimitOrderRestsWithReservation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	buyer := uuid.New()
	h.fund(t, buyer, "RUB", 10_000)

	trades, err := h.engine.SubmitLimit(ctx, h.limit(buyer, types.DirectionBuy, 10, 100))
	require.NoError(t, err)
	require.Empty(t, trades)

	b := h.balance(t, buyer, "RUB")
	require.EqualValues(t, 10_000, b.Total)
	require.EqualValues(t, 1_000, b.Reserved)
}

func TestLimitCrossFillsAtMakerPrice(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	seller, buyer := uuid.New(), uuid.New()
	h.fund(t, seller, "AAPL", 10)
	h.fund(t, buyer, "RUB", 10_000)

	ask := h.limit(seller, types.DirectionSell, 10, 95)
	_, err := h.engine.SubmitLimit(ctx, ask)
	require.NoError(t, err)

	// Bids 100 but the maker asked 95; the trade prints 95 and only
	// 4*95 leaves the buyer.
	bid := h.limit(buyer, types.DirectionBuy, 4, 100)
	trades, err := h.engine.SubmitLimit(ctx, bid)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	require.EqualValues(t, 95, trades[0].Price)
	require.EqualValues(t, 4, trades[0].Qty)
	require.Equal(t, ask.ID, trades[0].MakerOrderID)
	require.Equal(t, bid.ID, trades[0].TakerOrderID)

	maker, err := h.orders.GetByID(ctx, h.store.DB(), ask.ID)
	require.NoError(t, err)
	require.Equal(t, types.StatusPartExecuted, maker.Status)
	require.EqualValues(t, 4, maker.Filled)

	taker, err := h.orders.GetByID(ctx, h.store.DB(), bid.ID)
	require.NoError(t, err)
	require.Equal(t, types.StatusExecuted, taker.Status)

	require.EqualValues(t, 10_000-4*95, h.balance(t, buyer, "RUB").Total)
	require.EqualValues(t, 0, h.balance(t, buyer, "RUB").Reserved)
	require.EqualValues(t, 4, h.balance(t, buyer, "AAPL").Total)
	require.EqualValues(t, 4*95, h.balance(t, seller, "RUB").Total)
	require.EqualValues(t, 6, h.balance(t, seller, "AAPL").Total)
	require.EqualValues(t, 6, h.balance(t, seller, "AAPL").Reserved)
}

func TestLimitPartialCrossRestsRemainder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	seller, buyer := uuid.New(), uuid.New()
	h.fund(t, seller, "AAPL", 3)
	h.fund(t, buyer, "RUB", 10_000)

	_, err := h.engine.SubmitLimit(ctx, h.limit(seller, types.DirectionSell, 3, 90))
	require.NoError(t, err)

	bid := h.limit(buyer, types.DirectionBuy, 10, 100)
	trades, err := h.engine.SubmitLimit(ctx, bid)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	require.EqualValues(t, 3, trades[0].Qty)

	taker, err := h.orders.GetByID(ctx, h.store.DB(), bid.ID)
	require.NoError(t, err)
	require.Equal(t, types.StatusPartExecuted, taker.Status)
	require.EqualValues(t, 7, taker.Remaining())

	// Crossed portion settled at 90, remainder reserved at the 100 limit.
	b := h.balance(t, buyer, "RUB")
	require.EqualValues(t, 10_000-3*90, b.Total)
	require.EqualValues(t, 7*100, b.Reserved)
}

func TestPriceTimePriority(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s1, s2, s3, buyer := uuid.New(), uuid.New(), uuid.New(), uuid.New()
	h.fund(t, s1, "AAPL", 5)
	h.fund(t, s2, "AAPL", 5)
	h.fund(t, s3, "AAPL", 5)
	h.fund(t, buyer, "RUB", 100_000)

	// Same price, s1 admitted first; s3 offers better price later.
	askEarly := h.limit(s1, types.DirectionSell, 5, 100)
	askLate := h.limit(s2, types.DirectionSell, 5, 100)
	askBest := h.limit(s3, types.DirectionSell, 5, 99)
	for _, o := range []*types.Order{askEarly, askLate, askBest} {
		_, err := h.engine.SubmitLimit(ctx, o)
		require.NoError(t, err)
	}

	trades, err := h.engine.SubmitLimit(ctx, h.limit(buyer, types.DirectionBuy, 12, 100))
	require.NoError(t, err)
	require.Len(t, trades, 3)
	require.Equal(t, askBest.ID, trades[0].MakerOrderID)
	require.EqualValues(t, 5, trades[0].Qty)
	require.Equal(t, askEarly.ID, trades[1].MakerOrderID)
	require.EqualValues(t, 5, trades[1].Qty)
	require.Equal(t, askLate.ID, trades[2].MakerOrderID)
	require.EqualValues(t, 2, trades[2].Qty)
}

func TestMarketOrderAllOrNothing(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	seller, buyer := uuid.New(), uuid.New()
	h.fund(t, seller, "AAPL", 5)
	h.fund(t, buyer, "RUB", 100_000)

	_, err := h.engine.SubmitLimit(ctx, h.limit(seller, types.DirectionSell, 5, 100))
	require.NoError(t, err)

	mkt := h.market(buyer, types.DirectionBuy, 8)
	_, err = h.engine.SubmitMarket(ctx, mkt)
	require.True(t, errors.IsOf(err, types.ErrInsufficientLiquidity))

	// A rejected market order leaves no order row and no balance change.
	_, err = h.orders.GetByID(ctx, h.store.DB(), mkt.ID)
	require.True(t, errors.IsOf(err, types.ErrNotFound))
	require.EqualValues(t, 100_000, h.balance(t, buyer, "RUB").Total)
	require.EqualValues(t, 0, h.balance(t, buyer, "RUB").Reserved)

	trades, err := h.engine.SubmitMarket(ctx, h.market(buyer, types.DirectionBuy, 5))
	require.NoError(t, err)
	require.Len(t, trades, 1)
	require.EqualValues(t, 100_000-500, h.balance(t, buyer, "RUB").Total)
	require.EqualValues(t, 5, h.balance(t, buyer, "AAPL").Total)
}

func TestMarketSweepNotionalOverflowRejected(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	seller, buyer := uuid.New(), uuid.New()
	h.fund(t, seller, "AAPL", 4)
	h.fund(t, buyer, "RUB", 1_000)

	// Each resting ask has a representable notional; the sweep of
	// both would wrap int64.
	half := int64(math.MaxInt64 / 2)
	_, err := h.engine.SubmitLimit(ctx, h.limit(seller, types.DirectionSell, 2, half))
	require.NoError(t, err)
	_, err = h.engine.SubmitLimit(ctx, h.limit(seller, types.DirectionSell, 2, half))
	require.NoError(t, err)

	mkt := h.market(buyer, types.DirectionBuy, 4)
	_, err = h.engine.SubmitMarket(ctx, mkt)
	require.True(t, errors.IsOf(err, types.ErrValidation), "got %v", err)

	_, err = h.orders.GetByID(ctx, h.store.DB(), mkt.ID)
	require.True(t, errors.IsOf(err, types.ErrNotFound))
	require.EqualValues(t, 1_000, h.balance(t, buyer, "RUB").Total)
	require.EqualValues(t, 0, h.balance(t, buyer, "RUB").Reserved)
	require.EqualValues(t, 4, h.balance(t, seller, "AAPL").Reserved)
}

func TestMarketSellSweepsBidsBestFirst(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	b1, b2, seller := uuid.New(), uuid.New(), uuid.New()
	h.fund(t, b1, "RUB", 10_000)
	h.fund(t, b2, "RUB", 10_000)
	h.fund(t, seller, "AAPL", 6)

	low := h.limit(b1, types.DirectionBuy, 4, 95)
	high := h.limit(b2, types.DirectionBuy, 4, 98)
	for _, o := range []*types.Order{low, high} {
		_, err := h.engine.SubmitLimit(ctx, o)
		require.NoError(t, err)
	}

	trades, err := h.engine.SubmitMarket(ctx, h.market(seller, types.DirectionSell, 6))
	require.NoError(t, err)
	require.Len(t, trades, 2)
	require.Equal(t, high.ID, trades[0].MakerOrderID)
	require.EqualValues(t, 98, trades[0].Price)
	require.Equal(t, low.ID, trades[1].MakerOrderID)
	require.EqualValues(t, 95, trades[1].Price)

	require.EqualValues(t, 4*98+2*95, h.balance(t, seller, "RUB").Total)
	require.EqualValues(t, 0, h.balance(t, seller, "AAPL").Total)
}

func TestSubmitInsufficientFundsHasNoEffect(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	buyer := uuid.New()
	h.fund(t, buyer, "RUB", 500)

	bid := h.limit(buyer, types.DirectionBuy, 10, 100)
	_, err := h.engine.SubmitLimit(ctx, bid)
	require.True(t, errors.IsOf(err, types.ErrInsufficientFunds))

	_, err = h.orders.GetByID(ctx, h.store.DB(), bid.ID)
	require.True(t, errors.IsOf(err, types.ErrNotFound))
	require.EqualValues(t, 0, h.balance(t, buyer, "RUB").Reserved)
}

func TestCancelReleasesReservation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	buyer := uuid.New()
	h.fund(t, buyer, "RUB", 10_000)

	bid := h.limit(buyer, types.DirectionBuy, 10, 100)
	_, err := h.engine.SubmitLimit(ctx, bid)
	require.NoError(t, err)
	require.EqualValues(t, 1_000, h.balance(t, buyer, "RUB").Reserved)

	caller := types.Caller{UserID: buyer, Role: types.RoleUser}
	out, err := h.engine.Cancel(ctx, caller, bid.ID)
	require.NoError(t, err)
	require.Equal(t, types.StatusCancelled, out.Status)
	require.EqualValues(t, 0, h.balance(t, buyer, "RUB").Reserved)

	// Second cancel is an idempotent success.
	out, err = h.engine.Cancel(ctx, caller, bid.ID)
	require.NoError(t, err)
	require.Equal(t, types.StatusCancelled, out.Status)
	require.EqualValues(t, 0, h.balance(t, buyer, "RUB").Reserved)
}

func TestCancelPartiallyFilledReleasesRemainder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	seller, buyer := uuid.New(), uuid.New()
	h.fund(t, seller, "AAPL", 10)
	h.fund(t, buyer, "RUB", 10_000)

	ask := h.limit(seller, types.DirectionSell, 10, 100)
	_, err := h.engine.SubmitLimit(ctx, ask)
	require.NoError(t, err)

	_, err = h.engine.SubmitLimit(ctx, h.limit(buyer, types.DirectionBuy, 4, 100))
	require.NoError(t, err)
	require.EqualValues(t, 6, h.balance(t, seller, "AAPL").Reserved)

	out, err := h.engine.Cancel(ctx, types.Caller{UserID: seller, Role: types.RoleUser}, ask.ID)
	require.NoError(t, err)
	require.Equal(t, types.StatusCancelled, out.Status)
	require.EqualValues(t, 0, h.balance(t, seller, "AAPL").Reserved)
	require.EqualValues(t, 6, h.balance(t, seller, "AAPL").Total)
}

func TestCancelAuthz(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	owner, stranger, admin := uuid.New(), uuid.New(), uuid.New()
	h.fund(t, owner, "RUB", 10_000)

	bid := h.limit(owner, types.DirectionBuy, 5, 100)
	_, err := h.engine.SubmitLimit(ctx, bid)
	require.NoError(t, err)

	_, err = h.engine.Cancel(ctx, types.Caller{UserID: stranger, Role: types.RoleUser}, bid.ID)
	require.True(t, errors.IsOf(err, types.ErrForbidden))

	out, err := h.engine.Cancel(ctx, types.Caller{UserID: admin, Role: types.RoleAdmin}, bid.ID)
	require.NoError(t, err)
	require.Equal(t, types.StatusCancelled, out.Status)

	_, err = h.engine.Cancel(ctx, types.Caller{UserID: owner, Role: types.RoleUser}, uuid.New())
	require.True(t, errors.IsOf(err, types.ErrNotFound))
}

func TestBalancesConserveAcrossFills(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a, b := uuid.New(), uuid.New()
	h.fund(t, a, "RUB", 50_000)
	h.fund(t, a, "AAPL", 20)
	h.fund(t, b, "RUB", 50_000)
	h.fund(t, b, "AAPL", 20)

	_, err := h.engine.SubmitLimit(ctx, h.limit(a, types.DirectionSell, 10, 100))
	require.NoError(t, err)
	_, err = h.engine.SubmitLimit(ctx, h.limit(b, types.DirectionBuy, 7, 105))
	require.NoError(t, err)
	_, err = h.engine.SubmitMarket(ctx, h.market(b, types.DirectionBuy, 3))
	require.NoError(t, err)

	totalRUB := h.balance(t, a, "RUB").Total + h.balance(t, b, "RUB").Total
	totalAAPL := h.balance(t, a, "AAPL").Total + h.balance(t, b, "AAPL").Total
	require.EqualValues(t, 100_000, totalRUB)
	require.EqualValues(t, 40, totalAAPL)
}

func TestSelfTradeSettles(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u := uuid.New()
	h.fund(t, u, "RUB", 10_000)
	h.fund(t, u, "AAPL", 10)

	_, err := h.engine.SubmitLimit(ctx, h.limit(u, types.DirectionSell, 5, 100))
	require.NoError(t, err)
	trades, err := h.engine.SubmitLimit(ctx, h.limit(u, types.DirectionBuy, 5, 100))
	require.NoError(t, err)
	require.Len(t, trades, 1)

	require.EqualValues(t, 10_000, h.balance(t, u, "RUB").Total)
	require.EqualValues(t, 10, h.balance(t, u, "AAPL").Total)
	require.EqualValues(t, 0, h.balance(t, u, "RUB").Reserved)
	require.EqualValues(t, 0, h.balance(t, u, "AAPL").Reserved)
}
