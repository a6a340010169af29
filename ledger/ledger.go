// Package ledger maintains the per-user, per-ticker balances of the
// exchange. Every balance row satisfies 0 <= reserved <= total; the
// available amount is total - reserved. All mutations run on the
// caller's transaction and check the invariant before writing.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"math"

	"cosmossdk.io/log"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/openalpha/spot-dex/storage"
	"github.com/openalpha/spot-dex/types"
)

// Ledger implements the balance operations.
type Ledger struct {
	logger log.Logger
}

// New creates a ledger.
func New(logger log.Logger) *Ledger {
	return &Ledger{logger: logger.With("module", "ledger")}
}

// Get returns the balance row for (user, ticker), a zero row when none
// exists yet.
func (l *Ledger) Get(ctx context.Context, q storage.Querier, userID uuid.UUID, ticker string) (*types.Balance, error) {
	var b types.Balance
	err := sqlx.GetContext(ctx, q, &b,
		`SELECT user_id, ticker, total, reserved FROM balances
		 WHERE user_id = ? AND ticker = ?`, userID.String(), ticker)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &types.Balance{UserID: userID, Ticker: ticker}, nil
		}
		return nil, types.ErrStorage.Wrapf("get balance: %v", err)
	}
	return &b, nil
}

// ListByUser returns all balance rows of one user ordered by ticker.
func (l *Ledger) ListByUser(ctx context.Context, q storage.Querier, userID uuid.UUID) ([]*types.Balance, error) {
	var rows []*types.Balance
	err := sqlx.SelectContext(ctx, q, &rows,
		`SELECT user_id, ticker, total, reserved FROM balances
		 WHERE user_id = ? ORDER BY ticker`, userID.String())
	if err != nil {
		return nil, types.ErrStorage.Wrapf("list balances: %v", err)
	}
	return rows, nil
}

// Credit adds amount to the user's total, creating the row on first
// touch.
func (l *Ledger) Credit(ctx context.Context, q storage.Querier, userID uuid.UUID, ticker string, amount int64) error {
	if amount <= 0 {
		return types.ErrValidation.Wrapf("credit amount %d", amount)
	}
	_, err := q.ExecContext(ctx,
		`INSERT INTO balances (user_id, ticker, total, reserved) VALUES (?, ?, ?, 0)
		 ON CONFLICT (user_id, ticker) DO UPDATE SET total = total + excluded.total`,
		userID.String(), ticker, amount)
	if err != nil {
		return types.ErrStorage.Wrapf("credit: %v", err)
	}
	return nil
}

// Debit removes amount from the user's total. Only the available
// portion can be debited; reserved funds stay untouched.
func (l *Ledger) Debit(ctx context.Context, q storage.Querier, userID uuid.UUID, ticker string, amount int64) error {
	if amount <= 0 {
		return types.ErrValidation.Wrapf("debit amount %d", amount)
	}
	b, err := l.Get(ctx, q, userID, ticker)
	if err != nil {
		return err
	}
	if b.Available() < amount {
		return types.ErrInsufficientFunds.Wrapf(
			"debit %d %s: available %d", amount, ticker, b.Available())
	}
	return l.setTotals(ctx, q, userID, ticker, b.Total-amount, b.Reserved)
}

// Reserve moves amount from available into reserved.
func (l *Ledger) Reserve(ctx context.Context, q storage.Querier, userID uuid.UUID, ticker string, amount int64) error {
	if amount <= 0 {
		return types.ErrValidation.Wrapf("reserve amount %d", amount)
	}
	b, err := l.Get(ctx, q, userID, ticker)
	if err != nil {
		return err
	}
	if b.Available() < amount {
		return types.ErrInsufficientFunds.Wrapf(
			"reserve %d %s: available %d", amount, ticker, b.Available())
	}
	return l.setTotals(ctx, q, userID, ticker, b.Total, b.Reserved+amount)
}

// Release returns amount from reserved to available. Releasing more
// than is reserved is a ledger fault, not a user error.
func (l *Ledger) Release(ctx context.Context, q storage.Querier, userID uuid.UUID, ticker string, amount int64) error {
	if amount <= 0 {
		return types.ErrValidation.Wrapf("release amount %d", amount)
	}
	b, err := l.Get(ctx, q, userID, ticker)
	if err != nil {
		return err
	}
	if b.Reserved < amount {
		l.logger.Error("release exceeds reservation",
			"user", userID, "ticker", ticker, "amount", amount, "reserved", b.Reserved)
		return types.ErrLedgerInvariant.Wrapf(
			"release %d %s: reserved %d", amount, ticker, b.Reserved)
	}
	return l.setTotals(ctx, q, userID, ticker, b.Total, b.Reserved-amount)
}

// Settle executes the four balance legs of one fill atomically within
// the caller's transaction: the seller's reserved base units transfer
// to the buyer, and the buyer's reserved quote funds transfer to the
// seller. Both outgoing legs must be covered by prior reservations.
func (l *Ledger) Settle(ctx context.Context, q storage.Querier, buyerID, sellerID uuid.UUID, ticker string, qty, price int64) error {
	if qty <= 0 || price <= 0 {
		return types.ErrValidation.Wrapf("settle qty %d price %d", qty, price)
	}
	if qty > math.MaxInt64/price {
		return types.ErrValidation.Wrapf("settle notional %d x %d overflows", qty, price)
	}
	cost := qty * price

	seller, err := l.Get(ctx, q, sellerID, ticker)
	if err != nil {
		return err
	}
	if seller.Reserved < qty || seller.Total < qty {
		l.logger.Error("settle: seller base reservation short",
			"seller", sellerID, "ticker", ticker, "qty", qty, "reserved", seller.Reserved)
		return types.ErrLedgerInvariant.Wrapf(
			"seller %s holds %d/%d reserved %s, needs %d",
			sellerID, seller.Reserved, seller.Total, ticker, qty)
	}
	buyer, err := l.Get(ctx, q, buyerID, types.QuoteTicker)
	if err != nil {
		return err
	}
	if buyer.Reserved < cost || buyer.Total < cost {
		l.logger.Error("settle: buyer quote reservation short",
			"buyer", buyerID, "cost", cost, "reserved", buyer.Reserved)
		return types.ErrLedgerInvariant.Wrapf(
			"buyer %s holds %d/%d reserved %s, needs %d",
			buyerID, buyer.Reserved, buyer.Total, types.QuoteTicker, cost)
	}

	if err := l.setTotals(ctx, q, sellerID, ticker, seller.Total-qty, seller.Reserved-qty); err != nil {
		return err
	}
	if err := l.Credit(ctx, q, buyerID, ticker, qty); err != nil {
		return err
	}
	if err := l.setTotals(ctx, q, buyerID, types.QuoteTicker, buyer.Total-cost, buyer.Reserved-cost); err != nil {
		return err
	}
	return l.Credit(ctx, q, sellerID, types.QuoteTicker, cost)
}

func (l *Ledger) setTotals(ctx context.Context, q storage.Querier, userID uuid.UUID, ticker string, total, reserved int64) error {
	if reserved < 0 || reserved > total {
		return types.ErrLedgerInvariant.Wrapf(
			"balance %s/%s would hold total %d reserved %d", userID, ticker, total, reserved)
	}
	_, err := q.ExecContext(ctx,
		`INSERT INTO balances (user_id, ticker, total, reserved) VALUES (?, ?, ?, ?)
		 ON CONFLICT (user_id, ticker) DO UPDATE SET total = excluded.total, reserved = excluded.reserved`,
		userID.String(), ticker, total, reserved)
	if err != nil {
		return types.ErrStorage.Wrapf("write balance: %v", err)
	}
	return nil
}
