package storage

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"

	"github.com/openalpha/spot-dex/types"
)

// OrderStore persists orders and serves the book-building scans. All
// methods run on the Querier the caller supplies, so mutations inside a
// matching transaction stay invisible until commit.
type OrderStore struct{}

// NewOrderStore creates an order store.
func NewOrderStore() *OrderStore { return &OrderStore{} }

const orderColumns = `id, user_id, ticker, direction, kind, qty,
	COALESCE(price, 0) AS price, filled, status, timestamp`

// Insert persists a new order row. The status must agree with the fill
// level. Reusing an id fails with ErrDuplicateOrder.
func (os *OrderStore) Insert(ctx context.Context, q Querier, o *types.Order) error {
	if o.Filled > o.Qty {
		return types.ErrValidation.Wrapf("filled %d exceeds qty %d", o.Filled, o.Qty)
	}
	if o.Status != types.StatusCancelled && o.Status != types.StatusForFilled(o.Filled, o.Qty) {
		return types.ErrValidation.Wrapf("status %s inconsistent with filled %d/%d", o.Status, o.Filled, o.Qty)
	}

	var price interface{}
	if o.Kind == types.KindLimit {
		price = o.Price
	}
	_, err := q.ExecContext(ctx,
		`INSERT INTO orders (id, user_id, ticker, direction, kind, qty, price, filled, status, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID.String(), o.UserID.String(), o.Ticker, o.Direction, o.Kind,
		o.Qty, price, o.Filled, o.Status, o.Timestamp)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey {
			return types.ErrDuplicateOrder.Wrap(o.ID.String())
		}
		return types.ErrStorage.Wrapf("insert order: %v", err)
	}
	return nil
}

// GetByID loads one order.
func (os *OrderStore) GetByID(ctx context.Context, q Querier, id uuid.UUID) (*types.Order, error) {
	var o types.Order
	err := sqlx.GetContext(ctx, q, &o,
		`SELECT `+orderColumns+` FROM orders WHERE id = ?`, id.String())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, types.ErrNotFound.Wrapf("order %s", id)
		}
		return nil, types.ErrStorage.Wrapf("get order: %v", err)
	}
	return &o, nil
}

// UpdateStatus moves an order through the state machine. Illegal
// transitions fail with ErrConflict.
func (os *OrderStore) UpdateStatus(ctx context.Context, q Querier, id uuid.UUID, next types.OrderStatus) error {
	o, err := os.GetByID(ctx, q, id)
	if err != nil {
		return err
	}
	if !o.Status.CanTransition(next) {
		return types.ErrConflict.Wrapf("order %s: %s -> %s", id, o.Status, next)
	}
	if _, err := q.ExecContext(ctx,
		`UPDATE orders SET status = ? WHERE id = ?`, next, id.String()); err != nil {
		return types.ErrStorage.Wrapf("update status: %v", err)
	}
	return nil
}

// ApplyFill adds delta to the filled quantity and recomputes the
// status from the new fill level.
func (os *OrderStore) ApplyFill(ctx context.Context, q Querier, id uuid.UUID, delta int64) error {
	if delta <= 0 {
		return types.ErrValidation.Wrapf("fill delta %d", delta)
	}
	o, err := os.GetByID(ctx, q, id)
	if err != nil {
		return err
	}
	if !o.Resting() {
		return types.ErrConflict.Wrapf("order %s is %s, cannot fill", id, o.Status)
	}
	if delta > o.Remaining() {
		return types.ErrConflict.Wrapf("fill %d exceeds remaining %d on order %s", delta, o.Remaining(), id)
	}
	filled := o.Filled + delta
	status := types.StatusForFilled(filled, o.Qty)
	if _, err := q.ExecContext(ctx,
		`UPDATE orders SET filled = ?, status = ? WHERE id = ?`,
		filled, status, id.String()); err != nil {
		return types.ErrStorage.Wrapf("apply fill: %v", err)
	}
	return nil
}

// MarkCancelled cancels a resting order. Cancelling an already
// cancelled order reports alreadyCancelled instead of failing; a fully
// executed order cannot be cancelled.
func (os *OrderStore) MarkCancelled(ctx context.Context, q Querier, id uuid.UUID) (alreadyCancelled bool, err error) {
	o, err := os.GetByID(ctx, q, id)
	if err != nil {
		return false, err
	}
	switch o.Status {
	case types.StatusCancelled:
		return true, nil
	case types.StatusExecuted:
		return false, types.ErrConflict.Wrapf("order %s already executed", id)
	}
	if _, err := q.ExecContext(ctx,
		`UPDATE orders SET status = ? WHERE id = ?`,
		types.StatusCancelled, id.String()); err != nil {
		return false, types.ErrStorage.Wrapf("mark cancelled: %v", err)
	}
	return false, nil
}

// FetchOffers returns the resting orders of the given side, ordered by
// price improvement for a taker consuming that side (ascending for SELL
// offers, descending for BUY offers), then admission time, then id.
// priceCap, when non-nil, bounds the scan to offers crossing the
// taker's limit: SELL offers priced <= cap, BUY offers priced >= cap.
func (os *OrderStore) FetchOffers(ctx context.Context, q Querier, ticker string, side types.Direction, priceCap *int64) ([]*types.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders
		WHERE ticker = ? AND direction = ? AND status IN (?, ?)`
	args := []interface{}{ticker, side, types.StatusNew, types.StatusPartExecuted}

	if priceCap != nil {
		if side == types.DirectionSell {
			query += ` AND price <= ?`
		} else {
			query += ` AND price >= ?`
		}
		args = append(args, *priceCap)
	}
	if side == types.DirectionSell {
		query += ` ORDER BY price ASC, timestamp ASC, id ASC`
	} else {
		query += ` ORDER BY price DESC, timestamp ASC, id ASC`
	}

	var offers []*types.Order
	if err := sqlx.SelectContext(ctx, q, &offers, query, args...); err != nil {
		return nil, types.ErrStorage.Wrapf("fetch offers: %v", err)
	}
	return offers, nil
}

// ListByUser returns a user's orders, newest first, optionally filtered
// by ticker.
func (os *OrderStore) ListByUser(ctx context.Context, q Querier, userID uuid.UUID, ticker string) ([]*types.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE user_id = ?`
	args := []interface{}{userID.String()}
	if ticker != "" {
		query += ` AND ticker = ?`
		args = append(args, ticker)
	}
	query += ` ORDER BY timestamp DESC, id DESC`

	var orders []*types.Order
	if err := sqlx.SelectContext(ctx, q, &orders, query, args...); err != nil {
		return nil, types.ErrStorage.Wrapf("list orders: %v", err)
	}
	return orders, nil
}

// CountOpenByUser returns how many of the user's orders still rest on
// any book.
func (os *OrderStore) CountOpenByUser(ctx context.Context, q Querier, userID uuid.UUID) (int, error) {
	var n int
	err := sqlx.GetContext(ctx, q, &n,
		`SELECT COUNT(*) FROM orders WHERE user_id = ? AND status IN (?, ?)`,
		userID.String(), types.StatusNew, types.StatusPartExecuted)
	if err != nil {
		return 0, types.ErrStorage.Wrapf("count open orders: %v", err)
	}
	return n, nil
}
