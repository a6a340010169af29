package storage

import (
	"context"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/openalpha/spot-dex/types"
)

// TradeLog is the append-only record of executed fills.
type TradeLog struct{}

// NewTradeLog creates a trade log.
func NewTradeLog() *TradeLog { return &TradeLog{} }

// Append records one trade. Trades are immutable once written.
func (tl *TradeLog) Append(ctx context.Context, q Querier, t *types.Trade) error {
	if t.Qty <= 0 || t.Price <= 0 {
		return types.ErrValidation.Wrapf("trade qty %d price %d", t.Qty, t.Price)
	}
	_, err := q.ExecContext(ctx,
		`INSERT INTO trades (id, ticker, maker_order_id, taker_order_id, buyer_id, seller_id, qty, price, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID.String(), t.Ticker, t.MakerOrderID.String(), t.TakerOrderID.String(),
		t.BuyerID.String(), t.SellerID.String(), t.Qty, t.Price, t.Timestamp)
	if err != nil {
		return types.ErrStorage.Wrapf("append trade: %v", err)
	}
	return nil
}

// List returns trades newest first. ticker filters to one instrument
// when non-empty; userID filters to trades the user took part in when
// non-nil; limit caps the result when positive.
func (tl *TradeLog) List(ctx context.Context, q Querier, ticker string, userID *uuid.UUID, limit int) ([]*types.Trade, error) {
	query := `SELECT id, ticker, maker_order_id, taker_order_id, buyer_id, seller_id, qty, price, timestamp
		FROM trades WHERE 1=1`
	var args []interface{}
	if ticker != "" {
		query += ` AND ticker = ?`
		args = append(args, ticker)
	}
	if userID != nil {
		query += ` AND (buyer_id = ? OR seller_id = ?)`
		args = append(args, userID.String(), userID.String())
	}
	query += ` ORDER BY timestamp DESC, id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	var trades []*types.Trade
	if err := sqlx.SelectContext(ctx, q, &trades, query, args...); err != nil {
		return nil, types.ErrStorage.Wrapf("list trades: %v", err)
	}
	return trades, nil
}
