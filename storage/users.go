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

// UserStore persists users and instruments.
type UserStore struct{}

// NewUserStore creates a user store.
func NewUserStore() *UserStore { return &UserStore{} }

// CreateUser inserts a new user row.
func (us *UserStore) CreateUser(ctx context.Context, q Querier, u *types.User) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO users (id, name, role, api_key_hash, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		u.ID.String(), u.Name, u.Role, u.APIKeyHash, u.CreatedAt)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey {
			return types.ErrConflict.Wrapf("user %s exists", u.ID)
		}
		return types.ErrStorage.Wrapf("create user: %v", err)
	}
	return nil
}

// GetUser loads one user.
func (us *UserStore) GetUser(ctx context.Context, q Querier, id uuid.UUID) (*types.User, error) {
	var u types.User
	err := sqlx.GetContext(ctx, q, &u,
		`SELECT id, name, role, api_key_hash, created_at FROM users WHERE id = ?`,
		id.String())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, types.ErrNotFound.Wrapf("user %s", id)
		}
		return nil, types.ErrStorage.Wrapf("get user: %v", err)
	}
	return &u, nil
}

// DeleteUser removes a user and their balance rows. Callers must have
// verified the user holds no funds and no open orders first.
func (us *UserStore) DeleteUser(ctx context.Context, q Querier, id uuid.UUID) error {
	if _, err := q.ExecContext(ctx,
		`DELETE FROM balances WHERE user_id = ?`, id.String()); err != nil {
		return types.ErrStorage.Wrapf("delete balances: %v", err)
	}
	res, err := q.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id.String())
	if err != nil {
		return types.ErrStorage.Wrapf("delete user: %v", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return types.ErrNotFound.Wrapf("user %s", id)
	}
	return nil
}

// CreateInstrument registers a new tradable symbol.
func (us *UserStore) CreateInstrument(ctx context.Context, q Querier, ins *types.Instrument) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO instruments (ticker, name) VALUES (?, ?)`,
		ins.Ticker, ins.Name)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey {
			return types.ErrConflict.Wrapf("instrument %s exists", ins.Ticker)
		}
		return types.ErrStorage.Wrapf("create instrument: %v", err)
	}
	return nil
}

// GetInstrument loads one instrument.
func (us *UserStore) GetInstrument(ctx context.Context, q Querier, ticker string) (*types.Instrument, error) {
	var ins types.Instrument
	err := sqlx.GetContext(ctx, q, &ins,
		`SELECT ticker, name FROM instruments WHERE ticker = ?`, ticker)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, types.ErrNotFound.Wrapf("instrument %s", ticker)
		}
		return nil, types.ErrStorage.Wrapf("get instrument: %v", err)
	}
	return &ins, nil
}

// ListInstruments returns all instruments ordered by ticker.
func (us *UserStore) ListInstruments(ctx context.Context, q Querier) ([]*types.Instrument, error) {
	var list []*types.Instrument
	err := sqlx.SelectContext(ctx, q, &list,
		`SELECT ticker, name FROM instruments ORDER BY ticker`)
	if err != nil {
		return nil, types.ErrStorage.Wrapf("list instruments: %v", err)
	}
	return list, nil
}
