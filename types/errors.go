package types

import (
	"cosmossdk.io/errors"
)

// Exchange error registry. Every engine and gateway operation fails
// with exactly one of these kinds, possibly wrapped with context.
var (
	ErrValidation            = errors.Register("exchange", 2, "validation failed")
	ErrNotFound              = errors.Register("exchange", 3, "not found")
	ErrForbidden             = errors.Register("exchange", 4, "forbidden")
	ErrInsufficientFunds     = errors.Register("exchange", 5, "insufficient funds")
	ErrInsufficientLiquidity = errors.Register("exchange", 6, "insufficient liquidity")
	ErrDuplicateOrder        = errors.Register("exchange", 7, "duplicate order id")
	ErrLedgerInvariant       = errors.Register("exchange", 8, "ledger invariant violation")
	ErrStorage               = errors.Register("exchange", 9, "storage failure")
	ErrConflict              = errors.Register("exchange", 10, "conflicting state")
)
