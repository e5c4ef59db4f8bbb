package errors

import "errors"

var (
	ErrInvalidAmount         = errors.New("ledger amount must be positive")
	ErrInvalidOwner          = errors.New("ledger owner is invalid")
	ErrInvalidTxType         = errors.New("ledger transaction type is invalid")
	ErrInvalidIdempotencyKey = errors.New("idempotency key is malformed")
	ErrSelfTransfer          = errors.New("sender and receiver must differ")
	ErrAccountNotFound       = errors.New("ledger account not found")
	ErrEntryNotFound         = errors.New("ledger entry not found")
	ErrInsufficientFunds     = errors.New("account balance is insufficient")
	ErrLockTimeout           = errors.New("timed out waiting for account locks")
	ErrIdempotencyConflict   = errors.New("idempotency key already used with different arguments")

	// ErrDuplicateIdempotencyKey is the storage-level uniqueness violation
	// on idempotency_key. The engine maps it back to a replay of the entry
	// that won the race.
	ErrDuplicateIdempotencyKey = errors.New("idempotency key already recorded")
)
