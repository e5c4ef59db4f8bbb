package ports

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/DandaAkhilReddy/agentchains-sub001/contexts/finance-core/billing-ledger/domain/entities"
	"github.com/DandaAkhilReddy/agentchains-sub001/internal/shared/events"
)

// AccountStore is CRUD over balance rows. It never validates whether a
// mutation should happen; that belongs to the transfer engine.
type AccountStore interface {
	// EnsureAccount creates the account for the owner if absent and
	// returns the existing row otherwise. The bool reports whether a new
	// row was created.
	EnsureAccount(ctx context.Context, owner entities.Owner, accountID string, now time.Time) (entities.Account, bool, error)
	GetAccountByOwner(ctx context.Context, owner entities.Owner) (entities.Account, error)
}

// AccountDelta is one atomic adjustment to a locked account row. Balance
// may be negative (a debit); counters only ever grow.
type AccountDelta struct {
	Balance   decimal.Decimal
	Earned    decimal.Decimal
	Spent     decimal.Decimal
	Deposited decimal.Decimal
	FeesPaid  decimal.Decimal
}

// LedgerTx is the transactional view handed to the mutation core while
// row locks are held. AppendEntry reads the chain tail inside the same
// critical section as its insert, so the prev hash always reflects a
// consistent predecessor.
type LedgerTx interface {
	GetAccountForUpdate(ctx context.Context, accountID string) (entities.Account, error)
	ApplyDelta(ctx context.Context, accountID string, delta AccountDelta, now time.Time) error
	AppendEntry(ctx context.Context, entry entities.LedgerEntry) (entities.LedgerEntry, error)
}

// UnitOfWork runs fn inside one atomic transaction with row locks held on
// the given accounts, acquired in exactly the order given. Callers pass
// lexicographically sorted IDs so overlapping operations always contend
// in the same relative order and circular waits cannot form.
type UnitOfWork interface {
	WithAccountLocks(ctx context.Context, accountIDs []string, fn func(tx LedgerTx) error) error
}

// LedgerReader serves read paths outside any transaction. LedgerEntry
// rows are write-once, so these reads never need locks.
type LedgerReader interface {
	FindEntryByIdempotencyKey(ctx context.Context, key string) (entities.LedgerEntry, bool, error)
	// ListEntriesByAccount returns entries touching the account,
	// newest-first. A limit of 0 means no limit.
	ListEntriesByAccount(ctx context.Context, accountID string, limit int, offset int) ([]entities.LedgerEntry, error)
	// ListEntries returns entries in global chain order, oldest-first.
	// A limit of 0 means the whole chain.
	ListEntries(ctx context.Context, limit int) ([]entities.LedgerEntry, error)
	// FindRoyaltyForEntry returns the creator_royalty entry recorded for
	// the given parent entry, if one exists.
	FindRoyaltyForEntry(ctx context.Context, parentEntryID string) (entities.LedgerEntry, bool, error)
}

// CreatorLinkLookup is the owner-graph capability supplied by the
// creator-linking collaborator. The ledger only queries it.
type CreatorLinkLookup interface {
	LinkedCreator(ctx context.Context, agentID string) (entities.Owner, bool, error)
}

type EventEnvelope = events.Envelope

type OutboxMessage struct {
	OutboxID     string
	EventType    string
	PartitionKey string
	Payload      []byte
	CreatedAt    time.Time
}

type OutboxWriter interface {
	AppendOutbox(ctx context.Context, envelope EventEnvelope) error
}

type OutboxRepository interface {
	ListPendingOutbox(ctx context.Context, limit int) ([]OutboxMessage, error)
	MarkOutboxSent(ctx context.Context, outboxID string, sentAt time.Time) error
}

type EventPublisher interface {
	Publish(ctx context.Context, topic string, envelope EventEnvelope) error
}

type Clock interface {
	Now() time.Time
}

type IDGenerator interface {
	NewID(ctx context.Context) (string, error)
}

// TransferInput carries one value movement between two owners.
type TransferInput struct {
	From           entities.Owner
	To             entities.Owner
	Amount         decimal.Decimal
	TxType         entities.TxType
	ReferenceID    string
	ReferenceType  string
	IdempotencyKey string
	Memo           string
}

type DepositInput struct {
	Owner          entities.Owner
	Amount         decimal.Decimal
	ExternalRef    string
	IdempotencyKey string
	Memo           string
}

type WithdrawalInput struct {
	Owner          entities.Owner
	Amount         decimal.Decimal
	ExternalRef    string
	IdempotencyKey string
	Memo           string
}

type PurchaseInput struct {
	Buyer          entities.Owner
	Seller         entities.Owner
	Amount         decimal.Decimal
	TransactionRef string
	IdempotencyKey string
	Memo           string
}

// PurchaseResult is the purchase entry plus the fee and royalty side
// effects recorded with it.
type PurchaseResult struct {
	Entry        entities.LedgerEntry
	FeeAmount    decimal.Decimal
	RoyaltyEntry *entities.LedgerEntry
}

type BalanceSummary struct {
	AccountID      string
	Owner          entities.Owner
	Balance        decimal.Decimal
	TotalEarned    decimal.Decimal
	TotalSpent     decimal.Decimal
	TotalDeposited decimal.Decimal
	TotalFeesPaid  decimal.Decimal
	UpdatedAt      time.Time
}

// ChainVerification reports the first tampering point found by a chain
// walk, if any. A broken chain is a terminal finding for an operator; it
// is never auto-repaired.
type ChainVerification struct {
	Valid          bool
	EntriesChecked int
	BrokenAt       string
}

// Reconciliation compares an account's stored balance with the balance
// replayed from its ledger entries.
type Reconciliation struct {
	AccountID       string
	StoredBalance   decimal.Decimal
	ReplayedBalance decimal.Decimal
	EntriesReplayed int
	Consistent      bool
}
