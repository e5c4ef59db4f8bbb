package application

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/DandaAkhilReddy/agentchains-sub001/contexts/finance-core/billing-ledger/domain/entities"
	domainerrors "github.com/DandaAkhilReddy/agentchains-sub001/contexts/finance-core/billing-ledger/domain/errors"
	"github.com/DandaAkhilReddy/agentchains-sub001/contexts/finance-core/billing-ledger/ports"
)

const (
	moduleName     = "finance-core/billing-ledger"
	sourceService  = "billing-ledger"
	maxKeyLength   = 128
	defaultPage    = 50
	maxPageSize    = 200
	referenceEntry = "ledger_entry"
)

// Service is the transfer engine. Every balance mutation in the system
// flows through its single mutation core: validate, idempotency
// pre-check, resolve accounts, lock rows in sorted order, re-check funds
// under lock, apply deltas, append the chained entry, commit, then emit a
// best-effort event.
type Service struct {
	Accounts     ports.AccountStore
	Ledger       ports.LedgerReader
	UnitOfWork   ports.UnitOfWork
	CreatorLinks ports.CreatorLinkLookup
	Outbox       ports.OutboxWriter
	Clock        ports.Clock
	IDGen        ports.IDGenerator
	FeePct       decimal.Decimal
	RoyaltyPct   decimal.Decimal
	LockWait     time.Duration
	Logger       *slog.Logger
}

// EnsureAccount is the idempotent create-or-get for an owner's account.
func (s Service) EnsureAccount(ctx context.Context, owner entities.Owner) (entities.Account, error) {
	if !owner.Valid() {
		return entities.Account{}, domainerrors.ErrInvalidOwner
	}
	accountID, err := s.IDGen.NewID(ctx)
	if err != nil {
		return entities.Account{}, err
	}
	account, created, err := s.Accounts.EnsureAccount(ctx, owner, accountID, s.now())
	if err != nil {
		return entities.Account{}, err
	}
	if created {
		ResolveLogger(s.Logger).Info("ledger account created",
			"event", "ledger_account_created",
			"module", moduleName,
			"layer", "application",
			"account_id", account.AccountID,
			"owner", owner.Key(),
		)
	}
	return account, nil
}

func (s Service) GetBalance(ctx context.Context, owner entities.Owner) (ports.BalanceSummary, error) {
	if !owner.Valid() {
		return ports.BalanceSummary{}, domainerrors.ErrInvalidOwner
	}
	account, err := s.Accounts.GetAccountByOwner(ctx, owner)
	if err != nil {
		return ports.BalanceSummary{}, err
	}
	return ports.BalanceSummary{
		AccountID:      account.AccountID,
		Owner:          account.Owner,
		Balance:        account.Balance,
		TotalEarned:    account.TotalEarned,
		TotalSpent:     account.TotalSpent,
		TotalDeposited: account.TotalDeposited,
		TotalFeesPaid:  account.TotalFeesPaid,
		UpdatedAt:      account.UpdatedAt,
	}, nil
}

// Transfer moves value between two owners, charging the platform fee.
// The bool reports an idempotent replay of an earlier commit.
func (s Service) Transfer(ctx context.Context, input ports.TransferInput) (entities.LedgerEntry, bool, error) {
	switch input.TxType {
	case entities.TxTypeTransfer, entities.TxTypePurchase, entities.TxTypeSale:
	default:
		return entities.LedgerEntry{}, false, domainerrors.ErrInvalidTxType
	}
	outcome, replayed, err := s.transfer(ctx, input)
	if err != nil {
		return entities.LedgerEntry{}, false, err
	}
	return outcome.entry, replayed, nil
}

// DebitForPurchase is a purchase-typed transfer plus its royalty side
// effect, reported together.
func (s Service) DebitForPurchase(ctx context.Context, input ports.PurchaseInput) (ports.PurchaseResult, bool, error) {
	outcome, replayed, err := s.transfer(ctx, ports.TransferInput{
		From:           input.Buyer,
		To:             input.Seller,
		Amount:         input.Amount,
		TxType:         entities.TxTypePurchase,
		ReferenceID:    strings.TrimSpace(input.TransactionRef),
		ReferenceType:  "transaction",
		IdempotencyKey: input.IdempotencyKey,
		Memo:           input.Memo,
	})
	if err != nil {
		return ports.PurchaseResult{}, false, err
	}
	result := ports.PurchaseResult{
		Entry:        outcome.entry,
		FeeAmount:    outcome.entry.FeeAmount,
		RoyaltyEntry: outcome.royaltyEntry,
	}
	if replayed && result.RoyaltyEntry == nil {
		if royalty, found, err := s.Ledger.FindRoyaltyForEntry(ctx, outcome.entry.EntryID); err == nil && found {
			result.RoyaltyEntry = &royalty
		}
	}
	return result, replayed, nil
}

// Deposit mints value into an account from an external payment capture.
// The amount is credited exactly as given, with no fee.
func (s Service) Deposit(ctx context.Context, input ports.DepositInput) (entities.LedgerEntry, bool, error) {
	if !input.Amount.IsPositive() {
		return entities.LedgerEntry{}, false, domainerrors.ErrInvalidAmount
	}
	if !input.Owner.Valid() {
		return entities.LedgerEntry{}, false, domainerrors.ErrInvalidOwner
	}
	key, err := normalizeKey(input.IdempotencyKey)
	if err != nil {
		return entities.LedgerEntry{}, false, err
	}
	amount := entities.RoundMoney(input.Amount)

	if replay, found, err := s.replayByKey(ctx, key, func(existing entities.LedgerEntry) error {
		if existing.TxType != entities.TxTypeDeposit || !existing.Amount.Equal(amount) {
			return domainerrors.ErrIdempotencyConflict
		}
		return nil
	}); err != nil || found {
		return replay, found, err
	}

	account, err := s.Accounts.GetAccountByOwner(ctx, input.Owner)
	if err != nil {
		return entities.LedgerEntry{}, false, err
	}
	entryID, err := s.IDGen.NewID(ctx)
	if err != nil {
		return entities.LedgerEntry{}, false, err
	}

	var committed entities.LedgerEntry
	err = s.withLocks(ctx, []string{account.AccountID}, func(tx ports.LedgerTx) error {
		now := s.now()
		if err := tx.ApplyDelta(ctx, account.AccountID, ports.AccountDelta{
			Balance:   amount,
			Deposited: amount,
		}, now); err != nil {
			return err
		}
		chained, err := tx.AppendEntry(ctx, entities.LedgerEntry{
			EntryID:        entryID,
			ToAccountID:    account.AccountID,
			Amount:         amount,
			FeeAmount:      decimal.Zero,
			TxType:         entities.TxTypeDeposit,
			ReferenceID:    strings.TrimSpace(input.ExternalRef),
			ReferenceType:  "external_payment",
			IdempotencyKey: key,
			Memo:           input.Memo,
			CreatedAt:      now,
		})
		if err != nil {
			return err
		}
		committed = chained
		return nil
	})
	if errors.Is(err, domainerrors.ErrDuplicateIdempotencyKey) {
		return s.replayWinner(ctx, key, err)
	}
	if err != nil {
		return entities.LedgerEntry{}, false, err
	}

	s.emit(ctx, "ledger.deposit.completed", committed)
	s.logCommit("ledger deposit committed", "ledger_deposit_committed", committed)
	return committed, false, nil
}

// Withdraw burns value out of an account toward an external payout.
func (s Service) Withdraw(ctx context.Context, input ports.WithdrawalInput) (entities.LedgerEntry, bool, error) {
	if !input.Amount.IsPositive() {
		return entities.LedgerEntry{}, false, domainerrors.ErrInvalidAmount
	}
	if !input.Owner.Valid() {
		return entities.LedgerEntry{}, false, domainerrors.ErrInvalidOwner
	}
	key, err := normalizeKey(input.IdempotencyKey)
	if err != nil {
		return entities.LedgerEntry{}, false, err
	}
	amount := entities.RoundMoney(input.Amount)

	if replay, found, err := s.replayByKey(ctx, key, func(existing entities.LedgerEntry) error {
		if existing.TxType != entities.TxTypeWithdrawal || !existing.Amount.Equal(amount) {
			return domainerrors.ErrIdempotencyConflict
		}
		return nil
	}); err != nil || found {
		return replay, found, err
	}

	account, err := s.Accounts.GetAccountByOwner(ctx, input.Owner)
	if err != nil {
		return entities.LedgerEntry{}, false, err
	}
	entryID, err := s.IDGen.NewID(ctx)
	if err != nil {
		return entities.LedgerEntry{}, false, err
	}

	var committed entities.LedgerEntry
	err = s.withLocks(ctx, []string{account.AccountID}, func(tx ports.LedgerTx) error {
		locked, err := tx.GetAccountForUpdate(ctx, account.AccountID)
		if err != nil {
			return err
		}
		if locked.Balance.LessThan(amount) {
			return domainerrors.ErrInsufficientFunds
		}
		now := s.now()
		if err := tx.ApplyDelta(ctx, account.AccountID, ports.AccountDelta{
			Balance: amount.Neg(),
		}, now); err != nil {
			return err
		}
		chained, err := tx.AppendEntry(ctx, entities.LedgerEntry{
			EntryID:        entryID,
			FromAccountID:  account.AccountID,
			Amount:         amount,
			FeeAmount:      decimal.Zero,
			TxType:         entities.TxTypeWithdrawal,
			ReferenceID:    strings.TrimSpace(input.ExternalRef),
			ReferenceType:  "external_payout",
			IdempotencyKey: key,
			Memo:           input.Memo,
			CreatedAt:      now,
		})
		if err != nil {
			return err
		}
		committed = chained
		return nil
	})
	if errors.Is(err, domainerrors.ErrDuplicateIdempotencyKey) {
		return s.replayWinner(ctx, key, err)
	}
	if err != nil {
		return entities.LedgerEntry{}, false, err
	}

	s.emit(ctx, "ledger.withdrawal.completed", committed)
	s.logCommit("ledger withdrawal committed", "ledger_withdrawal_committed", committed)
	return committed, false, nil
}

// GetHistory returns the owner's entries newest-first, paged.
func (s Service) GetHistory(ctx context.Context, owner entities.Owner, page int, pageSize int) ([]entities.LedgerEntry, error) {
	if !owner.Valid() {
		return nil, domainerrors.ErrInvalidOwner
	}
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = defaultPage
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	account, err := s.Accounts.GetAccountByOwner(ctx, owner)
	if err != nil {
		return nil, err
	}
	return s.Ledger.ListEntriesByAccount(ctx, account.AccountID, pageSize, (page-1)*pageSize)
}

// VerifyChain walks the ledger oldest-to-newest, recomputing every hash
// from stored fields. A limit of 0 checks the whole chain. Breaks are
// reported, never repaired.
func (s Service) VerifyChain(ctx context.Context, limit int) (ports.ChainVerification, error) {
	entries, err := s.Ledger.ListEntries(ctx, limit)
	if err != nil {
		return ports.ChainVerification{}, err
	}
	prev := entities.GenesisHash
	for i, entry := range entries {
		if !entities.VerifyEntry(prev, entry) {
			ResolveLogger(s.Logger).Error("ledger chain integrity violation",
				"event", "ledger_chain_broken",
				"module", moduleName,
				"layer", "application",
				"entry_id", entry.EntryID,
				"position", i,
			)
			return ports.ChainVerification{
				Valid:          false,
				EntriesChecked: i + 1,
				BrokenAt:       entry.EntryID,
			}, nil
		}
		prev = entry.EntryHash
	}
	return ports.ChainVerification{Valid: true, EntriesChecked: len(entries)}, nil
}

// ReconcileAccount replays the account's entries and compares the result
// with the stored balance. The platform treasury additionally accrues the
// fee of every entry, since fee credits ride on the parent entry rather
// than their own row.
func (s Service) ReconcileAccount(ctx context.Context, owner entities.Owner) (ports.Reconciliation, error) {
	if !owner.Valid() {
		return ports.Reconciliation{}, domainerrors.ErrInvalidOwner
	}
	account, err := s.Accounts.GetAccountByOwner(ctx, owner)
	if err != nil {
		return ports.Reconciliation{}, err
	}

	var entries []entities.LedgerEntry
	if owner.Type == entities.OwnerTypePlatform {
		entries, err = s.Ledger.ListEntries(ctx, 0)
	} else {
		entries, err = s.Ledger.ListEntriesByAccount(ctx, account.AccountID, 0, 0)
	}
	if err != nil {
		return ports.Reconciliation{}, err
	}

	replayed := decimal.Zero
	for _, entry := range entries {
		if entry.ToAccountID == account.AccountID {
			replayed = replayed.Add(entry.Amount.Sub(entry.FeeAmount))
		}
		if entry.FromAccountID == account.AccountID {
			replayed = replayed.Sub(entry.Amount)
		}
		if owner.Type == entities.OwnerTypePlatform {
			replayed = replayed.Add(entry.FeeAmount)
		}
	}
	return ports.Reconciliation{
		AccountID:       account.AccountID,
		StoredBalance:   account.Balance,
		ReplayedBalance: replayed,
		EntriesReplayed: len(entries),
		Consistent:      account.Balance.Equal(replayed),
	}, nil
}

type transferOutcome struct {
	entry        entities.LedgerEntry
	royaltyEntry *entities.LedgerEntry
}

func (s Service) transfer(ctx context.Context, input ports.TransferInput) (transferOutcome, bool, error) {
	if !input.Amount.IsPositive() {
		return transferOutcome{}, false, domainerrors.ErrInvalidAmount
	}
	if !input.From.Valid() || !input.To.Valid() {
		return transferOutcome{}, false, domainerrors.ErrInvalidOwner
	}
	if input.From.Key() == input.To.Key() {
		return transferOutcome{}, false, domainerrors.ErrSelfTransfer
	}
	key, err := normalizeKey(input.IdempotencyKey)
	if err != nil {
		return transferOutcome{}, false, err
	}
	amount := entities.RoundMoney(input.Amount)

	if replay, found, err := s.replayByKey(ctx, key, func(existing entities.LedgerEntry) error {
		if existing.TxType != input.TxType || !existing.Amount.Equal(amount) {
			return domainerrors.ErrIdempotencyConflict
		}
		return nil
	}); err != nil {
		return transferOutcome{}, false, err
	} else if found {
		return transferOutcome{entry: replay}, true, nil
	}

	sender, err := s.Accounts.GetAccountByOwner(ctx, input.From)
	if err != nil {
		return transferOutcome{}, false, err
	}
	receiver, err := s.Accounts.GetAccountByOwner(ctx, input.To)
	if err != nil {
		return transferOutcome{}, false, err
	}
	platform, err := s.platformAccount(ctx)
	if err != nil {
		return transferOutcome{}, false, err
	}

	fee := entities.RoundMoney(amount.Mul(s.feePct()))
	net := amount.Sub(fee)

	creatorAccountID := s.resolveRoyaltyCreator(ctx, input.TxType, input.To)

	entryID, err := s.IDGen.NewID(ctx)
	if err != nil {
		return transferOutcome{}, false, err
	}

	lockIDs := lockOrder(sender.AccountID, receiver.AccountID, platform.AccountID, creatorAccountID)

	var outcome transferOutcome
	err = s.withLocks(ctx, lockIDs, func(tx ports.LedgerTx) error {
		locked, err := tx.GetAccountForUpdate(ctx, sender.AccountID)
		if err != nil {
			return err
		}
		if locked.Balance.LessThan(amount) {
			return domainerrors.ErrInsufficientFunds
		}

		now := s.now()
		if err := tx.ApplyDelta(ctx, sender.AccountID, ports.AccountDelta{
			Balance: amount.Neg(),
			Spent:   amount,
		}, now); err != nil {
			return err
		}
		if err := tx.ApplyDelta(ctx, receiver.AccountID, ports.AccountDelta{
			Balance:  net,
			Earned:   net,
			FeesPaid: fee,
		}, now); err != nil {
			return err
		}
		if fee.IsPositive() {
			if err := tx.ApplyDelta(ctx, platform.AccountID, ports.AccountDelta{
				Balance: fee,
				Earned:  fee,
			}, now); err != nil {
				return err
			}
		}

		chained, err := tx.AppendEntry(ctx, entities.LedgerEntry{
			EntryID:        entryID,
			FromAccountID:  sender.AccountID,
			ToAccountID:    receiver.AccountID,
			Amount:         amount,
			FeeAmount:      fee,
			TxType:         input.TxType,
			ReferenceID:    input.ReferenceID,
			ReferenceType:  input.ReferenceType,
			IdempotencyKey: key,
			Memo:           input.Memo,
			CreatedAt:      now,
		})
		if err != nil {
			return err
		}
		outcome.entry = chained

		if creatorAccountID != "" {
			royalty, err := s.distributeRoyalty(ctx, tx, chained, receiver.AccountID, creatorAccountID, net, now)
			if err != nil {
				return err
			}
			outcome.royaltyEntry = royalty
		}
		return nil
	})
	if errors.Is(err, domainerrors.ErrDuplicateIdempotencyKey) {
		winner, replayed, rerr := s.replayWinner(ctx, key, err)
		return transferOutcome{entry: winner}, replayed, rerr
	}
	if err != nil {
		return transferOutcome{}, false, err
	}

	s.emit(ctx, "ledger.transfer.completed", outcome.entry)
	if outcome.royaltyEntry != nil {
		s.emit(ctx, "ledger.royalty.distributed", *outcome.royaltyEntry)
	}
	s.logCommit("ledger transfer committed", "ledger_transfer_committed", outcome.entry)
	return outcome, false, nil
}

// platformAccount lazily ensures the singleton treasury. Idempotent
// ensure keeps "exactly one platform account" true without a separate
// migration step.
func (s Service) platformAccount(ctx context.Context) (entities.Account, error) {
	accountID, err := s.IDGen.NewID(ctx)
	if err != nil {
		return entities.Account{}, err
	}
	account, _, err := s.Accounts.EnsureAccount(ctx, entities.PlatformOwner(), accountID, s.now())
	return account, err
}

// withLocks bounds the lock wait and maps a context deadline hit to the
// retryable lock-timeout error.
func (s Service) withLocks(ctx context.Context, lockIDs []string, fn func(tx ports.LedgerTx) error) error {
	if s.LockWait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.LockWait)
		defer cancel()
	}
	err := s.UnitOfWork.WithAccountLocks(ctx, lockIDs, fn)
	if errors.Is(err, context.DeadlineExceeded) {
		return domainerrors.ErrLockTimeout
	}
	return err
}

// replayByKey is the idempotency pre-check: a committed entry under the
// key short-circuits the operation with the original result. The unique
// constraint on idempotency_key remains the real guarantee; this is the
// fast path.
func (s Service) replayByKey(ctx context.Context, key string, check func(entities.LedgerEntry) error) (entities.LedgerEntry, bool, error) {
	if key == "" {
		return entities.LedgerEntry{}, false, nil
	}
	existing, found, err := s.Ledger.FindEntryByIdempotencyKey(ctx, key)
	if err != nil || !found {
		return entities.LedgerEntry{}, false, err
	}
	if err := check(existing); err != nil {
		return entities.LedgerEntry{}, false, err
	}
	ResolveLogger(s.Logger).Info("idempotent replay",
		"event", "ledger_idempotent_replay",
		"module", moduleName,
		"layer", "application",
		"entry_id", existing.EntryID,
	)
	return existing, true, nil
}

// replayWinner resolves a storage-level idempotency collision: a
// concurrent duplicate committed first, so its entry is the result.
func (s Service) replayWinner(ctx context.Context, key string, cause error) (entities.LedgerEntry, bool, error) {
	if key == "" {
		return entities.LedgerEntry{}, false, cause
	}
	winner, found, err := s.Ledger.FindEntryByIdempotencyKey(ctx, key)
	if err != nil {
		return entities.LedgerEntry{}, false, err
	}
	if !found {
		return entities.LedgerEntry{}, false, cause
	}
	return winner, true, nil
}

func (s Service) emit(ctx context.Context, eventType string, entry entities.LedgerEntry) {
	if s.Outbox == nil {
		return
	}
	eventID, err := s.IDGen.NewID(ctx)
	if err != nil {
		eventID = entry.EntryID
	}
	envelope := ports.EventEnvelope{
		EventID:        eventID,
		EventType:      eventType,
		SourceService:  sourceService,
		OccurredAtUTC:  entry.CreatedAt.UTC(),
		CorrelationID:  entry.ReferenceID,
		EntityType:     referenceEntry,
		EntityID:       entry.EntryID,
		PayloadVersion: 1,
		Payload: map[string]any{
			"entry_id":        entry.EntryID,
			"from_account_id": entry.FromAccountID,
			"to_account_id":   entry.ToAccountID,
			"amount":          entry.Amount.StringFixed(6),
			"fee_amount":      entry.FeeAmount.StringFixed(6),
			"tx_type":         string(entry.TxType),
			"reference_id":    entry.ReferenceID,
		},
	}
	if err := s.Outbox.AppendOutbox(ctx, envelope); err != nil {
		ResolveLogger(s.Logger).Warn("post-commit event dropped",
			"event", "ledger_event_emit_failed",
			"module", moduleName,
			"layer", "application",
			"entry_id", entry.EntryID,
			"event_type", eventType,
			"error", err.Error(),
		)
	}
}

func (s Service) logCommit(msg string, event string, entry entities.LedgerEntry) {
	ResolveLogger(s.Logger).Info(msg,
		"event", event,
		"module", moduleName,
		"layer", "application",
		"entry_id", entry.EntryID,
		"tx_type", string(entry.TxType),
		"amount", entry.Amount.StringFixed(6),
		"fee_amount", entry.FeeAmount.StringFixed(6),
	)
}

func (s Service) now() time.Time {
	if s.Clock == nil {
		return time.Now().UTC()
	}
	return s.Clock.Now().UTC()
}

func (s Service) feePct() decimal.Decimal {
	pct := s.FeePct
	if pct.IsZero() || pct.IsNegative() {
		pct = decimal.NewFromFloat(0.02)
	}
	if pct.GreaterThan(decimal.NewFromInt(1)) {
		pct = decimal.NewFromInt(1)
	}
	return pct
}

func (s Service) royaltyPct() decimal.Decimal {
	pct := s.RoyaltyPct
	if pct.IsZero() || pct.IsNegative() {
		pct = decimal.NewFromFloat(0.20)
	}
	if pct.GreaterThan(decimal.NewFromInt(1)) {
		pct = decimal.NewFromInt(1)
	}
	return pct
}

// lockOrder is the deterministic lock protocol: unique IDs, sorted
// lexicographically. Any two operations touching overlapping accounts
// contend in the same relative order, so circular waits cannot form.
func lockOrder(ids ...string) []string {
	seen := make(map[string]struct{}, len(ids))
	ordered := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ordered = append(ordered, id)
	}
	sort.Strings(ordered)
	return ordered
}

func normalizeKey(key string) (string, error) {
	trimmed := strings.TrimSpace(key)
	if trimmed == "" {
		return "", nil
	}
	if trimmed != key || len(trimmed) > maxKeyLength {
		return "", domainerrors.ErrInvalidIdempotencyKey
	}
	return trimmed, nil
}
