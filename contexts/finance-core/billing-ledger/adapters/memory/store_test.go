package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/DandaAkhilReddy/agentchains-sub001/contexts/finance-core/billing-ledger/application"
	"github.com/DandaAkhilReddy/agentchains-sub001/contexts/finance-core/billing-ledger/domain/entities"
	domainerrors "github.com/DandaAkhilReddy/agentchains-sub001/contexts/finance-core/billing-ledger/domain/errors"
	"github.com/DandaAkhilReddy/agentchains-sub001/contexts/finance-core/billing-ledger/ports"
)

func seedAccount(t *testing.T, store *Store, owner entities.Owner) entities.Account {
	t.Helper()
	id, err := store.NewID(context.Background())
	if err != nil {
		t.Fatalf("new id failed: %v", err)
	}
	account, _, err := store.EnsureAccount(context.Background(), owner, id, store.Now())
	if err != nil {
		t.Fatalf("ensure account failed: %v", err)
	}
	return account
}

func TestEnsureAccountReturnsExistingRow(t *testing.T) {
	store := NewStore()
	owner := entities.AgentOwner("alice")

	first, created, err := store.EnsureAccount(context.Background(), owner, "acct-1", store.Now())
	if err != nil || !created {
		t.Fatalf("first ensure: created=%v err=%v", created, err)
	}
	second, created, err := store.EnsureAccount(context.Background(), owner, "acct-2", store.Now())
	if err != nil {
		t.Fatalf("second ensure failed: %v", err)
	}
	if created {
		t.Fatalf("second ensure reported created")
	}
	if second.AccountID != first.AccountID {
		t.Fatalf("second ensure returned %s, want %s", second.AccountID, first.AccountID)
	}
}

func TestWithAccountLocksTimesOut(t *testing.T) {
	store := NewStore()
	account := seedAccount(t, store, entities.AgentOwner("alice"))

	hold := make(chan struct{})
	released := make(chan struct{})
	go func() {
		err := store.WithAccountLocks(context.Background(), []string{account.AccountID}, func(ports.LedgerTx) error {
			close(hold)
			<-released
			return nil
		})
		if err != nil {
			t.Errorf("lock holder failed: %v", err)
		}
	}()
	<-hold
	defer close(released)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := store.WithAccountLocks(ctx, []string{account.AccountID}, func(ports.LedgerTx) error {
		t.Error("transaction body ran despite held lock")
		return nil
	})
	if !errors.Is(err, domainerrors.ErrLockTimeout) {
		t.Fatalf("expected ErrLockTimeout, got %v", err)
	}
}

func TestWithAccountLocksRollsBackOnError(t *testing.T) {
	store := NewStore()
	account := seedAccount(t, store, entities.AgentOwner("alice"))
	boom := errors.New("boom")

	err := store.WithAccountLocks(context.Background(), []string{account.AccountID}, func(tx ports.LedgerTx) error {
		if err := tx.ApplyDelta(context.Background(), account.AccountID, ports.AccountDelta{
			Balance: decimal.NewFromInt(100),
		}, store.Now()); err != nil {
			return err
		}
		if _, err := tx.AppendEntry(context.Background(), entities.LedgerEntry{
			EntryID:     "e1",
			ToAccountID: account.AccountID,
			Amount:      decimal.NewFromInt(100),
			TxType:      entities.TxTypeDeposit,
			CreatedAt:   store.Now(),
		}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected the fn error back, got %v", err)
	}

	reloaded, err := store.GetAccountByOwner(context.Background(), entities.AgentOwner("alice"))
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if !reloaded.Balance.IsZero() {
		t.Fatalf("staged delta leaked: balance %s", reloaded.Balance.StringFixed(6))
	}
	entries, err := store.ListEntries(context.Background(), 0)
	if err != nil {
		t.Fatalf("list entries failed: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("staged entry leaked: %d rows", len(entries))
	}
}

func TestAppendEntryLinksChainAndRejectsDuplicateKey(t *testing.T) {
	store := NewStore()
	account := seedAccount(t, store, entities.AgentOwner("alice"))

	appendEntry := func(entryID, key string) (entities.LedgerEntry, error) {
		var chained entities.LedgerEntry
		err := store.WithAccountLocks(context.Background(), []string{account.AccountID}, func(tx ports.LedgerTx) error {
			entry, err := tx.AppendEntry(context.Background(), entities.LedgerEntry{
				EntryID:        entryID,
				ToAccountID:    account.AccountID,
				Amount:         decimal.NewFromInt(1),
				TxType:         entities.TxTypeDeposit,
				IdempotencyKey: key,
				CreatedAt:      store.Now(),
			})
			if err != nil {
				return err
			}
			chained = entry
			return nil
		})
		return chained, err
	}

	first, err := appendEntry("e1", "k1")
	if err != nil {
		t.Fatalf("first append failed: %v", err)
	}
	if first.PrevHash != entities.GenesisHash {
		t.Fatalf("first entry prev hash = %s, want genesis", first.PrevHash)
	}
	second, err := appendEntry("e2", "")
	if err != nil {
		t.Fatalf("second append failed: %v", err)
	}
	if second.PrevHash != first.EntryHash {
		t.Fatalf("chain not linked: prev %s, want %s", second.PrevHash, first.EntryHash)
	}
	if !entities.VerifyEntry(first.EntryHash, second) {
		t.Fatalf("stored hash does not match recomputation")
	}

	if _, err := appendEntry("e3", "k1"); !errors.Is(err, domainerrors.ErrDuplicateIdempotencyKey) {
		t.Fatalf("expected ErrDuplicateIdempotencyKey, got %v", err)
	}

	found, ok, err := store.FindEntryByIdempotencyKey(context.Background(), "k1")
	if err != nil || !ok {
		t.Fatalf("find by key: ok=%v err=%v", ok, err)
	}
	if found.EntryID != "e1" {
		t.Fatalf("key resolves to %s, want e1", found.EntryID)
	}
}

func TestVerifyChainDetectsTampering(t *testing.T) {
	store := NewStore()
	service := application.Service{
		Accounts:   store,
		Ledger:     store,
		UnitOfWork: store,
		Outbox:     store,
		Clock:      store,
		IDGen:      store,
		LockWait:   time.Second,
	}
	owner := entities.AgentOwner("alice")
	if _, err := service.EnsureAccount(context.Background(), owner); err != nil {
		t.Fatalf("ensure account failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, _, err := service.Deposit(context.Background(), ports.DepositInput{
			Owner:  owner,
			Amount: decimal.NewFromInt(10),
		}); err != nil {
			t.Fatalf("deposit failed: %v", err)
		}
	}

	clean, err := service.VerifyChain(context.Background(), 0)
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if !clean.Valid || clean.EntriesChecked != 3 {
		t.Fatalf("clean chain: valid=%v checked=%d", clean.Valid, clean.EntriesChecked)
	}

	store.mu.Lock()
	store.entries[1].Amount = decimal.NewFromInt(9999)
	tamperedID := store.entries[1].EntryID
	store.mu.Unlock()

	tampered, err := service.VerifyChain(context.Background(), 0)
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if tampered.Valid {
		t.Fatalf("tampered chain reported valid")
	}
	if tampered.BrokenAt != tamperedID {
		t.Fatalf("broken at %s, want %s", tampered.BrokenAt, tamperedID)
	}
}

func TestOutboxLifecycle(t *testing.T) {
	store := NewStore()
	envelope := ports.EventEnvelope{
		EventID:       "ev-1",
		EventType:     "ledger.deposit.completed",
		SourceService: "billing-ledger",
		OccurredAtUTC: store.Now(),
		EntityType:    "ledger_entry",
		EntityID:      "e1",
	}
	if err := store.AppendOutbox(context.Background(), envelope); err != nil {
		t.Fatalf("append outbox failed: %v", err)
	}

	pending, err := store.ListPendingOutbox(context.Background(), 10)
	if err != nil {
		t.Fatalf("list pending failed: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("pending = %d, want 1", len(pending))
	}
	if pending[0].EventType != envelope.EventType || pending[0].PartitionKey != "e1" {
		t.Fatalf("outbox row mismatch: %+v", pending[0])
	}

	if err := store.MarkOutboxSent(context.Background(), pending[0].OutboxID, store.Now()); err != nil {
		t.Fatalf("mark sent failed: %v", err)
	}
	pending, err = store.ListPendingOutbox(context.Background(), 10)
	if err != nil {
		t.Fatalf("list pending failed: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("sent message still pending")
	}

	if err := store.MarkOutboxSent(context.Background(), "missing", store.Now()); !errors.Is(err, domainerrors.ErrEntryNotFound) {
		t.Fatalf("expected ErrEntryNotFound, got %v", err)
	}
}
