package memory

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/DandaAkhilReddy/agentchains-sub001/contexts/finance-core/billing-ledger/domain/entities"
	domainerrors "github.com/DandaAkhilReddy/agentchains-sub001/contexts/finance-core/billing-ledger/domain/errors"
	"github.com/DandaAkhilReddy/agentchains-sub001/contexts/finance-core/billing-ledger/ports"
)

const (
	outboxStatusPending = "pending"
	outboxStatusSent    = "sent"
)

// Store is the in-memory implementation of every billing-ledger port.
// Row locks are channel-based so acquisition honors the caller's context
// deadline. This adapter is a single-process stand-in for the postgres
// repository; the lock protocol (sorted account IDs, then the chain
// section) is the same.
type Store struct {
	mu       sync.RWMutex
	accounts map[string]entities.Account
	owners   map[string]string
	entries  []entities.LedgerEntry
	byKey    map[string]int
	outbox   []outboxRecord

	lockMu  sync.Mutex
	locks   map[string]chan struct{}
	chainMu chan struct{}
}

type outboxRecord struct {
	message ports.OutboxMessage
	status  string
	sentAt  *time.Time
}

func NewStore() *Store {
	return &Store{
		accounts: make(map[string]entities.Account),
		owners:   make(map[string]string),
		byKey:    make(map[string]int),
		locks:    make(map[string]chan struct{}),
		chainMu:  make(chan struct{}, 1),
	}
}

func (s *Store) EnsureAccount(_ context.Context, owner entities.Owner, accountID string, now time.Time) (entities.Account, bool, error) {
	if !owner.Valid() {
		return entities.Account{}, false, domainerrors.ErrInvalidOwner
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if existingID, ok := s.owners[owner.Key()]; ok {
		return s.accounts[existingID], false, nil
	}
	account := entities.Account{
		AccountID: accountID,
		Owner:     owner,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.accounts[accountID] = account
	s.owners[owner.Key()] = accountID
	return account, true, nil
}

func (s *Store) GetAccountByOwner(_ context.Context, owner entities.Owner) (entities.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	accountID, ok := s.owners[owner.Key()]
	if !ok {
		return entities.Account{}, domainerrors.ErrAccountNotFound
	}
	return s.accounts[accountID], nil
}

// WithAccountLocks acquires the row locks in exactly the order given,
// runs fn against a staged transaction view, and commits the staged
// state only if fn succeeds.
func (s *Store) WithAccountLocks(ctx context.Context, accountIDs []string, fn func(tx ports.LedgerTx) error) error {
	held := make([]chan struct{}, 0, len(accountIDs))
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			<-held[i]
		}
	}
	for _, accountID := range accountIDs {
		lock := s.rowLock(accountID)
		select {
		case lock <- struct{}{}:
			held = append(held, lock)
		case <-ctx.Done():
			release()
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return domainerrors.ErrLockTimeout
			}
			return ctx.Err()
		}
	}
	defer release()

	tx := &memTx{store: s, accounts: make(map[string]entities.Account)}
	defer tx.releaseChain()

	if err := fn(tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

func (s *Store) rowLock(accountID string) chan struct{} {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()

	lock, ok := s.locks[accountID]
	if !ok {
		lock = make(chan struct{}, 1)
		s.locks[accountID] = lock
	}
	return lock
}

// memTx stages account mutations and entry appends; nothing is visible
// to readers until commit. The chain section is entered at the first
// append and held until the transaction ends, so the prev hash read and
// the insert form one critical section.
type memTx struct {
	store     *Store
	accounts  map[string]entities.Account
	staged    []entities.LedgerEntry
	chainHeld bool
}

func (t *memTx) GetAccountForUpdate(_ context.Context, accountID string) (entities.Account, error) {
	if account, ok := t.accounts[accountID]; ok {
		return account, nil
	}
	t.store.mu.RLock()
	account, ok := t.store.accounts[accountID]
	t.store.mu.RUnlock()
	if !ok {
		return entities.Account{}, domainerrors.ErrAccountNotFound
	}
	t.accounts[accountID] = account
	return account, nil
}

func (t *memTx) ApplyDelta(ctx context.Context, accountID string, delta ports.AccountDelta, now time.Time) error {
	account, err := t.GetAccountForUpdate(ctx, accountID)
	if err != nil {
		return err
	}
	account.Balance = account.Balance.Add(delta.Balance)
	if account.Balance.IsNegative() {
		return domainerrors.ErrInsufficientFunds
	}
	account.TotalEarned = account.TotalEarned.Add(delta.Earned)
	account.TotalSpent = account.TotalSpent.Add(delta.Spent)
	account.TotalDeposited = account.TotalDeposited.Add(delta.Deposited)
	account.TotalFeesPaid = account.TotalFeesPaid.Add(delta.FeesPaid)
	account.UpdatedAt = now
	t.accounts[accountID] = account
	return nil
}

func (t *memTx) AppendEntry(ctx context.Context, entry entities.LedgerEntry) (entities.LedgerEntry, error) {
	if !t.chainHeld {
		select {
		case t.store.chainMu <- struct{}{}:
			t.chainHeld = true
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return entities.LedgerEntry{}, domainerrors.ErrLockTimeout
			}
			return entities.LedgerEntry{}, ctx.Err()
		}
	}

	if entry.IdempotencyKey != "" {
		t.store.mu.RLock()
		_, dup := t.store.byKey[entry.IdempotencyKey]
		t.store.mu.RUnlock()
		if !dup {
			for _, staged := range t.staged {
				if staged.IdempotencyKey == entry.IdempotencyKey {
					dup = true
					break
				}
			}
		}
		if dup {
			return entities.LedgerEntry{}, domainerrors.ErrDuplicateIdempotencyKey
		}
	}

	prev := entities.GenesisHash
	if n := len(t.staged); n > 0 {
		prev = t.staged[n-1].EntryHash
	} else {
		t.store.mu.RLock()
		if n := len(t.store.entries); n > 0 {
			prev = t.store.entries[n-1].EntryHash
		}
		t.store.mu.RUnlock()
	}

	chained := entities.ChainEntry(prev, entry)
	t.staged = append(t.staged, chained)
	return chained, nil
}

func (t *memTx) commit() {
	t.store.mu.Lock()
	for accountID, account := range t.accounts {
		t.store.accounts[accountID] = account
	}
	for _, entry := range t.staged {
		t.store.entries = append(t.store.entries, entry)
		if entry.IdempotencyKey != "" {
			t.store.byKey[entry.IdempotencyKey] = len(t.store.entries) - 1
		}
	}
	t.store.mu.Unlock()
	t.releaseChain()
}

func (t *memTx) releaseChain() {
	if t.chainHeld {
		<-t.store.chainMu
		t.chainHeld = false
	}
}

func (s *Store) FindEntryByIdempotencyKey(_ context.Context, key string) (entities.LedgerEntry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	index, ok := s.byKey[key]
	if !ok {
		return entities.LedgerEntry{}, false, nil
	}
	return s.entries[index], true, nil
}

func (s *Store) ListEntriesByAccount(_ context.Context, accountID string, limit int, offset int) ([]entities.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []entities.LedgerEntry
	for i := len(s.entries) - 1; i >= 0; i-- {
		entry := s.entries[i]
		if entry.FromAccountID == accountID || entry.ToAccountID == accountID {
			matched = append(matched, entry)
		}
	}
	if offset > 0 {
		if offset >= len(matched) {
			return nil, nil
		}
		matched = matched[offset:]
	}
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (s *Store) ListEntries(_ context.Context, limit int) ([]entities.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.entries)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]entities.LedgerEntry, n)
	copy(out, s.entries[:n])
	return out, nil
}

func (s *Store) FindRoyaltyForEntry(_ context.Context, parentEntryID string) (entities.LedgerEntry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, entry := range s.entries {
		if entry.TxType == entities.TxTypeCreatorRoyalty && entry.ReferenceID == parentEntryID {
			return entry, true, nil
		}
	}
	return entities.LedgerEntry{}, false, nil
}

func (s *Store) AppendOutbox(_ context.Context, envelope ports.EventEnvelope) error {
	payload, err := json.Marshal(envelope)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.outbox = append(s.outbox, outboxRecord{
		message: ports.OutboxMessage{
			OutboxID:     uuid.NewString(),
			EventType:    envelope.EventType,
			PartitionKey: envelope.EntityID,
			Payload:      payload,
			CreatedAt:    envelope.OccurredAtUTC,
		},
		status: outboxStatusPending,
	})
	return nil
}

func (s *Store) ListPendingOutbox(_ context.Context, limit int) ([]ports.OutboxMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var pending []ports.OutboxMessage
	for _, record := range s.outbox {
		if record.status != outboxStatusPending {
			continue
		}
		pending = append(pending, record.message)
		if limit > 0 && len(pending) >= limit {
			break
		}
	}
	return pending, nil
}

func (s *Store) MarkOutboxSent(_ context.Context, outboxID string, sentAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.outbox {
		if s.outbox[i].message.OutboxID == outboxID {
			s.outbox[i].status = outboxStatusSent
			s.outbox[i].sentAt = &sentAt
			return nil
		}
	}
	return domainerrors.ErrEntryNotFound
}

func (s *Store) Now() time.Time {
	return time.Now().UTC()
}

func (s *Store) NewID(_ context.Context) (string, error) {
	return uuid.NewString(), nil
}
