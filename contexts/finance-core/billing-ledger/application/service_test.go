package application_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/DandaAkhilReddy/agentchains-sub001/contexts/finance-core/billing-ledger/adapters/memory"
	"github.com/DandaAkhilReddy/agentchains-sub001/contexts/finance-core/billing-ledger/application"
	"github.com/DandaAkhilReddy/agentchains-sub001/contexts/finance-core/billing-ledger/domain/entities"
	domainerrors "github.com/DandaAkhilReddy/agentchains-sub001/contexts/finance-core/billing-ledger/domain/errors"
	"github.com/DandaAkhilReddy/agentchains-sub001/contexts/finance-core/billing-ledger/ports"
)

func newTestService() (application.Service, *memory.Store, *memory.CreatorLinks) {
	store := memory.NewStore()
	links := memory.NewCreatorLinks()
	service := application.Service{
		Accounts:     store,
		Ledger:       store,
		UnitOfWork:   store,
		CreatorLinks: links,
		Outbox:       store,
		Clock:        store,
		IDGen:        store,
		FeePct:       decimal.NewFromFloat(0.02),
		RoyaltyPct:   decimal.NewFromFloat(0.20),
		LockWait:     2 * time.Second,
	}
	return service, store, links
}

func mustEnsure(t *testing.T, service application.Service, owner entities.Owner) entities.Account {
	t.Helper()
	account, err := service.EnsureAccount(context.Background(), owner)
	if err != nil {
		t.Fatalf("ensure account %s failed: %v", owner.Key(), err)
	}
	return account
}

func mustDeposit(t *testing.T, service application.Service, owner entities.Owner, amount string) entities.LedgerEntry {
	t.Helper()
	entry, _, err := service.Deposit(context.Background(), ports.DepositInput{
		Owner:  owner,
		Amount: decimal.RequireFromString(amount),
	})
	if err != nil {
		t.Fatalf("deposit %s to %s failed: %v", amount, owner.Key(), err)
	}
	return entry
}

func balanceOf(t *testing.T, service application.Service, owner entities.Owner) decimal.Decimal {
	t.Helper()
	summary, err := service.GetBalance(context.Background(), owner)
	if err != nil {
		t.Fatalf("get balance for %s failed: %v", owner.Key(), err)
	}
	return summary.Balance
}

func TestEnsureAccountIsIdempotent(t *testing.T) {
	service, _, _ := newTestService()
	owner := entities.AgentOwner("alice")

	first := mustEnsure(t, service, owner)
	second := mustEnsure(t, service, owner)
	if first.AccountID != second.AccountID {
		t.Fatalf("re-ensure created a new account: %s vs %s", first.AccountID, second.AccountID)
	}

	if _, err := service.EnsureAccount(context.Background(), entities.Owner{Type: "robot"}); !errors.Is(err, domainerrors.ErrInvalidOwner) {
		t.Fatalf("expected ErrInvalidOwner, got %v", err)
	}
}

func TestDepositCreditsExactAmount(t *testing.T) {
	service, _, _ := newTestService()
	owner := entities.AgentOwner("alice")
	mustEnsure(t, service, owner)

	entry := mustDeposit(t, service, owner, "10.000001")
	if entry.FromAccountID != "" {
		t.Fatalf("deposit should have no sender, got %s", entry.FromAccountID)
	}
	if entry.TxType != entities.TxTypeDeposit {
		t.Fatalf("unexpected tx type %s", entry.TxType)
	}
	if got := balanceOf(t, service, owner); !got.Equal(decimal.RequireFromString("10.000001")) {
		t.Fatalf("balance drifted: %s", got.StringFixed(6))
	}

	summary, err := service.GetBalance(context.Background(), owner)
	if err != nil {
		t.Fatalf("get balance failed: %v", err)
	}
	if !summary.TotalDeposited.Equal(decimal.RequireFromString("10.000001")) {
		t.Fatalf("total deposited drifted: %s", summary.TotalDeposited.StringFixed(6))
	}
}

func TestDepositRejectsNonPositiveAmountAndUnknownAccount(t *testing.T) {
	service, _, _ := newTestService()
	owner := entities.AgentOwner("alice")
	mustEnsure(t, service, owner)

	_, _, err := service.Deposit(context.Background(), ports.DepositInput{Owner: owner, Amount: decimal.Zero})
	if !errors.Is(err, domainerrors.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}

	_, _, err = service.Deposit(context.Background(), ports.DepositInput{
		Owner:  entities.AgentOwner("nobody"),
		Amount: decimal.NewFromInt(5),
	})
	if !errors.Is(err, domainerrors.ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestTransferFeeDeterminismAndConservation(t *testing.T) {
	service, _, _ := newTestService()
	alice := entities.AgentOwner("alice")
	bob := entities.AgentOwner("bob")
	platform := entities.PlatformOwner()
	mustEnsure(t, service, alice)
	mustEnsure(t, service, bob)
	mustDeposit(t, service, alice, "1000")

	entry, replayed, err := service.Transfer(context.Background(), ports.TransferInput{
		From:   alice,
		To:     bob,
		Amount: decimal.NewFromInt(1000),
		TxType: entities.TxTypeSale,
	})
	if err != nil {
		t.Fatalf("transfer failed: %v", err)
	}
	if replayed {
		t.Fatalf("fresh transfer reported as replay")
	}
	if !entry.FeeAmount.Equal(decimal.RequireFromString("20")) {
		t.Fatalf("fee = %s, want 20.000000", entry.FeeAmount.StringFixed(6))
	}

	aliceBal := balanceOf(t, service, alice)
	bobBal := balanceOf(t, service, bob)
	platformBal := balanceOf(t, service, platform)
	if !aliceBal.Equal(decimal.Zero) {
		t.Fatalf("sender balance = %s, want 0", aliceBal.StringFixed(6))
	}
	if !bobBal.Equal(decimal.RequireFromString("980")) {
		t.Fatalf("receiver balance = %s, want 980.000000", bobBal.StringFixed(6))
	}
	if !platformBal.Equal(decimal.RequireFromString("20")) {
		t.Fatalf("platform balance = %s, want 20.000000", platformBal.StringFixed(6))
	}
	// Conservation: only the external deposit minted value.
	total := aliceBal.Add(bobBal).Add(platformBal)
	if !total.Equal(decimal.RequireFromString("1000")) {
		t.Fatalf("value not conserved: total %s", total.StringFixed(6))
	}
}

func TestTransferInsufficientFundsLeavesLedgerUntouched(t *testing.T) {
	service, store, _ := newTestService()
	alice := entities.AgentOwner("alice")
	bob := entities.AgentOwner("bob")
	mustEnsure(t, service, alice)
	mustEnsure(t, service, bob)
	mustDeposit(t, service, alice, "100")

	if _, _, err := service.Transfer(context.Background(), ports.TransferInput{
		From:   alice,
		To:     bob,
		Amount: decimal.NewFromInt(100),
		TxType: entities.TxTypeTransfer,
	}); err != nil {
		t.Fatalf("first transfer failed: %v", err)
	}
	if got := balanceOf(t, service, alice); !got.Equal(decimal.Zero) {
		t.Fatalf("sender balance = %s, want 0", got.StringFixed(6))
	}

	before, err := store.ListEntries(context.Background(), 0)
	if err != nil {
		t.Fatalf("list entries failed: %v", err)
	}

	_, _, err = service.Transfer(context.Background(), ports.TransferInput{
		From:   alice,
		To:     bob,
		Amount: decimal.RequireFromString("0.01"),
		TxType: entities.TxTypeTransfer,
	})
	if !errors.Is(err, domainerrors.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}

	after, err := store.ListEntries(context.Background(), 0)
	if err != nil {
		t.Fatalf("list entries failed: %v", err)
	}
	if len(after) != len(before) {
		t.Fatalf("failed transfer wrote %d ledger rows", len(after)-len(before))
	}
	if got := balanceOf(t, service, alice); !got.Equal(decimal.Zero) {
		t.Fatalf("sender balance changed after failed transfer: %s", got.StringFixed(6))
	}
}

func TestTransferValidation(t *testing.T) {
	service, _, _ := newTestService()
	alice := entities.AgentOwner("alice")
	bob := entities.AgentOwner("bob")
	mustEnsure(t, service, alice)

	cases := []struct {
		name  string
		input ports.TransferInput
		want  error
	}{
		{
			name:  "non-positive amount",
			input: ports.TransferInput{From: alice, To: bob, Amount: decimal.Zero, TxType: entities.TxTypeTransfer},
			want:  domainerrors.ErrInvalidAmount,
		},
		{
			name:  "negative amount",
			input: ports.TransferInput{From: alice, To: bob, Amount: decimal.NewFromInt(-5), TxType: entities.TxTypeTransfer},
			want:  domainerrors.ErrInvalidAmount,
		},
		{
			name:  "invalid owner",
			input: ports.TransferInput{From: alice, To: entities.Owner{Type: "robot"}, Amount: decimal.NewFromInt(5), TxType: entities.TxTypeTransfer},
			want:  domainerrors.ErrInvalidOwner,
		},
		{
			name:  "self transfer",
			input: ports.TransferInput{From: alice, To: alice, Amount: decimal.NewFromInt(5), TxType: entities.TxTypeTransfer},
			want:  domainerrors.ErrSelfTransfer,
		},
		{
			name:  "deposit via transfer",
			input: ports.TransferInput{From: alice, To: bob, Amount: decimal.NewFromInt(5), TxType: entities.TxTypeDeposit},
			want:  domainerrors.ErrInvalidTxType,
		},
		{
			name:  "royalty via transfer",
			input: ports.TransferInput{From: alice, To: bob, Amount: decimal.NewFromInt(5), TxType: entities.TxTypeCreatorRoyalty},
			want:  domainerrors.ErrInvalidTxType,
		},
		{
			name:  "malformed idempotency key",
			input: ports.TransferInput{From: alice, To: bob, Amount: decimal.NewFromInt(5), TxType: entities.TxTypeTransfer, IdempotencyKey: " padded "},
			want:  domainerrors.ErrInvalidIdempotencyKey,
		},
		{
			name:  "unknown receiver",
			input: ports.TransferInput{From: alice, To: bob, Amount: decimal.NewFromInt(5), TxType: entities.TxTypeTransfer},
			want:  domainerrors.ErrAccountNotFound,
		},
	}
	for _, tc := range cases {
		if _, _, err := service.Transfer(context.Background(), tc.input); !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}
}

func TestTransferIdempotentReplay(t *testing.T) {
	service, _, _ := newTestService()
	alice := entities.AgentOwner("alice")
	bob := entities.AgentOwner("bob")
	mustEnsure(t, service, alice)
	mustEnsure(t, service, bob)
	mustDeposit(t, service, alice, "200")

	input := ports.TransferInput{
		From:           alice,
		To:             bob,
		Amount:         decimal.NewFromInt(50),
		TxType:         entities.TxTypePurchase,
		IdempotencyKey: "k1",
	}
	first, replayed, err := service.Transfer(context.Background(), input)
	if err != nil {
		t.Fatalf("first transfer failed: %v", err)
	}
	if replayed {
		t.Fatalf("first call reported as replay")
	}

	second, replayed, err := service.Transfer(context.Background(), input)
	if err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	if !replayed {
		t.Fatalf("duplicate call not reported as replay")
	}
	if first.EntryID != second.EntryID {
		t.Fatalf("replay returned a different entry: %s vs %s", first.EntryID, second.EntryID)
	}
	if got := balanceOf(t, service, alice); !got.Equal(decimal.RequireFromString("150")) {
		t.Fatalf("sender debited more than once: balance %s", got.StringFixed(6))
	}

	conflicting := input
	conflicting.Amount = decimal.NewFromInt(60)
	if _, _, err := service.Transfer(context.Background(), conflicting); !errors.Is(err, domainerrors.ErrIdempotencyConflict) {
		t.Fatalf("expected ErrIdempotencyConflict, got %v", err)
	}
}

func TestWithdrawChecksBalance(t *testing.T) {
	service, _, _ := newTestService()
	alice := entities.AgentOwner("alice")
	mustEnsure(t, service, alice)
	mustDeposit(t, service, alice, "25")

	entry, _, err := service.Withdraw(context.Background(), ports.WithdrawalInput{
		Owner:  alice,
		Amount: decimal.NewFromInt(10),
	})
	if err != nil {
		t.Fatalf("withdraw failed: %v", err)
	}
	if entry.ToAccountID != "" {
		t.Fatalf("withdrawal should have no receiver, got %s", entry.ToAccountID)
	}
	if entry.TxType != entities.TxTypeWithdrawal {
		t.Fatalf("unexpected tx type %s", entry.TxType)
	}
	if got := balanceOf(t, service, alice); !got.Equal(decimal.NewFromInt(15)) {
		t.Fatalf("balance = %s, want 15", got.StringFixed(6))
	}

	_, _, err = service.Withdraw(context.Background(), ports.WithdrawalInput{
		Owner:  alice,
		Amount: decimal.NewFromInt(100),
	})
	if !errors.Is(err, domainerrors.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
}

func TestConcurrentOppositeTransfersComplete(t *testing.T) {
	service, _, _ := newTestService()
	alice := entities.AgentOwner("alice")
	bob := entities.AgentOwner("bob")
	mustEnsure(t, service, alice)
	mustEnsure(t, service, bob)
	mustDeposit(t, service, alice, "1000")
	mustDeposit(t, service, bob, "1000")

	const rounds = 25
	var wg sync.WaitGroup
	errs := make(chan error, rounds*2)
	for i := 0; i < rounds; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _, err := service.Transfer(context.Background(), ports.TransferInput{
				From:   alice,
				To:     bob,
				Amount: decimal.NewFromInt(2),
				TxType: entities.TxTypeTransfer,
			})
			errs <- err
		}()
		go func() {
			defer wg.Done()
			_, _, err := service.Transfer(context.Background(), ports.TransferInput{
				From:   bob,
				To:     alice,
				Amount: decimal.NewFromInt(3),
				TxType: entities.TxTypeTransfer,
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent transfer failed: %v", err)
		}
	}

	total := balanceOf(t, service, alice).
		Add(balanceOf(t, service, bob)).
		Add(balanceOf(t, service, entities.PlatformOwner()))
	if !total.Equal(decimal.NewFromInt(2000)) {
		t.Fatalf("value not conserved under concurrency: total %s", total.StringFixed(6))
	}

	verification, err := service.VerifyChain(context.Background(), 0)
	if err != nil {
		t.Fatalf("verify chain failed: %v", err)
	}
	if !verification.Valid {
		t.Fatalf("chain broke under concurrency at %s", verification.BrokenAt)
	}
}

func TestGetHistoryPagination(t *testing.T) {
	service, _, _ := newTestService()
	alice := entities.AgentOwner("alice")
	mustEnsure(t, service, alice)
	for i := 0; i < 5; i++ {
		mustDeposit(t, service, alice, "1")
	}

	page1, err := service.GetHistory(context.Background(), alice, 1, 2)
	if err != nil {
		t.Fatalf("history page 1 failed: %v", err)
	}
	if len(page1) != 2 {
		t.Fatalf("page 1 size = %d, want 2", len(page1))
	}
	page3, err := service.GetHistory(context.Background(), alice, 3, 2)
	if err != nil {
		t.Fatalf("history page 3 failed: %v", err)
	}
	if len(page3) != 1 {
		t.Fatalf("page 3 size = %d, want 1", len(page3))
	}
	page4, err := service.GetHistory(context.Background(), alice, 4, 2)
	if err != nil {
		t.Fatalf("history page 4 failed: %v", err)
	}
	if len(page4) != 0 {
		t.Fatalf("page 4 size = %d, want 0", len(page4))
	}
}

func TestReconcileAccountMatchesStoredBalances(t *testing.T) {
	service, _, links := newTestService()
	alice := entities.AgentOwner("alice")
	bob := entities.AgentOwner("bob")
	carol := entities.CreatorOwner("carol")
	links.Link("bob", carol)
	mustEnsure(t, service, alice)
	mustEnsure(t, service, bob)
	mustEnsure(t, service, carol)
	mustDeposit(t, service, alice, "500")

	if _, _, err := service.DebitForPurchase(context.Background(), ports.PurchaseInput{
		Buyer:          alice,
		Seller:         bob,
		Amount:         decimal.NewFromInt(100),
		TransactionRef: "txn-1",
	}); err != nil {
		t.Fatalf("purchase failed: %v", err)
	}
	if _, _, err := service.Withdraw(context.Background(), ports.WithdrawalInput{
		Owner:  alice,
		Amount: decimal.NewFromInt(50),
	}); err != nil {
		t.Fatalf("withdraw failed: %v", err)
	}

	for _, owner := range []entities.Owner{alice, bob, carol, entities.PlatformOwner()} {
		reconciliation, err := service.ReconcileAccount(context.Background(), owner)
		if err != nil {
			t.Fatalf("reconcile %s failed: %v", owner.Key(), err)
		}
		if !reconciliation.Consistent {
			t.Fatalf("%s inconsistent: stored %s, replayed %s",
				owner.Key(),
				reconciliation.StoredBalance.StringFixed(6),
				reconciliation.ReplayedBalance.StringFixed(6),
			)
		}
	}
}

func TestLockTimeoutSurfacesRetryableError(t *testing.T) {
	service, store, _ := newTestService()
	service.LockWait = 50 * time.Millisecond
	alice := entities.AgentOwner("alice")
	bob := entities.AgentOwner("bob")
	mustEnsure(t, service, alice)
	mustEnsure(t, service, bob)
	mustDeposit(t, service, alice, "100")

	account, err := store.GetAccountByOwner(context.Background(), alice)
	if err != nil {
		t.Fatalf("get account failed: %v", err)
	}

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

	_, _, err = service.Transfer(context.Background(), ports.TransferInput{
		From:   alice,
		To:     bob,
		Amount: decimal.NewFromInt(1),
		TxType: entities.TxTypeTransfer,
	})
	if !errors.Is(err, domainerrors.ErrLockTimeout) {
		t.Fatalf("expected ErrLockTimeout, got %v", err)
	}
}
