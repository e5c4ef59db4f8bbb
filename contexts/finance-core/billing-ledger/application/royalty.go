package application

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/DandaAkhilReddy/agentchains-sub001/contexts/finance-core/billing-ledger/domain/entities"
	domainerrors "github.com/DandaAkhilReddy/agentchains-sub001/contexts/finance-core/billing-ledger/domain/errors"
	"github.com/DandaAkhilReddy/agentchains-sub001/contexts/finance-core/billing-ledger/ports"
)

// resolveRoyaltyCreator decides before any lock is taken whether this
// transfer carries a royalty, and returns the creator account to include
// in the lock set. Lookup failures and missing creator accounts skip the
// royalty rather than failing the transfer.
func (s Service) resolveRoyaltyCreator(ctx context.Context, txType entities.TxType, receiver entities.Owner) string {
	if txType != entities.TxTypePurchase && txType != entities.TxTypeSale {
		return ""
	}
	if receiver.Type != entities.OwnerTypeAgent || s.CreatorLinks == nil {
		return ""
	}
	creatorOwner, linked, err := s.CreatorLinks.LinkedCreator(ctx, receiver.ID)
	if err != nil {
		ResolveLogger(s.Logger).Warn("creator link lookup failed, royalty skipped",
			"event", "ledger_royalty_lookup_failed",
			"module", moduleName,
			"layer", "application",
			"agent_id", receiver.ID,
			"error", err.Error(),
		)
		return ""
	}
	if !linked {
		return ""
	}
	creator, err := s.Accounts.GetAccountByOwner(ctx, creatorOwner)
	if err != nil {
		if errors.Is(err, domainerrors.ErrAccountNotFound) {
			ResolveLogger(s.Logger).Warn("linked creator has no account, royalty skipped",
				"event", "ledger_royalty_no_account",
				"module", moduleName,
				"layer", "application",
				"agent_id", receiver.ID,
				"creator", creatorOwner.Key(),
			)
			return ""
		}
		ResolveLogger(s.Logger).Warn("creator account lookup failed, royalty skipped",
			"event", "ledger_royalty_lookup_failed",
			"module", moduleName,
			"layer", "application",
			"agent_id", receiver.ID,
			"error", err.Error(),
		)
		return ""
	}
	return creator.AccountID
}

// distributeRoyalty runs inside the parent transfer's open transaction.
// The royalty is computed on the receiver's post-credit net and capped at
// the available balance so it can never overdraw; the capped case silently
// understates the creator's percentage, which matches the historical
// behavior. Storage faults here roll back the whole transfer: a
// half-applied royalty would break conservation.
func (s Service) distributeRoyalty(
	ctx context.Context,
	tx ports.LedgerTx,
	parent entities.LedgerEntry,
	receiverAccountID string,
	creatorAccountID string,
	net decimal.Decimal,
	now time.Time,
) (*entities.LedgerEntry, error) {
	royalty := entities.RoundMoney(net.Mul(s.royaltyPct()))
	if !royalty.IsPositive() {
		return nil, nil
	}

	receiver, err := tx.GetAccountForUpdate(ctx, receiverAccountID)
	if err != nil {
		return nil, err
	}
	if receiver.Balance.LessThan(royalty) {
		royalty = receiver.Balance
	}
	if !royalty.IsPositive() {
		ResolveLogger(s.Logger).Info("royalty fully capped to zero, no entry created",
			"event", "ledger_royalty_capped_out",
			"module", moduleName,
			"layer", "application",
			"parent_entry_id", parent.EntryID,
			"receiver_account_id", receiverAccountID,
		)
		return nil, nil
	}

	if err := tx.ApplyDelta(ctx, receiverAccountID, ports.AccountDelta{
		Balance: royalty.Neg(),
		Spent:   royalty,
	}, now); err != nil {
		return nil, err
	}
	if err := tx.ApplyDelta(ctx, creatorAccountID, ports.AccountDelta{
		Balance: royalty,
		Earned:  royalty,
	}, now); err != nil {
		return nil, err
	}

	entryID, err := s.IDGen.NewID(ctx)
	if err != nil {
		return nil, err
	}
	// Royalty transfers are fee-free.
	chained, err := tx.AppendEntry(ctx, entities.LedgerEntry{
		EntryID:       entryID,
		FromAccountID: receiverAccountID,
		ToAccountID:   creatorAccountID,
		Amount:        royalty,
		FeeAmount:     decimal.Zero,
		TxType:        entities.TxTypeCreatorRoyalty,
		ReferenceID:   parent.EntryID,
		ReferenceType: referenceEntry,
		CreatedAt:     now,
	})
	if err != nil {
		return nil, err
	}

	ResolveLogger(s.Logger).Info("creator royalty distributed",
		"event", "ledger_royalty_distributed",
		"module", moduleName,
		"layer", "application",
		"parent_entry_id", parent.EntryID,
		"royalty_entry_id", chained.EntryID,
		"amount", royalty.StringFixed(6),
	)
	return &chained, nil
}
