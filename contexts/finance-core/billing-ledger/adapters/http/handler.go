package httpadapter

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/DandaAkhilReddy/agentchains-sub001/contexts/finance-core/billing-ledger/application"
	"github.com/DandaAkhilReddy/agentchains-sub001/contexts/finance-core/billing-ledger/domain/entities"
	domainerrors "github.com/DandaAkhilReddy/agentchains-sub001/contexts/finance-core/billing-ledger/domain/errors"
	"github.com/DandaAkhilReddy/agentchains-sub001/contexts/finance-core/billing-ledger/ports"
	httptransport "github.com/DandaAkhilReddy/agentchains-sub001/contexts/finance-core/billing-ledger/transport/http"
)

// Handler is the transport-agnostic boundary consumed by collaborating
// services. Routing and request plumbing live outside this module.
type Handler struct {
	Service application.Service
	Logger  *slog.Logger
}

func (h Handler) EnsureAccountHandler(ctx context.Context, req httptransport.EnsureAccountRequest) (httptransport.EnsureAccountResponse, error) {
	owner, err := ownerFromDTO(req.Owner)
	if err != nil {
		return httptransport.EnsureAccountResponse{}, err
	}
	account, err := h.Service.EnsureAccount(ctx, owner)
	if err != nil {
		return httptransport.EnsureAccountResponse{}, err
	}
	resp := httptransport.EnsureAccountResponse{Status: "success"}
	resp.Data.AccountID = account.AccountID
	return resp, nil
}

func (h Handler) GetBalanceHandler(ctx context.Context, ownerDTO httptransport.OwnerDTO) (httptransport.BalanceResponse, error) {
	owner, err := ownerFromDTO(ownerDTO)
	if err != nil {
		return httptransport.BalanceResponse{}, err
	}
	summary, err := h.Service.GetBalance(ctx, owner)
	if err != nil {
		return httptransport.BalanceResponse{}, err
	}
	return httptransport.BalanceResponse{
		Status: "success",
		Data: httptransport.BalanceDTO{
			AccountID:      summary.AccountID,
			Owner:          ownerToDTO(summary.Owner),
			Balance:        summary.Balance.StringFixed(6),
			TotalEarned:    summary.TotalEarned.StringFixed(6),
			TotalSpent:     summary.TotalSpent.StringFixed(6),
			TotalDeposited: summary.TotalDeposited.StringFixed(6),
			TotalFeesPaid:  summary.TotalFeesPaid.StringFixed(6),
			UpdatedAt:      summary.UpdatedAt.UTC().Format(time.RFC3339),
		},
	}, nil
}

func (h Handler) TransferHandler(ctx context.Context, req httptransport.TransferRequest) (httptransport.TransferResponse, error) {
	from, err := ownerFromDTO(req.From)
	if err != nil {
		return httptransport.TransferResponse{}, err
	}
	to, err := ownerFromDTO(req.To)
	if err != nil {
		return httptransport.TransferResponse{}, err
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		return httptransport.TransferResponse{}, err
	}
	entry, replayed, err := h.Service.Transfer(ctx, ports.TransferInput{
		From:           from,
		To:             to,
		Amount:         amount,
		TxType:         entities.TxType(req.TxType),
		ReferenceID:    req.ReferenceID,
		ReferenceType:  req.ReferenceType,
		IdempotencyKey: req.IdempotencyKey,
		Memo:           req.Memo,
	})
	if err != nil {
		return httptransport.TransferResponse{}, err
	}
	return httptransport.TransferResponse{
		Status:   "success",
		Replayed: replayed,
		Data:     entryToDTO(entry),
	}, nil
}

func (h Handler) DepositHandler(ctx context.Context, req httptransport.DepositRequest) (httptransport.TransferResponse, error) {
	owner, err := ownerFromDTO(req.Owner)
	if err != nil {
		return httptransport.TransferResponse{}, err
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		return httptransport.TransferResponse{}, err
	}
	entry, replayed, err := h.Service.Deposit(ctx, ports.DepositInput{
		Owner:          owner,
		Amount:         amount,
		ExternalRef:    req.ExternalRef,
		IdempotencyKey: req.IdempotencyKey,
		Memo:           req.Memo,
	})
	if err != nil {
		return httptransport.TransferResponse{}, err
	}
	return httptransport.TransferResponse{
		Status:   "success",
		Replayed: replayed,
		Data:     entryToDTO(entry),
	}, nil
}

func (h Handler) WithdrawHandler(ctx context.Context, req httptransport.WithdrawalRequest) (httptransport.TransferResponse, error) {
	owner, err := ownerFromDTO(req.Owner)
	if err != nil {
		return httptransport.TransferResponse{}, err
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		return httptransport.TransferResponse{}, err
	}
	entry, replayed, err := h.Service.Withdraw(ctx, ports.WithdrawalInput{
		Owner:          owner,
		Amount:         amount,
		ExternalRef:    req.ExternalRef,
		IdempotencyKey: req.IdempotencyKey,
		Memo:           req.Memo,
	})
	if err != nil {
		return httptransport.TransferResponse{}, err
	}
	return httptransport.TransferResponse{
		Status:   "success",
		Replayed: replayed,
		Data:     entryToDTO(entry),
	}, nil
}

func (h Handler) DebitForPurchaseHandler(ctx context.Context, req httptransport.PurchaseRequest) (httptransport.PurchaseResponse, error) {
	buyer, err := ownerFromDTO(req.Buyer)
	if err != nil {
		return httptransport.PurchaseResponse{}, err
	}
	seller, err := ownerFromDTO(req.Seller)
	if err != nil {
		return httptransport.PurchaseResponse{}, err
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		return httptransport.PurchaseResponse{}, err
	}
	result, replayed, err := h.Service.DebitForPurchase(ctx, ports.PurchaseInput{
		Buyer:          buyer,
		Seller:         seller,
		Amount:         amount,
		TransactionRef: req.TransactionRef,
		IdempotencyKey: req.IdempotencyKey,
		Memo:           req.Memo,
	})
	if err != nil {
		return httptransport.PurchaseResponse{}, err
	}
	resp := httptransport.PurchaseResponse{Status: "success", Replayed: replayed}
	resp.Data.Entry = entryToDTO(result.Entry)
	resp.Data.FeeUSD = result.FeeAmount.StringFixed(6)
	if result.RoyaltyEntry != nil {
		royalty := entryToDTO(*result.RoyaltyEntry)
		resp.Data.RoyaltyEntry = &royalty
	}
	return resp, nil
}

func (h Handler) GetHistoryHandler(ctx context.Context, req httptransport.HistoryRequest) (httptransport.HistoryResponse, error) {
	owner, err := ownerFromDTO(req.Owner)
	if err != nil {
		return httptransport.HistoryResponse{}, err
	}
	entries, err := h.Service.GetHistory(ctx, owner, req.Page, req.PageSize)
	if err != nil {
		return httptransport.HistoryResponse{}, err
	}
	resp := httptransport.HistoryResponse{
		Status:   "success",
		Page:     req.Page,
		PageSize: req.PageSize,
		Data:     make([]httptransport.LedgerEntryDTO, 0, len(entries)),
	}
	for _, entry := range entries {
		resp.Data = append(resp.Data, entryToDTO(entry))
	}
	return resp, nil
}

func (h Handler) VerifyChainHandler(ctx context.Context, req httptransport.VerifyChainRequest) (httptransport.VerifyChainResponse, error) {
	verification, err := h.Service.VerifyChain(ctx, req.Limit)
	if err != nil {
		return httptransport.VerifyChainResponse{}, err
	}
	resp := httptransport.VerifyChainResponse{Status: "success"}
	resp.Data.Valid = verification.Valid
	resp.Data.EntriesChecked = verification.EntriesChecked
	resp.Data.BrokenAt = verification.BrokenAt
	return resp, nil
}

func (h Handler) ReconcileHandler(ctx context.Context, req httptransport.ReconcileRequest) (httptransport.ReconcileResponse, error) {
	owner, err := ownerFromDTO(req.Owner)
	if err != nil {
		return httptransport.ReconcileResponse{}, err
	}
	reconciliation, err := h.Service.ReconcileAccount(ctx, owner)
	if err != nil {
		return httptransport.ReconcileResponse{}, err
	}
	resp := httptransport.ReconcileResponse{Status: "success"}
	resp.Data.AccountID = reconciliation.AccountID
	resp.Data.StoredBalance = reconciliation.StoredBalance.StringFixed(6)
	resp.Data.ReplayedBalance = reconciliation.ReplayedBalance.StringFixed(6)
	resp.Data.EntriesReplayed = reconciliation.EntriesReplayed
	resp.Data.Consistent = reconciliation.Consistent
	return resp, nil
}

func ownerFromDTO(dto httptransport.OwnerDTO) (entities.Owner, error) {
	owner := entities.Owner{Type: entities.OwnerType(dto.Type), ID: dto.ID}
	if !owner.Valid() {
		return entities.Owner{}, domainerrors.ErrInvalidOwner
	}
	return owner, nil
}

func ownerToDTO(owner entities.Owner) httptransport.OwnerDTO {
	return httptransport.OwnerDTO{Type: string(owner.Type), ID: owner.ID}
}

func parseAmount(raw string) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, domainerrors.ErrInvalidAmount
	}
	return amount, nil
}

func entryToDTO(entry entities.LedgerEntry) httptransport.LedgerEntryDTO {
	return httptransport.LedgerEntryDTO{
		EntryID:        entry.EntryID,
		FromAccountID:  entry.FromAccountID,
		ToAccountID:    entry.ToAccountID,
		Amount:         entry.Amount.StringFixed(6),
		FeeAmount:      entry.FeeAmount.StringFixed(6),
		TxType:         string(entry.TxType),
		ReferenceID:    entry.ReferenceID,
		ReferenceType:  entry.ReferenceType,
		IdempotencyKey: entry.IdempotencyKey,
		Memo:           entry.Memo,
		CreatedAt:      entry.CreatedAt.UTC().Format(time.RFC3339Nano),
		PrevHash:       entry.PrevHash,
		EntryHash:      entry.EntryHash,
	}
}
