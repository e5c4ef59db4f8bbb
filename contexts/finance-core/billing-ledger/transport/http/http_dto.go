package http

// Amounts cross the boundary as fixed 6-decimal strings; binary floating
// point never touches a balance.

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type OwnerDTO struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`
}

type EnsureAccountRequest struct {
	Owner OwnerDTO `json:"owner"`
}

type EnsureAccountResponse struct {
	Status string `json:"status"`
	Data   struct {
		AccountID string `json:"account_id"`
	} `json:"data"`
}

type BalanceResponse struct {
	Status string     `json:"status"`
	Data   BalanceDTO `json:"data"`
}

type BalanceDTO struct {
	AccountID      string   `json:"account_id"`
	Owner          OwnerDTO `json:"owner"`
	Balance        string   `json:"balance"`
	TotalEarned    string   `json:"total_earned"`
	TotalSpent     string   `json:"total_spent"`
	TotalDeposited string   `json:"total_deposited"`
	TotalFeesPaid  string   `json:"total_fees_paid"`
	UpdatedAt      string   `json:"updated_at"`
}

type TransferRequest struct {
	From           OwnerDTO `json:"from"`
	To             OwnerDTO `json:"to"`
	Amount         string   `json:"amount"`
	TxType         string   `json:"tx_type"`
	ReferenceID    string   `json:"reference_id,omitempty"`
	ReferenceType  string   `json:"reference_type,omitempty"`
	IdempotencyKey string   `json:"idempotency_key,omitempty"`
	Memo           string   `json:"memo,omitempty"`
}

type LedgerEntryDTO struct {
	EntryID        string `json:"entry_id"`
	FromAccountID  string `json:"from_account_id,omitempty"`
	ToAccountID    string `json:"to_account_id,omitempty"`
	Amount         string `json:"amount"`
	FeeAmount      string `json:"fee_amount"`
	TxType         string `json:"tx_type"`
	ReferenceID    string `json:"reference_id,omitempty"`
	ReferenceType  string `json:"reference_type,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
	Memo           string `json:"memo,omitempty"`
	CreatedAt      string `json:"created_at"`
	PrevHash       string `json:"prev_hash"`
	EntryHash      string `json:"entry_hash"`
}

type TransferResponse struct {
	Status   string         `json:"status"`
	Replayed bool           `json:"replayed,omitempty"`
	Data     LedgerEntryDTO `json:"data"`
}

type DepositRequest struct {
	Owner          OwnerDTO `json:"owner"`
	Amount         string   `json:"amount"`
	ExternalRef    string   `json:"external_ref,omitempty"`
	IdempotencyKey string   `json:"idempotency_key,omitempty"`
	Memo           string   `json:"memo,omitempty"`
}

type WithdrawalRequest struct {
	Owner          OwnerDTO `json:"owner"`
	Amount         string   `json:"amount"`
	ExternalRef    string   `json:"external_ref,omitempty"`
	IdempotencyKey string   `json:"idempotency_key,omitempty"`
	Memo           string   `json:"memo,omitempty"`
}

type PurchaseRequest struct {
	Buyer          OwnerDTO `json:"buyer"`
	Seller         OwnerDTO `json:"seller"`
	Amount         string   `json:"amount"`
	TransactionRef string   `json:"transaction_ref"`
	IdempotencyKey string   `json:"idempotency_key,omitempty"`
	Memo           string   `json:"memo,omitempty"`
}

type PurchaseResponse struct {
	Status   string `json:"status"`
	Replayed bool   `json:"replayed,omitempty"`
	Data     struct {
		Entry        LedgerEntryDTO  `json:"entry"`
		FeeUSD       string          `json:"fee_usd"`
		RoyaltyEntry *LedgerEntryDTO `json:"royalty_entry,omitempty"`
	} `json:"data"`
}

type HistoryRequest struct {
	Owner    OwnerDTO
	Page     int
	PageSize int
}

type HistoryResponse struct {
	Status   string           `json:"status"`
	Page     int              `json:"page"`
	PageSize int              `json:"page_size"`
	Data     []LedgerEntryDTO `json:"data"`
}

type VerifyChainRequest struct {
	Limit int
}

type VerifyChainResponse struct {
	Status string `json:"status"`
	Data   struct {
		Valid          bool   `json:"valid"`
		EntriesChecked int    `json:"entries_checked"`
		BrokenAt       string `json:"broken_at,omitempty"`
	} `json:"data"`
}

type ReconcileRequest struct {
	Owner OwnerDTO
}

type ReconcileResponse struct {
	Status string `json:"status"`
	Data   struct {
		AccountID       string `json:"account_id"`
		StoredBalance   string `json:"stored_balance"`
		ReplayedBalance string `json:"replayed_balance"`
		EntriesReplayed int    `json:"entries_replayed"`
		Consistent      bool   `json:"consistent"`
	} `json:"data"`
}
