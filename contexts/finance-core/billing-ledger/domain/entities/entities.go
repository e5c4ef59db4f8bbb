package entities

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type OwnerType string

const (
	OwnerTypeAgent    OwnerType = "agent"
	OwnerTypeCreator  OwnerType = "creator"
	OwnerTypePlatform OwnerType = "platform"
)

// Owner identifies the principal a balance belongs to. The platform
// treasury is a singleton, so its ID is always empty.
type Owner struct {
	Type OwnerType
	ID   string
}

func AgentOwner(id string) Owner {
	return Owner{Type: OwnerTypeAgent, ID: strings.TrimSpace(id)}
}

func CreatorOwner(id string) Owner {
	return Owner{Type: OwnerTypeCreator, ID: strings.TrimSpace(id)}
}

func PlatformOwner() Owner {
	return Owner{Type: OwnerTypePlatform}
}

func (o Owner) Valid() bool {
	switch o.Type {
	case OwnerTypeAgent, OwnerTypeCreator:
		return strings.TrimSpace(o.ID) != ""
	case OwnerTypePlatform:
		return strings.TrimSpace(o.ID) == ""
	default:
		return false
	}
}

// Key is the canonical owner identity used for uniqueness: "agent:<id>",
// "creator:<id>" or "platform".
func (o Owner) Key() string {
	if o.Type == OwnerTypePlatform {
		return string(OwnerTypePlatform)
	}
	return string(o.Type) + ":" + o.ID
}

type TxType string

const (
	TxTypeDeposit        TxType = "deposit"
	TxTypeTransfer       TxType = "transfer"
	TxTypePurchase       TxType = "purchase"
	TxTypeSale           TxType = "sale"
	TxTypeCreatorRoyalty TxType = "creator_royalty"
	TxTypeWithdrawal     TxType = "withdrawal"
)

func (t TxType) Valid() bool {
	switch t {
	case TxTypeDeposit, TxTypeTransfer, TxTypePurchase, TxTypeSale,
		TxTypeCreatorRoyalty, TxTypeWithdrawal:
		return true
	default:
		return false
	}
}

// Account is one balance holder. Balance and the cumulative counters are
// fixed-point with 6 fractional digits and are only ever mutated inside a
// coordinated ledger transaction.
type Account struct {
	AccountID      string
	Owner          Owner
	Balance        decimal.Decimal
	TotalEarned    decimal.Decimal
	TotalSpent     decimal.Decimal
	TotalDeposited decimal.Decimal
	TotalFeesPaid  decimal.Decimal
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// LedgerEntry is one immutable record of value movement. An empty
// FromAccountID means an external mint (deposit); an empty ToAccountID
// means an external burn (withdrawal).
type LedgerEntry struct {
	EntryID        string
	FromAccountID  string
	ToAccountID    string
	Amount         decimal.Decimal
	FeeAmount      decimal.Decimal
	TxType         TxType
	ReferenceID    string
	ReferenceType  string
	IdempotencyKey string
	Memo           string
	CreatedAt      time.Time
	PrevHash       string
	EntryHash      string
}

// RoundMoney quantizes to 6 fractional digits with half-up rounding.
// Monetary values in this ledger are never negative, so decimal's
// half-away-from-zero Round is exactly half-up here.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(6)
}
